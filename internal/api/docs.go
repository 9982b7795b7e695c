package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// RegisterDocs serves an OpenAPI description of the given collections:
//   - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
//   - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterDocs(r *gin.Engine, collections ...string) {
	doc := openAPI(collections)
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})
	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, doc)
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>datastore API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

type obj = map[string]any

func response(desc string) obj { return obj{"description": desc} }

func param(name, in, desc string, required bool) obj {
	return obj{"name": name, "in": in, "description": desc, "required": required, "schema": obj{"type": "string"}}
}

func openAPI(collections []string) obj {
	names := append([]string(nil), collections...)
	sort.Strings(names)

	jsonBody := obj{"content": obj{"application/json": obj{"schema": obj{"type": "object"}}}}
	listParams := []obj{
		param("filter", "query", "filter as relaxed extended JSON", false),
		param("sort", "query", "comma separated fields, '-' prefix for descending", false),
		param("limit", "query", "1-1000, default 100", false),
		param("skip", "query", "documents to skip", false),
	}
	idParam := []obj{param("id", "path", "document id", true)}

	paths := obj{
		"/health": obj{"get": obj{"summary": "Liveness check", "responses": obj{"200": response("healthy")}}},
		"/ready": obj{"get": obj{"summary": "Readiness check", "responses": obj{
			"200": response("ready"), "503": response("database unreachable"),
		}}},
		"/metrics": obj{"get": obj{"summary": "Prometheus metrics", "responses": obj{"200": response("metrics")}}},
	}
	for _, n := range names {
		base := "/api/" + n
		paths[base] = obj{
			"get": obj{"summary": "List " + n, "parameters": listParams, "responses": obj{
				"200": response("matching documents"), "400": response("invalid filter or options"),
			}},
			"post": obj{"summary": "Create a document in " + n, "requestBody": jsonBody, "responses": obj{
				"201": response("created"), "400": response("invalid document"), "409": response("duplicate id"),
			}},
		}
		paths[base+"/count"] = obj{
			"get": obj{"summary": "Count " + n, "parameters": listParams[:1], "responses": obj{"200": response("count")}},
		}
		paths[base+"/{id}"] = obj{
			"get": obj{"summary": "Get a document", "parameters": idParam, "responses": obj{
				"200": response("document"), "404": response("not found"),
			}},
			"patch": obj{"summary": "Patch fields of a document", "parameters": idParam, "requestBody": jsonBody, "responses": obj{
				"200": response("updated document"), "400": response("invalid patch"), "404": response("not found"),
			}},
			"put": obj{"summary": "Upsert a document by id", "parameters": idParam, "requestBody": jsonBody, "responses": obj{
				"200": response("stored document"),
			}},
			"delete": obj{"summary": "Delete a document", "parameters": idParam, "responses": obj{
				"204": response("deleted"), "404": response("not found"),
			}},
		}
	}
	return obj{
		"openapi": "3.0.0",
		"info":    obj{"title": "datastore", "version": "v0.1.0"},
		"paths":   paths,
	}
}
