package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/models"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/repository"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// reserved query parameters of the list endpoint; any other parameter is an
// equality filter on the field of that name
var listParams = map[string]bool{"filter": true, "sort": true, "limit": true, "skip": true}

type collection[T any, PT interface {
	*T
	models.Document
}] struct {
	repo *repository.Repository[T, PT]
}

// RegisterCollection mounts CRUD routes for repo under /<collection>:
//
//	GET    /files            list; ?filter={extended json}&sort=name,-createdAt&limit=&skip=&field=value
//	GET    /files/count      count with the same filters
//	POST   /files            create
//	GET    /files/:id        get
//	PATCH  /files/:id        apply a field patch, returns the updated document
//	PUT    /files/:id        upsert by id
//	DELETE /files/:id        delete
func RegisterCollection[T any, PT interface {
	*T
	models.Document
}](r gin.IRouter, repo *repository.Repository[T, PT]) {
	h := &collection[T, PT]{repo: repo}
	g := r.Group("/" + repo.Collection())
	g.GET("", h.list)
	g.GET("/count", h.count)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.patch)
	g.PUT("/:id", h.put)
	g.DELETE("/:id", h.delete)
}

func (h *collection[T, PT]) list(c *gin.Context) {
	filter, err := queryFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	opts, err := findOptions(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.repo.Find(c.Request.Context(), filter, opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	docs, err := res.Collect(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if docs == nil {
		docs = []PT{}
	}
	c.JSON(http.StatusOK, docs)
}

func (h *collection[T, PT]) count(c *gin.Context) {
	filter, err := queryFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	n, err := h.repo.Count(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *collection[T, PT]) create(c *gin.Context) {
	doc := PT(new(T))
	if err := c.ShouldBindJSON(doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stored, err := h.repo.Create(c.Request.Context(), doc)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *collection[T, PT]) get(c *gin.Context) {
	doc, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *collection[T, PT]) patch(c *gin.Context) {
	var patch bson.M
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := h.repo.FindOneAndUpdate(c.Request.Context(), bson.M{"id": c.Param("id")}, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *collection[T, PT]) put(c *gin.Context) {
	doc := PT(new(T))
	if err := c.ShouldBindJSON(doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	doc.SetID(id)
	stored, err := h.repo.Upsert(c.Request.Context(), bson.M{"id": id}, doc)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *collection[T, PT]) delete(c *gin.Context) {
	ok, err := h.repo.DeleteOne(c.Request.Context(), bson.M{"id": c.Param("id")})
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps repository errors onto HTTP statuses.
func (h *collection[T, PT]) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrStorage):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("api %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// queryFilter builds a filter from ?filter= (relaxed extended JSON, so
// operators and dates work) and plain field=value parameters.
func queryFilter(c *gin.Context) (bson.M, error) {
	filter := bson.M{}
	if raw := c.Query("filter"); raw != "" {
		if err := bson.UnmarshalExtJSON([]byte(raw), false, &filter); err != nil {
			return nil, validation("filter is not valid extended JSON: %v", err)
		}
	}
	for key, vals := range c.Request.URL.Query() {
		if listParams[key] || len(vals) == 0 {
			continue
		}
		if _, dup := filter[key]; dup {
			return nil, validation("field %q given in both filter and query", key)
		}
		filter[key] = vals[0]
	}
	return filter, nil
}

func findOptions(c *gin.Context) (repository.FindOptions, error) {
	opts := repository.FindOptions{Limit: defaultListLimit}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 || n > maxListLimit {
			return opts, validation("limit must be between 1 and %d", maxListLimit)
		}
		opts.Limit = n
	}
	if v := c.Query("skip"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return opts, validation("skip must be a non-negative integer")
		}
		opts.Skip = n
	}
	if v := c.Query("sort"); v != "" {
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			dir := repository.Ascending
			if strings.HasPrefix(f, "-") {
				dir = repository.Descending
				f = f[1:]
			}
			if f == "" {
				return opts, validation("empty sort field")
			}
			opts.Sort = append(opts.Sort, repository.SortField{Field: f, Direction: dir})
		}
	}
	return opts, nil
}
