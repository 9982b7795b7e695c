package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestSwaggerEndpoints(t *testing.T) {
	g := gin.New()
	RegisterDocs(g, "users", "files")

	req := httptest.NewRequest("GET", "/swagger/index.html", nil)
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "swagger-ui")

	req2 := httptest.NewRequest("GET", "/swagger/doc.json", nil)
	w2 := httptest.NewRecorder()
	g.ServeHTTP(w2, req2)
	require.Equal(t, 200, w2.Code)

	doc := decode[map[string]any](t, w2)
	require.Equal(t, "3.0.0", doc["openapi"])
	paths := doc["paths"].(map[string]any)
	for _, p := range []string{"/health", "/ready", "/api/files", "/api/files/{id}", "/api/users/count"} {
		require.Contains(t, paths, p)
	}
	require.NotContains(t, paths, "/api/sessions")
}
