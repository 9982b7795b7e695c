package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/middleware"
)

// RegisterRoutes mounts GET /me, which records the caller and returns its
// user document. It expects middleware.AuthMiddleware to run first.
func RegisterRoutes(r gin.IRouter, svc *Service) {
	r.GET("/me", func(c *gin.Context) {
		claims, _ := c.Get(middleware.ClaimsKey)
		m, _ := claims.(map[string]any)
		u, err := svc.UpsertFromClaims(c.Request.Context(), m)
		switch {
		case errors.Is(err, ErrNoSubject):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		case err != nil:
			logger.Errorf("users: upsert caller: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record caller"})
			return
		}
		c.JSON(http.StatusOK, u)
	})
}
