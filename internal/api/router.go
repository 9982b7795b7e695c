// Package api exposes registered collections over HTTP with Gin, plus the
// health, readiness and metrics endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Store backs /ready; nil means always ready.
	Store Pinger
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Middleware runs on the /api group only.
	Middleware []gin.HandlerFunc
	// ReadyTimeout bounds the /ready ping.
	ReadyTimeout time.Duration
}

// NewRouter returns an engine with /health, /ready and /metrics and an /api
// group for collections.
func NewRouter(opts RouterOptions) (*gin.Engine, *gin.RouterGroup) {
	started := time.Now()
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	r.GET("/ready", func(c *gin.Context) {
		uptime := time.Since(started).Round(time.Second).String()
		if opts.Store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), opts.ReadyTimeout)
			defer cancel()
			if err := opts.Store.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": gin.H{"database": false}, "error": err.Error(), "uptime": uptime})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": gin.H{"database": true}, "uptime": uptime})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	group := r.Group("/api", opts.Middleware...)
	return r, group
}

// cors sets permissive headers for browser clients and answers preflights.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		h.Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
