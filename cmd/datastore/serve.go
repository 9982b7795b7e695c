package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/api"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/config"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/database"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/sessions"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/tokens"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/users"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/metrics"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	PurgeInterval time.Duration
	ClientHeader  string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the collections over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.PurgeInterval, "purge-interval", time.Hour, "how often expired sessions are removed (0 disables)")
	cmd.Flags().StringVar(&opts.ClientHeader, "client-header", "", "request header identifying a client for rate limiting (default: client IP)")
	return cmd
}

func runServe(ctx context.Context, rootOpts *rootOptions, opts *serveOptions) error {
	cfg := rootOpts.cfg
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	mod, err := rootOpts.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mod.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("database shutdown: %v", err)
		}
	}()

	handle, err := mod.Handle()
	if err != nil {
		return err
	}
	all, err := collections(handle)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := rateLimiter(cfg.RateLimit, opts.ClientHeader)
	if err != nil {
		return err
	}
	defer closeLimiter()

	var mw []gin.HandlerFunc
	if limiter != nil {
		mw = append(mw, limiter)
	}
	if cfg.JWT.Secret != "" {
		mw = append(mw, middleware.AuthMiddleware(tokens.Verifier{Secret: cfg.JWT.Secret}))
	} else {
		logger.Warnf("JWT_SECRET is not set; /api is unauthenticated")
	}
	r, group := api.NewRouter(api.RouterOptions{Store: mod, Middleware: mw})
	names := make([]string, 0, len(all))
	for name, c := range all {
		c.register(group)
		names = append(names, name)
	}
	api.RegisterDocs(r, names...)

	if cfg.JWT.Secret != "" {
		userRepo, err := users.NewStoreUserRepository(handle)
		if err != nil {
			return err
		}
		users.RegisterRoutes(group, users.NewService(userRepo))
	}

	if opts.PurgeInterval > 0 {
		repo, err := sessions.NewStoreRepository(handle)
		if err != nil {
			return err
		}
		go purgeSessions(ctx, sessions.NewService(repo), opts.PurgeInterval)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Infof("datastore listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// rateLimiter builds the configured limiter, or nil when rate limiting is off.
func rateLimiter(cfg config.RateLimitConfig, header string) (gin.HandlerFunc, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}
	var keyFn middleware.KeyFunc
	if header != "" {
		keyFn = middleware.HeaderKey(header)
	}
	if cfg.RedisURL == "" {
		return middleware.RateLimitMiddleware(cfg.RPS, cfg.Burst, keyFn), noop, nil
	}
	ropts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("%w: rate limit redis url: %w", database.ErrConfiguration, err)
	}
	client := redis.NewClient(ropts)
	return middleware.RedisRateLimitMiddleware(client, cfg.RPS, cfg.Burst, time.Second, keyFn), func() { _ = client.Close() }, nil
}

func purgeSessions(ctx context.Context, svc *sessions.Service, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := svc.PurgeExpired(ctx); err != nil {
				logger.Warnf("sessions purge: %v", err)
			}
		}
	}
}
