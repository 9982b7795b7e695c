// Package database owns the lifecycle of the process-wide store connection.
// A Module is initialized once with a Config, hands the shared store.Store
// to repositories through Handle, and releases it on Shutdown.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/store"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/store/memory"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/metrics"
)

const (
	DefaultPoolSize       = 100
	DefaultConnectTimeout = 10 * time.Second
)

var (
	ErrConfiguration      = errors.New("invalid database configuration")
	ErrConnection         = errors.New("database connection failed")
	ErrNotInitialized     = errors.New("database module not initialized")
	ErrAlreadyInitialized = errors.New("database module already initialized")
)

// Config describes the store connection. The URI scheme selects the driver.
type Config struct {
	URI            string
	Name           string
	PoolSize       int
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// scheme returns the lower-cased URI scheme, or an ErrConfiguration error.
func (c Config) scheme() (string, error) {
	if strings.TrimSpace(c.URI) == "" {
		return "", fmt.Errorf("%w: connection uri is required", ErrConfiguration)
	}
	u, err := url.Parse(c.URI)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("%w: malformed connection uri", ErrConfiguration)
	}
	return strings.ToLower(u.Scheme), nil
}

// Validate checks the driver-independent fields after defaults apply.
func (c Config) Validate() error {
	if _, err := c.scheme(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: database name is required", ErrConfiguration)
	}
	if strings.ContainsAny(c.Name, `/\. "$`) {
		return fmt.Errorf("%w: database name %q contains invalid characters", ErrConfiguration, c.Name)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("%w: pool size must be positive, got %d", ErrConfiguration, c.PoolSize)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive, got %s", ErrConfiguration, c.ConnectTimeout)
	}
	return nil
}

// redactedURI hides credentials before a URI reaches the logs.
func (c Config) redactedURI() string {
	u, err := url.Parse(c.URI)
	if err != nil {
		return "<malformed>"
	}
	return u.Redacted()
}

// Driver connects to one kind of store. Validate, when set, rejects
// driver-specific configuration problems before any connection attempt.
// Connect must return a store that has answered a ping.
type Driver struct {
	Validate func(cfg Config) error
	Connect  func(ctx context.Context, cfg Config) (store.Store, error)
}

type connection struct {
	store store.Store
	cfg   Config
}

// Module manages the single store connection of the process. Initialize and
// Shutdown are serialized; Handle never blocks.
type Module struct {
	mu      sync.Mutex
	drivers map[string]Driver
	conn    atomic.Pointer[connection]
}

// NewModule returns a module with the MongoDB, Redis, Badger and in-memory
// drivers registered.
func NewModule() *Module {
	m := &Module{drivers: make(map[string]Driver)}
	m.RegisterDriver("mongodb", mongoDriver)
	m.RegisterDriver("mongodb+srv", mongoDriver)
	m.RegisterDriver("redis", redisDriver)
	m.RegisterDriver("rediss", redisDriver)
	m.RegisterDriver("badger", badgerDriver)
	m.RegisterDriver("memory", Driver{
		Connect: func(ctx context.Context, cfg Config) (store.Store, error) { return memory.New(), nil },
	})
	return m
}

// RegisterDriver makes scheme available to Initialize, replacing any driver
// already registered for it.
func (m *Module) RegisterDriver(scheme string, d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[strings.ToLower(scheme)] = d
}

// Initialize validates cfg and connects. It fails with ErrConfiguration for
// missing or malformed settings and with ErrConnection when the store cannot
// be reached within cfg.ConnectTimeout.
func (m *Module) Initialize(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn.Load() != nil {
		return ErrAlreadyInitialized
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	scheme, _ := cfg.scheme()
	driver, ok := m.drivers[scheme]
	if !ok {
		return fmt.Errorf("%w: unsupported uri scheme %q", ErrConfiguration, scheme)
	}
	if driver.Validate != nil {
		if err := driver.Validate(cfg); err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	s, err := connect(ctx, driver, cfg)
	if err != nil {
		logger.Warnf("database: connect %s failed: %v", cfg.redactedURI(), err)
		return fmt.Errorf("%w: %s: %w", ErrConnection, cfg.redactedURI(), err)
	}
	m.conn.Store(&connection{store: s, cfg: cfg})
	metrics.ConnectionUp.Set(1)
	logger.Infof("database: connected to %s (db=%s pool=%d)", cfg.redactedURI(), cfg.Name, cfg.PoolSize)
	return nil
}

// connect bounds the driver by the connect timeout even when the driver
// itself ignores its context. A store that arrives after the deadline is
// closed.
func connect(ctx context.Context, d Driver, cfg Config) (store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	type result struct {
		s   store.Store
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := d.Connect(ctx, cfg)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		return r.s, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.s != nil {
				_ = r.s.Close(context.Background())
			}
		}()
		return nil, ctx.Err()
	}
}

// Handle returns the shared store. It fails with ErrNotInitialized before
// Initialize succeeds and after Shutdown.
func (m *Module) Handle() (store.Store, error) {
	c := m.conn.Load()
	if c == nil {
		return nil, ErrNotInitialized
	}
	return c.store, nil
}

// Ping checks the live connection.
func (m *Module) Ping(ctx context.Context) error {
	s, err := m.Handle()
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}

// Shutdown closes the connection and its pool. Calling it again, or before
// Initialize, is a no-op.
func (m *Module) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conn.Swap(nil)
	if c == nil {
		return nil
	}
	metrics.ConnectionUp.Set(0)
	if err := c.store.Close(ctx); err != nil {
		logger.Warnf("database: close %s: %v", c.cfg.redactedURI(), err)
		return fmt.Errorf("database shutdown: %w", err)
	}
	logger.Infof("database: disconnected from %s", c.cfg.redactedURI())
	return nil
}
