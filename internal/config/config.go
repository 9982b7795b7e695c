package config

import (
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/database"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	MinIO     storage.MinIOConfig
	JWT       JWTConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig is the Database Module configuration plus how often an
// entry point may retry the initial connection.
type DatabaseConfig struct {
	database.Config
	ConnectAttempts int
}

// RateLimitConfig selects the limiter: in-process token buckets, or a
// shared Redis fixed window when RedisURL is set.
type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	RedisURL string
}

// JWTConfig guards the /api group with bearer tokens when Secret is set.
type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

// LoadConfig loads configuration from environment variables and an optional
// .env file. Database values are not validated here; the Database Module
// rejects bad ones with database.ErrConfiguration.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5010")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_POOL_SIZE", database.DefaultPoolSize)
	v.SetDefault("DATABASE_CONNECT_ATTEMPTS", 5)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("MINIO_BUCKET", "gogotex")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)

	timeout := firstInt(v, "DATABASE_CONNECT_TIMEOUT", "MONGODB_TIMEOUT")
	if timeout == 0 {
		timeout = int(database.DefaultConnectTimeout / time.Second)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Config: database.Config{
				URI:            firstString(v, "DATABASE_URI", "MONGODB_URI"),
				Name:           firstString(v, "DATABASE_NAME", "MONGODB_DATABASE"),
				PoolSize:       v.GetInt("DATABASE_POOL_SIZE"),
				ConnectTimeout: time.Duration(timeout) * time.Second,
			},
			ConnectAttempts: v.GetInt("DATABASE_CONNECT_ATTEMPTS"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    v.GetInt("RATE_LIMIT_BURST"),
			RedisURL: v.GetString("RATE_LIMIT_REDIS_URL"),
		},
		MinIO: storage.MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("JWT_SECRET"),
			AccessTokenTTL: time.Duration(v.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}
	return cfg, nil
}

// firstString returns the first non-empty value among keys; later keys are
// legacy names kept for existing deployments.
func firstString(v *viper.Viper, keys ...string) string {
	for _, k := range keys {
		if s := v.GetString(k); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(v *viper.Viper, keys ...string) int {
	for _, k := range keys {
		if v.IsSet(k) {
			return v.GetInt(k)
		}
	}
	return 0
}
