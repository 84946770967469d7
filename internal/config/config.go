package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the licensegate server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Admin    AdminConfig
	License  LicenseConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// QueryTimeout bounds every storage round trip made on behalf of a request.
	QueryTimeout  time.Duration
	MigrationsDir string
}

type RedisConfig struct {
	URL            string
	StatusCacheTTL time.Duration
}

// AdminConfig holds the shared admin secret. KeyHash is a bcrypt hash and
// takes precedence over the plaintext Key when both are set.
type AdminConfig struct {
	Key     string
	KeyHash string
}

type LicenseConfig struct {
	ActiveServerWindow time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PORT", 3000),
			Env:  envString("LICENSEGATE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			QueryTimeout:    envDuration("DATABASE_QUERY_TIMEOUT", 5*time.Second),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL:            os.Getenv("REDIS_URL"),
			StatusCacheTTL: envDuration("STATUS_CACHE_TTL", 30*time.Second),
		},
		Admin: AdminConfig{
			Key:     os.Getenv("ADMIN_KEY"),
			KeyHash: os.Getenv("ADMIN_KEY_HASH"),
		},
		License: LicenseConfig{
			ActiveServerWindow: envDuration("ACTIVE_SERVER_WINDOW", time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("DATABASE_QUERY_TIMEOUT must be positive, got %s", c.Database.QueryTimeout)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Admin.Key == "" && c.Admin.KeyHash == "" {
		return fmt.Errorf("ADMIN_KEY or ADMIN_KEY_HASH is required")
	}
	if c.Admin.KeyHash != "" && !strings.HasPrefix(c.Admin.KeyHash, "$2") {
		return fmt.Errorf("ADMIN_KEY_HASH must be a bcrypt hash")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.License.ActiveServerWindow <= 0 {
		return fmt.Errorf("ACTIVE_SERVER_WINDOW must be positive, got %s", c.License.ActiveServerWindow)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
