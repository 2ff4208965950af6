package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Token settings
	JWTSecret       string        `env:"JWT_SECRET_KEY" envDefault:"change-me"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	// Credential store
	DBAdapter  string `env:"DB_ADAPTER" envDefault:"postgres"`
	SQLiteFile string `env:"SQLITE_FILE" envDefault:"./data/authsvc.db"`

	// PostgreSQL connection settings
	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"authsvc"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"authsvc"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Revocation store
	RevocationAdapter string        `env:"REVOCATION_ADAPTER" envDefault:"redis"`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"2"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`

	// HTTP surface
	AllowedOrigins     []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"200"`
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or
// returns the provided DSN.
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// New loads configuration from the environment, reading a .env file first if
// one is present.
func New() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	switch c.RevocationAdapter {
	case "redis", "memory":
	default:
		return nil, fmt.Errorf("unsupported REVOCATION_ADAPTER: %s (supported: redis, memory)", c.RevocationAdapter)
	}

	if c.IsProduction() {
		if c.JWTSecret == "" || c.JWTSecret == "change-me" {
			return nil, errors.New("JWT_SECRET_KEY must be set in production")
		}
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return nil, errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
