package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_ADAPTER", "memory")
	t.Setenv("REVOCATION_ADAPTER", "memory")
	t.Setenv("ENV", "development")
	// t.Setenv records the original value for restoration; Unsetenv then
	// clears it so defaults apply.
	for _, k := range []string{"JWT_SECRET_KEY", "PORT", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	setBaseEnv(t)

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, time.Hour, c.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, c.RefreshTokenTTL)
	assert.Equal(t, 2, c.RedisDB)
	assert.Equal(t, 200, c.RateLimitPerMinute)
}

func TestProductionRequiresSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENV", "production")

	_, err := New()
	require.Error(t, err)

	t.Setenv("JWT_SECRET_KEY", "a-real-secret")
	c, err := New()
	require.NoError(t, err)
	assert.True(t, c.IsProduction())
}

func TestLifetimeValidation(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL", "48h")
	t.Setenv("REFRESH_TOKEN_TTL", "24h")

	_, err := New()
	assert.Error(t, err)
}

func TestInvalidPort(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := New()
	assert.Error(t, err)
}

func TestUnsupportedAdapters(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DB_ADAPTER", "mongodb")
	_, err := New()
	assert.Error(t, err)

	setBaseEnv(t)
	t.Setenv("REVOCATION_ADAPTER", "memcached")
	_, err = New()
	assert.Error(t, err)
}

func TestBuildPostgresDSN(t *testing.T) {
	c := &Config{
		PostgresHost:     "db.internal",
		PostgresPort:     "5433",
		PostgresUser:     "svc",
		PostgresPassword: "secret",
		PostgresDB:       "auth",
		PostgresSSLMode:  "require",
	}
	dsn, err := c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db.internal port=5433 user=svc dbname=auth sslmode=require password=secret", dsn)

	c.PostgresDSN = "postgres://u:p@h/db"
	dsn, err = c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h/db", dsn)

	_, err = (&Config{PostgresUser: "svc", PostgresDB: "auth"}).BuildPostgresDSN()
	assert.Error(t, err)
}
