package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	cfg "github.com/example/authsvc/internal/config"
	"github.com/example/authsvc/internal/revocation"
	"github.com/example/authsvc/internal/token"
)

type App struct {
	DB             DB
	Tokens         *token.Service
	Revocations    revocation.Store
	Log            *slog.Logger
	AllowedOrigins []string
	rateLimiter    *RateLimiter
}

func (a *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.Metrics)
	r.Use(a.CORS)
	r.Use(a.RateLimit)

	r.HandleFunc("/health", a.HandleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Public authentication endpoints
	v1.HandleFunc("/auth/register", a.HandleRegister).Methods("POST")
	v1.HandleFunc("/auth/login", a.HandleLogin).Methods("POST")
	v1.HandleFunc("/auth/token/refresh", a.HandleRefresh).Methods("POST")
	v1.HandleFunc("/auth/reset-password", a.HandleResetPasswordRequest).Methods("POST")
	v1.HandleFunc("/auth/reset-password/confirm", a.HandleResetPasswordConfirm).Methods("POST")

	// Endpoints behind a valid access token
	authed := v1.NewRoute().Subrouter()
	authed.Use(a.RequireAuth(token.TypeAccess, false))
	authed.HandleFunc("/auth/logout", a.HandleLogout).Methods("POST")
	authed.HandleFunc("/auth/verify-token", a.HandleVerifyToken).Methods("GET")
	authed.HandleFunc("/auth/token-status", a.HandleTokenStatus).Methods("GET")
	authed.HandleFunc("/users/me", a.HandleGetProfile).Methods("GET")
	authed.HandleFunc("/users/me", a.HandleUpdateProfile).Methods("PUT")

	// Sensitive endpoints require a token minted directly from a login
	fresh := v1.NewRoute().Subrouter()
	fresh.Use(a.RequireAuth(token.TypeAccess, true))
	fresh.HandleFunc("/users/me/password", a.HandleChangePassword).Methods("PUT")
	fresh.HandleFunc("/users/{id}", a.HandleDeleteUser).Methods("DELETE")

	return r
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "healthy"}

	if p, ok := a.DB.(interface{ ping() bool }); ok && !p.ping() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["credential_store"] = "unreachable"
	}
	if err := a.Revocations.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["revocation_store"] = err.Error()
	}

	writeJSON(w, status, body)
}

func main() {
	c, err := cfg.New()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(c.LogLevel)}))
	slog.SetDefault(logger)

	var db DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			logger.Error("sqlite init", "error", err)
			os.Exit(1)
		}
		db = s
	case "postgres":
		logger.Info("applying database migrations")
		if err := ApplyMigrations("./migrations", c.PostgresDSN); err != nil {
			logger.Error("migrations", "error", err)
			os.Exit(1)
		}
		p, err := NewPostgresDB(c.PostgresDSN)
		if err != nil {
			logger.Error("postgres init", "error", err)
			os.Exit(1)
		}
		db = p
		logger.Info("connected to PostgreSQL")
	case "memory":
		logger.Warn("using in-memory credential store (not recommended for production)")
		db = NewMemoryDB()
	}

	var store revocation.Store
	switch c.RevocationAdapter {
	case "redis":
		rs := revocation.NewRedisStore(c.RedisAddr, c.RedisPassword, c.RedisDB, c.StoreTimeout)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Error("redis init", "addr", c.RedisAddr, "error", err)
			os.Exit(1)
		}
		store = rs
		logger.Info("connected to Redis revocation store", "addr", c.RedisAddr)
	case "memory":
		logger.Warn("using in-memory revocation store (not recommended for production)")
		store = revocation.NewMemoryStore()
	}

	app := &App{
		DB:             db,
		Tokens:         token.NewService([]byte(c.JWTSecret), c.AccessTokenTTL, c.RefreshTokenTTL, store, logger),
		Revocations:    store,
		Log:            logger,
		AllowedOrigins: c.AllowedOrigins,
		rateLimiter:    NewRateLimiter(c.RateLimitPerMinute),
	}

	scheduler := startJobs(db, logger)

	srv := &http.Server{
		Handler:      app.Router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop()
	if closer, ok := db.(interface{ close() error }); ok {
		_ = closer.close()
	}
	_ = store.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited properly")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
