package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/exotel"
	"callbridge/internal/httpapi"
	"callbridge/internal/speech"
	"callbridge/internal/ws"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var db *sql.DB
	var rdb *redis.Client
	store, err := openStore(rootCtx, cfg, &db, &rdb)
	if err != nil {
		log.Error("store init failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	if rdb != nil {
		defer rdb.Close()
	}

	svc := calls.NewService(store)

	hub := ws.NewHub(ws.HubConfig{
		TokenSecret:       cfg.Stream.TokenSecret,
		TokenTTL:          cfg.Stream.TokenTTL,
		MaxStreamDuration: cfg.Stream.MaxDuration,
		Calls:             svc,
		NewEngine:         engineFactory(cfg),
		Logger:            log,
	})
	svc.SetNotifier(hub)

	dialer := exotel.NewClient(exotel.Config{
		AccountSID:        cfg.Exotel.AccountSID,
		APIKey:            cfg.Exotel.APIKey,
		APIToken:          cfg.Exotel.APIToken,
		CallerID:          cfg.Exotel.CallerID,
		AppID:             cfg.Exotel.AppID,
		BaseURL:           "https://" + cfg.Exotel.Subdomain,
		StatusCallbackURL: cfg.App.PublicBaseURL + "/api/exotel/status",
		Mock:              cfg.App.MockMode,
	})

	var authManager *auth.Manager
	if cfg.Dash.JWTSecret != "" {
		authManager, err = auth.NewManager(cfg.Dash.JWTSecret, cfg.Dash.TokenTTL)
		if err != nil {
			log.Error("auth init failed", "err", err)
			os.Exit(1)
		}
	}

	handlers := httpapi.Handlers{
		Calls:       svc,
		Dialer:      dialer,
		Auth:        authManager,
		TokenSecret: cfg.Stream.TokenSecret,
		TokenTTL:    cfg.Stream.TokenTTL,
		WSBaseURL:   cfg.WSBaseURL(),
		MockMode:    cfg.App.MockMode,
		Logger:      log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, handlers, hub, rdb, db, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "mock_mode", cfg.App.MockMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// openStore builds the call-record store selected by CALL_STORE. The db and
// redis handles are returned through the out params so main can close them.
func openStore(ctx context.Context, cfg config.Config, db **sql.DB, rdb **redis.Client) (calls.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return calls.NewMemoryStore(), nil
	case "localjson":
		return calls.NewJSONStore(cfg.Store.File)
	case "redis":
		client, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return nil, err
		}
		*rdb = client
		return calls.NewRedisStore(client), nil
	case "postgres":
		handle, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, err
		}
		store, err := calls.NewPostgresStore(ctx, handle)
		if err != nil {
			_ = handle.Close()
			return nil, err
		}
		*db = handle
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func engineFactory(cfg config.Config) ws.EngineFactory {
	if cfg.App.MockMode {
		return func() speech.Engine { return speech.NewMockEngine(0) }
	}
	return func() speech.Engine {
		return speech.NewGeminiLive(cfg.Gemini.APIKey, cfg.Gemini.RealtimeModel)
	}
}
