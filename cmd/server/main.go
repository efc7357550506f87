// Command server runs the GameHub HTTP API and realtime websocket service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gamehub/internal/account"
	"github.com/Tyrowin/gamehub/internal/auth"
	"github.com/Tyrowin/gamehub/internal/config"
	"github.com/Tyrowin/gamehub/internal/db"
	"github.com/Tyrowin/gamehub/internal/db/migrate"
	"github.com/Tyrowin/gamehub/internal/server"
	"github.com/Tyrowin/gamehub/internal/storage/memory"
	"github.com/Tyrowin/gamehub/internal/storage/postgres"
	redisstore "github.com/Tyrowin/gamehub/internal/storage/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// stores holds the repositories chosen by configuration.
type stores struct {
	users      account.UserRepository
	characters account.CharacterRepository
	refresh    auth.RefreshStore
	closers    []func() error
}

func (s *stores) Close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}

	var pg *sql.DB
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database migrations applied")
		}
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		pg = conn
		s.closers = append(s.closers, conn.Close)
		s.users = postgres.NewUserStore(conn)
		s.characters = postgres.NewCharacterStore(conn)
	} else {
		logger.Warn("DATABASE_URL not set; accounts are kept in memory")
		s.users = memory.NewUserStore()
		s.characters = memory.NewCharacterStore()
	}

	switch cfg.RefreshStore {
	case config.StorePostgres:
		s.refresh = postgres.NewRefreshTokenStore(pg)
	case config.StoreRedis:
		client, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.refresh = redisstore.NewRefreshTokenStore(client, "")
	default:
		s.refresh = memory.NewRefreshTokenStore()
	}
	logger.Info("stores ready", "refresh_store", cfg.RefreshStore, "database", pg != nil)
	return s, nil
}

func newAccessTokens(cfg *config.Config) (*auth.AccessTokens, error) {
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		signer, err := auth.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
		}
		pub, err := auth.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
		}
		return auth.NewKeyPairAccessTokens(signer, pub, cfg.JWTIssuer, cfg.AccessTTL)
	}
	return auth.NewHMACAccessTokens([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTTL)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	access, err := newAccessTokens(cfg)
	if err != nil {
		return err
	}
	refresh := auth.NewRefreshTokens(st.refresh, cfg.RefreshTTL, logger)
	accounts := account.NewService(st.users, st.characters, auth.NewHasher(cfg.BcryptCost), access, refresh, logger)

	metrics := server.NewMetrics()
	hub := server.NewHub(server.HubOptions{
		Verifier: access,
		Metrics:  metrics,
		Logger:   logger,
		Client: server.ClientConfig{
			MaxMessageSize: cfg.MaxMessageSize,
			RateLimit:      cfg.RateLimit,
		},
		IdleTimeout:       cfg.IdleTimeout,
		IdleSweepInterval: cfg.IdleSweepInterval,
		MaxChatLength:     cfg.MaxChatLength,
	})
	accounts.SetSessionTerminator(hub)

	if created, err := accounts.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	} else if created {
		logger.Info("bootstrap admin created", "username", cfg.AdminUsername)
	}

	router := server.NewRouter(server.Deps{
		Hub:                    hub,
		Accounts:               accounts,
		Metrics:                metrics,
		Origins:                server.NewOriginPolicy(cfg.AllowedOrigins, logger),
		Logger:                 logger,
		AuthRateLimitPerMinute: cfg.AuthRateLimitPerMinute,
	})
	httpServer := server.CreateServer(cfg.HTTPAddr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return server.StartServer(httpServer, logger)
	})
	g.Go(func() error {
		return refresh.RunSweeper(gctx, cfg.TokenSweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown(hub, httpServer, cfg.ShutdownTimeout, logger)
	})

	return g.Wait()
}

// shutdown tells players the server is going away, stops the hub and then
// drains the HTTP server.
func shutdown(hub *server.Hub, httpServer *http.Server, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if n, err := hub.DisconnectAll(ctx, "Server is shutting down"); err == nil {
		logger.Info("players disconnected", "count", n)
	}
	if err := hub.Shutdown(timeout); err != nil {
		logger.Warn("hub shutdown incomplete", "err", err)
	}
	return server.ShutdownServer(httpServer, timeout, logger)
}
