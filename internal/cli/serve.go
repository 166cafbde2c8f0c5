package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/taskflow-auth/internal/api/http"
	"github.com/spec-kit/taskflow-auth/internal/api/http/handlers"
	"github.com/spec-kit/taskflow-auth/internal/auth"
	"github.com/spec-kit/taskflow-auth/internal/config"
	"github.com/spec-kit/taskflow-auth/internal/events"
	"github.com/spec-kit/taskflow-auth/internal/flow"
	"github.com/spec-kit/taskflow-auth/internal/observability"
	"github.com/spec-kit/taskflow-auth/internal/persistence"
	"github.com/spec-kit/taskflow-auth/internal/repository"
	"github.com/spec-kit/taskflow-auth/internal/service"
	"github.com/spec-kit/taskflow-auth/internal/worker"
	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			var cfgErr *apperrors.ConfigurationError
			if errors.As(err, &cfgErr) {
				return fmt.Errorf("refusing to start: %w", cfgErr)
			}
			return err
		}

		logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()
	dependencies := map[string]handlers.Pinger{}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	var users repository.UserRepository
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		users = repository.NewUserRepository(pg.PoolHandle())
		dependencies["postgres"] = pg
	} else {
		logger.Warn("using in-memory user repository; accounts are lost on restart")
		users = repository.NewMemoryUserRepository()
	}

	flowOpts := flow.Options{TTL: cfg.Auth.FlowTTL()}
	var flows flow.Store
	switch cfg.Auth.FlowStore {
	case config.FlowStoreRedis:
		rdb, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		flows = flow.NewRedisStore(rdb.Client, cfg.Redis.KeyPrefix, flowOpts)
		dependencies["redis"] = rdb
	default:
		flows = flow.NewMemoryStore(flowOpts)
	}

	key, err := cfg.Auth.SigningKey()
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Key:        key,
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL(),
		RefreshTTL: cfg.Auth.RefreshTTL(),
	})
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}

	dispatcher := events.NewInMemoryDispatcher()
	service.NewAuditService(dispatcher, logger, metrics).RegisterHandlers()

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:   users,
		Flows:      flows,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})

	gate := auth.NewAuthGate(auth.NewAuthenticator(tokens, users, logger), logger, func(error) {
		metrics.RecordAuth(observability.AuthRejected, 1)
	})

	app := httptransport.NewServer(httptransport.ServerConfig{
		AppName:        cfg.App.Name,
		RequestTimeout: cfg.App.RequestTimeout(),
		Logger:         logger,
		Metrics:        metrics,
	}, httptransport.RouteConfig{
		Health:    handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies, metrics),
		Auth:      handlers.NewAuthHandler(authService, cfg.Auth.CookieSecure),
		Users:     handlers.NewUsersHandler(authService),
		Gate:      gate,
		RateLimit: cfg.RateLimit,
		Logger:    logger,
	})

	worker.StartFlowSweeper(ctx, flows, cfg.Auth.FlowSweepInterval(), logger, metrics)

	return listen(ctx, app, cfg.App.Addr(), logger)
}

func listen(ctx context.Context, app *fiber.App, addr string, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("fiber listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return app.Shutdown()
}
