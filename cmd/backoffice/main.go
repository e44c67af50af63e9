package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-bi/backoffice/cmd/backoffice/cli"
	"github.com/odyssey-bi/backoffice/internal/app"
	"github.com/odyssey-bi/backoffice/internal/audit"
	audithttp "github.com/odyssey-bi/backoffice/internal/audit/http"
	"github.com/odyssey-bi/backoffice/internal/auth"
	"github.com/odyssey-bi/backoffice/internal/companies"
	"github.com/odyssey-bi/backoffice/internal/dashboards"
	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/platform/cache"
	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/projects"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/roles"
	"github.com/odyssey-bi/backoffice/internal/shared"
	"github.com/odyssey-bi/backoffice/internal/softdelete"
	"github.com/odyssey-bi/backoffice/internal/users"
	"github.com/odyssey-bi/backoffice/jobs"
)

const sessionCookie = "backoffice_session"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	root := cli.NewRootCommand(cli.Env{
		Serve: func(ctx context.Context) error { return serve(ctx, cfg, logger) },
		Recounter: func(ctx context.Context) (jobs.Recounter, func(), error) {
			pool, err := db.New(ctx, cfg.DatabaseOptions())
			if err != nil {
				return nil, nil, err
			}
			return softdelete.NewManager(softdelete.NewPGStore(pool), nil, logger), pool.Close, nil
		},
		Jobs: func() (*cli.JobsCLI, error) { return cli.NewJobsCLI(cfg.AsynqRedis()) },
	}, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("backoffice", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.DatabaseOptions())
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      buildRouter(cfg, logger, pool, redisClient, inspector),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildRouter(cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, inspector *asynq.Inspector) http.Handler {
	metrics := observability.NewMetrics()

	sessionManager := shared.NewSessionManager(redisClient, sessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	rbacRepo := rbac.NewRepository(pool)
	grants := rbac.NewGrantCache(redisClient, rbacRepo, cfg.PermissionCacheTTL, metrics, logger)
	rbacService := rbac.NewService(rbacRepo, grants, logger)
	rbacMiddleware := rbac.Middleware{Loader: rbacRepo, Grants: grants, Logger: logger}

	engine := policy.NewEngine(policy.DefaultRegistry(), grants, metrics, logger)
	ledger := audit.NewLedger(audit.NewRepository(pool), metrics, logger)
	lifecycle := softdelete.NewManager(softdelete.NewPGStore(pool), metrics, logger)

	authService := auth.NewService(auth.NewRepository(pool), rbacRepo, grants, ledger, logger)
	auditService := audit.NewService(audit.NewRepository(pool), engine, ledger)

	return app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       auth.NewHandler(logger, authService, sessionManager, csrfManager),
		ProjectsHandler:   projects.NewHandler(logger, projects.NewService(projects.NewRepository(pool), engine, lifecycle, ledger)),
		CompaniesHandler:  companies.NewHandler(logger, companies.NewService(companies.NewRepository(pool), engine, lifecycle, ledger)),
		DashboardsHandler: dashboards.NewHandler(logger, dashboards.NewService(dashboards.NewRepository(pool), engine, lifecycle, ledger)),
		UsersHandler:      users.NewHandler(logger, users.NewService(users.NewRepository(pool), engine, lifecycle, ledger)),
		RolesHandler:      roles.NewHandler(logger, roles.NewService(rbacService, engine, ledger)),
		AuditHandler:      audithttp.NewHandler(logger, auditService),
		JobsHandler:       jobs.NewHandler(inspector, logger),
		RBACMiddleware:    rbacMiddleware,
		Metrics:           metrics,
	})
}
