package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/bastion-iam/bastion/internal/access"
	"github.com/bastion-iam/bastion/internal/admin"
	"github.com/bastion-iam/bastion/internal/app"
	"github.com/bastion-iam/bastion/internal/audit"
	"github.com/bastion-iam/bastion/internal/hierarchy"
	"github.com/bastion-iam/bastion/internal/observability"
	"github.com/bastion-iam/bastion/internal/orgunit"
	"github.com/bastion-iam/bastion/internal/perms"
	"github.com/bastion-iam/bastion/internal/platform/cache"
	"github.com/bastion-iam/bastion/internal/platform/db"
	"github.com/bastion-iam/bastion/internal/roles"
	"github.com/bastion-iam/bastion/internal/sdset"
	"github.com/bastion-iam/bastion/internal/session"
	"github.com/bastion-iam/bastion/internal/users"
	"github.com/bastion-iam/bastion/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	recorder := audit.NewAsynqRecorder(asynqClient, logger)

	edgeStore := hierarchy.NewPGEdgeStore(pool)
	roleGraph := hierarchy.NewResolver(hierarchy.KindRole, edgeStore)
	adminGraph := hierarchy.NewResolver(hierarchy.KindAdminRole, edgeStore)
	userOUGraph := hierarchy.NewResolver(hierarchy.KindUserOU, edgeStore)
	permOUGraph := hierarchy.NewResolver(hierarchy.KindPermOU, edgeStore)

	rolesRepo := roles.NewRepository(pool)
	usersRepo := users.NewRepository(pool)
	permsRepo := perms.NewRepository(pool)
	setsRepo := sdset.NewRepository(pool)
	orgUnitRepo := orgunit.NewRepository(pool)

	rolesService := roles.NewService(rolesRepo, roleGraph, adminGraph, usersRepo, permsRepo, recorder)
	setsService := sdset.NewService(setsRepo, rolesRepo, recorder)
	usersService := users.NewService(usersRepo, rolesRepo, setsService, permsRepo, recorder)
	permsService := perms.NewService(permsRepo, rolesRepo, usersRepo, recorder)
	orgUnitService := orgunit.NewService(orgUnitRepo, userOUGraph, permOUGraph, recorder)

	sessionManager := session.NewManager(session.NewRedisStore(redisClient), usersRepo, rolesRepo, setsService, recorder)
	sessionManager.SetDefaultTimeout(cfg.SessionTimeoutMins)

	metrics := observability.NewMetrics()
	accessService := access.NewService(permsRepo, usersRepo, sessionManager, roleGraph, recorder, metrics)

	authorizer := admin.NewAuthorizer(sessionManager, usersRepo, rolesRepo, permsRepo, roleGraph, userOUGraph, permOUGraph)
	adminService := admin.NewService(authorizer, usersService, permsService)

	auditService := audit.NewService(audit.NewTimelineRepository(pool))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		RolesHandler:   roles.NewHandler(logger, rolesService),
		UsersHandler:   users.NewHandler(logger, usersService),
		PermsHandler:   perms.NewHandler(logger, permsService),
		SDSetHandler:   sdset.NewHandler(logger, setsService),
		OrgUnitHandler: orgunit.NewHandler(logger, orgUnitService),
		SessionHandler: session.NewHandler(logger, sessionManager),
		AccessHandler:  access.NewHandler(logger, accessService),
		AdminHandler:   admin.NewHandler(logger, adminService),
		AuditHandler:   audit.NewHandler(logger, auditService),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Pool:           pool,
		Redis:          redisClient,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
