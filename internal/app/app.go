package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"wbcscan/internal/config"
	"wbcscan/internal/logger"
	"wbcscan/internal/repository/sqlite"
	"wbcscan/internal/routes"
	"wbcscan/internal/service"
	"wbcscan/internal/service/ai"
	"wbcscan/internal/service/annotate"
	"wbcscan/internal/service/auth"
	"wbcscan/internal/service/cache"
	"wbcscan/internal/service/export"
	"wbcscan/internal/service/metrics"
	"wbcscan/internal/service/runner"
	"wbcscan/internal/service/session"
	"wbcscan/internal/service/stats"
	"wbcscan/internal/service/storage"
	"wbcscan/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	statsCache *cache.StatsCache
	hubService *websocket.HubService
	manager    *service.Manager
	handler    http.Handler
}

// NewApp opens the database and wires every service of the server.
func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.ImageDirectory, cfg.ModelDirectory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if cfg.SessionKey == "" {
		log.Warning("SESSION_KEY is not set, using random session keys; logins end on restart")
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	projectRepo := sqlite.NewProjectRepository(db)
	imageRepo := sqlite.NewImageRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)
	modelRepo := sqlite.NewModelRepository(db)
	userRepo := sqlite.NewUserRepository(db)

	hub := websocket.NewHubService(cfg, log)
	m := metrics.New(hub.GetClientCount)
	hub.OnDrop(m.DropProgress)

	statsCache := cache.NewStatsCache(cfg, log)
	store := storage.NewStore(cfg, log, imageRepo)
	batchRunner := runner.NewRunner(
		store,
		detectionRepo,
		ai.NewModelLoader(cfg, modelRepo, log),
		annotate.NewRenderer(90),
		hub,
		log,
	)
	mng := service.NewManager(batchRunner, store, hub, stats.NewService(detectionRepo, statsCache, log), m, log)

	handler := routes.SetupRoutes(mng, cfg, log, routes.Dependencies{
		Projects:   projectRepo,
		Images:     imageRepo,
		Detections: detectionRepo,
		Models:     modelRepo,
		Auth:       auth.NewService(cfg, userRepo, log),
		Sessions:   session.NewStore(cfg),
		Exporter:   export.NewExporter(imageRepo, detectionRepo, modelRepo, log),
	})

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		statsCache: statsCache,
		hubService: hub,
		manager:    mng,
		handler:    handler,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hubService.Run(ctx)
		return nil
	})

	g.Go(func() error {
		a.logger.Info("WBC Scan server listening on http://localhost:%d", a.config.Port)
		a.logger.Info("Images: %s, models: %s", a.config.ImageDirectory, a.config.ModelDirectory)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Runs hold their request open, so they are stopped before the server drains.
		if err := a.manager.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Detection runs did not stop in time: %v", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) close() {
	if err := a.statsCache.Close(); err != nil {
		a.logger.Warning("Failed to close stats cache: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warning("Failed to close database: %v", err)
	}
	a.logger.Sync()
}
