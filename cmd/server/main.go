package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/events"
	"go-wiki-engine/internal/handler"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/render"
	"go-wiki-engine/internal/scheduler"
	"go-wiki-engine/internal/search"
	"go-wiki-engine/internal/service"
)

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig()
	if err != nil {
		// Use fmt.Printf here because the logger is not yet initialized.
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Initialization ---
	log := logger.New(cfg.Log)

	// --- Database Initialization and Migration ---
	log.Info("Applying database migrations...")
	if err := data.ApplyMigrations(cfg.DB.Driver, cfg.DB.DSN, "migrations"); err != nil {
		log.Fatal(err, "Failed to apply migrations")
	}
	log.Info("Migrations applied successfully.")

	log.Info("Connecting to the database...")
	db, err := data.NewDB(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()
	log.Info("Database connection successful.")

	// --- Authorization Setup ---
	log.Info("Initializing authorization...")
	enforcer, err := auth.NewEnforcer(cfg.DB.Driver, cfg.DB.DSN, "auth_model.conf")
	if err != nil {
		log.Fatal(err, "Failed to initialize enforcer")
	}
	auth.SeedDefaultPolicies(enforcer, log)
	access := auth.NewCasbinAccess(enforcer)
	log.Info("Authorization initialized and policies seeded.")

	// --- Page Cache Initialization ---
	log.Info("Initializing page cache...")
	pageCache, err := cache.New(cfg.Cache.FilePath)
	if err != nil {
		log.Fatal(err, "Failed to initialize page cache")
	}
	defer pageCache.Close()
	log.Info("Page cache initialized.")

	// --- Event Bus ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var bus events.Bus
	if cfg.Redis.URL != "" {
		log.Info("Connecting to Redis event bus...")
		redisBus, err := events.NewRedisBus(ctx, cfg.Redis.URL, cfg.Redis.Prefix, log)
		if err != nil {
			log.Fatal(err, "Failed to connect to Redis")
		}
		bus = redisBus
		log.Info("Redis event bus connected.")
	} else {
		log.Info("No Redis URL configured; using in-process event bus.")
		bus = events.NewLocalBus()
	}
	defer bus.Close()
	if err := service.BindCacheInvalidation(ctx, bus, pageCache, log); err != nil {
		log.Fatal(err, "Failed to bind cache invalidation events")
	}

	// --- Scheduler ---
	sched := scheduler.New(log)

	// --- Dependency Injection and Handler Initialization ---
	pageRepository := data.NewSQLPageRepository(db)
	historyRepository := data.NewSQLHistoryRepository(db)
	treeRepository := data.NewSQLTreeRepository(db)
	folderRepository := data.NewSQLFolderRepository(db)
	tagRepository := data.NewSQLTagRepository(db)

	deps := service.Collaborators{
		Access:   access,
		Search:   search.NewDBIndex(db),
		Renderer: render.NewService(),
		Bus:      bus,
		Storage:  service.NoopStorage{},
		Log:      log,
	}
	treeBuilder := service.NewTreeBuilder(pageRepository, folderRepository, treeRepository, sched, log, cfg.InsertChunkSize())
	workflowService := service.NewWorkflowService(pageRepository, historyRepository, folderRepository, tagRepository, treeBuilder, pageCache, deps)
	queryService := service.NewQueryService(pageRepository, historyRepository, treeRepository, tagRepository, pageCache, deps)
	historyService := service.NewHistoryService(historyRepository, tagRepository, deps)

	if cfg.History.MaxAge != "" {
		if err := historyService.SchedulePurge(sched, cfg.History.PurgeSchedule, cfg.History.MaxAge); err != nil {
			log.Fatal(err, "Failed to schedule history purge")
		}
		log.Info(fmt.Sprintf("History purge scheduled (%s, retention %s).", cfg.History.PurgeSchedule, cfg.History.MaxAge))
	}
	sched.Start()
	defer sched.Stop()

	pageHandler := handler.NewPageHandler(workflowService, queryService, historyService, log)
	errorMiddleware := middleware.Error(log)

	// --- Router Setup ---
	router := handler.NewRouter(pageHandler, errorMiddleware)

	// --- Server Initialization and Graceful Shutdown ---
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		if cfg.Server.TLS.Enabled {
			log.Info(fmt.Sprintf("Starting HTTPS server on %s", server.Addr))
			if err := server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTPS server")
			}
		} else {
			log.Info(fmt.Sprintf("Starting HTTP server on %s", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err, "Could not start HTTP server")
			}
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Warn("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal(err, "Server forced to shutdown")
	}
	log.Info("Server exiting")
}
