// Package main is the entry point for the hookbridge server.
// It exposes a raw ingest surface for inbound webhook traffic and a
// Huma-documented management API for configuring webhook definitions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clinova/hookbridge/internal/config"
	"github.com/clinova/hookbridge/internal/database"
	"github.com/clinova/hookbridge/internal/http/handlers"
	"github.com/clinova/hookbridge/internal/http/mw"
	"github.com/clinova/hookbridge/internal/logging"
	"github.com/clinova/hookbridge/internal/repository"
	"github.com/clinova/hookbridge/internal/service"
	"github.com/clinova/hookbridge/internal/shutdown"
	"github.com/clinova/hookbridge/internal/version"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting hookbridge",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run migrations (with logging for each migration applied)
	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	applied, err := database.GetAppliedMigrations(db)
	if err != nil {
		logger.Warn("failed to read applied migrations", "error", err)
	} else if len(applied) > 0 {
		latest := applied[len(applied)-1]
		logger.Info("database schema ready", "schema_version", latest.Timestamp, "migrations_applied", len(applied))
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize services
	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Start log retention pass if enabled
	if cfg.CleanupEnabled {
		go services.Cleanup.RunScheduledCleanup(ctx, cfg.LogRetention, cfg.CleanupInterval)
		logger.Info("cleanup service started",
			"retention", cfg.LogRetention.String(),
			"interval", cfg.CleanupInterval.String(),
		)
	}

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)

	// Idle monitor for scale-to-zero hosts. Probes don't count as
	// activity; live listen sessions hold off shutdown.
	idleMonitor := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      cfg.IdleShutdownTimeout,
		Logger:       logger,
		ExcludePaths: []string{"/healthz", "/readyz"},
		Busy:         func() bool { return services.Harness.ActiveSessions() > 0 },
	})
	router.Use(idleMonitor.Middleware)
	idleMonitor.Start()

	// S3-backed configuration loaders
	// All use the same bucket with different keys
	var logFiltersLoader *mw.LogFiltersLoader
	if services.Archive.IsEnabled() && cfg.DenylistBucket != "" {
		bucket := cfg.DenylistBucket

		// IP denylist (early in chain to reject bad actors quickly)
		denylist := mw.NewIPDenylist(mw.DenylistConfig{
			S3Client: services.Archive.Client(),
			Bucket:   bucket,
			Key:      cfg.DenylistKey,
			Logger:   logger,
		})
		router.Use(denylist.Middleware())

		// Log filters (dynamic log filtering from S3)
		logFiltersLoader = mw.NewLogFiltersLoader(mw.LogFiltersConfig{
			S3Client: services.Archive.Client(),
			Bucket:   bucket,
			Key:      "config/logfilters.json",
			Logger:   logger,
		})
		logFiltersLoader.Start(ctx)

		logger.Info("S3 config loaders enabled",
			"bucket", bucket,
			"cache_ttl", "5m",
			"configs", []string{cfg.DenylistKey, "config/logfilters.json"},
		)
	}

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())
	// Request timeout middleware with different timeouts per endpoint type
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:  30 * time.Second,
		Extended: cfg.HarnessRequestTimeout + 30*time.Second,
		// Outbound test executions wait for the external target
		ExtendedPatterns: []string{"/test/execute"},
	}))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-API-Version", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Use(mw.Cache(mw.DefaultCacheConfig()))

	// Inbound webhook traffic. Registered outside the management group so
	// payload size and per-webhook rate limits are enforced by the ingest
	// pipeline itself, not by blanket API middleware.
	ingestHandler := handlers.NewIngestHandler(services.Ingest, cfg.IngestMaxBodyBytes, logger)
	router.HandleFunc("/hooks/{webhookID}/{slug}", ingestHandler.HandleInbound)

	// Config for hidden routes (K8s probes - no docs needed)
	hiddenConfig := huma.DefaultConfig("HookBridge API", "1.0.0")
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(hiddenAPI, "/healthz", handlers.Livez)
	readyzHandler := handlers.NewReadyzHandler(db)
	mw.HiddenGet(hiddenAPI, "/readyz", readyzHandler.Readyz)

	// Management API
	router.Group(func(r chi.Router) {
		// Request size limit (1MB) - prevent large payload attacks
		r.Use(middleware.RequestSize(1 * 1024 * 1024))

		// Blanket rate limit by IP plus a global concurrency throttle
		r.Use(mw.RateLimitByIP(cfg.ManagementRateLimit))
		r.Use(middleware.Throttle(100))

		humaConfig := huma.DefaultConfig("HookBridge API", "1.0.0")
		humaConfig.Info.Description = "Configurable bidirectional webhook gateway. Define inbound endpoints with auth, mapping, and response policies; dispatch internal events to external targets."
		humaConfig.Servers = []*huma.Server{
			{URL: cfg.BaseURL, Description: "API Server"},
		}
		api := humachi.New(r, humaConfig)

		// Health check (public, shown in docs)
		mw.PublicGet(api, "/api/v1/health", handlers.HealthCheck,
			mw.WithTags("system"), mw.WithSummary("Service health"))

		// Webhook definition management
		webhookHandler := handlers.NewWebhookHandler(services.Registry)
		mw.PublicGet(api, "/api/v1/webhooks", webhookHandler.ListWebhooks,
			mw.WithTags("webhooks"), mw.WithSummary("List webhook definitions"))
		mw.PublicPost(api, "/api/v1/webhooks", webhookHandler.CreateWebhook,
			mw.WithTags("webhooks"), mw.WithSummary("Create a webhook definition"),
			mw.WithDefaultStatus(http.StatusCreated))
		mw.PublicGet(api, "/api/v1/webhooks/validate-slug", webhookHandler.ValidateSlug,
			mw.WithTags("webhooks"), mw.WithSummary("Check slug availability"),
			mw.WithOperationID("validate-webhook-slug"))
		mw.PublicGet(api, "/api/v1/webhooks/{id}", webhookHandler.GetWebhook,
			mw.WithTags("webhooks"), mw.WithSummary("Get a webhook definition"))
		mw.PublicPatch(api, "/api/v1/webhooks/{id}", webhookHandler.PatchWebhook,
			mw.WithTags("webhooks"), mw.WithSummary("Update a webhook definition"))
		mw.PublicPost(api, "/api/v1/webhooks/{id}/active", webhookHandler.SetWebhookActive,
			mw.WithTags("webhooks"), mw.WithSummary("Activate or deactivate a webhook"))
		mw.PublicDelete(api, "/api/v1/webhooks/{id}", webhookHandler.DeleteWebhook,
			mw.WithTags("webhooks"), mw.WithSummary("Delete a webhook definition"))

		// Exchange logs
		logHandler := handlers.NewLogHandler(repos.WebhookLog)
		mw.PublicGet(api, "/api/v1/webhooks/{id}/logs", logHandler.ListLogs,
			mw.WithTags("logs"), mw.WithSummary("List exchange logs for a webhook"))
		mw.PublicGet(api, "/api/v1/webhooks/{id}/logs/export", logHandler.ExportLogs,
			mw.WithTags("logs"), mw.WithSummary("Export exchange logs as a file"))
		mw.PublicGet(api, "/api/v1/webhooks/{id}/logs/{logId}", logHandler.GetLog,
			mw.WithTags("logs"), mw.WithSummary("Get one exchange log"))

		// Test harness
		harnessHandler := handlers.NewHarnessHandler(services.Harness)
		mw.PublicPost(api, "/api/v1/webhooks/{id}/test/command", harnessHandler.BuildCommand,
			mw.WithTags("testing"), mw.WithSummary("Build a curl command for a webhook"))
		mw.PublicPost(api, "/api/v1/webhooks/{id}/test/execute", harnessHandler.ExecuteTest,
			mw.WithTags("testing"), mw.WithSummary("Execute a test request against a webhook"))
		mw.PublicPost(api, "/api/v1/webhooks/{id}/listen", harnessHandler.StartListen,
			mw.WithTags("testing"), mw.WithSummary("Start a listen session"),
			mw.WithDefaultStatus(http.StatusCreated))
		mw.PublicGet(api, "/api/v1/listen/{sessionId}", harnessHandler.GetListen,
			mw.WithTags("testing"), mw.WithSummary("Poll a listen session"))
		mw.PublicDelete(api, "/api/v1/listen/{sessionId}", harnessHandler.StopListen,
			mw.WithTags("testing"), mw.WithSummary("Stop a listen session"))

		// Platform events fanned out to outbound webhooks
		eventsHandler := handlers.NewEventsHandler(services.Dispatch)
		mw.PublicPost(api, "/api/v1/events", eventsHandler.PublishEvent,
			mw.WithTags("events"), mw.WithSummary("Publish an event to subscribed webhooks"))

		// Gateway metrics
		metricsHandler := handlers.NewMetricsHandler(repos)
		mw.PublicGet(api, "/api/v1/metrics", metricsHandler.GetMetrics,
			mw.WithTags("metrics"), mw.WithSummary("Aggregate gateway statistics"))

		// Schema catalog
		schemaHandler := handlers.NewSchemaCatalogHandler(repos.SchemaCatalog)
		mw.PublicGet(api, "/api/v1/schemas", schemaHandler.ListSchemas,
			mw.WithTags("schemas"), mw.WithSummary("List mapping target schemas"))
		mw.PublicGet(api, "/api/v1/schemas/{name}", schemaHandler.GetSchema,
			mw.WithTags("schemas"), mw.WithSummary("Get a mapping target schema"))
		mw.PublicPost(api, "/api/v1/schemas/{name}/automap", schemaHandler.AutoMap,
			mw.WithTags("schemas"), mw.WithSummary("Suggest field mappings from a sample payload"))
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on signal or idle timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idleMonitor.ShutdownChan():
			logger.Info("shutting down server after idle timeout")
		}
		idleMonitor.Stop()

		// Stop background loops and listen sessions first
		cancel()
		services.Harness.Shutdown()

		// Stop log filters loader if running
		if logFiltersLoader != nil {
			logFiltersLoader.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
