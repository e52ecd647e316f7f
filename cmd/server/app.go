package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/korvane/vidsub-api/internal/api/middleware"
	"github.com/korvane/vidsub-api/internal/config"
	"github.com/korvane/vidsub-api/internal/gate"
	"github.com/korvane/vidsub-api/internal/pipeline"
	"github.com/korvane/vidsub-api/internal/platform/bilibili"
	"github.com/korvane/vidsub-api/internal/platform/dashscope"
	"github.com/korvane/vidsub-api/internal/platform/filehost"
	"github.com/korvane/vidsub-api/internal/platform/gemini"
	"github.com/korvane/vidsub-api/internal/platform/postgres"
	"github.com/korvane/vidsub-api/internal/polish"
	"github.com/korvane/vidsub-api/internal/registry"
	"github.com/korvane/vidsub-api/internal/service"
)

// application holds the wired dependency graph of the server.
type application struct {
	config *config.Config
	logger *slog.Logger

	db            *sql.DB
	pools         service.Pools
	extractSvc    *service.ExtractService
	polisher      polish.Polisher
	authenticator *middleware.Authenticator

	janitorCancel context.CancelFunc
}

// newApplication wires the full dependency graph: database and migrations,
// registries, pipeline collaborators, worker pools, and the service layer.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	taskStore := postgres.NewPostgresExtractTaskStore(db)
	taskRegistry := registry.NewExtractTaskRegistry(taskStore, logger)
	batchRegistry := registry.NewBatchRegistry(logger)

	site := bilibili.NewClient(cfg.Extraction.SiteCookie, logger)
	recognizer := dashscope.NewClient(cfg.Recognition.APIKey, logger)

	uploadClient := &http.Client{Timeout: cfg.Extraction.UploadTimeout}
	deps := pipeline.Deps{
		Info:       site,
		Captions:   site,
		Downloader: site,
		Hosts:      filehost.DefaultHosts(uploadClient),
		Recognizer: recognizer,
	}
	directLink := cfg.Extraction.SelfHostedURL != ""
	if directLink {
		deps.SelfHost = filehost.NewSelfHost(cfg.Extraction.SelfHostedURL, cfg.Extraction.AudioDir)
	}

	pipe := pipeline.New(pipeline.Config{
		AudioDir:         cfg.Extraction.AudioDir,
		LanguagePriority: cfg.Extraction.LanguagePriority,
		LanguageHints:    []string{"zh", "en"},
		PollInterval:     cfg.Recognition.PollInterval,
		MaxPolls:         cfg.Recognition.MaxPolls,
	}, deps, logger)

	pools := service.Pools{
		Direct: gate.NewPool("direct", cfg.Concurrency.DirectPoolSize, cfg.Concurrency.QueueSize, logger),
		Anon:   gate.NewPool("anon", cfg.Concurrency.AnonPoolSize, cfg.Concurrency.QueueSize, logger),
		Guest:  gate.NewPool("guest", cfg.Concurrency.GuestPoolSize, cfg.Concurrency.QueueSize, logger),
	}
	pools.Direct.Start()
	pools.Anon.Start()
	pools.Guest.Start()

	guestGate := gate.NewGuestGate(cfg.Concurrency.GuestMaxConcurrent, logger)

	extractSvc := service.NewExtractService(
		service.Config{
			StreamHeartbeat: cfg.Server.StreamHeartbeat,
			RetentionAge:    cfg.Extraction.RetentionAge,
		},
		pipe,
		batchRegistry,
		taskRegistry,
		pools,
		guestGate,
		logger,
	)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	extractSvc.StartJanitor(janitorCtx)

	var polisher polish.Polisher
	if cfg.LLM.GeminiAPIKey != "" {
		polisher, err = gemini.NewTranscriptPolisher(ctx, logger, cfg.LLM)
		if err != nil {
			janitorCancel()
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize transcript polisher: %w", err)
		}
	}

	authenticator, err := middleware.NewAuthenticator(cfg.Auth.JWTSecret, 24*time.Hour, logger)
	if err != nil {
		janitorCancel()
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	return &application{
		config:        cfg,
		logger:        logger,
		db:            db,
		pools:         pools,
		extractSvc:    extractSvc,
		polisher:      polisher,
		authenticator: authenticator,
		janitorCancel: janitorCancel,
	}, nil
}

// run starts the HTTP server and blocks until ctx is cancelled or the
// server fails, then shuts down gracefully.
func (app *application) run(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.setupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("server shutdown completed")
	return nil
}

// cleanup releases the application's long-lived resources.
func (app *application) cleanup() {
	if app.janitorCancel != nil {
		app.janitorCancel()
	}
	if app.pools.Direct != nil {
		app.pools.Direct.Stop()
	}
	if app.pools.Anon != nil {
		app.pools.Anon.Stop()
	}
	if app.pools.Guest != nil {
		app.pools.Guest.Stop()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", "error", err)
		}
	}
}
