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

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mikepea/lure/pkg/lure/annotation"
	"github.com/mikepea/lure/pkg/lure/assets"
	"github.com/mikepea/lure/pkg/lure/config"
	"github.com/mikepea/lure/pkg/lure/content"
	"github.com/mikepea/lure/pkg/lure/database"
	"github.com/mikepea/lure/pkg/lure/fetch"
	"github.com/mikepea/lure/pkg/lure/labels"
	"github.com/mikepea/lure/pkg/lure/logging"
	"github.com/mikepea/lure/pkg/lure/metrics"
	"github.com/mikepea/lure/pkg/lure/models"
	"github.com/mikepea/lure/pkg/lure/notify"
	"github.com/mikepea/lure/pkg/lure/pipeline"
	"github.com/mikepea/lure/pkg/lure/tracking"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Server.Debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, skipMigrate, logger)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not migrate the schema on startup")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, skipMigrate bool, logger *zap.Logger) error {
	db, err := database.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if !skipMigrate {
		if err := models.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}

	if err := os.MkdirAll(cfg.Content.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create content root: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	publisher, closePublisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	gen, err := annotation.NewGenerator(ctx, cfg.Annotation, logger)
	if err != nil {
		return fmt.Errorf("failed to create annotation backend: %w", err)
	}
	if closer, ok := gen.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))
	registerRoutes(r, db, cfg, gen, publisher, logger, m)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting lure server", zap.String("addr", srv.Addr), zap.String("base_path", cfg.Server.BasePath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newPublisher connects to JetStream when a NATS URL is configured and falls
// back to logging outbound messages otherwise.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Publisher, func(), error) {
	if cfg.NATS.URL == "" {
		logger.Warn("no NATS URL configured, outbound messages will only be logged")
		return notify.NewLogPublisher(logger), func() {}, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("lure-server"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	pub, err := notify.NewJetStreamPublisher(ctx, nc, cfg.NATS.Stream, cfg.NATS.Subject)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to set up JetStream: %w", err)
	}
	logger.Info("publishing outbound messages to JetStream",
		zap.String("stream", cfg.NATS.Stream),
		zap.String("subject", cfg.NATS.Subject))
	return pub, func() { _ = nc.Drain() }, nil
}

// registerRoutes wires every component and mounts its routes under the
// configured base path.
func registerRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config, gen annotation.Generator, publisher notify.Publisher, logger *zap.Logger, m *metrics.Metrics) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	downloader := fetch.New(fetch.Options{
		Timeout:    cfg.Assets.Timeout,
		MaxRetries: cfg.Assets.MaxRetries,
		MaxBytes:   cfg.Assets.MaxBytes,
	}, logger)
	mirror := assets.New(downloader, assets.Options{
		ContentRoot:  cfg.Content.Root,
		BasePath:     cfg.Server.BasePath,
		SystemOrigin: cfg.Assets.SystemOrigin,
		SystemPrefix: cfg.Assets.SystemPrefix,
	}, logger, m)

	queue := notify.NewQueue(db, publisher, logger, m)
	tracker := tracking.NewTracker(db, queue, cfg.Tracking.PassingScore, logger, m)
	labelStore := labels.NewStore(db, logger)

	proc := pipeline.New(db,
		annotation.NewClient(gen, cfg.Annotation.CacheSize, logger, m),
		mirror,
		labelStore,
		tracker,
		pipeline.Options{
			ContentRoot:      cfg.Content.Root,
			EntryDocument:    cfg.Content.EntryDocument,
			BasePath:         cfg.Server.BasePath,
			BaseURL:          cfg.Server.BaseURL,
			ChunkThreshold:   cfg.Annotation.ChunkThreshold,
			MaxBytes:         cfg.Annotation.MaxBytes,
			Strict:           cfg.Annotation.Strict,
			PreviewRecipient: cfg.Tracking.PreviewRecipient,
		}, logger, m)

	base := r.Group(cfg.Server.BasePath)
	api := base.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "lure"})
		})

		contentHandler := content.NewHandler(db, proc, tracker, content.Options{
			ContentRoot:    cfg.Content.Root,
			BaseURL:        cfg.Server.BaseURL,
			BasePath:       cfg.Server.BasePath,
			MaxUploadBytes: cfg.Content.MaxUploadBytes,
			Debug:          cfg.Server.Debug,
		})
		contentHandler.RegisterRoutes(api)
		contentHandler.RegisterServeRoute(base)

		labels.NewHandler(db).RegisterRoutes(api)

		trackingHandler := tracking.NewHandler(db, tracker, cfg.Server.BasePath, cfg.Server.Debug)
		trackingHandler.RegisterRoutes(api)
		trackingHandler.RegisterLaunchRoute(base)
	}
}
