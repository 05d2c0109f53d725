// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/gewnthar/encwind/arcgis"
	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/database"
	"github.com/gewnthar/encwind/enc"
	"github.com/gewnthar/encwind/enc/gdalreader"
	"github.com/gewnthar/encwind/handlers"
	"github.com/gewnthar/encwind/logging"
	"github.com/gewnthar/encwind/metrics"
	"github.com/gewnthar/encwind/scraper"
	"github.com/gewnthar/encwind/services"
)

var (
	app        = kingpin.New("encwind", "Publishes offshore wind features from NOAA ENC charts to ArcGIS Online.")
	configPath = app.Flag("config", "path to config.yaml").Short('c').Default("").String()
	envFile    = app.Flag("env-file", "env file with portal credentials and item ids").Default("").String()
	logLevel   = app.Flag("log-level", "overrides logging.level (debug, info, warn, error)").Default("").String()

	runCmd      = app.Command("run", "Download charts, extract features and update the hosted layers.").Default()
	downloadCmd = app.Command("download", "Download the configured charts only.")
	fieldsCmd   = app.Command("update-fields", "Push field aliases and descriptions to the hosted layers.")
	serveCmd    = app.Command("serve", "Run on the configured schedule and serve the admin API.")
	servePort   = serveCmd.Flag("port", "overrides server.port").Default("").String()
)

// deps holds everything built from the config for one process.
type deps struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    *database.Store
	reproj   *gdalreader.Reprojector
	workflow *services.Workflow
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encwind: %v\n", err)
		os.Exit(1)
	}
	defer database.CloseDB()
	defer d.reproj.Close()

	switch cmd {
	case runCmd.FullCommand():
		err = runOnce(ctx, d)
	case downloadCmd.FullCommand():
		err = downloadOnly(ctx, d)
	case fieldsCmd.FullCommand():
		err = updateFields(ctx, d)
	case serveCmd.FullCommand():
		err = serve(ctx, d)
	}
	if err != nil {
		d.logger.Error("Command failed", "command", cmd, "error", err)
		database.CloseDB()
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*deps, error) {
	loaded, err := config.LoadEnv(*envFile)
	if err != nil {
		return nil, err
	}
	if err := config.LoadConfig(*configPath); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	cfg := &config.AppConfig
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *servePort != "" {
		cfg.Server.Port = *servePort
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	logger.Info("Configuration loaded", "charts", len(cfg.NOAA.Charts), "features", len(cfg.Features),
		"target_dir", cfg.NOAA.TargetDir, "env_file_loaded", loaded)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	var store *database.Store
	if cfg.Database.Enabled() {
		if err := database.InitDB(cfg.Database); err != nil {
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
		if err := database.EnsureSchema(ctx, database.DB); err != nil {
			return nil, err
		}
		store = database.NewStore(database.DB)
	} else {
		logger.Info("Audit database not configured, run history is disabled")
	}

	client := arcgis.NewClient(ctx, cfg.ArcGIS, logger)
	reproj, err := gdalreader.NewReprojector()
	if err != nil {
		return nil, err
	}

	fetcher := scraper.NewFetcher(cfg.NOAA, logger)
	fetcher.Metrics = collector
	var editions *scraper.EditionChecker
	if cfg.NOAA.CatalogPage != "" {
		editions = &scraper.EditionChecker{
			Client:      fetcher.Client,
			PageURL:     cfg.NOAA.CatalogPage,
			RowSelector: cfg.NOAA.CatalogRowSelector,
			Logger:      logger.With("component", "editions"),
		}
	}

	wf := &services.Workflow{
		Config:   cfg,
		Fetcher:  fetcher,
		Editions: editions,
		Extraction: &services.ExtractionService{
			Extractor: &enc.Extractor{
				Opener: gdalreader.New(cfg.Logging.Level == "debug"),
				Logger: logger.With("component", "extractor"),
			},
			Features: cfg.Features,
			Logger:   logger.With("component", "extraction"),
			Metrics:  collector,
		},
		Publisher: &services.Publisher{
			Client:      client,
			Reprojector: reproj,
			DefaultWKID: cfg.ArcGIS.DefaultWKID,
			BatchSize:   cfg.ArcGIS.BatchSize,
			Logger:      logger.With("component", "publisher"),
		},
		Fields: &services.FieldUpdater{
			Client:       client,
			LayerIndices: cfg.ArcGIS.FieldLayerIndices,
			Logger:       logger.With("component", "fields"),
		},
		Metrics: collector,
		Logger:  logger.With("component", "workflow"),
	}
	// Assigned only when set so the interfaces stay nil without a database.
	if store != nil {
		fetcher.Recorder = store
		wf.Recorder = store
	}

	return &deps{cfg: cfg, logger: logger, registry: registry, store: store, reproj: reproj, workflow: wf}, nil
}

func runOnce(ctx context.Context, d *deps) error {
	report, err := d.workflow.Run(ctx)
	if err != nil {
		return err
	}
	for _, res := range report.Results {
		d.logger.Info("Feature class result", "feature_class", res.FeatureClass, "added", res.Added,
			"failed", len(res.Failures), "error", res.Err)
	}
	return nil
}

func downloadOnly(ctx context.Context, d *deps) error {
	report, err := d.workflow.Download(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("Download finished", "downloaded", len(report.Succeeded), "failed", len(report.Failed))
	return nil
}

func updateFields(ctx context.Context, d *deps) error {
	results, err := d.workflow.UpdateFields(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("item %s: %w", res.ItemID, res.Err))
			continue
		}
		d.logger.Info("Updated field metadata", "item_id", res.ItemID, "fields", res.Updated)
	}
	return errors.Join(errs...)
}

func serve(ctx context.Context, d *deps) error {
	log := d.logger.With("component", "server")

	var sched *cron.Cron
	if d.cfg.Server.Schedule != "" {
		sched = cron.New()
		_, err := sched.AddFunc(d.cfg.Server.Schedule, func() {
			log.Info("Scheduled run triggered", "schedule", d.cfg.Server.Schedule)
			_, err := d.workflow.Start(ctx, func(report *services.RunReport, err error) {
				if err != nil {
					log.Error("Scheduled run failed", "error", err)
					return
				}
				log.Info("Scheduled run finished", "run_id", report.RunID, "classes", len(report.Results))
			})
			if err != nil {
				log.Warn("Skipped scheduled run", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", d.cfg.Server.Schedule, err)
		}
		sched.Start()
		log.Info("Scheduled workflow runs", "schedule", d.cfg.Server.Schedule)
	}

	admin := &handlers.AdminHandler{
		Runner:      d.workflow,
		Logger:      log,
		BaseContext: ctx,
	}
	// Assigned only when set so the interfaces stay nil without a database.
	if d.store != nil {
		admin.Runs = d.store
		admin.DB = database.DB
	}

	srv := &http.Server{
		Addr:              ":" + d.cfg.Server.Port,
		Handler:           admin.Routes(d.registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case serveErr = <-errCh:
	}

	if sched != nil {
		<-sched.Stop().Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
	return serveErr
}
