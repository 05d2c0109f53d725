// services/workflow_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gewnthar/encwind/arcgis"
	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/enc"
	"github.com/gewnthar/encwind/metrics"
	"github.com/gewnthar/encwind/models"
	"github.com/gewnthar/encwind/scraper"
	"github.com/gewnthar/encwind/transform"
)

// ErrRunInProgress is returned when a trigger arrives while a run is active.
var ErrRunInProgress = errors.New("a workflow run is already in progress")

// Workflow drives download, extraction, publishing and field updates.
// At most one run or field update executes at a time.
type Workflow struct {
	Config     *config.Config
	Fetcher    *scraper.Fetcher
	Editions   *scraper.EditionChecker // nil when no catalog page is configured
	Extraction *ExtractionService
	Publisher  *Publisher
	Fields     *FieldUpdater
	Recorder   RunRecorder // nil disables the audit trail
	Metrics    *metrics.Collector
	Logger     *slog.Logger

	running  sync.Mutex
	dictOnce sync.Once
	dicts    *expirable.LRU[string, *transform.CodeDictionary]
}

// dictionaryTTL bounds how long a parsed code dictionary is reused.
const dictionaryTTL = time.Hour

// RunReport summarizes one run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Downloads  models.DownloadReport
	Results    []models.PublishResult
	Drops      []models.DuplicateDrop
	Fields     []FieldUpdateResult
}

func (w *Workflow) acquire() (func(), error) {
	if !w.running.TryLock() {
		return nil, ErrRunInProgress
	}
	return w.running.Unlock, nil
}

// Run executes the full workflow. Per-archive and per-class failures are
// logged and do not fail the run; a panic is recovered and returned as an error.
func (w *Workflow) Run(ctx context.Context) (*RunReport, error) {
	release, err := w.acquire()
	if err != nil {
		w.Logger.Warn("Rejected overlapping run trigger")
		return nil, err
	}
	defer release()
	return w.run(ctx, uuid.NewString())
}

// Start launches a run in the background and returns its id. done, if not
// nil, receives the outcome.
func (w *Workflow) Start(ctx context.Context, done func(*RunReport, error)) (string, error) {
	release, err := w.acquire()
	if err != nil {
		w.Logger.Warn("Rejected overlapping run trigger")
		return "", err
	}
	runID := uuid.NewString()
	go func() {
		defer release()
		report, err := w.run(ctx, runID)
		if done != nil {
			done(report, err)
		}
	}()
	return runID, nil
}

func (w *Workflow) run(ctx context.Context, runID string) (report *RunReport, err error) {
	report = &RunReport{RunID: runID, StartedAt: time.Now().UTC()}
	log := w.Logger.With("run_id", report.RunID)
	defer func() {
		outcome := metrics.OutcomeCompleted
		if r := recover(); r != nil {
			outcome = metrics.OutcomePanicked
			log.Error("Workflow run panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("workflow run %s panicked: %v", report.RunID, r)
		} else if err != nil {
			outcome = metrics.OutcomeFailed
			log.Error("Workflow run failed", "error", err)
		}
		report.FinishedAt = time.Now().UTC()
		w.Metrics.ObserveRun(report.StartedAt, outcome)
	}()

	log.Info("Starting workflow run")
	report.Downloads, err = w.download(ctx, report.RunID)
	if err != nil {
		return report, err
	}

	archives, err := enc.ListArchives(w.Config.NOAA.TargetDir)
	if err != nil {
		return report, err
	}
	log.Info("Starting data extraction", "archives", len(archives))
	extracted, err := w.Extraction.ExtractAll(ctx, archives)
	if err != nil {
		return report, err
	}

	log.Info("Finished extraction, starting hosted layer updates")
	for _, fc := range w.Config.Features {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, drops := w.processClass(ctx, log, report.RunID, fc, extracted[fc.Name])
		report.Results = append(report.Results, res)
		report.Drops = append(report.Drops, drops...)
	}

	if w.Fields != nil {
		report.Fields = w.Fields.UpdateAll(ctx, w.Config.Features)
	}
	log.Info("Workflow complete", "classes", len(report.Results), "duplicates", len(report.Drops),
		"duration", time.Since(report.StartedAt).Round(time.Millisecond))
	return report, nil
}

func (w *Workflow) download(ctx context.Context, runID string) (models.DownloadReport, error) {
	var editions map[string]models.ChartEdition
	if w.Editions != nil {
		var err error
		editions, err = w.Editions.CheckEditions(ctx, w.Config.NOAA.Charts)
		if err != nil {
			w.Logger.Warn("Chart edition check failed, continuing with downloads", "error", err)
		}
	}
	return w.Fetcher.DownloadCharts(ctx, runID, w.Config.NOAA.Charts, editions)
}

// Download fetches the configured charts without processing them.
func (w *Workflow) Download(ctx context.Context) (models.DownloadReport, error) {
	release, err := w.acquire()
	if err != nil {
		return models.DownloadReport{}, err
	}
	defer release()
	return w.download(ctx, uuid.NewString())
}

// UpdateFields runs only the field metadata update.
func (w *Workflow) UpdateFields(ctx context.Context) ([]FieldUpdateResult, error) {
	release, err := w.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	if w.Fields == nil {
		return nil, errors.New("field updater is not configured")
	}
	return w.Fields.UpdateAll(ctx, w.Config.Features), nil
}

func (w *Workflow) processClass(ctx context.Context, log *slog.Logger, runID string, fc config.FeatureConfig, coll *models.Collection) (models.PublishResult, []models.DuplicateDrop) {
	log = log.With("feature_class", fc.Name)
	run := models.PublishRun{RunID: runID, FeatureClass: fc.Name, ItemID: fc.ItemID, StartedAt: time.Now().UTC()}

	if coll == nil || coll.Empty() {
		log.Info("No data was extracted, skipping hosted layer update")
		res := models.PublishResult{FeatureClass: fc.Name}
		run.Status = models.StatusSkipped
		w.record(ctx, log, run)
		return res, nil
	}

	coll, drops := transform.Dedupe(coll, fc.DedupeKey)
	for _, d := range drops {
		log.Warn("Dropped duplicate record", "key", d.Key, "value", d.Value, "source_file", d.Source, "kept_from", d.KeptSource)
	}
	w.Metrics.ObserveDuplicates(fc.Name, len(drops))

	if fc.MappingCSV != "" {
		coll = w.mapCodes(log, fc, coll)
	}

	res := w.Publisher.Publish(ctx, fc, coll)
	res.Extracted = coll.Len() + len(drops)
	res.Duplicates = len(drops)
	w.Metrics.ObservePublished(fc.Name, res.Added, len(res.Failures))

	if res.Layer.ItemID != "" {
		run.ItemID = res.Layer.ItemID
	}
	run.Extracted = res.Extracted
	run.Duplicates = res.Duplicates
	run.Added = res.Added
	run.Failed = len(res.Failures)
	run.Status = publishStatus(res)
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	w.record(ctx, log, run)
	return res, drops
}

func (w *Workflow) mapCodes(log *slog.Logger, fc config.FeatureConfig, coll *models.Collection) *models.Collection {
	dict, err := w.dictionary(fc.MappingCSV)
	if err != nil {
		log.Error("Code dictionary unavailable, publishing unmapped values", "csv", fc.MappingCSV, "error", err)
		return coll
	}
	mapper := &transform.CodeMapper{Dict: dict, Logger: log}
	return mapper.Apply(coll)
}

// dictionary returns the parsed code dictionary at path. Feature classes
// usually share one CSV, so parsed dictionaries are cached by path.
func (w *Workflow) dictionary(path string) (*transform.CodeDictionary, error) {
	w.dictOnce.Do(func() {
		w.dicts = expirable.NewLRU[string, *transform.CodeDictionary](8, nil, dictionaryTTL)
	})
	if d, ok := w.dicts.Get(path); ok {
		return d, nil
	}
	entries, err := scraper.LoadCodeDictionary(path)
	if err != nil {
		return nil, err
	}
	d := transform.NewCodeDictionary(entries)
	w.dicts.Add(path, d)
	return d, nil
}

func (w *Workflow) record(ctx context.Context, log *slog.Logger, run models.PublishRun) {
	if w.Recorder == nil {
		return
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := w.Recorder.RecordPublishRun(ctx, run); err != nil {
		log.Warn("Failed to record publish run", "error", err)
	}
}

func publishStatus(res models.PublishResult) string {
	switch {
	case errors.Is(res.Err, arcgis.ErrItemNotFound):
		return models.StatusSkipped
	case res.Err != nil && res.Added == 0:
		return models.StatusFailed
	case res.Err != nil || len(res.Failures) > 0:
		return models.StatusPartial
	default:
		return models.StatusSuccess
	}
}
