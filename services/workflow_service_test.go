package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gewnthar/encwind/arcgis"
	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/enc"
	"github.com/gewnthar/encwind/enc/enctest"
	"github.com/gewnthar/encwind/logging"
	"github.com/gewnthar/encwind/metrics"
	"github.com/gewnthar/encwind/models"
	"github.com/gewnthar/encwind/scraper"
)

func point(attrs map[string]any) models.Feature {
	return models.Feature{Geometry: orb.Point{-71.2, 41.1}, Attributes: attrs}
}

func layer(name string, schema []models.Field, feats ...models.Feature) *models.Collection {
	return &models.Collection{Name: name, Schema: schema, Features: feats}
}

var (
	landmarkSchema = []models.Field{{Name: "CATLMK", Kind: models.KindText}, {Name: "FIDN", Kind: models.KindInteger}, {Name: "OBJNAM", Kind: models.KindText}}
	cableSchema    = []models.Field{{Name: "CATCBL", Kind: models.KindText}}
	buoySchema     = []models.Field{{Name: "OBJNAM", Kind: models.KindText}}
)

func chartDatasets() map[string]*enctest.Dataset {
	return map[string]*enctest.Dataset{
		"US4RI1CB": {LayerData: map[string]*models.Collection{
			"LNDMRK": layer("LNDMRK", landmarkSchema,
				point(map[string]any{"CATLMK": "19", "FIDN": int64(1), "OBJNAM": "RI turbine 1"}),
				point(map[string]any{"CATLMK": "17", "FIDN": int64(2), "OBJNAM": "tower"}),
				point(map[string]any{"CATLMK": "19", "FIDN": int64(3), "OBJNAM": "RI turbine 3"}),
				point(map[string]any{"CATLMK": "3", "FIDN": int64(4), "OBJNAM": "chimney"}),
				point(map[string]any{"CATLMK": "19", "FIDN": int64(5), "OBJNAM": "RI turbine 5"}),
			),
			"CBLSUB": layer("CBLSUB", cableSchema, models.Feature{
				Geometry:   orb.LineString{{-71.3, 41.0}, {-71.2, 41.1}},
				Attributes: map[string]any{"CATCBL": "1"},
			}),
			"BOYSPP": layer("BOYSPP", buoySchema, point(map[string]any{"OBJNAM": "RI buoy"})),
		}},
		"US4MA1CC": {LayerData: map[string]*models.Collection{
			"LNDMRK": layer("LNDMRK", landmarkSchema,
				point(map[string]any{"CATLMK": "19", "FIDN": int64(3), "OBJNAM": "MA turbine 3"}),
			),
			"CBLSUB": layer("CBLSUB", cableSchema, models.Feature{
				Geometry:   orb.LineString{{-70.3, 41.0}, {-70.2, 41.1}},
				Attributes: map[string]any{"CATCBL": "4"},
			}),
		}},
	}
}

type harness struct {
	workflow *Workflow
	service  *fakeService
	recorder *memRecorder
	metrics  *metrics.Collector
	layers   map[string]string // feature class -> layer URL
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	src := t.TempDir()
	for _, cell := range []string{"US4RI1CB", "US4MA1CC"} {
		if _, err := enctest.WriteChartArchive(src, cell); err != nil {
			t.Fatal(err)
		}
	}
	noaa := httptest.NewServer(http.StripPrefix("/ENCs/", http.FileServer(http.Dir(src))))
	t.Cleanup(noaa.Close)

	mapping := filepath.Join(t.TempDir(), "dictionary.csv")
	if err := os.WriteFile(mapping, []byte("column_name,code,value\nCATLMK,19.0,windmotor\nCATCBL,1,power line\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		NOAA: config.NOAAConfig{
			BaseURL:   noaa.URL + "/ENCs/",
			Charts:    []string{"US4RI1CB.zip", "us4ma1cc"},
			TargetDir: filepath.Join(t.TempDir(), "ENC"),
		},
		Features: []config.FeatureConfig{
			{Name: "Wind_Turbines", LayerName: "LNDMRK", GeometryType: "point", FilterCol: "CATLMK", FilterVal: "19", DedupeKey: "FIDN", OutputName: "NOAA_ENC_WTG", ItemID: "wtg", MappingCSV: mapping},
			{Name: "Submarine_Cables", LayerName: "CBLSUB", FilterCol: "CATCBL", FilterVal: "1", OutputName: "NOAA_ENC_PowerCables", ItemID: "cables", MappingCSV: mapping},
			{Name: "Offshore_Substations", LayerName: "OFSPLF", OutputName: "NOAA_ENC_OSS", ItemID: "oss"},
			{Name: "Buoys", LayerName: "BOYSPP", OutputName: "NOAA_ENC_Buoys", ItemID: "buoys"},
		},
	}

	svc := newFakeService()
	layers := map[string]string{
		"Wind_Turbines":    svc.addLayer("wtg", "NOAA_ENC_WTG", 102100, "CATLMK", "FIDN", "OBJNAM", "SOURCE_FILE"),
		"Submarine_Cables": svc.addLayer("cables", "NOAA_ENC_PowerCables", 4326, "CATCBL", "source_file"),
		"Buoys":            svc.addLayer("buoys", "NOAA_ENC_Buoys", 4326, "OBJNAM", "source_file"),
	}
	svc.truncateErr[layers["Submarine_Cables"]] = &arcgis.APIError{Code: 500, Message: "truncate not allowed"}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	rec := &memRecorder{}
	log := logging.Discard()
	fetcher := &scraper.Fetcher{
		Client:    noaa.Client(),
		BaseURL:   cfg.NOAA.BaseURL,
		TargetDir: cfg.NOAA.TargetDir,
		Logger:    log,
		Metrics:   m,
		Recorder:  rec,
	}
	w := &Workflow{
		Config:  cfg,
		Fetcher: fetcher,
		Extraction: &ExtractionService{
			Extractor: &enc.Extractor{Opener: &enctest.Opener{Datasets: chartDatasets()}, Logger: log, TempDir: t.TempDir()},
			Features:  cfg.Features,
			Logger:    log,
			Metrics:   m,
		},
		Publisher: &Publisher{Client: svc, BatchSize: 2, Logger: log, TempDir: t.TempDir()},
		Fields:    &FieldUpdater{Client: svc, Logger: log},
		Recorder:  rec,
		Metrics:   m,
		Logger:    log,
	}
	return &harness{workflow: w, service: svc, recorder: rec, metrics: m, layers: layers}
}

func resultFor(t *testing.T, report *RunReport, name string) models.PublishResult {
	t.Helper()
	for _, r := range report.Results {
		if r.FeatureClass == name {
			return r
		}
	}
	t.Fatalf("no result for %s", name)
	return models.PublishResult{}
}

func TestWorkflowRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	report, err := h.workflow.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RunID == "" || len(report.Downloads.Succeeded) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// US4MA1CC sorts first, so its FIDN 3 wins over the US4RI1CB copy.
	if len(report.Drops) != 1 {
		t.Fatalf("expected 1 dropped duplicate, got %+v", report.Drops)
	}
	drop := report.Drops[0]
	if drop.Value != "3" || drop.Source != "US4RI1CB.zip" || drop.KeptSource != "US4MA1CC.zip" {
		t.Errorf("unexpected drop %+v", drop)
	}

	turbines := resultFor(t, report, "Wind_Turbines")
	if turbines.Err != nil || turbines.Added != 3 || turbines.Extracted != 4 || turbines.Duplicates != 1 {
		t.Errorf("unexpected turbine result %+v", turbines)
	}
	added := h.service.added[h.layers["Wind_Turbines"]]
	if len(added) != 3 {
		t.Fatalf("expected 3 turbines uploaded, got %d", len(added))
	}
	for _, f := range added {
		if f.Attributes["CATLMK"] != "windmotor" {
			t.Errorf("code not mapped: %v", f.Attributes)
		}
		if _, ok := f.Attributes["SOURCE_FILE"]; !ok {
			t.Errorf("source_file not matched case-insensitively: %v", f.Attributes)
		}
		geom := f.Geometry.(map[string]any)
		if x := geom["x"].(float64); x > -7000000 || x < -8500000 {
			t.Errorf("geometry not in Web Mercator: %v", geom)
		}
	}

	cables := resultFor(t, report, "Submarine_Cables")
	if cables.Err == nil {
		t.Error("expected truncate failure for cables")
	}
	if len(h.service.added[h.layers["Submarine_Cables"]]) != 0 {
		t.Error("features uploaded after failed truncate")
	}

	buoys := resultFor(t, report, "Buoys")
	if buoys.Err != nil || buoys.Added != 1 {
		t.Errorf("buoys must still publish after the cable failure: %+v", buoys)
	}

	if oss := resultFor(t, report, "Offshore_Substations"); oss.Extracted != 0 || oss.Err != nil {
		t.Errorf("unexpected substation result %+v", oss)
	}

	statuses := map[string]string{}
	for _, r := range h.recorder.runs {
		statuses[r.FeatureClass] = r.Status
		if r.RunID != report.RunID {
			t.Errorf("run row has run id %q, want %q", r.RunID, report.RunID)
		}
	}
	want := map[string]string{
		"Wind_Turbines":        models.StatusSuccess,
		"Submarine_Cables":     models.StatusFailed,
		"Offshore_Substations": models.StatusSkipped,
		"Buoys":                models.StatusSuccess,
	}
	for k, v := range want {
		if statuses[k] != v {
			t.Errorf("status for %s = %q, want %q", k, statuses[k], v)
		}
	}
	if len(h.recorder.downloads) != 2 {
		t.Errorf("expected 2 download rows, got %d", len(h.recorder.downloads))
	}
	if got := testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues(metrics.OutcomeCompleted)); got != 1 {
		t.Errorf("completed runs = %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.DuplicatesDropped.WithLabelValues("Wind_Turbines")); got != 1 {
		t.Errorf("duplicates metric = %v", got)
	}
}

func TestWorkflowRejectsOverlappingRun(t *testing.T) {
	h := newHarness(t)
	h.workflow.running.Lock()
	_, err := h.workflow.Run(context.Background())
	h.workflow.running.Unlock()
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if _, err := h.workflow.UpdateFields(context.Background()); err != nil {
		t.Fatalf("guard not released: %v", err)
	}
}

func TestWorkflowRecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.service.panicOnGet = true
	_, err := h.workflow.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected a recovered panic, got %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues(metrics.OutcomePanicked)); got != 1 {
		t.Errorf("panicked runs = %v", got)
	}
	if !h.workflow.running.TryLock() {
		t.Fatal("run guard still held after panic")
	}
	h.workflow.running.Unlock()
}

func TestWorkflowDownloadOnly(t *testing.T) {
	h := newHarness(t)
	report, err := h.workflow.Download(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Succeeded) != 2 {
		t.Fatalf("unexpected download report %+v", report)
	}
	if h.service.addCalls != 0 {
		t.Error("download-only run published features")
	}
}

func TestExtractionKeepsTurbinesFromOneArchive(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	archive, err := enctest.WriteChartArchive(dir, "US4RI1CB")
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.workflow.Extraction.ExtractAll(context.Background(), []string{archive, filepath.Join(dir, "missing.zip")})
	if err != nil {
		t.Fatal(err)
	}
	turbines := got["Wind_Turbines"]
	if turbines == nil || turbines.Len() != 3 {
		t.Fatalf("expected 3 turbines, got %v", turbines)
	}
	if turbines.GeometryType() != "Point" {
		t.Errorf("geometry type = %q", turbines.GeometryType())
	}
	for _, f := range turbines.Features {
		if f.Source != "US4RI1CB.zip" || f.Text("CATLMK") != "19" {
			t.Errorf("unexpected record %+v", f)
		}
	}
	if _, ok := got["Offshore_Substations"]; ok {
		t.Error("absent layer produced a collection")
	}
}

func TestWorkflowStartHoldsGuardUntilDone(t *testing.T) {
	h := newHarness(t)
	proceed := make(chan struct{})
	finished := make(chan *RunReport, 1)
	runID, err := h.workflow.Start(context.Background(), func(r *RunReport, err error) {
		<-proceed
		if err != nil {
			t.Errorf("background run: %v", err)
		}
		finished <- r
	})
	if err != nil || runID == "" {
		t.Fatalf("Start: %q, %v", runID, err)
	}
	if _, err := h.workflow.Start(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	close(proceed)
	report := <-finished
	if report.RunID != runID {
		t.Errorf("report run id %q, want %q", report.RunID, runID)
	}
}

func TestWorkflowReusesParsedDictionary(t *testing.T) {
	h := newHarness(t)
	path := h.workflow.Config.Features[0].MappingCSV
	first, err := h.workflow.dictionary(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	second, err := h.workflow.dictionary(path)
	if err != nil {
		t.Fatalf("cached dictionary not reused: %v", err)
	}
	if first != second {
		t.Error("expected the same dictionary instance")
	}
	if v, ok := second.Lookup("CATLMK", "19"); !ok || v != "windmotor" {
		t.Errorf("Lookup = %q, %v", v, ok)
	}
	if _, err := h.workflow.dictionary(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected an error for a missing dictionary")
	}
}
