package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
noaa:
  charts: [US4RI1CB.zip]
  target_dir: data-raw/ENC
  download_timeout: 90s
features:
  - name: Wind_Turbines
    layer_name: LNDMRK
    geometry_type: " Point "
    filter_col: CATLMK
    filter_val: "19"
    agol_item_id: ${TEST_TURBINE_ITEM}
    mapping_csv: csv/dict.csv
arcgis:
  url: https://example.maps.arcgis.com/
`

func TestParseAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TEST_TURBINE_ITEM", "abc123")
	t.Setenv("CLIENT_ID", "id")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("ARCGIS_URL", "")

	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	f := cfg.Features[0]
	if f.ItemID != "abc123" {
		t.Errorf("item id not expanded: %q", f.ItemID)
	}
	if f.GeometryType != "point" || f.OutputName != "Wind_Turbines" || !f.HasFilter() {
		t.Errorf("feature defaults not applied: %+v", f)
	}
	if cfg.NOAA.BaseURL != DefaultChartBaseURL || cfg.NOAA.DownloadTimeout != 90*time.Second {
		t.Errorf("noaa defaults: %+v", cfg.NOAA)
	}
	if cfg.ArcGIS.URL != "https://example.maps.arcgis.com" {
		t.Errorf("portal url not trimmed: %q", cfg.ArcGIS.URL)
	}
	if cfg.ArcGIS.DefaultWKID != DefaultWKID || cfg.ArcGIS.BatchSize != DefaultBatchSize {
		t.Errorf("arcgis defaults: %+v", cfg.ArcGIS)
	}
	if len(cfg.ArcGIS.FieldLayerIndices) != 1 || cfg.ArcGIS.FieldLayerIndices[0] != 0 {
		t.Errorf("field layer indices: %v", cfg.ArcGIS.FieldLayerIndices)
	}
	if cfg.ArcGIS.ClientID != "id" || cfg.ArcGIS.ClientSecret != "secret" {
		t.Error("credentials not read from the environment")
	}
	if cfg.Database.Enabled() {
		t.Error("database should be disabled without a host")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseRejectsBadTimeout(t *testing.T) {
	if _, err := Parse([]byte("noaa:\n  download_timeout: soon\n")); err == nil {
		t.Fatal("expected a duration error")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Setenv("ARCGIS_URL", "")
	t.Setenv("CLIENT_ID", "")
	t.Setenv("CLIENT_SECRET", "")
	cfg, err := Parse([]byte(`
features:
  - name: A
    layer_name: LNDMRK
    geometry_type: surface
  - name: A
    layer_name: CBLSUB
`))
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	for _, want := range []error{ErrNoCharts, ErrMissingPortal, ErrMissingCredentials} {
		if !errors.Is(err, want) {
			t.Errorf("expected %v in %v", want, err)
		}
	}
	if errors.Is(err, ErrNoFeatures) {
		t.Error("features are configured")
	}
}

func TestLoadResolvesPathsAgainstConfigDir(t *testing.T) {
	t.Setenv("TEST_TURBINE_ITEM", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadConfig(path); err != nil {
		t.Fatal(err)
	}
	if AppConfig.NOAA.TargetDir != filepath.Join(dir, "data-raw/ENC") {
		t.Errorf("target dir = %s", AppConfig.NOAA.TargetDir)
	}
	if AppConfig.Features[0].MappingCSV != filepath.Join(dir, "csv/dict.csv") {
		t.Errorf("mapping csv = %s", AppConfig.Features[0].MappingCSV)
	}
	if got, ok := AppConfig.Feature("Wind_Turbines"); !ok || got.LayerName != "LNDMRK" {
		t.Errorf("Feature lookup = %+v, %v", got, ok)
	}
	if AppConfig.Resolve("/abs/x.csv") != "/abs/x.csv" {
		t.Error("absolute paths must be kept")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	if loaded, err := LoadEnv(filepath.Join(dir, "missing.env")); err != nil || loaded {
		t.Fatalf("missing file: loaded=%v err=%v", loaded, err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TEST_ENCWIND_A=from-file\nTEST_ENCWIND_B=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_ENCWIND_A", "preset")
	t.Cleanup(func() { os.Unsetenv("TEST_ENCWIND_B") })

	loaded, err := LoadEnv(path)
	if err != nil || !loaded {
		t.Fatalf("loaded=%v err=%v", loaded, err)
	}
	if os.Getenv("TEST_ENCWIND_A") != "preset" {
		t.Error("existing variable was overridden")
	}
	if os.Getenv("TEST_ENCWIND_B") != "from-file" {
		t.Error("variable not loaded from file")
	}
}
