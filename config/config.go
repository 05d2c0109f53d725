// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChartBaseURL = "https://charts.noaa.gov/ENCs/"
	DefaultTargetDir    = "data-raw/ENC"
	DefaultWKID         = 4326
	DefaultBatchSize    = 1000
	DefaultServerPort   = "8080"
)

var (
	ErrMissingPortal      = errors.New("arcgis portal URL is not configured (ARCGIS_URL)")
	ErrMissingCredentials = errors.New("arcgis client credentials are not configured (CLIENT_ID, CLIENT_SECRET)")
	ErrNoCharts           = errors.New("no charts configured for download")
	ErrNoFeatures         = errors.New("no feature classes configured for extraction")
)

type NOAAConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Charts    []string `yaml:"charts"`
	TargetDir string   `yaml:"target_dir"`
	// Optional catalog page scraped for chart edition info.
	CatalogPage        string        `yaml:"catalog_page"`
	CatalogRowSelector string        `yaml:"catalog_row_selector"`
	DownloadTimeoutStr string        `yaml:"download_timeout"`
	DownloadTimeout    time.Duration `yaml:"-"` // Parsed duration, 0 means no timeout
}

// FeatureConfig describes one feature class to extract and publish.
type FeatureConfig struct {
	Name         string `yaml:"name"`
	LayerName    string `yaml:"layer_name"`    // ENC object class, e.g. "LNDMRK"
	GeometryType string `yaml:"geometry_type"` // "point", "line", "polygon" or empty for any
	FilterCol    string `yaml:"filter_col"`
	FilterVal    string `yaml:"filter_val"`
	DedupeKey    string `yaml:"dedupe_key"`
	OutputName   string `yaml:"output_name"`
	ItemID       string `yaml:"agol_item_id"`
	LayerIndex   int    `yaml:"agol_layer_index"`
	MappingCSV   string `yaml:"mapping_csv"`
	FieldCSV     string `yaml:"field_csv"`
}

// HasFilter reports whether both halves of the filter are configured.
func (f FeatureConfig) HasFilter() bool {
	return f.FilterCol != "" && f.FilterVal != ""
}

type ArcGISConfig struct {
	URL               string `yaml:"url"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	Username          string `yaml:"username"`
	DefaultWKID       int    `yaml:"default_wkid"`
	BatchSize         int    `yaml:"batch_size"`
	FieldLayerIndices []int  `yaml:"field_layer_indices"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// Enabled reports whether the audit store is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`   // optional rotating log file
}

type ServerConfig struct {
	Port     string `yaml:"port"`
	Schedule string `yaml:"schedule"` // cron expression for serve mode
}

type Config struct {
	NOAA     NOAAConfig      `yaml:"noaa"`
	Features []FeatureConfig `yaml:"features"`
	ArcGIS   ArcGISConfig    `yaml:"arcgis"`
	Database DatabaseConfig  `yaml:"database"`
	Logging  LoggingConfig   `yaml:"logging"`
	Server   ServerConfig    `yaml:"server"`

	// Directory of the loaded file; relative paths are resolved against it.
	BaseDir string `yaml:"-"`
}

var AppConfig Config

// DefaultEnvPath is where the operator keeps portal credentials and item ids.
func DefaultEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".env"
	}
	return filepath.Join(home, ".config", "secrets", ".env")
}

// LoadEnv loads secrets from an env file into the process environment.
// Variables already set are not overridden. A missing file is not an error.
func LoadEnv(envPath string) (bool, error) {
	if envPath == "" {
		envPath = DefaultEnvPath()
	}
	if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return false, fmt.Errorf("failed to load env file %s: %w", envPath, err)
	}
	return true, nil
}

// FindConfig returns configPath when set, otherwise the first config.yaml
// found in the standard locations.
func FindConfig(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	potentialPaths := []string{
		"config.yaml",
		"config/config.yaml",
		"../config/config.yaml",
	}
	for _, p := range potentialPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("config.yaml not found in standard locations")
}

// LoadConfig reads configuration from file and environment variables into AppConfig.
func LoadConfig(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	AppConfig = *cfg
	return nil
}

// Load reads and parses a config file. ${VAR} references in the file are
// expanded from the environment, so call LoadEnv first.
func Load(configPath string) (*Config, error) {
	path, err := FindConfig(configPath)
	if err != nil {
		return nil, err
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(file)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("error getting absolute path: %w", err)
	}
	cfg.BaseDir = abs
	cfg.resolvePaths()
	return cfg, nil
}

// Parse decodes YAML config content and applies environment overrides and defaults.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(content))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"ARCGIS_URL", &c.ArcGIS.URL},
		{"CLIENT_ID", &c.ArcGIS.ClientID},
		{"CLIENT_SECRET", &c.ArcGIS.ClientSecret},
		{"ARCGIS_USERNAME", &c.ArcGIS.Username},
		{"DB_PASSWORD", &c.Database.Password},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) applyDefaults() error {
	if c.NOAA.BaseURL == "" {
		c.NOAA.BaseURL = DefaultChartBaseURL
	}
	if !strings.HasSuffix(c.NOAA.BaseURL, "/") {
		c.NOAA.BaseURL += "/"
	}
	if c.NOAA.TargetDir == "" {
		c.NOAA.TargetDir = DefaultTargetDir
	}
	if c.NOAA.CatalogRowSelector == "" {
		c.NOAA.CatalogRowSelector = "table tr"
	}
	if c.NOAA.DownloadTimeoutStr != "" {
		d, err := time.ParseDuration(c.NOAA.DownloadTimeoutStr)
		if err != nil {
			return fmt.Errorf("failed to parse download_timeout: %w", err)
		}
		c.NOAA.DownloadTimeout = d
	}
	if c.ArcGIS.DefaultWKID == 0 {
		c.ArcGIS.DefaultWKID = DefaultWKID
	}
	if c.ArcGIS.BatchSize <= 0 {
		c.ArcGIS.BatchSize = DefaultBatchSize
	}
	if len(c.ArcGIS.FieldLayerIndices) == 0 {
		c.ArcGIS.FieldLayerIndices = []int{0}
	}
	c.ArcGIS.URL = strings.TrimRight(c.ArcGIS.URL, "/")
	if c.Database.Port == "" {
		c.Database.Port = "3306"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = DefaultServerPort
	}
	for i := range c.Features {
		f := &c.Features[i]
		f.GeometryType = strings.ToLower(strings.TrimSpace(f.GeometryType))
		if f.OutputName == "" {
			f.OutputName = f.Name
		}
	}
	return nil
}

func (c *Config) resolvePaths() {
	c.NOAA.TargetDir = c.Resolve(c.NOAA.TargetDir)
	c.Logging.File = c.Resolve(c.Logging.File)
	for i := range c.Features {
		c.Features[i].MappingCSV = c.Resolve(c.Features[i].MappingCSV)
		c.Features[i].FieldCSV = c.Resolve(c.Features[i].FieldCSV)
	}
}

// Resolve makes a relative path relative to the config file's directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// Validate checks the settings a full workflow run needs.
func (c *Config) Validate() error {
	var errs []error
	if len(c.NOAA.Charts) == 0 {
		errs = append(errs, ErrNoCharts)
	}
	if len(c.Features) == 0 {
		errs = append(errs, ErrNoFeatures)
	}
	if c.ArcGIS.URL == "" {
		errs = append(errs, ErrMissingPortal)
	}
	if c.ArcGIS.ClientID == "" || c.ArcGIS.ClientSecret == "" {
		errs = append(errs, ErrMissingCredentials)
	}
	seen := make(map[string]bool)
	for i, f := range c.Features {
		if f.Name == "" || f.LayerName == "" {
			errs = append(errs, fmt.Errorf("feature %d: name and layer_name are required", i))
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("feature %q is configured twice", f.Name))
		}
		seen[f.Name] = true
		switch f.GeometryType {
		case "", "point", "line", "polygon":
		default:
			errs = append(errs, fmt.Errorf("feature %q: unknown geometry_type %q", f.Name, f.GeometryType))
		}
	}
	return errors.Join(errs...)
}

// Feature returns the configuration of a feature class by name.
func (c *Config) Feature(name string) (FeatureConfig, bool) {
	for _, f := range c.Features {
		if f.Name == name {
			return f, true
		}
	}
	return FeatureConfig{}, false
}
