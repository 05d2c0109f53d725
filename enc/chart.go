// enc/chart.go
package enc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gewnthar/encwind/models"
)

// Dataset is an opened chart dataset. Implementations wrap a vector-format
// driver; see package gdalreader.
type Dataset interface {
	// Layers lists the feature layers (object classes) in the dataset.
	Layers() []string
	// ReadLayer reads every record of a layer. List-valued attributes are
	// returned as comma-joined strings.
	ReadLayer(name string) (*models.Collection, error)
	Close()
}

// Opener opens the dataset file at path.
type Opener interface {
	Open(path string) (Dataset, error)
}

type OpenerFunc func(path string) (Dataset, error)

func (f OpenerFunc) Open(path string) (Dataset, error) { return f(path) }

// Extractor opens chart archives one at a time.
type Extractor struct {
	Opener Opener
	Logger *slog.Logger
	// TempDir is the parent of the per-archive working directories;
	// empty means os.TempDir().
	TempDir string
}

// Chart is an archive unpacked into its working directory with its dataset open.
type Chart struct {
	Name    string // archive file name, used as provenance
	Path    string // dataset path inside the working directory
	dataset Dataset
	layers  map[string]bool
	workDir string
	logger  *slog.Logger
}

// Open unpacks an archive and opens its embedded dataset. The caller must
// Close the chart to release the working directory.
func (e *Extractor) Open(archivePath string) (*Chart, error) {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	name := filepath.Base(archivePath)

	workDir, err := os.MkdirTemp(e.TempDir, "enc-"+strings.TrimSuffix(name, filepath.Ext(name))+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory for %s: %w", name, err)
	}
	fail := func(err error) (*Chart, error) {
		os.RemoveAll(workDir)
		return nil, err
	}

	if err := ExtractArchive(archivePath, workDir); err != nil {
		return fail(fmt.Errorf("failed to unzip %s: %w", name, err))
	}
	dsPath, err := FindDataset(workDir)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", name, err))
	}
	ds, err := e.Opener.Open(dsPath)
	if err != nil {
		return fail(fmt.Errorf("could not open dataset %s in %s: %w", filepath.Base(dsPath), name, err))
	}

	layers := make(map[string]bool)
	for _, l := range ds.Layers() {
		layers[l] = true
	}
	return &Chart{
		Name:    name,
		Path:    dsPath,
		dataset: ds,
		layers:  layers,
		workDir: workDir,
		logger:  log.With("archive", name),
	}, nil
}

// HasLayer reports whether the dataset contains the layer.
func (c *Chart) HasLayer(layer string) bool { return c.layers[layer] }

// ReadLayer reads one layer and tags every record with the archive name.
// A read error is logged and yields an empty collection.
func (c *Chart) ReadLayer(layer string) *models.Collection {
	coll, err := c.dataset.ReadLayer(layer)
	if err != nil {
		c.logger.Error("Failed to read layer", "layer", layer, "error", err)
		return &models.Collection{Name: layer}
	}
	for i := range coll.Features {
		coll.Features[i].Source = c.Name
		if coll.Features[i].Attributes == nil {
			coll.Features[i].Attributes = make(map[string]any)
		}
		coll.Features[i].Attributes[models.SourceFileField] = c.Name
	}
	coll.AddField(models.Field{Name: models.SourceFileField, Kind: models.KindText})
	return coll
}

// Close releases the dataset and removes the working directory.
func (c *Chart) Close() error {
	if c.dataset != nil {
		c.dataset.Close()
		c.dataset = nil
	}
	if err := os.RemoveAll(c.workDir); err != nil {
		return fmt.Errorf("failed to remove working directory %s: %w", c.workDir, err)
	}
	return nil
}

// JoinList renders a list-valued attribute as a comma-joined string.
func JoinList[T any](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = models.ValueText(v)
	}
	return strings.Join(parts, ", ")
}
