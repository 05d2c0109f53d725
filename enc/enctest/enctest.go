// Package enctest provides in-memory chart datasets and archive builders for
// tests that must not depend on GDAL.
package enctest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/gewnthar/encwind/enc"
	"github.com/gewnthar/encwind/models"
)

// Dataset is a fixed set of layers served from memory.
type Dataset struct {
	LayerData map[string]*models.Collection
	Errors    map[string]error
	Closed    bool
}

func (d *Dataset) Layers() []string {
	var out []string
	for name := range d.LayerData {
		out = append(out, name)
	}
	for name := range d.Errors {
		if _, ok := d.LayerData[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

func (d *Dataset) ReadLayer(name string) (*models.Collection, error) {
	if err := d.Errors[name]; err != nil {
		return nil, err
	}
	src, ok := d.LayerData[name]
	if !ok {
		return nil, fmt.Errorf("layer %s not found", name)
	}
	out := &models.Collection{Name: name, Schema: append([]models.Field(nil), src.Schema...)}
	for _, f := range src.Features {
		attrs := make(map[string]any, len(f.Attributes))
		for k, v := range f.Attributes {
			attrs[k] = v
		}
		f.Attributes = attrs
		out.Features = append(out.Features, f)
	}
	return out, nil
}

func (d *Dataset) Close() { d.Closed = true }

// Opener serves datasets keyed by the archive's cell name ("US4RI1CB"),
// matched against the opened dataset file name.
type Opener struct {
	Datasets map[string]*Dataset
	Opened   []string
}

func (o *Opener) Open(path string) (enc.Dataset, error) {
	cell := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	o.Opened = append(o.Opened, cell)
	ds, ok := o.Datasets[cell]
	if !ok {
		return nil, fmt.Errorf("no fake dataset for %s", cell)
	}
	return ds, nil
}

// WriteArchive writes a zip at dir/name holding the given files.
func WriteArchive(dir, name string, files map[string][]byte) (string, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for entry, data := range files {
		w, err := zw.Create(entry)
		if err != nil {
			return "", err
		}
		if _, err := w.Write(data); err != nil {
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// WriteChartArchive writes a NOAA-style archive: ENC_ROOT/<cell>/<cell>.000
// plus a catalog file.
func WriteChartArchive(dir, cell string) (string, error) {
	return WriteArchive(dir, cell+".zip", map[string][]byte{
		"ENC_ROOT/CATALOG.031":                  []byte("catalog"),
		"ENC_ROOT/" + cell + "/" + cell + ".000": []byte("base cell"),
	})
}
