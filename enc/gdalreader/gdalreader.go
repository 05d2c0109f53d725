// enc/gdalreader/gdalreader.go
// Package gdalreader opens S-57 base cells through GDAL/OGR.
package gdalreader

import (
	"fmt"
	"os"
	"sync"

	"github.com/lukeroth/gdal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/gewnthar/encwind/enc"
	"github.com/gewnthar/encwind/models"
)

// S57Options is passed to the S-57 driver. Updates are applied, multipoint
// soundings split, and feature-to-primitive linkages suppressed.
const S57Options = "RETURN_PRIMITIVES=OFF,RETURN_LINKAGES=OFF,LNAM_REFS=ON,UPDATES=APPLY,SPLIT_MULTIPOINT=ON,ADD_SOUNDG_DEPTH=ON"

var setup sync.Once

// Opener opens S-57 datasets with the OGR S57 driver.
type Opener struct{}

// New configures the driver environment and returns an Opener.
func New(debug bool) *Opener {
	setup.Do(func() {
		os.Setenv("OGR_S57_OPTIONS", S57Options)
		os.Setenv("OGR_GEOMETRY_ACCEPT_UNCLOSED_RING", "NO")
		if !debug {
			os.Setenv("CPL_LOG", os.DevNull)
		}
	})
	return &Opener{}
}

func (o *Opener) Open(path string) (enc.Dataset, error) {
	ds := gdal.OpenDataSource(path, 0)
	if ds == (gdal.DataSource{}) {
		return nil, fmt.Errorf("OGR could not open %s", path)
	}
	return &dataset{ds: ds}, nil
}

type dataset struct {
	ds gdal.DataSource
}

func (d *dataset) Layers() []string {
	n := d.ds.LayerCount()
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, d.ds.LayerByIndex(i).Name())
	}
	return names
}

func (d *dataset) ReadLayer(name string) (*models.Collection, error) {
	layer := d.ds.LayerByName(name)
	if layer == (gdal.Layer{}) {
		return nil, fmt.Errorf("layer %s not found", name)
	}

	def := layer.Definition()
	type column struct {
		name string
		typ  gdal.FieldType
	}
	cols := make([]column, def.FieldCount())
	coll := &models.Collection{Name: name}
	for i := range cols {
		fd := def.FieldDefinition(i)
		cols[i] = column{name: fd.Name(), typ: fd.Type()}
		coll.AddField(models.Field{Name: cols[i].name, Kind: kindOf(cols[i].typ)})
	}

	layer.ResetReading()
	for {
		f := layer.NextFeature()
		if f == nil {
			break
		}
		attrs := make(map[string]any, len(cols))
		for i, c := range cols {
			attrs[c.name] = fieldValue(f, i, c.typ)
		}
		g, err := geometry(f.Geometry())
		f.Destroy()
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
		coll.Features = append(coll.Features, models.Feature{Geometry: g, Attributes: attrs})
	}
	return coll, nil
}

func (d *dataset) Close() { d.ds.Destroy() }

func kindOf(t gdal.FieldType) models.FieldKind {
	switch t {
	case gdal.FT_Integer, gdal.FT_Integer64:
		return models.KindInteger
	case gdal.FT_Real:
		return models.KindReal
	default:
		return models.KindText
	}
}

func fieldValue(f *gdal.Feature, i int, t gdal.FieldType) any {
	if !f.IsFieldSet(i) {
		return nil
	}
	switch t {
	case gdal.FT_Integer:
		return int64(f.FieldAsInteger(i))
	case gdal.FT_Integer64:
		return f.FieldAsInteger64(i)
	case gdal.FT_Real:
		return f.FieldAsFloat64(i)
	case gdal.FT_IntegerList:
		return enc.JoinList(f.FieldAsIntegerList(i))
	case gdal.FT_RealList:
		return enc.JoinList(f.FieldAsFloat64List(i))
	case gdal.FT_StringList:
		return enc.JoinList(f.FieldAsStringList(i))
	default:
		return f.FieldAsString(i)
	}
}

// geometry converts an OGR geometry to orb via 2D WKB. Null geometries are
// returned as nil.
func geometry(g gdal.Geometry) (orb.Geometry, error) {
	if g == (gdal.Geometry{}) || g.IsEmpty() {
		return nil, nil
	}
	g.FlattenTo2D()
	raw, err := g.ToWKB()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	out, err := wkb.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return out, nil
}
