// arcgis/geometry.go
package arcgis

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/gewnthar/encwind/models"
)

// ErrUnsupportedWKID is returned for target coordinate systems that cannot be
// reprojected to.
var ErrUnsupportedWKID = errors.New("unsupported target wkid")

const WGS84 = 4326

// Reprojector transforms WGS84 lon/lat coordinates into the coordinate system
// wkid, rewriting xs and ys in place.
type Reprojector interface {
	Reproject(wkid int, xs, ys []float64) error
}

// Projection returns the projection from WGS84 to wkid for the systems
// handled without a Reprojector. A nil projection means no reprojection is
// needed.
func Projection(wkid int) (orb.Projection, error) {
	switch wkid {
	case WGS84:
		return nil, nil
	case 3857, 102100, 102113, 900913:
		return project.WGS84.ToMercator, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWKID, wkid)
	}
}

type transformFunc func(orb.Geometry) (orb.Geometry, error)

// transformer picks orb's projection for WGS84 and Web Mercator and falls
// back to rp for every other wkid.
func transformer(wkid int, rp Reprojector) (transformFunc, error) {
	proj, err := Projection(wkid)
	if err != nil {
		if rp == nil {
			return nil, err
		}
		return func(g orb.Geometry) (orb.Geometry, error) {
			out, err := Transform(orb.Clone(g), func(xs, ys []float64) error {
				return rp.Reproject(wkid, xs, ys)
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %d: %w", ErrUnsupportedWKID, wkid, err)
			}
			return out, nil
		}, nil
	}
	if proj == nil {
		return func(g orb.Geometry) (orb.Geometry, error) { return g, nil }, nil
	}
	return func(g orb.Geometry) (orb.Geometry, error) {
		return project.Geometry(orb.Clone(g), proj), nil
	}, nil
}

// Transform passes every coordinate of g to fn in one batch and writes the
// results back. Slice-backed geometries are modified in place.
func Transform(g orb.Geometry, fn func(xs, ys []float64) error) (orb.Geometry, error) {
	if p, ok := g.(orb.Point); ok {
		xs, ys := []float64{p[0]}, []float64{p[1]}
		if err := fn(xs, ys); err != nil {
			return nil, err
		}
		return orb.Point{xs[0], ys[0]}, nil
	}

	var refs []*orb.Point
	add := func(pts []orb.Point) {
		for i := range pts {
			refs = append(refs, &pts[i])
		}
	}
	switch g := g.(type) {
	case orb.MultiPoint:
		add(g)
	case orb.LineString:
		add(g)
	case orb.Ring:
		add(g)
	case orb.MultiLineString:
		for _, ls := range g {
			add(ls)
		}
	case orb.Polygon:
		for _, r := range g {
			add(r)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			for _, r := range p {
				add(r)
			}
		}
	default:
		return nil, fmt.Errorf("geometry type %T is not supported", g)
	}
	if len(refs) == 0 {
		return g, nil
	}

	xs := make([]float64, len(refs))
	ys := make([]float64, len(refs))
	for i, p := range refs {
		xs[i], ys[i] = p[0], p[1]
	}
	if err := fn(xs, ys); err != nil {
		return nil, err
	}
	for i, p := range refs {
		*p = orb.Point{xs[i], ys[i]}
	}
	return g, nil
}

// ToFeatures converts a collection to Esri JSON features in the target wkid.
// Attribute names are matched case-insensitively to fieldNames (lower-cased
// name -> remote name); attributes with no matching field are dropped. An
// empty fieldNames keeps every attribute. Targets other than WGS84 and Web
// Mercator need rp.
func ToFeatures(c *models.Collection, wkid int, fieldNames map[string]string, rp Reprojector) ([]Feature, error) {
	transform, err := transformer(wkid, rp)
	if err != nil {
		return nil, err
	}
	sr := map[string]int{"wkid": wkid}

	out := make([]Feature, 0, c.Len())
	for i, f := range c.Features {
		attrs := make(map[string]any, len(f.Attributes))
		for k, v := range f.Attributes {
			name := k
			if len(fieldNames) > 0 {
				remote, ok := fieldNames[strings.ToLower(k)]
				if !ok {
					continue
				}
				name = remote
			}
			attrs[name] = v
		}

		feat := Feature{Attributes: attrs}
		if f.Geometry != nil {
			g, err := transform(f.Geometry)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			esri, err := EsriGeometry(g)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			esri["spatialReference"] = sr
			feat.Geometry = esri
		}
		out = append(out, feat)
	}
	return out, nil
}

// EsriGeometry converts an orb geometry to its Esri JSON form. Polygon rings
// are oriented clockwise for exteriors and counter-clockwise for holes.
func EsriGeometry(g orb.Geometry) (map[string]any, error) {
	switch g := g.(type) {
	case orb.Point:
		return map[string]any{"x": g[0], "y": g[1]}, nil
	case orb.MultiPoint:
		return map[string]any{"points": pointsOf(g)}, nil
	case orb.LineString:
		return map[string]any{"paths": [][][2]float64{pointsOf(g)}}, nil
	case orb.MultiLineString:
		paths := make([][][2]float64, len(g))
		for i, ls := range g {
			paths[i] = pointsOf(ls)
		}
		return map[string]any{"paths": paths}, nil
	case orb.Polygon:
		return map[string]any{"rings": polygonRings(g)}, nil
	case orb.MultiPolygon:
		var rings [][][2]float64
		for _, p := range g {
			rings = append(rings, polygonRings(p)...)
		}
		return map[string]any{"rings": rings}, nil
	default:
		return nil, fmt.Errorf("geometry type %T is not supported", g)
	}
}

func pointsOf[T ~[]orb.Point](pts T) [][2]float64 {
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		out[i] = [2]float64{p[0], p[1]}
	}
	return out
}

func polygonRings(p orb.Polygon) [][][2]float64 {
	rings := make([][][2]float64, len(p))
	for i, r := range p {
		want := orb.CW
		if i > 0 {
			want = orb.CCW
		}
		if r.Orientation() != want {
			r = r.Clone()
			r.Reverse()
		}
		rings[i] = pointsOf(r)
	}
	return rings
}

// WriteGeoJSON writes the collection as a WGS84 GeoJSON FeatureCollection.
func WriteGeoJSON(c *models.Collection, path string) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range c.Features {
		gf := geojson.NewFeature(f.Geometry)
		for k, v := range f.Attributes {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode %s as GeoJSON: %w", c.Name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
