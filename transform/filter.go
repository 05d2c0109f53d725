// transform/filter.go
package transform

import (
	"strings"

	"github.com/gewnthar/encwind/models"
)

// Filter selects the records of a feature class by one attribute.
// The zero Filter passes everything.
type Filter struct {
	Column string
	Value  string
}

// Active reports whether the filter constrains anything.
func (f Filter) Active() bool {
	return f.Column != "" && f.Value != ""
}

// Match reports whether a record passes: the column's value, rendered as
// text, must contain Value. Containment rather than equality lets a code
// match inside a multi-valued cell such as "19, 20".
func (f Filter) Match(feat models.Feature) bool {
	if !f.Active() {
		return true
	}
	text := feat.Text(f.Column)
	if text == "" {
		return false
	}
	return strings.Contains(text, f.Value)
}

// Apply returns a new collection holding the records that match, in order.
func (f Filter) Apply(c *models.Collection) *models.Collection {
	out := &models.Collection{Name: c.Name, Schema: c.Schema}
	if !f.Active() {
		out.Features = append(out.Features, c.Features...)
		return out
	}
	for _, feat := range c.Features {
		if f.Match(feat) {
			out.Features = append(out.Features, feat)
		}
	}
	return out
}

// GeometryFilter keeps only records of one geometry kind: "point", "line"
// or "polygon". An empty kind keeps everything.
func GeometryFilter(c *models.Collection, kind string) (*models.Collection, int) {
	out := &models.Collection{Name: c.Name, Schema: c.Schema}
	dropped := 0
	for _, feat := range c.Features {
		if kind == "" || geometryKind(feat) == kind {
			out.Features = append(out.Features, feat)
			continue
		}
		dropped++
	}
	return out, dropped
}

func geometryKind(feat models.Feature) string {
	if feat.Geometry == nil {
		return ""
	}
	switch feat.Geometry.GeoJSONType() {
	case "Point", "MultiPoint":
		return "point"
	case "LineString", "MultiLineString":
		return "line"
	case "Polygon", "MultiPolygon":
		return "polygon"
	}
	return ""
}
