// models/feature.go
package models

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// SourceFileField is the attribute that carries a record's provenance
// (the chart archive it was extracted from) through to the hosted layer.
const SourceFileField = "source_file"

// FieldKind is the underlying type of an attribute column.
type FieldKind int

const (
	KindText FieldKind = iota
	KindInteger
	KindReal
)

func (k FieldKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	default:
		return "text"
	}
}

// Numeric reports whether values of this kind are stored as numbers.
func (k FieldKind) Numeric() bool {
	return k == KindInteger || k == KindReal
}

// Field describes one attribute column of a Collection.
type Field struct {
	Name string
	Kind FieldKind
}

// Feature is one extracted chart entity.
type Feature struct {
	Geometry   orb.Geometry
	Attributes map[string]any
	Source     string // archive name, e.g. "US4NY1BY.zip"
}

// Value returns the attribute and whether it is present and non-nil.
func (f Feature) Value(name string) (any, bool) {
	v, ok := f.Attributes[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Text renders an attribute the way it is compared and displayed: integral
// floats lose their ".0", nil becomes "".
func (f Feature) Text(name string) string {
	v, ok := f.Value(name)
	if !ok {
		return ""
	}
	return ValueText(v)
}

// ValueText converts an attribute value to its text form.
func ValueText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

// Collection is an ordered set of features sharing a target class, a
// geometry type and an attribute schema.
type Collection struct {
	Name     string // feature class, e.g. "Wind_Turbines"
	Schema   []Field
	Features []Feature
}

func (c *Collection) Len() int { return len(c.Features) }

func (c *Collection) Empty() bool { return len(c.Features) == 0 }

// FieldByName returns the schema entry for a column.
func (c *Collection) FieldByName(name string) (Field, bool) {
	for _, f := range c.Schema {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the column is part of the schema.
func (c *Collection) HasField(name string) bool {
	_, ok := c.FieldByName(name)
	return ok
}

// SetKind changes the kind of an existing column.
func (c *Collection) SetKind(name string, kind FieldKind) {
	for i := range c.Schema {
		if c.Schema[i].Name == name {
			c.Schema[i].Kind = kind
			return
		}
	}
}

// AddField appends a column to the schema if it is not already there.
func (c *Collection) AddField(f Field) {
	if !c.HasField(f.Name) {
		c.Schema = append(c.Schema, f)
	}
}

// Append concatenates other onto c. Columns new to c are added to the
// schema; a column whose kinds disagree between the two becomes text.
func (c *Collection) Append(other *Collection) {
	if other == nil {
		return
	}
	for _, f := range other.Schema {
		existing, ok := c.FieldByName(f.Name)
		switch {
		case !ok:
			c.Schema = append(c.Schema, f)
		case existing.Kind != f.Kind:
			c.SetKind(f.Name, KindText)
		}
	}
	c.Features = append(c.Features, other.Features...)
}

// GeometryType returns the geometry type shared by the collection's
// features, or "" when the collection is empty.
func (c *Collection) GeometryType() string {
	for _, f := range c.Features {
		if f.Geometry != nil {
			return f.Geometry.GeoJSONType()
		}
	}
	return ""
}

// Sources lists the distinct archives that contributed features, in
// first-seen order.
func (c *Collection) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range c.Features {
		if !seen[f.Source] {
			seen[f.Source] = true
			out = append(out, f.Source)
		}
	}
	return out
}

func (c *Collection) String() string {
	return fmt.Sprintf("%s (%d features from %s)", c.Name, c.Len(), strings.Join(c.Sources(), ", "))
}
