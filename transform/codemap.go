// transform/codemap.go
package transform

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gewnthar/encwind/models"
)

// Numeric-looking codes parsed through a float come back as "19.0".
var trailingZeroRegex = regexp.MustCompile(`\.0$`)

// NormalizeCode strips surrounding space and a trailing ".0" from a code.
func NormalizeCode(code string) string {
	return trailingZeroRegex.ReplaceAllString(strings.TrimSpace(code), "")
}

// CodeDictionary maps column name -> code -> display text.
type CodeDictionary struct {
	columns []string // first-seen order from the source rows
	codes   map[string]map[string]string
}

// NewCodeDictionary builds a dictionary from column_name/code/value rows.
// Codes are normalized; a later row for the same column and code wins.
func NewCodeDictionary(entries []models.CodeEntry) *CodeDictionary {
	d := &CodeDictionary{codes: make(map[string]map[string]string)}
	for _, e := range entries {
		col := strings.TrimSpace(e.ColumnName)
		if col == "" {
			continue
		}
		m, ok := d.codes[col]
		if !ok {
			m = make(map[string]string)
			d.codes[col] = m
			d.columns = append(d.columns, col)
		}
		m[NormalizeCode(e.Code)] = e.Value
	}
	return d
}

// Columns lists the dictionary's columns in first-seen order.
func (d *CodeDictionary) Columns() []string { return d.columns }

// Lookup returns the display text for a normalized code.
func (d *CodeDictionary) Lookup(column, code string) (string, bool) {
	v, ok := d.codes[column][code]
	return v, ok
}

// CodeMapper replaces coded attribute values with their display text.
type CodeMapper struct {
	Dict   *CodeDictionary
	Logger *slog.Logger
}

// Apply returns a copy of c with every dictionary column mapped. The input
// collection is not modified.
func (m *CodeMapper) Apply(c *models.Collection) *models.Collection {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	out := copyCollection(c)

	for _, col := range m.Dict.Columns() {
		field, ok := out.FieldByName(col)
		if !ok {
			log.Debug("Column from dictionary not in data, skipping", "column", col, "feature_class", c.Name)
			continue
		}
		codes := m.Dict.codes[col]

		if field.Kind.Numeric() {
			lookup, ok := numericLookup(col, field.Kind, codes, log)
			if !ok {
				continue
			}
			log.Debug("Applying numeric mapping", "column", col)
			if replaced := mapNumericColumn(out, col, lookup); replaced > 0 {
				out.SetKind(col, models.KindText)
			}
			continue
		}

		log.Debug("Applying string mapping", "column", col)
		for i := range out.Features {
			v, ok := out.Features[i].Attributes[col].(string)
			if !ok {
				continue
			}
			out.Features[i].Attributes[col] = MapCell(v, codes)
		}
	}
	return out
}

// MapCell maps each comma-separated token of a text cell independently and
// rejoins the tokens with ", ". Unmapped tokens pass through. A cell in which
// no token maps is returned unchanged.
func MapCell(cell string, codes map[string]string) string {
	tokens := strings.Split(cell, ",")
	mapped := false
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if v, ok := codes[tok]; ok {
			tok = v
			mapped = true
		}
		tokens[i] = tok
	}
	if !mapped {
		return cell
	}
	return strings.Join(tokens, ", ")
}

// numericLookup coerces a column's codes to numbers. Codes that are not
// numbers are dropped with a warning. For integer columns a non-integral code
// cannot be converted and the column is skipped entirely.
func numericLookup(col string, kind models.FieldKind, codes map[string]string, log *slog.Logger) (map[float64]string, bool) {
	lookup := make(map[float64]string, len(codes))
	for code, value := range codes {
		f, err := strconv.ParseFloat(code, 64)
		if err != nil {
			log.Warn("Dropping non-numeric code for numeric column", "column", col, "code", code)
			continue
		}
		if kind == models.KindInteger && f != math.Trunc(f) {
			log.Warn("Type conversion failed for numeric column, skipping", "column", col, "code", code)
			return nil, false
		}
		lookup[f] = value
	}
	return lookup, true
}

func mapNumericColumn(c *models.Collection, col string, lookup map[float64]string) int {
	replaced := 0
	for i := range c.Features {
		f, ok := asFloat(c.Features[i].Attributes[col])
		if !ok {
			continue
		}
		if v, ok := lookup[f]; ok {
			c.Features[i].Attributes[col] = v
			replaced++
		}
	}
	return replaced
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func copyCollection(c *models.Collection) *models.Collection {
	out := &models.Collection{
		Name:     c.Name,
		Schema:   append([]models.Field(nil), c.Schema...),
		Features: make([]models.Feature, len(c.Features)),
	}
	for i, f := range c.Features {
		attrs := make(map[string]any, len(f.Attributes))
		for k, v := range f.Attributes {
			attrs[k] = v
		}
		f.Attributes = attrs
		out.Features[i] = f
	}
	return out
}
