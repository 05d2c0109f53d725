// transform/dedupe.go
package transform

import (
	"github.com/gewnthar/encwind/models"
)

// Dedupe removes records sharing a value of key, keeping the first one seen.
// Order of the kept records is preserved. Records with no value for key are
// always kept. The dropped records are returned for audit logging.
func Dedupe(c *models.Collection, key string) (*models.Collection, []models.DuplicateDrop) {
	out := &models.Collection{Name: c.Name, Schema: c.Schema}
	if key == "" {
		out.Features = append(out.Features, c.Features...)
		return out, nil
	}

	firstSource := make(map[string]string)
	var drops []models.DuplicateDrop
	for _, feat := range c.Features {
		v, ok := feat.Value(key)
		if !ok {
			out.Features = append(out.Features, feat)
			continue
		}
		id := models.ValueText(v)
		if kept, seen := firstSource[id]; seen {
			drops = append(drops, models.DuplicateDrop{
				Key:        key,
				Value:      id,
				Source:     feat.Source,
				KeptSource: kept,
			})
			continue
		}
		firstSource[id] = feat.Source
		out.Features = append(out.Features, feat)
	}
	return out, drops
}
