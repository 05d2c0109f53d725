// services/field_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gewnthar/encwind/arcgis"
	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/models"
	"github.com/gewnthar/encwind/scraper"
)

// FieldUpdater pushes field aliases and descriptions from CSV files to
// hosted layers.
type FieldUpdater struct {
	Client       FeatureService
	LayerIndices []int
	Logger       *slog.Logger
}

// FieldUpdateResult is the outcome for one item.
type FieldUpdateResult struct {
	ItemID  string
	Updated int // fields changed across all layers
	Err     error
}

type fieldDescription struct {
	Value          string `json:"value"`
	FieldValueType string `json:"fieldValueType"`
}

// UpdateAll updates every feature class with both an item id and a field CSV.
// Errors are per item and never stop the loop.
func (u *FieldUpdater) UpdateAll(ctx context.Context, features []config.FeatureConfig) []FieldUpdateResult {
	var results []FieldUpdateResult
	for _, fc := range features {
		if fc.ItemID == "" || fc.FieldCSV == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		n, err := u.UpdateItem(ctx, fc.ItemID, fc.FieldCSV)
		if err != nil {
			u.Logger.Error("Field update failed", "item_id", fc.ItemID, "csv", fc.FieldCSV, "error", err)
		}
		results = append(results, FieldUpdateResult{ItemID: fc.ItemID, Updated: n, Err: err})
	}
	return results
}

// UpdateItem applies one field CSV to the configured layers of an item and
// returns the number of fields changed.
func (u *FieldUpdater) UpdateItem(ctx context.Context, itemID, csvPath string) (int, error) {
	item, err := u.Client.GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	log := u.Logger.With("item_id", itemID, "title", item.Title)

	defs, err := scraper.LoadFieldDefinitions(csvPath)
	if err != nil {
		return 0, err
	}
	lookup := make(map[string]models.FieldDefinition, len(defs))
	for _, d := range defs {
		lookup[d.Name] = d
	}

	svc, err := u.Client.Service(ctx, item.URL)
	if err != nil {
		return 0, err
	}

	indices := u.LayerIndices
	if len(indices) == 0 {
		indices = []int{0}
	}
	total := 0
	for _, index := range indices {
		if index < 0 || index >= len(svc.Layers) {
			log.Warn("Layer index out of bounds, skipping", "index", index, "layers", len(svc.Layers))
			continue
		}
		n, err := u.updateLayer(ctx, arcgis.LayerURL(item.URL, svc.Layers[index].ID), lookup)
		if err != nil {
			return total, fmt.Errorf("layer %d: %w", index, err)
		}
		if n == 0 {
			log.Info("No matching fields found in CSV, no updates needed", "index", index)
		} else {
			log.Info("Applied field updates", "index", index, "layer", svc.Layers[index].Name, "fields", n)
		}
		total += n
	}
	return total, nil
}

// encodeDescription renders the layer field description JSON. Markup in
// the value is kept as written.
func encodeDescription(value string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fieldDescription{Value: value}); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func (u *FieldUpdater) updateLayer(ctx context.Context, layerURL string, lookup map[string]models.FieldDefinition) (int, error) {
	info, err := u.Client.Layer(ctx, layerURL)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, field := range info.Fields {
		def, ok := lookup[field.Name()]
		if !ok {
			continue
		}
		if def.Alias != "" {
			field["alias"] = def.Alias
		}
		desc, err := encodeDescription(def.Description)
		if err != nil {
			return 0, fmt.Errorf("failed to encode description for %s: %w", field.Name(), err)
		}
		field["description"] = desc
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	if err := u.Client.UpdateDefinition(ctx, layerURL, map[string]any{"fields": info.Fields}); err != nil {
		return 0, err
	}
	return changed, nil
}
