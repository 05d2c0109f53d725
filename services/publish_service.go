// services/publish_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gewnthar/encwind/arcgis"
	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/models"
)

// ErrNoLayer is returned when no item id is configured and no item titled
// output_name exists; the caller then publishes a package instead.
var ErrNoLayer = errors.New("no hosted layer to update")

// Publisher replaces the contents of a hosted layer with a collection.
type Publisher struct {
	Client      FeatureService
	// Reprojector handles target systems other than WGS84 and Web Mercator;
	// nil makes those classes fail before the truncate.
	Reprojector arcgis.Reprojector
	DefaultWKID int
	BatchSize   int
	TempDir     string // parent of the GeoJSON staging directory; empty means os.TempDir()
	Logger      *slog.Logger
}

// ResolveLayer finds the hosted layer for a feature class and its target
// coordinate system.
func (p *Publisher) ResolveLayer(ctx context.Context, fc config.FeatureConfig) (models.LayerRef, *arcgis.LayerInfo, error) {
	var item *arcgis.Item
	var err error
	if fc.ItemID != "" {
		item, err = p.Client.GetItem(ctx, fc.ItemID)
		if err != nil {
			return models.LayerRef{}, nil, err
		}
	} else {
		item, err = p.Client.FindItem(ctx, fc.OutputName, arcgis.TypeFeatureService)
		if errors.Is(err, arcgis.ErrItemNotFound) {
			return models.LayerRef{}, nil, ErrNoLayer
		}
		if err != nil {
			return models.LayerRef{}, nil, err
		}
	}

	ref := models.LayerRef{
		ItemID:     item.ID,
		Title:      item.Title,
		ServiceURL: item.URL,
		LayerIndex: fc.LayerIndex,
	}
	info, err := p.Client.Layer(ctx, arcgis.LayerURL(item.URL, fc.LayerIndex))
	if err != nil {
		return ref, nil, err
	}
	ref.WKID = info.WKID(p.defaultWKID())
	return ref, info, nil
}

// Publish truncates the remote layer and uploads the collection in batches.
// There is no rollback: an error after the truncate leaves the layer empty or
// partially filled.
func (p *Publisher) Publish(ctx context.Context, fc config.FeatureConfig, c *models.Collection) models.PublishResult {
	res := models.PublishResult{FeatureClass: fc.Name, Extracted: c.Len()}
	log := p.Logger.With("feature_class", fc.Name)

	ref, info, err := p.ResolveLayer(ctx, fc)
	switch {
	case errors.Is(err, ErrNoLayer):
		log.Info("No hosted layer found, publishing a new service", "output_name", fc.OutputName)
		return p.publishPackage(ctx, fc, c, res)
	case errors.Is(err, arcgis.ErrItemNotFound):
		log.Error("Hosted item not found, skipping upload", "item_id", fc.ItemID)
		res.Err = err
		return res
	case err != nil:
		log.Error("Failed to resolve hosted layer", "error", err)
		res.Err = err
		return res
	}
	res.Layer = ref
	layerURL := arcgis.LayerURL(ref.ServiceURL, ref.LayerIndex)
	log = log.With("item_id", ref.ItemID, "layer", layerURL)

	log.Info("Reprojecting data to match hosted layer", "wkid", ref.WKID)
	features, err := arcgis.ToFeatures(c, ref.WKID, info.FieldNames(), p.Reprojector)
	if err != nil {
		log.Error("Failed to convert features, layer left untouched", "error", err)
		res.Err = err
		return res
	}

	log.Info("Truncating all existing features in hosted layer")
	if err := p.Client.Truncate(ctx, layerURL); err != nil {
		log.Error("Truncate failed", "error", err)
		res.Err = err
		return res
	}

	log.Info("Appending new features", "count", len(features), "batch_size", p.batchSize())
	for start := 0; start < len(features); start += p.batchSize() {
		end := min(start+p.batchSize(), len(features))
		results, err := p.Client.AddFeatures(ctx, layerURL, features[start:end])
		if err != nil {
			log.Error("addFeatures failed, hosted layer may be incomplete", "offset", start, "error", err)
			res.Err = err
			return res
		}
		for _, r := range results {
			if r.Success {
				res.Added++
				continue
			}
			f := models.AddFailure{Code: -1, Description: "unknown error"}
			if r.Error != nil {
				f = models.AddFailure{Code: r.Error.Code, Description: r.Error.Description}
			}
			res.Failures = append(res.Failures, f)
		}
	}

	if len(res.Failures) == 0 {
		log.Info("Hosted layer update successful", "added", res.Added)
	} else {
		log.Warn("Failed to add some features", "added", res.Added, "failed", len(res.Failures),
			"example_error", res.Failures[0].Description, "example_code", res.Failures[0].Code)
	}
	return res
}

// publishPackage uploads the collection as GeoJSON and publishes it as a
// hosted feature service, overwriting an earlier upload of the same title.
func (p *Publisher) publishPackage(ctx context.Context, fc config.FeatureConfig, c *models.Collection, res models.PublishResult) models.PublishResult {
	log := p.Logger.With("feature_class", fc.Name, "output_name", fc.OutputName)

	dir, err := os.MkdirTemp(p.TempDir, "encwind-publish-")
	if err != nil {
		res.Err = fmt.Errorf("failed to create staging directory: %w", err)
		return res
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, fc.OutputName+".geojson")
	if err := arcgis.WriteGeoJSON(c, path); err != nil {
		res.Err = err
		return res
	}

	existing, err := p.Client.FindItem(ctx, fc.OutputName, arcgis.TypeGeoJSON)
	var itemID string
	overwrite := false
	switch {
	case err == nil:
		log.Info("Updating existing GeoJSON item", "item_id", existing.ID)
		if err := p.Client.UpdateItem(ctx, existing.ID, path); err != nil {
			res.Err = err
			return res
		}
		itemID, overwrite = existing.ID, true
	case errors.Is(err, arcgis.ErrItemNotFound):
		itemID, err = p.Client.AddItem(ctx, fc.OutputName, arcgis.TypeGeoJSON, path, []string{"NOAA", "ENC", fc.LayerName})
		if err != nil {
			res.Err = err
			return res
		}
		log.Info("Uploaded GeoJSON item", "item_id", itemID)
	default:
		res.Err = err
		return res
	}

	svc, err := p.Client.Publish(ctx, itemID, fc.OutputName, overwrite)
	if err != nil {
		log.Error("Publish failed", "item_id", itemID, "error", err)
		res.Err = err
		return res
	}
	res.Published = true
	res.Added = c.Len()
	res.Layer = models.LayerRef{ItemID: svc.ServiceItemID, Title: fc.OutputName, ServiceURL: svc.ServiceURL, WKID: arcgis.WGS84}
	log.Info("Published hosted feature service", "service_item_id", svc.ServiceItemID, "overwrite", overwrite, "count", c.Len())
	return res
}

func (p *Publisher) batchSize() int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	return config.DefaultBatchSize
}

func (p *Publisher) defaultWKID() int {
	if p.DefaultWKID != 0 {
		return p.DefaultWKID
	}
	return config.DefaultWKID
}
