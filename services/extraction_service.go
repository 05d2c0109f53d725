// services/extraction_service.go
package services

import (
	"context"
	"log/slog"

	"github.com/gewnthar/encwind/config"
	"github.com/gewnthar/encwind/enc"
	"github.com/gewnthar/encwind/metrics"
	"github.com/gewnthar/encwind/models"
	"github.com/gewnthar/encwind/transform"
)

// ExtractionService reads the configured feature classes out of every
// archive and consolidates them per class.
type ExtractionService struct {
	Extractor *enc.Extractor
	Features  []config.FeatureConfig
	Logger    *slog.Logger
	Metrics   *metrics.Collector
}

// ExtractAll processes archives one at a time. The result holds one
// collection per feature class that yielded records, keyed by class name.
func (s *ExtractionService) ExtractAll(ctx context.Context, archives []string) (map[string]*models.Collection, error) {
	results := make(map[string]*models.Collection)
	for _, path := range archives {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		s.extractArchive(path, results)
	}

	for _, fc := range s.Features {
		if c, ok := results[fc.Name]; ok {
			s.Logger.Info("Combined features", "feature_class", fc.Name, "count", c.Len(),
				"geometry_type", c.GeometryType(), "archives", len(c.Sources()))
			s.Metrics.ObserveExtracted(fc.Name, c.Len())
		}
	}
	return results, nil
}

func (s *ExtractionService) extractArchive(path string, results map[string]*models.Collection) {
	chart, err := s.Extractor.Open(path)
	if err != nil {
		s.Logger.Error("Skipping archive", "archive", path, "error", err)
		return
	}
	defer func() {
		if err := chart.Close(); err != nil {
			s.Logger.Warn("Failed to clean up archive", "archive", chart.Name, "error", err)
		}
	}()
	s.Logger.Info("Processing source file", "archive", chart.Name)

	for _, fc := range s.Features {
		if !chart.HasLayer(fc.LayerName) {
			continue
		}
		coll := chart.ReadLayer(fc.LayerName)
		if coll.Empty() {
			continue
		}
		coll, dropped := transform.GeometryFilter(coll, fc.GeometryType)
		if dropped > 0 {
			s.Logger.Info("Dropped records of other geometry types",
				"feature_class", fc.Name, "archive", chart.Name, "geometry_type", fc.GeometryType, "dropped", dropped)
		}
		coll = transform.Filter{Column: fc.FilterCol, Value: fc.FilterVal}.Apply(coll)
		if coll.Empty() {
			continue
		}

		s.Logger.Info("Found features", "feature_class", fc.Name, "layer", fc.LayerName, "archive", chart.Name, "count", coll.Len())
		if acc, ok := results[fc.Name]; ok {
			acc.Append(coll)
		} else {
			coll.Name = fc.Name
			results[fc.Name] = coll
		}
	}
}
