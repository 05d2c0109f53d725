// services/arcgis.go
package services

import (
	"context"

	"github.com/gewnthar/encwind/arcgis"
	"github.com/gewnthar/encwind/models"
)

// FeatureService is the part of the ArcGIS REST API the publisher and field
// updater need. *arcgis.Client implements it.
type FeatureService interface {
	GetItem(ctx context.Context, id string) (*arcgis.Item, error)
	FindItem(ctx context.Context, title, itemType string) (*arcgis.Item, error)
	Service(ctx context.Context, serviceURL string) (*arcgis.ServiceInfo, error)
	Layer(ctx context.Context, layerURL string) (*arcgis.LayerInfo, error)
	Truncate(ctx context.Context, layerURL string) error
	AddFeatures(ctx context.Context, layerURL string, features []arcgis.Feature) ([]arcgis.EditResult, error)
	UpdateDefinition(ctx context.Context, layerURL string, definition any) error
	AddItem(ctx context.Context, title, itemType, filePath string, tags []string) (string, error)
	UpdateItem(ctx context.Context, itemID, filePath string) error
	Publish(ctx context.Context, itemID, serviceName string, overwrite bool) (*arcgis.PublishedService, error)
}

// RunRecorder stores one audit row per feature class per run.
type RunRecorder interface {
	RecordPublishRun(ctx context.Context, run models.PublishRun) error
}
