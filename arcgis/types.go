// arcgis/types.go
package arcgis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrItemNotFound is returned when a portal item does not exist or is not
// accessible to the authenticated user.
var ErrItemNotFound = errors.New("arcgis item not found")

// APIError is the error envelope ArcGIS REST returns with HTTP 200.
type APIError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("arcgis error %d: %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Item is a portal content item.
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
	Owner string `json:"owner"`
	URL   string `json:"url"`
}

const (
	TypeFeatureService = "Feature Service"
	TypeGeoJSON        = "GeoJson"
)

type searchResponse struct {
	Total   int    `json:"total"`
	Results []Item `json:"results"`
}

type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// Code returns latestWkid when present, otherwise wkid.
func (s *SpatialReference) Code() int {
	if s == nil {
		return 0
	}
	if s.LatestWKID != 0 {
		return s.LatestWKID
	}
	return s.WKID
}

type Extent struct {
	XMin             float64           `json:"xmin"`
	YMin             float64           `json:"ymin"`
	XMax             float64           `json:"xmax"`
	YMax             float64           `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// Field is a layer field definition. It is kept as a raw map so that
// properties this package does not model survive an updateDefinition.
type Field map[string]any

func (f Field) Name() string  { return f.str("name") }
func (f Field) Alias() string { return f.str("alias") }

func (f Field) str(key string) string {
	s, _ := f[key].(string)
	return s
}

// LayerInfo is the subset of a feature layer's JSON description used here.
type LayerInfo struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	GeometryType     string            `json:"geometryType"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
	Extent           *Extent           `json:"extent,omitempty"`
	Fields           []Field           `json:"fields"`
}

// WKID resolves the layer's coordinate system: the layer's spatial reference,
// then the extent's, then fallback.
func (l *LayerInfo) WKID(fallback int) int {
	if code := l.SpatialReference.Code(); code != 0 {
		return code
	}
	if l.Extent != nil {
		if code := l.Extent.SpatialReference.Code(); code != 0 {
			return code
		}
	}
	return fallback
}

// FieldNames maps lower-cased field names to their remote spelling.
func (l *LayerInfo) FieldNames() map[string]string {
	out := make(map[string]string, len(l.Fields))
	for _, f := range l.Fields {
		out[strings.ToLower(f.Name())] = f.Name()
	}
	return out
}

type ServiceLayer struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ServiceInfo describes a feature service root.
type ServiceInfo struct {
	Layers           []ServiceLayer    `json:"layers"`
	Tables           []ServiceLayer    `json:"tables"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// Feature is an Esri JSON feature.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   any            `json:"geometry,omitempty"`
}

type ResultError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// EditResult is one entry of addResults.
type EditResult struct {
	ObjectID int64        `json:"objectId"`
	Success  bool         `json:"success"`
	Error    *ResultError `json:"error,omitempty"`
}

type editResponse struct {
	AddResults []EditResult `json:"addResults"`
}

type successResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

// PublishedService is one entry of a publish response.
type PublishedService struct {
	ServiceItemID string    `json:"serviceItemId"`
	ServiceURL    string    `json:"serviceurl"`
	Type          string    `json:"type"`
	JobID         string    `json:"jobId"`
	Success       *bool     `json:"success,omitempty"`
	Error         *APIError `json:"error,omitempty"`
}

type publishResponse struct {
	Services []PublishedService `json:"services"`
}

type selfResponse struct {
	Username string `json:"username"`
	User     *struct {
		Username string `json:"username"`
	} `json:"user"`
}
