// enc/gdalreader/reproject.go
package gdalreader

import (
	"fmt"
	"os"
	"sync"

	"github.com/lukeroth/gdal"
)

// Reprojector transforms WGS84 lon/lat coordinates to any EPSG coordinate
// system through OSR. Transforms are built once per wkid.
type Reprojector struct {
	mu         sync.Mutex
	source     gdal.SpatialReference
	transforms map[int]gdal.CoordinateTransform
}

// NewReprojector prepares the WGS84 source system. Close releases it.
func NewReprojector() (*Reprojector, error) {
	// GDAL 3 reads EPSG:4326 as lat/lon unless told otherwise.
	os.Setenv("OSR_DEFAULT_AXIS_MAPPING_STRATEGY", "TRADITIONAL_GIS_ORDER")
	src := gdal.CreateSpatialReference("")
	if err := src.FromEPSG(4326); err != nil {
		src.Destroy()
		return nil, fmt.Errorf("failed to load EPSG:4326: %w", err)
	}
	return &Reprojector{source: src, transforms: make(map[int]gdal.CoordinateTransform)}, nil
}

// Reproject rewrites xs and ys from WGS84 into wkid.
func (r *Reprojector) Reproject(wkid int, xs, ys []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ct, err := r.transform(wkid)
	if err != nil {
		return err
	}
	zs := make([]float64, len(xs))
	if !ct.Transform(len(xs), xs, ys, zs) {
		return fmt.Errorf("coordinate transform to EPSG:%d failed", wkid)
	}
	return nil
}

func (r *Reprojector) transform(wkid int) (gdal.CoordinateTransform, error) {
	if ct, ok := r.transforms[wkid]; ok {
		return ct, nil
	}
	dst := gdal.CreateSpatialReference("")
	defer dst.Destroy()
	if err := dst.FromEPSG(wkid); err != nil {
		return gdal.CoordinateTransform{}, fmt.Errorf("unknown EPSG code %d: %w", wkid, err)
	}
	ct := gdal.CreateCoordinateTransform(r.source, dst)
	if ct == (gdal.CoordinateTransform{}) {
		return ct, fmt.Errorf("no transform from EPSG:4326 to EPSG:%d", wkid)
	}
	r.transforms[wkid] = ct
	return ct, nil
}

// Close releases the cached transforms.
func (r *Reprojector) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wkid, ct := range r.transforms {
		ct.Destroy()
		delete(r.transforms, wkid)
	}
	r.source.Destroy()
}
