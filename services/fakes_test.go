package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gewnthar/encwind/arcgis"
	"github.com/gewnthar/encwind/models"
)

// fakeService is an in-memory FeatureService.
type fakeService struct {
	mu sync.Mutex

	items       map[string]*arcgis.Item        // by id
	titled      map[string]*arcgis.Item        // by title + "|" + type
	services    map[string]*arcgis.ServiceInfo // by service URL
	layers      map[string]*arcgis.LayerInfo   // by layer URL
	truncateErr map[string]error               // by layer URL
	panicOnGet  bool

	truncated   []string
	added       map[string][]arcgis.Feature
	addCalls    int
	definitions map[string]any
	uploads     []string // "add:<title>" or "update:<id>"
	published   []string // "<itemID>:<overwrite>"
}

func newFakeService() *fakeService {
	return &fakeService{
		items:       map[string]*arcgis.Item{},
		titled:      map[string]*arcgis.Item{},
		services:    map[string]*arcgis.ServiceInfo{},
		layers:      map[string]*arcgis.LayerInfo{},
		truncateErr: map[string]error{},
		added:       map[string][]arcgis.Feature{},
		definitions: map[string]any{},
	}
}

// addLayer registers a feature service item with one layer at index 0.
func (f *fakeService) addLayer(itemID, title string, wkid int, fields ...string) string {
	url := "https://services.example.com/org/arcgis/rest/services/" + title + "/FeatureServer"
	item := &arcgis.Item{ID: itemID, Title: title, Type: arcgis.TypeFeatureService, URL: url}
	f.items[itemID] = item
	f.titled[title+"|"+arcgis.TypeFeatureService] = item
	f.services[url] = &arcgis.ServiceInfo{Layers: []arcgis.ServiceLayer{{ID: 0, Name: title}}}
	info := &arcgis.LayerInfo{Name: title, SpatialReference: &arcgis.SpatialReference{WKID: wkid}}
	for _, name := range fields {
		info.Fields = append(info.Fields, arcgis.Field{"name": name, "alias": name, "type": "esriFieldTypeString"})
	}
	layerURL := arcgis.LayerURL(url, 0)
	f.layers[layerURL] = info
	return layerURL
}

func (f *fakeService) GetItem(_ context.Context, id string) (*arcgis.Item, error) {
	if f.panicOnGet {
		panic("portal exploded")
	}
	if item, ok := f.items[id]; ok {
		return item, nil
	}
	return nil, fmt.Errorf("item %s: %w", id, arcgis.ErrItemNotFound)
}

func (f *fakeService) FindItem(_ context.Context, title, itemType string) (*arcgis.Item, error) {
	if item, ok := f.titled[title+"|"+itemType]; ok {
		return item, nil
	}
	return nil, fmt.Errorf("%s %q: %w", itemType, title, arcgis.ErrItemNotFound)
}

func (f *fakeService) Service(_ context.Context, url string) (*arcgis.ServiceInfo, error) {
	if svc, ok := f.services[url]; ok {
		return svc, nil
	}
	return nil, errors.New("no such service")
}

func (f *fakeService) Layer(_ context.Context, url string) (*arcgis.LayerInfo, error) {
	if l, ok := f.layers[url]; ok {
		return l, nil
	}
	return nil, &arcgis.APIError{Code: 400, Message: "Invalid URL"}
}

func (f *fakeService) Truncate(_ context.Context, url string) error {
	if err := f.truncateErr[url]; err != nil {
		return err
	}
	f.truncated = append(f.truncated, url)
	delete(f.added, url)
	return nil
}

func (f *fakeService) AddFeatures(_ context.Context, url string, features []arcgis.Feature) ([]arcgis.EditResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	var results []arcgis.EditResult
	for i, feat := range features {
		if feat.Attributes["OBJNAM"] == "bad" {
			results = append(results, arcgis.EditResult{Error: &arcgis.ResultError{Code: 1000, Description: "invalid geometry"}})
			continue
		}
		f.added[url] = append(f.added[url], feat)
		results = append(results, arcgis.EditResult{ObjectID: int64(i + 1), Success: true})
	}
	return results, nil
}

func (f *fakeService) UpdateDefinition(_ context.Context, url string, def any) error {
	f.definitions[url] = def
	return nil
}

func (f *fakeService) AddItem(_ context.Context, title, itemType, path string, _ []string) (string, error) {
	f.uploads = append(f.uploads, "add:"+title)
	id := "new-" + title
	f.titled[title+"|"+itemType] = &arcgis.Item{ID: id, Title: title, Type: itemType}
	return id, nil
}

func (f *fakeService) UpdateItem(_ context.Context, itemID, path string) error {
	f.uploads = append(f.uploads, "update:"+itemID)
	return nil
}

func (f *fakeService) Publish(_ context.Context, itemID, name string, overwrite bool) (*arcgis.PublishedService, error) {
	f.published = append(f.published, fmt.Sprintf("%s:%t", itemID, overwrite))
	return &arcgis.PublishedService{ServiceItemID: "svc-" + name, ServiceURL: "https://services.example.com/" + name + "/FeatureServer"}, nil
}

type memRecorder struct {
	mu        sync.Mutex
	downloads []models.ChartDownload
	runs      []models.PublishRun
}

func (m *memRecorder) RecordDownload(_ context.Context, d models.ChartDownload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, d)
	return nil
}

func (m *memRecorder) RecordPublishRun(_ context.Context, r models.PublishRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}
