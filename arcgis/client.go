// arcgis/client.go
// Package arcgis is a small client for the ArcGIS Online sharing, feature
// service and admin REST endpoints.
package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gewnthar/encwind/config"
)

// Client talks to one ArcGIS portal. Requests are sequential; the token is
// refreshed by the token source when it expires.
type Client struct {
	PortalURL string // e.g. https://www.arcgis.com
	Username  string // content owner; looked up via community/self when empty
	HTTP      *http.Client
	Tokens    oauth2.TokenSource
	Logger    *slog.Logger
}

// NewClient authenticates with OAuth2 client credentials against the portal.
func NewClient(ctx context.Context, cfg config.ArcGISConfig, logger *slog.Logger) *Client {
	portal := strings.TrimRight(cfg.URL, "/")
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     portal + "/sharing/rest/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return &Client{
		PortalURL: portal,
		Username:  cfg.Username,
		HTTP:      http.DefaultClient,
		Tokens:    cc.TokenSource(ctx),
		Logger:    logger.With("component", "arcgis"),
	}
}

func (c *Client) sharingURL(path string) string {
	return c.PortalURL + "/sharing/rest/" + strings.TrimLeft(path, "/")
}

// AdminURL converts a feature service or layer URL to its admin counterpart.
func AdminURL(serviceURL string) string {
	return strings.Replace(serviceURL, "/rest/services/", "/rest/admin/services/", 1)
}

// LayerURL joins a service URL and a layer index.
func LayerURL(serviceURL string, index int) string {
	return strings.TrimRight(serviceURL, "/") + "/" + strconv.Itoa(index)
}

func (c *Client) token() (string, error) {
	if c.Tokens == nil {
		return "", nil
	}
	tok, err := c.Tokens.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain arcgis token: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *Client) params(values url.Values) (url.Values, error) {
	if values == nil {
		values = url.Values{}
	}
	values.Set("f", "json")
	tok, err := c.token()
	if err != nil {
		return nil, err
	}
	if tok != "" {
		values.Set("token", tok)
	}
	return values, nil
}

func (c *Client) get(ctx context.Context, endpoint string, values url.Values, out any) error {
	values, err := c.params(values)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, endpoint string, values url.Values, out any) error {
	values, err := c.params(values)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

// postFile sends a multipart form with the file under the "file" part.
func (c *Client) postFile(ctx context.Context, endpoint string, values url.Values, filePath string, out any) error {
	values, err := c.params(values)
	if err != nil {
		return err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open upload %s: %w", filePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, vs := range values {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				return fmt.Errorf("failed to write form field %s: %w", k, err)
			}
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to copy %s into request: %w", filePath, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed: status code %d", req.URL.Path, resp.StatusCode)
	}

	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		return env.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

// notFound maps the portal's "item does not exist" responses to ErrItemNotFound.
func notFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return apiErr.Code == http.StatusBadRequest && strings.Contains(msg, "does not exist")
}

// GetItem fetches an item by id.
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := c.get(ctx, c.sharingURL("content/items/"+url.PathEscape(id)), nil, &item); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
		}
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	if item.ID == "" {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	return &item, nil
}

// Search runs a portal search query.
func (c *Client) Search(ctx context.Context, query string) ([]Item, error) {
	var res searchResponse
	values := url.Values{"q": {query}, "num": {"100"}}
	if err := c.get(ctx, c.sharingURL("search"), values, &res); err != nil {
		return nil, fmt.Errorf("search %q failed: %w", query, err)
	}
	return res.Results, nil
}

// FindItem returns the owner's item with exactly this title and type.
func (c *Client) FindItem(ctx context.Context, title, itemType string) (*Item, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`title:"%s" AND owner:%s AND type:"%s"`, title, owner, itemType)
	items, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Title == title && strings.EqualFold(items[i].Type, itemType) {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("%s %q: %w", itemType, title, ErrItemNotFound)
}

// Owner returns the configured username, or the authenticated user's.
func (c *Client) Owner(ctx context.Context) (string, error) {
	if c.Username != "" {
		return c.Username, nil
	}
	var self selfResponse
	if err := c.get(ctx, c.sharingURL("community/self"), nil, &self); err != nil {
		return "", fmt.Errorf("failed to look up portal user: %w", err)
	}
	name := self.Username
	if name == "" && self.User != nil {
		name = self.User.Username
	}
	if name == "" {
		return "", errors.New("portal did not report a username; set ARCGIS_USERNAME")
	}
	c.Username = name
	return name, nil
}

// Service describes the feature service at serviceURL.
func (c *Client) Service(ctx context.Context, serviceURL string) (*ServiceInfo, error) {
	var info ServiceInfo
	if err := c.get(ctx, serviceURL, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to describe service %s: %w", serviceURL, err)
	}
	return &info, nil
}

// Layer describes the feature layer at layerURL.
func (c *Client) Layer(ctx context.Context, layerURL string) (*LayerInfo, error) {
	var info LayerInfo
	if err := c.get(ctx, layerURL, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to describe layer %s: %w", layerURL, err)
	}
	return &info, nil
}

// Truncate deletes every feature of a hosted layer.
func (c *Client) Truncate(ctx context.Context, layerURL string) error {
	var res successResponse
	if err := c.post(ctx, AdminURL(layerURL)+"/truncate", url.Values{"async": {"false"}}, &res); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", layerURL, err)
	}
	if !res.Success && res.Status != "Completed" {
		return fmt.Errorf("truncate of %s reported no success", layerURL)
	}
	return nil
}

// AddFeatures uploads one batch of features and returns the per-record results.
func (c *Client) AddFeatures(ctx context.Context, layerURL string, features []Feature) ([]EditResult, error) {
	payload, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}
	var res editResponse
	values := url.Values{"features": {string(payload)}, "rollbackOnFailure": {"false"}}
	if err := c.post(ctx, layerURL+"/addFeatures", values, &res); err != nil {
		return nil, fmt.Errorf("addFeatures on %s failed: %w", layerURL, err)
	}
	return res.AddResults, nil
}

// UpdateDefinition pushes a partial layer definition through the admin API.
func (c *Client) UpdateDefinition(ctx context.Context, layerURL string, definition any) error {
	payload, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	var res successResponse
	if err := c.post(ctx, AdminURL(layerURL)+"/updateDefinition", url.Values{"updateDefinition": {string(payload)}}, &res); err != nil {
		return fmt.Errorf("updateDefinition on %s failed: %w", layerURL, err)
	}
	if !res.Success {
		return fmt.Errorf("updateDefinition on %s reported no success", layerURL)
	}
	return nil
}

// AddItem uploads a file as a new item in the owner's root folder.
func (c *Client) AddItem(ctx context.Context, title, itemType, filePath string, tags []string) (string, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return "", err
	}
	values := url.Values{
		"title": {title},
		"type":  {itemType},
		"tags":  {strings.Join(tags, ",")},
	}
	var res successResponse
	endpoint := c.sharingURL("content/users/" + url.PathEscape(owner) + "/addItem")
	if err := c.postFile(ctx, endpoint, values, filePath, &res); err != nil {
		return "", fmt.Errorf("failed to add item %q: %w", title, err)
	}
	if !res.Success || res.ID == "" {
		return "", fmt.Errorf("addItem %q reported no success", title)
	}
	return res.ID, nil
}

// UpdateItem replaces the data file of an existing item.
func (c *Client) UpdateItem(ctx context.Context, itemID, filePath string) error {
	owner, err := c.Owner(ctx)
	if err != nil {
		return err
	}
	var res successResponse
	endpoint := c.sharingURL("content/users/" + url.PathEscape(owner) + "/items/" + url.PathEscape(itemID) + "/update")
	if err := c.postFile(ctx, endpoint, nil, filePath, &res); err != nil {
		return fmt.Errorf("failed to update item %s: %w", itemID, err)
	}
	if !res.Success {
		return fmt.Errorf("update of item %s reported no success", itemID)
	}
	return nil
}

// Publish creates (or with overwrite, replaces) a hosted feature service from
// an uploaded GeoJSON item.
func (c *Client) Publish(ctx context.Context, itemID, serviceName string, overwrite bool) (*PublishedService, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(map[string]any{"name": serviceName})
	if err != nil {
		return nil, fmt.Errorf("failed to encode publish parameters: %w", err)
	}
	values := url.Values{
		"itemID":            {itemID},
		"filetype":          {"geojson"},
		"publishParameters": {string(params)},
		"overwrite":         {strconv.FormatBool(overwrite)},
	}
	var res publishResponse
	endpoint := c.sharingURL("content/users/" + url.PathEscape(owner) + "/publish")
	if err := c.post(ctx, endpoint, values, &res); err != nil {
		return nil, fmt.Errorf("failed to publish item %s: %w", itemID, err)
	}
	if len(res.Services) == 0 {
		return nil, fmt.Errorf("publish of item %s returned no services", itemID)
	}
	svc := res.Services[0]
	if svc.Error != nil {
		return nil, fmt.Errorf("publish of item %s failed: %w", itemID, svc.Error)
	}
	if svc.Success != nil && !*svc.Success {
		return nil, fmt.Errorf("publish of item %s reported no success", itemID)
	}
	return &svc, nil
}
