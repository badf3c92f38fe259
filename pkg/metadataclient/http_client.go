// Package metadataclient implements changelog.MetadataClient over a plain
// HTTP control-plane API, demonstrating the interface with a realistic
// transport without baking a specific control-plane wire protocol into
// pkg/changelog itself (the protocol is out of scope per spec.md §1).
package metadataclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/abd-ulbasit/loomdb/pkg/changelog"
)

// HTTPClient implements changelog.MetadataClient against a JSON HTTP API,
// matching the config-with-defaults construction idiom used throughout
// this repository.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns a Config pointed at baseURL with the package's
// default timeout.
func DefaultConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, Timeout: 5 * time.Second}
}

// New returns an HTTPClient for cfg.
func New(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type storeResponse struct {
	Name           string `json:"name"`
	CurrentVersion int    `json:"currentVersion"`
	FutureVersion  int    `json:"futureVersion"`
	PartitionCount int    `json:"partitionCount"`
}

// GetStore fetches a store's current physical layout.
func (c *HTTPClient) GetStore(ctx context.Context, storeName string) (changelog.StoreInfo, error) {
	var resp storeResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/stores/%s", url.PathEscape(storeName)), &resp); err != nil {
		return changelog.StoreInfo{}, err
	}
	return changelog.StoreInfo{
		Name:           resp.Name,
		CurrentVersion: resp.CurrentVersion,
		FutureVersion:  resp.FutureVersion,
		PartitionCount: resp.PartitionCount,
	}, nil
}

type schemaResponse struct {
	ID  int32  `json:"id"`
	Raw string `json:"schema"`
}

// GetKeySchema fetches a store's key schema.
func (c *HTTPClient) GetKeySchema(ctx context.Context, storeName string) (*changelog.Schema, error) {
	var resp schemaResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/stores/%s/key-schema", url.PathEscape(storeName)), &resp); err != nil {
		return nil, err
	}
	return &changelog.Schema{ID: resp.ID, Raw: resp.Raw}, nil
}

// GetValueSchema fetches a specific value schema by id.
func (c *HTTPClient) GetValueSchema(ctx context.Context, storeName string, schemaID int32) (*changelog.Schema, error) {
	var resp schemaResponse
	path := fmt.Sprintf("/stores/%s/value-schemas/%d", url.PathEscape(storeName), schemaID)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &changelog.Schema{ID: resp.ID, Raw: resp.Raw}, nil
}

// GetLatestValueSchema fetches the most recently registered value schema.
func (c *HTTPClient) GetLatestValueSchema(ctx context.Context, storeName string) (*changelog.Schema, error) {
	var resp schemaResponse
	path := fmt.Sprintf("/stores/%s/value-schemas/latest", url.PathEscape(storeName))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &changelog.Schema{ID: resp.ID, Raw: resp.Raw}, nil
}

// GetReplicationMetadataSchema fetches the RMD schema for a value schema
// id and RMD protocol version.
func (c *HTTPClient) GetReplicationMetadataSchema(ctx context.Context, storeName string, valueSchemaID int32, rmdVersion int) (*changelog.Schema, error) {
	var resp schemaResponse
	path := fmt.Sprintf("/stores/%s/rmd-schemas/%d/%d", url.PathEscape(storeName), valueSchemaID, rmdVersion)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &changelog.Schema{ID: resp.ID, Raw: resp.Raw}, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("metadataclient: building request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("metadataclient: request to %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadataclient: %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("metadataclient: decoding response from %s: %w", path, err)
	}
	return nil
}
