// Package store defines the remote session store contract consumed by every
// device: create, read, and whole-record overwrite keyed by a short session
// code, plus a list operation for the operator dashboard. The store has no
// merge semantics and no concurrency tokens; writers race last-writer-wins.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lockstep-games/lockstep/internal/models"
)

// ErrNotFound indicates an unknown session code.
var ErrNotFound = errors.New("session not found")

// Client is the remote store contract.
type Client interface {
	Create(ctx context.Context) (*models.SessionRecord, error)
	Read(ctx context.Context, code string) (*models.SessionRecord, error)
	Update(ctx context.Context, code string, record *models.SessionRecord) error
	List(ctx context.Context) ([]*models.SessionRecord, error)
}

// HTTPClient talks to a session store over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client against baseURL (no trailing slash).
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetTimeout overrides the request timeout.
func (c *HTTPClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// Create asks the store for a fresh session code and initialized record.
func (c *HTTPClient) Create(ctx context.Context) (*models.SessionRecord, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

// Read fetches the current record for a code.
func (c *HTTPClient) Read(ctx context.Context, code string) (*models.SessionRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/sessions/"+code, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

// Update replaces the stored record wholesale.
func (c *HTTPClient) Update(ctx context.Context, code string, record *models.SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, "/v1/sessions/"+code, bytes.NewReader(payload))
	return err
}

// List returns every known record for the operator dashboard.
func (c *HTTPClient) List(ctx context.Context) ([]*models.SessionRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	var records []*models.SessionRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode session list: %w", err)
	}
	return records, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach session store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("store returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return responseBody, nil
}

// decodeRecord parses a record payload. A malformed payload (e.g. hand-edited
// from the operator dashboard) degrades to an empty record rather than an
// error; the session resets instead of wedging every device.
func decodeRecord(body []byte) (*models.SessionRecord, error) {
	var record models.SessionRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return &models.SessionRecord{}, nil
	}
	return &record, nil
}
