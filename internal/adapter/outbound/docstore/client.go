package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/shared/config"
)

// ErrDocumentNotFound is returned when a document does not exist.
// Callers distinguish it from transport failures, which wrap ErrTransport.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrTransport        = errors.New("document store request failed")
)

// Client is a thin REST client for the backing document store. All
// persistence in this service goes through it; there is no local
// database.
type Client struct {
	endpoint    string
	projectID   string
	apiKey      string
	databaseID  string
	collections config.CollectionsConfig

	http   *http.Client
	logger *zap.Logger
}

// New creates a document store client. The store configuration is
// validated up front so a missing setting fails at startup with a
// descriptive error rather than on the first request.
func New(cfg *config.StoreConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		projectID:   cfg.ProjectID,
		apiKey:      cfg.APIKey,
		databaseID:  cfg.DatabaseID,
		collections: cfg.Collections,
		http:        httpClient,
		logger:      logger,
	}, nil
}

// listEnvelope is the wire shape of a document list response.
type listEnvelope struct {
	Total     int64             `json:"total"`
	Documents []json.RawMessage `json:"documents"`
}

// documentPayload is the wire shape of create/update requests.
type documentPayload struct {
	DocumentID  string   `json:"documentId,omitempty"`
	Data        any      `json:"data"`
	Permissions []string `json:"permissions,omitempty"`
}

func (c *Client) documentURL(collectionID, documentID string) string {
	return fmt.Sprintf("%s/databases/%s/collections/%s/documents/%s",
		c.endpoint, c.databaseID, collectionID, documentID)
}

func (c *Client) collectionURL(collectionID string) string {
	return fmt.Sprintf("%s/databases/%s/collections/%s/documents",
		c.endpoint, c.databaseID, collectionID)
}

// getDocument fetches a single document into out.
func (c *Client) getDocument(ctx context.Context, collectionID, documentID string, out any) error {
	return c.do(ctx, http.MethodGet, c.documentURL(collectionID, documentID), nil, out)
}

// createDocument creates a document with the given ID, data and
// permission list.
func (c *Client) createDocument(ctx context.Context, collectionID, documentID string, data any, permissions []string, out any) error {
	payload := documentPayload{DocumentID: documentID, Data: data, Permissions: permissions}
	return c.do(ctx, http.MethodPost, c.collectionURL(collectionID), &payload, out)
}

// updateDocument patches document fields. A nil permissions slice
// leaves the document's permission list untouched.
func (c *Client) updateDocument(ctx context.Context, collectionID, documentID string, data any, permissions []string, out any) error {
	payload := documentPayload{Data: data, Permissions: permissions}
	return c.do(ctx, http.MethodPatch, c.documentURL(collectionID, documentID), &payload, out)
}

// deleteDocument removes a document.
func (c *Client) deleteDocument(ctx context.Context, collectionID, documentID string) error {
	return c.do(ctx, http.MethodDelete, c.documentURL(collectionID, documentID), nil, nil)
}

// listDocuments fetches documents matching the given store queries.
func (c *Client) listDocuments(ctx context.Context, collectionID string, queries []string) (*listEnvelope, error) {
	u := c.collectionURL(collectionID)
	if len(queries) > 0 {
		vals := url.Values{}
		for _, q := range queries {
			vals.Add("queries[]", q)
		}
		u += "?" + vals.Encode()
	}

	var envelope listEnvelope
	if err := c.do(ctx, http.MethodGet, u, nil, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// do performs one store round trip. A 404 maps to ErrDocumentNotFound;
// everything else non-2xx wraps ErrTransport so callers can treat
// "missing" and "unreachable" differently.
func (c *Client) do(ctx context.Context, method, url string, payload *documentPayload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-ID", c.projectID)
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDocumentNotFound
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("document store error",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrTransport, err)
	}
	return nil
}
