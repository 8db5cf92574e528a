// Package storage talks to an IPFS node over the kubo RPC API and fetches
// metadata documents back through a gateway.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/nftmarket/service/metrics"
)

// DefaultMaxMetadataBytes bounds metadata documents fetched from a tokenURI.
const DefaultMaxMetadataBytes = 1 << 20

// Metadata is the off-chain document a tokenURI points at.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// Config configures a Client.
type Config struct {
	APIURL           string // kubo RPC base, e.g. http://127.0.0.1:5001
	GatewayURL       string // locator prefix, e.g. https://ipfs.io/ipfs
	ProjectID        string // basic auth user for hosted APIs
	ProjectSecret    string
	Timeout          time.Duration
	MaxMetadataBytes int64
}

// Client uploads content and fetches metadata.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a content store client.
// If httpClient is nil, one with cfg.Timeout is used.
// If metrics is nil, no metrics will be recorded.
func NewClient(cfg Config, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxMetadataBytes <= 0 {
		cfg.MaxMetadataBytes = DefaultMaxMetadataBytes
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

// addResponse is the body kubo returns from /api/v0/add.
type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// UploadBinary stores payload and returns its gateway locator.
func (c *Client) UploadBinary(ctx context.Context, name string, payload []byte) (string, error) {
	if name == "" {
		name = "asset"
	}
	return c.add(ctx, "upload_binary", name, payload)
}

// UploadJSON stores doc encoded as JSON and returns its gateway locator.
func (c *Client) UploadJSON(ctx context.Context, doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", &Error{Op: "upload_json", Err: fmt.Errorf("failed to encode document: %w", err)}
	}
	return c.add(ctx, "upload_json", "metadata.json", data)
}

func (c *Client) add(ctx context.Context, op, name string, payload []byte) (string, error) {
	start := time.Now()
	locator, err := c.doAdd(ctx, op, name, payload)
	c.metrics.RecordStorageOperation(op, time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.ErrorContext(ctx, "content upload failed",
			"op", op,
			"name", name,
			"bytes", len(payload),
			"error", err,
		)
		return "", err
	}
	c.metrics.RecordUploadSize(op, len(payload))
	c.logger.InfoContext(ctx, "content uploaded",
		"op", op,
		"name", name,
		"bytes", len(payload),
		"url", locator,
	)
	return locator, nil
}

func (c *Client) doAdd(ctx context.Context, op, name string, payload []byte) (string, error) {
	endpoint := c.cfg.APIURL + "/api/v0/add?cid-version=1&raw-leaves=true&pin=true"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", &Error{Op: op, URI: endpoint, Err: err}
	}
	if _, err := part.Write(payload); err != nil {
		return "", &Error{Op: op, URI: endpoint, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &Error{Op: op, URI: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", &Error{Op: op, URI: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.cfg.ProjectID != "" {
		req.SetBasicAuth(c.cfg.ProjectID, c.cfg.ProjectSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Op: op, URI: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &Error{Op: op, URI: endpoint, Err: fmt.Errorf("store rejected upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Op: op, URI: endpoint, Err: fmt.Errorf("failed to decode add response: %w", err)}
	}

	id, err := verifyCID(out.Hash, payload)
	if err != nil {
		return "", &Error{Op: op, URI: endpoint, Err: err}
	}

	return c.Locator(id), nil
}

// Locator renders the retrieval URL for a content address.
func (c *Client) Locator(path string) string {
	return c.cfg.GatewayURL + "/" + path
}

// FetchMetadata GETs the document at uri and decodes it. The uri is used
// exactly as recorded; nothing is cached.
func (c *Client) FetchMetadata(ctx context.Context, uri string) (*Metadata, error) {
	start := time.Now()
	md, err := c.fetchMetadata(ctx, uri)
	c.metrics.RecordStorageOperation("fetch_metadata", time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.WarnContext(ctx, "metadata fetch failed", "uri", uri, "error", err)
		return nil, err
	}
	return md, nil
}

func (c *Client) fetchMetadata(ctx context.Context, uri string) (*Metadata, error) {
	if uri == "" {
		return nil, &Error{Op: "fetch_metadata", URI: uri, Err: fmt.Errorf("empty token uri")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &Error{Op: "fetch_metadata", URI: uri, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "fetch_metadata", URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "fetch_metadata", URI: uri, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxMetadataBytes+1))
	if err != nil {
		return nil, &Error{Op: "fetch_metadata", URI: uri, Err: err}
	}
	if int64(len(data)) > c.cfg.MaxMetadataBytes {
		return nil, &Error{Op: "fetch_metadata", URI: uri, Err: fmt.Errorf("document exceeds %d bytes", c.cfg.MaxMetadataBytes)}
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, &Error{Op: "fetch_metadata", URI: uri, Err: fmt.Errorf("invalid metadata document: %w", err)}
	}
	return &md, nil
}
