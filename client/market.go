package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WalletStatus is the server's wallet connection state.
type WalletStatus struct {
	Account   string `json:"account,omitempty"`
	Connected bool   `json:"connected"`
	State     string `json:"state"` // disconnected, connecting, connected
	Currency  string `json:"currency"`
	HasWallet bool   `json:"has_wallet"`

	// Invalidate is set after a connection: cached listings are stale.
	Invalidate bool `json:"invalidate,omitempty"`
}

// CreateRequest describes a token to mint and list.
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Image       string `json:"image"`
}

// Listing is a confirmed create or resale.
type Listing struct {
	TokenID     string `json:"token_id,omitempty"`
	TokenURI    string `json:"token_uri"`
	Price       string `json:"price"`
	PriceWei    string `json:"price_wei"`
	FeeWei      string `json:"fee_wei"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Seller      string `json:"seller"`
}

// Item is an unsold listing joined with its metadata. When the metadata
// could not be loaded, Error and ErrorKind are set instead.
type Item struct {
	TokenID     string `json:"token_id"`
	Seller      string `json:"seller"`
	Owner       string `json:"owner"`
	Price       string `json:"price"`
	PriceWei    string `json:"price_wei"`
	Sold        bool   `json:"sold"`
	TokenURI    string `json:"token_uri,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

// WorkflowStatus reports a durable create-and-list run.
type WorkflowStatus struct {
	WorkflowID string   `json:"workflow_id"`
	Status     string   `json:"status"`
	TokenURI   string   `json:"token_uri,omitempty"`
	Listing    *Listing `json:"listing,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// APIError is a non-success response. Kind is set for marketplace failures
// (validation, not_connected, denied, storage, chain_write, ...).
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Client is the HTTP client for the nftmarket service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new marketplace client. Listing creation waits for
// block confirmation, so the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Wallet returns the current wallet state without prompting.
func (c *Client) Wallet(ctx context.Context) (*WalletStatus, error) {
	var out WalletStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallet", nil, "", http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Connect asks the server to connect its wallet. approve carries the
// user's decision; passphrase unlocks keystore accounts.
func (c *Client) Connect(ctx context.Context, approve bool, passphrase string) (*WalletStatus, error) {
	body, err := json.Marshal(map[string]interface{}{
		"approve":    approve,
		"passphrase": passphrase,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out WalletStatus
	if err := c.do(ctx, http.MethodPost, "/api/v1/wallet/connect", bytes.NewReader(body), "application/json", http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("wallet connected", "account", out.Account)
	return &out, nil
}

// UploadAsset stores a binary asset and returns its public locator.
func (c *Client) UploadAsset(ctx context.Context, filename string, payload io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, payload); err != nil {
		return "", fmt.Errorf("failed to read payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/assets", &buf, mw.FormDataContentType(), http.StatusCreated, &out); err != nil {
		return "", err
	}
	c.logger.Debug("asset uploaded", "filename", filename, "url", out.URL)
	return out.URL, nil
}

// CreateListing publishes metadata and lists a new token, returning once
// the transaction is confirmed.
func (c *Client) CreateListing(ctx context.Context, req CreateRequest) (*Listing, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out Listing
	if err := c.do(ctx, http.MethodPost, "/api/v1/listings", bytes.NewReader(body), "application/json", http.StatusCreated, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("listing created", "token_id", out.TokenID, "tx_hash", out.TxHash)
	return &out, nil
}

// CreateListingDurable hands the listing to a server-side workflow and
// returns its id.
func (c *Client) CreateListingDurable(ctx context.Context, req CreateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/listings?durable=true", bytes.NewReader(body), "application/json", http.StatusAccepted, &out); err != nil {
		return "", err
	}
	return out.WorkflowID, nil
}

// WorkflowStatus reports a durable listing run.
func (c *Client) WorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	var out WorkflowStatus
	path := "/api/v1/listings/workflows/" + url.PathEscape(workflowID)
	if err := c.do(ctx, http.MethodGet, path, nil, "", http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resell relists an owned token at a new price.
func (c *Client) Resell(ctx context.Context, tokenID, price string) (*Listing, error) {
	body, err := json.Marshal(map[string]string{"price": price})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out Listing
	path := fmt.Sprintf("/api/v1/listings/%s/resale", url.PathEscape(tokenID))
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Listings retrieves every unsold listing in contract order.
func (c *Client) Listings(ctx context.Context) ([]Item, error) {
	var out struct {
		Items []Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/listings", nil, "", http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, "", http.StatusOK, nil)
}

// Version returns the server's build version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, "", http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Kind: errResp.Kind, Message: errResp.Error}
}
