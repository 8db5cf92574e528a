package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brojonat/nftmarket/service/chain"
	"github.com/brojonat/nftmarket/service/market"
	"github.com/brojonat/nftmarket/service/storage"
	"github.com/brojonat/nftmarket/service/temporal"
	"github.com/brojonat/nftmarket/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	state   market.State
	account string

	connectErr error
	approval   wallet.Approval

	uploadName    string
	uploadPayload []byte
	uploadErr     error

	created   []market.CreateInput
	createRes *market.CreateResult
	createErr error

	resold    []string
	resellErr error

	items    []market.MarketItem
	fetchErr error
}

func (f *fakeMarket) State() market.State    { return f.state }
func (f *fakeMarket) CurrentAccount() string { return f.account }
func (f *fakeMarket) Currency() string       { return "ETH" }
func (f *fakeMarket) HasWallet() bool        { return true }

func (f *fakeMarket) Connect(ctx context.Context, approve wallet.Approver) (string, error) {
	approval, err := approve(ctx)
	if err != nil {
		return "", err
	}
	f.approval = approval
	if f.connectErr != nil {
		return "", f.connectErr
	}
	if !approval.Approved {
		return "", market.ErrDenied
	}
	f.state = market.Connected
	f.account = "0xC49926C4124cEe1cbA0Ea94Ea31a6c12318df947"
	return f.account, nil
}

func (f *fakeMarket) UploadAsset(ctx context.Context, name string, payload []byte) (string, error) {
	f.uploadName = name
	f.uploadPayload = payload
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "https://gw.test/ipfs/bafyasset", nil
}

func (f *fakeMarket) CreateNFT(ctx context.Context, in market.CreateInput, onCreated func(*market.CreateResult)) (*market.CreateResult, error) {
	f.created = append(f.created, in)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if onCreated != nil {
		onCreated(f.createRes)
	}
	return f.createRes, nil
}

func (f *fakeMarket) ResellNFT(ctx context.Context, tokenID, price string) (*market.CreateResult, error) {
	f.resold = append(f.resold, tokenID+"@"+price)
	if f.resellErr != nil {
		return nil, f.resellErr
	}
	return &market.CreateResult{TokenID: tokenID, Price: price}, nil
}

func (f *fakeMarket) FetchNFTs(ctx context.Context) ([]market.MarketItem, error) {
	return f.items, f.fetchErr
}

type fakeWorkflows struct {
	started  []market.CreateInput
	startErr error
	status   *temporal.CreateListingStatus
}

func (f *fakeWorkflows) StartCreateListing(ctx context.Context, in market.CreateInput) (string, error) {
	f.started = append(f.started, in)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "create-listing-1", nil
}

func (f *fakeWorkflows) GetCreateListingStatus(ctx context.Context, workflowID string) (*temporal.CreateListingStatus, error) {
	if f.status == nil {
		return nil, errors.New("workflow not found")
	}
	return f.status, nil
}

func newTestServer(mkt Marketplace, workflows WorkflowClient) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(":0", mkt, workflows, nil, nil, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func validCreateBody() string {
	return `{"name":"Art1","description":"desc","price":"0.025","image":"https://gw.test/ipfs/bafyasset"}`
}

func TestHandleGetWallet(t *testing.T) {
	h := newTestServer(&fakeMarket{}, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/wallet", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "disconnected", body["state"])
	assert.Equal(t, false, body["connected"])
	assert.NotContains(t, body, "invalidate")
	assert.Equal(t, "ETH", body["currency"])
	assert.NotContains(t, body, "account")
}

func TestHandleConnectWallet(t *testing.T) {
	t.Run("approved", func(t *testing.T) {
		mkt := &fakeMarket{}
		h := newTestServer(mkt, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/wallet/connect", strings.NewReader(`{"approve":true,"passphrase":"pw"}`), "application/json")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "connected", body["state"])
		assert.Equal(t, true, body["connected"])
		assert.Equal(t, true, body["invalidate"])
		assert.Equal(t, "0xC49926C4124cEe1cbA0Ea94Ea31a6c12318df947", body["account"])
		assert.Equal(t, "pw", mkt.approval.Passphrase)
	})

	t.Run("denied", func(t *testing.T) {
		h := newTestServer(&fakeMarket{}, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/wallet/connect", strings.NewReader(`{"approve":false}`), "application/json")

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "denied", decode(t, rec)["kind"])
	})

	t.Run("no wallet", func(t *testing.T) {
		h := newTestServer(&fakeMarket{connectErr: market.ErrCapabilityMissing}, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/wallet/connect", strings.NewReader(`{"approve":true}`), "application/json")

		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
		assert.Equal(t, "capability_missing", decode(t, rec)["kind"])
	})

	t.Run("prompt already open", func(t *testing.T) {
		h := newTestServer(&fakeMarket{connectErr: market.ErrConnectPending}, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/wallet/connect", strings.NewReader(`{"approve":true}`), "application/json")

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "connect_pending", decode(t, rec)["kind"])
	})

	t.Run("malformed body", func(t *testing.T) {
		h := newTestServer(&fakeMarket{}, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/wallet/connect", strings.NewReader(`{`), "application/json")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func multipartBody(t *testing.T, field, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandleUploadAsset(t *testing.T) {
	t.Run("stores file", func(t *testing.T) {
		mkt := &fakeMarket{}
		h := newTestServer(mkt, nil)
		body, ct := multipartBody(t, "file", "art.png", []byte("png-bytes"))

		rec := do(t, h, http.MethodPost, "/api/v1/assets", body, ct)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "https://gw.test/ipfs/bafyasset", decode(t, rec)["url"])
		assert.Equal(t, "art.png", mkt.uploadName)
		assert.Equal(t, []byte("png-bytes"), mkt.uploadPayload)
	})

	t.Run("missing field", func(t *testing.T) {
		h := newTestServer(&fakeMarket{}, nil)
		body, ct := multipartBody(t, "other", "art.png", []byte("png-bytes"))

		rec := do(t, h, http.MethodPost, "/api/v1/assets", body, ct)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		mkt := &fakeMarket{uploadErr: &storage.Error{Op: "upload_binary", Err: errors.New("connection refused")}}
		h := newTestServer(mkt, nil)
		body, ct := multipartBody(t, "file", "art.png", []byte("png-bytes"))

		rec := do(t, h, http.MethodPost, "/api/v1/assets", body, ct)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "storage", decode(t, rec)["kind"])
	})
}

func TestHandleCreateListing(t *testing.T) {
	t.Run("synchronous", func(t *testing.T) {
		mkt := &fakeMarket{createRes: &market.CreateResult{TokenID: "9", TokenURI: "https://gw.test/ipfs/bafymeta", TxHash: "0xabc"}}
		h := newTestServer(mkt, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/listings", strings.NewReader(validCreateBody()), "application/json")

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "/api/v1/listings/9", rec.Header().Get("Location"))
		body := decode(t, rec)
		assert.Equal(t, "9", body["token_id"])
		assert.Equal(t, "0xabc", body["tx_hash"])
		require.Len(t, mkt.created, 1)
		assert.Equal(t, "Art1", mkt.created[0].Name)
	})

	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"validation", &market.ValidationError{Field: "price", Reason: "is required"}, http.StatusBadRequest, "validation"},
		{"not connected", market.ErrNotConnected, http.StatusConflict, "not_connected"},
		{"storage", &storage.Error{Op: "upload_json", Err: errors.New("timeout")}, http.StatusBadGateway, "storage"},
		{"chain write", &chain.WriteError{Method: "createToken", Err: chain.ErrReverted}, http.StatusBadGateway, "chain_write"},
		{"chain read", &chain.ReadError{Method: "getListingPrice", Err: errors.New("eof")}, http.StatusBadGateway, "chain_read"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeMarket{createErr: tt.err}, nil)

			rec := do(t, h, http.MethodPost, "/api/v1/listings", strings.NewReader(validCreateBody()), "application/json")

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.kind, decode(t, rec)["kind"])
		})
	}
}

func TestHandleCreateListing_Durable(t *testing.T) {
	t.Run("starts workflow", func(t *testing.T) {
		mkt := &fakeMarket{}
		wf := &fakeWorkflows{}
		h := newTestServer(mkt, wf)

		rec := do(t, h, http.MethodPost, "/api/v1/listings?durable=true", strings.NewReader(validCreateBody()), "application/json")

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "create-listing-1", decode(t, rec)["workflow_id"])
		assert.Equal(t, "/api/v1/listings/workflows/create-listing-1", rec.Header().Get("Location"))
		require.Len(t, wf.started, 1)
		assert.Empty(t, mkt.created)
	})

	t.Run("invalid input never starts", func(t *testing.T) {
		wf := &fakeWorkflows{}
		h := newTestServer(&fakeMarket{}, wf)

		rec := do(t, h, http.MethodPost, "/api/v1/listings?durable=true",
			strings.NewReader(`{"name":"Art1","description":"desc","price":"","image":"L"}`), "application/json")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decode(t, rec)["kind"])
		assert.Empty(t, wf.started)
	})

	t.Run("workflows disabled", func(t *testing.T) {
		h := newTestServer(&fakeMarket{}, nil)

		rec := do(t, h, http.MethodPost, "/api/v1/listings?durable=true", strings.NewReader(validCreateBody()), "application/json")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleGetListingWorkflow(t *testing.T) {
	wf := &fakeWorkflows{status: &temporal.CreateListingStatus{
		WorkflowID: "create-listing-1",
		Status:     "completed",
		TokenURI:   "https://gw.test/ipfs/bafymeta",
		Listing:    &market.CreateResult{TokenID: "9"},
	}}
	h := newTestServer(&fakeMarket{}, wf)

	rec := do(t, h, http.MethodGet, "/api/v1/listings/workflows/create-listing-1", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "9", body["listing"].(map[string]any)["token_id"])

	missing := newTestServer(&fakeMarket{}, &fakeWorkflows{})
	rec = do(t, missing, http.MethodGet, "/api/v1/listings/workflows/nope", nil, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleResellListing(t *testing.T) {
	mkt := &fakeMarket{}
	h := newTestServer(mkt, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/listings/4/resale", strings.NewReader(`{"price":"1.5"}`), "application/json")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"4@1.5"}, mkt.resold)

	mkt.resellErr = &market.ValidationError{Field: "token_id", Reason: "not a token id"}
	rec = do(t, h, http.MethodPost, "/api/v1/listings/abc/resale", strings.NewReader(`{"price":"1.5"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListListings(t *testing.T) {
	mkt := &fakeMarket{items: []market.MarketItem{
		{TokenID: "1", Price: "0.5", Name: "Art1", Image: "https://gw.test/ipfs/a"},
		{TokenID: "2", Price: "1", Err: &storage.Error{Op: "fetch_metadata", Err: errors.New("404")}},
	}}
	h := newTestServer(mkt, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/listings", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []map[string]any `json:"items"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "1", body.Items[0]["token_id"])
	assert.Equal(t, "Art1", body.Items[0]["name"])
	assert.NotContains(t, body.Items[0], "error")
	assert.Equal(t, "2", body.Items[1]["token_id"])
	assert.Equal(t, "storage", body.Items[1]["error_kind"])

	empty := newTestServer(&fakeMarket{}, nil)
	rec = do(t, empty, http.MethodGet, "/api/v1/listings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestHandleListListings_ReadFailure(t *testing.T) {
	h := newTestServer(&fakeMarket{fetchErr: &chain.ReadError{Method: "fetchMarketItems", Err: errors.New("rpc down")}}, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/listings", nil, "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "chain_read", decode(t, rec)["kind"])
}

func TestStreamSubject(t *testing.T) {
	subject, err := streamSubject("")
	require.NoError(t, err)
	assert.Equal(t, "market.>", subject)

	subject, err = streamSubject("wallet.connected")
	require.NoError(t, err)
	assert.Equal(t, "market.wallet.connected", subject)

	_, err = streamSubject("txns.*")
	assert.Error(t, err)
}

func TestHealthAndCORS(t *testing.T) {
	h := newTestServer(&fakeMarket{}, nil)

	rec := do(t, h, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.Equal(t, "*", out.Header().Get("Access-Control-Allow-Origin"))
}
