package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKubo is an in-memory stand-in for the kubo RPC add endpoint.
type fakeKubo struct {
	mu       sync.Mutex
	stored   map[string][]byte
	lastUser string
	lastPass string
	query    string
	status   int    // non-zero forces an error status
	override string // non-empty replaces the returned hash
}

func (f *fakeKubo) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastUser, f.lastPass, _ = r.BasicAuth()
		f.query = r.URL.RawQuery

		if f.status != 0 {
			http.Error(w, "pinning quota exceeded", f.status)
			return
		}

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)

		id, err := rawCID(data)
		require.NoError(t, err)
		hash := id.String()
		if f.override != "" {
			hash = f.override
		}
		if f.stored == nil {
			f.stored = map[string][]byte{}
		}
		f.stored[hash] = data

		json.NewEncoder(w).Encode(addResponse{Name: header.Filename, Hash: hash, Size: "1"})
	})
	return mux
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(apiURL string) *Client {
	return NewClient(Config{
		APIURL:     apiURL,
		GatewayURL: "https://gateway.test/ipfs/",
	}, nil, nil, discardLogger())
}

func TestUploadBinary_ReturnsGatewayLocator(t *testing.T) {
	kubo := &fakeKubo{}
	srv := httptest.NewServer(kubo.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL)
	payload := []byte("a tiny png")

	url, err := c.UploadBinary(context.Background(), "art.png", payload)
	require.NoError(t, err)

	want, err := rawCID(payload)
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.test/ipfs/"+want.String(), url)
	assert.Contains(t, kubo.query, "cid-version=1")
}

func TestUploadBinary_SameContentSameLocator(t *testing.T) {
	srv := httptest.NewServer((&fakeKubo{}).handler(t))
	defer srv.Close()
	c := newTestClient(srv.URL)

	a, err := c.UploadBinary(context.Background(), "a", []byte("same"))
	require.NoError(t, err)
	b, err := c.UploadBinary(context.Background(), "b", []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUploadJSON(t *testing.T) {
	kubo := &fakeKubo{}
	srv := httptest.NewServer(kubo.handler(t))
	defer srv.Close()
	c := newTestClient(srv.URL)

	md := Metadata{Name: "Art1", Description: "desc", Image: "L"}
	url, err := c.UploadJSON(context.Background(), md)
	require.NoError(t, err)

	hash := strings.TrimPrefix(url, "https://gateway.test/ipfs/")
	var stored Metadata
	require.NoError(t, json.Unmarshal(kubo.stored[hash], &stored))
	assert.Equal(t, md, stored)
}

func TestUpload_StoreRejects(t *testing.T) {
	srv := httptest.NewServer((&fakeKubo{status: http.StatusTooManyRequests}).handler(t))
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.UploadBinary(context.Background(), "x", []byte("x"))
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "upload_binary", storeErr.Op)
	assert.Contains(t, err.Error(), "429")
}

func TestUpload_ContentAddressMismatch(t *testing.T) {
	other, err := rawCID([]byte("something else"))
	require.NoError(t, err)
	srv := httptest.NewServer((&fakeKubo{override: other.String()}).handler(t))
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err = c.UploadBinary(context.Background(), "x", []byte("x"))
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestUpload_InvalidContentAddress(t *testing.T) {
	srv := httptest.NewServer((&fakeKubo{override: "not-a-cid"}).handler(t))
	defer srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.UploadBinary(context.Background(), "x", []byte("x"))
	var storeErr *Error
	assert.ErrorAs(t, err, &storeErr)
}

func TestUpload_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := newTestClient(srv.URL)

	_, err := c.UploadBinary(context.Background(), "x", []byte("x"))
	var storeErr *Error
	assert.ErrorAs(t, err, &storeErr)
}

func TestUpload_BasicAuth(t *testing.T) {
	kubo := &fakeKubo{}
	srv := httptest.NewServer(kubo.handler(t))
	defer srv.Close()

	c := NewClient(Config{
		APIURL:        srv.URL,
		GatewayURL:    "https://gateway.test/ipfs",
		ProjectID:     "project",
		ProjectSecret: "secret",
	}, nil, nil, discardLogger())

	_, err := c.UploadBinary(context.Background(), "x", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "project", kubo.lastUser)
	assert.Equal(t, "secret", kubo.lastPass)
}

func TestFetchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"name":"Art1","description":"desc","image":"L"}`))
		case "/garbage":
			w.Write([]byte(`<html>`))
		case "/big":
			w.Write([]byte(`{"name":"` + strings.Repeat("a", 100) + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, GatewayURL: srv.URL, MaxMetadataBytes: 64}, nil, nil, discardLogger())
	ctx := context.Background()

	md, err := c.FetchMetadata(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, &Metadata{Name: "Art1", Description: "desc", Image: "L"}, md)

	for _, path := range []string{"/missing", "/garbage", "/big"} {
		_, err := c.FetchMetadata(ctx, srv.URL+path)
		var storeErr *Error
		require.ErrorAs(t, err, &storeErr, path)
		assert.Equal(t, srv.URL+path, storeErr.URI)
	}

	_, err = c.FetchMetadata(ctx, "")
	assert.Error(t, err)
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Op: "upload_json", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "storage upload_json: boom", err.Error())
}
