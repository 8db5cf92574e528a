package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brojonat/nftmarket/service/market"
	"github.com/brojonat/nftmarket/service/wallet"
)

// maxAssetBytes bounds a single multipart upload.
const maxAssetBytes = 32 << 20

type walletResponse struct {
	Account   string `json:"account,omitempty"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Currency  string `json:"currency"`
	HasWallet bool   `json:"has_wallet"`

	// Invalidate tells the caller to drop any listings it has cached.
	Invalidate bool `json:"invalidate,omitempty"`
}

func walletToResponse(mkt Marketplace) walletResponse {
	state := mkt.State()
	return walletResponse{
		Account:   mkt.CurrentAccount(),
		Connected: state == market.Connected,
		State:     state.String(),
		Currency:  mkt.Currency(),
		HasWallet: mkt.HasWallet(),
	}
}

// handleGetWallet reports the connection state without prompting.
func handleGetWallet(mkt Marketplace) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, walletToResponse(mkt), http.StatusOK)
	})
}

type connectRequest struct {
	Approve    bool   `json:"approve"`
	Passphrase string `json:"passphrase,omitempty"`
}

// handleConnectWallet runs the interactive connect flow. The request body
// carries the user's decision, standing in for a wallet prompt.
func handleConnectWallet(mkt Marketplace, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		approve := wallet.Deny()
		if req.Approve {
			approve = wallet.Approve(req.Passphrase)
		}

		account, err := mkt.Connect(r.Context(), approve)
		if err != nil {
			logger.WarnContext(r.Context(), "wallet connection failed", "error", err)
			writeMarketError(w, err)
			return
		}

		logger.InfoContext(r.Context(), "wallet connected", "account", account)
		resp := walletToResponse(mkt)
		resp.Invalidate = true
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleUploadAsset stores the multipart "file" field and returns its locator.
func handleUploadAsset(mkt Marketplace, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAssetBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, "missing multipart field \"file\": "+err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		payload, err := io.ReadAll(file)
		if err != nil {
			writeError(w, "failed to read upload: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(payload) == 0 {
			writeError(w, "uploaded file is empty", http.StatusBadRequest)
			return
		}

		locator, err := mkt.UploadAsset(r.Context(), header.Filename, payload)
		if err != nil {
			logger.ErrorContext(r.Context(), "asset upload failed",
				"filename", header.Filename,
				"size", len(payload),
				"error", err,
			)
			writeMarketError(w, err)
			return
		}

		logger.InfoContext(r.Context(), "asset uploaded",
			"filename", header.Filename,
			"size", len(payload),
			"locator", locator,
		)
		writeJSON(w, map[string]string{"url": locator}, http.StatusCreated)
	})
}

// handleCreateListing publishes metadata and lists the token. With
// ?durable=true the work is handed to a workflow and 202 is returned.
func handleCreateListing(mkt Marketplace, workflows WorkflowClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in market.CreateInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		durable, _ := strconv.ParseBool(r.URL.Query().Get("durable"))
		if durable {
			if workflows == nil {
				writeError(w, "durable listing creation is not enabled", http.StatusServiceUnavailable)
				return
			}
			if err := in.Validate(); err != nil {
				writeMarketError(w, err)
				return
			}
			workflowID, err := workflows.StartCreateListing(r.Context(), in)
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start listing workflow", "error", err)
				writeError(w, "failed to start workflow", http.StatusInternalServerError)
				return
			}
			logger.InfoContext(r.Context(), "listing workflow started", "workflow_id", workflowID)
			w.Header().Set("Location", "/api/v1/listings/workflows/"+workflowID)
			writeJSON(w, map[string]string{"workflow_id": workflowID}, http.StatusAccepted)
			return
		}

		result, err := mkt.CreateNFT(r.Context(), in, func(res *market.CreateResult) {
			logger.InfoContext(r.Context(), "listing confirmed",
				"token_id", res.TokenID,
				"tx_hash", res.TxHash,
				"block", res.BlockNumber,
			)
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "listing creation failed", "name", in.Name, "error", err)
			writeMarketError(w, err)
			return
		}

		if result.TokenID != "" {
			w.Header().Set("Location", "/api/v1/listings/"+result.TokenID)
		}
		writeJSON(w, result, http.StatusCreated)
	})
}

// handleGetListingWorkflow reports a durable listing run.
func handleGetListingWorkflow(workflows WorkflowClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if workflows == nil {
			writeError(w, "durable listing creation is not enabled", http.StatusServiceUnavailable)
			return
		}
		workflowID := r.PathValue("workflow_id")
		if workflowID == "" {
			writeError(w, "workflow_id is required", http.StatusBadRequest)
			return
		}

		status, err := workflows.GetCreateListingStatus(r.Context(), workflowID)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get workflow status",
				"workflow_id", workflowID,
				"error", err,
			)
			writeError(w, "failed to get workflow status", http.StatusBadGateway)
			return
		}
		writeJSON(w, status, http.StatusOK)
	})
}

type resaleRequest struct {
	Price string `json:"price"`
}

// handleResellListing relists an owned token at a new price.
func handleResellListing(mkt Marketplace, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenID := r.PathValue("token_id")

		var req resaleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		result, err := mkt.ResellNFT(r.Context(), tokenID, req.Price)
		if err != nil {
			logger.ErrorContext(r.Context(), "resale failed", "token_id", tokenID, "error", err)
			writeMarketError(w, err)
			return
		}
		writeJSON(w, result, http.StatusOK)
	})
}

type marketItemResponse struct {
	market.MarketItem
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

type listingsResponse struct {
	Items []marketItemResponse `json:"items"`
	Count int                  `json:"count"`
}

// handleListListings returns every unsold listing. Items whose metadata
// could not be loaded are kept and carry their own error.
func handleListListings(mkt Marketplace, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items, err := mkt.FetchNFTs(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to fetch listings", "error", err)
			writeMarketError(w, err)
			return
		}

		resp := listingsResponse{Items: make([]marketItemResponse, 0, len(items)), Count: len(items)}
		for _, item := range items {
			out := marketItemResponse{MarketItem: item}
			if item.Err != nil {
				out.Error = item.Err.Error()
				out.ErrorKind = errorKind(item.Err)
			}
			resp.Items = append(resp.Items, out)
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// errorKind names the failure class a client can branch on.
func errorKind(err error) string {
	var (
		validationErr *market.ValidationError
		storageErr    *market.StorageError
		writeErr      *market.ChainWriteError
		readErr       *market.ChainReadError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.Is(err, market.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, market.ErrConnectPending):
		return "connect_pending"
	case errors.Is(err, market.ErrCapabilityMissing):
		return "capability_missing"
	case errors.Is(err, market.ErrDenied):
		return "denied"
	case errors.As(err, &storageErr):
		return "storage"
	case errors.As(err, &writeErr):
		return "chain_write"
	case errors.As(err, &readErr):
		return "chain_read"
	default:
		return "internal"
	}
}

func statusForKind(kind string) int {
	switch kind {
	case "validation":
		return http.StatusBadRequest
	case "not_connected", "connect_pending":
		return http.StatusConflict
	case "capability_missing":
		return http.StatusPreconditionFailed
	case "denied":
		return http.StatusForbidden
	case "storage", "chain_write", "chain_read":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeMarketError writes an orchestrator error with its kind.
func writeMarketError(w http.ResponseWriter, err error) {
	kind := errorKind(err)
	writeJSON(w, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	}, statusForKind(kind))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
