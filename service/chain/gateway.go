package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BoundContract is the subset of *bind.BoundContract the gateway needs.
// This allows us to fake the contract in tests without a node.
type BoundContract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// ReceiptFetcher looks up transaction receipts. *ethclient.Client satisfies it.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Gateway is the read mode of the marketplace contract. It carries no
// signer, so browsing never requires a connected wallet.
type Gateway struct {
	address  common.Address
	contract BoundContract
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewGateway binds the fixed marketplace address for reading.
// If metrics is nil, no metrics will be recorded.
func NewGateway(address common.Address, contract BoundContract, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		address:  address,
		contract: contract,
		metrics:  m,
		logger:   logger,
	}
}

// Address returns the bound contract address.
func (g *Gateway) Address() common.Address {
	return g.address
}

// WriterConfig tunes confirmation waiting for write mode.
type WriterConfig struct {
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration // first receipt poll delay, grows exponentially
	MaxPollInterval     time.Duration
}

// Writer is the write mode of the marketplace contract, bound to a signer.
type Writer struct {
	*Gateway
	opts     *bind.TransactOpts
	receipts ReceiptFetcher
	cfg      WriterConfig
}

// WithSigner returns a write-mode gateway that signs with opts.
func (g *Gateway) WithSigner(opts *bind.TransactOpts, receipts ReceiptFetcher, cfg WriterConfig) *Writer {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = 10 * time.Second
	}
	return &Writer{
		Gateway:  g,
		opts:     opts,
		receipts: receipts,
		cfg:      cfg,
	}
}

// From returns the signing account.
func (w *Writer) From() common.Address {
	return w.opts.From
}

// GetListingFee reads the fee the contract charges to create a listing.
// Callers must fetch it right before each write since it can change.
func (g *Gateway) GetListingFee(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "getListingPrice"); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &ReadError{Method: "getListingPrice", Err: errors.New("empty result")}
	}
	fee := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return fee, nil
}

// FetchAllListings returns the unsold market items in contract order.
func (g *Gateway) FetchAllListings(ctx context.Context) ([]Listing, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "fetchMarketItems"); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return []Listing{}, nil
	}

	raw := *abi.ConvertType(out[0], new([]rawMarketItem)).(*[]rawMarketItem)
	listings := make([]Listing, 0, len(raw))
	for _, item := range raw {
		listings = append(listings, item.toDomain())
	}

	g.logger.DebugContext(ctx, "fetched market items", "count", len(listings))
	return listings, nil
}

// ResolveTokenURI returns the metadata locator recorded for tokenID.
func (g *Gateway) ResolveTokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	var out []interface{}
	if err := g.call(ctx, &out, "tokenURI", tokenID); err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", &ReadError{Method: "tokenURI", Err: errors.New("empty result")}
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (g *Gateway) call(ctx context.Context, out *[]interface{}, method string, params ...interface{}) error {
	start := time.Now()
	err := g.contract.Call(&bind.CallOpts{Context: ctx}, out, method, params...)
	g.metrics.RecordContractCall(method, time.Since(start).Seconds(), err)
	if err != nil {
		g.logger.ErrorContext(ctx, "contract call failed",
			"method", method,
			"contract", g.address.Hex(),
			"error", err,
		)
		return &ReadError{Method: method, Err: err}
	}
	return nil
}

// CreateListing submits a new listing (createToken) or, when opts.IsResale is
// set, relists an existing token (resellToken). The current listing fee is
// read first and attached as value. It returns only after the transaction is
// mined with a successful status.
func (w *Writer) CreateListing(ctx context.Context, uri string, price *big.Int, opts ListingOptions) (*Receipt, error) {
	method := "createToken"
	args := []interface{}{uri, price}
	if opts.IsResale {
		if opts.ExistingID == nil {
			return nil, &WriteError{Method: "resellToken", Err: errors.New("resale requires an existing token id")}
		}
		method = "resellToken"
		args = []interface{}{opts.ExistingID, price}
	}
	if price == nil || price.Sign() <= 0 {
		return nil, &WriteError{Method: method, Err: fmt.Errorf("%w: price must be positive", ErrInvalidPrice)}
	}

	fee, err := w.GetListingFee(ctx)
	if err != nil {
		return nil, &WriteError{Method: method, Err: err}
	}

	txOpts := *w.opts
	txOpts.Context = ctx
	txOpts.Value = fee

	start := time.Now()
	tx, err := w.contract.Transact(&txOpts, method, args...)
	w.metrics.RecordContractCall(method, time.Since(start).Seconds(), err)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to send transaction",
			"method", method,
			"from", w.opts.From.Hex(),
			"error", err,
		)
		return nil, &WriteError{Method: method, Err: err}
	}

	txHash := tx.Hash()
	w.logger.InfoContext(ctx, "transaction sent, awaiting confirmation",
		"method", method,
		"tx", txHash.Hex(),
		"fee_wei", fee.String(),
		"price_wei", price.String(),
	)

	receipt, err := w.waitConfirmed(ctx, method, txHash)
	if err != nil {
		return nil, &WriteError{Method: method, TxHash: &txHash, Err: err}
	}

	result := &Receipt{
		TxHash:  txHash,
		Fee:     fee,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if opts.IsResale {
		result.TokenID = opts.ExistingID
	} else {
		result.TokenID = w.mintedTokenID(receipt)
	}

	w.logger.InfoContext(ctx, "transaction confirmed",
		"method", method,
		"tx", txHash.Hex(),
		"block", result.BlockNumber,
		"token_id", result.TokenID,
	)
	return result, nil
}

// ResellToken relists tokenID at price.
func (w *Writer) ResellToken(ctx context.Context, tokenID, price *big.Int) (*Receipt, error) {
	return w.CreateListing(ctx, "", price, ListingOptions{IsResale: true, ExistingID: tokenID})
}

var errPending = errors.New("receipt not available yet")

// waitConfirmed polls for the receipt with exponential backoff until it
// arrives or the confirmation timeout elapses.
func (w *Writer) waitConfirmed(ctx context.Context, method string, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConfirmationTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.PollInterval
	b.MaxInterval = w.cfg.MaxPollInterval
	b.MaxElapsedTime = 0 // bounded by ctx

	start := time.Now()
	var receipt *types.Receipt
	err := backoff.Retry(func() error {
		r, err := w.receipts.TransactionReceipt(ctx, txHash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				w.logger.WarnContext(ctx, "receipt lookup failed, retrying",
					"tx", txHash.Hex(),
					"error", err,
				)
			}
			return errPending
		}
		receipt = r
		return nil
	}, backoff.WithContext(b, ctx))
	waited := time.Since(start).Seconds()

	if err != nil {
		w.metrics.RecordConfirmationWait(method, "timeout", waited)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrConfirmationTimeout, w.cfg.ConfirmationTimeout)
		}
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		w.metrics.RecordConfirmationWait(method, "reverted", waited)
		return nil, ErrReverted
	}

	w.metrics.RecordConfirmationWait(method, "confirmed", waited)
	return receipt, nil
}

// mintedTokenID extracts the token id from the ERC-721 mint Transfer log.
func (w *Writer) mintedTokenID(receipt *types.Receipt) *big.Int {
	parsed, err := ParsedABI()
	if err != nil {
		return nil
	}
	transferID := parsed.Events["Transfer"].ID
	for _, log := range receipt.Logs {
		if log == nil || log.Address != w.address || len(log.Topics) != 4 {
			continue
		}
		if log.Topics[0] != transferID || log.Topics[1] != (common.Hash{}) {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[3].Bytes())
	}
	return nil
}
