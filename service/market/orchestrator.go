// Package market composes the wallet, the content store and the marketplace
// contract into the user-facing workflows: connect, create-and-list, resell
// and browse.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/nftmarket/service/chain"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/storage"
	"github.com/brojonat/nftmarket/service/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"golang.org/x/sync/errgroup"
)

// WalletGateway is the account lifecycle. *wallet.Gateway implements it.
type WalletGateway interface {
	DetectCapability() bool
	CurrentAccount(ctx context.Context) (string, error)
	RequestConnection(ctx context.Context, approve wallet.Approver) (string, error)
	Signer(ctx context.Context, account string, chainID *big.Int) (*bind.TransactOpts, error)
}

// ContentStore uploads content and fetches metadata. *storage.Client implements it.
type ContentStore interface {
	UploadBinary(ctx context.Context, name string, payload []byte) (string, error)
	UploadJSON(ctx context.Context, doc any) (string, error)
	FetchMetadata(ctx context.Context, uri string) (*storage.Metadata, error)
}

// ContractReader is the read mode of the contract. *chain.Gateway implements it.
type ContractReader interface {
	GetListingFee(ctx context.Context) (*big.Int, error)
	FetchAllListings(ctx context.Context) ([]chain.Listing, error)
	ResolveTokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

// ContractWriter is the write mode of the contract. *chain.Writer implements it.
type ContractWriter interface {
	CreateListing(ctx context.Context, uri string, price *big.Int, opts chain.ListingOptions) (*chain.Receipt, error)
}

// WriterFactory binds a signer into write mode.
type WriterFactory func(opts *bind.TransactOpts) ContractWriter

// Deps are the collaborators the orchestrator composes.
type Deps struct {
	Wallet    WalletGateway
	Store     ContentStore
	Reader    ContractReader
	NewWriter WriterFactory
	Events    nats.Publisher // optional
}

// Config tunes the orchestrator.
type Config struct {
	ChainID          *big.Int
	Currency         string
	FetchConcurrency int // 0 means unlimited
}

// Orchestrator is constructed once per process and shared by reference.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.RWMutex
	state       State
	account     string
	invalidates []func(account string)
}

// New creates an orchestrator in the Disconnected state.
// If metrics is nil, no metrics will be recorded.
func New(deps Deps, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "ETH"
	}
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1)
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		state:   Disconnected,
	}
}

// OnInvalidate registers fn to run after every successful connection.
// Holders of chain-derived views should drop them when it fires.
func (o *Orchestrator) OnInvalidate(fn func(account string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalidates = append(o.invalidates, fn)
}

// State returns the current connection state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// CurrentAccount returns the connected account, or "" when not connected.
func (o *Orchestrator) CurrentAccount() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.account
}

// Currency is the symbol prices are shown in.
func (o *Orchestrator) Currency() string {
	return o.cfg.Currency
}

// HasWallet reports whether a signing capability is configured.
func (o *Orchestrator) HasWallet() bool {
	return o.deps.Wallet.DetectCapability()
}

// Restore adopts an already-authorized account without prompting.
// It is a no-op when no wallet is configured or nothing is authorized.
func (o *Orchestrator) Restore(ctx context.Context) (string, error) {
	if !o.deps.Wallet.DetectCapability() {
		o.logger.InfoContext(ctx, "no wallet configured, browsing in read-only mode")
		return "", nil
	}
	account, err := o.deps.Wallet.CurrentAccount(ctx)
	if err != nil {
		return "", err
	}
	if account == "" {
		return "", nil
	}

	o.mu.Lock()
	if o.state == Disconnected {
		o.state = Connected
		o.account = account
	}
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "restored wallet connection", "account", account)
	return account, nil
}

// Connect asks the wallet for authorization. The state is Connecting while
// the prompt is open; success moves to Connected and fires the invalidate
// signal, anything else returns to Disconnected.
func (o *Orchestrator) Connect(ctx context.Context, approve wallet.Approver) (string, error) {
	if !o.deps.Wallet.DetectCapability() {
		return "", ErrCapabilityMissing
	}

	o.mu.Lock()
	if o.state == Connecting {
		o.mu.Unlock()
		return "", ErrConnectPending
	}
	o.state = Connecting
	o.account = ""
	o.mu.Unlock()

	account, err := o.deps.Wallet.RequestConnection(ctx, approve)

	o.mu.Lock()
	if err != nil || account == "" {
		o.state = Disconnected
		o.account = ""
		o.mu.Unlock()
		if err == nil {
			err = ErrDenied
		}
		return "", err
	}
	o.state = Connected
	o.account = account
	callbacks := make([]func(string), len(o.invalidates))
	copy(callbacks, o.invalidates)
	o.mu.Unlock()

	for _, fn := range callbacks {
		fn(account)
	}
	o.publish(ctx, nats.NewWalletConnectedEvent(account))
	return account, nil
}

// UploadAsset stores the raw asset and returns its locator. It needs no wallet.
func (o *Orchestrator) UploadAsset(ctx context.Context, name string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", &ValidationError{Field: "file", Reason: "is empty"}
	}
	return o.deps.Store.UploadBinary(ctx, name, payload)
}

// CreateNFT validates the input, uploads its metadata and submits the
// listing, then calls onCreated with the confirmed result. Nothing touches
// the network unless the input is valid and a wallet is connected, and the
// chain write only runs after the metadata upload succeeded.
func (o *Orchestrator) CreateNFT(ctx context.Context, in CreateInput, onCreated func(*CreateResult)) (*CreateResult, error) {
	if _, err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := o.requireConnected(); err != nil {
		return nil, err
	}

	tokenURI, err := o.PublishMetadata(ctx, in)
	if err != nil {
		return nil, err
	}

	result, err := o.SubmitListing(ctx, tokenURI, in.Price)
	if err != nil {
		return nil, err
	}

	if onCreated != nil {
		onCreated(result)
	}
	return result, nil
}

// PublishMetadata builds the metadata document for in and uploads it,
// returning the tokenURI. Identical input yields the same locator.
func (o *Orchestrator) PublishMetadata(ctx context.Context, in CreateInput) (string, error) {
	if _, err := in.validate(); err != nil {
		return "", err
	}
	doc := storage.Metadata{
		Name:        in.Name,
		Description: in.Description,
		Image:       in.Image,
	}
	return o.deps.Store.UploadJSON(ctx, doc)
}

// SubmitListing creates a listing for tokenURI at price and waits for
// confirmation.
func (o *Orchestrator) SubmitListing(ctx context.Context, tokenURI, price string) (*CreateResult, error) {
	if strings.TrimSpace(tokenURI) == "" {
		return nil, &ValidationError{Field: "token_uri", Reason: "is required"}
	}
	priceWei, err := parsePrice(price)
	if err != nil {
		return nil, err
	}
	return o.write(ctx, nats.EventListingCreated, tokenURI, priceWei, chain.ListingOptions{})
}

// ResellNFT relists an owned token at a new price.
func (o *Orchestrator) ResellNFT(ctx context.Context, tokenID, price string) (*CreateResult, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return nil, &ValidationError{Field: "token_id", Reason: fmt.Sprintf("%q is not a token id", tokenID)}
	}
	priceWei, err := parsePrice(price)
	if err != nil {
		return nil, err
	}
	return o.write(ctx, nats.EventListingResold, "", priceWei, chain.ListingOptions{IsResale: true, ExistingID: id})
}

func (o *Orchestrator) write(ctx context.Context, kind, tokenURI string, priceWei *big.Int, opts chain.ListingOptions) (*CreateResult, error) {
	account, err := o.requireConnected()
	if err != nil {
		return nil, err
	}

	method := "createToken"
	if opts.IsResale {
		method = "resellToken"
	}

	signer, err := o.deps.Wallet.Signer(ctx, account, o.cfg.ChainID)
	if err != nil {
		o.metrics.RecordListingSubmitted(kind, err)
		return nil, &ChainWriteError{Method: method, Err: err}
	}

	receipt, err := o.deps.NewWriter(signer).CreateListing(ctx, tokenURI, priceWei, opts)
	o.metrics.RecordListingSubmitted(kind, err)
	if err != nil {
		o.logger.ErrorContext(ctx, "listing failed",
			"kind", kind,
			"account", account,
			"token_uri", tokenURI,
			"error", err,
		)
		return nil, err
	}

	result := &CreateResult{
		TokenURI:    tokenURI,
		Price:       chain.FromWei(priceWei),
		PriceWei:    priceWei.String(),
		FeeWei:      receipt.Fee.String(),
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		Seller:      account,
	}
	switch {
	case receipt.TokenID != nil:
		result.TokenID = receipt.TokenID.String()
	case opts.ExistingID != nil:
		result.TokenID = opts.ExistingID.String()
	}

	o.logger.InfoContext(ctx, "listing confirmed",
		"kind", kind,
		"account", account,
		"token_id", result.TokenID,
		"tx", result.TxHash,
	)

	o.publish(ctx, nats.NewListingEvent(kind, account, result.TokenID, tokenURI,
		result.Price, result.PriceWei, result.TxHash, result.BlockNumber))
	return result, nil
}

func (o *Orchestrator) requireConnected() (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state != Connected || o.account == "" {
		return "", ErrNotConnected
	}
	return o.account, nil
}

// FetchNFTs reads every listing and joins it with its metadata. Lookups run
// concurrently; the result has one slot per listing in contract order, and a
// failed lookup is recorded on its own slot rather than failing the batch.
func (o *Orchestrator) FetchNFTs(ctx context.Context) ([]MarketItem, error) {
	start := time.Now()

	listings, err := o.deps.Reader.FetchAllListings(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]MarketItem, len(listings))
	var g errgroup.Group
	if o.cfg.FetchConcurrency > 0 {
		g.SetLimit(o.cfg.FetchConcurrency)
	}
	for i, l := range listings {
		g.Go(func() error {
			items[i] = o.fetchItem(ctx, l)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	o.metrics.RecordMarketItems(len(items)-failed, failed, time.Since(start).Seconds())
	if failed > 0 {
		o.logger.WarnContext(ctx, "some market items could not be resolved",
			"total", len(items),
			"failed", failed,
		)
	}
	return items, nil
}

func (o *Orchestrator) fetchItem(ctx context.Context, l chain.Listing) MarketItem {
	item := newMarketItem(l)
	if l.TokenID == nil {
		item.Err = &ChainReadError{Method: "tokenURI", Err: errors.New("listing has no token id")}
		return item
	}

	uri, err := o.deps.Reader.ResolveTokenURI(ctx, l.TokenID)
	if err != nil {
		item.Err = err
		return item
	}
	item.TokenURI = uri

	md, err := o.deps.Store.FetchMetadata(ctx, uri)
	if err != nil {
		item.Err = err
		return item
	}
	item.Name = md.Name
	item.Description = md.Description
	item.Image = md.Image
	return item
}

// publish emits event when a bus is configured. The operation that produced
// the event already succeeded, so failures are only logged.
func (o *Orchestrator) publish(ctx context.Context, event *nats.MarketEvent) {
	if o.deps.Events == nil {
		return
	}
	if err := o.deps.Events.Publish(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish market event",
			"type", event.Type,
			"id", event.ID,
			"error", err,
		)
	}
}
