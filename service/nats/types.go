package nats

import (
	"time"

	"github.com/google/uuid"
)

// Event types. Each is published to "market.{type}".
const (
	// EventWalletConnected tells holders of chain-derived views to reload.
	EventWalletConnected = "wallet.connected"
	EventListingCreated  = "listing.created"
	EventListingResold   = "listing.resold"
)

// MarketEvent is the payload published for every marketplace event.
type MarketEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account"`

	// Listing fields, empty for wallet events.
	TokenID  string `json:"token_id,omitempty"`
	TokenURI string `json:"token_uri,omitempty"`
	Price    string `json:"price,omitempty"`
	PriceWei string `json:"price_wei,omitempty"`
	TxHash   string `json:"tx_hash,omitempty"`
	Block    uint64 `json:"block,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject this event is published on.
func (e *MarketEvent) Subject() string {
	return SubjectPrefix + e.Type
}

// NewWalletConnectedEvent builds the invalidate-cached-reads signal.
func NewWalletConnectedEvent(account string) *MarketEvent {
	return &MarketEvent{
		ID:          uuid.NewString(),
		Type:        EventWalletConnected,
		Account:     account,
		PublishedAt: time.Now().UTC(),
	}
}

// NewListingEvent builds a listing.created or listing.resold event.
func NewListingEvent(eventType, account, tokenID, tokenURI, price, priceWei, txHash string, block uint64) *MarketEvent {
	return &MarketEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Account:     account,
		TokenID:     tokenID,
		TokenURI:    tokenURI,
		Price:       price,
		PriceWei:    priceWei,
		TxHash:      txHash,
		Block:       block,
		PublishedAt: time.Now().UTC(),
	}
}
