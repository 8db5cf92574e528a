package market

import (
	"math/big"
	"strings"

	"github.com/brojonat/nftmarket/service/chain"
)

// State is the wallet connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// CreateInput is what a user fills in to mint and list a token.
type CreateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"` // human decimal, e.g. "0.025"
	Image       string `json:"image"` // locator returned by UploadAsset
}

// Validate reports the first missing or malformed field.
func (in CreateInput) Validate() error {
	_, err := in.validate()
	return err
}

// validate checks required fields and parses the price. It never touches the network.
func (in CreateInput) validate() (*big.Int, error) {
	for _, f := range []struct{ name, value string }{
		{"name", in.Name},
		{"description", in.Description},
		{"price", in.Price},
		{"image", in.Image},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, &ValidationError{Field: f.name, Reason: "is required"}
		}
	}
	return parsePrice(in.Price)
}

func parsePrice(price string) (*big.Int, error) {
	if strings.TrimSpace(price) == "" {
		return nil, &ValidationError{Field: "price", Reason: "is required"}
	}
	wei, err := chain.ToWei(price)
	if err != nil {
		return nil, &ValidationError{Field: "price", Reason: err.Error()}
	}
	if wei.Sign() <= 0 {
		return nil, &ValidationError{Field: "price", Reason: "must be greater than zero"}
	}
	return wei, nil
}

// CreateResult is returned once a listing is confirmed on-chain.
type CreateResult struct {
	TokenID     string `json:"token_id,omitempty"`
	TokenURI    string `json:"token_uri"`
	Price       string `json:"price"`
	PriceWei    string `json:"price_wei"`
	FeeWei      string `json:"fee_wei"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Seller      string `json:"seller"`
}

// MarketItem joins an on-chain listing with its off-chain metadata.
// Exactly one of the metadata fields or Err is meaningful.
type MarketItem struct {
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
	Err         error  `json:"-"`
}

func newMarketItem(l chain.Listing) MarketItem {
	item := MarketItem{
		Seller:   l.Seller.Hex(),
		Owner:    l.Owner.Hex(),
		Price:    chain.FromWei(l.Price),
		PriceWei: "0",
		Sold:     l.Sold,
	}
	if l.TokenID != nil {
		item.TokenID = l.TokenID.String()
	}
	if l.Price != nil {
		item.PriceWei = l.Price.String()
	}
	return item
}
