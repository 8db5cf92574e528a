package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a marketplace item as recorded on-chain.
// This is our domain model, independent of the ABI tuple layout.
type Listing struct {
	TokenID *big.Int
	Seller  common.Address
	Owner   common.Address
	Price   *big.Int // wei
	Sold    bool
}

// rawMarketItem mirrors the MarketItem tuple. Field order must match the ABI
// components because go-ethereum copies tuples field by field.
type rawMarketItem struct {
	TokenId *big.Int
	Seller  common.Address
	Owner   common.Address
	Price   *big.Int
	Sold    bool
}

func (r rawMarketItem) toDomain() Listing {
	return Listing{
		TokenID: r.TokenId,
		Seller:  r.Seller,
		Owner:   r.Owner,
		Price:   r.Price,
		Sold:    r.Sold,
	}
}

// ListingOptions selects between a new listing and a resale of an existing token.
type ListingOptions struct {
	IsResale   bool
	ExistingID *big.Int // required when IsResale
}

// Receipt is the confirmed outcome of a listing write.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Fee         *big.Int // listing fee attached as value
	TokenID     *big.Int // minted token id, nil when no mint log was found
	GasUsed     uint64
}

var (
	// ErrReverted means the transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")

	// ErrConfirmationTimeout means no receipt arrived before the deadline.
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
)

// WriteError reports a failed state-changing contract call: signer rejection,
// send failure, revert or confirmation timeout.
type WriteError struct {
	Method string
	TxHash *common.Hash // set once the transaction was broadcast
	Err    error
}

func (e *WriteError) Error() string {
	if e.TxHash != nil {
		return fmt.Sprintf("chain write %s (tx %s): %v", e.Method, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("chain write %s: %v", e.Method, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports a failed read-only contract call.
type ReadError struct {
	Method string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Method, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
