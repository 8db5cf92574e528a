package market

import (
	"errors"
	"fmt"

	"github.com/brojonat/nftmarket/service/chain"
	"github.com/brojonat/nftmarket/service/storage"
	"github.com/brojonat/nftmarket/service/wallet"
)

var (
	// ErrNotConnected means a write was attempted without an authorized account.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrConnectPending means another connection prompt is still open.
	ErrConnectPending = errors.New("a connection request is already pending")

	// ErrCapabilityMissing means no wallet is configured.
	ErrCapabilityMissing = wallet.ErrCapabilityMissing

	// ErrDenied means the user refused the connection.
	ErrDenied = wallet.ErrDenied
)

// StorageError is an upload or metadata fetch failure.
type StorageError = storage.Error

// ChainWriteError is a rejected, reverted or unconfirmed transaction.
type ChainWriteError = chain.WriteError

// ChainReadError is a failed contract read.
type ChainReadError = chain.ReadError

// ValidationError reports a create input that never reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
