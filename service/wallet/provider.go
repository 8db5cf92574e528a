// Package wallet adapts local key stores into the signing capability the
// marketplace needs: list authorized accounts, ask for authorization, and
// produce a transaction signer.
package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrCapabilityMissing means no signing capability is configured.
	ErrCapabilityMissing = errors.New("no wallet available: configure WALLET_KEYSTORE_DIR or WALLET_MNEMONIC to connect")

	// ErrDenied means the user refused authorization or the unlock failed.
	ErrDenied = errors.New("wallet authorization denied")

	// ErrUnknownAccount means a signer was requested for an account the
	// provider has not authorized.
	ErrUnknownAccount = errors.New("account not authorized by wallet")
)

// Approval is the user's answer to an authorization prompt.
type Approval struct {
	Approved   bool
	Passphrase string // unlocks keystore accounts, ignored by mnemonic wallets
}

// Approver plays the role of the wallet's authorization dialog.
type Approver func(ctx context.Context) (Approval, error)

// Approve returns an Approver that always grants with the given passphrase.
func Approve(passphrase string) Approver {
	return func(context.Context) (Approval, error) {
		return Approval{Approved: true, Passphrase: passphrase}, nil
	}
}

// Deny returns an Approver that always refuses.
func Deny() Approver {
	return func(context.Context) (Approval, error) {
		return Approval{}, nil
	}
}

// Provider is a host signing capability.
type Provider interface {
	// Name identifies the provider kind in logs.
	Name() string

	// Accounts lists accounts already authorized. It never prompts.
	Accounts(ctx context.Context) ([]common.Address, error)

	// RequestAccounts prompts through approve and returns the authorized
	// accounts. A refusal returns ErrDenied.
	RequestAccounts(ctx context.Context, approve Approver) ([]common.Address, error)

	// Signer returns transaction options that sign as account.
	Signer(ctx context.Context, account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}
