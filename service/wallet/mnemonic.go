package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// DefaultDerivationPath is the first account of the standard Ethereum BIP-44 tree.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// MnemonicProvider derives a single signing account from a BIP-39 mnemonic.
type MnemonicProvider struct {
	wallet *hdwallet.Wallet
	path   string

	mu         sync.RWMutex
	authorized bool
	account    accounts.Account
}

// NewMnemonicProvider validates the mnemonic. Nothing is derived until the
// user approves a connection.
func NewMnemonicProvider(mnemonic string) (*MnemonicProvider, error) {
	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet mnemonic: %w", err)
	}
	return &MnemonicProvider{wallet: w, path: DefaultDerivationPath}, nil
}

func (p *MnemonicProvider) Name() string { return "mnemonic" }

func (p *MnemonicProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.authorized {
		return nil, nil
	}
	return []common.Address{p.account.Address}, nil
}

func (p *MnemonicProvider) RequestAccounts(ctx context.Context, approve Approver) ([]common.Address, error) {
	approval, err := approve(ctx)
	if err != nil {
		return nil, err
	}
	if !approval.Approved {
		return nil, ErrDenied
	}
	if err := p.Preauthorize(); err != nil {
		return nil, err
	}
	return p.Accounts(ctx)
}

// Preauthorize derives and authorizes the account without a prompt.
func (p *MnemonicProvider) Preauthorize() error {
	path, err := hdwallet.ParseDerivationPath(p.path)
	if err != nil {
		return fmt.Errorf("invalid derivation path %s: %w", p.path, err)
	}
	account, err := p.wallet.Derive(path, true)
	if err != nil {
		return fmt.Errorf("failed to derive account: %w", err)
	}

	p.mu.Lock()
	p.authorized = true
	p.account = account
	p.mu.Unlock()
	return nil
}

func (p *MnemonicProvider) Signer(ctx context.Context, account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	p.mu.RLock()
	derived := p.account
	ok := p.authorized && derived.Address == account
	p.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAccount
	}

	// hdwallet looks the key up by the derivation path in the account URL.
	key, err := p.wallet.PrivateKey(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to load derived key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build mnemonic signer: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
