package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

// KeystoreProvider signs with the first account of an encrypted go-ethereum
// keystore directory. Authorization means unlocking it with a passphrase.
type KeystoreProvider struct {
	ks *keystore.KeyStore

	mu         sync.RWMutex
	authorized []common.Address
}

// NewKeystoreProvider opens the keystore at dir with standard scrypt parameters.
func NewKeystoreProvider(dir string) (*KeystoreProvider, error) {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	if len(ks.Accounts()) == 0 {
		return nil, fmt.Errorf("keystore %s contains no accounts", dir)
	}
	return newKeystoreProvider(ks), nil
}

func newKeystoreProvider(ks *keystore.KeyStore) *KeystoreProvider {
	return &KeystoreProvider{ks: ks}
}

func (p *KeystoreProvider) Name() string { return "keystore" }

func (p *KeystoreProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]common.Address, len(p.authorized))
	copy(out, p.authorized)
	return out, nil
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context, approve Approver) ([]common.Address, error) {
	approval, err := approve(ctx)
	if err != nil {
		return nil, err
	}
	if !approval.Approved {
		return nil, ErrDenied
	}
	if err := p.Preauthorize(approval.Passphrase); err != nil {
		return nil, err
	}
	return p.Accounts(ctx)
}

// Preauthorize unlocks the first account without a prompt, so that later
// Accounts calls report it. Worker processes use it at start-up.
func (p *KeystoreProvider) Preauthorize(passphrase string) error {
	all := p.ks.Accounts()
	if len(all) == 0 {
		return ErrCapabilityMissing
	}
	first := all[0]
	if err := p.ks.Unlock(first, passphrase); err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return fmt.Errorf("%w: %v", ErrDenied, err)
		}
		return fmt.Errorf("failed to unlock %s: %w", first.Address.Hex(), err)
	}

	p.mu.Lock()
	p.authorized = []common.Address{first.Address}
	p.mu.Unlock()
	return nil
}

func (p *KeystoreProvider) Signer(ctx context.Context, account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	if !p.isAuthorized(account) {
		return nil, ErrUnknownAccount
	}
	opts, err := bind.NewKeyStoreTransactorWithChainID(p.ks, accounts.Account{Address: account}, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build keystore signer: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (p *KeystoreProvider) isAuthorized(account common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.authorized {
		if a == account {
			return true
		}
	}
	return false
}
