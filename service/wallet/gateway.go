package wallet

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/brojonat/nftmarket/service/config"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Gateway exposes the account lifecycle on top of an optional Provider.
type Gateway struct {
	provider Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewGateway wraps provider, which may be nil when no wallet is configured.
// If metrics is nil, no metrics will be recorded.
func NewGateway(provider Provider, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{provider: provider, metrics: m, logger: logger}
}

// NewProviderFromConfig builds the provider selected by configuration.
// It returns nil, nil when no wallet is configured.
func NewProviderFromConfig(cfg *config.Config) (Provider, error) {
	switch {
	case cfg.WalletKeystoreDir != "":
		return NewKeystoreProvider(cfg.WalletKeystoreDir)
	case cfg.WalletMnemonic != "":
		return NewMnemonicProvider(cfg.WalletMnemonic)
	default:
		return nil, nil
	}
}

// DetectCapability reports whether a signing capability exists.
func (g *Gateway) DetectCapability() bool {
	return g.provider != nil
}

// CurrentAccount returns the first already-authorized account, or "" when
// none is. It never prompts.
func (g *Gateway) CurrentAccount(ctx context.Context) (string, error) {
	if !g.DetectCapability() {
		return "", ErrCapabilityMissing
	}
	accts, err := g.provider.Accounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accts) == 0 {
		return "", nil
	}
	return accts[0].Hex(), nil
}

// RequestConnection prompts through approve and returns the first authorized
// account. A denial is terminal for this call; callers may ask again.
func (g *Gateway) RequestConnection(ctx context.Context, approve Approver) (string, error) {
	if !g.DetectCapability() {
		g.metrics.RecordWalletConnection("missing")
		return "", ErrCapabilityMissing
	}

	accts, err := g.provider.RequestAccounts(ctx, approve)
	if err != nil {
		if errors.Is(err, ErrDenied) {
			g.metrics.RecordWalletConnection("denied")
			g.logger.InfoContext(ctx, "wallet connection denied", "provider", g.provider.Name())
		} else {
			g.metrics.RecordWalletConnection("error")
			g.logger.ErrorContext(ctx, "wallet connection failed", "provider", g.provider.Name(), "error", err)
		}
		return "", err
	}
	if len(accts) == 0 {
		g.metrics.RecordWalletConnection("denied")
		return "", ErrDenied
	}

	g.metrics.RecordWalletConnection("connected")
	g.logger.InfoContext(ctx, "wallet connected",
		"provider", g.provider.Name(),
		"account", accts[0].Hex(),
	)
	return accts[0].Hex(), nil
}

// Signer returns transaction options for account on chainID.
func (g *Gateway) Signer(ctx context.Context, account string, chainID *big.Int) (*bind.TransactOpts, error) {
	if !g.DetectCapability() {
		return nil, ErrCapabilityMissing
	}
	if !common.IsHexAddress(account) {
		return nil, ErrUnknownAccount
	}
	return g.provider.Signer(ctx, common.HexToAddress(account), chainID)
}

// Preauthorize restores an authorization granted through configuration so
// the process starts connected. Keystore wallets stay locked without a
// passphrase. It reports whether an account was authorized.
func Preauthorize(p Provider, passphrase string) (bool, error) {
	switch p := p.(type) {
	case *KeystoreProvider:
		if passphrase == "" {
			return false, nil
		}
		return true, p.Preauthorize(passphrase)
	case *MnemonicProvider:
		return true, p.Preauthorize()
	default:
		return false, nil
	}
}
