package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMnemonic = "tag volcano eight thank tide danger coast health above argue embrace heavy"
	testAddress  = "0xC49926C4124cEe1cbA0Ea94Ea31a6c12318df947"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKeystore(t *testing.T, passphrase string) (*KeystoreProvider, common.Address) {
	t.Helper()
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	acct, err := ks.NewAccount(passphrase)
	require.NoError(t, err)
	return newKeystoreProvider(ks), acct.Address
}

func TestGateway_NoProvider(t *testing.T) {
	g := NewGateway(nil, nil, discardLogger())

	assert.False(t, g.DetectCapability())

	_, err := g.CurrentAccount(context.Background())
	assert.ErrorIs(t, err, ErrCapabilityMissing)

	_, err = g.RequestConnection(context.Background(), Approve(""))
	assert.ErrorIs(t, err, ErrCapabilityMissing)
}

func TestMnemonicProvider_Connect(t *testing.T) {
	p, err := NewMnemonicProvider(testMnemonic)
	require.NoError(t, err)
	g := NewGateway(p, nil, discardLogger())
	ctx := context.Background()

	// Nothing is authorized before the prompt.
	acct, err := g.CurrentAccount(ctx)
	require.NoError(t, err)
	assert.Empty(t, acct)

	acct, err = g.RequestConnection(ctx, Approve(""))
	require.NoError(t, err)
	assert.Equal(t, testAddress, acct)

	// Now it is reported without prompting.
	current, err := g.CurrentAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, current)
}

func TestMnemonicProvider_Denied(t *testing.T) {
	p, err := NewMnemonicProvider(testMnemonic)
	require.NoError(t, err)
	g := NewGateway(p, nil, discardLogger())

	_, err = g.RequestConnection(context.Background(), Deny())
	assert.ErrorIs(t, err, ErrDenied)

	acct, err := g.CurrentAccount(context.Background())
	require.NoError(t, err)
	assert.Empty(t, acct)
}

func TestMnemonicProvider_InvalidMnemonic(t *testing.T) {
	_, err := NewMnemonicProvider("not a real mnemonic")
	assert.Error(t, err)
}

func TestMnemonicProvider_SignerSigns(t *testing.T) {
	p, err := NewMnemonicProvider(testMnemonic)
	require.NoError(t, err)
	require.NoError(t, p.Preauthorize())

	chainID := big.NewInt(31337)
	addr := common.HexToAddress(testAddress)
	opts, err := p.Signer(context.Background(), addr, chainID)
	require.NoError(t, err)
	assert.Equal(t, addr, opts.From)

	tx := types.NewTx(&types.DynamicFeeTx{ChainID: chainID, Nonce: 0, Gas: 21000})
	signed, err := opts.Signer(addr, tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, addr, sender)
}

func TestMnemonicProvider_SignerAfterConnection(t *testing.T) {
	p, err := NewMnemonicProvider(testMnemonic)
	require.NoError(t, err)
	g := NewGateway(p, nil, discardLogger())

	account, err := g.RequestConnection(context.Background(), Approve(""))
	require.NoError(t, err)
	require.Equal(t, testAddress, account)

	opts, err := p.Signer(context.Background(), common.HexToAddress(account), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), opts.From)
}

func TestMnemonicProvider_SignerRequiresAuthorization(t *testing.T) {
	p, err := NewMnemonicProvider(testMnemonic)
	require.NoError(t, err)

	_, err = p.Signer(context.Background(), common.HexToAddress(testAddress), big.NewInt(1))
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestKeystoreProvider_Connect(t *testing.T) {
	p, addr := newTestKeystore(t, "secret")
	g := NewGateway(p, nil, discardLogger())
	ctx := context.Background()

	acct, err := g.RequestConnection(ctx, Approve("secret"))
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), acct)

	opts, err := g.Signer(ctx, acct, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, addr, opts.From)
}

func TestKeystoreProvider_WrongPassphraseIsDenied(t *testing.T) {
	p, _ := newTestKeystore(t, "secret")
	g := NewGateway(p, nil, discardLogger())

	_, err := g.RequestConnection(context.Background(), Approve("wrong"))
	assert.ErrorIs(t, err, ErrDenied)

	acct, err := g.CurrentAccount(context.Background())
	require.NoError(t, err)
	assert.Empty(t, acct)
}

func TestApproverError_Propagates(t *testing.T) {
	p, _ := newTestKeystore(t, "secret")
	g := NewGateway(p, nil, discardLogger())
	boom := errors.New("dialog closed")

	_, err := g.RequestConnection(context.Background(), func(context.Context) (Approval, error) {
		return Approval{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPreauthorize(t *testing.T) {
	ctx := context.Background()

	t.Run("keystore without passphrase stays locked", func(t *testing.T) {
		p, _ := newTestKeystore(t, "secret")
		ok, err := Preauthorize(p, "")
		require.NoError(t, err)
		assert.False(t, ok)

		acct, err := NewGateway(p, nil, discardLogger()).CurrentAccount(ctx)
		require.NoError(t, err)
		assert.Empty(t, acct)
	})

	t.Run("keystore with passphrase", func(t *testing.T) {
		p, addr := newTestKeystore(t, "secret")
		ok, err := Preauthorize(p, "secret")
		require.NoError(t, err)
		assert.True(t, ok)

		acct, err := NewGateway(p, nil, discardLogger()).CurrentAccount(ctx)
		require.NoError(t, err)
		assert.Equal(t, addr.Hex(), acct)
	})

	t.Run("keystore with wrong passphrase", func(t *testing.T) {
		p, _ := newTestKeystore(t, "secret")
		_, err := Preauthorize(p, "wrong")
		assert.ErrorIs(t, err, ErrDenied)
	})

	t.Run("mnemonic", func(t *testing.T) {
		p, err := NewMnemonicProvider(testMnemonic)
		require.NoError(t, err)
		ok, err := Preauthorize(p, "")
		require.NoError(t, err)
		assert.True(t, ok)

		acct, err := NewGateway(p, nil, discardLogger()).CurrentAccount(ctx)
		require.NoError(t, err)
		assert.Equal(t, testAddress, acct)
	})

	t.Run("no provider", func(t *testing.T) {
		ok, err := Preauthorize(nil, "secret")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
