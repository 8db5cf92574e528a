package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWei(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"listing price", "0.025", "25000000000000000"},
		{"whole", "1", "1000000000000000000"},
		{"smallest unit", "0.000000000000000001", "1"},
		{"trailing zeros beyond precision", "1.5000000000000000000000", "1500000000000000000"},
		{"zero", "0", "0"},
		{"surrounding space", " 2.5 ", "2500000000000000000"},
		{"exponent notation", "2.5e-3", "2500000000000000"},
		{"zero with huge exponent", "0e-50000000", "0"},
		{"largest uint256", "115792089237316195423570985008687907853269984665640564039457.584007913129639935", MaxWei.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToWei(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToWei_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"abc",
		"-1",
		"0.0000000000000000001", // 19 fractional digits
		"1.2.3",
		"1e-19",
		"115792089237316195423570985008687907853269984665640564039457.584007913129639936", // 2^256 wei
		"1e60",
		"1e10000000",
		"1" + strings.Repeat("0", 200),
	} {
		name := in
		if len(name) > 40 {
			name = name[:40]
		}
		t.Run(name, func(t *testing.T) {
			_, err := ToWei(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPrice)
		})
	}
}

func TestFromWei(t *testing.T) {
	assert.Equal(t, "0.025", FromWei(big.NewInt(25000000000000000)))
	assert.Equal(t, "1", FromWei(big.NewInt(1000000000000000000)))
	assert.Equal(t, "0.000000000000000001", FromWei(big.NewInt(1)))
	assert.Equal(t, "0", FromWei(nil))
}

func TestWeiRoundTrip(t *testing.T) {
	for _, in := range []string{
		"0.025",
		"1",
		"123456789.123456789123456789",
		"0.000000000000000001",
		"42.5",
	} {
		t.Run(in, func(t *testing.T) {
			wei, err := ToWei(in)
			require.NoError(t, err)
			assert.Equal(t, in, FromWei(wei))

			again, err := ToWei(FromWei(wei))
			require.NoError(t, err)
			assert.Equal(t, 0, wei.Cmp(again))
		})
	}
}

func TestToWei_PriceFitsContractArgument(t *testing.T) {
	wei, err := ToWei("115792089237316195423570985008687907853269984665640564039457.584007913129639935")
	require.NoError(t, err)

	parsed, err := ParsedABI()
	require.NoError(t, err)
	data, err := parsed.Pack("createToken", "ipfs://meta", wei)
	require.NoError(t, err)

	args, err := parsed.Methods["createToken"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, 0, wei.Cmp(args[1].(*big.Int)))
}
