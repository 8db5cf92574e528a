package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the exponent between the native currency and wei.
const Decimals = 18

// ErrInvalidPrice is returned when a human price cannot be represented in wei.
var ErrInvalidPrice = errors.New("invalid price")

// MaxWei is the largest price a uint256 contract argument can carry.
var MaxWei = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const (
	// maxAmountLen bounds the input: a uint256 price fits in well under this.
	maxAmountLen = 128
	// maxWeiDigits is the digit count of MaxWei.
	maxWeiDigits = 78
)

var bigTen = big.NewInt(10)

// ToWei converts a human decimal string such as "0.025" into wei.
// Values with more than Decimals significant fractional digits are rejected
// rather than truncated. Trailing zeros do not count. Values above MaxWei
// are rejected rather than wrapped.
func ToWei(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidPrice)
	}
	if len(s) > maxAmountLen {
		return nil, fmt.Errorf("%w: amount longer than %d characters", ErrInvalidPrice, maxAmountLen)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidPrice, amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidPrice, amount)
	}
	if d.IsZero() {
		return new(big.Int), nil
	}

	// Work on coefficient and exponent directly so an exponent like 1e10000000
	// is rejected before anything of that size is built.
	coef, exp := d.Coefficient(), int64(d.Exponent())
	rem := new(big.Int)
	for {
		q, r := new(big.Int).QuoRem(coef, bigTen, rem)
		if r.Sign() != 0 {
			break
		}
		coef = q
		exp++
	}

	shift := exp + Decimals
	if shift < 0 {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidPrice, amount, Decimals)
	}
	if shift+int64(len(coef.String())) > maxWeiDigits {
		return nil, fmt.Errorf("%w: %q exceeds the maximum price", ErrInvalidPrice, amount)
	}

	wei := new(big.Int).Mul(coef, new(big.Int).Exp(bigTen, big.NewInt(shift), nil))
	if wei.Cmp(MaxWei) > 0 {
		return nil, fmt.Errorf("%w: %q exceeds the maximum price", ErrInvalidPrice, amount)
	}
	return wei, nil
}

// FromWei renders wei as a human decimal string with no trailing zeros.
func FromWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -Decimals).String()
}
