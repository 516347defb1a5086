package protocol

import (
	"fmt"
	"math/big"
	"regexp"
)

// TokenAmount is an unsigned integer count of base units (no decimal point,
// no sign). The wire format is a decimal string so large values survive
// JSON's float64 round-trip unscathed; internally it is a big.Int.
type TokenAmount struct {
	value *big.Int
}

var decimalAmountRe = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// ZeroAmount is the additive identity, useful as a sentinel for "no amount
// parsed yet" without risking a nil pointer dereference.
func ZeroAmount() TokenAmount {
	return TokenAmount{value: big.NewInt(0)}
}

// ParseAmount parses a decimal base-unit string. Leading zeros (other than
// the literal "0"), signs, and decimal points are all rejected — this is a
// count of the smallest unit, not a human-readable token quantity.
func ParseAmount(s string) (TokenAmount, error) {
	if !decimalAmountRe.MatchString(s) {
		return TokenAmount{}, fmt.Errorf("protocol: invalid amount %q", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return TokenAmount{}, fmt.Errorf("protocol: invalid amount %q", s)
	}
	return TokenAmount{value: v}, nil
}

// AmountFromUint64 wraps a uint64 as a TokenAmount.
func AmountFromUint64(v uint64) TokenAmount {
	return TokenAmount{value: new(big.Int).SetUint64(v)}
}

// String renders the amount as its canonical decimal base-unit string.
func (a TokenAmount) String() string {
	if a.value == nil {
		return "0"
	}
	return a.value.String()
}

// BigInt returns a copy of the underlying big.Int so callers cannot mutate
// the TokenAmount through the returned pointer.
func (a TokenAmount) BigInt() *big.Int {
	if a.value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.value)
}

// Cmp compares two amounts the way big.Int.Cmp does.
func (a TokenAmount) Cmp(other TokenAmount) int {
	return a.BigInt().Cmp(other.BigInt())
}

// GreaterThanOrEqual reports whether a >= other, the comparison verify uses
// to check the payer's balance covers the required amount.
func (a TokenAmount) GreaterThanOrEqual(other TokenAmount) bool {
	return a.Cmp(other) >= 0
}

// IsZero reports whether the amount is exactly zero.
func (a TokenAmount) IsZero() bool {
	return a.value == nil || a.value.Sign() == 0
}

func (a TokenAmount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *TokenAmount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
