package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// MaxAmountBits is the widest amount the leaf encoding can carry (uint256).
const MaxAmountBits = 256

// Amount is an unsigned arbitrary-precision token amount.
// It serializes to JSON as a decimal string so it never passes through a float.
type Amount big.Int

// NewAmount copies v into a new Amount.
func NewAmount(v *big.Int) *Amount {
	if v == nil {
		return (*Amount)(new(big.Int))
	}
	return (*Amount)(new(big.Int).Set(v))
}

// NewAmountFromUint64 is a convenience constructor used mostly by tests.
func NewAmountFromUint64(v uint64) *Amount {
	return (*Amount)(new(big.Int).SetUint64(v))
}

// ParseAmount parses a base-10, non-negative integer string.
func ParseAmount(s string) (*Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("amount %q is not a non-negative base-10 integer", s)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a non-negative base-10 integer", s)
	}
	return (*Amount)(v), nil
}

// BigInt returns a copy of the underlying value.
func (a *Amount) BigInt() *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(a))
}

func (a *Amount) String() string {
	if a == nil {
		return "0"
	}
	return (*big.Int)(a).String()
}

// Cmp compares two amounts like big.Int.Cmp.
func (a *Amount) Cmp(other *Amount) int {
	return a.BigInt().Cmp(other.BigInt())
}

// FitsUint256 reports whether the amount can be encoded as a 32-byte word.
func (a *Amount) FitsUint256() bool {
	v := (*big.Int)(a)
	return a != nil && v.Sign() >= 0 && v.BitLen() <= MaxAmountBits
}

func (a *Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("amount cannot be null")
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}
