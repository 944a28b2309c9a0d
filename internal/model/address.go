package model

import (
	"strings"

	"github.com/sells-group/pulse-cli/internal/addr"
)

// Address identifies an agent, an owner, or a payment destination.
type Address string

// ZeroAddress is the null identity. Payment destinations may never be zero.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// ParseAddress normalizes s into an Address.
func ParseAddress(s string) (Address, error) {
	n, err := addr.Normalize(s)
	if err != nil {
		return "", err
	}
	return Address(n), nil
}

// MustAddress is ParseAddress for literals; it panics on a blank string.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is empty or consists only of zero digits.
func (a Address) IsZero() bool {
	s := strings.TrimPrefix(string(a), "0x")
	return strings.Trim(s, "0") == ""
}

func (a Address) String() string {
	return string(a)
}
