// Package addr normalizes agent addresses for the protocol model and the
// pulse client alike.
package addr

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrEmpty is returned when an address is blank after trimming.
var ErrEmpty = eris.New("empty address")

// Normalize trims whitespace and lower-cases an address. A leading 0x (in
// either case) is kept as a lower-case "0x".
func Normalize(address string) (string, error) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", ErrEmpty
	}
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return "0x" + strings.ToLower(a[2:]), nil
	}
	return strings.ToLower(a), nil
}
