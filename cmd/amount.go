package main

import (
	"math"
	"math/big"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var maxBaseUnits = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// parseAmount reads a token amount such as "2.5" and returns base units
// for an asset with the given decimals.
func parseAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, eris.Wrapf(err, "amount %q is not a number", s)
	}
	if d.IsNegative() {
		return 0, eris.Errorf("amount %q is negative", s)
	}
	base := d.Shift(int32(decimals))
	if !base.Equal(base.Truncate(0)) {
		return 0, eris.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	if base.GreaterThan(maxBaseUnits) {
		return 0, eris.Errorf("amount %q is too large", s)
	}
	return base.BigInt().Uint64(), nil
}

// formatAmount renders base units as a token amount.
func formatAmount(v uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -int32(decimals)).String()
}

func parseUint(s, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "%s %q", what, s)
	}
	return v, nil
}

var printer = message.NewPrinter(language.English)
