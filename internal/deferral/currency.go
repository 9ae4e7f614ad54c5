package deferral

import (
	"strings"

	"golang.org/x/text/currency"
)

const defaultPrecision int32 = 2

// CurrencyPrecision returns the ISO 4217 minor unit scale for code.
func CurrencyPrecision(code string) int32 {
	code = strings.TrimSpace(code)
	if code == "" {
		return defaultPrecision
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return defaultPrecision
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}
