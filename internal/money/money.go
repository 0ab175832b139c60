package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when an amount is negative or carries more
// fractional precision than the currency allows.
var ErrInvalidAmount = errors.New("money: invalid amount")

// minorUnitExponents maps ISO 4217 currency codes to their minor-unit
// exponent where it differs from the common default of 2.
var minorUnitExponents = map[string]int32{
	"BHD": 3,
	"BIF": 0,
	"CLP": 0,
	"DJF": 0,
	"GNF": 0,
	"IQD": 3,
	"JOD": 3,
	"JPY": 0,
	"KMF": 0,
	"KRW": 0,
	"KWD": 3,
	"LYD": 3,
	"OMR": 3,
	"PYG": 0,
	"RWF": 0,
	"TND": 3,
	"UGX": 0,
	"VND": 0,
	"VUV": 0,
	"XAF": 0,
	"XOF": 0,
	"XPF": 0,
}

// Exponent returns the minor-unit exponent for the given currency code.
// Unknown currencies fall back to 2.
func Exponent(currency string) int32 {
	if exp, ok := minorUnitExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts a decimal amount string (e.g. "12.34") into the
// integer minor-unit value the gateway expects (1234 for USD).
func ToMinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	exp := Exponent(currency)
	scaled := d.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more precision than %s allows", ErrInvalidAmount, amount, strings.ToUpper(currency))
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts a minor-unit integer back to its decimal string
// representation in the currency's natural scale.
func FromMinorUnits(minor int64, currency string) (string, error) {
	if minor < 0 {
		return "", fmt.Errorf("%w: negative minor units %d", ErrInvalidAmount, minor)
	}
	exp := Exponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp), nil
}
