package billing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// Money is an amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", errors.Join(ErrInvalidCurrency, fmt.Errorf("%q: %w", code, err))
	}
	return unit.String(), nil
}

// IsZero reports whether no price is set.
func (m Money) IsZero() bool {
	return m.Amount == 0 && m.Currency == ""
}

// String formats the amount with the currency's standard number of decimals,
// e.g. "9.99 USD" or "1200 JPY".
func (m Money) String() string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return fmt.Sprintf("%d %s", m.Amount, strings.ToUpper(m.Currency))
	}
	scale, _ := currency.Standard.Rounding(unit)
	if scale == 0 {
		return fmt.Sprintf("%d %s", m.Amount, unit)
	}
	return fmt.Sprintf("%.*f %s", scale, float64(m.Amount)/math.Pow10(scale), unit)
}
