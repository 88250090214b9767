// Package pricing computes order totals, processing fees and currency
// resolution for the supported countries. All functions are pure.
package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/models"
)

// feeStructure is per-country processing fee: subtotal percentage plus fixed
type feeStructure struct {
	percentage decimal.Decimal
	fixed      decimal.Decimal
}

var feeStructures = map[string]feeStructure{
	"US": {percentage: decimal.NewFromFloat(0.029), fixed: decimal.NewFromFloat(0.30)},
	"IN": {percentage: decimal.NewFromFloat(0.02), fixed: decimal.Zero},
	"GB": {percentage: decimal.NewFromFloat(0.025), fixed: decimal.NewFromFloat(0.20)},
	"SG": {percentage: decimal.NewFromFloat(0.028), fixed: decimal.NewFromFloat(0.50)},
}

// baseline for unlisted countries
var defaultFeeStructure = feeStructures["US"]

var currencies = map[string]string{
	"US": "USD",
	"IN": "INR",
	"GB": "GBP",
	"SG": "SGD",
}

const defaultCurrency = "USD"

// Quote is computed monetary breakdown of an order
type Quote struct {
	ProcessingFee decimal.Decimal
	TotalAmount   decimal.Decimal
	Currency      string
}

// ComputeTotal computes processing fee, final total and currency for the
// given country. Inputs must be non-negative; outputs are rounded to two
// decimal places.
func ComputeTotal(subtotal, taxAmount, deliveryFee, discountAmount decimal.Decimal, countryCode string) (Quote, error) {
	for _, v := range []decimal.Decimal{subtotal, taxAmount, deliveryFee, discountAmount} {
		if v.IsNegative() {
			return Quote{}, models.ErrInvalidAmount
		}
	}

	fee := ProcessingFee(subtotal, countryCode)

	total := subtotal.Add(taxAmount).Add(deliveryFee).Add(fee).Sub(discountAmount).Round(2)

	return Quote{
		ProcessingFee: fee,
		TotalAmount:   total,
		Currency:      Currency(countryCode),
	}, nil
}

// ProcessingFee returns payment processing fee for subtotal in the given
// country, rounded to two decimal places
func ProcessingFee(subtotal decimal.Decimal, countryCode string) decimal.Decimal {
	structure, ok := feeStructures[countryCode]
	if !ok {
		structure = defaultFeeStructure
	}

	return subtotal.Mul(structure.percentage).Add(structure.fixed).Round(2)
}

// Currency resolves country code to its currency, defaulting to USD
func Currency(countryCode string) string {
	if currency, ok := currencies[countryCode]; ok {
		return currency
	}
	return defaultCurrency
}
