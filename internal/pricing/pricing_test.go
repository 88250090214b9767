package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/skalov/mealmart/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeTotal(t *testing.T) {
	tests := []struct {
		name              string
		subtotal          string
		taxAmount         string
		deliveryFee       string
		discountAmount    string
		countryCode       string
		wantProcessingFee string
		wantTotal         string
		wantCurrency      string
	}{
		{
			name:              "us_card_fee",
			subtotal:          "25.98",
			taxAmount:         "2.08",
			deliveryFee:       "2.99",
			discountAmount:    "0",
			countryCode:       "US",
			wantProcessingFee: "1.05",
			wantTotal:         "32.10",
			wantCurrency:      "USD",
		},
		{
			name:              "india_percentage_only",
			subtotal:          "100.00",
			taxAmount:         "5.00",
			deliveryFee:       "0",
			discountAmount:    "0",
			countryCode:       "IN",
			wantProcessingFee: "2.00",
			wantTotal:         "107.00",
			wantCurrency:      "INR",
		},
		{
			name:              "uk_with_discount",
			subtotal:          "40.00",
			taxAmount:         "8.00",
			deliveryFee:       "3.50",
			discountAmount:    "5.00",
			countryCode:       "GB",
			wantProcessingFee: "1.20",
			wantTotal:         "47.70",
			wantCurrency:      "GBP",
		},
		{
			name:              "singapore",
			subtotal:          "50.00",
			taxAmount:         "4.00",
			deliveryFee:       "2.00",
			discountAmount:    "0",
			countryCode:       "SG",
			wantProcessingFee: "1.90",
			wantTotal:         "57.90",
			wantCurrency:      "SGD",
		},
		{
			name:              "unlisted_country_uses_baseline_fee_and_usd",
			subtotal:          "10.00",
			taxAmount:         "0",
			deliveryFee:       "0",
			discountAmount:    "0",
			countryCode:       "DE",
			wantProcessingFee: "0.59",
			wantTotal:         "10.59",
			wantCurrency:      "USD",
		},
		{
			name:              "zero_subtotal",
			subtotal:          "0",
			taxAmount:         "0",
			deliveryFee:       "0",
			discountAmount:    "0",
			countryCode:       "US",
			wantProcessingFee: "0.30",
			wantTotal:         "0.30",
			wantCurrency:      "USD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := ComputeTotal(dec(tt.subtotal), dec(tt.taxAmount), dec(tt.deliveryFee), dec(tt.discountAmount), tt.countryCode)
			require.NoError(t, err)

			assert.Equal(t, tt.wantProcessingFee, quote.ProcessingFee.StringFixed(2))
			assert.Equal(t, tt.wantTotal, quote.TotalAmount.StringFixed(2))
			assert.Equal(t, tt.wantCurrency, quote.Currency)
		})
	}
}

func TestComputeTotalRejectsNegativeInputs(t *testing.T) {
	tests := []struct {
		name           string
		subtotal       string
		taxAmount      string
		deliveryFee    string
		discountAmount string
	}{
		{name: "negative_subtotal", subtotal: "-1.00", taxAmount: "0", deliveryFee: "0", discountAmount: "0"},
		{name: "negative_tax", subtotal: "10.00", taxAmount: "-0.01", deliveryFee: "0", discountAmount: "0"},
		{name: "negative_delivery_fee", subtotal: "10.00", taxAmount: "0", deliveryFee: "-2.99", discountAmount: "0"},
		{name: "negative_discount", subtotal: "10.00", taxAmount: "0", deliveryFee: "0", discountAmount: "-5.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeTotal(dec(tt.subtotal), dec(tt.taxAmount), dec(tt.deliveryFee), dec(tt.discountAmount), "US")
			assert.ErrorIs(t, err, models.ErrInvalidAmount)
		})
	}
}

func TestProcessingFeeIsDeterministic(t *testing.T) {
	first := ProcessingFee(dec("33.33"), "US")
	second := ProcessingFee(dec("33.33"), "US")
	assert.True(t, first.Equal(second))
}

func TestCurrency(t *testing.T) {
	assert.Equal(t, "USD", Currency("US"))
	assert.Equal(t, "INR", Currency("IN"))
	assert.Equal(t, "GBP", Currency("GB"))
	assert.Equal(t, "SGD", Currency("SG"))
	assert.Equal(t, "USD", Currency("FR"))
	assert.Equal(t, "USD", Currency(""))
}
