package helpers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{42000, "42,000.00"},
		{1234567.891, "1,234,567.89"},
		{1, "1.00"},
		{0, "0.00"},
		{0.5, "0.50"},
		{0.123456, "0.123456"},
		{0.00001234, "0.00001234"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, FormatPrice(tt.price))
		})
	}
}

func TestFormatDecimal(t *testing.T) {
	require.Equal(t, "0.50", FormatDecimal(decimal.RequireFromString("0.5")))
	require.Equal(t, "100,000.00", FormatDecimal(decimal.NewFromInt(100000)))
}

func TestFormatMarketCap(t *testing.T) {
	require.Equal(t, "1.23T", FormatMarketCap(1.23e12))
	require.Equal(t, "770.00B", FormatMarketCap(770e9))
	require.Equal(t, "5.50M", FormatMarketCap(5.5e6))
	require.Equal(t, "12,346", FormatMarketCap(12345.6))
}

func TestEscapeMarkdownV2(t *testing.T) {
	require.Equal(t, `1\. BTC \(42,000\.00\)`, EscapeMarkdownV2("1. BTC (42,000.00)"))
	require.Equal(t, `a\\b`, EscapeMarkdownV2(`a\b`))
}
