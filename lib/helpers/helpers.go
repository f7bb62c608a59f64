package helpers

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// FormatPrice renders a price with thousands separators. Prices of one unit
// and above get two decimals, smaller ones keep their significant digits.
func FormatPrice(price float64) string {
	abs := math.Abs(price)

	decimals := 2
	if abs > 0 && abs < 1 {
		decimals = 6
		if abs < 0.0001 {
			decimals = 8
		}
	}

	formatted := printer.Sprintf("%.*f", decimals, price)
	if decimals > 2 {
		formatted = trimZeros(formatted, 2)
	}
	return formatted
}

// FormatDecimal formats an exact threshold the same way as a price
func FormatDecimal(d decimal.Decimal) string {
	return FormatPrice(d.InexactFloat64())
}

// FormatMarketCap shortens large values to K/M/B/T
func FormatMarketCap(value float64) string {
	switch {
	case value >= 1e12:
		return fmt.Sprintf("%.2fT", value/1e12)
	case value >= 1e9:
		return fmt.Sprintf("%.2fB", value/1e9)
	case value >= 1e6:
		return fmt.Sprintf("%.2fM", value/1e6)
	default:
		return humanize.Commaf(math.Round(value))
	}
}

// trimZeros drops trailing zeros but keeps at least min decimals
func trimZeros(s string, min int) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}
	end := len(s)
	for end > dot+1+min && s[end-1] == '0' {
		end--
	}
	return s[:end]
}
