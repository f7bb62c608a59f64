package alert

import (
	"strings"

	"cryptocompare-telegram-bot/internal/types"

	"github.com/shopspring/decimal"
)

var satsPerBTC = decimal.New(1, 8)

// NewCondition builds a threshold, converting satoshi denominated targets to
// BTC once so evaluation never has to
func NewCondition(chatID int64, symbol string, op types.Operator, quote string, target decimal.Decimal) types.Condition {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if IsSatoshi(quote) {
		target = target.Div(satsPerBTC)
		quote = "BTC"
	}
	return types.Condition{
		AlertKey: types.AlertKey{
			ChatID: chatID,
			Symbol: strings.ToUpper(strings.TrimSpace(symbol)),
			Op:     op,
			Quote:  quote,
		},
		Target: target,
	}
}

// IsSatoshi reports whether quote is one of the satoshi aliases
func IsSatoshi(quote string) bool {
	q := strings.ToUpper(quote)
	return q == "SAT" || q == "SATS"
}
