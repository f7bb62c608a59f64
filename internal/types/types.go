package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Operator is the direction of a threshold alert
type Operator string

const (
	Above Operator = "ABOVE"
	Below Operator = "BELOW"
)

// ParseOperator accepts the operator names as well as the "higher"/"lower" command words
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ABOVE", "HIGHER":
		return Above, nil
	case "BELOW", "LOWER":
		return Below, nil
	}
	return "", errors.Errorf("unknown operator %q", s)
}

// Word returns the lowercase word used in user messages
func (o Operator) Word() string {
	if o == Below {
		return "below"
	}
	return "above"
}

// Satisfied reports whether price meets target in the operator's direction
func (o Operator) Satisfied(price, target decimal.Decimal) bool {
	switch o {
	case Above:
		return price.GreaterThanOrEqual(target)
	case Below:
		return price.LessThanOrEqual(target)
	default:
		return false
	}
}

// AlertKey identifies one set of thresholds
type AlertKey struct {
	ChatID int64    `json:"chat_id"`
	Symbol string   `json:"symbol"`
	Op     Operator `json:"op"`
	Quote  string   `json:"quote"`
}

// Condition is a single threshold owned by a chat
type Condition struct {
	AlertKey
	Target decimal.Decimal `json:"target"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%d:%s %s %s %s", c.ChatID, c.Symbol, c.Op, c.Target.String(), c.Quote)
}

// Notification is emitted once when a condition is satisfied
type Notification struct {
	ChatID      int64
	Symbol      string
	DisplayName string
	Op          Operator
	Target      decimal.Decimal
	Quote       string
	Price       float64
	FiredAt     time.Time
}

// Quote is a cached price for one pair
type Quote struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
	// Stale is set when the quote outlived its TTL and could not be refreshed
	Stale bool `json:"stale"`
}

// TopCoin is one row of the market-cap ranking
type TopCoin struct {
	Rank         int     `json:"rank"`
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	MarketCap    float64 `json:"market_cap"`
	Price        float64 `json:"price"`
	DisplayPrice string  `json:"display_price"`
}
