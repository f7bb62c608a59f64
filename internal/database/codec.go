package database

import (
	"encoding/json"

	"cryptocompare-telegram-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// chatPayload is the stored shape of one chat's alerts:
// symbol -> operator -> quote -> thresholds
type chatPayload map[string]map[types.Operator]map[string][]string

func encodeChat(conditions []types.Condition) (string, error) {
	payload := make(chatPayload)
	for _, c := range conditions {
		ops, ok := payload[c.Symbol]
		if !ok {
			ops = make(map[types.Operator]map[string][]string)
			payload[c.Symbol] = ops
		}
		quotes, ok := ops[c.Op]
		if !ok {
			quotes = make(map[string][]string)
			ops[c.Op] = quotes
		}
		quotes[c.Quote] = append(quotes[c.Quote], c.Target.String())
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode alerts")
	}
	return string(data), nil
}

func decodeChat(chatID int64, data string) ([]types.Condition, error) {
	var payload chatPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, errors.Wrapf(err, "decode alerts of chat %d", chatID)
	}

	var out []types.Condition
	for symbol, ops := range payload {
		for op, quotes := range ops {
			for quote, targets := range quotes {
				for _, raw := range targets {
					target, err := decimal.NewFromString(raw)
					if err != nil {
						return nil, errors.Wrapf(err, "chat %d: bad threshold %q", chatID, raw)
					}
					out = append(out, types.Condition{
						AlertKey: types.AlertKey{ChatID: chatID, Symbol: symbol, Op: op, Quote: quote},
						Target:   target,
					})
				}
			}
		}
	}
	return out, nil
}
