package commands

import (
	"context"
	"fmt"
	"strings"

	"cryptocompare-telegram-bot/internal/alert"
	"cryptocompare-telegram-bot/internal/market"
	"cryptocompare-telegram-bot/internal/ratelimit"
	"cryptocompare-telegram-bot/internal/types"
	"cryptocompare-telegram-bot/lib/helpers"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) higherLower(ctx context.Context, chatID int64, parts []string) error {
	if len(parts) < 3 || len(parts) > 4 {
		return h.reply(ctx, chatID, tr("Invalid command"))
	}

	op, err := types.ParseOperator(parts[0])
	if err != nil {
		return h.reply(ctx, chatID, tr("Invalid command"))
	}

	symbol := strings.ToUpper(parts[1])
	quote := h.cfg.DefaultFiat
	if len(parts) > 3 {
		quote = strings.ToUpper(parts[3])
	}

	cond, err := h.market.AddAlert(ctx, chatID, symbol, op, parts[2], quote)
	if err != nil {
		var inputErr *market.InputError
		if errors.As(err, &inputErr) {
			switch inputErr.Field {
			case "target":
				return h.reply(ctx, chatID, tr("Invalid number \"%s\"", inputErr.Value))
			case "symbol":
				return h.reply(ctx, chatID, tr("Invalid symbol \"%s\"", inputErr.Value))
			default:
				return h.reply(ctx, chatID, tr("Invalid symbol %s", inputErr.Value))
			}
		}
		log.WithError(err).Warnf("could not save alert for chat %d", chatID)
		return h.reply(ctx, chatID, userMessage(err))
	}

	return h.reply(ctx, chatID, tr("Notification set for %s %s %s %s.",
		h.market.SymbolName(ctx, cond.Symbol), cond.Op.Word(), helpers.FormatDecimal(cond.Target), cond.Quote))
}

func (h *Handler) alerts(ctx context.Context, chatID int64, _ []string) error {
	conditions := h.market.Alerts(chatID)
	if len(conditions) == 0 {
		return h.reply(ctx, chatID, tr("No alert is set"))
	}

	var sb strings.Builder
	sb.WriteString(tr("Current alerts:"))
	sb.WriteString("\n")
	for _, c := range conditions {
		fmt.Fprintf(&sb, "%s %s %s %s\n", h.market.SymbolName(ctx, c.Symbol), c.Op, c.Target.String(), c.Quote)
	}
	return h.reply(ctx, chatID, sb.String())
}

func (h *Handler) clear(ctx context.Context, chatID int64, _ []string) error {
	n, err := h.market.ClearAlerts(ctx, chatID)
	if err != nil {
		log.WithError(err).Errorf("could not clear alerts of chat %d", chatID)
		return h.reply(ctx, chatID, userMessage(err))
	}
	log.Debugf("cleared %d alerts of chat %d", n, chatID)
	return h.reply(ctx, chatID, tr("Done."))
}

// FormatNotification renders a fired alert
func FormatNotification(n types.Notification) string {
	return tr("🚨 %s is now %s %s %s (price: %s)",
		n.DisplayName, n.Op.Word(), helpers.FormatDecimal(n.Target), n.Quote, helpers.FormatPrice(n.Price))
}

// Notify delivers a fired alert to its chat
func (h *Handler) Notify(ctx context.Context, n types.Notification) error {
	return h.reply(ctx, n.ChatID, FormatNotification(n))
}

var _ alert.Notifier = (*Handler)(nil)

// userMessage turns an internal failure into something safe to show
func userMessage(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return tr("Too many requests, try again later")
	case errors.Is(err, market.ErrDataUnavailable):
		return tr("Data unavailable, try again later")
	default:
		return tr("Something went wrong, try again later")
	}
}
