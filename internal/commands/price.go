package commands

import (
	"context"
	"fmt"
	"strings"

	"cryptocompare-telegram-bot/internal/chart"
	"cryptocompare-telegram-bot/internal/market"
	"cryptocompare-telegram-bot/internal/types"
	"cryptocompare-telegram-bot/lib/helpers"
	"cryptocompare-telegram-bot/lib/translation"

	"github.com/pkg/errors"
)

func tr(msgID string, vars ...interface{}) string {
	return translation.Translate(msgID, vars...)
}

func (h *Handler) pair(parts []string) (string, string) {
	from, to := h.cfg.DefaultCoin, h.cfg.DefaultFiat
	if len(parts) > 1 {
		from = strings.ToUpper(parts[1])
	}
	if len(parts) > 2 {
		to = strings.ToUpper(parts[2])
	}
	return from, to
}

// priceLine renders "1 Bitcoin = 42,000.00 USD"
func (h *Handler) priceLine(ctx context.Context, q types.Quote) string {
	line := fmt.Sprintf("1 %s = %s %s", h.market.SymbolName(ctx, q.From), helpers.FormatPrice(q.Price), q.To)
	if q.Stale {
		line += " " + tr("(stale, as of %s)", q.FetchedAt.UTC().Format("15:04 MST"))
	}
	return line
}

func (h *Handler) price(ctx context.Context, chatID int64, parts []string) error {
	if len(parts) > 3 {
		return h.reply(ctx, chatID, tr("Invalid command, enter 2 symbols, eg: BTC USD"))
	}

	from, to := h.pair(parts)
	q, err := h.market.Price(ctx, from, to)
	if err != nil {
		if errors.Is(err, market.ErrInvalidSymbol) {
			return h.reply(ctx, chatID, tr("Invalid symbols %s %s", from, to))
		}
		return h.reply(ctx, chatID, userMessage(err))
	}

	line := h.priceLine(ctx, q)
	if img := h.market.ChartNear(from, to); img != nil {
		return h.sender.SendPhoto(ctx, chatID, img, line)
	}
	return h.reply(ctx, chatID, line)
}

func (h *Handler) chart(ctx context.Context, chatID int64, parts []string) error {
	if len(parts) > 4 {
		return h.reply(ctx, chatID, tr("Invalid command, enter 2 symbols, eg: BTC USD"))
	}

	from, to := h.pair(parts)
	tf := chart.DefaultTimeframe
	if len(parts) > 3 && chart.IsTimeframe(parts[3]) {
		tf = parts[3]
	}

	img, err := h.market.Chart(ctx, from, to, tf)
	if errors.Is(err, market.ErrDataUnavailable) {
		return h.reply(ctx, chatID, userMessage(err))
	}
	if err != nil || img == nil {
		return h.reply(ctx, chatID, tr("no chart for %s %s %s", from, to, tf))
	}

	caption := tr("Enjoy the chart!")
	if q, err := h.market.Price(ctx, from, to); err == nil {
		caption = h.priceLine(ctx, q)
	}
	return h.sender.SendPhoto(ctx, chatID, img, caption)
}
