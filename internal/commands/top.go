package commands

import (
	"context"
	"fmt"
	"strings"

	"cryptocompare-telegram-bot/lib/helpers"
)

const helpText = `*CryptoCompare bot*

/price [FSYM] [TSYM] - current price, eg: /price ETH EUR
/chart [FSYM] [TSYM] [TF] - price chart, TF one of 1m 5m 15m 1h 4h 1d 1w
/top - top coins by market cap
/higher FSYM TARGET [TSYM] - notify when the price goes above TARGET
/lower FSYM TARGET [TSYM] - notify when the price goes below TARGET
/alerts - list your alerts
/clear - remove all your alerts

TARGET may be given in SAT or SATS, eg: /lower ETH 5000000 SATS`

func (h *Handler) help(ctx context.Context, chatID int64, _ []string) error {
	text := h.cfg.HelpText
	if text == "" {
		text = tr("Command help message")
		if text == "Command help message" {
			text = helpText
		}
	}
	return h.sender.SendMessage(ctx, chatID, text, ModeMarkdown)
}

func (h *Handler) top(ctx context.Context, chatID int64, _ []string) error {
	coins, err := h.market.TopCoins(ctx, h.cfg.DefaultFiat)
	if err != nil {
		return h.reply(ctx, chatID, userMessage(err))
	}
	if len(coins) == 0 {
		return h.reply(ctx, chatID, tr("Data unavailable, try again later"))
	}

	var sb strings.Builder
	for _, c := range coins {
		price := c.DisplayPrice
		if price == "" {
			price = helpers.FormatPrice(c.Price) + " " + h.cfg.DefaultFiat
		}
		line := fmt.Sprintf("%d. %s %s (%s)", c.Rank, c.Symbol, price, helpers.FormatMarketCap(c.MarketCap))
		sb.WriteString(helpers.EscapeMarkdownV2(line))
		sb.WriteString("\n")
	}
	return h.sender.SendMessage(ctx, chatID, sb.String(), ModeMarkdownV2)
}
