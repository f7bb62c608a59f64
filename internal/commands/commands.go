package commands

import (
	"context"
	"runtime/debug"
	"strings"

	"cryptocompare-telegram-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	ModePlain      = ""
	ModeMarkdown   = "Markdown"
	ModeMarkdownV2 = "MarkdownV2"
)

// Sender delivers replies to a chat
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
	SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) error
}

// Market is the part of the market repository the commands use
type Market interface {
	SymbolName(ctx context.Context, symbol string) string
	Price(ctx context.Context, from, to string) (types.Quote, error)
	Chart(ctx context.Context, from, to, timeframe string) ([]byte, error)
	ChartNear(from, to string) []byte
	TopCoins(ctx context.Context, quote string) ([]types.TopCoin, error)
	AddAlert(ctx context.Context, chatID int64, symbol string, op types.Operator, target, quote string) (types.Condition, error)
	Alerts(chatID int64) []types.Condition
	ClearAlerts(ctx context.Context, chatID int64) (int, error)
}

type Config struct {
	DefaultCoin string
	DefaultFiat string
	HelpText    string
}

// Handler parses chat commands and answers them through the Sender
type Handler struct {
	market Market
	sender Sender
	cfg    Config

	commands map[string]command
}

type command func(h *Handler, ctx context.Context, chatID int64, parts []string) error

func NewHandler(cfg Config, market Market, sender Sender) *Handler {
	if cfg.DefaultCoin == "" {
		cfg.DefaultCoin = "BTC"
	}
	if cfg.DefaultFiat == "" {
		cfg.DefaultFiat = "USD"
	}
	cfg.DefaultCoin = strings.ToUpper(cfg.DefaultCoin)
	cfg.DefaultFiat = strings.ToUpper(cfg.DefaultFiat)

	return &Handler{
		market: market,
		sender: sender,
		cfg:    cfg,
		commands: map[string]command{
			"start":  (*Handler).help,
			"help":   (*Handler).help,
			"all":    (*Handler).top,
			"top":    (*Handler).top,
			"alerts": (*Handler).alerts,
			"clear":  (*Handler).clear,
			"price":  (*Handler).price,
			"p":      (*Handler).price,
			"chart":  (*Handler).chart,
			"ch":     (*Handler).chart,
			"higher": (*Handler).higherLower,
			"lower":  (*Handler).higherLower,
		},
	}
}

// Parse splits a command message into its lower-cased name and the words
// that follow. A leading slash and a trailing @botname are dropped.
func Parse(text string) (string, []string) {
	parts := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), "/"))
	if len(parts) == 0 {
		return "", nil
	}
	name := strings.ToLower(parts[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	parts[0] = name
	return name, parts
}

// Dispatch runs one command. Errors returned are delivery failures; user
// mistakes are answered in the chat.
func (h *Handler) Dispatch(ctx context.Context, chatID int64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic handling %q: %v\n%s", text, r, debug.Stack())
			err = errors.Errorf("panic handling command: %v", r)
		}
	}()

	name, parts := Parse(text)
	log.Debugf("handling command %q for chat %d", name, chatID)

	cmd, ok := h.commands[name]
	if !ok {
		return h.reply(ctx, chatID, tr("Unknown Command"))
	}
	return cmd(h, ctx, chatID, parts)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) error {
	return h.sender.SendMessage(ctx, chatID, text, ModePlain)
}
