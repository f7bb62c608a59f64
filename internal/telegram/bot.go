package telegram

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultChatRate  = 3
	defaultChatBurst = 5
	defaultChatIdle  = 10 * time.Minute
)

// NewBot creates new telegram bot
func NewBot(c BotConfig) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}
	bot.Debug = c.Debug

	return newBot(bot, c), nil
}

func newBot(a api, c BotConfig) *Bot {
	if c.ChatRate <= 0 {
		c.ChatRate = defaultChatRate
	}
	if c.ChatBurst <= 0 {
		c.ChatBurst = defaultChatBurst
	}
	if c.ChatIdle <= 0 {
		c.ChatIdle = defaultChatIdle
	}
	return &Bot{
		api:      a,
		config:   c,
		limiters: gocache.New(c.ChatIdle, c.ChatIdle),
	}
}

// SendMessage sends a text message. parseMode is empty for plain text.
func (b *Bot) SendMessage(_ context.Context, chatID int64, text, parseMode string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ParseMode = parseMode
	if _, err := b.api.Send(msg); err != nil {
		return errors.Wrapf(err, "could not send message to chat %d", chatID)
	}
	return nil
}

// SendPhoto sends a PNG with a plain text caption
func (b *Bot) SendPhoto(_ context.Context, chatID int64, image []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "chart.png",
		Bytes: image,
	})
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		return errors.Wrapf(err, "could not send chart to chat %d", chatID)
	}
	return nil
}

// allow reports whether the chat may issue another command now. A limiter
// unused for ChatIdle is dropped; it would have refilled by then anyway.
func (b *Bot) allow(chatID int64) bool {
	key := strconv.FormatInt(chatID, 10)

	b.mu.Lock()
	var l *rate.Limiter
	if v, ok := b.limiters.Get(key); ok {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(b.config.ChatRate, b.config.ChatBurst)
	}
	b.limiters.SetDefault(key, l)
	b.mu.Unlock()

	return l.Allow()
}

// Run reads updates until ctx is done. Each command is dispatched on its own
// goroutine; Run waits for them before returning.
func (b *Bot) Run(ctx context.Context, d Dispatcher, o Observer) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.config.UpdatesTimeout
	}
	updates := b.api.GetUpdatesChan(updatesConfig)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if !b.accept(u) {
				continue
			}
			wg.Add(1)
			go func(m *tgbotapi.Message) {
				defer wg.Done()
				b.handle(ctx, d, o, m)
			}(u.Message)
		}
	}
}

// accept filters updates down to rate-allowed commands
func (b *Bot) accept(u tgbotapi.Update) bool {
	if u.Message == nil || !u.Message.IsCommand() {
		log.Debug("received non-message or non-command")
		return false
	}
	if !b.allow(u.Message.Chat.ID) {
		log.Warnf("dropping command from chat %d: throttled", u.Message.Chat.ID)
		return false
	}
	return true
}

func (b *Bot) handle(ctx context.Context, d Dispatcher, o Observer, m *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered from panic: %v\nstack trace: %s", r, debug.Stack())
		}
	}()

	if o != nil {
		o.ObserveMessage(m.Chat.ID, m.Chat.Title)
	}
	if err := d.Dispatch(ctx, m.Chat.ID, m.Text); err != nil {
		log.WithError(err).Errorf("failed to answer chat %d", m.Chat.ID)
		return
	}
	if o != nil {
		o.CommandProcessed()
	}
}
