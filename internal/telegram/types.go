package telegram

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// BotConfig configuration of the bot
type BotConfig struct {
	Token          string
	Debug          bool
	UpdatesTimeout int
	// ChatRate and ChatBurst throttle commands per chat
	ChatRate  rate.Limit
	ChatBurst int
	// ChatIdle drops a chat's limiter after this long without commands
	ChatIdle time.Duration
}

// Dispatcher answers one command message
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID int64, text string) error
}

// Observer is told about every handled message and answered command
type Observer interface {
	ObserveMessage(chatID int64, chatName string)
	CommandProcessed()
}

// api is the subset of tgbotapi.BotAPI the bot uses
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot telegram interaction client
type Bot struct {
	api    api
	config BotConfig

	mu       sync.Mutex
	limiters *gocache.Cache
}
