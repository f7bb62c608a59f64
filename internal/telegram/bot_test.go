package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	updates chan tgbotapi.Update
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {}

type recordingDispatcher struct {
	mu    sync.Mutex
	texts []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	messages int
	commands int
}

func (o *countingObserver) ObserveMessage(int64, string) {
	o.mu.Lock()
	o.messages++
	o.mu.Unlock()
}

func (o *countingObserver) CommandProcessed() {
	o.mu.Lock()
	o.commands++
	o.mu.Unlock()
}

func command(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

func TestSend(t *testing.T) {
	a := &fakeAPI{}
	b := newBot(a, BotConfig{})

	require.NoError(t, b.SendMessage(context.Background(), 42, "*hi*", "MarkdownV2"))
	require.NoError(t, b.SendPhoto(context.Background(), 42, []byte("png"), "1 Bitcoin = 42,000.00 USD"))

	require.Len(t, a.sent, 2)
	msg := a.sent[0].(tgbotapi.MessageConfig)
	require.Equal(t, int64(42), msg.ChatID)
	require.Equal(t, "MarkdownV2", msg.ParseMode)

	photo := a.sent[1].(tgbotapi.PhotoConfig)
	require.Equal(t, "1 Bitcoin = 42,000.00 USD", photo.Caption)
}

func TestRunThrottlesPerChat(t *testing.T) {
	a := &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
	b := newBot(a, BotConfig{ChatRate: 0.001, ChatBurst: 2})
	d := &recordingDispatcher{}
	o := &countingObserver{}

	for i := 0; i < 4; i++ {
		a.updates <- command(1, "/p")
	}
	a.updates <- command(2, "/top")
	a.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}, Text: "hello"}}
	a.updates <- tgbotapi.Update{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, d, o)
		close(done)
	}()

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.texts) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.ElementsMatch(t, []string{"/p", "/p", "/top"}, d.texts)
	require.Equal(t, 3, o.messages)
	require.Equal(t, 3, o.commands)
}

func TestIdleChatLimiterIsDropped(t *testing.T) {
	b := newBot(&fakeAPI{}, BotConfig{ChatRate: 0.001, ChatBurst: 1, ChatIdle: 20 * time.Millisecond})

	require.True(t, b.allow(1))
	require.False(t, b.allow(1))

	require.Eventually(t, func() bool { return b.limiters.ItemCount() == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, b.allow(1))
}
