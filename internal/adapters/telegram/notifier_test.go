package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/internal/orchestration"
	"onboardr/pkg/logger"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (r *recordingSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[int64][]string)
	}
	r.sent[chatID] = append(r.sent[chatID], text)
	return nil
}

func (r *recordingSender) count(chatID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[chatID])
}

func TestFormat(t *testing.T) {
	triggeredAt := time.Now().Add(-2 * time.Minute)

	text, ok := Format(orchestration.Event{
		Type: orchestration.EventAlertTriggered,
		Data: map[string]interface{}{
			"id":          "alert-1",
			"type":        "tvl",
			"condition":   "above",
			"threshold":   2500000.0,
			"message":     "TVL crossed 2.5M",
			"triggeredAt": triggeredAt,
		},
	})
	require.True(t, ok)
	assert.Contains(t, text, "*Alert triggered*")
	assert.Contains(t, text, "TVL crossed 2.5M")
	assert.Contains(t, text, "TVL above 2,500,000")
	assert.Contains(t, text, "2 minutes ago")

	text, ok = Format(orchestration.Event{
		Type: orchestration.EventAlertTriggered,
		Data: map[string]interface{}{"type": "price", "condition": "below", "threshold": 0.1, "token": "XLM"},
	})
	require.True(t, ok)
	assert.Contains(t, text, "PRICE XLM below 0.1")

	text, ok = Format(orchestration.Event{
		Type: orchestration.EventTradeFailed,
		Data: map[string]interface{}{"tradeId": "trade-9", "error": "swap: slippage_exceeded"},
	})
	require.True(t, ok)
	assert.Contains(t, text, "`trade-9`")
	assert.Contains(t, text, `slippage\_exceeded`)

	_, ok = Format(orchestration.Event{Type: orchestration.EventSuccess, Data: 1})
	assert.False(t, ok)
}

func TestNotifier_DeliversToEveryChat(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, []int64{1, 2}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.HandleEvent(orchestration.Event{
		Type: orchestration.EventAlertTriggered,
		Data: map[string]interface{}{"type": "gas", "condition": "above", "threshold": 0.001},
	})
	n.HandleEvent(orchestration.Event{Type: orchestration.EventSuccess})

	assert.Eventually(t, func() bool {
		return sender.count(1) == 1 && sender.count(2) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	n := NewNotifier(&recordingSender{}, []int64{1}, logger.Nop())

	ev := orchestration.Event{
		Type: orchestration.EventTradeFailed,
		Data: map[string]interface{}{"tradeId": "t", "error": "boom"},
	}
	for i := 0; i < defaultQueueSize+3; i++ {
		n.HandleEvent(ev)
	}
	assert.Equal(t, int64(3), n.Dropped())
}

type fakeAPI struct {
	mu   sync.Mutex
	msgs []tgbotapi.MessageConfig
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestBot_SendMessageIsRateLimited(t *testing.T) {
	api := &fakeAPI{}
	bot := NewBotWithAPI(api, Config{RateLimitRate: 20, RateLimitBurst: 1}, logger.Nop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, bot.SendMessage(context.Background(), 42, "hello"))
	}
	// burst 1 at 20/s: two waits of ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	require.Len(t, api.msgs, 3)
	assert.Equal(t, int64(42), api.msgs[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, api.msgs[0].ParseMode)
}
