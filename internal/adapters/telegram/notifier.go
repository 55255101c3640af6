package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"onboardr/internal/orchestration"
	"onboardr/pkg/logger"
)

const defaultQueueSize = 64

// Sender delivers one message to one chat
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Notifier forwards triggered alerts and failed trades to Telegram chats.
// HandleEvent never blocks: messages are queued and sent by Run.
type Notifier struct {
	sender  Sender
	chatIDs []int64
	log     *logger.Logger

	queue chan string

	mu      sync.Mutex
	dropped int64
}

// NewNotifier creates a notifier for the given chats
func NewNotifier(sender Sender, chatIDs []int64, log *logger.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		chatIDs: append([]int64(nil), chatIDs...),
		log:     log.With("component", "telegram_notifier"),
		queue:   make(chan string, defaultQueueSize),
	}
}

// HandleEvent is an orchestration.Listener
func (n *Notifier) HandleEvent(ev orchestration.Event) {
	text, ok := Format(ev)
	if !ok {
		return
	}

	select {
	case n.queue <- text:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.log.Warnw("Notification queue full, dropping message", "event", ev.Type)
	}
}

// Dropped returns how many messages were discarded on a full queue
func (n *Notifier) Dropped() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Run sends queued messages until ctx is done
func (n *Notifier) Run(ctx context.Context) {
	n.log.Infow("Telegram notifier started", "chats", len(n.chatIDs))
	for {
		select {
		case <-ctx.Done():
			n.log.Infow("Telegram notifier stopped")
			return
		case text := <-n.queue:
			for _, chatID := range n.chatIDs {
				if err := n.sender.SendMessage(ctx, chatID, text); err != nil && ctx.Err() == nil {
					n.log.Warnw("Failed to deliver notification", "chat_id", chatID, "error", err)
				}
			}
		}
	}
}

type alertView struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Condition   string     `json:"condition"`
	Threshold   float64    `json:"threshold"`
	Token       string     `json:"token"`
	Pool        string     `json:"pool"`
	Message     string     `json:"message"`
	TriggeredAt *time.Time `json:"triggeredAt"`
}

type tradeView struct {
	TradeID string `json:"tradeId"`
	Error   string `json:"error"`
}

// Format renders the events worth a chat message
func Format(ev orchestration.Event) (string, bool) {
	switch ev.Type {
	case orchestration.EventAlertTriggered:
		var a alertView
		if !decode(ev.Data, &a) {
			return "", false
		}
		return formatAlert(a, ev.Timestamp), true

	case orchestration.EventTradeFailed:
		var t tradeView
		if !decode(ev.Data, &t) {
			return "", false
		}
		return fmt.Sprintf("❌ *Trade failed*\nID: `%s`\nError: %s",
			t.TradeID, tgbotapi.EscapeText(tgbotapi.ModeMarkdown, t.Error)), true

	default:
		return "", false
	}
}

func formatAlert(a alertView, at time.Time) string {
	var b strings.Builder

	b.WriteString("🔔 *Alert triggered*\n")
	if a.Message != "" {
		b.WriteString(tgbotapi.EscapeText(tgbotapi.ModeMarkdown, a.Message))
		b.WriteString("\n")
	}

	subject := strings.ToUpper(a.Type)
	switch {
	case a.Token != "":
		subject += " " + a.Token
	case a.Pool != "":
		subject += " " + a.Pool
	}
	fmt.Fprintf(&b, "%s %s %s\n", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, subject), a.Condition, formatThreshold(a.Threshold))

	if a.TriggeredAt != nil {
		at = *a.TriggeredAt
	}
	if !at.IsZero() {
		fmt.Fprintf(&b, "_%s_", humanize.Time(at))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatThreshold(v float64) string {
	if v >= 1000 || v <= -1000 {
		return humanize.CommafWithDigits(v, 2)
	}
	return humanize.Ftoa(v)
}

// decode accepts typed payloads and maps alike
func decode(data interface{}, dest interface{}) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}
