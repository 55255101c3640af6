package telegram

import (
	"context"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// API is the part of tgbotapi.BotAPI the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot sends rate-limited messages to Telegram chats
type Bot struct {
	api         API
	log         *logger.Logger
	rateLimiter *rate.Limiter
}

// Config contains Telegram bot configuration
type Config struct {
	Token          string
	Debug          bool
	HTTPTimeout    time.Duration
	RateLimitRate  float64 // messages per second (default: 1)
	RateLimitBurst int     // default: 5
}

// NewBot authorizes against the Bot API and creates a bot
func NewBot(cfg Config, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "telegram bot token is required")
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	api.Debug = cfg.Debug

	log.Infof("Authorized on account %s", api.Self.UserName)
	return NewBotWithAPI(api, cfg, log), nil
}

// NewBotWithAPI wraps an existing API client
func NewBotWithAPI(api API, cfg Config, log *logger.Logger) *Bot {
	if cfg.RateLimitRate <= 0 {
		cfg.RateLimitRate = 1
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}

	return &Bot{
		api:         api,
		log:         log.With("component", "telegram_bot"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst),
	}
}

// SendMessage sends a Markdown message, waiting for the rate limiter first
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	start := time.Now()

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := b.api.Send(msg); err != nil {
		b.log.Errorw("Failed to send message",
			"chat_id", chatID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return errors.Wrap(err, "failed to send message")
	}

	b.log.Debugw("Message sent", "chat_id", chatID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
