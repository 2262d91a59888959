// Package telegram is the Telegram chat adapter: long polling in,
// chunked replies out.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/config"
	"github.com/jaredwolff/patina/internal/observability"
	"github.com/jaredwolff/patina/pkg/bus"
)

// maxMessageLen is Telegram's hard per-message limit.
const maxMessageLen = 4096

// botAPI is the slice of tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Publisher injects inbound envelopes. Satisfied by *bus.Bus.
type Publisher interface {
	TryPublish(msg bus.InboundMessage) error
}

// Bot is the Telegram channel adapter.
type Bot struct {
	api       botAPI
	cfg       config.TelegramConfig
	publisher Publisher
	logger    zerolog.Logger
}

// New creates a Telegram bot adapter, authenticating with the API.
func New(cfg config.TelegramConfig, publisher Publisher, logger zerolog.Logger) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot API: %w", err)
	}

	log := logger.With().Str("component", "telegram").Logger()
	log.Info().Str("username", api.Self.UserName).Int64("id", api.Self.ID).Msg("telegram bot authenticated")

	return &Bot{api: api, cfg: cfg, publisher: publisher, logger: log}, nil
}

// Name implements channels.Channel.
func (b *Bot) Name() string { return "telegram" }

// Start begins long polling. Updates are processed until the update
// channel closes or ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	go b.processUpdates(ctx, updates)
	b.logger.Info().Msg("telegram bot started")
	return nil
}

// Stop halts long polling.
func (b *Bot) Stop(ctx context.Context) error {
	b.api.StopReceivingUpdates()
	b.logger.Info().Msg("telegram bot stopped")
	return nil
}

func (b *Bot) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	if !b.allowed(msg.From.ID) {
		b.logger.Warn().
			Int64("sender_id", msg.From.ID).
			Str("username", msg.From.UserName).
			Msg("access denied, add sender to allowlist to grant access")
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	senderID := strconv.FormatInt(msg.From.ID, 10)

	// Typing indicator while the agent works.
	typing := tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(typing); err != nil {
		b.logger.Debug().Err(err).Msg("failed to send typing action")
	}

	observability.RecordChannelMessage("telegram", "inbound")

	inbound := bus.NewMessage("telegram", senderID, chatID, content)
	if strings.TrimSpace(content) == "/stop" {
		inbound.Kind = bus.KindCancel
	}
	if err := b.publisher.TryPublish(inbound); err != nil {
		b.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to publish inbound message")
		reply := tgbotapi.NewMessage(msg.Chat.ID, "I'm overloaded right now, please try again shortly.")
		if _, err := b.api.Send(reply); err != nil {
			b.logger.Error().Err(err).Msg("failed to send overload notice")
		}
	}
}

// allowed checks the sender against the allowlist. An empty allowlist
// admits everyone.
func (b *Bot) allowed(senderID int64) bool {
	if len(b.cfg.Allowlist) == 0 {
		return true
	}
	for _, id := range b.cfg.Allowlist {
		if id == senderID {
			return true
		}
	}
	return false
}

// Send implements channels.Channel, splitting long replies into
// Telegram-sized chunks.
func (b *Bot) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	if msg.Content == "" {
		return nil
	}

	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		out := tgbotapi.NewMessage(chatID, chunk)
		if _, err := b.api.Send(out); err != nil {
			return fmt.Errorf("failed to send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage breaks text into chunks of at most limit bytes,
// preferring newline boundaries and never cutting inside a rune.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := strings.LastIndex(text[:limit], "\n"); idx > 0 {
			cut = idx + 1
		} else {
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
