// Package slack is the Slack chat adapter. It receives events over
// Socket Mode and replies through the Web API, converting markdown
// replies to Slack's mrkdwn format.
package slack

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/jaredwolff/patina/internal/config"
	"github.com/jaredwolff/patina/internal/observability"
	"github.com/jaredwolff/patina/pkg/bus"
)

// maxMessageLen is Slack's per-message character limit.
const maxMessageLen = 40000

// webAPI is the slice of the Slack Web API the adapter uses.
type webAPI interface {
	AuthTest() (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetUserInfo(user string) (*slack.User, error)
}

// Publisher injects inbound envelopes. Satisfied by *bus.Bus.
type Publisher interface {
	TryPublish(msg bus.InboundMessage) error
}

// Bot is the Slack channel adapter.
type Bot struct {
	cfg       config.SlackConfig
	client    webAPI
	socket    *socketmode.Client
	publisher Publisher
	logger    zerolog.Logger
	cancel    context.CancelFunc
}

// New creates a Slack bot adapter from config.
func New(cfg config.SlackConfig, publisher Publisher, logger zerolog.Logger) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack bot token (xoxb-*) is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack app token (xapp-*) is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(client)

	return &Bot{
		cfg:       cfg,
		client:    client,
		socket:    socket,
		publisher: publisher,
		logger:    logger.With().Str("component", "slack").Logger(),
	}, nil
}

// Name implements channels.Channel.
func (b *Bot) Name() string { return "slack" }

// Start verifies bot identity and begins the Socket Mode event loop.
func (b *Bot) Start(ctx context.Context) error {
	resp, err := b.client.AuthTest()
	if err != nil {
		return fmt.Errorf("failed to verify slack bot identity: %w", err)
	}
	b.logger.Info().Str("user", resp.User).Str("team", resp.Team).Msg("slack bot authenticated")

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	go b.handleEvents(runCtx)
	go func() {
		if err := b.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			b.logger.Error().Err(err).Msg("slack socket mode stopped")
		}
	}()

	return nil
}

// Stop shuts down the Socket Mode connection.
func (b *Bot) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	b.logger.Info().Msg("slack bot stopped")
	return nil
}

func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnecting:
				b.logger.Debug().Msg("connecting to slack socket mode")
			case socketmode.EventTypeConnectionError:
				b.logger.Warn().Msg("slack socket mode connection error")
			case socketmode.EventTypeConnected:
				b.logger.Info().Msg("connected to slack socket mode")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if event.Request != nil {
					b.socket.Ack(*event.Request)
				}
				b.handleEventsAPI(apiEvent)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					b.socket.Ack(*event.Request)
				}
			}
		}
	}
}

func (b *Bot) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Only plain user messages: skip bot echoes and edits/deletes.
	if ev.BotID != "" || ev.SubType != "" {
		return
	}
	b.handleMessage(ev)
}

func (b *Bot) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == "" || strings.TrimSpace(ev.Text) == "" {
		return
	}

	senderID := b.senderID(ev.User)
	if !senderAllowed(senderID, b.cfg.Allowlist) {
		b.logger.Warn().
			Str("sender_id", senderID).
			Msg("access denied, add sender to allowlist to grant access")
		return
	}

	chatID := ev.Channel
	if ev.ThreadTimeStamp != "" {
		chatID = ev.Channel + ":" + ev.ThreadTimeStamp
	}

	metadata := map[string]string{
		"ts":         ev.TimeStamp,
		"user_id":    ev.User,
		"channel_id": ev.Channel,
	}
	if ev.ThreadTimeStamp != "" {
		metadata["thread_ts"] = ev.ThreadTimeStamp
	}

	observability.RecordChannelMessage("slack", "inbound")

	inbound := bus.NewMessage("slack", senderID, chatID, ev.Text)
	inbound.Metadata = metadata
	if err := b.publisher.TryPublish(inbound); err != nil {
		b.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to publish inbound message")
	}
}

// senderID builds a composite "U1234|username" identifier when the
// username can be resolved, falling back to the bare user ID.
func (b *Bot) senderID(userID string) string {
	info, err := b.client.GetUserInfo(userID)
	if err != nil || info == nil || info.Name == "" {
		return userID
	}
	return userID + "|" + info.Name
}

// Send implements channels.Channel, posting to the channel or thread
// encoded in the chat ID.
func (b *Bot) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.Content == "" {
		return nil
	}
	channelID, threadTS := parseChatID(msg.ChatID)

	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		options := []slack.MsgOption{slack.MsgOptionText(ToMrkdwn(chunk), false)}
		if threadTS != "" {
			options = append(options, slack.MsgOptionTS(threadTS))
		}
		if _, _, err := b.client.PostMessageContext(ctx, channelID, options...); err != nil {
			return fmt.Errorf("failed to send slack message: %w", err)
		}
	}
	return nil
}

// parseChatID splits "C1234" or "C1234:1234567890.123456" into the
// channel ID and optional thread timestamp.
func parseChatID(chatID string) (channelID, threadTS string) {
	channelID, threadTS, _ = strings.Cut(chatID, ":")
	return channelID, threadTS
}

// senderAllowed checks the allowlist against the full sender ID and,
// for composite "id|username" identifiers, each part. An empty
// allowlist admits everyone.
func senderAllowed(senderID string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, allowed := range allowlist {
		if allowed == senderID {
			return true
		}
		for _, part := range strings.Split(senderID, "|") {
			if part != "" && allowed == part {
				return true
			}
		}
	}
	return false
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
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
