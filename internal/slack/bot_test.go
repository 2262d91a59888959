package slack

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaredwolff/patina/internal/config"
	"github.com/jaredwolff/patina/pkg/bus"
)

type fakeWebAPI struct {
	posts    []postedMessage
	userName string
	userErr  error
}

type postedMessage struct {
	channelID string
	options   []slack.MsgOption
}

func (f *fakeWebAPI) AuthTest() (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{User: "patina", Team: "test"}, nil
}

func (f *fakeWebAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.posts = append(f.posts, postedMessage{channelID: channelID, options: options})
	return channelID, "1234.5678", nil
}

func (f *fakeWebAPI) GetUserInfo(user string) (*slack.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &slack.User{ID: user, Name: f.userName}, nil
}

type capturePublisher struct {
	msgs []bus.InboundMessage
}

func (p *capturePublisher) TryPublish(msg bus.InboundMessage) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func newTestBot(cfg config.SlackConfig, api *fakeWebAPI) (*Bot, *capturePublisher) {
	pub := &capturePublisher{}
	b := &Bot{cfg: cfg, client: api, publisher: pub, logger: zerolog.Nop()}
	return b, pub
}

func messageEvent(user, channel, text string) *slackevents.MessageEvent {
	return &slackevents.MessageEvent{
		Type:      "message",
		User:      user,
		Channel:   channel,
		Text:      text,
		TimeStamp: "1700000000.000100",
	}
}

func TestNewValidation(t *testing.T) {
	pub := &capturePublisher{}

	_, err := New(config.SlackConfig{AppToken: "xapp-x"}, pub, zerolog.Nop())
	assert.ErrorContains(t, err, "bot token")

	_, err = New(config.SlackConfig{BotToken: "xoxb-x"}, pub, zerolog.Nop())
	assert.ErrorContains(t, err, "app token")

	_, err = New(config.SlackConfig{BotToken: "xoxb-x", AppToken: "xapp-x"}, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "publisher")
}

func TestHandleMessagePublishes(t *testing.T) {
	b, pub := newTestBot(config.SlackConfig{}, &fakeWebAPI{userName: "alice"})

	b.handleMessage(messageEvent("U123", "C456", "hello"))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "slack", msg.Channel)
	assert.Equal(t, "U123|alice", msg.SenderID)
	assert.Equal(t, "C456", msg.ChatID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "U123", msg.Metadata["user_id"])
	assert.Equal(t, "1700000000.000100", msg.Metadata["ts"])
}

func TestHandleMessageThreadChatID(t *testing.T) {
	b, pub := newTestBot(config.SlackConfig{}, &fakeWebAPI{userName: "alice"})

	ev := messageEvent("U123", "C456", "in thread")
	ev.ThreadTimeStamp = "1690000000.000001"
	b.handleMessage(ev)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "C456:1690000000.000001", pub.msgs[0].ChatID)
	assert.Equal(t, "1690000000.000001", pub.msgs[0].Metadata["thread_ts"])
}

func TestSenderIDFallsBackWithoutUsername(t *testing.T) {
	b, pub := newTestBot(config.SlackConfig{}, &fakeWebAPI{userErr: assert.AnError})

	b.handleMessage(messageEvent("U123", "C456", "hi"))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "U123", pub.msgs[0].SenderID)
}

func TestHandleMessageSkipsEmpty(t *testing.T) {
	b, pub := newTestBot(config.SlackConfig{}, &fakeWebAPI{})

	b.handleMessage(messageEvent("U123", "C456", "   "))
	b.handleMessage(messageEvent("", "C456", "no user"))

	assert.Empty(t, pub.msgs)
}

func TestAllowlistDenies(t *testing.T) {
	b, pub := newTestBot(config.SlackConfig{Allowlist: []string{"U999"}}, &fakeWebAPI{userName: "alice"})

	b.handleMessage(messageEvent("U123", "C456", "denied"))
	assert.Empty(t, pub.msgs)

	b.handleMessage(messageEvent("U999", "C456", "allowed"))
	assert.Len(t, pub.msgs, 1)
}

func TestSenderAllowed(t *testing.T) {
	assert.True(t, senderAllowed("U123|alice", nil))
	assert.True(t, senderAllowed("U123|alice", []string{"U123"}))
	assert.True(t, senderAllowed("U123|alice", []string{"alice"}))
	assert.True(t, senderAllowed("U123|alice", []string{"U123|alice"}))
	assert.False(t, senderAllowed("U123|alice", []string{"U456"}))
	assert.True(t, senderAllowed("U999", []string{"U999"}))
	assert.False(t, senderAllowed("U999", []string{"U111"}))
}

func TestSendPostsToChannel(t *testing.T) {
	api := &fakeWebAPI{}
	b, _ := newTestBot(config.SlackConfig{}, api)

	err := b.Send(context.Background(), bus.NewOutbound("slack", "C456", "reply"))
	require.NoError(t, err)

	require.Len(t, api.posts, 1)
	assert.Equal(t, "C456", api.posts[0].channelID)
}

func TestSendThreadedReply(t *testing.T) {
	api := &fakeWebAPI{}
	b, _ := newTestBot(config.SlackConfig{}, api)

	err := b.Send(context.Background(), bus.NewOutbound("slack", "C456:1690000000.000001", "reply"))
	require.NoError(t, err)

	require.Len(t, api.posts, 1)
	assert.Equal(t, "C456", api.posts[0].channelID)
	// thread option plus text option
	assert.Len(t, api.posts[0].options, 2)
}

func TestSendChunksLongMessages(t *testing.T) {
	api := &fakeWebAPI{}
	b, _ := newTestBot(config.SlackConfig{}, api)

	long := strings.Repeat("a", maxMessageLen+10)
	err := b.Send(context.Background(), bus.NewOutbound("slack", "C456", long))
	require.NoError(t, err)
	assert.Len(t, api.posts, 2)
}

func TestSendSkipsEmptyContent(t *testing.T) {
	api := &fakeWebAPI{}
	b, _ := newTestBot(config.SlackConfig{}, api)

	require.NoError(t, b.Send(context.Background(), bus.NewOutbound("slack", "C456", "")))
	assert.Empty(t, api.posts)
}

func TestParseChatID(t *testing.T) {
	channel, thread := parseChatID("C1234")
	assert.Equal(t, "C1234", channel)
	assert.Empty(t, thread)

	channel, thread = parseChatID("C1234:1234567890.123456")
	assert.Equal(t, "C1234", channel)
	assert.Equal(t, "1234567890.123456", thread)
}

func TestSplitMessageKeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("絵文字🙂と漢字", 10)
	chunks := splitMessage(text, 50)

	require.Greater(t, len(chunks), 1)
	var rejoined strings.Builder
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, len(chunk), 50)
		rejoined.WriteString(chunk)
	}
	assert.Equal(t, text, rejoined.String())
}

func TestSplitMessageAtNewline(t *testing.T) {
	line := strings.Repeat("x", 10)
	chunks := splitMessage(line+"\n"+line, 15)
	require.Len(t, chunks, 2)
	assert.Equal(t, line+"\n", chunks[0])
	assert.Equal(t, line, chunks[1])
}
