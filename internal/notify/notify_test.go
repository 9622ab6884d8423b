package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSender struct {
	mu       sync.Mutex
	channels []string
	messages []string
	err      error
}

func (f *fakeSender) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.channels = append(f.channels, channelID)
	f.messages = append(f.messages, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(Event{
		Kind:       EventReviewLimitExceeded,
		FunctionID: "fn-1",
		TaskID:     "T012",
		Message:    "review iteration 3 reached",
	})

	assert.True(t, strings.HasPrefix(msg, "🚨 **리뷰 한도 초과**"))
	assert.Contains(t, msg, "Function: `fn-1`")
	assert.Contains(t, msg, "Task: `T012`")
	assert.NotContains(t, msg, "Step:")
	assert.True(t, strings.HasSuffix(msg, "review iteration 3 reached"))

	step := FormatMessage(Event{Kind: EventStepFailed, StepID: "4.5.1"})
	assert.Contains(t, step, "워크플로우 단계 실패")
	assert.Contains(t, step, "Step: `4.5.1`")

	other := FormatMessage(Event{Kind: "custom"})
	assert.Contains(t, other, "워크플로우 알림")
}

func TestFormatMessage_Truncates(t *testing.T) {
	msg := FormatMessage(Event{Kind: EventTaskEscalated, Message: strings.Repeat("가", 3000)})

	assert.Equal(t, discordMessageLimit, utf8.RuneCountInString(msg))
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "..."))
}

func TestDiscordNotifier_Notify(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewDiscordNotifierWithSender(zaptest.NewLogger(t), sender, "chan-1")

	event := Event{Kind: EventTaskEscalated, FunctionID: "fn-1", TaskID: "T001", At: time.Now()}
	require.NoError(t, notifier.Notify(context.Background(), event))

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "chan-1", sender.channels[0])
	assert.Equal(t, FormatMessage(event), sender.messages[0])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	sender := &fakeSender{err: errors.New("rate limited")}
	notifier := NewDiscordNotifierWithSender(zaptest.NewLogger(t), sender, "chan-1")

	err := notifier.Notify(context.Background(), Event{Kind: EventStepFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender.err = nil
	require.ErrorIs(t, notifier.Notify(ctx, Event{Kind: EventStepFailed}), context.Canceled)
	assert.Empty(t, sender.messages)
}

func TestNewDiscordNotifier_RequiresCredentials(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewDiscordNotifier(logger, "", "chan")
	require.Error(t, err)

	_, err = NewDiscordNotifier(logger, "token", "")
	require.Error(t, err)

	n, err := NewDiscordNotifier(logger, "token", "chan")
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestMulti(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	multi := Multi{failing, nil, ok, NewLogNotifier(zaptest.NewLogger(t))}

	err := multi.Notify(context.Background(), Event{Kind: EventTaskEscalated, TaskID: "T003"})
	require.EqualError(t, err, "down")
	require.Len(t, ok.events, 1)
	assert.Equal(t, "T003", ok.events[0].TaskID)
}
