package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// MessageSender는 discordgo.Session 중 알림에 필요한 부분입니다.
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier는 에스컬레이션 Event를 Discord 채널 메시지로 보냅니다.
type DiscordNotifier struct {
	logger    *zap.Logger
	sender    MessageSender
	channelID string
}

// NewDiscordNotifier는 봇 토큰으로 REST 전용 Discord 세션을 만들어 Notifier를 생성합니다.
// 메시지 전송만 하므로 gateway 연결(session.Open)은 하지 않습니다.
func NewDiscordNotifier(logger *zap.Logger, token, channelID string) (*DiscordNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: empty discord token")
	}
	if channelID == "" {
		return nil, fmt.Errorf("notify: empty discord channel id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	return NewDiscordNotifierWithSender(logger, session, channelID), nil
}

// NewDiscordNotifierWithSender는 주어진 sender를 사용하는 Notifier를 생성합니다.
func NewDiscordNotifierWithSender(logger *zap.Logger, sender MessageSender, channelID string) *DiscordNotifier {
	return &DiscordNotifier{
		logger:    logger.Named("discord"),
		sender:    sender,
		channelID: channelID,
	}
}

// Notify implements Notifier.
func (d *DiscordNotifier) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content := FormatMessage(event)
	if _, err := d.sender.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx)); err != nil {
		d.logger.Error("Failed to send escalation message",
			zap.String("channel_id", d.channelID),
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
		return fmt.Errorf("notify: send discord message: %w", err)
	}
	d.logger.Debug("Escalation message sent",
		zap.String("channel_id", d.channelID),
		zap.String("kind", event.Kind),
	)
	return nil
}

// discordMessageLimit는 Discord 메시지 최대 길이입니다.
const discordMessageLimit = 2000

// FormatMessage는 Event를 Discord 메시지 본문으로 변환합니다.
func FormatMessage(event Event) string {
	var b strings.Builder
	switch event.Kind {
	case EventReviewLimitExceeded:
		b.WriteString("🚨 **리뷰 한도 초과** - orchestrator 개입 필요")
	case EventTaskEscalated:
		b.WriteString("⚠️ **태스크 에스컬레이션**")
	case EventStepFailed:
		b.WriteString("❌ **워크플로우 단계 실패**")
	default:
		b.WriteString("ℹ️ **워크플로우 알림**")
	}
	b.WriteString("\n")
	if event.FunctionID != "" {
		fmt.Fprintf(&b, "Function: `%s`\n", event.FunctionID)
	}
	if event.TaskID != "" {
		fmt.Fprintf(&b, "Task: `%s`\n", event.TaskID)
	}
	if event.StepID != "" {
		fmt.Fprintf(&b, "Step: `%s`\n", event.StepID)
	}
	if event.Message != "" {
		b.WriteString(event.Message)
	}

	msg := []rune(b.String())
	if len(msg) > discordMessageLimit {
		return string(msg[:discordMessageLimit-3]) + "..."
	}
	return string(msg)
}
