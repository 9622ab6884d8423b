package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// EventReviewLimitExceeded는 리뷰 루프가 한도에 도달해 자동 재시도가 중단됐음을 뜻합니다.
	EventReviewLimitExceeded = "review_limit_exceeded"
	// EventTaskEscalated는 orchestrator가 태스크에 개입했음을 뜻합니다.
	EventTaskEscalated = "task_escalated"
	// EventStepFailed는 checkcard 단계가 failed로 기록됐음을 뜻합니다.
	EventStepFailed = "step_failed"
)

// Event는 사람의 주의가 필요한 워크플로우 사건입니다.
type Event struct {
	Kind       string
	FunctionID string
	TaskID     string
	StepID     string
	Message    string
	At         time.Time
}

// Notifier는 Event를 외부 채널로 전달합니다.
// 전달 실패는 워크플로우 상태에 영향을 주지 않습니다.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier는 Event를 zap 로그로만 남깁니다.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier는 새로운 LogNotifier를 생성합니다.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Warn("Workflow escalation",
		zap.String("kind", event.Kind),
		zap.String("function_id", event.FunctionID),
		zap.String("task_id", event.TaskID),
		zap.String("step_id", event.StepID),
		zap.String("message", event.Message),
		zap.Time("at", event.At),
	)
	return nil
}

// Multi는 여러 Notifier에 순서대로 전달합니다. 첫 번째 에러를 반환하지만 나머지 전달은 계속합니다.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
