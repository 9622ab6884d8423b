package workflow

import (
	"errors"
	"fmt"

	"github.com/cnap-oss/devkit/internal/storage"
	"gorm.io/gorm"
)

// 워크플로우 에러 분류
var (
	ErrValidation             = errors.New("입력 값이 유효하지 않음")
	ErrNotFound               = errors.New("엔티티를 찾을 수 없음")
	ErrInvalidTransition      = errors.New("허용되지 않는 상태 전이")
	ErrCyclicDependency       = errors.New("태스크 의존성 순환")
	ErrDependencyNotSatisfied = errors.New("선행 태스크가 완료되지 않음")
	ErrReviewLimitExceeded    = errors.New("리뷰 반복 한도 초과")
	ErrConcurrentModification = errors.New("동시 수정 충돌")
)

// WorkflowError는 워크플로우 연산 실패를 래핑합니다.
type WorkflowError struct {
	Op       string // 연산명 (예: "AdvanceStage", "RecordReview")
	EntityID string // 대상 엔티티 ID
	Detail   string // 사람이 읽을 수 있는 상세 설명
	Err      error  // 분류 에러
}

func (e *WorkflowError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.EntityID != "" {
		return fmt.Sprintf("workflow[%s] %s: %s", e.EntityID, e.Op, msg)
	}
	return fmt.Sprintf("workflow %s: %s", e.Op, msg)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError는 새 WorkflowError를 생성합니다.
func NewWorkflowError(op, entityID string, err error, format string, args ...any) *WorkflowError {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &WorkflowError{
		Op:       op,
		EntityID: entityID,
		Detail:   detail,
		Err:      err,
	}
}

// RequiresEscalation은 자동 재시도 대신 orchestrator 개입이 필요한 에러인지 확인합니다.
func RequiresEscalation(err error) bool {
	return errors.Is(err, ErrReviewLimitExceeded)
}

// IsRetryable는 같은 입력으로 다시 시도해도 되는 에러인지 확인합니다.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrConcurrentModification):
		return true
	default:
		return false
	}
}

// translateStorageError는 storage/gorm 에러를 워크플로우 분류로 변환합니다.
func translateStorageError(op, entityID string, err error) error {
	if err == nil {
		return nil
	}
	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewWorkflowError(op, entityID, ErrNotFound, "")
	case errors.Is(err, storage.ErrStaleVersion):
		return NewWorkflowError(op, entityID, ErrConcurrentModification, "")
	default:
		return err
	}
}
