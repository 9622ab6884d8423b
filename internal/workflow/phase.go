package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreatePhaseInput은 구현 단계 생성 입력입니다.
type CreatePhaseInput struct {
	PhaseNumber        int
	PhaseName          string
	PhaseGoal          *string
	IsMVP              bool
	UserStory          *string
	Priority           *string
	CompletionCriteria *string
	IndependentTest    *string
}

// CreatePhase는 ProjectFunction 아래 새 구현 단계를 생성합니다.
// phase_number는 function 안에서 유일해야 합니다.
func (s *Store) CreatePhase(ctx context.Context, functionID string, input CreatePhaseInput) (*storage.ProjectFunctionPhase, error) {
	const op = "CreatePhase"
	if input.PhaseNumber <= 0 {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "phase_number must be positive")
	}
	if strings.TrimSpace(input.PhaseName) == "" {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "phase_name is required")
	}

	var phase *storage.ProjectFunctionPhase
	err := s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		created, err := createPhase(ctx, tx, f.ID, input)
		if err != nil {
			return err
		}
		phase = created
		return touch(ctx, tx, f)
	})
	if err != nil {
		s.logger.Warn("Phase creation rejected",
			zap.String("function_id", functionID),
			zap.Int("phase_number", input.PhaseNumber),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Phase created",
		zap.String("function_id", functionID),
		zap.String("phase_id", phase.ID),
		zap.Int("phase_number", phase.PhaseNumber),
	)
	return phase, nil
}

func createPhase(ctx context.Context, tx *storage.Repository, functionID string, input CreatePhaseInput) (*storage.ProjectFunctionPhase, error) {
	if _, err := tx.GetPhaseByNumber(ctx, functionID, input.PhaseNumber); err == nil {
		return nil, NewWorkflowError("CreatePhase", functionID, ErrValidation, "phase %d already exists", input.PhaseNumber)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	phase := &storage.ProjectFunctionPhase{
		ID:                 uuid.NewString(),
		FunctionID:         functionID,
		PhaseNumber:        input.PhaseNumber,
		PhaseName:          strings.TrimSpace(input.PhaseName),
		PhaseGoal:          input.PhaseGoal,
		IsMVP:              input.IsMVP,
		UserStory:          input.UserStory,
		Priority:           input.Priority,
		Status:             storage.PhaseStatusPending,
		CompletionCriteria: input.CompletionCriteria,
		IndependentTest:    input.IndependentTest,
	}
	if err := tx.CreatePhase(ctx, phase); err != nil {
		return nil, err
	}
	return phase, nil
}

// GetPhase는 구현 단계를 조회합니다.
func (s *Store) GetPhase(ctx context.Context, phaseID string) (*storage.ProjectFunctionPhase, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, translateStorageError("GetPhase", phaseID, err)
	}
	return phase, nil
}

// ListPhases는 function의 구현 단계를 phase_number 순으로 반환합니다.
func (s *Store) ListPhases(ctx context.Context, functionID string) ([]storage.ProjectFunctionPhase, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	phases, err := s.repo.ListPhasesByFunction(ctx, functionID)
	if err != nil {
		return nil, translateStorageError("ListPhases", functionID, err)
	}
	return phases, nil
}

// refreshPhase는 소속 태스크로부터 phase 상태와 카운터를 다시 계산해 저장합니다.
func refreshPhase(ctx context.Context, tx *storage.Repository, phaseID string, now time.Time) (*storage.ProjectFunctionPhase, error) {
	phase, err := tx.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	tasks, err := tx.ListTasksByPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	derivePhaseProgress(phase, tasks, now)
	if err := tx.UpdatePhaseProgress(ctx, phase); err != nil {
		return nil, err
	}
	return phase, nil
}

// derivePhaseProgress는 태스크 상태로부터 phase의 status, total/completed 카운터, 타임스탬프를 계산합니다.
// blocked 태스크가 하나라도 있으면 blocked, 모두 끝났으면 completed입니다.
func derivePhaseProgress(phase *storage.ProjectFunctionPhase, tasks []storage.ProjectFunctionPhaseTask, now time.Time) {
	total := len(tasks)
	done := 0
	blocked := false
	started := false
	for _, task := range tasks {
		if isTaskDone(task.Status) {
			done++
		}
		if task.Status == storage.TaskStatusBlocked {
			blocked = true
		}
		if task.Status != storage.TaskStatusPending {
			started = true
		}
	}

	phase.TotalTasks = total
	phase.CompletedTasks = done

	switch {
	case blocked:
		phase.Status = storage.PhaseStatusBlocked
	case total > 0 && done == total:
		phase.Status = storage.PhaseStatusCompleted
	case started:
		phase.Status = storage.PhaseStatusInProgress
	default:
		phase.Status = storage.PhaseStatusPending
	}

	if started && phase.StartedAt == nil {
		t := now
		phase.StartedAt = &t
	}
	if phase.Status == storage.PhaseStatusCompleted {
		if phase.CompletedAt == nil {
			t := now
			phase.CompletedAt = &t
		}
	} else {
		phase.CompletedAt = nil
	}
}
