package checkcard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cnap-oss/devkit/internal/notify"
	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrLoopLimitExceeded는 제한된 루프(plan_review, coder_reviewer)가 최대 반복에 도달했음을 나타냅니다.
var ErrLoopLimitExceeded = fmt.Errorf("checkcard 루프 한도 초과: %w", workflow.ErrReviewLimitExceeded)

// Recorder는 워크플로우 단계별 checkcard 감사 기록을 남깁니다.
// checkcard는 제어 결정에 사용되지 않으며, completed/failed가 되면 변경되지 않습니다.
type Recorder struct {
	logger   *zap.Logger
	repo     *storage.Repository
	notifier notify.Notifier
	now      func() time.Time
}

var _ workflow.HandoffLog = (*Recorder)(nil)

// NewRecorder는 새로운 Recorder를 생성합니다.
func NewRecorder(logger *zap.Logger, repo *storage.Repository, notifier notify.Notifier) *Recorder {
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Recorder{
		logger:   logger,
		repo:     repo,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock은 테스트에서 시간 소스를 교체할 때 사용합니다.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Recorder) ensureRepo() error {
	if r.repo == nil {
		return fmt.Errorf("checkcard: repository is not configured")
	}
	return nil
}

// newCard는 단계 정의로 기본 필드를 채운 checkcard를 만듭니다.
func newCard(functionID, stepID, agent string) *storage.Checkcard {
	card := &storage.Checkcard{
		FunctionID:   functionID,
		StepID:       stepID,
		StepName:     stepID,
		Agent:        agent,
		Status:       storage.CheckcardStatusPending,
		Inputs:       map[string]any{},
		ContextReads: []string{},
	}
	if step, ok := LookupStep(stepID); ok {
		card.StepName = step.Name
		card.Description = step.Description
		if agent == "" {
			card.Agent = step.Agent
		}
		if step.BehaviorMode != "" {
			mode := step.BehaviorMode
			card.BehaviorMode = &mode
		}
		card.ContextReads = append([]string{}, step.ContextReads...)
	}
	if card.Agent == "" {
		card.Agent = storage.AgentOrchestrator
	}
	return card
}

// checkAgent는 등록된 단계의 담당 에이전트와 일치하는지 확인합니다.
func checkAgent(op, stepID, agent string) error {
	if !storage.Contains(storage.Agents, agent) {
		return workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "unknown agent %q", agent)
	}
	if step, ok := LookupStep(stepID); ok && step.Agent != agent {
		return workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "step %s is owned by %s, not %s", stepID, step.Agent, agent)
	}
	return nil
}

func (r *Recorder) checkFunction(ctx context.Context, op, functionID string) error {
	if functionID == "" {
		return nil
	}
	if _, err := r.repo.GetFunction(ctx, functionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return workflow.NewWorkflowError(op, functionID, workflow.ErrValidation, "function does not exist")
		}
		return err
	}
	return nil
}

// Prepare는 아직 시작되지 않은 pending checkcard를 생성합니다. 이미 있으면 기존 기록을 반환합니다.
func (r *Recorder) Prepare(ctx context.Context, functionID, stepID string) (*storage.Checkcard, error) {
	const op = "Prepare"
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(stepID) == "" {
		return nil, workflow.NewWorkflowError(op, functionID, workflow.ErrValidation, "step id is required")
	}
	if err := r.checkFunction(ctx, op, functionID); err != nil {
		return nil, err
	}
	if existing, err := r.repo.GetCheckcard(ctx, functionID, stepID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	card := newCard(functionID, stepID, "")
	if err := r.repo.CreateCheckcard(ctx, card); err != nil {
		return nil, fmt.Errorf("checkcard: create %s: %w", stepID, err)
	}
	r.logger.Info("Checkcard prepared",
		zap.String("function_id", functionID),
		zap.String("step_id", stepID),
	)
	return card, nil
}

// StartStep은 단계를 in_progress로 기록하고 started_at을 현재 시각으로 설정합니다.
// 이미 시작됐거나 종료된 단계는 ErrInvalidTransition입니다.
func (r *Recorder) StartStep(ctx context.Context, functionID, stepID, agent string, inputs map[string]any) (*storage.Checkcard, error) {
	const op = "StartStep"
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(stepID) == "" {
		return nil, workflow.NewWorkflowError(op, functionID, workflow.ErrValidation, "step id is required")
	}
	if err := checkAgent(op, stepID, agent); err != nil {
		return nil, err
	}
	if err := r.checkFunction(ctx, op, functionID); err != nil {
		return nil, err
	}

	now := r.now()
	card, err := r.repo.GetCheckcard(ctx, functionID, stepID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		card = newCard(functionID, stepID, agent)
		card.Status = storage.CheckcardStatusInProgress
		card.StartedAt = &now
		if inputs != nil {
			card.Inputs = inputs
		}
		if err := r.repo.CreateCheckcard(ctx, card); err != nil {
			return nil, fmt.Errorf("checkcard: create %s: %w", stepID, err)
		}
	case err != nil:
		return nil, err
	case card.Status != storage.CheckcardStatusPending:
		return nil, workflow.NewWorkflowError(op, stepID, workflow.ErrInvalidTransition, "step is already %s", card.Status)
	default:
		card.Agent = agent
		card.Status = storage.CheckcardStatusInProgress
		card.StartedAt = &now
		if inputs != nil {
			card.Inputs = inputs
		}
		ok, err := r.repo.UpdateCheckcardIfStatus(ctx, card, storage.CheckcardStatusPending)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, workflow.NewWorkflowError(op, stepID, workflow.ErrConcurrentModification, "step changed while starting")
		}
	}

	r.logger.Info("Checkcard step started",
		zap.String("function_id", functionID),
		zap.String("step_id", stepID),
		zap.String("agent", agent),
	)
	return card, nil
}

// CompleteStep은 단계를 completed로 기록하고 duration_minutes를 분 단위(내림)로 계산합니다.
// 시작되지 않은 단계는 경고 로그만 남기고 nil을 반환합니다. 이미 종료된 기록은 바뀌지 않습니다.
// task_json 검증 단계(F1)는 outputs.tasks_json이 유효하지 않으면 ErrValidation이며 in_progress로 남습니다.
func (r *Recorder) CompleteStep(ctx context.Context, functionID, stepID string, outputs map[string]any) (*storage.Checkcard, error) {
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}

	card, err := r.repo.GetCheckcard(ctx, functionID, stepID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.logger.Warn("Completing a step that was never started",
			zap.String("function_id", functionID),
			zap.String("step_id", stepID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch card.Status {
	case storage.CheckcardStatusPending:
		r.logger.Warn("Completing a step that was never started",
			zap.String("function_id", functionID),
			zap.String("step_id", stepID),
		)
		return card, nil
	case storage.CheckcardStatusCompleted, storage.CheckcardStatusFailed:
		r.logger.Info("Checkcard already terminal, completion ignored",
			zap.String("step_id", stepID),
			zap.String("status", card.Status),
		)
		return card, nil
	}

	if outputs == nil {
		outputs = map[string]any{}
	}
	if err := checkStepOutputs(stepID, outputs); err != nil {
		r.logger.Warn("Checkcard completion rejected",
			zap.String("function_id", functionID),
			zap.String("step_id", stepID),
			zap.Error(err),
		)
		return nil, err
	}

	now := r.now()
	updated := *card
	updated.Status = storage.CheckcardStatusCompleted
	updated.CompletedAt = &now
	updated.Outputs = outputs
	if card.StartedAt != nil {
		minutes := wholeMinutes(*card.StartedAt, now)
		updated.DurationMinutes = &minutes
	}

	ok, err := r.repo.UpdateCheckcardIfStatus(ctx, &updated, storage.CheckcardStatusInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.logger.Info("Checkcard became terminal concurrently, completion ignored", zap.String("step_id", stepID))
		return r.repo.GetCheckcard(ctx, functionID, stepID)
	}

	r.logger.Info("Checkcard step completed",
		zap.String("function_id", functionID),
		zap.String("step_id", stepID),
		zap.Intp("duration_minutes", updated.DurationMinutes),
	)
	return &updated, nil
}

// FailStep은 단계를 failed로 기록합니다. 종료된 기록은 바뀌지 않습니다.
// 기록이 없으면 실패를 잃지 않도록 failed 기록을 새로 만듭니다.
// 워크플로우 상태 때문에 에러를 반환하지 않으며, 저장소 에러만 반환합니다.
func (r *Recorder) FailStep(ctx context.Context, functionID, stepID, message string) (*storage.Checkcard, error) {
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		message = "unspecified failure"
	}
	now := r.now()

	card, err := r.repo.GetCheckcard(ctx, functionID, stepID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		card = newCard(functionID, stepID, "")
		card.Status = storage.CheckcardStatusFailed
		card.CompletedAt = &now
		card.Error = &message
		if err := r.repo.CreateCheckcard(ctx, card); err != nil {
			return nil, fmt.Errorf("checkcard: create %s: %w", stepID, err)
		}
	case err != nil:
		return nil, err
	case card.IsTerminal():
		r.logger.Info("Checkcard already terminal, failure ignored",
			zap.String("step_id", stepID),
			zap.String("status", card.Status),
		)
		return card, nil
	default:
		updated := *card
		updated.Status = storage.CheckcardStatusFailed
		updated.CompletedAt = &now
		updated.Error = &message
		if card.StartedAt != nil {
			minutes := wholeMinutes(*card.StartedAt, now)
			updated.DurationMinutes = &minutes
		}
		ok, err := r.repo.UpdateCheckcardIfStatus(ctx, &updated, storage.CheckcardStatusPending, storage.CheckcardStatusInProgress)
		if err != nil {
			return nil, err
		}
		if !ok {
			return r.repo.GetCheckcard(ctx, functionID, stepID)
		}
		card = &updated
	}

	r.logger.Warn("Checkcard step failed",
		zap.String("function_id", functionID),
		zap.String("step_id", stepID),
		zap.String("error", message),
	)
	r.notify(ctx, notify.Event{
		Kind:       notify.EventStepFailed,
		FunctionID: functionID,
		StepID:     stepID,
		Message:    message,
		At:         now,
	})
	return card, nil
}

// RecordCommand는 진행 중인 단계에 실행한 명령을 추가합니다.
func (r *Recorder) RecordCommand(ctx context.Context, functionID, stepID string, command storage.CommandExecution) (*storage.Checkcard, error) {
	const op = "RecordCommand"
	if strings.TrimSpace(command.Command) == "" {
		return nil, workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "command is required")
	}
	return r.mutateInProgress(ctx, op, functionID, stepID, func(card *storage.Checkcard) error {
		card.CommandsExecuted = append(append([]storage.CommandExecution{}, card.CommandsExecuted...), command)
		return nil
	})
}

// RecordLoopIteration은 진행 중인 단계의 루프에 반복 하나를 추가합니다.
// loopType이 비어 있으면 단계 정의의 루프 종류를 사용합니다.
// plan_review, coder_reviewer 루프는 3회를 넘으면 ErrLoopLimitExceeded입니다.
func (r *Recorder) RecordLoopIteration(ctx context.Context, functionID, stepID, loopType string, iteration storage.LoopIteration) (*storage.Checkcard, error) {
	const op = "RecordLoopIteration"
	if loopType == "" {
		if step, ok := LookupStep(stepID); ok {
			loopType = step.LoopType
		}
	}
	limit, known := maxLoopIterations(loopType)
	if !known {
		return nil, workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "unknown loop type %q", loopType)
	}

	card, err := r.mutateInProgress(ctx, op, functionID, stepID, func(card *storage.Checkcard) error {
		loop := card.Loop
		if loop == nil {
			loop = &storage.LoopData{
				Type:                 loopType,
				MaxIterations:        limit,
				LoopDataPerIteration: []storage.LoopIteration{},
			}
		} else {
			copied := *loop
			copied.LoopDataPerIteration = append([]storage.LoopIteration{}, loop.LoopDataPerIteration...)
			loop = &copied
		}
		if loop.Type != loopType {
			return workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "step loop is %s, not %s", loop.Type, loopType)
		}
		if loop.ExitCondition != "" {
			return workflow.NewWorkflowError(op, stepID, workflow.ErrInvalidTransition, "loop already closed: %s", loop.ExitCondition)
		}
		if loop.MaxIterations != nil && loop.Iterations >= *loop.MaxIterations {
			return workflow.NewWorkflowError(op, stepID, ErrLoopLimitExceeded, "%d/%d", loop.Iterations, *loop.MaxIterations)
		}
		iteration.Iteration = loop.Iterations + 1
		loop.LoopDataPerIteration = append(loop.LoopDataPerIteration, iteration)
		loop.Iterations = len(loop.LoopDataPerIteration)
		card.Loop = loop
		return nil
	})
	if errors.Is(err, ErrLoopLimitExceeded) {
		r.notify(ctx, notify.Event{
			Kind:       notify.EventReviewLimitExceeded,
			FunctionID: functionID,
			StepID:     stepID,
			Message:    err.Error(),
		})
	}
	return card, err
}

// CloseLoop은 단계 루프의 종료 조건을 기록합니다.
func (r *Recorder) CloseLoop(ctx context.Context, functionID, stepID, exitCondition string) (*storage.Checkcard, error) {
	const op = "CloseLoop"
	return r.mutateInProgress(ctx, op, functionID, stepID, func(card *storage.Checkcard) error {
		if card.Loop == nil {
			return workflow.NewWorkflowError(op, stepID, workflow.ErrInvalidTransition, "step has no loop")
		}
		if !storage.Contains(exitConditions[card.Loop.Type], exitCondition) {
			return workflow.NewWorkflowError(op, stepID, workflow.ErrValidation,
				"exit condition must be one of %v", exitConditions[card.Loop.Type])
		}
		loop := *card.Loop
		loop.ExitCondition = exitCondition
		card.Loop = &loop
		return nil
	})
}

// LogHandoff는 진행 중인 단계에 AgentKilled(From)/AgentSpawned(To) 쌍을 기록합니다.
// workflow.Store.HandoffAgent의 트랜잭션 tx 안에서 호출되며, 한 단계에는 인계 한 건만 기록됩니다.
func (r *Recorder) LogHandoff(ctx context.Context, tx *storage.Repository, handoff workflow.Handoff) error {
	const op = "LogHandoff"
	card, err := handoffCard(ctx, tx, handoff)
	if err != nil {
		return err
	}
	if card.AgentKilled != nil || card.AgentSpawned != nil {
		return workflow.NewWorkflowError(op, card.StepID, workflow.ErrInvalidTransition, "step already records a handoff")
	}

	at := handoff.At
	if at.IsZero() {
		at = r.now()
	}
	stamp := at.UTC().Format(time.RFC3339)
	card.AgentKilled = &storage.AgentKilled{
		AgentType: handoff.From,
		AgentID:   storage.AgentID(handoff.From, card.StepID),
		KilledAt:  stamp,
	}
	card.AgentSpawned = &storage.AgentSpawned{
		AgentType: handoff.To,
		AgentID:   storage.AgentID(handoff.To, card.StepID),
		SpawnedAt: stamp,
	}

	ok, err := tx.UpdateCheckcardIfStatus(ctx, card, storage.CheckcardStatusInProgress)
	if err != nil {
		return err
	}
	if !ok {
		return workflow.NewWorkflowError(op, card.StepID, workflow.ErrConcurrentModification, "step is no longer in progress")
	}

	r.logger.Info("Agent handoff recorded",
		zap.String("function_id", handoff.FunctionID),
		zap.String("step_id", card.StepID),
		zap.String("killed", card.AgentKilled.AgentID),
		zap.String("spawned", card.AgentSpawned.AgentID),
	)
	return nil
}

// handoffCard는 인계를 기록할 in_progress checkcard를 찾습니다.
// StepID가 비어 있으면 가장 나중에 만들어진 in_progress 기록을 사용합니다.
func handoffCard(ctx context.Context, tx *storage.Repository, handoff workflow.Handoff) (*storage.Checkcard, error) {
	const op = "LogHandoff"
	if handoff.StepID != "" {
		card, err := tx.GetCheckcard(ctx, handoff.FunctionID, handoff.StepID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.NewWorkflowError(op, handoff.StepID, workflow.ErrNotFound, "no checkcard for step")
		}
		if err != nil {
			return nil, err
		}
		if card.Status != storage.CheckcardStatusInProgress {
			return nil, workflow.NewWorkflowError(op, handoff.StepID, workflow.ErrInvalidTransition, "step is %s", card.Status)
		}
		return card, nil
	}

	cards, err := tx.ListCheckcards(ctx, handoff.FunctionID)
	if err != nil {
		return nil, err
	}
	for i := len(cards) - 1; i >= 0; i-- {
		if cards[i].Status == storage.CheckcardStatusInProgress {
			return &cards[i], nil
		}
	}
	return nil, workflow.NewWorkflowError(op, handoff.FunctionID, workflow.ErrInvalidTransition, "no step in progress to record the handoff")
}

// mutateInProgress는 in_progress 기록에만 fn을 적용하고 저장합니다.
func (r *Recorder) mutateInProgress(ctx context.Context, op, functionID, stepID string, fn func(card *storage.Checkcard) error) (*storage.Checkcard, error) {
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}
	card, err := r.repo.GetCheckcard(ctx, functionID, stepID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.NewWorkflowError(op, stepID, workflow.ErrNotFound, "")
	}
	if err != nil {
		return nil, err
	}
	if card.Status != storage.CheckcardStatusInProgress {
		return nil, workflow.NewWorkflowError(op, stepID, workflow.ErrInvalidTransition, "step is %s", card.Status)
	}
	if err := fn(card); err != nil {
		r.logger.Warn("Checkcard update rejected",
			zap.String("op", op),
			zap.String("step_id", stepID),
			zap.Error(err),
		)
		return nil, err
	}
	ok, err := r.repo.UpdateCheckcardIfStatus(ctx, card, storage.CheckcardStatusInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, workflow.NewWorkflowError(op, stepID, workflow.ErrConcurrentModification, "step is no longer in progress")
	}
	r.logger.Info("Checkcard updated", zap.String("op", op), zap.String("step_id", stepID))
	return card, nil
}

// Get은 function의 단계 기록을 조회합니다.
func (r *Recorder) Get(ctx context.Context, functionID, stepID string) (*storage.Checkcard, error) {
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}
	card, err := r.repo.GetCheckcard(ctx, functionID, stepID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.NewWorkflowError("Get", stepID, workflow.ErrNotFound, "")
	}
	return card, err
}

// List는 function의 checkcard를 생성 순서대로 반환합니다.
func (r *Recorder) List(ctx context.Context, functionID string) ([]storage.Checkcard, error) {
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}
	return r.repo.ListCheckcards(ctx, functionID)
}

func (r *Recorder) notify(ctx context.Context, event notify.Event) {
	if event.At.IsZero() {
		event.At = r.now()
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		r.logger.Warn("Failed to deliver checkcard notice",
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
	}
}

// wholeMinutes는 두 시각 사이를 분 단위로 내림한 값입니다.
func wholeMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}
