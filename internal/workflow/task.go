package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cnap-oss/devkit/internal/notify"
	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateTaskInput은 태스크 생성 입력입니다.
// DependsOn, Blocks는 같은 function 안의 task_id 목록입니다.
type CreateTaskInput struct {
	TaskID                   string
	Title                    string
	Description              *string
	UserStory                *string
	Priority                 *string
	IsParallelizable         bool
	FilePath                 *string
	RegionHint               *string
	OperationType            *string
	DependsOn                []string
	Blocks                   []string
	RequiresDBIntegration    bool
	EstimatedDurationMinutes *int
}

// ReviewInput은 리뷰어 판정 입력입니다.
type ReviewInput struct {
	Result        string
	Feedback      string
	ReviewerAgent string
}

// CreateTask는 phase 아래 새 태스크를 생성합니다.
// 의존성이 function 전체 태스크 그래프에 순환을 만들면 ErrCyclicDependency이며 아무것도 생성되지 않습니다.
func (s *Store) CreateTask(ctx context.Context, phaseID string, input CreateTaskInput) (*storage.ProjectFunctionPhaseTask, error) {
	const op = "CreateTask"
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, translateStorageError(op, phaseID, err)
	}

	var task *storage.ProjectFunctionPhaseTask
	err = s.withFunction(ctx, op, phase.FunctionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		phase, err := tx.GetPhase(ctx, phaseID)
		if err != nil {
			return err
		}
		existing, err := tx.ListTasksByFunction(ctx, f.ID)
		if err != nil {
			return err
		}
		created, err := s.insertTask(ctx, tx, phase, existing, input)
		if err != nil {
			return err
		}
		if _, err := refreshPhase(ctx, tx, phase.ID, s.now()); err != nil {
			return err
		}
		task = created
		return touch(ctx, tx, f)
	})
	if err != nil {
		s.logger.Warn("Task creation rejected",
			zap.String("phase_id", phaseID),
			zap.String("task_id", input.TaskID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordTaskCreated(1)
	s.logger.Info("Task created",
		zap.String("function_id", task.FunctionID),
		zap.String("task_id", task.TaskID),
		zap.Strings("depends_on", task.DependsOn),
	)
	return task, nil
}

// insertTask는 검증, 순환 검사, 저장, depends_on/blocks 대칭 갱신을 수행합니다.
// existing은 같은 function의 기존 태스크 목록입니다.
func (s *Store) insertTask(ctx context.Context, tx *storage.Repository, phase *storage.ProjectFunctionPhase, existing []storage.ProjectFunctionPhaseTask, input CreateTaskInput) (*storage.ProjectFunctionPhaseTask, error) {
	const op = "CreateTask"
	taskID := strings.TrimSpace(input.TaskID)
	if taskID == "" {
		return nil, NewWorkflowError(op, phase.FunctionID, ErrValidation, "task_id is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, NewWorkflowError(op, taskID, ErrValidation, "title is required")
	}
	if input.OperationType != nil && !storage.Contains([]string{storage.OperationCreate, storage.OperationModify, storage.OperationDelete}, *input.OperationType) {
		return nil, NewWorkflowError(op, taskID, ErrValidation, "unknown operation_type %q", *input.OperationType)
	}

	byTaskID := make(map[string]*storage.ProjectFunctionPhaseTask, len(existing))
	for i := range existing {
		byTaskID[existing[i].TaskID] = &existing[i]
	}
	if _, dup := byTaskID[taskID]; dup {
		return nil, NewWorkflowError(op, taskID, ErrValidation, "task_id already exists in function")
	}

	dependsOn, err := uniqueRefs(taskID, input.DependsOn)
	if err != nil {
		return nil, NewWorkflowError(op, taskID, ErrCyclicDependency, "%v", err)
	}
	blocks, err := uniqueRefs(taskID, input.Blocks)
	if err != nil {
		return nil, NewWorkflowError(op, taskID, ErrCyclicDependency, "%v", err)
	}
	for _, dep := range dependsOn {
		if _, ok := byTaskID[dep]; !ok {
			return nil, NewWorkflowError(op, taskID, ErrValidation, "unknown dependency %s", dep)
		}
	}
	for _, target := range blocks {
		blocked, ok := byTaskID[target]
		if !ok {
			return nil, NewWorkflowError(op, taskID, ErrValidation, "unknown blocked task %s", target)
		}
		if blocked.Status != storage.TaskStatusPending && blocked.Status != storage.TaskStatusBlocked {
			return nil, NewWorkflowError(op, taskID, ErrValidation, "cannot block %s in status %s", target, blocked.Status)
		}
	}

	graph := buildTaskGraph(existing)
	graph.addNode(taskID)
	for _, dep := range dependsOn {
		if !graph.tryAddEdge(taskID, dep) {
			return nil, NewWorkflowError(op, taskID, ErrCyclicDependency, "%s -> %s", taskID, dep)
		}
	}
	for _, target := range blocks {
		if !graph.tryAddEdge(target, taskID) {
			return nil, NewWorkflowError(op, taskID, ErrCyclicDependency, "%s -> %s", target, taskID)
		}
	}

	task := &storage.ProjectFunctionPhaseTask{
		ID:                       uuid.NewString(),
		FunctionID:               phase.FunctionID,
		PhaseID:                  phase.ID,
		TaskID:                   taskID,
		Title:                    title,
		Description:              input.Description,
		PhaseNumber:              phase.PhaseNumber,
		UserStory:                input.UserStory,
		Priority:                 input.Priority,
		IsParallelizable:         input.IsParallelizable,
		FilePath:                 input.FilePath,
		RegionHint:               input.RegionHint,
		OperationType:            input.OperationType,
		Status:                   storage.TaskStatusPending,
		ReviewIteration:          0,
		ReviewHistory:            []storage.ReviewHistoryEntry{},
		DependsOn:                dependsOn,
		Blocks:                   blocks,
		RequiresDBIntegration:    input.RequiresDBIntegration,
		EstimatedDurationMinutes: input.EstimatedDurationMinutes,
	}
	if err := tx.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	for _, dep := range dependsOn {
		related := byTaskID[dep]
		if !storage.Contains(related.Blocks, taskID) {
			related.Blocks = append(related.Blocks, taskID)
			if err := tx.UpdateTask(ctx, related); err != nil {
				return nil, err
			}
		}
	}
	for _, target := range blocks {
		related := byTaskID[target]
		if !storage.Contains(related.DependsOn, taskID) {
			related.DependsOn = append(related.DependsOn, taskID)
			if err := tx.UpdateTask(ctx, related); err != nil {
				return nil, err
			}
		}
	}
	return task, nil
}

// uniqueRefs는 중복을 제거한 task_id 목록을 반환합니다. 자기 자신을 참조하면 에러입니다.
func uniqueRefs(self string, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || storage.Contains(out, ref) {
			continue
		}
		if ref == self {
			return nil, fmt.Errorf("%s references itself", self)
		}
		out = append(out, ref)
	}
	return out, nil
}

// AddDependency는 기존 태스크에 선행 태스크(dependsOnTaskID)를 추가합니다.
func (s *Store) AddDependency(ctx context.Context, taskID, dependsOnTaskID string) (*storage.ProjectFunctionPhaseTask, error) {
	const op = "AddDependency"
	functionID, err := s.functionOfTask(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	var task *storage.ProjectFunctionPhaseTask
	err = s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if current.Status != storage.TaskStatusPending && current.Status != storage.TaskStatusBlocked {
			return NewWorkflowError(op, taskID, ErrInvalidTransition, "cannot add dependency in status %s", current.Status)
		}
		if current.TaskID == dependsOnTaskID {
			return NewWorkflowError(op, taskID, ErrCyclicDependency, "%s references itself", dependsOnTaskID)
		}
		if storage.Contains(current.DependsOn, dependsOnTaskID) {
			task = current
			return nil
		}

		tasks, err := tx.ListTasksByFunction(ctx, f.ID)
		if err != nil {
			return err
		}
		var dep *storage.ProjectFunctionPhaseTask
		for i := range tasks {
			if tasks[i].TaskID == dependsOnTaskID {
				dep = &tasks[i]
			}
		}
		if dep == nil {
			return NewWorkflowError(op, taskID, ErrValidation, "unknown dependency %s", dependsOnTaskID)
		}
		if !buildTaskGraph(tasks).tryAddEdge(current.TaskID, dependsOnTaskID) {
			return NewWorkflowError(op, taskID, ErrCyclicDependency, "%s -> %s", current.TaskID, dependsOnTaskID)
		}

		current.DependsOn = append(current.DependsOn, dependsOnTaskID)
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		if !storage.Contains(dep.Blocks, current.TaskID) {
			dep.Blocks = append(dep.Blocks, current.TaskID)
			if err := tx.UpdateTask(ctx, dep); err != nil {
				return err
			}
		}
		task = current
		return touch(ctx, tx, f)
	})
	if err != nil {
		s.logger.Warn("Dependency rejected",
			zap.String("task", taskID),
			zap.String("depends_on", dependsOnTaskID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Dependency added",
		zap.String("task_id", task.TaskID),
		zap.String("depends_on", dependsOnTaskID),
	)
	return task, nil
}

// TransitionTask는 태스크 상태를 전이 규칙에 따라 변경합니다.
// coding 진입은 모든 depends_on 태스크가 completed여야 하며,
// review_iteration이 한도에 도달한 뒤 changes_requested로 돌아가면 ErrReviewLimitExceeded입니다.
func (s *Store) TransitionTask(ctx context.Context, taskID, status string) (*storage.ProjectFunctionPhaseTask, error) {
	const op = "TransitionTask"
	if !storage.Contains(storage.TaskStatuses, status) {
		return nil, NewWorkflowError(op, taskID, ErrValidation, "unknown task status %q", status)
	}
	functionID, err := s.functionOfTask(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	var task *storage.ProjectFunctionPhaseTask
	var from string
	err = s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		from = current.Status
		if !CanTransitionTask(current.Status, status) {
			return NewWorkflowError(op, current.TaskID, ErrInvalidTransition, "%s -> %s", current.Status, status)
		}
		if status == storage.TaskStatusCoding {
			if err := checkDependencies(ctx, tx, current); err != nil {
				return err
			}
		}
		if status == storage.TaskStatusChangesRequested && current.ReviewIteration >= MaxReviewIterations {
			return NewWorkflowError(op, current.TaskID, ErrReviewLimitExceeded,
				"review_iteration %d reached limit %d", current.ReviewIteration, MaxReviewIterations)
		}

		s.applyStatus(current, status)
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		if _, err := refreshPhase(ctx, tx, current.PhaseID, s.now()); err != nil {
			return err
		}
		task = current
		return touch(ctx, tx, f)
	})
	if err != nil {
		if errors.Is(err, ErrReviewLimitExceeded) {
			s.escalationNotice(ctx, functionID, taskID, err)
		}
		s.logger.Warn("Task transition rejected",
			zap.String("task", taskID),
			zap.String("status", status),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordTransition()
	s.logger.Info("Task transitioned",
		zap.String("task_id", task.TaskID),
		zap.String("from", from),
		zap.String("to", status),
	)
	return task, nil
}

func checkDependencies(ctx context.Context, tx *storage.Repository, task *storage.ProjectFunctionPhaseTask) error {
	var unmet []string
	for _, dep := range task.DependsOn {
		prerequisite, err := tx.GetTaskByTaskID(ctx, task.FunctionID, dep)
		if err != nil {
			return translateStorageError("TransitionTask", dep, err)
		}
		if prerequisite.Status != storage.TaskStatusCompleted {
			unmet = append(unmet, fmt.Sprintf("%s(%s)", dep, prerequisite.Status))
		}
	}
	if len(unmet) > 0 {
		return NewWorkflowError("TransitionTask", task.TaskID, ErrDependencyNotSatisfied, "%s", strings.Join(unmet, ", "))
	}
	return nil
}

// applyStatus는 상태 변경과 함께 담당 에이전트, 타임스탬프, 실제 소요 시간을 갱신합니다.
func (s *Store) applyStatus(task *storage.ProjectFunctionPhaseTask, status string) {
	now := s.now()
	task.Status = status
	if agent := agentForStatus(status); agent != "" {
		task.AssignedAgent = &agent
	}
	switch status {
	case storage.TaskStatusCoding:
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	case storage.TaskStatusCompleted:
		task.CompletedAt = &now
		if task.StartedAt != nil {
			minutes := int(now.Sub(*task.StartedAt) / time.Minute)
			task.ActualDurationMinutes = &minutes
		}
	}
}

// RecordReview는 리뷰 결과를 review_history에 추가하고 태스크 상태를 판정에 맞게 전이합니다.
// 리뷰 반복이 이미 한도에 도달했으면 ErrReviewLimitExceeded를 반환하고 에스컬레이션을 알립니다.
func (s *Store) RecordReview(ctx context.Context, taskID string, input ReviewInput) (*storage.ProjectFunctionPhaseTask, error) {
	const op = "RecordReview"
	if !storage.Contains(storage.ReviewResults, input.Result) {
		return nil, NewWorkflowError(op, taskID, ErrValidation, "unknown review result %q", input.Result)
	}
	reviewer := input.ReviewerAgent
	if reviewer == "" {
		reviewer = storage.AgentReviewer
	}
	functionID, err := s.functionOfTask(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	var task *storage.ProjectFunctionPhaseTask
	err = s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if current.ReviewIteration >= MaxReviewIterations {
			return NewWorkflowError(op, current.TaskID, ErrReviewLimitExceeded,
				"review_iteration %d reached limit %d", current.ReviewIteration, MaxReviewIterations)
		}
		if current.Status != storage.TaskStatusReview {
			return NewWorkflowError(op, current.TaskID, ErrInvalidTransition, "task is %s, not review", current.Status)
		}

		history := append([]storage.ReviewHistoryEntry{}, current.ReviewHistory...)
		history = append(history, storage.ReviewHistoryEntry{
			Iteration:     len(history) + 1,
			Result:        input.Result,
			Feedback:      input.Feedback,
			Timestamp:     s.now().Format(time.RFC3339),
			ReviewerAgent: &reviewer,
		})
		current.ReviewHistory = history
		current.ReviewIteration = len(history)

		next := storage.TaskStatusChangesRequested
		if input.Result != storage.ReviewChangesRequested {
			next = storage.TaskStatusCompleted
			if current.RequiresDBIntegration {
				next = storage.TaskStatusDatabaseIntegration
			}
		}
		s.applyStatus(current, next)

		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		if _, err := refreshPhase(ctx, tx, current.PhaseID, s.now()); err != nil {
			return err
		}
		task = current
		return touch(ctx, tx, f)
	})
	if err != nil {
		if errors.Is(err, ErrReviewLimitExceeded) {
			s.escalationNotice(ctx, functionID, taskID, err)
		}
		s.logger.Warn("Review rejected",
			zap.String("task", taskID),
			zap.String("result", input.Result),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordReview(input.Result != storage.ReviewChangesRequested)
	s.logger.Info("Review recorded",
		zap.String("task_id", task.TaskID),
		zap.String("result", input.Result),
		zap.Int("review_iteration", task.ReviewIteration),
		zap.String("status", task.Status),
	)
	return task, nil
}

// EscalateTask는 orchestrator 개입을 위해 태스크를 blocked로 전환하고 알림을 보냅니다.
func (s *Store) EscalateTask(ctx context.Context, taskID, reason string) (*storage.ProjectFunctionPhaseTask, error) {
	const op = "EscalateTask"
	functionID, err := s.functionOfTask(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	var task *storage.ProjectFunctionPhaseTask
	err = s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if IsTaskTerminal(current.Status) {
			return NewWorkflowError(op, current.TaskID, ErrInvalidTransition, "task is %s", current.Status)
		}
		current.Status = storage.TaskStatusBlocked
		orchestrator := storage.AgentOrchestrator
		current.AssignedAgent = &orchestrator
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		if _, err := refreshPhase(ctx, tx, current.PhaseID, s.now()); err != nil {
			return err
		}
		task = current
		return touch(ctx, tx, f)
	})
	if err != nil {
		s.logger.Warn("Escalation rejected", zap.String("task", taskID), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordEscalation()
	s.notify(ctx, notify.Event{
		Kind:       notify.EventTaskEscalated,
		FunctionID: functionID,
		TaskID:     task.TaskID,
		Message:    reason,
	})
	s.logger.Info("Task escalated",
		zap.String("task_id", task.TaskID),
		zap.String("reason", reason),
	)
	return task, nil
}

func (s *Store) escalationNotice(ctx context.Context, functionID, taskID string, cause error) {
	s.metrics.RecordEscalation()
	label := taskID
	if task, err := s.repo.GetTask(ctx, taskID); err == nil {
		label = task.TaskID
	}
	s.notify(ctx, notify.Event{
		Kind:       notify.EventReviewLimitExceeded,
		FunctionID: functionID,
		TaskID:     label,
		Message:    cause.Error(),
	})
}

// functionOfTask는 태스크가 속한 function ID를 반환합니다.
func (s *Store) functionOfTask(ctx context.Context, op, taskID string) (string, error) {
	if err := s.ensureRepo(); err != nil {
		return "", err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return "", translateStorageError(op, taskID, err)
	}
	return task.FunctionID, nil
}

// GetTask는 내부 ID로 태스크를 조회합니다.
func (s *Store) GetTask(ctx context.Context, taskID string) (*storage.ProjectFunctionPhaseTask, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, translateStorageError("GetTask", taskID, err)
	}
	return task, nil
}

// GetTaskByTaskID는 function 안에서 task_id(T001 등)로 태스크를 조회합니다.
func (s *Store) GetTaskByTaskID(ctx context.Context, functionID, taskID string) (*storage.ProjectFunctionPhaseTask, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	task, err := s.repo.GetTaskByTaskID(ctx, functionID, taskID)
	if err != nil {
		return nil, translateStorageError("GetTaskByTaskID", taskID, err)
	}
	return task, nil
}

// ListTasks는 function의 모든 태스크를 반환합니다.
func (s *Store) ListTasks(ctx context.Context, functionID string) ([]storage.ProjectFunctionPhaseTask, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasksByFunction(ctx, functionID)
	if err != nil {
		return nil, translateStorageError("ListTasks", functionID, err)
	}
	return tasks, nil
}

// ListPhaseTasks는 phase의 태스크를 반환합니다.
func (s *Store) ListPhaseTasks(ctx context.Context, phaseID string) ([]storage.ProjectFunctionPhaseTask, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasksByPhase(ctx, phaseID)
	if err != nil {
		return nil, translateStorageError("ListPhaseTasks", phaseID, err)
	}
	return tasks, nil
}
