package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/cnap-oss/devkit/internal/notify"
	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPhase(t *testing.T, store *workflow.Store, fn *storage.ProjectFunction, number int) *storage.ProjectFunctionPhase {
	t.Helper()
	phase, err := store.CreatePhase(context.Background(), fn.ID, workflow.CreatePhaseInput{
		PhaseNumber: number,
		PhaseName:   "Phase",
		IsMVP:       number == 1,
	})
	require.NoError(t, err)
	return phase
}

func createTask(t *testing.T, store *workflow.Store, phase *storage.ProjectFunctionPhase, taskID string, dependsOn ...string) *storage.ProjectFunctionPhaseTask {
	t.Helper()
	task, err := store.CreateTask(context.Background(), phase.ID, workflow.CreateTaskInput{
		TaskID:    taskID,
		Title:     "Implement " + taskID,
		DependsOn: dependsOn,
	})
	require.NoError(t, err)
	return task
}

// completeTask는 coding -> review -> APPROVED 순서로 태스크를 완료시킵니다.
func completeTask(t *testing.T, store *workflow.Store, taskID string) *storage.ProjectFunctionPhaseTask {
	t.Helper()
	ctx := context.Background()
	_, err := store.TransitionTask(ctx, taskID, storage.TaskStatusCoding)
	require.NoError(t, err)
	_, err = store.TransitionTask(ctx, taskID, storage.TaskStatusReview)
	require.NoError(t, err)
	task, err := store.RecordReview(ctx, taskID, workflow.ReviewInput{Result: storage.ReviewApproved, Feedback: "LGTM"})
	require.NoError(t, err)
	return task
}

func assertPhaseCounters(t *testing.T, store *workflow.Store, phaseID string) *storage.ProjectFunctionPhase {
	t.Helper()
	phase, err := store.GetPhase(context.Background(), phaseID)
	require.NoError(t, err)
	assert.LessOrEqual(t, phase.CompletedTasks, phase.TotalTasks)
	if phase.Status == storage.PhaseStatusCompleted {
		assert.Equal(t, phase.TotalTasks, phase.CompletedTasks)
		assert.NotNil(t, phase.CompletedAt)
	}
	return phase
}

func TestCreatePhase(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	phase := newTestPhase(t, store, fn, 1)
	assert.Equal(t, storage.PhaseStatusPending, phase.Status)
	assert.True(t, phase.IsMVP)

	_, err := store.CreatePhase(ctx, fn.ID, workflow.CreatePhaseInput{PhaseNumber: 1, PhaseName: "Duplicate"})
	require.ErrorIs(t, err, workflow.ErrValidation)

	_, err = store.CreatePhase(ctx, fn.ID, workflow.CreatePhaseInput{PhaseNumber: 0, PhaseName: "Zero"})
	require.ErrorIs(t, err, workflow.ErrValidation)

	newTestPhase(t, store, fn, 3)
	newTestPhase(t, store, fn, 2)
	phases, err := store.ListPhases(ctx, fn.ID)
	require.NoError(t, err)
	require.Len(t, phases, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{phases[0].PhaseNumber, phases[1].PhaseNumber, phases[2].PhaseNumber})
}

func TestCreateTask(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)

	t1 := createTask(t, store, phase, "T001")
	assert.Equal(t, storage.TaskStatusPending, t1.Status)
	assert.Equal(t, 0, t1.ReviewIteration)
	assert.Equal(t, 1, t1.PhaseNumber)

	t2 := createTask(t, store, phase, "T002", "T001")
	assert.Equal(t, []string{"T001"}, t2.DependsOn)

	loaded, err := store.GetTaskByTaskID(ctx, fn.ID, "T001")
	require.NoError(t, err)
	assert.Equal(t, []string{"T002"}, loaded.Blocks)

	_, err = store.CreateTask(ctx, phase.ID, workflow.CreateTaskInput{TaskID: "T001", Title: "dup"})
	require.ErrorIs(t, err, workflow.ErrValidation)

	_, err = store.CreateTask(ctx, phase.ID, workflow.CreateTaskInput{TaskID: "T003", Title: "x", DependsOn: []string{"T999"}})
	require.ErrorIs(t, err, workflow.ErrValidation)

	_, err = store.CreateTask(ctx, "missing-phase", workflow.CreateTaskInput{TaskID: "T004", Title: "x"})
	require.ErrorIs(t, err, workflow.ErrNotFound)

	refreshed := assertPhaseCounters(t, store, phase.ID)
	assert.Equal(t, 2, refreshed.TotalTasks)
	assert.Equal(t, 0, refreshed.CompletedTasks)
}

func TestCreateTask_RejectsCycles(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase1 := newTestPhase(t, store, fn, 1)
	phase2 := newTestPhase(t, store, fn, 2)

	createTask(t, store, phase1, "T001")
	createTask(t, store, phase1, "T002", "T001")

	// T003 -> T002 -> T001 이고 T003이 T001을 막으면 T001 -> T003 간선이 생겨 순환
	_, err := store.CreateTask(ctx, phase2.ID, workflow.CreateTaskInput{
		TaskID:    "T003",
		Title:     "cross-phase cycle",
		DependsOn: []string{"T002"},
		Blocks:    []string{"T001"},
	})
	require.ErrorIs(t, err, workflow.ErrCyclicDependency)

	_, err = store.GetTaskByTaskID(ctx, fn.ID, "T003")
	require.ErrorIs(t, err, workflow.ErrNotFound)

	t1, err := store.GetTaskByTaskID(ctx, fn.ID, "T001")
	require.NoError(t, err)
	assert.Empty(t, t1.DependsOn)

	_, err = store.CreateTask(ctx, phase2.ID, workflow.CreateTaskInput{
		TaskID:    "T004",
		Title:     "self",
		DependsOn: []string{"T004"},
	})
	require.ErrorIs(t, err, workflow.ErrCyclicDependency)
}

func TestAddDependency(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)

	t1 := createTask(t, store, phase, "T001")
	t2 := createTask(t, store, phase, "T002", "T001")
	t3 := createTask(t, store, phase, "T003")

	updated, err := store.AddDependency(ctx, t3.ID, "T002")
	require.NoError(t, err)
	assert.Equal(t, []string{"T002"}, updated.DependsOn)

	_, err = store.AddDependency(ctx, t1.ID, "T003")
	require.ErrorIs(t, err, workflow.ErrCyclicDependency)

	_, err = store.AddDependency(ctx, t2.ID, "T404")
	require.ErrorIs(t, err, workflow.ErrValidation)

	loaded, err := store.GetTask(ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"T003"}, loaded.Blocks)
}

func TestTransitionTask_DependenciesMustBeCompleted(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)

	t1 := createTask(t, store, phase, "T001")
	t2 := createTask(t, store, phase, "T002", "T001")

	_, err := store.TransitionTask(ctx, t2.ID, storage.TaskStatusCoding)
	require.ErrorIs(t, err, workflow.ErrDependencyNotSatisfied)

	unchanged, err := store.GetTask(ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusPending, unchanged.Status)

	completeTask(t, store, t1.ID)

	coding, err := store.TransitionTask(ctx, t2.ID, storage.TaskStatusCoding)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusCoding, coding.Status)
	require.NotNil(t, coding.AssignedAgent)
	assert.Equal(t, storage.AgentCoder, *coding.AssignedAgent)
	assert.NotNil(t, coding.StartedAt)
}

func TestTransitionTask_SkippedDependencyIsNotSatisfied(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)

	t1 := createTask(t, store, phase, "T001")
	t2 := createTask(t, store, phase, "T002", "T001")

	_, err := store.TransitionTask(ctx, t1.ID, storage.TaskStatusSkipped)
	require.NoError(t, err)

	_, err = store.TransitionTask(ctx, t2.ID, storage.TaskStatusCoding)
	require.ErrorIs(t, err, workflow.ErrDependencyNotSatisfied)
	assert.Contains(t, err.Error(), "T001(skipped)")
}

func TestTransitionTask_InvalidTransitions(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)
	task := createTask(t, store, phase, "T001")

	_, err := store.TransitionTask(ctx, task.ID, storage.TaskStatusCompleted)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = store.TransitionTask(ctx, task.ID, "done")
	require.ErrorIs(t, err, workflow.ErrValidation)

	_, err = store.TransitionTask(ctx, "missing", storage.TaskStatusCoding)
	require.ErrorIs(t, err, workflow.ErrNotFound)

	skipped, err := store.TransitionTask(ctx, task.ID, storage.TaskStatusSkipped)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusSkipped, skipped.Status)

	_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusPending)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	refreshed := assertPhaseCounters(t, store, phase.ID)
	assert.Equal(t, storage.PhaseStatusCompleted, refreshed.Status)
}

func TestTransitionTask_PhaseProgress(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)

	t1 := createTask(t, store, phase, "T001")
	t2 := createTask(t, store, phase, "T002")

	_, err := store.TransitionTask(ctx, t1.ID, storage.TaskStatusCoding)
	require.NoError(t, err)
	p := assertPhaseCounters(t, store, phase.ID)
	assert.Equal(t, storage.PhaseStatusInProgress, p.Status)
	assert.NotNil(t, p.StartedAt)
	assert.Nil(t, p.CompletedAt)

	clock.Advance(25 * time.Minute)
	_, err = store.TransitionTask(ctx, t1.ID, storage.TaskStatusReview)
	require.NoError(t, err)
	done, err := store.RecordReview(ctx, t1.ID, workflow.ReviewInput{Result: storage.ReviewApprovedWithFixes})
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusCompleted, done.Status)
	require.NotNil(t, done.ActualDurationMinutes)
	assert.Equal(t, 25, *done.ActualDurationMinutes)

	p = assertPhaseCounters(t, store, phase.ID)
	assert.Equal(t, 1, p.CompletedTasks)
	assert.Equal(t, storage.PhaseStatusInProgress, p.Status)

	_, err = store.EscalateTask(ctx, t2.ID, "stuck on flaky test")
	require.NoError(t, err)
	p = assertPhaseCounters(t, store, phase.ID)
	assert.Equal(t, storage.PhaseStatusBlocked, p.Status)

	_, err = store.TransitionTask(ctx, t2.ID, storage.TaskStatusCoding)
	require.NoError(t, err)
	completeTaskFromCoding(t, store, t2.ID)

	p = assertPhaseCounters(t, store, phase.ID)
	assert.Equal(t, storage.PhaseStatusCompleted, p.Status)
	assert.Equal(t, 2, p.CompletedTasks)
}

func completeTaskFromCoding(t *testing.T, store *workflow.Store, taskID string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.TransitionTask(ctx, taskID, storage.TaskStatusReview)
	require.NoError(t, err)
	_, err = store.RecordReview(ctx, taskID, workflow.ReviewInput{Result: storage.ReviewApproved})
	require.NoError(t, err)
}

func TestRecordReview_ReviewIterationMatchesHistory(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)
	task := createTask(t, store, phase, "T001")

	_, err := store.TransitionTask(ctx, task.ID, storage.TaskStatusCoding)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusReview)
		require.NoError(t, err)
		reviewed, err := store.RecordReview(ctx, task.ID, workflow.ReviewInput{
			Result:   storage.ReviewChangesRequested,
			Feedback: "missing error handling",
		})
		require.NoError(t, err)
		assert.Equal(t, i, reviewed.ReviewIteration)
		assert.Len(t, reviewed.ReviewHistory, reviewed.ReviewIteration)
		assert.Equal(t, storage.TaskStatusChangesRequested, reviewed.Status)
		assert.Equal(t, i, reviewed.ReviewHistory[i-1].Iteration)

		_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusCoding)
		require.NoError(t, err)
	}

	_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusReview)
	require.NoError(t, err)
	approved, err := store.RecordReview(ctx, task.ID, workflow.ReviewInput{Result: storage.ReviewApproved})
	require.NoError(t, err)
	assert.Equal(t, 3, approved.ReviewIteration)
	assert.Len(t, approved.ReviewHistory, 3)
	assert.Equal(t, storage.TaskStatusCompleted, approved.Status)

	snapshot := store.Metrics().GetSnapshot()
	assert.Equal(t, int64(3), snapshot.ReviewsRecorded)
	assert.Equal(t, int64(1), snapshot.ReviewsApproved)
}

func TestRecordReview_FourthReviewExceedsLimit(t *testing.T) {
	store, notifier, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)
	task := createTask(t, store, phase, "T001")

	for i := 0; i < workflow.MaxReviewIterations; i++ {
		_, err := store.TransitionTask(ctx, task.ID, storage.TaskStatusCoding)
		require.NoError(t, err)
		_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusReview)
		require.NoError(t, err)
		_, err = store.RecordReview(ctx, task.ID, workflow.ReviewInput{Result: storage.ReviewChangesRequested})
		require.NoError(t, err)
	}

	loaded, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.ReviewIteration)

	_, err = store.RecordReview(ctx, task.ID, workflow.ReviewInput{Result: storage.ReviewChangesRequested})
	require.ErrorIs(t, err, workflow.ErrReviewLimitExceeded)
	assert.True(t, workflow.RequiresEscalation(err))

	loaded, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.ReviewIteration)
	assert.Len(t, loaded.ReviewHistory, 3)

	events := notifier.EventsOfKind(notify.EventReviewLimitExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, "T001", events[0].TaskID)
	assert.Equal(t, fn.ID, events[0].FunctionID)

	// 한도 도달 후 review -> changes_requested 전이도 거부
	_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusCoding)
	require.NoError(t, err)
	_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusReview)
	require.NoError(t, err)
	_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusChangesRequested)
	require.ErrorIs(t, err, workflow.ErrReviewLimitExceeded)

	escalated, err := store.EscalateTask(ctx, task.ID, "review loop exhausted")
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusBlocked, escalated.Status)
	assert.Equal(t, storage.AgentOrchestrator, *escalated.AssignedAgent)
	require.Len(t, notifier.EventsOfKind(notify.EventTaskEscalated), 1)
}

func TestRecordReview_Validation(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)
	task := createTask(t, store, phase, "T001")

	_, err := store.RecordReview(ctx, task.ID, workflow.ReviewInput{Result: "MAYBE"})
	require.ErrorIs(t, err, workflow.ErrValidation)

	_, err = store.RecordReview(ctx, task.ID, workflow.ReviewInput{Result: storage.ReviewApproved})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestRecordReview_DatabaseIntegration(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)

	task, err := store.CreateTask(ctx, phase.ID, workflow.CreateTaskInput{
		TaskID:                "T001",
		Title:                 "Add users table",
		RequiresDBIntegration: true,
	})
	require.NoError(t, err)

	_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusCoding)
	require.NoError(t, err)
	_, err = store.TransitionTask(ctx, task.ID, storage.TaskStatusReview)
	require.NoError(t, err)

	reviewed, err := store.RecordReview(ctx, task.ID, workflow.ReviewInput{Result: storage.ReviewApproved})
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusDatabaseIntegration, reviewed.Status)
	assert.Equal(t, storage.AgentDatabaseArchitect, *reviewed.AssignedAgent)

	completed, err := store.TransitionTask(ctx, task.ID, storage.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestEscalateTask_TerminalTask(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)
	task := createTask(t, store, phase, "T001")
	completeTask(t, store, task.ID)

	_, err := store.EscalateTask(ctx, task.ID, "too late")
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}
