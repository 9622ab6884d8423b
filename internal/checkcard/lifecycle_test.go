package checkcard_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cnap-oss/devkit/internal/checkcard"
	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/testutil"
	"github.com/cnap-oss/devkit/internal/testutil/mocks"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const lifecycleTasksJSON = `[
  {"task_id": "T001", "description": "Create search index", "is_parallel": false, "dependencies": [], "mvp": true},
  {"task_id": "T002", "description": "Query endpoint", "is_parallel": true, "dependencies": ["T001"], "mvp": true}
]`

// TestEndToEndWorkflow는 요청 접수부터 구현 완료, checkcard 내보내기까지 전체 흐름을 검증합니다.
func TestEndToEndWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("전체 워크플로우 테스트는 짧은 테스트 모드에서 건너뜀")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	repo := testutil.NewTestRepository(t)
	notifier := mocks.NewMockNotifier()
	clock := &fakeClock{now: time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)}

	store := workflow.NewStore(logger, repo, notifier)
	store.SetClock(clock.Now)
	recorder := checkcard.NewRecorder(logger, repo, notifier)
	recorder.SetClock(clock.Now)
	store.SetHandoffLog(recorder)

	var fn *storage.ProjectFunction

	t.Run("요청 접수와 function 생성", func(t *testing.T) {
		_, err := recorder.StartStep(ctx, "", "1.1", storage.AgentUser, map[string]any{"request": "full text search"})
		require.NoError(t, err)
		clock.Advance(time.Minute)
		_, err = recorder.CompleteStep(ctx, "", "1.1", map[string]any{})
		require.NoError(t, err)

		project, err := store.CreateProject(ctx, workflow.CreateProjectInput{Name: "Docs Portal"})
		require.NoError(t, err)
		fn, err = store.CreateFunction(ctx, project.ID, "Search", "full text search")
		require.NoError(t, err)

		_, err = recorder.StartStep(ctx, fn.ID, "1.2", storage.AgentOrchestrator, nil)
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			clock.Advance(2 * time.Minute)
			_, err = recorder.RecordLoopIteration(ctx, fn.ID, "1.2", "", storage.LoopIteration{OrchestratorQuestion: "scope?"})
			require.NoError(t, err)
		}
		_, err = recorder.CloseLoop(ctx, fn.ID, "1.2", "user approval")
		require.NoError(t, err)
		_, err = store.HandoffAgent(ctx, fn.ID, "1.2", storage.AgentOrchestrator, storage.AgentPlanner)
		require.NoError(t, err)
		card, err := recorder.CompleteStep(ctx, fn.ID, "1.2", map[string]any{"function_id": fn.ID})
		require.NoError(t, err)
		assert.Equal(t, 4, *card.DurationMinutes)
	})

	t.Run("spec부터 tasks까지 진행", func(t *testing.T) {
		_, err := recorder.StartStep(ctx, fn.ID, "2.1", storage.AgentPlanner, nil)
		require.NoError(t, err)
		_, err = store.AppendMetadata(ctx, fn.ID, storage.MetadataSpec, storage.SpecMetadata{FileURL: "s3://docs/spec.md", Phase: storage.StageSpecify})
		require.NoError(t, err)
		clock.Advance(15 * time.Minute)
		_, err = recorder.CompleteStep(ctx, fn.ID, "2.1", map[string]any{"spec_file_url": "s3://docs/spec.md"})
		require.NoError(t, err)

		_, err = recorder.StartStep(ctx, fn.ID, "2.2", storage.AgentOrchestrator, map[string]any{"spec_file_path": "spec.md"})
		require.NoError(t, err)
		owned, err := store.HandoffAgent(ctx, fn.ID, "2.2", storage.AgentPlanner, storage.AgentOrchestrator)
		require.NoError(t, err)
		assert.Equal(t, storage.AgentOrchestrator, owned.StatusAgent)
		update, err := recorder.CompleteStep(ctx, fn.ID, "2.2", map[string]any{"next_phase": storage.StageClarify})
		require.NoError(t, err)
		require.NotNil(t, update.AgentKilled)
		assert.Equal(t, "planner[2.2]", update.AgentKilled.AgentID)

		for _, stage := range []string{storage.StageClarify, storage.StagePlan, storage.StageTasks} {
			_, err = store.AdvanceStage(ctx, fn.ID, stage)
			require.NoError(t, err)
		}

		result, err := store.ImportTasks(ctx, fn.ID, []byte(lifecycleTasksJSON), "s3://docs/tasks.md")
		require.NoError(t, err)
		assert.Equal(t, 2, result.TasksCreated)
	})

	t.Run("구현 루프와 리뷰", func(t *testing.T) {
		for _, stage := range []string{storage.StageAnalyze, storage.StageImplement} {
			_, err := store.AdvanceStage(ctx, fn.ID, stage)
			require.NoError(t, err)
		}

		t1, err := store.GetTaskByTaskID(ctx, fn.ID, "T001")
		require.NoError(t, err)
		t2, err := store.GetTaskByTaskID(ctx, fn.ID, "T002")
		require.NoError(t, err)

		_, err = store.TransitionTask(ctx, t2.ID, storage.TaskStatusCoding)
		require.ErrorIs(t, err, workflow.ErrDependencyNotSatisfied)

		_, err = store.TransitionTask(ctx, t1.ID, storage.TaskStatusCoding)
		require.NoError(t, err)
		_, err = store.TransitionTask(ctx, t1.ID, storage.TaskStatusReview)
		require.NoError(t, err)
		_, err = store.RecordReview(ctx, t1.ID, workflow.ReviewInput{Result: storage.ReviewChangesRequested, Feedback: "missing tests"})
		require.NoError(t, err)
		_, err = store.TransitionTask(ctx, t1.ID, storage.TaskStatusCoding)
		require.NoError(t, err)
		_, err = store.TransitionTask(ctx, t1.ID, storage.TaskStatusReview)
		require.NoError(t, err)
		clock.Advance(30 * time.Minute)
		done, err := store.RecordReview(ctx, t1.ID, workflow.ReviewInput{Result: storage.ReviewApproved})
		require.NoError(t, err)
		assert.Equal(t, storage.TaskStatusCompleted, done.Status)
		assert.Equal(t, 2, done.ReviewIteration)

		_, err = store.TransitionTask(ctx, t2.ID, storage.TaskStatusCoding)
		require.NoError(t, err)
		_, err = store.TransitionTask(ctx, t2.ID, storage.TaskStatusReview)
		require.NoError(t, err)
		_, err = store.RecordReview(ctx, t2.ID, workflow.ReviewInput{Result: storage.ReviewApprovedWithFixes})
		require.NoError(t, err)

		snapshot, err := store.Snapshot(ctx, fn.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(100), snapshot.CompletionPercentage)
		require.Len(t, snapshot.Phases, 1)
		assert.Equal(t, storage.PhaseStatusCompleted, snapshot.Phases[0].Status)
		assert.Empty(t, notifier.Events)
	})

	t.Run("checkcard 내보내기", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "checkcards")

		shared, err := recorder.Export(ctx, "", dir)
		require.NoError(t, err)
		require.Len(t, shared, 1)

		paths, err := recorder.Export(ctx, fn.ID, dir)
		require.NoError(t, err)
		require.Len(t, paths, 3)
		for _, path := range paths {
			_, err := os.Stat(path)
			require.NoError(t, err)
		}

		cards, err := recorder.List(ctx, fn.ID)
		require.NoError(t, err)
		for i := range cards {
			assert.NoError(t, checkcard.Validate(&cards[i]))
		}
	})
}
