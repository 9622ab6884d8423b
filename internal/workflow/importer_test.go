package workflow_test

import (
	"context"
	"testing"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const sampleTasksJSON = `[
  {"task_id": "T011", "description": "Wire login form", "is_parallel": false, "dependencies": ["T002"], "mvp": false},
  {"task_id": "T001", "description": "Create users model", "is_parallel": false, "dependencies": null, "mvp": true},
  {"task_id": "T002", "description": "Password hashing", "is_parallel": true, "dependencies": ["T001"], "mvp": true, "file_path": "internal/auth/hash.go"}
]`

func TestInferPhaseNumber(t *testing.T) {
	tests := []struct {
		taskID   string
		expected int
	}{
		{"T001", 1},
		{"T010", 1},
		{"T011", 2},
		{"T021", 3},
		{"T100", 10},
		{"setup", 1},
		{"T000", 1},
	}

	for _, tt := range tests {
		t.Run(tt.taskID, func(t *testing.T) {
			assert.Equal(t, tt.expected, workflow.InferPhaseNumber(tt.taskID))
		})
	}
}

func TestParseTaskList(t *testing.T) {
	tasks, err := workflow.ParseTaskList([]byte(sampleTasksJSON))
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Nil(t, tasks[1].Dependencies)
	assert.Equal(t, 2, tasks[0].PhaseNumber())
	require.NotNil(t, tasks[2].FilePath)
}

func TestParseTaskList_AggregatesErrors(t *testing.T) {
	data := `[
	  {"task_id": "T001", "description": "missing flags", "dependencies": null},
	  {"task_id": "T002", "description": "bad deps", "is_parallel": false, "dependencies": "T001", "mvp": true},
	  {"task_id": "T003", "description": "ok", "is_parallel": false, "dependencies": [], "mvp": true}
	]`

	_, err := workflow.ParseTaskList([]byte(data))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)

	_, err = workflow.ParseTaskList([]byte(`{"task_id": "T001"}`))
	require.Error(t, err)

	_, err = workflow.ParseTaskList([]byte(`[]`))
	require.Error(t, err)
}

func TestImportTasks(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	result, err := store.ImportTasks(ctx, fn.ID, []byte(sampleTasksJSON), "s3://docs/tasks.md")
	require.NoError(t, err)
	assert.Equal(t, 3, result.TasksCreated)
	assert.Equal(t, []int{1, 2}, result.PhasesCreated)
	assert.Equal(t, 1, result.ParallelTasks)
	assert.Equal(t, 2, result.MVPTasks)
	assert.Equal(t, 1, result.PostMVPTasks)
	require.NotNil(t, result.Metadata)
	assert.Equal(t, 1, result.Metadata.Index)
	assert.Equal(t, 3, result.Metadata.TaskCount)

	phases, err := store.ListPhases(ctx, fn.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.True(t, phases[0].IsMVP)
	assert.False(t, phases[1].IsMVP)
	assert.Equal(t, 2, phases[0].TotalTasks)
	assert.Equal(t, 1, phases[1].TotalTasks)

	t1, err := store.GetTaskByTaskID(ctx, fn.ID, "T001")
	require.NoError(t, err)
	assert.Equal(t, []string{"T002"}, t1.Blocks)

	t11, err := store.GetTaskByTaskID(ctx, fn.ID, "T011")
	require.NoError(t, err)
	assert.Equal(t, 2, t11.PhaseNumber)
	assert.Equal(t, phases[1].ID, t11.PhaseID)

	loaded, err := store.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	require.Len(t, loaded.TasksMetadata, 1)
	assert.Equal(t, "s3://docs/tasks.md", loaded.TasksMetadata[0].FileURL)
}

func TestImportTasks_ReusesExistingPhasesAndTasks(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)
	phase := newTestPhase(t, store, fn, 1)
	createTask(t, store, phase, "T001")

	data := `[{"task_id": "T002", "description": "extend", "is_parallel": false, "dependencies": ["T001"], "mvp": true}]`
	result, err := store.ImportTasks(ctx, fn.ID, []byte(data), "")
	require.NoError(t, err)
	assert.Empty(t, result.PhasesCreated)
	assert.Nil(t, result.Metadata)

	_, err = store.ImportTasks(ctx, fn.ID, []byte(data), "")
	require.ErrorIs(t, err, workflow.ErrValidation)
}

func TestImportTasks_AllOrNothing(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	cyclic := `[
	  {"task_id": "T001", "description": "a", "is_parallel": false, "dependencies": ["T012"], "mvp": true},
	  {"task_id": "T012", "description": "b", "is_parallel": false, "dependencies": ["T001"], "mvp": false}
	]`
	_, err := store.ImportTasks(ctx, fn.ID, []byte(cyclic), "s3://docs/tasks.md")
	require.ErrorIs(t, err, workflow.ErrCyclicDependency)

	unknown := `[{"task_id": "T001", "description": "a", "is_parallel": false, "dependencies": ["T404"], "mvp": true}]`
	_, err = store.ImportTasks(ctx, fn.ID, []byte(unknown), "")
	require.ErrorIs(t, err, workflow.ErrValidation)

	tasks, err := store.ListTasks(ctx, fn.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	phases, err := store.ListPhases(ctx, fn.ID)
	require.NoError(t, err)
	assert.Empty(t, phases)

	loaded, err := store.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.TasksMetadata)
}

func TestImportTasks_UnknownFunction(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.ImportTasks(context.Background(), "missing", []byte(sampleTasksJSON), "")
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestImportTasks_PhaseOverride(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	data := `[{"task_id": "T001", "description": "polish", "is_parallel": true, "dependencies": [], "mvp": false, "phase": 4}]`
	result, err := store.ImportTasks(ctx, fn.ID, []byte(data), "")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, result.PhasesCreated)

	task, err := store.GetTaskByTaskID(ctx, fn.ID, "T001")
	require.NoError(t, err)
	assert.Equal(t, 4, task.PhaseNumber)
	assert.Equal(t, storage.TaskStatusPending, task.Status)
}
