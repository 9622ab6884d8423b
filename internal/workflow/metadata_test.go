package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestAppendMetadata_AssignsIndexes(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	first, err := store.AppendMetadata(ctx, fn.ID, storage.MetadataSpec, storage.SpecMetadata{
		FileURL: "s3://docs/spec-v1.md",
		Phase:   storage.StageSpecify,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.RecordIndex())

	second, err := store.AppendMetadata(ctx, fn.ID, storage.MetadataSpec, &storage.SpecMetadata{
		FileURL: "s3://docs/spec-v2.md",
		Phase:   storage.StageClarify,
		Index:   99,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.RecordIndex())

	spec := second.(storage.SpecMetadata)
	require.NotNil(t, spec.Timestamp)

	loaded, err := store.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	require.Len(t, loaded.SpecMetadata, 2)
	assert.Empty(t, loaded.PlanMetadata)
}

func TestAppendMetadata_AppendOnly(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	appendPlan := func(url string) {
		_, err := store.AppendMetadata(ctx, fn.ID, storage.MetadataPlan, storage.PlanMetadata{
			FileURL: strPtr(url),
			Phase:   storage.StagePlan,
		})
		require.NoError(t, err)
	}

	var before []storage.PlanMetadata
	for i := 1; i <= 4; i++ {
		appendPlan(fmt.Sprintf("s3://docs/plan-v%d.md", i))

		loaded, err := store.GetFunction(ctx, fn.ID)
		require.NoError(t, err)
		require.Len(t, loaded.PlanMetadata, i)
		for j, prev := range before {
			assert.Equal(t, prev.Index, loaded.PlanMetadata[j].Index)
			assert.Equal(t, *prev.FileURL, *loaded.PlanMetadata[j].FileURL)
		}
		assert.Equal(t, i, loaded.PlanMetadata[i-1].Index)
		before = loaded.PlanMetadata
	}
}

func TestAppendMetadata_Validation(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	tests := []struct {
		name   string
		key    string
		record storage.MetadataRecord
	}{
		{name: "unknown key", key: "design", record: storage.SpecMetadata{FileURL: "x", Phase: storage.StageSpecify}},
		{name: "key mismatch", key: storage.MetadataPlan, record: storage.SpecMetadata{FileURL: "x", Phase: storage.StageSpecify}},
		{name: "spec without file", key: storage.MetadataSpec, record: storage.SpecMetadata{Phase: storage.StageSpecify}},
		{name: "spec wrong phase", key: storage.MetadataSpec, record: storage.SpecMetadata{FileURL: "x", Phase: storage.StagePlan}},
		{name: "plan without file", key: storage.MetadataPlan, record: storage.PlanMetadata{Phase: storage.StagePlan}},
		{name: "artifact type", key: storage.MetadataPlanArtifacts, record: storage.PlanArtifactMetadata{FileURL: "x", ArtifactType: "diagram"}},
		{name: "tasks counters", key: storage.MetadataTasks, record: storage.TasksMetadata{FileURL: "x", TaskCount: 1, ParallelTasks: 2}},
		{name: "implementation phase", key: storage.MetadataImplement, record: storage.ImplementationMetadata{Phase: "deploy"}},
		{name: "nil record", key: storage.MetadataSpec, record: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AppendMetadata(ctx, fn.ID, tt.key, tt.record)
			require.ErrorIs(t, err, workflow.ErrValidation)
		})
	}
}

func TestAppendMetadata_PlanReviewWithoutFile(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	approved := true
	rec, err := store.AppendMetadata(ctx, fn.ID, storage.MetadataPlan, storage.PlanMetadata{
		Phase:            "plan_review",
		UserApproved:     &approved,
		ReviewIterations: intPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RecordIndex())
}

func TestAppendMetadata_UnknownFunction(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.AppendMetadata(context.Background(), "missing", storage.MetadataSpec, storage.SpecMetadata{
		FileURL: "s3://docs/spec.md",
		Phase:   storage.StageSpecify,
	})
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestAppendMetadata_ImplementationLegacyFields(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	rec, err := store.AppendMetadata(ctx, fn.ID, storage.MetadataImplement, storage.ImplementationMetadata{
		Phase:         "completed",
		PlanningPhase: &storage.PlanningPhase{DurationMinutes: 10},
		ImplementationPhases: []storage.ImplementationPhase{
			{
				PhaseNumber:     1,
				DurationMinutes: 30,
				Iterations: []storage.ImplementationIteration{
					{Iteration: 1, ReviewerResult: storage.ReviewChangesRequested},
					{Iteration: 2, ReviewerResult: storage.ReviewApproved},
				},
			},
		},
		DatabasePhase: &storage.DatabasePhase{CompletedAt: "2025-01-15T12:00:00Z", DurationMinutes: 5},
	})
	require.NoError(t, err)

	meta := rec.(storage.ImplementationMetadata)
	require.NotNil(t, meta.ReviewResult)
	assert.Equal(t, storage.ReviewApproved, *meta.ReviewResult)
	require.NotNil(t, meta.Completed)
	assert.True(t, *meta.Completed)
	require.NotNil(t, meta.DBIntegrated)
	assert.True(t, *meta.DBIntegrated)
	require.NotNil(t, meta.TotalDurationMinutes)
	assert.Equal(t, 45, *meta.TotalDurationMinutes)

	loaded, err := store.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ImplementationMetadata, 1)
	assert.Equal(t, storage.ReviewApproved, *loaded.ImplementationMetadata[0].ReviewResult)
}

func TestAppendMetadata_ConcurrentAppendsAreSerialized(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	fn := newTestFunction(t, store)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMetadata(ctx, fn.ID, storage.MetadataPlanArtifacts, storage.PlanArtifactMetadata{
				FileURL:      fmt.Sprintf("s3://docs/research-%d.md", i),
				ArtifactType: "research",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := store.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	require.Len(t, loaded.PlanArtifactsMetadata, writers)
	seen := make(map[int]bool)
	for _, rec := range loaded.PlanArtifactsMetadata {
		seen[rec.Index] = true
	}
	for i := 1; i <= writers; i++ {
		assert.True(t, seen[i], "missing index %d", i)
	}
}

func TestDecodeMetadata(t *testing.T) {
	rec, err := workflow.DecodeMetadata(storage.MetadataPlan, []byte(`{"phase":"plan_review","user_approved":true,"review_iterations":2}`))
	require.NoError(t, err)
	plan, ok := rec.(storage.PlanMetadata)
	require.True(t, ok)
	assert.Equal(t, "plan_review", plan.Phase)
	assert.Nil(t, plan.FileURL)
	require.NotNil(t, plan.ReviewIterations)
	assert.Equal(t, 2, *plan.ReviewIterations)

	rec, err = workflow.DecodeMetadata(storage.MetadataTasks, []byte(`{"file_url":"s3://tasks.md","task_count":12,"parallel_tasks":4}`))
	require.NoError(t, err)
	assert.Equal(t, storage.MetadataTasks, rec.MetadataKey())

	_, err = workflow.DecodeMetadata("notes", []byte(`{}`))
	require.ErrorIs(t, err, workflow.ErrValidation)

	_, err = workflow.DecodeMetadata(storage.MetadataSpec, []byte(`{"file_url":`))
	require.ErrorIs(t, err, workflow.ErrValidation)
}
