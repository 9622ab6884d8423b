package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordFunctionCreated()
	m.RecordStageAdvance()
	m.RecordMetadataAppend()
	m.RecordTaskCreated(3)
	m.RecordTransition()
	m.RecordEscalation()
	m.RecordRejected()

	snapshot := m.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.FunctionsCreated)
	assert.Equal(t, int64(1), snapshot.StageAdvances)
	assert.Equal(t, int64(1), snapshot.MetadataAppends)
	assert.Equal(t, int64(3), snapshot.TasksCreated)
	assert.Equal(t, int64(1), snapshot.TaskTransitions)
	assert.Equal(t, int64(1), snapshot.Escalations)
	assert.Equal(t, int64(1), snapshot.RejectedMutations)
}

func TestMetrics_ApprovalRate(t *testing.T) {
	m := &Metrics{}
	assert.Equal(t, 0.0, m.GetSnapshot().ApprovalRate)

	m.RecordReview(true)
	m.RecordReview(false)
	m.RecordReview(true)
	m.RecordReview(true)

	snapshot := m.GetSnapshot()
	assert.Equal(t, int64(4), snapshot.ReviewsRecorded)
	assert.Equal(t, int64(3), snapshot.ReviewsApproved)
	assert.Equal(t, int64(1), snapshot.ReviewsRejected)
	assert.InDelta(t, 0.75, snapshot.ApprovalRate, 0.001)
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}
	m.RecordTransition()
	m.RecordReview(true)

	m.Reset()

	snapshot := m.GetSnapshot()
	assert.Equal(t, int64(0), snapshot.TaskTransitions)
	assert.Equal(t, int64(0), snapshot.ReviewsRecorded)
}

func TestMetrics_Concurrent(t *testing.T) {
	m := &Metrics{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordTransition()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), m.GetSnapshot().TaskTransitions)
}
