package workflow

import "sync/atomic"

// Metrics는 워크플로우 연산 카운터를 수집합니다.
type Metrics struct {
	FunctionsCreated  int64
	StageAdvances     int64
	MetadataAppends   int64
	TasksCreated      int64
	TaskTransitions   int64
	ReviewsRecorded   int64
	ReviewsApproved   int64
	ReviewsRejected   int64
	Escalations       int64
	RejectedMutations int64
}

// RecordFunctionCreated는 생성된 ProjectFunction 수를 증가시킵니다.
func (m *Metrics) RecordFunctionCreated() {
	atomic.AddInt64(&m.FunctionsCreated, 1)
}

// RecordStageAdvance는 status_speckit 전진 횟수를 증가시킵니다.
func (m *Metrics) RecordStageAdvance() {
	atomic.AddInt64(&m.StageAdvances, 1)
}

// RecordMetadataAppend는 메타데이터 추가 횟수를 증가시킵니다.
func (m *Metrics) RecordMetadataAppend() {
	atomic.AddInt64(&m.MetadataAppends, 1)
}

// RecordTaskCreated는 생성된 태스크 수를 n만큼 증가시킵니다.
func (m *Metrics) RecordTaskCreated(n int) {
	atomic.AddInt64(&m.TasksCreated, int64(n))
}

// RecordTransition은 태스크 상태 전이를 기록합니다.
func (m *Metrics) RecordTransition() {
	atomic.AddInt64(&m.TaskTransitions, 1)
}

// RecordReview는 리뷰 결과를 기록합니다.
func (m *Metrics) RecordReview(approved bool) {
	atomic.AddInt64(&m.ReviewsRecorded, 1)
	if approved {
		atomic.AddInt64(&m.ReviewsApproved, 1)
	} else {
		atomic.AddInt64(&m.ReviewsRejected, 1)
	}
}

// RecordEscalation은 에스컬레이션 횟수를 증가시킵니다.
func (m *Metrics) RecordEscalation() {
	atomic.AddInt64(&m.Escalations, 1)
}

// RecordRejected는 불변식 위반 등으로 거부된 변경을 기록합니다.
func (m *Metrics) RecordRejected() {
	atomic.AddInt64(&m.RejectedMutations, 1)
}

// GetSnapshot은 현재 메트릭 스냅샷을 반환합니다.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FunctionsCreated:  atomic.LoadInt64(&m.FunctionsCreated),
		StageAdvances:     atomic.LoadInt64(&m.StageAdvances),
		MetadataAppends:   atomic.LoadInt64(&m.MetadataAppends),
		TasksCreated:      atomic.LoadInt64(&m.TasksCreated),
		TaskTransitions:   atomic.LoadInt64(&m.TaskTransitions),
		ReviewsRecorded:   atomic.LoadInt64(&m.ReviewsRecorded),
		ReviewsApproved:   atomic.LoadInt64(&m.ReviewsApproved),
		ReviewsRejected:   atomic.LoadInt64(&m.ReviewsRejected),
		Escalations:       atomic.LoadInt64(&m.Escalations),
		RejectedMutations: atomic.LoadInt64(&m.RejectedMutations),
		ApprovalRate:      m.calculateApprovalRate(),
	}
}

// Reset은 모든 메트릭을 초기화합니다.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.FunctionsCreated, 0)
	atomic.StoreInt64(&m.StageAdvances, 0)
	atomic.StoreInt64(&m.MetadataAppends, 0)
	atomic.StoreInt64(&m.TasksCreated, 0)
	atomic.StoreInt64(&m.TaskTransitions, 0)
	atomic.StoreInt64(&m.ReviewsRecorded, 0)
	atomic.StoreInt64(&m.ReviewsApproved, 0)
	atomic.StoreInt64(&m.ReviewsRejected, 0)
	atomic.StoreInt64(&m.Escalations, 0)
	atomic.StoreInt64(&m.RejectedMutations, 0)
}

func (m *Metrics) calculateApprovalRate() float64 {
	recorded := atomic.LoadInt64(&m.ReviewsRecorded)
	if recorded == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&m.ReviewsApproved)) / float64(recorded)
}

// MetricsSnapshot은 메트릭 스냅샷입니다.
type MetricsSnapshot struct {
	FunctionsCreated  int64   `json:"functions_created"`
	StageAdvances     int64   `json:"stage_advances"`
	MetadataAppends   int64   `json:"metadata_appends"`
	TasksCreated      int64   `json:"tasks_created"`
	TaskTransitions   int64   `json:"task_transitions"`
	ReviewsRecorded   int64   `json:"reviews_recorded"`
	ReviewsApproved   int64   `json:"reviews_approved"`
	ReviewsRejected   int64   `json:"reviews_rejected"`
	Escalations       int64   `json:"escalations"`
	RejectedMutations int64   `json:"rejected_mutations"`
	ApprovalRate      float64 `json:"approval_rate"`
}
