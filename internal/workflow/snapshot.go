package workflow

import (
	"context"
	"math"

	"github.com/cnap-oss/devkit/internal/storage"
)

// Snapshot은 디버깅과 보고용 ProjectFunction 상태 스냅샷입니다.
type Snapshot struct {
	Function             *storage.ProjectFunction           `json:"function"`
	Phases               []storage.ProjectFunctionPhase     `json:"phases"`
	Tasks                []storage.ProjectFunctionPhaseTask `json:"tasks"`
	CurrentPhase         string                             `json:"current_phase"`
	CurrentAgent         string                             `json:"current_agent"`
	CompletionPercentage float64                            `json:"completion_percentage"`
}

// PerformanceMetrics는 최신 implementation 메타데이터로부터 계산한 성능 지표입니다.
type PerformanceMetrics struct {
	FeatureID                     string  `json:"feature_id"`
	PlanningApproach              string  `json:"planning_approach"`
	TotalDurationMinutes          int     `json:"total_duration_minutes"`
	PlanningDurationMinutes       int     `json:"planning_duration_minutes"`
	ImplementationDurationMinutes int     `json:"implementation_duration_minutes"`
	DatabaseDurationMinutes       int     `json:"database_duration_minutes"`
	TotalIterations               int     `json:"total_iterations"`
	AverageIterationsPerPhase     float64 `json:"average_iterations_per_phase"`
	MVPDurationMinutes            int     `json:"mvp_duration_minutes"`
	PostMVPDurationMinutes        int     `json:"post_mvp_duration_minutes"`
}

// Snapshot은 function, phase, task를 한 번에 읽어 진행 상황을 계산합니다.
// current_phase는 완료되지 않은 가장 앞 phase의 이름이며, 모두 완료됐으면 마지막 phase입니다.
func (s *Store) Snapshot(ctx context.Context, functionID string) (*Snapshot, error) {
	const op = "Snapshot"
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}

	var snap *Snapshot
	err := s.repo.Transaction(ctx, func(tx *storage.Repository) error {
		fn, err := tx.GetFunction(ctx, functionID)
		if err != nil {
			return err
		}
		phases, err := tx.ListPhasesByFunction(ctx, functionID)
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasksByFunction(ctx, functionID)
		if err != nil {
			return err
		}
		snap = &Snapshot{
			Function:             fn,
			Phases:               phases,
			Tasks:                tasks,
			CurrentPhase:         currentPhaseName(phases),
			CurrentAgent:         fn.StatusAgent,
			CompletionPercentage: completionPercentage(tasks),
		}
		return nil
	})
	if err != nil {
		return nil, translateStorageError(op, functionID, err)
	}
	return snap, nil
}

func currentPhaseName(phases []storage.ProjectFunctionPhase) string {
	for _, phase := range phases {
		if phase.Status != storage.PhaseStatusCompleted {
			return phase.PhaseName
		}
	}
	if len(phases) > 0 {
		return phases[len(phases)-1].PhaseName
	}
	return ""
}

func completionPercentage(tasks []storage.ProjectFunctionPhaseTask) float64 {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, task := range tasks {
		if isTaskDone(task.Status) {
			done++
		}
	}
	pct := float64(done) / float64(len(tasks)) * 100
	return math.Round(pct*100) / 100
}

// PerformanceMetrics는 가장 최근 implementation 메타데이터 레코드로 성능 지표를 계산합니다.
// implementation 레코드가 없으면 ErrNotFound입니다.
func (s *Store) PerformanceMetrics(ctx context.Context, functionID string) (*PerformanceMetrics, error) {
	const op = "PerformanceMetrics"
	fn, err := s.GetFunction(ctx, functionID)
	if err != nil {
		return nil, err
	}
	if len(fn.ImplementationMetadata) == 0 {
		return nil, NewWorkflowError(op, functionID, ErrNotFound, "no implementation metadata")
	}
	phases, err := s.repo.ListPhasesByFunction(ctx, functionID)
	if err != nil {
		return nil, translateStorageError(op, functionID, err)
	}
	latest := fn.ImplementationMetadata[len(fn.ImplementationMetadata)-1]
	return computePerformance(latest, phases), nil
}

func computePerformance(meta storage.ImplementationMetadata, phases []storage.ProjectFunctionPhase) *PerformanceMetrics {
	mvp := make(map[int]bool, len(phases))
	for _, phase := range phases {
		mvp[phase.PhaseNumber] = phase.IsMVP
	}

	metrics := &PerformanceMetrics{}
	if meta.FeatureID != nil {
		metrics.FeatureID = *meta.FeatureID
	}
	if meta.PlanningApproach != nil {
		metrics.PlanningApproach = *meta.PlanningApproach
	}
	if meta.PlanningPhase != nil {
		metrics.PlanningDurationMinutes = meta.PlanningPhase.DurationMinutes
	}
	if meta.DatabasePhase != nil {
		metrics.DatabaseDurationMinutes = meta.DatabasePhase.DurationMinutes
	}
	for _, phase := range meta.ImplementationPhases {
		metrics.ImplementationDurationMinutes += phase.DurationMinutes
		iterations := phase.TotalIterations
		if iterations == 0 {
			iterations = len(phase.Iterations)
		}
		metrics.TotalIterations += iterations
		if mvp[phase.PhaseNumber] {
			metrics.MVPDurationMinutes += phase.DurationMinutes
		} else {
			metrics.PostMVPDurationMinutes += phase.DurationMinutes
		}
	}
	if n := len(meta.ImplementationPhases); n > 0 {
		metrics.AverageIterationsPerPhase = math.Round(float64(metrics.TotalIterations)/float64(n)*100) / 100
	}
	if meta.TotalDurationMinutes != nil {
		metrics.TotalDurationMinutes = *meta.TotalDurationMinutes
	} else {
		metrics.TotalDurationMinutes = metrics.PlanningDurationMinutes +
			metrics.ImplementationDurationMinutes +
			metrics.DatabaseDurationMinutes
	}
	return metrics
}
