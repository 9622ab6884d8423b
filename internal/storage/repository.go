package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrStaleVersion은 compare-and-set 갱신 시 다른 writer가 먼저 커밋했음을 나타냅니다.
var ErrStaleVersion = errors.New("storage: stale version")

// Repository는 devkit 워크플로우 엔티티를 위한 영속성 헬퍼를 제공합니다.
type Repository struct {
	db *gorm.DB
}

// NewRepository는 전달된 gorm DB를 이용해 Repository를 생성합니다.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: repository requires a non-nil db handle")
	}
	return &Repository{db: db}, nil
}

// DB는 내부 gorm DB 참조를 반환합니다.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Transaction은 fn을 하나의 트랜잭션 안에서 실행합니다.
// fn에 전달된 Repository만 사용해야 하며, 에러를 반환하면 롤백됩니다.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// ---- projects ----

// CreateProject는 새로운 프로젝트 레코드를 저장합니다.
func (r *Repository) CreateProject(ctx context.Context, project *Project) error {
	if project == nil {
		return fmt.Errorf("storage: nil project payload")
	}
	return r.db.WithContext(ctx).Create(project).Error
}

// GetProject는 식별자로 프로젝트를 조회합니다.
func (r *Repository) GetProject(ctx context.Context, id string) (*Project, error) {
	if id == "" {
		return nil, fmt.Errorf("storage: empty project id")
	}
	var project Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProjectBySlug는 slug로 프로젝트를 조회합니다.
func (r *Repository) GetProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	var project Project
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// ListProjects는 상태 필터를 적용해 프로젝트 목록을 반환합니다.
func (r *Repository) ListProjects(ctx context.Context, statuses ...string) ([]Project, error) {
	q := r.db.WithContext(ctx).Model(&Project{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var projects []Project
	if err := q.Order("created_at ASC").Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

// UpdateProjectStatus는 현재 상태가 from일 때만 상태를 to로 바꿉니다.
func (r *Repository) UpdateProjectStatus(ctx context.Context, id, from, to string) error {
	res := r.db.WithContext(ctx).
		Model(&Project{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

// ---- project functions ----

// CreateFunction은 ProjectFunction 레코드를 추가합니다.
func (r *Repository) CreateFunction(ctx context.Context, fn *ProjectFunction) error {
	if fn == nil {
		return fmt.Errorf("storage: nil function payload")
	}
	if fn.Version == 0 {
		fn.Version = 1
	}
	return r.db.WithContext(ctx).Create(fn).Error
}

// GetFunction은 식별자로 ProjectFunction을 조회합니다.
func (r *Repository) GetFunction(ctx context.Context, id string) (*ProjectFunction, error) {
	if id == "" {
		return nil, fmt.Errorf("storage: empty function id")
	}
	var fn ProjectFunction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&fn).Error; err != nil {
		return nil, err
	}
	return &fn, nil
}

// GetFunctionBySlug는 프로젝트 안에서 slug로 ProjectFunction을 조회합니다.
func (r *Repository) GetFunctionBySlug(ctx context.Context, projectID, slug string) (*ProjectFunction, error) {
	var fn ProjectFunction
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND slug = ?", projectID, slug).
		First(&fn).Error; err != nil {
		return nil, err
	}
	return &fn, nil
}

// ListFunctionsByProject는 프로젝트에 속한 ProjectFunction 목록을 반환합니다.
func (r *Repository) ListFunctionsByProject(ctx context.Context, projectID string) ([]ProjectFunction, error) {
	var fns []ProjectFunction
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&fns).Error; err != nil {
		return nil, err
	}
	return fns, nil
}

// UpdateFunctionStatus는 version이 expectedVersion일 때만 상태 컬럼을 갱신하고 version을 올립니다.
// 메타데이터 배열은 이 경로로 갱신되지 않습니다.
func (r *Repository) UpdateFunctionStatus(ctx context.Context, fn *ProjectFunction, expectedVersion int64) error {
	if fn == nil {
		return fmt.Errorf("storage: nil function payload")
	}
	next := &ProjectFunction{
		StatusSpeckit: fn.StatusSpeckit,
		StatusAgent:   fn.StatusAgent,
		Version:       expectedVersion + 1,
		UpdatedAt:     time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).
		Model(&ProjectFunction{ID: fn.ID}).
		Where("version = ?", expectedVersion).
		Select("status_speckit", "status_agent", "version", "updated_at").
		Updates(next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	fn.Version = next.Version
	fn.UpdatedAt = next.UpdatedAt
	return nil
}

// TouchFunction은 하위 엔티티(phase/task) 변경 시 ProjectFunction의 version을 올립니다.
func (r *Repository) TouchFunction(ctx context.Context, id string, expectedVersion int64) (int64, error) {
	next := &ProjectFunction{Version: expectedVersion + 1, UpdatedAt: time.Now().UTC()}
	res := r.db.WithContext(ctx).
		Model(&ProjectFunction{ID: id}).
		Where("version = ?", expectedVersion).
		Select("version", "updated_at").
		Updates(next)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrStaleVersion
	}
	return next.Version, nil
}

// AppendMetadata는 record를 해당 메타데이터 배열 끝에 추가합니다.
// index는 기존 최대값 + 1로 부여되고 기존 원소는 그대로 복사됩니다.
func (r *Repository) AppendMetadata(ctx context.Context, id string, expectedVersion int64, record MetadataRecord) (MetadataRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("storage: nil metadata record")
	}
	fn, err := r.GetFunction(ctx, id)
	if err != nil {
		return nil, err
	}
	if fn.Version != expectedVersion {
		return nil, ErrStaleVersion
	}

	now := time.Now().UTC().Format(time.RFC3339)
	next := &ProjectFunction{Version: expectedVersion + 1, UpdatedAt: time.Now().UTC()}
	var column string
	var appended MetadataRecord

	switch rec := record.(type) {
	case SpecMetadata:
		rec.Index = nextIndex(fn.SpecMetadata)
		if rec.Timestamp == nil {
			rec.Timestamp = &now
		}
		column = "spec_metadata"
		next.SpecMetadata = append(append([]SpecMetadata{}, fn.SpecMetadata...), rec)
		appended = rec
	case PlanMetadata:
		rec.Index = nextIndex(fn.PlanMetadata)
		if rec.Timestamp == nil {
			rec.Timestamp = &now
		}
		column = "plan_metadata"
		next.PlanMetadata = append(append([]PlanMetadata{}, fn.PlanMetadata...), rec)
		appended = rec
	case PlanArtifactMetadata:
		rec.Index = nextIndex(fn.PlanArtifactsMetadata)
		if rec.Timestamp == nil {
			rec.Timestamp = &now
		}
		column = "plan_artifacts_metadata"
		next.PlanArtifactsMetadata = append(append([]PlanArtifactMetadata{}, fn.PlanArtifactsMetadata...), rec)
		appended = rec
	case TasksMetadata:
		rec.Index = nextIndex(fn.TasksMetadata)
		if rec.Timestamp == nil {
			rec.Timestamp = &now
		}
		column = "tasks_metadata"
		next.TasksMetadata = append(append([]TasksMetadata{}, fn.TasksMetadata...), rec)
		appended = rec
	case ImplementationMetadata:
		rec.Index = nextIndex(fn.ImplementationMetadata)
		rec.Normalize()
		column = "implementation_metadata"
		next.ImplementationMetadata = append(append([]ImplementationMetadata{}, fn.ImplementationMetadata...), rec)
		appended = rec
	default:
		return nil, fmt.Errorf("storage: unsupported metadata record %T", record)
	}

	res := r.db.WithContext(ctx).
		Model(&ProjectFunction{ID: id}).
		Where("version = ?", expectedVersion).
		Select(column, "version", "updated_at").
		Updates(next)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrStaleVersion
	}
	return appended, nil
}

func nextIndex[T MetadataRecord](records []T) int {
	maxIndex := 0
	for _, rec := range records {
		if rec.RecordIndex() > maxIndex {
			maxIndex = rec.RecordIndex()
		}
	}
	return maxIndex + 1
}

// ---- phases ----

// CreatePhase는 구현 단계 레코드를 추가합니다.
func (r *Repository) CreatePhase(ctx context.Context, phase *ProjectFunctionPhase) error {
	if phase == nil {
		return fmt.Errorf("storage: nil phase payload")
	}
	return r.db.WithContext(ctx).Create(phase).Error
}

// GetPhase는 식별자로 단계를 조회합니다.
func (r *Repository) GetPhase(ctx context.Context, id string) (*ProjectFunctionPhase, error) {
	if id == "" {
		return nil, fmt.Errorf("storage: empty phase id")
	}
	var phase ProjectFunctionPhase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&phase).Error; err != nil {
		return nil, err
	}
	return &phase, nil
}

// GetPhaseByNumber는 function 안에서 phase_number로 단계를 조회합니다.
func (r *Repository) GetPhaseByNumber(ctx context.Context, functionID string, number int) (*ProjectFunctionPhase, error) {
	var phase ProjectFunctionPhase
	if err := r.db.WithContext(ctx).
		Where("function_id = ? AND phase_number = ?", functionID, number).
		First(&phase).Error; err != nil {
		return nil, err
	}
	return &phase, nil
}

// ListPhasesByFunction은 단계 목록을 phase_number 순으로 반환합니다.
func (r *Repository) ListPhasesByFunction(ctx context.Context, functionID string) ([]ProjectFunctionPhase, error) {
	var phases []ProjectFunctionPhase
	if err := r.db.WithContext(ctx).
		Where("function_id = ?", functionID).
		Order("phase_number ASC").
		Find(&phases).Error; err != nil {
		return nil, err
	}
	return phases, nil
}

// UpdatePhaseProgress는 단계의 상태, 카운터, 타임스탬프를 저장합니다.
func (r *Repository) UpdatePhaseProgress(ctx context.Context, phase *ProjectFunctionPhase) error {
	if phase == nil {
		return fmt.Errorf("storage: nil phase payload")
	}
	phase.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&ProjectFunctionPhase{ID: phase.ID}).
		Select("status", "total_tasks", "completed_tasks", "started_at", "completed_at", "updated_at").
		Updates(phase).Error
}

// ---- tasks ----

// CreateTask는 새로운 태스크 레코드를 추가합니다.
func (r *Repository) CreateTask(ctx context.Context, task *ProjectFunctionPhaseTask) error {
	if task == nil {
		return fmt.Errorf("storage: nil task payload")
	}
	return r.db.WithContext(ctx).Create(task).Error
}

// GetTask는 내부 식별자로 태스크를 조회합니다.
func (r *Repository) GetTask(ctx context.Context, id string) (*ProjectFunctionPhaseTask, error) {
	if id == "" {
		return nil, fmt.Errorf("storage: empty task id")
	}
	var task ProjectFunctionPhaseTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTaskByTaskID는 function 안에서 사람이 읽는 task_id(T001 등)로 태스크를 조회합니다.
func (r *Repository) GetTaskByTaskID(ctx context.Context, functionID, taskID string) (*ProjectFunctionPhaseTask, error) {
	var task ProjectFunctionPhaseTask
	if err := r.db.WithContext(ctx).
		Where("function_id = ? AND task_id = ?", functionID, taskID).
		First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasksByFunction은 function에 속한 모든 태스크를 반환합니다.
func (r *Repository) ListTasksByFunction(ctx context.Context, functionID string) ([]ProjectFunctionPhaseTask, error) {
	var tasks []ProjectFunctionPhaseTask
	if err := r.db.WithContext(ctx).
		Where("function_id = ?", functionID).
		Order("phase_number ASC, task_id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListTasksByPhase는 단계에 속한 태스크를 반환합니다.
func (r *Repository) ListTasksByPhase(ctx context.Context, phaseID string) ([]ProjectFunctionPhaseTask, error) {
	var tasks []ProjectFunctionPhaseTask
	if err := r.db.WithContext(ctx).
		Where("phase_id = ?", phaseID).
		Order("task_id ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask는 태스크의 변경 가능한 컬럼 전체를 저장합니다.
func (r *Repository) UpdateTask(ctx context.Context, task *ProjectFunctionPhaseTask) error {
	if task == nil {
		return fmt.Errorf("storage: nil task payload")
	}
	task.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&ProjectFunctionPhaseTask{ID: task.ID}).
		Select("*").
		Omit("id", "function_id", "phase_id", "task_id", "created_at").
		Updates(task).Error
}

// ---- checkcards ----

// CreateCheckcard는 새로운 checkcard 레코드를 추가합니다.
func (r *Repository) CreateCheckcard(ctx context.Context, card *Checkcard) error {
	if card == nil {
		return fmt.Errorf("storage: nil checkcard payload")
	}
	return r.db.WithContext(ctx).Create(card).Error
}

// GetCheckcard는 function과 step_id로 checkcard를 조회합니다.
func (r *Repository) GetCheckcard(ctx context.Context, functionID, stepID string) (*Checkcard, error) {
	var card Checkcard
	if err := r.db.WithContext(ctx).
		Where("function_id = ? AND step_id = ?", functionID, stepID).
		First(&card).Error; err != nil {
		return nil, err
	}
	return &card, nil
}

// ListCheckcards는 function의 checkcard를 생성 순서대로 반환합니다.
func (r *Repository) ListCheckcards(ctx context.Context, functionID string) ([]Checkcard, error) {
	var cards []Checkcard
	if err := r.db.WithContext(ctx).
		Where("function_id = ?", functionID).
		Order("id ASC").
		Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

// UpdateCheckcardIfStatus는 현재 상태가 allowed 중 하나일 때만 checkcard를 저장합니다.
// 저장되지 않았으면 false를 반환합니다.
func (r *Repository) UpdateCheckcardIfStatus(ctx context.Context, card *Checkcard, allowed ...string) (bool, error) {
	if card == nil {
		return false, fmt.Errorf("storage: nil checkcard payload")
	}
	if len(allowed) == 0 {
		return false, fmt.Errorf("storage: no allowed statuses")
	}
	card.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&Checkcard{ID: card.ID}).
		Where("status IN ?", allowed).
		Select("*").
		Omit("id", "function_id", "step_id", "created_at").
		Updates(card)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
