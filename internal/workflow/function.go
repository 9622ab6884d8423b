package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateFunctionInput은 ProjectFunction 생성 입력입니다.
type CreateFunctionInput struct {
	ProjectID   string
	Name        string
	Description string
	Slug        string
	Agent       string
}

// CreateFunction은 프로젝트 아래 새 ProjectFunction을 specify 단계로 생성합니다.
func (s *Store) CreateFunction(ctx context.Context, projectID, name, description string) (*storage.ProjectFunction, error) {
	return s.CreateFunctionWithInput(ctx, CreateFunctionInput{
		ProjectID:   projectID,
		Name:        name,
		Description: description,
	})
}

// CreateFunctionWithInput은 slug, 초기 담당 에이전트를 지정해 ProjectFunction을 생성합니다.
// 프로젝트가 없거나 archived 상태면 ErrValidation입니다.
func (s *Store) CreateFunctionWithInput(ctx context.Context, input CreateFunctionInput) (*storage.ProjectFunction, error) {
	const op = "CreateFunction"
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if input.ProjectID == "" {
		return nil, NewWorkflowError(op, "", ErrValidation, "project id is required")
	}
	if name == "" {
		return nil, NewWorkflowError(op, input.ProjectID, ErrValidation, "name is required")
	}
	agent := input.Agent
	if agent == "" {
		agent = storage.AgentOrchestrator
	}
	if !storage.Contains(storage.Agents, agent) {
		return nil, NewWorkflowError(op, input.ProjectID, ErrValidation, "unknown agent %q", agent)
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = Slugify(name, "function")
	}

	fn := &storage.ProjectFunction{
		ID:                     uuid.NewString(),
		ProjectID:              input.ProjectID,
		Name:                   name,
		Description:            input.Description,
		Slug:                   slug,
		StatusSpeckit:          storage.StageSpecify,
		StatusAgent:            agent,
		SpecMetadata:           []storage.SpecMetadata{},
		PlanMetadata:           []storage.PlanMetadata{},
		PlanArtifactsMetadata:  []storage.PlanArtifactMetadata{},
		TasksMetadata:          []storage.TasksMetadata{},
		ImplementationMetadata: []storage.ImplementationMetadata{},
		Version:                1,
	}

	err := s.repo.Transaction(ctx, func(tx *storage.Repository) error {
		project, err := tx.GetProject(ctx, input.ProjectID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewWorkflowError(op, input.ProjectID, ErrValidation, "project does not exist")
		}
		if err != nil {
			return err
		}
		if project.Status == storage.ProjectStatusArchived {
			return NewWorkflowError(op, input.ProjectID, ErrValidation, "project is archived")
		}
		if _, err := tx.GetFunctionBySlug(ctx, project.ID, slug); err == nil {
			return NewWorkflowError(op, input.ProjectID, ErrValidation, "slug %q already exists in project", slug)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.CreateFunction(ctx, fn)
	})
	if err != nil {
		s.metrics.RecordRejected()
		s.logger.Warn("Function creation rejected",
			zap.String("project_id", input.ProjectID),
			zap.String("name", name),
			zap.Error(err),
		)
		return nil, translateStorageError(op, input.ProjectID, err)
	}

	s.metrics.RecordFunctionCreated()
	s.logger.Info("Function created",
		zap.String("function_id", fn.ID),
		zap.String("project_id", fn.ProjectID),
		zap.String("slug", fn.Slug),
	)
	return fn, nil
}

// GetFunction은 ProjectFunction을 조회합니다.
func (s *Store) GetFunction(ctx context.Context, functionID string) (*storage.ProjectFunction, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	fn, err := s.repo.GetFunction(ctx, functionID)
	if err != nil {
		return nil, translateStorageError("GetFunction", functionID, err)
	}
	return fn, nil
}

// ResolveFunction은 ID 또는 프로젝트 안의 slug로 ProjectFunction을 조회합니다.
func (s *Store) ResolveFunction(ctx context.Context, projectID, ref string) (*storage.ProjectFunction, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	fn, err := s.repo.GetFunction(ctx, ref)
	if err == nil {
		return fn, nil
	}
	if projectID == "" {
		return nil, translateStorageError("ResolveFunction", ref, err)
	}
	fn, err = s.repo.GetFunctionBySlug(ctx, projectID, ref)
	if err != nil {
		return nil, translateStorageError("ResolveFunction", ref, err)
	}
	return fn, nil
}

// ListFunctions는 프로젝트의 ProjectFunction 목록을 반환합니다.
func (s *Store) ListFunctions(ctx context.Context, projectID string) ([]storage.ProjectFunction, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	fns, err := s.repo.ListFunctionsByProject(ctx, projectID)
	if err != nil {
		return nil, translateStorageError("ListFunctions", projectID, err)
	}
	return fns, nil
}

// AdvanceStage는 status_speckit을 바로 다음 단계로만 진행시킵니다.
// 단계를 건너뛰거나 되돌리면 ErrInvalidTransition입니다.
func (s *Store) AdvanceStage(ctx context.Context, functionID, stage string) (*storage.ProjectFunction, error) {
	const op = "AdvanceStage"
	if !storage.Contains(storage.Stages, stage) {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "unknown stage %q", stage)
	}

	var result *storage.ProjectFunction
	err := s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		if next := nextStage(f.StatusSpeckit); next != stage {
			return NewWorkflowError(op, functionID, ErrInvalidTransition, "%s -> %s", f.StatusSpeckit, stage)
		}
		f.StatusSpeckit = stage
		if err := tx.UpdateFunctionStatus(ctx, f, f.Version); err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		s.logger.Warn("Stage advance rejected",
			zap.String("function_id", functionID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordStageAdvance()
	s.logger.Info("Function stage advanced",
		zap.String("function_id", functionID),
		zap.String("stage", stage),
	)
	return result, nil
}

// Handoff는 담당 에이전트 인계 한 건입니다.
// StepID가 비어 있으면 function에서 진행 중인 마지막 단계에 기록됩니다.
type Handoff struct {
	FunctionID string
	StepID     string
	From       string
	To         string
	At         time.Time
}

// HandoffLog는 인계를 상태 변경과 같은 트랜잭션 안에서 감사 로그에 남깁니다.
// 에러를 반환하면 인계 전체가 롤백됩니다.
type HandoffLog interface {
	LogHandoff(ctx context.Context, tx *storage.Repository, handoff Handoff) error
}

// SetHandoffLog는 HandoffAgent가 사용할 감사 로그를 설정합니다.
func (s *Store) SetHandoffLog(log HandoffLog) {
	s.handoffLog = log
}

// HandoffAgent는 ProjectFunction 담당 에이전트를 from에서 to로 명시적으로 넘깁니다.
// HandoffLog가 설정되어 있으면 stepID 단계에 AgentKilled(from)/AgentSpawned(to) 쌍이 함께 기록됩니다.
func (s *Store) HandoffAgent(ctx context.Context, functionID, stepID, from, to string) (*storage.ProjectFunction, error) {
	const op = "HandoffAgent"
	if !storage.Contains(storage.Agents, to) {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "unknown agent %q", to)
	}

	var result *storage.ProjectFunction
	err := s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		if f.StatusAgent != from {
			return NewWorkflowError(op, functionID, ErrInvalidTransition, "owned by %s, not %s", f.StatusAgent, from)
		}
		if from == to {
			return NewWorkflowError(op, functionID, ErrInvalidTransition, "already owned by %s", to)
		}
		f.StatusAgent = to
		if err := tx.UpdateFunctionStatus(ctx, f, f.Version); err != nil {
			return err
		}
		if s.handoffLog != nil {
			handoff := Handoff{FunctionID: f.ID, StepID: stepID, From: from, To: to, At: s.now()}
			if err := s.handoffLog.LogHandoff(ctx, tx, handoff); err != nil {
				return err
			}
		}
		result = f
		return nil
	})
	if err != nil {
		s.logger.Warn("Agent handoff rejected",
			zap.String("function_id", functionID),
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Function handed off",
		zap.String("function_id", functionID),
		zap.String("step_id", stepID),
		zap.String("from", from),
		zap.String("to", to),
	)
	return result, nil
}
