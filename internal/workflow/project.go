package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateProjectInput은 프로젝트 생성 입력입니다.
type CreateProjectInput struct {
	Name                 string
	Description          string
	Slug                 string
	ConstitutionFileLink *string
	ConstitutionMetadata map[string]any
}

// CreateProject는 devkit 상태의 새 프로젝트를 생성합니다.
func (s *Store) CreateProject(ctx context.Context, input CreateProjectInput) (*storage.Project, error) {
	const op = "CreateProject"
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, NewWorkflowError(op, "", ErrValidation, "name is required")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = Slugify(name, "project")
	}

	project := &storage.Project{
		ID:                   uuid.NewString(),
		Name:                 name,
		Description:          input.Description,
		Slug:                 slug,
		Status:               storage.ProjectStatusDevkit,
		ConstitutionFileLink: input.ConstitutionFileLink,
		ConstitutionMetadata: input.ConstitutionMetadata,
	}

	err := s.repo.Transaction(ctx, func(tx *storage.Repository) error {
		if _, err := tx.GetProjectBySlug(ctx, slug); err == nil {
			return NewWorkflowError(op, "", ErrValidation, "slug %q already exists", slug)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.CreateProject(ctx, project)
	})
	if err != nil {
		s.logger.Error("Failed to create project", zap.String("name", name), zap.Error(err))
		return nil, translateStorageError(op, "", err)
	}

	s.logger.Info("Project created",
		zap.String("project_id", project.ID),
		zap.String("slug", project.Slug),
	)
	return project, nil
}

// GetProject는 프로젝트를 조회합니다.
func (s *Store) GetProject(ctx context.Context, projectID string) (*storage.Project, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, translateStorageError("GetProject", projectID, err)
	}
	return project, nil
}

// ResolveProject는 ID 또는 slug로 프로젝트를 조회합니다.
func (s *Store) ResolveProject(ctx context.Context, ref string) (*storage.Project, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	project, err := s.repo.GetProject(ctx, ref)
	if err == nil {
		return project, nil
	}
	project, err = s.repo.GetProjectBySlug(ctx, ref)
	if err != nil {
		return nil, translateStorageError("ResolveProject", ref, err)
	}
	return project, nil
}

// ListProjects는 프로젝트 목록을 반환합니다. statuses가 비어 있으면 전체를 반환합니다.
func (s *Store) ListProjects(ctx context.Context, statuses ...string) ([]storage.Project, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	projects, err := s.repo.ListProjects(ctx, statuses...)
	if err != nil {
		return nil, translateStorageError("ListProjects", "", err)
	}
	return projects, nil
}

// AdvanceProject는 프로젝트 상태를 앞으로만 진행시킵니다.
// 이전 상태나 같은 상태로의 변경은 ErrInvalidTransition입니다.
func (s *Store) AdvanceProject(ctx context.Context, projectID, status string) (*storage.Project, error) {
	const op = "AdvanceProject"
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}
	target := storage.IndexOf(storage.ProjectStatuses, status)
	if target < 0 {
		return nil, NewWorkflowError(op, projectID, ErrValidation, "unknown project status %q", status)
	}

	var project *storage.Project
	err := s.repo.Transaction(ctx, func(tx *storage.Repository) error {
		current, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if storage.IndexOf(storage.ProjectStatuses, current.Status) >= target {
			return NewWorkflowError(op, projectID, ErrInvalidTransition, "%s -> %s", current.Status, status)
		}
		if err := tx.UpdateProjectStatus(ctx, projectID, current.Status, status); err != nil {
			return err
		}
		current.Status = status
		project = current
		return nil
	})
	if err != nil {
		s.logger.Warn("Project status change rejected",
			zap.String("project_id", projectID),
			zap.String("status", status),
			zap.Error(err),
		)
		return nil, translateStorageError(op, projectID, err)
	}

	s.logger.Info("Project advanced",
		zap.String("project_id", projectID),
		zap.String("status", status),
	)
	return project, nil
}
