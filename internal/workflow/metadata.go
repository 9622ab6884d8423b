package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cnap-oss/devkit/internal/storage"
	"go.uber.org/zap"
)

var (
	specPhases           = []string{storage.StageSpecify, storage.StageClarify}
	planPhases           = []string{storage.StagePlan, "plan_review"}
	planArtifactTypes    = []string{"research", "data-model", "contracts", "quickstart"}
	implementationPhases = []string{storage.StageImplement, storage.StageAnalyze, "db_integration", "completed"}
)

// MetadataKeys는 AppendMetadata에 허용되는 배열 키 목록입니다.
var MetadataKeys = []string{
	storage.MetadataSpec,
	storage.MetadataPlan,
	storage.MetadataPlanArtifacts,
	storage.MetadataTasks,
	storage.MetadataImplement,
}

// AppendMetadata는 record를 key 배열의 끝에 추가하고 index(현재 최대값 + 1)를 부여합니다.
// 기존 원소는 변경되지 않습니다. 부여된 index가 채워진 record를 반환합니다.
func (s *Store) AppendMetadata(ctx context.Context, functionID, key string, record storage.MetadataRecord) (storage.MetadataRecord, error) {
	const op = "AppendMetadata"
	record, err := normalizeRecord(record)
	if err != nil {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "%v", err)
	}
	if rec, ok := record.(storage.TasksMetadata); ok && rec.Phase == "" {
		rec.Phase = storage.StageTasks
		record = rec
	}
	if err := validateMetadata(key, record); err != nil {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "%v", err)
	}

	var appended storage.MetadataRecord
	err = s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		rec, err := tx.AppendMetadata(ctx, f.ID, f.Version, record)
		if err != nil {
			return err
		}
		appended = rec
		return nil
	})
	if err != nil {
		s.logger.Warn("Metadata append rejected",
			zap.String("function_id", functionID),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordMetadataAppend()
	s.logger.Info("Metadata appended",
		zap.String("function_id", functionID),
		zap.String("key", key),
		zap.Int("index", appended.RecordIndex()),
	)
	return appended, nil
}

// DecodeMetadata는 key에 맞는 레코드 타입으로 JSON 객체를 디코딩합니다.
func DecodeMetadata(key string, data []byte) (storage.MetadataRecord, error) {
	var (
		record storage.MetadataRecord
		err    error
	)
	switch key {
	case storage.MetadataSpec:
		var rec storage.SpecMetadata
		err = json.Unmarshal(data, &rec)
		record = rec
	case storage.MetadataPlan:
		var rec storage.PlanMetadata
		err = json.Unmarshal(data, &rec)
		record = rec
	case storage.MetadataPlanArtifacts:
		var rec storage.PlanArtifactMetadata
		err = json.Unmarshal(data, &rec)
		record = rec
	case storage.MetadataTasks:
		var rec storage.TasksMetadata
		err = json.Unmarshal(data, &rec)
		record = rec
	case storage.MetadataImplement:
		var rec storage.ImplementationMetadata
		err = json.Unmarshal(data, &rec)
		record = rec
	default:
		return nil, NewWorkflowError("DecodeMetadata", "", ErrValidation, "unknown metadata key %q", key)
	}
	if err != nil {
		return nil, NewWorkflowError("DecodeMetadata", "", ErrValidation, "decode %s: %v", key, err)
	}
	return record, nil
}

// normalizeRecord는 포인터로 전달된 레코드를 값으로 바꿉니다.
func normalizeRecord(record storage.MetadataRecord) (storage.MetadataRecord, error) {
	switch rec := record.(type) {
	case nil:
		return nil, fmt.Errorf("record is required")
	case *storage.SpecMetadata:
		if rec == nil {
			return nil, fmt.Errorf("record is required")
		}
		return *rec, nil
	case *storage.PlanMetadata:
		if rec == nil {
			return nil, fmt.Errorf("record is required")
		}
		return *rec, nil
	case *storage.PlanArtifactMetadata:
		if rec == nil {
			return nil, fmt.Errorf("record is required")
		}
		return *rec, nil
	case *storage.TasksMetadata:
		if rec == nil {
			return nil, fmt.Errorf("record is required")
		}
		return *rec, nil
	case *storage.ImplementationMetadata:
		if rec == nil {
			return nil, fmt.Errorf("record is required")
		}
		return *rec, nil
	default:
		return record, nil
	}
}

func validateMetadata(key string, record storage.MetadataRecord) error {
	if !storage.Contains(MetadataKeys, key) {
		return fmt.Errorf("unknown metadata key %q", key)
	}
	if record.MetadataKey() != key {
		return fmt.Errorf("%T does not belong to %q", record, key)
	}

	switch rec := record.(type) {
	case storage.SpecMetadata:
		if strings.TrimSpace(rec.FileURL) == "" {
			return fmt.Errorf("file_url is required")
		}
		if !storage.Contains(specPhases, rec.Phase) {
			return fmt.Errorf("spec phase must be one of %v", specPhases)
		}
	case storage.PlanMetadata:
		if !storage.Contains(planPhases, rec.Phase) {
			return fmt.Errorf("plan phase must be one of %v", planPhases)
		}
		if rec.Phase == storage.StagePlan && (rec.FileURL == nil || strings.TrimSpace(*rec.FileURL) == "") {
			return fmt.Errorf("file_url is required for plan records")
		}
	case storage.PlanArtifactMetadata:
		if strings.TrimSpace(rec.FileURL) == "" {
			return fmt.Errorf("file_url is required")
		}
		if !storage.Contains(planArtifactTypes, rec.ArtifactType) {
			return fmt.Errorf("artifact_type must be one of %v", planArtifactTypes)
		}
	case storage.TasksMetadata:
		if strings.TrimSpace(rec.FileURL) == "" {
			return fmt.Errorf("file_url is required")
		}
		if rec.Phase != "" && rec.Phase != storage.StageTasks {
			return fmt.Errorf("tasks phase must be %q", storage.StageTasks)
		}
		if rec.TaskCount < 0 || rec.ParallelTasks < 0 || rec.ParallelTasks > rec.TaskCount {
			return fmt.Errorf("invalid task counters")
		}
	case storage.ImplementationMetadata:
		if !storage.Contains(implementationPhases, rec.Phase) {
			return fmt.Errorf("implementation phase must be one of %v", implementationPhases)
		}
		if rec.CompletedTasks != nil && rec.TotalTasks != nil && *rec.CompletedTasks > *rec.TotalTasks {
			return fmt.Errorf("completed_tasks exceeds total_tasks")
		}
	}
	return nil
}
