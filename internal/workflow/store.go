package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cnap-oss/devkit/internal/notify"
	"github.com/cnap-oss/devkit/internal/storage"
	"go.uber.org/zap"
)

// MaxReviewIterations는 coder/reviewer 리뷰 루프의 최대 반복 횟수입니다.
const MaxReviewIterations = 3

// Store는 Project, ProjectFunction, Phase, Task 상태를 보관하고 모든 변경에 불변식을 적용합니다.
// 하나의 ProjectFunction에 대한 변경은 프로세스 안에서는 mutex로, 프로세스 간에는 version CAS로 직렬화됩니다.
type Store struct {
	logger   *zap.Logger
	repo     *storage.Repository
	notifier notify.Notifier
	metrics  *Metrics
	locks    *keyedMutex
	now      func() time.Time

	handoffLog HandoffLog
}

// NewStore는 새로운 Store를 생성합니다. notifier가 nil이면 로그로만 에스컬레이션을 남깁니다.
func NewStore(logger *zap.Logger, repo *storage.Repository, notifier notify.Notifier) *Store {
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Store{
		logger:   logger,
		repo:     repo,
		notifier: notifier,
		metrics:  &Metrics{},
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Metrics는 Store의 프로세스 로컬 카운터를 반환합니다.
func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// SetClock은 테스트에서 시간 소스를 교체할 때 사용합니다.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) ensureRepo() error {
	if s.repo == nil {
		return fmt.Errorf("workflow: repository is not configured")
	}
	return nil
}

// withFunction은 functionID 잠금을 잡고 하나의 트랜잭션 안에서 fn을 실행합니다.
// fn이 받는 ProjectFunction은 트랜잭션 안에서 다시 읽은 값입니다.
func (s *Store) withFunction(ctx context.Context, op, functionID string, fn func(tx *storage.Repository, f *storage.ProjectFunction) error) error {
	if err := s.ensureRepo(); err != nil {
		return err
	}
	if functionID == "" {
		return NewWorkflowError(op, "", ErrValidation, "empty function id")
	}

	unlock := s.locks.Lock(functionID)
	defer unlock()

	err := s.repo.Transaction(ctx, func(tx *storage.Repository) error {
		f, err := tx.GetFunction(ctx, functionID)
		if err != nil {
			return translateStorageError(op, functionID, err)
		}
		return fn(tx, f)
	})
	if err != nil {
		s.metrics.RecordRejected()
		return translateStorageError(op, functionID, err)
	}
	return nil
}

// touch는 하위 엔티티 변경 후 ProjectFunction version을 올립니다.
func touch(ctx context.Context, tx *storage.Repository, f *storage.ProjectFunction) error {
	version, err := tx.TouchFunction(ctx, f.ID, f.Version)
	if err != nil {
		return err
	}
	f.Version = version
	return nil
}

func (s *Store) notify(ctx context.Context, event notify.Event) {
	if event.At.IsZero() {
		event.At = s.now()
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("Failed to deliver escalation notice",
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
	}
}

// keyedMutex는 키별 mutex를 참조 카운트로 관리합니다.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock은 key에 대한 잠금을 획득하고 해제 함수를 반환합니다.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &refMutex{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
