package mocks

import (
	"context"
	"sync"

	"github.com/cnap-oss/devkit/internal/notify"
)

// MockNotifier는 테스트용 Notifier 구현입니다.
type MockNotifier struct {
	mu sync.Mutex

	// Events는 Notify 호출 기록입니다.
	Events []notify.Event

	// Err가 설정되면 Notify가 이 에러를 반환합니다.
	Err error
}

// NewMockNotifier는 새로운 MockNotifier를 생성합니다.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{Events: make([]notify.Event, 0)}
}

// ensure MockNotifier implements Notifier
var _ notify.Notifier = (*MockNotifier)(nil)

// Notify implements Notifier interface.
func (m *MockNotifier) Notify(_ context.Context, event notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return m.Err
}

// GetCallCount는 Notify 호출 횟수를 반환합니다.
func (m *MockNotifier) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// EventsOfKind는 kind에 해당하는 Event만 반환합니다.
func (m *MockNotifier) EventsOfKind(kind string) []notify.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Event
	for _, event := range m.Events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

// Reset은 호출 기록을 초기화합니다.
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = make([]notify.Event, 0)
	m.Err = nil
}
