package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cnap-oss/devkit/internal/notify"
	"github.com/cnap-oss/devkit/internal/testutil/mocks"
	"github.com/stretchr/testify/require"
)

func TestMockNotifier_RecordsEvents(t *testing.T) {
	mock := mocks.NewMockNotifier()
	ctx := context.Background()

	require.NoError(t, mock.Notify(ctx, notify.Event{Kind: notify.EventStepFailed, StepID: "2.1"}))
	require.NoError(t, mock.Notify(ctx, notify.Event{Kind: notify.EventTaskEscalated, TaskID: "T001"}))

	require.Equal(t, 2, mock.GetCallCount())
	failed := mock.EventsOfKind(notify.EventStepFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "2.1", failed[0].StepID)
}

func TestMockNotifier_Error(t *testing.T) {
	mock := mocks.NewMockNotifier()
	mock.Err = errors.New("channel unavailable")

	err := mock.Notify(context.Background(), notify.Event{Kind: notify.EventReviewLimitExceeded})
	require.Error(t, err)
	require.Equal(t, 1, mock.GetCallCount())

	mock.Reset()
	require.Equal(t, 0, mock.GetCallCount())
	require.NoError(t, mock.Notify(context.Background(), notify.Event{}))
}
