package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/server/services/event"
)

func newTestBus(t *testing.T, queueSize int) *event.EventBus {
	t.Helper()
	logRegistry, err := logger.NewLogRegistry(logger.LogLevelConfig(""))
	require.NoError(t, err)
	bus := event.NewEventBus(logger.MakeLogrusLogFactoryStdOut(logRegistry), queueSize)
	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	t.Cleanup(func() {
		cancel()
		bus.Stop()
	})
	return bus
}

func TestJobSubscriptionReceivesOnlyItsOwnJobEvents(t *testing.T) {
	bus := newTestBus(t, 10)
	sub := bus.SubscribeJob("job-1")
	defer bus.Unsubscribe(sub)

	now := models.NewTime(time.Now())
	bus.Publish(event.NewStatusEvent("job-other", models.JobStatusRunning, now))
	bus.Publish(event.NewProgressEvent("job-1", 0.5, now))

	select {
	case evt := <-sub.C:
		require.Equal(t, "job-1", evt.JobID)
		require.Equal(t, event.EventTypeProgress, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected to receive the job-1 event")
	}
}

func TestJobSubscriptionClosesAfterTerminalEvent(t *testing.T) {
	bus := newTestBus(t, 10)
	sub := bus.SubscribeJob("job-1")

	now := models.NewTime(time.Now())
	bus.Publish(event.NewStatusEvent("job-1", models.JobStatusCompleted, now))

	select {
	case evt, ok := <-sub.C:
		require.True(t, ok)
		require.Equal(t, event.EventTypeCompleted, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected to receive the terminal event")
	}

	select {
	case _, ok := <-sub.C:
		require.False(t, ok, "channel must be closed after a terminal event")
	case <-time.After(time.Second):
		t.Fatal("expected the channel to be closed")
	}
}

func TestGlobalSubscriptionReceivesEveryEvent(t *testing.T) {
	bus := newTestBus(t, 10)
	sub := bus.SubscribeGlobal()
	defer bus.Unsubscribe(sub)

	now := models.NewTime(time.Now())
	bus.Publish(event.NewStatusEvent("job-a", models.JobStatusQueued, now))
	bus.Publish(event.NewStatusEvent("job-b", models.JobStatusQueued, now))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-sub.C:
			seen[evt.JobID] = true
		case <-time.After(time.Second):
			t.Fatal("expected two events")
		}
	}
	require.True(t, seen["job-a"])
	require.True(t, seen["job-b"])
}

func TestSubscriberOverflowDropsNewestEvent(t *testing.T) {
	bus := newTestBus(t, 1)
	sub := bus.SubscribeGlobal()
	defer bus.Unsubscribe(sub)

	now := models.NewTime(time.Now())
	bus.Publish(event.NewProgressEvent("job-1", 0.1, now))
	bus.Publish(event.NewProgressEvent("job-1", 0.2, now))
	// Give the dispatch loop time to attempt delivery of both before we drain anything.
	time.Sleep(50 * time.Millisecond)

	first := <-sub.C
	require.Equal(t, 0.1, first.Progress, "the first event should have filled the one-slot queue")

	select {
	case <-sub.C:
		t.Fatal("the second event should have been dropped, not queued")
	case <-time.After(100 * time.Millisecond):
	}
}
