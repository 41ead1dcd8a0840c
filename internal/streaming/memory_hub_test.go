package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got, ok := <-ch:
		require.True(t, ok, "channel closed")
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StreamEvent{}
}

func assertNoEvent(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		WorkflowID: "workflow_jt_0001",
		Job:        "extract",
		EventType:  "job_running",
		RunState:   "RUNNING",
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := recv(t, ch)
	assert.Equal(t, event, got)
}

func TestFilterByWorkflowID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{WorkflowID: "workflow_jt_0001"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "workflow_jt_0001", EventType: "workflow_running"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "workflow_jt_0002", EventType: "workflow_running"}))

	assert.Equal(t, "workflow_jt_0001", recv(t, ch).WorkflowID)
	assertNoEvent(t, ch)
}

func TestFilterByEventTypeAndJob(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{"job_finished"},
		Jobs:       []string{"load"},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf", Job: "load", EventType: "job_running"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf", Job: "extract", EventType: "job_finished"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf", Job: "load", EventType: "job_finished"}))

	got := recv(t, ch)
	assert.Equal(t, "load", got.Job)
	assert.Equal(t, "job_finished", got.EventType)
	assertNoEvent(t, ch)
}

func TestFilterMatch(t *testing.T) {
	e := StreamEvent{WorkflowID: "a", Job: "j", EventType: "job_prep"}
	assert.True(t, EventFilter{}.Match(e))
	assert.True(t, EventFilter{WorkflowID: "a", EventTypes: []string{"x", "job_prep"}}.Match(e))
	assert.False(t, EventFilter{WorkflowID: "b"}.Match(e))
	assert.False(t, EventFilter{Jobs: []string{"k"}}.Match(e))
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf", EventType: "workflow_succeeded"}))

	for _, ch := range []<-chan StreamEvent{ch1, ch2} {
		assert.Equal(t, "workflow_succeeded", recv(t, ch).EventType)
	}
	assert.Equal(t, 2, hub.Subscribers())
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf", EventType: "job_prep"}))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
	assert.Equal(t, 0, hub.Subscribers())
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch, unsubscribe, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer unsubscribe()

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed with its context")
	}
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHubWithBuffer(4)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf", EventType: "tick"}))
	}

	assert.Len(t, ch, 4)
	assert.Equal(t, uint64(6), hub.Dropped())
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StreamEvent{WorkflowID: "wf", EventType: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf", EventType: "tick"}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
