package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/interfaces"
)

func TestBus_PublishUpdate(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	bus.PublishUpdate(UpdateEvent{
		DeploymentName: "web-20260315101500",
		Status:         interfaces.StatusRunning,
		StatusMessage:  "Running (elapsed 5s)",
	})

	select {
	case event := <-sub.C:
		require.Equal(t, EventDeploymentUpdate, event.Type)
		require.NotNil(t, event.Update)
		assert.Equal(t, "web-20260315101500", event.Update.DeploymentName)
		assert.False(t, event.Update.Completed)
		assert.False(t, event.Update.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestBus_PublishError(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	bus.PublishError("web-20260315101500", errors.New("gateway unreachable"))

	select {
	case event := <-sub.C:
		require.Equal(t, EventDeploymentError, event.Type)
		require.NotNil(t, event.Error)
		assert.Equal(t, "web-20260315101500", event.Error.DeploymentName)
		assert.Contains(t, event.Error.Error, "gateway unreachable")
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestBus_OrderPreservedPerPublisher(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(16)

	for i := 0; i < 5; i++ {
		bus.PublishUpdate(UpdateEvent{
			DeploymentName: "db-20260315101500",
			Status:         interfaces.StatusRunning,
			ElapsedSeconds: int64(i),
		})
	}
	bus.PublishUpdate(UpdateEvent{
		DeploymentName: "db-20260315101500",
		Status:         interfaces.StatusSucceeded,
		Completed:      true,
	})

	var elapsed []int64
	var last Event
	for i := 0; i < 6; i++ {
		select {
		case event := <-sub.C:
			last = event
			if !event.Update.Completed {
				elapsed = append(elapsed, event.Update.ElapsedSeconds)
			}
		case <-time.After(time.Second):
			t.Fatal("expected 6 events")
		}
	}

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, elapsed)
	assert.True(t, last.Update.Completed, "final event must arrive last")
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	_ = bus.Subscribe(1) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.PublishUpdate(UpdateEvent{DeploymentName: "slow-20260315101500"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish must not block on a slow subscriber")
	}
	assert.Equal(t, int64(9), bus.Dropped())
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)
	sub.Cancel()

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after cancel must not panic
	bus.PublishUpdate(UpdateEvent{DeploymentName: "gone-20260315101500"})
}
