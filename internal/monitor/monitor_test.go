package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/events"
	"github.com/armature/armature/internal/gateway/gatewaytest"
	"github.com/armature/armature/internal/history"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/registry"
)

type monitorFixture struct {
	fake     *gatewaytest.Fake
	registry *registry.Registry
	history  *history.MemoryStore
	bus      *events.Bus
	monitor  *Monitor
}

func newFixture(t *testing.T) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		fake:     gatewaytest.New(),
		registry: registry.New(),
		history:  history.NewMemoryStore(),
		bus:      events.NewBus(),
	}
	f.monitor = New(Config{
		Gateway:      f.fake,
		Registry:     f.registry,
		History:      f.history,
		Bus:          f.bus,
		PollInterval: time.Millisecond,
	})
	t.Cleanup(func() {
		f.monitor.Shutdown()
		f.bus.Close()
	})
	return f
}

// watch registers the entry and starts its monitor the way the service does
func (f *monitorFixture) watch(t *testing.T, entry *interfaces.RegistryEntry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.registry.Register(entry, cancel))
	f.monitor.Watch(ctx, entry.DeploymentName)
}

func testEntry(name string) *interfaces.RegistryEntry {
	return &interfaces.RegistryEntry{
		DeploymentName: name,
		ResourceGroup:  "demo-rg",
		TemplateName:   "storage",
		Project:        "demo",
		Environment:    "dev",
		Status:         interfaces.StatusRunning,
		StartTime:      time.Now(),
	}
}

// collectUntilCompleted drains the subscription until the final event arrives
func collectUntilCompleted(t *testing.T, sub *events.Subscription) []events.Event {
	t.Helper()
	var collected []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.C:
			collected = append(collected, event)
			if event.Update != nil && event.Update.Completed {
				return collected
			}
		case <-deadline:
			t.Fatalf("no completed event after %d events", len(collected))
		}
	}
}

func TestMonitor_SuccessfulLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	f.fake.ScriptDeployment("demo-rg", "storage-20260315101500",
		interfaces.StateRunning, interfaces.StateRunning, interfaces.StateSucceeded)
	f.fake.SetOutputs("demo-rg", "storage-20260315101500",
		map[string]interface{}{"endpoint": "https://example"})

	f.watch(t, testEntry("storage-20260315101500"))
	collected := collectUntilCompleted(t, sub)

	final := collected[len(collected)-1].Update
	assert.Equal(t, interfaces.StatusSucceeded, final.Status)
	assert.Equal(t, "https://example", final.Outputs["endpoint"])

	record, err := f.history.Get(context.Background(), "storage-20260315101500")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusSucceeded, record.Status)
	require.NotNil(t, record.EndTime)
	require.NotNil(t, record.DurationSeconds)
	assert.Equal(t, "https://example", record.Outputs["endpoint"])

	assert.Eventually(t, func() bool { return f.registry.Len() == 0 },
		time.Second, 5*time.Millisecond, "terminal deployments leave the registry")
}

func TestMonitor_CoalescesUnchangedStates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	// 20 polls of an unchanged state emit on polls 1, 7, 13, and 19 with
	// a heartbeat every 6th poll, then poll 21 finalizes.
	states := make([]interfaces.ProvisioningState, 0, 21)
	for i := 0; i < 20; i++ {
		states = append(states, interfaces.StateRunning)
	}
	states = append(states, interfaces.StateSucceeded)
	f.fake.ScriptDeployment("demo-rg", "quiet-20260315101500", states...)

	f.watch(t, testEntry("quiet-20260315101500"))
	collected := collectUntilCompleted(t, sub)

	var heartbeats int
	for _, event := range collected {
		if event.Update != nil && !event.Update.Completed {
			heartbeats++
			assert.Equal(t, interfaces.StatusRunning, event.Update.Status)
		}
	}
	assert.Equal(t, 4, heartbeats)
	assert.True(t, collected[len(collected)-1].Update.Completed)
}

func TestMonitor_StateChangeEmitsImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	f.fake.ScriptDeployment("demo-rg", "busy-20260315101500",
		interfaces.StateAccepted, interfaces.StateRunning, interfaces.StateCreating, interfaces.StateSucceeded)

	f.watch(t, testEntry("busy-20260315101500"))
	collected := collectUntilCompleted(t, sub)

	// Every poll observed a different state, so nothing is coalesced
	require.Len(t, collected, 4)
	assert.Contains(t, collected[0].Update.StatusMessage, "Accepted")
	assert.Contains(t, collected[1].Update.StatusMessage, "Running")
	assert.Contains(t, collected[2].Update.StatusMessage, "Creating")
	assert.True(t, collected[3].Update.Completed)
}

func TestMonitor_FailureExtractsDiagnostics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	f.fake.ScriptDeployment("demo-rg", "web-20260315101500",
		interfaces.StateRunning, interfaces.StateFailed)
	f.fake.SetProviderError("demo-rg", "web-20260315101500", &interfaces.ProviderError{
		Code:    "DeploymentFailed",
		Message: "one or more operations failed",
		Details: []interfaces.ProviderError{
			{Code: "Conflict", Message: "name taken", Target: "site"},
		},
	})
	f.fake.SetOperations("demo-rg", "web-20260315101500", []interfaces.ResourceOperation{
		{ResourceName: "site", ResourceType: "web_app", ProvisioningState: interfaces.StateFailed, StatusMessage: "Conflict"},
	})

	f.watch(t, testEntry("web-20260315101500"))
	collected := collectUntilCompleted(t, sub)

	final := collected[len(collected)-1].Update
	assert.Equal(t, interfaces.StatusFailed, final.Status)
	require.Len(t, final.ErrorDetails, 3)
	assert.Equal(t, "DeploymentFailed", final.ErrorDetails[0].Code)
	assert.Equal(t, interfaces.DiagnosticTypeFailedOperations, final.ErrorDetails[2].Type)

	record, err := f.history.Get(context.Background(), "web-20260315101500")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, record.Status)
	assert.Len(t, record.ErrorDetails, 3)
}

func TestMonitor_VanishedDeploymentRecordedAsCanceled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	f.fake.ScriptDeployment("demo-rg", "gone-20260315101500", interfaces.StateRunning)
	f.watch(t, testEntry("gone-20260315101500"))

	// Let a first poll land, then pull the deployment out from under the monitor
	select {
	case <-sub.C:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a first update")
	}
	f.fake.RemoveDeployment("demo-rg", "gone-20260315101500")

	var final *events.UpdateEvent
	var sawError bool
	deadline := time.After(5 * time.Second)
	for final == nil {
		select {
		case event := <-sub.C:
			if event.Error != nil {
				sawError = true
			}
			if event.Update != nil && event.Update.Completed {
				u := *event.Update
				final = &u
			}
		case <-deadline:
			t.Fatal("expected a final event")
		}
	}

	assert.True(t, sawError, "disappearance surfaces an error event")
	assert.Equal(t, interfaces.StatusCanceled, final.Status)
	require.NotEmpty(t, final.ErrorDetails)
	assert.Equal(t, "DeploymentNotFound", final.ErrorDetails[0].Code)

	record, err := f.history.Get(context.Background(), "gone-20260315101500")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCanceled, record.Status)
}

func TestMonitor_PollErrorStopsTracking(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	f.fake.ScriptDeployment("demo-rg", "err-20260315101500", interfaces.StateRunning)
	f.fake.FailGetDeployment(errors.New("gateway unreachable"))

	f.watch(t, testEntry("err-20260315101500"))

	select {
	case event := <-sub.C:
		require.NotNil(t, event.Error)
		assert.Contains(t, event.Error.Error, "gateway unreachable")
	case <-time.After(5 * time.Second):
		t.Fatal("expected an error event")
	}

	assert.Eventually(t, func() bool { return f.registry.Len() == 0 },
		time.Second, 5*time.Millisecond)
	_, err := f.history.Get(context.Background(), "err-20260315101500")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestMonitor_CancelStopsPromptly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	f.fake.ScriptDeployment("demo-rg", "slow-20260315101500", interfaces.StateRunning)
	f.watch(t, testEntry("slow-20260315101500"))

	select {
	case <-sub.C:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a first update")
	}

	require.NoError(t, f.registry.Cancel("slow-20260315101500"))
	assert.Equal(t, 0, f.registry.Len())

	// No finalization happens for a canceled monitor
	time.Sleep(20 * time.Millisecond)
	_, err := f.history.Get(context.Background(), "slow-20260315101500")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestMonitor_ImmediateTerminalState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.bus.Subscribe(64)

	f.fake.ScriptDeployment("demo-rg", "fast-20260315101500", interfaces.StateSucceeded)
	f.watch(t, testEntry("fast-20260315101500"))

	collected := collectUntilCompleted(t, sub)
	require.Len(t, collected, 1, "a first-poll terminal emits only the final event")
	assert.True(t, collected[0].Update.Completed)
}
