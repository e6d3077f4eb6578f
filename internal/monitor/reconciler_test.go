package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/gateway/gatewaytest"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/registry"
)

func ownedGroup(fake *gatewaytest.Fake, name string) {
	fake.AddResourceGroup(name, "eastus", map[string]string{
		interfaces.TagCreatedBy: interfaces.TagCreatedByValue,
	})
}

func TestReconciler_DiscoversUntrackedDeployments(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	reg := registry.New()
	ownedGroup(fake, "demo-rg")
	fake.ScriptDeployment("demo-rg", "orphan-20260315101500", interfaces.StateRunning)
	fake.SetTags("demo-rg", "orphan-20260315101500", map[string]string{
		"TemplateName": "storage",
		"Environment":  "dev",
		"Project":      "demo",
	})

	r := NewReconciler(ReconcilerConfig{Gateway: fake, Registry: reg})
	entries, discovered, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, discovered)
	require.Len(t, entries, 1)

	got, err := reg.Get("orphan-20260315101500")
	require.NoError(t, err)
	assert.True(t, got.Discovered)
	assert.Equal(t, "storage", got.TemplateName)
	assert.Equal(t, "dev", got.Environment)
	assert.Equal(t, "demo", got.Project)
	assert.Equal(t, "eastus", got.Location)
	assert.Equal(t, interfaces.StatusRunning, got.Status)

	// Discovered entries have no monitor to cancel
	assert.ErrorIs(t, reg.Cancel("orphan-20260315101500"), interfaces.ErrNotMonitored)
}

func TestReconciler_MissingTagsDefaultToUnknown(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	reg := registry.New()
	ownedGroup(fake, "demo-rg")
	fake.ScriptDeployment("demo-rg", "bare-20260315101500", interfaces.StateRunning)

	r := NewReconciler(ReconcilerConfig{Gateway: fake, Registry: reg})
	_, discovered, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, discovered)

	got, err := reg.Get("bare-20260315101500")
	require.NoError(t, err)
	assert.Equal(t, interfaces.UnknownTagValue, got.TemplateName)
	assert.Equal(t, interfaces.UnknownTagValue, got.Environment)
	assert.Equal(t, interfaces.UnknownTagValue, got.Project)
}

func TestReconciler_SkipsUnownedGroups(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	reg := registry.New()

	fake.AddResourceGroup("foreign-rg", "eastus", map[string]string{"CreatedBy": "someone-else"})
	fake.ScriptDeployment("foreign-rg", "theirs-20260315101500", interfaces.StateRunning)

	r := NewReconciler(ReconcilerConfig{Gateway: fake, Registry: reg})
	entries, discovered, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, discovered)
	assert.Empty(t, entries, "unowned groups are invisible")
	assert.Equal(t, 0, reg.Len())
}

func TestReconciler_TerminalDiscoveriesRegistered(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	reg := registry.New()
	ownedGroup(fake, "demo-rg")
	fake.ScriptDeployment("demo-rg", "done-20260315101500", interfaces.StateFailed)

	r := NewReconciler(ReconcilerConfig{Gateway: fake, Registry: reg})
	entries, discovered, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, discovered)
	require.Len(t, entries, 1)
	assert.Equal(t, interfaces.StatusFailed, entries[0].Status)

	// The list view and status queries must agree on what exists
	got, err := reg.Get("done-20260315101500")
	require.NoError(t, err)
	assert.True(t, got.Discovered)
	assert.Equal(t, interfaces.StatusFailed, got.Status)
	assert.ErrorIs(t, reg.Cancel("done-20260315101500"), interfaces.ErrNotMonitored)
}

func TestReconciler_AlreadyTrackedNotDuplicated(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	reg := registry.New()
	ownedGroup(fake, "demo-rg")
	fake.ScriptDeployment("demo-rg", "known-20260315101500", interfaces.StateRunning)

	require.NoError(t, reg.Register(&interfaces.RegistryEntry{
		DeploymentName: "known-20260315101500",
		ResourceGroup:  "demo-rg",
		Status:         interfaces.StatusRunning,
		StartTime:      time.Now(),
	}, nil))

	r := NewReconciler(ReconcilerConfig{Gateway: fake, Registry: reg})
	entries, discovered, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, discovered)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Discovered)
	assert.Equal(t, 1, reg.Len())
}

func TestReconciler_StartStop(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	reg := registry.New()
	ownedGroup(fake, "demo-rg")
	fake.ScriptDeployment("demo-rg", "tick-20260315101500", interfaces.StateRunning)

	r := NewReconciler(ReconcilerConfig{
		Gateway:      fake,
		Registry:     reg,
		ScanInterval: 5 * time.Millisecond,
	})
	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "double start is rejected")

	assert.Eventually(t, func() bool { return reg.Len() == 1 },
		2*time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop() // idempotent
	assert.False(t, r.LastScan().IsZero())
}
