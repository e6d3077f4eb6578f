package deployment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/events"
	"github.com/armature/armature/internal/gateway/gatewaytest"
	"github.com/armature/armature/internal/history"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/monitor"
	"github.com/armature/armature/internal/registry"
	"github.com/armature/armature/internal/templates"
)

type serviceFixture struct {
	fake     *gatewaytest.Fake
	registry *registry.Registry
	history  *history.MemoryStore
	bus      *events.Bus
	service  *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	dir := t.TempDir()
	writeTemplate(t, dir, "webapp")
	writeTemplate(t, dir, templates.EnvironmentTemplateName)
	resolver, err := templates.NewFileResolver(dir)
	require.NoError(t, err)

	fake := gatewaytest.New()
	reg := registry.New()
	store := history.NewMemoryStore()
	bus := events.NewBus()

	mon := monitor.New(monitor.Config{
		Gateway:      fake,
		Registry:     reg,
		History:      store,
		Bus:          bus,
		PollInterval: 25 * time.Millisecond,
	})
	t.Cleanup(func() {
		mon.Shutdown()
		bus.Close()
	})

	svc, err := NewServiceWithConfig(ServiceConfig{
		Gateway:   fake,
		Registry:  reg,
		History:   store,
		Monitor:   mon,
		Templates: resolver,
		Bus:       bus,
	})
	require.NoError(t, err)

	return &serviceFixture{fake: fake, registry: reg, history: store, bus: bus, service: svc}
}

func writeTemplate(t *testing.T, dir, name string) {
	t.Helper()
	content := []byte(`{"resources": [{"type": "storage", "name": "data"}]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), content, 0o600))
}

func (f *serviceFixture) waitForTerminal(t *testing.T, name string) *Status {
	t.Helper()
	var status *Status
	require.Eventually(t, func() bool {
		s, err := f.service.GetStatus(context.Background(), name)
		if err != nil {
			return false
		}
		status = s
		return !s.Active
	}, 5*time.Second, 5*time.Millisecond)
	return status
}

func TestService_DeployLifecycle(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.fake.AddResourceGroup("demo-rg", "eastus", nil)

	status, err := f.service.Deploy(context.Background(), &DeployRequest{
		TemplateName:  "webapp",
		ResourceGroup: "demo-rg",
		Project:       "demo",
		Environment:   "dev",
		Parameters:    map[string]interface{}{"size": "small"},
	})
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, string(interfaces.StatusRunning), status.Status)
	assert.Contains(t, status.DeploymentName, "webapp-")

	// Ownership and classification tags ride along with the submission
	subs := f.fake.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, interfaces.TagCreatedByValue, subs[0].Tags[interfaces.TagCreatedBy])
	assert.Equal(t, "webapp", subs[0].Tags[interfaces.TagTemplateName])
	assert.Equal(t, "demo", subs[0].Tags[interfaces.TagProject])
	assert.Equal(t, "dev", subs[0].Tags[interfaces.TagEnvironment])

	// Submission is already durable before the deployment finishes
	record, err := f.history.Get(context.Background(), status.DeploymentName)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"size": "small"}, record.Parameters)

	final := f.waitForTerminal(t, status.DeploymentName)
	assert.Equal(t, string(interfaces.StatusSucceeded), final.Status)
	assert.Equal(t, 0, f.registry.Len())

	record, err = f.history.Get(context.Background(), status.DeploymentName)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusSucceeded, record.Status)
	require.NotNil(t, record.EndTime)
}

func TestService_DeployValidation(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	_, err := f.service.Deploy(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.service.Deploy(context.Background(), &DeployRequest{ResourceGroup: "demo-rg"})
	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, 400, depErr.HTTPStatus)

	_, err = f.service.Deploy(context.Background(), &DeployRequest{TemplateName: "webapp"})
	depErr, ok = IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, 400, depErr.HTTPStatus)

	_, err = f.service.Deploy(context.Background(), &DeployRequest{
		TemplateName:  "no-such-template",
		ResourceGroup: "demo-rg",
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestService_BeginFailureRollsBack(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.fake.FailBeginDeployment(errors.New("throttled"))

	_, err := f.service.Deploy(context.Background(), &DeployRequest{
		TemplateName:  "webapp",
		ResourceGroup: "demo-rg",
	})
	require.Error(t, err)
	assert.Equal(t, 0, f.registry.Len(), "failed submission leaves no registration behind")

	records, err := f.history.List(context.Background(), interfaces.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestService_DeployEnvironment(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	status, err := f.service.DeployEnvironment(context.Background(), &EnvironmentRequest{
		Project:     "demo",
		Environment: "dev",
		Location:    "eastus",
	})
	require.NoError(t, err)
	assert.Equal(t, "demo-dev-rg", status.ResourceGroup)
	assert.Equal(t, templates.EnvironmentTemplateName, status.TemplateName)

	group, err := f.fake.GetResourceGroup(context.Background(), "demo-dev-rg")
	require.NoError(t, err)
	assert.Equal(t, "eastus", group.Location)
	assert.Equal(t, interfaces.TagCreatedByValue, group.Tags[interfaces.TagCreatedBy])

	_, err = f.service.DeployEnvironment(context.Background(), &EnvironmentRequest{Project: "demo"})
	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, 400, depErr.HTTPStatus)
}

func TestService_DefaultLocationApplied(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.service.defaultLocation = "eu-west-1"

	status, err := f.service.DeployEnvironment(context.Background(), &EnvironmentRequest{
		Project:     "demo",
		Environment: "dev",
	})
	require.NoError(t, err)
	f.waitForTerminal(t, status.DeploymentName)

	group, err := f.fake.GetResourceGroup(context.Background(), "demo-dev-rg")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", group.Location)
}

func TestService_DeleteEnvironment(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	status, err := f.service.DeployEnvironment(context.Background(), &EnvironmentRequest{
		Project:     "demo",
		Environment: "dev",
		Location:    "eastus",
	})
	require.NoError(t, err)
	f.waitForTerminal(t, status.DeploymentName)

	f.fake.ScriptDelete(1, nil)
	del, err := f.service.DeleteEnvironment(context.Background(), "demo", "dev")
	require.NoError(t, err)
	assert.Equal(t, "demo-dev-rg", del.ResourceGroup)
	assert.NotEmpty(t, del.OperationID)

	_, err = f.service.DeleteEnvironment(context.Background(), "demo", "")
	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, 400, depErr.HTTPStatus)
}

func TestService_GetStatusFallsBackToHistory(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	end := time.Now()
	require.NoError(t, f.history.Create(context.Background(), &interfaces.DeploymentRecord{
		DeploymentName: "old-20260101000000",
		ResourceGroup:  "demo-rg",
		Status:         interfaces.StatusSucceeded,
		StartTime:      end.Add(-time.Minute),
		EndTime:        &end,
	}))

	status, err := f.service.GetStatus(context.Background(), "old-20260101000000")
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Equal(t, string(interfaces.StatusSucceeded), status.Status)

	_, err = f.service.GetStatus(context.Background(), "never-existed")
	assert.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestService_GetOutputs(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	_, err := f.service.GetOutputs(context.Background(), "never-existed")
	assert.ErrorIs(t, err, ErrDeploymentNotFound)

	require.NoError(t, f.history.Create(context.Background(), &interfaces.DeploymentRecord{
		DeploymentName: "running-20260101000000",
		Status:         interfaces.StatusRunning,
		StartTime:      time.Now(),
	}))
	_, err = f.service.GetOutputs(context.Background(), "running-20260101000000")
	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, 409, depErr.HTTPStatus)

	require.NoError(t, f.history.Create(context.Background(), &interfaces.DeploymentRecord{
		DeploymentName: "done-20260101000000",
		Status:         interfaces.StatusSucceeded,
		StartTime:      time.Now(),
		Outputs:        map[string]interface{}{"endpoint": "https://example.test"},
	}))
	outputs, err := f.service.GetOutputs(context.Background(), "done-20260101000000")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test", outputs["endpoint"])
}

func TestService_CancelStopsMonitoring(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.fake.AddResourceGroup("demo-rg", "eastus", nil)

	status, err := f.service.Deploy(context.Background(), &DeployRequest{
		TemplateName:  "webapp",
		ResourceGroup: "demo-rg",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(status.DeploymentName))
	_, err = f.registry.Get(status.DeploymentName)
	assert.ErrorIs(t, err, interfaces.ErrEntryNotFound)

	// Canceled deployments are never finalized as succeeded
	time.Sleep(100 * time.Millisecond)
	record, err := f.history.Get(context.Background(), status.DeploymentName)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRunning, record.Status)

	assert.ErrorIs(t, f.service.Cancel("never-existed"), ErrDeploymentNotFound)

	require.NoError(t, f.registry.Register(&interfaces.RegistryEntry{
		DeploymentName: "found-20260101000000",
		ResourceGroup:  "demo-rg",
		Status:         interfaces.StatusRunning,
		StartTime:      time.Now(),
		Discovered:     true,
	}, nil))
	assert.ErrorIs(t, f.service.Cancel("found-20260101000000"), ErrNotMonitored)
}

func TestService_ListWithoutReconcilerUsesRegistry(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	require.NoError(t, f.registry.Register(&interfaces.RegistryEntry{
		DeploymentName: "tracked-20260101000000",
		ResourceGroup:  "demo-rg",
		Status:         interfaces.StatusRunning,
		StartTime:      time.Now(),
	}, nil))

	statuses, err := f.service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "tracked-20260101000000", statuses[0].DeploymentName)
	assert.True(t, statuses[0].Active)
}

func TestService_ListReconcilesWhenConfigured(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.service.reconciler = monitor.NewReconciler(monitor.ReconcilerConfig{
		Gateway:  f.fake,
		Registry: f.registry,
	})

	f.fake.AddResourceGroup("demo-rg", "eastus", map[string]string{
		interfaces.TagCreatedBy: interfaces.TagCreatedByValue,
	})
	f.fake.ScriptDeployment("demo-rg", "orphan-20260101000000", interfaces.StateRunning)

	statuses, err := f.service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "orphan-20260101000000", statuses[0].DeploymentName)
	assert.True(t, statuses[0].Discovered)
}

func TestService_DiscoveredTerminalVisibleToStatusQueries(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)
	f.service.reconciler = monitor.NewReconciler(monitor.ReconcilerConfig{
		Gateway:  f.fake,
		Registry: f.registry,
	})

	f.fake.AddResourceGroup("demo-rg", "eastus", map[string]string{
		interfaces.TagCreatedBy: interfaces.TagCreatedByValue,
	})
	f.fake.ScriptDeployment("demo-rg", "crashed-20260101000000", interfaces.StateFailed)
	f.fake.SetProviderError("demo-rg", "crashed-20260101000000", &interfaces.ProviderError{
		Code:    "DeploymentFailed",
		Message: "quota exceeded",
	})

	statuses, err := f.service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	// Everything the list view shows must answer status queries too
	status, err := f.service.GetStatus(context.Background(), "crashed-20260101000000")
	require.NoError(t, err)
	assert.Equal(t, string(interfaces.StatusFailed), status.Status)
	assert.True(t, status.Discovered)
	assert.False(t, status.Active)

	report, err := f.service.GetDeploymentErrors(context.Background(), "crashed-20260101000000")
	require.NoError(t, err)
	require.NotEmpty(t, report.Errors)
	assert.Equal(t, "quota exceeded", report.Errors[0].Message)
}

func TestService_GetDeploymentErrors(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	_, err := f.service.GetDeploymentErrors(context.Background(), "never-existed")
	assert.ErrorIs(t, err, ErrDeploymentNotFound)

	f.fake.ScriptDeployment("demo-rg", "broken-20260101000000", interfaces.StateFailed)
	f.fake.SetProviderError("demo-rg", "broken-20260101000000", &interfaces.ProviderError{
		Code:    "DeploymentFailed",
		Message: "one or more resources failed",
	})
	require.NoError(t, f.history.Create(context.Background(), &interfaces.DeploymentRecord{
		DeploymentName: "broken-20260101000000",
		ResourceGroup:  "demo-rg",
		Status:         interfaces.StatusFailed,
		StartTime:      time.Now(),
	}))

	report, err := f.service.GetDeploymentErrors(context.Background(), "broken-20260101000000")
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "DeploymentFailed", report.Errors[0].Code)
}

func TestService_ListTemplates(t *testing.T) {
	t.Parallel()
	f := newServiceFixture(t)

	names, err := f.service.ListTemplates()
	require.NoError(t, err)
	assert.Contains(t, names, "webapp")
	assert.Contains(t, names, templates.EnvironmentTemplateName)
}
