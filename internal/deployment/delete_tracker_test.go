package deployment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/gateway/gatewaytest"
	"github.com/armature/armature/internal/interfaces"
)

func TestDeleteTracker_Lifecycle(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	fake.AddResourceGroup("demo-rg", "eastus", nil)
	fake.ScriptDelete(2, nil)
	tracker := NewDeleteTracker(fake, nil)

	status, err := tracker.Start(context.Background(), "demo-rg")
	require.NoError(t, err)
	assert.NotEmpty(t, status.OperationID)
	assert.Equal(t, DeleteStateRunning, status.State)
	require.Len(t, tracker.Active(), 1)

	progress, err := tracker.CheckProgress(context.Background(), "demo-rg")
	require.NoError(t, err)
	assert.Equal(t, DeleteStateRunning, progress.State)
	assert.Equal(t, 1, progress.PollCount)

	progress, err = tracker.CheckProgress(context.Background(), "demo-rg")
	require.NoError(t, err)
	assert.Equal(t, DeleteStateSucceeded, progress.State)
	assert.Equal(t, status.OperationID, progress.OperationID)

	// Terminal operations drop out of the tracker
	_, err = tracker.CheckProgress(context.Background(), "demo-rg")
	assert.ErrorIs(t, err, ErrDeleteNotFound)
	assert.Empty(t, tracker.Active())

	// The group itself is gone from the provider
	_, err = fake.GetResourceGroup(context.Background(), "demo-rg")
	assert.ErrorIs(t, err, interfaces.ErrResourceGroupNotFound)
}

func TestDeleteTracker_DuplicateStartConflicts(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	fake.AddResourceGroup("demo-rg", "eastus", nil)
	fake.ScriptDelete(5, nil)
	tracker := NewDeleteTracker(fake, nil)

	_, err := tracker.Start(context.Background(), "demo-rg")
	require.NoError(t, err)

	_, err = tracker.Start(context.Background(), "demo-rg")
	assert.ErrorIs(t, err, ErrDeleteInProgress)
}

func TestDeleteTracker_UnknownGroup(t *testing.T) {
	t.Parallel()

	tracker := NewDeleteTracker(gatewaytest.New(), nil)

	_, err := tracker.Start(context.Background(), "no-such-rg")
	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, 404, depErr.HTTPStatus)

	_, err = tracker.CheckProgress(context.Background(), "no-such-rg")
	assert.ErrorIs(t, err, ErrDeleteNotFound)

	// A failed begin releases the slot for a retry
	_, err = tracker.Start(context.Background(), "no-such-rg")
	depErr, ok = IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, "RESOURCE_GROUP_NOT_FOUND", depErr.Code)
}

func TestDeleteTracker_FailureReported(t *testing.T) {
	t.Parallel()

	fake := gatewaytest.New()
	fake.AddResourceGroup("demo-rg", "eastus", nil)
	fake.ScriptDelete(1, errors.New("resources still locked"))
	tracker := NewDeleteTracker(fake, nil)

	_, err := tracker.Start(context.Background(), "demo-rg")
	require.NoError(t, err)

	progress, err := tracker.CheckProgress(context.Background(), "demo-rg")
	require.NoError(t, err)
	assert.Equal(t, DeleteStateFailed, progress.State)
	assert.Contains(t, progress.Message, "resources still locked")

	_, err = tracker.CheckProgress(context.Background(), "demo-rg")
	assert.ErrorIs(t, err, ErrDeleteNotFound)
}
