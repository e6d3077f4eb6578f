//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/history"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/tests/testutil"
)

func setupAWSStore(t *testing.T) *history.AWSStore {
	t.Helper()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		lsc := testutil.SetupLocalStack(t)
		endpoint = lsc.Endpoint
		t.Log("LocalStack started at", endpoint)
	} else {
		t.Log("Using existing LocalStack at", endpoint)
	}

	suffix := time.Now().UnixNano()
	store, err := history.NewAWSStore(history.AWSStoreConfig{
		DynamoDBTable:  fmt.Sprintf("armature-history-%d", suffix),
		DynamoDBRegion: "us-east-1",
		S3Bucket:       fmt.Sprintf("armature-history-%d", suffix),
		S3Region:       "us-east-1",
		S3Prefix:       "records/",
		Endpoint:       endpoint,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func newRecord(name string, status interfaces.DeploymentStatus) *interfaces.DeploymentRecord {
	return &interfaces.DeploymentRecord{
		DeploymentName: name,
		ResourceGroup:  "demo-rg",
		TemplateName:   "webapp",
		Location:       "us-east-1",
		Project:        "demo",
		Environment:    "dev",
		Status:         status,
		StartTime:      time.Now().UTC(),
		Parameters:     map[string]interface{}{"size": "small"},
	}
}

func TestAWSStoreLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	store := setupAWSStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	record := newRecord("webapp-20260829120000", interfaces.StatusRunning)
	require.NoError(t, store.Create(ctx, record))

	// Duplicate creates are rejected
	require.Error(t, store.Create(ctx, record))

	got, err := store.Get(ctx, record.DeploymentName)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRunning, got.Status)
	assert.Equal(t, "demo-rg", got.ResourceGroup)
	assert.Equal(t, "small", got.Parameters["size"])

	// Finalize the record
	status := interfaces.StatusSucceeded
	endTime := time.Now().UTC()
	duration := int64(endTime.Sub(record.StartTime).Seconds())
	require.NoError(t, store.Update(ctx, record.DeploymentName, interfaces.RecordUpdate{
		Status:          &status,
		EndTime:         &endTime,
		DurationSeconds: &duration,
		Outputs:         map[string]interface{}{"endpoint": "https://example.test"},
	}))

	got, err = store.Get(ctx, record.DeploymentName)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusSucceeded, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, "https://example.test", got.Outputs["endpoint"])

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestAWSStoreListAndAggregates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	store := setupAWSStore(t)
	ctx := context.Background()

	succeeded := interfaces.StatusSucceeded
	failed := interfaces.StatusFailed
	for i, status := range []*interfaces.DeploymentStatus{&succeeded, &succeeded, &failed} {
		record := newRecord(fmt.Sprintf("webapp-%d", i), interfaces.StatusRunning)
		require.NoError(t, store.Create(ctx, record))
		require.NoError(t, store.Update(ctx, record.DeploymentName, interfaces.RecordUpdate{
			Status: status,
		}))
	}

	records, err := store.List(ctx, interfaces.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = store.List(ctx, interfaces.RecordFilter{Status: interfaces.StatusFailed})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "webapp-2", records[0].DeploymentName)

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDeployments)
	assert.Equal(t, 2, stats.ByStatus[interfaces.StatusSucceeded])

	trends, err := store.Trends(ctx, 7)
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, 3, trends[0].Total)

	// Records newer than the cutoff survive cleanup
	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
