package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/interfaces"
)

func runningRecord(name string, start time.Time) *interfaces.DeploymentRecord {
	return &interfaces.DeploymentRecord{
		DeploymentName: name,
		ResourceGroup:  "demo-rg",
		TemplateName:   "storage",
		Location:       "us-east-1",
		Project:        "demo",
		Environment:    "dev",
		Status:         interfaces.StatusRunning,
		StartTime:      start,
	}
}

func terminalUpdate(status interfaces.DeploymentStatus, end time.Time, duration int64) interfaces.RecordUpdate {
	return interfaces.RecordUpdate{
		Status:          &status,
		EndTime:         &end,
		DurationSeconds: &duration,
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	start := time.Now().Add(-time.Minute)
	rec := runningRecord("storage-20260315101500", start)
	rec.Parameters = map[string]interface{}{"sku": "S1"}
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "storage-20260315101500")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRunning, got.Status)
	assert.Equal(t, "S1", got.Parameters["sku"])
	assert.False(t, got.CreatedAt.IsZero())

	end := time.Now()
	require.NoError(t, store.Update(ctx, "storage-20260315101500",
		terminalUpdate(interfaces.StatusSucceeded, end, 60)))

	got, err = store.Get(ctx, "storage-20260315101500")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusSucceeded, got.Status)
	require.NotNil(t, got.EndTime)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, int64(60), *got.DurationSeconds)
}

func TestMemoryStore_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Duplicate", func(t *testing.T) {
		t.Parallel()
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, runningRecord("a-20260315101500", time.Now())))
		err := store.Create(ctx, runningRecord("a-20260315101500", time.Now()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("MissingName", func(t *testing.T) {
		t.Parallel()
		store := NewMemoryStore()
		err := store.Create(ctx, &interfaces.DeploymentRecord{})
		require.Error(t, err)
	})
}

func TestMemoryStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()
		store := NewMemoryStore()
		err := store.Update(ctx, "missing", interfaces.RecordUpdate{})
		assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
	})

	t.Run("IdempotentTerminalReplay", func(t *testing.T) {
		t.Parallel()
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, runningRecord("b-20260315101500", time.Now())))

		end := time.Now()
		update := terminalUpdate(interfaces.StatusSucceeded, end, 30)
		require.NoError(t, store.Update(ctx, "b-20260315101500", update))
		require.NoError(t, store.Update(ctx, "b-20260315101500", update))

		got, err := store.Get(ctx, "b-20260315101500")
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusSucceeded, got.Status)
	})

	t.Run("TerminalStatusIsMonotonic", func(t *testing.T) {
		t.Parallel()
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, runningRecord("c-20260315101500", time.Now())))
		require.NoError(t, store.Update(ctx, "c-20260315101500",
			terminalUpdate(interfaces.StatusFailed, time.Now(), 10)))

		running := interfaces.StatusRunning
		err := store.Update(ctx, "c-20260315101500", interfaces.RecordUpdate{Status: &running})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "terminal")

		succeeded := interfaces.StatusSucceeded
		err = store.Update(ctx, "c-20260315101500", interfaces.RecordUpdate{Status: &succeeded})
		require.Error(t, err)

		got, err := store.Get(ctx, "c-20260315101500")
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusFailed, got.Status)
	})
}

func TestMemoryStore_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"one-20260315101500", "two-20260315101501", "three-20260315101502"} {
		rec := runningRecord(name, base.Add(time.Duration(i)*time.Minute))
		if i == 2 {
			rec.Environment = "prod"
		}
		require.NoError(t, store.Create(ctx, rec))
	}
	require.NoError(t, store.Update(ctx, "one-20260315101500",
		terminalUpdate(interfaces.StatusSucceeded, time.Now(), 5)))

	t.Run("NewestFirst", func(t *testing.T) {
		t.Parallel()
		records, err := store.List(ctx, interfaces.RecordFilter{})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "three-20260315101502", records[0].DeploymentName)
		assert.Equal(t, "one-20260315101500", records[2].DeploymentName)
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		t.Parallel()
		records, err := store.List(ctx, interfaces.RecordFilter{Status: interfaces.StatusSucceeded})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "one-20260315101500", records[0].DeploymentName)
	})

	t.Run("FilterByEnvironment", func(t *testing.T) {
		t.Parallel()
		records, err := store.List(ctx, interfaces.RecordFilter{Environment: "prod"})
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("Limit", func(t *testing.T) {
		t.Parallel()
		records, err := store.List(ctx, interfaces.RecordFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestMemoryStore_Statistics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	names := []string{"s1-20260315101500", "s2-20260315101501", "f1-20260315101502"}
	for _, name := range names {
		require.NoError(t, store.Create(ctx, runningRecord(name, time.Now().Add(-time.Hour))))
	}
	require.NoError(t, store.Update(ctx, "s1-20260315101500", terminalUpdate(interfaces.StatusSucceeded, time.Now(), 20)))
	require.NoError(t, store.Update(ctx, "s2-20260315101501", terminalUpdate(interfaces.StatusSucceeded, time.Now(), 40)))
	require.NoError(t, store.Update(ctx, "f1-20260315101502", terminalUpdate(interfaces.StatusFailed, time.Now(), 60)))

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDeployments)
	assert.Equal(t, 2, stats.ByStatus[interfaces.StatusSucceeded])
	assert.Equal(t, 1, stats.ByStatus[interfaces.StatusFailed])
	assert.InDelta(t, 66.67, stats.SuccessRate, 0.1)
	assert.InDelta(t, 40.0, stats.AvgDurationSeconds, 0.01)
	assert.Equal(t, int64(20), stats.MinDurationSeconds)
	assert.Equal(t, int64(60), stats.MaxDurationSeconds)
	assert.Equal(t, 3, stats.ByTemplate["storage"])
	assert.Equal(t, 3, stats.Last7Days)
	assert.Equal(t, 3, stats.ByLocation["us-east-1"])
	require.Len(t, stats.RecentFailures, 1)
	assert.Equal(t, "f1-20260315101502", stats.RecentFailures[0].DeploymentName)
}

func TestMemoryStore_Trends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	today := time.Now().UTC()
	yesterday := today.AddDate(0, 0, -1)
	longAgo := today.AddDate(0, 0, -45)

	require.NoError(t, store.Create(ctx, runningRecord("t1-20260315101500", today)))
	require.NoError(t, store.Create(ctx, runningRecord("t2-20260315101501", yesterday)))
	require.NoError(t, store.Create(ctx, runningRecord("old-20260315101502", longAgo)))
	require.NoError(t, store.Update(ctx, "t1-20260315101500", terminalUpdate(interfaces.StatusSucceeded, today, 10)))
	require.NoError(t, store.Update(ctx, "t2-20260315101501", terminalUpdate(interfaces.StatusFailed, yesterday, 30)))

	trends, err := store.Trends(ctx, 30)
	require.NoError(t, err)
	require.Len(t, trends, 2, "records outside the window are excluded")

	assert.Equal(t, yesterday.Format("2006-01-02"), trends[0].Date)
	assert.Equal(t, 1, trends[0].Failed)
	assert.InDelta(t, 0.0, trends[0].SuccessRate, 0.01)
	assert.Equal(t, today.Format("2006-01-02"), trends[1].Date)
	assert.Equal(t, 1, trends[1].Succeeded)
	assert.InDelta(t, 100.0, trends[1].SuccessRate, 0.01)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	old := time.Now().Add(-90 * 24 * time.Hour)
	require.NoError(t, store.Create(ctx, runningRecord("old-20260315101500", old)))
	require.NoError(t, store.Update(ctx, "old-20260315101500", terminalUpdate(interfaces.StatusSucceeded, old, 15)))

	require.NoError(t, store.Create(ctx, runningRecord("active-20260315101501", time.Now())))

	recent := time.Now()
	require.NoError(t, store.Create(ctx, runningRecord("new-20260315101502", recent)))
	require.NoError(t, store.Update(ctx, "new-20260315101502", terminalUpdate(interfaces.StatusSucceeded, recent, 15)))

	removed, err := store.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, "old-20260315101500")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
	_, err = store.Get(ctx, "active-20260315101501")
	assert.NoError(t, err, "non-terminal records are never cleaned up")
}
