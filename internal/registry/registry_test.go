package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature/armature/internal/interfaces"
)

func newEntry(name string) *interfaces.RegistryEntry {
	return &interfaces.RegistryEntry{
		DeploymentName: name,
		ResourceGroup:  "demo-rg",
		TemplateName:   "storage",
		Status:         interfaces.StatusRunning,
		StartTime:      time.Now(),
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	t.Run("SuccessfulRegister", func(t *testing.T) {
		t.Parallel()
		r := New()
		err := r.Register(newEntry("storage-20260315101500"), nil)
		require.NoError(t, err)

		got, err := r.Get("storage-20260315101500")
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusRunning, got.Status)
		assert.Equal(t, "demo-rg", got.ResourceGroup)
	})

	t.Run("DuplicateName", func(t *testing.T) {
		t.Parallel()
		r := New()
		require.NoError(t, r.Register(newEntry("storage-20260315101500"), nil))

		err := r.Register(newEntry("storage-20260315101500"), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, interfaces.ErrEntryExists)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("EmptyName", func(t *testing.T) {
		t.Parallel()
		r := New()
		err := r.Register(&interfaces.RegistryEntry{}, nil)
		require.Error(t, err)
	})

	t.Run("NilEntry", func(t *testing.T) {
		t.Parallel()
		r := New()
		err := r.Register(nil, nil)
		require.Error(t, err)
	})
}

func TestRegistry_Get(t *testing.T) {
	t.Parallel()

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()
		r := New()
		_, err := r.Get("missing")
		assert.ErrorIs(t, err, interfaces.ErrEntryNotFound)
	})

	t.Run("ReturnsCopy", func(t *testing.T) {
		t.Parallel()
		r := New()
		e := newEntry("web-20260315101500")
		e.Parameters = map[string]interface{}{"sku": "S1"}
		require.NoError(t, r.Register(e, nil))

		got, err := r.Get("web-20260315101500")
		require.NoError(t, err)
		got.Status = interfaces.StatusFailed
		got.Parameters["sku"] = "P1"

		again, err := r.Get("web-20260315101500")
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusRunning, again.Status)
		assert.Equal(t, "S1", again.Parameters["sku"])
	})
}

func TestRegistry_Update(t *testing.T) {
	t.Parallel()

	t.Run("AppliesMutation", func(t *testing.T) {
		t.Parallel()
		r := New()
		require.NoError(t, r.Register(newEntry("db-20260315101500"), nil))

		err := r.Update("db-20260315101500", func(e *interfaces.RegistryEntry) {
			e.PollCount = 7
			e.StatusMessage = "Running (elapsed 35s)"
		})
		require.NoError(t, err)

		got, err := r.Get("db-20260315101500")
		require.NoError(t, err)
		assert.Equal(t, 7, got.PollCount)
		assert.Equal(t, "Running (elapsed 35s)", got.StatusMessage)
	})

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()
		r := New()
		err := r.Update("missing", func(*interfaces.RegistryEntry) {})
		assert.ErrorIs(t, err, interfaces.ErrEntryNotFound)
	})
}

func TestRegistry_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("CancelsContextAndRemoves", func(t *testing.T) {
		t.Parallel()
		r := New()
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, r.Register(newEntry("app-20260315101500"), cancel))

		require.NoError(t, r.Cancel("app-20260315101500"))

		select {
		case <-ctx.Done():
		default:
			t.Fatal("expected context to be canceled")
		}
		_, err := r.Get("app-20260315101500")
		assert.ErrorIs(t, err, interfaces.ErrEntryNotFound)
	})

	t.Run("DiscoveredEntryNotMonitored", func(t *testing.T) {
		t.Parallel()
		r := New()
		e := newEntry("found-20260315101500")
		e.Discovered = true
		require.NoError(t, r.Register(e, nil))

		err := r.Cancel("found-20260315101500")
		assert.ErrorIs(t, err, interfaces.ErrNotMonitored)
	})

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()
		r := New()
		err := r.Cancel("missing")
		assert.ErrorIs(t, err, interfaces.ErrEntryNotFound)
	})
}

func TestRegistry_Remove(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(newEntry("tmp-20260315101500"), nil))
	require.NoError(t, r.Remove("tmp-20260315101500"))
	assert.Equal(t, 0, r.Len())

	err := r.Remove("tmp-20260315101500")
	assert.ErrorIs(t, err, interfaces.ErrEntryNotFound)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(newEntry("busy-20260315101500"), nil))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Update("busy-20260315101500", func(e *interfaces.RegistryEntry) {
				e.PollCount++
			})
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Get("busy-20260315101500")
			_ = r.List()
		}()
	}
	wg.Wait()

	got, err := r.Get("busy-20260315101500")
	require.NoError(t, err)
	assert.Equal(t, 20, got.PollCount)
}
