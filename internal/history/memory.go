package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
)

// MemoryStore is a mutex-guarded in-memory HistoryStore. All reads return
// deep copies so callers never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*interfaces.DeploymentRecord
	logger  *logging.Logger
}

// NewMemoryStore creates an empty in-memory history store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*interfaces.DeploymentRecord),
		logger:  logging.NewLogger("history-memory"),
	}
}

// Create inserts a new record keyed by deployment name
func (s *MemoryStore) Create(_ context.Context, record *interfaces.DeploymentRecord) error {
	if record == nil || record.DeploymentName == "" {
		return fmt.Errorf("deployment record requires a deployment name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.DeploymentName]; exists {
		return fmt.Errorf("deployment record %s already exists", record.DeploymentName)
	}

	now := time.Now()
	c := record.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.records[record.DeploymentName] = c
	return nil
}

// Update applies a partial update to an existing record
func (s *MemoryStore) Update(_ context.Context, deploymentName string, update interfaces.RecordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[deploymentName]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, deploymentName)
	}
	return applyUpdate(record, update, time.Now())
}

// Get returns a copy of the record
func (s *MemoryStore) Get(_ context.Context, deploymentName string) (*interfaces.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[deploymentName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, deploymentName)
	}
	return record.Clone(), nil
}

// List returns records matching the filter, newest first
func (s *MemoryStore) List(_ context.Context, filter interfaces.RecordFilter) ([]*interfaces.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*interfaces.DeploymentRecord
	for _, record := range s.records {
		if matchesFilter(record, filter) {
			out = append(out, record.Clone())
		}
	}
	return sortAndLimit(out, filter.Limit), nil
}

// Statistics aggregates the full history at query time
func (s *MemoryStore) Statistics(_ context.Context) (*interfaces.DeploymentStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*interfaces.DeploymentRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	return computeStatistics(records, time.Now()), nil
}

// Trends buckets history per day over the trailing window
func (s *MemoryStore) Trends(_ context.Context, days int) ([]interfaces.TrendPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*interfaces.DeploymentRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	return computeTrends(records, days, time.Now()), nil
}

// Cleanup deletes terminal records older than the cutoff
func (s *MemoryStore) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for name, record := range s.records {
		if cleanupEligible(record, cutoff) {
			delete(s.records, name)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Infof("cleanup removed %d deployment records", removed)
	}
	return removed, nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
