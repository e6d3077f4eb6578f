package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound indicates the history store has no record for a deployment
var ErrRecordNotFound = errors.New("deployment record not found")

// HistoryStore persists deployment records beyond the active lifecycle.
// Implementations must keep terminal records immutable in status: once a
// record reaches a terminal status, Update may not move it back to a
// non-terminal one or clear its end time.
type HistoryStore interface {
	// Create inserts a new record keyed by deployment name
	Create(ctx context.Context, record *DeploymentRecord) error

	// Update applies a partial update to an existing record.
	// Returns ErrRecordNotFound if no record exists.
	Update(ctx context.Context, deploymentName string, update RecordUpdate) error

	// Get returns a copy of the record, or ErrRecordNotFound
	Get(ctx context.Context, deploymentName string) (*DeploymentRecord, error)

	// List returns records matching the filter, newest first
	List(ctx context.Context, filter RecordFilter) ([]*DeploymentRecord, error)

	// Statistics aggregates the full history at query time
	Statistics(ctx context.Context) (*DeploymentStatistics, error)

	// Trends buckets history per day over the trailing window
	Trends(ctx context.Context, days int) ([]TrendPoint, error)

	// Cleanup deletes terminal records older than the cutoff and reports how many
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Ping verifies the backing storage is reachable
	Ping(ctx context.Context) error

	// Close releases store resources
	Close() error
}
