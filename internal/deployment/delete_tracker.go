package deployment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
	"github.com/armature/armature/internal/metrics"
)

// Delete operation states
const (
	DeleteStateRunning   = "running"
	DeleteStateSucceeded = "succeeded"
	DeleteStateFailed    = "failed"
)

// DeleteStatus is the progress view of a tracked resource group deletion
type DeleteStatus struct {
	OperationID    string    `json:"operation_id"`
	ResourceGroup  string    `json:"resource_group"`
	State          string    `json:"state"`
	Message        string    `json:"message,omitempty"`
	StartTime      time.Time `json:"start_time"`
	PollCount      int       `json:"poll_count"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
}

type trackedDelete struct {
	id        string
	group     string
	op        interfaces.DeleteOperation
	startTime time.Time
	pollCount int
}

// DeleteTracker tracks long-running resource group deletions. At most one
// delete may be in flight per resource group; progress advances only when
// CheckProgress is called, which polls the provider once.
type DeleteTracker struct {
	gateway interfaces.ProviderGateway
	metrics *metrics.Collector
	logger  *logging.Logger

	mu  sync.Mutex
	ops map[string]*trackedDelete // keyed by resource group
}

// NewDeleteTracker creates a tracker bound to the gateway
func NewDeleteTracker(gateway interfaces.ProviderGateway, collector *metrics.Collector) *DeleteTracker {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &DeleteTracker{
		gateway: gateway,
		metrics: collector,
		logger:  logging.NewLogger("delete-tracker"),
		ops:     make(map[string]*trackedDelete),
	}
}

// Start begins deleting a resource group and tracks the operation
func (t *DeleteTracker) Start(ctx context.Context, resourceGroup string) (*DeleteStatus, error) {
	if resourceGroup == "" {
		return nil, errors.New("resource group is required")
	}

	t.mu.Lock()
	if _, exists := t.ops[resourceGroup]; exists {
		t.mu.Unlock()
		return nil, ErrDeleteInProgress
	}
	// Reserve the slot before releasing the lock so concurrent starts
	// for the same group conflict instead of both calling the provider
	t.ops[resourceGroup] = nil
	t.mu.Unlock()

	op, err := t.gateway.BeginDelete(ctx, resourceGroup)
	if err != nil {
		t.mu.Lock()
		delete(t.ops, resourceGroup)
		t.mu.Unlock()
		if errors.Is(err, interfaces.ErrResourceGroupNotFound) {
			return nil, &Error{
				Code:       "RESOURCE_GROUP_NOT_FOUND",
				Message:    fmt.Sprintf("resource group %s does not exist", resourceGroup),
				HTTPStatus: 404,
			}
		}
		return nil, fmt.Errorf("failed to begin deleting %s: %w", resourceGroup, err)
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		id = fmt.Sprintf("del-%d", time.Now().UnixNano())
	}

	tracked := &trackedDelete{
		id:        id,
		group:     resourceGroup,
		op:        op,
		startTime: time.Now(),
	}
	t.mu.Lock()
	t.ops[resourceGroup] = tracked
	t.mu.Unlock()

	t.metrics.RecordDeleteStarted()
	t.logger.Infof("started delete %s for resource group %s", id, resourceGroup)
	return statusOf(tracked, DeleteStateRunning, ""), nil
}

// CheckProgress polls the tracked operation for the group once. Terminal
// outcomes remove the operation from the tracker.
func (t *DeleteTracker) CheckProgress(ctx context.Context, resourceGroup string) (*DeleteStatus, error) {
	t.mu.Lock()
	tracked, exists := t.ops[resourceGroup]
	t.mu.Unlock()
	if !exists || tracked == nil {
		return nil, ErrDeleteNotFound
	}

	done, err := tracked.op.Poll(ctx)
	t.mu.Lock()
	tracked.pollCount++
	if done || err != nil {
		delete(t.ops, resourceGroup)
	}
	t.mu.Unlock()

	switch {
	case err != nil:
		t.logger.Warnf("delete %s of %s failed: %v", tracked.id, resourceGroup, err)
		return statusOf(tracked, DeleteStateFailed, err.Error()), nil
	case done:
		t.logger.Infof("delete %s of %s completed", tracked.id, resourceGroup)
		return statusOf(tracked, DeleteStateSucceeded, ""), nil
	default:
		return statusOf(tracked, DeleteStateRunning, ""), nil
	}
}

// Active returns the in-flight delete operations
func (t *DeleteTracker) Active() []*DeleteStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*DeleteStatus, 0, len(t.ops))
	for _, tracked := range t.ops {
		if tracked == nil {
			continue
		}
		out = append(out, statusOf(tracked, DeleteStateRunning, ""))
	}
	return out
}

func statusOf(tracked *trackedDelete, state, message string) *DeleteStatus {
	return &DeleteStatus{
		OperationID:    tracked.id,
		ResourceGroup:  tracked.group,
		State:          state,
		Message:        message,
		StartTime:      tracked.startTime,
		PollCount:      tracked.pollCount,
		ElapsedSeconds: int64(time.Since(tracked.startTime).Seconds()),
	}
}
