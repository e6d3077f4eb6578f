// Package events provides event publishing for deployment lifecycle notifications.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
)

// EventType represents the type of deployment event
type EventType string

const (
	// EventDeploymentUpdate is emitted on state changes, heartbeats, and completion
	EventDeploymentUpdate EventType = "deployment_update"
	// EventDeploymentError is emitted when monitoring a deployment fails
	EventDeploymentError EventType = "deployment_error"
)

// UpdateEvent is the payload of a deployment_update event
type UpdateEvent struct {
	DeploymentName string                       `json:"deployment_name"`
	Status         interfaces.DeploymentStatus  `json:"status"`
	StatusMessage  string                       `json:"status_message"`
	Timestamp      time.Time                    `json:"timestamp"`
	ElapsedSeconds int64                        `json:"elapsed_seconds"`
	Outputs        map[string]interface{}       `json:"outputs,omitempty"`
	ErrorDetails   []interfaces.DiagnosticEntry `json:"error_details,omitempty"`
	Completed      bool                         `json:"completed"`
}

// ErrorEvent is the payload of a deployment_error event
type ErrorEvent struct {
	DeploymentName string    `json:"deployment_name"`
	Error          string    `json:"error"`
	Timestamp      time.Time `json:"timestamp"`
}

// Event is a single notification delivered to subscribers
type Event struct {
	Type   EventType    `json:"type"`
	Update *UpdateEvent `json:"update,omitempty"`
	Error  *ErrorEvent  `json:"error,omitempty"`
}

// DeploymentName returns the deployment the event concerns
func (e Event) DeploymentName() string {
	switch {
	case e.Update != nil:
		return e.Update.DeploymentName
	case e.Error != nil:
		return e.Error.DeploymentName
	default:
		return ""
	}
}

// Subscription is a live feed of events. Events published for one
// deployment arrive in publish order because each monitor publishes from
// a single goroutine and delivery is a channel send.
type Subscription struct {
	C      chan Event
	bus    *Bus
	closed bool
}

// Cancel detaches the subscription from the bus and closes its channel
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
}

// Bus fans deployment events out to subscribers. Publishing never blocks:
// when a subscriber's buffer is full the event is dropped for that
// subscriber and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
	logger  *logging.Logger
}

// DefaultSubscriptionBuffer is the per-subscriber channel capacity
const DefaultSubscriptionBuffer = 256

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logging.NewLogger("event-bus"),
	}
}

// Subscribe attaches a new subscriber. A buffer of 0 uses the default.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	sub := &Subscription{
		C:   make(chan Event, buffer),
		bus: b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.C)
}

// Publish delivers an event to all subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.C <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warnf("subscriber buffer full, dropped %s event for %s",
				event.Type, event.DeploymentName())
		}
	}
}

// PublishUpdate is a convenience method for deployment_update events
func (b *Bus) PublishUpdate(update UpdateEvent) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	b.Publish(Event{Type: EventDeploymentUpdate, Update: &update})
}

// PublishError is a convenience method for deployment_error events
func (b *Bus) PublishError(deploymentName string, err error) {
	b.Publish(Event{
		Type: EventDeploymentError,
		Error: &ErrorEvent{
			DeploymentName: deploymentName,
			Error:          err.Error(),
			Timestamp:      time.Now(),
		},
	})
}

// Dropped reports how many events were dropped due to slow subscribers
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount reports the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close cancels all subscriptions
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		sub.closed = true
		close(sub.C)
		delete(b.subs, sub)
	}
}
