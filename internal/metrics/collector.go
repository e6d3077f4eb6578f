// Package metrics provides metrics collection for deployment monitoring operations.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of collected metrics
type Snapshot struct {
	UptimeSeconds        int64   `json:"uptime_seconds"`
	DeploymentsSubmitted int64   `json:"deployments_submitted"`
	DeploymentsSucceeded int64   `json:"deployments_succeeded"`
	DeploymentsFailed    int64   `json:"deployments_failed"`
	DeploymentsCanceled  int64   `json:"deployments_canceled"`
	ActiveMonitors       int32   `json:"active_monitors"`
	PollsTotal           int64   `json:"polls_total"`
	EventsEmitted        int64   `json:"events_emitted"`
	EventsCoalesced      int64   `json:"events_coalesced"`
	ReconcilePasses      int64   `json:"reconcile_passes"`
	ReconcileDiscoveries int64   `json:"reconcile_discoveries"`
	DeletesStarted       int64   `json:"deletes_started"`
	AvgMonitorSeconds    float64 `json:"avg_monitor_seconds"`
}

// Collector tracks system metrics
type Collector struct {
	mu sync.RWMutex

	// Counters
	deploymentsSubmitted int64
	deploymentsSucceeded int64
	deploymentsFailed    int64
	deploymentsCanceled  int64
	pollsTotal           int64
	eventsEmitted        int64
	eventsCoalesced      int64
	reconcilePasses      int64
	reconcileDiscoveries int64
	deletesStarted       int64

	// Real-time metrics
	activeMonitors int32

	// Timing
	monitorDurations []time.Duration

	// System info
	startTime time.Time

	// Per-deployment tracking
	monitorStartTimes sync.Map // deploymentName -> time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:        time.Now(),
		monitorDurations: make([]time.Duration, 0, 1000),
	}
}

// RecordSubmitted records a deployment accepted for monitoring
func (c *Collector) RecordSubmitted(deploymentName string) {
	atomic.AddInt64(&c.deploymentsSubmitted, 1)
	atomic.AddInt32(&c.activeMonitors, 1)
	c.monitorStartTimes.Store(deploymentName, time.Now())
}

// RecordSucceeded records a deployment finishing successfully
func (c *Collector) RecordSucceeded(deploymentName string) {
	atomic.AddInt64(&c.deploymentsSucceeded, 1)
	c.recordMonitorDuration(deploymentName)
}

// RecordFailed records a deployment finishing in failure
func (c *Collector) RecordFailed(deploymentName string) {
	atomic.AddInt64(&c.deploymentsFailed, 1)
	c.recordMonitorDuration(deploymentName)
}

// RecordCanceled records a monitor stopping before a terminal state
func (c *Collector) RecordCanceled(deploymentName string) {
	atomic.AddInt64(&c.deploymentsCanceled, 1)
	c.recordMonitorDuration(deploymentName)
}

// RecordPoll records one gateway status observation
func (c *Collector) RecordPoll() {
	atomic.AddInt64(&c.pollsTotal, 1)
}

// RecordEventEmitted records one notification published to the bus
func (c *Collector) RecordEventEmitted() {
	atomic.AddInt64(&c.eventsEmitted, 1)
}

// RecordEventCoalesced records a poll whose notification was suppressed
func (c *Collector) RecordEventCoalesced() {
	atomic.AddInt64(&c.eventsCoalesced, 1)
}

// RecordReconcilePass records one reconciliation scan
func (c *Collector) RecordReconcilePass(discoveries int) {
	atomic.AddInt64(&c.reconcilePasses, 1)
	atomic.AddInt64(&c.reconcileDiscoveries, int64(discoveries))
}

// RecordDeleteStarted records a resource group deletion being initiated
func (c *Collector) RecordDeleteStarted() {
	atomic.AddInt64(&c.deletesStarted, 1)
}

func (c *Collector) recordMonitorDuration(deploymentName string) {
	atomic.AddInt32(&c.activeMonitors, -1)
	startTime, ok := c.monitorStartTimes.LoadAndDelete(deploymentName)
	if !ok {
		return
	}
	duration := time.Since(startTime.(time.Time))

	c.mu.Lock()
	c.monitorDurations = append(c.monitorDurations, duration)
	// Keep only the last 1000 entries to avoid unbounded growth
	if len(c.monitorDurations) > 1000 {
		c.monitorDurations = c.monitorDurations[len(c.monitorDurations)-1000:]
	}
	c.mu.Unlock()
}

// GetSnapshot returns a point-in-time view of all metrics
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	var sum time.Duration
	for _, d := range c.monitorDurations {
		sum += d
	}
	var avg float64
	if len(c.monitorDurations) > 0 {
		avg = (sum / time.Duration(len(c.monitorDurations))).Seconds()
	}
	c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:        int64(time.Since(c.startTime).Seconds()),
		DeploymentsSubmitted: atomic.LoadInt64(&c.deploymentsSubmitted),
		DeploymentsSucceeded: atomic.LoadInt64(&c.deploymentsSucceeded),
		DeploymentsFailed:    atomic.LoadInt64(&c.deploymentsFailed),
		DeploymentsCanceled:  atomic.LoadInt64(&c.deploymentsCanceled),
		ActiveMonitors:       atomic.LoadInt32(&c.activeMonitors),
		PollsTotal:           atomic.LoadInt64(&c.pollsTotal),
		EventsEmitted:        atomic.LoadInt64(&c.eventsEmitted),
		EventsCoalesced:      atomic.LoadInt64(&c.eventsCoalesced),
		ReconcilePasses:      atomic.LoadInt64(&c.reconcilePasses),
		ReconcileDiscoveries: atomic.LoadInt64(&c.reconcileDiscoveries),
		DeletesStarted:       atomic.LoadInt64(&c.deletesStarted),
		AvgMonitorSeconds:    avg,
	}
}

// Reset clears all collected metrics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.deploymentsSubmitted, 0)
	atomic.StoreInt64(&c.deploymentsSucceeded, 0)
	atomic.StoreInt64(&c.deploymentsFailed, 0)
	atomic.StoreInt64(&c.deploymentsCanceled, 0)
	atomic.StoreInt64(&c.pollsTotal, 0)
	atomic.StoreInt64(&c.eventsEmitted, 0)
	atomic.StoreInt64(&c.eventsCoalesced, 0)
	atomic.StoreInt64(&c.reconcilePasses, 0)
	atomic.StoreInt64(&c.reconcileDiscoveries, 0)
	atomic.StoreInt64(&c.deletesStarted, 0)
	atomic.StoreInt32(&c.activeMonitors, 0)
	c.monitorDurations = c.monitorDurations[:0]
	c.startTime = time.Now()
	c.monitorStartTimes.Range(func(key, _ interface{}) bool {
		c.monitorStartTimes.Delete(key)
		return true
	})
}
