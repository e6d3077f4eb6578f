// Package monitor provides background polling and reconciliation of
// deployment lifecycles.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/armature/armature/internal/diagnostics"
	"github.com/armature/armature/internal/events"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
	"github.com/armature/armature/internal/metrics"
	debuglog "github.com/armature/armature/pkg/logging"
)

const (
	// DefaultPollInterval is the delay between status observations
	DefaultPollInterval = 5 * time.Second
	// DefaultHeartbeatEvery emits a heartbeat on every Nth poll of an unchanged state
	DefaultHeartbeatEvery = 6
	// DefaultMaxConcurrent bounds the number of concurrently running monitors
	DefaultMaxConcurrent = 10
)

// Config holds the collaborators and tuning for a Monitor
type Config struct {
	Gateway   interfaces.ProviderGateway
	Registry  interfaces.DeploymentRegistry
	History   interfaces.HistoryStore
	Bus       *events.Bus
	Metrics   *metrics.Collector
	Extractor *diagnostics.Extractor

	PollInterval   time.Duration
	HeartbeatEvery int
	MaxConcurrent  int
}

// Monitor runs one polling loop per watched deployment on a bounded worker
// pool. Each loop observes the provider, coalesces notifications, and
// finalizes the deployment when it reaches a terminal state.
type Monitor struct {
	gateway   interfaces.ProviderGateway
	registry  interfaces.DeploymentRegistry
	history   interfaces.HistoryStore
	bus       *events.Bus
	metrics   *metrics.Collector
	extractor *diagnostics.Extractor
	logger    *logging.Logger

	pollInterval   time.Duration
	heartbeatEvery int
	pool           *workerpool.WorkerPool
	wg             sync.WaitGroup
}

// New creates a monitor with defaults applied for zero config values
func New(cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	if cfg.Extractor == nil {
		cfg.Extractor = diagnostics.NewExtractor(cfg.Gateway)
	}

	return &Monitor{
		gateway:        cfg.Gateway,
		registry:       cfg.Registry,
		history:        cfg.History,
		bus:            cfg.Bus,
		metrics:        cfg.Metrics,
		extractor:      cfg.Extractor,
		logger:         logging.NewLogger("monitor"),
		pollInterval:   cfg.PollInterval,
		heartbeatEvery: cfg.HeartbeatEvery,
		pool:           workerpool.New(cfg.MaxConcurrent),
	}
}

// Watch starts monitoring a registered deployment. The context must be the
// one whose cancel function was handed to the registry, so cancellation
// stops exactly this loop. Watch returns immediately; the loop runs on the
// worker pool.
func (m *Monitor) Watch(ctx context.Context, deploymentName string) {
	m.metrics.RecordSubmitted(deploymentName)
	m.wg.Add(1)
	m.pool.Submit(func() {
		defer m.wg.Done()
		m.run(ctx, deploymentName)
	})
}

// Shutdown waits for queued monitors to drain and stops the pool
func (m *Monitor) Shutdown() {
	m.pool.StopWait()
	m.wg.Wait()
}

//nolint:gocognit // The polling loop handles every lifecycle outcome in one place
func (m *Monitor) run(ctx context.Context, deploymentName string) {
	for {
		entry, err := m.registry.Get(deploymentName)
		if err != nil {
			// Entry removed externally: the deployment was canceled or
			// finalized by someone else. Stop quietly.
			m.metrics.RecordCanceled(deploymentName)
			return
		}

		state, err := m.gateway.GetDeployment(ctx, entry.ResourceGroup, deploymentName)
		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			m.logger.Infof("monitor for %s canceled", deploymentName)
			m.metrics.RecordCanceled(deploymentName)
			return
		case errors.Is(err, interfaces.ErrDeploymentNotFound):
			m.finalizeLost(entry)
			return
		case err != nil:
			// A poll failure is not retried: surface it and stop tracking
			m.logger.Errorf("poll failed for %s: %v", deploymentName, err)
			m.bus.PublishError(deploymentName, err)
			_ = m.registry.Remove(deploymentName)
			m.metrics.RecordCanceled(deploymentName)
			return
		}

		m.metrics.RecordPoll()
		pollCount := entry.PollCount + 1
		debuglog.MonitorPoll(deploymentName, string(state.ProvisioningState), pollCount)
		elapsed := time.Since(entry.StartTime)
		statusMessage := fmt.Sprintf("%s (elapsed %ds)", state.ProvisioningState, int64(elapsed.Seconds()))

		stateChanged := state.ProvisioningState != entry.LastEmittedState
		heartbeat := pollCount%m.heartbeatEvery == 1 || m.heartbeatEvery == 1
		emit := stateChanged || heartbeat
		terminal := state.ProvisioningState.IsTerminal()

		_ = m.registry.Update(deploymentName, func(e *interfaces.RegistryEntry) {
			e.PollCount = pollCount
			e.Status = state.ProvisioningState.Status()
			e.StatusMessage = statusMessage
			if emit {
				e.LastEmittedState = state.ProvisioningState
			}
		})

		if terminal {
			m.finalize(entry, state, pollCount)
			return
		}

		if emit {
			if stateChanged && entry.LastEmittedState != "" {
				m.logger.DeploymentStateChange(deploymentName,
					string(entry.LastEmittedState), string(state.ProvisioningState), pollCount)
			}
			m.bus.PublishUpdate(events.UpdateEvent{
				DeploymentName: deploymentName,
				Status:         state.ProvisioningState.Status(),
				StatusMessage:  statusMessage,
				ElapsedSeconds: int64(elapsed.Seconds()),
				Completed:      false,
			})
			m.metrics.RecordEventEmitted()
		} else {
			m.metrics.RecordEventCoalesced()
		}

		select {
		case <-ctx.Done():
			m.logger.Infof("monitor for %s canceled", deploymentName)
			m.metrics.RecordCanceled(deploymentName)
			return
		case <-time.After(m.pollInterval):
		}
	}
}

// finalize persists the terminal outcome, emits the final event, and
// releases the registry entry. Failure diagnostics are extracted
// best-effort before the record is written.
func (m *Monitor) finalize(entry *interfaces.RegistryEntry, state *interfaces.DeploymentState, pollCount int) {
	// Finalization must survive monitor cancellation, so it runs on its
	// own deadline rather than the poll context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status := state.ProvisioningState.Status()
	now := time.Now()
	duration := int64(now.Sub(entry.StartTime).Seconds())

	var details []interfaces.DiagnosticEntry
	if status == interfaces.StatusFailed {
		report := m.extractor.Extract(ctx, entry.ResourceGroup, entry.DeploymentName)
		details = report.Errors
	}

	m.upsertRecord(ctx, entry, status, now, duration, state.Outputs, details)

	m.bus.PublishUpdate(events.UpdateEvent{
		DeploymentName: entry.DeploymentName,
		Status:         status,
		StatusMessage:  fmt.Sprintf("%s (elapsed %ds)", status, duration),
		ElapsedSeconds: duration,
		Outputs:        state.Outputs,
		ErrorDetails:   details,
		Completed:      true,
	})
	m.metrics.RecordEventEmitted()

	switch status {
	case interfaces.StatusSucceeded:
		m.metrics.RecordSucceeded(entry.DeploymentName)
	case interfaces.StatusFailed:
		m.metrics.RecordFailed(entry.DeploymentName)
	default:
		m.metrics.RecordCanceled(entry.DeploymentName)
	}

	m.logger.DeploymentCompleted(entry.DeploymentName, string(status), duration)
	m.logger.Debugf("deployment %s finalized after %d polls", entry.DeploymentName, pollCount)
	_ = m.registry.Remove(entry.DeploymentName)
}

// finalizeLost handles a deployment that vanished from the provider
// mid-monitoring. It is recorded as Canceled with details describing the
// disappearance, so history never carries a phantom Running entry.
func (m *Monitor) finalizeLost(entry *interfaces.RegistryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	duration := int64(now.Sub(entry.StartTime).Seconds())
	details := []interfaces.DiagnosticEntry{{
		Code:    "DeploymentNotFound",
		Message: "deployment disappeared from the provider while being monitored",
		Target:  entry.DeploymentName,
	}}

	m.logger.Warnf("deployment %s no longer exists at the provider, recording as canceled", entry.DeploymentName)
	m.bus.PublishError(entry.DeploymentName, interfaces.ErrDeploymentNotFound)

	m.upsertRecord(ctx, entry, interfaces.StatusCanceled, now, duration, nil, details)

	m.bus.PublishUpdate(events.UpdateEvent{
		DeploymentName: entry.DeploymentName,
		Status:         interfaces.StatusCanceled,
		StatusMessage:  fmt.Sprintf("Canceled (elapsed %ds)", duration),
		ElapsedSeconds: duration,
		ErrorDetails:   details,
		Completed:      true,
	})
	m.metrics.RecordEventEmitted()
	m.metrics.RecordCanceled(entry.DeploymentName)
	_ = m.registry.Remove(entry.DeploymentName)
}

// upsertRecord writes the terminal outcome idempotently: missing records
// are created, existing ones updated in place. History failures are logged
// and never block finalization.
func (m *Monitor) upsertRecord(ctx context.Context, entry *interfaces.RegistryEntry,
	status interfaces.DeploymentStatus, endTime time.Time, duration int64,
	outputs map[string]interface{}, details []interfaces.DiagnosticEntry,
) {
	_, err := m.history.Get(ctx, entry.DeploymentName)
	if errors.Is(err, interfaces.ErrRecordNotFound) {
		record := &interfaces.DeploymentRecord{
			DeploymentName:  entry.DeploymentName,
			ResourceGroup:   entry.ResourceGroup,
			TemplateName:    entry.TemplateName,
			Location:        entry.Location,
			Project:         entry.Project,
			Environment:     entry.Environment,
			Status:          status,
			StartTime:       entry.StartTime,
			EndTime:         &endTime,
			DurationSeconds: &duration,
			Parameters:      entry.Parameters,
			Outputs:         outputs,
			ErrorDetails:    details,
		}
		if err := m.history.Create(ctx, record); err != nil {
			m.logger.Errorf("failed to create history record for %s: %v", entry.DeploymentName, err)
		}
		return
	}
	if err != nil {
		m.logger.Errorf("failed to read history record for %s: %v", entry.DeploymentName, err)
		return
	}

	update := interfaces.RecordUpdate{
		Status:          &status,
		EndTime:         &endTime,
		DurationSeconds: &duration,
		Outputs:         outputs,
		ErrorDetails:    details,
	}
	if err := m.history.Update(ctx, entry.DeploymentName, update); err != nil {
		m.logger.Errorf("failed to update history record for %s: %v", entry.DeploymentName, err)
	}
}
