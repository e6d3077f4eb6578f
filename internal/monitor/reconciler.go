package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
	"github.com/armature/armature/internal/metrics"
	debuglog "github.com/armature/armature/pkg/logging"
)

// discoveredTags is the classification decoded from provider tags
type discoveredTags struct {
	TemplateName string `mapstructure:"TemplateName"`
	Environment  string `mapstructure:"Environment"`
	Project      string `mapstructure:"Project"`
}

// Reconciler periodically scans the provider for deployments this process
// does not know about, typically ones started by a previous run, and adds
// them to the registry so status queries see them. It never starts
// monitors for discovered deployments.
type Reconciler struct {
	gateway  interfaces.ProviderGateway
	registry interfaces.DeploymentRegistry
	metrics  *metrics.Collector
	logger   *logging.Logger

	// Configuration
	scanInterval time.Duration
	maxBackoff   time.Duration

	// State
	mu                sync.RWMutex
	running           bool
	ctx               context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	lastScan          time.Time
	currentInterval   time.Duration
	backoffMultiplier float64
}

// ReconcilerConfig holds configuration for the reconciler
type ReconcilerConfig struct {
	Gateway      interfaces.ProviderGateway
	Registry     interfaces.DeploymentRegistry
	Metrics      *metrics.Collector
	ScanInterval time.Duration
	MaxBackoff   time.Duration // Maximum scan interval when nothing is found (0 = 10x base interval)
}

// NewReconciler creates a reconciler with defaults applied
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 1 * time.Minute
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 10 * cfg.ScanInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	return &Reconciler{
		gateway:           cfg.Gateway,
		registry:          cfg.Registry,
		metrics:           cfg.Metrics,
		logger:            logging.NewLogger("reconciler"),
		scanInterval:      cfg.ScanInterval,
		maxBackoff:        cfg.MaxBackoff,
		currentInterval:   cfg.ScanInterval,
		backoffMultiplier: 1.0,
	}
}

// Start begins periodic reconciliation scans
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reconciler already running")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.wg.Add(1)
	go r.loop()

	r.logger.Infof("started with scan interval %v", r.scanInterval)
	return nil
}

// Stop halts periodic scans and waits for an in-flight scan to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.InfoMsg("stopped")
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	for {
		r.mu.RLock()
		interval := r.currentInterval
		r.mu.RUnlock()

		// Timer instead of ticker so the backoff-adjusted interval applies
		timer := time.NewTimer(interval)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		_, discovered, err := r.Reconcile(r.ctx)
		if err != nil {
			r.logger.Errorf("reconcile scan failed: %v", err)
			continue
		}
		r.adjustBackoff(discovered)
	}
}

// adjustBackoff widens the scan interval while nothing new turns up and
// snaps back to the base interval as soon as something does
func (r *Reconciler) adjustBackoff(found int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastScan = time.Now()
	if found == 0 {
		if r.backoffMultiplier < 2.0 {
			r.backoffMultiplier = 2.0
		} else {
			r.backoffMultiplier *= 1.5
		}
		newInterval := time.Duration(float64(r.scanInterval) * r.backoffMultiplier)
		if newInterval > r.maxBackoff {
			newInterval = r.maxBackoff
		}
		if newInterval != r.currentInterval {
			r.currentInterval = newInterval
			r.logger.Infof("nothing discovered, increasing scan interval to %v (multiplier: %.1f)",
				r.currentInterval, r.backoffMultiplier)
		}
	} else {
		if r.backoffMultiplier > 1.0 {
			r.logger.Infof("deployments discovered, resetting scan interval to base %v", r.scanInterval)
		}
		r.backoffMultiplier = 1.0
		r.currentInterval = r.scanInterval
	}
}

// Reconcile performs one scan. It lists resource groups carrying the
// ownership tag, walks their deployments, registers every untracked one,
// and returns the full merged view of tracked plus discovered deployments
// along with how many were newly registered. Per-group failures are
// logged and skipped so one bad group never aborts the scan.
func (r *Reconciler) Reconcile(ctx context.Context) ([]*interfaces.RegistryEntry, int, error) {
	groups, err := r.gateway.ListResourceGroups(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list resource groups: %w", err)
	}

	known := make(map[string]*interfaces.RegistryEntry)
	for _, e := range r.registry.List() {
		known[e.DeploymentName] = e
	}

	var merged []*interfaces.RegistryEntry
	seen := make(map[string]bool)
	newlyDiscovered := 0

	for _, group := range groups {
		if group.Tags[interfaces.TagCreatedBy] != interfaces.TagCreatedByValue {
			continue
		}

		states, err := r.gateway.ListDeployments(ctx, group.Name)
		if err != nil {
			r.logger.Warnf("failed to list deployments in %s: %v", group.Name, err)
			continue
		}

		for i := range states {
			state := &states[i]
			if seen[state.Name] {
				continue
			}
			seen[state.Name] = true

			if existing, ok := known[state.Name]; ok {
				merged = append(merged, existing)
				continue
			}

			entry := r.synthesizeEntry(state, group.Location)
			merged = append(merged, entry)

			// Terminal discoveries are registered too so that status and
			// diagnostics queries find what the list view just showed
			if err := r.registry.Register(entry, nil); err != nil {
				r.logger.Warnf("failed to register discovered deployment %s: %v", state.Name, err)
				continue
			}
			newlyDiscovered++
			debuglog.ReconcileDiscovery(state.Name, group.Name)
		}
	}

	// Tracked deployments whose groups were not scanned still belong in the view
	for name, entry := range known {
		if !seen[name] {
			merged = append(merged, entry)
		}
	}

	r.metrics.RecordReconcilePass(newlyDiscovered)
	return merged, newlyDiscovered, nil
}

// synthesizeEntry builds a registry entry for a discovered deployment from
// its provider tags, defaulting missing classification to "unknown"
func (r *Reconciler) synthesizeEntry(state *interfaces.DeploymentState, location string) *interfaces.RegistryEntry {
	var tags discoveredTags
	if err := mapstructure.Decode(state.Tags, &tags); err != nil {
		r.logger.Warnf("failed to decode tags for %s: %v", state.Name, err)
	}
	if tags.TemplateName == "" {
		tags.TemplateName = interfaces.UnknownTagValue
	}
	if tags.Environment == "" {
		tags.Environment = interfaces.UnknownTagValue
	}
	if tags.Project == "" {
		tags.Project = interfaces.UnknownTagValue
	}

	startTime := state.Timestamp
	if startTime.IsZero() {
		startTime = time.Now()
	}

	return &interfaces.RegistryEntry{
		DeploymentName: state.Name,
		ResourceGroup:  state.ResourceGroup,
		TemplateName:   tags.TemplateName,
		Location:       location,
		Project:        tags.Project,
		Environment:    tags.Environment,
		Status:         state.ProvisioningState.Status(),
		StatusMessage:  string(state.ProvisioningState),
		StartTime:      startTime,
		Discovered:     true,
	}
}

// LastScan reports when the most recent periodic scan finished
func (r *Reconciler) LastScan() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastScan
}
