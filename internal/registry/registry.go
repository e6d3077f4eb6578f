// Package registry tracks deployments with in-flight lifecycles in memory.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
)

// entry pairs the tracked state with the cancel function owning its monitor
type entry struct {
	state  *interfaces.RegistryEntry
	cancel context.CancelFunc
}

// Registry is a mutex-guarded in-memory implementation of DeploymentRegistry.
// All reads return deep copies so callers never share mutable state with
// the monitor goroutines.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *logging.Logger
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logging.NewLogger("registry"),
	}
}

// Register adds a new entry. The cancel function may be nil for discovered
// entries that have no monitor goroutine.
func (r *Registry) Register(e *interfaces.RegistryEntry, cancel context.CancelFunc) error {
	if e == nil || e.DeploymentName == "" {
		return fmt.Errorf("registry entry requires a deployment name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.DeploymentName]; exists {
		return fmt.Errorf("%w: %s", interfaces.ErrEntryExists, e.DeploymentName)
	}

	r.entries[e.DeploymentName] = &entry{
		state:  cloneEntry(e),
		cancel: cancel,
	}
	r.logger.Debugf("registered deployment %s (monitored=%t)", e.DeploymentName, cancel != nil)
	return nil
}

// Get returns a copy of the entry
func (r *Registry) Get(deploymentName string) (*interfaces.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[deploymentName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrEntryNotFound, deploymentName)
	}
	return cloneEntry(e.state), nil
}

// Update applies fn to the entry under the registry lock
func (r *Registry) Update(deploymentName string, fn func(*interfaces.RegistryEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[deploymentName]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrEntryNotFound, deploymentName)
	}
	fn(e.state)
	return nil
}

// List returns copies of all current entries
func (r *Registry) List() []*interfaces.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*interfaces.RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, cloneEntry(e.state))
	}
	return out
}

// Remove drops the entry without canceling its monitor
func (r *Registry) Remove(deploymentName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[deploymentName]; !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrEntryNotFound, deploymentName)
	}
	delete(r.entries, deploymentName)
	r.logger.Debugf("removed deployment %s", deploymentName)
	return nil
}

// Cancel stops the entry's monitor and removes the entry. The monitor
// observes the context cancellation and exits without finalizing.
func (r *Registry) Cancel(deploymentName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[deploymentName]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrEntryNotFound, deploymentName)
	}
	if e.cancel == nil {
		return fmt.Errorf("%w: %s", interfaces.ErrNotMonitored, deploymentName)
	}

	e.cancel()
	delete(r.entries, deploymentName)
	r.logger.Infof("canceled monitoring of deployment %s", deploymentName)
	return nil
}

// Len reports the number of tracked deployments
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func cloneEntry(e *interfaces.RegistryEntry) *interfaces.RegistryEntry {
	c := *e
	if e.Parameters != nil {
		c.Parameters = make(map[string]interface{}, len(e.Parameters))
		for k, v := range e.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}
