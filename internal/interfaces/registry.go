package interfaces

import (
	"context"
	"errors"
	"time"
)

// Registry sentinel errors
var (
	// ErrEntryNotFound indicates the registry has no entry by that name
	ErrEntryNotFound = errors.New("registry entry not found")
	// ErrEntryExists indicates an entry by that name is already registered
	ErrEntryExists = errors.New("registry entry already exists")
	// ErrNotMonitored indicates the entry has no monitor to cancel
	ErrNotMonitored = errors.New("registry entry has no active monitor")
)

// RegistryEntry is the in-memory record of a deployment currently being tracked
type RegistryEntry struct {
	DeploymentName   string                 `json:"deployment_name"`
	ResourceGroup    string                 `json:"resource_group"`
	TemplateName     string                 `json:"template_name"`
	Location         string                 `json:"location"`
	Project          string                 `json:"project"`
	Environment      string                 `json:"environment"`
	Status           DeploymentStatus       `json:"status"`
	StatusMessage    string                 `json:"status_message,omitempty"`
	LastEmittedState ProvisioningState      `json:"-"`
	PollCount        int                    `json:"poll_count"`
	StartTime        time.Time              `json:"start_time"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	Discovered       bool                   `json:"discovered"`
}

// DeploymentRegistry tracks deployments with in-flight lifecycles. Exactly
// one entry may exist per deployment name; an entry registered with a
// cancel function owns the monitor for that name.
type DeploymentRegistry interface {
	// Register adds a new entry. cancel may be nil for discovered entries
	// that have no monitor. Returns ErrEntryExists on duplicate names.
	Register(entry *RegistryEntry, cancel context.CancelFunc) error

	// Get returns a copy of the entry, or ErrEntryNotFound
	Get(deploymentName string) (*RegistryEntry, error)

	// Update applies fn to the entry under the registry lock
	Update(deploymentName string, fn func(*RegistryEntry)) error

	// List returns copies of all current entries
	List() []*RegistryEntry

	// Remove drops the entry without canceling its monitor
	Remove(deploymentName string) error

	// Cancel stops the entry's monitor via its context and removes the
	// entry. Returns ErrNotMonitored for discovered entries.
	Cancel(deploymentName string) error

	// Len reports the number of tracked deployments
	Len() int
}
