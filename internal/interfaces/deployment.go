// Package interfaces defines the core contracts between Armature components.
package interfaces

import (
	"time"
)

// DeploymentStatus is the coarse lifecycle status tracked for a deployment
type DeploymentStatus string

// Deployment status values
const (
	StatusRunning   DeploymentStatus = "Running"
	StatusSucceeded DeploymentStatus = "Succeeded"
	StatusFailed    DeploymentStatus = "Failed"
	StatusCanceled  DeploymentStatus = "Canceled"
)

// IsTerminal returns true once the status can no longer change
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ProvisioningState is the fine-grained state reported by the provider
type ProvisioningState string

// Provisioning states reported by the provider
const (
	StateAccepted  ProvisioningState = "Accepted"
	StateRunning   ProvisioningState = "Running"
	StateCreating  ProvisioningState = "Creating"
	StateUpdating  ProvisioningState = "Updating"
	StateDeleting  ProvisioningState = "Deleting"
	StateSucceeded ProvisioningState = "Succeeded"
	StateFailed    ProvisioningState = "Failed"
	StateCanceled  ProvisioningState = "Canceled"
)

// IsTerminal returns true for states the provider will not move out of
func (s ProvisioningState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Status maps a provisioning state onto the coarse lifecycle status
func (s ProvisioningState) Status() DeploymentStatus {
	switch s {
	case StateSucceeded:
		return StatusSucceeded
	case StateFailed:
		return StatusFailed
	case StateCanceled:
		return StatusCanceled
	default:
		return StatusRunning
	}
}

// Ownership and classification tags applied to provider resources
const (
	TagCreatedBy      = "CreatedBy"
	TagCreatedByValue = "armature"
	TagTemplateName   = "TemplateName"
	TagEnvironment    = "Environment"
	TagProject        = "Project"
	TagDeploymentType = "DeploymentType"
)

// UnknownTagValue is used when a classification tag is missing on a discovered resource
const UnknownTagValue = "unknown"

// DeploymentRecord is the persisted history entry for one deployment
type DeploymentRecord struct {
	DeploymentName  string                 `json:"deployment_name"`
	ResourceGroup   string                 `json:"resource_group"`
	TemplateName    string                 `json:"template_name"`
	Location        string                 `json:"location"`
	Project         string                 `json:"project"`
	Environment     string                 `json:"environment"`
	Status          DeploymentStatus       `json:"status"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         *time.Time             `json:"end_time,omitempty"`
	DurationSeconds *int64                 `json:"duration_seconds,omitempty"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
	ErrorDetails    []DiagnosticEntry      `json:"error_details,omitempty"`
	ResourceCount   int                    `json:"resource_count"`
	RetryCount      int                    `json:"retry_count"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside a store
func (r *DeploymentRecord) Clone() *DeploymentRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	if r.DurationSeconds != nil {
		d := *r.DurationSeconds
		c.DurationSeconds = &d
	}
	c.Parameters = cloneMap(r.Parameters)
	c.Outputs = cloneMap(r.Outputs)
	if r.ErrorDetails != nil {
		c.ErrorDetails = make([]DiagnosticEntry, len(r.ErrorDetails))
		copy(c.ErrorDetails, r.ErrorDetails)
	}
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RecordUpdate carries a partial update to an existing history record.
// Nil fields are left untouched.
type RecordUpdate struct {
	Status          *DeploymentStatus
	EndTime         *time.Time
	DurationSeconds *int64
	Outputs         map[string]interface{}
	ErrorDetails    []DiagnosticEntry
	ResourceCount   *int
	RetryCount      *int
}

// RecordFilter narrows a history listing
type RecordFilter struct {
	Status       DeploymentStatus
	Project      string
	Environment  string
	TemplateName string
	Since        time.Time
	Limit        int
}

// DiagnosticEntry is one element of a failure diagnostics report. Entries
// are heterogeneous: top-level errors and their nested details carry
// code/message/target, while the aggregate of failed resource operations
// carries a type and the operation list.
type DiagnosticEntry struct {
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Target     string            `json:"target,omitempty"`
	Type       string            `json:"type,omitempty"`
	Operations []FailedOperation `json:"operations,omitempty"`
}

// DiagnosticTypeFailedOperations marks the aggregate entry bundling failed resource operations
const DiagnosticTypeFailedOperations = "failed_operations"

// FailedOperation describes one resource-level operation that did not succeed
type FailedOperation struct {
	ResourceName      string            `json:"resource_name"`
	ResourceType      string            `json:"resource_type"`
	ProvisioningState ProvisioningState `json:"provisioning_state"`
	StatusMessage     string            `json:"status_message,omitempty"`
}

// DiagnosticsReport is the result of extracting failure details for a deployment
type DiagnosticsReport struct {
	Success        bool              `json:"success"`
	DeploymentName string            `json:"deployment_name"`
	ResourceGroup  string            `json:"resource_group"`
	Errors         []DiagnosticEntry `json:"errors"`
	TotalErrors    int               `json:"total_errors"`
	Message        string            `json:"message,omitempty"`
}

// DeploymentStatistics aggregates the history store at query time
type DeploymentStatistics struct {
	TotalDeployments   int                      `json:"total_deployments"`
	Last7Days          int                      `json:"last_7_days"`
	ByStatus           map[DeploymentStatus]int `json:"by_status"`
	ByTemplate         map[string]int           `json:"by_template"`
	ByLocation         map[string]int           `json:"by_location"`
	ByEnvironment      map[string]int           `json:"by_environment"`
	SuccessRate        float64                  `json:"success_rate"`
	AvgDurationSeconds float64                  `json:"avg_duration_seconds"`
	MinDurationSeconds int64                    `json:"min_duration_seconds"`
	MaxDurationSeconds int64                    `json:"max_duration_seconds"`
	RecentFailures     []FailureSample          `json:"recent_failures,omitempty"`
}

// FailureSample is a compact view of one recently failed deployment
type FailureSample struct {
	DeploymentName string     `json:"deployment_name"`
	ResourceGroup  string     `json:"resource_group"`
	TemplateName   string     `json:"template_name"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// TrendPoint is one day of deployment activity
type TrendPoint struct {
	Date               string  `json:"date"`
	Total              int     `json:"total"`
	Succeeded          int     `json:"succeeded"`
	Failed             int     `json:"failed"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}
