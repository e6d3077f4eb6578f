package interfaces

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by ProviderGateway implementations
var (
	// ErrDeploymentNotFound indicates the provider has no deployment by that name
	ErrDeploymentNotFound = errors.New("deployment not found")
	// ErrResourceGroupNotFound indicates the provider has no such resource group
	ErrResourceGroupNotFound = errors.New("resource group not found")
)

// DeploymentState is a point-in-time observation of a provider-side deployment
type DeploymentState struct {
	Name              string
	ResourceGroup     string
	ProvisioningState ProvisioningState
	Timestamp         time.Time
	Tags              map[string]string
	Outputs           map[string]interface{}
}

// ProviderError is the structured error tree a provider attaches to a failed deployment
type ProviderError struct {
	Code    string
	Message string
	Target  string
	Details []ProviderError
}

// ResourceOperation is one resource-level operation within a deployment
type ResourceOperation struct {
	ResourceName      string
	ResourceType      string
	ProvisioningState ProvisioningState
	StatusMessage     string
}

// ResourceGroup is a provider-side grouping of deployed resources
type ResourceGroup struct {
	Name     string
	Location string
	Tags     map[string]string
}

// Resource is a provider-side resource surfaced by listings
type Resource struct {
	Name     string
	Type     string
	Location string
}

// DeleteOperation is a handle to an in-flight resource group deletion.
// Progress is pull-based: each Poll checks the provider once.
type DeleteOperation interface {
	// Poll checks the deletion once. done is true when the provider has
	// finished; a non-nil error alongside done reports a failed deletion.
	Poll(ctx context.Context) (done bool, err error)
}

// ProviderGateway abstracts the cloud provider's deployment surface.
// All submission calls are asynchronous: Begin* returns once the provider
// has accepted the request, and progress is observed by polling.
type ProviderGateway interface {
	// BeginDeployment submits a template deployment. It returns once the
	// provider accepts the request.
	BeginDeployment(ctx context.Context, resourceGroup, deploymentName string, template map[string]interface{}, parameters map[string]interface{}, tags map[string]string) error

	// GetDeployment observes the current state of a deployment.
	// Returns ErrDeploymentNotFound if the provider no longer knows it.
	GetDeployment(ctx context.Context, resourceGroup, deploymentName string) (*DeploymentState, error)

	// GetDeploymentError fetches the structured error for a failed
	// deployment. Returns nil when the provider recorded no error.
	GetDeploymentError(ctx context.Context, resourceGroup, deploymentName string) (*ProviderError, error)

	// ListDeploymentOperations lists the resource-level operations of a deployment
	ListDeploymentOperations(ctx context.Context, resourceGroup, deploymentName string) ([]ResourceOperation, error)

	// ListDeployments lists all deployments within a resource group
	ListDeployments(ctx context.Context, resourceGroup string) ([]DeploymentState, error)

	// ListResourceGroups lists resource groups visible to the gateway
	ListResourceGroups(ctx context.Context) ([]ResourceGroup, error)

	// GetResourceGroup fetches a single resource group.
	// Returns ErrResourceGroupNotFound if it does not exist.
	GetResourceGroup(ctx context.Context, name string) (*ResourceGroup, error)

	// EnsureResourceGroup creates the resource group if it does not already exist
	EnsureResourceGroup(ctx context.Context, name, location string, tags map[string]string) error

	// ListResources lists the resources currently in a resource group
	ListResources(ctx context.Context, resourceGroup string) ([]Resource, error)

	// BeginDelete starts deleting a resource group and everything in it,
	// returning a handle for pull-based progress checks.
	BeginDelete(ctx context.Context, resourceGroup string) (DeleteOperation, error)
}
