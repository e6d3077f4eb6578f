// Package gatewaytest provides a scriptable in-memory ProviderGateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/armature/armature/internal/interfaces"
)

type scriptedDeployment struct {
	resourceGroup string
	states        []interfaces.ProvisioningState
	observations  int
	tags          map[string]string
	outputs       map[string]interface{}
	provErr       *interfaces.ProviderError
	operations    []interfaces.ResourceOperation
}

// Fake is an in-memory ProviderGateway with scriptable behavior. Each call
// to GetDeployment advances the scripted state sequence by one, sticking
// at the last state.
type Fake struct {
	mu          sync.Mutex
	groups      map[string]*interfaces.ResourceGroup
	deployments map[string]*scriptedDeployment
	resources   map[string][]interfaces.Resource

	submissions []Submission

	// Error injection
	beginErr         error
	getErr           error
	getDeployErrErr  error
	listOpsErr       error
	deletePollsUntil int
	deleteFailure    error
}

// Submission records one BeginDeployment call
type Submission struct {
	ResourceGroup  string
	DeploymentName string
	Template       map[string]interface{}
	Parameters     map[string]interface{}
	Tags           map[string]string
}

// New creates an empty fake gateway
func New() *Fake {
	return &Fake{
		groups:      make(map[string]*interfaces.ResourceGroup),
		deployments: make(map[string]*scriptedDeployment),
		resources:   make(map[string][]interfaces.Resource),
	}
}

func key(resourceGroup, name string) string {
	return resourceGroup + "/" + name
}

// ScriptDeployment registers a deployment whose observed states follow the
// given sequence, one state per GetDeployment call
func (f *Fake) ScriptDeployment(resourceGroup, name string, states ...interfaces.ProvisioningState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[key(resourceGroup, name)] = &scriptedDeployment{
		resourceGroup: resourceGroup,
		states:        states,
	}
}

// SetTags attaches provider tags to a scripted deployment
func (f *Fake) SetTags(resourceGroup, name string, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[key(resourceGroup, name)]; ok {
		d.tags = tags
	}
}

// SetOutputs attaches outputs to a scripted deployment
func (f *Fake) SetOutputs(resourceGroup, name string, outputs map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[key(resourceGroup, name)]; ok {
		d.outputs = outputs
	}
}

// SetProviderError sets the error tree returned by GetDeploymentError
func (f *Fake) SetProviderError(resourceGroup, name string, provErr *interfaces.ProviderError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[key(resourceGroup, name)]; ok {
		d.provErr = provErr
	}
}

// SetOperations sets the resource operations returned by ListDeploymentOperations
func (f *Fake) SetOperations(resourceGroup, name string, ops []interfaces.ResourceOperation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[key(resourceGroup, name)]; ok {
		d.operations = ops
	}
}

// RemoveDeployment makes the deployment vanish from subsequent observations
func (f *Fake) RemoveDeployment(resourceGroup, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deployments, key(resourceGroup, name))
}

// AddResourceGroup registers a resource group
func (f *Fake) AddResourceGroup(name, location string, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[name] = &interfaces.ResourceGroup{Name: name, Location: location, Tags: tags}
}

// AddResource registers a resource inside a group
func (f *Fake) AddResource(resourceGroup string, res interfaces.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[resourceGroup] = append(f.resources[resourceGroup], res)
}

// FailBeginDeployment makes BeginDeployment return err
func (f *Fake) FailBeginDeployment(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginErr = err
}

// FailGetDeployment makes GetDeployment return err
func (f *Fake) FailGetDeployment(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

// FailGetDeploymentError makes GetDeploymentError return err
func (f *Fake) FailGetDeploymentError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getDeployErrErr = err
}

// FailListOperations makes ListDeploymentOperations return err
func (f *Fake) FailListOperations(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOpsErr = err
}

// ScriptDelete controls BeginDelete handles: the deletion reports done
// after polls successful Poll calls, with failure as the terminal error
func (f *Fake) ScriptDelete(polls int, failure error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletePollsUntil = polls
	f.deleteFailure = failure
}

// Submissions returns all recorded BeginDeployment calls
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Submission, len(f.submissions))
	copy(out, f.submissions)
	return out
}

// BeginDeployment records the submission and scripts a default
// Running→Succeeded sequence unless one was scripted beforehand
func (f *Fake) BeginDeployment(_ context.Context, resourceGroup, name string, template, parameters map[string]interface{}, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.beginErr != nil {
		return f.beginErr
	}
	f.submissions = append(f.submissions, Submission{
		ResourceGroup:  resourceGroup,
		DeploymentName: name,
		Template:       template,
		Parameters:     parameters,
		Tags:           tags,
	})
	if _, ok := f.deployments[key(resourceGroup, name)]; !ok {
		f.deployments[key(resourceGroup, name)] = &scriptedDeployment{
			resourceGroup: resourceGroup,
			states:        []interfaces.ProvisioningState{interfaces.StateRunning, interfaces.StateSucceeded},
			tags:          tags,
		}
	}
	return nil
}

// GetDeployment observes the next scripted state
func (f *Fake) GetDeployment(_ context.Context, resourceGroup, name string) (*interfaces.DeploymentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.deployments[key(resourceGroup, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDeploymentNotFound, name)
	}

	idx := d.observations
	if idx >= len(d.states) {
		idx = len(d.states) - 1
	}
	d.observations++

	state := &interfaces.DeploymentState{
		Name:              name,
		ResourceGroup:     resourceGroup,
		ProvisioningState: d.states[idx],
		Timestamp:         time.Now(),
		Tags:              d.tags,
	}
	if state.ProvisioningState == interfaces.StateSucceeded {
		state.Outputs = d.outputs
	}
	return state, nil
}

// GetDeploymentError returns the scripted provider error tree
func (f *Fake) GetDeploymentError(_ context.Context, resourceGroup, name string) (*interfaces.ProviderError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getDeployErrErr != nil {
		return nil, f.getDeployErrErr
	}
	d, ok := f.deployments[key(resourceGroup, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDeploymentNotFound, name)
	}
	return d.provErr, nil
}

// ListDeploymentOperations returns the scripted resource operations
func (f *Fake) ListDeploymentOperations(_ context.Context, resourceGroup, name string) ([]interfaces.ResourceOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listOpsErr != nil {
		return nil, f.listOpsErr
	}
	d, ok := f.deployments[key(resourceGroup, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrDeploymentNotFound, name)
	}
	return d.operations, nil
}

// ListDeployments returns the current observation of every deployment in the group
func (f *Fake) ListDeployments(_ context.Context, resourceGroup string) ([]interfaces.DeploymentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []interfaces.DeploymentState
	for k, d := range f.deployments {
		if d.resourceGroup != resourceGroup {
			continue
		}
		idx := d.observations
		if idx >= len(d.states) {
			idx = len(d.states) - 1
		}
		name := k[len(resourceGroup)+1:]
		out = append(out, interfaces.DeploymentState{
			Name:              name,
			ResourceGroup:     resourceGroup,
			ProvisioningState: d.states[idx],
			Timestamp:         time.Now(),
			Tags:              d.tags,
		})
	}
	return out, nil
}

// ListResourceGroups returns all registered groups
func (f *Fake) ListResourceGroups(_ context.Context) ([]interfaces.ResourceGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]interfaces.ResourceGroup, 0, len(f.groups))
	for _, g := range f.groups {
		out = append(out, *g)
	}
	return out, nil
}

// GetResourceGroup returns a registered group or ErrResourceGroupNotFound
func (f *Fake) GetResourceGroup(_ context.Context, name string) (*interfaces.ResourceGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrResourceGroupNotFound, name)
	}
	cp := *g
	return &cp, nil
}

// EnsureResourceGroup registers the group if missing
func (f *Fake) EnsureResourceGroup(_ context.Context, name, location string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.groups[name]; !ok {
		f.groups[name] = &interfaces.ResourceGroup{Name: name, Location: location, Tags: tags}
	}
	return nil
}

// ListResources returns the registered resources of a group
func (f *Fake) ListResources(_ context.Context, resourceGroup string) ([]interfaces.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.Resource(nil), f.resources[resourceGroup]...), nil
}

type fakeDeleteOp struct {
	fake  *Fake
	group string
	polls int
}

// Poll advances the scripted deletion by one check
func (op *fakeDeleteOp) Poll(_ context.Context) (bool, error) {
	op.fake.mu.Lock()
	defer op.fake.mu.Unlock()

	op.polls++
	if op.polls < op.fake.deletePollsUntil {
		return false, nil
	}
	if op.fake.deleteFailure != nil {
		return true, op.fake.deleteFailure
	}
	delete(op.fake.groups, op.group)
	for k, d := range op.fake.deployments {
		if d.resourceGroup == op.group {
			delete(op.fake.deployments, k)
		}
	}
	delete(op.fake.resources, op.group)
	return true, nil
}

// BeginDelete returns a handle for a scripted group deletion
func (f *Fake) BeginDelete(_ context.Context, resourceGroup string) (interfaces.DeleteOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.groups[resourceGroup]; !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrResourceGroupNotFound, resourceGroup)
	}
	return &fakeDeleteOp{fake: f, group: resourceGroup}, nil
}
