package deployment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armature/armature/internal/diagnostics"
	"github.com/armature/armature/internal/events"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
	"github.com/armature/armature/internal/metrics"
	"github.com/armature/armature/internal/monitor"
	"github.com/armature/armature/internal/templates"
)

const (
	// deploymentNameTimeLayout stamps generated deployment names
	deploymentNameTimeLayout = "20060102150405"
	// DefaultWaitPollInterval is how often WaitForDeployment re-checks status
	DefaultWaitPollInterval = 2 * time.Second
)

// DeployRequest describes a single-template deployment submission
type DeployRequest struct {
	TemplateName  string                 `json:"template_name"`
	ResourceGroup string                 `json:"resource_group"`
	Location      string                 `json:"location"`
	Project       string                 `json:"project"`
	Environment   string                 `json:"environment"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
}

// EnvironmentRequest describes a full-environment deployment submission.
// The resource group name is derived from project and environment.
type EnvironmentRequest struct {
	Project     string                 `json:"project"`
	Environment string                 `json:"environment"`
	Location    string                 `json:"location"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Status is the merged status view of a deployment, sourced from the
// registry while it is in flight and from history afterwards
type Status struct {
	DeploymentName  string                       `json:"deployment_name"`
	ResourceGroup   string                       `json:"resource_group"`
	TemplateName    string                       `json:"template_name"`
	Project         string                       `json:"project"`
	Environment     string                       `json:"environment"`
	Status          string                       `json:"status"`
	StatusMessage   string                       `json:"status_message,omitempty"`
	Active          bool                         `json:"active"`
	Discovered      bool                         `json:"discovered,omitempty"`
	PollCount       int                          `json:"poll_count,omitempty"`
	StartTime       time.Time                    `json:"start_time"`
	EndTime         *time.Time                   `json:"end_time,omitempty"`
	DurationSeconds *int64                       `json:"duration_seconds,omitempty"`
	ErrorDetails    []interfaces.DiagnosticEntry `json:"error_details,omitempty"`
}

// Service coordinates submissions, status queries, cancellation, and
// deletion on top of the gateway, registry, monitor, and history store
type Service struct {
	gateway    interfaces.ProviderGateway
	registry   interfaces.DeploymentRegistry
	history    interfaces.HistoryStore
	monitor    *monitor.Monitor
	reconciler *monitor.Reconciler
	templates  interfaces.TemplateResolver
	extractor  *diagnostics.Extractor
	deletes    *DeleteTracker
	bus        *events.Bus
	metrics    *metrics.Collector
	logger     *logging.Logger

	defaultLocation string
}

// ServiceConfig holds all dependencies needed by the deployment service
type ServiceConfig struct {
	Gateway         interfaces.ProviderGateway
	Registry        interfaces.DeploymentRegistry
	History         interfaces.HistoryStore
	Monitor         *monitor.Monitor
	Reconciler      *monitor.Reconciler // optional; List falls back to the registry without it
	Templates       interfaces.TemplateResolver
	Bus             *events.Bus
	Metrics         *metrics.Collector
	DefaultLocation string
}

// NewServiceWithConfig creates a new deployment service with full configuration
func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("provider gateway is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("deployment registry is required")
	}
	if cfg.History == nil {
		return nil, errors.New("history store is required")
	}
	if cfg.Monitor == nil {
		return nil, errors.New("deployment monitor is required")
	}
	if cfg.Templates == nil {
		return nil, errors.New("template resolver is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = "us-east-1"
	}
	return &Service{
		gateway:         cfg.Gateway,
		registry:        cfg.Registry,
		history:         cfg.History,
		monitor:         cfg.Monitor,
		reconciler:      cfg.Reconciler,
		templates:       cfg.Templates,
		extractor:       diagnostics.NewExtractor(cfg.Gateway),
		deletes:         NewDeleteTracker(cfg.Gateway, cfg.Metrics),
		bus:             cfg.Bus,
		metrics:         cfg.Metrics,
		logger:          logging.NewLogger("deployment-service"),
		defaultLocation: cfg.DefaultLocation,
	}, nil
}

// Deploy submits a template deployment and starts monitoring it. The
// returned status reflects the submission; progress flows through the
// event bus and the status endpoints.
func (s *Service) Deploy(ctx context.Context, request *DeployRequest) (*Status, error) {
	if err := validateDeployRequest(request); err != nil {
		return nil, err
	}

	template, err := s.templates.Resolve(request.TemplateName)
	if err != nil {
		if errors.Is(err, interfaces.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to resolve template %s: %w", request.TemplateName, err)
	}

	name := generateDeploymentName(request.TemplateName)
	entry := &interfaces.RegistryEntry{
		DeploymentName: name,
		ResourceGroup:  request.ResourceGroup,
		TemplateName:   request.TemplateName,
		Location:       s.locationOrDefault(request.Location),
		Project:        request.Project,
		Environment:    request.Environment,
		Status:         interfaces.StatusRunning,
		StatusMessage:  string(interfaces.StateAccepted),
		StartTime:      time.Now(),
		Parameters:     request.Parameters,
	}

	// Register before submitting so the name is reserved and status
	// queries see the deployment from the moment it exists
	monitorCtx, cancel := context.WithCancel(context.Background())
	if err := s.registry.Register(entry, cancel); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register deployment %s: %w", name, err)
	}

	tags := s.buildTags(request.TemplateName, request.Project, request.Environment)
	if err := s.gateway.BeginDeployment(ctx, request.ResourceGroup, name, template, request.Parameters, tags); err != nil {
		cancel()
		if removeErr := s.registry.Remove(name); removeErr != nil {
			s.logger.Warnf("failed to roll back registration of %s: %v", name, removeErr)
		}
		if errors.Is(err, interfaces.ErrResourceGroupNotFound) {
			return nil, &Error{
				Code:       "RESOURCE_GROUP_NOT_FOUND",
				Message:    fmt.Sprintf("resource group %s does not exist", request.ResourceGroup),
				HTTPStatus: 404,
			}
		}
		return nil, fmt.Errorf("failed to submit deployment %s: %w", name, err)
	}

	// Submission is durable even if the process dies before the monitor
	// finalizes; the record is upserted again at terminal state
	if err := s.history.Create(ctx, s.submissionRecord(entry)); err != nil {
		s.logger.Warnf("failed to record submission of %s: %v", name, err)
	}

	s.logger.DeploymentSubmitted(name, request.ResourceGroup, request.TemplateName)
	s.monitor.Watch(monitorCtx, name)

	return statusFromEntry(entry), nil
}

// DeployEnvironment provisions the environment's resource group and
// submits the complete-environment template into it
func (s *Service) DeployEnvironment(ctx context.Context, request *EnvironmentRequest) (*Status, error) {
	if request == nil {
		return nil, ErrInvalidRequest
	}
	if request.Project == "" || request.Environment == "" {
		return nil, &Error{
			Code:       "INVALID_REQUEST",
			Message:    "project and environment are required",
			HTTPStatus: 400,
		}
	}

	resourceGroup := environmentResourceGroup(request.Project, request.Environment)
	location := s.locationOrDefault(request.Location)
	tags := s.buildTags(templates.EnvironmentTemplateName, request.Project, request.Environment)
	if err := s.gateway.EnsureResourceGroup(ctx, resourceGroup, location, tags); err != nil {
		return nil, fmt.Errorf("failed to ensure resource group %s: %w", resourceGroup, err)
	}

	return s.Deploy(ctx, &DeployRequest{
		TemplateName:  templates.EnvironmentTemplateName,
		ResourceGroup: resourceGroup,
		Location:      location,
		Project:       request.Project,
		Environment:   request.Environment,
		Parameters:    request.Parameters,
	})
}

// DeleteEnvironment starts deleting the resource group an environment
// deployment provisioned, using the same naming convention
func (s *Service) DeleteEnvironment(ctx context.Context, project, environment string) (*DeleteStatus, error) {
	if project == "" || environment == "" {
		return nil, &Error{
			Code:       "INVALID_REQUEST",
			Message:    "project and environment are required",
			HTTPStatus: 400,
		}
	}
	return s.deletes.Start(ctx, environmentResourceGroup(project, environment))
}

// environmentResourceGroup derives the resource group name an environment
// deployment lives in
func environmentResourceGroup(project, environment string) string {
	return fmt.Sprintf("%s-%s-rg", project, environment)
}

// GetStatus returns the current status of a deployment, preferring the
// live registry over the history store
func (s *Service) GetStatus(ctx context.Context, deploymentName string) (*Status, error) {
	if deploymentName == "" {
		return nil, errors.New("deployment name is required")
	}

	if entry, err := s.registry.Get(deploymentName); err == nil {
		return statusFromEntry(entry), nil
	}

	record, err := s.history.Get(ctx, deploymentName)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			return nil, ErrDeploymentNotFound
		}
		return nil, fmt.Errorf("failed to get deployment status: %w", err)
	}
	return statusFromRecord(record), nil
}

// GetOutputs returns the outputs of a succeeded deployment
func (s *Service) GetOutputs(ctx context.Context, deploymentName string) (map[string]interface{}, error) {
	if deploymentName == "" {
		return nil, errors.New("deployment name is required")
	}

	record, err := s.history.Get(ctx, deploymentName)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			if _, regErr := s.registry.Get(deploymentName); regErr == nil {
				return nil, outputsPendingError(deploymentName)
			}
			return nil, ErrDeploymentNotFound
		}
		return nil, fmt.Errorf("failed to get deployment record: %w", err)
	}

	if record.Status != interfaces.StatusSucceeded {
		return nil, outputsPendingError(deploymentName)
	}
	return record.Outputs, nil
}

// WaitForDeployment blocks until the deployment reaches a terminal state,
// the timeout elapses, or the context is canceled
func (s *Service) WaitForDeployment(ctx context.Context, deploymentName string, timeout time.Duration) (*Status, error) {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		status, err := s.GetStatus(ctx, deploymentName)
		if err != nil {
			return nil, err
		}
		if !status.Active && isTerminalStatus(status.Status) {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, ErrWaitTimeout
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(DefaultWaitPollInterval):
		}
	}
}

// List returns every deployment currently tracked, reconciling against
// the provider first when a reconciler is configured
func (s *Service) List(ctx context.Context) ([]*Status, error) {
	var entries []*interfaces.RegistryEntry
	if s.reconciler != nil {
		merged, _, err := s.reconciler.Reconcile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile deployments: %w", err)
		}
		entries = merged
	} else {
		entries = s.registry.List()
	}

	statuses := make([]*Status, 0, len(entries))
	for _, entry := range entries {
		statuses = append(statuses, statusFromEntry(entry))
	}
	return statuses, nil
}

// ListHistory returns finished deployments matching the filter
func (s *Service) ListHistory(ctx context.Context, filter interfaces.RecordFilter) ([]*interfaces.DeploymentRecord, error) {
	records, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployment history: %w", err)
	}
	return records, nil
}

// Cancel stops monitoring an in-flight deployment. The provider-side
// deployment keeps running; only tracking stops.
func (s *Service) Cancel(deploymentName string) error {
	if deploymentName == "" {
		return errors.New("deployment name is required")
	}

	err := s.registry.Cancel(deploymentName)
	switch {
	case err == nil:
		s.logger.Infof("canceled monitoring of %s", deploymentName)
		return nil
	case errors.Is(err, interfaces.ErrEntryNotFound):
		return ErrDeploymentNotFound
	case errors.Is(err, interfaces.ErrNotMonitored):
		return ErrNotMonitored
	default:
		return fmt.Errorf("failed to cancel deployment %s: %w", deploymentName, err)
	}
}

// GetDeploymentErrors extracts the diagnostics report for a deployment
func (s *Service) GetDeploymentErrors(ctx context.Context, deploymentName string) (*interfaces.DiagnosticsReport, error) {
	resourceGroup := ""
	if entry, err := s.registry.Get(deploymentName); err == nil {
		resourceGroup = entry.ResourceGroup
	} else if record, err := s.history.Get(ctx, deploymentName); err == nil {
		resourceGroup = record.ResourceGroup
	} else {
		return nil, ErrDeploymentNotFound
	}

	return s.extractor.Extract(ctx, resourceGroup, deploymentName), nil
}

// Statistics returns aggregate counters over the deployment history
func (s *Service) Statistics(ctx context.Context) (*interfaces.DeploymentStatistics, error) {
	stats, err := s.history.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return stats, nil
}

// Trends returns per-day outcome counts over the given window
func (s *Service) Trends(ctx context.Context, days int) ([]interfaces.TrendPoint, error) {
	points, err := s.history.Trends(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trends: %w", err)
	}
	return points, nil
}

// CleanupHistory removes terminal records older than the given age
func (s *Service) CleanupHistory(ctx context.Context, olderThan time.Duration) (int, error) {
	removed, err := s.history.Cleanup(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up history: %w", err)
	}
	if removed > 0 {
		s.logger.Infof("cleaned up %d historical deployment records", removed)
	}
	return removed, nil
}

// DeleteResourceGroup starts tracked deletion of a resource group
func (s *Service) DeleteResourceGroup(ctx context.Context, resourceGroup string) (*DeleteStatus, error) {
	return s.deletes.Start(ctx, resourceGroup)
}

// CheckDeleteProgress polls the tracked delete operation for a group once
func (s *Service) CheckDeleteProgress(ctx context.Context, resourceGroup string) (*DeleteStatus, error) {
	return s.deletes.CheckProgress(ctx, resourceGroup)
}

// ListResources lists the provider resources in a resource group
func (s *Service) ListResources(ctx context.Context, resourceGroup string) ([]interfaces.Resource, error) {
	resources, err := s.gateway.ListResources(ctx, resourceGroup)
	if err != nil {
		if errors.Is(err, interfaces.ErrResourceGroupNotFound) {
			return nil, &Error{
				Code:       "RESOURCE_GROUP_NOT_FOUND",
				Message:    fmt.Sprintf("resource group %s does not exist", resourceGroup),
				HTTPStatus: 404,
			}
		}
		return nil, fmt.Errorf("failed to list resources in %s: %w", resourceGroup, err)
	}
	return resources, nil
}

// ListTemplates returns the names of the deployable templates
func (s *Service) ListTemplates() ([]string, error) {
	names, err := s.templates.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return names, nil
}

// buildTags stamps classification and ownership tags onto provider objects
func (s *Service) buildTags(templateName, project, environment string) map[string]string {
	tags := map[string]string{
		interfaces.TagCreatedBy:    interfaces.TagCreatedByValue,
		interfaces.TagTemplateName: templateName,
	}
	if project != "" {
		tags[interfaces.TagProject] = project
	}
	if environment != "" {
		tags[interfaces.TagEnvironment] = environment
	}
	return tags
}

func (s *Service) locationOrDefault(location string) string {
	if location == "" {
		return s.defaultLocation
	}
	return location
}

func (s *Service) submissionRecord(entry *interfaces.RegistryEntry) *interfaces.DeploymentRecord {
	return &interfaces.DeploymentRecord{
		DeploymentName: entry.DeploymentName,
		ResourceGroup:  entry.ResourceGroup,
		TemplateName:   entry.TemplateName,
		Location:       entry.Location,
		Project:        entry.Project,
		Environment:    entry.Environment,
		Status:         interfaces.StatusRunning,
		StartTime:      entry.StartTime,
		Parameters:     entry.Parameters,
	}
}

func validateDeployRequest(request *DeployRequest) error {
	if request == nil {
		return ErrInvalidRequest
	}
	if request.TemplateName == "" {
		return &Error{
			Code:       "INVALID_REQUEST",
			Message:    "template name is required",
			HTTPStatus: 400,
		}
	}
	if request.ResourceGroup == "" {
		return &Error{
			Code:       "INVALID_REQUEST",
			Message:    "resource group is required",
			HTTPStatus: 400,
		}
	}
	return nil
}

func generateDeploymentName(templateName string) string {
	return fmt.Sprintf("%s-%s", templateName, time.Now().UTC().Format(deploymentNameTimeLayout))
}

func statusFromEntry(entry *interfaces.RegistryEntry) *Status {
	return &Status{
		DeploymentName: entry.DeploymentName,
		ResourceGroup:  entry.ResourceGroup,
		TemplateName:   entry.TemplateName,
		Project:        entry.Project,
		Environment:    entry.Environment,
		Status:         string(entry.Status),
		StatusMessage:  entry.StatusMessage,
		Active:         !entry.Status.IsTerminal(),
		Discovered:     entry.Discovered,
		PollCount:      entry.PollCount,
		StartTime:      entry.StartTime,
	}
}

func statusFromRecord(record *interfaces.DeploymentRecord) *Status {
	return &Status{
		DeploymentName:  record.DeploymentName,
		ResourceGroup:   record.ResourceGroup,
		TemplateName:    record.TemplateName,
		Project:         record.Project,
		Environment:     record.Environment,
		Status:          string(record.Status),
		Active:          false,
		StartTime:       record.StartTime,
		EndTime:         record.EndTime,
		DurationSeconds: record.DurationSeconds,
		ErrorDetails:    record.ErrorDetails,
	}
}

func isTerminalStatus(status string) bool {
	switch interfaces.DeploymentStatus(status) {
	case interfaces.StatusSucceeded, interfaces.StatusFailed, interfaces.StatusCanceled:
		return true
	default:
		return false
	}
}

func outputsPendingError(deploymentName string) *Error {
	return &Error{
		Code:       "OUTPUTS_NOT_AVAILABLE",
		Message:    fmt.Sprintf("deployment %s has not succeeded; outputs are not available", deploymentName),
		HTTPStatus: 409,
	}
}
