// Package diagnostics extracts structured failure details for deployments
// from the provider gateway.
package diagnostics

import (
	"context"
	"fmt"

	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
)

// Extractor builds diagnostics reports for failed deployments. Extraction
// is best-effort: gateway failures degrade the report instead of
// propagating, so finalization can always proceed.
type Extractor struct {
	gateway interfaces.ProviderGateway
	logger  *logging.Logger
}

// NewExtractor creates an extractor backed by the given gateway
func NewExtractor(gateway interfaces.ProviderGateway) *Extractor {
	return &Extractor{
		gateway: gateway,
		logger:  logging.NewLogger("diagnostics"),
	}
}

// Extract collects the provider's error tree and failed resource
// operations for a deployment into a flat report. The report lists the
// top-level error first, then its nested details, then a single aggregate
// entry bundling all failed resource operations.
func (e *Extractor) Extract(ctx context.Context, resourceGroup, deploymentName string) *interfaces.DiagnosticsReport {
	report := &interfaces.DiagnosticsReport{
		Success:        true,
		DeploymentName: deploymentName,
		ResourceGroup:  resourceGroup,
	}

	provErr, err := e.gateway.GetDeploymentError(ctx, resourceGroup, deploymentName)
	if err != nil {
		e.logger.Warnf("failed to fetch deployment error for %s: %v", deploymentName, err)
		report.Success = false
		report.Message = fmt.Sprintf("could not retrieve deployment error: %v", err)
	} else if provErr != nil {
		report.Errors = append(report.Errors, interfaces.DiagnosticEntry{
			Code:    provErr.Code,
			Message: provErr.Message,
			Target:  provErr.Target,
		})
		for _, detail := range provErr.Details {
			report.Errors = append(report.Errors, interfaces.DiagnosticEntry{
				Code:    detail.Code,
				Message: detail.Message,
				Target:  detail.Target,
			})
		}
	}

	ops, err := e.gateway.ListDeploymentOperations(ctx, resourceGroup, deploymentName)
	if err != nil {
		e.logger.Warnf("failed to list operations for %s: %v", deploymentName, err)
		report.Success = false
		if report.Message != "" {
			report.Message += "; "
		}
		report.Message += fmt.Sprintf("could not list deployment operations: %v", err)
	} else {
		var failed []interfaces.FailedOperation
		for _, op := range ops {
			if op.ProvisioningState != interfaces.StateFailed {
				continue
			}
			failed = append(failed, interfaces.FailedOperation{
				ResourceName:      op.ResourceName,
				ResourceType:      op.ResourceType,
				ProvisioningState: op.ProvisioningState,
				StatusMessage:     op.StatusMessage,
			})
		}
		if len(failed) > 0 {
			report.Errors = append(report.Errors, interfaces.DiagnosticEntry{
				Type:       interfaces.DiagnosticTypeFailedOperations,
				Operations: failed,
			})
		}
	}

	report.TotalErrors = len(report.Errors)
	return report
}
