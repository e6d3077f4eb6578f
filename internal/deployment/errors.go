// Package deployment provides the deployment service and error handling
package deployment

import (
	"errors"
	"fmt"

	"github.com/armature/armature/internal/interfaces"
)

// Error represents a structured deployment error with context
type Error struct {
	Code       string                      // Machine-readable error code
	Message    string                      // Human-readable message
	Status     interfaces.DeploymentStatus // Related deployment status
	HTTPStatus int                         // Suggested HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common deployment errors
var (
	ErrDeploymentNotFound = &Error{
		Code:       "DEPLOYMENT_NOT_FOUND",
		Message:    "Deployment not found",
		HTTPStatus: 404, // Not Found
	}

	ErrInvalidRequest = &Error{
		Code:       "INVALID_REQUEST",
		Message:    "Invalid deployment request",
		HTTPStatus: 400, // Bad Request
	}

	ErrTemplateNotFound = &Error{
		Code:       "TEMPLATE_NOT_FOUND",
		Message:    "Template not found",
		HTTPStatus: 404, // Not Found
	}

	ErrNotMonitored = &Error{
		Code:       "NOT_MONITORED",
		Message:    "Deployment is not actively monitored and cannot be canceled",
		HTTPStatus: 409, // Conflict
	}

	ErrDeleteInProgress = &Error{
		Code:       "DELETE_IN_PROGRESS",
		Message:    "A delete operation is already running for this resource group",
		HTTPStatus: 409, // Conflict
	}

	ErrDeleteNotFound = &Error{
		Code:       "DELETE_NOT_FOUND",
		Message:    "No delete operation is tracked for this resource group",
		HTTPStatus: 404, // Not Found
	}

	ErrWaitTimeout = &Error{
		Code:       "WAIT_TIMEOUT",
		Message:    "Timed out waiting for the deployment to reach a terminal state",
		Status:     interfaces.StatusRunning,
		HTTPStatus: 408, // Request Timeout
	}
)

// IsDeploymentError checks if an error is a deployment.Error
func IsDeploymentError(err error) (*Error, bool) {
	var depErr *Error
	if errors.As(err, &depErr) {
		return depErr, true
	}
	return nil, false
}
