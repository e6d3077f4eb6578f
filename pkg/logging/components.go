package logging

// Component-specific loggers for easy incremental adoption

// Gateway logger for provider gateway operations
var Gateway = NewLogger("gateway")

// Monitor logger for deployment monitoring operations
var Monitor = NewLogger("monitor")

// Registry logger for active-deployment registry operations
var Registry = NewLogger("registry")

// History logger for deployment history store operations
var History = NewLogger("history")

// Events logger for event bus and notifier operations
var Events = NewLogger("events")

// Reconcile logger for reconciliation passes
var Reconcile = NewLogger("reconcile")

// Config logger for configuration operations
var Config = NewLogger("config")

// GatewayOperation logs a provider gateway call
func GatewayOperation(operation, resourceGroup string, details ...interface{}) {
	if len(details) > 0 {
		Gateway.Debug("operation=%s resource_group=%s %v", operation, resourceGroup, details[0])
	} else {
		Gateway.Debug("operation=%s resource_group=%s", operation, resourceGroup)
	}
}

// GatewayError logs a provider gateway failure
func GatewayError(operation, resourceGroup string, err interface{}) {
	Gateway.Error("operation=%s resource_group=%s error=%v", operation, resourceGroup, err)
}

// MonitorPoll logs a single poll observation
func MonitorPoll(deploymentName, state string, pollCount int) {
	Monitor.Debug("poll deployment=%s state=%s count=%d", deploymentName, state, pollCount)
}

// ReconcileDiscovery logs an untracked deployment discovered during a scan
func ReconcileDiscovery(deploymentName, resourceGroup string) {
	Reconcile.Info("discovered deployment=%s resource_group=%s", deploymentName, resourceGroup)
}
