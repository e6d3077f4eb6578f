package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SlogLogger provides structured logging using slog
type SlogLogger struct {
	logger    *slog.Logger
	component string
}

// NewSlogLogger creates a new logger using slog backend
func NewSlogLogger(component string) *SlogLogger {
	handler := createHandler()
	logger := slog.New(handler)

	return &SlogLogger{
		logger:    logger,
		component: component,
	}
}

// createHandler creates an appropriate slog handler based on environment variables
func createHandler() slog.Handler {
	var output io.Writer = os.Stdout
	level := getLogLevelSlog()

	format := strings.ToUpper(os.Getenv("ARMATURE_LOG_FORMAT"))
	switch format {
	case "JSON":
		return slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level:       level,
			AddSource:   false,
			ReplaceAttr: replaceAttr,
		})
	default:
		return slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:       level,
			AddSource:   false,
			ReplaceAttr: replaceAttr,
		})
	}
}

// getLogLevelSlog determines the slog level from environment
func getLogLevelSlog() slog.Level {
	levelStr := strings.ToUpper(os.Getenv("ARMATURE_LOG_LEVEL"))
	switch levelStr {
	case "TRACE", "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// replaceAttr customizes attribute names and values
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	// Convert standard slog level names to match existing format
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		switch level {
		case slog.LevelDebug:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("DEBUG")}
		case slog.LevelInfo:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("INFO")}
		case slog.LevelWarn:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("WARN")}
		case slog.LevelError:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("ERROR")}
		}
	}
	return a
}

// Debug logs a debug-level message
func (l *SlogLogger) Debug(format string, args ...interface{}) {
	l.logger.Debug(format, "component", l.component, "args", args)
}

// Info logs an info-level message
func (l *SlogLogger) Info(format string, args ...interface{}) {
	l.logger.Info(format, "component", l.component, "args", args)
}

// Warn logs a warning-level message
func (l *SlogLogger) Warn(format string, args ...interface{}) {
	l.logger.Warn(format, "component", l.component, "args", args)
}

// Error logs an error-level message
func (l *SlogLogger) Error(format string, args ...interface{}) {
	l.logger.Error(format, "component", l.component, "args", args)
}

// Helper methods for common logging patterns

// InfoMsg logs a simple info message (compatibility with internal/logging)
func (l *SlogLogger) InfoMsg(msg string) {
	l.logger.Info(msg, "component", l.component)
}

// DebugMsg logs a simple debug message (compatibility with internal/logging)
func (l *SlogLogger) DebugMsg(msg string) {
	l.logger.Debug(msg, "component", l.component)
}

// WarnMsg logs a simple warning message (compatibility with internal/logging)
func (l *SlogLogger) WarnMsg(msg string) {
	l.logger.Warn(msg, "component", l.component)
}

// ErrorMsg logs a simple error message (compatibility with internal/logging)
func (l *SlogLogger) ErrorMsg(msg string) {
	l.logger.Error(msg, "component", l.component)
}

// Formatted logging methods for compatibility

// Infof logs a formatted info message
func (l *SlogLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(format, "component", l.component, "args", args)
}

// Debugf logs a formatted debug message
func (l *SlogLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(format, "component", l.component, "args", args)
}

// Warnf logs a formatted warning message
func (l *SlogLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(format, "component", l.component, "args", args)
}

// Errorf logs a formatted error message
func (l *SlogLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(format, "component", l.component, "args", args)
}

// Specialized logging methods for deployment lifecycle tracking

// DeploymentSubmitted logs acceptance of a new deployment
func (l *SlogLogger) DeploymentSubmitted(deploymentName, resourceGroup, templateName string) {
	l.logger.Info("Deployment submitted",
		"component", l.component,
		"deployment_name", deploymentName,
		"resource_group", resourceGroup,
		"template_name", templateName)
}

// DeploymentStateChange logs a provisioning state transition observed by a poll
func (l *SlogLogger) DeploymentStateChange(deploymentName, from, to string, pollCount int) {
	l.logger.Info("Deployment state changed",
		"component", l.component,
		"deployment_name", deploymentName,
		"from", from,
		"to", to,
		"poll_count", pollCount)
}

// DeploymentCompleted logs a deployment reaching a terminal state
func (l *SlogLogger) DeploymentCompleted(deploymentName, status string, elapsedSeconds int64) {
	if status == "Succeeded" {
		l.logger.Info("Deployment completed",
			"component", l.component,
			"deployment_name", deploymentName,
			"status", status,
			"elapsed_seconds", elapsedSeconds)
	} else {
		l.logger.Warn("Deployment completed",
			"component", l.component,
			"deployment_name", deploymentName,
			"status", status,
			"elapsed_seconds", elapsedSeconds)
	}
}

// ErrorWithAnalysis logs an error with detailed analysis
func (l *SlogLogger) ErrorWithAnalysis(err error) {
	l.logger.Error("Error analysis",
		"component", l.component,
		"error", err,
		"type", "analysis")
}
