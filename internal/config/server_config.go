// Package config holds server configuration loading and validation
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	historyStoreTypeMemory = "memory"
	historyStoreTypeAWS    = "aws"
)

// AppVersion is the application version, can be set at build time or runtime
var AppVersion = "dev"

// ServerConfig holds all configuration for the Armature server
type ServerConfig struct {
	// Server settings
	Port  int  `json:"port" env:"ARMATURE_PORT" flag:"port" default:"8080" desc:"Server port"`
	Debug bool `json:"debug" env:"ARMATURE_DEBUG" flag:"debug" default:"false" desc:"Enable debug mode"`

	// Template settings
	TemplateDir string `json:"template_dir" env:"ARMATURE_TEMPLATE_DIR" flag:"template-dir" default:"./templates" desc:"Template directory path"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway"`

	// History store configuration
	History HistoryConfig `json:"history"`

	// Polling configuration
	Poll PollConfig `json:"poll"`

	// Reconciliation configuration
	Reconcile ReconcileConfig `json:"reconcile"`

	// Notifier configuration
	Notifier NotifierConfig `json:"notifier"`
}

// GatewayConfig holds provider gateway configuration
type GatewayConfig struct {
	Region   string `json:"region" env:"ARMATURE_GATEWAY_REGION" default:"us-east-1" desc:"Provider region"`
	Endpoint string `json:"endpoint" env:"ARMATURE_GATEWAY_ENDPOINT" desc:"Custom provider endpoint (for LocalStack)"`
}

// HistoryConfig holds history store configuration
type HistoryConfig struct {
	Type string           `json:"type" env:"ARMATURE_HISTORY_STORE" flag:"history-store" default:"memory" desc:"History store type (memory, aws)"`
	AWS  AWSHistoryConfig `json:"aws"`
}

// AWSHistoryConfig holds AWS-based history store configuration (DynamoDB + S3)
type AWSHistoryConfig struct {
	DynamoDBTable  string `json:"dynamodb_table" env:"ARMATURE_AWS_DYNAMODB_TABLE" desc:"DynamoDB table name for deployment records"`
	DynamoDBRegion string `json:"dynamodb_region" env:"ARMATURE_AWS_DYNAMODB_REGION" desc:"AWS region for DynamoDB table"`
	S3Bucket       string `json:"s3_bucket" env:"ARMATURE_AWS_S3_BUCKET" desc:"S3 bucket name for record blobs"`
	S3Region       string `json:"s3_region" env:"ARMATURE_AWS_S3_REGION" desc:"AWS region for S3 bucket"`
	S3Prefix       string `json:"s3_prefix" env:"ARMATURE_AWS_S3_PREFIX" default:"records/" desc:"S3 key prefix for record blobs"`
	Endpoint       string `json:"endpoint" env:"ARMATURE_AWS_ENDPOINT" desc:"Custom AWS endpoint (for LocalStack)"`
}

// PollConfig holds deployment polling configuration
type PollConfig struct {
	IntervalSeconds int `json:"interval_seconds" env:"ARMATURE_POLL_INTERVAL_SECONDS" default:"5" desc:"Seconds between provider polls"`
	HeartbeatEvery  int `json:"heartbeat_every" env:"ARMATURE_POLL_HEARTBEAT_EVERY" default:"6" desc:"Emit a heartbeat event every N unchanged polls"`
	MaxConcurrent   int `json:"max_concurrent" env:"ARMATURE_POLL_MAX_CONCURRENT" default:"10" desc:"Maximum concurrently monitored deployments"`
}

// ReconcileConfig holds provider reconciliation configuration
type ReconcileConfig struct {
	Enabled           bool `json:"enabled" env:"ARMATURE_RECONCILE_ENABLED" default:"true" desc:"Enable periodic provider reconciliation"`
	IntervalSeconds   int  `json:"interval_seconds" env:"ARMATURE_RECONCILE_INTERVAL_SECONDS" default:"60" desc:"Seconds between reconciliation scans"`
	MaxBackoffSeconds int  `json:"max_backoff_seconds" env:"ARMATURE_RECONCILE_MAX_BACKOFF_SECONDS" default:"600" desc:"Maximum backed-off scan interval in seconds"`
}

// NotifierConfig holds push notifier configuration
type NotifierConfig struct {
	RedisURL string `json:"redis_url" env:"ARMATURE_REDIS_URL" flag:"redis-url" default:"" desc:"Redis URL for push notifications (empty disables)"`
	Channel  string `json:"channel" env:"ARMATURE_REDIS_CHANNEL" default:"armature:deployments" desc:"Redis pub/sub channel for deployment events"`
}

// NewServerConfig creates a new server configuration with defaults
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:        8080,
		Debug:       false,
		TemplateDir: "./templates",
		Gateway: GatewayConfig{
			Region: "us-east-1",
		},
		History: HistoryConfig{
			Type: historyStoreTypeMemory,
			AWS: AWSHistoryConfig{
				S3Prefix: "records/",
			},
		},
		Poll: PollConfig{
			IntervalSeconds: 5,
			HeartbeatEvery:  6,
			MaxConcurrent:   10,
		},
		Reconcile: ReconcileConfig{
			Enabled:           true,
			IntervalSeconds:   60,
			MaxBackoffSeconds: 600,
		},
		Notifier: NotifierConfig{
			Channel: "armature:deployments",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *ServerConfig) LoadFromEnv() error { //nolint:funlen,gocognit,gocyclo // Configuration loading function with many environment variables
	// Port
	if port := os.Getenv("ARMATURE_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
			return fmt.Errorf("invalid ARMATURE_PORT value: %s", port)
		}
		c.Port = p
	}

	// Debug
	if debug := os.Getenv("ARMATURE_DEBUG"); debug != "" {
		switch strings.ToLower(debug) {
		case "true", "1", "yes", "on":
			c.Debug = true
		case "false", "0", "no", "off":
			c.Debug = false
		default:
			return fmt.Errorf("invalid ARMATURE_DEBUG value: %s", debug)
		}
	}

	// Templates
	if templateDir := os.Getenv("ARMATURE_TEMPLATE_DIR"); templateDir != "" {
		c.TemplateDir = templateDir
	}

	// Gateway
	if region := os.Getenv("ARMATURE_GATEWAY_REGION"); region != "" {
		c.Gateway.Region = region
	}
	if endpoint := os.Getenv("ARMATURE_GATEWAY_ENDPOINT"); endpoint != "" {
		c.Gateway.Endpoint = endpoint
	}

	// History store
	if storeType := os.Getenv("ARMATURE_HISTORY_STORE"); storeType != "" {
		c.History.Type = storeType
	}
	if table := os.Getenv("ARMATURE_AWS_DYNAMODB_TABLE"); table != "" {
		c.History.AWS.DynamoDBTable = table
	}
	if region := os.Getenv("ARMATURE_AWS_DYNAMODB_REGION"); region != "" {
		c.History.AWS.DynamoDBRegion = region
	}
	if bucket := os.Getenv("ARMATURE_AWS_S3_BUCKET"); bucket != "" {
		c.History.AWS.S3Bucket = bucket
	}
	if region := os.Getenv("ARMATURE_AWS_S3_REGION"); region != "" {
		c.History.AWS.S3Region = region
	}
	if prefix := os.Getenv("ARMATURE_AWS_S3_PREFIX"); prefix != "" {
		c.History.AWS.S3Prefix = prefix
	}
	if endpoint := os.Getenv("ARMATURE_AWS_ENDPOINT"); endpoint != "" {
		c.History.AWS.Endpoint = endpoint
	}

	// Polling
	if interval := os.Getenv("ARMATURE_POLL_INTERVAL_SECONDS"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			c.Poll.IntervalSeconds = v
		}
	}
	if every := os.Getenv("ARMATURE_POLL_HEARTBEAT_EVERY"); every != "" {
		if v, err := strconv.Atoi(every); err == nil {
			c.Poll.HeartbeatEvery = v
		}
	}
	if maxConc := os.Getenv("ARMATURE_POLL_MAX_CONCURRENT"); maxConc != "" {
		if v, err := strconv.Atoi(maxConc); err == nil {
			c.Poll.MaxConcurrent = v
		}
	}

	// Reconciliation
	if enabled := os.Getenv("ARMATURE_RECONCILE_ENABLED"); enabled != "" {
		c.Reconcile.Enabled = parseBool(enabled)
	}
	if interval := os.Getenv("ARMATURE_RECONCILE_INTERVAL_SECONDS"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			c.Reconcile.IntervalSeconds = v
		}
	}
	if backoff := os.Getenv("ARMATURE_RECONCILE_MAX_BACKOFF_SECONDS"); backoff != "" {
		if v, err := strconv.Atoi(backoff); err == nil {
			c.Reconcile.MaxBackoffSeconds = v
		}
	}

	// Notifier
	if redisURL := os.Getenv("ARMATURE_REDIS_URL"); redisURL != "" {
		c.Notifier.RedisURL = redisURL
	}
	if channel := os.Getenv("ARMATURE_REDIS_CHANNEL"); channel != "" {
		c.Notifier.Channel = channel
	}

	return nil
}

// ExpandPaths resolves the template directory to an absolute path,
// expanding a leading tilde
func (c *ServerConfig) ExpandPaths() error {
	dir := c.TemplateDir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve template directory: %w", err)
	}
	c.TemplateDir = abs
	return nil
}

// Validate checks if the configuration is valid
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.TemplateDir == "" {
		return fmt.Errorf("template directory cannot be empty")
	}

	switch c.History.Type {
	case historyStoreTypeMemory, historyStoreTypeAWS:
		// Valid types
	default:
		return fmt.Errorf("invalid history store type: %s", c.History.Type)
	}

	if c.History.Type == historyStoreTypeAWS {
		if c.History.AWS.DynamoDBTable == "" {
			return fmt.Errorf("AWS DynamoDB table is required when using AWS history store")
		}
		if c.History.AWS.DynamoDBRegion == "" {
			return fmt.Errorf("AWS DynamoDB region is required when using AWS history store")
		}
		if c.History.AWS.S3Bucket == "" {
			return fmt.Errorf("AWS S3 bucket is required when using AWS history store")
		}
		if c.History.AWS.S3Region == "" {
			return fmt.Errorf("AWS S3 region is required when using AWS history store")
		}
		if c.History.AWS.S3Prefix == "" {
			c.History.AWS.S3Prefix = "records/" // Set default if empty
		}
	}

	if c.Poll.IntervalSeconds < 1 {
		return fmt.Errorf("poll interval must be at least 1 second")
	}
	if c.Poll.HeartbeatEvery < 1 {
		return fmt.Errorf("heartbeat interval must be at least 1 poll")
	}
	if c.Poll.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent monitors must be at least 1")
	}

	if c.Reconcile.Enabled {
		if c.Reconcile.IntervalSeconds < 1 {
			return fmt.Errorf("reconcile interval must be at least 1 second")
		}
		if c.Reconcile.MaxBackoffSeconds < c.Reconcile.IntervalSeconds {
			return fmt.Errorf("reconcile max backoff must be at least the scan interval")
		}
	}

	return nil
}

// PollInterval returns the poll interval as a duration
func (c *ServerConfig) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// ReconcileInterval returns the reconciliation scan interval as a duration
func (c *ServerConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalSeconds) * time.Second
}

// ReconcileMaxBackoff returns the maximum backed-off scan interval as a duration
func (c *ServerConfig) ReconcileMaxBackoff() time.Duration {
	return time.Duration(c.Reconcile.MaxBackoffSeconds) * time.Second
}

// ToJSON returns the configuration as a JSON string
func (c *ServerConfig) ToJSON() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// GetSanitized returns a sanitized version of the config safe for logging
func (c *ServerConfig) GetSanitized() map[string]interface{} {
	// Only return non-sensitive configuration
	sanitized := map[string]interface{}{
		"port":              c.Port,
		"debug":             c.Debug,
		"history_store":     c.History.Type,
		"reconcile_enabled": c.Reconcile.Enabled,
		"notifier_enabled":  c.Notifier.RedisURL != "",
	}

	// In debug mode, include configuration status without sensitive values
	if c.Debug {
		sanitized["template_dir_configured"] = c.TemplateDir != ""
		sanitized["gateway_region"] = c.Gateway.Region
		sanitized["gateway_endpoint_configured"] = c.Gateway.Endpoint != ""
		sanitized["poll_interval_seconds"] = c.Poll.IntervalSeconds
		sanitized["poll_heartbeat_every"] = c.Poll.HeartbeatEvery
		sanitized["poll_max_concurrent"] = c.Poll.MaxConcurrent

		if c.History.Type == historyStoreTypeAWS {
			sanitized["aws_config"] = map[string]interface{}{
				"dynamodb_table_configured":  c.History.AWS.DynamoDBTable != "",
				"dynamodb_region_configured": c.History.AWS.DynamoDBRegion != "",
				"s3_bucket_configured":       c.History.AWS.S3Bucket != "",
				"s3_region_configured":       c.History.AWS.S3Region != "",
				"s3_prefix":                  c.History.AWS.S3Prefix,
				"endpoint_configured":        c.History.AWS.Endpoint != "",
			}
		}
	}

	return sanitized
}

// GetPort returns just the port from environment
// This is a lightweight alternative to loading the full config
func GetPort() int {
	portStr := os.Getenv("ARMATURE_PORT")
	if portStr == "" {
		return 8080 // default
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 8080 // default on error
	}

	return port
}

// parseBool parses a string to bool with more lenient handling
func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}
