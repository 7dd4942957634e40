// Package config provides configuration management for wtask applications
package config

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete wtask configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Defaults for actors created by services
	Actor ActorConfig `yaml:"actor" json:"actor"`

	// Shared work queue
	WorkQueue WorkQueueConfig `yaml:"work_queue" json:"work_queue"`

	// Monitoring configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Custom configurations (for user-defined services)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version, a semantic version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable colored output
	Color bool `yaml:"color" json:"color"`

	// Fields to include in log output
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// ActorConfig contains the defaults applied to new actors
type ActorConfig struct {
	// Notifications a mailbox holds
	MailboxSize int `yaml:"mailbox_size" json:"mailbox_size"`

	// Largest payload a data actor's ring buffer accepts, in bytes
	RingBufferSize int `yaml:"ring_buffer_size" json:"ring_buffer_size"`

	// Stack budget in bytes
	StackSize int `yaml:"stack_size" json:"stack_size"`

	// Task priority
	Priority int `yaml:"priority" json:"priority"`

	// Core affinity, -1 lets tasks float
	Core int `yaml:"core" json:"core"`

	// Time allowed for every task to stop on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// WorkQueueConfig contains the shared work queue configuration
type WorkQueueConfig struct {
	// Start the shared work queue
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Jobs that can be queued at once
	Length int `yaml:"length" json:"length"`

	// Stack budget in bytes
	StackSize int `yaml:"stack_size" json:"stack_size"`

	// Task priority
	Priority int `yaml:"priority" json:"priority"`

	// Core affinity, -1 lets the queue float
	Core int `yaml:"core" json:"core"`
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	// Enable monitoring
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Interval of the directory dump at debug level, 0 disables it
	DumpInterval time.Duration `yaml:"dump_interval" json:"dump_interval"`

	// HTTP server for metrics
	HTTP HTTPMonitorConfig `yaml:"http" json:"http"`
}

// HTTPMonitorConfig contains HTTP monitoring server settings
type HTTPMonitorConfig struct {
	// Enable HTTP monitoring server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// HTTP server address
	Address string `yaml:"address" json:"address"`

	// HTTP server port, 0 picks a free one
	Port int `yaml:"port" json:"port"`

	// Metrics endpoint path
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`

	// Directory endpoint path
	ActorsPath string `yaml:"actors_path" json:"actors_path"`

	// Health endpoint path
	HealthPath string `yaml:"health_path" json:"health_path"`
}

// Addr returns the listen address of the monitoring server
func (h HTTPMonitorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "wtask-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
			Description: "wtask application",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
			Color:  true,
		},
		Actor: ActorConfig{
			MailboxSize:     8,
			RingBufferSize:  128,
			StackSize:       10000,
			Priority:        2,
			Core:            0,
			ShutdownTimeout: 5 * time.Second,
		},
		WorkQueue: WorkQueueConfig{
			Enabled:   true,
			Length:    3,
			StackSize: 5000,
			Priority:  3,
			Core:      0,
		},
		Monitor: MonitorConfig{
			Enabled:      true,
			DumpInterval: 0,
			HTTP: HTTPMonitorConfig{
				Enabled:     true,
				Address:     "0.0.0.0",
				Port:        9090,
				MetricsPath: "/metrics",
				ActorsPath:  "/actors",
				HealthPath:  "/health",
			},
		},
		Custom: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}
	if _, err := semver.NewVersion(c.App.Version); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidVersion, c.App.Version, err)
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	// Validate actor config
	if c.Actor.MailboxSize <= 0 || c.Actor.MailboxSize > 255 {
		return ErrInvalidMailboxSize
	}
	if c.Actor.RingBufferSize <= 0 {
		return ErrInvalidRingBufferSize
	}
	if c.Actor.Core < -1 || c.WorkQueue.Core < -1 {
		return ErrInvalidCore
	}

	// Validate work queue config
	if c.WorkQueue.Enabled && c.WorkQueue.Length <= 0 {
		return ErrInvalidQueueLength
	}

	// Validate monitor config
	if c.Monitor.Enabled && c.Monitor.HTTP.Enabled {
		if c.Monitor.HTTP.Port < 0 || c.Monitor.HTTP.Port > 65535 {
			return ErrInvalidPort
		}
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
