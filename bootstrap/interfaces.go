// Package bootstrap assembles a wtask application: the shared work queue,
// the monitoring endpoint and user services, started in dependency order.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/najoast/wtask/config"
	"github.com/najoast/wtask/core"
)

// Service represents a service that can be managed by the lifecycle manager.
// Services usually construct their actors in Start, which runs during the
// serialized startup phase.
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	// State indicates whether the service is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	// Data contains additional health information
	Data map[string]interface{} `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthCritical  HealthState = "critical"
	HealthStopping  HealthState = "stopping"
	HealthStopped   HealthState = "stopped"
)

// Well-known container entries
const (
	InstanceConfig    = "config"
	InstanceLogger    = "logger"
	InstanceDirectory = "directory"
	InstanceWorkQueue = "workqueue"
	InstanceMetrics   = "metrics"
)

// Container holds the shared instances of an application
type Container interface {
	// Register registers a lazily built instance
	Register(name string, factory ServiceFactory) error

	// RegisterInstance registers a built instance
	RegisterInstance(name string, instance interface{}) error

	// Resolve resolves an instance by name
	Resolve(name string) (interface{}, error)

	// ResolveAs resolves an instance and assigns it to target, a pointer
	ResolveAs(name string, target interface{}) error

	// Has checks if a name is registered
	Has(name string) bool

	// Names returns all registered names in sorted order
	Names() []string
}

// ServiceFactory is a function that creates an instance
type ServiceFactory func(container Container) (interface{}, error)

// LifecycleManager manages the lifecycle of services
type LifecycleManager interface {
	// Register registers a service with optional dependencies
	Register(name string, service Service, deps ...string) error

	// Start starts all services in dependency order
	Start(ctx context.Context) error

	// Stop stops all services in reverse start order
	Stop(ctx context.Context) error

	// Health returns the health status of all services
	Health(ctx context.Context) (map[string]HealthStatus, error)

	// Services returns all registered service names
	Services() []string

	// Events returns a channel for lifecycle events
	Events() <-chan LifecycleEvent

	// AddListener adds a lifecycle event listener
	AddListener(listener func(LifecycleEvent))
}

// Application represents a wtask application
type Application interface {
	// Configure replaces the configuration before Run
	Configure(cfg *config.Config) error

	// Register adds a user service started after the built-in ones
	Register(name string, service Service, deps ...string) error

	// Run starts every service and blocks until ctx is done or a
	// termination signal arrives, then shuts down
	Run(ctx context.Context) error

	// Shutdown stops every service and destroys the remaining actors
	Shutdown(ctx context.Context) error

	// Config returns the application configuration
	Config() *config.Config

	// Directory returns the directory the application's actors live in
	Directory() *core.Directory

	// WorkQueue returns the shared work queue, nil before Run or when disabled
	WorkQueue() *core.WorkQueue

	// Container returns the instance container
	Container() Container

	// LifecycleManager returns the lifecycle manager
	LifecycleManager() LifecycleManager
}

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      string                 `json:"type"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     error                  `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
