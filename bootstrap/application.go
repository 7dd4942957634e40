package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/najoast/wtask/config"
	"github.com/najoast/wtask/core"
	"github.com/najoast/wtask/logger"
)

// Built-in service names
const (
	ServiceWorkQueue = "workqueue"
	ServiceMonitor   = "monitor"
)

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	cfg *config.Config

	// file the configuration came from, watched while running
	configFile string
	provider   *config.FileProvider

	container *DefaultContainer
	lifecycle *DefaultLifecycleManager

	// every actor built through the option helpers registers here
	dir   *core.Directory
	queue *core.WorkQueue

	registry *prometheus.Registry

	log *zap.Logger

	mutex   sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

// New creates an application from cfg, nil meaning config.DefaultConfig().
// The global logger is initialized from cfg.Log.
func New(cfg *config.Config) (*DefaultApplication, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	if err := initLogger(cfg); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	registry := prometheus.NewRegistry()
	if err := core.RegisterMetrics(registry); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	container := newContainer()
	app := &DefaultApplication{
		cfg:       cfg,
		container: container,
		lifecycle: NewLifecycleManager(container).(*DefaultLifecycleManager),
		dir:       core.NewDirectory(),
		registry:  registry,
		log:       logger.Named("app"),
	}

	container.RegisterInstance(InstanceConfig, cfg)
	container.RegisterInstance(InstanceLogger, logger.L())
	container.RegisterInstance(InstanceDirectory, app.dir)
	container.RegisterInstance(InstanceMetrics, registry)

	if cfg.WorkQueue.Enabled {
		if err := app.lifecycle.Register(ServiceWorkQueue, &WorkQueueService{app: app}); err != nil {
			return nil, err
		}
	}
	if cfg.Monitor.Enabled {
		if err := app.lifecycle.Register(ServiceMonitor, NewMonitorService(app)); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// NewFromFile loads the configuration file and creates an application that
// reloads it while running.
func NewFromFile(filename string) (*DefaultApplication, error) {
	cfg, err := config.NewLoader().LoadFromFile(filename)
	if err != nil {
		return nil, err
	}
	app, err := New(cfg)
	if err != nil {
		return nil, err
	}
	app.configFile = filename
	return app, nil
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Options{
		Level:       string(cfg.Log.Level),
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		Color:       cfg.Log.Color,
		Development: cfg.IsDebugEnabled(),
		Fields:      cfg.Log.Fields,
	})
}

// Configure replaces the configuration before Run. Built-in services are
// chosen in New and stay as they are.
func (app *DefaultApplication) Configure(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return fmt.Errorf("cannot configure application while running")
	}
	app.cfg = cfg
	app.container.Replace(InstanceConfig, cfg)
	logger.SetLevel(string(cfg.Log.Level))
	return nil
}

// Register adds a user service
func (app *DefaultApplication) Register(name string, service Service, deps ...string) error {
	return app.lifecycle.Register(name, service, deps...)
}

// Run starts every service and blocks until ctx is done or SIGINT or
// SIGTERM arrives, then shuts down.
func (app *DefaultApplication) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	app.cancel = cancel
	app.mutex.Unlock()
	defer cancel()

	cfg := app.Config()
	app.log.Info("starting application",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", string(cfg.App.Environment)))

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		core.StopAll(context.Background(), app.dir)
		return fmt.Errorf("failed to start services: %w", err)
	}

	if app.configFile != "" {
		if err := app.watchConfig(ctx); err != nil {
			app.log.Warn("configuration reload disabled", zap.String("file", app.configFile), zap.Error(err))
		}
	}

	<-ctx.Done()
	app.log.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))
	return app.Shutdown(context.Background())
}

// Stop makes a running Run return
func (app *DefaultApplication) Stop() {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	if app.cancel != nil {
		app.cancel()
	}
}

// Shutdown stops every service in reverse start order, then stops and
// destroys the actors left in the application's directory.
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	provider := app.provider
	app.provider = nil
	timeout := app.cfg.Actor.ShutdownTimeout
	app.mutex.Unlock()

	if provider != nil {
		provider.Close()
	}

	stopErr := app.lifecycle.Stop(ctx)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := core.StopAll(ctx, app.dir); err != nil {
		app.log.Error("actors did not stop in time", zap.Duration("timeout", timeout), zap.Error(err))
		if stopErr == nil {
			stopErr = err
		}
	}

	logger.Sync()
	if stopErr != nil {
		return fmt.Errorf("failed to stop services: %w", stopErr)
	}
	return nil
}

func (app *DefaultApplication) watchConfig(ctx context.Context) error {
	provider, err := config.NewFileProvider(app.configFile)
	if err != nil {
		return err
	}
	err = provider.Watch(ctx, func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			app.log.Info("log level changed",
				zap.String("from", string(oldConfig.Log.Level)),
				zap.String("to", string(newConfig.Log.Level)))
			logger.SetLevel(string(newConfig.Log.Level))
		}
		app.mutex.Lock()
		app.cfg = newConfig
		app.mutex.Unlock()
		app.container.Replace(InstanceConfig, newConfig)
	})
	if err != nil {
		provider.Close()
		return err
	}

	app.mutex.Lock()
	app.provider = provider
	app.mutex.Unlock()
	return nil
}

// ActorOptions returns options for an actor named name built from the
// configured actor defaults
func (app *DefaultApplication) ActorOptions(name string) core.ActorOptions {
	cfg := app.Config().Actor
	return core.ActorOptions{
		TaskOptions: core.TaskOptions{
			Name:      name,
			StackSize: cfg.StackSize,
			Priority:  cfg.Priority,
			Core:      cfg.Core,
		},
		MailboxSize: cfg.MailboxSize,
		Directory:   app.dir,
	}
}

// DataActorOptions is ActorOptions plus the configured ring buffer size
func (app *DefaultApplication) DataActorOptions(name string) core.DataActorOptions {
	return core.DataActorOptions{
		ActorOptions:   app.ActorOptions(name),
		RingBufferSize: app.Config().Actor.RingBufferSize,
	}
}

// WorkQueueOptions returns the options the shared work queue is built with
func (app *DefaultApplication) WorkQueueOptions() core.WorkQueueOptions {
	cfg := app.Config().WorkQueue
	opts := core.DefaultWorkQueueOptions()
	opts.StackSize = cfg.StackSize
	opts.Priority = cfg.Priority
	opts.Core = cfg.Core
	opts.Length = cfg.Length
	opts.Directory = app.dir
	return opts
}

// Config returns the current configuration
func (app *DefaultApplication) Config() *config.Config {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.cfg
}

// Directory returns the directory the application's actors live in
func (app *DefaultApplication) Directory() *core.Directory {
	return app.dir
}

// WorkQueue returns the shared work queue, nil before Run or when disabled
func (app *DefaultApplication) WorkQueue() *core.WorkQueue {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.queue
}

// Registry returns the metrics registry served by the monitor
func (app *DefaultApplication) Registry() *prometheus.Registry {
	return app.registry
}

// Container returns the instance container
func (app *DefaultApplication) Container() Container {
	return app.container
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycle
}

// WorkQueueService owns the shared work queue
type WorkQueueService struct {
	app *DefaultApplication
}

func (s *WorkQueueService) Name() string {
	return ServiceWorkQueue
}

func (s *WorkQueueService) Start(ctx context.Context) error {
	queue, err := core.NewWorkQueue(s.app.WorkQueueOptions())
	if err != nil {
		return err
	}
	if err := queue.Start(); err != nil {
		queue.Destroy()
		return err
	}

	s.app.mutex.Lock()
	s.app.queue = queue
	s.app.mutex.Unlock()
	s.app.container.Replace(InstanceWorkQueue, queue)
	return nil
}

func (s *WorkQueueService) Stop(ctx context.Context) error {
	s.app.mutex.Lock()
	queue := s.app.queue
	s.app.queue = nil
	s.app.mutex.Unlock()

	if queue != nil {
		queue.Destroy()
	}
	return nil
}

func (s *WorkQueueService) Health(ctx context.Context) (HealthStatus, error) {
	queue := s.app.WorkQueue()
	if queue == nil {
		return HealthStatus{State: HealthStopped, Message: "work queue not started"}, nil
	}
	if !queue.Running() {
		return HealthStatus{State: HealthUnhealthy, Message: "work queue task not running"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "work queue running",
		Data: map[string]interface{}{
			"id":       queue.Identifier().String(),
			"pending":  queue.Pending(),
			"buffered": queue.RingBuffer().Len(),
		},
	}, nil
}
