package bootstrap

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/najoast/wtask/config"
	"github.com/najoast/wtask/core"
	"github.com/najoast/wtask/logger"
)

func TestContainer(t *testing.T) {
	container := NewContainer()

	err := container.Register("test-service", func(c Container) (interface{}, error) {
		return "test-instance", nil
	})
	if err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}

	instance, err := container.Resolve("test-service")
	if err != nil {
		t.Fatalf("Failed to resolve service: %v", err)
	}
	if instance != "test-instance" {
		t.Errorf("Expected 'test-instance', got %v", instance)
	}

	if !container.Has("test-service") {
		t.Error("Container should have test-service")
	}
	if err := container.RegisterInstance("test-service", "again"); err == nil {
		t.Error("Expected duplicate registration to fail")
	}

	container.RegisterInstance("a-instance", 42)
	names := container.Names()
	if len(names) != 2 || names[0] != "a-instance" || names[1] != "test-service" {
		t.Errorf("Expected [a-instance test-service], got %v", names)
	}

	if _, err := container.Resolve("missing"); err == nil {
		t.Error("Expected resolving an unknown name to fail")
	}
}

func TestContainerResolveAs(t *testing.T) {
	container := NewContainer()
	dir := core.NewDirectory()
	container.RegisterInstance(InstanceDirectory, dir)

	var got *core.Directory
	if err := container.ResolveAs(InstanceDirectory, &got); err != nil {
		t.Fatalf("ResolveAs failed: %v", err)
	}
	if got != dir {
		t.Error("ResolveAs returned a different directory")
	}

	var wrong string
	if err := container.ResolveAs(InstanceDirectory, &wrong); err == nil {
		t.Error("Expected ResolveAs into the wrong type to fail")
	}
	if err := container.ResolveAs(InstanceDirectory, got); err == nil {
		t.Error("Expected ResolveAs into a non-pointer to fail")
	}
}

func TestContainerFactoryCycle(t *testing.T) {
	container := NewContainer()
	container.Register("a", func(c Container) (interface{}, error) {
		return c.Resolve("b")
	})
	container.Register("b", func(c Container) (interface{}, error) {
		return c.Resolve("a")
	})

	if _, err := container.Resolve("a"); err == nil {
		t.Fatal("Expected a factory cycle to fail")
	}
}

func TestLifecycleManager(t *testing.T) {
	container := NewContainer()
	lm := NewLifecycleManager(container)

	testService := &TestService{name: "test"}
	if err := lm.Register("test", testService); err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := lm.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	if !testService.started {
		t.Error("Test service should be started")
	}
	if err := lm.Register("late", &TestService{name: "late"}); err == nil {
		t.Error("Expected registration after start to fail")
	}

	health, err := lm.Health(ctx)
	if err != nil {
		t.Fatalf("Failed to get health status: %v", err)
	}
	if health["test"].State != HealthHealthy {
		t.Errorf("Expected healthy state, got %v", health["test"].State)
	}

	if err := lm.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop services: %v", err)
	}
	if !testService.stopped {
		t.Error("Test service should be stopped")
	}
}

func TestLifecycleStartOrder(t *testing.T) {
	lm := NewLifecycleManager(NewContainer())
	var trace recorder

	// c depends on a; b and d are free, so registration order decides
	lm.Register("c", &TestService{name: "c", trace: &trace}, "a")
	lm.Register("b", &TestService{name: "b", trace: &trace})
	lm.Register("a", &TestService{name: "a", trace: &trace})
	lm.Register("d", &TestService{name: "d", trace: &trace})

	ctx := context.Background()
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	if err := lm.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop services: %v", err)
	}

	want := "start:b start:a start:c start:d stop:d stop:c stop:a stop:b"
	if got := trace.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestLifecycleStartFailure(t *testing.T) {
	lm := NewLifecycleManager(NewContainer())
	var trace recorder
	boom := errors.New("boom")

	lm.Register("first", &TestService{name: "first", trace: &trace})
	lm.Register("second", &TestService{name: "second", trace: &trace, startErr: boom}, "first")

	err := lm.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	var appErr *ApplicationError
	if !errors.As(err, &appErr) || appErr.Service != "second" {
		t.Errorf("Expected an ApplicationError for second, got %v", err)
	}

	if got := trace.String(); got != "start:first stop:first" {
		t.Errorf("Expected first to be stopped again, got %q", got)
	}
}

func TestLifecycleDependencyErrors(t *testing.T) {
	lm := NewLifecycleManager(NewContainer())
	lm.Register("a", &TestService{name: "a"}, "b")
	lm.Register("b", &TestService{name: "b"}, "a")
	if err := lm.Start(context.Background()); err == nil {
		t.Error("Expected a circular dependency to fail")
	}

	lm = NewLifecycleManager(NewContainer())
	lm.Register("a", &TestService{name: "a"}, "missing")
	if err := lm.Start(context.Background()); err == nil {
		t.Error("Expected a missing dependency to fail")
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Log.Level = config.LogLevelError
	cfg.Log.Output = "stderr"
	cfg.Actor.Core = core.NoAffinity
	cfg.WorkQueue.Core = core.NoAffinity
	cfg.Monitor.HTTP.Address = "127.0.0.1"
	cfg.Monitor.HTTP.Port = 0
	return cfg
}

func TestApplicationNew(t *testing.T) {
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	services := app.LifecycleManager().Services()
	if len(services) != 2 || services[0] != ServiceMonitor || services[1] != ServiceWorkQueue {
		t.Errorf("Expected built-in services, got %v", services)
	}
	for _, name := range []string{InstanceConfig, InstanceLogger, InstanceDirectory, InstanceMetrics} {
		if !app.Container().Has(name) {
			t.Errorf("Container should have %s", name)
		}
	}
	if app.WorkQueue() != nil {
		t.Error("Work queue should not exist before Run")
	}

	opts := app.DataActorOptions("sensor")
	if opts.Name != "sensor" || opts.MailboxSize != 8 || opts.RingBufferSize != 128 || opts.Directory != app.Directory() {
		t.Errorf("Unexpected data actor options: %+v", opts)
	}
	if q := app.WorkQueueOptions(); q.Length != 3 || q.Priority != 3 || q.Directory != app.Directory() {
		t.Errorf("Unexpected work queue options: %+v", q)
	}

	cfg := testConfig()
	cfg.WorkQueue.Enabled = false
	cfg.Monitor.Enabled = false
	app, err = New(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if n := len(app.LifecycleManager().Services()); n != 0 {
		t.Errorf("Expected no built-in services, got %d", n)
	}

	bad := testConfig()
	bad.App.Version = "not-a-version"
	if _, err := New(bad); !errors.Is(err, config.ErrInvalidVersion) {
		t.Errorf("Expected ErrInvalidVersion, got %v", err)
	}
}

func TestApplicationConfigure(t *testing.T) {
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	cfg := testConfig()
	cfg.Actor.MailboxSize = 16
	if err := app.Configure(cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if app.ActorOptions("x").MailboxSize != 16 {
		t.Error("Configure should change the actor defaults")
	}

	cfg = testConfig()
	cfg.Actor.MailboxSize = 0
	if err := app.Configure(cfg); !errors.Is(err, config.ErrInvalidMailboxSize) {
		t.Errorf("Expected ErrInvalidMailboxSize, got %v", err)
	}
}

func TestApplicationRun(t *testing.T) {
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	requester := &requesterService{app: app, ready: make(chan struct{})}
	if err := app.Register("requester", requester, ServiceWorkQueue); err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case <-requester.ready:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Services did not start")
	}

	queue := app.WorkQueue()
	if queue == nil {
		t.Fatal("Work queue should be running")
	}
	if queue.Identifier().Type != core.TypeWorkQueue {
		t.Errorf("Unexpected work queue identifier %s", queue.Identifier())
	}

	// round trip through the shared queue
	err = queue.SendWork(core.Job{
		Args:       "ping",
		Fn:         func(args any) []byte { return []byte(strings.ToUpper(args.(string))) },
		Reply:      requester.actor,
		ReplyValue: 0x21,
	})
	if err != nil {
		t.Fatalf("SendWork failed: %v", err)
	}
	n, err := requester.actor.ReceiveNotification(2 * time.Second)
	if err != nil {
		t.Fatalf("No reply: %v", err)
	}
	if n.Value != 0x21 || n.Sender != queue.Identifier() {
		t.Errorf("Unexpected reply %v", n)
	}
	b, err := requester.actor.ReceiveData(time.Second)
	if err != nil {
		t.Fatalf("No reply data: %v", err)
	}
	if string(b.Data) != "PING" {
		t.Errorf("Expected PING, got %q", b.Data)
	}
	b.Release()

	monitor := app.lifecycle.services[ServiceMonitor].(*MonitorService)
	if monitor.Addr() == "" {
		t.Error("Monitor should be listening")
	}
	resp, err := http.Get("http://" + monitor.Addr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	if n := app.Directory().Len(); n != 0 {
		t.Errorf("Expected an empty directory after shutdown, got %d actors", n)
	}
	if !requester.actor.Destroyed() || !queue.Destroyed() {
		t.Error("Actors should be destroyed after shutdown")
	}
}

func TestApplicationReload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wtask.yaml")
	write := func(level string) {
		body := "app:\n  name: reload\n  version: 1.2.3\n" +
			"log:\n  level: " + level + "\n  output: stderr\n" +
			"work_queue:\n  enabled: false\n" +
			"monitor:\n  enabled: false\n"
		if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
	}
	write("error")

	app, err := NewFromFile(file)
	if err != nil {
		t.Fatalf("NewFromFile failed: %v", err)
	}
	if app.Config().App.Name != "reload" {
		t.Fatalf("Expected app name reload, got %s", app.Config().App.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// wait for the watcher to be installed
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		app.mutex.RLock()
		watching := app.provider != nil
		app.mutex.RUnlock()
		if watching {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	write("debug")
	deadline = time.Now().Add(3 * time.Second)
	for app.Config().Log.Level != config.LogLevelDebug && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if app.Config().Log.Level != config.LogLevelDebug {
		t.Errorf("Expected the reloaded level, got %s", app.Config().Log.Level)
	}
	if logger.Level().String() != "debug" {
		t.Errorf("Expected the global logger at debug, got %s", logger.Level())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestMonitorHandler(t *testing.T) {
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	sensor, err := core.NewDataActor(0x10, app.DataActorOptions("sensor"))
	if err != nil {
		t.Fatalf("Failed to create data actor: %v", err)
	}
	defer sensor.Destroy()
	sensor.SendRawDataTo(sensor, []byte("abc"), core.NoWait)

	handler := NewMonitorService(app).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actors", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /actors, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Expected a JSON body, got %q", ct)
	}
	var report directoryReport
	if err := sonnet.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode /actors: %v", err)
	}
	if report.Stats.Actors != 1 || report.Stats.Buffered != 1 || len(report.Actors) != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
	if report.Actors[0].Name != "sensor" || report.Actors[0].Type != 0x10 || report.Actors[0].ID != core.IDMin {
		t.Errorf("Unexpected actor row %+v", report.Actors[0])
	}

	// nothing started, so the built-in services report stopped
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from /health, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "wtask_data_sends_total") {
		t.Error("Expected wtask metrics in /metrics")
	}

	// routes only answer GET
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actors", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for POST /actors, got %d", rec.Code)
	}
}

// requesterService owns a data actor that receives work queue replies
type requesterService struct {
	app   *DefaultApplication
	actor *core.DataActor
	ready chan struct{}
}

func (s *requesterService) Name() string { return "requester" }

func (s *requesterService) Start(ctx context.Context) error {
	actor, err := core.NewDataActor(0x01, s.app.DataActorOptions("requester"))
	if err != nil {
		return err
	}
	s.actor = actor
	close(s.ready)
	return nil
}

func (s *requesterService) Stop(ctx context.Context) error { return nil }

func (s *requesterService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy}, nil
}

// recorder collects service start and stop calls in order
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.calls, " ")
}

// TestService is a simple service implementation for testing
type TestService struct {
	name     string
	started  bool
	stopped  bool
	startErr error
	trace    *recorder
}

func (s *TestService) Name() string {
	return s.name
}

func (s *TestService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	s.trace.add("start:" + s.name)
	return nil
}

func (s *TestService) Stop(ctx context.Context) error {
	s.stopped = true
	s.trace.add("stop:" + s.name)
	return nil
}

func (s *TestService) Health(ctx context.Context) (HealthStatus, error) {
	if s.started && !s.stopped {
		return HealthStatus{
			State:   HealthHealthy,
			Message: "Service is running",
		}, nil
	}
	return HealthStatus{
		State:   HealthUnhealthy,
		Message: "Service is not running",
	}, nil
}
