package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/najoast/wtask/core"
	"github.com/najoast/wtask/logger"
)

// MonitorService serves metrics, the actor directory and service health
// over HTTP, and dumps the directory at debug level on an interval.
type MonitorService struct {
	app *DefaultApplication

	mutex    sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	log *zap.Logger
}

// directoryReport is the body of the actors endpoint
type directoryReport struct {
	Stats  core.SystemStats `json:"stats"`
	Actors []core.ActorInfo `json:"actors"`
}

// healthReport is the body of the health endpoint
type healthReport struct {
	State    HealthState             `json:"state"`
	Services map[string]HealthStatus `json:"services"`
}

// NewMonitorService creates the monitor of app
func NewMonitorService(app *DefaultApplication) *MonitorService {
	return &MonitorService{app: app, log: logger.Named("monitor")}
}

func (m *MonitorService) Name() string {
	return ServiceMonitor
}

// Handler returns the gin engine with every monitoring route
func (m *MonitorService) Handler() *gin.Engine {
	cfg := m.app.Config().Monitor.HTTP

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(m.app.Registry(), promhttp.HandlerOpts{})))
	engine.GET(cfg.ActorsPath, m.handleActors)
	engine.GET(cfg.HealthPath, m.handleHealth)
	return engine
}

func (m *MonitorService) Start(ctx context.Context) error {
	cfg := m.app.Config().Monitor

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if cfg.HTTP.Enabled {
		listener, err := net.Listen("tcp", cfg.HTTP.Addr())
		if err != nil {
			return fmt.Errorf("monitor listen on %s: %w", cfg.HTTP.Addr(), err)
		}
		m.listener = listener
		m.server = &http.Server{
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func(server *http.Server) {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.log.Error("monitor server failed", zap.Error(err))
			}
		}(m.server)
		m.log.Info("monitor server started", zap.String("address", listener.Addr().String()))
	}

	if cfg.DumpInterval > 0 {
		dumpCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.done = make(chan struct{})
		go m.dumpLoop(dumpCtx, cfg.DumpInterval)
	}
	return nil
}

func (m *MonitorService) Stop(ctx context.Context) error {
	m.mutex.Lock()
	server, cancel, done := m.server, m.cancel, m.done
	m.server, m.listener, m.cancel, m.done = nil, nil, nil, nil
	m.mutex.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown monitor server: %w", err)
		}
	}
	return nil
}

func (m *MonitorService) Health(ctx context.Context) (HealthStatus, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data := map[string]interface{}{}
	if m.listener != nil {
		data["address"] = m.listener.Addr().String()
	}
	return HealthStatus{State: HealthHealthy, Message: "monitor running", Data: data}, nil
}

// Addr returns the address the server listens on, empty when not serving
func (m *MonitorService) Addr() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *MonitorService) dumpLoop(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ce := m.log.Check(zap.DebugLevel, "actor directory"); ce != nil {
				var b strings.Builder
				m.app.Directory().Dump(&b)
				ce.Write(zap.String("dump", b.String()))
			}
		}
	}
}

func (m *MonitorService) handleActors(c *gin.Context) {
	dir := m.app.Directory()
	c.JSON(http.StatusOK, directoryReport{
		Stats:  core.Stats(dir),
		Actors: dir.Snapshot(),
	})
}

func (m *MonitorService) handleHealth(c *gin.Context) {
	services, err := m.app.LifecycleManager().Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	report := healthReport{State: HealthHealthy, Services: services}
	for _, status := range services {
		if status.State != HealthHealthy {
			report.State = HealthUnhealthy
			break
		}
	}

	code := http.StatusOK
	if report.State != HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
