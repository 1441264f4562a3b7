package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/telemetry-core/internal/audit"
	"github.com/nerrad567/telemetry-core/internal/auth"
	"github.com/nerrad567/telemetry-core/internal/device"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/logging"
	"github.com/nerrad567/telemetry-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database wrapper.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionReporter is implemented by the optional MQTT and InfluxDB clients.
type ConnectionReporter interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Paging   config.RegistryConfig
	Logger   *logging.Logger
	DB       HealthChecker
	Devices  *device.Registry
	Keys     *auth.Manager
	Gate     *auth.Gate
	Ingestor *telemetry.Ingestor

	// Optional.
	Audit     *audit.Recorder
	AuditRepo audit.Repository
	MQTT      ConnectionReporter
	InfluxDB  ConnectionReporter
	Metrics   *Metrics
	Version   string
}

// Server is the HTTP API server for telemetry-core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	paging    config.RegistryConfig
	logger    *logging.Logger
	db        HealthChecker
	devices   *device.Registry
	keys      *auth.Manager
	gate      *auth.Gate
	ingestor  *telemetry.Ingestor
	audit     *audit.Recorder
	auditRepo audit.Repository
	mqtt      ConnectionReporter
	influx    ConnectionReporter
	metrics   *Metrics
	validate  *validator.Validate
	version   string
	startTime time.Time

	hub    *Hub
	router http.Handler
	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies and registers
// its WebSocket hub as a telemetry sink.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.DB == nil {
		return nil, errors.New("database is required")
	}
	if deps.Devices == nil || deps.Keys == nil || deps.Gate == nil || deps.Ingestor == nil {
		return nil, errors.New("device registry, key manager, gate and ingestor are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		paging:    withPagingDefaults(deps.Paging),
		logger:    deps.Logger,
		db:        deps.DB,
		devices:   deps.Devices,
		keys:      deps.Keys,
		gate:      deps.Gate,
		ingestor:  deps.Ingestor,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		metrics:   deps.Metrics,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	s.metrics.observeHub(s.hub)
	s.ingestor.AddSink(s.hub)

	s.router = s.buildRouter()
	return s, nil
}

// withPagingDefaults fills page sizes left at zero.
func withPagingDefaults(p config.RegistryConfig) config.RegistryConfig {
	if p.DefaultPageSize <= 0 {
		p.DefaultPageSize = 10
	}
	if p.TelemetryPageSize <= 0 {
		p.TelemetryPageSize = 50
	}
	if p.MaxPageSize <= 0 {
		p.MaxPageSize = 1000
	}
	return p
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The hub runs until Close is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
