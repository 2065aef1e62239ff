package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eugenenazirov/exchange-office/internal/api"
	"github.com/eugenenazirov/exchange-office/internal/config"
	"github.com/eugenenazirov/exchange-office/internal/exchange"
	"github.com/eugenenazirov/exchange-office/internal/exchangerate"
	"github.com/eugenenazirov/exchange-office/internal/logging"
	"github.com/eugenenazirov/exchange-office/internal/metrics"
	"github.com/eugenenazirov/exchange-office/internal/scheduler"
	"github.com/eugenenazirov/exchange-office/internal/storage"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg       config.Config
	storage   storage.Storage
	client    *exchangerate.Client
	service   *exchange.Service
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	handler   *api.Handler
	router    http.Handler
	logger    *zap.Logger
	server    *http.Server
}

// Option customises how New wires the application.
type Option func(*options)

type options struct {
	clock      func() time.Time
	httpClient *http.Client
	storage    storage.Storage
	metrics    *metrics.Metrics
}

// WithClock overrides the time source used by the service and handlers.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithHTTPClient replaces the HTTP client used to reach the rate provider.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithStorage replaces the file storage at ExchangeStoragePath.
func WithStorage(s storage.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// WithMetrics shares a metrics set instead of creating a fresh one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New initializes the application with all dependencies from the provided configuration.
// It performs no I/O: the storage file and the rate provider are touched on first use.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.storage
	if store == nil {
		fileStore, err := storage.NewFileStorage(cfg.ExchangeStoragePath)
		if err != nil {
			return nil, fmt.Errorf("failed to configure storage: %w", err)
		}
		store = fileStore
	}

	m := o.metrics
	if m == nil {
		m = metrics.New()
	}

	client := exchangerate.NewClient(cfg.ExchangeRateAPIKey, cfg.UpstreamTimeout,
		exchangerate.WithBaseURL(cfg.ExchangeRateAPIURL),
		exchangerate.WithHTTPClient(o.httpClient),
	)

	service, err := exchange.NewService(
		exchange.Settings{
			Base:           cfg.BaseCurrency,
			Currencies:     cfg.Currencies,
			CommissionRate: cfg.CommissionRate,
		},
		store,
		client,
		logger.Named("exchange"),
		exchange.WithClock(o.clock),
		exchange.WithRecorder(m),
		exchange.WithRefreshTimeout(2*cfg.UpstreamTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange service: %w", err)
	}

	sched, err := scheduler.New(cfg.RefreshSchedule, service, logger.Named("scheduler"),
		scheduler.WithJobTimeout(2*cfg.UpstreamTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh scheduler: %w", err)
	}

	handlerOpts := []api.HandlerOption{api.WithHandlerLogger(logger.Named("api"))}
	if o.clock != nil {
		handlerOpts = append(handlerOpts, api.WithClock(o.clock))
	}
	handler := api.NewHandler(service, handlerOpts...)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithObserver(m),
	)

	server := NewServer(cfg, BuildRootHandler(apiRouter, m.Handler()))

	return &App{
		cfg:       cfg,
		storage:   store,
		client:    client,
		service:   service,
		scheduler: sched,
		metrics:   m,
		handler:   handler,
		router:    apiRouter,
		logger:    logger,
		server:    server,
	}, nil
}

// BuildRootHandler mounts the metrics endpoint next to the API routes.
func BuildRootHandler(apiHandler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	r.Mount("/", apiHandler)
	return r
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the refresh scheduler and the HTTP server in a goroutine.
func (a *App) Start() error {
	a.logger.Info("starting exchange office",
		zap.String("addr", a.server.Addr),
		zap.String("storage_path", a.cfg.ExchangeStoragePath),
		zap.Float64("commission_rate", a.cfg.CommissionRate),
		logging.Secret("exchangerate_api_key", a.cfg.ExchangeRateAPIKey),
		zap.String("refresh_schedule", a.cfg.RefreshSchedule),
	)
	a.scheduler.Start()

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight work, including a
// running scheduled refresh, until ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(
		a.server.Shutdown(ctx),
		a.scheduler.Stop(ctx),
	)
}

// Close forcibly closes the listener and open connections.
func (a *App) Close() error {
	return a.server.Close()
}

// Config returns the configuration the application was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// Handler returns the root HTTP handler, including /metrics.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Service returns the exchange service.
func (a *App) Service() *exchange.Service {
	return a.service
}

// Metrics returns the metrics set the application records into.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}
