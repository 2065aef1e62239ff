// Package apptest builds application instances for tests. Every call gets its
// own temporary storage location and its own metrics registry, so tests never
// share state.
package apptest

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/exchange-office/internal/application"
	"github.com/eugenenazirov/exchange-office/internal/config"
)

const (
	// CommissionRate is the commission applied by test applications.
	CommissionRate = 0.1
	// APIKey is the exchange rate API key configured on test applications.
	APIKey = "280153fe0016f484aedcecdd"
	// StorageFileName is the base name of the exchange table file.
	StorageFileName = "exchanges.json"

	// unreachableUpstream refuses connections immediately, so a test that
	// forgets WithUpstream fails fast instead of calling the real provider.
	unreachableUpstream = "http://127.0.0.1:0"
)

// Option adjusts the fixture before the application is built.
type Option func(*fixture)

type fixture struct {
	upstream string
	clock    func() time.Time
	mutate   []func(*config.Config)
}

// WithUpstream points the rate client at url, typically an Upstream server.
func WithUpstream(url string) Option {
	return func(f *fixture) {
		f.upstream = url
	}
}

// WithClock fixes the time source of the application.
func WithClock(clock func() time.Time) Option {
	return func(f *fixture) {
		f.clock = clock
	}
}

// WithConfig applies fn to the configuration after the fixture defaults.
func WithConfig(fn func(*config.Config)) Option {
	return func(f *fixture) {
		f.mutate = append(f.mutate, fn)
	}
}

// Config returns the configuration a fixture application is built from.
// The storage path is computed inside t.TempDir(); no file is created.
func Config(t testing.TB) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Port = ":0"
	cfg.CommissionRate = CommissionRate
	cfg.ExchangeRateAPIKey = APIKey
	cfg.ExchangeStoragePath = filepath.Join(t.TempDir(), StorageFileName)
	cfg.ExchangeRateAPIURL = unreachableUpstream
	cfg.EnableRequestLogging = false
	cfg.RateLimitRPS = 0
	cfg.RateLimitBurst = 0
	cfg.RefreshSchedule = ""
	cfg.UpstreamTimeout = 2 * time.Second
	return cfg
}

// New builds an application for a single test through application.New.
// The HTTP listener is never started; drive the app through App.Handler().
func New(t testing.TB, opts ...Option) *application.App {
	t.Helper()

	var f fixture
	for _, opt := range opts {
		opt(&f)
	}

	cfg := Config(t)
	if f.upstream != "" {
		cfg.ExchangeRateAPIURL = f.upstream
	}
	for _, fn := range f.mutate {
		fn(&cfg)
	}

	var appOpts []application.Option
	if f.clock != nil {
		appOpts = append(appOpts, application.WithClock(f.clock))
	}

	app, err := application.New(cfg, zaptest.NewLogger(t), appOpts...)
	if err != nil {
		t.Fatalf("apptest: build application: %v", err)
	}
	return app
}
