package apptest

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Default publication window of the fake provider.
var (
	UpstreamLastUpdate = time.Date(2024, 11, 1, 0, 0, 1, 0, time.UTC)
	UpstreamNextUpdate = time.Date(2024, 11, 2, 0, 0, 1, 0, time.UTC)
)

// Upstream is an in-process stand-in for the exchangerate-api.com v6 latest endpoint.
type Upstream struct {
	*httptest.Server

	calls atomic.Int32

	mu         sync.Mutex
	rates      map[string]float64
	errorType  string
	lastUpdate time.Time
	nextUpdate time.Time
}

// NewUpstream starts a fake provider quoting RSD against every supported currency.
// It is closed when the test ends.
func NewUpstream(t testing.TB) *Upstream {
	t.Helper()

	u := &Upstream{
		rates: map[string]float64{
			"RSD": 1,
			"EUR": 0.008,
			"USD": 0.01,
			"CHF": 0.00625,
			"JPY": 1.25,
			"AUD": 0.0125,
			"CAD": 0.0125,
			"GBP": 0.0068,
		},
		lastUpdate: UpstreamLastUpdate,
		nextUpdate: UpstreamNextUpdate,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v6/{key}/latest/{base}", u.serveLatest)
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

// Calls returns the number of requests served.
func (u *Upstream) Calls() int {
	return int(u.calls.Load())
}

// SetRate changes the quote for code.
func (u *Upstream) SetRate(code string, rate float64) {
	u.mu.Lock()
	u.rates[code] = rate
	u.mu.Unlock()
}

// Fail makes subsequent requests return a provider error of errorType.
// An empty errorType restores normal responses.
func (u *Upstream) Fail(errorType string) {
	u.mu.Lock()
	u.errorType = errorType
	u.mu.Unlock()
}

// SetWindow changes the advertised publication times.
func (u *Upstream) SetWindow(last, next time.Time) {
	u.mu.Lock()
	u.lastUpdate, u.nextUpdate = last, next
	u.mu.Unlock()
}

func (u *Upstream) serveLatest(w http.ResponseWriter, r *http.Request) {
	u.calls.Add(1)

	u.mu.Lock()
	errorType := u.errorType
	rates := maps.Clone(u.rates)
	last, next := u.lastUpdate, u.nextUpdate
	u.mu.Unlock()

	if r.PathValue("key") != APIKey {
		errorType = "invalid-key"
	}

	w.Header().Set("Content-Type", "application/json")
	if errorType != "" {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":     "error",
			"error-type": errorType,
		})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":                "success",
		"documentation":         "https://www.exchangerate-api.com/docs",
		"time_last_update_unix": last.Unix(),
		"time_last_update_utc":  last.Format(time.RFC1123Z),
		"time_next_update_unix": next.Unix(),
		"time_next_update_utc":  next.Format(time.RFC1123Z),
		"base_code":             r.PathValue("base"),
		"conversion_rates":      rates,
	})
}
