package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/exchange-office/internal/currency"
	"github.com/eugenenazirov/exchange-office/internal/exchange"
)

type stubService struct {
	table      exchange.Table
	ratesErr   error
	refreshErr error
	convertErr error
	commission decimal.Decimal

	refreshes int
}

func newStubService() *stubService {
	return &stubService{
		table: exchange.Table{
			LastUpdatedISO:  "2024-11-01T00:00:01Z",
			LastUpdatedUnix: 1730419201,
			NextUpdateISO:   "2024-11-02T00:00:01Z",
			NextUpdateUnix:  1730505601,
			LastLocalUpdate: 1730462400,
			Base:            currency.RSD,
			Exchanges: map[currency.Code]exchange.Rate{
				currency.EUR: {Base: currency.RSD, Quote: currency.EUR, Buy: 112.5, Neutral: 125, Sell: 137.5},
			},
		},
		commission: decimal.RequireFromString("0.1"),
	}
}

func (s *stubService) Rates(context.Context) (exchange.Table, error) {
	if s.ratesErr != nil {
		return exchange.Table{}, s.ratesErr
	}
	return s.table, nil
}

func (s *stubService) Refresh(context.Context) (exchange.Table, error) {
	s.refreshes++
	if s.refreshErr != nil {
		return exchange.Table{}, s.refreshErr
	}
	return s.table, nil
}

func (s *stubService) Convert(_ context.Context, amount decimal.Decimal, from, to currency.Code) (exchange.Conversion, error) {
	if s.convertErr != nil {
		return exchange.Conversion{}, s.convertErr
	}
	if !amount.IsPositive() {
		return exchange.Conversion{}, exchange.ErrInvalidAmount
	}
	converted := amount.Mul(decimal.NewFromInt(125))
	fee := converted.Mul(s.commission)
	return exchange.Conversion{
		ID:         "conv-1",
		From:       from,
		To:         to,
		Amount:     amount,
		Rate:       decimal.NewFromInt(125),
		Converted:  converted,
		Commission: s.commission,
		Fee:        fee,
		Total:      converted.Sub(fee),
	}, nil
}

func (s *stubService) Fee(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, exchange.ErrInvalidAmount
	}
	return amount.Mul(s.commission).Round(2), nil
}

func (s *stubService) Commission() decimal.Decimal {
	return s.commission
}

func setupTestRouter(t *testing.T, svc *stubService) http.Handler {
	t.Helper()

	clock := func() time.Time { return time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC) }
	logger := zaptest.NewLogger(t)
	handler := NewHandler(svc, WithClock(clock), WithHandlerLogger(logger))
	return NewRouter(handler, logger, WithLogging(false), WithRateLimit(0, 0))
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	rec := serve(router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %s", resp.Status)
	}
	if !resp.Timestamp.Equal(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %s", resp.Timestamp)
	}
}

func TestExchangeRateEndpoint(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	rec := serve(router, http.MethodGet, "/exchange-rate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var raw map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, key := range []string{"lastUpdatedISO8061withTimezone", "lastUpdatedUnix", "nextUpdateISO8061withTimezone", "nextUpdateUnix", "lastLocalUpdate", "exchanges"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected key %s in response, got %v", key, raw)
		}
	}
	eur := raw["exchanges"].(map[string]any)["EUR"].(map[string]any)
	if eur["Neutral"] != 125.0 {
		t.Fatalf("expected EUR neutral 125, got %v", eur["Neutral"])
	}
}

func TestExchangeRateEndpointUnavailable(t *testing.T) {
	svc := newStubService()
	svc.ratesErr = fmt.Errorf("%w: upstream down", exchange.ErrRatesUnavailable)
	router := setupTestRouter(t, svc)

	rec := serve(router, http.MethodGet, "/exchange-rate", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != "Exchange rates unavailable" {
		t.Fatalf("unexpected error message %q", resp.Error)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	svc := newStubService()
	router := setupTestRouter(t, svc)

	rec := serve(router, http.MethodPost, "/exchange-rate/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if svc.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", svc.refreshes)
	}
}

func TestRefreshEndpointUpstreamFailure(t *testing.T) {
	svc := newStubService()
	svc.refreshErr = errors.New("fetch rates: upstream returned 500")
	router := setupTestRouter(t, svc)

	rec := serve(router, http.MethodPost, "/exchange-rate/refresh", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Suggestion == "" {
		t.Fatalf("expected a suggestion in the error response")
	}
}

func TestConvertEndpointSuccess(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	rec := serve(router, http.MethodPost, "/convert", `{"amount":"2","from":"eur","to":"RSD"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var conv exchange.Conversion
	if err := json.NewDecoder(rec.Body).Decode(&conv); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if conv.From != currency.EUR || conv.To != currency.RSD {
		t.Fatalf("unexpected pair %s->%s", conv.From, conv.To)
	}
	if !conv.Converted.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected converted 250, got %s", conv.Converted)
	}
	if !conv.Total.Equal(decimal.NewFromInt(225)) {
		t.Fatalf("expected total 225, got %s", conv.Total)
	}
}

func TestConvertEndpointAcceptsNumericAmount(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	rec := serve(router, http.MethodPost, "/convert", `{"amount":1.5,"from":"EUR","to":"RSD"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestConvertEndpointValidatesInput(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"amount":`, http.StatusBadRequest},
		{"unknown from", `{"amount":"1","from":"XYZ","to":"EUR"}`, http.StatusBadRequest},
		{"unknown to", `{"amount":"1","from":"EUR","to":""}`, http.StatusBadRequest},
		{"zero amount", `{"amount":"0","from":"EUR","to":"USD"}`, http.StatusBadRequest},
		{"negative amount", `{"amount":"-3","from":"EUR","to":"USD"}`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := setupTestRouter(t, newStubService())
			rec := serve(router, http.MethodPost, "/convert", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			if resp := decodeError(t, rec); resp.Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestConvertEndpointMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rate not found", fmt.Errorf("%w: CHF", exchange.ErrRateNotFound), http.StatusNotFound},
		{"rates unavailable", exchange.ErrRatesUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newStubService()
			svc.convertErr = tc.err
			router := setupTestRouter(t, svc)

			rec := serve(router, http.MethodPost, "/convert", `{"amount":"1","from":"EUR","to":"USD"}`)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestFeeEndpoint(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	rec := serve(router, http.MethodGet, "/fee?amount=250.55", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp feeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Fee.Equal(decimal.RequireFromString("25.06")) {
		t.Fatalf("expected fee 25.06, got %s", resp.Fee)
	}
	if !resp.Commission.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("expected commission 0.1, got %s", resp.Commission)
	}
}

func TestFeeEndpointValidatesAmount(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	for _, path := range []string{"/fee", "/fee?amount=abc", "/fee?amount=-1"} {
		rec := serve(router, http.MethodGet, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", path, rec.Code)
		}
	}
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	rec := serve(router, http.MethodGet, "/exchange", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if !strings.Contains(decodeError(t, rec).Details, "/exchange") {
		t.Fatalf("expected path in error details")
	}
}

func TestCorsPreflight(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	req := httptest.NewRequest(http.MethodOptions, "/convert", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code >= 300 {
		t.Fatalf("expected successful preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router := setupTestRouter(t, newStubService())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}
