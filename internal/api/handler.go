package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eugenenazirov/exchange-office/internal/currency"
	"github.com/eugenenazirov/exchange-office/internal/exchange"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// ExchangeService is the exchange office behaviour exposed over HTTP.
type ExchangeService interface {
	Rates(ctx context.Context) (exchange.Table, error)
	Refresh(ctx context.Context) (exchange.Table, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to currency.Code) (exchange.Conversion, error)
	Fee(amount decimal.Decimal) (decimal.Decimal, error)
	Commission() decimal.Decimal
}

// Handler wires the exchange service into HTTP handlers.
type Handler struct {
	service ExchangeService
	logger  *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the logger used for server-side failures.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(service ExchangeService, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		logger:  zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExchangeRate(w http.ResponseWriter, r *http.Request) {
	table, err := h.service.Rates(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	table, err := h.service.Refresh(r.Context())
	if err != nil {
		h.logger.Warn("forced rate refresh failed",
			zap.Error(err),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		writeError(w, http.StatusBadGateway, "Upstream error", err.Error(), "check the exchange rate API key and try again")
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	from, err := currency.ParseCode(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid currency", err.Error(), supportedSuggestion())
		return
	}
	to, err := currency.ParseCode(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid currency", err.Error(), supportedSuggestion())
		return
	}

	conv, err := h.service.Convert(r.Context(), req.Amount, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleFee(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("amount"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "amount query parameter is required")
		return
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "amount must be a decimal number")
		return
	}

	fee, err := h.service.Fee(amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, feeResponse{
		Amount:     amount,
		Commission: h.service.Commission(),
		Fee:        fee,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, exchange.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, exchange.ErrRateNotFound):
		writeError(w, http.StatusNotFound, "Rate not found", err.Error(), supportedSuggestion())
	case errors.Is(err, exchange.ErrRatesUnavailable):
		h.logger.Warn("exchange rates unavailable",
			zap.Error(err),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		writeError(w, http.StatusServiceUnavailable, "Exchange rates unavailable", err.Error(), "retry once the rate provider is reachable")
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		writeInternalError(w, err)
	}
}

func supportedSuggestion() string {
	codes := currency.Supported()
	names := make([]string, len(codes))
	for i, code := range codes {
		names[i] = code.String()
	}
	return "supported currencies: " + strings.Join(names, ", ")
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type convertRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

type feeResponse struct {
	Amount     decimal.Decimal `json:"amount"`
	Commission decimal.Decimal `json:"commission"`
	Fee        decimal.Decimal `json:"fee"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
