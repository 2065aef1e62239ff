package exchange

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eugenenazirov/exchange-office/internal/currency"
	"github.com/eugenenazirov/exchange-office/internal/exchangerate"
)

const (
	moneyPrecision = 2

	defaultRefreshTimeout = 30 * time.Second
	defaultRetryCooldown  = 30 * time.Second
)

// Store persists the rate table between refreshes.
type Store interface {
	Load() (Table, error)
	Save(table Table) error
}

// Fetcher retrieves conversion rates from the upstream provider.
type Fetcher interface {
	Latest(ctx context.Context, base currency.Code) (exchangerate.Snapshot, error)
}

// Recorder receives service level measurements.
type Recorder interface {
	ObserveRefresh(outcome string, elapsed time.Duration)
	ObserveConversion(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRefresh(string, time.Duration) {}
func (nopRecorder) ObserveConversion(string, string) {}

// Settings are the business parameters of the office.
type Settings struct {
	Base           currency.Code
	Currencies     []currency.Code
	CommissionRate float64
}

// Conversion is a quoted exchange of Amount in From to To.
// Total is what the client receives after the commission Fee.
type Conversion struct {
	ID         string          `json:"id"`
	From       currency.Code   `json:"from"`
	To         currency.Code   `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	Rate       decimal.Decimal `json:"rate"`
	Converted  decimal.Decimal `json:"converted"`
	Commission decimal.Decimal `json:"commission"`
	Fee        decimal.Decimal `json:"fee"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Service keeps the rate table fresh and quotes conversions against it.
type Service struct {
	store      Store
	fetcher    Fetcher
	base       currency.Code
	currencies []currency.Code
	commission decimal.Decimal

	logger   *zap.Logger
	recorder Recorder
	clock    func() time.Time
	newID    func() string

	refreshTimeout time.Duration
	retryCooldown  time.Duration

	group singleflight.Group

	mu          sync.Mutex
	lastFailure time.Time
}

// ServiceOption configures Service behaviour.
type ServiceOption func(*Service)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithIDGenerator overrides conversion id generation.
func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithRefreshTimeout bounds a shared upstream refresh. The refresh outlives the
// caller that started it, so it carries its own deadline.
func WithRefreshTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithRetryCooldown sets how long a stale table is served without contacting
// the provider after a failed refresh. Zero retries on every stale read.
func WithRetryCooldown(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.retryCooldown = d
		}
	}
}

// NewService validates settings and wires the service dependencies.
func NewService(settings Settings, store Store, fetcher Fetcher, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	commission := decimal.NewFromFloat(settings.CommissionRate)
	if commission.IsNegative() || commission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCommission, settings.CommissionRate)
	}
	if settings.Base == "" {
		return nil, errors.New("exchange: base currency is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:      store,
		fetcher:    fetcher,
		base:       settings.Base,
		currencies: slices.Clone(settings.Currencies),
		commission: commission,
		logger:     logger,
		recorder:   nopRecorder{},
		clock: func() time.Time {
			return time.Now().UTC()
		},
		newID:          uuid.NewString,
		refreshTimeout: defaultRefreshTimeout,
		retryCooldown:  defaultRetryCooldown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Commission returns the configured commission rate.
func (s *Service) Commission() decimal.Decimal {
	return s.commission
}

// Rates returns the current table, refreshing it first when it is missing or stale.
// A stale table is still served when the refresh fails, and for the retry
// cooldown after a failure the provider is not contacted at all.
func (s *Service) Rates(ctx context.Context) (Table, error) {
	table, err := s.store.Load()
	haveTable := err == nil
	if err != nil && !errors.Is(err, ErrTableNotFound) {
		s.logger.Warn("stored exchange table unreadable, refetching", zap.Error(err))
	}
	if haveTable {
		now := s.clock()
		if !table.Stale(now) {
			return table, nil
		}
		if s.coolingDown(now) {
			return table, nil
		}
	}

	fresh, err := s.refreshShared(ctx)
	if err == nil {
		return fresh, nil
	}
	if haveTable {
		s.logger.Warn("serving stale exchange table",
			zap.Error(err),
			zap.Int64("next_update_unix", table.NextUpdateUnix),
		)
		return table, nil
	}
	return Table{}, fmt.Errorf("%w: %w", ErrRatesUnavailable, err)
}

// Refresh fetches and persists a new table regardless of staleness.
func (s *Service) Refresh(ctx context.Context) (Table, error) {
	return s.refreshShared(ctx)
}

// refreshShared joins the in-flight refresh or starts one. The refresh runs
// detached from ctx; ctx only bounds how long this caller waits for it.
func (s *Service) refreshShared(ctx context.Context) (Table, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()

		table, err := s.refresh(refreshCtx)
		s.recordOutcome(err)
		return table, err
	})

	select {
	case <-ctx.Done():
		return Table{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Table{}, res.Err
		}
		return res.Val.(Table).Clone(), nil
	}
}

func (s *Service) recordOutcome(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastFailure = s.clock()
		return
	}
	s.lastFailure = time.Time{}
}

func (s *Service) coolingDown(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastFailure.IsZero() && now.Sub(s.lastFailure) < s.retryCooldown
}

func (s *Service) refresh(ctx context.Context) (Table, error) {
	start := time.Now()

	snap, err := s.fetcher.Latest(ctx, s.base)
	if err != nil {
		s.recorder.ObserveRefresh("upstream_error", time.Since(start))
		return Table{}, fmt.Errorf("fetch rates: %w", err)
	}

	table, err := BuildTable(snap, s.base, s.currencies, s.commission, s.clock())
	if err != nil {
		s.recorder.ObserveRefresh("invalid_snapshot", time.Since(start))
		return Table{}, fmt.Errorf("build table: %w", err)
	}

	if err := s.store.Save(table); err != nil {
		s.recorder.ObserveRefresh("storage_error", time.Since(start))
		return Table{}, fmt.Errorf("persist table: %w", err)
	}

	s.recorder.ObserveRefresh("ok", time.Since(start))
	s.logger.Info("exchange table refreshed",
		zap.String("base", s.base.String()),
		zap.Int("currencies", len(table.Exchanges)),
		zap.String("next_update", table.NextUpdateISO),
	)
	return table, nil
}

// Convert quotes an exchange of amount from one currency to another through the
// base currency using neutral rates, and charges the commission on the result.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to currency.Code) (Conversion, error) {
	if !amount.IsPositive() {
		return Conversion{}, ErrInvalidAmount
	}
	for _, code := range []currency.Code{from, to} {
		if !s.trades(code) {
			return Conversion{}, fmt.Errorf("%w: %s", ErrRateNotFound, code)
		}
	}

	table, err := s.Rates(ctx)
	if err != nil {
		return Conversion{}, err
	}

	fromNeutral, err := table.Neutral(from)
	if err != nil {
		return Conversion{}, err
	}
	toNeutral, err := table.Neutral(to)
	if err != nil {
		return Conversion{}, err
	}

	converted := amount.Mul(fromNeutral).Div(toNeutral).Round(moneyPrecision)
	fee := converted.Mul(s.commission).Round(moneyPrecision)

	s.recorder.ObserveConversion(from.String(), to.String())

	return Conversion{
		ID:         s.newID(),
		From:       from,
		To:         to,
		Amount:     amount,
		Rate:       fromNeutral.DivRound(toNeutral, ratePrecision),
		Converted:  converted,
		Commission: s.commission,
		Fee:        fee,
		Total:      converted.Sub(fee),
		CreatedAt:  s.clock(),
	}, nil
}

// Fee returns the commission charged on amount.
func (s *Service) Fee(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount.Mul(s.commission).Round(moneyPrecision), nil
}

func (s *Service) trades(code currency.Code) bool {
	return code == s.base || slices.Contains(s.currencies, code)
}
