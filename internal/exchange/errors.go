package exchange

import "errors"

var (
	// ErrTableNotFound is returned by stores that have never persisted a table.
	ErrTableNotFound = errors.New("exchange table not found")
	// ErrRateNotFound is returned when a currency has no rate in the table or upstream snapshot.
	ErrRateNotFound = errors.New("exchange rate not found")
	// ErrBaseMismatch is returned when an upstream snapshot is quoted against another base currency.
	ErrBaseMismatch = errors.New("snapshot base currency does not match")
	// ErrRatesUnavailable is returned when no table is stored and the upstream refresh failed.
	ErrRatesUnavailable = errors.New("exchange rates unavailable")
	// ErrInvalidAmount is returned for non-positive conversion amounts and negative fee amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidCommission is returned when the commission rate is outside [0, 1).
	ErrInvalidCommission = errors.New("commission rate must be within [0, 1)")
)
