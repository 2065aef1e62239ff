package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/exchange-office/internal/currency"
	"github.com/eugenenazirov/exchange-office/internal/exchangerate"
)

const ratePrecision = 6

// Rate is the price of one unit of Quote expressed in Base.
type Rate struct {
	Base    currency.Code `json:"Base"`
	Quote   currency.Code `json:"Quote"`
	Buy     float64       `json:"Buy"`
	Neutral float64       `json:"Neutral"`
	Sell    float64       `json:"Sell"`
}

// Table is the persisted and published exchange rate table.
type Table struct {
	LastUpdatedISO  string                 `json:"lastUpdatedISO8061withTimezone"`
	LastUpdatedUnix int64                  `json:"lastUpdatedUnix"`
	NextUpdateISO   string                 `json:"nextUpdateISO8061withTimezone"`
	NextUpdateUnix  int64                  `json:"nextUpdateUnix"`
	LastLocalUpdate int64                  `json:"lastLocalUpdate"`
	Base            currency.Code          `json:"base"`
	Exchanges       map[currency.Code]Rate `json:"exchanges"`
}

// Stale reports whether the upstream provider has published newer rates by now.
func (t Table) Stale(now time.Time) bool {
	return now.Unix() >= t.NextUpdateUnix
}

// Neutral returns the neutral rate of code in base units. The base itself is always 1.
func (t Table) Neutral(code currency.Code) (decimal.Decimal, error) {
	if code == t.Base {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := t.Exchanges[code]
	if !ok || rate.Neutral <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateNotFound, code)
	}
	return decimal.NewFromFloat(rate.Neutral), nil
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := t
	out.Exchanges = make(map[currency.Code]Rate, len(t.Exchanges))
	for code, rate := range t.Exchanges {
		out.Exchanges[code] = rate
	}
	return out
}

// BuildTable converts an upstream snapshot, quoted as quote units per one base
// unit, into a table of base units per one quote unit with the commission
// applied to the buy and sell sides. The snapshot must be quoted against base.
func BuildTable(snap exchangerate.Snapshot, base currency.Code, currencies []currency.Code, commission decimal.Decimal, fetchedAt time.Time) (Table, error) {
	if snap.Base != base {
		return Table{}, fmt.Errorf("%w: got %s, want %s", ErrBaseMismatch, snap.Base, base)
	}
	if commission.IsNegative() || commission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Table{}, ErrInvalidCommission
	}

	one := decimal.NewFromInt(1)
	buyFactor := one.Sub(commission)
	sellFactor := one.Add(commission)

	exchanges := make(map[currency.Code]Rate, len(currencies))
	for _, code := range currencies {
		if code == base {
			continue
		}
		raw, ok := snap.Rates[code]
		if !ok || raw <= 0 {
			return Table{}, fmt.Errorf("%w: %s", ErrRateNotFound, code)
		}

		neutral := one.DivRound(decimal.NewFromFloat(raw), ratePrecision)
		exchanges[code] = Rate{
			Base:    base,
			Quote:   code,
			Buy:     neutral.Mul(buyFactor).Round(ratePrecision).InexactFloat64(),
			Neutral: neutral.InexactFloat64(),
			Sell:    neutral.Mul(sellFactor).Round(ratePrecision).InexactFloat64(),
		}
	}

	return Table{
		LastUpdatedISO:  formatISO(snap.LastUpdate),
		LastUpdatedUnix: snap.LastUpdate.Unix(),
		NextUpdateISO:   formatISO(snap.NextUpdate),
		NextUpdateUnix:  snap.NextUpdate.Unix(),
		LastLocalUpdate: fetchedAt.Unix(),
		Base:            base,
		Exchanges:       exchanges,
	}, nil
}

func formatISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
