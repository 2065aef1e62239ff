package currency

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCurrency is returned when a currency code is not supported by the office.
var ErrInvalidCurrency = errors.New("invalid currency code")

// Code is an ISO 4217 currency code.
type Code string

const (
	RSD Code = "RSD"
	EUR Code = "EUR"
	USD Code = "USD"
	CHF Code = "CHF"
	JPY Code = "JPY"
	AUD Code = "AUD"
	CAD Code = "CAD"
)

var supported = []Code{RSD, EUR, USD, CHF, JPY, AUD, CAD}

// Supported returns every code the office trades, in a stable order.
func Supported() []Code {
	out := make([]Code, len(supported))
	copy(out, supported)
	return out
}

// ParseCode normalises raw and checks it against the supported codes.
func ParseCode(raw string) (Code, error) {
	code := Code(strings.ToUpper(strings.TrimSpace(raw)))
	for _, c := range supported {
		if c == code {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
}

// ParseList parses a comma-separated list of codes, skipping blanks and duplicates.
func ParseList(raw string) ([]Code, error) {
	parts := strings.Split(raw, ",")
	codes := make([]Code, 0, len(parts))
	seen := make(map[Code]struct{}, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		code, err := ParseCode(part)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no currencies provided", ErrInvalidCurrency)
	}
	return codes, nil
}

func (c Code) String() string {
	return string(c)
}
