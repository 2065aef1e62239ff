// Package exchangerate is a client for the exchangerate-api.com v6 "latest" endpoint.
package exchangerate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eugenenazirov/exchange-office/internal/currency"
)

// DefaultBaseURL is the public exchangerate-api.com endpoint.
const DefaultBaseURL = "https://v6.exchangerate-api.com"

const maxResponseBytes = 1 << 20

var (
	// ErrMissingAPIKey is returned before any request is made when no key is configured.
	ErrMissingAPIKey = errors.New("exchange rate API key is not configured")
	// ErrInvalidAPIKey is returned when the provider rejects the configured key.
	ErrInvalidAPIKey = errors.New("exchange rate API key rejected")
	// ErrUpstream is returned for any other provider or transport failure.
	ErrUpstream = errors.New("exchange rate provider error")
)

// Snapshot is one set of conversion rates published by the provider.
// Rates are quote units per one unit of Base.
type Snapshot struct {
	Base       currency.Code
	LastUpdate time.Time
	NextUpdate time.Time
	Rates      map[currency.Code]float64
}

// Client fetches snapshots from the provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithBaseURL points the client at a different provider host, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(cl *Client) {
		if baseURL != "" {
			cl.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewClient creates a Client authenticated with apiKey.
func NewClient(apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    DefaultBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest fetches the most recent snapshot quoted against base.
func (c *Client) Latest(ctx context.Context, base currency.Code) (Snapshot, error) {
	if c.apiKey == "" {
		return Snapshot{}, ErrMissingAPIKey
	}

	url := fmt.Sprintf("%s/v6/%s/latest/%s", c.baseURL, c.apiKey, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: build request: %s", ErrUpstream, c.redact(err.Error()))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUpstream, c.redact(err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read body: %s", ErrUpstream, c.redact(err.Error()))
	}

	return parseLatest(resp.StatusCode, body)
}

func parseLatest(status int, body []byte) (Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return Snapshot{}, fmt.Errorf("%w: status %d with non-JSON body", ErrUpstream, status)
	}

	doc := gjson.ParseBytes(body)
	if result := doc.Get("result").String(); result != "success" {
		errType := doc.Get("error-type").String()
		if errType == "invalid-key" || errType == "inactive-account" {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrInvalidAPIKey, errType)
		}
		if errType == "" {
			errType = fmt.Sprintf("status %d", status)
		}
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUpstream, errType)
	}

	base, err := currency.ParseCode(doc.Get("base_code").String())
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	rates := make(map[currency.Code]float64)
	doc.Get("conversion_rates").ForEach(func(key, value gjson.Result) bool {
		code, err := currency.ParseCode(key.String())
		if err != nil {
			// the provider quotes ~160 currencies, only supported ones are kept
			return true
		}
		rates[code] = value.Float()
		return true
	})
	if len(rates) == 0 {
		return Snapshot{}, fmt.Errorf("%w: response carries no conversion rates", ErrUpstream)
	}

	lastUnix := doc.Get("time_last_update_unix").Int()
	nextUnix := doc.Get("time_next_update_unix").Int()
	if nextUnix <= 0 || nextUnix <= lastUnix {
		return Snapshot{}, fmt.Errorf("%w: invalid update window (last %d, next %d)", ErrUpstream, lastUnix, nextUnix)
	}

	return Snapshot{
		Base:       base,
		LastUpdate: time.Unix(lastUnix, 0).UTC(),
		NextUpdate: time.Unix(nextUnix, 0).UTC(),
		Rates:      rates,
	}, nil
}

func (c *Client) redact(msg string) string {
	if c.apiKey == "" {
		return msg
	}
	return strings.ReplaceAll(msg, c.apiKey, "<redacted>")
}
