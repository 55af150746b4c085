// Package wallet talks to the external stored-credit ledger over HTTP.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/platform/config"
)

const (
	metricNamespace = "github.com/hanko-field/checkout/internal/platform/wallet"
	defaultTimeout  = 5 * time.Second
	maxErrorBody    = 4 << 10
)

var (
	// ErrLedgerUnavailable is returned while the circuit breaker is open.
	ErrLedgerUnavailable = errors.New("wallet ledger unavailable")
	// ErrCustomerNotFound is returned when the ledger has no wallet for the customer.
	ErrCustomerNotFound = errors.New("wallet ledger: customer not found")
	// ErrInsufficientFunds is returned when the ledger refuses a debit for lack of funds.
	ErrInsufficientFunds = errors.New("wallet ledger: insufficient funds")
)

// StatusError describes an unexpected ledger response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wallet ledger: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client implements the checkout wallet ledger against the ledger REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *zap.Logger
	latency metric.Float64Histogram
}

// Option customises the client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.Logger
	meter      metric.Meter
	settings   *gobreaker.Settings
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeter overrides the otel meter.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(o *options) {
		o.settings = &s
	}
}

// NewClient constructs a ledger client. The ledger is considered inactive when BaseURL is empty.
func NewClient(cfg config.WalletConfig, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		o.httpClient = &http.Client{Timeout: timeout}
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	settings := gobreaker.Settings{
		Name:        "wallet-ledger",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if o.settings != nil {
		settings = *o.settings
	}
	logger := o.logger
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("wallet ledger breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	latency, err := o.meter.Float64Histogram(
		"wallet.request.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for wallet ledger requests"),
	)
	if err != nil {
		logger.Warn("wallet: unable to register latency metric", zap.Error(err))
		latency = nil
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		http:    o.httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:  logger,
		latency: latency,
	}
}

// Active reports whether a ledger is configured and the breaker is not open.
func (c *Client) Active(context.Context) bool {
	if c == nil || c.baseURL == "" {
		return false
	}
	return c.breaker.State() != gobreaker.StateOpen
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Balance returns the customer's available credit.
func (c *Client) Balance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	path := "/v1/wallets/" + url.PathEscape(customerID) + "/balance"
	var body balanceResponse
	if err := c.do(ctx, "balance", http.MethodGet, path, nil, &body); err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(strings.TrimSpace(body.Balance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet ledger: invalid balance %q: %w", body.Balance, err)
	}
	return balance, nil
}

type debitRequest struct {
	Amount string `json:"amount"`
	Note   string `json:"note,omitempty"`
}

type debitResponse struct {
	TransactionID string `json:"transaction_id"`
}

// Debit removes amount from the customer's wallet and returns the ledger transaction id.
func (c *Client) Debit(ctx context.Context, customerID string, amount decimal.Decimal, note string) (string, error) {
	path := "/v1/wallets/" + url.PathEscape(customerID) + "/debits"
	payload := debitRequest{Amount: amount.StringFixed(2), Note: note}
	var body debitResponse
	if err := c.do(ctx, "debit", http.MethodPost, path, payload, &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.TransactionID) == "" {
		return "", errors.New("wallet ledger: empty transaction id")
	}
	return body.TransactionID, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any, out any) (err error) {
	if c == nil || c.baseURL == "" {
		return ErrLedgerUnavailable
	}
	start := time.Now()
	defer func() {
		c.recordLatency(ctx, op, time.Since(start), err)
	}()

	var reader io.Reader
	if payload != nil {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return fmt.Errorf("wallet ledger: marshal request: %w", marshalErr)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("wallet ledger: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			return nil, readStatusError(resp)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrLedgerUnavailable
		}
		return fmt.Errorf("wallet ledger %s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCustomerNotFound
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusConflict:
		return ErrInsufficientFunds
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return readStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("wallet ledger %s: decode response: %w", op, err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func (c *Client) recordLatency(ctx context.Context, op string, d time.Duration, err error) {
	if c.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", op),
		attribute.Bool("success", err == nil),
	}
	c.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}
