package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Defaults for the relay notifier.
const (
	DefaultRelayURL     = "http://localhost:3000/notify"
	DefaultRelayTimeout = 5 * time.Second
	// maxErrorBody caps how much of a failed response body is kept in the error.
	maxErrorBody = 512
)

// ErrRelayStatus is returned when the relay answers with a non-2xx status.
var ErrRelayStatus = errors.New("relay returned non-success status")

// Opts holds configuration for the relay notifier.
type Opts struct {
	URL        string
	HTTPClient *http.Client
	Breaker    *gobreaker.Settings
}

// Option configures the relay notifier.
type Option func(*Opts)

// WithURL sets the relay endpoint.
func WithURL(url string) Option {
	return func(o *Opts) {
		o.URL = url
	}
}

// WithHTTPClient sets the HTTP client used for relay calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithBreakerSettings overrides the circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(o *Opts) {
		o.Breaker = &s
	}
}

// relayRequest is the body the chat relay's /notify endpoint expects.
type relayRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Relay POSTs summaries to the chat relay. Calls go through a circuit breaker
// so a dead relay fails fast instead of tying up every completion.
type Relay struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

var _ Notifier = (*Relay)(nil)

// DefaultBreakerSettings trips after 5 consecutive failures, or a 60% failure
// rate over at least 10 requests.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "notify-relay",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Relay circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
}

// NewRelay creates a relay notifier.
func NewRelay(opts ...Option) *Relay {
	cfg := Opts{URL: DefaultRelayURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRelayTimeout}
	}
	settings := DefaultBreakerSettings()
	if cfg.Breaker != nil {
		settings = *cfg.Breaker
	}
	return &Relay{
		url:    cfg.URL,
		client: cfg.HTTPClient,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

func (r *Relay) Name() string { return ModeRelay }

// State reports the circuit breaker state.
func (r *Relay) State() gobreaker.State {
	return r.cb.State()
}

// Notify posts {to, message} to the relay.
func (r *Relay) Notify(ctx context.Context, to, message string) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.post(ctx, to, message)
	})
	if err != nil {
		slog.Debug("Relay Notify failed", "url", r.url, "to", to, "error", err)
		return fmt.Errorf("relay notify: %w", err)
	}
	slog.Debug("Relay Notify succeeded", "url", r.url, "to", to)
	return nil
}

func (r *Relay) post(ctx context.Context, to, message string) error {
	payload, err := json.Marshal(relayRequest{To: to, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %d %s", ErrRelayStatus, resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
