// Package twiliowhatsapp sends WhatsApp messages through the Twilio REST API.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// channelPrefix marks a Twilio address as a WhatsApp endpoint.
const channelPrefix = "whatsapp:"

var (
	// ErrMissingCredentials is returned when the account SID or auth token is unset.
	ErrMissingCredentials = errors.New("twilio: account SID and auth token are required")
	// ErrMissingSender is returned when no sending number is configured.
	ErrMissingSender = errors.New("twilio: sending number is required")
)

// Sender sends a plain WhatsApp text through Twilio.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts carries Twilio credentials. Unset fields fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option mutates Opts.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, "whatsapp:+1234567890" or "+1234567890".
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client sends through one Twilio account and WhatsApp sender number.
type Client struct {
	rest *twilio.RestClient
	from string
}

var _ Sender = (*Client)(nil)

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

// NewClient builds a Client from opts and the environment.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.AccountSID = orEnv(cfg.AccountSID, "TWILIO_ACCOUNT_SID")
	cfg.AuthToken = orEnv(cfg.AuthToken, "TWILIO_AUTH_TOKEN")
	cfg.FromWhats = orEnv(cfg.FromWhats, "TWILIO_FROM_NUMBER")

	switch {
	case cfg.AccountSID == "" || cfg.AuthToken == "":
		return nil, ErrMissingCredentials
	case cfg.FromWhats == "":
		return nil, ErrMissingSender
	}

	from := cfg.FromWhats
	if !strings.HasPrefix(from, channelPrefix) {
		from = address(from)
	}
	slog.Debug("Twilio client ready", "from", from)
	return &Client{
		rest: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from: from,
	}, nil
}

// SendMessage sends body to a bare number or a chat id such as "919876543210@c.us".
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(c.from)
	params.SetTo(address(to))
	params.SetBody(body)

	resp, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio CreateMessage failed", "to", to, "error", err)
		return fmt.Errorf("twilio send to %s: %w", to, err)
	}
	if resp.Sid != nil {
		slog.Debug("Twilio message queued", "to", to, "sid", *resp.Sid)
	}
	return nil
}

func address(id string) string {
	return channelPrefix + ToE164(id)
}

// ToE164 turns a chat id or loosely formatted number into "+<digits>".
// Non-digit characters are dropped, not rejected.
func ToE164(id string) string {
	id = strings.TrimPrefix(strings.TrimSpace(id), channelPrefix)
	id, _, _ = strings.Cut(id, "@")
	return "+" + strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, id)
}
