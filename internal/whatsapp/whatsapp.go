// Package whatsapp connects ScreenPipe to WhatsApp through whatsmeow.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/ScreenPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	// DefaultSQLitePath holds the whatsmeow device session when no DSN is given.
	DefaultSQLitePath = "/var/lib/screenpipe/whatsmeow.db"
	// JIDSuffix is the server part of a personal WhatsApp JID.
	JIDSuffix = "s.whatsapp.net"
)

var errNotConnected = errors.New("whatsapp client not connected")

// WhatsAppSender sends a text message to a chat. *Client and *MockClient satisfy it.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts configures the whatsmeow session store and the first-run login.
type Opts struct {
	DBDSN       string // session store DSN, SQLite path or Postgres URL
	QRPath      string // login QR destination; stdout when empty
	NumericCode bool   // print the raw pairing code instead of a QR block
}

// Option mutates Opts.
type Option func(*Opts)

// WithDBDSN selects the session store.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the pairing code as text.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client is a connected whatsmeow session.
type Client struct {
	waClient *whatsmeow.Client
}

var _ WhatsAppSender = (*Client)(nil)

func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		return "postgres"
	}
	return "sqlite3"
}

func hasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "foreign_keys")
}

// needsForeignKeyWarning is true for SQLite stores opened without foreign keys,
// which whatsmeow relies on for cascading device deletes.
func needsForeignKeyWarning(dsn string) bool {
	return driverFor(dsn) == "sqlite3" && !hasForeignKeys(dsn)
}

// NewClient opens the session store and connects, running the QR login when
// the store has no paired device yet.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultSQLitePath
	}
	ctx := context.Background()

	wa, err := openSession(ctx, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if wa.Store.ID == nil {
		err = pair(ctx, wa, cfg)
	} else {
		err = wa.Connect()
	}
	if err != nil {
		return nil, fmt.Errorf("whatsapp connect: %w", err)
	}
	slog.Info("WhatsApp connected", "jid", wa.Store.ID)
	return &Client{waClient: wa}, nil
}

func openSession(ctx context.Context, dsn string) (*whatsmeow.Client, error) {
	driver := driverFor(dsn)
	slog.Debug("WhatsApp session store", "driver", driver)
	if needsForeignKeyWarning(dsn) {
		slog.Warn("WhatsApp SQLite store opened without foreign keys; append ?_foreign_keys=on",
			"suggested_dsn", "file:"+dsn+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp device: %w", err)
	}
	return whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true)), nil
}

// pair connects an unpaired session and renders every login code until the
// QR channel closes.
func pair(ctx context.Context, wa *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp device not paired, waiting for QR scan")
	codes, err := wa.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := wa.Connect(); err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("qr output: %w", err)
		}
		defer f.Close()
		out = f
	}
	for item := range codes {
		switch {
		case item.Event != whatsmeow.QRChannelEventCode:
			slog.Info("WhatsApp pairing", "event", item.Event)
		case cfg.NumericCode:
			fmt.Fprintln(out, item.Code)
		default:
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, out)
		}
	}
	return nil
}

// SendMessage delivers a text message. to may be a chat id
// ("919876543210@c.us"), a JID or a bare phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return errNotConnected
	}
	if body == "" {
		return errors.New("whatsapp: empty message body")
	}
	user, err := PhoneDigits(to)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, types.NewJID(user, JIDSuffix), msg); err != nil {
		slog.Error("WhatsApp send failed", "to", user, "error", err)
		return fmt.Errorf("whatsapp send to %s: %w", user, err)
	}
	slog.Debug("WhatsApp sent", "to", user, "body_length", len(body))
	return nil
}

// GetClient exposes the whatsmeow client so callers can subscribe to events.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}
