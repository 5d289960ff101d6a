// Package api provides the HTTP server for ScreenPipe.
//
// It exposes the /ask endpoint used by the chat relay, admin endpoints to
// inspect and reset conversations, and health and metrics endpoints. Run also
// supervises the optional messaging transport so both stop together.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/messaging"
	"github.com/BTreeMap/ScreenPipe/internal/metrics"
	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/store"
	"golang.org/x/sync/errgroup"
)

// Default configuration constants
const (
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds slow clients sending headers
	DefaultReadHeaderTimeout = 10 * time.Second
	// TwilioWebhookPath is where Twilio posts inbound WhatsApp messages
	TwilioWebhookPath = "/webhook/twilio"
)

// Engine is the screening engine as seen by the HTTP layer.
type Engine interface {
	Process(ctx context.Context, sender, message string) (models.Reply, error)
	State(ctx context.Context, sender string) (*models.ConversationState, error)
	Reset(ctx context.Context, sender string) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr        string
	Transcripts store.TranscriptLogger
	Dedup       store.DedupRepo
	Metrics     *metrics.Metrics
	MsgService  messaging.Service
	RespHandler *messaging.ResponseHandler
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTranscripts enables GET /transcript/{sender}.
func WithTranscripts(t store.TranscriptLogger) Option {
	return func(o *Opts) {
		o.Transcripts = t
	}
}

// WithDedup drops repeated /ask requests carrying the same message id.
func WithDedup(d store.DedupRepo) Option {
	return func(o *Opts) {
		o.Dedup = d
	}
}

// WithMetrics exposes the registry on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) {
		o.Metrics = m
	}
}

// WithMessaging attaches a chat transport and the handler that drains it.
// A *messaging.TwilioService also gets its webhook mounted.
func WithMessaging(svc messaging.Service, rh *messaging.ResponseHandler) Option {
	return func(o *Opts) {
		o.MsgService = svc
		o.RespHandler = rh
	}
}

// Server holds the dependencies for the API handlers.
type Server struct {
	engine      Engine
	transcripts store.TranscriptLogger
	dedup       store.DedupRepo
	metrics     *metrics.Metrics
	msgService  messaging.Service
	respHandler *messaging.ResponseHandler
	addr        string
	mux         *http.ServeMux
	started     time.Time
}

// NewServer creates a new API server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		engine:      engine,
		transcripts: cfg.Transcripts,
		dedup:       cfg.Dedup,
		metrics:     cfg.Metrics,
		msgService:  cfg.MsgService,
		respHandler: cfg.RespHandler,
		addr:        cfg.Addr,
		mux:         http.NewServeMux(),
		started:     time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ask", s.askHandler)
	s.mux.HandleFunc("/state/", s.stateHandler)
	s.mux.HandleFunc("/transcript/", s.transcriptHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	if tw, ok := s.msgService.(*messaging.TwilioService); ok {
		s.mux.HandleFunc(TwilioWebhookPath, tw.TwilioWebhookHandler)
		slog.Debug("Server routes: Twilio webhook mounted", "path", TwilioWebhookPath)
	}
}

// Handler returns the root handler with request ids attached.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Run serves HTTP and the messaging transport until ctx is cancelled or one
// of them fails. It returns after both have shut down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.msgService != nil {
		if err := s.msgService.Start(gctx); err != nil {
			return err
		}
		if s.respHandler != nil {
			s.respHandler.Start(gctx)
		}
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("Server Run stopping messaging service")
			err := s.msgService.Stop()
			if s.respHandler != nil {
				s.respHandler.Wait()
			}
			return err
		})
	}

	g.Go(func() error {
		slog.Info("ScreenPipe API listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server Run listen failed", "error", err, "addr", s.addr)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Server Run shutting down HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
