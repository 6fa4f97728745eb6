// Package api exposes Palabra over HTTP: the Twilio messaging webhook, a
// JSON simulate endpoint for driving the engine without a transport, and a
// health check.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/Palabra/internal/messaging"
	"github.com/BTreeMap/Palabra/internal/models"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout guards against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
	// TwilioSignatureHeader carries the request signature Twilio computes.
	TwilioSignatureHeader = "X-Twilio-Signature"
)

// InboundQueue accepts webhook messages for asynchronous processing.
// *messaging.TwilioService satisfies it.
type InboundQueue interface {
	Deliver(msg models.InboundMessage) bool
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	handler messaging.MessageHandler
	queue   InboundQueue
	addr    string

	validator  *twilioclient.RequestValidator
	webhookURL string
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithInboundQueue enables the Twilio webhook. Messages are acknowledged at
// once and handed to q; the reply goes out over the REST API. Dedup by
// MessageSid happens downstream of q.
func WithInboundQueue(q InboundQueue) Option {
	return func(s *Server) { s.queue = q }
}

// WithTwilioSignature rejects webhook requests whose X-Twilio-Signature does
// not match authToken. webhookURL must be the public URL Twilio posts to.
func WithTwilioSignature(authToken, webhookURL string) Option {
	return func(s *Server) {
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
		s.webhookURL = webhookURL
	}
}

// NewServer creates a Server. handler answers /simulate turns.
func NewServer(handler messaging.MessageHandler, opts ...Option) *Server {
	s := &Server{handler: handler, addr: DefaultAddr}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("Server created", "addr", s.addr, "webhook_enabled", s.queue != nil, "signature_validation", s.validator != nil)
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/twilio/webhook", s.twilioWebhookHandler)
	mux.HandleFunc("/simulate", s.simulateHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server.Run: listen failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server shutting down", "timeout", DefaultShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return <-errCh
}
