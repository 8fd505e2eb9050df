// Package api provides the HTTP surface of AssistPipe.
//
// It exposes the Twilio inbound webhook, a health check, and an operational
// /send endpoint for manual message delivery.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/messaging"
	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/gorilla/mux"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// ResponseEmitter receives inbound webhook deliveries; the Twilio messaging
// service implements it.
type ResponseEmitter interface {
	EmitResponse(response models.Response)
}

// Server hosts the HTTP endpoints.
type Server struct {
	addr       string
	router     *mux.Router
	msgService messaging.Service
	emitter    ResponseEmitter
	httpServer *http.Server
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	MsgService messaging.Service
	Emitter    ResponseEmitter
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithMessagingService sets the outbound messaging service.
func WithMessagingService(svc messaging.Service) Option {
	return func(o *Opts) { o.MsgService = svc }
}

// WithEmitter sets the sink for inbound webhook deliveries.
func WithEmitter(e ResponseEmitter) Option {
	return func(o *Opts) { o.Emitter = e }
}

// NewServer creates the API server and registers its routes.
func NewServer(opts ...Option) (*Server, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MsgService == nil {
		return nil, fmt.Errorf("messaging service must be provided")
	}

	s := &Server{
		addr:       cfg.Addr,
		router:     mux.NewRouter(),
		msgService: cfg.MsgService,
		emitter:    cfg.Emitter,
	}
	s.router.HandleFunc("/webhook", s.webhookHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/send", s.sendHandler).Methods(http.MethodPost)
	return s, nil
}

// Handler exposes the router (for tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown: %w", err)
		}
		return nil
	}
}
