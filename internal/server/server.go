// Package server provides the HTTP server hosting the integration
// endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hublink/hublink/internal/config"
	"github.com/hublink/hublink/internal/flow"
	"github.com/hublink/hublink/internal/integrations/hubspot"
	"github.com/hublink/hublink/internal/logger"
	"github.com/hublink/hublink/internal/notify"
	"github.com/hublink/hublink/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// shutdownTimeout is the maximum time to wait for server shutdown
	shutdownTimeout = 5 * time.Second
)

// Server wires the integration handlers into an http.Server.
type Server struct {
	config   *config.Config
	handler  *Handler
	sessions *session.Manager
}

// NewServer creates the HTTP server for the integration endpoints.
func NewServer(cfg *config.Config, provider *hubspot.Provider, states *flow.StateManager, vault *flow.CredentialVault, sessions *session.Manager, notifier *notify.Notifier) *Server {
	return &Server{
		config:   cfg,
		handler:  NewHandler(provider, states, vault, sessions, notifier),
		sessions: sessions,
	}
}

// basePath prefixes every integration route.
const basePath = "/integrations/" + hubspot.Name

// Routes builds the route table with session and CORS middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	requireSession := RequireSession(s.sessions)

	mux.HandleFunc("/healthz", s.handler.HandleHealth)
	mux.HandleFunc("/session", s.handler.HandleSession)

	// The callback authenticates via the state token, not the session
	mux.HandleFunc(basePath+"/callback", s.handler.HandleCallback)

	mux.Handle(basePath+"/authorize", requireSession(http.HandlerFunc(s.handler.HandleAuthorize)))
	mux.Handle(basePath+"/credentials", requireSession(http.HandlerFunc(s.handler.HandleCredentials)))
	mux.Handle(basePath+"/status", requireSession(http.HandlerFunc(s.handler.HandleStatus)))
	mux.Handle(basePath+"/load", requireSession(http.HandlerFunc(s.handler.HandleLoad)))

	return CORSWithOrigins(s.config.Server.AllowOrigins)(mux)
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	// Channel for server errors
	errChan := make(chan error, 1)

	go func() {
		logger.Info("Starting server", zap.String("address", addr))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server", zap.Duration("timeout", shutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}

// Module provides the server dependencies
var Module = fx.Module("server",
	fx.Provide(
		NewServer,
		func(cfg *config.Config) *session.Manager {
			return session.NewManager(cfg.Session.Secret, cfg.Session.TTL)
		},
		// Completion marks live at most as long as the credential they
		// announce stays retrievable.
		func(cfg *config.Config) *notify.Notifier {
			return notify.NewNotifier(cfg.Flow.CredentialTTL)
		},
	),
)
