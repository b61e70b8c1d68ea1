// Package smtp implements the relay's inbound SMTP surface: a localhost
// listener, a per-connection session state machine, and gateway hand-off.
package smtp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gmailtools/smtp-relay/internal/gateway"
	"github.com/gmailtools/smtp-relay/internal/policy"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:1025").
	ListenAddr string

	// Hostname is the server hostname used in the banner and greetings.
	Hostname string

	// Policy validates claimed senders before any outbound work.
	Policy *policy.Policy

	// Gateway is the outbound delivery backend.
	Gateway gateway.Gateway

	// MaxMessageSize caps the DATA payload in bytes; zero means no cap.
	MaxMessageSize int64
}

// Server is an SMTP server that accepts connections and relays accepted
// messages through a Gateway. Sessions are fully independent; the only
// shared state is the read-only policy and gateway configuration.
type Server struct {
	config ServerConfig

	mu       sync.Mutex
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg         sync.WaitGroup
	inShutdown atomic.Bool
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	return &Server{config: cfg}
}

// ListenAndServe starts the SMTP server and blocks until the context is
// cancelled or Shutdown is called. It then stops accepting new connections
// and waits up to 30 seconds for in-flight sessions to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.inShutdown.Load() {
		// Shutdown raced the bind; nothing to serve.
		ln.Close()
		return nil
	}

	slog.Info("SMTP relay listening",
		"addr", ln.Addr().String(),
		"gateway", s.config.Gateway.Name(),
		"restricted", s.config.Policy.Restricted(),
	)

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				// Expected error from listener close during shutdown
				s.waitForSessions()
				return nil
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session := NewSession(
				conn,
				s.config.Policy,
				s.config.Gateway,
				s.config.Hostname,
				s.config.MaxMessageSize,
			)
			session.Handle(ctx)
		}()
	}
}

// Shutdown stops the listener. It is safe to call any number of times and
// from any goroutine; only the first call has an effect, so a repeated
// termination signal is a no-op.
func (s *Server) Shutdown() {
	if !s.inShutdown.CompareAndSwap(false, true) {
		return
	}

	slog.Info("shutting down SMTP relay")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
