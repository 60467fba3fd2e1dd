package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SessionHandler is invoked once per accepted WebSocket connection. It owns
// the connection for its lifetime and must return when the connection
// closes, shuts down, or the session ends for any other reason.
type SessionHandler func(ctx context.Context, conn *Conn)

// Server is the inbound WebSocket listener: one HTTP server whose root
// route performs the upgrade handshake and hands the resulting connection
// to handler, alongside any callback routes given to NewServer.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Config configures the listener.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	Insecure    bool
}

// NewServer builds a Server bound to addr that dispatches every upgraded
// connection to handler. callbackRoutes mounts additional plain HTTP
// handlers alongside the WebSocket endpoint — e.g. the messenger adapter's
// inbound callback receiver — keyed by path.
func NewServer(cfg Config, handler SessionHandler, callbackRoutes map[string]http.HandlerFunc, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	for path, h := range callbackRoutes {
		mux.HandleFunc(path, h)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "upgrade failed", http.StatusBadRequest)
			return
		}
		handler(r.Context(), conn)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe runs the server until it is shut down. cfg selects
// TLS vs. plaintext; per spec §6.1 plaintext is refused unless Insecure
// is set, which the config validator already enforces before this is
// reached.
func ListenAndServe(srv *Server, cfg Config) error {
	if cfg.Insecure {
		srv.logger.Warn("listening without TLS", "addr", cfg.ListenAddr)
		if err := srv.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("load TLS key pair: %w", err)
	}
	srv.httpServer.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if err := srv.httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve tls: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting up to the context deadline
// for in-flight handshakes to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
