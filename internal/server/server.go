// ABOUTME: Portal server orchestrator wiring store, hub, NATS, and simulator.
// ABOUTME: Manages the HTTP listener (TCP or Tailscale) and graceful shutdown.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/hireloop/inbox/internal/auth"
	"github.com/hireloop/inbox/internal/config"
	"github.com/hireloop/inbox/internal/hub"
	"github.com/hireloop/inbox/internal/simulate"
	"github.com/hireloop/inbox/internal/store"
)

const (
	natsConnectTimeout = 5 * time.Second
	natsReconnectWait  = 2 * time.Second
)

// Server is the dev portal: REST API, WebSocket push, optional NATS
// publishing, and the synthetic traffic generator.
type Server struct {
	config      *config.Config
	store       store.Store
	hub         *hub.Hub
	verifier    *auth.JWTVerifier
	nc          *nats.Conn
	sim         *simulate.Simulator
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("INBOX_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a portal server from configuration. Network resources
// (listener, NATS connection) are acquired later, in Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		config:   cfg,
		store:    s,
		hub:      hub.New(logger),
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The dev portal serves local tooling, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "server"),
	}

	if cfg.Simulator.Enabled {
		srv.sim = simulate.New(srv, simulate.Config{
			Interval:      cfg.Simulator.Interval,
			GhostRatio:    cfg.Simulator.GhostRatio,
			NewcomerRatio: cfg.Simulator.NewcomerRatio,
		}, logger)
	}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// registerRoutes wires the REST and WebSocket endpoints onto the mux.
// Everything except login and the health probe requires a valid token.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/login", s.handleLogin)

	authed := auth.Middleware(s.verifier)
	mux.Handle("/api/me", authed(http.HandlerFunc(s.handleMe)))
	mux.Handle("/api/conversations", authed(http.HandlerFunc(s.handleListConversations)))
	mux.Handle("/api/conversations/", authed(http.HandlerFunc(s.handleConversationRoutes)))
	mux.Handle("/api/profiles/", authed(http.HandlerFunc(s.handleGetProfile)))
	mux.Handle("/api/messages", authed(http.HandlerFunc(s.handleSendMessage)))
	mux.Handle("/ws", authed(http.HandlerFunc(s.handleWS)))
}

// Run starts the portal and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	if s.config.NATS.Enabled {
		nc, err := s.connectNATS()
		if err != nil {
			return err
		}
		s.nc = nc
	}

	if s.sim != nil {
		if err := s.sim.Start(ctx); err != nil {
			return fmt.Errorf("starting simulator: %w", err)
		}
	}

	listener, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := s.startServer(listener)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// connectNATS opens the publishing connection to the NATS broker.
func (s *Server) connectNATS() (*nats.Conn, error) {
	nc, err := nats.Connect(s.config.NATS.URL,
		nats.Name("hireloop-portal"),
		nats.Timeout(natsConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", s.config.NATS.URL, err)
	}
	s.logger.Info("NATS publishing enabled", "url", s.config.NATS.URL, "subject_prefix", s.config.NATS.SubjectPrefix)
	return nc, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr,
			)
		}
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Info("starting portal", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using the default
// if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "hireloop-portal", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns its HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the portal and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down portal")

	if s.sim != nil {
		s.sim.Stop()
	}

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.hub.CloseAll()

	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			errs = appendCloseError(errs, "NATS drain", err)
			s.nc.Close()
		}
	}

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealthz returns 200 OK if the server is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
