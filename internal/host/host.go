// ABOUTME: Host supervisor that coordinates the gRPC and HTTP servers.
// ABOUTME: Manages listener setup, lifecycle, and graceful shutdown of the relay.

package host

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/agent-relay/internal/config"
	"github.com/2389/agent-relay/internal/relay"
	"github.com/2389/agent-relay/internal/store"
	"github.com/2389/agent-relay/internal/wire"
)

// Host orchestrates the relay server components: the gRPC server carrying
// worker channels and control calls, and an HTTP server for health checks.
type Host struct {
	config     *config.Config
	exchange   *relay.Exchange
	states     store.Store
	grpcServer *grpc.Server
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this relay instance in logs.
	serverID string
}

// New creates a new Host instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Host, error) {
	exchange := relay.NewExchange(relay.Options{
		QueueSize:      cfg.Queues.Size,
		OverflowPolicy: relay.OverflowPolicy(cfg.Queues.OverflowPolicy),
		RequestTimeout: cfg.Requests.Timeout,
	}, logger.With("component", "exchange"))

	var states store.Store
	if cfg.Database.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing state store: %w", err)
		}
		states = s
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	h := &Host{
		config:     cfg,
		exchange:   exchange,
		states:     states,
		grpcServer: grpcServer,
		logger:     logger.With("component", "host"),
		serverID:   generateServerID(),
	}

	wire.RegisterAgentHostServer(grpcServer, newAgentHostService(exchange, states, logger.With("component", "grpc")))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReady)

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h, nil
}

// Exchange exposes the underlying exchange, mainly for tests and readiness.
func (h *Host) Exchange() *relay.Exchange {
	return h.exchange
}

// setupListeners creates TCP listeners for gRPC and HTTP.
func (h *Host) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	h.logger.Info("starting relay host",
		"server_id", h.serverID,
		"grpc_addr", h.config.Server.GRPCAddr,
		"http_addr", h.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", h.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", h.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// startServers starts the gRPC and HTTP servers in goroutines, returning an
// error channel carrying any server failure.
func (h *Host) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		h.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := h.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		h.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := h.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (h *Host) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		h.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		h.logger.Error("server error", "error", err)
		h.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (h *Host) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		h.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the relay servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (h *Host) Run(ctx context.Context) error {
	grpcListener, httpListener, err := h.setupListeners()
	if err != nil {
		return err
	}

	errCh := h.startServers(grpcListener, httpListener)
	serverErr := h.waitForShutdownSignal(ctx, errCh)

	shutdownErr := h.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the run context is already
// canceled by the time this is called.
func (h *Host) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on
// context cancel.
func (h *Host) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		h.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		h.grpcServer.Stop()
	}
}

// Shutdown gracefully stops all host servers and releases resources.
func (h *Host) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down relay host")

	var errs []error
	if err := h.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	h.shutdownGRPCServer(ctx)

	if h.states != nil {
		if err := h.states.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one client is connected.
func (h *Host) handleReady(w http.ResponseWriter, r *http.Request) {
	clients := h.exchange.ConnectedClients()
	if clients == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no clients connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d clients)", clients)
}

// generateServerID creates a unique identifier for this relay instance.
func generateServerID() string {
	return fmt.Sprintf("agent-relay-%d", time.Now().UnixNano()%1000000)
}
