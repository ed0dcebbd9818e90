// Package api provides the HTTP REST API and WebSocket server for Hearth Core.
//
// It exposes the device registry, discovery and command operations, and
// real-time event push to user interfaces (wall panels, mobile apps, web
// admin).
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthd/hearth-core/internal/event"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/logging"
	"github.com/hearthd/hearth-core/internal/protocol"
	"github.com/hearthd/hearth-core/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Coordinator is the device coordination surface the API exposes. It is
// satisfied by *hub.Hub.
type Coordinator interface {
	DiscoverAllDevices(ctx context.Context) map[string][]protocol.Descriptor
	SendDeviceCommand(ctx context.Context, deviceID, command string, params map[string]any) bool
	GetAvailableProtocols() []string
	IsProtocolActive(name string) bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Store   store.DeviceStore
	Hub     Coordinator
	Bus     *event.Bus
	Version string
}

// Server is the HTTP API server for Hearth Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	store   store.DeviceStore
	hub     Coordinator
	bus     *event.Bus
	version string

	server *http.Server
	wsHub  *wsHub
	subs   []*event.Subscription
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, store, hub, bus)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		store:   deps.Store,
		hub:     deps.Hub,
		bus:     deps.Bus,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, subscribes to the event
// bus for real-time WebSocket broadcast, and launches the HTTP listener in a
// background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop the WebSocket hub independently
	// of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wsHub = newWSHub(s.wsCfg, s.logger)
	go s.wsHub.run(srvCtx)

	s.subscribeEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	s.subs = nil

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// subscribeEvents relays device and command events from the bus to
// WebSocket clients subscribed to the matching channel.
func (s *Server) subscribeEvents() {
	relay := func(e event.Event) error {
		s.wsHub.broadcast(string(e.Type), e)
		return nil
	}

	for _, t := range []event.Type{
		event.TypeDeviceFound,
		event.TypeDeviceStateChanged,
		event.TypeDeviceConnected,
		event.TypeDeviceDisconnected,
		event.TypeCommandSent,
	} {
		s.subs = append(s.subs, s.bus.Subscribe(t, func(_ context.Context, e event.Event) error {
			return relay(e)
		}))
	}
}
