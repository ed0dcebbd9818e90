package hub

import (
	"context"
	"sort"
	"sync"

	"github.com/hearthd/hearth-core/internal/event"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthd/hearth-core/internal/protocol"
	"github.com/hearthd/hearth-core/internal/store"
)

// Logger is the minimal logging interface the hub needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hub coordinates the protocol handlers. It routes commands to the
// handler owning a device, fans discovery out across all handlers, and
// persists discoveries and state changes reported on the event bus.
//
// The hub is deliberately forgiving: a failing handler, store, or
// telemetry sink degrades that one concern and is logged, never
// propagated as a hard failure.
type Hub struct {
	cfg    *config.Config
	bus    *event.Bus
	store  store.DeviceStore
	influx *influxdb.Client
	logger Logger

	mu       sync.RWMutex
	handlers map[string]protocol.Handler
	subs     []*event.Subscription
	started  bool
}

// New builds a hub with one handler per protocols.enabled entry. Names
// without a registered handler are logged and skipped so a typo in
// config cannot prevent startup. The MQTT client and InfluxDB client may
// be nil when those integrations are down or disabled.
func New(cfg *config.Config, bus *event.Bus, st store.DeviceStore, logger Logger, mqttClient *mqtt.Client, influx *influxdb.Client) *Hub {
	if logger == nil {
		logger = noopLogger{}
	}

	h := &Hub{
		cfg:      cfg,
		bus:      bus,
		store:    st,
		influx:   influx,
		logger:   logger,
		handlers: make(map[string]protocol.Handler),
	}

	deps := protocol.Deps{
		Config: cfg,
		Bus:    bus,
		Logger: logger,
		MQTT:   mqttClient,
	}

	for _, name := range cfg.Protocols.Enabled {
		handler, err := protocol.Build(name, deps)
		if err != nil {
			h.logger.Warn("unknown protocol in config, skipping",
				"protocol", name,
				"available", protocol.Available(),
			)
			continue
		}
		h.handlers[handler.Protocol()] = handler
	}

	return h
}

// Start subscribes the hub's persistence handlers to the bus and starts
// every protocol handler. A handler that fails to start is logged and
// left stopped; the rest continue.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	subs := []*event.Subscription{
		h.bus.Subscribe(event.TypeDeviceFound, h.onDeviceFound),
		h.bus.Subscribe(event.TypeDeviceStateChanged, h.onDeviceStateChanged),
		h.bus.Subscribe(event.TypeCommandSent, h.onCommandSent),
	}
	h.mu.Lock()
	h.subs = subs
	h.mu.Unlock()

	for name, handler := range h.snapshotHandlers() {
		if err := handler.Start(ctx); err != nil {
			h.logger.Error("protocol handler failed to start",
				"protocol", name,
				"error", err,
			)
			continue
		}
		h.logger.Info("protocol handler started", "protocol", name)
	}

	return nil
}

// Stop stops every handler and removes the hub's bus subscriptions.
// Each handler is stopped regardless of how the others fare.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	for name, handler := range h.snapshotHandlers() {
		handler.Stop()
		h.logger.Info("protocol handler stopped", "protocol", name)
	}

	for _, sub := range subs {
		h.bus.Unsubscribe(sub)
	}
}

// DiscoverAllDevices runs discovery on every handler concurrently, each
// bounded by the configured discovery timeout. A failing handler
// contributes an empty list; the result always has one entry per
// handler.
func (h *Hub) DiscoverAllDevices(ctx context.Context) map[string][]protocol.Descriptor {
	handlers := h.snapshotHandlers()

	results := make(map[string][]protocol.Descriptor, len(handlers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, handler := range handlers {
		wg.Add(1)
		go func(name string, handler protocol.Handler) {
			defer wg.Done()

			discoverCtx, cancel := context.WithTimeout(ctx, h.cfg.GetDiscoveryTimeout())
			defer cancel()

			devices, err := handler.DiscoverDevices(discoverCtx)
			if err != nil {
				h.logger.Warn("discovery failed", "protocol", name, "error", err)
				devices = nil
			}
			if devices == nil {
				devices = []protocol.Descriptor{}
			}

			mu.Lock()
			results[name] = devices
			mu.Unlock()
		}(name, handler)
	}
	wg.Wait()

	return results
}

// SendDeviceCommand routes a command to the handler owning the device.
// The device's protocol comes from the store. Every failure (unknown
// device, no handler, handler error) is logged and reported as false;
// success emits a command.sent event.
func (h *Hub) SendDeviceCommand(ctx context.Context, deviceID, command string, params map[string]any) bool {
	device, err := h.store.GetDevice(ctx, deviceID)
	if err != nil {
		h.logger.Warn("command for unknown device",
			"device_id", deviceID,
			"command", command,
			"error", err,
		)
		return false
	}

	h.mu.RLock()
	handler, ok := h.handlers[device.Protocol]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("no handler for device protocol",
			"device_id", deviceID,
			"protocol", device.Protocol,
		)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.cfg.GetCommandTimeout())
	defer cancel()

	if err := handler.SendCommand(sendCtx, deviceID, command, params); err != nil {
		h.logger.Warn("command delivery failed",
			"device_id", deviceID,
			"protocol", device.Protocol,
			"command", command,
			"error", err,
		)
		return false
	}

	h.bus.Emit(event.New(event.TypeCommandSent, map[string]any{
		"device_id": deviceID,
		"protocol":  device.Protocol,
		"command":   command,
		"params":    params,
	}, event.WithSource("hub"), event.WithTarget(deviceID)))

	h.logger.Info("command sent", "device_id", deviceID, "command", command)
	return true
}

// GetAvailableProtocols returns the protocols the hub holds handlers
// for, sorted.
func (h *Hub) GetAvailableProtocols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsProtocolActive reports whether the named protocol's handler is
// running.
func (h *Hub) IsProtocolActive(name string) bool {
	h.mu.RLock()
	handler, ok := h.handlers[name]
	h.mu.RUnlock()
	return ok && handler.Running()
}

func (h *Hub) snapshotHandlers() map[string]protocol.Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := make(map[string]protocol.Handler, len(h.handlers))
	for name, handler := range h.handlers {
		snapshot[name] = handler
	}
	return snapshot
}
