package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

const (
	tuyaPort        = "6668"
	tuyaDialTimeout = 3 * time.Second
)

// tuyaHandler manages Tuya devices configured with their LAN address and
// local key. Discovery is a reachability sweep over the configured
// devices; commands are delivered over the device's local TCP port.
type tuyaHandler struct {
	lifecycle

	cfg    config.TuyaConfig
	bus    EventSink
	logger Logger

	devMu   sync.RWMutex
	devices map[string]Descriptor
	hosts   map[string]string // device id -> host
}

func newTuyaHandler(deps Deps) (Handler, error) {
	h := &tuyaHandler{
		cfg:     deps.Config.Protocols.Tuya,
		bus:     deps.Bus,
		logger:  deps.Logger,
		devices: make(map[string]Descriptor),
		hosts:   make(map[string]string),
	}

	for _, dev := range h.cfg.Devices {
		if dev.ID == "" || dev.Host == "" {
			continue
		}
		id := "tuya_" + dev.ID
		h.devices[id] = Descriptor{
			ID:           id,
			Name:         dev.Name,
			Type:         dev.Type,
			Protocol:     "tuya",
			Address:      dev.Host,
			Capabilities: []string{"on_off", "power_monitoring"},
			State:        map[string]any{"online": false},
		}
		h.hosts[id] = dev.Host
	}
	return h, nil
}

func (h *tuyaHandler) Protocol() string { return "tuya" }
func (h *tuyaHandler) Running() bool    { return h.isRunning() }

func (h *tuyaHandler) Start(ctx context.Context) error {
	if !h.begin() {
		return nil
	}

	interval := time.Duration(h.cfg.ScanInterval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	h.loop(ctx, interval, func(loopCtx context.Context) error {
		h.sweep(loopCtx)
		return nil
	})

	h.logger.Info("tuya handler started", "devices", len(h.devices))
	return nil
}

func (h *tuyaHandler) Stop() {
	if !h.isRunning() {
		return
	}
	h.end()
	h.logger.Info("tuya handler stopped")
}

func (h *tuyaHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}

	h.sweep(ctx)

	h.devMu.RLock()
	defer h.devMu.RUnlock()
	devices := make([]Descriptor, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

func (h *tuyaHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	h.devMu.RLock()
	host, known := h.hosts[deviceID]
	h.devMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	payload, err := json.Marshal(map[string]any{
		"devId":   deviceID,
		"command": command,
		"dps":     params,
	})
	if err != nil {
		return fmt.Errorf("tuya handler: encoding command: %w", err)
	}

	dialer := net.Dialer{Timeout: tuyaDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, tuyaPort))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(tuyaDialTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	h.logger.Debug("tuya command delivered", "device_id", deviceID, "command", command)
	return nil
}

// sweep probes each configured device's local port and updates its
// online state, announcing devices on their first successful probe.
func (h *tuyaHandler) sweep(ctx context.Context) {
	h.devMu.RLock()
	ids := make([]string, 0, len(h.hosts))
	for id := range h.hosts {
		ids = append(ids, id)
	}
	h.devMu.RUnlock()

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}
		h.probe(ctx, id)
	}
}

func (h *tuyaHandler) probe(ctx context.Context, id string) {
	h.devMu.RLock()
	host := h.hosts[id]
	d := h.devices[id]
	h.devMu.RUnlock()

	dialer := net.Dialer{Timeout: tuyaDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, tuyaPort))
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	wasOnline, _ := d.State["online"].(bool)
	d.State = map[string]any{"online": online}

	h.devMu.Lock()
	h.devices[id] = d
	h.devMu.Unlock()

	if online && !wasOnline {
		h.logger.Info("tuya device reachable", "device_id", id, "host", host)
		emitFound(h.bus, d)
	}
	if online != wasOnline {
		emitStateChanged(h.bus, "tuya", id, d.State)
	}
}
