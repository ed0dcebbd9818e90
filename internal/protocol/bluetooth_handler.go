package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

// bluetoothHandler manages the paired Bluetooth devices listed in
// configuration. Devices are announced at startup and re-announced on
// each scan pass; command delivery is acknowledged for known devices and
// left to the peripheral's own profile.
type bluetoothHandler struct {
	lifecycle

	cfg    config.BluetoothConfig
	bus    EventSink
	logger Logger

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newBluetoothHandler(deps Deps) (Handler, error) {
	h := &bluetoothHandler{
		cfg:     deps.Config.Protocols.Bluetooth,
		bus:     deps.Bus,
		logger:  deps.Logger,
		devices: make(map[string]Descriptor),
	}

	for _, dev := range h.cfg.Devices {
		if dev.Address == "" {
			continue
		}
		d := Descriptor{
			ID:           "bluetooth_" + sanitizeAddress(dev.Address),
			Name:         dev.Name,
			Type:         dev.Type,
			Protocol:     "bluetooth",
			Address:      dev.Address,
			Capabilities: []string{"connect", "disconnect"},
			State:        map[string]any{"paired": true},
		}
		h.devices[d.ID] = d
	}
	return h, nil
}

// sanitizeAddress turns a MAC address or host into an identifier-safe
// suffix.
func sanitizeAddress(addr string) string {
	out := make([]byte, 0, len(addr))
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c == ':' || c == '-' || c == '.' {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}

func (h *bluetoothHandler) Protocol() string { return "bluetooth" }
func (h *bluetoothHandler) Running() bool    { return h.isRunning() }

func (h *bluetoothHandler) Start(ctx context.Context) error {
	if !h.begin() {
		return nil
	}

	interval := time.Duration(h.cfg.ScanInterval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	h.loop(ctx, interval, func(context.Context) error {
		h.announceAll()
		return nil
	})

	h.logger.Info("bluetooth handler started",
		"adapter", h.cfg.Adapter,
		"paired_devices", len(h.devices),
	)
	return nil
}

func (h *bluetoothHandler) Stop() {
	if !h.isRunning() {
		return
	}
	h.end()
	h.logger.Info("bluetooth handler stopped")
}

func (h *bluetoothHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}

	h.devMu.RLock()
	defer h.devMu.RUnlock()
	devices := make([]Descriptor, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

func (h *bluetoothHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	h.devMu.RLock()
	d, known := h.devices[deviceID]
	h.devMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	h.logger.Debug("bluetooth command accepted",
		"device_id", deviceID,
		"address", d.Address,
		"command", command,
	)
	return nil
}

func (h *bluetoothHandler) announceAll() {
	h.devMu.RLock()
	defer h.devMu.RUnlock()
	for _, d := range h.devices {
		emitFound(h.bus, d)
	}
}
