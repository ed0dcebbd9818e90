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
	goveeResponsePort = "4002"
	goveeScanWindow   = 3 * time.Second
)

// goveeHandler speaks the Govee LAN control API. A scan request goes out
// over UDP multicast; devices answer on port 4002 with their address and
// SKU. Commands go directly to the device's control port as JSON.
type goveeHandler struct {
	lifecycle

	cfg    config.GoveeConfig
	bus    EventSink
	logger Logger

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newGoveeHandler(deps Deps) (Handler, error) {
	return &goveeHandler{
		cfg:     deps.Config.Protocols.Govee,
		bus:     deps.Bus,
		logger:  deps.Logger,
		devices: make(map[string]Descriptor),
	}, nil
}

func (h *goveeHandler) Protocol() string { return "govee" }
func (h *goveeHandler) Running() bool    { return h.isRunning() }

func (h *goveeHandler) Start(ctx context.Context) error {
	if h.cfg.MulticastAddr == "" {
		return fmt.Errorf("govee handler: no multicast address configured")
	}
	if !h.begin() {
		return nil
	}

	interval := time.Duration(h.cfg.ScanInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	h.loop(ctx, interval, func(loopCtx context.Context) error {
		_, err := h.scan(loopCtx)
		if err != nil {
			h.logger.Warn("govee scan failed", "error", err)
		}
		return err
	})

	h.logger.Info("govee handler started", "multicast", h.cfg.MulticastAddr)
	return nil
}

func (h *goveeHandler) Stop() {
	if !h.isRunning() {
		return
	}
	h.end()
	h.logger.Info("govee handler stopped")
}

func (h *goveeHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}
	return h.scan(ctx)
}

func (h *goveeHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	h.devMu.RLock()
	d, known := h.devices[deviceID]
	h.devMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	payload, err := json.Marshal(map[string]any{
		"msg": map[string]any{
			"cmd":  goveeCommand(command),
			"data": goveeCommandData(command, params),
		},
	})
	if err != nil {
		return fmt.Errorf("govee handler: encoding command: %w", err)
	}

	addr := net.JoinHostPort(d.Address, fmt.Sprintf("%d", h.cfg.ControlPort))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	h.logger.Debug("govee command delivered", "device_id", deviceID, "command", command)
	return nil
}

// goveeCommand maps Hearth commands to the LAN API command names.
func goveeCommand(command string) string {
	switch command {
	case "turn_on", "turn_off":
		return "turn"
	case "set_brightness":
		return "brightness"
	case "set_color":
		return "colorwc"
	default:
		return command
	}
}

func goveeCommandData(command string, params map[string]any) map[string]any {
	switch command {
	case "turn_on":
		return map[string]any{"value": 1}
	case "turn_off":
		return map[string]any{"value": 0}
	default:
		if params == nil {
			return map[string]any{}
		}
		return params
	}
}

// scan multicasts a scan request and collects responses for the scan
// window.
func (h *goveeHandler) scan(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listener, err := net.ListenPacket("udp4", ":"+goveeResponsePort)
	if err != nil {
		return nil, fmt.Errorf("govee handler: listening for responses: %w", err)
	}
	defer listener.Close()

	request, err := json.Marshal(map[string]any{
		"msg": map[string]any{
			"cmd": "scan",
			"data": map[string]any{
				"account_topic": "reserve",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("govee handler: encoding scan request: %w", err)
	}

	multicast, err := net.ResolveUDPAddr("udp4", h.cfg.MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("govee handler: resolving multicast address: %w", err)
	}
	if _, err := listener.WriteTo(request, multicast); err != nil {
		return nil, fmt.Errorf("govee handler: sending scan request: %w", err)
	}

	if err := listener.SetReadDeadline(time.Now().Add(goveeScanWindow)); err != nil {
		return nil, fmt.Errorf("govee handler: setting deadline: %w", err)
	}

	var found []Descriptor
	buf := make([]byte, 2048)
	for {
		n, _, err := listener.ReadFrom(buf)
		if err != nil {
			break // deadline reached
		}
		if d, ok := h.ingestResponse(buf[:n]); ok {
			found = append(found, d)
		}
	}
	return found, nil
}

func (h *goveeHandler) ingestResponse(payload []byte) (Descriptor, bool) {
	var msg struct {
		Msg struct {
			Cmd  string `json:"cmd"`
			Data struct {
				IP     string `json:"ip"`
				Device string `json:"device"`
				SKU    string `json:"sku"`
			} `json:"data"`
		} `json:"msg"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Descriptor{}, false
	}
	if msg.Msg.Cmd != "scan" || msg.Msg.Data.IP == "" || msg.Msg.Data.Device == "" {
		return Descriptor{}, false
	}

	d := Descriptor{
		ID:           "govee_" + sanitizeAddress(msg.Msg.Data.Device),
		Name:         msg.Msg.Data.SKU,
		Type:         "light",
		Protocol:     "govee",
		Address:      msg.Msg.Data.IP,
		Capabilities: []string{"on_off", "brightness", "color", "effects"},
		State:        map[string]any{"online": true},
	}

	h.devMu.Lock()
	_, known := h.devices[d.ID]
	h.devices[d.ID] = d
	h.devMu.Unlock()

	if !known {
		h.logger.Info("govee device discovered", "device_id", d.ID, "address", d.Address)
		emitFound(h.bus, d)
	}
	return d, true
}
