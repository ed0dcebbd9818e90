package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

const zwaveDialTimeout = 10 * time.Second

// zwaveHandler speaks the zwave-js-server WebSocket API. On connect it
// requests the node list with start_listening; node updates stream in on
// the same socket. Commands become node.set_value calls.
type zwaveHandler struct {
	lifecycle

	cfg    config.ZWaveConfig
	bus    EventSink
	logger Logger

	connMu   sync.Mutex
	conn     *websocket.Conn
	stopping bool

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newZWaveHandler(deps Deps) (Handler, error) {
	return &zwaveHandler{
		cfg:     deps.Config.Protocols.ZWave,
		bus:     deps.Bus,
		logger:  deps.Logger,
		devices: make(map[string]Descriptor),
	}, nil
}

func (h *zwaveHandler) Protocol() string { return "zwave" }
func (h *zwaveHandler) Running() bool    { return h.isRunning() }

func (h *zwaveHandler) Start(ctx context.Context) error {
	if h.cfg.ServerURL == "" {
		return fmt.Errorf("zwave handler: no server url configured")
	}
	if !h.begin() {
		return nil
	}

	h.connMu.Lock()
	h.stopping = false
	h.connMu.Unlock()

	interval := time.Duration(h.cfg.ScanInterval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	// The loop doubles as a reconnect mechanism: each pass ensures the
	// gateway connection is up before refreshing the node list.
	h.loop(ctx, interval, func(loopCtx context.Context) error {
		if err := h.ensureConnected(loopCtx); err != nil {
			h.logger.Warn("zwave gateway unreachable", "url", h.cfg.ServerURL, "error", err)
			return err
		}
		return h.requestNodes()
	})

	h.logger.Info("zwave handler started", "url", h.cfg.ServerURL)
	return nil
}

func (h *zwaveHandler) Stop() {
	if !h.isRunning() {
		return
	}

	// Close the socket first so the read pump unblocks before end()
	// waits for it. The stopping flag keeps a concurrent
	// ensureConnected from dialing a fresh connection in between.
	h.connMu.Lock()
	h.stopping = true
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
	h.connMu.Unlock()

	h.end()
	h.logger.Info("zwave handler stopped")
}

func (h *zwaveHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}
	if err := h.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if err := h.requestNodes(); err != nil {
		return nil, err
	}

	h.devMu.RLock()
	defer h.devMu.RUnlock()
	devices := make([]Descriptor, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

func (h *zwaveHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	h.devMu.RLock()
	d, known := h.devices[deviceID]
	h.devMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	nodeID, err := strconv.Atoi(d.Address)
	if err != nil {
		return fmt.Errorf("%w: bad node address %q", ErrCommandFailed, d.Address)
	}

	if err := h.ensureConnected(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	msg := map[string]any{
		"messageId": uuid.NewString(),
		"command":   "node.set_value",
		"nodeId":    nodeID,
		"valueId":   zwaveValueID(command, params),
		"value":     zwaveValue(command, params),
	}
	if err := h.writeJSON(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	h.logger.Debug("zwave command sent", "device_id", deviceID, "command", command)
	return nil
}

// zwaveValueID maps a command to the Z-Wave value being written. Binary
// power commands target the Binary Switch command class (37).
func zwaveValueID(command string, params map[string]any) map[string]any {
	if cc, ok := params["command_class"]; ok {
		return map[string]any{
			"commandClass": cc,
			"property":     params["property"],
		}
	}
	switch command {
	case "turn_on", "turn_off":
		return map[string]any{"commandClass": 37, "property": "targetValue"}
	default:
		return map[string]any{"commandClass": 38, "property": "targetValue"}
	}
}

func zwaveValue(command string, params map[string]any) any {
	if v, ok := params["value"]; ok {
		return v
	}
	switch command {
	case "turn_on":
		return true
	case "turn_off":
		return false
	default:
		return nil
	}
}

// ensureConnected dials the gateway if no connection is up and starts
// the read pump.
func (h *zwaveHandler) ensureConnected(ctx context.Context) error {
	h.connMu.Lock()
	defer h.connMu.Unlock()

	if h.stopping {
		return ErrNotRunning
	}
	if h.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, zwaveDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, h.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	h.conn = conn

	h.wg.Add(1)
	go h.readPump(conn)

	return conn.WriteJSON(map[string]any{
		"messageId": uuid.NewString(),
		"command":   "start_listening",
	})
}

func (h *zwaveHandler) requestNodes() error {
	return h.writeJSON(map[string]any{
		"messageId": uuid.NewString(),
		"command":   "start_listening",
	})
}

func (h *zwaveHandler) writeJSON(msg map[string]any) error {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.conn == nil {
		return ErrNotRunning
	}
	return h.conn.WriteJSON(msg)
}

// readPump consumes gateway messages until the socket closes. A closed
// socket clears the shared connection so the loop reconnects.
func (h *zwaveHandler) readPump(conn *websocket.Conn) {
	defer h.wg.Done()
	defer func() {
		h.connMu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.connMu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.isRunning() {
				h.logger.Warn("zwave gateway connection lost", "error", err)
			}
			return
		}
		if err := h.handleMessage(data); err != nil {
			h.logger.Warn("zwave message ignored", "error", err)
		}
	}
}

type zwaveNode struct {
	NodeID int    `json:"nodeId"`
	Name   string `json:"name"`
	Label  string `json:"label"`
	Status int    `json:"status"`
	Values []struct {
		CommandClass int    `json:"commandClass"`
		Property     any    `json:"property"`
		PropertyName string `json:"propertyName"`
		Value        any    `json:"value"`
	} `json:"values"`
}

func (h *zwaveHandler) handleMessage(data []byte) error {
	var msg struct {
		Type   string `json:"type"`
		Event  *struct {
			Event  string          `json:"event"`
			NodeID int             `json:"nodeId"`
			Args   json.RawMessage `json:"args"`
		} `json:"event"`
		Result *struct {
			State struct {
				Nodes []zwaveNode `json:"nodes"`
			} `json:"state"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decoding gateway message: %w", err)
	}

	switch {
	case msg.Result != nil:
		for i := range msg.Result.State.Nodes {
			h.ingestNode(&msg.Result.State.Nodes[i])
		}
	case msg.Event != nil && msg.Event.Event == "value updated":
		h.handleValueUpdate(msg.Event.NodeID, msg.Event.Args)
	}
	return nil
}

func (h *zwaveHandler) ingestNode(node *zwaveNode) {
	// Node 1 is the controller.
	if node.NodeID <= 1 {
		return
	}

	name := node.Name
	if name == "" {
		name = node.Label
	}
	if name == "" {
		name = fmt.Sprintf("Z-Wave Node %d", node.NodeID)
	}

	state := make(map[string]any)
	for _, v := range node.Values {
		if v.PropertyName != "" {
			state[v.PropertyName] = v.Value
		}
	}

	d := Descriptor{
		ID:           fmt.Sprintf("zwave_%d", node.NodeID),
		Name:         name,
		Type:         zwaveNodeType(node),
		Protocol:     "zwave",
		Address:      strconv.Itoa(node.NodeID),
		Capabilities: zwaveCapabilities(node),
		State:        state,
	}

	h.devMu.Lock()
	_, known := h.devices[d.ID]
	h.devices[d.ID] = d
	h.devMu.Unlock()

	if !known {
		h.logger.Info("zwave node discovered", "device_id", d.ID)
		emitFound(h.bus, d)
	}
}

func zwaveNodeType(node *zwaveNode) string {
	for _, v := range node.Values {
		switch v.CommandClass {
		case 37:
			return "switch"
		case 38:
			return "dimmer"
		case 49:
			return "sensor"
		}
	}
	return "device"
}

// zwaveCapabilities derives device capabilities from the command classes
// present on the node's values.
func zwaveCapabilities(node *zwaveNode) []string {
	byClass := map[int]string{
		37: "on_off",
		38: "brightness",
		49: "sensor",
		50: "power_monitoring",
		98: "lock_unlock",
	}

	var caps []string
	seen := make(map[string]bool)
	for _, v := range node.Values {
		name, ok := byClass[v.CommandClass]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		caps = append(caps, name)
	}
	return caps
}

func (h *zwaveHandler) handleValueUpdate(nodeID int, args json.RawMessage) {
	var update struct {
		PropertyName string `json:"propertyName"`
		NewValue     any    `json:"newValue"`
	}
	if err := json.Unmarshal(args, &update); err != nil || update.PropertyName == "" {
		return
	}

	deviceID := fmt.Sprintf("zwave_%d", nodeID)
	state := map[string]any{strings.ToLower(update.PropertyName): update.NewValue}

	h.devMu.Lock()
	if d, ok := h.devices[deviceID]; ok {
		if d.State == nil {
			d.State = make(map[string]any)
		}
		d.State[strings.ToLower(update.PropertyName)] = update.NewValue
		h.devices[deviceID] = d
	}
	h.devMu.Unlock()

	emitStateChanged(h.bus, "zwave", deviceID, state)
}
