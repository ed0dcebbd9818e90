package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// zigbeeHandler integrates Zigbee devices through a zigbee2mqtt bridge
// on the shared MQTT broker. The bridge publishes its device list on
// {base}/bridge/devices and per-device state on {base}/{friendly_name};
// commands go to {base}/{friendly_name}/set.
type zigbeeHandler struct {
	lifecycle

	cfg    config.ZigbeeConfig
	client *mqtt.Client
	bus    EventSink
	logger Logger

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newZigbeeHandler(deps Deps) (Handler, error) {
	cfg := deps.Config.Protocols.Zigbee
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "zigbee2mqtt"
	}
	return &zigbeeHandler{
		cfg:     cfg,
		client:  deps.MQTT,
		bus:     deps.Bus,
		logger:  deps.Logger,
		devices: make(map[string]Descriptor),
	}, nil
}

func (h *zigbeeHandler) Protocol() string { return "zigbee" }
func (h *zigbeeHandler) Running() bool    { return h.isRunning() }

func (h *zigbeeHandler) Start(ctx context.Context) error {
	if h.client == nil || !h.client.IsConnected() {
		return fmt.Errorf("zigbee handler: %w", mqtt.ErrNotConnected)
	}
	if !h.begin() {
		return nil
	}

	qos := h.client.DefaultQoS()
	if err := h.client.Subscribe(h.cfg.BaseTopic+"/bridge/devices", qos, h.handleDeviceList); err != nil {
		h.end()
		return fmt.Errorf("zigbee handler: subscribing device list: %w", err)
	}
	if err := h.client.Subscribe(h.cfg.BaseTopic+"/+", qos, h.handleState); err != nil {
		h.end()
		return fmt.Errorf("zigbee handler: subscribing states: %w", err)
	}

	h.logger.Info("zigbee handler started", "base_topic", h.cfg.BaseTopic)
	return nil
}

func (h *zigbeeHandler) Stop() {
	if !h.isRunning() {
		return
	}

	if h.client != nil && h.client.IsConnected() {
		for _, topic := range []string{h.cfg.BaseTopic + "/bridge/devices", h.cfg.BaseTopic + "/+"} {
			if err := h.client.Unsubscribe(topic); err != nil {
				h.logger.Warn("zigbee handler: unsubscribe failed", "topic", topic, "error", err)
			}
		}
	}

	h.end()
	h.logger.Info("zigbee handler stopped")
}

// DiscoverDevices asks the bridge to republish its device list and
// returns the devices seen so far.
func (h *zigbeeHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}

	topic := h.cfg.BaseTopic + "/bridge/request/devices"
	if err := h.client.Publish(topic, []byte("{}"), h.client.DefaultQoS(), false); err != nil {
		return nil, fmt.Errorf("zigbee handler: requesting device list: %w", err)
	}

	h.devMu.RLock()
	defer h.devMu.RUnlock()
	devices := make([]Descriptor, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

func (h *zigbeeHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	h.devMu.RLock()
	d, known := h.devices[deviceID]
	h.devMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	payload, err := json.Marshal(zigbeePayload(command, params))
	if err != nil {
		return fmt.Errorf("zigbee handler: encoding command: %w", err)
	}

	topic := h.cfg.BaseTopic + "/" + d.Address + "/set"
	if err := h.client.Publish(topic, payload, h.client.DefaultQoS(), false); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	h.logger.Debug("zigbee command published", "device_id", deviceID, "command", command)
	return nil
}

// zigbeePayload translates a Hearth command into zigbee2mqtt's set
// payload. Power commands map to the state attribute; anything else
// passes the params through with the command as fallback attribute.
func zigbeePayload(command string, params map[string]any) map[string]any {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}

	switch command {
	case "turn_on":
		payload["state"] = "ON"
	case "turn_off":
		payload["state"] = "OFF"
	case "toggle":
		payload["state"] = "TOGGLE"
	default:
		if len(params) == 0 {
			payload[command] = ""
		}
	}
	return payload
}

// handleDeviceList ingests the bridge's full device list.
func (h *zigbeeHandler) handleDeviceList(topic string, payload []byte) error {
	var entries []struct {
		FriendlyName string `json:"friendly_name"`
		IEEEAddress  string `json:"ieee_address"`
		Type         string `json:"type"`
		Definition   *struct {
			Description string `json:"description"`
		} `json:"definition"`
	}
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("decoding bridge device list: %w", err)
	}

	for _, entry := range entries {
		// The coordinator is the bridge itself, not a device.
		if strings.EqualFold(entry.Type, "Coordinator") || entry.FriendlyName == "" {
			continue
		}

		name := entry.FriendlyName
		if entry.Definition != nil && entry.Definition.Description != "" {
			name = entry.Definition.Description
		}

		d := Descriptor{
			ID:       "zigbee_" + entry.FriendlyName,
			Name:     name,
			Type:     strings.ToLower(entry.Type),
			Protocol: "zigbee",
			Address:  entry.FriendlyName,
		}

		h.devMu.Lock()
		_, known := h.devices[d.ID]
		h.devices[d.ID] = d
		h.devMu.Unlock()

		if !known {
			h.logger.Info("zigbee device discovered", "device_id", d.ID)
			emitFound(h.bus, d)
		}
	}
	return nil
}

// handleState processes per-device state publications from the bridge.
func (h *zigbeeHandler) handleState(topic string, payload []byte) error {
	friendly := lastTopicSegment(topic)
	if friendly == "" || friendly == "bridge" {
		return nil
	}

	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		// Bridge meta topics publish non-JSON payloads; ignore them.
		return nil
	}

	deviceID := "zigbee_" + friendly

	h.devMu.Lock()
	if d, ok := h.devices[deviceID]; ok {
		d.State = state
		h.devices[deviceID] = d
	}
	h.devMu.Unlock()

	emitStateChanged(h.bus, "zigbee", deviceID, state)
	return nil
}
