package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/event"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// probeInterval is how often the handler re-publishes a discovery probe
// so late-joining devices announce themselves.
const probeInterval = 60 * time.Second

// mqttHandler integrates devices that speak the Hearth MQTT topic scheme
// directly. Devices announce themselves on the discovery topic and
// publish state updates; commands go out on their command topic.
type mqttHandler struct {
	lifecycle

	cfg    config.MQTTConfig
	client *mqtt.Client
	bus    EventSink
	logger Logger

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newMQTTHandler(deps Deps) (Handler, error) {
	return &mqttHandler{
		cfg:     deps.Config.Protocols.MQTT,
		client:  deps.MQTT,
		bus:     deps.Bus,
		logger:  deps.Logger,
		devices: make(map[string]Descriptor),
	}, nil
}

func (h *mqttHandler) Protocol() string { return "mqtt" }
func (h *mqttHandler) Running() bool    { return h.isRunning() }

func (h *mqttHandler) Start(ctx context.Context) error {
	if h.client == nil || !h.client.IsConnected() {
		return fmt.Errorf("mqtt handler: %w", mqtt.ErrNotConnected)
	}
	if !h.begin() {
		return nil
	}

	topics := h.client.Topics()
	qos := h.client.DefaultQoS()

	subs := map[string]mqtt.MessageHandler{
		topics.Discovery("mqtt"):               h.handleAnnouncement,
		topics.DeviceState("mqtt", "+"):        h.handleState,
		topics.DeviceAvailability("mqtt", "+"): h.handleAvailability,
	}
	for topic, handler := range subs {
		if err := h.client.Subscribe(topic, qos, handler); err != nil {
			h.end()
			return fmt.Errorf("mqtt handler: subscribing %s: %w", topic, err)
		}
	}

	h.loop(ctx, probeInterval, func(context.Context) error {
		return h.client.Publish(topics.DiscoveryProbe(), []byte(`{"probe":"announce"}`), qos, false)
	})

	h.logger.Info("mqtt handler started", "broker", h.cfg.Broker.Host)
	return nil
}

func (h *mqttHandler) Stop() {
	if !h.isRunning() {
		return
	}

	if h.client != nil && h.client.IsConnected() {
		topics := h.client.Topics()
		for _, topic := range []string{
			topics.Discovery("mqtt"),
			topics.DeviceState("mqtt", "+"),
			topics.DeviceAvailability("mqtt", "+"),
		} {
			if err := h.client.Unsubscribe(topic); err != nil {
				h.logger.Warn("mqtt handler: unsubscribe failed", "topic", topic, "error", err)
			}
		}
	}

	h.end()
	h.logger.Info("mqtt handler stopped")
}

// DiscoverDevices publishes a probe and returns the currently announced
// devices. Announcement-driven discovery means the snapshot may grow
// shortly after a probe.
func (h *mqttHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}

	topics := h.client.Topics()
	if err := h.client.Publish(topics.DiscoveryProbe(), []byte(`{"probe":"announce"}`), h.client.DefaultQoS(), false); err != nil {
		return nil, fmt.Errorf("mqtt handler: publishing probe: %w", err)
	}

	return h.snapshot(), nil
}

func (h *mqttHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	payload, err := json.Marshal(map[string]any{
		"command": command,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("mqtt handler: encoding command: %w", err)
	}

	topic := h.client.Topics().DeviceCommand("mqtt", deviceID)
	if err := h.client.Publish(topic, payload, h.client.DefaultQoS(), false); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	h.logger.Debug("mqtt command published", "device_id", deviceID, "command", command)
	return nil
}

func (h *mqttHandler) snapshot() []Descriptor {
	h.devMu.RLock()
	defer h.devMu.RUnlock()

	devices := make([]Descriptor, 0, len(h.devices))
	for _, d := range h.devices {
		devices = append(devices, d)
	}
	return devices
}

// handleAnnouncement processes a device self-announcement from the
// discovery topic.
func (h *mqttHandler) handleAnnouncement(topic string, payload []byte) error {
	var msg struct {
		ID           string         `json:"id"`
		Name         string         `json:"name"`
		Type         string         `json:"type"`
		Address      string         `json:"address"`
		Capabilities []string       `json:"capabilities"`
		State        map[string]any `json:"state"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding announcement: %w", err)
	}
	if msg.ID == "" {
		return fmt.Errorf("announcement missing device id")
	}

	d := Descriptor{
		ID:           msg.ID,
		Name:         msg.Name,
		Type:         msg.Type,
		Protocol:     "mqtt",
		Address:      msg.Address,
		Capabilities: msg.Capabilities,
		State:        msg.State,
	}

	h.devMu.Lock()
	_, known := h.devices[d.ID]
	h.devices[d.ID] = d
	h.devMu.Unlock()

	if !known {
		h.logger.Info("mqtt device announced", "device_id", d.ID, "type", d.Type)
	}
	emitFound(h.bus, d)
	return nil
}

// handleState processes a state update published by a device.
func (h *mqttHandler) handleState(topic string, payload []byte) error {
	deviceID := lastTopicSegment(topic)
	if deviceID == "" {
		return fmt.Errorf("state topic missing device id: %s", topic)
	}

	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("decoding state for %s: %w", deviceID, err)
	}

	h.devMu.Lock()
	if d, ok := h.devices[deviceID]; ok {
		d.State = state
		h.devices[deviceID] = d
	}
	h.devMu.Unlock()

	emitStateChanged(h.bus, "mqtt", deviceID, state)
	return nil
}

// handleAvailability maps online/offline payloads to connection events.
func (h *mqttHandler) handleAvailability(topic string, payload []byte) error {
	deviceID := lastTopicSegment(topic)
	if deviceID == "" {
		return fmt.Errorf("availability topic missing device id: %s", topic)
	}

	online := strings.EqualFold(strings.TrimSpace(string(payload)), "online")
	eventType := event.TypeDeviceDisconnected
	if online {
		eventType = event.TypeDeviceConnected
	}

	if h.bus != nil {
		h.bus.Emit(event.New(eventType, map[string]any{
			"device_id": deviceID,
			"protocol":  "mqtt",
		}, event.WithSource("mqtt")))
	}
	return nil
}

// lastTopicSegment returns the final segment of an MQTT topic.
func lastTopicSegment(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
