package protocol

import (
	"context"

	"github.com/hearthd/hearth-core/internal/event"
)

// Descriptor describes a device a protocol handler has discovered.
type Descriptor struct {
	// ID is the stable device identifier, unique across all protocols.
	ID string `json:"id"`

	// Name is the human-readable device name.
	Name string `json:"name"`

	// Type classifies the device (light, sensor, switch, plug, ...).
	Type string `json:"type"`

	// Protocol names the handler that owns this device.
	Protocol string `json:"protocol"`

	// Address is the protocol-specific address (topic, host, MAC).
	Address string `json:"address,omitempty"`

	// Capabilities lists what the device can do ("on_off", "brightness",
	// "color", ...). May be empty when the transport does not advertise
	// them.
	Capabilities []string `json:"capabilities,omitempty"`

	// State is the last observed device state, if any.
	State map[string]any `json:"state,omitempty"`
}

// Handler is implemented by every protocol integration.
//
// Handlers own their background work: Start launches any connection and
// periodic discovery loops, Stop tears them down. Discovered devices and
// state changes are reported through the event bus, not return values,
// so the hub can treat all protocols uniformly.
//
// Handlers must be tolerant of a hostile network: an unreachable broker
// or gateway makes Start fail or discovery return an error, never panic.
type Handler interface {
	// Protocol returns the handler's registry name (e.g. "mqtt").
	Protocol() string

	// Running reports whether the handler has been started.
	Running() bool

	// Start connects the handler and launches its background loops.
	Start(ctx context.Context) error

	// Stop halts background loops and disconnects. Idempotent.
	Stop()

	// DiscoverDevices performs one discovery pass and returns the
	// devices currently visible to this handler.
	DiscoverDevices(ctx context.Context) ([]Descriptor, error)

	// SendCommand delivers a command to a device owned by this handler.
	SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error
}

// EventSink receives events from handlers. *event.Bus satisfies it.
type EventSink interface {
	Emit(e event.Event)
}

// Logger is the minimal logging interface handlers need.
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

// emitFound publishes a device.found event for a descriptor.
func emitFound(sink EventSink, d Descriptor) {
	if sink == nil {
		return
	}
	sink.Emit(event.New(event.TypeDeviceFound, map[string]any{
		"device_id":    d.ID,
		"name":         d.Name,
		"type":         d.Type,
		"protocol":     d.Protocol,
		"address":      d.Address,
		"capabilities": d.Capabilities,
		"state":        d.State,
	}, event.WithSource(d.Protocol)))
}

// emitStateChanged publishes a device.state_changed event.
func emitStateChanged(sink EventSink, protocol, deviceID string, state map[string]any) {
	if sink == nil {
		return
	}
	sink.Emit(event.New(event.TypeDeviceStateChanged, map[string]any{
		"device_id": deviceID,
		"protocol":  protocol,
		"state":     state,
	}, event.WithSource(protocol)))
}
