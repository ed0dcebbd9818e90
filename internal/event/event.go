package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a category of event. Types use dotted lowercase names
// grouped by subsystem, e.g. "device.found".
type Type string

// Event types emitted by the core.
const (
	TypeSystemStartup  Type = "system.startup"
	TypeSystemShutdown Type = "system.shutdown"
	TypeSystemError    Type = "system.error"

	TypeDeviceFound        Type = "device.found"
	TypeDeviceStateChanged Type = "device.state_changed"
	TypeDeviceConnected    Type = "device.connected"
	TypeDeviceDisconnected Type = "device.disconnected"

	TypeCommandSent Type = "command.sent"
)

// Event is an immutable occurrence within the system. Events are values:
// once constructed, neither the event nor its Data map should be modified.
// Construct events with New, which assigns the ID and timestamp and copies
// the payload map.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type categorises the event for subscription matching.
	Type Type `json:"type"`

	// Data carries the event payload. May be empty, never nil.
	Data map[string]any `json:"data"`

	// Source identifies the component that emitted the event. Optional.
	Source string `json:"source,omitempty"`

	// Target identifies the intended recipient. Optional; empty means
	// broadcast.
	Target string `json:"target,omitempty"`

	// Timestamp is the UTC creation time.
	Timestamp time.Time `json:"timestamp"`
}

// Option configures optional Event fields at construction.
type Option func(*Event)

// WithSource sets the emitting component.
func WithSource(source string) Option {
	return func(e *Event) { e.Source = source }
}

// WithTarget sets the intended recipient.
func WithTarget(target string) Option {
	return func(e *Event) { e.Target = target }
}

// New creates an Event with a generated ID and UTC timestamp. The data map
// is copied so later mutation by the caller does not leak into the event.
func New(eventType Type, data map[string]any, opts ...Option) Event {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}

	e := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      copied,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
