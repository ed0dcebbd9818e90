package store

import "time"

// Device is the persisted representation of a discovered or configured
// device.
type Device struct {
	// ID is the stable device identifier, unique across all protocols
	// (e.g. "mqtt_light_1").
	ID string `json:"id"`

	// Name is the human-readable device name.
	Name string `json:"name"`

	// Type classifies the device (light, sensor, switch, thermostat, ...).
	Type string `json:"type"`

	// Protocol names the protocol handler that owns this device.
	Protocol string `json:"protocol"`

	// Address is the protocol-specific address (topic, IP, MAC). Optional.
	Address string `json:"address,omitempty"`

	// Capabilities lists what the device can do, as reported at
	// discovery ("on_off", "brightness", ...).
	Capabilities []string `json:"capabilities"`

	// State is the last known device state.
	State map[string]any `json:"state"`

	// Online reports whether the device was reachable at last contact.
	Online bool `json:"online"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateRecord is one historical state snapshot for a device.
type StateRecord struct {
	DeviceID   string         `json:"device_id"`
	State      map[string]any `json:"state"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// EventRecord is one persisted event from the event log.
type EventRecord struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Data       map[string]any `json:"data"`
	Source     string         `json:"source,omitempty"`
	Target     string         `json:"target,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
