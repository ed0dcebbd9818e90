package mqtt

import "fmt"

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "hearth"

// Topics builds Hearth MQTT topic strings under a configurable prefix.
// The scheme is flat: {prefix}/{category}/{protocol}/{device_id}.
//
//	topics := mqtt.Topics{Prefix: "hearth"}
//	topics.DeviceState("mqtt", "light_1") // "hearth/state/mqtt/light_1"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// DeviceState returns the topic devices publish state updates on.
func (t Topics) DeviceState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.prefix(), protocol, deviceID)
}

// DeviceCommand returns the topic commands to a device are published on.
func (t Topics) DeviceCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.prefix(), protocol, deviceID)
}

// DeviceAvailability returns the topic for device online/offline updates.
func (t Topics) DeviceAvailability(protocol, deviceID string) string {
	return fmt.Sprintf("%s/availability/%s/%s", t.prefix(), protocol, deviceID)
}

// Discovery returns the topic devices announce themselves on.
func (t Topics) Discovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", t.prefix(), protocol)
}

// DiscoveryProbe returns the topic the core publishes on to ask devices
// to announce themselves.
func (t Topics) DiscoveryProbe() string {
	return fmt.Sprintf("%s/system/discover", t.prefix())
}

// SystemStatus returns the core online/offline status topic.
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// Event returns the topic core events are mirrored on.
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), eventType)
}

// AllDeviceStates returns a pattern matching every device state update.
func (t Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+/+", t.prefix())
}

// AllAvailability returns a pattern matching every availability update.
func (t Topics) AllAvailability() string {
	return fmt.Sprintf("%s/availability/+/+", t.prefix())
}

// AllDiscovery returns a pattern matching every discovery announcement.
func (t Topics) AllDiscovery() string {
	return fmt.Sprintf("%s/discovery/+", t.prefix())
}
