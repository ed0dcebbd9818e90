// Package protocol contains the device protocol handlers.
//
// Each handler implements the Handler interface and owns one transport:
// MQTT devices on the shared broker, WiFi devices found by network scan,
// Bluetooth peripherals, zigbee2mqtt bridges, Z-Wave gateways, Matter
// nodes via mDNS, and Tuya and Govee LAN devices.
//
// Handlers report discoveries and state changes through the event bus and
// run their own periodic discovery loops with error backoff. The hub
// builds handlers from the registry based on protocols.enabled and never
// calls a handler's transport directly.
package protocol
