// Package mqtt wraps the Eclipse Paho client for Hearth Core.
//
// A single shared Client connects to the broker configured under
// protocols.mqtt and is used by both the MQTT and Zigbee protocol
// handlers. The wrapper adds subscription restoration on reconnect, a
// Last Will and Testament on the system status topic, panic recovery
// around message handlers, and topic builders for the Hearth topic
// scheme ({prefix}/{category}/{protocol}/{device_id}).
package mqtt
