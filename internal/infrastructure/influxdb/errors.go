package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned for operations on a closed client.
	ErrNotConnected = errors.New("influxdb: client not connected")
)
