package store

import "errors"

var (
	// ErrDeviceNotFound indicates the requested device does not exist.
	ErrDeviceNotFound = errors.New("store: device not found")

	// ErrInvalidDevice indicates a device failed validation before save.
	ErrInvalidDevice = errors.New("store: invalid device")
)
