package protocol

import "errors"

var (
	// ErrUnknownProtocol is returned by Build for an unregistered name.
	ErrUnknownProtocol = errors.New("protocol: unknown protocol")

	// ErrNotRunning is returned for operations on a stopped handler.
	ErrNotRunning = errors.New("protocol: handler not running")

	// ErrUnknownDevice is returned when a command targets a device the
	// handler does not know.
	ErrUnknownDevice = errors.New("protocol: unknown device")

	// ErrCommandFailed is returned when command delivery fails.
	ErrCommandFailed = errors.New("protocol: command failed")
)
