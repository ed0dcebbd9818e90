package store

import "context"

// DeviceStore persists devices, their state history, and the event log.
//
// Callers treat persistence as best-effort: the communication hub logs
// store errors and carries on, so implementations must never panic and
// should return wrapped sentinel errors from errors.go where applicable.
type DeviceStore interface {
	// GetDevice returns the device with the given id, or ErrDeviceNotFound.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// ListDevices returns all known devices ordered by id.
	ListDevices(ctx context.Context) ([]*Device, error)

	// SaveDevice inserts or updates a device keyed by its ID. Saving an
	// existing id updates the row rather than creating a duplicate.
	SaveDevice(ctx context.Context, d *Device) error

	// SaveDeviceState records a state snapshot for a device: the device
	// row's current state is replaced and a history row is appended.
	// Returns ErrDeviceNotFound for an unknown device.
	SaveDeviceState(ctx context.Context, deviceID string, state map[string]any) error

	// StateHistory returns up to limit most recent state snapshots for a
	// device, newest first.
	StateHistory(ctx context.Context, deviceID string, limit int) ([]StateRecord, error)

	// LogEvent appends an entry to the event log.
	LogEvent(ctx context.Context, rec EventRecord) error

	// RecentEvents returns up to limit most recent event log entries,
	// newest first.
	RecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
}
