// Package store provides device persistence for Hearth Core.
//
// The DeviceStore interface is what the communication hub consumes; the
// SQLite implementation backs it with three tables: devices (current
// state), device_state_history (append-only snapshots), and event_log.
//
// Device state and event payloads are stored as JSON text columns, which
// keeps the schema stable while protocols evolve their payload shapes.
package store
