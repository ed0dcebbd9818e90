package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hearthd/hearth-core/internal/infrastructure/database"
)

// SQLiteStore implements DeviceStore on the embedded SQLite database.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store backed by the given database. The schema
// is expected to exist already (migrations run at startup).
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetDevice returns the device with the given id.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, protocol, address, capabilities, state, online, created_at, updated_at
		FROM devices WHERE id = ?
	`, id)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// ListDevices returns all known devices ordered by id.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, protocol, address, capabilities, state, online, created_at, updated_at
		FROM devices ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// SaveDevice inserts or updates a device keyed by its ID.
func (s *SQLiteStore) SaveDevice(ctx context.Context, d *Device) error {
	if d == nil || d.ID == "" || d.Protocol == "" {
		return fmt.Errorf("%w: id and protocol are required", ErrInvalidDevice)
	}

	stateJSON, err := marshalState(d.State)
	if err != nil {
		return fmt.Errorf("encoding device state: %w", err)
	}
	capsJSON, err := marshalCapabilities(d.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding device capabilities: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, type, protocol, address, capabilities, state, online, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			protocol = excluded.protocol,
			address = excluded.address,
			capabilities = excluded.capabilities,
			state = excluded.state,
			online = excluded.online,
			updated_at = excluded.updated_at
	`, d.ID, d.Name, d.Type, d.Protocol, nullableString(d.Address),
		capsJSON, stateJSON, boolToInt(d.Online), now, now)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", d.ID, err)
	}
	return nil
}

// SaveDeviceState replaces the device's current state and appends a
// history row, in one transaction.
func (s *SQLiteStore) SaveDeviceState(ctx context.Context, deviceID string, state map[string]any) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return fmt.Errorf("encoding device state: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"UPDATE devices SET state = ?, updated_at = ? WHERE id = ?",
		stateJSON, now, deviceID)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO device_state_history (device_id, state, recorded_at) VALUES (?, ?, ?)",
		deviceID, stateJSON, now); err != nil {
		return fmt.Errorf("recording state history: %w", err)
	}

	return tx.Commit()
}

// StateHistory returns up to limit most recent snapshots, newest first.
func (s *SQLiteStore) StateHistory(ctx context.Context, deviceID string, limit int) ([]StateRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, state, recorded_at
		FROM device_state_history
		WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		var r StateRecord
		var stateJSON, recordedAt string
		if err := rows.Scan(&r.DeviceID, &stateJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &r.State); err != nil {
			return nil, fmt.Errorf("decoding state history: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return records, nil
}

// LogEvent appends an entry to the event log.
func (s *SQLiteStore) LogEvent(ctx context.Context, rec EventRecord) error {
	dataJSON, err := marshalState(rec.Data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}

	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO event_log (id, event_type, data, source, target, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EventType, dataJSON,
		nullableString(rec.Source), nullableString(rec.Target),
		occurredAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("logging event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit event log entries, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, data, source, target, occurred_at
		FROM event_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		var dataJSON, occurredAt string
		var source, target sql.NullString
		if err := rows.Scan(&r.ID, &r.EventType, &dataJSON, &source, &target, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning event log: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &r.Data); err != nil {
			return nil, fmt.Errorf("decoding event data: %w", err)
		}
		r.Source = source.String
		r.Target = target.String
		r.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event log: %w", err)
	}
	return records, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var d Device
	var address sql.NullString
	var capsJSON, stateJSON, createdAt, updatedAt string
	var online int

	if err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Protocol, &address,
		&capsJSON, &stateJSON, &online, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.Address = address.String
	d.Online = online != 0
	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding device capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("decoding device state: %w", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &d, nil
}

func marshalState(state map[string]any) (string, error) {
	if state == nil {
		return "{}", nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalCapabilities(caps []string) (string, error) {
	if caps == nil {
		return "[]", nil
	}
	data, err := json.Marshal(caps)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
