package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthd/hearth-core/internal/infrastructure/database"
	_ "github.com/hearthd/hearth-core/migrations" // register embedded schema
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "store_test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteStore(db)
}

func testDevice(id string) *Device {
	return &Device{
		ID:           id,
		Name:         "Living Room Light",
		Type:         "light",
		Protocol:     "mqtt",
		Address:      "home/light/" + id,
		Capabilities: []string{"on_off", "brightness"},
		State:        map[string]any{"power": "off"},
		Online:       true,
	}
}

func TestSQLiteStore_SaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveDevice(ctx, testDevice("mqtt_light_1")); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	got, err := s.GetDevice(ctx, "mqtt_light_1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Name != "Living Room Light" {
		t.Errorf("Name = %q, want Living Room Light", got.Name)
	}
	if got.Protocol != "mqtt" {
		t.Errorf("Protocol = %q, want mqtt", got.Protocol)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "on_off" || got.Capabilities[1] != "brightness" {
		t.Errorf("Capabilities = %v, want [on_off brightness]", got.Capabilities)
	}
	if got.State["power"] != "off" {
		t.Errorf("State[power] = %v, want off", got.State["power"])
	}
	if !got.Online {
		t.Error("expected device online")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps set")
	}
}

func TestSQLiteStore_GetDevice_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDevice(context.Background(), "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteStore_SaveDevice_UpsertUpdatesNotDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := testDevice("mqtt_light_1")
	if err := s.SaveDevice(ctx, d); err != nil {
		t.Fatalf("first save: %v", err)
	}

	d.Name = "Renamed Light"
	d.State = map[string]any{"power": "on"}
	if err := s.SaveDevice(ctx, d); err != nil {
		t.Fatalf("second save: %v", err)
	}

	devices, err := s.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("device count = %d after re-save, want 1", len(devices))
	}
	if devices[0].Name != "Renamed Light" {
		t.Errorf("Name = %q, want Renamed Light", devices[0].Name)
	}
	if devices[0].State["power"] != "on" {
		t.Errorf("State[power] = %v, want on", devices[0].State["power"])
	}
}

func TestSQLiteStore_SaveDevice_Invalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		device *Device
	}{
		{"nil device", nil},
		{"empty id", &Device{Protocol: "mqtt"}},
		{"empty protocol", &Device{ID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SaveDevice(ctx, tt.device); !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("error = %v, want ErrInvalidDevice", err)
			}
		})
	}
}

func TestSQLiteStore_SaveDeviceState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveDevice(ctx, testDevice("mqtt_light_1")); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	if err := s.SaveDeviceState(ctx, "mqtt_light_1", map[string]any{"power": "on", "brightness": float64(80)}); err != nil {
		t.Fatalf("SaveDeviceState() error = %v", err)
	}

	got, err := s.GetDevice(ctx, "mqtt_light_1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.State["power"] != "on" {
		t.Errorf("State[power] = %v, want on", got.State["power"])
	}

	history, err := s.StateHistory(ctx, "mqtt_light_1", 10)
	if err != nil {
		t.Fatalf("StateHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].State["brightness"] != float64(80) {
		t.Errorf("history brightness = %v, want 80", history[0].State["brightness"])
	}
}

func TestSQLiteStore_SaveDeviceState_UnknownDevice(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveDeviceState(context.Background(), "missing", map[string]any{"power": "on"})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteStore_StateHistory_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveDevice(ctx, testDevice("mqtt_light_1")); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.SaveDeviceState(ctx, "mqtt_light_1", map[string]any{"seq": float64(i)}); err != nil {
			t.Fatalf("SaveDeviceState(%d) error = %v", i, err)
		}
	}

	history, err := s.StateHistory(ctx, "mqtt_light_1", 2)
	if err != nil {
		t.Fatalf("StateHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (limit)", len(history))
	}
	if history[0].State["seq"] != float64(2) {
		t.Errorf("first record seq = %v, want 2 (newest first)", history[0].State["seq"])
	}
}

func TestSQLiteStore_LogEventAndRecentEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []EventRecord{
		{ID: "e1", EventType: "device.found", Data: map[string]any{"device_id": "a"}, Source: "mqtt", OccurredAt: time.Now().UTC().Add(-2 * time.Second)},
		{ID: "e2", EventType: "command.sent", Data: map[string]any{"command": "turn_on"}, Target: "a", OccurredAt: time.Now().UTC()},
	}
	for _, rec := range recs {
		if err := s.LogEvent(ctx, rec); err != nil {
			t.Fatalf("LogEvent(%s) error = %v", rec.ID, err)
		}
	}

	got, err := s.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("event count = %d, want 2", len(got))
	}
	if got[0].ID != "e2" {
		t.Errorf("first event = %s, want e2 (newest first)", got[0].ID)
	}
	if got[0].Target != "a" {
		t.Errorf("Target = %q, want a", got[0].Target)
	}
	if got[1].Data["device_id"] != "a" {
		t.Errorf("Data[device_id] = %v, want a", got[1].Data["device_id"])
	}
}
