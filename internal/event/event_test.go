package event

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	before := time.Now().UTC()
	e := New(TypeDeviceFound, map[string]any{"device_id": "light_1"})
	after := time.Now().UTC()

	if e.ID == "" {
		t.Error("expected generated ID")
	}
	if e.Type != TypeDeviceFound {
		t.Errorf("Type = %q, want %q", e.Type, TypeDeviceFound)
	}
	if e.Data["device_id"] != "light_1" {
		t.Errorf("Data[device_id] = %v, want light_1", e.Data["device_id"])
	}
	if e.Timestamp.Before(before) || e.Timestamp.After(after) {
		t.Errorf("Timestamp %v outside [%v, %v]", e.Timestamp, before, after)
	}
	if e.Source != "" || e.Target != "" {
		t.Error("expected empty source and target by default")
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New(TypeSystemStartup, nil)
	b := New(TypeSystemStartup, nil)
	if a.ID == b.ID {
		t.Error("expected distinct event IDs")
	}
}

func TestNew_NilDataBecomesEmptyMap(t *testing.T) {
	e := New(TypeSystemStartup, nil)
	if e.Data == nil {
		t.Fatal("expected non-nil Data map")
	}
	if len(e.Data) != 0 {
		t.Errorf("Data = %v, want empty", e.Data)
	}
}

func TestNew_CopiesData(t *testing.T) {
	data := map[string]any{"state": "on"}
	e := New(TypeDeviceStateChanged, data)

	data["state"] = "off"
	if e.Data["state"] != "on" {
		t.Error("mutating the input map leaked into the event")
	}
}

func TestNew_Options(t *testing.T) {
	e := New(TypeCommandSent, nil, WithSource("hub"), WithTarget("light_1"))
	if e.Source != "hub" {
		t.Errorf("Source = %q, want hub", e.Source)
	}
	if e.Target != "light_1" {
		t.Errorf("Target = %q, want light_1", e.Target)
	}
}
