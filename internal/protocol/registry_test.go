package protocol

import (
	"errors"
	"testing"

	"github.com/hearthd/hearth-core/internal/event"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

// captureSink records emitted events for assertions.
type captureSink struct {
	events []event.Event
}

func (s *captureSink) Emit(e event.Event) {
	s.events = append(s.events, e)
}

func (s *captureSink) byType(t event.Type) []event.Event {
	var out []event.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testDeps() (Deps, *captureSink) {
	sink := &captureSink{}
	cfg := &config.Config{}
	cfg.Protocols.WiFi.Targets = []string{"192.168.1.0/24"}
	cfg.Protocols.WiFi.Ports = "80,443"
	cfg.Protocols.ZWave.ServerURL = "ws://localhost:3000"
	cfg.Protocols.Govee.MulticastAddr = "239.255.255.250:4001"
	cfg.Protocols.Govee.ControlPort = 4003
	cfg.Protocols.Gosung.Hosts = []string{"192.168.1.50"}
	return Deps{Config: cfg, Bus: sink}, sink
}

func TestAvailable(t *testing.T) {
	names := Available()
	want := []string{"bluetooth", "gosung", "govee", "matter", "mqtt", "tuya", "wifi", "zigbee", "zwave"}

	if len(names) != len(want) {
		t.Fatalf("Available() = %v, want %v", names, want)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Available()[%d] = %q, want %q (sorted)", i, names[i], name)
		}
	}
}

func TestBuild_AllRegistered(t *testing.T) {
	deps, _ := testDeps()

	for _, name := range Available() {
		t.Run(name, func(t *testing.T) {
			h, err := Build(name, deps)
			if err != nil {
				t.Fatalf("Build(%q) error = %v", name, err)
			}
			if h.Protocol() != name {
				t.Errorf("Protocol() = %q, want %q", h.Protocol(), name)
			}
			if h.Running() {
				t.Error("expected handler not running before Start")
			}
		})
	}
}

func TestBuild_Unknown(t *testing.T) {
	deps, _ := testDeps()

	_, err := Build("insteon", deps)
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("error = %v, want ErrUnknownProtocol", err)
	}
}
