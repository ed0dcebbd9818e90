package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hearthd/hearth-core/internal/event"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

func TestLastTopicSegment(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"hearth/state/mqtt/light_1", "light_1"},
		{"zigbee2mqtt/kitchen_bulb", "kitchen_bulb"},
		{"trailing/", ""},
		{"nosegments", ""},
	}
	for _, tt := range tests {
		if got := lastTopicSegment(tt.topic); got != tt.want {
			t.Errorf("lastTopicSegment(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestMQTTHandler_Announcement(t *testing.T) {
	deps, sink := testDeps()
	h, err := Build("mqtt", deps)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	mh := h.(*mqttHandler)

	payload := `{"id":"light_1","name":"Desk Lamp","type":"light","address":"10.0.0.5",
		"capabilities":["on_off","brightness"],"state":{"power":"off"}}`
	if err := mh.handleAnnouncement("hearth/discovery/mqtt", []byte(payload)); err != nil {
		t.Fatalf("handleAnnouncement() error = %v", err)
	}

	found := sink.byType(event.TypeDeviceFound)
	if len(found) != 1 {
		t.Fatalf("device.found events = %d, want 1", len(found))
	}
	if found[0].Data["device_id"] != "light_1" {
		t.Errorf("device_id = %v, want light_1", found[0].Data["device_id"])
	}
	if found[0].Source != "mqtt" {
		t.Errorf("Source = %q, want mqtt", found[0].Source)
	}
	caps, _ := found[0].Data["capabilities"].([]string)
	if len(caps) != 2 || caps[0] != "on_off" || caps[1] != "brightness" {
		t.Errorf("capabilities = %v, want [on_off brightness]", found[0].Data["capabilities"])
	}

	if err := mh.handleAnnouncement("hearth/discovery/mqtt", []byte(`{"name":"no id"}`)); err == nil {
		t.Error("expected error for announcement without id")
	}
	if err := mh.handleAnnouncement("hearth/discovery/mqtt", []byte("not json")); err == nil {
		t.Error("expected error for malformed announcement")
	}
}

func TestMQTTHandler_StateUpdate(t *testing.T) {
	deps, sink := testDeps()
	h, _ := Build("mqtt", deps)
	mh := h.(*mqttHandler)

	if err := mh.handleState("hearth/state/mqtt/light_1", []byte(`{"power":"on"}`)); err != nil {
		t.Fatalf("handleState() error = %v", err)
	}

	changed := sink.byType(event.TypeDeviceStateChanged)
	if len(changed) != 1 {
		t.Fatalf("state_changed events = %d, want 1", len(changed))
	}
	state, ok := changed[0].Data["state"].(map[string]any)
	if !ok || state["power"] != "on" {
		t.Errorf("state = %v, want power=on", changed[0].Data["state"])
	}
}

func TestMQTTHandler_Availability(t *testing.T) {
	deps, sink := testDeps()
	h, _ := Build("mqtt", deps)
	mh := h.(*mqttHandler)

	if err := mh.handleAvailability("hearth/availability/mqtt/light_1", []byte("online")); err != nil {
		t.Fatalf("handleAvailability() error = %v", err)
	}
	if err := mh.handleAvailability("hearth/availability/mqtt/light_1", []byte("offline")); err != nil {
		t.Fatalf("handleAvailability() error = %v", err)
	}

	if n := len(sink.byType(event.TypeDeviceConnected)); n != 1 {
		t.Errorf("connected events = %d, want 1", n)
	}
	if n := len(sink.byType(event.TypeDeviceDisconnected)); n != 1 {
		t.Errorf("disconnected events = %d, want 1", n)
	}
}

func TestMQTTHandler_NotRunning(t *testing.T) {
	deps, _ := testDeps()
	h, _ := Build("mqtt", deps)

	if _, err := h.DiscoverDevices(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("DiscoverDevices error = %v, want ErrNotRunning", err)
	}
	if err := h.SendCommand(context.Background(), "light_1", "turn_on", nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SendCommand error = %v, want ErrNotRunning", err)
	}
}

func TestZigbeePayload(t *testing.T) {
	tests := []struct {
		command string
		params  map[string]any
		wantKey string
		wantVal any
	}{
		{"turn_on", nil, "state", "ON"},
		{"turn_off", nil, "state", "OFF"},
		{"toggle", nil, "state", "TOGGLE"},
		{"set_brightness", map[string]any{"brightness": 120}, "brightness", 120},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			payload := zigbeePayload(tt.command, tt.params)
			if payload[tt.wantKey] != tt.wantVal {
				t.Errorf("payload[%s] = %v, want %v", tt.wantKey, payload[tt.wantKey], tt.wantVal)
			}
		})
	}
}

func TestZigbeeHandler_DeviceList(t *testing.T) {
	deps, sink := testDeps()
	h, _ := Build("zigbee", deps)
	zh := h.(*zigbeeHandler)

	payload := `[
		{"friendly_name":"Coordinator","ieee_address":"0x00","type":"Coordinator"},
		{"friendly_name":"kitchen_bulb","ieee_address":"0x01","type":"Router",
		 "definition":{"description":"Smart bulb"}}
	]`
	if err := zh.handleDeviceList("zigbee2mqtt/bridge/devices", []byte(payload)); err != nil {
		t.Fatalf("handleDeviceList() error = %v", err)
	}

	found := sink.byType(event.TypeDeviceFound)
	if len(found) != 1 {
		t.Fatalf("device.found events = %d, want 1 (coordinator skipped)", len(found))
	}
	if found[0].Data["device_id"] != "zigbee_kitchen_bulb" {
		t.Errorf("device_id = %v, want zigbee_kitchen_bulb", found[0].Data["device_id"])
	}
	if found[0].Data["name"] != "Smart bulb" {
		t.Errorf("name = %v, want Smart bulb", found[0].Data["name"])
	}

	// Re-announcing the same list must not duplicate device.found.
	if err := zh.handleDeviceList("zigbee2mqtt/bridge/devices", []byte(payload)); err != nil {
		t.Fatalf("second handleDeviceList() error = %v", err)
	}
	if n := len(sink.byType(event.TypeDeviceFound)); n != 1 {
		t.Errorf("device.found events after repeat = %d, want 1", n)
	}
}

func TestZigbeeHandler_StateIgnoresBridgeTopics(t *testing.T) {
	deps, sink := testDeps()
	h, _ := Build("zigbee", deps)
	zh := h.(*zigbeeHandler)

	if err := zh.handleState("zigbee2mqtt/bridge", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("handleState(bridge) error = %v", err)
	}
	if err := zh.handleState("zigbee2mqtt/kitchen_bulb", []byte("not json")); err != nil {
		t.Fatalf("handleState(non-json) error = %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("events = %d, want 0", len(sink.events))
	}

	if err := zh.handleState("zigbee2mqtt/kitchen_bulb", []byte(`{"state":"ON"}`)); err != nil {
		t.Fatalf("handleState() error = %v", err)
	}
	if n := len(sink.byType(event.TypeDeviceStateChanged)); n != 1 {
		t.Errorf("state_changed events = %d, want 1", n)
	}
}

func TestBluetoothHandler_Lifecycle(t *testing.T) {
	deps, _ := testDeps()
	deps.Config.Protocols.Bluetooth = config.BluetoothConfig{
		Adapter:      "hci0",
		ScanInterval: 60,
		Devices: []config.BluetoothDeviceConfig{
			{Address: "AA:BB:CC:DD:EE:FF", Name: "Door Sensor", Type: "sensor"},
			{Address: "", Name: "ignored"},
		},
	}

	h, err := Build("bluetooth", deps)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.Stop()

	if !h.Running() {
		t.Fatal("expected running after Start")
	}

	devices, err := h.DiscoverDevices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1 (empty address skipped)", len(devices))
	}
	if devices[0].ID != "bluetooth_AA_BB_CC_DD_EE_FF" {
		t.Errorf("ID = %q, want bluetooth_AA_BB_CC_DD_EE_FF", devices[0].ID)
	}

	if err := h.SendCommand(context.Background(), devices[0].ID, "identify", nil); err != nil {
		t.Errorf("SendCommand(known) error = %v", err)
	}
	if err := h.SendCommand(context.Background(), "bluetooth_missing", "identify", nil); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("SendCommand(unknown) error = %v, want ErrUnknownDevice", err)
	}

	h.Stop()
	if h.Running() {
		t.Error("expected stopped after Stop")
	}
	if _, err := h.DiscoverDevices(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("DiscoverDevices after Stop error = %v, want ErrNotRunning", err)
	}
}

func TestTuyaHandler_SeedsFromConfig(t *testing.T) {
	deps, _ := testDeps()
	deps.Config.Protocols.Tuya = config.TuyaConfig{
		ScanInterval: 60,
		Devices: []config.TuyaDeviceConfig{
			{ID: "abc123", Name: "Heater Plug", Type: "smart_plug", Host: "10.0.0.9", LocalKey: "k"},
			{ID: "", Host: "10.0.0.10"},
		},
	}

	h, err := Build("tuya", deps)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	th := h.(*tuyaHandler)

	if len(th.devices) != 1 {
		t.Fatalf("seeded devices = %d, want 1", len(th.devices))
	}
	d, ok := th.devices["tuya_abc123"]
	if !ok {
		t.Fatal("expected tuya_abc123 seeded")
	}
	if online, _ := d.State["online"].(bool); online {
		t.Error("seeded device should start offline")
	}
}

func TestZWaveHandler_IngestsNodeList(t *testing.T) {
	deps, sink := testDeps()
	h, _ := Build("zwave", deps)
	zh := h.(*zwaveHandler)

	msg := `{
		"type": "result",
		"result": {"state": {"nodes": [
			{"nodeId": 1, "name": "Controller"},
			{"nodeId": 4, "name": "Hall Dimmer", "status": 4,
			 "values": [{"commandClass": 38, "propertyName": "currentValue", "value": 55}]}
		]}}
	}`
	if err := zh.handleMessage([]byte(msg)); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	found := sink.byType(event.TypeDeviceFound)
	if len(found) != 1 {
		t.Fatalf("device.found events = %d, want 1 (controller skipped)", len(found))
	}
	if found[0].Data["device_id"] != "zwave_4" {
		t.Errorf("device_id = %v, want zwave_4", found[0].Data["device_id"])
	}
	caps, _ := found[0].Data["capabilities"].([]string)
	if len(caps) != 1 || caps[0] != "brightness" {
		t.Errorf("capabilities = %v, want [brightness]", found[0].Data["capabilities"])
	}

	update := `{
		"type": "event",
		"event": {"event": "value updated", "nodeId": 4,
		          "args": {"propertyName": "currentValue", "newValue": 80}}
	}`
	if err := zh.handleMessage([]byte(update)); err != nil {
		t.Fatalf("handleMessage(update) error = %v", err)
	}
	changed := sink.byType(event.TypeDeviceStateChanged)
	if len(changed) != 1 {
		t.Fatalf("state_changed events = %d, want 1", len(changed))
	}
}

func TestZWaveValueMapping(t *testing.T) {
	id := zwaveValueID("turn_on", nil)
	if id["commandClass"] != 37 {
		t.Errorf("turn_on commandClass = %v, want 37 (binary switch)", id["commandClass"])
	}
	if v := zwaveValue("turn_on", nil); v != true {
		t.Errorf("turn_on value = %v, want true", v)
	}
	if v := zwaveValue("turn_off", nil); v != false {
		t.Errorf("turn_off value = %v, want false", v)
	}
	if v := zwaveValue("set_level", map[string]any{"value": 42}); v != 42 {
		t.Errorf("set_level value = %v, want 42", v)
	}
}

func TestZWaveHandler_StopBlocksReconnect(t *testing.T) {
	deps, _ := testDeps()
	h, _ := Build("zwave", deps)
	zh := h.(*zwaveHandler)

	zh.begin()
	zh.Stop()

	// A concurrent command or discovery racing Stop must not open a
	// fresh gateway connection after teardown.
	if err := zh.ensureConnected(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ensureConnected after Stop error = %v, want ErrNotRunning", err)
	}
	zh.connMu.Lock()
	defer zh.connMu.Unlock()
	if zh.conn != nil {
		t.Error("expected no connection after Stop")
	}
}

func TestGoveeHandler_IngestResponse(t *testing.T) {
	deps, sink := testDeps()
	h, _ := Build("govee", deps)
	gh := h.(*goveeHandler)

	resp, _ := json.Marshal(map[string]any{
		"msg": map[string]any{
			"cmd": "scan",
			"data": map[string]any{
				"ip":     "10.0.0.42",
				"device": "AA:BB:CC:11:22:33",
				"sku":    "H6159",
			},
		},
	})

	d, ok := gh.ingestResponse(resp)
	if !ok {
		t.Fatal("expected response ingested")
	}
	if d.ID != "govee_AA_BB_CC_11_22_33" {
		t.Errorf("ID = %q, want govee_AA_BB_CC_11_22_33", d.ID)
	}
	if d.Address != "10.0.0.42" {
		t.Errorf("Address = %q, want 10.0.0.42", d.Address)
	}
	if n := len(sink.byType(event.TypeDeviceFound)); n != 1 {
		t.Errorf("device.found events = %d, want 1", n)
	}

	if _, ok := gh.ingestResponse([]byte(`{"msg":{"cmd":"devStatus"}}`)); ok {
		t.Error("non-scan response should be ignored")
	}
	if _, ok := gh.ingestResponse([]byte("junk")); ok {
		t.Error("malformed response should be ignored")
	}
}

func TestGoveeCommandMapping(t *testing.T) {
	if got := goveeCommand("turn_on"); got != "turn" {
		t.Errorf("goveeCommand(turn_on) = %q, want turn", got)
	}
	if got := goveeCommandData("turn_on", nil)["value"]; got != 1 {
		t.Errorf("turn_on data value = %v, want 1", got)
	}
	if got := goveeCommandData("turn_off", nil)["value"]; got != 0 {
		t.Errorf("turn_off data value = %v, want 0", got)
	}
}

func TestDescribeGosung(t *testing.T) {
	tests := []struct {
		name   string
		info   gosungInfo
		wantID string
		wantOK bool
	}{
		{"by brand", gosungInfo{Brand: "Gosung", DeviceID: "gosung_lr_1", Model: "SL3"}, "gosung_lr_1", true},
		{"by device id", gosungInfo{DeviceID: "gosung_bedroom"}, "gosung_bedroom", true},
		{"by type, id from host", gosungInfo{Type: "led_strip"}, "gosung_10_0_0_77", true},
		{"unrelated service", gosungInfo{Brand: "acme", Type: "printer"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := describeGosung("10.0.0.77", tt.info)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if d.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", d.ID, tt.wantID)
			}
			if d.Type != "led_strip" {
				t.Errorf("Type = %q, want led_strip", d.Type)
			}
			if len(d.Capabilities) == 0 {
				t.Error("expected capabilities on led strip")
			}
		})
	}
}

func TestGosungHandler_DiscoverAndCommand(t *testing.T) {
	var controlled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/device/info":
			json.NewEncoder(w).Encode(map[string]any{
				"device_id": "gosung_office",
				"name":      "Office Strip",
				"brand":     "Gosung",
				"model":     "SL3",
				"state":     map[string]any{"power": "off"},
			})
		case "/api/device/control":
			controlled = true
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	deps, sink := testDeps()
	deps.Config.Protocols.Gosung.Hosts = []string{host}

	h, err := Build("gosung", deps)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	gh := h.(*gosungHandler)
	gh.begin()
	defer gh.end()

	devices, err := gh.DiscoverDevices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}
	if devices[0].ID != "gosung_office" {
		t.Errorf("ID = %q, want gosung_office", devices[0].ID)
	}
	if n := len(sink.byType(event.TypeDeviceFound)); n != 1 {
		t.Errorf("device.found events = %d, want 1", n)
	}

	// A second pass must not duplicate device.found.
	if _, err := gh.DiscoverDevices(context.Background()); err != nil {
		t.Fatalf("second DiscoverDevices() error = %v", err)
	}
	if n := len(sink.byType(event.TypeDeviceFound)); n != 1 {
		t.Errorf("device.found events after repeat = %d, want 1", n)
	}

	if err := gh.SendCommand(context.Background(), "gosung_office", "turn_on", nil); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !controlled {
		t.Error("expected control endpoint hit")
	}
	if err := gh.SendCommand(context.Background(), "gosung_missing", "turn_on", nil); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("SendCommand(unknown) error = %v, want ErrUnknownDevice", err)
	}
}

func TestClassifyByPorts(t *testing.T) {
	tests := []struct {
		ports []uint16
		want  string
	}{
		{[]uint16{9999}, "smart_plug"},
		{[]uint16{8443}, "camera"},
		{[]uint16{8080}, "hub"},
		{[]uint16{80, 443}, "smart_device"},
	}
	for _, tt := range tests {
		if got := classifyByPorts(tt.ports); got != tt.want {
			t.Errorf("classifyByPorts(%v) = %q, want %q", tt.ports, got, tt.want)
		}
	}
}

func TestSanitizeAddress(t *testing.T) {
	if got := sanitizeAddress("AA:BB-CC"); got != "AA_BB_CC" {
		t.Errorf("sanitizeAddress = %q, want AA_BB_CC", got)
	}
	if got := sanitizeAddress("10.0.0.77"); got != "10_0_0_77" {
		t.Errorf("sanitizeAddress = %q, want 10_0_0_77", got)
	}
}
