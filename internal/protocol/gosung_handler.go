package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

const gosungProbeTimeout = 5 * time.Second

// gosungProbeEndpoints are tried in order; firmware revisions moved the
// info endpoint around.
var gosungProbeEndpoints = []string{
	"/api/device/info",
	"/gosung/status",
	"/led/info",
}

// gosungHandler manages Gosung LED strips over their local HTTP API.
// The strips do not announce themselves, so configured hosts are probed
// on an interval and identified by their info payload. Commands go to
// the strip's control endpoint.
type gosungHandler struct {
	lifecycle

	cfg    config.GosungConfig
	bus    EventSink
	logger Logger
	http   *http.Client

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newGosungHandler(deps Deps) (Handler, error) {
	return &gosungHandler{
		cfg:     deps.Config.Protocols.Gosung,
		bus:     deps.Bus,
		logger:  deps.Logger,
		http:    &http.Client{Timeout: gosungProbeTimeout},
		devices: make(map[string]Descriptor),
	}, nil
}

func (h *gosungHandler) Protocol() string { return "gosung" }
func (h *gosungHandler) Running() bool    { return h.isRunning() }

func (h *gosungHandler) Start(ctx context.Context) error {
	if len(h.cfg.Hosts) == 0 {
		return fmt.Errorf("gosung handler: no hosts configured")
	}
	if !h.begin() {
		return nil
	}

	interval := time.Duration(h.cfg.ScanInterval) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	h.loop(ctx, interval, func(loopCtx context.Context) error {
		_, err := h.probeAll(loopCtx)
		return err
	})

	h.logger.Info("gosung handler started", "hosts", strings.Join(h.cfg.Hosts, ","))
	return nil
}

func (h *gosungHandler) Stop() {
	if !h.isRunning() {
		return
	}
	h.end()
	h.logger.Info("gosung handler stopped")
}

// DiscoverDevices probes every configured host once.
func (h *gosungHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}
	return h.probeAll(ctx)
}

// SendCommand posts the command to the strip's control endpoint.
func (h *gosungHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	h.devMu.RLock()
	d, known := h.devices[deviceID]
	h.devMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	body, err := json.Marshal(map[string]any{
		"command": command,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("gosung handler: encoding command: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/device/control", d.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gosung handler: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: strip returned %s", ErrCommandFailed, resp.Status)
	}

	h.logger.Debug("gosung command delivered", "device_id", deviceID, "command", command)
	return nil
}

// probeAll checks every configured host and updates the device cache
// from the ones that answer as Gosung strips. An unreachable host is
// skipped, not an error.
func (h *gosungHandler) probeAll(ctx context.Context) ([]Descriptor, error) {
	var found []Descriptor
	for _, host := range h.cfg.Hosts {
		d, ok := h.probeHost(ctx, host)
		if !ok {
			continue
		}
		found = append(found, d)

		h.devMu.Lock()
		_, known := h.devices[d.ID]
		h.devices[d.ID] = d
		h.devMu.Unlock()

		if !known {
			h.logger.Info("gosung strip discovered", "device_id", d.ID, "address", d.Address)
			emitFound(h.bus, d)
		}
	}
	return found, nil
}

// probeHost tries the known info endpoints on one host until a payload
// identifies a Gosung strip.
func (h *gosungHandler) probeHost(ctx context.Context, host string) (Descriptor, bool) {
	for _, endpoint := range gosungProbeEndpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+endpoint, nil)
		if err != nil {
			return Descriptor{}, false
		}

		resp, err := h.http.Do(req)
		if err != nil {
			continue
		}

		var payload gosungInfo
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			continue
		}

		if d, ok := describeGosung(host, payload); ok {
			return d, true
		}
	}
	return Descriptor{}, false
}

// gosungInfo is the strip's self-description payload.
type gosungInfo struct {
	DeviceID string         `json:"device_id"`
	Name     string         `json:"name"`
	Brand    string         `json:"brand"`
	Model    string         `json:"model"`
	Type     string         `json:"type"`
	State    map[string]any `json:"state"`
}

// describeGosung builds a descriptor from an info payload, rejecting
// payloads from unrelated HTTP services on the same host.
func describeGosung(host string, info gosungInfo) (Descriptor, bool) {
	switch {
	case strings.EqualFold(info.Brand, "gosung"):
	case strings.HasPrefix(info.DeviceID, "gosung"):
	case info.Type == "led_strip":
	default:
		return Descriptor{}, false
	}

	id := info.DeviceID
	if id == "" {
		id = "gosung_" + sanitizeAddress(host)
	}

	name := info.Name
	if name == "" && info.Model != "" {
		name = "Gosung " + info.Model
	}
	if name == "" {
		name = host
	}

	state := info.State
	if state == nil {
		state = map[string]any{"online": true}
	}

	return Descriptor{
		ID:           id,
		Name:         name,
		Type:         "led_strip",
		Protocol:     "gosung",
		Address:      host,
		Capabilities: []string{"on_off", "brightness", "color", "effects"},
		State:        state,
	}, true
}
