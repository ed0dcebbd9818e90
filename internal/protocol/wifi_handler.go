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

	"github.com/Ullaakut/nmap/v3"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

const wifiCommandTimeout = 10 * time.Second

// wifiHandler discovers IP devices by scanning the configured network
// ranges with nmap and classifying hosts by their open service ports.
// Commands are delivered over plain HTTP to the device's address.
type wifiHandler struct {
	lifecycle

	cfg    config.WiFiConfig
	bus    EventSink
	logger Logger
	http   *http.Client

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newWiFiHandler(deps Deps) (Handler, error) {
	return &wifiHandler{
		cfg:     deps.Config.Protocols.WiFi,
		bus:     deps.Bus,
		logger:  deps.Logger,
		http:    &http.Client{Timeout: wifiCommandTimeout},
		devices: make(map[string]Descriptor),
	}, nil
}

func (h *wifiHandler) Protocol() string { return "wifi" }
func (h *wifiHandler) Running() bool    { return h.isRunning() }

func (h *wifiHandler) Start(ctx context.Context) error {
	if len(h.cfg.Targets) == 0 {
		return fmt.Errorf("wifi handler: no scan targets configured")
	}
	if !h.begin() {
		return nil
	}

	interval := time.Duration(h.cfg.ScanInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	h.loop(ctx, interval, func(loopCtx context.Context) error {
		_, err := h.scan(loopCtx)
		if err != nil {
			h.logger.Warn("wifi scan failed", "error", err)
		}
		return err
	})

	h.logger.Info("wifi handler started", "targets", strings.Join(h.cfg.Targets, ","))
	return nil
}

func (h *wifiHandler) Stop() {
	if !h.isRunning() {
		return
	}
	h.end()
	h.logger.Info("wifi handler stopped")
}

// DiscoverDevices runs one scan pass and returns everything found so far.
func (h *wifiHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}
	return h.scan(ctx)
}

// SendCommand posts the command to the device's HTTP command endpoint.
func (h *wifiHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
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
		return fmt.Errorf("wifi handler: encoding command: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/command", d.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wifi handler: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: device returned %s", ErrCommandFailed, resp.Status)
	}

	h.logger.Debug("wifi command delivered", "device_id", deviceID, "command", command)
	return nil
}

// scan runs nmap against the configured targets and updates the device
// cache from the responding hosts.
func (h *wifiHandler) scan(ctx context.Context) ([]Descriptor, error) {
	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(h.cfg.Targets...),
		nmap.WithPorts(h.cfg.Ports),
		nmap.WithTimingTemplate(nmap.TimingAggressive),
	)
	if err != nil {
		return nil, fmt.Errorf("wifi handler: creating scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("wifi handler: scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		h.logger.Debug("wifi scan warnings", "warnings", strings.Join(*warnings, "; "))
	}

	var found []Descriptor
	for i := range result.Hosts {
		d, ok := h.describeHost(&result.Hosts[i])
		if !ok {
			continue
		}
		found = append(found, d)

		h.devMu.Lock()
		_, known := h.devices[d.ID]
		h.devices[d.ID] = d
		h.devMu.Unlock()

		if !known {
			h.logger.Info("wifi device discovered", "device_id", d.ID, "address", d.Address)
			emitFound(h.bus, d)
		}
	}
	return found, nil
}

// describeHost builds a descriptor for a responsive host with at least
// one open port.
func (h *wifiHandler) describeHost(host *nmap.Host) (Descriptor, bool) {
	if host.Status.State != "up" || len(host.Addresses) == 0 {
		return Descriptor{}, false
	}

	addr := host.Addresses[0].Addr
	var openPorts []uint16
	for _, port := range host.Ports {
		if port.State.State == "open" {
			openPorts = append(openPorts, port.ID)
		}
	}
	if len(openPorts) == 0 {
		return Descriptor{}, false
	}

	name := addr
	if len(host.Hostnames) > 0 && host.Hostnames[0].Name != "" {
		name = host.Hostnames[0].Name
	}

	return Descriptor{
		ID:           "wifi_" + strings.NewReplacer(".", "_", ":", "_").Replace(addr),
		Name:         name,
		Type:         classifyByPorts(openPorts),
		Protocol:     "wifi",
		Address:      addr,
		Capabilities: []string{"ping"},
		State:        map[string]any{"online": true},
	}, true
}

// classifyByPorts guesses a device type from its open service ports.
func classifyByPorts(ports []uint16) string {
	for _, p := range ports {
		switch p {
		case 9999:
			return "smart_plug"
		case 8443:
			return "camera"
		case 8080:
			return "hub"
		}
	}
	return "smart_device"
}
