package hub

import (
	"context"
	"fmt"

	"github.com/hearthd/hearth-core/internal/event"
	"github.com/hearthd/hearth-core/internal/store"
)

// onDeviceFound upserts a discovered device. Re-discovery of a known id
// updates the row rather than duplicating it, so periodic discovery
// loops keep the store converged instead of growing it.
func (h *Hub) onDeviceFound(ctx context.Context, e event.Event) error {
	device := deviceFromEvent(e)
	if device == nil {
		return fmt.Errorf("device.found event missing device_id")
	}

	if err := h.store.SaveDevice(ctx, device); err != nil {
		h.logger.Error("persisting discovered device failed",
			"device_id", device.ID,
			"error", err,
		)
		return nil
	}

	if err := h.store.LogEvent(ctx, eventRecord(e)); err != nil {
		h.logger.Warn("logging device.found failed", "event_id", e.ID, "error", err)
	}
	return nil
}

// onDeviceStateChanged records the state snapshot and mirrors numeric
// fields to InfluxDB when telemetry is enabled. A state change for a
// device not yet in the store is quietly skipped; discovery will add it.
func (h *Hub) onDeviceStateChanged(ctx context.Context, e event.Event) error {
	deviceID, _ := e.Data["device_id"].(string)
	state, _ := e.Data["state"].(map[string]any)
	if deviceID == "" || state == nil {
		return fmt.Errorf("device.state_changed event missing device_id or state")
	}

	if err := h.store.SaveDeviceState(ctx, deviceID, state); err != nil {
		h.logger.Debug("persisting state change failed",
			"device_id", deviceID,
			"error", err,
		)
		return nil
	}

	if h.influx != nil {
		protocolName, _ := e.Data["protocol"].(string)
		h.influx.WriteDeviceState(deviceID, protocolName, state)
	}
	return nil
}

// onCommandSent appends the command to the event log.
func (h *Hub) onCommandSent(ctx context.Context, e event.Event) error {
	if err := h.store.LogEvent(ctx, eventRecord(e)); err != nil {
		h.logger.Warn("logging command.sent failed", "event_id", e.ID, "error", err)
	}
	return nil
}

// deviceFromEvent maps a device.found payload to a store record.
func deviceFromEvent(e event.Event) *store.Device {
	id, _ := e.Data["device_id"].(string)
	if id == "" {
		return nil
	}

	name, _ := e.Data["name"].(string)
	deviceType, _ := e.Data["type"].(string)
	protocolName, _ := e.Data["protocol"].(string)
	address, _ := e.Data["address"].(string)
	state, _ := e.Data["state"].(map[string]any)
	capabilities := capabilitiesFromEvent(e.Data["capabilities"])

	if protocolName == "" {
		protocolName = e.Source
	}
	if name == "" {
		name = id
	}

	return &store.Device{
		ID:           id,
		Name:         name,
		Type:         deviceType,
		Protocol:     protocolName,
		Address:      address,
		Capabilities: capabilities,
		State:        state,
		Online:       true,
	}
}

// capabilitiesFromEvent accepts both the in-process []string form and
// the []any form that survives a JSON round trip.
func capabilitiesFromEvent(v any) []string {
	switch caps := v.(type) {
	case []string:
		return caps
	case []any:
		out := make([]string, 0, len(caps))
		for _, c := range caps {
			if s, ok := c.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func eventRecord(e event.Event) store.EventRecord {
	return store.EventRecord{
		ID:         e.ID,
		EventType:  string(e.Type),
		Data:       e.Data,
		Source:     e.Source,
		Target:     e.Target,
		OccurredAt: e.Timestamp,
	}
}
