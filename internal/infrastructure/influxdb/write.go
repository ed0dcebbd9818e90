package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceState mirrors the numeric fields of a device state change as
// a time-series point. Non-numeric fields (strings, bools, nested maps)
// are skipped; booleans are recorded as 0/1 under the same field name.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteDeviceState(deviceID, protocol string, state map[string]any) {
	if !c.IsConnected() {
		return
	}

	fields := numericFields(state)
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"protocol":  protocol,
		},
		fields,
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and
// fields. Tags should stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// numericFields extracts the fields of a state map that can be stored as
// InfluxDB float values.
func numericFields(state map[string]any) map[string]any {
	fields := make(map[string]any)
	for k, v := range state {
		switch val := v.(type) {
		case float64:
			fields[k] = val
		case float32:
			fields[k] = float64(val)
		case int:
			fields[k] = float64(val)
		case int64:
			fields[k] = float64(val)
		case bool:
			if val {
				fields[k] = float64(1)
			} else {
				fields[k] = float64(0)
			}
		}
	}
	return fields
}
