// Package influxdb provides optional time-series telemetry for Hearth.
//
// When enabled, numeric device state changes are mirrored into InfluxDB
// as device_state points tagged by device and protocol, giving dashboards
// a history the SQLite state table is not shaped for. Writes are batched
// and non-blocking; failures are reported through an error callback and
// never affect device handling.
package influxdb
