// Package influxdb writes xcomfortd telemetry to InfluxDB v2.
//
// The exporter records metered outlet power, room climate snapshots and
// standalone sensor readings. Writes go through the non-blocking batched
// write API, so a slow or absent time-series database never stalls the
// bridge pump.
package influxdb
