// Package export mirrors the bridge's entity model onto MQTT and
// InfluxDB.
//
// Device and room state changes are published retained under
// xcomfort/state/{device,room}/<id>; power and climate readings are
// written to the time-series database; and JSON commands arriving under
// xcomfort/command/... are translated into typed bridge commands.
package export
