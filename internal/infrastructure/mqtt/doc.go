// Package mqtt wraps the Eclipse Paho client for the xcomfortd exporter.
//
// The exporter publishes retained device and room state under
// xcomfort/state/... and accepts commands under xcomfort/command/...;
// this package provides the connection lifecycle (LWT, auto-reconnect,
// subscription restore) and the topic scheme.
package mqtt
