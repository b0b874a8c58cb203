// Package logging provides structured logging for xcomfortd.
//
// The Logger wraps log/slog and carries service and version fields on
// every record. It satisfies the optional Logger interface of the
// xcomfort client package, so one logger serves the daemon, the exporter
// and the bridge client.
package logging
