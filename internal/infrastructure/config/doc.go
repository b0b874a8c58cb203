// Package config loads and validates xcomfortd configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// XCOMFORT_* environment variables. Secrets (the bridge authkey, broker
// credentials, InfluxDB tokens) are typically supplied via environment so
// the YAML file can be committed without them.
package config
