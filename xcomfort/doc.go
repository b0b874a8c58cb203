// Package xcomfort is a client for the Eaton xComfort Bridge.
//
// It maintains a long-lived, authenticated, encrypted control channel to the
// bridge over the local network, translates the bridge's evented wire
// protocol into an in-memory model of devices, rooms and components, and
// exposes typed commands (switch a light, slide a dimmer, move a shade, set
// a room's heating mode or target temperature) that are serialized back onto
// the channel.
//
// Architecture:
//
//	HTTP bootstrap ──► session key + WebSocket stream (handshake.go, crypto.go)
//	WebSocket      ──► encrypted frames ◄──► Connection pump (connection.go)
//	frames         ──► opcode + payload (codec.go, messages.go)
//	messages       ──► dispatch + registries (bridge.go)
//	registries     ──► Light / Shade / Rocker / Switch / RcTouch / Heater /
//	                   Room / Comp state subjects (devices.go, shade.go, room.go)
//
// Usage:
//
//	bridge := xcomfort.NewBridge("192.168.1.20", authkey)
//	go bridge.Run(ctx)
//	if err := bridge.WaitForInitialization(ctx); err != nil { ... }
//	devices, _ := bridge.Devices(ctx)
//
// The Bridge reconnects with a fixed backoff until Close is called. Entity
// state is published through last-value-caching subjects: a new subscriber
// immediately receives the most recent state, and a slow subscriber never
// blocks the connection pump.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
package xcomfort
