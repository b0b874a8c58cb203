package xcomfort

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// defaultBackoff is the delay between reconnection attempts.
const defaultBackoff = 5 * time.Second

// LifecycleState is the supervisor's connection lifecycle state.
type LifecycleState int32

// Lifecycle states.
const (
	StateUninitialized LifecycleState = 0
	StateInitializing  LifecycleState = 1
	StateReady         LifecycleState = 2
	StateClosing       LifecycleState = 10
)

// String returns the state's name.
func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Bridge.
type Options struct {
	// Host is the bridge's address on the local network. Required.
	Host string

	// AuthKey is the shared secret provisioned on the bridge. Required.
	AuthKey string

	// HTTPClient performs the bootstrap exchange. Optional; when nil the
	// bridge owns an internal client and releases it on Close. A borrowed
	// client is never closed.
	HTTPClient *http.Client

	// Logger is optional.
	Logger Logger

	// Backoff is the delay between reconnection attempts. Default: 5 s.
	Backoff time.Duration

	// TransportTimeout bounds handshake phases and frame writes.
	// Default: 10 s.
	TransportTimeout time.Duration
}

// channel is the encrypted message channel the supervisor drives.
// Satisfied by *Connection; tests substitute a mock.
type channel interface {
	Send(ctx context.Context, op Opcode, payload Payload) error
	Messages() *Subject[Message]
	Pump() error
	Close() error
}

// dialFunc produces an authenticated channel. Tests substitute a fake.
type dialFunc func(ctx context.Context, cfg HandshakeConfig) (channel, error)

// Bridge maintains the connection to an xComfort Bridge and the in-memory
// model of its devices, rooms and components.
//
// Run drives the supervisor loop: handshake, pump, reconnect with backoff
// until Close. Registries are created on first sight of an entity and
// survive reconnects, so identifiers remain stable for the session.
type Bridge struct {
	cfg        Options
	httpClient *http.Client
	ownsClient bool
	dial       dialFunc

	state atomic.Int32

	mu      sync.Mutex
	conn    channel
	devices map[int]Device
	rooms   map[int]*Room
	comps   map[int]*Comp

	initialized chan struct{}
	initOnce    sync.Once

	closing   chan struct{}
	closeOnce sync.Once

	logger Logger
}

// NewBridge creates a bridge client for the given address and authkey with
// default options.
func NewBridge(host, authkey string) *Bridge {
	b, _ := NewBridgeWithOptions(Options{Host: host, AuthKey: authkey})
	return b
}

// NewBridgeWithOptions creates a bridge client. Host and AuthKey are
// required.
func NewBridgeWithOptions(opts Options) (*Bridge, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrHandshakeFailed)
	}
	if opts.AuthKey == "" {
		return nil, fmt.Errorf("%w: authkey is required", ErrHandshakeFailed)
	}
	if opts.Backoff == 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.TransportTimeout == 0 {
		opts.TransportTimeout = defaultTransportTimeout
	}

	b := &Bridge{
		cfg:        opts,
		httpClient: opts.HTTPClient,
		dial: func(ctx context.Context, cfg HandshakeConfig) (channel, error) {
			return Connect(ctx, cfg)
		},
		devices:     make(map[int]Device),
		rooms:       make(map[int]*Room),
		comps:       make(map[int]*Comp),
		initialized: make(chan struct{}),
		closing:     make(chan struct{}),
		logger:      opts.Logger,
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{}
		b.ownsClient = true
	}
	return b, nil
}

// Run connects to the bridge and keeps the channel alive until Close,
// re-handshaking with backoff after every disconnect. It may be called
// once per uninitialized state; a second concurrent call is rejected with
// ErrAlreadyRunning.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return ErrAlreadyRunning
	}
	defer b.state.Store(int32(StateUninitialized))

	for b.State() != StateClosing {
		if err := b.runSession(ctx); err != nil {
			b.logWarn("session ended", "error", err)
		}
		if b.State() == StateClosing || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(b.cfg.Backoff):
		case <-b.closing:
		case <-ctx.Done():
		}
	}
	return nil
}

// runSession performs one handshake-pump cycle.
func (b *Bridge) runSession(ctx context.Context) error {
	conn, err := b.dial(ctx, HandshakeConfig{
		Host:       b.cfg.Host,
		AuthKey:    b.cfg.AuthKey,
		HTTPClient: b.httpClient,
		Timeout:    b.cfg.TransportTimeout,
		Logger:     b.logger,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	// Close may have raced the dial; don't leave a live channel behind.
	if b.State() == StateClosing {
		conn.Close()
	}

	sub := conn.Messages().Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.dispatchLoop(sub)
	}()

	err = conn.Pump()

	sub.Cancel()
	<-done
	conn.Close()

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()

	// A later reconnect re-announces the inventory before commands make
	// sense again.
	if b.State() == StateReady {
		b.state.CompareAndSwap(int32(StateReady), int32(StateInitializing))
	}
	return err
}

// Close tears the bridge down: the pump is cancelled, the channel closed,
// and Run returns. An owned HTTP client is released; a borrowed one is
// left untouched. Idempotent.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.state.Store(int32(StateClosing))
		close(b.closing)

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if b.ownsClient {
			b.httpClient.CloseIdleConnections()
		}
		b.logInfo("bridge closed")
	})
	return nil
}

// State returns the supervisor's lifecycle state.
func (b *Bridge) State() LifecycleState {
	return LifecycleState(b.state.Load())
}

// WaitForInitialization blocks until the bridge has processed a full
// inventory (a SET_ALL_DATA batch marked lastItem) or the context ends.
func (b *Bridge) WaitForInitialization(ctx context.Context) error {
	select {
	case <-b.initialized:
		return nil
	case <-b.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Devices returns the device registry keyed by device id. It waits for
// initialization; the returned map is a snapshot.
func (b *Bridge) Devices(ctx context.Context) (map[int]Device, error) {
	if err := b.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	devices := make(map[int]Device, len(b.devices))
	for id, d := range b.devices {
		devices[id] = d
	}
	return devices, nil
}

// Rooms returns the room registry keyed by room id. It waits for
// initialization; the returned map is a snapshot.
func (b *Bridge) Rooms(ctx context.Context) (map[int]*Room, error) {
	if err := b.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rooms := make(map[int]*Room, len(b.rooms))
	for id, r := range b.rooms {
		rooms[id] = r
	}
	return rooms, nil
}

// Comps returns the component registry keyed by component id. It waits
// for initialization; the returned map is a snapshot.
func (b *Bridge) Comps(ctx context.Context) (map[int]*Comp, error) {
	if err := b.WaitForInitialization(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	comps := make(map[int]*Comp, len(b.comps))
	for id, c := range b.comps {
		comps[id] = c
	}
	return comps, nil
}

// device looks a device up without waiting for initialization.
func (b *Bridge) device(id int) Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[id]
}

// comp looks a component up without waiting for initialization.
func (b *Bridge) comp(id int) *Comp {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.comps[id]
}

// SendMessage serializes a command onto the channel. Commands are gated on
// the Ready state: until the inventory is in, ErrNotConnected is returned.
func (b *Bridge) SendMessage(ctx context.Context, op Opcode, payload Payload) error {
	if b.State() != StateReady {
		return fmt.Errorf("%w: bridge is %s", ErrNotConnected, b.State())
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, op, payload)
}

// SwitchDevice sends ACTION_SWITCH_DEVICE for a device with the given
// message fields.
func (b *Bridge) SwitchDevice(ctx context.Context, deviceID int, message Payload) error {
	payload := Payload{"deviceId": deviceID}.Merge(message)
	return b.SendMessage(ctx, OpActionSwitchDevice, payload)
}

// SlideDevice sends ACTION_SLIDE_DEVICE for a device with the given
// message fields.
func (b *Bridge) SlideDevice(ctx context.Context, deviceID int, message Payload) error {
	payload := Payload{"deviceId": deviceID}.Merge(message)
	return b.SendMessage(ctx, OpActionSlideDevice, payload)
}

// dispatchLoop consumes decoded messages from one channel session. All
// registry mutation happens here, so entity handlers are atomic with
// respect to each other.
func (b *Bridge) dispatchLoop(sub *Subscription[Message]) {
	for {
		select {
		case msg := <-sub.C():
			b.dispatch(msg)
		case <-sub.Done():
			return
		}
	}
}

// dispatch routes one decoded message to its handler.
func (b *Bridge) dispatch(msg Message) {
	switch msg.Type {
	case OpSetAllData:
		b.handleSetAllData(msg.Payload)
	case OpSetDeviceState:
		b.handleSetDeviceState(msg.Payload)
	case OpSetStateInfo:
		b.handleSetStateInfo(msg.Payload)
	default:
		b.logDebug("unhandled message", "opcode", msg.Type.String())
	}
}

// handleSetAllData ingests an inventory batch: devices, comps, rooms and
// roomHeating arrays, each element applied with the creation-or-update
// rule. The batch marked lastItem completes initialization.
func (b *Bridge) handleSetAllData(payload Payload) {
	if items, ok := payload.Objects("devices"); ok {
		for _, item := range items {
			b.safely("device", item, b.handleDevicePayload)
		}
	}
	if items, ok := payload.Objects("comps"); ok {
		for _, item := range items {
			b.safely("comp", item, b.handleCompPayload)
		}
	}
	if items, ok := payload.Objects("rooms"); ok {
		for _, item := range items {
			b.safely("room", item, b.handleRoomPayload)
		}
	}
	if items, ok := payload.Objects("roomHeating"); ok {
		for _, item := range items {
			b.safely("room", item, b.handleRoomPayload)
		}
	}

	if payload.Has("lastItem") {
		b.state.CompareAndSwap(int32(StateInitializing), int32(StateReady))
		b.initOnce.Do(func() { close(b.initialized) })
		b.mu.Lock()
		counts := []any{"devices", len(b.devices), "rooms", len(b.rooms), "comps", len(b.comps)}
		b.mu.Unlock()
		b.logInfo("initialization complete", counts...)
	}
}

// handleSetDeviceState forwards a single device update. Updates for
// devices that were never announced are dropped.
func (b *Bridge) handleSetDeviceState(payload Payload) {
	id, ok := payload.Int("deviceId")
	if !ok {
		return
	}
	dev := b.device(id)
	if dev == nil {
		return
	}
	b.safely("device", payload, func(p Payload) { dev.handleState(p) })
}

// handleSetStateInfo routes each item of a state batch by the first
// present key in the order deviceId, roomId, compId. Items referencing
// unknown entities are ignored.
func (b *Bridge) handleSetStateInfo(payload Payload) {
	items, ok := payload.Objects("item")
	if !ok {
		return
	}
	for _, item := range items {
		b.safely("stateInfo", item, b.routeStateInfo)
	}
}

func (b *Bridge) routeStateInfo(item Payload) {
	switch {
	case item.Has("deviceId"):
		id, _ := item.Int("deviceId")
		if dev := b.device(id); dev != nil {
			dev.handleState(item)
		}
	case item.Has("roomId"):
		id, _ := item.Int("roomId")
		b.mu.Lock()
		room := b.rooms[id]
		b.mu.Unlock()
		if room != nil {
			room.handleState(item)
		}
	case item.Has("compId"):
		id, _ := item.Int("compId")
		if comp := b.comp(id); comp != nil {
			comp.handleState(item)
		}
	default:
		b.logDebug("unroutable state info item", "item", map[string]any(item))
	}
}

// handleDevicePayload applies the creation-or-update rule for a device.
func (b *Bridge) handleDevicePayload(payload Payload) {
	id, ok := payload.Int("deviceId")
	if !ok {
		return
	}
	b.mu.Lock()
	dev := b.devices[id]
	if dev == nil {
		dev = b.classifyDevice(payload)
		b.devices[id] = dev
	}
	b.mu.Unlock()
	dev.handleState(payload)
}

// handleRoomPayload applies the creation-or-update rule for a room.
func (b *Bridge) handleRoomPayload(payload Payload) {
	id, ok := payload.Int("roomId")
	if !ok {
		return
	}
	b.mu.Lock()
	room := b.rooms[id]
	if room == nil {
		name, _ := payload.String("name")
		room = newRoom(b, id, name)
		b.rooms[id] = room
	}
	b.mu.Unlock()
	room.handleState(payload)
}

// handleCompPayload applies the creation-or-update rule for a component.
func (b *Bridge) handleCompPayload(payload Payload) {
	id, ok := payload.Int("compId")
	if !ok {
		return
	}
	b.mu.Lock()
	comp := b.comps[id]
	if comp == nil {
		name, _ := payload.String("name")
		compType, _ := payload.Int("compType")
		comp = newComp(id, compType, name)
		b.comps[id] = comp
	}
	b.mu.Unlock()
	comp.handleState(payload)
}

// safely runs one element handler, confining a panic to that element so a
// malformed item cannot abort its batch.
func (b *Bridge) safely(kind string, payload Payload, fn func(Payload)) {
	defer func() {
		if r := recover(); r != nil {
			b.logError("payload handler failed", "kind", kind, "panic", r)
		}
	}()
	fn(payload)
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, keysAndValues...)
	}
}
