package xcomfort

import (
	"context"
	"fmt"
)

// RctMode is a room's heating operating mode.
type RctMode int

// Heating modes.
const (
	RctModeCool    RctMode = 1
	RctModeEco     RctMode = 2
	RctModeComfort RctMode = 3
)

// String returns the mode's name.
func (m RctMode) String() string {
	switch m {
	case RctModeCool:
		return "Cool"
	case RctModeEco:
		return "Eco"
	case RctModeComfort:
		return "Comfort"
	default:
		return fmt.Sprintf("RctMode(%d)", int(m))
	}
}

// RctState is a room's heating activity state.
type RctState int

// Heating activity states.
const (
	RctStateIdle   RctState = 0
	RctStateActive RctState = 2
)

// String returns the state's name.
func (s RctState) String() string {
	switch s {
	case RctStateIdle:
		return "Idle"
	case RctStateActive:
		return "Active"
	default:
		return fmt.Sprintf("RctState(%d)", int(s))
	}
}

// SetpointRange is the allowed setpoint interval for a heating mode.
type SetpointRange struct {
	Min float64
	Max float64
}

// Clamp bounds v to the range.
func (r SetpointRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// rctSetpointAllowedValues is fixed by the bridge firmware per mode.
var rctSetpointAllowedValues = map[RctMode]SetpointRange{
	RctModeCool:    {Min: 5.0, Max: 20.0},
	RctModeEco:     {Min: 10.0, Max: 30.0},
	RctModeComfort: {Min: 18.0, Max: 40.0},
}

// SetpointRangeFor returns the allowed setpoint range for a mode.
func SetpointRangeFor(mode RctMode) (SetpointRange, bool) {
	r, ok := rctSetpointAllowedValues[mode]
	return r, ok
}

// RoomState is the typed view of a room's climate.
type RoomState struct {
	Setpoint    *float64
	Temperature *float64
	Humidity    *float64
	Power       float64
	Mode        RctMode
	State       RctState

	// SetpointsByMode holds the last known setpoint per heating mode,
	// last-writer-wins.
	SetpointsByMode map[RctMode]float64

	// Raw is the merged raw payload.
	Raw Payload
}

// Room is a heating zone on the bridge.
type Room struct {
	bridge        *Bridge
	id            int
	name          string
	payload       Payload
	modeSetpoints map[RctMode]float64
	state         *Subject[RoomState]
}

func newRoom(bridge *Bridge, id int, name string) *Room {
	return &Room{
		bridge:        bridge,
		id:            id,
		name:          name,
		payload:       Payload{},
		modeSetpoints: make(map[RctMode]float64),
		state:         NewSubject[RoomState](),
	}
}

// RoomID returns the bridge-assigned identifier.
func (r *Room) RoomID() int { return r.id }

// Name returns the room's configured name.
func (r *Room) Name() string { return r.name }

// State returns the room's climate stream.
func (r *Room) State() *Subject[RoomState] { return r.state }

// handleState merges the payload and derives the typed view. The mode is
// read from currentMode, falling back to the mode field only when
// currentMode has never been reported.
func (r *Room) handleState(payload Payload) {
	r.payload = r.payload.Merge(payload)

	st := RoomState{Raw: r.payload}
	if v, ok := r.payload.Float("setpoint"); ok {
		st.Setpoint = &v
	}
	if v, ok := r.payload.Float("temp"); ok {
		st.Temperature = &v
	}
	if v, ok := r.payload.Float("humidity"); ok {
		st.Humidity = &v
	}
	st.Power, _ = r.payload.Float("power")

	if v, ok := r.payload.Int("currentMode"); ok {
		st.Mode = RctMode(v)
	} else if v, ok := r.payload.Int("mode"); ok {
		st.Mode = RctMode(v)
	}
	if v, ok := r.payload.Int("state"); ok {
		st.State = RctState(v)
	}

	if modes, ok := payload.Objects("modes"); ok {
		for _, m := range modes {
			mode, modeOK := m.Int("mode")
			value, valueOK := m.Float("value")
			if modeOK && valueOK {
				r.modeSetpoints[RctMode(mode)] = value
			}
		}
	}
	st.SetpointsByMode = make(map[RctMode]float64, len(r.modeSetpoints))
	for mode, value := range r.modeSetpoints {
		st.SetpointsByMode[mode] = value
	}

	r.state.Publish(st)
}

// SetTargetTemperature requests a new setpoint for the room's current
// mode. The value is clamped to the mode's allowed range.
func (r *Room) SetTargetTemperature(ctx context.Context, setpoint float64) error {
	current, ok := r.state.Value()
	if !ok {
		return fmt.Errorf("%w: room %d has no reported state", ErrNotConnected, r.id)
	}
	if rng, ok := SetpointRangeFor(current.Mode); ok {
		setpoint = rng.Clamp(setpoint)
	}
	r.modeSetpoints[current.Mode] = setpoint
	return r.bridge.SendMessage(ctx, OpSetHeatingState, Payload{
		"roomId":    r.id,
		"mode":      int(current.Mode),
		"state":     int(current.State),
		"setpoint":  setpoint,
		"confirmed": false,
	})
}

// SetMode switches the room to another heating mode, restoring that
// mode's last known setpoint. On the first switch into a mode no setpoint
// is known and none is sent; the bridge applies its own default.
func (r *Room) SetMode(ctx context.Context, mode RctMode) error {
	current, ok := r.state.Value()
	if !ok {
		return fmt.Errorf("%w: room %d has no reported state", ErrNotConnected, r.id)
	}
	payload := Payload{
		"roomId":    r.id,
		"mode":      int(mode),
		"state":     int(current.State),
		"confirmed": false,
	}
	if setpoint, known := r.modeSetpoints[mode]; known {
		payload["setpoint"] = setpoint
	}
	return r.bridge.SendMessage(ctx, OpSetHeatingState, payload)
}

func (r *Room) String() string {
	return fmt.Sprintf("Room(%d, %q)", r.id, r.name)
}

// CompState is a component's raw state.
type CompState struct {
	Raw Payload
}

// Comp is a logical grouping on the bridge, typically one physical module.
// Devices reference their owning component. No structured interpretation
// is applied beyond propagating the raw state.
type Comp struct {
	id       int
	compType int
	name     string
	state    *Subject[CompState]
}

func newComp(id, compType int, name string) *Comp {
	return &Comp{id: id, compType: compType, name: name, state: NewSubject[CompState]()}
}

// CompID returns the bridge-assigned identifier.
func (c *Comp) CompID() int { return c.id }

// CompType returns the component's type code.
func (c *Comp) CompType() int { return c.compType }

// Name returns the component's configured name.
func (c *Comp) Name() string { return c.name }

// State returns the component's raw state stream.
func (c *Comp) State() *Subject[CompState] { return c.state }

func (c *Comp) handleState(payload Payload) {
	c.state.Publish(CompState{Raw: payload})
}

func (c *Comp) String() string {
	return fmt.Sprintf("Comp(%d, %q, compType: %d)", c.id, c.name, c.compType)
}
