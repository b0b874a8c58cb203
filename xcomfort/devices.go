package xcomfort

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Device type codes assigned by the bridge firmware.
const (
	devTypeActuator   = 100 // outlet, pushbutton or light, disambiguated by flags
	devTypeDimmer     = 101
	devTypeShade      = 102
	devTypeDoorWindow = 210
	devTypeRocker     = 220
	devTypeHeater     = 440
	devTypeRcTouch    = 450
)

// Device is the shared header of every device variant. Concrete types
// (*Light, *Shade, *Rocker, *Switch, *RcTouch, *Heater, *DoorWindowSensor,
// *GenericDevice) carry the typed state subject and the command surface.
type Device interface {
	// DeviceID returns the bridge-assigned identifier, stable for the
	// session.
	DeviceID() int

	// Name returns the device's configured name.
	Name() string

	// handleState applies a (possibly partial) payload and publishes the
	// derived state. The typed variants merge it into their retained
	// payload first; Heater and GenericDevice publish each payload as
	// received, without merging.
	handleState(payload Payload)
}

// deviceBase is the header embedded in every variant.
type deviceBase struct {
	bridge *Bridge
	id     int
	name   string
}

func (d *deviceBase) DeviceID() int { return d.id }
func (d *deviceBase) Name() string  { return d.name }

// classifyDevice constructs the variant for a device announcement. The
// table is total: unknown devTypes become GenericDevice.
func (b *Bridge) classifyDevice(payload Payload) Device {
	id, _ := payload.Int("deviceId")
	name, _ := payload.String("name")
	devType, _ := payload.Int("devType")
	compID, _ := payload.Int("compId")
	usage, _ := payload.Intish("usage")
	monitorPower, _ := payload.Bool("monitorPower")
	dimmable, _ := payload.Bool("dimmable")

	base := deviceBase{bridge: b, id: id, name: name}

	switch devType {
	case devTypeActuator:
		if monitorPower {
			b.logDebug("classified device", "device", name, "id", id, "variant", "switch")
			return newSwitch(base, compID, payload)
		}
		if usage == 1 {
			b.logDebug("classified device", "device", name, "id", id, "variant", "rocker")
			return newRocker(base, compID, payload)
		}
		b.logDebug("classified device", "device", name, "id", id, "variant", "light")
		return newLight(base, dimmable)
	case devTypeDimmer:
		return newLight(base, dimmable)
	case devTypeShade:
		return newShade(base, compID)
	case devTypeDoorWindow:
		return newDoorWindowSensor(base, compID, payload)
	case devTypeRocker:
		return newRocker(base, compID, payload)
	case devTypeHeater:
		return newHeater(base, compID)
	case devTypeRcTouch:
		return newRcTouch(base, compID)
	default:
		b.logDebug("classified device", "device", name, "id", id, "variant", "generic", "devType", devType)
		return &GenericDevice{deviceBase: base, state: NewSubject[DeviceState]()}
	}
}

// DeviceState is the untyped state published by variants that carry no
// structured interpretation.
type DeviceState struct {
	Payload Payload
}

// GenericDevice is a device the classification table has no variant for.
// Its raw payloads are propagated unchanged.
type GenericDevice struct {
	deviceBase
	state *Subject[DeviceState]
}

// State returns the device's raw state stream.
func (d *GenericDevice) State() *Subject[DeviceState] { return d.state }

func (d *GenericDevice) handleState(payload Payload) {
	d.state.Publish(DeviceState{Payload: payload})
}

func (d *GenericDevice) String() string {
	return fmt.Sprintf("Device(%d, %q)", d.id, d.name)
}

// LightState is the typed view of a light actuator.
type LightState struct {
	Switch    bool
	DimmValue int
}

// Light is a switchable, optionally dimmable actuator. Whether it dims is
// fixed at creation from the announcement payload.
type Light struct {
	deviceBase
	dimmable bool
	state    *Subject[LightState]
}

func newLight(base deviceBase, dimmable bool) *Light {
	return &Light{deviceBase: base, dimmable: dimmable, state: NewSubject[LightState]()}
}

// Dimmable reports whether the light accepts dim commands.
func (l *Light) Dimmable() bool { return l.dimmable }

// State returns the light's state stream.
func (l *Light) State() *Subject[LightState] { return l.state }

// maxDimmValue is the bridge's dimmer scale ceiling. Non-dimmable lights
// always report it.
const maxDimmValue = 99

func (l *Light) handleState(payload Payload) {
	sw, ok := payload.Bool("switch")
	if !ok {
		return
	}
	l.state.Publish(LightState{
		Switch:    sw,
		DimmValue: l.dimmValueFrom(sw, payload),
	})
}

// dimmValueFrom derives the published dim value: non-dimmable lights pin
// to the maximum, a switched-off dimmer retains its last value so turning
// back on restores brightness.
func (l *Light) dimmValueFrom(sw bool, payload Payload) int {
	if !l.dimmable {
		return maxDimmValue
	}
	if !sw {
		if prev, ok := l.state.Value(); ok {
			return prev.DimmValue
		}
		return maxDimmValue
	}
	if v, ok := payload.Int("dimmvalue"); ok {
		return v
	}
	return maxDimmValue
}

// Switch turns the light on or off.
func (l *Light) Switch(ctx context.Context, on bool) error {
	return l.bridge.SwitchDevice(ctx, l.id, Payload{"switch": on})
}

// Dim slides the light to an absolute value, clamped to [0, 99].
func (l *Light) Dim(ctx context.Context, value int) error {
	return l.bridge.SlideDevice(ctx, l.id, Payload{"dimmvalue": clampInt(value, 0, maxDimmValue)})
}

func (l *Light) String() string {
	return fmt.Sprintf("Light(%d, %q, dimmable: %v)", l.id, l.name, l.dimmable)
}

// SwitchState is the typed view of a metered outlet.
type SwitchState struct {
	IsOn      bool
	Timestamp time.Time
	Payload   Payload
}

// Switch is a metered outlet (devType 100 with power monitoring).
type Switch struct {
	deviceBase
	compID  int
	payload Payload
	state   *Subject[SwitchState]
}

func newSwitch(base deviceBase, compID int, payload Payload) *Switch {
	return &Switch{
		deviceBase: base,
		compID:     compID,
		payload:    payload.Clone(),
		state:      NewSubject[SwitchState](),
	}
}

// CompID returns the owning component's id.
func (s *Switch) CompID() int { return s.compID }

// State returns the outlet's state stream.
func (s *Switch) State() *Subject[SwitchState] { return s.state }

func (s *Switch) handleState(payload Payload) {
	s.payload = s.payload.Merge(payload)
	isOn, ok := payload.Bool("switch")
	if !ok {
		if prev, had := s.state.Value(); had {
			isOn = prev.IsOn
		}
	}
	s.state.Publish(SwitchState{IsOn: isOn, Timestamp: time.Now(), Payload: s.payload})
}

// Switch turns the outlet on or off.
func (s *Switch) Switch(ctx context.Context, on bool) error {
	return s.bridge.SwitchDevice(ctx, s.id, Payload{"switch": on})
}

func (s *Switch) String() string {
	return fmt.Sprintf("Switch(%d, %q)", s.id, s.name)
}

// RockerState is the typed view of a pushbutton event.
type RockerState struct {
	NewState   bool
	Timestamp  time.Time
	Attributes Payload
}

// Rocker is a pushbutton input device. It reports on/off events and names
// the devices it controls via its controlId list.
type Rocker struct {
	deviceBase
	compID  int
	payload Payload
	state   *Subject[RockerState]
}

func newRocker(base deviceBase, compID int, payload Payload) *Rocker {
	return &Rocker{
		deviceBase: base,
		compID:     compID,
		payload:    payload.Clone(),
		state:      NewSubject[RockerState](),
	}
}

// CompID returns the owning component's id.
func (r *Rocker) CompID() int { return r.compID }

// State returns the rocker's event stream.
func (r *Rocker) State() *Subject[RockerState] { return r.state }

// rockerAttributeKeys are the payload fields surfaced on each event.
var rockerAttributeKeys = []string{
	"name", "icon", "order", "devType", "state", "curstate",
	"function", "delaytime", "dimmvalueOn", "dimmvalueOff", "dimmtime",
}

func (r *Rocker) handleState(payload Payload) {
	r.payload = r.payload.Merge(payload)

	// The firmware reports the state field family inconsistently as
	// numbers, booleans or numeric strings; normalize to an integer.
	stateVal, _ := r.payload.Intish("state")

	attributes := make(Payload, len(rockerAttributeKeys))
	for _, key := range rockerAttributeKeys {
		if v, ok := r.payload[key]; ok {
			attributes[key] = v
		}
	}

	r.state.Publish(RockerState{
		NewState:   stateVal == 1,
		Timestamp:  time.Now(),
		Attributes: attributes,
	})
}

// NameWithControlled returns the rocker's name annotated with the names of
// the devices it controls, sorted and comma-joined.
func (r *Rocker) NameWithControlled() string {
	controlled := make([]string, 0, 4)
	if ids, ok := r.payload.Ints("controlId"); ok {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if dev := r.bridge.device(id); dev != nil && !seen[dev.Name()] {
				seen[dev.Name()] = true
				controlled = append(controlled, dev.Name())
			}
		}
	}
	sort.Strings(controlled)
	return fmt.Sprintf("%s (%s)", r.name, strings.Join(controlled, ", "))
}

func (r *Rocker) String() string {
	return fmt.Sprintf("Rocker(%d, %q)", r.id, r.name)
}

// RcTouchState is the typed view of a room-climate touch panel.
type RcTouchState struct {
	Temperature float64 // °C
	Humidity    float64 // %
	Payload     Payload
}

// RcTouch is a wall panel measuring room temperature and humidity. Both
// readings arrive in the info array tagged by text code.
type RcTouch struct {
	deviceBase
	compID  int
	payload Payload
	state   *Subject[RcTouchState]
}

// Info array text codes used by the panel.
const (
	infoCodeTemperature = "1222"
	infoCodeHumidity    = "1223"
)

func newRcTouch(base deviceBase, compID int) *RcTouch {
	return &RcTouch{deviceBase: base, compID: compID, payload: Payload{}, state: NewSubject[RcTouchState]()}
}

// CompID returns the owning component's id.
func (t *RcTouch) CompID() int { return t.compID }

// State returns the panel's climate stream. A reading is published only
// once both temperature and humidity are known in the merged view.
func (t *RcTouch) State() *Subject[RcTouchState] { return t.state }

func (t *RcTouch) handleState(payload Payload) {
	t.payload = t.payload.Merge(payload)

	var temperature, humidity *float64
	if infos, ok := t.payload.Objects("info"); ok {
		for _, info := range infos {
			text, _ := info.String("text")
			value, valueOK := infoValue(info)
			if !valueOK {
				continue
			}
			switch text {
			case infoCodeTemperature:
				v := value
				temperature = &v
			case infoCodeHumidity:
				v := value
				humidity = &v
			}
		}
	}
	if temperature == nil || humidity == nil {
		return
	}
	t.state.Publish(RcTouchState{Temperature: *temperature, Humidity: *humidity, Payload: t.payload})
}

// infoValue reads an info element's value, which arrives as a number or a
// numeric string.
func infoValue(info Payload) (float64, bool) {
	if f, ok := info.Float("value"); ok {
		return f, true
	}
	if s, ok := info.String("value"); ok {
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (t *RcTouch) String() string {
	return fmt.Sprintf("RcTouch(%d, %q)", t.id, t.name)
}

// Heater is a heating actuator. It has no command surface; each raw
// payload is published as received, without merging earlier ones.
type Heater struct {
	deviceBase
	compID int
	state  *Subject[DeviceState]
}

func newHeater(base deviceBase, compID int) *Heater {
	return &Heater{deviceBase: base, compID: compID, state: NewSubject[DeviceState]()}
}

// CompID returns the owning component's id.
func (h *Heater) CompID() int { return h.compID }

// State returns the heater's raw state stream.
func (h *Heater) State() *Subject[DeviceState] { return h.state }

func (h *Heater) handleState(payload Payload) {
	h.state.Publish(DeviceState{Payload: payload})
}

func (h *Heater) String() string {
	return fmt.Sprintf("Heater(%d, %q)", h.id, h.name)
}

// DoorWindowSensorState is the typed view of a door or window contact.
type DoorWindowSensorState struct {
	IsClosed bool
	Payload  Payload
}

// DoorWindowSensor is a magnetic contact reporting open/closed.
type DoorWindowSensor struct {
	deviceBase
	compID  int
	payload Payload
	state   *Subject[DoorWindowSensorState]
}

func newDoorWindowSensor(base deviceBase, compID int, payload Payload) *DoorWindowSensor {
	return &DoorWindowSensor{
		deviceBase: base,
		compID:     compID,
		payload:    payload.Clone(),
		state:      NewSubject[DoorWindowSensorState](),
	}
}

// CompID returns the owning component's id.
func (d *DoorWindowSensor) CompID() int { return d.compID }

// State returns the contact's state stream.
func (d *DoorWindowSensor) State() *Subject[DoorWindowSensorState] { return d.state }

func (d *DoorWindowSensor) handleState(payload Payload) {
	d.payload = d.payload.Merge(payload)
	cur, ok := payload.Intish("curstate")
	if !ok {
		return
	}
	d.state.Publish(DoorWindowSensorState{IsClosed: cur == 1, Payload: d.payload})
}

func (d *DoorWindowSensor) String() string {
	return fmt.Sprintf("DoorWindowSensor(%d, %q)", d.id, d.name)
}

// clampInt bounds v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
