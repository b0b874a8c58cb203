package xcomfort

import "fmt"

// Opcode identifies a message kind on the bridge channel.
//
// The symbolic names are the protocol's stable ones; the numeric values
// below are this package's own assignments. Only the ones the client acts
// on are named here; everything else is surfaced to
// the dispatcher as-is and logged at debug level.
type Opcode uint16

// Message opcodes.
const (
	// OpAck acknowledges an outbound action. Carries no state.
	OpAck Opcode = 1

	// OpHeartbeat is a keep-alive emitted by the bridge.
	OpHeartbeat Opcode = 2

	// OpSetAllData carries the full entity inventory in one or more
	// batches. The final batch is marked with lastItem.
	OpSetAllData Opcode = 300

	// OpSetDeviceState carries a state update for a single device.
	OpSetDeviceState Opcode = 310

	// OpSetStateInfo carries a batch of per-entity state items, each
	// addressed by deviceId, roomId or compId.
	OpSetStateInfo Opcode = 312

	// OpActionSwitchDevice switches a device on or off.
	OpActionSwitchDevice Opcode = 401

	// OpActionSlideDevice slides a dimmer to an absolute value.
	OpActionSlideDevice Opcode = 402

	// OpSetHeatingState sets a room's heating mode and setpoint.
	OpSetHeatingState Opcode = 420

	// OpSetDeviceShadingState moves a shade (open/close/stop/go-to).
	OpSetDeviceShadingState Opcode = 430
)

// String returns the opcode's stable symbolic name.
func (op Opcode) String() string {
	switch op {
	case OpAck:
		return "ACK"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpSetAllData:
		return "SET_ALL_DATA"
	case OpSetDeviceState:
		return "SET_DEVICE_STATE"
	case OpSetStateInfo:
		return "SET_STATE_INFO"
	case OpActionSwitchDevice:
		return "ACTION_SWITCH_DEVICE"
	case OpActionSlideDevice:
		return "ACTION_SLIDE_DEVICE"
	case OpSetHeatingState:
		return "SET_HEATING_STATE"
	case OpSetDeviceShadingState:
		return "SET_DEVICE_SHADING_STATE"
	default:
		return fmt.Sprintf("OPCODE_%d", uint16(op))
	}
}

// Message is one decoded unit from the channel: an opcode plus its
// self-describing payload object.
type Message struct {
	Type    Opcode
	Payload Payload
}

// String returns a human-readable representation of the message.
func (m Message) String() string {
	return fmt.Sprintf("Message{%s, %v}", m.Type, map[string]any(m.Payload))
}

// Shade operation states carried in SET_DEVICE_SHADING_STATE.
const (
	ShadeClose = 0
	ShadeOpen  = 1
	ShadeStop  = 2
	ShadeGoTo  = 3
)
