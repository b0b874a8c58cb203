package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oywino/xcomfort-go/internal/infrastructure/mqtt"
	"github.com/oywino/xcomfort-go/xcomfort"
)

// commandTimeout bounds the execution of one MQTT-originated command.
const commandTimeout = 5 * time.Second

// minTopicParts is the minimum number of parts in a valid command topic
// (prefix/command/entity/id).
const minTopicParts = 4

// MQTTClient is the broker surface the exporter needs. Satisfied by
// *mqtt.Client; mocked in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// MetricsWriter receives telemetry points. Satisfied by *influxdb.Client;
// optional; a nil writer disables telemetry.
type MetricsWriter interface {
	WriteDevicePower(deviceID int, name string, powerWatts float64)
	WriteRoomClimate(roomID int, name string, temperature, humidity, setpoint *float64, powerWatts float64)
	WriteSensorReading(deviceID int, name, measurement string, value float64)
}

// Options holds configuration for creating an exporter.
type Options struct {
	// Bridge is the connected bridge client. Required.
	Bridge *xcomfort.Bridge

	// MQTT is the broker client. Optional; nil disables state export and
	// command intake.
	MQTT MQTTClient

	// Metrics is the telemetry writer. Optional.
	Metrics MetricsWriter

	// QoS is the QoS level for state publishes.
	QoS byte

	// Logger is optional.
	Logger xcomfort.Logger
}

// Exporter mirrors the bridge's entity model onto MQTT and InfluxDB:
// every state change is published retained under xcomfort/state/..., and
// commands arriving under xcomfort/command/... are translated into typed
// bridge commands.
//
// The exported entity set is fixed when Start returns; entities announced
// by a later session reuse their subjects, so their updates keep flowing.
type Exporter struct {
	bridge  *xcomfort.Bridge
	mqtt    MQTTClient
	metrics MetricsWriter
	qos     byte
	logger  xcomfort.Logger

	cancels []func()
	wg      sync.WaitGroup

	stopOnce sync.Once
}

// New creates an exporter. Call Start to begin forwarding.
func New(opts Options) (*Exporter, error) {
	if opts.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	return &Exporter{
		bridge:  opts.Bridge,
		mqtt:    opts.MQTT,
		metrics: opts.Metrics,
		qos:     opts.QoS,
		logger:  opts.Logger,
	}, nil
}

// Start waits for the bridge's initialization, subscribes to every
// entity's state stream and to the MQTT command topics.
func (e *Exporter) Start(ctx context.Context) error {
	devices, err := e.bridge.Devices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	rooms, err := e.bridge.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("loading rooms: %w", err)
	}

	for _, dev := range devices {
		e.watchDevice(dev)
	}
	for _, room := range rooms {
		e.watchRoom(room)
	}

	if e.mqtt != nil {
		topic := mqtt.Topics{}.CommandSubscribe()
		if err := e.mqtt.Subscribe(topic, e.qos, e.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		e.logInfo("subscribed to commands", "topic", topic)
	}

	e.logInfo("exporter started", "devices", len(devices), "rooms", len(rooms))
	return nil
}

// Stop cancels all subscriptions and waits for forwarders to drain.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		for _, cancel := range e.cancels {
			cancel()
		}
		e.wg.Wait()
		e.logInfo("exporter stopped")
	})
}

// watch spawns one forwarder goroutine draining a subscription.
func watch[T any](e *Exporter, sub *xcomfort.Subscription[T], forward func(T)) {
	e.cancels = append(e.cancels, sub.Cancel)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case v := <-sub.C():
				forward(v)
			case <-sub.Done():
				return
			}
		}
	}()
}

// watchDevice wires a device's typed state stream to the broker and the
// metrics writer.
func (e *Exporter) watchDevice(dev xcomfort.Device) {
	switch d := dev.(type) {
	case *xcomfort.Light:
		watch(e, d.State().Subscribe(), func(st xcomfort.LightState) {
			e.publishDeviceState(d.DeviceID(), map[string]any{
				"type": "light", "name": d.Name(), "dimmable": d.Dimmable(),
				"switch": st.Switch, "dimmvalue": st.DimmValue,
			})
		})
	case *xcomfort.Switch:
		watch(e, d.State().Subscribe(), func(st xcomfort.SwitchState) {
			e.publishDeviceState(d.DeviceID(), map[string]any{
				"type": "switch", "name": d.Name(), "is_on": st.IsOn,
				"timestamp": st.Timestamp.UTC().Format(time.RFC3339),
			})
			if e.metrics != nil {
				if power, ok := st.Payload.Float("power"); ok {
					e.metrics.WriteDevicePower(d.DeviceID(), d.Name(), power)
				}
			}
		})
	case *xcomfort.Shade:
		watch(e, d.State().Subscribe(), func(st xcomfort.ShadeState) {
			state := map[string]any{"type": "shade", "name": d.Name()}
			if st.Position != nil {
				state["position"] = *st.Position
			}
			if st.IsSafetyEnabled != nil {
				state["safety"] = *st.IsSafetyEnabled
			}
			if closed := st.IsClosed(); closed != nil {
				state["is_closed"] = *closed
			}
			e.publishDeviceState(d.DeviceID(), state)
		})
	case *xcomfort.Rocker:
		watch(e, d.State().Subscribe(), func(st xcomfort.RockerState) {
			e.publishDeviceState(d.DeviceID(), map[string]any{
				"type": "rocker", "name": d.Name(), "state": st.NewState,
				"timestamp": st.Timestamp.UTC().Format(time.RFC3339),
			})
		})
	case *xcomfort.RcTouch:
		watch(e, d.State().Subscribe(), func(st xcomfort.RcTouchState) {
			e.publishDeviceState(d.DeviceID(), map[string]any{
				"type": "rctouch", "name": d.Name(),
				"temperature": st.Temperature, "humidity": st.Humidity,
			})
			if e.metrics != nil {
				e.metrics.WriteSensorReading(d.DeviceID(), d.Name(), "temperature_c", st.Temperature)
				e.metrics.WriteSensorReading(d.DeviceID(), d.Name(), "humidity_pct", st.Humidity)
			}
		})
	case *xcomfort.DoorWindowSensor:
		watch(e, d.State().Subscribe(), func(st xcomfort.DoorWindowSensorState) {
			e.publishDeviceState(d.DeviceID(), map[string]any{
				"type": "door_window", "name": d.Name(), "is_closed": st.IsClosed,
			})
		})
	case *xcomfort.Heater:
		watch(e, d.State().Subscribe(), func(st xcomfort.DeviceState) {
			e.publishDeviceState(d.DeviceID(), map[string]any{
				"type": "heater", "name": d.Name(), "payload": map[string]any(st.Payload),
			})
		})
	case *xcomfort.GenericDevice:
		watch(e, d.State().Subscribe(), func(st xcomfort.DeviceState) {
			e.publishDeviceState(d.DeviceID(), map[string]any{
				"type": "device", "name": d.Name(), "payload": map[string]any(st.Payload),
			})
		})
	}
}

// watchRoom wires a room's climate stream to the broker and the metrics
// writer.
func (e *Exporter) watchRoom(room *xcomfort.Room) {
	watch(e, room.State().Subscribe(), func(st xcomfort.RoomState) {
		state := map[string]any{
			"type": "room", "name": room.Name(),
			"power": st.Power, "mode": st.Mode.String(), "state": st.State.String(),
		}
		if st.Setpoint != nil {
			state["setpoint"] = *st.Setpoint
		}
		if st.Temperature != nil {
			state["temperature"] = *st.Temperature
		}
		if st.Humidity != nil {
			state["humidity"] = *st.Humidity
		}
		e.publishRoomState(room.RoomID(), state)

		if e.metrics != nil {
			e.metrics.WriteRoomClimate(room.RoomID(), room.Name(), st.Temperature, st.Humidity, st.Setpoint, st.Power)
		}
	})
}

func (e *Exporter) publishDeviceState(deviceID int, state map[string]any) {
	e.publishState(mqtt.Topics{}.DeviceState(deviceID), state)
}

func (e *Exporter) publishRoomState(roomID int, state map[string]any) {
	e.publishState(mqtt.Topics{}.RoomState(roomID), state)
}

func (e *Exporter) publishState(topic string, state map[string]any) {
	if e.mqtt == nil {
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		e.logError("failed to marshal state", "topic", topic, "error", err)
		return
	}
	if err := e.mqtt.Publish(topic, payload, e.qos, true); err != nil {
		e.logError("failed to publish state", "topic", topic, "error", err)
	}
}

// commandMessage is the JSON body accepted on command topics.
type commandMessage struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// handleCommand translates one MQTT command message into a typed bridge
// command. The topic addresses the entity: xcomfort/command/device/7 or
// xcomfort/command/room/1.
func (e *Exporter) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid command topic %q", topic)
	}
	id, err := strconv.Atoi(parts[3])
	if err != nil {
		return fmt.Errorf("invalid entity id in topic %q: %w", topic, err)
	}

	var cmd commandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch parts[2] {
	case "device":
		return e.executeDeviceCommand(ctx, id, cmd)
	case "room":
		return e.executeRoomCommand(ctx, id, cmd)
	default:
		return fmt.Errorf("unknown entity kind %q", parts[2])
	}
}

// executeDeviceCommand dispatches a device command by name.
func (e *Exporter) executeDeviceCommand(ctx context.Context, id int, cmd commandMessage) error {
	devices, err := e.bridge.Devices(ctx)
	if err != nil {
		return err
	}
	dev, ok := devices[id]
	if !ok {
		return fmt.Errorf("device %d not found", id)
	}

	switch d := dev.(type) {
	case *xcomfort.Light:
		switch cmd.Command {
		case "on":
			return d.Switch(ctx, true)
		case "off":
			return d.Switch(ctx, false)
		case "dim":
			level, ok := floatParam(cmd.Params, "level")
			if !ok {
				return fmt.Errorf("dim requires a numeric 'level' parameter")
			}
			return d.Dim(ctx, int(level))
		}
	case *xcomfort.Switch:
		switch cmd.Command {
		case "on":
			return d.Switch(ctx, true)
		case "off":
			return d.Switch(ctx, false)
		}
	case *xcomfort.Shade:
		switch cmd.Command {
		case "open":
			return d.MoveUp(ctx)
		case "close":
			return d.MoveDown(ctx)
		case "stop":
			return d.MoveStop(ctx)
		case "set_position":
			pos, ok := floatParam(cmd.Params, "position")
			if !ok {
				return fmt.Errorf("set_position requires a numeric 'position' parameter")
			}
			return d.MoveToPosition(ctx, int(pos))
		}
	}
	return fmt.Errorf("device %d (%T) does not support command %q", id, dev, cmd.Command)
}

// executeRoomCommand dispatches a room command by name.
func (e *Exporter) executeRoomCommand(ctx context.Context, id int, cmd commandMessage) error {
	rooms, err := e.bridge.Rooms(ctx)
	if err != nil {
		return err
	}
	room, ok := rooms[id]
	if !ok {
		return fmt.Errorf("room %d not found", id)
	}

	switch cmd.Command {
	case "set_temperature":
		setpoint, ok := floatParam(cmd.Params, "setpoint")
		if !ok {
			return fmt.Errorf("set_temperature requires a numeric 'setpoint' parameter")
		}
		return room.SetTargetTemperature(ctx, setpoint)
	case "set_mode":
		mode, ok := floatParam(cmd.Params, "mode")
		if !ok {
			return fmt.Errorf("set_mode requires a numeric 'mode' parameter")
		}
		return room.SetMode(ctx, xcomfort.RctMode(int(mode)))
	default:
		return fmt.Errorf("room %d does not support command %q", id, cmd.Command)
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	f, ok := params[key].(float64)
	return f, ok
}

func (e *Exporter) logInfo(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *Exporter) logError(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}
