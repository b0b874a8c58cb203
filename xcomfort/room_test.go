package xcomfort

import (
	"context"
	"testing"
)

// announceRoom registers room 1 and seeds it with a heating state.
func announceRoom(t *testing.T, b *Bridge, seed Payload) *Room {
	t.Helper()
	payload := Payload{"roomId": float64(1), "name": "Hall"}.Merge(seed)
	b.dispatch(Message{Type: OpSetAllData, Payload: Payload{
		"roomHeating": []any{map[string]any(payload)},
		"lastItem":    true,
	}})
	b.mu.Lock()
	room := b.rooms[1]
	b.mu.Unlock()
	if room == nil {
		t.Fatal("room 1 not created")
	}
	return room
}

func TestRoomStateDerivation(t *testing.T) {
	b, _ := newTestBridge(t)
	room := announceRoom(t, b, Payload{
		"setpoint": 21.0, "temp": 19.5, "humidity": 40.0, "power": 150.0,
		"currentMode": float64(3), "state": float64(2),
		"modes": []any{
			map[string]any{"mode": float64(1), "value": 16.0},
			map[string]any{"mode": float64(3), "value": 21.0},
		},
	})

	st, ok := room.State().Value()
	if !ok {
		t.Fatal("no room state published")
	}
	if st.Setpoint == nil || *st.Setpoint != 21.0 {
		t.Errorf("Setpoint = %v, want 21.0", st.Setpoint)
	}
	if st.Temperature == nil || *st.Temperature != 19.5 {
		t.Errorf("Temperature = %v, want 19.5", st.Temperature)
	}
	if st.Humidity == nil || *st.Humidity != 40.0 {
		t.Errorf("Humidity = %v, want 40.0", st.Humidity)
	}
	if st.Power != 150.0 {
		t.Errorf("Power = %g, want 150", st.Power)
	}
	if st.Mode != RctModeComfort {
		t.Errorf("Mode = %v, want Comfort", st.Mode)
	}
	if st.State != RctStateActive {
		t.Errorf("State = %v, want Active", st.State)
	}
	if st.SetpointsByMode[RctModeCool] != 16.0 || st.SetpointsByMode[RctModeComfort] != 21.0 {
		t.Errorf("SetpointsByMode = %v", st.SetpointsByMode)
	}
}

func TestRoomModePrefersCurrentMode(t *testing.T) {
	b, _ := newTestBridge(t)
	// Both fields present: currentMode wins.
	room := announceRoom(t, b, Payload{
		"currentMode": float64(2), "mode": float64(3), "state": float64(0),
	})

	st, _ := room.State().Value()
	if st.Mode != RctModeEco {
		t.Errorf("Mode = %v, want Eco (currentMode preferred)", st.Mode)
	}
}

func TestRoomModeFallsBackToModeField(t *testing.T) {
	b, _ := newTestBridge(t)
	room := announceRoom(t, b, Payload{"mode": float64(1), "state": float64(0)})

	st, _ := room.State().Value()
	if st.Mode != RctModeCool {
		t.Errorf("Mode = %v, want Cool (mode fallback)", st.Mode)
	}
}

func TestRoomStateAggregatesAcrossUpdates(t *testing.T) {
	b, _ := newTestBridge(t)
	room := announceRoom(t, b, Payload{"currentMode": float64(3), "state": float64(0)})
	sub := room.State().Subscribe()
	defer sub.Cancel()
	recvTimeout(t, sub)

	// A partial update without mode fields keeps the known mode.
	b.dispatch(Message{Type: OpSetStateInfo, Payload: Payload{
		"item": []any{map[string]any{"roomId": float64(1), "temp": 20.0}},
	}})
	st := recvTimeout(t, sub)
	if st.Mode != RctModeComfort {
		t.Errorf("Mode = %v, want retained Comfort", st.Mode)
	}
	if st.Temperature == nil || *st.Temperature != 20.0 {
		t.Errorf("Temperature = %v, want 20.0", st.Temperature)
	}
}

func TestSetTargetTemperatureClamps(t *testing.T) {
	tests := []struct {
		name      string
		mode      float64
		requested float64
		want      float64
	}{
		{"comfort above max", 3, 45.0, 40.0},
		{"comfort below min", 3, 10.0, 18.0},
		{"comfort in range", 3, 21.5, 21.5},
		{"cool above max", 1, 30.0, 20.0},
		{"eco below min", 2, 4.0, 10.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mc := newTestBridge(t)
			room := announceRoom(t, b, Payload{"currentMode": tt.mode, "state": float64(2)})

			if err := room.SetTargetTemperature(context.Background(), tt.requested); err != nil {
				t.Fatalf("SetTargetTemperature: %v", err)
			}

			sent := mc.sentMessages()
			if len(sent) != 1 || sent[0].Type != OpSetHeatingState {
				t.Fatalf("sent = %v", sent)
			}
			payload := sent[0].Payload
			if sp, _ := payload.Float("setpoint"); sp != tt.want {
				t.Errorf("setpoint = %g, want %g", sp, tt.want)
			}
			if id, _ := payload.Int("roomId"); id != 1 {
				t.Errorf("roomId = %d, want 1", id)
			}
			if mode, _ := payload.Int("mode"); mode != int(tt.mode) {
				t.Errorf("mode = %d, want %d", mode, int(tt.mode))
			}
			if confirmed, _ := payload.Bool("confirmed"); confirmed {
				t.Error("confirmed should be false")
			}
		})
	}
}

func TestSetModeRestoresStoredSetpoint(t *testing.T) {
	b, mc := newTestBridge(t)
	room := announceRoom(t, b, Payload{
		"currentMode": float64(3), "state": float64(0),
		"modes": []any{
			map[string]any{"mode": float64(2), "value": 17.0},
		},
	})

	if err := room.SetMode(context.Background(), RctModeEco); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	sent := mc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("%d messages sent, want 1", len(sent))
	}
	payload := sent[0].Payload
	if mode, _ := payload.Int("mode"); mode != int(RctModeEco) {
		t.Errorf("mode = %d, want Eco", mode)
	}
	if sp, _ := payload.Float("setpoint"); sp != 17.0 {
		t.Errorf("setpoint = %g, want 17.0", sp)
	}
}

func TestSetModeWithoutStoredSetpointOmitsIt(t *testing.T) {
	b, mc := newTestBridge(t)
	room := announceRoom(t, b, Payload{"currentMode": float64(3), "state": float64(0)})

	if err := room.SetMode(context.Background(), RctModeCool); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	sent := mc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("%d messages sent, want 1", len(sent))
	}
	if sent[0].Payload.Has("setpoint") {
		t.Error("setpoint should be omitted on first switch into a mode")
	}
}

func TestSetpointClampFollowedByConfirmation(t *testing.T) {
	b, mc := newTestBridge(t)
	room := announceRoom(t, b, Payload{"currentMode": float64(3), "state": float64(2)})
	sub := room.State().Subscribe()
	defer sub.Cancel()
	recvTimeout(t, sub)

	if err := room.SetTargetTemperature(context.Background(), 45.0); err != nil {
		t.Fatalf("SetTargetTemperature: %v", err)
	}
	sent := mc.sentMessages()
	if sp, _ := sent[0].Payload.Float("setpoint"); sp != 40.0 {
		t.Errorf("outbound setpoint = %g, want clamped 40.0", sp)
	}

	// The bridge confirms with a state broadcast.
	b.dispatch(Message{Type: OpSetStateInfo, Payload: Payload{
		"item": []any{map[string]any{
			"roomId": float64(1), "setpoint": 40.0, "currentMode": float64(3), "state": float64(2),
		}},
	}})
	st := recvTimeout(t, sub)
	if st.Setpoint == nil || *st.Setpoint != 40.0 {
		t.Errorf("confirmed setpoint = %v, want 40.0", st.Setpoint)
	}
	if st.Mode != RctModeComfort || st.State != RctStateActive {
		t.Errorf("state = %+v", st)
	}
}

func TestCompStatePropagation(t *testing.T) {
	b, _ := newTestBridge(t)
	b.dispatch(Message{Type: OpSetAllData, Payload: Payload{
		"comps":    []any{map[string]any{"compId": float64(3), "compType": float64(86), "name": "Module"}},
		"lastItem": true,
	}})
	comp := b.comp(3)
	if comp == nil {
		t.Fatal("comp 3 not created")
	}
	if comp.CompType() != 86 || comp.Name() != "Module" {
		t.Errorf("comp = %v", comp)
	}
	if st, ok := comp.State().Value(); !ok || st.Raw == nil {
		t.Errorf("comp state = %+v, %v", st, ok)
	}
}
