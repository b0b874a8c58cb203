package xcomfort

import (
	"context"
	"testing"
)

// announceShade registers shade 9 owned by comp 3 (positionable type).
func announceShade(t *testing.T, b *Bridge) *Shade {
	t.Helper()
	b.dispatch(Message{Type: OpSetAllData, Payload: Payload{
		"devices": []any{map[string]any{
			"deviceId": float64(9), "devType": float64(102), "name": "Blind", "compId": float64(3),
		}},
		"comps":    []any{map[string]any{"compId": float64(3), "compType": float64(86), "name": "Module"}},
		"lastItem": true,
	}})
	shade, ok := b.device(9).(*Shade)
	if !ok {
		t.Fatalf("device 9 = %T, want *Shade", b.device(9))
	}
	return shade
}

func TestShadeAggregatesPartialUpdates(t *testing.T) {
	b, _ := newTestBridge(t)
	shade := announceShade(t, b)
	sub := shade.State().Subscribe()
	defer sub.Cancel()

	recvTimeout(t, sub) // announcement publish

	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "curstate": float64(2),
	}})
	st := recvTimeout(t, sub)
	if st.CurrentState == nil || *st.CurrentState != 2 {
		t.Errorf("CurrentState = %v, want 2", st.CurrentState)
	}
	if st.Position != nil {
		t.Error("position must stay unknown until shPos is reported")
	}

	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "shPos": float64(100),
	}})
	st = recvTimeout(t, sub)
	// Each field holds the last non-null value for its key.
	if st.CurrentState == nil || *st.CurrentState != 2 {
		t.Errorf("CurrentState = %v, want retained 2", st.CurrentState)
	}
	if st.Position == nil || *st.Position != 100 {
		t.Errorf("Position = %v, want 100", st.Position)
	}
	if closed := st.IsClosed(); closed == nil || !*closed {
		t.Errorf("IsClosed = %v, want true at position 100", closed)
	}

	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "shPos": float64(40),
	}})
	st = recvTimeout(t, sub)
	if closed := st.IsClosed(); closed != nil {
		t.Errorf("IsClosed = %v, want undefined at position 40", closed)
	}

	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "shPos": float64(0),
	}})
	st = recvTimeout(t, sub)
	if closed := st.IsClosed(); closed == nil || *closed {
		t.Errorf("IsClosed = %v, want false at position 0", closed)
	}
}

func TestShadeCommands(t *testing.T) {
	b, mc := newTestBridge(t)
	shade := announceShade(t, b)
	ctx := context.Background()

	if err := shade.MoveUp(ctx); err != nil {
		t.Fatalf("MoveUp: %v", err)
	}
	if err := shade.MoveDown(ctx); err != nil {
		t.Fatalf("MoveDown: %v", err)
	}
	if err := shade.MoveStop(ctx); err != nil {
		t.Fatalf("MoveStop: %v", err)
	}

	sent := mc.sentMessages()
	if len(sent) != 3 {
		t.Fatalf("%d messages sent, want 3", len(sent))
	}
	wantStates := []int{ShadeOpen, ShadeClose, ShadeStop}
	for i, msg := range sent {
		if msg.Type != OpSetDeviceShadingState {
			t.Errorf("opcode = %v, want SET_DEVICE_SHADING_STATE", msg.Type)
		}
		if state, _ := msg.Payload.Int("state"); state != wantStates[i] {
			t.Errorf("state = %d, want %d", state, wantStates[i])
		}
		if id, _ := msg.Payload.Int("deviceId"); id != 9 {
			t.Errorf("deviceId = %d, want 9", id)
		}
	}
}

func TestShadeSafetySuppressesCommands(t *testing.T) {
	b, mc := newTestBridge(t)
	shade := announceShade(t, b)
	ctx := context.Background()

	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "shSafety": float64(1),
	}})

	if err := shade.MoveUp(ctx); err != nil {
		t.Fatalf("MoveUp: %v", err)
	}
	if err := shade.MoveDown(ctx); err != nil {
		t.Fatalf("MoveDown: %v", err)
	}
	if n := len(mc.sentMessages()); n != 0 {
		t.Errorf("%d frames sent while safety engaged, want 0", n)
	}

	// Safety released: commands flow again.
	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "shSafety": float64(0),
	}})
	if err := shade.MoveUp(ctx); err != nil {
		t.Fatalf("MoveUp: %v", err)
	}
	if n := len(mc.sentMessages()); n != 1 {
		t.Errorf("%d frames sent after safety release, want 1", n)
	}
}

func TestShadeSupportsGoTo(t *testing.T) {
	b, mc := newTestBridge(t)
	shade := announceShade(t, b)
	ctx := context.Background()

	// No position reported yet: go-to unsupported, command dropped.
	if shade.SupportsGoTo() {
		t.Error("SupportsGoTo should be false before shPos is reported")
	}
	if err := shade.MoveToPosition(ctx, 50); err != nil {
		t.Fatalf("MoveToPosition: %v", err)
	}
	if n := len(mc.sentMessages()); n != 0 {
		t.Errorf("%d frames sent for unsupported go-to, want 0", n)
	}

	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "shPos": float64(30),
	}})
	if !shade.SupportsGoTo() {
		t.Fatal("SupportsGoTo should be true after shPos on a positionable comp")
	}

	if err := shade.MoveToPosition(ctx, 75); err != nil {
		t.Fatalf("MoveToPosition: %v", err)
	}
	sent := mc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("%d frames sent, want 1", len(sent))
	}
	if state, _ := sent[0].Payload.Int("state"); state != ShadeGoTo {
		t.Errorf("state = %d, want %d", state, ShadeGoTo)
	}
	if v, _ := sent[0].Payload.Int("value"); v != 75 {
		t.Errorf("value = %d, want 75", v)
	}

	// Out-of-range positions are dropped.
	if err := shade.MoveToPosition(ctx, 140); err != nil {
		t.Fatalf("MoveToPosition: %v", err)
	}
	if n := len(mc.sentMessages()); n != 1 {
		t.Errorf("%d frames sent after out-of-range go-to, want 1", n)
	}
}

func TestShadeGoToUnsupportedCompType(t *testing.T) {
	b, mc := newTestBridge(t)
	b.dispatch(Message{Type: OpSetAllData, Payload: Payload{
		"devices": []any{map[string]any{
			"deviceId": float64(9), "devType": float64(102), "name": "Blind", "compId": float64(3),
		}},
		"comps":    []any{map[string]any{"compId": float64(3), "compType": float64(50), "name": "Module"}},
		"lastItem": true,
	}})
	shade := b.device(9).(*Shade)

	b.dispatch(Message{Type: OpSetDeviceState, Payload: Payload{
		"deviceId": float64(9), "shPos": float64(30),
	}})
	if shade.SupportsGoTo() {
		t.Error("SupportsGoTo should be false for a non-positionable comp")
	}
	if err := shade.MoveToPosition(context.Background(), 10); err != nil {
		t.Fatalf("MoveToPosition: %v", err)
	}
	if n := len(mc.sentMessages()); n != 0 {
		t.Errorf("%d frames sent, want 0", n)
	}
}
