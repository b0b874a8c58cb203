package export

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oywino/xcomfort-go/internal/infrastructure/mqtt"
	"github.com/oywino/xcomfort-go/xcomfort"
)

// mockMQTT implements MQTTClient for testing.
type mockMQTT struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool { return true }

func (m *mockMQTT) getPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func newTestExporter(t *testing.T) (*Exporter, *mockMQTT) {
	t.Helper()
	bridge := xcomfort.NewBridge("bridge.local", "authkey")
	mc := newMockMQTT()
	e, err := New(Options{Bridge: bridge, MQTT: mc, QoS: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, mc
}

func TestNewRequiresBridge(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New without a bridge should fail")
	}
}

func TestPublishDeviceState(t *testing.T) {
	e, mc := newTestExporter(t)

	e.publishDeviceState(7, map[string]any{"type": "light", "switch": true})

	published := mc.getPublished()
	if len(published) != 1 {
		t.Fatalf("%d publishes, want 1", len(published))
	}
	pub := published[0]
	if pub.Topic != "xcomfort/state/device/7" {
		t.Errorf("topic = %q", pub.Topic)
	}
	if !pub.Retained {
		t.Error("state publishes must be retained")
	}
	var state map[string]any
	if err := json.Unmarshal(pub.Payload, &state); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if state["type"] != "light" || state["switch"] != true {
		t.Errorf("state = %v", state)
	}
}

func TestWatchForwardsUntilStopped(t *testing.T) {
	e, _ := newTestExporter(t)

	subject := xcomfort.NewSubject[int]()
	var mu sync.Mutex
	var seen []int
	watch(e, subject.Subscribe(), func(v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	subject.Publish(1)
	subject.Publish(2)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("forwarded %d values, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Stop()
	e.Stop() // idempotent

	subject.Publish(3)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	n := len(seen)
	mu.Unlock()
	if n != 2 {
		t.Errorf("values forwarded after Stop: %d", n)
	}
}

func TestHandleCommandRejectsBadInput(t *testing.T) {
	e, _ := newTestExporter(t)

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr string
	}{
		{"short topic", "xcomfort/command", `{}`, "invalid command topic"},
		{"non-numeric id", "xcomfort/command/device/abc", `{}`, "invalid entity id"},
		{"bad json", "xcomfort/command/device/7", `{broken`, "parsing command"},
		{"unknown kind", "xcomfort/command/scene/7", `{"command":"on"}`, "unknown entity kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.handleCommand(tt.topic, []byte(tt.payload))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
