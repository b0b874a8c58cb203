package mqtt

import (
	"strings"
	"testing"

	"github.com/oywino/xcomfort-go/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		got  string
		want string
	}{
		{topics.DeviceState(7), "xcomfort/state/device/7"},
		{topics.RoomState(1), "xcomfort/state/room/1"},
		{topics.DeviceCommand(7), "xcomfort/command/device/7"},
		{topics.RoomCommand(1), "xcomfort/command/room/1"},
		{topics.CommandSubscribe(), "xcomfort/command/#"},
		{topics.SystemStatus(), "xcomfort/system/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     1883,
			ClientID: "xcomfortd",
		},
		Auth: config.MQTTAuthConfig{Username: "user", Password: "pass"},
		QoS:  1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if !strings.HasPrefix(opts.ClientID, "xcomfortd-") {
		t.Errorf("client id = %q, want xcomfortd- prefix", opts.ClientID)
	}
	if opts.Username != "user" {
		t.Errorf("username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("auto-reconnect should be enabled")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true},
	}

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should enforce the minimum version")
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("xcomfortd-1")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, "xcomfortd-1") {
		t.Errorf("online payload = %s", online)
	}
	offline := buildOfflinePayload("xcomfortd-1")
	if !strings.Contains(offline, `"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: config.MQTTConfig{QoS: 1}}

	if err := c.Publish("", []byte("x"), 1, false); err != ErrInvalidTopic {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("topic", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("bad qos: err = %v, want ErrInvalidQoS", err)
	}
}
