package xcomfort

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	testAuthKey   = "test-authkey"
	testSalt      = "0123456789abcdef"
	testChallenge = "challenge-bytes!"
	testToken     = "session-token"
)

// bridgeServer emulates the bridge's bootstrap endpoints and encrypted
// stream for handshake tests.
type bridgeServer struct {
	ts       *httptest.Server
	upgrader websocket.Upgrader

	received chan Message // frames the client sent over the stream
}

func newBridgeServer(t *testing.T) *bridgeServer {
	t.Helper()
	bs := &bridgeServer{received: make(chan Message, 8)}

	keys := DeriveSessionKeys(testAuthKey, []byte(testSalt))
	cipher, err := newFrameCipher(keys.mirror())
	if err != nil {
		t.Fatalf("newFrameCipher: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(challengePath, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(challengeResponse{
			Challenge: base64.StdEncoding.EncodeToString([]byte(testChallenge)),
		})
	})
	mux.HandleFunc(bootstrapPath, func(w http.ResponseWriter, r *http.Request) {
		var req bootstrapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		want := hex.EncodeToString(AuthProof(testAuthKey, []byte(testChallenge)))
		if req.Proof != want || req.ConnectionID == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(bootstrapResponse{
			Salt:       base64.StdEncoding.EncodeToString([]byte(testSalt)),
			Token:      testToken,
			StreamPath: "/api/stream",
		})
	})
	mux.HandleFunc("/api/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := bs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Greet with an inventory frame, then collect client frames.
		plaintext, err := encodeMessage(Message{Type: OpSetAllData, Payload: Payload{
			"devices":  []any{map[string]any{"deviceId": float64(7), "devType": float64(101), "name": "Lamp", "dimmable": true}},
			"lastItem": true,
		}})
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, cipher.seal(1, plaintext)); err != nil {
			return
		}

		recvCounter := uint64(0)
		for {
			kind, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			counter, plaintext, err := cipher.open(frame)
			if err != nil || counter <= recvCounter {
				continue
			}
			recvCounter = counter
			msg, err := decodeMessage(plaintext)
			if err != nil {
				continue
			}
			bs.received <- msg
		}
	})

	bs.ts = httptest.NewServer(mux)
	t.Cleanup(bs.ts.Close)
	return bs
}

func (bs *bridgeServer) host() string {
	return bs.ts.Listener.Addr().String()
}

func TestConnectEndToEnd(t *testing.T) {
	bs := newBridgeServer(t)

	conn, err := Connect(context.Background(), HandshakeConfig{
		Host:       bs.host(),
		AuthKey:    testAuthKey,
		HTTPClient: bs.ts.Client(),
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	sub := conn.Messages().Subscribe()
	defer sub.Cancel()
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- conn.Pump() }()

	// The server's greeting decrypts and decodes.
	msg := recvTimeout(t, sub)
	if msg.Type != OpSetAllData {
		t.Errorf("greeting opcode = %v, want SET_ALL_DATA", msg.Type)
	}

	// A command round-trips to the server.
	if err := conn.Send(context.Background(), OpActionSwitchDevice, Payload{"deviceId": float64(7), "switch": true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-bs.received:
		if got.Type != OpActionSwitchDevice {
			t.Errorf("server received opcode %v, want ACTION_SWITCH_DEVICE", got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the command frame")
	}

	conn.Close()
	select {
	case err := <-pumpDone:
		if err != nil {
			t.Errorf("pump returned %v after close, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after close")
	}
}

func TestConnectRejectsBadAuthKey(t *testing.T) {
	bs := newBridgeServer(t)

	_, err := Connect(context.Background(), HandshakeConfig{
		Host:       bs.host(),
		AuthKey:    "wrong-key",
		HTTPClient: bs.ts.Client(),
	})
	if !errors.Is(err, ErrAuthRejected) {
		t.Errorf("err = %v, want ErrAuthRejected", err)
	}
}

func TestConnectRejectsMalformedBootstrap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(challengePath, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"challenge":"not base64!!"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	_, err := Connect(context.Background(), HandshakeConfig{
		Host:       ts.Listener.Addr().String(),
		AuthKey:    testAuthKey,
		HTTPClient: ts.Client(),
	})
	if !errors.Is(err, ErrMalformedBootstrap) {
		t.Errorf("err = %v, want ErrMalformedBootstrap", err)
	}
}

func TestConnectRequiresHTTPClient(t *testing.T) {
	_, err := Connect(context.Background(), HandshakeConfig{Host: "bridge.local", AuthKey: "k"})
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestConnectUnreachableBridge(t *testing.T) {
	ts := httptest.NewServer(http.NewServeMux())
	host := ts.Listener.Addr().String()
	ts.Close()

	_, err := Connect(context.Background(), HandshakeConfig{
		Host:       host,
		AuthKey:    testAuthKey,
		HTTPClient: &http.Client{},
		Timeout:    2 * time.Second,
	})
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("err = %v, want ErrHandshakeFailed", err)
	}
}
