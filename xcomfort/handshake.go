package xcomfort

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Bootstrap endpoints on the bridge's embedded HTTP server.
const (
	challengePath = "/api/challenge"
	bootstrapPath = "/api/bootstrap"

	// maxBootstrapBody bounds bootstrap responses; the bridge sends a few
	// hundred bytes.
	maxBootstrapBody = 64 << 10
)

// HandshakeConfig holds what is needed to bootstrap a channel session.
type HandshakeConfig struct {
	// Host is the bridge's address, host or host:port.
	Host string

	// AuthKey is the shared secret provisioned on the bridge.
	AuthKey string

	// HTTPClient performs the bootstrap exchange. Required; ownership
	// stays with the caller.
	HTTPClient *http.Client

	// Timeout bounds each handshake phase. Default: 10 s.
	Timeout time.Duration

	// Logger is optional.
	Logger Logger
}

// challengeResponse is the bridge's reply to GET /api/challenge.
type challengeResponse struct {
	Challenge string `json:"challenge"`
}

// bootstrapRequest authenticates the client to the bridge.
type bootstrapRequest struct {
	ConnectionID string `json:"connectionId"`
	Proof        string `json:"proof"`
}

// bootstrapResponse carries the session parameters and stream endpoint.
type bootstrapResponse struct {
	Salt       string `json:"salt"`
	Token      string `json:"token"`
	StreamPath string `json:"streamPath"`
}

// Connect performs the session bootstrap against the bridge and returns a
// Connection bound to the stream and the derived session key:
//
//  1. fetch the authentication challenge,
//  2. prove knowledge of the authkey,
//  3. derive the session key from the served salt,
//  4. open the WebSocket stream endpoint.
//
// Failures wrap ErrAuthRejected, ErrMalformedBootstrap or
// ErrHandshakeFailed; all are retryable by a fresh Connect.
func Connect(ctx context.Context, cfg HandshakeConfig) (*Connection, error) {
	if cfg.HTTPClient == nil {
		return nil, fmt.Errorf("%w: http client is required", ErrHandshakeFailed)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTransportTimeout
	}

	phaseCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	challenge, err := fetchChallenge(phaseCtx, cfg)
	cancel()
	if err != nil {
		return nil, err
	}

	phaseCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	boot, err := bootstrap(phaseCtx, cfg, challenge)
	cancel()
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(boot.Salt)
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformedBootstrap)
	}
	keys := DeriveSessionKeys(cfg.AuthKey, salt)

	phaseCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	transport, err := openStream(phaseCtx, cfg, boot)
	cancel()
	if err != nil {
		return nil, err
	}

	conn, err := newConnection(transport, keys, cfg.Logger)
	if err != nil {
		transport.Close()
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("secure channel established", "host", cfg.Host, "stream", boot.StreamPath)
	}
	return conn, nil
}

// fetchChallenge obtains the authentication challenge from the bridge.
func fetchChallenge(ctx context.Context, cfg HandshakeConfig) ([]byte, error) {
	endpoint := url.URL{Scheme: "http", Host: cfg.Host, Path: challengePath}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: challenge: %w", ErrHandshakeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: challenge returned status %d", ErrHandshakeFailed, resp.StatusCode)
	}

	var cr challengeResponse
	if err := decodeBody(resp.Body, &cr); err != nil {
		return nil, err
	}
	challenge, err := base64.StdEncoding.DecodeString(cr.Challenge)
	if err != nil || len(challenge) == 0 {
		return nil, fmt.Errorf("%w: bad challenge", ErrMalformedBootstrap)
	}
	return challenge, nil
}

// bootstrap proves the authkey and retrieves the session parameters.
func bootstrap(ctx context.Context, cfg HandshakeConfig, challenge []byte) (*bootstrapResponse, error) {
	body, err := json.Marshal(bootstrapRequest{
		ConnectionID: uuid.NewString(),
		Proof:        hex.EncodeToString(AuthProof(cfg.AuthKey, challenge)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	endpoint := url.URL{Scheme: "http", Host: cfg.Host, Path: bootstrapPath}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap: %w", ErrHandshakeFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrAuthRejected
	default:
		return nil, fmt.Errorf("%w: bootstrap returned status %d", ErrHandshakeFailed, resp.StatusCode)
	}

	var boot bootstrapResponse
	if err := decodeBody(resp.Body, &boot); err != nil {
		return nil, err
	}
	if boot.Token == "" || boot.StreamPath == "" {
		return nil, fmt.Errorf("%w: missing session parameters", ErrMalformedBootstrap)
	}
	return &boot, nil
}

func decodeBody(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, maxBootstrapBody))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBootstrap, err)
	}
	return nil
}

// openStream dials the bridge's byte-stream endpoint.
func openStream(ctx context.Context, cfg HandshakeConfig, boot *bootstrapResponse) (frameTransport, error) {
	endpoint := url.URL{
		Scheme:   "ws",
		Host:     cfg.Host,
		Path:     boot.StreamPath,
		RawQuery: url.Values{"token": {boot.Token}}.Encode(),
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthRejected
		}
		return nil, fmt.Errorf("%w: stream dial: %w", ErrHandshakeFailed, err)
	}
	return &wsTransport{conn: conn, writeTimeout: cfg.Timeout}, nil
}

// wsTransport adapts a WebSocket connection to the frameTransport used by
// Connection. One binary WebSocket message carries one frame.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
		// Text and control frames are not part of the protocol.
	}
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
