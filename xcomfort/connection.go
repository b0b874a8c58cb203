package xcomfort

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Default timeouts for channel I/O.
const (
	// defaultTransportTimeout bounds the handshake phases and individual
	// frame writes.
	defaultTransportTimeout = 10 * time.Second

	// sendQueueSize is the outbound queue capacity. Senders block (with
	// context) once it is full; the writer drains it in order.
	sendQueueSize = 16
)

// Logger is the optional structured logger accepted by this package.
// Satisfied by *slog.Logger and by internal/infrastructure/logging.Logger.
// All logging is nil-safe; an unset logger disables it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// frameTransport is the bidirectional byte-stream the channel runs on.
// Satisfied by the WebSocket adapter in handshake.go; tests substitute an
// in-memory implementation.
type frameTransport interface {
	// ReadFrame blocks until one complete frame arrives.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one complete frame.
	WriteFrame(frame []byte) error

	// Close releases the stream. Pending reads unblock with an error.
	Close() error
}

// Connection is the encrypted full-duplex message channel to the bridge.
//
// A reader (Pump) decrypts and decodes inbound frames and publishes them to
// the Messages subject; a writer goroutine drains the send queue in order.
// Frames carry a monotonically increasing counter in each direction; an
// inbound frame that does not advance the counter is dropped as a replay.
//
// Thread Safety: all methods are safe for concurrent use.
type Connection struct {
	transport frameTransport
	cipher    *frameCipher
	messages  *Subject[Message]

	sendq      chan outbound
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	// sendCounter is owned by the writer goroutine.
	sendCounter uint64
	// recvCounter is owned by the pump goroutine.
	recvCounter uint64

	failMu  sync.Mutex
	failure error

	logger Logger
}

type outbound struct {
	msg    Message
	result chan error
}

// newConnection wires a connection over an established transport and
// session keys, and starts its writer.
func newConnection(transport frameTransport, keys SessionKeys, logger Logger) (*Connection, error) {
	cipher, err := newFrameCipher(keys)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		transport:  transport,
		cipher:     cipher,
		messages:   NewSubject[Message](),
		sendq:      make(chan outbound, sendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		logger:     logger,
	}
	go c.writeLoop()
	return c, nil
}

// Messages returns the hot multicast stream of decoded inbound messages.
// Subscribers never block the pump; each has its own queue.
func (c *Connection) Messages() *Subject[Message] {
	return c.messages
}

// Send enqueues an outbound message and returns once the frame has been
// handed to the transport (not when the bridge acts on it). Confirmations
// arrive as subsequent state broadcasts.
func (c *Connection) Send(ctx context.Context, op Opcode, payload Payload) error {
	if c.isClosed() {
		return ErrChannelClosed
	}

	out := outbound{
		msg:    Message{Type: op, Payload: payload},
		result: make(chan error, 1),
	}

	select {
	case c.sendq <- out:
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.writerDone:
		// The writer may have answered just before exiting.
		select {
		case err := <-out.result:
			return err
		default:
			return ErrChannelClosed
		}
	}
}

// Pump reads, authenticates and decodes inbound frames until the peer
// closes, a fatal error occurs, or Close is called. It returns nil for an
// explicit close and the terminal error otherwise.
func (c *Connection) Pump() error {
	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			if c.isClosed() {
				// nil after an explicit close; the writer's error if it
				// tore the channel down.
				return c.Err()
			}
			err = fmt.Errorf("%w: %w", ErrTransport, err)
			c.teardown(err)
			return err
		}

		counter, plaintext, err := c.cipher.open(frame)
		if err != nil {
			if errors.Is(err, ErrAuthFailure) {
				// An unauthenticated frame poisons the channel.
				c.teardown(err)
				return err
			}
			c.logWarn("dropping malformed frame", "error", err)
			continue
		}

		if counter <= c.recvCounter {
			c.logWarn("dropping frame", "error", ErrReplay, "counter", counter, "last", c.recvCounter)
			continue
		}
		c.recvCounter = counter

		msg, err := decodeMessage(plaintext)
		if err != nil {
			c.logWarn("dropping undecodable frame", "error", err)
			continue
		}

		c.messages.Publish(msg)
	}
}

// Close shuts the channel down: the writer drains queued frames, the
// transport is released, and Pump returns promptly. Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	<-c.writerDone
	return nil
}

// Err returns the error that tore the channel down, if any.
func (c *Connection) Err() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failure
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// teardown records the terminal error and closes the channel.
func (c *Connection) teardown(err error) {
	c.failMu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.failMu.Unlock()
	c.Close()
}

// writeLoop drains the send queue, encoding and encrypting frames in
// enqueue order. On shutdown it drains what is already queued before
// releasing the transport.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case <-c.done:
			c.drainAndRelease()
			return
		case out := <-c.sendq:
			err := c.writeFrame(out.msg)
			out.result <- err
			if err != nil && !errors.Is(err, ErrInvalidFrame) {
				c.failMu.Lock()
				if c.failure == nil {
					c.failure = err
				}
				c.failMu.Unlock()
				c.closeOnce.Do(func() { close(c.done) })
				c.transport.Close()
				return
			}
		}
	}
}

// drainAndRelease flushes queued sends best-effort, then closes the
// transport so the pump unblocks.
func (c *Connection) drainAndRelease() {
	for {
		select {
		case out := <-c.sendq:
			out.result <- c.writeFrame(out.msg)
		default:
			c.transport.Close()
			return
		}
	}
}

// writeFrame encodes, seals and writes a single message. Only called from
// the writer goroutine; owns sendCounter.
func (c *Connection) writeFrame(m Message) error {
	plaintext, err := encodeMessage(m)
	if err != nil {
		return err
	}
	c.sendCounter++
	frame := c.cipher.seal(c.sendCounter, plaintext)
	if err := c.transport.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.logDebug("frame sent", "opcode", m.Type.String(), "counter", c.sendCounter)
	return nil
}

func (c *Connection) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Connection) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
