package xcomfort

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Plaintext frame layout: opcode(2, big-endian) ‖ JSON payload object.
// The payload is the bridge's self-describing object serialization.
const opcodeSize = 2

// encodeMessage serializes a message to a plaintext frame body.
func encodeMessage(m Message) ([]byte, error) {
	payload := m.Payload
	if payload == nil {
		payload = Payload{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %w", ErrInvalidFrame, err)
	}
	frame := make([]byte, opcodeSize, opcodeSize+len(body))
	binary.BigEndian.PutUint16(frame, uint16(m.Type))
	return append(frame, body...), nil
}

// decodeMessage parses a plaintext frame body into a message. It is total
// over well-formed input; anything else yields ErrInvalidFrame and the
// caller drops the frame.
func decodeMessage(frame []byte) (Message, error) {
	if len(frame) < opcodeSize {
		return Message{}, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidFrame, len(frame))
	}
	op := Opcode(binary.BigEndian.Uint16(frame[:opcodeSize]))

	payload := Payload{}
	if body := frame[opcodeSize:]; len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return Message{}, fmt.Errorf("%w: decode payload: %w", ErrInvalidFrame, err)
		}
	}
	return Message{Type: op, Payload: payload}, nil
}
