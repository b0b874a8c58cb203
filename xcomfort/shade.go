package xcomfort

import (
	"context"
	"fmt"
)

// compTypePositionable is the component type whose shades report and
// accept absolute positions.
const compTypePositionable = 86

// Shade positions, bridge scale: 0 is fully open, 100 fully closed.
const (
	shadePositionOpen   = 0
	shadePositionClosed = 100
)

// ShadeState is the aggregated view of a shade. The bridge reports it in
// partial updates; each field holds the last value seen for its key and is
// nil until first reported.
type ShadeState struct {
	// CurrentState is the raw curstate operation code.
	CurrentState *int

	// IsSafetyEnabled reports the wind/frost safety lockout. While
	// engaged, all movement commands are suppressed.
	IsSafetyEnabled *bool

	// Position is the last reported position, 0 (open) to 100 (closed).
	Position *int

	// Payload is the merged raw payload.
	Payload Payload
}

// IsClosed reports whether the shade is fully closed. The third state
// (position unknown or in between) is a nil return.
func (s ShadeState) IsClosed() *bool {
	if s.Position == nil {
		return nil
	}
	switch *s.Position {
	case shadePositionClosed:
		v := true
		return &v
	case shadePositionOpen:
		v := false
		return &v
	default:
		return nil
	}
}

// Shade is a motorized blind or curtain with optional precise positioning.
type Shade struct {
	deviceBase
	compID int
	shade  ShadeState
	state  *Subject[ShadeState]
}

func newShade(base deviceBase, compID int) *Shade {
	return &Shade{
		deviceBase: base,
		compID:     compID,
		shade:      ShadeState{Payload: Payload{}},
		state:      NewSubject[ShadeState](),
	}
}

// CompID returns the owning component's id.
func (s *Shade) CompID() int { return s.compID }

// State returns the shade's aggregated state stream.
func (s *Shade) State() *Subject[ShadeState] { return s.state }

func (s *Shade) handleState(payload Payload) {
	s.shade.Payload = s.shade.Payload.Merge(payload)
	if cur, ok := payload.Intish("curstate"); ok {
		s.shade.CurrentState = &cur
	}
	if safety, ok := payload.Intish("shSafety"); ok {
		enabled := safety != 0
		s.shade.IsSafetyEnabled = &enabled
	}
	if pos, ok := payload.Int("shPos"); ok {
		s.shade.Position = &pos
	}
	s.state.Publish(s.shade)
}

// SupportsGoTo reports whether the shade accepts absolute positioning:
// its component must be the positionable type and the shade must have
// reported a position at least once.
func (s *Shade) SupportsGoTo() bool {
	comp := s.bridge.comp(s.compID)
	if comp == nil {
		return false
	}
	return comp.CompType() == compTypePositionable && s.shade.Payload.Has("shPos")
}

// MoveUp opens the shade.
func (s *Shade) MoveUp(ctx context.Context) error {
	return s.sendState(ctx, Payload{"state": ShadeOpen})
}

// MoveDown closes the shade.
func (s *Shade) MoveDown(ctx context.Context) error {
	return s.sendState(ctx, Payload{"state": ShadeClose})
}

// MoveStop stops the shade's movement.
func (s *Shade) MoveStop(ctx context.Context) error {
	return s.sendState(ctx, Payload{"state": ShadeStop})
}

// MoveToPosition moves the shade to an absolute position, 0 (open) to 100
// (closed). Dropped when the shade does not support positioning or the
// position is out of range.
func (s *Shade) MoveToPosition(ctx context.Context, position int) error {
	if !s.SupportsGoTo() || position < shadePositionOpen || position > shadePositionClosed {
		return nil
	}
	return s.sendState(ctx, Payload{"state": ShadeGoTo, "value": position})
}

// sendState emits a shading command unless the safety lockout is engaged,
// in which case the command is silently dropped.
func (s *Shade) sendState(ctx context.Context, payload Payload) error {
	if s.shade.IsSafetyEnabled != nil && *s.shade.IsSafetyEnabled {
		return nil
	}
	payload["deviceId"] = s.id
	return s.bridge.SendMessage(ctx, OpSetDeviceShadingState, payload)
}

func (s *Shade) String() string {
	return fmt.Sprintf("Shade(%d, %q)", s.id, s.name)
}
