// Package input models the device events the host collects between ticks.
package input

import (
	"fmt"
	"time"

	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// Kind identifies the event class.
type Kind int

const (
	KindMouseButton Kind = iota + 1
	KindMouseScroll
	KindMouseMove
	KindKey
)

func (k Kind) String() string {
	switch k {
	case KindMouseButton:
		return "mouse"
	case KindMouseScroll:
		return "scroll"
	case KindMouseMove:
		return "move"
	case KindKey:
		return "key"
	default:
		return "unknown"
	}
}

// Event is a single input event. Only the fields of its Kind are meaningful.
type Event struct {
	Kind Kind

	// Timestamp is the device time the event happened at. Events are
	// delivered in timestamp order within a tick.
	Timestamp time.Time

	Mouse  MouseEvent
	Scroll ScrollEvent
	Move   MoveEvent
	Key    KeyEvent
}

// MouseEvent is a button press or release at a position.
type MouseEvent struct {
	Kind   abi.MouseEvent
	Button abi.MouseButton
	X, Y   uint64
}

// ScrollEvent carries a vertical wheel delta.
type ScrollEvent struct {
	DeltaY float64
}

// MoveEvent updates the pointer position without reaching the guest.
type MoveEvent struct {
	X, Y uint64
}

// KeyEvent is a key press or release identified by name ("Enter", "KeyA").
type KeyEvent struct {
	Kind abi.KeyEvent
	Name string
}

// NewMouse builds a mouse button event.
func NewMouse(ts time.Time, kind abi.MouseEvent, button abi.MouseButton, x, y uint64) Event {
	return Event{
		Kind:      KindMouseButton,
		Timestamp: ts,
		Mouse:     MouseEvent{Kind: kind, Button: button, X: x, Y: y},
	}
}

// NewScroll builds a wheel event.
func NewScroll(ts time.Time, deltaY float64) Event {
	return Event{Kind: KindMouseScroll, Timestamp: ts, Scroll: ScrollEvent{DeltaY: deltaY}}
}

// NewMove builds a pointer move event.
func NewMove(ts time.Time, x, y uint64) Event {
	return Event{Kind: KindMouseMove, Timestamp: ts, Move: MoveEvent{X: x, Y: y}}
}

// NewKey builds a key event. Names must be non-empty and at most
// abi.MaxKeyNameLen bytes.
func NewKey(ts time.Time, kind abi.KeyEvent, name string) (Event, error) {
	if name == "" {
		return Event{}, fmt.Errorf("key name is empty")
	}
	if len(name) > abi.MaxKeyNameLen {
		return Event{}, fmt.Errorf("key name is %d bytes, limit is %d", len(name), abi.MaxKeyNameLen)
	}
	return Event{Kind: KindKey, Timestamp: ts, Key: KeyEvent{Kind: kind, Name: name}}, nil
}
