// Package abi holds the values host and guest agree on across the boundary.
// Everything here is part of the wire contract: changing a numeric value
// breaks every guest compiled against it.
package abi

// MouseEvent is the kind argument of on_mouse_event.
type MouseEvent uint32

const (
	MouseDown MouseEvent = iota
	MouseUp
)

func (k MouseEvent) String() string {
	switch k {
	case MouseDown:
		return "down"
	case MouseUp:
		return "up"
	default:
		return "unknown"
	}
}

// KeyEvent is the kind argument of on_key_event.
type KeyEvent uint32

const (
	KeyDown KeyEvent = iota
	KeyUp
)

func (k KeyEvent) String() string {
	switch k {
	case KeyDown:
		return "down"
	case KeyUp:
		return "up"
	default:
		return "unknown"
	}
}

// MouseButton follows the DOM MouseEvent.button numbering.
type MouseButton uint32

const (
	ButtonLeft MouseButton = iota
	ButtonMiddle
	ButtonRight
	ButtonBack
	ButtonForward
)

// Guest exports.
const (
	ExportAlloc              = "alloc"
	ExportFree               = "free"
	ExportDraw               = "draw"
	ExportInit               = "init"
	ExportDeinit             = "deinit"
	ExportUpdate             = "update"
	ExportOnMouseEvent       = "on_mouse_event"
	ExportOnMouseScrollEvent = "on_mouse_scroll_event"
	ExportOnKeyEvent         = "on_key_event"
)

// Host imports, all in the ImportModule namespace.
const (
	ImportModule        = "env"
	ImportDebug         = "debug"
	ImportGetWindowSize = "get_window_size"
	ImportGetMousePos   = "get_mouse_pos"
)

const (
	// BytesPerPixel is the size of one packed RGBA pixel.
	BytesPerPixel = 4

	// SlotSize is the width of every query output slot (size_t).
	SlotSize = 8

	// MaxKeyNameLen bounds the key name marshaled for on_key_event.
	MaxKeyNameLen = 64
)

// FrameLen returns the byte length of a width x height pixel buffer and
// false when the product overflows.
func FrameLen(width, height uint64) (uint64, bool) {
	if width == 0 || height == 0 {
		return 0, true
	}
	px := width * height
	if px/width != height {
		return 0, false
	}
	n := px * BytesPerPixel
	if n/BytesPerPixel != px {
		return 0, false
	}
	return n, true
}
