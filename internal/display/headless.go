package display

import (
	"sync"
)

// Headless is an off-screen display with a fixed, resizable size. It keeps
// the last presented frame for snapshots and tests.
type Headless struct {
	mu        sync.Mutex
	width     int
	height    int
	last      Frame
	presented int
}

// NewHeadless creates an off-screen display.
func NewHeadless(width, height int) *Headless {
	return &Headless{width: width, height: height}
}

// Size implements Display.
func (h *Headless) Size() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

// Resize changes the reported size; the driver picks it up next tick.
func (h *Headless) Resize(width, height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.width, h.height = width, height
}

// Present implements Display.
func (h *Headless) Present(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = frame
	h.presented++
	return nil
}

// Last returns the most recent frame and whether one was presented.
func (h *Headless) Last() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.presented > 0
}

// Presented returns the number of frames received.
func (h *Headless) Presented() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presented
}
