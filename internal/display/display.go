// Package display defines the collaborator that receives guest frames and
// reports the window size, plus the backends pixelhost ships with.
package display

import (
	"encoding/binary"
	"fmt"
)

// Display is the window the guest renders into.
type Display interface {
	// Size returns the current drawable size in pixels.
	Size() (width, height int)

	// Present takes ownership of the frame. Implementations must not keep
	// references into guest memory; the Frame Sink always hands over a copy.
	Present(frame Frame) error
}

// Frame is a row-major, top-left origin buffer of packed RGBA pixels.
// Pix holds the raw guest bytes, four per pixel in R, G, B, A order.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a blank frame.
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]byte, width*height*4)}
}

// Validate checks the buffer length against the dimensions.
func (f Frame) Validate() error {
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("negative frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * 4; len(f.Pix) != want {
		return fmt.Errorf("frame %dx%d needs %d bytes, got %d", f.Width, f.Height, want, len(f.Pix))
	}
	return nil
}

// At returns the pixel at (x, y) as the little-endian uint32 the guest wrote.
func (f Frame) At(x, y int) uint32 {
	i := (y*f.Width + x) * 4
	return binary.LittleEndian.Uint32(f.Pix[i : i+4])
}

// RGBA returns the channels of the pixel at (x, y).
func (f Frame) RGBA(x, y int) (r, g, b, a uint8) {
	i := (y*f.Width + x) * 4
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]
}

// Pixels decodes every pixel in row-major order.
func (f Frame) Pixels() []uint32 {
	out := make([]uint32, len(f.Pix)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(f.Pix[i*4:])
	}
	return out
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return Frame{Width: f.Width, Height: f.Height, Pix: pix}
}
