package wasm

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/internal/display"
	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// FrameSink validates guest pixel buffers and hands copies to the display.
type FrameSink struct {
	bridge  *Bridge
	display display.Display
	logger  *zap.Logger

	presented uint64
}

// NewFrameSink creates a sink presenting into d.
func NewFrameSink(bridge *Bridge, d display.Display, logger *zap.Logger) *FrameSink {
	return &FrameSink{
		bridge:  bridge,
		display: d,
		logger:  logger.With(zap.String("component", "frame-sink")),
	}
}

// Present checks that the length-byte buffer at offset holds exactly
// width*height packed pixels and forwards a copy. The guest may overwrite the
// buffer as soon as Present returns. A zero-area frame is a no-op.
func (s *FrameSink) Present(offset, length, width, height uint64) error {
	want, ok := abi.FrameLen(width, height)
	if !ok || width > math.MaxInt32 || height > math.MaxInt32 {
		return newFault(KindProtocolViolation, abi.ExportDraw,
			"frame dimensions %dx%d overflow", width, height)
	}
	if want != length {
		return newFault(KindProtocolViolation, abi.ExportDraw,
			"buffer of %d bytes does not hold a %dx%d frame (%d bytes)", length, width, height, want)
	}
	if want == 0 {
		return nil
	}

	region, err := s.bridge.Resolve(offset, length)
	if err != nil {
		return &Fault{Kind: KindProtocolViolation, Call: abi.ExportDraw, Err: err}
	}
	pix, err := region.Copy()
	if err != nil {
		return &Fault{Kind: KindProtocolViolation, Call: abi.ExportDraw, Err: err}
	}

	frame := display.Frame{Width: int(width), Height: int(height), Pix: pix}
	if err := s.display.Present(frame); err != nil {
		return fmt.Errorf("display rejected frame: %w", err)
	}
	s.presented++
	return nil
}

// Presented returns the number of frames handed to the display.
func (s *FrameSink) Presented() uint64 {
	return s.presented
}
