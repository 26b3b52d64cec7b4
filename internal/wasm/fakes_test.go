package wasm

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

// sliceMemory is a LinearMemory whose grow reallocates, like a real memory
// that moved.
type sliceMemory struct {
	buf []byte
}

func newSliceMemory(size int) *sliceMemory {
	return &sliceMemory{buf: make([]byte, size)}
}

func (m *sliceMemory) Size() uint32 {
	return uint32(len(m.buf))
}

func (m *sliceMemory) Read(offset, n uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(n)
	if end > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset:end:end], true
}

func (m *sliceMemory) grow(n int) {
	buf := make([]byte, len(m.buf)+n)
	copy(buf, m.buf)
	m.buf = buf
}

func (m *sliceMemory) u64(offset int) uint64 {
	return binary.LittleEndian.Uint64(m.buf[offset:])
}

type recordedCall struct {
	name   string
	params []uint64
}

// recorder builds fake guest exports and records every call in order.
type recorder struct {
	calls []recordedCall
}

type fakeFunc struct {
	name string
	rec  *recorder
	impl func(params ...uint64) ([]uint64, error)
}

func (f *fakeFunc) Call(_ context.Context, params ...uint64) ([]uint64, error) {
	f.rec.calls = append(f.rec.calls, recordedCall{name: f.name, params: append([]uint64(nil), params...)})
	if f.impl == nil {
		return nil, nil
	}
	return f.impl(params...)
}

func (r *recorder) fn(name string, impl func(params ...uint64) ([]uint64, error)) *fakeFunc {
	return &fakeFunc{name: name, rec: r, impl: impl}
}

func (r *recorder) names() []string {
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.name
	}
	return out
}

func (r *recorder) count(name string) int {
	n := 0
	for _, c := range r.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

// bumpAlloc hands out consecutive offsets starting at next.
func bumpAlloc(next uint64) func(params ...uint64) ([]uint64, error) {
	return func(params ...uint64) ([]uint64, error) {
		off := next
		next += params[0]
		return []uint64{off}, nil
	}
}

func constAlloc(off uint64) func(params ...uint64) ([]uint64, error) {
	return func(...uint64) ([]uint64, error) {
		return []uint64{off}, nil
	}
}

var errTrap = errors.New("unreachable executed")

func trap(...uint64) ([]uint64, error) {
	return nil, errTrap
}

func newTestBridge(t *testing.T, mem *sliceMemory, rec *recorder, alloc func(...uint64) ([]uint64, error)) *Bridge {
	t.Helper()
	return NewBridge(mem, rec.fn("alloc", alloc), rec.fn("free", nil), zaptest.NewLogger(t))
}

type fakeEnv struct {
	messages []string
	w, h     uint64
	x, y     uint64
}

func (e *fakeEnv) Debug(msg string)            { e.messages = append(e.messages, msg) }
func (e *fakeEnv) WindowSize() (uint64, uint64) { return e.w, e.h }
func (e *fakeEnv) MousePos() (uint64, uint64)   { return e.x, e.y }
