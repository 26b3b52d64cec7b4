package wasm

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// LinearMemory is the part of wazero's api.Memory the bridge relies on.
// Read must return a view into the memory, not a copy.
type LinearMemory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
}

// Func is a guest export. Calls through an Instance are already classified:
// a failed call returns a *Fault.
type Func interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Bridge is the single choke point between host code and guest memory.
// Every (offset, length) pair coming from or going to the guest is resolved
// here, against the current memory generation.
//
// Guest memory may move when it grows, so the bridge bumps its generation
// whenever it observes a size change, and a Region from an older generation
// refuses access. Resolve, use and drop a Region within one call.
type Bridge struct {
	mem   LinearMemory
	alloc Func
	free  Func

	size       uint32
	generation uint64

	logger *zap.Logger
}

// NewBridge creates the bridge for one instance's memory. alloc and free are
// the guest's allocator exports.
func NewBridge(mem LinearMemory, alloc, free Func, logger *zap.Logger) *Bridge {
	return &Bridge{
		mem:    mem,
		alloc:  alloc,
		free:   free,
		size:   mem.Size(),
		logger: logger.With(zap.String("component", "memory-bridge")),
	}
}

func (b *Bridge) refresh() {
	if size := b.mem.Size(); size != b.size {
		b.logger.Debug("Guest memory resized",
			zap.Uint32("old_size", b.size),
			zap.Uint32("new_size", size),
			zap.Uint64("generation", b.generation+1),
		)
		b.size = size
		b.generation++
	}
}

// Size returns the current memory size in bytes.
func (b *Bridge) Size() uint32 {
	b.refresh()
	return b.size
}

// Generation returns the current memory generation.
func (b *Bridge) Generation() uint64 {
	b.refresh()
	return b.generation
}

// Region is a bounds-checked span of guest memory valid for one generation.
type Region struct {
	Offset uint64
	Length uint64

	generation uint64
	bridge     *Bridge
}

// End returns the offset one past the region.
func (r Region) End() uint64 {
	return r.Offset + r.Length
}

// Resolve checks that [offset, offset+length) lies within guest memory.
func (b *Bridge) Resolve(offset, length uint64) (Region, error) {
	b.refresh()

	end := offset + length
	if end < offset || end > uint64(b.size) {
		return Region{}, &Fault{
			Kind: KindOutOfBounds,
			Call: "resolve",
			Err: &MemoryAccessError{
				Operation: "resolve",
				Address:   offset,
				Length:    length,
				Size:      b.size,
			},
		}
	}
	return Region{Offset: offset, Length: length, generation: b.generation, bridge: b}, nil
}

// Bytes returns a live view of the region. The view aliases guest memory
// and must not outlive the current call.
func (r Region) Bytes() ([]byte, error) {
	b := r.bridge
	if b == nil {
		return nil, newFault(KindOutOfBounds, "access", "region was never resolved")
	}
	b.refresh()
	if r.generation != b.generation {
		return nil, &Fault{
			Kind: KindOutOfBounds,
			Call: "access",
			Err: &MemoryAccessError{
				Operation: "access",
				Address:   r.Offset,
				Length:    r.Length,
				Size:      b.size,
				Err:       ErrStaleRegion,
			},
		}
	}
	buf, ok := b.mem.Read(uint32(r.Offset), uint32(r.Length))
	if !ok {
		return nil, &Fault{
			Kind: KindOutOfBounds,
			Call: "access",
			Err:  &MemoryAccessError{Operation: "read", Address: r.Offset, Length: r.Length, Size: b.size},
		}
	}
	return buf, nil
}

// Copy returns the region's bytes in a fresh host slice.
func (r Region) Copy() ([]byte, error) {
	view, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Write copies p to the start of the region. p must fit.
func (r Region) Write(p []byte) error {
	if uint64(len(p)) > r.Length {
		return newFault(KindOutOfBounds, "write", "%d bytes do not fit region of %d", len(p), r.Length)
	}
	view, err := r.Bytes()
	if err != nil {
		return err
	}
	copy(view, p)
	return nil
}

// ReadBytes resolves and copies a region in one step.
func (b *Bridge) ReadBytes(offset, length uint64) ([]byte, error) {
	r, err := b.Resolve(offset, length)
	if err != nil {
		return nil, err
	}
	return r.Copy()
}

// WriteUint64 stores v little-endian into the 8-byte slot at offset.
func (b *Bridge) WriteUint64(offset, v uint64) error {
	r, err := b.Resolve(offset, abi.SlotSize)
	if err != nil {
		return err
	}
	view, err := r.Bytes()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(view, v)
	return nil
}

// Allocate asks the guest allocator for size bytes and validates the answer.
// A zero result is an AllocationFailure; an offset outside memory is a
// ProtocolViolation; an in-bounds offset without room for size bytes is
// OutOfBounds.
func (b *Bridge) Allocate(ctx context.Context, size uint64) (Region, error) {
	if size == 0 {
		return Region{generation: b.Generation(), bridge: b}, nil
	}

	results, err := b.alloc.Call(ctx, size)
	if err != nil {
		return Region{}, asFault(abi.ExportAlloc, err)
	}
	if len(results) != 1 {
		return Region{}, newFault(KindProtocolViolation, abi.ExportAlloc,
			"alloc returned %d values, want 1", len(results))
	}

	offset := results[0]
	if offset == 0 {
		return Region{}, newFault(KindAllocationFailure, abi.ExportAlloc,
			"guest could not allocate %d bytes", size)
	}

	b.refresh()
	if offset >= uint64(b.size) {
		return Region{}, newFault(KindProtocolViolation, abi.ExportAlloc,
			"alloc returned offset %d outside memory of %d bytes", offset, b.size)
	}

	r, err := b.Resolve(offset, size)
	if err != nil {
		f := asFault(abi.ExportAlloc, err)
		f.Call = abi.ExportAlloc
		return Region{}, f
	}
	return r, nil
}

// Deallocate hands a region back to the guest allocator. The host checks the
// region is still in bounds and otherwise keeps no bookkeeping.
func (b *Bridge) Deallocate(ctx context.Context, r Region) error {
	if r.Length == 0 {
		return nil
	}
	if _, err := b.Resolve(r.Offset, r.Length); err != nil {
		f := asFault(abi.ExportFree, err)
		f.Call = abi.ExportFree
		return f
	}
	if _, err := b.free.Call(ctx, r.Offset, r.Length); err != nil {
		return asFault(abi.ExportFree, err)
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("[%d, %d) gen %d", r.Offset, r.End(), r.generation)
}
