package guest

import "unsafe"

// pinTable keeps allocations handed to the host reachable until they are
// freed, so the collector cannot reclaim memory the host is writing into.
type pinTable struct {
	pins map[uintptr][]byte
}

func newPinTable() *pinTable {
	return &pinTable{pins: make(map[uintptr][]byte)}
}

// alloc returns the address of a fresh zeroed buffer, or 0 for a zero size.
func (p *pinTable) alloc(size uint64) uintptr {
	if size == 0 || size > uint64(^uint32(0)) {
		return 0
	}
	buf := make([]byte, size)
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	p.pins[ptr] = buf
	return ptr
}

// free unpins the buffer at ptr. Unknown pointers are ignored.
func (p *pinTable) free(ptr uintptr) bool {
	if _, ok := p.pins[ptr]; !ok {
		return false
	}
	delete(p.pins, ptr)
	return true
}

// bytes returns the first size bytes of the pinned buffer at ptr.
func (p *pinTable) bytes(ptr uintptr, size uint64) ([]byte, bool) {
	buf, ok := p.pins[ptr]
	if !ok || size > uint64(len(buf)) {
		return nil, false
	}
	return buf[:size], true
}

func (p *pinTable) len() int {
	return len(p.pins)
}
