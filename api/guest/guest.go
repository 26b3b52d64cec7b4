//go:build wasip1

package guest

import (
	"unsafe"

	"github.com/woxQAQ/pixelhost/pkg/abi"
)

//go:wasmimport env debug
func hostDebug(ptr, length uint64)

//go:wasmimport env get_window_size
func hostGetWindowSize(widthPtr, heightPtr uint64)

//go:wasmimport env get_mouse_pos
func hostGetMousePos(xPtr, yPtr uint64)

var heap = newPinTable()

// slots receives the results of the size and position queries.
var slots [2]uint64

//go:wasmexport alloc
func alloc(size uint64) uint64 {
	return uint64(heap.alloc(size))
}

//go:wasmexport free
func free(ptr, size uint64) {
	heap.free(uintptr(ptr))
}

// Debug sends msg to the host log.
func Debug(msg string) {
	if msg == "" {
		return
	}
	hostDebug(uint64(uintptr(unsafe.Pointer(unsafe.StringData(msg)))), uint64(len(msg)))
}

// WindowSize returns the current display size in pixels.
func WindowSize() (width, height uint64) {
	hostGetWindowSize(slotAddr(0), slotAddr(1))
	return slots[0], slots[1]
}

// MousePos returns the last known pointer position.
func MousePos() (x, y uint64) {
	hostGetMousePos(slotAddr(0), slotAddr(1))
	return slots[0], slots[1]
}

func slotAddr(i int) uint64 {
	return uint64(uintptr(unsafe.Pointer(&slots[i])))
}

// Frame returns the draw buffer passed to draw as a byte slice with
// abi.BytesPerPixel bytes per pixel in R, G, B, A order.
func Frame(buf, width, height uint64) []byte {
	n, ok := abi.FrameLen(width, height)
	if !ok || n == 0 {
		return nil
	}
	if b, ok := heap.bytes(uintptr(buf), n); ok {
		return b
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(buf))), n)
}

// KeyName decodes the key name passed to on_key_event.
func KeyName(ptr, length uint64) string {
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length))
}
