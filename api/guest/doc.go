// Package guest is the guest side of the pixelhost ABI for Go programs
// compiled with GOOS=wasip1 GOARCH=wasm -buildmode=c-shared.
//
// It declares the host imports and exports the alloc and free functions the
// host uses to obtain guest memory. A guest program exports its own entry
// points, at minimum draw and update:
//
//	//go:wasmexport draw
//	func draw(buf, width, height uint64) {
//		pix := guest.Frame(buf, width, height)
//		...
//	}
//
// Go guests need the host's WASI support (wasm.wasi: true).
package guest
