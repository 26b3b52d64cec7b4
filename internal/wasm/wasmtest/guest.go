// Package wasmtest assembles small guest binaries for tests, so real
// guests can run through wazero without a compiler for the guest side.
package wasmtest

const (
	valI32 byte = 0x7f
	valI64 byte = 0x7e
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func vec(items ...[]byte) []byte {
	return cat(uleb(uint64(len(items))), cat(items...))
}

func wname(s string) []byte {
	return cat(uleb(uint64(len(s))), []byte(s))
}

func section(id byte, payload []byte) []byte {
	return cat([]byte{id}, uleb(uint64(len(payload))), payload)
}

func functype(params, results []byte) []byte {
	return cat([]byte{0x60}, uleb(uint64(len(params))), params, uleb(uint64(len(results))), results)
}

// I64Const, I32Const, LocalGet and Call encode one instruction each.
func I64Const(v int64) []byte  { return cat([]byte{0x42}, sleb(v)) }
func I32Const(v int32) []byte  { return cat([]byte{0x41}, sleb(int64(v))) }
func LocalGet(i uint32) []byte { return cat([]byte{0x20}, uleb(uint64(i))) }
func Call(i uint32) []byte     { return cat([]byte{0x10}, uleb(uint64(i))) }

const (
	OpEnd         = 0x0b
	OpUnreachable = 0x00
)

// Func is one exported guest function.
type Func struct {
	Name string
	Type uint32
	Body []byte
}

// Guest is a module with one exported page of memory, a heap pointer global
// at 1024 and the given imports, functions and data segments.
type Guest struct {
	// Imports are from env and share TypePair.
	Imports []string
	Funcs   []Func
	Data    map[int32]string
}

const (
	TypePair    = 0 // (i64, i64) -> ()
	TypeAlloc   = 1 // (i64) -> (i64)
	TypeTriple  = 2 // (i64, i64, i64) -> ()
	TypeVoid    = 3 // () -> ()
	TypeKey     = 4 // (i32, i64, i64) -> ()
	TypeF64     = 5 // (f64) -> ()
	TypeAlloc32 = 6 // (i32) -> (i32)
)

// Paint exports the full entry point set. init logs "hello", deinit
// logs "bye", on_key_event echoes the key name, draw stores one pixel
// 0xFF0000FF at the start of the buffer and alloc bumps a heap pointer
// starting at 1024.
func Paint() *Guest {
	const debug = 0
	return &Guest{
		Imports: []string{"debug", "get_window_size"},
		Data:    map[int32]string{16: "hello", 32: "bye"},
		Funcs: []Func{
			{"alloc", TypeAlloc, cat(
				[]byte{0x23, 0x00, 0xad},  // global.get 0; i64.extend_i32_u
				[]byte{0x23, 0x00},        // global.get 0
				LocalGet(0), []byte{0xa7}, // i32.wrap_i64
				[]byte{0x6a, 0x24, 0x00},  // i32.add; global.set 0
			)},
			{"free", TypePair, nil},
			{"draw", TypeTriple, cat(
				LocalGet(0), []byte{0xa7},
				I32Const(-16776961),      // 0xFF0000FF
				[]byte{0x36, 0x02, 0x00}, // i32.store align=2 offset=0
			)},
			{"init", TypeVoid, cat(I64Const(16), I64Const(5), Call(debug))},
			{"update", TypeVoid, cat(I64Const(0), I64Const(8), Call(1))},
			{"deinit", TypeVoid, cat(I64Const(32), I64Const(3), Call(debug))},
			{"on_key_event", TypeKey, cat(LocalGet(1), LocalGet(2), Call(debug))},
		},
	}
}

// Without drops the named function.
func (g *Guest) Without(name string) *Guest {
	out := *g
	out.Funcs = nil
	for _, f := range g.Funcs {
		if f.Name != name {
			out.Funcs = append(out.Funcs, f)
		}
	}
	return &out
}

// Replace swaps in fn, adding it if absent.
func (g *Guest) Replace(fn Func) *Guest {
	out := g.Without(fn.Name)
	out.Funcs = append(out.Funcs, fn)
	return out
}

// Binary encodes the module.
func (g *Guest) Binary() []byte {
	types := section(1, vec(
		functype([]byte{valI64, valI64}, nil),
		functype([]byte{valI64}, []byte{valI64}),
		functype([]byte{valI64, valI64, valI64}, nil),
		functype(nil, nil),
		functype([]byte{valI32, valI64, valI64}, nil),
		functype([]byte{0x7c}, nil),
		functype([]byte{valI32}, []byte{valI32}),
	))

	var imports [][]byte
	for _, name := range g.Imports {
		imports = append(imports, cat(wname("env"), wname(name), []byte{0x00}, uleb(TypePair)))
	}

	var funcIdx, exports, bodies [][]byte
	exports = append(exports, cat(wname("memory"), []byte{0x02, 0x00}))
	for i, f := range g.Funcs {
		funcIdx = append(funcIdx, uleb(uint64(f.Type)))
		exports = append(exports, cat(wname(f.Name), []byte{0x00}, uleb(uint64(len(g.Imports)+i))))
		body := cat([]byte{0x00}, f.Body, []byte{OpEnd}) // no locals
		bodies = append(bodies, cat(uleb(uint64(len(body))), body))
	}

	var segments [][]byte
	for off, s := range g.Data {
		segments = append(segments, cat([]byte{0x00}, I32Const(off), []byte{OpEnd}, wname(s)))
	}

	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		types,
		section(2, vec(imports...)),
		section(3, vec(funcIdx...)),
		section(5, vec([]byte{0x00, 0x01})), // one page, no max
		section(6, vec(cat([]byte{valI32, 0x01}, I32Const(1024), []byte{OpEnd}))),
		section(7, vec(exports...)),
		section(10, vec(bodies...)),
		section(11, vec(segments...)),
	)
}
