package wasm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/woxQAQ/pixelhost/pkg/abi"
)

// ValueClass is the loose type class a guest export parameter is checked
// against. Integer slots accept i32 or i64 so guests built with a 32-bit
// size_t still link.
type ValueClass int

const (
	ClassNone ValueClass = iota
	ClassInt
	ClassF32
	ClassF64
)

func (c ValueClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassInt:
		return "int"
	case ClassF32:
		return "f32"
	case ClassF64:
		return "f64"
	default:
		return "unknown"
	}
}

func classOf(t api.ValueType) ValueClass {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64:
		return ClassInt
	case api.ValueTypeF32:
		return ClassF32
	case api.ValueTypeF64:
		return ClassF64
	default:
		return ClassNone
	}
}

// Exports is the guest's capability set. Required entry points are always
// set; an optional one is nil when the guest does not export it, which means
// the matching event class is ignored. It is resolved once at instantiation.
type Exports struct {
	Alloc Func
	Free  Func
	Draw  Func

	Init               Func
	Deinit             Func
	Update             Func
	OnMouseEvent       Func
	OnMouseScrollEvent Func
	OnKeyEvent         Func

	// UpdateArg is ClassNone for update(), or the class of its single
	// elapsed-milliseconds parameter.
	UpdateArg ValueClass

	// ScrollArg is ClassF32 or ClassF64.
	ScrollArg ValueClass
}

// Capabilities lists the optional entry points present, sorted.
func (e *Exports) Capabilities() []string {
	var caps []string
	for name, fn := range map[string]Func{
		abi.ExportInit:               e.Init,
		abi.ExportDeinit:             e.Deinit,
		abi.ExportUpdate:             e.Update,
		abi.ExportOnMouseEvent:       e.OnMouseEvent,
		abi.ExportOnMouseScrollEvent: e.OnMouseScrollEvent,
		abi.ExportOnKeyEvent:         e.OnKeyEvent,
	} {
		if fn != nil {
			caps = append(caps, name)
		}
	}
	sort.Strings(caps)
	return caps
}

// signature is an expected export shape. Alternatives are tried in order.
type signature struct {
	params  [][]ValueClass
	results []ValueClass
}

var (
	ints1 = []ValueClass{ClassInt}
	ints2 = []ValueClass{ClassInt, ClassInt}
	ints3 = []ValueClass{ClassInt, ClassInt, ClassInt}
	ints4 = []ValueClass{ClassInt, ClassInt, ClassInt, ClassInt}
)

var requiredExports = []string{abi.ExportAlloc, abi.ExportFree, abi.ExportDraw}

var signatures = map[string]signature{
	abi.ExportAlloc:              {params: [][]ValueClass{ints1}, results: ints1},
	abi.ExportFree:               {params: [][]ValueClass{ints2}},
	abi.ExportDraw:               {params: [][]ValueClass{ints3}},
	abi.ExportInit:               {params: [][]ValueClass{{}}},
	abi.ExportDeinit:             {params: [][]ValueClass{{}}},
	abi.ExportUpdate:             {params: [][]ValueClass{{}, ints1, {ClassF64}, {ClassF32}}},
	abi.ExportOnMouseEvent:       {params: [][]ValueClass{ints4}},
	abi.ExportOnMouseScrollEvent: {params: [][]ValueClass{{ClassF64}, {ClassF32}}},
	abi.ExportOnKeyEvent:         {params: [][]ValueClass{ints3}},
}

func classesOf(types []api.ValueType) []ValueClass {
	out := make([]ValueClass, len(types))
	for i, t := range types {
		out[i] = classOf(t)
	}
	return out
}

func sameClasses(a, b []ValueClass) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatTypes(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		parts := make([]string, len(ts))
		for i, t := range ts {
			parts[i] = api.ValueTypeName(t)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", names(params), names(results))
}

func (s signature) String() string {
	alts := make([]string, len(s.params))
	for i, p := range s.params {
		alts[i] = fmt.Sprintf("%d params", len(p))
	}
	return fmt.Sprintf("%s with %d result(s)", strings.Join(alts, " or "), len(s.results))
}

// checkSignature validates def against the shape expected for name and
// returns the class of the first parameter (used by update and scroll).
func checkSignature(name string, def api.FunctionDefinition) (ValueClass, error) {
	sig, ok := signatures[name]
	if !ok {
		return ClassNone, fmt.Errorf("unknown export %q", name)
	}
	params := classesOf(def.ParamTypes())
	results := classesOf(def.ResultTypes())

	if sameClasses(results, sig.results) {
		for _, want := range sig.params {
			if sameClasses(params, want) {
				if len(params) == 0 {
					return ClassNone, nil
				}
				return params[0], nil
			}
		}
	}
	return ClassNone, &SignatureError{
		FunctionName: name,
		Want:         sig.String(),
		Got:          formatTypes(def.ParamTypes(), def.ResultTypes()),
	}
}

// Description summarizes a compiled guest without instantiating it.
type Description struct {
	Required     []string
	Optional     []string
	Missing      []string
	Invalid      map[string]error
	Imports      []string
	MemoryMin    uint32
	MemoryMax    uint32
	HasMemoryMax bool
}

// Describe inspects the exports, imports and memory of a compiled module.
func Describe(compiled *CompiledModule) Description {
	d := Description{Invalid: map[string]error{}}
	funcs := compiled.Module.ExportedFunctions()

	for _, name := range requiredExports {
		def, ok := funcs[name]
		if !ok {
			d.Missing = append(d.Missing, name)
			continue
		}
		if _, err := checkSignature(name, def); err != nil {
			d.Invalid[name] = err
			continue
		}
		d.Required = append(d.Required, name)
	}

	for name := range signatures {
		if isRequired(name) {
			continue
		}
		def, ok := funcs[name]
		if !ok {
			continue
		}
		if _, err := checkSignature(name, def); err != nil {
			d.Invalid[name] = err
			continue
		}
		d.Optional = append(d.Optional, name)
	}
	sort.Strings(d.Optional)

	for _, def := range compiled.Module.ImportedFunctions() {
		module, name, _ := def.Import()
		d.Imports = append(d.Imports, module+"."+name)
	}
	sort.Strings(d.Imports)

	mems := compiled.Module.ExportedMemories()
	if len(mems) == 0 {
		for _, m := range compiled.Module.ImportedMemories() {
			mems = map[string]api.MemoryDefinition{"": m}
			break
		}
	}
	for _, m := range mems {
		d.MemoryMin = m.Min()
		d.MemoryMax, d.HasMemoryMax = m.Max()
		break
	}
	return d
}

func isRequired(name string) bool {
	for _, r := range requiredExports {
		if r == name {
			return true
		}
	}
	return false
}
