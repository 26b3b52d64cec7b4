package wasm

import (
	"errors"
	"fmt"
	"time"
)

// FaultKind classifies what went wrong on the guest boundary.
type FaultKind int

const (
	// KindOutOfBounds: a resolved region exceeds guest memory.
	KindOutOfBounds FaultKind = iota + 1
	// KindProtocolViolation: the guest broke the calling convention.
	KindProtocolViolation
	// KindGuestTrap: guest code faulted during a call.
	KindGuestTrap
	// KindAllocationFailure: the guest allocator could not satisfy a request.
	KindAllocationFailure
)

var (
	ErrOutOfBounds       = errors.New("out of bounds")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrGuestTrap         = errors.New("guest trap")
	ErrAllocationFailure = errors.New("allocation failure")

	// ErrStaleRegion is wrapped by an OutOfBounds fault when a region is used
	// after guest memory changed size.
	ErrStaleRegion = errors.New("stale memory region")

	// ErrFinalized is returned for any guest call attempted after the
	// instance reached the finalized state.
	ErrFinalized = errors.New("instance finalized")
)

func (k FaultKind) String() string {
	switch k {
	case KindOutOfBounds:
		return "out_of_bounds"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindGuestTrap:
		return "guest_trap"
	case KindAllocationFailure:
		return "allocation_failure"
	default:
		return "unknown"
	}
}

func (k FaultKind) sentinel() error {
	switch k {
	case KindOutOfBounds:
		return ErrOutOfBounds
	case KindProtocolViolation:
		return ErrProtocolViolation
	case KindGuestTrap:
		return ErrGuestTrap
	case KindAllocationFailure:
		return ErrAllocationFailure
	default:
		return nil
	}
}

// Fault is a structured guest failure: its kind and the guest call or host
// operation that triggered it.
type Fault struct {
	Kind FaultKind
	Call string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s during %s: %v", f.Kind, f.Call, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches the sentinel of the fault's kind, so errors.Is(err,
// ErrProtocolViolation) works on any wrapped fault.
func (f *Fault) Is(target error) bool {
	return target != nil && target == f.Kind.sentinel()
}

func newFault(kind FaultKind, call string, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Call: call, Err: fmt.Errorf(format, args...)}
}

// asFault returns the fault inside err, or classifies err as a trap of call.
func asFault(call string, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: KindGuestTrap, Call: call, Err: err}
}

// KindOf returns the kind of the fault wrapped in err, or 0.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// IsFault reports whether err wraps a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile guest module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate guest '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

// FunctionNotFoundError occurs when a required guest export is missing
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("required export '%s' not found in module '%s'",
		e.FunctionName, e.ModuleName)
}

// SignatureError occurs when a guest export has the wrong shape
type SignatureError struct {
	FunctionName string
	Want         string
	Got          string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("export '%s' has signature %s, want %s", e.FunctionName, e.Got, e.Want)
}

// MemoryAccessError describes a rejected guest memory access
type MemoryAccessError struct {
	Operation string
	Address   uint64
	Length    uint64
	Size      uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	msg := fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d, size=%d)",
		e.Operation, e.Address, e.Length, e.Size)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// HostFunctionError records a host function that degraded instead of
// faulting. It is logged, never returned to the guest.
type HostFunctionError struct {
	FunctionName string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function '%s' failed: %v", e.FunctionName, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

// TimeoutError occurs when a guest call exceeds its deadline
type TimeoutError struct {
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("guest call timed out after %v", e.Duration)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
