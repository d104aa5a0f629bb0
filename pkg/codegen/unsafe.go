package codegen

import (
	"strings"

	"github.com/chazu/carcinize/pkg/mir"
)

// Reason names the rule that put a statement in an unsafe region.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonForeignCall         Reason = "foreign-call"
	ReasonRawAllocation       Reason = "raw-allocation"
	ReasonRawDeallocation     Reason = "raw-deallocation"
	ReasonPointerManipulation Reason = "pointer-manipulation"
	ReasonFFICall             Reason = "ffi-call"
	ReasonRawPointer          Reason = "raw-pointer"
)

// NeedsUnsafe reports whether stmt must be rendered in an unsafe block.
// The classification is syntactic and conservative.
func NeedsUnsafe(stmt mir.Statement) bool {
	return UnsafeReason(stmt) != ReasonNone
}

// UnsafeReason returns the rule that classifies stmt as unsafe, or ReasonNone.
// Foreign calls are those the builder qualified with mir.ForeignPrefix.
func UnsafeReason(stmt mir.Statement) Reason {
	switch s := stmt.(type) {
	case *mir.Call:
		if r := calleeReason(s.Callee); r != ReasonNone {
			return r
		}
		if s.Target != nil && placeTakesAddress(s.Target) {
			return ReasonRawPointer
		}
		for _, a := range s.Args {
			if takesAddress(a) {
				return ReasonRawPointer
			}
		}
	case *mir.Assign:
		if takesAddress(s.Value) || placeTakesAddress(s.Target) {
			return ReasonRawPointer
		}
	}
	return ReasonNone
}

func calleeReason(callee string) Reason {
	switch {
	case isForeign(callee):
		return ReasonForeignCall
	case strings.Contains(callee, "alloc"):
		return ReasonRawAllocation
	case strings.Contains(callee, "free"):
		return ReasonRawDeallocation
	case strings.Contains(callee, "ptr"),
		strings.Contains(callee, "memcpy"),
		strings.Contains(callee, "memmove"),
		strings.Contains(callee, "memset"):
		return ReasonPointerManipulation
	case strings.Contains(callee, "ffi"):
		return ReasonFFICall
	}
	return ReasonNone
}

func isForeign(callee string) bool {
	return strings.HasPrefix(callee, mir.ForeignPrefix)
}

// takesAddress reports whether v contains an AddressOf anywhere.
func takesAddress(v mir.RValue) bool {
	switch x := v.(type) {
	case *mir.AddressOf:
		return true
	case *mir.BinaryOp:
		return takesAddress(x.Left) || takesAddress(x.Right)
	case *mir.UnaryOp:
		return takesAddress(x.Operand)
	case *mir.Use:
		return placeTakesAddress(x.Place)
	}
	return false
}

func placeTakesAddress(p mir.LValue) bool {
	if d, ok := p.(*mir.Deref); ok {
		return takesAddress(d.Ptr)
	}
	return false
}
