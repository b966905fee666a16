// Package unsafehelpers centralises the few unavoidable uses of the
// `unsafe` standard-library package so the rest of corevm stays auditable.
// Every helper documents its pre/post-conditions.
//
// DISCLAIMER: these helpers deliberately step outside the Go memory-safety
// model for zero-allocation conversions. Use only inside this repository;
// they are not part of the public API and may change without notice.
//
// go:linkname-free, cgo-free, pure Go.
//
// © 2025 corevm authors. MIT License.
package unsafehelpers

import "unsafe"

/* -------------------------------------------------------------------------
   Zero-copy string/[]byte conversions
   ------------------------------------------------------------------------- */

// BytesToString converts a mutable byte slice to an immutable string
// without allocating. The caller must guarantee b is never modified for
// the lifetime of the resulting string.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes re-interprets string data as a byte slice without copying.
// The slice MUST remain read-only: writing to it mutates immutable string
// storage and is undefined behaviour.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

/* -------------------------------------------------------------------------
   Generic pointer -> slice helpers
   ------------------------------------------------------------------------- */

// ByteSliceFrom returns a []byte view of n elements of T starting at ptr,
// without copying. Used to hash a typed slice (e.g. []Flag) as raw bytes
// in one pass instead of looping element by element — the same trick the
// teacher's shard.hash applies to scalar keys.
func ByteSliceFrom[T any](ptr *T, n int) []byte {
	if n == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n*int(unsafe.Sizeof(zero)))
}

/* -------------------------------------------------------------------------
   Alignment helpers
   ------------------------------------------------------------------------- */

// AlignUp rounds x up to the nearest multiple of align (which must be a
// power of two).
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && (x&(x-1)) == 0
}
