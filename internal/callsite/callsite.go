// Package callsite describes call shapes — argument kinds, named
// arguments, flattening — and interns them so that equivalent shapes
// collapse onto one shared, immutable representative. Dispatch and JIT
// caches elsewhere in the VM key on the resulting pointer identity.
//
// A Callsite is mutable clay until it is interned (Callsite.IsInterned);
// afterwards it is owned by the Interner and must never be mutated or
// destroyed by anything else.
//
// © 2025 corevm authors. MIT License.
package callsite

import (
	"go.uber.org/zap"

	"github.com/quillvm/core/internal/vmfatal"
)

// Flag is one of the closed set of argument-shape tags. Bit values are an
// internal detail but stable across a build: FlagNamed is OR'd onto a
// base type tag (e.g. FlagObj|FlagNamed) so a flag byte is
// self-describing even though num_pos already encodes the positional/
// named split at the callsite level.
type Flag uint8

const (
	FlagObj Flag = 1 << iota
	FlagInt
	FlagNum
	FlagStr
	FlagFlattenPos
	FlagFlattenNamed
	FlagNamed
)

// InternArityLimit bounds the arities the interner handles: only callsites
// with fewer than InternArityLimit flags are interned. The common-callsite
// table itself tops out well below this.
const InternArityLimit = 8

// Callsite describes one call shape.
type Callsite struct {
	ArgFlags []Flag
	// NumPos is the count of leading positional entries in ArgFlags; the
	// remainder (len(ArgFlags)-NumPos) are named, in the same order as
	// ArgNames.
	NumPos uint16
	// ArgCount is the argument count expanded at the call site, which
	// can exceed len(ArgFlags) when flattening is in play.
	ArgCount uint16
	// ArgNames holds one interned-from-the-VM's-perspective string per
	// named entry; nil exactly when there are no nameds.
	ArgNames      []string
	HasFlattening bool
	IsInterned    bool
	// WithInvocant is an owned companion descriptor for the same
	// callsite prefixed with an invocant. It is a strict tree (never a
	// DAG) while non-interned; once interned it is additionally owned
	// by the Interner, same as its parent.
	WithInvocant *Callsite
}

// Arity is the flag count — the dimension the interner buckets on.
func (cs *Callsite) Arity() int { return len(cs.ArgFlags) }

// NumNameds is the count of named entries.
func (cs *Callsite) NumNameds() int { return len(cs.ArgFlags) - int(cs.NumPos) }

// Copy produces an independent, mutable, non-interned clone: ArgFlags,
// ArgNames, and WithInvocant are deep-copied.
func (cs *Callsite) Copy() *Callsite {
	out := &Callsite{
		NumPos:        cs.NumPos,
		ArgCount:      cs.ArgCount,
		HasFlattening: cs.HasFlattening,
	}
	if len(cs.ArgFlags) > 0 {
		out.ArgFlags = append([]Flag(nil), cs.ArgFlags...)
	}
	if cs.ArgNames != nil {
		out.ArgNames = append([]string(nil), cs.ArgNames...)
	}
	if cs.WithInvocant != nil {
		out.WithInvocant = cs.WithInvocant.Copy()
	}
	return out
}

// Destroy releases a non-interned descriptor's owned storage, recursing
// into WithInvocant. Callers must never destroy an interned descriptor —
// it is owned by the Interner for the life of the process.
func (cs *Callsite) Destroy() {
	if cs.IsInterned {
		vmfatal.Fatal("callsite: attempted to destroy an interned callsite")
		return
	}
	if cs.WithInvocant != nil {
		cs.WithInvocant.Destroy()
	}
	cs.ArgFlags = nil
	cs.ArgNames = nil
	cs.WithInvocant = nil
}

/* -------------------------------------------------------------------------
   Common callsite table
   ------------------------------------------------------------------------- */

// CommonID enumerates the call shapes used most often by dispatch.
type CommonID uint8

const (
	IDZeroArity CommonID = iota
	IDObj
	IDObjObj
	IDObjInt
	IDObjNum
	IDObjStr
	IDIntInt
	IDObjObjStr
	IDObjObjObj

	numCommonIDs
)

var commonTable = [numCommonIDs]*Callsite{
	IDZeroArity: {ArgFlags: nil, NumPos: 0, ArgCount: 0},
	IDObj:       {ArgFlags: []Flag{FlagObj}, NumPos: 1, ArgCount: 1},
	IDObjObj:    {ArgFlags: []Flag{FlagObj, FlagObj}, NumPos: 2, ArgCount: 2},
	IDObjInt:    {ArgFlags: []Flag{FlagObj, FlagInt}, NumPos: 2, ArgCount: 2},
	IDObjNum:    {ArgFlags: []Flag{FlagObj, FlagNum}, NumPos: 2, ArgCount: 2},
	IDObjStr:    {ArgFlags: []Flag{FlagObj, FlagStr}, NumPos: 2, ArgCount: 2},
	IDIntInt:    {ArgFlags: []Flag{FlagInt, FlagInt}, NumPos: 2, ArgCount: 2},
	IDObjObjStr: {ArgFlags: []Flag{FlagObj, FlagObj, FlagStr}, NumPos: 3, ArgCount: 3},
	IDObjObjObj: {ArgFlags: []Flag{FlagObj, FlagObj, FlagObj}, NumPos: 3, ArgCount: 3},
}

// GetCommon returns the shared descriptor for id. An unknown id is a
// programmer error.
func GetCommon(id CommonID) *Callsite {
	if id >= numCommonIDs {
		vmfatal.Fatal("callsite: unknown common callsite id", zap.Uint8("id", uint8(id)))
		return nil
	}
	return commonTable[id]
}

// IsCommon reports whether cs is one of the statically allocated common
// descriptors, by pointer identity.
func IsCommon(cs *Callsite) bool {
	for _, c := range commonTable {
		if c == cs {
			return true
		}
	}
	return false
}
