package callsite

import (
	"hash/maphash"
	"sync"

	"go.uber.org/zap"

	"github.com/quillvm/core/internal/indexhash"
	"github.com/quillvm/core/internal/unsafehelpers"
	"github.com/quillvm/core/internal/vmfatal"
)

// StringEqualFunc is the deep string-equality predicate the interner
// consults when comparing ArgNames. Go strings are immutable values, so
// plain `==` already is deep content equality; the hook exists so a
// caller embedding a different string representation (e.g. one with its
// own interning and a cheaper identity check) can plug that in instead.
type StringEqualFunc func(a, b string) bool

// DefaultStringEqual compares string content directly.
func DefaultStringEqual(a, b string) bool { return a == b }

// Interner canonicalises Callsite values so that equivalent shapes share
// one representative pointer. Buckets are indexed by arity
// (0..InternArityLimit-1); within a bucket, an indexhash.Table keyed on
// the descriptor's content hash narrows a lookup to the handful of
// candidates that could possibly be equal, and callsitesEqual makes the
// final call — the "linear search for an equal descriptor" the design
// describes, scoped to a hash bucket instead of the whole arity slice.
type Interner struct {
	mu          sync.Mutex
	buckets     [InternArityLimit][]*Callsite
	tables      [InternArityLimit]*indexhash.Table
	stringEqual StringEqualFunc
	hashSeed    maphash.Seed
}

// NewInterner constructs an empty interner. A nil stringEqual defaults to
// DefaultStringEqual.
func NewInterner(stringEqual StringEqualFunc) *Interner {
	if stringEqual == nil {
		stringEqual = DefaultStringEqual
	}
	return &Interner{
		stringEqual: stringEqual,
		hashSeed:    maphash.MakeSeed(),
	}
}

func (in *Interner) contentHash(cs *Callsite) uint64 {
	var h maphash.Hash
	h.SetSeed(in.hashSeed)
	if len(cs.ArgFlags) > 0 {
		// One Write over the whole flag slice's raw bytes, rather than a
		// WriteByte loop — the same "treat the value as a byte slice"
		// trick the teacher's shard.hash uses for scalar keys.
		_, _ = h.Write(unsafehelpers.ByteSliceFrom(&cs.ArgFlags[0], len(cs.ArgFlags)))
	}
	for _, n := range cs.ArgNames {
		_, _ = h.WriteString(n)
		_ = h.WriteByte(0) // separator: disambiguate ("ab","c") from ("a","bc")
	}
	return h.Sum64()
}

// bucketSource adapts one arity bucket of the interner to indexhash.Source,
// always re-reading the live slice so growth/append reallocation of the
// bucket never leaves it hashing stale data.
type bucketSource struct {
	in    *Interner
	arity int
}

func (b bucketSource) Hash(idx uint32) uint64 {
	return b.in.contentHash(b.in.buckets[b.arity][idx])
}

func (in *Interner) tableFor(arity int) *indexhash.Table {
	if in.tables[arity] == nil {
		in.tables[arity] = indexhash.Build(0)
	}
	return in.tables[arity]
}

// appendToBucket grows the bucket slice in fixed chunks of
// InternArityLimit, mirroring the reference interner's realloc chunking,
// rather than relying on append's doubling growth policy.
func (in *Interner) appendToBucket(arity int, cs *Callsite) uint32 {
	b := in.buckets[arity]
	if len(b) == cap(b) {
		grown := make([]*Callsite, len(b), cap(b)+InternArityLimit)
		copy(grown, b)
		b = grown
	}
	b = append(b, cs)
	in.buckets[arity] = b
	return uint32(len(b) - 1)
}

func callsitesEqual(a, b *Callsite, eq StringEqualFunc) bool {
	if len(a.ArgFlags) != len(b.ArgFlags) {
		return false
	}
	for i := range a.ArgFlags {
		if a.ArgFlags[i] != b.ArgFlags[i] {
			return false
		}
	}
	if len(a.ArgNames) != len(b.ArgNames) {
		return false
	}
	for i := range a.ArgNames {
		if !eq(a.ArgNames[i], b.ArgNames[i]) {
			return false
		}
	}
	return true
}

// TryIntern attempts to canonicalise *csPtr. On a hit, the caller's
// descriptor is freed (its flags/names dropped so a stray reference can't
// mutate shared state) and *csPtr is replaced with the interned pointer.
// On a miss, the caller's descriptor becomes the interned representative
// in place — *csPtr is unchanged as a pointer, only IsInterned flips.
// Flattening callsites, over-arity callsites, and callsites with nameds
// but no ArgNames are left untouched (silent no-op), per the spec's
// non-interning edge cases.
func (in *Interner) TryIntern(csPtr **Callsite) {
	cs := *csPtr
	if cs.HasFlattening {
		return
	}
	arity := cs.Arity()
	if arity >= InternArityLimit {
		return
	}
	if cs.NumNameds() > 0 && cs.ArgNames == nil {
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	h := in.contentHash(cs)
	bucket := in.buckets[arity]
	if idx, found := in.tableFor(arity).Lookup(h, func(i uint32) bool {
		return callsitesEqual(bucket[i], cs, in.stringEqual)
	}); found {
		match := bucket[idx]
		cs.ArgFlags = nil
		cs.ArgNames = nil
		*csPtr = match
		return
	}

	cs.IsInterned = true
	newIdx := in.appendToBucket(arity, cs)
	in.tableFor(arity).InsertNoCheck(bucketSource{in: in, arity: arity}, newIdx)
	*csPtr = cs
}

// BucketLen returns the number of distinct descriptors interned at the
// given arity, for diagnostics. It takes the same lock TryIntern does, so
// callers should not poll it from a hot path.
func (in *Interner) BucketLen(arity int) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if arity < 0 || arity >= InternArityLimit {
		return 0
	}
	return len(in.buckets[arity])
}

// InitializeCommon interns every statically allocated common callsite so
// later intern attempts for equivalent dynamic shapes collapse onto these
// same pointers. Each static descriptor is the first (and only) of its
// content shape, so interning it in place just flips IsInterned — the
// pointer identity callers get from GetCommon never changes.
func (in *Interner) InitializeCommon() {
	for i := CommonID(0); i < numCommonIDs; i++ {
		ptr := commonTable[i]
		in.TryIntern(&ptr)
		if ptr != commonTable[i] {
			vmfatal.Fatal("callsite: common callsite unexpectedly re-pointed during init",
				zap.Uint8("id", uint8(i)))
		}
	}
}

/* -------------------------------------------------------------------------
   Positional transforms
   ------------------------------------------------------------------------- */

func copyNameds(to, from *Callsite) {
	if from.ArgNames != nil {
		to.ArgNames = append([]string(nil), from.ArgNames...)
	}
}

// DropPositional returns a new interned-if-possible descriptor equal to
// cs with the positional argument at idx removed.
func (in *Interner) DropPositional(cs *Callsite, idx uint32) *Callsite {
	if idx >= uint32(cs.NumPos) {
		vmfatal.Fatal("callsite: drop_positional index out of range", zap.Uint32("idx", idx))
		return nil
	}
	if cs.HasFlattening {
		vmfatal.Fatal("callsite: cannot transform a callsite with flattening args")
		return nil
	}

	out := &Callsite{
		NumPos:   cs.NumPos - 1,
		ArgCount: cs.ArgCount - 1,
		ArgFlags: make([]Flag, 0, len(cs.ArgFlags)-1),
	}
	for i, f := range cs.ArgFlags {
		if uint32(i) != idx {
			out.ArgFlags = append(out.ArgFlags, f)
		}
	}
	copyNameds(out, cs)

	in.TryIntern(&out)
	return out
}

// InsertPositional returns a new interned-if-possible descriptor equal to
// cs with flag inserted as a new positional argument at idx.
func (in *Interner) InsertPositional(cs *Callsite, idx uint32, flag Flag) *Callsite {
	if idx > uint32(cs.NumPos) {
		vmfatal.Fatal("callsite: insert_positional index out of range", zap.Uint32("idx", idx))
		return nil
	}
	if cs.HasFlattening {
		vmfatal.Fatal("callsite: cannot transform a callsite with flattening args")
		return nil
	}

	out := &Callsite{
		NumPos:   cs.NumPos + 1,
		ArgCount: cs.ArgCount + 1,
		ArgFlags: make([]Flag, 0, len(cs.ArgFlags)+1),
	}
	for i, f := range cs.ArgFlags {
		if uint32(i) == idx {
			out.ArgFlags = append(out.ArgFlags, flag)
		}
		out.ArgFlags = append(out.ArgFlags, f)
	}
	if uint32(len(cs.ArgFlags)) == idx {
		out.ArgFlags = append(out.ArgFlags, flag)
	}
	copyNameds(out, cs)

	in.TryIntern(&out)
	return out
}
