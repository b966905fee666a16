// Package indexhash implements an open-addressed Robin Hood hash table
// keyed indirectly: the table stores only a 32-bit index into a
// caller-owned sequence, never the key itself. Hashing and equality both
// re-read the caller's sequence through the Source interface, which keeps
// the table generic over whatever "string equality" or "content equality"
// the caller needs — the index hash table never has an opinion about what
// it indexes.
//
// This is the lowest-level piece of the CORE runtime substrate: the
// callsite interner builds one Table per arity bucket to avoid an O(n)
// scan on every intern attempt; other subsystems may reuse it for any
// other dedup-by-content problem.
//
// Concurrency model: a Table has no internal locking, exactly like the
// teacher's genring.Ring and clockpro.Clock — the owning subsystem
// (callsite.Interner, in our case) serialises access with its own mutex.
//
// © 2025 corevm authors. MIT License.
package indexhash

import (
	"math/bits"

	"go.uber.org/zap"

	"github.com/quillvm/core/internal/vmfatal"
)

// LoadFactorNumerator / LoadFactorDenominator express the ~0.75 load
// factor as an integer ratio so every derived size uses ceiling integer
// arithmetic, per the spec's open question about avoiding the source's
// float/load-factor off-by-ones at size boundaries.
const (
	LoadFactorNumerator   = 3
	LoadFactorDenominator = 4

	// MinSizeBase2 is the floor on official_size_log2 — tables never
	// start smaller than 2^3 = 8 slots.
	MinSizeBase2 = 3

	// MaxProbeDistance is the architectural ceiling on probe distance;
	// it must fit in the uint8 metadata byte (0 = empty, so distances
	// run 1..255).
	MaxProbeDistance = 255
)

// Source lets the table compute the hash of the key stored at idx in the
// caller's own key sequence, re-derived on demand rather than cached in
// the table — this is what keeps the table's entries down to a single
// uint32 per slot.
type Source interface {
	Hash(idx uint32) uint64
}

// Table is the control block plus backing storage for one Robin Hood
// index hash. The zero value is not usable; construct with Build.
//
// The reference implementation this is grounded on (MoarVM's
// MVMIndexHashTable) packs entries, control block, and metadata into one
// reverse-growing allocation purely as a cache/pointer-arithmetic
// optimisation — the spec's own design notes call this out as
// non-semantic. We keep metadata and entries as two ordinary slices at
// matching indices, which preserves every testable invariant (ideal
// bucket + probe distance, Robin Hood ordering, sentinel byte) without
// manual memory layout.
type Table struct {
	officialSizeLog2      uint8
	maxProbeDistanceLimit uint8
	maxProbeDistance      uint8
	keyRightShift         uint8

	maxItems uint32
	curItems uint32

	// metadata[i] == 0 means slot i is empty; a nonzero value is the
	// probe distance of the occupant (1 = ideal bucket). metadata has one
	// extra trailing slot, the sentinel, permanently set to 1, so probe
	// loops terminate without an explicit bounds check.
	metadata []uint8
	entries  []uint32
}

func ceilDiv(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// roundUpLog2 returns the smallest k such that 1<<k >= n (n >= 1).
func roundUpLog2(n uint32) uint8 {
	if n <= 1 {
		return 0
	}
	return uint8(bits.Len32(n - 1))
}

func allocate(keyRightShift, officialSizeLog2 uint8) *Table {
	officialSize := uint32(1) << officialSizeLog2
	maxItems := ceilDiv(officialSize*LoadFactorNumerator, LoadFactorDenominator)

	// -1 because a probe distance of 1 is the ideal bucket, so a value
	// whose ideal slot is the very last official bucket is still "in"
	// the official allocation; distance 2 is the first slot beyond it.
	var maxProbeDistanceLimit uint8
	if MaxProbeDistance-1 < maxItems-1 {
		maxProbeDistanceLimit = MaxProbeDistance - 1
	} else {
		maxProbeDistanceLimit = uint8(maxItems - 1)
	}

	allocatedItems := officialSize + uint32(maxProbeDistanceLimit)

	metadata := make([]uint8, allocatedItems+1)
	metadata[allocatedItems] = 1 // sentinel: always "occupied at distance 1"

	return &Table{
		officialSizeLog2:      officialSizeLog2,
		maxProbeDistanceLimit: maxProbeDistanceLimit,
		maxProbeDistance:      maxProbeDistanceLimit,
		keyRightShift:         keyRightShift,
		maxItems:              maxItems,
		metadata:              metadata,
		entries:               make([]uint32, allocatedItems),
	}
}

// Build constructs a table sized for expected entries at the target load
// factor, clamped to a floor of 2^MinSizeBase2 slots.
func Build(expected uint32) *Table {
	var initialSizeBase2 uint8
	if expected == 0 {
		initialSizeBase2 = MinSizeBase2
	} else {
		minNeeded := ceilDiv(expected*LoadFactorDenominator, LoadFactorNumerator)
		initialSizeBase2 = roundUpLog2(minNeeded)
		if initialSizeBase2 < MinSizeBase2 {
			initialSizeBase2 = MinSizeBase2
		}
	}
	return allocate(64-initialSizeBase2, initialSizeBase2)
}

// Demolish releases the table's backing storage. Go's GC reclaims the old
// slices regardless, but Demolish gives callers (and tests) an explicit,
// inspectable "this table is no longer usable" point. Lookup, MetadataAt
// and EntryAt index metadata/entries and panic on a demolished table;
// InsertNoCheck does not panic, because the zeroed insert budget makes it
// grow the table into a fresh allocation first.
func (t *Table) Demolish() {
	t.metadata = nil
	t.entries = nil
	t.curItems = 0
	t.maxItems = 0
}

// CurItems returns the live entry count.
func (t *Table) CurItems() uint32 { return t.curItems }

// MaxItems returns the current insert budget; 0 forces a grow before the
// next insert.
func (t *Table) MaxItems() uint32 { return t.maxItems }

// AllocatedItems returns the number of addressable (non-sentinel) slots.
func (t *Table) AllocatedItems() uint32 { return uint32(len(t.entries)) }

// MetadataAt exposes the raw probe-distance byte for slot i, for testing
// the Robin Hood and sentinel invariants from outside the package.
func (t *Table) MetadataAt(i uint32) uint8 { return t.metadata[i] }

// EntryAt exposes the stored index for slot i; only meaningful when
// MetadataAt(i) != 0.
func (t *Table) EntryAt(i uint32) uint32 { return t.entries[i] }

// IdealBucket returns the bucket a key with the given hash wants.
func (t *Table) IdealBucket(hash uint64) uint32 {
	return uint32(hash >> t.keyRightShift)
}

// Lookup searches for a slot whose probe distance matches the walk from
// hash's ideal bucket and whose stored index satisfies match. It stops as
// soon as it finds an empty slot or a slot with a shorter probe distance
// than the current search distance — the Robin Hood invariant guarantees
// the key can't be any further along.
func (t *Table) Lookup(hash uint64, match func(idx uint32) bool) (uint32, bool) {
	cursor := t.IdealBucket(hash)
	var probeDistance uint8 = 1
	for {
		meta := t.metadata[cursor]
		if meta < probeDistance {
			return 0, false
		}
		if meta == probeDistance && match(t.entries[cursor]) {
			return t.entries[cursor], true
		}
		probeDistance++
		cursor++
	}
}

// InsertNoCheck unconditionally inserts idx, growing the table first if
// the load factor budget is exhausted. It does not check whether an
// equal *key* is already present — only whether the same idx has already
// been inserted, which is a programmer error (src is expected to hand
// out each idx once).
func (t *Table) InsertNoCheck(src Source, idx uint32) {
	if t.curItems >= t.maxItems {
		t.grow(src)
	}
	t.insertInternal(src, idx)
}

func (t *Table) insertInternal(src Source, idx uint32) {
	hash := src.Hash(idx)
	cursor := t.IdealBucket(hash)
	var probeDistance uint8 = 1

	for {
		meta := t.metadata[cursor]

		if meta < probeDistance {
			// This is our rightful slot, occupied or not.
			if meta != 0 {
				t.makeRoom(cursor)
			}
			if probeDistance == t.maxProbeDistance {
				// Force a grow before the next insert so it can always
				// complete without overflowing mid-loop.
				t.maxItems = 0
			}
			t.curItems++
			t.metadata[cursor] = probeDistance
			t.entries[cursor] = idx
			return
		}

		if meta == probeDistance && t.entries[cursor] == idx {
			vmfatal.Fatal("indexhash: duplicate insert", zap.Uint32("idx", idx))
			return
		}

		probeDistance++
		cursor++
	}
}

// makeRoom shifts the run of occupied slots starting at cursor forward by
// one, bumping each one's probe distance, until it reaches an empty slot
// — the Robin Hood backward-shift trick. It stops only at a metadata byte
// of 0; the sentinel byte is nonzero and does not end the run.
func (t *Table) makeRoom(cursor uint32) {
	j := cursor
	oldDist := t.metadata[j]
	for {
		newDist := oldDist + 1
		if newDist == t.maxProbeDistance {
			t.maxItems = 0
		}
		j++
		oldDist = t.metadata[j]
		t.metadata[j] = newDist
		if oldDist == 0 {
			break
		}
	}
	copy(t.entries[cursor+1:j+1], t.entries[cursor:j])
}

// grow reallocates at double the official size and re-inserts every live
// entry, recomputing hashes from src since the table never stores them.
// Unlike a manual allocator, Go's GC reclaims the old slices on its own,
// so growth here is an in-place field swap rather than a realloc-and-
// repoint dance.
func (t *Table) grow(src Source) {
	grown := allocate(t.keyRightShift-1, t.officialSizeLog2+1)
	for i, meta := range t.metadata[:len(t.entries)] {
		if meta != 0 {
			grown.insertInternal(src, t.entries[i])
		}
	}
	*t = *grown
}
