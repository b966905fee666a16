// Package bench provides reproducible micro-benchmarks for corevm's CORE
// subsystems. Run via: go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. indexhash Insert  — write-only workload forcing repeated growth
//  2. indexhash Lookup  — read-only workload after warm-up
//  3. callsite TryIntern — first-seen vs. already-interned shapes
//  4. gcorch barrier     — N goroutines racing EnterFromAllocator
//
// NOTE: Unit tests live alongside the packages under test; this file is
// only for performance.
//
// © 2025 corevm authors. MIT License.
package bench

import (
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"unsafe"

	"github.com/quillvm/core/internal/callsite"
	"github.com/quillvm/core/internal/gcorch"
	"github.com/quillvm/core/internal/indexhash"
)

const keys = 1 << 16

var ds = func() []uint64 {
	r := rand.New(rand.NewSource(42))
	arr := make([]uint64, keys)
	for i := range arr {
		arr[i] = r.Uint64()
	}
	return arr
}()

type u64Source struct{ hashes []uint64 }

func (s u64Source) Hash(idx uint32) uint64 { return s.hashes[idx] }

func BenchmarkIndexHashInsert(b *testing.B) {
	hashes := make([]uint64, b.N)
	r := rand.New(rand.NewSource(42))
	for i := range hashes {
		hashes[i] = r.Uint64()
	}
	src := u64Source{hashes: hashes}

	b.ReportAllocs()
	b.ResetTimer()
	t := indexhash.Build(0)
	for idx := 0; idx < b.N; idx++ {
		t.InsertNoCheck(src, uint32(idx))
	}
}

func BenchmarkIndexHashLookup(b *testing.B) {
	src := u64Source{hashes: ds}
	t := indexhash.Build(keys)
	for idx := uint32(0); idx < keys; idx++ {
		t.InsertNoCheck(src, idx)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h := ds[i&(keys-1)]
		t.Lookup(h, func(idx uint32) bool { return ds[idx] == h })
	}
}

func BenchmarkCallsiteTryInternFirstSeen(b *testing.B) {
	in := callsite.NewInterner(nil)
	names := make([]string, b.N)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cs := &callsite.Callsite{
			ArgFlags: []callsite.Flag{callsite.FlagObj, callsite.FlagStr | callsite.FlagNamed},
			NumPos:   1,
			ArgCount: 2,
			ArgNames: []string{names[i]},
		}
		in.TryIntern(&cs)
	}
}

func BenchmarkCallsiteTryInternRepeat(b *testing.B) {
	in := callsite.NewInterner(nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cs := &callsite.Callsite{ArgFlags: []callsite.Flag{callsite.FlagObj, callsite.FlagObj}, NumPos: 2, ArgCount: 2}
		in.TryIntern(&cs)
	}
}

type nopCollector struct{}

func (nopCollector) CollectNursery(*gcorch.ThreadContext, gcorch.CollectPerms) {}
func (nopCollector) FreeUncopied(*gcorch.ThreadContext, unsafe.Pointer)        {}

func BenchmarkGCBarrierElection(b *testing.B) {
	const numThreads = 8
	orch := gcorch.New(nopCollector{})
	threads := make([]*gcorch.ThreadContext, numThreads)
	for i := range threads {
		threads[i] = gcorch.NewThreadContext(i)
		orch.RegisterThread(threads[i])
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup
		wg.Add(numThreads)
		for _, tc := range threads {
			tc := tc
			go func() {
				defer wg.Done()
				orch.EnterFromAllocator(tc)
			}()
		}
		wg.Wait()
	}
}
