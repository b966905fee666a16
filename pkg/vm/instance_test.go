package vm

import (
	"context"
	"sync"
	"testing"

	"github.com/quillvm/core/internal/callsite"
)

func TestNewBootstrapsCommonCallsites(t *testing.T) {
	inst, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Close()

	obj := callsite.GetCommon(callsite.IDObj)
	if !obj.IsInterned {
		t.Fatalf("common callsite not interned after New")
	}
}

func TestInstanceDefaultsToOneThread(t *testing.T) {
	inst, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Close()

	snap := inst.Snapshot()
	if snap.LiveThreads != 1 {
		t.Fatalf("LiveThreads = %d, want 1", snap.LiveThreads)
	}
}

func TestWithThreadsRegistersAllUpFront(t *testing.T) {
	inst, err := New(WithThreads(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Close()

	if snap := inst.Snapshot(); snap.LiveThreads != 4 {
		t.Fatalf("LiveThreads = %d, want 4", snap.LiveThreads)
	}
}

func TestSpawnAndRetireThread(t *testing.T) {
	inst, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Close()

	extra := inst.SpawnThread()
	if snap := inst.Snapshot(); snap.LiveThreads != 2 {
		t.Fatalf("LiveThreads after spawn = %d, want 2", snap.LiveThreads)
	}

	inst.RetireThread(extra)
	if snap := inst.Snapshot(); snap.LiveThreads != 1 {
		t.Fatalf("LiveThreads after retire = %d, want 1", snap.LiveThreads)
	}
}

func TestInternCallsiteOnceCollapsesConcurrentProducers(t *testing.T) {
	inst, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Close()

	const n = 16
	results := make([]*callsite.Callsite, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			cs := &callsite.Callsite{ArgFlags: []callsite.Flag{callsite.FlagObj, callsite.FlagInt}, NumPos: 2, ArgCount: 2}
			got, err := inst.InternCallsiteOnce(context.Background(), 0xC0FFEE, cs)
			if err != nil {
				t.Errorf("InternCallsiteOnce: %v", err)
				return
			}
			results[i] = got
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("InternCallsiteOnce returned divergent pointers across goroutines")
		}
	}
}

func TestSnapshotSeqNumberIncrements(t *testing.T) {
	inst, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inst.Close()

	a := inst.Snapshot()
	b := inst.Snapshot()
	if b.SeqNumber != a.SeqNumber+1 {
		t.Fatalf("Snapshot sequence numbers = %d, %d; want consecutive", a.SeqNumber, b.SeqNumber)
	}
}
