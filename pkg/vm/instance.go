// Package vm wires the three CORE subsystems — the callsite interner, the
// Robin Hood index hash table underneath it, and the stop-the-world GC
// orchestrator — into one bootable instance, the Go equivalent of
// MVM_vm_create_instance.
//
// © 2025 corevm authors. MIT License.
package vm

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quillvm/core/internal/callsite"
	"github.com/quillvm/core/internal/gcorch"
	"github.com/quillvm/core/internal/vmfatal"
)

// noopCollector is the default NurseryCollector: it lets the election and
// barrier protocol run end to end without requiring an allocator. Useful
// for embedders exercising interning alone, and for the test suite.
type noopCollector struct{}

func (noopCollector) CollectNursery(*gcorch.ThreadContext, gcorch.CollectPerms) {}
func (noopCollector) FreeUncopied(*gcorch.ThreadContext, unsafe.Pointer)       {}

// Instance is one bootstrapped VM: an interner, a GC orchestrator, and the
// registered set of mutator threads sharing them. Every field here is
// process-wide state, initialised exactly once at construction, matching
// the spec's "interner and GC counters are process-wide" design note —
// there is deliberately no per-thread local interning cache.
type Instance struct {
	logger *zap.Logger

	Interner *callsite.Interner
	GC       *gcorch.Orchestrator

	threadsMu sync.Mutex
	threads   map[int]*gcorch.ThreadContext
	nextID    int

	internGroup singleflight.Group

	snapshotDB  snapshotStore
	snapshotSeq uint64
}

// New bootstraps a VM instance: builds the interner, initializes the common
// callsite table, constructs the GC orchestrator around the configured
// collector, and registers the requested number of initial threads. This is
// the Go analogue of MVM_vm_create_instance, which interns the common
// callsite table and spins up the main thread before returning.
func New(opts ...Option) (*Instance, error) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	vmfatal.Init(cfg.logger)

	inst := &Instance{
		logger:  cfg.logger,
		threads: make(map[int]*gcorch.ThreadContext, cfg.numThreads),
	}

	inst.Interner = callsite.NewInterner(cfg.stringEqual)
	inst.Interner.InitializeCommon()

	gcOpts := []gcorch.Option{gcorch.WithLogger(cfg.logger)}
	if cfg.registry != nil {
		gcOpts = append(gcOpts, gcorch.WithMetrics(cfg.registry))
	}
	inst.GC = gcorch.New(cfg.collector, gcOpts...)

	for i := 0; i < cfg.numThreads; i++ {
		inst.spawnThreadLocked()
	}

	if cfg.snapshotDBPath != "" {
		store, err := newBadgerSnapshotStore(cfg.snapshotDBPath)
		if err != nil {
			return nil, err
		}
		inst.snapshotDB = store
	} else {
		inst.snapshotDB = noopSnapshotStore{}
	}

	inst.logger.Info("corevm: instance created", zap.Int("threads", cfg.numThreads))
	return inst, nil
}

// SpawnThread registers a new mutator thread with the instance and returns
// its context. The caller owns the goroutine lifecycle; the orchestrator
// only needs the ThreadContext to include it in future collections.
func (inst *Instance) SpawnThread() *gcorch.ThreadContext {
	inst.threadsMu.Lock()
	defer inst.threadsMu.Unlock()
	return inst.spawnThreadLocked()
}

func (inst *Instance) spawnThreadLocked() *gcorch.ThreadContext {
	id := inst.nextID
	inst.nextID++
	tc := gcorch.NewThreadContext(id)
	inst.threads[id] = tc
	inst.GC.RegisterThread(tc)
	return tc
}

// RetireThread unregisters a mutator thread, e.g. when its goroutine exits.
// Callers must not be blocked in a syscall (MarkThreadBlocked) when calling
// this.
func (inst *Instance) RetireThread(tc *gcorch.ThreadContext) {
	inst.threadsMu.Lock()
	delete(inst.threads, tc.ID)
	inst.threadsMu.Unlock()
	inst.GC.UnregisterThread(tc)
}

// InternCallsiteOnce de-duplicates concurrent attempts to intern an
// equivalent dynamically-built callsite descriptor. Without it, N
// goroutines racing to call a method with the same freshly-built argument
// shape would all pay TryIntern's mutex; this collapses them to one winner,
// the same thundering-herd fix the teacher applies to cache-miss loads in
// pkg/loader.go. key should be a content hash the caller has already
// computed for its candidate descriptor (e.g. from an interpreter-level
// cache keyed by bytecode offset); it is not derived from cs itself, since
// an uninterned *Callsite carries no stable identity to hash on.
func (inst *Instance) InternCallsiteOnce(ctx context.Context, key uint64, cs *callsite.Callsite) (*callsite.Callsite, error) {
	k := strconv.FormatUint(key, 16)
	v, err, _ := inst.internGroup.Do(k, func() (any, error) {
		inst.Interner.TryIntern(&cs)
		return cs, nil
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return v.(*callsite.Callsite), nil
}

// Close tears the instance down. Thread contexts are retired in index
// order, mirroring MVM_vm_destroy_instance's teardown loop over its thread
// list, and the snapshot store (if any) is flushed and closed last. Thread
// IDs are sorted explicitly first: inst.threads is a map, and Go map
// iteration order is randomized per run, so ranging over it directly
// would not reproduce any deterministic order at all.
func (inst *Instance) Close() error {
	inst.threadsMu.Lock()
	ids := make([]int, 0, len(inst.threads))
	for id := range inst.threads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		tc := inst.threads[id]
		delete(inst.threads, id)
		inst.GC.UnregisterThread(tc)
	}
	inst.threadsMu.Unlock()

	inst.logger.Info("corevm: instance closed")
	return inst.snapshotDB.Close()
}
