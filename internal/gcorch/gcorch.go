// Package gcorch implements the stop-the-world GC coordination protocol:
// electing a coordinator among racing mutator threads, suspending the
// rest at safepoints (or stealing the work of threads already blocked in
// a syscall), and releasing everyone once the nursery collection
// completes.
//
// This package owns no object graph and no allocator; it only moves
// threads through the state machine in thread.go and calls out to a
// caller-supplied NurseryCollector, exactly as spec'd: the nursery
// allocator, the object model, and the interpreter are external
// collaborators reached only through that one interface.
//
// © 2025 corevm authors. MIT License.
package gcorch

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quillvm/core/internal/vmfatal"
)

// CollectPerms tells the nursery collector whether it is allowed to
// process permanent roots (only the coordinator does this; everyone else
// passes PermsNo).
type CollectPerms uint8

const (
	PermsNo CollectPerms = iota
	PermsYes
)

// NurseryCollector is the one interface this package consumes from the
// (out of scope) allocator subsystem.
type NurseryCollector interface {
	// CollectNursery scavenges tc's nursery, promoting survivors.
	CollectNursery(tc *ThreadContext, perms CollectPerms)
	// FreeUncopied releases everything in tc's nursery below limit that
	// CollectNursery did not copy out.
	FreeUncopied(tc *ThreadContext, limit unsafe.Pointer)
}

// Orchestrator coordinates one VM instance's mutator threads through
// collections. It is process-wide state, initialised once at VM
// construction, mirroring the spec's "interner and GC counters are
// process-wide" design note.
type Orchestrator struct {
	threadsMu sync.Mutex // freezes thread-set membership during election
	threads   []*ThreadContext

	expectedGCThreads atomic.Uint32
	startingGC        atomic.Uint32
	gcSeqNumber       atomic.Uint64

	collector NurseryCollector
	logger    *zap.Logger
	metrics   metricsSink
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithLogger plugs a zap.Logger for the rare, slow-path events: election,
// stealing a blocked thread's work (debug level), collection completion.
// The hot CAS paths never log.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics for the orchestrator.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(o *Orchestrator) {
		o.metrics = newMetricsSink(reg)
	}
}

// New constructs an Orchestrator driving collector.
func New(collector NurseryCollector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		collector: collector,
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterThread adds tc to the live thread set. Must be called before tc
// can participate in EnterFromAllocator/EnterFromInterrupt.
func (o *Orchestrator) RegisterThread(tc *ThreadContext) {
	o.threadsMu.Lock()
	o.threads = append(o.threads, tc)
	n := len(o.threads)
	o.threadsMu.Unlock()
	o.metrics.setLiveThreads(n)
}

// UnregisterThread removes tc from the live thread set, e.g. when a
// mutator goroutine exits. Never call this while a collection involving
// tc might be in flight.
func (o *Orchestrator) UnregisterThread(tc *ThreadContext) {
	o.threadsMu.Lock()
	for i, t := range o.threads {
		if t == tc {
			o.threads = append(o.threads[:i], o.threads[i+1:]...)
			break
		}
	}
	n := len(o.threads)
	o.threadsMu.Unlock()
	o.metrics.setLiveThreads(n)
}

// GCSeqNumber returns the number of collections completed so far.
func (o *Orchestrator) GCSeqNumber() uint64 { return o.gcSeqNumber.Load() }

// signalOneThread retries CAS attempts until it either interrupts a
// running thread or steals the work of a blocked one. A blocked thread
// that gets stolen still needs to be counted in the barrier, so the
// coordinator increments starting_gc on its behalf right here.
func (o *Orchestrator) signalOneThread(tc *ThreadContext) {
	for {
		if tc.cas(StatusNone, StatusInterrupt) {
			return
		}
		if tc.cas(StatusUnable, StatusStolen) {
			o.startingGC.Add(1)
			o.metrics.incStolenThreads()
			o.logger.Debug("gcorch: stole blocked thread's GC work", zap.Int("thread", tc.ID))
			return
		}
	}
}

func (o *Orchestrator) waitForBarrier() {
	o.metrics.incBarrierEntries()
	for o.startingGC.Load() != o.expectedGCThreads.Load() {
		runtime.Gosched()
	}
}

func (o *Orchestrator) runGC(tc *ThreadContext, perms CollectPerms) {
	limit := tc.NurseryAlloc
	o.collector.CollectNursery(tc, perms)
	o.collector.FreeUncopied(tc, limit)
	o.metrics.incGCRuns()
}

// EnterFromAllocator is called by a mutator whose allocator slow path has
// exhausted the nursery budget. Exactly one racing caller wins the
// election and becomes the coordinator; everyone else falls through to
// EnterFromInterrupt.
func (o *Orchestrator) EnterFromAllocator(tc *ThreadContext) {
	o.threadsMu.Lock()
	numGCThreads := uint32(len(o.threads))

	if !o.expectedGCThreads.CompareAndSwap(0, numGCThreads) {
		o.threadsMu.Unlock()
		o.EnterFromInterrupt(tc)
		return
	}

	// We won: become coordinator. Bump the sequence number, count
	// ourselves in, then signal everyone else while membership is still
	// frozen under threadsMu.
	seq := o.gcSeqNumber.Add(1)
	o.metrics.setGCSeqNumber(seq)
	o.startingGC.Add(1)
	o.logger.Info("gcorch: elected coordinator", zap.Int("thread", tc.ID), zap.Uint64("seq", seq))

	for _, other := range o.threads {
		if other != tc {
			o.signalOneThread(other)
		}
	}
	o.threadsMu.Unlock()

	o.waitForBarrier()
	o.runGC(tc, PermsYes)

	// STOLEN threads are still physically parked in their syscall, so the
	// coordinator collects their nurseries on their behalf, then restores
	// them to UNABLE so MarkThreadUnblocked's CAS loop succeeds once they
	// return from it; leaving them at STOLEN would wedge that thread forever.
	o.threadsMu.Lock()
	for _, t := range o.threads {
		if t.Status() == StatusStolen {
			o.runGC(t, PermsNo)
			t.cas(StatusStolen, StatusUnable)
		}
	}
	o.threadsMu.Unlock()

	o.startingGC.Store(0)
	o.expectedGCThreads.Store(0)
	o.logger.Info("gcorch: collection complete", zap.Uint64("seq", seq))
}

// EnterFromInterrupt is called when a thread notices StatusInterrupt at a
// safepoint, or loses the coordinator election. It consumes the interrupt
// (INTERRUPT -> NONE) and enlists in the run already underway.
func (o *Orchestrator) EnterFromInterrupt(tc *ThreadContext) {
	tc.cas(StatusInterrupt, StatusNone)
	o.startingGC.Add(1)
	o.waitForBarrier()
	o.runGC(tc, PermsNo)
}

// MarkThreadBlocked is called before a thread enters a potentially long
// syscall. If a coordinator interrupts it in the same instant, it enters
// collection immediately instead of blocking.
func (o *Orchestrator) MarkThreadBlocked(tc *ThreadContext) {
	if tc.cas(StatusNone, StatusUnable) {
		return
	}
	switch tc.Status() {
	case StatusInterrupt:
		o.EnterFromInterrupt(tc)
	default:
		vmfatal.Fatal("gcorch: invalid GC status observed while blocking", zap.String("status", tc.Status().String()))
	}
}

// MarkThreadUnblocked is called after a blocking syscall returns. It
// spins (yielding the scheduler, not the CPU) until it can reclaim
// StatusNone, which only happens once any collection that stole this
// thread's work has fully released it.
func (o *Orchestrator) MarkThreadUnblocked(tc *ThreadContext) {
	for !tc.cas(StatusUnable, StatusNone) {
		runtime.Gosched()
	}
}
