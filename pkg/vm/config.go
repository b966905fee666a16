package vm

// config.go defines the internal configuration object and the set of
// functional options passed to New. Modelled directly on the teacher's
// pkg/config.go: fields are set to sane defaults in defaultConfig, options
// only capture external collaborators (logger, registry, collector), and
// the struct itself is never exported — callers only ever see Option.
//
// © 2025 corevm authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quillvm/core/internal/callsite"
	"github.com/quillvm/core/internal/gcorch"
)

// Option configures an Instance at construction.
type Option func(*config)

type config struct {
	logger      *zap.Logger
	registry    *prometheus.Registry
	stringEqual callsite.StringEqualFunc
	collector   gcorch.NurseryCollector
	numThreads  int

	snapshotDBPath string
}

// numThreads defaults to -1, meaning "unset"; applyOptions resolves it to 1
// unless WithThreads explicitly overrides it, so that WithThreads(0) (no
// pre-registered mutator threads, the right choice for an embedder that
// calls SpawnThread itself for every goroutine that will reach a
// safepoint) is distinguishable from "option not passed".
const defaultNumThreads = 1

func defaultConfig() *config {
	return &config{
		logger:      zap.NewNop(),
		stringEqual: callsite.DefaultStringEqual,
		collector:   noopCollector{},
		numThreads:  -1,
	}
}

// WithLogger plugs an external zap.Logger. Only slow/rare events (instance
// creation and close, GC election and completion, stolen-thread work) are
// logged; the hot paths never touch the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics for the GC orchestrator; the
// interner and hash tables export no metrics. Passing nil disables metrics
// (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithStringEqual overrides the default byte-wise comparison used when
// deciding whether two callsite descriptors' named arguments are the same
// string. Most callers never need this; it exists for embedders that intern
// their own string table and want pointer-identity comparison instead.
func WithStringEqual(fn callsite.StringEqualFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.stringEqual = fn
		}
	}
}

// WithNurseryCollector plugs the nursery allocator's collector, the one
// external collaborator the GC orchestrator calls into. Without this
// option, Instance runs with a collector that does nothing, which is useful
// for exercising the interning and election logic in isolation.
func WithNurseryCollector(nc gcorch.NurseryCollector) Option {
	return func(c *config) {
		if nc != nil {
			c.collector = nc
		}
	}
}

// WithThreads pre-registers n mutator thread contexts at construction,
// mirroring how MVM_vm_create_instance sets up the main thread before any
// user code runs. Pass 0 to start with no pre-registered threads when the
// embedder will call SpawnThread itself for every goroutine that
// participates in collections — any thread the orchestrator knows about
// but that never reaches a safepoint wedges every future collection's
// barrier, so leftover unused threads are not a safe default.
func WithThreads(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.numThreads = n
		}
	}
}

// WithSnapshotHistory enables durable snapshot history for diagnostic
// tooling: every call to Instance.Snapshot is additionally persisted to a
// local Badger database at path, keyed by sequence number. This is purely
// an external diagnostic aid; the VM instance itself never reads it back
// and carries no persisted state of its own.
func WithSnapshotHistory(path string) Option {
	return func(c *config) {
		c.snapshotDBPath = path
	}
}

func applyOptions(cfg *config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.numThreads < 0 {
		cfg.numThreads = defaultNumThreads
	}
	return nil
}
