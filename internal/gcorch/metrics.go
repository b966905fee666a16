package gcorch

// metrics.go mirrors the teacher's pkg/metrics.go almost exactly: a
// narrow sink interface with a no-op default and a Prometheus-backed
// implementation selected only when the caller opts in, so the barrier
// hot path never pays for a metric update it didn't ask for.
//
// © 2025 corevm authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	incGCRuns()
	incBarrierEntries()
	incStolenThreads()
	setLiveThreads(n int)
	setGCSeqNumber(n uint64)
}

type noopMetrics struct{}

func (noopMetrics) incGCRuns()          {}
func (noopMetrics) incBarrierEntries()  {}
func (noopMetrics) incStolenThreads()   {}
func (noopMetrics) setLiveThreads(int)  {}
func (noopMetrics) setGCSeqNumber(uint64) {}

type promMetrics struct {
	runs          prometheus.Counter
	barrierEnters prometheus.Counter
	stolen        prometheus.Counter
	liveThreads   prometheus.Gauge
	seqNumber     prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corevm",
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Number of stop-the-world collections run.",
		}),
		barrierEnters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corevm",
			Subsystem: "gc",
			Name:      "barrier_entries_total",
			Help:      "Number of times a thread entered the safepoint barrier.",
		}),
		stolen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corevm",
			Subsystem: "gc",
			Name:      "stolen_threads_total",
			Help:      "Number of times the coordinator performed GC work on behalf of a blocked thread.",
		}),
		liveThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corevm",
			Subsystem: "gc",
			Name:      "live_threads",
			Help:      "Number of mutator threads registered with the orchestrator.",
		}),
		seqNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corevm",
			Subsystem: "gc",
			Name:      "seq_number",
			Help:      "Monotonically increasing collection sequence number.",
		}),
	}
	reg.MustRegister(pm.runs, pm.barrierEnters, pm.stolen, pm.liveThreads, pm.seqNumber)
	return pm
}

func (m *promMetrics) incGCRuns()            { m.runs.Inc() }
func (m *promMetrics) incBarrierEntries()    { m.barrierEnters.Inc() }
func (m *promMetrics) incStolenThreads()     { m.stolen.Inc() }
func (m *promMetrics) setLiveThreads(n int)  { m.liveThreads.Set(float64(n)) }
func (m *promMetrics) setGCSeqNumber(n uint64) { m.seqNumber.Set(float64(n)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
