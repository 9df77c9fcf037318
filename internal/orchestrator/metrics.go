package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// Snapshot is a point-in-time read of the orchestrator's in-process
// counters. These duplicate a subset of the Prometheus
// series in internal/metrics so the orchestrator's own admin surface can
// answer "how am I doing" without scraping /metrics.
type Snapshot struct {
	Total            int64
	Successful       int64
	Failed           int64
	ByWorker         map[domain.WorkerKind]int64
	ByErrorKind      map[string]int64
	AvgProcessingMs  float64
}

// liveMetrics tracks the orchestrator's request counters and an
// exponential moving average of processing time, guarded by a single
// mutex, which is always the last lock taken in the documented order.
type liveMetrics struct {
	mu sync.Mutex

	total      int64
	successful int64
	failed     int64
	byWorker   map[domain.WorkerKind]int64
	byError    map[string]int64
	emaMs      float64
	emaInit    bool
}

// emaAlpha weights the most recent sample against the running average.
const emaAlpha = 0.2

func newLiveMetrics() *liveMetrics {
	return &liveMetrics{
		byWorker: make(map[domain.WorkerKind]int64),
		byError:  make(map[string]int64),
	}
}

func (m *liveMetrics) recordSuccess(worker domain.WorkerKind, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.successful++
	m.byWorker[worker]++
	m.observeLatency(elapsed)
}

func (m *liveMetrics) recordFailure(worker domain.WorkerKind, errorKind string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.failed++
	if worker != "" {
		m.byWorker[worker]++
	}
	m.byError[errorKind]++
	m.observeLatency(elapsed)
}

func (m *liveMetrics) observeLatency(elapsed time.Duration) {
	ms := float64(elapsed.Milliseconds())
	if !m.emaInit {
		m.emaMs = ms
		m.emaInit = true
		return
	}
	m.emaMs = emaAlpha*ms + (1-emaAlpha)*m.emaMs
}

func (m *liveMetrics) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	byWorker := make(map[domain.WorkerKind]int64, len(m.byWorker))
	for k, v := range m.byWorker {
		byWorker[k] = v
	}
	byError := make(map[string]int64, len(m.byError))
	for k, v := range m.byError {
		byError[k] = v
	}
	return Snapshot{
		Total:           m.total,
		Successful:      m.successful,
		Failed:          m.failed,
		ByWorker:        byWorker,
		ByErrorKind:     byError,
		AvgProcessingMs: m.emaMs,
	}
}

// errorKind classifies err into the closed taxonomy's label for metrics
// and logging, falling back to "internal" for anything unrecognized.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNoAgentAvailable):
		return "no_agent_available"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, domain.ErrWorkerCallFailed):
		return "worker_call_failed"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
