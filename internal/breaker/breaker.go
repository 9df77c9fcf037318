// Package breaker implements a per-dependency circuit breaker: the shared
// L0 component that fails fast when a downstream dependency (an LLM
// provider, a search provider, a store) is unhealthy, instead of piling up
// timeouts against it.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

// State is one of the three circuit states.
type State int

// Recognized states.
const (
	Closed State = iota
	Open
	HalfOpen
)

// String renders the state for logging and metrics.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a Breaker's trip and recovery behavior.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping open
	RecoveryTimeout  time.Duration // time open before a single probe is allowed
}

// Breaker is a single named circuit breaker. It is safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	dependency       string
	failureThreshold int
	recoveryTimeout  time.Duration

	state           State
	consecutiveFail int
	openedAt        time.Time
	probeInFlight   bool
}

// New creates a Breaker for the named dependency.
func New(dependency string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	b := &Breaker{
		dependency:       dependency,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		state:            Closed,
	}
	metrics.CircuitBreakerState.WithLabelValues(dependency).Set(0)
	return b
}

// Allow reports whether a call should be attempted right now. When the
// breaker is open and the recovery timeout has elapsed, Allow transitions
// it to half_open and admits exactly one probe call; subsequent callers are
// refused until that probe resolves.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, nil
	case HalfOpen:
		if b.probeInFlight {
			return false, b.openError()
		}
		b.probeInFlight = true
		return true, nil
	case Open:
		if time.Since(b.openedAt) < b.recoveryTimeout {
			return false, b.openError()
		}
		b.state = HalfOpen
		b.probeInFlight = true
		metrics.CircuitBreakerState.WithLabelValues(b.dependency).Set(2)
		slog.Info("circuit breaker probing", slog.String("dependency", b.dependency))
		return true, nil
	default:
		return false, b.openError()
	}
}

func (b *Breaker) openError() error {
	recoveryAt := b.openedAt.Add(b.recoveryTimeout)
	return &domain.CircuitOpenError{Dependency: b.dependency, RecoveryAtUnixMs: recoveryAt.UnixMilli()}
}

// RecordSuccess reports a successful call. In half_open, a single success
// closes the breaker; in closed, it resets the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail = 0
	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.probeInFlight = false
		metrics.CircuitBreakerState.WithLabelValues(b.dependency).Set(0)
		slog.Info("circuit breaker closed after recovery", slog.String("dependency", b.dependency))
	case Open:
		// Defensive: a success should not reach us while open, but if it
		// does (a stale in-flight call resolving late) don't fight it.
		b.state = Closed
		b.probeInFlight = false
		metrics.CircuitBreakerState.WithLabelValues(b.dependency).Set(0)
	}
}

// RecordFailure reports a failed call. In half_open, any failure reopens
// the breaker immediately. In closed, the breaker trips once the
// consecutive failure count reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.trip()
		return
	case Open:
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.failureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.probeInFlight = false
	b.openedAt = time.Now()
	metrics.CircuitBreakerState.WithLabelValues(b.dependency).Set(1)
	metrics.CircuitBreakerTripsTotal.WithLabelValues(b.dependency).Inc()
	slog.Warn("circuit breaker opened", slog.String("dependency", b.dependency), slog.Int("consecutive_failures", b.consecutiveFail))
}

// CurrentState returns the breaker's current state, resolving an elapsed recovery
// timeout but without consuming a probe slot.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.recoveryTimeout {
		return HalfOpen
	}
	return b.state
}

// Registry hands out one Breaker per dependency name, creating it lazily on
// first use with a shared Config.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry that constructs breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for dependency, creating it if necessary.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[dependency]; ok {
		return b
	}
	b := New(dependency, r.cfg)
	r.breakers[dependency] = b
	return b
}

// HealthyDependencies returns the names of every known dependency whose
// breaker is not currently open.
func (r *Registry) HealthyDependencies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var healthy []string
	for name, b := range r.breakers {
		if b.CurrentState() != Open {
			healthy = append(healthy, name)
		}
	}
	return healthy
}

// IsHealthy reports whether the named dependency's breaker is not open.
// Unknown dependencies (no calls made yet) are considered healthy.
func (r *Registry) IsHealthy(dependency string) bool {
	r.mu.Lock()
	b, ok := r.breakers[dependency]
	r.mu.Unlock()
	if !ok {
		return true
	}
	return b.CurrentState() != Open
}
