// Package router implements the priority-ordered routing-rule evaluator:
// a pure sort-and-scan over a value list of rules, selecting the
// first whose predicate matches and whose target worker is currently
// healthy.
package router

import (
	"sort"
	"sync"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// HealthChecker reports whether a worker is currently able to serve
// requests (breaker state plus the worker's own health check).
type HealthChecker interface {
	IsHealthy(kind domain.WorkerKind) bool
}

// Rule is one routing rule: a predicate over a RoutingContext and the
// worker it resolves to when the predicate matches. CurrentPhaseSentinel
// as Target means "resolve to the project's active phase".
type Rule struct {
	Predicate   func(domain.RoutingContext) bool
	Target      domain.WorkerKind
	Priority    int
	Description string
}

// CurrentPhaseSentinel is the Rule.Target value meaning "route to whatever
// worker the project's active phase already names".
const CurrentPhaseSentinel domain.WorkerKind = "__current_phase__"

// Router holds a priority-ordered rule list, replaced wholesale on every
// admin mutation (copy-on-write) so concurrent readers never take a lock
// across a rule evaluation.
type Router struct {
	mu             sync.Mutex
	rules          []Rule
	health         HealthChecker
	fallbackWorker domain.WorkerKind
}

// New constructs a Router with the default rule set (highest to
// lowest priority) and the given fallback worker for the final rule.
func New(health HealthChecker, fallbackWorker domain.WorkerKind) *Router {
	if fallbackWorker == "" {
		fallbackWorker = domain.WorkerIdeation
	}
	r := &Router{health: health, fallbackWorker: fallbackWorker}
	r.rules = DefaultRules(fallbackWorker)
	sortRules(r.rules)
	return r
}

// DefaultRules returns the default phase-aware rule set.
func DefaultRules(fallbackWorker domain.WorkerKind) []Rule {
	return []Rule{
		{
			Priority:    100,
			Description: "ideation on a new conversation while ideation is the active phase",
			Target:      domain.WorkerIdeation,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerIdeation && rc.RequestType == domain.RequestNewConversation
			},
		},
		{
			Priority:    90,
			Description: "refiner once ideation has completed, or refiner is already active",
			Target:      domain.WorkerRefiner,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerRefiner || rc.HasCompletedPhase(domain.WorkerIdeation)
			},
		},
		{
			Priority:    80,
			Description: "media when active, or continuing a media conversation",
			Target:      domain.WorkerMedia,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerMedia ||
					(rc.RequestType == domain.RequestContinueConversation && rc.LastWorker == domain.WorkerMedia)
			},
		},
		{
			Priority:    70,
			Description: "factchecker when active, or content has matured enough to fact-check",
			Target:      domain.WorkerFactChecker,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerFactChecker ||
					(len(rc.PreviousPhases) >= 2 && rc.ContentLength > 500)
			},
		},
		{
			Priority:    60,
			Description: "explicit phase transition resolves to the project's current phase",
			Target:      CurrentPhaseSentinel,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.RequestType == domain.RequestPhaseTransition
			},
		},
		{
			Priority:    0,
			Description: "fallback",
			Target:      fallbackWorker,
			Predicate:   func(domain.RoutingContext) bool { return true },
		},
	}
}

func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
}

// Route evaluates the rule list against rc in priority order and returns
// the first rule whose predicate matches and whose resolved target is
// healthy. The phase_transition rule targeting an unhealthy current phase
// fails fast with NoAgentAvailable rather than falling through to the next
// rule (see DESIGN.md): a phase transition
// names a specific worker deliberately.
func (r *Router) Route(rc domain.RoutingContext) (domain.WorkerKind, error) {
	r.mu.Lock()
	rules := r.rules
	r.mu.Unlock()

	for _, rule := range rules {
		if !rule.Predicate(rc) {
			continue
		}
		target := rule.Target
		if target == CurrentPhaseSentinel {
			target = rc.CurrentPhase
			if target == "" {
				return "", &domain.NoAgentAvailableError{RoutingContext: rule.Description}
			}
			if r.health != nil && !r.health.IsHealthy(target) {
				return "", &domain.NoAgentAvailableError{RoutingContext: rule.Description}
			}
			return target, nil
		}
		if r.health != nil && !r.health.IsHealthy(target) {
			continue
		}
		return target, nil
	}
	return "", &domain.NoAgentAvailableError{RoutingContext: "no rule matched a healthy worker"}
}

// AddRule inserts rule into the list, preserving descending-priority order,
// and swaps in a new slice so concurrent readers of the old slice are
// unaffected.
func (r *Router) AddRule(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Rule, len(r.rules), len(r.rules)+1)
	copy(next, r.rules)
	next = append(next, rule)
	sortRules(next)
	r.rules = next
}

// RemoveRule removes every rule with the given description, preserving
// order, and swaps in a new slice.
func (r *Router) RemoveRule(description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Description != description {
			next = append(next, rule)
		}
	}
	r.rules = next
}

// Rules returns a snapshot of the current rule list, in priority order.
func (r *Router) Rules() []Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}
