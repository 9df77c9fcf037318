// Package ledger implements the cost ledger: an append-only record of
// per-request token and cost usage, and the budget/stats queries built on
// top of it.
package ledger

import (
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

func init() {
	// Use the bundled BPE ranks instead of fetching them over the network
	// at call time.
	tiktoken.SetBpeLoader(loader.NewOfflineLoader())
}

// Ledger is the cost-ledger service: it appends entries to a Store and
// answers budget and aggregate-usage queries over them.
type Ledger struct {
	store            domain.LedgerStore
	monthlyBudgetUSD float64
	dailyCapUSD      float64
}

// New constructs a Ledger over store with the given monthly and daily caps.
func New(store domain.LedgerStore, monthlyBudgetUSD, dailyCapUSD float64) *Ledger {
	return &Ledger{store: store, monthlyBudgetUSD: monthlyBudgetUSD, dailyCapUSD: dailyCapUSD}
}

// Record appends a usage entry. A storage failure is surfaced but never
// undoes the worker call that produced it.
func (l *Ledger) Record(ctx domain.Context, e domain.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := l.store.Append(ctx, e); err != nil {
		return fmt.Errorf("op=ledger.record: %w", domain.ErrPersistence)
	}
	metrics.LedgerCostTotal.WithLabelValues(string(e.WorkerKind), e.Model).Add(e.CostUSD)
	metrics.LedgerTokensTotal.WithLabelValues(string(e.WorkerKind), e.Model, "prompt").Add(float64(e.PromptTokens))
	metrics.LedgerTokensTotal.WithLabelValues(string(e.WorkerKind), e.Model, "completion").Add(float64(e.CompletionTokens))
	return nil
}

// Status answers a point-in-time budget query for userID: current-month
// spend against the configured monthly budget.
func (l *Ledger) Status(ctx domain.Context, userID string) (domain.BudgetStatus, error) {
	start := startOfMonth(time.Now())
	entries, err := l.store.EntriesSince(ctx, userID, start)
	if err != nil {
		return domain.BudgetStatus{}, fmt.Errorf("op=ledger.status: %w", domain.ErrPersistence)
	}

	var spend float64
	for _, e := range entries {
		spend += e.CostUSD
	}

	status := domain.BudgetStatus{
		MonthlyBudgetUSD: l.monthlyBudgetUSD,
		CurrentSpendUSD:  spend,
	}
	if l.monthlyBudgetUSD > 0 {
		status.RemainingUSD = l.monthlyBudgetUSD - spend
		status.PercentUsed = spend / l.monthlyBudgetUSD * 100
		status.ApproachingLimit = status.PercentUsed >= 80
		status.OverBudget = status.PercentUsed >= 100
	}
	return status, nil
}

// DailySpend sums cost for userID over the trailing 24 hours, used by the
// rate limiter's daily-cap check.
func (l *Ledger) DailySpend(ctx domain.Context, userID string) (float64, error) {
	since := time.Now().Add(-24 * time.Hour)
	entries, err := l.store.EntriesSince(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("op=ledger.daily_spend: %w", domain.ErrPersistence)
	}
	var spend float64
	for _, e := range entries {
		spend += e.CostUSD
	}
	return spend, nil
}

// DailyCapUSD returns the configured per-user daily cost cap.
func (l *Ledger) DailyCapUSD() float64 { return l.dailyCapUSD }

// Stats aggregates usage by worker and by model over [from, to), optionally
// filtered to a single worker kind.
func (l *Ledger) Stats(ctx domain.Context, userID string, from, to time.Time, workerKind domain.WorkerKind) (domain.LedgerStats, error) {
	entries, err := l.store.EntriesInRange(ctx, userID, from, to, workerKind)
	if err != nil {
		return domain.LedgerStats{}, fmt.Errorf("op=ledger.stats: %w", domain.ErrPersistence)
	}

	stats := domain.LedgerStats{
		ByWorker: make(map[domain.WorkerKind]domain.WorkerStats),
		ByModel:  make(map[string]domain.WorkerStats),
	}
	for _, e := range entries {
		ws := stats.ByWorker[e.WorkerKind]
		ws.Requests++
		ws.PromptTokens += e.PromptTokens
		ws.CompletionTokens += e.CompletionTokens
		ws.CostUSD += e.CostUSD
		stats.ByWorker[e.WorkerKind] = ws

		ms := stats.ByModel[e.Model]
		ms.Requests++
		ms.PromptTokens += e.PromptTokens
		ms.CompletionTokens += e.CompletionTokens
		ms.CostUSD += e.CostUSD
		stats.ByModel[e.Model] = ms
	}
	return stats, nil
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// EstimateTokens estimates the token count of text for the configured
// model, falling back to a whitespace-based heuristic when the model isn't
// recognized by tiktoken's encoding tables. Used for the admission-time
// cost estimate and for the fact-checker's aggregate usage estimate, not
// to paper over a provider response missing its usage block — that
// remains a terminal error.
func EstimateTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return estimateTokensHeuristic(text)
		}
	}
	return len(enc.Encode(text, nil, nil))
}

func estimateTokensHeuristic(text string) int {
	// Roughly 4 characters per token for English prose.
	n := len(text) / 4
	if n < 1 && text != "" {
		n = 1
	}
	return n
}
