package factcheck

import (
	"fmt"

	"github.com/scribeforge/orchestrator/internal/domain"
)

// minCredibilityForConflict and minRelevanceForConflict gate when a
// disputed/false/misleading verdict is worth surfacing as a conflict: a
// credible, relevant source must actually back the disagreement, or the
// finding is noise.
const (
	minCredibilityForConflict = 0.6
	minRelevanceForConflict   = 0.5
)

// DetectConflicts scans verdicts for claims the evidence disputes and
// returns one ConflictingInformation per such claim that clears the
// credibility/relevance bar on at least one of its sources.
func DetectConflicts(claims []domain.FactualClaim, results []domain.FactCheckResult) []domain.ConflictingInformation {
	claimByID := make(map[string]domain.FactualClaim, len(claims))
	for _, c := range claims {
		claimByID[c.ID] = c
	}

	var conflicts []domain.ConflictingInformation
	for _, r := range results {
		if !disputedStatus(r.Status) {
			continue
		}
		backing := backingSources(r.Sources)
		if len(backing) == 0 {
			continue
		}
		conflicts = append(conflicts, domain.ConflictingInformation{
			ClaimID:        r.ClaimID,
			Kind:           conflictKindFor(r.Status),
			Sources:        backing,
			Explanation:    explanationFor(claimByID[r.ClaimID], r),
			Recommendation: recommendationFor(r.Status),
		})
	}
	return conflicts
}

func disputedStatus(s domain.VerificationStatus) bool {
	switch s {
	case domain.StatusDisputed, domain.StatusFalse, domain.StatusMisleading:
		return true
	}
	return false
}

func backingSources(sources []domain.SourceReference) []domain.SourceReference {
	var backing []domain.SourceReference
	for _, s := range sources {
		if s.Credibility > minCredibilityForConflict && s.Relevance > minRelevanceForConflict {
			backing = append(backing, s)
		}
	}
	return backing
}

func conflictKindFor(status domain.VerificationStatus) domain.ConflictKind {
	switch status {
	case domain.StatusFalse:
		return domain.ConflictContradictory
	case domain.StatusMisleading:
		return domain.ConflictOutdated
	default:
		return domain.ConflictDisputed
	}
}

func explanationFor(claim domain.FactualClaim, r domain.FactCheckResult) string {
	if r.Explanation != "" {
		return r.Explanation
	}
	return fmt.Sprintf("credible sources disagree with the claim %q", claim.Text)
}

func recommendationFor(status domain.VerificationStatus) string {
	switch status {
	case domain.StatusFalse:
		return "remove or correct this statement before publishing"
	case domain.StatusMisleading:
		return "add context or a more current source to avoid misleading readers"
	default:
		return "review the cited sources and consider rephrasing to reflect the disagreement"
	}
}
