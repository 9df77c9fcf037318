package factcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/orchestrator/internal/domain"
)

func TestDetectConflicts_EmitsForFalseStatusWithBackingSource(t *testing.T) {
	claims := []domain.FactualClaim{{ID: "c1", Text: "the earth is flat"}}
	results := []domain.FactCheckResult{{
		ClaimID: "c1",
		Status:  domain.StatusFalse,
		Sources: []domain.SourceReference{{Domain: "nature.com", Credibility: 0.95, Relevance: 0.9}},
	}}
	conflicts := DetectConflicts(claims, results)
	require.Len(t, conflicts, 1)
	assert.Equal(t, domain.ConflictContradictory, conflicts[0].Kind)
}

func TestDetectConflicts_SkipsWhenNoBackingSource(t *testing.T) {
	claims := []domain.FactualClaim{{ID: "c1", Text: "x"}}
	results := []domain.FactCheckResult{{
		ClaimID: "c1",
		Status:  domain.StatusDisputed,
		Sources: []domain.SourceReference{{Domain: "example.com", Credibility: 0.3, Relevance: 0.2}},
	}}
	conflicts := DetectConflicts(claims, results)
	assert.Empty(t, conflicts)
}

func TestDetectConflicts_SkipsVerifiedClaims(t *testing.T) {
	claims := []domain.FactualClaim{{ID: "c1", Text: "x"}}
	results := []domain.FactCheckResult{{
		ClaimID: "c1",
		Status:  domain.StatusVerified,
		Sources: []domain.SourceReference{{Domain: "nature.com", Credibility: 0.95, Relevance: 0.9}},
	}}
	conflicts := DetectConflicts(claims, results)
	assert.Empty(t, conflicts)
}

func TestDetectConflicts_MisleadingMapsToOutdated(t *testing.T) {
	claims := []domain.FactualClaim{{ID: "c1", Text: "x"}}
	results := []domain.FactCheckResult{{
		ClaimID: "c1",
		Status:  domain.StatusMisleading,
		Sources: []domain.SourceReference{{Domain: "reuters.com", Credibility: 0.9, Relevance: 0.8}},
	}}
	conflicts := DetectConflicts(claims, results)
	require.Len(t, conflicts, 1)
	assert.Equal(t, domain.ConflictOutdated, conflicts[0].Kind)
}
