package factcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredibilityTable_ExactMatch(t *testing.T) {
	tbl := NewCredibilityTable(nil)
	assert.Equal(t, 0.95, tbl.Score("nature.com"))
	assert.Equal(t, 0.9, tbl.Score("reuters.com"))
}

func TestCredibilityTable_SuffixRules(t *testing.T) {
	tbl := NewCredibilityTable(nil)
	assert.Equal(t, 0.9, tbl.Score("cdc.gov"))
	assert.Equal(t, 0.85, tbl.Score("mit.edu"))
	assert.Equal(t, 0.7, tbl.Score("eff.org"))
}

func TestCredibilityTable_DefaultForUnknownDomain(t *testing.T) {
	tbl := NewCredibilityTable(nil)
	assert.Equal(t, 0.5, tbl.Score("some-random-blog.example"))
}

func TestCredibilityTable_OverrideWinsOverBuiltIn(t *testing.T) {
	tbl := NewCredibilityTable(map[string]float64{"nature.com": 0.1})
	assert.Equal(t, 0.1, tbl.Score("nature.com"))
}

func TestCredibilityTable_MemoizesAndStripsWWW(t *testing.T) {
	tbl := NewCredibilityTable(nil)
	first := tbl.Score("www.nature.com")
	second := tbl.Score("nature.com")
	assert.Equal(t, first, second)
}

func TestDomainFromURL(t *testing.T) {
	assert.Equal(t, "nature.com", DomainFromURL("https://www.nature.com/articles/abc"))
	assert.Equal(t, "not a url", DomainFromURL("not a url"))
}
