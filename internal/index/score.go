// Package index finds a document's own table of contents in its cached OCR
// text and parses it into ordered index items.
package index

import (
	"regexp"
	"sort"
	"strings"
)

// Weights are the page-scoring and parsing tunables.
type Weights struct {
	SearchCeiling  int     `mapstructure:"search_ceiling" yaml:"search_ceiling"`
	StrongKeyword  int     `mapstructure:"strong_keyword" yaml:"strong_keyword"`
	PatternMatch   int     `mapstructure:"pattern_match" yaml:"pattern_match"`
	PatternBonus   int     `mapstructure:"pattern_bonus" yaml:"pattern_bonus"`
	PatternBonusAt int     `mapstructure:"pattern_bonus_at" yaml:"pattern_bonus_at"`
	LegalKeyword   int     `mapstructure:"legal_keyword" yaml:"legal_keyword"`
	LegalDensity   int     `mapstructure:"legal_density" yaml:"legal_density"`
	PageRef        int     `mapstructure:"page_ref" yaml:"page_ref"`
	PageRefDensity int     `mapstructure:"page_ref_density" yaml:"page_ref_density"`
	Cutoff         int     `mapstructure:"cutoff" yaml:"cutoff"`
	TopPages       int     `mapstructure:"top_pages" yaml:"top_pages"`
	DedupThreshold float64 `mapstructure:"dedup_threshold" yaml:"dedup_threshold"`
}

// DefaultWeights returns the stock scoring weights.
func DefaultWeights() Weights {
	return Weights{
		SearchCeiling:  15,
		StrongKeyword:  15,
		PatternMatch:   3,
		PatternBonus:   10,
		PatternBonusAt: 5,
		LegalKeyword:   2,
		LegalDensity:   2,
		PageRef:        1,
		PageRefDensity: 3,
		Cutoff:         10,
		TopPages:       5,
		DedupThreshold: 0.8,
	}
}

// withDefaults fills zero fields from DefaultWeights.
func (w Weights) withDefaults() Weights {
	d := DefaultWeights()
	if w.SearchCeiling <= 0 {
		w.SearchCeiling = d.SearchCeiling
	}
	if w.StrongKeyword == 0 {
		w.StrongKeyword = d.StrongKeyword
	}
	if w.PatternMatch == 0 {
		w.PatternMatch = d.PatternMatch
	}
	if w.PatternBonus == 0 {
		w.PatternBonus = d.PatternBonus
	}
	if w.PatternBonusAt <= 0 {
		w.PatternBonusAt = d.PatternBonusAt
	}
	if w.LegalKeyword == 0 {
		w.LegalKeyword = d.LegalKeyword
	}
	if w.LegalDensity <= 0 {
		w.LegalDensity = d.LegalDensity
	}
	if w.PageRef == 0 {
		w.PageRef = d.PageRef
	}
	if w.PageRefDensity <= 0 {
		w.PageRefDensity = d.PageRefDensity
	}
	if w.Cutoff <= 0 {
		w.Cutoff = d.Cutoff
	}
	if w.TopPages <= 0 {
		w.TopPages = d.TopPages
	}
	if w.DedupThreshold <= 0 {
		w.DedupThreshold = d.DedupThreshold
	}
	return w
}

var strongKeywords = []string{
	"table of contents",
	"index",
	"application record",
	"trial record",
	"motion record",
	"appeal book",
	"list of exhibits",
	"index of tabs",
}

var legalKeywords = regexp.MustCompile(`(?i)\b(affidavits?|motions?|pleadings?|orders?|notices?|factums?|transcripts?|exhibits?|endorsements?|statements?\s+of\s+claim|applications?)\b`)

var (
	itemPatterns   = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*\d{1,3}[.)]\s+\S`),
		regexp.MustCompile(`(?i)\btab\s+\d{1,3}\b`),
		regexp.MustCompile(`(?i)\bexhibit\s+[A-Z0-9]{1,3}\b`),
	}
	pageRefPattern = regexp.MustCompile(`(?i)\bpages?\s+\d{1,4}\b`)
)

// ScorePage rates how much text looks like an index page.
func ScorePage(text string, w Weights) int {
	w = w.withDefaults()
	lower := strings.ToLower(text)
	score := 0

	for _, kw := range strongKeywords {
		if strings.Contains(lower, kw) {
			score += w.StrongKeyword
		}
	}

	patterns := 0
	for _, re := range itemPatterns {
		patterns += len(re.FindAllStringIndex(text, -1))
	}
	score += patterns * w.PatternMatch
	if patterns >= w.PatternBonusAt {
		score += w.PatternBonus
	}

	if legal := len(legalKeywords.FindAllStringIndex(text, -1)); legal >= w.LegalDensity {
		score += w.LegalKeyword * legal
	}
	if refs := len(pageRefPattern.FindAllStringIndex(text, -1)); refs >= w.PageRefDensity {
		score += w.PageRef * refs
	}
	return score
}

// PageScore is a scored page.
type PageScore struct {
	Page  int `json:"page"`
	Score int `json:"score"`
}

// candidates returns the top-scoring pages at or above the cutoff, highest
// score first, ties broken by lower page.
func candidates(scores []PageScore, w Weights) []PageScore {
	var out []PageScore
	for _, s := range scores {
		if s.Score >= w.Cutoff {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Page < out[j].Page
	})
	if len(out) > w.TopPages {
		out = out[:w.TopPages]
	}
	return out
}
