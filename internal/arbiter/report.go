package arbiter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/jackzampolin/brieflink/internal/refs"
	"github.com/jackzampolin/brieflink/internal/types"
)

// Report summarizes a set of decisions.
type Report struct {
	Total       int     `json:"total"`
	Linked      int     `json:"linked"`
	NeedsReview int     `json:"needs_review"`
	Coverage    float64 `json:"coverage_percent"`
	BrokenLinks int     `json:"broken_links"`
	// ByType counts decisions per reference type.
	ByType map[types.RefType]TypeCounts `json:"by_type"`
}

// TypeCounts are the per-type decision counts.
type TypeCounts struct {
	Linked      int `json:"linked"`
	NeedsReview int `json:"needs_review"`
}

// NewReport tallies decisions. With anchors, every link is re-checked and a
// link whose destination disagrees with the anchor map counts as broken.
func NewReport(anchors *refs.Anchors, decisions []types.Decision) Report {
	r := Report{Total: len(decisions), ByType: make(map[types.RefType]TypeCounts)}
	for _, d := range decisions {
		c := r.ByType[d.RefType]
		if d.Outcome == types.OutcomeLink {
			r.Linked++
			c.Linked++
			if anchors != nil {
				if page, ok := anchors.Lookup(d.RefType, d.Value); !ok || page != d.DestinationPage {
					r.BrokenLinks++
				}
			}
		} else {
			r.NeedsReview++
			c.NeedsReview++
		}
		r.ByType[d.RefType] = c
	}
	if r.Total > 0 {
		r.Coverage = float64(r.Linked) / float64(r.Total) * 100
	}
	return r
}

// Hash returns a stable sha256 over the decisions, independent of their order.
func Hash(decisions []types.Decision) string {
	lines := make([]string, len(decisions))
	for i, d := range decisions {
		lines[i] = fmt.Sprintf("%s|%d|%s|%s|%s|%d|%s",
			d.SourceDocument, d.SourcePage, d.RefType, d.Value, d.Outcome, d.DestinationPage, d.Reason)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
