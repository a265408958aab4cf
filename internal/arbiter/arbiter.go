// Package arbiter decides, for every reference hit in a brief, whether it can
// be linked to a verified anchor in the trial record or must go to review.
package arbiter

import (
	"fmt"

	"github.com/jackzampolin/brieflink/internal/refs"
	"github.com/jackzampolin/brieflink/internal/types"
)

const (
	reasonExact   = "exact anchor match"
	reasonSection = "section anchor"
	reasonCite    = "trial record page"
)

// Arbitrate returns exactly one decision per hit, in hit order. A link is
// emitted only when the hit's (type, value) has an anchor; its destination
// is that anchor's page. Nothing is guessed.
func Arbitrate(anchors *refs.Anchors, hits []types.Hit) []types.Decision {
	decisions := make([]types.Decision, 0, len(hits))
	for _, h := range hits {
		decisions = append(decisions, decide(anchors, h))
	}
	return decisions
}

func decide(anchors *refs.Anchors, h types.Hit) types.Decision {
	d := types.Decision{
		SourceDocument: h.SourceDocument,
		SourcePage:     h.SourcePage,
		RefType:        h.RefType,
		Value:          h.Value,
		Snippet:        h.Snippet,
		Rects:          h.Rects,
		Outcome:        types.OutcomeNeedsReview,
	}

	if anchors == nil || !anchors.HasMap(h.RefType) {
		d.Reason = fmt.Sprintf("no anchor map for type %s", h.RefType)
		return d
	}

	page, ok := anchors.Lookup(h.RefType, h.Value)
	switch {
	case !ok && h.RefType.IsSection():
		d.Reason = fmt.Sprintf("no section anchor for %s", h.RefType)
	case !ok:
		d.Reason = fmt.Sprintf("no anchor found for %s %s", h.RefType.Label(), h.Value)
	default:
		d.Outcome = types.OutcomeLink
		d.DestinationPage = page
		switch {
		case h.RefType.IsSection():
			d.Reason = reasonSection
		case h.RefType == types.RefTrialRecordCite:
			d.Reason = reasonCite
		default:
			d.Reason = reasonExact
		}
	}
	return d
}
