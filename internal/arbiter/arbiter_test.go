package arbiter

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/jackzampolin/brieflink/internal/refs"
	"github.com/jackzampolin/brieflink/internal/types"
)

func hit(t types.RefType, value string) types.Hit {
	return types.Hit{SourceDocument: "brief", SourcePage: 1, RefType: t, Value: value}
}

func TestArbitrate(t *testing.T) {
	anchors := refs.NewAnchors("tr", 50)
	anchors.Add(types.RefExhibit, "A", 7)
	anchors.Add(types.RefTab, "3", 12)
	anchors.Add(types.RefUndertakings, "undertakings", 30)

	tests := []struct {
		name    string
		hit     types.Hit
		outcome types.Outcome
		dest    int
		reason  string
	}{
		{"exhibit linked", hit(types.RefExhibit, "A"), types.OutcomeLink, 7, reasonExact},
		{"exhibit missing value", hit(types.RefExhibit, "Z"), types.OutcomeNeedsReview, 0, "no anchor found for Exhibit Z"},
		{"no sub-map", hit(types.RefSchedule, "B"), types.OutcomeNeedsReview, 0, "no anchor map for type schedule"},
		{"section linked", hit(types.RefUndertakings, "undertakings"), types.OutcomeLink, 30, reasonSection},
		{"section missing", hit(types.RefRefusals, "refusals"), types.OutcomeNeedsReview, 0, "no section anchor for refusals"},
		{"tr cite in range", hit(types.RefTrialRecordCite, "50"), types.OutcomeLink, 50, reasonCite},
		{"tr cite out of range", hit(types.RefTrialRecordCite, "51"), types.OutcomeNeedsReview, 0, "no anchor found for Trial record page 51"},
		{"no fuzzy match", hit(types.RefTab, "03"), types.OutcomeNeedsReview, 0, "no anchor found for Tab 03"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Arbitrate(anchors, []types.Hit{tt.hit})
			if len(got) != 1 {
				t.Fatalf("got %d decisions", len(got))
			}
			d := got[0]
			if d.Outcome != tt.outcome || d.DestinationPage != tt.dest || d.Reason != tt.reason {
				t.Errorf("decision = %s/%d/%q, want %s/%d/%q", d.Outcome, d.DestinationPage, d.Reason, tt.outcome, tt.dest, tt.reason)
			}
		})
	}
}

func TestArbitrateAcrossCase(t *testing.T) {
	anchors := refs.ExtractAnchors("tr", 20, []*types.Page{
		{PageNumber: 7, Text: "AFFIDAVIT OF JOHN SMITH", Status: types.PageCompleted},
		{PageNumber: 9, Text: "EXHIBIT C", Status: types.PageCompleted},
	})
	hits := refs.PageHits("brief", &types.Page{
		PageNumber: 3,
		Text:       "the Affidavit of John Smith, sworn, at exhibit c",
		Status:     types.PageCompleted,
	})
	got := Arbitrate(anchors, hits)
	if len(got) != 2 {
		t.Fatalf("decisions = %+v, want 2", got)
	}
	for i, want := range []int{7, 9} {
		if got[i].Outcome != types.OutcomeLink || got[i].DestinationPage != want {
			t.Errorf("decision %d = %s/%d %q, want link to %d", i, got[i].Outcome, got[i].DestinationPage, got[i].Reason, want)
		}
	}
}

func TestScenarioExhibitZ(t *testing.T) {
	anchors := refs.NewAnchors("tr", 10)
	anchors.Add(types.RefExhibit, "A", 2)

	got := Arbitrate(anchors, []types.Hit{hit(types.RefExhibit, "Z")})
	if len(got) != 1 || got[0].Outcome != types.OutcomeNeedsReview {
		t.Fatalf("decisions = %+v", got)
	}
	if !strings.Contains(got[0].Reason, "no anchor found for Exhibit Z") {
		t.Errorf("reason = %q", got[0].Reason)
	}
}

func TestArbitrateSoundAndTotal(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	kinds := []types.RefType{
		types.RefExhibit, types.RefTab, types.RefSchedule, types.RefAffidavit,
		types.RefUndertakings, types.RefRefusals, types.RefUnderAdvisement, types.RefTrialRecordCite,
	}

	for round := range 50 {
		anchors := refs.NewAnchors("tr", rng.IntN(40))
		for range rng.IntN(30) {
			k := kinds[rng.IntN(len(kinds)-1)]
			anchors.Add(k, fmt.Sprint(rng.IntN(10)), 1+rng.IntN(40))
		}
		hits := make([]types.Hit, rng.IntN(60))
		for i := range hits {
			hits[i] = hit(kinds[rng.IntN(len(kinds))], fmt.Sprint(rng.IntN(12)))
		}

		decisions := Arbitrate(anchors, hits)
		if len(decisions) != len(hits) {
			t.Fatalf("round %d: %d decisions for %d hits", round, len(decisions), len(hits))
		}
		for i, d := range decisions {
			h := hits[i]
			if d.RefType != h.RefType || d.Value != h.Value || d.SourceDocument != h.SourceDocument {
				t.Fatalf("round %d: decision %d does not match its hit", round, i)
			}
			page, ok := anchors.Lookup(h.RefType, h.Value)
			ok = ok && anchors.HasMap(h.RefType)
			switch {
			case d.Outcome == types.OutcomeLink && (!ok || page != d.DestinationPage):
				t.Fatalf("round %d: unsound link %+v (anchor %d, %v)", round, d, page, ok)
			case d.Outcome == types.OutcomeNeedsReview && ok:
				t.Fatalf("round %d: anchored hit sent to review %+v", round, d)
			}
		}
		if r := NewReport(anchors, decisions); r.BrokenLinks != 0 || r.Linked+r.NeedsReview != r.Total {
			t.Fatalf("round %d: report = %+v", round, r)
		}
	}
}

func TestReportAndHash(t *testing.T) {
	anchors := refs.NewAnchors("tr", 10)
	anchors.Add(types.RefTab, "1", 4)
	decisions := Arbitrate(anchors, []types.Hit{hit(types.RefTab, "1"), hit(types.RefTab, "2"), hit(types.RefTab, "1")})

	r := NewReport(anchors, decisions)
	if r.Total != 3 || r.Linked != 2 || r.NeedsReview != 1 || r.BrokenLinks != 0 {
		t.Errorf("report = %+v", r)
	}
	if r.Coverage < 66.6 || r.Coverage > 66.7 {
		t.Errorf("coverage = %v", r.Coverage)
	}
	if c := r.ByType[types.RefTab]; c.Linked != 2 || c.NeedsReview != 1 {
		t.Errorf("by type = %+v", c)
	}

	tampered := append([]types.Decision(nil), decisions...)
	tampered[0].DestinationPage = 9
	if NewReport(anchors, tampered).BrokenLinks != 1 {
		t.Error("a link that disagrees with the anchor map must count as broken")
	}

	reversed := []types.Decision{decisions[2], decisions[1], decisions[0]}
	if Hash(decisions) != Hash(reversed) {
		t.Error("hash must not depend on decision order")
	}
	if Hash(decisions) == Hash(tampered) {
		t.Error("hash must change with decision content")
	}
	if got := NewReport(nil, nil); got.Total != 0 || got.Coverage != 0 {
		t.Errorf("empty report = %+v", got)
	}
}
