package refs

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackzampolin/brieflink/internal/types"
)

func page(n int, text string) *types.Page {
	return &types.Page{PageNumber: n, Text: text, Status: types.PageCompleted}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string // "type:value"
	}{
		{"exhibit letter", "see Exhibit A attached", []string{"exhibit:A"}},
		{"exhibit lowercase keyword", "as shown in exhibit B-2.", []string{"exhibit:B-2"}},
		{"exhibit number", "Exhibit 14", []string{"exhibit:14"}},
		{"exhibit no rejected", "Exhibit No. 4 and EXHIBIT NO", nil},
		{"exhibit prose not a value", "the exhibit to the affidavit", nil},
		{"exhibit lowercase letter", "exhibit a and exhibit b-2", []string{"exhibit:A", "exhibit:B-2"}},
		{"exhibit lowercase word", "an exhibit attached hereto", nil},
		{"tab leading zeros", "Tab 007", []string{"tab:7"}},
		{"tab too long", "Tab 1234", nil},
		{"schedule", "Schedule C1 and schedule 4", []string{"schedule:C1", "schedule:4"}},
		{"affidavit", "Affidavit of John  Smith, sworn", []string{"affidavit:JOHN SMITH"}},
		{"affidavit heading", "AFFIDAVIT OF JOHN SMITH", []string{"affidavit:JOHN SMITH"}},
		{"affidavit single name", "Affidavit of Smith", nil},
		{"sections", "Undertakings, refusals and matters under advisement",
			[]string{"undertakings:undertakings", "refusals:refusals", "under_advisement:under_advisement"}},
		{"tr cite", "at TR p. 45 and Trial Record page 0012", []string{"tr_cite:45", "tr_cite:12"}},
		{"ordered by position", "Tab 2 then Exhibit C then Tab 1", []string{"tab:2", "exhibit:C", "tab:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, m := range Scan(tt.text) {
				got = append(got, string(m.RefType)+":"+m.Value)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Scan(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractAnchors(t *testing.T) {
	pages := []*types.Page{
		page(3, "Tab 1 repeated here"),
		page(1, "Index: nothing to see"),
		page(2, "TAB 1 Affidavit of Jane Doe"),
		page(4, "Exhibit A"),
		{PageNumber: 5, Text: "Exhibit B", Status: types.PageFailed},
		page(6, "Refusals"),
		page(7, "Exhibit A again"),
	}
	a := ExtractAnchors("tr", 10, pages)

	if p, ok := a.Lookup(types.RefTab, "1"); !ok || p != 2 {
		t.Errorf("Tab 1 = %d, %v; want first occurrence on page 2", p, ok)
	}
	if p, ok := a.Lookup(types.RefExhibit, "A"); !ok || p != 4 {
		t.Errorf("Exhibit A = %d, %v; want 4", p, ok)
	}
	if _, ok := a.Lookup(types.RefExhibit, "B"); ok {
		t.Error("failed pages must not contribute anchors")
	}
	if p, ok := a.Lookup(types.RefRefusals, "refusals"); !ok || p != 6 {
		t.Errorf("refusals = %d, %v", p, ok)
	}
	if a.HasMap(types.RefSchedule) {
		t.Error("schedule has no anchors, so no sub-map")
	}
	if p, ok := a.Lookup(types.RefTrialRecordCite, "10"); !ok || p != 10 {
		t.Errorf("TR 10 = %d, %v", p, ok)
	}
	if _, ok := a.Lookup(types.RefTrialRecordCite, "11"); ok {
		t.Error("TR 11 is past the end of a 10-page record")
	}

	a.ApplyOverrides([]types.Override{{RefType: types.RefTab, Value: "01", Page: 3}})
	if p, _ := a.Lookup(types.RefTab, "1"); p != 3 {
		t.Errorf("override not applied, Tab 1 = %d", p)
	}
}

func TestAffidavitHeadingMatchesCitation(t *testing.T) {
	a := ExtractAnchors("tr", 10, []*types.Page{
		page(6, "Index"),
		page(7, "AFFIDAVIT OF JOHN SMITH"),
	})
	hits := PageHits("brief", page(1, "the Affidavit of John Smith, sworn"))
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if p, ok := a.Lookup(hits[0].RefType, hits[0].Value); !ok || p != 7 {
		t.Errorf("Lookup(%s, %q) = %d, %v; want page 7", hits[0].RefType, hits[0].Value, p, ok)
	}

	a.ApplyOverrides([]types.Override{{RefType: types.RefAffidavit, Value: "John  Smith", Page: 9}})
	if p, _ := a.Lookup(types.RefAffidavit, "JOHN SMITH"); p != 9 {
		t.Errorf("override in title case not applied, page = %d", p)
	}
}

func TestExtractHits(t *testing.T) {
	words := []types.Word{
		{Text: "See", Polygon: []types.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}},
		{Text: "Tab", Polygon: []types.Point{{X: 20, Y: 0}, {X: 40, Y: 0}, {X: 40, Y: 12}, {X: 20, Y: 12}}},
		{Text: "3,", Polygon: []types.Point{{X: 45, Y: 1}, {X: 55, Y: 1}, {X: 55, Y: 13}, {X: 45, Y: 13}}},
		{Text: "and", Polygon: []types.Point{{X: 60, Y: 0}, {X: 70, Y: 10}}},
		{Text: "Tab", Polygon: []types.Point{{X: 80, Y: 0}, {X: 90, Y: 10}}},
		{Text: "3", Polygon: []types.Point{{X: 95, Y: 0}, {X: 99, Y: 10}}},
	}
	brief := DocumentPages{ID: "b1", Pages: []*types.Page{
		{PageNumber: 1, Text: "See Tab 3, and Tab 3", Status: types.PageCompleted, Words: words},
		{PageNumber: 2, Text: "Exhibit Q", Status: types.PageFailed},
	}}

	hits, err := ExtractHits("tr", []DocumentPages{brief})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (repeats kept, failed pages skipped)", len(hits))
	}
	want := types.Rect{X0: 20, Y0: 0, X1: 55, Y1: 13}
	if len(hits[0].Rects) != 1 || hits[0].Rects[0] != want {
		t.Errorf("first rect = %+v, want %+v", hits[0].Rects, want)
	}
	if len(hits[1].Rects) != 1 || hits[1].Rects[0].X0 != 80 {
		t.Errorf("second rect = %+v, want the second occurrence", hits[1].Rects)
	}
	if hits[0].Snippet != "See Tab 3, and Tab 3" {
		t.Errorf("snippet = %q", hits[0].Snippet)
	}

	if _, err := ExtractHits("tr", []DocumentPages{{ID: "tr"}}); !errors.Is(err, ErrTrialRecordInBriefs) {
		t.Errorf("err = %v, want ErrTrialRecordInBriefs", err)
	}
}

func TestSnippetRadius(t *testing.T) {
	text := strings.Repeat("a", 100) + " Exhibit K " + strings.Repeat("b", 100)
	hits := PageHits("b", page(1, text))
	if len(hits) != 1 {
		t.Fatalf("hits = %d", len(hits))
	}
	s := hits[0].Snippet
	if !strings.Contains(s, "Exhibit K") || len(s) > len("Exhibit K")+2*snippetRadius+2 {
		t.Errorf("snippet %q has wrong extent", s)
	}
}
