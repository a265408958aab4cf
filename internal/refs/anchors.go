package refs

import (
	"sort"
	"strconv"

	"github.com/jackzampolin/brieflink/internal/types"
)

// Anchors maps reference values to single pages in the trial record.
type Anchors struct {
	TrialRecordID string `json:"trial_record_id"`
	// Values holds one sub-map per value-bearing type that has any anchor.
	Values map[types.RefType]map[string]int `json:"values"`
	// Sections holds the sentinel page for each section marker seen.
	Sections map[types.RefType]int `json:"sections"`
	// TotalPages bounds trial record page citations.
	TotalPages int `json:"total_pages"`
}

// NewAnchors creates an empty anchor map for a trial record.
func NewAnchors(trialRecordID string, totalPages int) *Anchors {
	return &Anchors{
		TrialRecordID: trialRecordID,
		Values:        make(map[types.RefType]map[string]int),
		Sections:      make(map[types.RefType]int),
		TotalPages:    totalPages,
	}
}

// Add records page for (t, value) unless an anchor is already set.
// It reports whether the anchor was recorded.
func (a *Anchors) Add(t types.RefType, value string, page int) bool {
	if t.IsSection() {
		if _, ok := a.Sections[t]; ok {
			return false
		}
		a.Sections[t] = page
		return true
	}
	sub, ok := a.Values[t]
	if !ok {
		sub = make(map[string]int)
		a.Values[t] = sub
	}
	if _, ok := sub[value]; ok {
		return false
	}
	sub[value] = page
	return true
}

// Pin sets (t, value) to page, replacing any anchor.
func (a *Anchors) Pin(t types.RefType, value string, page int) {
	value = Normalize(t, value)
	if t.IsSection() {
		a.Sections[t] = page
		return
	}
	sub, ok := a.Values[t]
	if !ok {
		sub = make(map[string]int)
		a.Values[t] = sub
	}
	sub[value] = page
}

// ApplyOverrides pins every override on top of the extracted anchors.
func (a *Anchors) ApplyOverrides(overrides []types.Override) {
	for _, o := range overrides {
		a.Pin(o.RefType, o.Value, o.Page)
	}
}

// HasMap reports whether there is any anchor sub-map for t.
func (a *Anchors) HasMap(t types.RefType) bool {
	switch {
	case t == types.RefTrialRecordCite:
		return a.TotalPages > 0
	case t.IsSection():
		return a.Sections != nil
	}
	_, ok := a.Values[t]
	return ok
}

// Lookup returns the anchor page for (t, value) by exact match.
func (a *Anchors) Lookup(t types.RefType, value string) (int, bool) {
	switch {
	case t == types.RefTrialRecordCite:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > a.TotalPages {
			return 0, false
		}
		return n, true
	case t.IsSection():
		page, ok := a.Sections[t]
		return page, ok
	}
	page, ok := a.Values[t][value]
	return page, ok
}

// Len returns the number of anchors, excluding page citations.
func (a *Anchors) Len() int {
	n := len(a.Sections)
	for _, sub := range a.Values {
		n += len(sub)
	}
	return n
}

// ExtractAnchors scans trial record pages in page order and records the
// first page on which each value appears. Failed pages are ignored.
func ExtractAnchors(trialRecordID string, totalPages int, pages []*types.Page) *Anchors {
	sorted := make([]*types.Page, 0, len(pages))
	for _, p := range pages {
		if p.Status == types.PageCompleted {
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageNumber < sorted[j].PageNumber })

	a := NewAnchors(trialRecordID, totalPages)
	for _, p := range sorted {
		for _, m := range Scan(p.Text) {
			if !Anchorable(m.RefType) {
				continue
			}
			a.Add(m.RefType, m.Value, p.PageNumber)
		}
	}
	return a
}
