package types

import "strings"

// RefType is a cross-reference vocabulary type.
type RefType string

const (
	RefExhibit         RefType = "exhibit"
	RefTab             RefType = "tab"
	RefSchedule        RefType = "schedule"
	RefAffidavit       RefType = "affidavit"
	RefUndertakings    RefType = "undertakings"
	RefRefusals        RefType = "refusals"
	RefUnderAdvisement RefType = "under_advisement"
	RefTrialRecordCite RefType = "tr_cite"

	// Index-only types.
	RefForm   RefType = "form"
	RefMotion RefType = "motion"
	RefOther  RefType = "other"
)

// IsSection reports whether the type is a section marker anchored by a single sentinel page.
func (t RefType) IsSection() bool {
	switch t {
	case RefUndertakings, RefRefusals, RefUnderAdvisement:
		return true
	}
	return false
}

// Label returns the human form used in review reasons, e.g. "Exhibit".
func (t RefType) Label() string {
	switch t {
	case RefUnderAdvisement:
		return "Under advisement"
	case RefTrialRecordCite:
		return "Trial record page"
	case "":
		return ""
	}
	s := string(t)
	return strings.ToUpper(s[:1]) + s[1:]
}

// IndexItem is one parsed entry from a document's own table of contents.
type IndexItem struct {
	DocumentID string  `json:"document_id"`
	Position   int     `json:"position"`
	Ordinal    *int    `json:"ordinal,omitempty"`
	Label      string  `json:"label"`
	RawLine    string  `json:"raw_line"`
	PageHint   int     `json:"page_hint"`
	Confidence float64 `json:"confidence"`
	RefType    RefType `json:"ref_type"`
}

// Rect is an axis-aligned bounding rectangle in page image coordinates.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Hit is one candidate cross-reference occurrence found in a brief.
type Hit struct {
	SourceDocument string  `json:"source_document"`
	SourcePage     int     `json:"source_page"`
	RefType        RefType `json:"ref_type"`
	Value          string  `json:"value"`
	Snippet        string  `json:"snippet,omitempty"`
	Rects          []Rect  `json:"rects,omitempty"`
}

// Outcome is the arbiter's verdict for a hit.
type Outcome string

const (
	OutcomeLink        Outcome = "link"
	OutcomeNeedsReview Outcome = "needs_review"
)

// Decision is the arbiter's verdict for one hit.
type Decision struct {
	SourceDocument  string  `json:"source_document"`
	SourcePage      int     `json:"source_page"`
	RefType         RefType `json:"ref_type"`
	Value           string  `json:"value"`
	Outcome         Outcome `json:"outcome"`
	DestinationPage int     `json:"destination_page,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	Snippet         string  `json:"snippet,omitempty"`
	Rects           []Rect  `json:"rects,omitempty"`
}

// Override pins an anchor value in the trial record to an explicit page.
type Override struct {
	TrialRecordID string  `json:"trial_record_id"`
	RefType       RefType `json:"ref_type"`
	Value         string  `json:"value"`
	Page          int     `json:"page"`
}
