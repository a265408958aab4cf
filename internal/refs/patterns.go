// Package refs defines the cross-reference marker vocabulary and extracts
// anchors from a trial record and hits from briefs.
package refs

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackzampolin/brieflink/internal/types"
)

// Keywords match case-insensitively. Values are case-sensitive except for
// single-letter exhibits, so that "exhibit to" is not read as Exhibit "TO"
// while OCR output like "exhibit a" still is Exhibit "A".
var patterns = []struct {
	refType types.RefType
	re      *regexp.Regexp
}{
	{types.RefExhibit, regexp.MustCompile(`\b(?i:exhibit)\s+([A-Z]{1,3}(?:-\d+)?|[a-z](?:-\d+)?|\d+)\b`)},
	{types.RefTab, regexp.MustCompile(`\b(?i:tab)\s+(\d{1,3})\b`)},
	{types.RefSchedule, regexp.MustCompile(`\b(?i:schedule)\s+([A-Z0-9]{1,3})\b`)},
	{types.RefAffidavit, regexp.MustCompile(`\b(?i:affidavit\s+of)\s+([A-Z][A-Za-z]+(?:[ \t]+[A-Z][A-Za-z]+)+)`)},
	{types.RefUndertakings, regexp.MustCompile(`(?i)\bundertakings?\b`)},
	{types.RefRefusals, regexp.MustCompile(`(?i)\brefusals?\b`)},
	{types.RefUnderAdvisement, regexp.MustCompile(`(?i)\bunder\s+advisement\b`)},
	{types.RefTrialRecordCite, regexp.MustCompile(`(?i)\b(?:TR|Trial\s+Record)\s*(?:p\.|pp\.|pages?)?\s*(\d{1,4})\b`)},
}

var spaceRun = regexp.MustCompile(`\s+`)

// Match is one marker occurrence in a page's text.
type Match struct {
	RefType types.RefType
	Value   string // normalized
	Text    string // the matched text as written
	Start   int    // byte offsets into the page text
	End     int
}

// Scan returns every marker occurrence in text, ordered by position.
func Scan(text string) []Match {
	var out []Match
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			raw := ""
			if len(loc) >= 4 && loc[2] >= 0 {
				raw = text[loc[2]:loc[3]]
			}
			if p.refType == types.RefExhibit && strings.EqualFold(raw, "no") {
				continue
			}
			out = append(out, Match{
				RefType: p.refType,
				Value:   Normalize(p.refType, raw),
				Text:    text[loc[0]:loc[1]],
				Start:   loc[0],
				End:     loc[1],
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Normalize canonicalizes a reference value so hits and anchors compare by
// exact string equality. Section types normalize to their own name.
func Normalize(t types.RefType, value string) string {
	value = strings.TrimSpace(value)
	switch t {
	case types.RefExhibit, types.RefSchedule:
		return strings.ToUpper(value)
	case types.RefTab, types.RefTrialRecordCite:
		if n, err := strconv.Atoi(value); err == nil {
			return strconv.Itoa(n)
		}
		return value
	case types.RefAffidavit:
		return strings.ToUpper(spaceRun.ReplaceAllString(value, " "))
	case types.RefUndertakings, types.RefRefusals, types.RefUnderAdvisement:
		return string(t)
	}
	return value
}

// Anchorable reports whether t is looked up in trial record text. Trial
// record citations resolve against the page count instead.
func Anchorable(t types.RefType) bool {
	return t != types.RefTrialRecordCite
}

// Pinnable reports whether t is an anchor type an override can pin.
func Pinnable(t types.RefType) bool {
	for _, p := range patterns {
		if p.refType == t {
			return Anchorable(t)
		}
	}
	return false
}
