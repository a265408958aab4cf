package index

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jackzampolin/brieflink/internal/types"
)

const minLineLength = 10

// Confidence assigned per parse rule.
const (
	confNumbered = 0.9
	confTab      = 0.95
	confExhibit  = 0.9
	confKeyword  = 0.6
)

var (
	numberedLine = regexp.MustCompile(`^(\d{1,3}|[A-Za-z])[.)]\s+(.+)$`)
	tabLine      = regexp.MustCompile(`(?i)^tab\s+(\d{1,3}|[A-Z])\b[\s.:\-–]*(.*)$`)
	exhibitLine  = regexp.MustCompile(`(?i)^exhibit\s+(\d{1,3}|[A-Z])\b[\s.:\-–]*(.*)$`)
	trailingPage = regexp.MustCompile(`(?:\s*[.·…_]{2,}\s*|\s{2,}|\t+)(\d{1,4})$`)
	noiseWords   = regexp.MustCompile(`(?i)\b(pages?|filed|court)\b`)
	addressWords = regexp.MustCompile(`(?i)\b(street|avenue|ave\.|road|suite|floor|boulevard|blvd|p\.o\. box|postal code)\b`)
)

var noisePhrases = []string{
	"between:",
	"and:",
	"lawyers for",
	"barristers",
	"solicitors",
	"tel:",
	"fax:",
	"email:",
	"@",
	"www.",
}

// documentTypes maps legal document keywords to the item's reference type.
// Order matters: the first keyword found wins.
var documentTypes = []struct {
	keyword string
	refType types.RefType
}{
	{"affidavit", types.RefAffidavit},
	{"exhibit", types.RefExhibit},
	{"schedule", types.RefSchedule},
	{"notice of motion", types.RefMotion},
	{"motion", types.RefMotion},
	{"form ", types.RefForm},
	{"statement of claim", types.RefOther},
	{"statement of defence", types.RefOther},
	{"notice of application", types.RefOther},
	{"order", types.RefOther},
	{"factum", types.RefOther},
	{"transcript", types.RefOther},
	{"endorsement", types.RefOther},
	{"pleading", types.RefOther},
}

// isNoise reports whether a line is too short or is header, filing, contact
// or address boilerplate. A trailing page hint is not a noise word.
func isNoise(line string) bool {
	if len(line) < minLineLength {
		return true
	}
	lower := strings.ToLower(line)
	for _, p := range noisePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, kw := range strongKeywords {
		if lower == kw {
			return true
		}
	}
	body, _ := splitPageHint(line)
	return noiseWords.MatchString(body) || addressWords.MatchString(line)
}

// ParseLine parses one index line. Rules are tried in order: numbered item,
// "Tab X", "Exhibit X", then a legal document keyword.
func ParseLine(raw string) (types.IndexItem, bool) {
	line := strings.TrimSpace(raw)
	if isNoise(line) {
		return types.IndexItem{}, false
	}

	var (
		item  types.IndexItem
		label string
	)
	if m := numberedLine.FindStringSubmatch(line); m != nil {
		item.Ordinal = ordinal(m[1])
		label = m[2]
		item.Confidence = confNumbered
		item.RefType = classify(label)
	} else if m := tabLine.FindStringSubmatch(line); m != nil {
		item.Ordinal = ordinal(m[1])
		label = m[2]
		if label == "" {
			label = "Tab " + m[1]
		}
		item.Confidence = confTab
		item.RefType = types.RefTab
	} else if m := exhibitLine.FindStringSubmatch(line); m != nil {
		item.Ordinal = ordinal(m[1])
		label = m[2]
		if label == "" {
			label = "Exhibit " + strings.ToUpper(m[1])
		}
		item.Confidence = confExhibit
		item.RefType = types.RefExhibit
	} else if t, ok := documentType(line); ok {
		label = line
		item.Confidence = confKeyword
		item.RefType = t
	} else {
		return types.IndexItem{}, false
	}

	label, item.PageHint = splitPageHint(label)
	if label == "" {
		return types.IndexItem{}, false
	}
	item.Label = label
	item.RawLine = line
	return item, true
}

// ordinal reads "12" as 12 and a single letter as its alphabet position.
func ordinal(s string) *int {
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	r := unicode.ToUpper(rune(s[0]))
	if r < 'A' || r > 'Z' {
		return nil
	}
	n := int(r-'A') + 1
	return &n
}

func classify(label string) types.RefType {
	if t, ok := documentType(label); ok {
		return t
	}
	return types.RefOther
}

func documentType(line string) (types.RefType, bool) {
	lower := strings.ToLower(line) + " "
	for _, d := range documentTypes {
		if strings.Contains(lower, d.keyword) {
			return d.refType, true
		}
	}
	return "", false
}

// splitPageHint strips a page number set off by dot leaders or a wide gap.
func splitPageHint(label string) (string, int) {
	label = strings.TrimSpace(label)
	loc := trailingPage.FindStringSubmatchIndex(label)
	if loc == nil {
		return label, 0
	}
	rest := strings.TrimSpace(label[:loc[0]])
	if rest == "" {
		return label, 0
	}
	n, _ := strconv.Atoi(label[loc[2]:loc[3]])
	return rest, n
}

// overlap is the Jaccard ratio of the two labels' lower-cased word sets.
func overlap(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[f] = true
	}
	return set
}

// dedupe keeps the first of any items whose labels overlap by more than
// threshold or that share a nonzero ordinal.
func dedupe(items []types.IndexItem, threshold float64) []types.IndexItem {
	var out []types.IndexItem
	for _, it := range items {
		dup := false
		for _, kept := range out {
			if sameOrdinal(it, kept) || overlap(it.Label, kept.Label) > threshold {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, it)
		}
	}
	return out
}

func sameOrdinal(a, b types.IndexItem) bool {
	return a.Ordinal != nil && b.Ordinal != nil && *a.Ordinal != 0 && *a.Ordinal == *b.Ordinal
}
