package refs

import (
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackzampolin/brieflink/internal/types"
)

// ErrTrialRecordInBriefs is returned when the trial record is passed as a brief.
var ErrTrialRecordInBriefs = errors.New("trial record cannot be scanned as a brief")

const snippetRadius = 60

// DocumentPages is a document's cached pages.
type DocumentPages struct {
	ID    string
	Pages []*types.Page
}

// ExtractHits scans every completed page of every brief and returns one hit
// per marker occurrence, in document, page and position order. Repeats are
// kept.
func ExtractHits(trialRecordID string, briefs []DocumentPages) ([]types.Hit, error) {
	for _, b := range briefs {
		if b.ID == trialRecordID {
			return nil, ErrTrialRecordInBriefs
		}
	}

	hits := []types.Hit{}
	for _, b := range briefs {
		for _, p := range b.Pages {
			if p.Status != types.PageCompleted {
				continue
			}
			hits = append(hits, PageHits(b.ID, p)...)
		}
	}
	return hits, nil
}

// PageHits returns the hits on one page.
func PageHits(docID string, p *types.Page) []types.Hit {
	matches := Scan(p.Text)
	if len(matches) == 0 {
		return nil
	}
	words := newWordIndex(p.Words)
	seen := make(map[string]int)

	hits := make([]types.Hit, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(spaceRun.ReplaceAllString(m.Text, " "))
		nth := seen[key]
		seen[key]++

		h := types.Hit{
			SourceDocument: docID,
			SourcePage:     p.PageNumber,
			RefType:        m.RefType,
			Value:          m.Value,
			Snippet:        snippet(p.Text, m.Start, m.End),
		}
		if r, ok := words.find(m.Text, nth); ok {
			h.Rects = []types.Rect{r}
		}
		hits = append(hits, h)
	}
	return hits
}

// snippet returns up to snippetRadius bytes of context either side of the
// match, widened to rune boundaries and with whitespace collapsed.
func snippet(text string, start, end int) string {
	from := max(0, start-snippetRadius)
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := min(len(text), end+snippetRadius)
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(text[from:to], " "))
}

// wordIndex locates word sequences on a page to derive hit rectangles.
type wordIndex struct {
	words []types.Word
	norm  []string
}

func newWordIndex(words []types.Word) wordIndex {
	norm := make([]string, len(words))
	for i, w := range words {
		norm[i] = normWord(w.Text)
	}
	return wordIndex{words: words, norm: norm}
}

func normWord(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
}

// find returns the bounding rect of the nth occurrence of phrase.
func (w wordIndex) find(phrase string, nth int) (types.Rect, bool) {
	var needle []string
	for _, f := range strings.Fields(phrase) {
		if n := normWord(f); n != "" {
			needle = append(needle, n)
		}
	}
	if len(needle) == 0 || len(w.words) < len(needle) {
		return types.Rect{}, false
	}

	count := 0
	for i := 0; i+len(needle) <= len(w.norm); i++ {
		match := true
		for j, n := range needle {
			if w.norm[i+j] != n {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if count == nth {
			return bounds(w.words[i : i+len(needle)])
		}
		count++
	}
	return types.Rect{}, false
}

func bounds(words []types.Word) (types.Rect, bool) {
	r := types.Rect{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	found := false
	for _, w := range words {
		for _, pt := range w.Polygon {
			r.X0 = min(r.X0, pt.X)
			r.Y0 = min(r.Y0, pt.Y)
			r.X1 = max(r.X1, pt.X)
			r.Y1 = max(r.Y1, pt.Y)
			found = true
		}
	}
	if !found {
		return types.Rect{}, false
	}
	return r, true
}
