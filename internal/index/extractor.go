package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jackzampolin/brieflink/internal/metrics"
	"github.com/jackzampolin/brieflink/internal/types"
)

// Status summarizes an extraction run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusNoIndex Status = "no_index"
	StatusNoItems Status = "no_items"
)

// Result is the outcome of index extraction for one document.
type Result struct {
	DocumentID string            `json:"document_id"`
	Status     Status            `json:"status"`
	Confidence float64           `json:"confidence"`
	IndexPages []int             `json:"index_pages"`
	Scores     []PageScore       `json:"scores,omitempty"`
	Items      []types.IndexItem `json:"items"`
}

// Extract scores pages up to the search ceiling, parses the best candidates
// and returns deduplicated items ordered by ordinal.
func Extract(documentID string, pages []*types.Page, w Weights) *Result {
	w = w.withDefaults()
	res := &Result{DocumentID: documentID, IndexPages: []int{}, Items: []types.IndexItem{}}

	var scores []PageScore
	text := make(map[int]string)
	for _, p := range pages {
		if p.PageNumber > w.SearchCeiling || p.Status != types.PageCompleted {
			continue
		}
		text[p.PageNumber] = p.Text
		scores = append(scores, PageScore{Page: p.PageNumber, Score: ScorePage(p.Text, w)})
	}
	res.Scores = scores

	cands := candidates(scores, w)
	if len(cands) == 0 {
		res.Status = StatusNoIndex
		return res
	}

	// Items are read in page order so ordinal-less items keep reading order.
	for _, c := range cands {
		res.IndexPages = append(res.IndexPages, c.Page)
	}
	sort.Ints(res.IndexPages)

	var items []types.IndexItem
	for _, page := range res.IndexPages {
		for _, line := range strings.Split(text[page], "\n") {
			it, ok := ParseLine(line)
			if !ok {
				continue
			}
			it.DocumentID = documentID
			if it.PageHint == 0 {
				it.PageHint = page
			}
			items = append(items, it)
		}
	}

	items = dedupe(items, w.DedupThreshold)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Ordinal, items[j].Ordinal
		switch {
		case a != nil && b != nil:
			return *a < *b
		case a != nil:
			return true
		default:
			return false
		}
	})
	for i := range items {
		items[i].Position = i
	}

	res.Items = items
	res.Confidence = confidence(items)
	if len(items) == 0 {
		res.Status = StatusNoItems
	} else {
		res.Status = StatusOK
	}
	return res
}

func confidence(items []types.IndexItem) float64 {
	if len(items) == 0 {
		return 0
	}
	sum := 0.0
	ordinals := 0
	for _, it := range items {
		sum += it.Confidence
		if it.Ordinal != nil {
			ordinals++
		}
	}
	c := sum/float64(len(items)) + min(0.05*float64(len(items)), 0.2)
	if ordinals >= 3 {
		c += 0.1
	}
	return min(c, 1.0)
}

// Store is the slice of the store the extractor needs.
type Store interface {
	ListPages(ctx context.Context, docID string, start, end int) ([]*types.Page, error)
	ReplaceIndexItems(ctx context.Context, docID string, items []types.IndexItem) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
}

// Extractor runs Extract over cached pages and persists the items.
type Extractor struct {
	store   Store
	metrics *metrics.Recorder
	logger  *slog.Logger

	mu      sync.RWMutex
	weights Weights
}

// NewExtractor creates an extractor with the given weights.
func NewExtractor(s Store, w Weights, rec *metrics.Recorder, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: s, weights: w.withDefaults(), metrics: rec, logger: logger}
}

// SetWeights replaces the scoring weights.
func (e *Extractor) SetWeights(w Weights) {
	e.mu.Lock()
	e.weights = w.withDefaults()
	e.mu.Unlock()
}

// Weights returns the current scoring weights.
func (e *Extractor) Weights() Weights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

// Run extracts the document's index from cached pages and replaces its
// stored index items.
func (e *Extractor) Run(ctx context.Context, documentID string) (*Result, error) {
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	w := e.Weights()
	pages, err := e.store.ListPages(ctx, documentID, 1, w.SearchCeiling)
	if err != nil {
		return nil, err
	}

	res := Extract(documentID, pages, w)
	if err := e.store.ReplaceIndexItems(ctx, documentID, res.Items); err != nil {
		return nil, fmt.Errorf("save index items: %w", err)
	}
	e.metrics.RecordIndexRun(string(res.Status))
	e.logger.Info("index extracted", "document_id", documentID, "status", res.Status,
		"items", len(res.Items), "index_pages", res.IndexPages, "confidence", res.Confidence)
	return res, nil
}

// RunFunc adapts Run to a function that only reports failure.
func (e *Extractor) RunFunc(ctx context.Context, documentID string) error {
	_, err := e.Run(ctx, documentID)
	return err
}
