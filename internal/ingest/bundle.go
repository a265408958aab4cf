package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackzampolin/brieflink/internal/types"
)

// ErrUnknownBundleShape is returned when a bundle matches none of the known layouts.
var ErrUnknownBundleShape = errors.New("unknown bundle shape")

// Shape is the layout a bundle was decoded from.
type Shape string

const (
	ShapeSingle Shape = "single" // {fullTextAnnotation, context}
	ShapeFile   Shape = "file"   // {responses: [...]}
	ShapeNested Shape = "nested" // {responses: [{responses: [...]}]}
)

// BundlePage is one page recovered from a bundle. Err is set when the engine
// reported an error for the page or returned no text.
type BundlePage struct {
	PageNumber int
	Text       string
	Confidence float64
	Words      []types.Word
	Checksum   string
	Err        string
}

// Bundle is a decoded result bundle.
type Bundle struct {
	Shape Shape
	Pages []BundlePage
	// Unplaced counts responses whose page number could not be derived.
	Unplaced int
}

type bundleNode struct {
	FullTextAnnotation *textAnnotation  `json:"fullTextAnnotation"`
	Context            *responseContext `json:"context"`
	Error              *responseError   `json:"error"`
	Responses          []bundleNode     `json:"responses"`

	raw json.RawMessage
}

func (n *bundleNode) UnmarshalJSON(b []byte) error {
	type plain bundleNode
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*n = bundleNode(p)
	n.raw = append(json.RawMessage(nil), b...)
	return nil
}

type responseContext struct {
	URI        string `json:"uri"`
	PageNumber int    `json:"pageNumber"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type textAnnotation struct {
	Text  string           `json:"text"`
	Pages []annotationPage `json:"pages"`
}

type annotationPage struct {
	Confidence float64 `json:"confidence"`
	Blocks     []struct {
		Paragraphs []struct {
			Words []annotationWord `json:"words"`
		} `json:"paragraphs"`
	} `json:"blocks"`
}

type annotationWord struct {
	Confidence  float64 `json:"confidence"`
	BoundingBox struct {
		Vertices           []types.Point `json:"vertices"`
		NormalizedVertices []types.Point `json:"normalizedVertices"`
	} `json:"boundingBox"`
	Symbols []struct {
		Text string `json:"text"`
	} `json:"symbols"`
}

var labelPattern = regexp.MustCompile(`(?:^|[^0-9])(\d+)-(?:to-)?(\d+)(?:\.json)?$`)

// LabelStart returns the first page of a batch label such as
// "output-1-to-20", "1-20" or a bundle object name ending in one.
func LabelStart(label string) (int, bool) {
	m := labelPattern.FindStringSubmatch(path.Base(strings.TrimSpace(label)))
	if m == nil {
		return 0, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil || start < 1 {
		return 0, false
	}
	return start, true
}

// ParseBundle decodes a bundle. Page numbers come from each response's
// context when present, otherwise from the label's first page plus the
// response's position in the bundle.
func ParseBundle(r io.Reader, label string) (*Bundle, error) {
	var root bundleNode
	if err := json.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownBundleShape, err)
	}

	var responses []bundleNode
	var shape Shape
	switch {
	case root.Responses != nil && hasNested(root.Responses):
		shape = ShapeNested
		for _, file := range root.Responses {
			responses = append(responses, file.Responses...)
		}
	case root.Responses != nil:
		shape = ShapeFile
		responses = root.Responses
	case root.FullTextAnnotation != nil || root.Context != nil || root.Error != nil:
		shape = ShapeSingle
		responses = []bundleNode{root}
	default:
		return nil, ErrUnknownBundleShape
	}

	start, hasLabel := LabelStart(label)
	b := &Bundle{Shape: shape}
	for i, resp := range responses {
		pageNum := 0
		switch {
		case resp.Context != nil && resp.Context.PageNumber > 0:
			pageNum = resp.Context.PageNumber
		case hasLabel:
			pageNum = start + i
		}
		if pageNum <= 0 {
			b.Unplaced++
			continue
		}
		b.Pages = append(b.Pages, resp.page(pageNum))
	}
	return b, nil
}

func hasNested(nodes []bundleNode) bool {
	for _, n := range nodes {
		if n.Responses != nil {
			return true
		}
	}
	return false
}

func (n bundleNode) page(pageNum int) BundlePage {
	sum := sha256.Sum256(n.raw)
	p := BundlePage{PageNumber: pageNum, Checksum: hex.EncodeToString(sum[:])}
	if n.Error != nil && n.Error.Message != "" {
		p.Err = fmt.Sprintf("engine error %d: %s", n.Error.Code, n.Error.Message)
		return p
	}
	if n.FullTextAnnotation == nil || strings.TrimSpace(n.FullTextAnnotation.Text) == "" {
		p.Err = "empty recognition result"
		return p
	}

	p.Text = n.FullTextAnnotation.Text
	var pageConf float64
	var wordConf float64
	for _, ap := range n.FullTextAnnotation.Pages {
		pageConf += ap.Confidence
		for _, block := range ap.Blocks {
			for _, para := range block.Paragraphs {
				for _, w := range para.Words {
					p.Words = append(p.Words, w.word())
					wordConf += w.Confidence
				}
			}
		}
	}
	switch {
	case len(n.FullTextAnnotation.Pages) > 0 && pageConf > 0:
		p.Confidence = pageConf / float64(len(n.FullTextAnnotation.Pages))
	case len(p.Words) > 0:
		p.Confidence = wordConf / float64(len(p.Words))
	}
	return p
}

func (w annotationWord) word() types.Word {
	var sb strings.Builder
	for _, s := range w.Symbols {
		sb.WriteString(s.Text)
	}
	poly := w.BoundingBox.NormalizedVertices
	if len(poly) == 0 {
		poly = w.BoundingBox.Vertices
	}
	return types.Word{Text: sb.String(), Confidence: w.Confidence, Polygon: poly}
}
