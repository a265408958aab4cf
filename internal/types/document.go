// Package types provides shared types used across multiple packages.
// This package has no dependencies on other brieflink packages to avoid import cycles.
package types

import "time"

// OCRState is the document-level OCR lifecycle state.
type OCRState string

const (
	OCRPending   OCRState = "pending"
	OCRRunning   OCRState = "running"
	OCRCompleted OCRState = "completed"
	OCRFailed    OCRState = "failed"
)

// DocumentRole says how the arbitration engine treats a document.
type DocumentRole string

const (
	RoleBrief       DocumentRole = "brief"
	RoleTrialRecord DocumentRole = "trial_record"
	RoleOther       DocumentRole = "other"
)

// ParseDocumentRole converts a string to a DocumentRole.
// Returns RoleOther if the string is not recognized.
func ParseDocumentRole(s string) DocumentRole {
	switch s {
	case "brief":
		return RoleBrief
	case "trial_record", "trial-record", "record":
		return RoleTrialRecord
	default:
		return RoleOther
	}
}

// Document is a registered PDF tracked by the OCR pipeline.
type Document struct {
	ID                string       `json:"id"`
	CaseID            string       `json:"case_id,omitempty"`
	Role              DocumentRole `json:"role"`
	SourcePath        string       `json:"source_path,omitempty"`
	TotalPages        int          `json:"total_pages"`
	OCRState          OCRState     `json:"ocr_state"`
	FirstBatchReady   bool         `json:"first_batch_ready"`
	FirstBatchReadyAt *time.Time   `json:"first_batch_ready_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// PageStatus is the outcome of recognizing one page.
type PageStatus string

const (
	PageCompleted PageStatus = "completed"
	PageFailed    PageStatus = "failed"
)

// Point is one vertex of a word's bounding polygon.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Word is a recognized word with its confidence and bounding polygon.
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Polygon    []Point `json:"polygon,omitempty"`
}

// Page is the stored OCR result for one page of a document.
type Page struct {
	DocumentID string     `json:"document_id"`
	PageNumber int        `json:"page_number"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Checksum   string     `json:"checksum,omitempty"`
	Engine     string     `json:"engine"`
	Status     PageStatus `json:"status"`
	Words      []Word     `json:"words,omitempty"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Batch is a contiguous page range processed as a unit.
type Batch struct {
	DocumentID    string      `json:"document_id"`
	StartPage     int         `json:"start_page"`
	EndPage       int         `json:"end_page"`
	Status        BatchStatus `json:"status"`
	PagesDone     int         `json:"pages_done"`
	AvgConfidence float64     `json:"avg_confidence"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Size returns the number of pages in the batch range.
func (b Batch) Size() int {
	return b.EndPage - b.StartPage + 1
}

// Contains reports whether page falls inside the batch range.
func (b Batch) Contains(page int) bool {
	return page >= b.StartPage && page <= b.EndPage
}

// IsFirst reports whether the batch starts at the first page of its document.
func (b Batch) IsFirst() bool {
	return b.StartPage == 1
}
