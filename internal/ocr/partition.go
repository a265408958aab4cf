// Package ocr runs the batch recognition pipeline: partitioning a document
// into page batches, recognizing pages with bounded concurrency, and
// aggregating progress back onto batches and documents.
package ocr

import (
	"fmt"

	"github.com/jackzampolin/brieflink/internal/types"
)

const (
	DefaultBatchSize   = 50
	DefaultConcurrency = 3
	MaxConcurrency     = 8
)

// Partition splits [1,totalPages] into contiguous batches of at most size pages.
// The last batch is shorter when size does not divide totalPages.
func Partition(documentID string, totalPages, size int) ([]types.Batch, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("total pages must be positive, got %d", totalPages)
	}
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}

	batches := make([]types.Batch, 0, (totalPages+size-1)/size)
	for start := 1; start <= totalPages; start += size {
		end := min(start+size-1, totalPages)
		batches = append(batches, types.Batch{
			DocumentID: documentID,
			StartPage:  start,
			EndPage:    end,
			Status:     types.BatchQueued,
		})
	}
	return batches, nil
}

// ClampConcurrency bounds n to [1, MaxConcurrency]. Zero means the default.
func ClampConcurrency(n int) int {
	if n == 0 {
		return DefaultConcurrency
	}
	return max(1, min(n, MaxConcurrency))
}
