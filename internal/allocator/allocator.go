// Package allocator hands out the identifiers of a new document version and
// its pages before any pipeline task runs.
package allocator

import (
	"context"

	"github.com/google/uuid"
)

// Allocation holds the ids of the version a pipeline run will create.
// PageIDs[i] belongs to page number i+1.
type Allocation struct {
	VersionID string   `json:"versionId"`
	PageIDs   []string `json:"pageIds"`
}

// Allocator is called exactly once per submission. key identifies the
// submission (source version and language) for allocators that dedupe.
type Allocator interface {
	Allocate(ctx context.Context, key string, pageCount int) (Allocation, error)
}

// UUIDAllocator generates fresh random ids on every call.
type UUIDAllocator struct{}

func (UUIDAllocator) Allocate(_ context.Context, _ string, pageCount int) (Allocation, error) {
	if pageCount < 0 {
		pageCount = 0
	}
	a := Allocation{
		VersionID: uuid.NewString(),
		PageIDs:   make([]string, pageCount),
	}
	for i := range a.PageIDs {
		a.PageIDs[i] = uuid.NewString()
	}
	return a, nil
}
