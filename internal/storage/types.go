package storage

import (
	"errors"

	"github.com/scrypster/petmind/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidQuery is returned by rankers for query vectors that are
	// empty or carry NaN or Inf components.
	ErrInvalidQuery = errors.New("invalid query")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination and filtering options for list operations.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 10, max: 1000).
	Limit int

	// Kind filters entities by kind. Empty means all kinds.
	Kind types.EntityKind

	// SubjectID filters posts by the pet they are about.
	SubjectID string

	// Status filters embedding records by status. Empty means all statuses.
	Status types.EmbeddingStatus
}

// Normalize applies defaults and bounds to the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 10 // Default limit
	}

	if o.Limit > 1000 {
		o.Limit = 1000 // Max limit
	}
}

// Offset returns the row offset for the current page.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// ReadyFilter narrows the candidate set scanned by a ranker.
type ReadyFilter struct {
	// Kind restricts candidates to entities of one kind. Empty means all kinds.
	Kind types.EntityKind
}

// StatusCounts holds the number of embedding records per status.
type StatusCounts struct {
	Pending int `json:"pending"`
	Ready   int `json:"ready"`
	Failed  int `json:"failed"`
}

// Total returns the number of embedding records across all statuses.
func (c StatusCounts) Total() int {
	return c.Pending + c.Ready + c.Failed
}

// NewPaginatedResult builds a result page from the items of one page and the
// total count across all pages.
func NewPaginatedResult[T any](items []T, total int, opts ListOptions) *PaginatedResult[T] {
	return &PaginatedResult[T]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}
}
