package storage

import (
	"errors"
	"time"

	"github.com/baladithyab/engram-sub001/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// PaginatedResult represents a paginated result set with type safety using
// generics.
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

// SimilarityMatch pairs a record with its cosine similarity to the query
// vector. Results are ranked by Similarity descending.
type SimilarityMatch[T any] struct {
	Record     *T
	Similarity float64
}

// MemoryFilter narrows memory queries. Zero values mean "no filter" for the
// corresponding field.
type MemoryFilter struct {
	// Scope filters by scope. Empty string means all scopes.
	Scope types.Scope

	// SessionID filters to memories belonging to a specific session.
	SessionID string

	// MemoryTypes filters to the given types. Empty slice means all types.
	MemoryTypes []types.MemoryType

	// Statuses filters to the given statuses. Empty slice means all.
	Statuses []types.Status

	// Tag filters to memories carrying the given topic tag.
	Tag string

	// ExcludeIDs drops specific memory IDs from the result.
	ExcludeIDs []string

	// AccessedBefore filters to memories whose last-access reference time is
	// strictly before this instant. Zero value means no bound.
	AccessedBefore time.Time

	// MinImportance filters to memories with importance >= this value.
	MinImportance float64

	// MinAccessCount filters to memories with access_count >= this value.
	MinAccessCount int

	// SortBy names the sort field ("importance", "created_at", "updated_at").
	SortBy string

	// SortOrder is "asc" or "desc" (default: "desc").
	SortOrder string

	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 50, max: 500).
	Limit int
}

// Normalize applies defaults and validates the MemoryFilter.
func (f *MemoryFilter) Normalize() {
	allowedSortFields := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"importance": true,
		"id":         true,
	}
	if !allowedSortFields[f.SortBy] {
		f.SortBy = "created_at"
	}

	if f.SortOrder != "asc" && f.SortOrder != "desc" {
		f.SortOrder = "desc"
	}

	if f.Page < 1 {
		f.Page = 1
	}

	if f.Limit < 1 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (f *MemoryFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// MatchesMemory reports whether a memory satisfies the non-pagination parts
// of the filter. Backends that cannot push every predicate into their query
// engine use this for post-filtering.
func (f *MemoryFilter) MatchesMemory(m *types.Memory) bool {
	if f.Scope != "" && m.Scope != f.Scope {
		return false
	}
	if f.SessionID != "" && m.SessionID != f.SessionID {
		return false
	}
	if len(f.MemoryTypes) > 0 && !containsMemoryType(f.MemoryTypes, m.MemoryType) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, m.Status) {
		return false
	}
	if f.Tag != "" && !m.HasTag(f.Tag) {
		return false
	}
	for _, id := range f.ExcludeIDs {
		if m.ID == id {
			return false
		}
	}
	if !f.AccessedBefore.IsZero() && !m.LastAccessRef().Before(f.AccessedBefore) {
		return false
	}
	if f.MinImportance > 0 && m.Importance < f.MinImportance {
		return false
	}
	if f.MinAccessCount > 0 && m.AccessCount < f.MinAccessCount {
		return false
	}
	return true
}

func containsMemoryType(list []types.MemoryType, t types.MemoryType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsStatus(list []types.Status, s types.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
