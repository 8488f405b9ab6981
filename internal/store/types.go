// Package store defines the storage contract shared by every backend
// (SQLite, Postgres): pagination and search option types, graph-traversal
// bounds and results, and the Store interface itself.
package store

import (
	"time"

	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// PaginatedResult represents a paginated result set with type safety via
// generics.
type PaginatedResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

// ListOptions provides pagination, sorting, and filtering for list().
type ListOptions struct {
	Page      int
	Limit     int
	SortBy    string // "created_at" | "updated_at" | "importance" | "access_count"
	SortOrder string // "asc" | "desc"

	Namespace      *string // exact-match on namespace canonical string; nil = no filter
	MemoryType     string
	IncludeArchived bool
	OnlyArchived    bool
}

// Normalize applies defaults and whitelists sort fields to prevent SQL
// injection, grounded on storage.ListOptions.Normalize().
func (o *ListOptions) Normalize() {
	allowed := map[string]bool{
		"created_at":   true,
		"updated_at":   true,
		"importance":   true,
		"access_count": true,
	}
	if !allowed[o.SortBy] {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset calculates the SQL OFFSET based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// KeywordResult is one entry of a keyword_search result: a note, its FTS
// rank-derived score, and a human-readable reason.
type KeywordResult struct {
	Memory *model.MemoryNote
	Score  float64
	Reason string
}

// VectorResult is one entry of a vector_search result.
type VectorResult struct {
	Memory     *model.MemoryNote
	Similarity float64
}

// GraphBounds bounds a graph traversal to avoid combinatorial explosion.
type GraphBounds struct {
	MaxHops  int
	MaxNodes int
	Timeout  time.Duration
}

// Normalize applies defaults and caps to GraphBounds.
func (g *GraphBounds) Normalize() {
	if g.MaxHops < 1 {
		g.MaxHops = 2
	}
	if g.MaxHops > 10 {
		g.MaxHops = 10
	}
	if g.MaxNodes < 1 {
		g.MaxNodes = 200
	}
	if g.MaxNodes > 2000 {
		g.MaxNodes = 2000
	}
	if g.Timeout == 0 {
		g.Timeout = 30 * time.Second
	}
}

// GraphNode is one note discovered by graph_traverse, annotated with its
// hop distance from the nearest seed.
type GraphNode struct {
	Memory      *model.MemoryNote
	HopDistance int
}

// ConsolidationPair is a candidate pair for the consolidation job:
// two notes whose cosine similarity meets the candidate threshold.
type ConsolidationPair struct {
	A, B       *model.MemoryNote
	Similarity float64
}

// IntegrityReport summarizes the outcome of check_integrity().
type IntegrityReport struct {
	OK       bool
	Problems []string
}
