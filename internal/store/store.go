package store

import (
	"context"
	"time"

	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Store is the single persistence contract implemented by every backend
// (SQLite, Postgres, and any future embedded-replica variant). It is the
// sole point of persistence; all other components (retrieval, evolution,
// access control) hold a shared reference to one Store.
type Store interface {
	// Store transactionally inserts note and its links. Fails with
	// model.ErrDuplicateLink on a (source,target,link_type) collision.
	Store(ctx context.Context, note *model.MemoryNote) error

	// Get returns the full note including materialized outbound links.
	// Fails with model.ErrNotFound.
	Get(ctx context.Context, id string) (*model.MemoryNote, error)

	// Update replaces all mutable fields and rewrites the outbound link
	// set (delete-then-insert within one transaction); bumps updated_at.
	Update(ctx context.Context, note *model.MemoryNote) error

	// Archive sets is_archived = true and bumps updated_at. Idempotent.
	Archive(ctx context.Context, id string) error

	// IncrementAccess atomically increments access_count and sets
	// last_accessed_at = now. Concurrent calls are never lost.
	IncrementAccess(ctx context.Context, id string) error

	// KeywordSearch applies FTS MATCH over (summary, content, keywords,
	// tags). Empty query degrades to namespace-filtered importance-desc,
	// recency-desc ranking capped at the FTS default limit (20) unless
	// overridden.
	KeywordSearch(ctx context.Context, query string, namespace *model.Namespace, limit int) ([]KeywordResult, error)

	// VectorSearch computes cosine similarity between queryVec and every
	// non-archived, embedded note's vector in the optionally filtered
	// namespace; returns the top-k by similarity.
	VectorSearch(ctx context.Context, queryVec []float32, limit int, namespace *model.Namespace) ([]VectorResult, error)

	// GraphTraverse performs a breadth-first frontier expansion over the
	// undirected projection of the link graph starting from seedIDs, up
	// to bounds.MaxHops edges, namespace-filtered, excluding archived
	// notes, deduplicated and ordered by hop distance then importance.
	GraphTraverse(ctx context.Context, seedIDs []string, bounds GraphBounds, namespace *model.Namespace) ([]GraphNode, error)

	// FindConsolidationCandidates returns, for up to 100 non-archived
	// embedded notes in the namespace, pairs (A,B) with cosine similarity
	// >= 0.85 and A's iteration index < B's.
	FindConsolidationCandidates(ctx context.Context, namespace *model.Namespace) ([]ConsolidationPair, error)

	// CreateLink inserts a MemoryLink; fails with model.ErrDuplicateLink
	// on a (source,target,link_type) collision.
	CreateLink(ctx context.Context, link *model.MemoryLink) error

	// UpdateLink replaces a link's mutable fields (strength, reason,
	// last_traversed_at) in place.
	UpdateLink(ctx context.Context, link *model.MemoryLink) error

	// DeleteLink removes a single link.
	DeleteLink(ctx context.Context, sourceID, targetID string, linkType model.LinkType) error

	// ListLinksForJobs returns every link in the store, used by the
	// evolution framework's link-decay job. Unlike reader-facing paths
	// this intentionally bypasses namespace filtering: decay is a
	// maintenance sweep over the whole database.
	ListLinksForJobs(ctx context.Context) ([]model.MemoryLink, error)

	// Count returns the number of non-archived notes in namespace (nil
	// namespace counts every non-archived note).
	Count(ctx context.Context, namespace *model.Namespace) (int, error)

	// List returns a paginated, sorted, filtered view of notes.
	List(ctx context.Context, opts ListOptions) (PaginatedResult[*model.MemoryNote], error)

	// ListForJobs returns every note across all namespaces (archived notes
	// only when includeArchived is true), used by the evolution framework
	// (importance, archival, consolidation jobs operate database-wide, not
	// per-namespace).
	ListForJobs(ctx context.Context, includeArchived bool) ([]*model.MemoryNote, error)

	// AppendAudit appends an audit event. Best-effort: a failure here
	// must never be propagated as a failure of the primary operation it
	// describes — callers swallow the error and log a warning.
	AppendAudit(ctx context.Context, event *model.AuditEvent) error

	// AuditTrail returns every audit event recorded for a given memory ID,
	// newest first.
	AuditTrail(ctx context.Context, memoryID string) ([]model.AuditEvent, error)

	// ModificationStats returns a count of audit events grouped by
	// operation kind, across the whole database.
	ModificationStats(ctx context.Context) (map[model.AuditOperation]int, error)

	// GetMetadata returns the value stored under key in the metadata table,
	// or "" when the key is absent.
	GetMetadata(ctx context.Context, key string) (string, error)

	// SetMetadata upserts a key/value pair in the metadata table.
	SetMetadata(ctx context.Context, key, value string) error

	// CheckIntegrity issues a trivial query then attempts create+drop of a
	// disposable table to confirm write capability.
	CheckIntegrity(ctx context.Context) (IntegrityReport, error)

	// TableExists reports whether a table of the given name exists.
	TableExists(ctx context.Context, name string) (bool, error)

	// AppliedMigrations returns every applied migration's name and
	// apply timestamp, in the order they were applied.
	AppliedMigrations(ctx context.Context) ([]MigrationRecord, error)

	// Close releases underlying resources (connection pool, WAL
	// checkpoint on SQLite).
	Close() error
}

// MigrationRecord mirrors one row of the _migrations_applied table.
type MigrationRecord struct {
	Name      string
	AppliedAt time.Time
}
