package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Compile-time contract check.
var _ store.Store = (*Store)(nil)

const noteColumns = `
	id, namespace,
	created_at, updated_at, last_accessed_at, expires_at,
	content, summary, context, keywords, tags,
	memory_type, importance, confidence,
	related_files, related_entities,
	access_count, is_archived, superseded_by,
	embedding, embedding_model,
	created_by, visible_to`

// Store transactionally inserts a note and its outbound links. On a
// (source,target,link_type) collision it fails with model.ErrDuplicateLink
// and nothing is committed.
func (s *Store) Store(ctx context.Context, note *model.MemoryNote) error {
	if note == nil {
		return model.ValidationError("note is required")
	}
	if note.ID == "" {
		note.ID = model.NewID()
	}
	if err := note.Validate(); err != nil {
		return err
	}
	if err := s.checkEmbeddingDim(ctx, note.Embedding); err != nil {
		return err
	}

	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = now
	}
	if note.LastAccessedAt.IsZero() {
		note.LastAccessedAt = note.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertNote(ctx, tx, note); err != nil {
		return err
	}
	for i := range note.Links {
		link := &note.Links[i]
		link.SourceID = note.ID
		if link.CreatedAt.IsZero() {
			link.CreatedAt = now
		}
		if err := insertLink(ctx, tx, link); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit: %w", err)
	}
	return nil
}

func insertNote(ctx context.Context, tx *sql.Tx, note *model.MemoryNote) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memories (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID,
		note.Namespace.String(),
		note.CreatedAt,
		note.UpdatedAt,
		nullableTime(&note.LastAccessedAt),
		nullableTime(note.ExpiresAt),
		note.Content,
		nullableString(note.Summary),
		nullableString(note.Context),
		nullableJSON(note.Keywords),
		nullableJSON(note.Tags),
		string(note.MemoryType),
		note.Importance,
		note.Confidence,
		nullableJSON(note.RelatedFiles),
		nullableJSON(note.RelatedEntities),
		note.AccessCount,
		boolToInt(note.IsArchived),
		nullableStringPtr(note.SupersededBy),
		nullableBytes(serializeVector(note.Embedding)),
		nullableString(note.EmbeddingModel),
		nullableString(note.CreatedBy),
		nullableJSON(note.VisibleTo),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert note: %w", err)
	}
	return nil
}

func insertLink(ctx context.Context, tx execer, link *model.MemoryLink) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_links (source_id, target_id, link_type, strength, reason, created_at, last_traversed_at, user_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		link.SourceID,
		link.TargetID,
		string(link.LinkType),
		link.Strength,
		nullableString(link.Reason),
		link.CreatedAt,
		nullableTime(link.LastTraversedAt),
		boolToInt(link.UserCreated),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s -> %s (%s)", model.ErrDuplicateLink, link.SourceID, link.TargetID, link.LinkType)
		}
		return fmt.Errorf("sqlite: failed to insert link: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Get returns the full note including materialized outbound links.
func (s *Store) Get(ctx context.Context, id string) (*model.MemoryNote, error) {
	if id == "" {
		return nil, model.ValidationError("memory ID is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM memories WHERE id = ?`, id)
	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, model.NotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get note: %w", err)
	}

	links, err := s.outboundLinks(ctx, id)
	if err != nil {
		return nil, err
	}
	note.Links = links
	return note, nil
}

func (s *Store) outboundLinks(ctx context.Context, id string) ([]model.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, link_type, strength, reason, created_at, last_traversed_at, user_created
		FROM memory_links WHERE source_id = ?
		ORDER BY created_at ASC, target_id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]model.MemoryLink, error) {
	var links []model.MemoryLink
	for rows.Next() {
		var l model.MemoryLink
		var linkType string
		var reason sql.NullString
		var lastTraversed sql.NullTime
		var userCreated int
		if err := rows.Scan(&l.SourceID, &l.TargetID, &linkType, &l.Strength, &reason, &l.CreatedAt, &lastTraversed, &userCreated); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan link: %w", err)
		}
		l.LinkType = model.LinkType(linkType)
		if reason.Valid {
			l.Reason = reason.String
		}
		if lastTraversed.Valid {
			t := lastTraversed.Time
			l.LastTraversedAt = &t
		}
		l.UserCreated = userCreated != 0
		links = append(links, l)
	}
	return links, rows.Err()
}

// Update replaces all mutable fields of an existing note and rewrites its
// outbound link set (delete-then-insert within one transaction). Bumps
// updated_at.
func (s *Store) Update(ctx context.Context, note *model.MemoryNote) error {
	if note == nil || note.ID == "" {
		return model.ValidationError("note with ID is required")
	}
	if err := note.Validate(); err != nil {
		return err
	}
	if err := s.checkEmbeddingDim(ctx, note.Embedding); err != nil {
		return err
	}

	note.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE memories SET
			namespace = ?,
			updated_at = ?,
			last_accessed_at = ?,
			expires_at = ?,
			content = ?, summary = ?, context = ?, keywords = ?, tags = ?,
			memory_type = ?, importance = ?, confidence = ?,
			related_files = ?, related_entities = ?,
			is_archived = ?, superseded_by = ?,
			embedding = ?, embedding_model = ?,
			created_by = ?, visible_to = ?
		WHERE id = ?`,
		note.Namespace.String(),
		note.UpdatedAt,
		nullableTime(&note.LastAccessedAt),
		nullableTime(note.ExpiresAt),
		note.Content,
		nullableString(note.Summary),
		nullableString(note.Context),
		nullableJSON(note.Keywords),
		nullableJSON(note.Tags),
		string(note.MemoryType),
		note.Importance,
		note.Confidence,
		nullableJSON(note.RelatedFiles),
		nullableJSON(note.RelatedEntities),
		boolToInt(note.IsArchived),
		nullableStringPtr(note.SupersededBy),
		nullableBytes(serializeVector(note.Embedding)),
		nullableString(note.EmbeddingModel),
		nullableString(note.CreatedBy),
		nullableJSON(note.VisibleTo),
		note.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update note: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return model.NotFoundError(note.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_links WHERE source_id = ?`, note.ID); err != nil {
		return fmt.Errorf("sqlite: failed to clear links: %w", err)
	}
	for i := range note.Links {
		link := &note.Links[i]
		link.SourceID = note.ID
		if link.CreatedAt.IsZero() {
			link.CreatedAt = note.UpdatedAt
		}
		if err := insertLink(ctx, tx, link); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit: %w", err)
	}
	return nil
}

// Archive sets is_archived and bumps updated_at. Idempotent: archiving an
// already-archived note leaves observable state unchanged.
func (s *Store) Archive(ctx context.Context, id string) error {
	if id == "" {
		return model.ValidationError("memory ID is required")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET is_archived = 1, updated_at = ?
		WHERE id = ? AND is_archived = 0`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to archive note: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		// Either already archived (idempotent success) or missing.
		exists, err := s.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return model.NotFoundError(id)
		}
	}
	return nil
}

// IncrementAccess atomically bumps access_count and stamps last_accessed_at.
// A single UPDATE keeps concurrent increments from being lost.
func (s *Store) IncrementAccess(ctx context.Context, id string) error {
	if id == "" {
		return model.ValidationError("memory ID is required")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to increment access count: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return model.NotFoundError(id)
	}
	return nil
}

// CreateLink inserts a single link row.
func (s *Store) CreateLink(ctx context.Context, link *model.MemoryLink) error {
	if link == nil || link.SourceID == "" || link.TargetID == "" {
		return model.ValidationError("link with source and target is required")
	}
	if link.Strength < 0 || link.Strength > 1 {
		return model.ValidationError("link strength must be in [0,1]")
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	return insertLink(ctx, s.db, link)
}

// UpdateLink replaces a link's mutable fields in place.
func (s *Store) UpdateLink(ctx context.Context, link *model.MemoryLink) error {
	if link == nil || link.SourceID == "" || link.TargetID == "" {
		return model.ValidationError("link with source and target is required")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_links SET strength = ?, reason = ?, last_traversed_at = ?
		WHERE source_id = ? AND target_id = ? AND link_type = ?`,
		link.Strength,
		nullableString(link.Reason),
		nullableTime(link.LastTraversedAt),
		link.SourceID, link.TargetID, string(link.LinkType),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update link: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return model.NotFoundError(link.SourceID + " -> " + link.TargetID)
	}
	return nil
}

// DeleteLink removes a single link.
func (s *Store) DeleteLink(ctx context.Context, sourceID, targetID string, linkType model.LinkType) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_links WHERE source_id = ? AND target_id = ? AND link_type = ?`,
		sourceID, targetID, string(linkType),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete link: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return model.NotFoundError(sourceID + " -> " + targetID)
	}
	return nil
}

// ListLinksForJobs returns every link in the store, for the link-decay job.
func (s *Store) ListLinksForJobs(ctx context.Context) ([]model.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, link_type, strength, reason, created_at, last_traversed_at, user_created
		FROM memory_links ORDER BY created_at ASC, source_id ASC, target_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// Count returns the number of non-archived notes in namespace (nil counts
// every non-archived note).
func (s *Store) Count(ctx context.Context, namespace *model.Namespace) (int, error) {
	query := `SELECT COUNT(*) FROM memories WHERE is_archived = 0`
	var args []interface{}
	if namespace != nil {
		query += ` AND namespace = ?`
		args = append(args, namespace.String())
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count notes: %w", err)
	}
	return count, nil
}

// List returns a paginated, sorted, filtered view of notes.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (store.PaginatedResult[*model.MemoryNote], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if opts.Namespace != nil {
		conditions = append(conditions, "namespace = ?")
		args = append(args, *opts.Namespace)
	}
	if opts.MemoryType != "" {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, opts.MemoryType)
	}
	if opts.OnlyArchived {
		conditions = append(conditions, "is_archived = 1")
	} else if !opts.IncludeArchived {
		conditions = append(conditions, "is_archived = 0")
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	// SortBy/SortOrder are whitelist-validated by Normalize above.
	query := `SELECT ` + noteColumns + ` FROM memories` + whereClause +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", opts.SortBy, opts.SortOrder)
	queryArgs := append(append([]interface{}{}, args...), opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return store.PaginatedResult[*model.MemoryNote]{}, fmt.Errorf("sqlite: failed to list notes: %w", err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return store.PaginatedResult[*model.MemoryNote]{}, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories"+whereClause, args...).Scan(&total); err != nil {
		return store.PaginatedResult[*model.MemoryNote]{}, fmt.Errorf("sqlite: failed to count notes: %w", err)
	}

	return store.PaginatedResult[*model.MemoryNote]{
		Items:    notes,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(notes) < total,
	}, nil
}

// ListForJobs returns every note across all namespaces for the evolution
// framework. includeArchived controls whether archived rows are returned.
func (s *Store) ListForJobs(ctx context.Context, includeArchived bool) ([]*model.MemoryNote, error) {
	query := `SELECT ` + noteColumns + ` FROM memories`
	if !includeArchived {
		query += ` WHERE is_archived = 0`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list notes for jobs: %w", err)
	}
	notes, err := scanNotes(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Jobs write notes back through Update, which rewrites the outbound
	// link set — so links must be materialized here or they would be lost.
	links, err := s.ListLinksForJobs(ctx)
	if err != nil {
		return nil, err
	}
	bySource := make(map[string][]model.MemoryLink)
	for _, l := range links {
		bySource[l.SourceID] = append(bySource[l.SourceID], l)
	}
	for _, n := range notes {
		n.Links = bySource[n.ID]
	}
	return notes, nil
}

// AppendAudit appends an audit event. Callers treat failures as best-effort.
func (s *Store) AppendAudit(ctx context.Context, event *model.AuditEvent) error {
	if event == nil {
		return model.ValidationError("event is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal audit metadata: %w", err)
		}
		metadataJSON = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, operation, memory_id, role, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		event.Timestamp,
		string(event.Operation),
		nullableString(event.MemoryID),
		nullableString(event.Role),
		nullableBytes(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to append audit event: %w", err)
	}
	return nil
}

// AuditTrail returns every audit event for a memory ID, newest first.
func (s *Store) AuditTrail(ctx context.Context, memoryID string) ([]model.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, operation, memory_id, role, metadata
		FROM audit_log WHERE memory_id = ? ORDER BY timestamp DESC, id DESC`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var rowID int64
		var op string
		var memID, role, metadataJSON sql.NullString
		if err := rows.Scan(&rowID, &e.Timestamp, &op, &memID, &role, &metadataJSON); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan audit event: %w", err)
		}
		e.ID = fmt.Sprintf("%d", rowID)
		e.Operation = model.AuditOperation(op)
		if memID.Valid {
			e.MemoryID = memID.String
		}
		if role.Valid {
			e.Role = role.String
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: failed to unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ModificationStats returns audit event counts grouped by operation kind.
func (s *Store) ModificationStats(ctx context.Context) (map[model.AuditOperation]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT operation, COUNT(*) FROM audit_log GROUP BY operation`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query modification stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[model.AuditOperation]int)
	for rows.Next() {
		var op string
		var count int
		if err := rows.Scan(&op, &count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan modification stats: %w", err)
		}
		stats[model.AuditOperation(op)] = count
	}
	return stats, rows.Err()
}

// GetMetadata returns the value stored under key, or "" when absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to get metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata upserts a key/value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: failed to set metadata %q: %w", key, err)
	}
	return nil
}

// checkEmbeddingDim enforces that the embedding dimension stays constant
// across the database's lifetime. The first embedded write pins it.
func (s *Store) checkEmbeddingDim(ctx context.Context, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	pinned, err := s.GetMetadata(ctx, "embedding_dim")
	if err != nil {
		return err
	}
	if pinned == "" {
		return s.SetMetadata(ctx, "embedding_dim", fmt.Sprintf("%d", len(vec)))
	}
	var dim int
	if _, err := fmt.Sscanf(pinned, "%d", &dim); err != nil {
		return fmt.Errorf("sqlite: malformed embedding_dim metadata %q: %w", pinned, err)
	}
	if dim != len(vec) {
		return model.EmbeddingDimMismatchError(dim, len(vec))
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE id = ?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("sqlite: failed to check existence: %w", err)
	}
	return count > 0, nil
}

// scanner abstracts over *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row scanner) (*model.MemoryNote, error) {
	var n model.MemoryNote
	var namespace, memoryType string
	var lastAccessedAt, expiresAt sql.NullTime
	var summary, context, keywordsJSON, tagsJSON sql.NullString
	var relatedFilesJSON, relatedEntitiesJSON sql.NullString
	var isArchived int
	var supersededBy, embeddingModel, createdBy, visibleToJSON sql.NullString
	var embeddingBlob []byte

	err := row.Scan(
		&n.ID,
		&namespace,
		&n.CreatedAt,
		&n.UpdatedAt,
		&lastAccessedAt,
		&expiresAt,
		&n.Content,
		&summary,
		&context,
		&keywordsJSON,
		&tagsJSON,
		&memoryType,
		&n.Importance,
		&n.Confidence,
		&relatedFilesJSON,
		&relatedEntitiesJSON,
		&n.AccessCount,
		&isArchived,
		&supersededBy,
		&embeddingBlob,
		&embeddingModel,
		&createdBy,
		&visibleToJSON,
	)
	if err != nil {
		return nil, err
	}

	ns, err := model.ParseNamespace(namespace)
	if err != nil {
		return nil, err
	}
	n.Namespace = ns
	n.MemoryType = model.MemoryType(memoryType)
	if lastAccessedAt.Valid {
		n.LastAccessedAt = lastAccessedAt.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		n.ExpiresAt = &t
	}
	if summary.Valid {
		n.Summary = summary.String
	}
	if context.Valid {
		n.Context = context.String
	}
	if err := unmarshalStrings(keywordsJSON, &n.Keywords); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(tagsJSON, &n.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(relatedFilesJSON, &n.RelatedFiles); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(relatedEntitiesJSON, &n.RelatedEntities); err != nil {
		return nil, err
	}
	n.IsArchived = isArchived != 0
	if supersededBy.Valid {
		v := supersededBy.String
		n.SupersededBy = &v
	}
	if len(embeddingBlob) > 0 {
		vec, err := deserializeVector(embeddingBlob)
		if err != nil {
			return nil, err
		}
		n.Embedding = vec
	}
	if embeddingModel.Valid {
		n.EmbeddingModel = embeddingModel.String
	}
	if createdBy.Valid {
		n.CreatedBy = createdBy.String
	}
	if err := unmarshalStrings(visibleToJSON, &n.VisibleTo); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNotes(rows *sql.Rows) ([]*model.MemoryNote, error) {
	var notes []*model.MemoryNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func unmarshalStrings(ns sql.NullString, dest *[]string) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), dest); err != nil {
		return fmt.Errorf("sqlite: failed to unmarshal string list: %w", err)
	}
	return nil
}

// serializeVector packs a float32 slice into a little-endian binary blob.
func serializeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector unpacks a little-endian binary blob into a float32 slice.
func deserializeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("sqlite: embedding blob size %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableJSON(values []string) sql.NullString {
	if len(values) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
