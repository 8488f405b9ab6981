// Package export produces portable copies of the memory store: a JSON dump
// of every note and link for interchange, and a consistent SQLite snapshot
// for backup.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Dump is the JSON export envelope.
type Dump struct {
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	Memories   []ExportedNote `json:"memories"`
}

// ExportedNote is one note in the dump, links inline.
type ExportedNote struct {
	ID              string         `json:"id"`
	Namespace       string         `json:"namespace"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastAccessedAt  time.Time      `json:"last_accessed_at"`
	Content         string         `json:"content"`
	Summary         string         `json:"summary,omitempty"`
	Context         string         `json:"context,omitempty"`
	Keywords        []string       `json:"keywords,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	MemoryType      string         `json:"memory_type"`
	Importance      int            `json:"importance"`
	Confidence      float64        `json:"confidence"`
	RelatedFiles    []string       `json:"related_files,omitempty"`
	RelatedEntities []string       `json:"related_entities,omitempty"`
	AccessCount     int            `json:"access_count"`
	IsArchived      bool           `json:"is_archived"`
	SupersededBy    *string        `json:"superseded_by,omitempty"`
	EmbeddingModel  string         `json:"embedding_model,omitempty"`
	CreatedBy       string         `json:"created_by,omitempty"`
	Links           []ExportedLink `json:"links,omitempty"`
}

// ExportedLink is one outbound link in the dump.
type ExportedLink struct {
	TargetID    string  `json:"target_id"`
	LinkType    string  `json:"link_type"`
	Strength    float64 `json:"strength"`
	Reason      string  `json:"reason,omitempty"`
	UserCreated bool    `json:"user_created"`
}

// WriteJSON dumps every note (archived included) with its outbound links
// to w as indented JSON. Embedding vectors are omitted: they are derived
// data, re-creatable from content.
func WriteJSON(ctx context.Context, st store.Store, w io.Writer) (int, error) {
	notes, err := st.ListForJobs(ctx, true)
	if err != nil {
		return 0, err
	}

	dump := Dump{
		ExportedAt: time.Now().UTC(),
		Count:      len(notes),
		Memories:   make([]ExportedNote, 0, len(notes)),
	}
	for _, n := range notes {
		dump.Memories = append(dump.Memories, toExported(n))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return 0, fmt.Errorf("export: failed to encode dump: %w", err)
	}
	return len(notes), nil
}

func toExported(n *model.MemoryNote) ExportedNote {
	out := ExportedNote{
		ID:              n.ID,
		Namespace:       n.Namespace.String(),
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
		LastAccessedAt:  n.LastAccessedAt,
		Content:         n.Content,
		Summary:         n.Summary,
		Context:         n.Context,
		Keywords:        n.Keywords,
		Tags:            n.Tags,
		MemoryType:      string(n.MemoryType),
		Importance:      n.Importance,
		Confidence:      n.Confidence,
		RelatedFiles:    n.RelatedFiles,
		RelatedEntities: n.RelatedEntities,
		AccessCount:     n.AccessCount,
		IsArchived:      n.IsArchived,
		SupersededBy:    n.SupersededBy,
		EmbeddingModel:  n.EmbeddingModel,
		CreatedBy:       n.CreatedBy,
	}
	for _, l := range n.Links {
		out.Links = append(out.Links, ExportedLink{
			TargetID:    l.TargetID,
			LinkType:    string(l.LinkType),
			Strength:    l.Strength,
			Reason:      l.Reason,
			UserCreated: l.UserCreated,
		})
	}
	return out
}

// SnapshotSQLite creates a consistent point-in-time copy of a SQLite
// database using VACUUM INTO, which handles WAL mode correctly, then
// verifies the copy's integrity.
func SnapshotSQLite(sourcePath, destPath string) error {
	sourceDB, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("export: failed to open source database: %w", err)
	}
	defer func() { _ = sourceDB.Close() }()

	if err := sourceDB.Ping(); err != nil {
		return fmt.Errorf("export: failed to ping source database: %w", err)
	}

	if _, err := sourceDB.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("export: failed to snapshot database: %w", err)
	}

	return verifySnapshot(destPath)
}

// verifySnapshot opens the copy read-only and runs integrity_check.
func verifySnapshot(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("export: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("export: failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("export: snapshot integrity check failed: %s", result)
	}
	return nil
}
