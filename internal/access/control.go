// Package access mediates agent writes to the memory store: it enforces
// role-based write authority, applies default visibility, and records every
// change in the audit log. Audit append is best-effort and never fails the
// primary operation.
package access

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/mnemosyne-core/mnemosyne/internal/embedding"
	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Role is one of the four fixed agent roles.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleOptimizer    Role = "optimizer"
	RoleReviewer     Role = "reviewer"
	RoleExecutor     Role = "executor"
)

// ValidRoles enumerates every accepted Role value.
var ValidRoles = map[Role]bool{
	RoleOrchestrator: true,
	RoleOptimizer:    true,
	RoleReviewer:     true,
	RoleExecutor:     true,
}

// defaultVisibility maps a creator role to the other roles that may read
// its notes by default. Every role also sees its own writes.
var defaultVisibility = map[Role][]Role{
	RoleExecutor:     {RoleReviewer},
	RoleReviewer:     {RoleExecutor},
	RoleOrchestrator: {RoleOptimizer},
	RoleOptimizer:    {RoleExecutor},
}

// adminEnvVar is the environment flag that short-circuits all permission
// checks when set.
const adminEnvVar = "MNEMO_ADMIN"

// humanUser is the reserved user name that also enables admin mode.
const humanUser = "human"

// Metadata carries the caller-supplied attributes of a create call.
// VisibleTo overrides the role's default visibility when non-nil.
type Metadata struct {
	Namespace  model.Namespace
	MemoryType model.MemoryType
	Summary    string
	Context    string
	Keywords   []string
	Tags       []string
	Importance int
	Confidence float64
	VisibleTo  []Role
}

// Updates is the partial-update shape: nil fields are left unmodified.
type Updates struct {
	Content    *string
	Summary    *string
	Context    *string
	Keywords   *[]string
	Tags       *[]string
	Importance *int
	Confidence *float64
}

// Control is the audited, role-checked write surface over a Store.
type Control struct {
	store   store.Store
	bus     *events.Bus
	adapter embedding.Adapter // optional; nil stores notes unembedded
	user    string
}

// NewControl returns an access-control layer. bus and adapter may be nil;
// user identifies the operator for admin detection ("human" is admin).
func NewControl(st store.Store, bus *events.Bus, adapter embedding.Adapter, user string) *Control {
	return &Control{store: st, bus: bus, adapter: adapter, user: user}
}

// IsAdmin reports whether permission checks are short-circuited: either the
// admin environment flag is set or the operator is a human user.
func (c *Control) IsAdmin() bool {
	if os.Getenv(adminEnvVar) != "" {
		return true
	}
	return strings.EqualFold(c.user, humanUser)
}

// Create stores a new note on behalf of role and returns its ID. The
// creator and resolved visibility are recorded on the note; one create
// audit event carries the role.
func (c *Control) Create(ctx context.Context, role Role, content string, meta Metadata) (string, error) {
	if !ValidRoles[role] {
		return "", model.ValidationError("unknown role: " + string(role))
	}
	if strings.TrimSpace(content) == "" {
		return "", model.ValidationError("content is required")
	}

	visibility := meta.VisibleTo
	if visibility == nil {
		visibility = defaultVisibility[role]
	}

	memoryType := meta.MemoryType
	if memoryType == "" {
		memoryType = model.MemoryTypeInsight
	}
	importance := meta.Importance
	if importance == 0 {
		importance = 5
	}
	confidence := meta.Confidence
	if confidence == 0 {
		confidence = 1.0
	}

	note := &model.MemoryNote{
		ID:         model.NewID(),
		Namespace:  meta.Namespace,
		Content:    content,
		Summary:    meta.Summary,
		Context:    meta.Context,
		Keywords:   meta.Keywords,
		Tags:       meta.Tags,
		MemoryType: memoryType,
		Importance: importance,
		Confidence: confidence,
		CreatedBy:  string(role),
		VisibleTo:  rolesToStrings(visibility),
	}

	// Embedding failures never block the write: the note is stored
	// unembedded and picked up later by a backfill.
	if c.adapter != nil {
		if vec, err := c.adapter.Embed(ctx, content); err != nil {
			log.Printf("access: embedding failed for new note (stored unembedded): %v", err)
		} else {
			note.Embedding = vec
			note.EmbeddingModel = c.adapter.ModelName()
		}
	}

	if err := c.store.Store(ctx, note); err != nil {
		return "", err
	}

	c.appendAudit(ctx, model.AuditCreate, note.ID, role, map[string]string{
		"namespace":   note.Namespace.String(),
		"memory_type": string(note.MemoryType),
	})
	c.bus.Publish(events.Event{
		Type:      events.MemoryStored,
		MemoryID:  note.ID,
		Namespace: note.Namespace.String(),
	})
	return note.ID, nil
}

// Update applies a partial update to one of role's own notes. Other roles'
// notes are rejected with ErrForbidden unless admin. The audit event lists
// the changed field names.
func (c *Control) Update(ctx context.Context, role Role, id string, updates Updates) error {
	note, err := c.authorize(ctx, role, id)
	if err != nil {
		return err
	}

	var changed []string
	if updates.Content != nil {
		note.Content = *updates.Content
		changed = append(changed, "content")
	}
	if updates.Summary != nil {
		note.Summary = *updates.Summary
		changed = append(changed, "summary")
	}
	if updates.Context != nil {
		note.Context = *updates.Context
		changed = append(changed, "context")
	}
	if updates.Keywords != nil {
		note.Keywords = *updates.Keywords
		changed = append(changed, "keywords")
	}
	if updates.Tags != nil {
		note.Tags = *updates.Tags
		changed = append(changed, "tags")
	}
	if updates.Importance != nil {
		note.Importance = *updates.Importance
		changed = append(changed, "importance")
	}
	if updates.Confidence != nil {
		note.Confidence = *updates.Confidence
		changed = append(changed, "confidence")
	}
	if len(changed) == 0 {
		return nil
	}
	sort.Strings(changed)

	// Content changes invalidate the embedding; recompute when possible.
	if updates.Content != nil && c.adapter != nil {
		if vec, err := c.adapter.Embed(ctx, note.Content); err != nil {
			log.Printf("access: re-embedding failed for %s (embedding cleared): %v", id, err)
			note.Embedding = nil
			note.EmbeddingModel = ""
		} else {
			note.Embedding = vec
			note.EmbeddingModel = c.adapter.ModelName()
		}
	}

	if err := c.store.Update(ctx, note); err != nil {
		return err
	}

	c.appendAudit(ctx, model.AuditUpdate, id, role, map[string]string{
		"fields": strings.Join(changed, ","),
	})
	return nil
}

// Archive archives one of role's own notes; same ownership rule as Update.
func (c *Control) Archive(ctx context.Context, role Role, id string) error {
	if _, err := c.authorize(ctx, role, id); err != nil {
		return err
	}
	if err := c.store.Archive(ctx, id); err != nil {
		return err
	}
	c.appendAudit(ctx, model.AuditArchive, id, role, nil)
	return nil
}

// Delete is implemented as archive (soft); the audit event is archive with
// a delete reason. Archival is the terminal lifecycle state of the core.
func (c *Control) Delete(ctx context.Context, role Role, id string) error {
	if _, err := c.authorize(ctx, role, id); err != nil {
		return err
	}
	if err := c.store.Archive(ctx, id); err != nil {
		return err
	}
	c.appendAudit(ctx, model.AuditArchive, id, role, map[string]string{"reason": "delete"})
	return nil
}

// CanRead reports whether role may read the given note under the
// visibility rules: creators always see their own writes, listed roles see
// them too, and notes created outside the role system are open.
func (c *Control) CanRead(role Role, note *model.MemoryNote) bool {
	if c.IsAdmin() {
		return true
	}
	if note.CreatedBy == "" || note.CreatedBy == string(role) {
		return true
	}
	for _, r := range note.VisibleTo {
		if r == string(role) {
			return true
		}
	}
	return false
}

// AuditTrail returns the audit events recorded for a note, newest first.
func (c *Control) AuditTrail(ctx context.Context, id string) ([]model.AuditEvent, error) {
	return c.store.AuditTrail(ctx, id)
}

// ModificationStats returns audit event counts grouped by operation.
func (c *Control) ModificationStats(ctx context.Context) (map[model.AuditOperation]int, error) {
	return c.store.ModificationStats(ctx)
}

// authorize loads the note and enforces the ownership rule.
func (c *Control) authorize(ctx context.Context, role Role, id string) (*model.MemoryNote, error) {
	if !ValidRoles[role] {
		return nil, model.ValidationError("unknown role: " + string(role))
	}
	note, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsAdmin() {
		return note, nil
	}
	if note.CreatedBy != "" && note.CreatedBy != string(role) {
		return nil, model.ErrForbidden
	}
	return note, nil
}

// appendAudit records a best-effort audit event; failures only warn.
func (c *Control) appendAudit(ctx context.Context, op model.AuditOperation, id string, role Role, metadata map[string]string) {
	err := c.store.AppendAudit(ctx, &model.AuditEvent{
		Operation: op,
		MemoryID:  id,
		Role:      string(role),
		Metadata:  metadata,
	})
	if err != nil {
		log.Printf("access: audit append failed (non-fatal): %v", err)
	}
}

func rolesToStrings(roles []Role) []string {
	if len(roles) == 0 {
		return nil
	}
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
