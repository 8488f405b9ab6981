package model

import "time"

// AuditOperation enumerates the kinds of state-changing operations recorded
// in the append-only audit log.
type AuditOperation string

const (
	AuditCreate      AuditOperation = "create"
	AuditUpdate      AuditOperation = "update"
	AuditArchive     AuditOperation = "archive"
	AuditSupersede   AuditOperation = "supersede"
	AuditLinkCreate  AuditOperation = "link_create"
	AuditLinkUpdate  AuditOperation = "link_update"
	AuditLinkDelete  AuditOperation = "link_delete"
	AuditConsolidate AuditOperation = "consolidate"
)

// AuditEvent is an append-only record of a state-changing operation.
// Audit-log append is best-effort: a failed append must never fail the
// primary operation it describes.
type AuditEvent struct {
	ID        string
	Timestamp time.Time
	Operation AuditOperation
	MemoryID  string // empty when the event has no associated note
	Role      string // acting role, when applicable
	Metadata  map[string]string
}
