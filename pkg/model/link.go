package model

import "time"

// LinkType classifies the relation a MemoryLink expresses between two notes.
type LinkType string

const (
	LinkExtends     LinkType = "extends"
	LinkContradicts LinkType = "contradicts"
	LinkImplements  LinkType = "implements"
	LinkReferences  LinkType = "references"
	LinkSupersedes  LinkType = "supersedes"
)

// ValidLinkTypes enumerates every accepted LinkType value.
var ValidLinkTypes = map[LinkType]bool{
	LinkExtends:     true,
	LinkContradicts: true,
	LinkImplements:  true,
	LinkReferences:  true,
	LinkSupersedes:  true,
}

// MemoryLink is a directed edge source -> target between two memory notes.
// At most one link may exist per (source, target, link_type) triple.
type MemoryLink struct {
	SourceID string
	TargetID string
	LinkType LinkType

	Strength float64 // [0.0,1.0]
	Reason   string

	CreatedAt       time.Time
	LastTraversedAt *time.Time

	// UserCreated marks a link as authored directly by a user rather than
	// inferred; user-created links never decay.
	UserCreated bool
}
