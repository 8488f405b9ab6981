package model

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies the kind of knowledge a memory note records.
type MemoryType string

const (
	MemoryTypeArchitectureDecision MemoryType = "architecture_decision"
	MemoryTypeCodePattern          MemoryType = "code_pattern"
	MemoryTypeBugFix               MemoryType = "bug_fix"
	MemoryTypeConfiguration        MemoryType = "configuration"
	MemoryTypeConstraint           MemoryType = "constraint"
	MemoryTypeEntity               MemoryType = "entity"
	MemoryTypeInsight              MemoryType = "insight"
	MemoryTypeReference            MemoryType = "reference"
	MemoryTypePreference           MemoryType = "preference"
	MemoryTypeTask                 MemoryType = "task"
	MemoryTypeAgentEvent           MemoryType = "agent_event"
	MemoryTypeConstitution         MemoryType = "constitution"
	MemoryTypeFeatureSpec          MemoryType = "feature_spec"
	MemoryTypeImplementationPlan   MemoryType = "implementation_plan"
	MemoryTypeTaskBreakdown        MemoryType = "task_breakdown"
	MemoryTypeQualityChecklist     MemoryType = "quality_checklist"
	MemoryTypeClarification        MemoryType = "clarification"
)

// ValidMemoryTypes enumerates every accepted MemoryType value.
var ValidMemoryTypes = map[MemoryType]bool{
	MemoryTypeArchitectureDecision: true,
	MemoryTypeCodePattern:          true,
	MemoryTypeBugFix:               true,
	MemoryTypeConfiguration:        true,
	MemoryTypeConstraint:           true,
	MemoryTypeEntity:               true,
	MemoryTypeInsight:              true,
	MemoryTypeReference:            true,
	MemoryTypePreference:           true,
	MemoryTypeTask:                 true,
	MemoryTypeAgentEvent:           true,
	MemoryTypeConstitution:         true,
	MemoryTypeFeatureSpec:          true,
	MemoryTypeImplementationPlan:   true,
	MemoryTypeTaskBreakdown:        true,
	MemoryTypeQualityChecklist:     true,
	MemoryTypeClarification:        true,
}

// MemoryNote is the primary entity of the memory core: a durable, typed
// record of a decision, pattern, event, or entity produced during an
// engineering session.
type MemoryNote struct {
	ID        string
	Namespace Namespace

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      *time.Time

	Content  string
	Summary  string
	Context  string
	Keywords []string
	Tags     []string

	MemoryType MemoryType

	Importance int     // [1,10]
	Confidence float64 // [0.0,1.0]

	RelatedFiles    []string
	RelatedEntities []string

	AccessCount int

	IsArchived   bool
	SupersededBy *string

	Embedding      []float32
	EmbeddingModel string

	Links []MemoryLink

	// CreatedBy records the role that created this note (access control).
	CreatedBy string
	// VisibleTo records the set of roles (beyond CreatedBy) permitted to
	// read this note. Empty means only the creator's default visibility
	// applies (resolved by the access-control layer at create time).
	VisibleTo []string
}

// NewID generates a fresh opaque 128-bit identifier for a new MemoryNote.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the scalar invariants that must hold for any MemoryNote
// before it is persisted.
func (m *MemoryNote) Validate() error {
	if m.Importance < 1 || m.Importance > 10 {
		return ValidationError("importance must be in [1,10]")
	}
	if m.Confidence < 0.0 || m.Confidence > 1.0 {
		return ValidationError("confidence must be in [0,1]")
	}
	if !ValidMemoryTypes[m.MemoryType] {
		return ValidationError("unknown memory_type: " + string(m.MemoryType))
	}
	for _, l := range m.Links {
		if l.Strength < 0.0 || l.Strength > 1.0 {
			return ValidationError("link strength must be in [0,1]")
		}
	}
	return nil
}
