package evolution

import (
	"context"
	"log"
	"time"

	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Decision is the outcome of judging one near-duplicate pair.
type Decision struct {
	Kind DecisionKind
	// Content is the merged text for DecisionMerge.
	Content string
}

// DecisionKind enumerates the three consolidation outcomes.
type DecisionKind int

const (
	// DecisionKeepBoth leaves the pair untouched.
	DecisionKeepBoth DecisionKind = iota
	// DecisionMerge folds B into A (the pair's first note) and archives B.
	DecisionMerge
	// DecisionSupersede marks the weaker note as superseded by the
	// stronger one and archives it.
	DecisionSupersede
)

// Decider chooses the outcome for a candidate pair. Implementations may
// delegate to an LLM collaborator; the default is a deterministic
// heuristic.
type Decider interface {
	Decide(ctx context.Context, pair store.ConsolidationPair) (Decision, error)
}

// HeuristicDecider is the conservative built-in Decider: near-identical
// notes of the same type merge, close notes of the same type supersede,
// anything else is kept.
type HeuristicDecider struct{}

// mergeSimilarity is the floor above which two same-type notes are treated
// as the same fact written twice.
const mergeSimilarity = 0.97

// Decide implements Decider.
func (HeuristicDecider) Decide(_ context.Context, pair store.ConsolidationPair) (Decision, error) {
	if pair.A.MemoryType != pair.B.MemoryType {
		return Decision{Kind: DecisionKeepBoth}, nil
	}
	if pair.Similarity >= mergeSimilarity {
		content := pair.A.Content
		if len(pair.B.Content) > len(content) {
			content = pair.B.Content
		}
		return Decision{Kind: DecisionMerge, Content: content}, nil
	}
	return Decision{Kind: DecisionSupersede}, nil
}

// ConsolidationJob merges or supersedes near-duplicate notes. Each
// non-KeepBoth outcome writes exactly one consolidate audit event.
type ConsolidationJob struct {
	store   store.Store
	bus     *events.Bus
	decider Decider
	now     func() time.Time
}

// NewConsolidationJob returns the consolidation job. decider may be nil,
// in which case the heuristic is used; bus may be nil.
func NewConsolidationJob(st store.Store, bus *events.Bus, decider Decider) *ConsolidationJob {
	if decider == nil {
		decider = HeuristicDecider{}
	}
	return &ConsolidationJob{store: st, bus: bus, decider: decider, now: time.Now}
}

// Name implements Job.
func (j *ConsolidationJob) Name() string { return "consolidation" }

// ShouldRun implements Job: at most one run per week.
func (j *ConsolidationJob) ShouldRun(ctx context.Context) bool {
	return shouldRunFromMetadata(ctx, j.store, j.Name(), 7*24*time.Hour)
}

// Run implements Job.
func (j *ConsolidationJob) Run(ctx context.Context, cfg Config) Report {
	cfg.Normalize()
	start := j.now()
	deadline := start.Add(cfg.MaxDuration)
	limiter := newLimiter(cfg)
	report := Report{}

	j.bus.Publish(events.Event{Type: events.MemoryEvolutionStarted})

	pairs, err := j.store.FindConsolidationCandidates(ctx, nil)
	if err != nil {
		report.ErrorMessage = err.Error()
		report.Errors++
		report.Duration = j.now().Sub(start)
		return report
	}

	// A note consumed by one pair must not be consumed again this run.
	touched := make(map[string]bool)

	for i, pair := range pairs {
		if i > 0 && i%cfg.BatchSize == 0 {
			if ctx.Err() != nil || j.now().After(deadline) {
				break
			}
		}
		report.Processed++

		if touched[pair.A.ID] || touched[pair.B.ID] {
			continue
		}

		decision, err := j.decider.Decide(ctx, pair)
		if err != nil {
			log.Printf("evolution: consolidation decision failed for (%s, %s): %v", pair.A.ID, pair.B.ID, err)
			report.Errors++
			continue
		}

		pace(ctx, limiter)
		switch decision.Kind {
		case DecisionKeepBoth:
			continue
		case DecisionMerge:
			if err := j.merge(ctx, pair, decision.Content); err != nil {
				log.Printf("evolution: merge failed for (%s, %s): %v", pair.A.ID, pair.B.ID, err)
				report.Errors++
				continue
			}
		case DecisionSupersede:
			if err := j.supersede(ctx, pair); err != nil {
				log.Printf("evolution: supersede failed for (%s, %s): %v", pair.A.ID, pair.B.ID, err)
				report.Errors++
				continue
			}
		}

		touched[pair.A.ID] = true
		touched[pair.B.ID] = true
		report.Changed++
		j.bus.Publish(events.Event{Type: events.MemoryEvolutionConsolidated, MemoryID: pair.A.ID})
	}

	report.Duration = j.now().Sub(start)
	return report
}

// merge updates A with the merged content and archives B.
func (j *ConsolidationJob) merge(ctx context.Context, pair store.ConsolidationPair, content string) error {
	into := pair.A
	if content != "" {
		into.Content = content
	}
	if err := j.store.Update(ctx, into); err != nil {
		return err
	}
	if err := j.store.Archive(ctx, pair.B.ID); err != nil {
		return err
	}
	j.appendConsolidateAudit(ctx, into.ID, map[string]string{
		"outcome":  "merge",
		"into":     into.ID,
		"archived": pair.B.ID,
	})
	return nil
}

// supersede keeps the more important (or newer) note, marks the other as
// superseded by it, and archives the superseded note.
func (j *ConsolidationJob) supersede(ctx context.Context, pair store.ConsolidationPair) error {
	kept, superseded := pair.A, pair.B
	if superseded.Importance > kept.Importance ||
		(superseded.Importance == kept.Importance && superseded.CreatedAt.After(kept.CreatedAt)) {
		kept, superseded = superseded, kept
	}

	superseded.SupersededBy = &kept.ID
	if err := j.store.Update(ctx, superseded); err != nil {
		return err
	}
	if err := j.store.Archive(ctx, superseded.ID); err != nil {
		return err
	}
	j.appendConsolidateAudit(ctx, kept.ID, map[string]string{
		"outcome":    "supersede",
		"kept":       kept.ID,
		"superseded": superseded.ID,
	})
	return nil
}

func (j *ConsolidationJob) appendConsolidateAudit(ctx context.Context, memoryID string, metadata map[string]string) {
	err := j.store.AppendAudit(ctx, &model.AuditEvent{
		Operation: model.AuditConsolidate,
		MemoryID:  memoryID,
		Metadata:  metadata,
	})
	if err != nil {
		log.Printf("evolution: audit append failed (non-fatal): %v", err)
	}
}
