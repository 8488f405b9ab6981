package evolution

import (
	"context"
	"log"
	"time"

	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Archival rule thresholds. Notes at or above the protection floor are
// never archived by the job, regardless of access recency.
const (
	archivalProtectedImportance = 7.0

	archivalNeverAccessedDays = 180
	archivalLowImportance     = 3.0
	archivalLowIdleDays       = 90
	archivalVeryLowImportance = 2.0
	archivalVeryLowIdleDays   = 30
)

// ArchivalJob hides stale, unimportant notes from search while retaining
// them for history.
type ArchivalJob struct {
	store store.Store
	bus   *events.Bus
	now   func() time.Time
}

// NewArchivalJob returns the archival job. bus may be nil.
func NewArchivalJob(st store.Store, bus *events.Bus) *ArchivalJob {
	return &ArchivalJob{store: st, bus: bus, now: time.Now}
}

// Name implements Job.
func (j *ArchivalJob) Name() string { return "archival" }

// ShouldRun implements Job: at most one run per day.
func (j *ArchivalJob) ShouldRun(ctx context.Context) bool {
	return shouldRunFromMetadata(ctx, j.store, j.Name(), 24*time.Hour)
}

// Run implements Job.
func (j *ArchivalJob) Run(ctx context.Context, cfg Config) Report {
	cfg.Normalize()
	start := j.now()
	deadline := start.Add(cfg.MaxDuration)
	limiter := newLimiter(cfg)
	report := Report{}

	j.bus.Publish(events.Event{Type: events.MemoryEvolutionStarted})

	notes, err := j.store.ListForJobs(ctx, false)
	if err != nil {
		report.ErrorMessage = err.Error()
		report.Errors++
		report.Duration = j.now().Sub(start)
		return report
	}

	now := j.now().UTC()
	for i, note := range notes {
		if i > 0 && i%cfg.BatchSize == 0 {
			if ctx.Err() != nil || j.now().After(deadline) {
				break
			}
		}
		report.Processed++

		reason, archive := archivalReason(note, now)
		if !archive {
			continue
		}

		pace(ctx, limiter)
		if err := j.store.Archive(ctx, note.ID); err != nil {
			log.Printf("evolution: archival failed for %s: %v", note.ID, err)
			report.Errors++
			continue
		}
		if err := j.store.AppendAudit(ctx, &model.AuditEvent{
			Operation: model.AuditArchive,
			MemoryID:  note.ID,
			Metadata:  map[string]string{"reason": reason},
		}); err != nil {
			log.Printf("evolution: audit append failed (non-fatal): %v", err)
		}
		j.bus.Publish(events.Event{
			Type:      events.MemoryEvolutionArchived,
			MemoryID:  note.ID,
			Namespace: note.Namespace.String(),
		})
		report.Changed++
	}

	report.Duration = j.now().Sub(start)
	return report
}

// archivalReason applies the rule set in precedence order and returns the
// triggering rule's human reason. Already-archived notes never reach this
// point (ListForJobs excludes them).
func archivalReason(note *model.MemoryNote, now time.Time) (string, bool) {
	if float64(note.Importance) >= archivalProtectedImportance {
		return "", false
	}

	lastAccess := note.LastAccessedAt
	if lastAccess.IsZero() {
		lastAccess = note.CreatedAt
	}
	idleDays := now.Sub(lastAccess).Hours() / 24

	switch {
	case note.AccessCount == 0 && idleDays > archivalNeverAccessedDays:
		return "never accessed and idle for more than 180 days", true
	case float64(note.Importance) < archivalLowImportance && idleDays > archivalLowIdleDays:
		return "low importance and idle for more than 90 days", true
	case float64(note.Importance) < archivalVeryLowImportance && idleDays > archivalVeryLowIdleDays:
		return "very low importance and idle for more than 30 days", true
	default:
		return "", false
	}
}
