package evolution

import (
	"context"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Link decay factors by staleness band. User-created links never decay.
const (
	decayFactorStale    = 0.25 // not traversed for >= 180 days
	decayFactorAging    = 0.50 // not traversed for >= 90 days
	decayFactorOldLink  = 0.80 // link older than a year, idle >= 30 days
	decayRemoveBelow    = 0.10 // links weaker than this are removed
	decayWriteThreshold = 0.01 // smaller changes are not written back
)

// LinkDecayJob weakens links that have not been traversed recently and
// removes those that decay below the removal floor.
type LinkDecayJob struct {
	store store.Store
	bus   *events.Bus
	now   func() time.Time
}

// NewLinkDecayJob returns the link decay job. bus may be nil.
func NewLinkDecayJob(st store.Store, bus *events.Bus) *LinkDecayJob {
	return &LinkDecayJob{store: st, bus: bus, now: time.Now}
}

// Name implements Job.
func (j *LinkDecayJob) Name() string { return "links" }

// ShouldRun implements Job: at most one run per day.
func (j *LinkDecayJob) ShouldRun(ctx context.Context) bool {
	return shouldRunFromMetadata(ctx, j.store, j.Name(), 24*time.Hour)
}

// Run implements Job.
func (j *LinkDecayJob) Run(ctx context.Context, cfg Config) Report {
	cfg.Normalize()
	start := j.now()
	deadline := start.Add(cfg.MaxDuration)
	limiter := newLimiter(cfg)
	report := Report{}

	j.bus.Publish(events.Event{Type: events.MemoryEvolutionStarted})

	links, err := j.store.ListLinksForJobs(ctx)
	if err != nil {
		report.ErrorMessage = err.Error()
		report.Errors++
		report.Duration = j.now().Sub(start)
		return report
	}

	now := j.now().UTC()
	for i := range links {
		if i > 0 && i%cfg.BatchSize == 0 {
			if ctx.Err() != nil || j.now().After(deadline) {
				break
			}
		}
		link := links[i]
		report.Processed++

		factor := decayFactor(&link, now)
		if factor >= 1.0 {
			continue
		}
		newStrength := link.Strength * factor

		pace(ctx, limiter)
		if newStrength < decayRemoveBelow {
			if err := j.store.DeleteLink(ctx, link.SourceID, link.TargetID, link.LinkType); err != nil {
				log.Printf("evolution: link removal failed %s -> %s: %v", link.SourceID, link.TargetID, err)
				report.Errors++
				continue
			}
			j.appendAudit(ctx, model.AuditLinkDelete, link.SourceID, map[string]string{
				"target":   link.TargetID,
				"type":     string(link.LinkType),
				"strength": formatFloat(newStrength),
				"reason":   "decayed below removal floor",
			})
			report.Changed++
		} else if math.Abs(newStrength-link.Strength) > decayWriteThreshold {
			link.Strength = newStrength
			if err := j.store.UpdateLink(ctx, &link); err != nil {
				log.Printf("evolution: link decay write failed %s -> %s: %v", link.SourceID, link.TargetID, err)
				report.Errors++
				continue
			}
			j.appendAudit(ctx, model.AuditLinkUpdate, link.SourceID, map[string]string{
				"target":   link.TargetID,
				"type":     string(link.LinkType),
				"strength": formatFloat(newStrength),
			})
			report.Changed++
		}
	}

	if report.Changed > 0 {
		j.bus.Publish(events.Event{Type: events.MemoryEvolutionDecayed, Count: report.Changed})
	}
	report.Duration = j.now().Sub(start)
	return report
}

// decayFactor returns the multiplicative factor for one link. Boundary
// semantics are inclusive: at exactly 180 idle days the 180-day rule
// applies.
func decayFactor(link *model.MemoryLink, now time.Time) float64 {
	if link.UserCreated {
		return 1.0
	}

	traversedAt := link.CreatedAt
	if link.LastTraversedAt != nil && !link.LastTraversedAt.IsZero() {
		traversedAt = *link.LastTraversedAt
	}
	idleDays := now.Sub(traversedAt).Hours() / 24
	ageDays := now.Sub(link.CreatedAt).Hours() / 24

	switch {
	case idleDays >= 180:
		return decayFactorStale
	case idleDays >= 90:
		return decayFactorAging
	case ageDays >= 365 && idleDays >= 30:
		return decayFactorOldLink
	default:
		return 1.0
	}
}

// appendAudit records a best-effort audit event; failures only warn.
func (j *LinkDecayJob) appendAudit(ctx context.Context, op model.AuditOperation, memoryID string, metadata map[string]string) {
	err := j.store.AppendAudit(ctx, &model.AuditEvent{
		Operation: op,
		MemoryID:  memoryID,
		Metadata:  metadata,
	})
	if err != nil {
		log.Printf("evolution: audit append failed (non-fatal): %v", err)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
