package evolution

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Importance recalibration blends four normalized factors and writes back
// only when the change is significant, avoiding thrash.
const (
	importanceWeightBase    = 0.3
	importanceWeightAccess  = 0.4
	importanceWeightRecency = 0.2
	importanceWeightLinks   = 0.1

	// importanceWriteThreshold is the minimum |new - old| required to
	// write back a recalibrated importance.
	importanceWriteThreshold = 1.0

	// neverAccessedScore is the access factor for notes never read.
	neverAccessedScore = 0.3

	// recencyHalfLifeDays halves the recency factor every 30 days.
	recencyHalfLifeDays = 30.0
)

// ImportanceJob recomputes importance for every candidate note.
type ImportanceJob struct {
	store store.Store
	bus   *events.Bus
	now   func() time.Time
}

// NewImportanceJob returns the importance recalibration job. bus may be nil.
func NewImportanceJob(st store.Store, bus *events.Bus) *ImportanceJob {
	return &ImportanceJob{store: st, bus: bus, now: time.Now}
}

// Name implements Job.
func (j *ImportanceJob) Name() string { return "importance" }

// ShouldRun implements Job: at most one run per day.
func (j *ImportanceJob) ShouldRun(ctx context.Context) bool {
	return shouldRunFromMetadata(ctx, j.store, j.Name(), 24*time.Hour)
}

// Run implements Job.
func (j *ImportanceJob) Run(ctx context.Context, cfg Config) Report {
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

	links, err := j.store.ListLinksForJobs(ctx)
	if err != nil {
		report.ErrorMessage = err.Error()
		report.Errors++
		report.Duration = j.now().Sub(start)
		return report
	}
	inbound := make(map[string]int)
	outbound := make(map[string]int)
	for _, l := range links {
		outbound[l.SourceID]++
		inbound[l.TargetID]++
	}

	now := j.now().UTC()
	for i, note := range notes {
		if i > 0 && i%cfg.BatchSize == 0 {
			if ctx.Err() != nil || j.now().After(deadline) {
				break
			}
		}
		report.Processed++

		newImportance := recalibratedImportance(note, inbound[note.ID], outbound[note.ID], now)
		if math.Abs(newImportance-float64(note.Importance)) < importanceWriteThreshold {
			continue
		}

		note.Importance = int(math.Round(newImportance))
		if note.Importance < 1 {
			note.Importance = 1
		}
		if note.Importance > 10 {
			note.Importance = 10
		}
		pace(ctx, limiter)
		if err := j.store.Update(ctx, note); err != nil {
			log.Printf("evolution: importance write failed for %s: %v", note.ID, err)
			report.Errors++
			continue
		}
		report.Changed++
	}

	report.Duration = j.now().Sub(start)
	return report
}

// recalibratedImportance computes the blended score on the [1,10] scale.
// Each factor is normalized to [0,1] first, then blended, then the final
// affine map and clamp are applied.
func recalibratedImportance(note *model.MemoryNote, inbound, outbound int, now time.Time) float64 {
	base := float64(note.Importance) / 10.0

	daysSinceCreation := now.Sub(note.CreatedAt).Hours() / 24
	if daysSinceCreation < 1 {
		daysSinceCreation = 1
	}

	access := neverAccessedScore
	if note.AccessCount > 0 {
		rate := float64(note.AccessCount) / daysSinceCreation
		access = 0.5 + 0.5*math.Log10(math.Max(0.1, rate))
		access = clamp(access, neverAccessedScore, 1.0)
	}

	lastAccess := note.LastAccessedAt
	if note.AccessCount == 0 || lastAccess.IsZero() {
		lastAccess = note.CreatedAt
	}
	daysSinceAccess := now.Sub(lastAccess).Hours() / 24
	if daysSinceAccess < 0 {
		daysSinceAccess = 0
	}
	recency := clamp(math.Pow(0.5, daysSinceAccess/recencyHalfLifeDays), 0, 1)

	links := math.Min(1, float64(2*inbound+outbound)/3.0/10.0)

	score := importanceWeightBase*base +
		importanceWeightAccess*access +
		importanceWeightRecency*recency +
		importanceWeightLinks*links

	return clamp(score*9+1, 1, 10)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
