package evolution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/internal/store/sqlite"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// deciderFunc adapts a function to the Decider interface.
type deciderFunc func(context.Context, store.ConsolidationPair) (Decision, error)

func (f deciderFunc) Decide(ctx context.Context, pair store.ConsolidationPair) (Decision, error) {
	return f(ctx, pair)
}

func pairOf(a, b *model.MemoryNote, sim float64) store.ConsolidationPair {
	return store.ConsolidationPair{A: a, B: b, Similarity: sim}
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := sqlite.Open(context.Background(), path, sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func daysAgo(d int) time.Time {
	return time.Now().UTC().Add(-time.Duration(d) * 24 * time.Hour)
}

func seedNote(t *testing.T, st *sqlite.Store, importance, accessCount int, createdAt, lastAccess time.Time) *model.MemoryNote {
	t.Helper()
	n := &model.MemoryNote{
		ID:             model.NewID(),
		Namespace:      model.Global(),
		Content:        "seed note",
		Summary:        "seed note",
		MemoryType:     model.MemoryTypeInsight,
		Importance:     importance,
		Confidence:     1.0,
		AccessCount:    accessCount,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		LastAccessedAt: lastAccess,
	}
	require.NoError(t, st.Store(context.Background(), n))
	return n
}

// --- link decay ---

func TestDecayFactorTable(t *testing.T) {
	// Offsets are taken from a fixed instant so the 180-day boundary is
	// exact rather than 180 days minus a few microseconds.
	now := time.Now().UTC()
	ago := func(d int) time.Time {
		return now.Add(-time.Duration(d) * 24 * time.Hour)
	}
	mk := func(created, traversed time.Time, userCreated bool) *model.MemoryLink {
		l := &model.MemoryLink{CreatedAt: created, UserCreated: userCreated}
		if !traversed.IsZero() {
			l.LastTraversedAt = &traversed
		}
		return l
	}

	// User-created links never decay, even when very stale.
	assert.Equal(t, 1.0, decayFactor(mk(ago(400), ago(200), true), now))

	// >= 180 idle days.
	assert.Equal(t, decayFactorStale, decayFactor(mk(ago(200), ago(181), false), now))
	// Exactly 180 days: the >= 180 rule applies (boundary).
	assert.Equal(t, decayFactorStale, decayFactor(mk(ago(200), ago(180), false), now))

	// >= 90 idle days.
	assert.Equal(t, decayFactorAging, decayFactor(mk(ago(200), ago(100), false), now))

	// Old link, idle >= 30 days.
	assert.Equal(t, decayFactorOldLink, decayFactor(mk(ago(400), ago(40), false), now))

	// Recently traversed: untouched.
	assert.Equal(t, 1.0, decayFactor(mk(ago(400), ago(5), false), now))
	assert.Equal(t, 1.0, decayFactor(mk(ago(10), ago(2), false), now))

	// Never traversed: idle time runs from creation.
	assert.Equal(t, decayFactorStale, decayFactor(mk(ago(200), time.Time{}, false), now))
}

func TestLinkDecayRemovesWeakLinks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := seedNote(t, st, 5, 0, daysAgo(300), daysAgo(300))
	b := seedNote(t, st, 5, 0, daysAgo(300), daysAgo(300))

	traversed := daysAgo(180)
	require.NoError(t, st.CreateLink(ctx, &model.MemoryLink{
		SourceID:        a.ID,
		TargetID:        b.ID,
		LinkType:        model.LinkReferences,
		Strength:        0.3,
		CreatedAt:       daysAgo(200),
		LastTraversedAt: &traversed,
	}))

	job := NewLinkDecayJob(st, nil)
	report := job.Run(ctx, Config{})

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Changed)
	assert.Zero(t, report.Errors)

	// 0.3 * 0.25 = 0.075 < 0.10: the link is gone.
	links, err := st.ListLinksForJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLinkDecaySparesUserCreatedLinks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := seedNote(t, st, 5, 0, daysAgo(300), daysAgo(300))
	b := seedNote(t, st, 5, 0, daysAgo(300), daysAgo(300))

	traversed := daysAgo(180)
	require.NoError(t, st.CreateLink(ctx, &model.MemoryLink{
		SourceID:        a.ID,
		TargetID:        b.ID,
		LinkType:        model.LinkReferences,
		Strength:        0.3,
		CreatedAt:       daysAgo(200),
		LastTraversedAt: &traversed,
		UserCreated:     true,
	}))

	job := NewLinkDecayJob(st, nil)
	report := job.Run(ctx, Config{})
	assert.Zero(t, report.Changed)

	links, err := st.ListLinksForJobs(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.InDelta(t, 0.3, links[0].Strength, 1e-9)
}

func TestLinkDecayWeakensInPlace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := seedNote(t, st, 5, 0, daysAgo(300), daysAgo(300))
	b := seedNote(t, st, 5, 0, daysAgo(300), daysAgo(300))

	traversed := daysAgo(100)
	require.NoError(t, st.CreateLink(ctx, &model.MemoryLink{
		SourceID:        a.ID,
		TargetID:        b.ID,
		LinkType:        model.LinkExtends,
		Strength:        0.8,
		CreatedAt:       daysAgo(120),
		LastTraversedAt: &traversed,
	}))

	job := NewLinkDecayJob(st, nil)
	report := job.Run(ctx, Config{})
	assert.Equal(t, 1, report.Changed)

	links, err := st.ListLinksForJobs(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.InDelta(t, 0.4, links[0].Strength, 1e-9)
}

// --- importance recalibration ---

func TestRecalibratedImportanceFormula(t *testing.T) {
	now := time.Now().UTC()

	// A heavily-linked, recently-accessed note: all factors near their
	// maxima push the score toward the top of the scale.
	hot := &model.MemoryNote{
		Importance:     8,
		AccessCount:    50,
		CreatedAt:      now.Add(-10 * 24 * time.Hour),
		LastAccessedAt: now,
	}
	score := recalibratedImportance(hot, 10, 10, now)
	assert.Greater(t, score, 8.0)
	assert.LessOrEqual(t, score, 10.0)

	// A never-accessed, unlinked, old note sinks.
	cold := &model.MemoryNote{
		Importance:     8,
		AccessCount:    0,
		CreatedAt:      now.Add(-300 * 24 * time.Hour),
		LastAccessedAt: now.Add(-300 * 24 * time.Hour),
	}
	score = recalibratedImportance(cold, 0, 0, now)
	assert.Less(t, score, 5.0)
	assert.GreaterOrEqual(t, score, 1.0)
}

func TestImportanceWriteBackThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Never accessed, 300 days old, importance 8: the recalibrated score
	// drops by well over 1.0, so the job writes back.
	sinking := seedNote(t, st, 8, 0, daysAgo(300), daysAgo(300))

	// Fresh note accessed today: recalibration lands within 1.0 of the
	// current importance, so nothing is written.
	steady := seedNote(t, st, 6, 2, daysAgo(2), daysAgo(0))

	job := NewImportanceJob(st, nil)
	report := job.Run(ctx, Config{})
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Changed)

	got, err := st.Get(ctx, sinking.ID)
	require.NoError(t, err)
	assert.Less(t, got.Importance, 8)

	got, err = st.Get(ctx, steady.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Importance)
}

// --- archival ---

func TestArchivalReasonPrecedence(t *testing.T) {
	now := time.Now().UTC()
	mk := func(importance, accessCount, idleDays int) *model.MemoryNote {
		return &model.MemoryNote{
			Importance:     importance,
			AccessCount:    accessCount,
			CreatedAt:      now.Add(-400 * 24 * time.Hour),
			LastAccessedAt: now.Add(-time.Duration(idleDays) * 24 * time.Hour),
		}
	}

	// Importance >= 7 is always protected.
	_, archive := archivalReason(mk(7, 0, 400), now)
	assert.False(t, archive)
	_, archive = archivalReason(mk(10, 0, 400), now)
	assert.False(t, archive)

	// Never accessed and idle beyond 180 days.
	reason, archive := archivalReason(mk(5, 0, 200), now)
	assert.True(t, archive)
	assert.Contains(t, reason, "never accessed")

	// Low importance, idle beyond 90 days.
	reason, archive = archivalReason(mk(2, 5, 100), now)
	assert.True(t, archive)
	assert.Contains(t, reason, "low importance")

	// Very low importance, idle beyond 30 days.
	reason, archive = archivalReason(mk(1, 5, 40), now)
	assert.True(t, archive)
	assert.Contains(t, reason, "very low importance")

	// Active notes stay.
	_, archive = archivalReason(mk(5, 5, 10), now)
	assert.False(t, archive)
}

func TestArchivalJobArchivesAndAudits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stale := seedNote(t, st, 5, 0, daysAgo(400), daysAgo(200))
	protected := seedNote(t, st, 9, 0, daysAgo(400), daysAgo(200))

	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	job := NewArchivalJob(st, bus)
	report := job.Run(ctx, Config{})
	assert.Equal(t, 1, report.Changed)

	got, err := st.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)

	got, err = st.Get(ctx, protected.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)

	trail, err := st.AuditTrail(ctx, stale.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.AuditArchive, trail[0].Operation)
	assert.NotEmpty(t, trail[0].Metadata["reason"])

	var archivedEvent bool
	for len(ch) > 0 {
		if ev := <-ch; ev.Type == events.MemoryEvolutionArchived {
			archivedEvent = true
			assert.Equal(t, stale.ID, ev.MemoryID)
		}
	}
	assert.True(t, archivedEvent)
}

func TestArchivalSkipsAlreadyArchived(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stale := seedNote(t, st, 5, 0, daysAgo(400), daysAgo(200))
	require.NoError(t, st.Archive(ctx, stale.ID))

	job := NewArchivalJob(st, nil)
	report := job.Run(ctx, Config{})
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Changed)
}

// --- consolidation ---

func TestConsolidationSupersede(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	weak := seedNote(t, st, 4, 0, daysAgo(10), daysAgo(10))
	weak.Embedding = []float32{1, 0.05, 0}
	require.NoError(t, st.Update(ctx, weak))

	strong := seedNote(t, st, 8, 0, daysAgo(5), daysAgo(5))
	strong.Embedding = []float32{1, 0.1, 0}
	require.NoError(t, st.Update(ctx, strong))

	job := NewConsolidationJob(st, nil, deciderFunc(func(_ context.Context, _ store.ConsolidationPair) (Decision, error) {
		return Decision{Kind: DecisionSupersede}, nil
	}))
	report := job.Run(ctx, Config{})
	assert.Equal(t, 1, report.Changed)

	got, err := st.Get(ctx, weak.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
	require.NotNil(t, got.SupersededBy)
	assert.Equal(t, strong.ID, *got.SupersededBy)

	got, err = st.Get(ctx, strong.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
	assert.Nil(t, got.SupersededBy)

	// Exactly one consolidate audit event for the outcome.
	stats, err := st.ModificationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.AuditConsolidate])
}

func TestConsolidationKeepBothIsNoop(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := seedNote(t, st, 4, 0, daysAgo(10), daysAgo(10))
	a.Embedding = []float32{1, 0.05, 0}
	require.NoError(t, st.Update(ctx, a))
	b := seedNote(t, st, 8, 0, daysAgo(5), daysAgo(5))
	b.Embedding = []float32{1, 0.1, 0}
	require.NoError(t, st.Update(ctx, b))

	job := NewConsolidationJob(st, nil, deciderFunc(func(_ context.Context, _ store.ConsolidationPair) (Decision, error) {
		return Decision{Kind: DecisionKeepBoth}, nil
	}))
	report := job.Run(ctx, Config{})
	assert.Zero(t, report.Changed)

	stats, err := st.ModificationStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[model.AuditConsolidate])
}

func TestHeuristicDecider(t *testing.T) {
	a := &model.MemoryNote{MemoryType: model.MemoryTypeInsight, Content: "short"}
	b := &model.MemoryNote{MemoryType: model.MemoryTypeInsight, Content: "considerably longer content"}

	d, err := HeuristicDecider{}.Decide(context.Background(), pairOf(a, b, 0.99))
	require.NoError(t, err)
	assert.Equal(t, DecisionMerge, d.Kind)
	assert.Equal(t, b.Content, d.Content)

	d, err = HeuristicDecider{}.Decide(context.Background(), pairOf(a, b, 0.90))
	require.NoError(t, err)
	assert.Equal(t, DecisionSupersede, d.Kind)

	c := &model.MemoryNote{MemoryType: model.MemoryTypeBugFix}
	d, err = HeuristicDecider{}.Decide(context.Background(), pairOf(a, c, 0.99))
	require.NoError(t, err)
	assert.Equal(t, DecisionKeepBoth, d.Kind)
}

// --- scheduler ---

func TestSchedulerRunAllRecordsLastRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sched := NewScheduler(st, Config{})
	importance := NewImportanceJob(st, nil)
	sched.Register(importance, 24*time.Hour)
	sched.Register(NewLinkDecayJob(st, nil), 24*time.Hour)

	reports := sched.RunAll(ctx)
	assert.Len(t, reports, 2)

	// Last-run metadata gates ShouldRun until the interval elapses.
	assert.False(t, importance.ShouldRun(ctx))
}

func TestSchedulerStartShutdown(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(st, Config{})
	sched.Register(NewArchivalJob(st, nil), time.Hour)

	ctx := context.Background()
	sched.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.NoError(t, sched.Shutdown(shutdownCtx))

	// Shutdown is idempotent.
	assert.NoError(t, sched.Shutdown(shutdownCtx))
}
