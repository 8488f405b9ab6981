package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testNote(content string, ns model.Namespace) *model.MemoryNote {
	return &model.MemoryNote{
		ID:         model.NewID(),
		Namespace:  ns,
		Content:    content,
		Summary:    content,
		MemoryType: model.MemoryTypeInsight,
		Importance: 5,
		Confidence: 0.9,
	}
}

func TestStoreGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	target := testNote("target note", model.ProjectNS("demo"))
	require.NoError(t, s.Store(ctx, target))

	expires := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	note := testNote("Use PostgreSQL for ACID", model.ProjectNS("demo"))
	note.MemoryType = model.MemoryTypeArchitectureDecision
	note.Importance = 9
	note.Keywords = []string{"postgresql", "acid"}
	note.Tags = []string{"database"}
	note.RelatedFiles = []string{"docs/adr/001.md"}
	note.RelatedEntities = []string{"postgres"}
	note.ExpiresAt = &expires
	note.Embedding = []float32{0.6, 0.8, 0.0}
	note.EmbeddingModel = "test-model"
	note.Links = []model.MemoryLink{{
		TargetID: target.ID,
		LinkType: model.LinkReferences,
		Strength: 0.7,
		Reason:   "background reading",
	}}

	require.NoError(t, s.Store(ctx, note))

	got, err := s.Get(ctx, note.ID)
	require.NoError(t, err)

	assert.Equal(t, note.ID, got.ID)
	assert.True(t, got.Namespace.Equal(model.ProjectNS("demo")))
	assert.Equal(t, note.Content, got.Content)
	assert.Equal(t, note.MemoryType, got.MemoryType)
	assert.Equal(t, 9, got.Importance)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, note.Keywords, got.Keywords)
	assert.Equal(t, note.Tags, got.Tags)
	assert.Equal(t, note.RelatedFiles, got.RelatedFiles)
	assert.Equal(t, note.RelatedEntities, got.RelatedEntities)
	assert.Equal(t, note.Embedding, got.Embedding)
	assert.Equal(t, "test-model", got.EmbeddingModel)
	require.NotNil(t, got.ExpiresAt)

	require.Len(t, got.Links, 1)
	assert.Equal(t, note.ID, got.Links[0].SourceID)
	assert.Equal(t, target.ID, got.Links[0].TargetID)
	assert.Equal(t, model.LinkReferences, got.Links[0].LinkType)
	assert.InDelta(t, 0.7, got.Links[0].Strength, 1e-9)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDuplicateLinkRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testNote("a", model.Global())
	b := testNote("b", model.Global())
	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, b))

	link := &model.MemoryLink{SourceID: a.ID, TargetID: b.ID, LinkType: model.LinkExtends, Strength: 0.5}
	require.NoError(t, s.CreateLink(ctx, link))

	dup := &model.MemoryLink{SourceID: a.ID, TargetID: b.ID, LinkType: model.LinkExtends, Strength: 0.9}
	err := s.CreateLink(ctx, dup)
	assert.ErrorIs(t, err, model.ErrDuplicateLink)

	// A different link type between the same endpoints is allowed.
	other := &model.MemoryLink{SourceID: a.ID, TargetID: b.ID, LinkType: model.LinkContradicts, Strength: 0.5}
	assert.NoError(t, s.CreateLink(ctx, other))
}

func TestStoreWithDuplicateLinkRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	target := testNote("target", model.Global())
	require.NoError(t, s.Store(ctx, target))

	note := testNote("source", model.Global())
	note.Links = []model.MemoryLink{
		{TargetID: target.ID, LinkType: model.LinkExtends, Strength: 0.5},
		{TargetID: target.ID, LinkType: model.LinkExtends, Strength: 0.6},
	}
	err := s.Store(ctx, note)
	require.ErrorIs(t, err, model.ErrDuplicateLink)

	// The whole transaction must have rolled back: no note row either.
	_, err = s.Get(ctx, note.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateRewritesLinkSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testNote("a", model.Global())
	b := testNote("b", model.Global())
	c := testNote("c", model.Global())
	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, b))
	require.NoError(t, s.Store(ctx, c))

	note := testNote("linked", model.Global())
	note.Links = []model.MemoryLink{{TargetID: a.ID, LinkType: model.LinkExtends, Strength: 0.5}}
	require.NoError(t, s.Store(ctx, note))

	note.Content = "linked v2"
	note.Links = []model.MemoryLink{
		{TargetID: b.ID, LinkType: model.LinkImplements, Strength: 0.8},
		{TargetID: c.ID, LinkType: model.LinkReferences, Strength: 0.4},
	}
	require.NoError(t, s.Update(ctx, note))

	got, err := s.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "linked v2", got.Content)
	require.Len(t, got.Links, 2)
	targets := []string{got.Links[0].TargetID, got.Links[1].TargetID}
	assert.ElementsMatch(t, []string{b.ID, c.ID}, targets)
}

func TestArchiveIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := testNote("to archive", model.Global())
	require.NoError(t, s.Store(ctx, note))

	require.NoError(t, s.Archive(ctx, note.ID))
	first, err := s.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.True(t, first.IsArchived)

	require.NoError(t, s.Archive(ctx, note.ID))
	second, err := s.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	assert.ErrorIs(t, s.Archive(ctx, "missing"), model.ErrNotFound)
}

func TestIncrementAccessConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := testNote("counted", model.Global())
	require.NoError(t, s.Store(ctx, note))

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = s.IncrementAccess(ctx, note.ID)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.AccessCount)
	assert.False(t, got.LastAccessedAt.IsZero())
}

func TestDeletingNoteCascadesLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testNote("a", model.Global())
	b := testNote("b", model.Global())
	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, b))
	require.NoError(t, s.CreateLink(ctx, &model.MemoryLink{SourceID: a.ID, TargetID: b.ID, LinkType: model.LinkExtends, Strength: 0.5}))
	require.NoError(t, s.CreateLink(ctx, &model.MemoryLink{SourceID: b.ID, TargetID: a.ID, LinkType: model.LinkReferences, Strength: 0.5}))

	_, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", a.ID)
	require.NoError(t, err)

	links, err := s.ListLinksForJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestEmbeddingDimensionPinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testNote("first", model.Global())
	first.Embedding = []float32{1, 0, 0}
	require.NoError(t, s.Store(ctx, first))

	second := testNote("second", model.Global())
	second.Embedding = []float32{1, 0, 0, 0}
	err := s.Store(ctx, second)
	assert.ErrorIs(t, err, model.ErrEmbeddingDimMismatch)

	// Notes without embeddings are always accepted.
	third := testNote("third", model.Global())
	assert.NoError(t, s.Store(ctx, third))
}

func TestKeywordSearchNamespaceIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := testNote("Use PostgreSQL for ACID", model.ProjectNS("demo"))
	note.MemoryType = model.MemoryTypeArchitectureDecision
	note.Importance = 9
	require.NoError(t, s.Store(ctx, note))

	demo := model.ProjectNS("demo")
	results, err := s.KeywordSearch(ctx, "postgresql", &demo, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, note.ID, results[0].Memory.ID)

	other := model.ProjectNS("other")
	results, err = s.KeywordSearch(ctx, "postgresql", &other, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordSearchExcludesArchived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := testNote("widget cache optimization", model.Global())
	archived := testNote("widget cache optimization legacy", model.Global())
	require.NoError(t, s.Store(ctx, live))
	require.NoError(t, s.Store(ctx, archived))
	require.NoError(t, s.Archive(ctx, archived.ID))

	results, err := s.KeywordSearch(ctx, "widget", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, live.ID, results[0].Memory.ID)
}

func TestKeywordSearchEmptyQueryRanksByImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := testNote("low", model.Global())
	low.Importance = 2
	high := testNote("high", model.Global())
	high.Importance = 9
	require.NoError(t, s.Store(ctx, low))
	require.NoError(t, s.Store(ctx, high))

	results, err := s.KeywordSearch(ctx, "", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, high.ID, results[0].Memory.ID)
	assert.Equal(t, low.ID, results[1].Memory.ID)
}

func TestVectorSearchOrdersBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	near := testNote("near", model.Global())
	near.Embedding = []float32{1, 0, 0}
	far := testNote("far", model.Global())
	far.Embedding = []float32{0, 1, 0}
	skipped := testNote("no embedding", model.Global())
	require.NoError(t, s.Store(ctx, near))
	require.NoError(t, s.Store(ctx, far))
	require.NoError(t, s.Store(ctx, skipped))

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, far.ID, results[1].Memory.ID)
	// Orthogonal vectors: d = 1, sim = 1 - 1/2 = 0.5.
	assert.InDelta(t, 0.5, results[1].Similarity, 1e-6)
}

func TestGraphTraverseUndirected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testNote("a", model.Global())
	b := testNote("b", model.Global())
	c := testNote("c", model.Global())
	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, b))
	require.NoError(t, s.Store(ctx, c))

	// a -> b, c -> b: from seed a, b is 1 hop and c is 2 hops (via the
	// reverse direction of c -> b).
	require.NoError(t, s.CreateLink(ctx, &model.MemoryLink{SourceID: a.ID, TargetID: b.ID, LinkType: model.LinkExtends, Strength: 0.9}))
	require.NoError(t, s.CreateLink(ctx, &model.MemoryLink{SourceID: c.ID, TargetID: b.ID, LinkType: model.LinkReferences, Strength: 0.9}))

	nodes, err := s.GraphTraverse(ctx, []string{a.ID}, store.GraphBounds{MaxHops: 2}, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, b.ID, nodes[0].Memory.ID)
	assert.Equal(t, 1, nodes[0].HopDistance)
	assert.Equal(t, c.ID, nodes[1].Memory.ID)
	assert.Equal(t, 2, nodes[1].HopDistance)

	// One hop only reaches b.
	nodes, err = s.GraphTraverse(ctx, []string{a.ID}, store.GraphBounds{MaxHops: 1}, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, b.ID, nodes[0].Memory.ID)
}

func TestGraphTraverseExcludesArchived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testNote("a", model.Global())
	b := testNote("b", model.Global())
	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, b))
	require.NoError(t, s.CreateLink(ctx, &model.MemoryLink{SourceID: a.ID, TargetID: b.ID, LinkType: model.LinkExtends, Strength: 0.9}))
	require.NoError(t, s.Archive(ctx, b.ID))

	nodes, err := s.GraphTraverse(ctx, []string{a.ID}, store.GraphBounds{MaxHops: 2}, nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestFindConsolidationCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testNote("duplicate one", model.Global())
	a.Embedding = []float32{1, 0, 0}
	b := testNote("duplicate two", model.Global())
	b.Embedding = []float32{0.999, 0.01, 0}
	c := testNote("unrelated", model.Global())
	c.Embedding = []float32{0, 1, 0}
	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, b))
	require.NoError(t, s.Store(ctx, c))

	pairs, err := s.FindConsolidationCandidates(ctx, nil)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, a.ID, pairs[0].A.ID)
	assert.Equal(t, b.ID, pairs[0].B.ID)
	assert.GreaterOrEqual(t, pairs[0].Similarity, 0.85)
}

func TestAuditTrailAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := testNote("audited", model.Global())
	require.NoError(t, s.Store(ctx, note))

	require.NoError(t, s.AppendAudit(ctx, &model.AuditEvent{
		Operation: model.AuditCreate,
		MemoryID:  note.ID,
		Role:      "executor",
		Metadata:  map[string]string{"namespace": "global"},
	}))
	require.NoError(t, s.AppendAudit(ctx, &model.AuditEvent{
		Operation: model.AuditUpdate,
		MemoryID:  note.ID,
		Role:      "executor",
	}))

	trail, err := s.AuditTrail(ctx, note.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.AuditUpdate, trail[0].Operation)
	assert.Equal(t, model.AuditCreate, trail[1].Operation)
	assert.Equal(t, "global", trail[1].Metadata["namespace"])

	stats, err := s.ModificationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.AuditCreate])
	assert.Equal(t, 1, stats[model.AuditUpdate])
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetMetadata(ctx, "k", "v1"))
	require.NoError(t, s.SetMetadata(ctx, "k", "v2"))

	v, err = s.GetMetadata(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestMigrationsAppliedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(ctx, path, Options{})
	require.NoError(t, err)

	recs, err := s.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "001_initial_schema", recs[0].Name)
	assert.Equal(t, "002_add_indexes", recs[1].Name)

	ok, err := s.TableExists(ctx, "memories")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TableExists(ctx, "memories_fts")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Close())

	// Reopening must not re-apply migrations.
	s2, err := Open(ctx, path, Options{RequireExists: true})
	require.NoError(t, err)
	defer s2.Close()

	recs, err = s2.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestOpenMissingDatabaseWhenRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := Open(context.Background(), path, Options{RequireExists: true})
	assert.ErrorIs(t, err, model.ErrDatabaseNotFound)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a database file, padded to be long enough"), 0o644))

	_, err := Open(context.Background(), path, Options{})
	assert.ErrorIs(t, err, model.ErrDatabaseCorrupt)
}

func TestCountAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	demo := model.ProjectNS("demo")
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Store(ctx, testNote("demo note", demo)))
	}
	archived := testNote("archived", demo)
	require.NoError(t, s.Store(ctx, archived))
	require.NoError(t, s.Archive(ctx, archived.ID))
	require.NoError(t, s.Store(ctx, testNote("global note", model.Global())))

	n, err := s.Count(ctx, &demo)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	nsKey := demo.String()
	page, err := s.List(ctx, store.ListOptions{Namespace: &nsKey, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)

	archivedOnly, err := s.List(ctx, store.ListOptions{Namespace: &nsKey, OnlyArchived: true})
	require.NoError(t, err)
	require.Len(t, archivedOnly.Items, 1)
	assert.Equal(t, archived.ID, archivedOnly.Items[0].ID)
}
