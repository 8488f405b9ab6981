// Package retrieval combines keyword, vector, and graph signals into a
// ranked result set for a query. Scoring is deterministic: fixed weights
// bias toward textual match while rewarding importance, recency, and
// proximity to explicit matches.
package retrieval

import (
	"context"
	"log"
	"math"
	"slices"
	"time"

	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// Scoring weights for hybrid search. Keyword match dominates; graph
// proximity and importance share the middle; recency breaks ties.
const (
	weightKeyword    = 0.5
	weightGraph      = 0.2
	weightImportance = 0.2
	weightRecency    = 0.1

	// graphSeedLimit caps how many keyword hits seed the graph expansion.
	graphSeedLimit = 5
	// graphExpandHops is the traversal depth of the expansion.
	graphExpandHops = 2
	// expandedKeywordScore is the keyword score assigned to notes that
	// entered the working set through the graph rather than the query.
	expandedKeywordScore = 0.3

	// recencyHalfLifeDays controls how fast the recency score falls off.
	recencyHalfLifeDays = 30.0

	defaultMaxResults = 10
)

// Result is one scored entry of a hybrid search.
type Result struct {
	Memory *model.MemoryNote
	Score  float64
	Components
}

// Components breaks the final score into its weighted factors.
type Components struct {
	KeywordScore    float64
	GraphScore      float64
	ImportanceScore float64
	RecencyScore    float64
	Depth           int
}

// Engine coordinates retrieval over a Store and publishes search events.
type Engine struct {
	store store.Store
	bus   *events.Bus

	// now is swappable for deterministic recency scoring in tests.
	now func() time.Time
}

// NewEngine returns a retrieval engine. bus may be nil.
func NewEngine(st store.Store, bus *events.Bus) *Engine {
	return &Engine{store: st, bus: bus, now: time.Now}
}

// HybridSearch runs the five-step hybrid algorithm:
//
//  1. Keyword results for (query, namespace); none means an empty result.
//  2. Seed a working map from the keyword hits (keyword score 1, depth 0).
//  3. Optionally expand through the link graph from up to five seeds,
//     admitting new notes at a reduced keyword score and depth 1.
//  4. Score every entry from keyword, graph, importance, and recency.
//  5. Sort by final score descending and truncate to maxResults.
func (e *Engine) HybridSearch(ctx context.Context, query string, namespace *model.Namespace, maxResults int, expandGraph bool) ([]Result, error) {
	if maxResults < 1 {
		maxResults = defaultMaxResults
	}

	keywordResults, err := e.store.KeywordSearch(ctx, query, namespace, 0)
	if err != nil {
		return nil, err
	}
	if len(keywordResults) == 0 {
		e.publishSearch(namespace, 0)
		return nil, nil
	}

	working := make(map[string]*Result, len(keywordResults))
	var order []string
	for _, kr := range keywordResults {
		if _, ok := working[kr.Memory.ID]; ok {
			continue
		}
		working[kr.Memory.ID] = &Result{
			Memory:     kr.Memory,
			Components: Components{KeywordScore: 1.0, Depth: 0},
		}
		order = append(order, kr.Memory.ID)
	}

	if expandGraph {
		seeds := order
		if len(seeds) > graphSeedLimit {
			seeds = seeds[:graphSeedLimit]
		}
		nodes, err := e.store.GraphTraverse(ctx, seeds, store.GraphBounds{MaxHops: graphExpandHops}, namespace)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if _, ok := working[node.Memory.ID]; ok {
				continue
			}
			working[node.Memory.ID] = &Result{
				Memory:     node.Memory,
				Components: Components{KeywordScore: expandedKeywordScore, Depth: 1},
			}
			order = append(order, node.Memory.ID)
		}
	}

	now := e.now().UTC()
	results := make([]Result, 0, len(working))
	for _, id := range order {
		entry := working[id]
		entry.ImportanceScore = float64(entry.Memory.Importance) / 10.0
		entry.RecencyScore = recencyScore(entry.Memory.CreatedAt, now)
		entry.GraphScore = 1.0 / (1.0 + float64(entry.Depth))
		entry.Score = weightKeyword*entry.KeywordScore +
			weightGraph*entry.GraphScore +
			weightImportance*entry.ImportanceScore +
			weightRecency*entry.RecencyScore
		results = append(results, *entry)
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	e.publishSearch(namespace, len(results))
	return results, nil
}

// Recall runs a hybrid search and records the access: every returned note's
// access count is bumped and a recall event is published per note. Access
// bookkeeping is best-effort and never fails the search.
func (e *Engine) Recall(ctx context.Context, query string, namespace *model.Namespace, maxResults int, expandGraph bool) ([]Result, error) {
	results, err := e.HybridSearch(ctx, query, namespace, maxResults, expandGraph)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if err := e.store.IncrementAccess(ctx, r.Memory.ID); err != nil {
			log.Printf("retrieval: failed to record access for %s: %v", r.Memory.ID, err)
			continue
		}
		e.bus.Publish(events.Event{
			Type:      events.MemoryRecalled,
			MemoryID:  r.Memory.ID,
			Namespace: r.Memory.Namespace.String(),
		})
	}
	return results, nil
}

// VectorSearch embeds nothing itself — callers supply the query vector —
// and delegates to the store's similarity ranking.
func (e *Engine) VectorSearch(ctx context.Context, queryVec []float32, limit int, namespace *model.Namespace) ([]store.VectorResult, error) {
	results, err := e.store.VectorSearch(ctx, queryVec, limit, namespace)
	if err != nil {
		return nil, err
	}
	e.publishSearch(namespace, len(results))
	return results, nil
}

func (e *Engine) publishSearch(namespace *model.Namespace, count int) {
	var ns string
	if namespace != nil {
		ns = namespace.String()
	}
	e.bus.Publish(events.Event{
		Type:      events.SearchPerformed,
		Namespace: ns,
		Count:     count,
	})
}

// recencyScore is exp(-age_days / 30), using whole days like the original
// scoring so same-day notes score exactly 1.
func recencyScore(createdAt, now time.Time) float64 {
	ageDays := math.Floor(now.Sub(createdAt).Hours() / 24)
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / recencyHalfLifeDays)
}
