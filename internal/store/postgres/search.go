package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

const defaultKeywordLimit = 20

// KeywordSearch runs a tsquery over the stored content_tsv column. An empty
// query degrades to a namespace-filtered importance+recency ranking.
func (s *Store) KeywordSearch(ctx context.Context, query string, namespace *model.Namespace, limit int) ([]store.KeywordResult, error) {
	if limit < 1 {
		limit = defaultKeywordLimit
	}

	if strings.TrimSpace(query) == "" {
		return s.keywordFallback(ctx, namespace, limit)
	}

	sqlQuery := `
		SELECT ` + noteColumns + `
		FROM memories
		WHERE content_tsv @@ plainto_tsquery('english', $1) AND is_archived = FALSE`
	args := []interface{}{query}
	if namespace != nil {
		sqlQuery += ` AND namespace = $2`
		args = append(args, namespace.String())
	}
	sqlQuery += fmt.Sprintf(
		` ORDER BY ts_rank(content_tsv, plainto_tsquery('english', $1)) DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: KeywordSearch %q: %w", query, err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: KeywordSearch scan: %w", err)
	}

	results := make([]store.KeywordResult, 0, len(notes))
	for i, n := range notes {
		results = append(results, store.KeywordResult{
			Memory: n,
			Score:  1.0 / (1.0 + float64(i)),
			Reason: fmt.Sprintf("full-text match for %q", query),
		})
	}
	return results, nil
}

func (s *Store) keywordFallback(ctx context.Context, namespace *model.Namespace, limit int) ([]store.KeywordResult, error) {
	sqlQuery := `SELECT ` + noteColumns + ` FROM memories WHERE is_archived = FALSE`
	var args []interface{}
	if namespace != nil {
		sqlQuery += ` AND namespace = $1`
		args = append(args, namespace.String())
	}
	sqlQuery += fmt.Sprintf(` ORDER BY importance DESC, created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword fallback: %w", err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}

	results := make([]store.KeywordResult, 0, len(notes))
	for i, n := range notes {
		results = append(results, store.KeywordResult{
			Memory: n,
			Score:  1.0 / (1.0 + float64(i)),
			Reason: "importance and recency ranking (empty query)",
		})
	}
	return results, nil
}

// VectorSearch ranks non-archived embedded notes by pgvector's cosine
// distance operator server-side; similarity is sim = max(0, 1 - d/2).
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, limit int, namespace *model.Namespace) ([]store.VectorResult, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 10
	}

	sqlQuery := `
		SELECT ` + noteColumns + `, embedding <=> $1 AS distance
		FROM memories
		WHERE is_archived = FALSE AND embedding IS NOT NULL`
	args := []interface{}{pgvector.NewVector(queryVec)}
	if namespace != nil {
		sqlQuery += ` AND namespace = $2`
		args = append(args, namespace.String())
	}
	sqlQuery += fmt.Sprintf(` ORDER BY distance ASC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: VectorSearch: %w", err)
	}
	defer rows.Close()

	var results []store.VectorResult
	for rows.Next() {
		note, distance, err := scanNoteWithDistance(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: VectorSearch scan: %w", err)
		}
		results = append(results, store.VectorResult{
			Memory:     note,
			Similarity: distanceToSimilarity(distance),
		})
	}
	return results, rows.Err()
}

const (
	consolidationCandidateLimit = 100
	consolidationNearest        = 5
	consolidationThreshold      = 0.85
)

// FindConsolidationCandidates uses the <=> operator to fetch each candidate
// note's nearest neighbours server-side, pairing (A,B) when similarity is at
// least 0.85 and A precedes B in the iteration order.
func (s *Store) FindConsolidationCandidates(ctx context.Context, namespace *model.Namespace) ([]store.ConsolidationPair, error) {
	sqlQuery := `
		SELECT id, embedding::text FROM memories
		WHERE is_archived = FALSE AND embedding IS NOT NULL`
	var args []interface{}
	if namespace != nil {
		sqlQuery += ` AND namespace = $1`
		args = append(args, namespace.String())
	}
	sqlQuery += fmt.Sprintf(` ORDER BY created_at ASC LIMIT %d`, consolidationCandidateLimit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: FindConsolidationCandidates: %w", err)
	}

	type embedded struct {
		id  string
		vec []float32
	}
	var all []embedded
	index := make(map[string]int)
	for rows.Next() {
		var id, vecText string
		if err := rows.Scan(&id, &vecText); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: FindConsolidationCandidates scan: %w", err)
		}
		vec, err := parseVector(vecText)
		if err != nil {
			continue
		}
		index[id] = len(all)
		all = append(all, embedded{id, vec})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	candidateIDs := make([]string, len(all))
	for i, e := range all {
		candidateIDs[i] = e.id
	}

	seen := make(map[[2]int]bool)
	type rawPair struct {
		aIdx, bIdx int
		sim        float64
	}
	var rawPairs []rawPair

	for i, a := range all {
		nnRows, err := s.db.QueryContext(ctx, `
			SELECT id, embedding <=> $1 AS distance
			FROM memories
			WHERE is_archived = FALSE AND embedding IS NOT NULL
			  AND id != $2 AND id = ANY($3)
			ORDER BY distance ASC LIMIT $4`,
			pgvector.NewVector(a.vec), a.id, pq.Array(candidateIDs), consolidationNearest)
		if err != nil {
			return nil, fmt.Errorf("postgres: nearest neighbours: %w", err)
		}
		for nnRows.Next() {
			var id string
			var distance float64
			if err := nnRows.Scan(&id, &distance); err != nil {
				nnRows.Close()
				return nil, fmt.Errorf("postgres: nearest neighbours scan: %w", err)
			}
			sim := distanceToSimilarity(distance)
			j, ok := index[id]
			if !ok || sim < consolidationThreshold || i >= j {
				continue
			}
			key := [2]int{i, j}
			if seen[key] {
				continue
			}
			seen[key] = true
			rawPairs = append(rawPairs, rawPair{i, j, sim})
		}
		if err := nnRows.Err(); err != nil {
			nnRows.Close()
			return nil, err
		}
		nnRows.Close()
	}

	sort.Slice(rawPairs, func(x, y int) bool {
		if rawPairs[x].aIdx != rawPairs[y].aIdx {
			return rawPairs[x].aIdx < rawPairs[y].aIdx
		}
		return rawPairs[x].bIdx < rawPairs[y].bIdx
	})

	pairs := make([]store.ConsolidationPair, 0, len(rawPairs))
	for _, p := range rawPairs {
		a, err := s.Get(ctx, all[p.aIdx].id)
		if err != nil {
			continue
		}
		b, err := s.Get(ctx, all[p.bIdx].id)
		if err != nil {
			continue
		}
		pairs = append(pairs, store.ConsolidationPair{A: a, B: b, Similarity: p.sim})
	}
	return pairs, nil
}

// GraphTraverse performs the same undirected BFS as the SQLite backend,
// using ANY($1) array binding for frontier expansion.
func (s *Store) GraphTraverse(ctx context.Context, seedIDs []string, bounds store.GraphBounds, namespace *model.Namespace) ([]store.GraphNode, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	bounds.Normalize()
	deadline := time.Now().Add(bounds.Timeout)

	visited := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = true
	}
	discovered := make(map[string]int)
	frontier := append([]string(nil), seedIDs...)

	for hop := 1; hop <= bounds.MaxHops; hop++ {
		if len(frontier) == 0 || len(discovered) >= bounds.MaxNodes || time.Now().After(deadline) {
			break
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT source_id, target_id FROM memory_links
			WHERE source_id = ANY($1) OR target_id = ANY($1)`, pq.Array(frontier))
		if err != nil {
			return nil, fmt.Errorf("postgres: GraphTraverse expand: %w", err)
		}

		frontierSet := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			frontierSet[id] = true
		}

		var next []string
		for rows.Next() {
			var src, tgt string
			if err := rows.Scan(&src, &tgt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("postgres: GraphTraverse scan: %w", err)
			}
			for _, candidate := range []struct {
				from, to string
			}{{src, tgt}, {tgt, src}} {
				if frontierSet[candidate.from] && !visited[candidate.to] {
					visited[candidate.to] = true
					discovered[candidate.to] = hop
					next = append(next, candidate.to)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		frontier = next
	}

	if len(discovered) == 0 {
		return nil, nil
	}

	var nodes []store.GraphNode
	for id, hop := range discovered {
		note, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if note.IsArchived {
			continue
		}
		if namespace != nil && !note.Namespace.Equal(*namespace) {
			continue
		}
		nodes = append(nodes, store.GraphNode{Memory: note, HopDistance: hop})
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].HopDistance != nodes[j].HopDistance {
			return nodes[i].HopDistance < nodes[j].HopDistance
		}
		if nodes[i].Memory.Importance != nodes[j].Memory.Importance {
			return nodes[i].Memory.Importance > nodes[j].Memory.Importance
		}
		return nodes[i].Memory.ID < nodes[j].Memory.ID
	})
	return nodes, nil
}

// distanceToSimilarity converts a cosine distance to the similarity scale
// used by vector_search: sim = max(0, 1 - d/2).
func distanceToSimilarity(d float64) float64 {
	sim := 1 - d/2
	if sim < 0 {
		return 0
	}
	return sim
}

// scanNoteWithDistance scans a note row with a trailing distance column.
func scanNoteWithDistance(rows interface {
	Scan(dest ...interface{}) error
}) (*model.MemoryNote, float64, error) {
	// Reuse scanNote's column handling by scanning into a wrapper that
	// appends the distance destination.
	var distance float64
	note, err := scanNoteExtra(rows, &distance)
	return note, distance, err
}
