package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// defaultKeywordLimit is the FTS-native result cap applied when the caller
// does not override the limit.
const defaultKeywordLimit = 20

// KeywordSearch applies FTS5 MATCH over (summary, content, keywords, tags).
// An empty query degrades to a namespace-filtered importance-desc,
// recency-desc ranking. Archived notes are never returned.
func (s *Store) KeywordSearch(ctx context.Context, query string, namespace *model.Namespace, limit int) ([]store.KeywordResult, error) {
	if limit < 1 {
		limit = defaultKeywordLimit
	}

	if strings.TrimSpace(query) == "" {
		return s.keywordFallback(ctx, namespace, limit)
	}

	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return s.keywordFallback(ctx, namespace, limit)
	}

	sqlQuery := `
		SELECT ` + prefixColumns("m") + `
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND m.is_archived = 0`
	args := []interface{}{ftsQuery}
	if namespace != nil {
		sqlQuery += ` AND m.namespace = ?`
		args = append(args, namespace.String())
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// FTS5 can still error on malformed input that slipped past
		// sanitisation; wrap with the original query for diagnosis.
		return nil, fmt.Errorf("sqlite: KeywordSearch MATCH %q: %w", query, err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: KeywordSearch scan: %w", err)
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

// keywordFallback ranks by importance desc then recency desc when there is
// no usable query text.
func (s *Store) keywordFallback(ctx context.Context, namespace *model.Namespace, limit int) ([]store.KeywordResult, error) {
	sqlQuery := `SELECT ` + noteColumns + ` FROM memories WHERE is_archived = 0`
	var args []interface{}
	if namespace != nil {
		sqlQuery += ` AND namespace = ?`
		args = append(args, namespace.String())
	}
	sqlQuery += ` ORDER BY importance DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: keyword fallback: %w", err)
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

// vectorSearchMaxCandidates caps the number of embeddings loaded into memory
// during a vector search. Candidates are selected newest first, so recent
// notes are always considered. For larger datasets, use the Postgres backend
// with pgvector's indexed ANN search.
const vectorSearchMaxCandidates = 10_000

// VectorSearch computes cosine similarity between queryVec and every
// non-archived, embedded note in the (optionally filtered) namespace and
// returns the top-k. Similarity is the distance conversion
// sim = max(0, 1 - d/2) where d = 1 - cos.
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, limit int, namespace *model.Namespace) ([]store.VectorResult, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 10
	}

	sqlQuery := `
		SELECT id, embedding FROM memories
		WHERE is_archived = 0 AND embedding IS NOT NULL`
	var args []interface{}
	if namespace != nil {
		sqlQuery += ` AND namespace = ?`
		args = append(args, namespace.String())
	}
	sqlQuery += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, vectorSearchMaxCandidates)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: VectorSearch: %w", err)
	}
	defer rows.Close()

	type scored struct {
		id  string
		sim float64
	}
	var candidates []scored
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: VectorSearch scan: %w", err)
		}
		vec, err := deserializeVector(blob)
		if err != nil || len(vec) != len(queryVec) {
			continue
		}
		candidates = append(candidates, scored{id, distanceToSimilarity(cosineDistance(queryVec, vec))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: VectorSearch rows: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]store.VectorResult, 0, len(candidates))
	for _, c := range candidates {
		note, err := s.Get(ctx, c.id)
		if err != nil {
			continue
		}
		results = append(results, store.VectorResult{Memory: note, Similarity: c.sim})
	}
	return results, nil
}

// consolidationCandidateLimit bounds how many embedded notes are considered
// per consolidation sweep.
const (
	consolidationCandidateLimit = 100
	consolidationNearest        = 5
	consolidationThreshold      = 0.85
)

// FindConsolidationCandidates considers up to 100 non-archived embedded
// notes in the namespace; for each note it examines its top-5 nearest
// neighbours and includes the pair (A,B) when similarity >= 0.85 and A's
// iteration index < B's, avoiding symmetric duplicates.
func (s *Store) FindConsolidationCandidates(ctx context.Context, namespace *model.Namespace) ([]store.ConsolidationPair, error) {
	sqlQuery := `
		SELECT id, embedding FROM memories
		WHERE is_archived = 0 AND embedding IS NOT NULL`
	var args []interface{}
	if namespace != nil {
		sqlQuery += ` AND namespace = ?`
		args = append(args, namespace.String())
	}
	sqlQuery += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, consolidationCandidateLimit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: FindConsolidationCandidates: %w", err)
	}
	defer rows.Close()

	type embedded struct {
		id  string
		vec []float32
	}
	var all []embedded
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: FindConsolidationCandidates scan: %w", err)
		}
		vec, err := deserializeVector(blob)
		if err != nil {
			continue
		}
		all = append(all, embedded{id, vec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	type rawPair struct {
		aIdx, bIdx int
		sim        float64
	}
	seen := make(map[[2]int]bool)
	var rawPairs []rawPair

	for i, a := range all {
		type neighbour struct {
			idx int
			sim float64
		}
		var nearest []neighbour
		for j, b := range all {
			if i == j || len(a.vec) != len(b.vec) {
				continue
			}
			nearest = append(nearest, neighbour{j, distanceToSimilarity(cosineDistance(a.vec, b.vec))})
		}
		sort.Slice(nearest, func(x, y int) bool { return nearest[x].sim > nearest[y].sim })
		if len(nearest) > consolidationNearest {
			nearest = nearest[:consolidationNearest]
		}
		for _, nb := range nearest {
			if nb.sim < consolidationThreshold || i >= nb.idx {
				continue
			}
			key := [2]int{i, nb.idx}
			if seen[key] {
				continue
			}
			seen[key] = true
			rawPairs = append(rawPairs, rawPair{i, nb.idx, nb.sim})
		}
	}

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

// cosineDistance returns 1 - cos(a, b). Zero-magnitude vectors yield the
// maximum distance of 1.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
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

// prefixColumns qualifies every note column with a table alias.
func prefixColumns(alias string) string {
	cols := strings.Split(noteColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// sanitiseFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression: strips FTS5-special characters, drops stop words, and uses
// prefix matching (term*) with OR semantics for recall.
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
		`.`, ` `,
		`,`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	stopWords := map[string]bool{
		"a": true, "an": true, "the": true,
		"is": true, "are": true, "was": true, "were": true, "be": true,
		"to": true, "of": true, "in": true, "on": true, "at": true,
		"by": true, "for": true, "with": true, "from": true, "as": true,
		"what": true, "how": true, "when": true, "where": true, "why": true,
		"this": true, "that": true, "these": true, "those": true,
		"and": true, "or": true, "but": true, "if": true, "not": true,
		"s": true, "t": true,
	}

	var terms []string
	for _, w := range words {
		if !stopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return strings.ToLower(strings.TrimSpace(cleaned))
	}
	return strings.Join(terms, " OR ")
}
