package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

// GraphTraverse performs a breadth-first frontier expansion over the
// undirected projection of the link graph: an edge in either direction
// extends the frontier. Results exclude the seeds themselves and archived
// notes, are deduplicated, and are ordered by hop distance then importance
// descending within a depth band.
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

	// discovered maps a note ID to the hop distance at which it was first
	// reached (BFS guarantees this is the minimum).
	discovered := make(map[string]int)
	frontier := append([]string(nil), seedIDs...)

	for hop := 1; hop <= bounds.MaxHops; hop++ {
		if len(frontier) == 0 || len(discovered) >= bounds.MaxNodes {
			break
		}
		if time.Now().After(deadline) {
			break
		}

		neighbours, err := s.neighbourIDs(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, id := range neighbours {
			if visited[id] {
				continue
			}
			visited[id] = true
			discovered[id] = hop
			next = append(next, id)
			if len(discovered) >= bounds.MaxNodes {
				break
			}
		}
		frontier = next
	}

	if len(discovered) == 0 {
		return nil, nil
	}

	var nodes []store.GraphNode
	for id, hop := range discovered {
		note, err := s.Get(ctx, id)
		if err != nil {
			continue // removed between queries
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

// neighbourIDs returns every note ID connected to the frontier by a link in
// either direction.
func (s *Store) neighbourIDs(ctx context.Context, frontier []string) ([]string, error) {
	if len(frontier) == 0 {
		return nil, nil
	}
	inClause := buildInClause(len(frontier))
	args := make([]interface{}, 0, len(frontier)*2)
	for _, id := range frontier {
		args = append(args, id)
	}
	for _, id := range frontier {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT source_id, target_id FROM memory_links
		WHERE source_id IN (%s) OR target_id IN (%s)`, inClause, inClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GraphTraverse expand: %w", err)
	}
	defer rows.Close()

	frontierSet := make(map[string]bool, len(frontier))
	for _, id := range frontier {
		frontierSet[id] = true
	}

	seen := make(map[string]bool)
	var neighbours []string
	for rows.Next() {
		var src, tgt string
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, fmt.Errorf("sqlite: GraphTraverse scan: %w", err)
		}
		if frontierSet[src] && !seen[tgt] {
			seen[tgt] = true
			neighbours = append(neighbours, tgt)
		}
		if frontierSet[tgt] && !seen[src] {
			seen[src] = true
			neighbours = append(neighbours, src)
		}
	}
	return neighbours, rows.Err()
}

// buildInClause returns a comma-separated string of n "?" placeholders.
func buildInClause(n int) string {
	if n == 0 {
		return ""
	}
	clause := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			clause = append(clause, ',')
		}
		clause = append(clause, '?')
	}
	return string(clause)
}
