package embedding

import (
	"context"
	"fmt"
	"log"

	"github.com/mnemosyne-core/mnemosyne/internal/store"
)

// Backfill embeds every non-archived note whose embedding is null and
// writes the vector back. Notes are processed in creation order; one bad
// note does not abort the sweep. Returns the number of notes embedded.
func Backfill(ctx context.Context, st store.Store, adapter Adapter) (int, error) {
	if adapter == nil {
		return 0, fmt.Errorf("embedding: adapter is required")
	}
	notes, err := st.ListForJobs(ctx, false)
	if err != nil {
		return 0, err
	}

	embedded := 0
	for _, note := range notes {
		if len(note.Embedding) > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return embedded, err
		}

		vec, err := adapter.Embed(ctx, note.Content)
		if err != nil {
			log.Printf("embedding: backfill skipped %s: %v", note.ID, err)
			continue
		}
		note.Embedding = vec
		note.EmbeddingModel = adapter.ModelName()
		if err := st.Update(ctx, note); err != nil {
			log.Printf("embedding: backfill write failed for %s: %v", note.ID, err)
			continue
		}
		embedded++
	}
	return embedded, nil
}
