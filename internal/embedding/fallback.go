package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// ngramSize is the width of the overlapping character windows hashed into
// the vector alongside whole words.
const ngramSize = 3

// FallbackAdapter is the deterministic embedder of last resort: it hashes
// overlapping character n-grams and words into a fixed-dimension vector and
// L2-normalizes the result. The same text always yields the same vector, so
// it is also the backend used for very short inputs where a model embedding
// carries no signal.
type FallbackAdapter struct {
	dim int
}

// NewFallbackAdapter returns a deterministic embedder of the given
// dimension (DefaultDimension when dim < 1).
func NewFallbackAdapter(dim int) *FallbackAdapter {
	if dim < 1 {
		dim = DefaultDimension
	}
	return &FallbackAdapter{dim: dim}
}

// Embed hashes text into the vector. It never fails.
func (f *FallbackAdapter) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return vec, nil
	}

	// Character n-grams capture morphology; runes keep multi-byte text sane.
	runes := []rune(lowered)
	for i := 0; i+ngramSize <= len(runes); i++ {
		f.accumulate(vec, string(runes[i:i+ngramSize]))
	}

	// Whole words capture lexical identity.
	for _, word := range strings.Fields(lowered) {
		f.accumulate(vec, word)
	}

	return l2Normalize(vec), nil
}

// accumulate hashes token into a bucket and a sign, matching the classic
// feature-hashing construction.
func (f *FallbackAdapter) accumulate(vec []float32, token string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	bucket := int(sum % uint64(f.dim))
	if sum&(1<<63) != 0 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}

// Dimension returns the configured vector width.
func (f *FallbackAdapter) Dimension() int { return f.dim }

// ModelName identifies the deterministic backend for provenance.
func (f *FallbackAdapter) ModelName() string { return "fallback-hash-v1" }
