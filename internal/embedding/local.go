package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
)

// LocalAdapter wraps an inner adapter with an on-disk cache keyed by the
// SHA-256 of the input text, stored under a configured directory. Cache
// failures are non-fatal: a corrupt or unwritable cache degrades to
// recomputation.
type LocalAdapter struct {
	inner    Adapter
	cacheDir string
}

// NewLocalAdapter creates the cache directory if needed and returns the
// caching wrapper.
func NewLocalAdapter(inner Adapter, cacheDir string) (*LocalAdapter, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedding: inner adapter is required")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("embedding: failed to create cache dir %s: %w", cacheDir, err)
	}
	return &LocalAdapter{inner: inner, cacheDir: cacheDir}, nil
}

// Embed returns the cached vector when present, otherwise delegates to the
// inner adapter and caches the result.
func (l *LocalAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	path := l.cachePath(text)
	if vec, ok := l.readCache(path); ok {
		return vec, nil
	}

	vec, err := l.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	l.writeCache(path, vec)
	return vec, nil
}

// Dimension returns the inner adapter's dimension.
func (l *LocalAdapter) Dimension() int { return l.inner.Dimension() }

// ModelName returns the inner adapter's model name.
func (l *LocalAdapter) ModelName() string { return l.inner.ModelName() }

func (l *LocalAdapter) cachePath(text string) string {
	sum := sha256.Sum256([]byte(text))
	return filepath.Join(l.cacheDir, fmt.Sprintf("%x.vec", sum))
}

func (l *LocalAdapter) readCache(path string) ([]float32, bool) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if len(buf) != l.inner.Dimension()*4 {
		// Stale entry from a different dimension; ignore it.
		return nil, false
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, true
}

func (l *LocalAdapter) writeCache(path string, vec []float32) {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		log.Printf("embedding: failed to write cache entry %s: %v", path, err)
	}
}
