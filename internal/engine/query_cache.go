package engine

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/petmind/internal/llm"
)

// queryCache memoises text query embeddings. Vectors handed out are copies,
// so callers may not corrupt cached entries.
type queryCache struct {
	embedder llm.EmbeddingGenerator
	cache    *lru.Cache[string, []float32]
}

// newQueryCache wraps embedder with an LRU of the given size.
// size <= 0 disables caching.
func newQueryCache(embedder llm.EmbeddingGenerator, size int) (*queryCache, error) {
	qc := &queryCache{embedder: embedder}
	if size <= 0 {
		return qc, nil
	}

	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	qc.cache = cache
	return qc, nil
}

// key scopes cache entries to the embedding model.
func (q *queryCache) key(text string) string {
	return q.embedder.GetModel() + "\x00" + text
}

// Embed returns the embedding of text, consulting the cache first.
func (q *queryCache) Embed(ctx context.Context, text string) ([]float32, error) {
	if q.cache != nil {
		if v, ok := q.cache.Get(q.key(text)); ok {
			return append([]float32(nil), v...), nil
		}
	}

	v, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if q.cache != nil {
		q.cache.Add(q.key(text), append([]float32(nil), v...))
	}
	return v, nil
}

// Len returns the number of cached vectors.
func (q *queryCache) Len() int {
	if q.cache == nil {
		return 0
	}
	return q.cache.Len()
}
