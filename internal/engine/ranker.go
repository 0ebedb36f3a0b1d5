package engine

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"math"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// Ranker returns the k ready entities most similar to a query vector.
//
// Results are ordered by descending score; equal scores are ordered by
// ascending entity id. k <= 0 and an empty candidate set both yield an
// empty result.
type Ranker interface {
	Rank(ctx context.Context, query []float32, k int, filter storage.ReadyFilter) ([]types.ScoredEntity, error)
}

// BruteForceRanker scans every ready vector and keeps the best k in a
// bounded min-heap.
type BruteForceRanker struct {
	store storage.VectorStore
}

var _ Ranker = (*BruteForceRanker)(nil)

// NewBruteForceRanker creates a ranker over the given vector store.
func NewBruteForceRanker(store storage.VectorStore) *BruteForceRanker {
	return &BruteForceRanker{store: store}
}

// CosineSimilarity returns cos(a, b), accumulated in float64.
// A zero-norm vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance returns 1 - cos(a, b).
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Rank implements Ranker.
func (r *BruteForceRanker) Rank(ctx context.Context, query []float32, k int, filter storage.ReadyFilter) ([]types.ScoredEntity, error) {
	if k <= 0 {
		return []types.ScoredEntity{}, nil
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidQuery)
	}
	if !types.IsFiniteVector(query) {
		return nil, fmt.Errorf("%w: query vector has non-finite components", ErrInvalidQuery)
	}

	h := make(scoreHeap, 0, k)
	skipped := 0

	err := r.store.AllReady(ctx, filter, func(entityID string, vector []float32) error {
		if len(vector) != len(query) {
			skipped++
			return nil
		}

		candidate := types.ScoredEntity{
			EntityID: entityID,
			Score:    1 - CosineDistance(query, vector),
		}

		if h.Len() < k {
			heap.Push(&h, candidate)
		} else if better(candidate, h[0]) {
			h[0] = candidate
			heap.Fix(&h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	if skipped > 0 {
		log.Printf("WARNING: ranker skipped %d candidates with dimension != %d", skipped, len(query))
	}

	// Popping yields worst first.
	results := make([]types.ScoredEntity, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(&h).(types.ScoredEntity)
	}
	return results, nil
}

// better reports whether a ranks ahead of b.
func better(a, b types.ScoredEntity) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.EntityID < b.EntityID
}

// scoreHeap is a min-heap whose root is the worst retained candidate.
type scoreHeap []types.ScoredEntity

func (h scoreHeap) Len() int           { return len(h) }
func (h scoreHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x any) {
	*h = append(*h, x.(types.ScoredEntity))
}

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
