package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// Search embeds the query, ranks ready entities against it and hydrates
// the hits. Only entities whose embedding is ready are considered. A K of
// zero or less yields no results; callers pick the default limit.
func (e *Engine) Search(ctx context.Context, q Query) ([]types.SearchResult, error) {
	vector, err := e.queryVector(ctx, q)
	if err != nil {
		return nil, err
	}

	scored, err := e.Rank(ctx, vector, q.K, q.Kind)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(scored))
	for _, hit := range scored {
		entity, err := e.store.GetEntity(ctx, hit.EntityID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Printf("WARNING: ranked entity %s has no entity row, skipping", hit.EntityID)
				continue
			}
			return nil, fmt.Errorf("%w: load %s: %v", ErrRetrieval, hit.EntityID, err)
		}
		results = append(results, types.SearchResult{Entity: *entity, Score: hit.Score})
	}
	return results, nil
}

// Rank returns the k ready entities nearest to vector, optionally limited
// to one kind.
func (e *Engine) Rank(ctx context.Context, vector []float32, k int, kind types.EntityKind) ([]types.ScoredEntity, error) {
	scored, err := e.ranker.Rank(ctx, vector, k, storage.ReadyFilter{Kind: kind})
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrRetrieval) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	return scored, nil
}

// queryVector turns a query into a vector in the entity embedding space.
func (e *Engine) queryVector(ctx context.Context, q Query) ([]float32, error) {
	switch {
	case len(q.Vector) > 0:
		return q.Vector, nil

	case q.MediaRef != "":
		if e.media == nil {
			return nil, fmt.Errorf("%w: no media resolver configured", ErrInvalidQuery)
		}
		data, err := e.media.Resolve(ctx, q.MediaRef)
		if err != nil {
			return nil, fmt.Errorf("resolve query media: %w", err)
		}
		return e.EmbedMedia(ctx, data, types.IsImageRef(q.MediaRef))

	case strings.TrimSpace(q.Text) != "":
		vector, err := e.queries.Embed(ctx, strings.TrimSpace(q.Text))
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return vector, nil

	default:
		return nil, fmt.Errorf("%w: query needs text, media or a vector", ErrInvalidQuery)
	}
}

// EmbedMedia embeds raw query bytes: images through the image embedder,
// anything else as text.
func (e *Engine) EmbedMedia(ctx context.Context, data []byte, isImage bool) ([]float32, error) {
	if !isImage {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, fmt.Errorf("%w: empty query media", ErrInvalidQuery)
		}
		vector, err := e.queries.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return vector, nil
	}

	if e.imageEmbedder == nil {
		return nil, fmt.Errorf("%w: image queries need an image embedder", ErrInvalidQuery)
	}
	data, err := media.NormalizeImage(data, e.config.MaxImageDim)
	if err != nil {
		return nil, fmt.Errorf("normalize query image: %w", err)
	}
	vector, err := e.imageEmbedder.EmbedImage(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("embed query image: %w", err)
	}
	return vector, nil
}
