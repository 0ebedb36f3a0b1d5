package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/scrypster/petmind/internal/engine"
	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/pkg/types"
)

// SearchHandler handles similarity search requests.
type SearchHandler struct {
	engine Engine
	limit  int
}

// NewSearchHandler creates a new SearchHandler instance. limit is the k used
// when a request does not name one; an explicit k of 0 returns no results.
func NewSearchHandler(eng Engine, limit int) *SearchHandler {
	return &SearchHandler{engine: eng, limit: limit}
}

// searchRequest is the JSON body of POST /api/search.
type searchRequest struct {
	Text     string           `json:"text,omitempty"`
	MediaRef string           `json:"media_ref,omitempty"`
	Vector   []float32        `json:"vector,omitempty"`
	K        *int             `json:"k,omitempty"`
	Kind     types.EntityKind `json:"kind,omitempty"`
}

// k parses a form or query value, falling back to the handler limit when
// the value is absent.
func (h *SearchHandler) k(raw string) int {
	if raw == "" {
		return h.limit
	}
	return parseInt(raw, 0)
}

// Search handles GET /api/search?q=...&k=...&kind=... (text query) and
// POST /api/search with a JSON query or a multipart image upload.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var q engine.Query
	switch {
	case r.Method == http.MethodGet:
		q = engine.Query{
			Text: r.URL.Query().Get("q"),
			K:    h.k(r.URL.Query().Get("k")),
			Kind: types.EntityKind(r.URL.Query().Get("kind")),
		}

	case strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"):
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			respondError(w, statusForDecode(err), "invalid upload", err)
			return
		}
		data, _, err := readUpload(r)
		if err != nil {
			respondError(w, statusForDecode(err), "invalid upload", err)
			return
		}
		q = engine.Query{
			Text: r.FormValue("q"),
			K:    h.k(r.FormValue("k")),
			Kind: types.EntityKind(r.FormValue("kind")),
		}
		if data != nil {
			vector, err := h.engine.EmbedMedia(ctx, data, true)
			if err != nil {
				respondError(w, statusForError(err), "failed to embed query image", err)
				return
			}
			q.Vector = vector
		}

	default:
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, statusForDecode(err), "invalid request body", err)
			return
		}
		if err := media.CheckClientRef(req.MediaRef); err != nil {
			respondError(w, http.StatusBadRequest, "invalid media_ref", err)
			return
		}
		q = engine.Query{Text: req.Text, MediaRef: req.MediaRef, Vector: req.Vector, K: h.limit, Kind: req.Kind}
		if req.K != nil {
			q.K = *req.K
		}
	}

	if q.K < 0 {
		respondJSON(w, http.StatusOK, SearchResponse{Results: []types.SearchResult{}, Query: q.Text})
		return
	}
	if q.Kind != "" && !types.IsValidEntityKind(q.Kind) {
		respondError(w, http.StatusBadRequest, "invalid kind", nil)
		return
	}

	results, err := h.engine.Search(ctx, q)
	if err != nil {
		respondError(w, statusForError(err), "search failed", err)
		return
	}
	if results == nil {
		results = []types.SearchResult{}
	}

	respondJSON(w, http.StatusOK, SearchResponse{
		Results: results,
		Total:   len(results),
		Query:   q.Text,
	})
}
