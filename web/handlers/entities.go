package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/scrypster/petmind/internal/attribution"
	"github.com/scrypster/petmind/internal/engine"
	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

const (
	// defaultPetLimit is the page size of the pet catalog.
	defaultPetLimit = 6

	// defaultFeedLimit is the page size of the post feed.
	defaultFeedLimit = 10

	// imageField is the multipart field holding an uploaded image.
	imageField = "image"
)

// errNoMediaStore is returned when an upload arrives but no media store is configured.
var errNoMediaStore = errors.New("media uploads are not configured")

// EntityHandler handles pet and post requests.
type EntityHandler struct {
	engine Engine
	media  media.Store
}

// NewEntityHandler creates a new EntityHandler instance. store may be nil,
// in which case image uploads are rejected.
func NewEntityHandler(eng Engine, store media.Store) *EntityHandler {
	return &EntityHandler{
		engine: eng,
		media:  store,
	}
}

// CreatePet handles POST /api/pets.
func (h *EntityHandler) CreatePet(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, types.KindPet)
}

// CreatePost handles POST /api/posts.
func (h *EntityHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, types.KindPost)
}

func (h *EntityHandler) create(w http.ResponseWriter, r *http.Request, kind types.EntityKind) {
	ctx := r.Context()

	in, err := h.decodeNewEntity(r)
	if err != nil {
		respondError(w, statusForDecode(err), "invalid request body", err)
		return
	}
	in.Kind = kind
	if in.OwnerID == "" {
		in.OwnerID = attribution.FromRequest(r)
	}

	entity, err := h.engine.SubmitEntity(ctx, in)
	if err != nil {
		respondError(w, statusForError(err), fmt.Sprintf("failed to create %s", kind), err)
		return
	}

	respondJSON(w, http.StatusAccepted, entity)
}

// decodeNewEntity reads either a JSON body or a multipart form with an
// optional image file. Uploaded images are stored and referenced by MediaRef.
func (h *EntityHandler) decodeNewEntity(r *http.Request) (engine.NewEntity, error) {
	var in engine.NewEntity

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return in, err
		}
		return in, media.CheckClientRef(in.MediaRef)
	}

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return in, err
	}
	in.Name = r.FormValue("name")
	in.Breed = r.FormValue("breed")
	in.Description = r.FormValue("description")
	in.Content = r.FormValue("content")
	in.OwnerID = r.FormValue("owner_id")
	in.SubjectID = r.FormValue("subject_id")
	in.Persona = r.FormValue("persona")
	in.MediaRef = r.FormValue("media_ref")

	data, name, err := readUpload(r)
	if err != nil {
		return in, err
	}
	if data == nil {
		return in, media.CheckClientRef(in.MediaRef)
	}
	if h.media == nil {
		return in, errNoMediaStore
	}

	ref, err := h.media.Put(r.Context(), name, data)
	if err != nil {
		return in, fmt.Errorf("store upload: %w", err)
	}
	in.MediaRef = ref
	return in, nil
}

// readUpload returns the bytes and base name of the uploaded image, or nil
// when the form carries no file.
func readUpload(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile(imageField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, filepath.Base(header.Filename), nil
}

// ListPets handles GET /api/pets - returns the pet catalog, newest first.
func (h *EntityHandler) ListPets(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, storage.ListOptions{Kind: types.KindPet, Limit: parseInt(r.URL.Query().Get("limit"), defaultPetLimit)})
}

// Feed handles GET /api/feed - returns posts newest first, optionally
// narrowed to one pet with ?subject_id=.
func (h *EntityHandler) Feed(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, storage.ListOptions{
		Kind:      types.KindPost,
		SubjectID: r.URL.Query().Get("subject_id"),
		Limit:     parseInt(r.URL.Query().Get("limit"), defaultFeedLimit),
	})
}

func (h *EntityHandler) list(w http.ResponseWriter, r *http.Request, opts storage.ListOptions) {
	opts.Page = parseInt(r.URL.Query().Get("page"), 1)
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = types.EmbeddingStatus(status)
	}
	opts.Normalize()

	result, err := h.engine.ListEntities(r.Context(), opts)
	if err != nil {
		respondError(w, statusForError(err), "failed to list entities", err)
		return
	}

	items := result.Items
	if items == nil {
		items = []types.Entity{}
	}
	respondJSON(w, http.StatusOK, EntityListResponse{
		Items:   items,
		Total:   result.Total,
		Page:    result.Page,
		HasMore: result.HasMore,
	})
}

// GetEntity handles GET /api/entities/{id}.
func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "entity id is required", nil)
		return
	}

	entity, err := h.engine.GetEntity(r.Context(), id)
	if err != nil {
		respondError(w, statusForError(err), "failed to get entity", err)
		return
	}

	respondJSON(w, http.StatusOK, entity)
}

// ReingestRequest is the optional body of POST /api/entities/{id}/reingest.
type ReingestRequest struct {
	MediaRef string `json:"media_ref,omitempty"`
}

// Reingest handles POST /api/entities/{id}/reingest - queues the entity for
// a fresh embedding, optionally from new media.
func (h *EntityHandler) Reingest(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "entity id is required", nil)
		return
	}

	var req ReingestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, statusForDecode(err), "invalid request body", err)
			return
		}
	}

	if err := media.CheckClientRef(req.MediaRef); err != nil {
		respondError(w, http.StatusBadRequest, "invalid media_ref", err)
		return
	}

	if err := h.engine.Reingest(r.Context(), id, req.MediaRef); err != nil {
		respondError(w, statusForError(err), "failed to reingest entity", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(types.EmbeddingPending),
	})
}

// statusForDecode maps request decoding errors to HTTP status codes.
func statusForDecode(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoMediaStore):
		return http.StatusNotImplemented
	default:
		return http.StatusBadRequest
	}
}
