package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/scrypster/petmind/internal/attribution"
	"github.com/scrypster/petmind/internal/engine"
	"github.com/scrypster/petmind/pkg/types"
)

// defaultMemoryLimit is the number of memories GET /api/subjects/{id}/memories returns.
const defaultMemoryLimit = 20

// ChatHandler handles conversations with pets and their memories.
type ChatHandler struct {
	engine Engine
}

// NewChatHandler creates a new ChatHandler instance.
func NewChatHandler(eng Engine) *ChatHandler {
	return &ChatHandler{engine: eng}
}

// Chat handles POST /api/chat. A failed completion still answers 200 with
// the fallback reply.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req engine.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, statusForDecode(err), "invalid request body", err)
		return
	}
	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subject_id is required", nil)
		return
	}
	if req.ActorID == "" {
		req.ActorID = attribution.FromRequest(r)
	}

	turn, err := h.engine.ConverseTurn(r.Context(), req)
	if err != nil {
		respondError(w, statusForError(err), "chat failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ChatResponse{
		TurnID:   turn.ID,
		Reply:    turn.Reply,
		State:    turn.State,
		Fallback: turn.Fallback(),
		Retained: turn.Retained,
		Memories: len(turn.Memories),
	})
}

// Memories handles GET /api/subjects/{id}/memories - returns the subject's
// memories, newest first.
func (h *ChatHandler) Memories(w http.ResponseWriter, r *http.Request) {
	subjectID := extractID(r, "id")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "subject id is required", nil)
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), defaultMemoryLimit)
	memories, err := h.engine.Recent(r.Context(), subjectID, limit)
	if err != nil {
		respondError(w, statusForError(err), "failed to load memories", err)
		return
	}
	if memories == nil {
		memories = []types.MemoryEntry{}
	}

	respondJSON(w, http.StatusOK, MemoriesResponse{
		SubjectID: subjectID,
		Memories:  memories,
	})
}
