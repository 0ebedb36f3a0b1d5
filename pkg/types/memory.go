package types

import "time"

// MemoryEntry is a persisted fact that shapes future replies for a subject.
// Entries are append-only; they are never updated or deleted.
type MemoryEntry struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Interaction records one completed chat turn.
type Interaction struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	SubjectID string    `json:"subject_id"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}
