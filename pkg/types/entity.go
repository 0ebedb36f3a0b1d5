package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPersona is used for subjects that carry no persona of their own.
const DefaultPersona = "You are a pet."

// Entity is any record that can carry media: a pet or a post.
// Its MediaRef is immutable once set. The embedding fields are read-only
// projections of the entity's embedding record.
type Entity struct {
	// Core identification fields
	ID        string     `json:"id"`         // Unique identifier (format: kind:uuid)
	Kind      EntityKind `json:"kind"`       // pet or post
	CreatedAt time.Time  `json:"created_at"` // Creation timestamp
	UpdatedAt time.Time  `json:"updated_at"` // Last update timestamp

	// Descriptive fields
	Name        string `json:"name,omitempty"`        // Pet name
	Breed       string `json:"breed,omitempty"`       // Pet breed
	Description string `json:"description,omitempty"` // Free-text description
	Content     string `json:"content,omitempty"`     // Post body

	// Media and ownership
	MediaRef  string `json:"media_ref,omitempty"`  // Object storage path or URI
	OwnerID   string `json:"owner_id,omitempty"`   // Actor that created the entity
	SubjectID string `json:"subject_id,omitempty"` // For posts: the pet the post is about

	// Persona is the system instruction used when this entity is a chat subject.
	Persona string `json:"persona,omitempty"`

	// Embedding projection
	EmbeddingStatus EmbeddingStatus `json:"embedding_status,omitempty"`
	EmbeddingError  string          `json:"embedding_error,omitempty"`
}

// EmbeddingText returns the text embedded for an entity without media.
func (e *Entity) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{e.Name, e.Description, e.Content} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// PetPersona builds the persona text for a pet from its profile.
func PetPersona(name, breed, description string) string {
	if name == "" && breed == "" {
		return DefaultPersona
	}
	if breed == "" {
		breed = "pet"
	}
	persona := fmt.Sprintf("You are a %s named %s.", breed, name)
	if d := strings.TrimSpace(description); d != "" {
		persona += " " + d
	}
	return persona
}

// EmbeddingRecord is the vector owned 1:1 by an entity.
// A ready record has exactly Dimension finite components.
type EmbeddingRecord struct {
	EntityID  string          `json:"entity_id"`
	Vector    []float32       `json:"vector,omitempty"`
	Dimension int             `json:"dimension"`
	Model     string          `json:"model,omitempty"`
	Status    EmbeddingStatus `json:"status"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ScoredEntity is one ranked hit: an entity id and its similarity score.
type ScoredEntity struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// SearchResult is a ranked hit hydrated with its entity.
type SearchResult struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}
