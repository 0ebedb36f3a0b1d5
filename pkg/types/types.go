// Package types defines the core data structures for petmind.
// These types represent entities carrying media, their embedding records,
// and the conversational memory attached to a subject.
package types

import (
	"math"
	"strings"
)

// EntityKind identifies what an entity represents.
type EntityKind string

// EmbeddingStatus represents the lifecycle of an entity's embedding record.
type EmbeddingStatus string

// Entity kind constants
const (
	// KindPet is a catalog entry for a pet. Pets can be chat subjects.
	KindPet EntityKind = "pet"

	// KindPost is a social post, usually an image about a pet.
	KindPost EntityKind = "post"
)

// Embedding status constants
const (
	// EmbeddingPending indicates the entity is queued and has no usable vector yet
	EmbeddingPending EmbeddingStatus = "pending"

	// EmbeddingReady indicates a complete vector is stored and rankable
	EmbeddingReady EmbeddingStatus = "ready"

	// EmbeddingFailed indicates the last ingestion attempt failed
	EmbeddingFailed EmbeddingStatus = "failed"
)

// ValidEntityKinds contains all supported entity kinds.
var ValidEntityKinds = []EntityKind{KindPet, KindPost}

// IsValidEntityKind reports whether kind is a supported entity kind.
func IsValidEntityKind(kind EntityKind) bool {
	for _, k := range ValidEntityKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// IsValidEmbeddingStatus reports whether status is a known embedding status.
func IsValidEmbeddingStatus(status EmbeddingStatus) bool {
	switch status {
	case EmbeddingPending, EmbeddingReady, EmbeddingFailed:
		return true
	default:
		return false
	}
}

// ImageExtensions lists the media extensions treated as images.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// IsImageRef reports whether a media reference points at an image,
// judged by its extension.
func IsImageRef(ref string) bool {
	lower := strings.ToLower(ref)
	for _, ext := range ImageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// IsFiniteVector reports whether every component of v is a finite number.
func IsFiniteVector(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
