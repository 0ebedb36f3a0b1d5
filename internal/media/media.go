// Package media resolves media references to bytes and stores uploaded
// images. References are either local paths or s3://bucket/key URIs.
package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a reference points at nothing.
	ErrNotFound = errors.New("media: not found")

	// ErrInvalidRef is returned for references a store cannot serve.
	ErrInvalidRef = errors.New("media: invalid reference")
)

// Resolver turns a media reference into bytes.
type Resolver interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// Store is a Resolver that can also persist new media.
type Store interface {
	Resolver

	// Put stores data under name and returns the reference to use later.
	Put(ctx context.Context, name string, data []byte) (string, error)
}

const s3Scheme = "s3://"

var uploadExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// IsS3Ref reports whether ref is an s3:// URI.
func IsS3Ref(ref string) bool {
	return strings.HasPrefix(ref, s3Scheme)
}

// CheckClientRef rejects references a remote client may not hand in: local
// files are only reachable by a clean path relative to the media root.
func CheckClientRef(ref string) error {
	if ref == "" || IsS3Ref(ref) {
		return nil
	}
	if strings.HasPrefix(ref, "file://") || filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
		return fmt.Errorf("%w: %q is not a media root reference", ErrInvalidRef, ref)
	}
	clean := filepath.Clean(ref)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q escapes media root", ErrInvalidRef, ref)
	}
	return nil
}

// objectName returns a fresh storage name that keeps the extension of name,
// so every upload gets its own immutable reference.
func objectName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !uploadExt.MatchString(ext) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// Router dispatches references by scheme. Put goes to the primary store.
type Router struct {
	primary Store
	local   *FileStore
	s3      *S3Store
}

var _ Store = (*Router)(nil)

// NewRouter creates a router. s3 may be nil when S3 is not configured.
func NewRouter(local *FileStore, s3 *S3Store) *Router {
	r := &Router{local: local, s3: s3, primary: local}
	if s3 != nil {
		r.primary = s3
	}
	return r
}

// Resolve reads the referenced media.
func (r *Router) Resolve(ctx context.Context, ref string) ([]byte, error) {
	if IsS3Ref(ref) {
		if r.s3 == nil {
			return nil, ErrInvalidRef
		}
		return r.s3.Resolve(ctx, ref)
	}
	if r.local == nil {
		return nil, ErrInvalidRef
	}
	return r.local.Resolve(ctx, ref)
}

// Put stores data in the primary store.
func (r *Router) Put(ctx context.Context, name string, data []byte) (string, error) {
	return r.primary.Put(ctx, name, data)
}
