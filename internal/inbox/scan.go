// Package inbox ingests image files from a folder: a one-shot bulk import
// and a watched drop folder that ingests files as they arrive.
package inbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/scrypster/petmind/internal/engine"
	"github.com/scrypster/petmind/pkg/types"
)

// imageExtensions are the file types picked up from a folder.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Submitter accepts new entities for ingestion.
type Submitter interface {
	SubmitEntity(ctx context.Context, in engine.NewEntity) (*types.Entity, error)
}

// IsImageFile reports whether name has a supported image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// NameFromPath derives an entity name from the file stem.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Importer turns image files into pet entities.
type Importer struct {
	submitter   Submitter
	concurrency int64
	ownerID     string
}

// NewImporter creates an importer. concurrency bounds in-flight submissions;
// values below 1 mean 1.
func NewImporter(submitter Submitter, concurrency int, ownerID string) *Importer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Importer{
		submitter:   submitter,
		concurrency: int64(concurrency),
		ownerID:     ownerID,
	}
}

// Result summarizes a bulk import.
type Result struct {
	// Submitted maps file paths to the created entity IDs.
	Submitted map[string]string

	// Failed maps file paths to the submission error.
	Failed map[string]error

	// Skipped counts files that are not images.
	Skipped int
}

// ImportFile submits one image file as a pet. The file is referenced in
// place by its absolute path.
func (im *Importer) ImportFile(ctx context.Context, path string) (*types.Entity, error) {
	return im.submit(ctx, path, NameFromPath(path))
}

func (im *Importer) submit(ctx context.Context, path, name string) (*types.Entity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("inbox: resolve %s: %w", path, err)
	}

	return im.submitter.SubmitEntity(ctx, engine.NewEntity{
		Kind:        types.KindPet,
		Name:        name,
		Description: "This is a lovely " + name,
		MediaRef:    abs,
		OwnerID:     im.ownerID,
	})
}

// ImportDir submits every image directly inside dir. Subdirectories are
// not descended. Individual failures are collected in the result; the
// returned error is reserved for an unreadable dir or a cancelled ctx.
func (im *Importer) ImportDir(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: read %s: %w", dir, err)
	}

	var paths []string
	result := &Result{
		Submitted: make(map[string]string),
		Failed:    make(map[string]error),
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !IsImageFile(entry.Name()) {
			result.Skipped++
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	sem := semaphore.NewWeighted(im.concurrency)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, path := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, err
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)

			entity, err := im.ImportFile(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("inbox: failed to import %s: %v", filepath.Base(path), err)
				result.Failed[path] = err
				return
			}
			result.Submitted[path] = entity.ID
		}(path)
	}

	wg.Wait()
	return result, nil
}
