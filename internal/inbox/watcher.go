package inbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ingestedDir is the subfolder files are moved to once submitted.
const ingestedDir = "ingested"

// DefaultSettleDelay is how long a file must stay unchanged before it is
// ingested.
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher watches a drop folder and ingests image files placed in it.
// Ingested files are moved to {dir}/ingested/ and referenced from there.
type Watcher struct {
	dir      string
	importer *Importer
	settle   time.Duration
	onImport func(entityID, path string)

	ctx     context.Context
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for dir. onImport may be nil.
func NewWatcher(dir string, importer *Importer, settle time.Duration, onImport func(entityID, path string)) *Watcher {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Watcher{
		dir:      dir,
		importer: importer,
		settle:   settle,
		onImport: onImport,
		done:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}
}

// Start begins watching. It ingests any images already in the folder
// first, then watches for new ones. Call Stop() to clean up.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.dir, ingestedDir), 0o755); err != nil {
		return fmt.Errorf("inbox: mkdir %s: %w", w.dir, err)
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	w.drainExisting()

	go w.loop()
	log.Printf("inbox: watching %s for new images", w.dir)
	return nil
}

// Stop shuts down the watcher and waits for in-flight imports.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done

	w.mu.Lock()
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && IsImageFile(evt.Name) {
				w.schedule(evt.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("inbox: watcher error: %v", err)
		}
	}
}

func (w *Watcher) drainExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && IsImageFile(entry.Name()) {
			w.schedule(filepath.Join(w.dir, entry.Name()))
		}
	}
}

// schedule ingests path once it has been quiet for the settle delay.
// Every new event for the same path restarts the delay.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		if timer.Stop() {
			timer.Reset(w.settle)
			return
		}
	}

	// The callback blocks on w.mu until timer is assigned below.
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.settled(path, timer)
	})
	w.pending[path] = timer
}

// settled ingests path after timer fired. A timer that fired while a newer
// one was being scheduled leaves the newer entry in place.
func (w *Watcher) settled(path string, timer *time.Timer) {
	w.mu.Lock()
	if w.pending[path] == timer {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.ingest(path)
}

func (w *Watcher) ingest(path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return // moved away or already ingested
	}

	target := filepath.Join(w.dir, ingestedDir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = fmt.Sprintf("%s-%d%s", target[:len(target)-len(ext)], time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, target); err != nil {
		log.Printf("inbox: failed to move %s: %v", filepath.Base(path), err)
		return
	}

	entity, err := w.importer.submit(w.ctx, target, NameFromPath(path))
	if err != nil {
		log.Printf("inbox: failed to import %s: %v", filepath.Base(target), err)
		return
	}

	log.Printf("inbox: ingested %s as %s", filepath.Base(path), entity.ID)
	if w.onImport != nil {
		w.onImport(entity.ID, target)
	}
}
