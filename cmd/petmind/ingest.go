package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scrypster/petmind/internal/attribution"
	"github.com/scrypster/petmind/internal/inbox"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

type ingestOptions struct {
	concurrency int
	wait        bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Add every image in a folder as a pet",
		Long: `Adds every .jpg, .jpeg, .png, .bmp and .webp file directly inside <dir>
as a pet named after the file. Embeddings are computed before the command exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 4, "files submitted in parallel")
	cmd.Flags().BoolVar(&opts.wait, "wait", true, "wait for embeddings to finish before exiting")
	return cmd
}

func runIngest(ctx context.Context, out io.Writer, dir string, opts ingestOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	// Images are referenced in place; only this process may read them unless
	// the folder is also listed in PETMIND_MEDIA_ALLOW_ROOTS.
	if err := a.local.AllowRoot(dir); err != nil {
		a.shutdown(context.Background())
		return err
	}
	if err := a.start(ctx); err != nil {
		a.shutdown(context.Background())
		return err
	}

	importer := inbox.NewImporter(a.engine, opts.concurrency, attribution.DetectActor())
	result, err := importer.ImportDir(ctx, dir)
	if err != nil {
		a.shutdown(context.Background())
		return err
	}

	if opts.wait {
		waitForIngestion(ctx, a.store, result)
	}

	// Shutdown drains whatever is still queued.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)

	printIngestResult(out, result)
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d file(s) failed", len(result.Failed))
	}
	return nil
}

// waitForIngestion polls until every submitted entity has left the
// pending state or ctx is done.
func waitForIngestion(ctx context.Context, store storage.VectorStore, result *inbox.Result) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending := 0
		for _, id := range result.Submitted {
			rec, err := store.GetEmbedding(ctx, id)
			if err == nil && rec.Status == types.EmbeddingPending {
				pending++
			}
		}
		if pending == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printIngestResult(out io.Writer, result *inbox.Result) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	paths := make([]string, 0, len(result.Submitted))
	for path := range result.Submitted {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(out, "%s %s -> %s\n", ok("added"), filepath.Base(path), result.Submitted[path])
	}

	failed := make([]string, 0, len(result.Failed))
	for path := range result.Failed {
		failed = append(failed, path)
	}
	sort.Strings(failed)
	for _, path := range failed {
		fmt.Fprintf(out, "%s %s: %v\n", bad("failed"), filepath.Base(path), result.Failed[path])
	}

	fmt.Fprintf(out, "%d added, %d failed, %d skipped\n", len(result.Submitted), len(result.Failed), result.Skipped)
}
