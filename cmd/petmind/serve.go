package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/petmind/internal/attribution"
	"github.com/scrypster/petmind/internal/inbox"
	"github.com/scrypster/petmind/internal/server"
	"github.com/scrypster/petmind/web/handlers"
)

type serveOptions struct {
	watch   bool
	origins []string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.watch, "watch", false, "ingest images dropped into the inbox folder (PETMIND_INBOX_PATH)")
	cmd.Flags().StringSliceVar(&opts.origins, "allow-origin", nil, "extra WebSocket origin patterns")
	return cmd
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, appOptions{chat: true})
	if err != nil {
		return err
	}

	if err := a.start(ctx); err != nil {
		a.shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	origins := append([]string{fmt.Sprintf("localhost:%d", cfg.Server.Port), fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)}, opts.origins...)
	addr, hub, err := server.Start(gctx, cfg, a.engine, server.Options{
		Media:          a.media,
		MediaRoot:      a.local.Root(),
		AllowedOrigins: origins,
	})
	if err != nil {
		a.shutdown(context.Background())
		return err
	}
	wireEvents(a, hub)
	log.Printf("petmind API running at http://%s", addr)

	if opts.watch {
		watcher := inbox.NewWatcher(cfg.Media.InboxPath,
			inbox.NewImporter(a.engine, 1, attribution.DetectActor()), inbox.DefaultSettleDelay, nil)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	log.Println("Shutting down gracefully...")

	// The inbox watcher has stopped, so nothing submits past this point.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout+5*time.Second)
	defer cancel()
	a.shutdown(shutdownCtx)
	return err
}

// wireEvents forwards engine callbacks to WebSocket clients.
func wireEvents(a *app, hub *handlers.WebSocketHub) {
	a.engine.SetOnEntityCreated(func(entityID string) {
		hub.Publish(handlers.EventEntityCreated, entityID, "")
	})
	a.engine.SetOnEmbeddingReady(func(entityID string) {
		hub.Publish(handlers.EventEmbeddingReady, entityID, "")
	})
	a.engine.SetOnEmbeddingFailed(func(entityID, reason string) {
		hub.Publish(handlers.EventEmbeddingFailed, entityID, reason)
	})
}
