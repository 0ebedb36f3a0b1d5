package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scrypster/petmind/internal/engine"
	"github.com/scrypster/petmind/internal/inbox"
	"github.com/scrypster/petmind/pkg/types"
)

// defaultSearchTop is how many matches the search prompt shows.
const defaultSearchTop = 3

type searchOptions struct {
	top  int
	kind string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find pets by description or by an image file",
		Long: `Finds the pets most similar to a text description or to an image file.
With no query, reads queries from stdin until "exit" or end of input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.shutdown(context.Background())

			s := &searcher{eng: a.engine, top: opts.top, kind: types.EntityKind(opts.kind)}
			if len(args) > 0 {
				return s.once(ctx, cmd.OutOrStdout(), strings.Join(args, " "))
			}
			return s.repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.top, "top", "k", defaultSearchTop, "number of matches to show")
	cmd.Flags().StringVar(&opts.kind, "kind", string(types.KindPet), "entity kind to search (pet or post, empty for all)")
	return cmd
}

// searchEngine is the part of the engine the search prompt uses.
type searchEngine interface {
	Search(ctx context.Context, q engine.Query) ([]types.SearchResult, error)
	EmbedMedia(ctx context.Context, data []byte, isImage bool) ([]float32, error)
}

type searcher struct {
	eng  searchEngine
	top  int
	kind types.EntityKind
}

// query builds the search for input. An existing image file is searched
// by its pixels, anything else by text.
func (s *searcher) query(ctx context.Context, input string) (engine.Query, error) {
	q := engine.Query{K: s.top, Kind: s.kind}
	if inbox.IsImageFile(input) {
		if data, err := os.ReadFile(input); err == nil {
			vector, err := s.eng.EmbedMedia(ctx, data, true)
			if err != nil {
				return q, err
			}
			q.Vector = vector
			return q, nil
		}
	}
	q.Text = input
	return q, nil
}

func (s *searcher) once(ctx context.Context, out io.Writer, input string) error {
	q, err := s.query(ctx, input)
	if err != nil {
		return err
	}
	results, err := s.eng.Search(ctx, q)
	if err != nil {
		return err
	}
	printResults(out, results)
	return nil
}

func (s *searcher) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	prompt := color.New(color.FgCyan, color.Bold).SprintFunc()
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, prompt("search> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := s.once(ctx, out, input); err != nil {
			color.New(color.FgRed).Fprintf(out, "error: %v\n", err)
		}
	}
}

func printResults(out io.Writer, results []types.SearchResult) {
	if len(results) == 0 {
		color.New(color.FgYellow).Fprintln(out, "no matches")
		return
	}

	name := color.New(color.Bold).SprintFunc()
	score := color.New(color.FgGreen).SprintFunc()
	for i, r := range results {
		label := r.Entity.Name
		if label == "" {
			label = r.Entity.Content
		}
		fmt.Fprintf(out, "%d. %s %s  %s\n", i+1, name(label), score(fmt.Sprintf("%.4f", r.Score)), r.Entity.ID)
		if r.Entity.Description != "" {
			fmt.Fprintf(out, "   %s\n", r.Entity.Description)
		}
		if r.Entity.MediaRef != "" {
			fmt.Fprintf(out, "   %s\n", r.Entity.MediaRef)
		}
	}
}
