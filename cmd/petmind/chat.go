package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scrypster/petmind/internal/attribution"
	"github.com/scrypster/petmind/internal/engine"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <pet-id> [message]",
		Short: "Talk to a pet",
		Long: `Sends one message to a pet and prints its reply. With no message, starts
an interactive conversation that ends on "exit" or end of input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, appOptions{chat: true})
			if err != nil {
				return err
			}
			defer a.shutdown(context.Background())

			c := &chatter{eng: a.engine, subjectID: args[0], actorID: attribution.DetectActor()}
			if len(args) > 1 {
				return c.say(ctx, cmd.OutOrStdout(), strings.Join(args[1:], " "))
			}
			return c.repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

// chatEngine is the part of the engine the chat command uses.
type chatEngine interface {
	ConverseTurn(ctx context.Context, req engine.ChatRequest) (*engine.Turn, error)
}

type chatter struct {
	eng       chatEngine
	subjectID string
	actorID   string
}

func (c *chatter) say(ctx context.Context, out io.Writer, text string) error {
	turn, err := c.eng.ConverseTurn(ctx, engine.ChatRequest{
		ActorID:   c.actorID,
		SubjectID: c.subjectID,
		Text:      text,
	})
	if err != nil {
		return err
	}

	reply := color.New(color.FgGreen)
	if turn.Fallback() {
		reply = color.New(color.FgYellow)
	}
	reply.Fprintln(out, turn.Reply)
	return nil
}

func (c *chatter) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	prompt := color.New(color.FgCyan, color.Bold).SprintFunc()
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, prompt(c.actorID+"> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := c.say(ctx, out, text); err != nil {
			color.New(color.FgRed).Fprintf(out, "error: %v\n", err)
		}
	}
}
