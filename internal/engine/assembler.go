package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"

	"github.com/scrypster/petmind/internal/llm"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// memoryBlockHeader introduces the remembered facts in the system prompt.
const memoryBlockHeader = "Facts you need to remember:"

// SubjectResolver looks up the entity a conversation is about.
type SubjectResolver interface {
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
}

// ChatRequest is one user message addressed to a subject.
type ChatRequest struct {
	ActorID   string `json:"actor_id,omitempty"`
	SubjectID string `json:"subject_id"`
	Text      string `json:"text"`
}

// Prompt is the assembled completion input.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Turn is one pass through context assembly.
type Turn struct {
	ID        string              `json:"id"`
	ActorID   string              `json:"actor_id,omitempty"`
	SubjectID string              `json:"subject_id"`
	Input     string              `json:"input"`
	State     types.TurnState     `json:"state"`
	History   []types.TurnState   `json:"history"`
	Memories  []types.MemoryEntry `json:"memories,omitempty"`
	Prompt    Prompt              `json:"prompt"`
	Reply     string              `json:"reply"`
	Retained  bool                `json:"retained"`
	CreatedAt time.Time           `json:"created_at"`

	// Err is the completion failure behind a FAILED turn.
	Err error `json:"-"`
}

// advance moves the turn to next, enforcing the state machine.
func (t *Turn) advance(next types.TurnState) {
	if !types.IsValidTurnTransition(t.State, next) {
		panic(fmt.Sprintf("engine: invalid turn transition %q -> %q", t.State, next))
	}
	t.State = next
	t.History = append(t.History, next)
}

// Fallback reports whether the reply is the fallback reply.
func (t *Turn) Fallback() bool {
	return t.State == types.TurnFailed
}

// Assembler builds prompts from a subject's persona and recent memories,
// calls the completion service and records what happened.
type Assembler struct {
	subjects     SubjectResolver
	ledger       storage.MemoryLedger
	interactions storage.InteractionLog
	generator    llm.TextGenerator
	retention    RetentionPolicy
	config       AssemblerConfig
}

// NewAssembler creates an assembler. A nil retention policy keeps nothing.
func NewAssembler(subjects SubjectResolver, ledger storage.MemoryLedger, interactions storage.InteractionLog,
	generator llm.TextGenerator, retention RetentionPolicy, cfg AssemblerConfig) (*Assembler, error) {
	if subjects == nil || ledger == nil || interactions == nil {
		return nil, fmt.Errorf("subject resolver, memory ledger and interaction log are required")
	}
	if generator == nil {
		return nil, fmt.Errorf("text generator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if retention == nil {
		retention = NeverRetain
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}

	return &Assembler{
		subjects:     subjects,
		ledger:       ledger,
		interactions: interactions,
		generator:    generator,
		retention:    retention,
		config:       cfg,
	}, nil
}

// Converse runs one turn. Completion failures never surface as errors: the
// turn ends FAILED with the fallback reply and nothing is persisted.
// Errors are returned only for bad input, an unknown subject, or a failed
// memory fetch.
func (a *Assembler) Converse(ctx context.Context, req ChatRequest) (*Turn, error) {
	input := strings.TrimSpace(req.Text)
	if input == "" {
		return nil, ErrEmptyInput
	}

	subject, err := a.subjects.GetEntity(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, req.SubjectID)
		}
		return nil, fmt.Errorf("%w: load subject %s: %v", ErrRetrieval, req.SubjectID, err)
	}

	turn := &Turn{
		ID:        shortuuid.New(),
		ActorID:   req.ActorID,
		SubjectID: subject.ID,
		Input:     input,
		CreatedAt: time.Now(),
	}
	turn.advance(types.TurnReceived)

	memories, err := a.ledger.RecentMemories(ctx, subject.ID, a.config.MemoryWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: recent memories for %s: %v", ErrRetrieval, subject.ID, err)
	}
	turn.advance(types.TurnMemoryFetched)

	turn.Prompt, turn.Memories = BuildPrompt(subject.Persona, memories, input, a.config.MaxPromptChars)
	turn.advance(types.TurnPromptBuilt)

	reply, err := a.complete(ctx, turn.Prompt)
	if err != nil {
		log.Printf("WARNING: completion for subject %s failed, using fallback: %v", subject.ID, err)
		turn.Err = err
		turn.Reply = a.config.FallbackReply
		turn.advance(types.TurnFailed)
		return turn, nil
	}

	turn.Reply = reply
	turn.advance(types.TurnCompleted)
	a.persist(ctx, turn)

	return turn, nil
}

// complete calls the generator under the completion timeout.
// A blank reply counts as a failure.
func (a *Assembler) complete(ctx context.Context, p Prompt) (string, error) {
	if a.config.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.CompletionTimeout)
		defer cancel()
	}

	reply, err := a.generator.Complete(ctx, p.System, p.User)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletion, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrCompletion)
	}
	return reply, nil
}

// persist records a completed turn. Failures are logged and swallowed.
func (a *Assembler) persist(ctx context.Context, turn *Turn) {
	interaction := &types.Interaction{
		ID:        shortuuid.New(),
		ActorID:   turn.ActorID,
		SubjectID: turn.SubjectID,
		Input:     turn.Input,
		Output:    turn.Reply,
		CreatedAt: turn.CreatedAt,
	}
	if err := a.interactions.AppendInteraction(ctx, interaction); err != nil {
		log.Printf("ERROR: failed to record interaction for subject %s: %v", turn.SubjectID, err)
	}

	if !a.retention.Retain(turn) {
		return
	}

	entry := &types.MemoryEntry{
		ID:        shortuuid.New(),
		SubjectID: turn.SubjectID,
		Text:      memoryText(turn.Input),
		CreatedAt: time.Now(),
	}
	if err := a.ledger.AppendMemory(ctx, entry); err != nil {
		log.Printf("ERROR: failed to retain memory for subject %s: %v", turn.SubjectID, err)
		return
	}
	turn.Retained = true
}

// BuildPrompt assembles the prompt from a persona, newest-first memories and
// the user input. When maxChars > 0 the oldest memories are dropped until the
// prompt fits, counted in runes; persona and input are never cut. It returns the memories that
// made it into the prompt.
func BuildPrompt(persona string, memories []types.MemoryEntry, input string, maxChars int) (Prompt, []types.MemoryEntry) {
	if strings.TrimSpace(persona) == "" {
		persona = types.DefaultPersona
	}

	kept := memories
	for {
		p := Prompt{System: systemPrompt(persona, kept), User: input}
		if maxChars <= 0 || len(kept) == 0 || utf8.RuneCountInString(p.System)+utf8.RuneCountInString(p.User) <= maxChars {
			return p, kept
		}
		kept = kept[:len(kept)-1]
	}
}

func systemPrompt(persona string, memories []types.MemoryEntry) string {
	if len(memories) == 0 {
		return persona
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(memoryBlockHeader)
	for _, m := range memories {
		b.WriteString("\n- ")
		b.WriteString(m.Text)
	}
	return b.String()
}
