package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonwood/inkwell/internal/prompt"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// FailurePrefix marks error text written into a message slot when a
// generation fails mid-stream.
const FailurePrefix = "FAILURE: "

const probeTimeout = 5 * time.Second

// Adapter wraps one LLM backend's wire protocol for a single generation.
// Instances are single-use: construct, Generate once, discard.
type Adapter interface {
	// ID identifies this live instance in the registry so an out-of-band
	// request can abort it.
	ID() string
	CompilePrompt(ctx context.Context) (*prompt.Compiled, error)
	Generate(ctx context.Context) (*Result, error)
	// Abort is idempotent and safe after completion.
	Abort()
	Aborted() bool
	ContextTokenLimit() int
}

// Result is what a Generate call resolves with. Exactly one of Text or
// Chunks is populated: Text for non-streaming backends, Chunks for
// streaming ones. Errs carries at most one stream error and is closed with
// Chunks. Aborted is authoritative for non-streaming calls; streaming
// consumers read Adapter.Aborted() after the chunk channel closes.
type Result struct {
	Text   string
	Chunks <-chan string
	Errs   <-chan error

	CompiledPrompt *prompt.Compiled
	Aborted        bool
}

// Extras are the backend-specific toggles stored on the connection row.
type Extras struct {
	Stream   *bool  `json:"stream,omitempty"`
	ChatMode *bool  `json:"chat_mode,omitempty"`
	Memory   string `json:"memory,omitempty"`
}

func decodeExtras(conn *roleplay.Connection) Extras {
	var ex Extras
	if len(conn.Extras) > 0 {
		// malformed extras degrade to defaults
		_ = json.Unmarshal(conn.Extras, &ex)
	}
	return ex
}

func (e Extras) streaming() bool {
	if e.Stream == nil {
		return true
	}
	return *e.Stream
}

func (e Extras) chatMode() bool {
	if e.ChatMode == nil {
		return true
	}
	return *e.ChatMode
}

// Params bundles the adapter constructor inputs.
type Params struct {
	Connection *roleplay.Connection
	Sampling   *roleplay.SamplingConfig
	ContextCfg *roleplay.ContextConfig
	PromptCfg  *roleplay.PromptConfig

	Chat               *roleplay.Chat
	CurrentCharacterID uint64
}

// New constructs the adapter for the connection's backend type.
func New(p Params) (Adapter, error) {
	if p.Connection == nil {
		return nil, errors.New("backend: connection is required")
	}
	if p.ContextCfg == nil {
		return nil, errors.New("backend: context config is required")
	}

	b := newBase(p)
	switch p.Connection.Type {
	case roleplay.BackendOpenAI:
		return &openAIAdapter{base: b}, nil
	case roleplay.BackendOllama:
		return &ollamaAdapter{base: b}, nil
	case roleplay.BackendKoboldCpp:
		return &koboldAdapter{base: b}, nil
	case roleplay.BackendLMStudio:
		return &lmStudioAdapter{base: b}, nil
	case roleplay.BackendLlamaCpp:
		return &llamaCppAdapter{base: b}, nil
	default:
		return nil, fmt.Errorf("backend: unknown backend type %q", p.Connection.Type)
	}
}

// base carries adapter state shared by every backend implementation.
type base struct {
	id string

	conn       *roleplay.Connection
	sampling   *roleplay.SamplingConfig
	contextCfg *roleplay.ContextConfig
	promptCfg  *roleplay.PromptConfig
	chat       *roleplay.Chat
	currentID  uint64

	extras Extras
	client *http.Client

	aborted atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

func newBase(p Params) *base {
	sampling := p.Sampling
	if sampling == nil {
		sampling = &roleplay.SamplingConfig{}
	}
	return &base{
		id:         uuid.NewString(),
		conn:       p.Connection,
		sampling:   sampling,
		contextCfg: p.ContextCfg,
		promptCfg:  p.PromptCfg,
		chat:       p.Chat,
		currentID:  p.CurrentCharacterID,
		extras:     decodeExtras(p.Connection),
		client:     &http.Client{},
	}
}

func (b *base) ID() string { return b.id }

func (b *base) Aborted() bool { return b.aborted.Load() }

func (b *base) Abort() {
	b.aborted.Store(true)
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *base) ContextTokenLimit() int {
	return b.contextCfg.TokenLimit
}

// requestContext derives the per-request context Abort cancels. If Abort
// already ran the returned context is pre-cancelled.
func (b *base) requestContext(ctx context.Context) context.Context {
	rctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	if b.aborted.Load() {
		cancel()
	}
	return rctx
}

// CompilePrompt delegates to the prompt builder, deriving the chat/raw mode
// from the connection's extras and folding memory text into the system
// prompt.
func (b *base) CompilePrompt(ctx context.Context) (*prompt.Compiled, error) {
	_ = ctx
	pc := withMemory(b.promptCfg, b.extras.Memory)
	return prompt.Build(prompt.BuildInput{
		Chat:               b.chat,
		CurrentCharacterID: b.currentID,
		ContextCfg:         b.contextCfg,
		PromptCfg:          pc,
		PromptFormat:       b.conn.PromptFormat,
		Counter:            prompt.CounterFor(b.conn.TokenCounter),
		UseChatFormat:      b.extras.chatMode(),
	})
}

// isAbortErr reports whether an HTTP error is the adapter's own cancellation.
func (b *base) isAbortErr(err error) bool {
	return err != nil && b.aborted.Load()
}

// withMemory folds connection memory text into the system prompt without
// mutating the shared prompt config row.
func withMemory(pc *roleplay.PromptConfig, memory string) *roleplay.PromptConfig {
	if memory == "" {
		return pc
	}
	out := roleplay.PromptConfig{}
	if pc != nil {
		out = *pc
	}
	if out.SystemPrompt != "" {
		out.SystemPrompt += "\n\nMemory:\n" + memory
	} else {
		out.SystemPrompt = "Memory:\n" + memory
	}
	return &out
}

// Probe is the result of a reachability check.
type Probe struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ModelList is the result of a model enumeration.
type ModelList struct {
	Models []string `json:"models"`
	Error  string   `json:"error,omitempty"`
}

// TestConnection probes a backend with a short timeout. Failures resolve to
// {ok:false} rather than an error.
func TestConnection(ctx context.Context, conn *roleplay.Connection) Probe {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch conn.Type {
	case roleplay.BackendOllama:
		return probeURL(ctx, conn, "/api/tags")
	case roleplay.BackendKoboldCpp:
		return probeURL(ctx, conn, "/api/v1/model")
	default:
		return probeURL(ctx, conn, "/v1/models")
	}
}

// ListModels enumerates the models a backend serves.
func ListModels(ctx context.Context, conn *roleplay.Connection) ModelList {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch conn.Type {
	case roleplay.BackendOllama:
		return ollamaListModels(ctx, conn)
	case roleplay.BackendKoboldCpp:
		return koboldListModels(ctx, conn)
	default:
		return openAIListModels(ctx, conn)
	}
}
