package prompt

import (
	"fmt"
	"strings"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// Message is one role-tagged entry of a chat-format prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Compiled is the prompt builder's output: either a message array (chat
// format) or a single rendered string (raw format), plus the bookkeeping a
// caller needs to observe what made the cut.
type Compiled struct {
	UseChatFormat bool
	Messages      []Message
	Text          string

	SystemPrompt string
	StopStrings  []string

	IncludedIDs []uint64
	ExcludedIDs []uint64

	TokenCount  int
	TokenBudget int
	TokenLimit  int
}

// BuildInput carries everything the builder reads. The chat must be loaded
// with its characters, personas, lorebooks and messages.
type BuildInput struct {
	Chat               *roleplay.Chat
	CurrentCharacterID uint64

	ContextCfg *roleplay.ContextConfig
	PromptCfg  *roleplay.PromptConfig

	PromptFormat  string
	Counter       TokenCounter
	UseChatFormat bool
}

const defaultRawTemplate = "{{system}}\n\n{{history}}\n{{char}}:"

// Build compiles the full prompt for one generation. Assistant chats branch
// to the simplified assistant compiler.
func Build(in BuildInput) (*Compiled, error) {
	if in.Chat == nil {
		return nil, fmt.Errorf("prompt: chat is required")
	}
	if in.ContextCfg == nil {
		return nil, fmt.Errorf("prompt: context config is required")
	}
	if in.Counter == nil {
		in.Counter = CounterFor(CounterEstimate)
	}

	if in.Chat.Type == roleplay.ChatTypeAssistant {
		return buildAssistant(in)
	}

	current := findCharacter(in.Chat, in.CurrentCharacterID)
	if current == nil {
		return nil, fmt.Errorf("prompt: character %d is not attached to chat %s", in.CurrentCharacterID, in.Chat.ChatID)
	}

	ctx := nameContext(in.Chat, in.CurrentCharacterID)

	system := renderSystemPrompt(in, current, ctx)

	budget := int(float64(in.ContextCfg.TokenLimit) * in.ContextCfg.ThresholdPercent)
	total := in.Counter.Count(system)

	includable := includableMessages(in.Chat, in.CurrentCharacterID)

	// The newest user turn is charged first and always kept, even over
	// budget and even when newer assistant turns already overflow; the
	// system prompt was charged up front and is never trimmed.
	keep := make([]bool, len(includable))
	newestUser := -1
	for i := len(includable) - 1; i >= 0; i-- {
		if includable[i].Role == roleplay.RoleUser {
			newestUser = i
			break
		}
	}
	if newestUser >= 0 {
		total += in.Counter.Count(includable[newestUser].Content)
		keep[newestUser] = true
	}

	// Walk newest -> oldest, keeping messages while the budget holds.
	for i := len(includable) - 1; i >= 0; i-- {
		if i == newestUser {
			continue
		}
		cost := in.Counter.Count(includable[i].Content)
		if total+cost > budget {
			break
		}
		total += cost
		keep[i] = true
	}

	out := &Compiled{
		UseChatFormat: in.UseChatFormat,
		SystemPrompt:  system,
		StopStrings:   ResolveStopStrings(in.PromptFormat, in.Chat.Characters, in.Chat.Personas, in.CurrentCharacterID),
		TokenCount:    total,
		TokenBudget:   budget,
		TokenLimit:    in.ContextCfg.TokenLimit,
	}
	kept := make([]roleplay.ChatMessage, 0, len(includable))
	for i, m := range includable {
		if keep[i] {
			out.IncludedIDs = append(out.IncludedIDs, m.ID)
			kept = append(kept, m)
		} else {
			out.ExcludedIDs = append(out.ExcludedIDs, m.ID)
		}
	}
	if in.UseChatFormat {
		out.Messages = make([]Message, 0, len(kept)+1)
		out.Messages = append(out.Messages, Message{Role: "system", Content: system})
		for _, m := range kept {
			out.Messages = append(out.Messages, Message{
				Role:    string(m.Role),
				Content: m.Content,
			})
		}
	} else {
		out.Text = renderRaw(in, system, kept, ctx)
	}

	return out, nil
}

func findCharacter(chat *roleplay.Chat, id uint64) *roleplay.Character {
	for i := range chat.Characters {
		cc := &chat.Characters[i]
		if cc.CharacterID == id {
			return cc.Character
		}
	}
	return nil
}

// nameContext builds the interpolation context: the speaking character as
// {{char}}, the primary persona as {{user}}.
func nameContext(chat *roleplay.Chat, currentCharacterID uint64) Context {
	vars := map[string]string{}
	if c := findCharacter(chat, currentCharacterID); c != nil {
		vars["char"] = c.DisplayName()
	}
	if len(chat.Personas) > 0 && chat.Personas[0].Persona != nil {
		vars["user"] = chat.Personas[0].Persona.DisplayName()
	}
	return CreateContext(vars)
}

func renderSystemPrompt(in BuildInput, current *roleplay.Character, ctx Context) string {
	var b strings.Builder

	if in.PromptCfg != nil && in.PromptCfg.SystemPrompt != "" {
		b.WriteString(InterpolateString(in.PromptCfg.SystemPrompt, ctx))
	}

	writeSection := func(label, body string) {
		if body == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(label)
		b.WriteString(":\n")
		b.WriteString(InterpolateString(body, ctx))
	}

	writeSection("Character", current.Description)
	writeSection("Personality", current.Personality)
	writeSection("Scenario", current.Scenario)

	for i := range in.Chat.Lorebooks {
		lb := in.Chat.Lorebooks[i].Lorebook
		if lb == nil {
			continue
		}
		for j := range lb.Entries {
			e := &lb.Entries[j]
			writeSection("World info", e.Content)
		}
	}

	return b.String()
}

// includableMessages filters the ordered history down to what the current
// character may see: hidden messages and in-flight placeholders are skipped,
// as are messages from characters whose visibility excludes others.
func includableMessages(chat *roleplay.Chat, currentCharacterID uint64) []roleplay.ChatMessage {
	selfOnly := map[uint64]bool{}
	for i := range chat.Characters {
		cc := &chat.Characters[i]
		if cc.Visibility == roleplay.VisibilitySelf {
			selfOnly[cc.CharacterID] = true
		}
	}

	out := make([]roleplay.ChatMessage, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		if m.IsHidden || m.IsGenerating {
			continue
		}
		if m.AuthorCharacterID != nil && selfOnly[*m.AuthorCharacterID] && *m.AuthorCharacterID != currentCharacterID {
			continue
		}
		out = append(out, m)
	}
	return out
}

func renderRaw(in BuildInput, system string, kept []roleplay.ChatMessage, ctx Context) string {
	names := authorNames(in.Chat)

	var hist strings.Builder
	for i, m := range kept {
		if i > 0 {
			hist.WriteString("\n")
		}
		hist.WriteString(names.forMessage(&m))
		hist.WriteString(": ")
		hist.WriteString(m.Content)
	}

	template := defaultRawTemplate
	if in.PromptCfg != nil && in.PromptCfg.Template != "" {
		template = in.PromptCfg.Template
	}

	full := make(Context, len(ctx)+2)
	for k, v := range ctx {
		full[k] = v
	}
	full["system"] = system
	full["history"] = hist.String()

	return InterpolateString(template, full)
}

type nameIndex struct {
	characters map[uint64]string
	personas   map[uint64]string
}

func authorNames(chat *roleplay.Chat) nameIndex {
	idx := nameIndex{
		characters: make(map[uint64]string),
		personas:   make(map[uint64]string),
	}
	for i := range chat.Characters {
		cc := &chat.Characters[i]
		if cc.Character != nil {
			idx.characters[cc.CharacterID] = cc.Character.DisplayName()
		}
	}
	for i := range chat.Personas {
		cp := &chat.Personas[i]
		if cp.Persona != nil {
			idx.personas[cp.PersonaID] = cp.Persona.DisplayName()
		}
	}
	return idx
}

func (n nameIndex) forMessage(m *roleplay.ChatMessage) string {
	if m.AuthorCharacterID != nil {
		if name, ok := n.characters[*m.AuthorCharacterID]; ok {
			return name
		}
	}
	if m.AuthorPersonaID != nil {
		if name, ok := n.personas[*m.AuthorPersonaID]; ok {
			return name
		}
	}
	if m.Role == roleplay.RoleUser {
		return "User"
	}
	return "Assistant"
}
