package prompt

import (
	"encoding/json"
	"strings"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// System prompts for the assistant chat modes. Which one applies is decided
// by the latest message's metadata: a pending function-calling handshake
// selects the tool prompt, an ongoing conversation the conversational one.
const (
	assistantSystemDefault = "You are a helpful writing assistant for a roleplay platform. " +
		"Help the user design characters, personas and lore. Be concise and concrete."

	assistantSystemConversational = "You are a helpful writing assistant for a roleplay platform. " +
		"Continue the ongoing conversation naturally. When the user asks you to create or modify " +
		"a character, describe what you would change before doing it."

	assistantSystemFunctionCalling = "You are a character-drafting assistant. Respond only with the " +
		"requested field content, no preamble, no markdown fences. When asked for a list, respond " +
		"with a valid JSON array of strings."
)

// buildAssistant compiles the simplified assistant-mode prompt: a flat
// message history behind a mode-specific system prompt, with draft and
// tagged-entity context appended when present. Malformed metadata is treated
// as empty rather than failing the build.
func buildAssistant(in BuildInput) (*Compiled, error) {
	md, _ := roleplay.DecodeChatMetadata(in.Chat.Metadata)

	system := assistantSystemDefault
	if len(in.Chat.Messages) > 0 {
		system = assistantSystemConversational
		last := in.Chat.Messages[len(in.Chat.Messages)-1]
		if mm, err := roleplay.DecodeMessageMetadata(last.Metadata); err == nil && mm.FunctionCall {
			system = assistantSystemFunctionCalling
		}
	}

	var b strings.Builder
	b.WriteString(system)

	if md.Draft != nil {
		if draftJSON, err := json.Marshal(md.Draft); err == nil {
			b.WriteString("\n\nCurrent character draft (JSON):\n")
			b.Write(draftJSON)
		}
	}
	if te := md.TaggedEntities; te != nil {
		if len(te.CharacterIDs) > 0 || len(te.PersonaIDs) > 0 || len(te.LorebookIDs) > 0 {
			if refJSON, err := json.Marshal(te); err == nil {
				b.WriteString("\n\nEntities tagged in this conversation (by id):\n")
				b.Write(refJSON)
			}
		}
	}
	system = b.String()

	budget := int(float64(in.ContextCfg.TokenLimit) * in.ContextCfg.ThresholdPercent)
	total := in.Counter.Count(system)

	includable := make([]roleplay.ChatMessage, 0, len(in.Chat.Messages))
	for _, m := range in.Chat.Messages {
		if m.IsHidden || m.IsGenerating {
			continue
		}
		includable = append(includable, m)
	}

	keepFrom := len(includable)
	for i := len(includable) - 1; i >= 0; i-- {
		cost := in.Counter.Count(includable[i].Content)
		if total+cost > budget && keepFrom < len(includable) {
			break
		}
		total += cost
		keepFrom = i
	}

	out := &Compiled{
		UseChatFormat: true,
		SystemPrompt:  system,
		TokenCount:    total,
		TokenBudget:   budget,
		TokenLimit:    in.ContextCfg.TokenLimit,
	}
	for i, m := range includable {
		if i < keepFrom {
			out.ExcludedIDs = append(out.ExcludedIDs, m.ID)
		} else {
			out.IncludedIDs = append(out.IncludedIDs, m.ID)
		}
	}

	out.Messages = append(out.Messages, Message{Role: "system", Content: system})
	for _, m := range includable[keepFrom:] {
		out.Messages = append(out.Messages, Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}
