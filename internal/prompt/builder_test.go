package prompt

import (
	"strings"
	"testing"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

func uintPtr(v uint64) *uint64 { return &v }

// buildTestChat returns a one-character roleplay chat with a persona and
// five alternating messages, each 40 characters (10 estimate tokens).
func buildTestChat() *roleplay.Chat {
	content := strings.Repeat("abcd", 10)
	return &roleplay.Chat{
		ChatID: "01TESTCHAT0000000000000000",
		Type:   roleplay.ChatTypeRoleplay,
		Characters: []roleplay.ChatCharacter{
			{CharacterID: 1, Position: 0, IsActive: true, Visibility: roleplay.VisibilityAll,
				Character: &roleplay.Character{ID: 1, Name: "Rex", Nickname: "Rexy"}},
		},
		Personas: []roleplay.ChatPersona{
			{PersonaID: 7, Persona: &roleplay.Persona{ID: 7, Name: "Sam"}},
		},
		Messages: []roleplay.ChatMessage{
			{ID: 1, Role: roleplay.RoleUser, AuthorPersonaID: uintPtr(7), Content: content},
			{ID: 2, Role: roleplay.RoleAssistant, AuthorCharacterID: uintPtr(1), Content: content},
			{ID: 3, Role: roleplay.RoleUser, AuthorPersonaID: uintPtr(7), Content: content},
			{ID: 4, Role: roleplay.RoleUser, AuthorPersonaID: uintPtr(7), Content: content},
			{ID: 5, Role: roleplay.RoleAssistant, AuthorCharacterID: uintPtr(1), Content: content},
		},
	}
}

func TestBuild_ChatFormatIncludesAll(t *testing.T) {
	chat := buildTestChat()
	out, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 1,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85},
		PromptCfg:          &roleplay.PromptConfig{SystemPrompt: "You are {{char}} talking to {{user}}."},
		UseChatFormat:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if !out.UseChatFormat {
		t.Fatalf("expected chat format output")
	}
	if len(out.Messages) != 6 {
		t.Fatalf("expected system + 5 messages, got %d", len(out.Messages))
	}
	if out.Messages[0].Role != "system" {
		t.Fatalf("first message must be system, got %q", out.Messages[0].Role)
	}
	if !strings.Contains(out.Messages[0].Content, "You are Rexy talking to Sam.") {
		t.Fatalf("system prompt not interpolated: %q", out.Messages[0].Content)
	}
	if len(out.ExcludedIDs) != 0 {
		t.Fatalf("nothing should be trimmed at 4096 tokens, excluded=%v", out.ExcludedIDs)
	}
	if len(out.IncludedIDs) != 5 {
		t.Fatalf("expected 5 included ids, got %v", out.IncludedIDs)
	}
	if len(out.StopStrings) == 0 {
		t.Fatalf("expected stop strings")
	}
}

func TestBuild_TrimsOldestFirst(t *testing.T) {
	chat := buildTestChat()
	// budget 24: system (2) + two newest messages (10 each) fit, the third
	// does not. Excluded ids must be the oldest contiguous run.
	out, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 1,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 24, ThresholdPercent: 1},
		PromptCfg:          &roleplay.PromptConfig{SystemPrompt: "12345678"},
		UseChatFormat:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	wantExcluded := []uint64{1, 2, 3}
	wantIncluded := []uint64{4, 5}
	if len(out.ExcludedIDs) != len(wantExcluded) {
		t.Fatalf("excluded = %v, want %v", out.ExcludedIDs, wantExcluded)
	}
	for i, id := range wantExcluded {
		if out.ExcludedIDs[i] != id {
			t.Fatalf("excluded = %v, want %v", out.ExcludedIDs, wantExcluded)
		}
	}
	for i, id := range wantIncluded {
		if out.IncludedIDs[i] != id {
			t.Fatalf("included = %v, want %v", out.IncludedIDs, wantIncluded)
		}
	}
	// system prompt is charged but never trimmed
	if out.Messages[0].Role != "system" || out.Messages[0].Content != "12345678" {
		t.Fatalf("system prompt must survive trimming: %+v", out.Messages[0])
	}
}

func TestBuild_NewestUserTurnSurvivesOverBudget(t *testing.T) {
	chat := buildTestChat()
	// newest message is the user turn here
	chat.Messages = chat.Messages[:4]

	out, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 1,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4, ThresholdPercent: 1},
		PromptCfg:          &roleplay.PromptConfig{SystemPrompt: "12345678"},
		UseChatFormat:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(out.IncludedIDs) != 1 || out.IncludedIDs[0] != 4 {
		t.Fatalf("newest user turn must be kept over budget, included=%v", out.IncludedIDs)
	}
	if out.TokenCount <= out.TokenBudget {
		t.Fatalf("expected reported overshoot, count=%d budget=%d", out.TokenCount, out.TokenBudget)
	}
}

func TestBuild_NewestUserTurnSurvivesAssistantOverflow(t *testing.T) {
	chat := buildTestChat()
	// the newest message is an assistant turn that alone overflows the
	// budget; the user turn before it must still be kept
	chat.Messages = chat.Messages[:2]

	out, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 1,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4, ThresholdPercent: 1},
		UseChatFormat:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(out.IncludedIDs) != 1 || out.IncludedIDs[0] != 1 {
		t.Fatalf("newest user turn must survive behind an over-budget assistant turn, included=%v", out.IncludedIDs)
	}
	if len(out.ExcludedIDs) != 1 || out.ExcludedIDs[0] != 2 {
		t.Fatalf("excluded = %v, want the assistant turn", out.ExcludedIDs)
	}
}

func TestBuild_SkipsHiddenAndGenerating(t *testing.T) {
	chat := buildTestChat()
	chat.Messages[1].IsHidden = true
	chat.Messages[4].IsGenerating = true

	out, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 1,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85},
		UseChatFormat:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, id := range out.IncludedIDs {
		if id == 2 || id == 5 {
			t.Fatalf("hidden/generating message leaked into prompt: %v", out.IncludedIDs)
		}
	}
	if len(out.IncludedIDs) != 3 {
		t.Fatalf("expected 3 includable messages, got %v", out.IncludedIDs)
	}
}

func TestBuild_SelfVisibilityFiltersOtherSpeakers(t *testing.T) {
	chat := buildTestChat()
	chat.Characters = append(chat.Characters, roleplay.ChatCharacter{
		CharacterID: 2, Position: 1, IsActive: true, Visibility: roleplay.VisibilitySelf,
		Character: &roleplay.Character{ID: 2, Name: "Mira"},
	})
	chat.Messages[1].AuthorCharacterID = uintPtr(2)

	// compiling for Rexy: Mira's self-only message is invisible
	out, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 1,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85},
		UseChatFormat:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, id := range out.IncludedIDs {
		if id == 2 {
			t.Fatalf("self-visibility message leaked: %v", out.IncludedIDs)
		}
	}

	// compiling for Mira herself: the message is visible
	out, err = Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 2,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85},
		UseChatFormat:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	found := false
	for _, id := range out.IncludedIDs {
		if id == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("author must see its own self-only message: %v", out.IncludedIDs)
	}
}

func TestBuild_RawFormatUsesTemplate(t *testing.T) {
	chat := buildTestChat()
	chat.Messages = chat.Messages[:2]
	chat.Messages[0].Content = "hello there"
	chat.Messages[1].Content = "well met"

	out, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 1,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85},
		PromptCfg:          &roleplay.PromptConfig{SystemPrompt: "sys"},
		UseChatFormat:      false,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "sys\n\nSam: hello there\nRexy: well met\nRexy:"
	if out.Text != want {
		t.Fatalf("raw render = %q, want %q", out.Text, want)
	}
	if len(out.Messages) != 0 {
		t.Fatalf("raw mode must not emit a message array")
	}
}

func TestBuild_UnknownCharacterFails(t *testing.T) {
	chat := buildTestChat()
	_, err := Build(BuildInput{
		Chat:               chat,
		CurrentCharacterID: 99,
		ContextCfg:         &roleplay.ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85},
	})
	if err == nil {
		t.Fatalf("expected error for detached character")
	}
}

func TestBuild_AssistantModeDraftContext(t *testing.T) {
	md, err := roleplay.EncodeChatMetadata(roleplay.ChatMetadata{
		Draft: &roleplay.DraftState{Name: "Vex", Description: "a wandering cartographer of dead cities"},
	})
	if err != nil {
		t.Fatalf("encode metadata: %v", err)
	}
	chat := &roleplay.Chat{
		ChatID:   "01TESTASSIST00000000000000",
		Type:     roleplay.ChatTypeAssistant,
		Metadata: md,
		Messages: []roleplay.ChatMessage{
			{ID: 1, Role: roleplay.RoleUser, Content: "make the name darker"},
		},
	}

	out, err := Build(BuildInput{
		Chat:       chat,
		ContextCfg: &roleplay.ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !out.UseChatFormat {
		t.Fatalf("assistant mode always compiles chat format")
	}
	if !strings.Contains(out.SystemPrompt, "Vex") {
		t.Fatalf("draft JSON missing from system prompt: %q", out.SystemPrompt)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected system + 1 message, got %d", len(out.Messages))
	}
}

func TestCounterFor(t *testing.T) {
	if got := CounterFor(CounterEstimate).Count("abcdefgh"); got != 2 {
		t.Fatalf("estimate counter: got %d, want 2", got)
	}
	if got := CounterFor(CounterEstimate).Count("ab"); got != 1 {
		t.Fatalf("estimate counter floors at 1 for short text, got %d", got)
	}
	if got := CounterFor(CounterWords).Count("one two three"); got != 5 {
		t.Fatalf("word counter: got %d, want 5", got)
	}
	if got := CounterFor("bogus").Count("abcdefgh"); got != 2 {
		t.Fatalf("unknown counter must fall back to estimate, got %d", got)
	}
}
