package prompt

import (
	"testing"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

func testLinks() ([]roleplay.ChatCharacter, []roleplay.ChatPersona) {
	chars := []roleplay.ChatCharacter{
		{CharacterID: 1, Character: &roleplay.Character{ID: 1, Name: "Rex", Nickname: "Rexy"}},
		{CharacterID: 2, Character: &roleplay.Character{ID: 2, Name: "Mira"}},
	}
	personas := []roleplay.ChatPersona{
		{PersonaID: 7, Persona: &roleplay.Persona{ID: 7, Name: "Sam"}},
	}
	return chars, personas
}

func TestResolveStopStrings_Default(t *testing.T) {
	chars, personas := testLinks()

	got := ResolveStopStrings(FormatDefault, chars, personas, 1)
	want := []string{"\nSam:", "\nRexy:"}
	if len(got) != len(want) {
		t.Fatalf("expected %d stop strings, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stop string %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveStopStrings_ChatMLKeepsLiterals(t *testing.T) {
	chars, personas := testLinks()

	got := ResolveStopStrings(FormatChatML, chars, personas, 2)
	if got[0] != "<|im_end|>" || got[1] != "<|im_start|>" {
		t.Fatalf("chatml literals mangled: %v", got)
	}
	if got[2] != "\nSam:" {
		t.Fatalf("expected persona stop string, got %q", got[2])
	}
}

func TestResolveStopStrings_UnknownFormatFallsBack(t *testing.T) {
	chars, personas := testLinks()

	got := ResolveStopStrings("no-such-format", chars, personas, 1)
	def := ResolveStopStrings(FormatDefault, chars, personas, 1)
	if len(got) != len(def) {
		t.Fatalf("expected default fallback, got %v", got)
	}
	for i := range def {
		if got[i] != def[i] {
			t.Fatalf("fallback mismatch at %d: %q vs %q", i, got[i], def[i])
		}
	}
}

func TestResolveStopStrings_MissingNamesStayTemplated(t *testing.T) {
	// no character or persona resolves; the templates pass through verbatim
	got := ResolveStopStrings(FormatDefault, nil, nil, 1)
	if got[0] != "\n{{user}}:" || got[1] != "\n{{char}}:" {
		t.Fatalf("expected unresolved templates, got %v", got)
	}
}
