package turns

import (
	"testing"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

func uintPtr(v uint64) *uint64 { return &v }

func chars(ids ...uint64) []roleplay.ChatCharacter {
	out := make([]roleplay.ChatCharacter, 0, len(ids))
	for i, id := range ids {
		out = append(out, roleplay.ChatCharacter{CharacterID: id, Position: i, IsActive: true})
	}
	return out
}

func personas(ids ...uint64) []roleplay.ChatPersona {
	out := make([]roleplay.ChatPersona, 0, len(ids))
	for _, id := range ids {
		out = append(out, roleplay.ChatPersona{PersonaID: id})
	}
	return out
}

func userMsg(personaID uint64) roleplay.ChatMessage {
	return roleplay.ChatMessage{Role: roleplay.RoleUser, AuthorPersonaID: uintPtr(personaID), Content: "hi"}
}

func charMsg(characterID uint64) roleplay.ChatMessage {
	return roleplay.ChatMessage{Role: roleplay.RoleAssistant, AuthorCharacterID: uintPtr(characterID), Content: "hey"}
}

func TestNextCharacterTurn_NoCharacters(t *testing.T) {
	if got := NextCharacterTurn(nil, nil, nil, true); got != 0 {
		t.Fatalf("expected 0 with no characters, got %d", got)
	}
}

func TestNextCharacterTurn_EmptyChatNeedsTrigger(t *testing.T) {
	cs := chars(10, 20)

	if got := NextCharacterTurn(nil, cs, nil, false); got != 0 {
		t.Fatalf("no user message and no trigger: want 0, got %d", got)
	}
	// triggered: first by position speaks
	if got := NextCharacterTurn(nil, cs, nil, true); got != 10 {
		t.Fatalf("triggered empty chat: want 10, got %d", got)
	}
}

func TestNextCharacterTurn_SingleCharacter(t *testing.T) {
	cs := chars(10)
	ps := personas(7)

	msgs := []roleplay.ChatMessage{userMsg(7)}
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 10 {
		t.Fatalf("fresh user message: want 10, got %d", got)
	}

	msgs = append(msgs, charMsg(10))
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 0 {
		t.Fatalf("character already answered: want 0, got %d", got)
	}
	if got := NextCharacterTurn(msgs, cs, ps, true); got != 10 {
		t.Fatalf("triggered after answering: want 10, got %d", got)
	}
}

func TestNextCharacterTurn_GroupRotation(t *testing.T) {
	cs := chars(10, 20, 30)
	ps := personas(7)

	msgs := []roleplay.ChatMessage{userMsg(7)}
	// all eligible, position breaks the three-way tie
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 10 {
		t.Fatalf("round 1: want 10, got %d", got)
	}

	msgs = append(msgs, charMsg(10))
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 20 {
		t.Fatalf("round 2: want 20, got %d", got)
	}

	msgs = append(msgs, charMsg(20))
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 30 {
		t.Fatalf("round 3: want 30, got %d", got)
	}

	msgs = append(msgs, charMsg(30))
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 0 {
		t.Fatalf("rotation complete: want 0, got %d", got)
	}

	// next user message restarts the rotation
	msgs = append(msgs, userMsg(7))
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 10 {
		t.Fatalf("new round: want 10, got %d", got)
	}
}

func TestNextCharacterTurn_LeastRecentSpeakerFirst(t *testing.T) {
	cs := chars(10, 20)
	ps := personas(7)

	// 20 spoke before 10; after a fresh user message 20 is the least recent
	msgs := []roleplay.ChatMessage{
		userMsg(7),
		charMsg(20),
		charMsg(10),
		userMsg(7),
	}
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 20 {
		t.Fatalf("least recent speaker should go first: want 20, got %d", got)
	}
}

func TestNextCharacterTurn_SkipsHiddenAndGenerating(t *testing.T) {
	cs := chars(10)
	ps := personas(7)

	hidden := userMsg(7)
	hidden.IsHidden = true
	inflight := charMsg(10)
	inflight.IsGenerating = true

	msgs := []roleplay.ChatMessage{hidden, inflight}
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 0 {
		t.Fatalf("hidden user message must not count: want 0, got %d", got)
	}
}

func TestNextCharacterTurn_InactivePersonaDoesNotCount(t *testing.T) {
	cs := chars(10)
	ps := personas(7)

	// message from a persona that is no longer attached to the chat
	msgs := []roleplay.ChatMessage{userMsg(99)}
	if got := NextCharacterTurn(msgs, cs, ps, false); got != 0 {
		t.Fatalf("detached persona message must not trigger a turn: want 0, got %d", got)
	}
}

func TestNextCharacterTurn_Deterministic(t *testing.T) {
	cs := chars(10, 20, 30)
	ps := personas(7)
	msgs := []roleplay.ChatMessage{userMsg(7), charMsg(30)}

	first := NextCharacterTurn(msgs, cs, ps, false)
	for i := 0; i < 50; i++ {
		if got := NextCharacterTurn(msgs, cs, ps, false); got != first {
			t.Fatalf("resolver must be deterministic: %d then %d", first, got)
		}
	}
	if first != 10 {
		t.Fatalf("want 10, got %d", first)
	}
}
