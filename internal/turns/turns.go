// Package turns decides which character speaks next in a chat. The resolver
// is a pure function over message/character snapshots: identical inputs
// always yield the identical decision, and it never errors for valid input.
package turns

import "github.com/halcyonwood/inkwell/internal/roleplay"

// NextCharacterTurn returns the id of the character who should produce the
// next assistant message, or 0 when nobody should speak.
//
// A character is naturally eligible when its last turn precedes the most
// recent user message. Among eligible characters the one who spoke least
// recently goes first, ties broken by position, which yields ordered
// rotation in group chats. triggered forces a pick even without a fresh
// user message, for manual "speak now" commands.
func NextCharacterTurn(messages []roleplay.ChatMessage, characters []roleplay.ChatCharacter, personas []roleplay.ChatPersona, triggered bool) uint64 {
	if len(characters) == 0 {
		return 0
	}

	activePersona := make(map[uint64]bool, len(personas))
	for i := range personas {
		activePersona[personas[i].PersonaID] = true
	}

	// index of the newest visible user message, -1 when there is none
	lastUser := -1
	lastTurn := make(map[uint64]int, len(characters))
	for i := range characters {
		lastTurn[characters[i].CharacterID] = -1
	}

	for i := range messages {
		m := &messages[i]
		if m.IsHidden || m.IsGenerating {
			continue
		}
		switch m.Role {
		case roleplay.RoleUser:
			if m.AuthorPersonaID != nil && !activePersona[*m.AuthorPersonaID] {
				continue
			}
			lastUser = i
		case roleplay.RoleAssistant:
			if m.AuthorCharacterID != nil {
				if _, tracked := lastTurn[*m.AuthorCharacterID]; tracked {
					lastTurn[*m.AuthorCharacterID] = i
				}
			}
		}
	}

	pick := uint64(0)
	pickTurn := 0
	found := false
	for i := range characters {
		id := characters[i].CharacterID
		turn := lastTurn[id]

		eligible := turn < lastUser
		if !eligible && !triggered {
			continue
		}
		// characters are position-sorted, so on a tie the earlier
		// position wins by arrival order
		if !found || turn < pickTurn {
			pick = id
			pickTurn = turn
			found = true
		}
	}

	if !found {
		return 0
	}
	return pick
}
