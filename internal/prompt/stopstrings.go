package prompt

import "github.com/halcyonwood/inkwell/internal/roleplay"

// Prompt format names a connection may select.
const (
	FormatDefault = "default"
	FormatChatML  = "chatml"
	FormatVicuna  = "vicuna"
	FormatAlpaca  = "alpaca"
	FormatLlama   = "llama"
)

// Raw stop-string templates per prompt format. These are the literal turn
// delimiters a backend must treat as end-of-generation; {{char}}/{{user}} are
// rendered with the chat's display names before use.
var stopStringTable = map[string][]string{
	FormatDefault: {
		"\n{{user}}:",
		"\n{{char}}:",
	},
	FormatChatML: {
		"<|im_end|>",
		"<|im_start|>",
		"\n{{user}}:",
	},
	FormatVicuna: {
		"\nUSER:",
		"\nASSISTANT:",
		"\n{{user}}:",
	},
	FormatAlpaca: {
		"\n### Instruction:",
		"\n### Response:",
		"\n{{user}}:",
	},
	FormatLlama: {
		"[INST]",
		"[/INST]",
		"\n{{user}}:",
	},
}

// ResolveStopStrings renders the stop-string templates for a format against
// the current character's and primary persona's display names. Unknown
// formats fall back to the default table entry.
func ResolveStopStrings(format string, characters []roleplay.ChatCharacter, personas []roleplay.ChatPersona, currentCharacterID uint64) []string {
	templates, ok := stopStringTable[format]
	if !ok {
		templates = stopStringTable[FormatDefault]
	}

	vars := map[string]string{}
	for i := range characters {
		cc := &characters[i]
		if cc.CharacterID == currentCharacterID && cc.Character != nil {
			vars["char"] = cc.Character.DisplayName()
			break
		}
	}
	if len(personas) > 0 && personas[0].Persona != nil {
		vars["user"] = personas[0].Persona.DisplayName()
	}
	ctx := CreateContext(vars)

	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, InterpolateString(t, ctx))
	}
	return out
}
