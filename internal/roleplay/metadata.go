package roleplay

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// DraftState is the partially-populated character record the assistant builds
// field by field. It lives in Chat.Metadata until promoted to a Character.
type DraftState struct {
	Name         string `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	Description  string `json:"description,omitempty" validate:"omitempty,min=24,max=4000"`
	Personality  string `json:"personality,omitempty" validate:"omitempty,min=12,max=2000"`
	Scenario     string `json:"scenario,omitempty" validate:"omitempty,min=12,max=2000"`
	FirstMessage string `json:"first_message,omitempty" validate:"omitempty,min=12,max=2000"`

	AlternateGreetings []string `json:"alternate_greetings,omitempty" validate:"omitempty,max=6,dive,min=4,max=2000"`
	ExampleDialogues   []string `json:"example_dialogues,omitempty" validate:"omitempty,max=8,dive,min=4,max=2000"`
	Sources            []string `json:"sources,omitempty" validate:"omitempty,max=10,dive,min=2,max=512"`
}

// TaggedEntities are references the assistant chat has attached for context.
type TaggedEntities struct {
	CharacterIDs []uint64 `json:"character_ids,omitempty"`
	PersonaIDs   []uint64 `json:"persona_ids,omitempty"`
	LorebookIDs  []uint64 `json:"lorebook_ids,omitempty"`
}

type ChatMetadata struct {
	Draft          *DraftState     `json:"draft,omitempty"`
	TaggedEntities *TaggedEntities `json:"tagged_entities,omitempty"`
}

// SwipeHistory is an append-only log of alternate generations for one message
// slot. Invariant: History[CurrentIdx] == message content while not generating.
type SwipeHistory struct {
	CurrentIdx int      `json:"current_idx"`
	History    []string `json:"history"`
}

type MessageMetadata struct {
	Swipes *SwipeHistory `json:"swipes,omitempty"`

	// set while the assistant is mid function-calling handshake
	FunctionCall bool `json:"function_call,omitempty"`
}

// DecodeChatMetadata parses a chat's metadata blob. Malformed JSON degrades to
// an empty metadata value; the error is returned for logging only.
func DecodeChatMetadata(raw datatypes.JSON) (ChatMetadata, error) {
	var md ChatMetadata
	if len(raw) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return ChatMetadata{}, err
	}
	return md, nil
}

func EncodeChatMetadata(md ChatMetadata) (datatypes.JSON, error) {
	b, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodeMessageMetadata(raw datatypes.JSON) (MessageMetadata, error) {
	var md MessageMetadata
	if len(raw) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return MessageMetadata{}, err
	}
	return md, nil
}

func EncodeMessageMetadata(md MessageMetadata) (datatypes.JSON, error) {
	b, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
