package roleplay

import (
	"time"

	"gorm.io/datatypes"
)

type ChatType string

const (
	ChatTypeRoleplay  ChatType = "roleplay"
	ChatTypeAssistant ChatType = "assistant"
)

type ReplyStrategy string

const (
	ReplyManual  ReplyStrategy = "manual"
	ReplyOrdered ReplyStrategy = "ordered"
	ReplyNatural ReplyStrategy = "natural"
)

type Visibility string

const (
	// VisibilityAll: the character's messages are visible to every other
	// character's prompt context.
	VisibilityAll Visibility = "all"
	// VisibilitySelf: only the authoring character sees its own messages.
	VisibilitySelf Visibility = "self"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type BackendType string

const (
	BackendOpenAI    BackendType = "openai"
	BackendOllama    BackendType = "ollama"
	BackendKoboldCpp BackendType = "koboldcpp"
	BackendLMStudio  BackendType = "lmstudio"
	BackendLlamaCpp  BackendType = "llamacpp"
)

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`

	// active per-user generation settings
	ActiveConnectionID *uint64 `json:"active_connection_id"`
	ActiveSamplingID   *uint64 `json:"active_sampling_id"`
	ActiveContextID    *uint64 `json:"active_context_id"`
	ActivePromptID     *uint64 `json:"active_prompt_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Character struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64 `gorm:"index;not null" json:"-"`
	Name         string `gorm:"type:varchar(128);not null" json:"name"`
	Nickname     string `gorm:"type:varchar(128)" json:"nickname"`
	Description  string `gorm:"type:text" json:"description"`
	Personality  string `gorm:"type:text" json:"personality"`
	Scenario     string `gorm:"type:text" json:"scenario"`
	FirstMessage string `gorm:"type:text" json:"first_message"`

	AlternateGreetings datatypes.JSON `json:"alternate_greetings"`
	ExampleDialogues   datatypes.JSON `json:"example_dialogues"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Character) TableName() string { return "characters" }

// DisplayName is the name rendered into prompts and stop strings.
func (c *Character) DisplayName() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.Name
}

type Persona struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64 `gorm:"index;not null" json:"-"`
	Name        string `gorm:"type:varchar(128);not null" json:"name"`
	Nickname    string `gorm:"type:varchar(128)" json:"nickname"`
	Description string `gorm:"type:text" json:"description"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Persona) TableName() string { return "personas" }

func (p *Persona) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.Name
}

type Lorebook struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64 `gorm:"index;not null" json:"-"`
	Name        string `gorm:"type:varchar(128);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	Entries []LoreEntry `gorm:"foreignKey:LorebookID" json:"entries,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Lorebook) TableName() string { return "lorebooks" }

type LoreEntry struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	LorebookID uint64 `gorm:"index;not null" json:"-"`
	Title      string `gorm:"type:varchar(128)" json:"title"`
	Content    string `gorm:"type:text;not null" json:"content"`
	Position   int    `gorm:"not null;default:0" json:"position"`
	Enabled    bool   `gorm:"not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (LoreEntry) TableName() string { return "lore_entries" }

type Connection struct {
	ID      uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID  uint64      `gorm:"index;not null" json:"-"`
	Name    string      `gorm:"type:varchar(128);not null" json:"name"`
	Type    BackendType `gorm:"type:varchar(32);not null" json:"type"`
	BaseURL string      `gorm:"type:varchar(512);not null" json:"base_url"`
	Model   string      `gorm:"type:varchar(128)" json:"model"`
	APIKey  string      `gorm:"type:varchar(256)" json:"-"`

	// backend-specific toggles: streaming, chat-vs-completion mode, memory text
	Extras datatypes.JSON `json:"extras"`

	PromptFormat string `gorm:"type:varchar(32)" json:"prompt_format"`
	TokenCounter string `gorm:"type:varchar(32)" json:"token_counter"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Connection) TableName() string { return "connections" }

// SamplingConfig is a flat bag of sampling knobs. A knob is only mapped to a
// backend's wire format when its paired Enabled flag is set.
type SamplingConfig struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"index;not null" json:"-"`
	Name   string `gorm:"type:varchar(128);not null" json:"name"`

	Temperature        float64 `gorm:"not null;default:1" json:"temperature"`
	TemperatureEnabled bool    `gorm:"not null;default:false" json:"temperature_enabled"`

	TopP        float64 `gorm:"not null;default:1" json:"top_p"`
	TopPEnabled bool    `gorm:"not null;default:false" json:"top_p_enabled"`

	TopK        int  `gorm:"not null;default:40" json:"top_k"`
	TopKEnabled bool `gorm:"not null;default:false" json:"top_k_enabled"`

	RepetitionPenalty        float64 `gorm:"not null;default:1" json:"repetition_penalty"`
	RepetitionPenaltyEnabled bool    `gorm:"not null;default:false" json:"repetition_penalty_enabled"`

	FrequencyPenalty        float64 `gorm:"not null;default:0" json:"frequency_penalty"`
	FrequencyPenaltyEnabled bool    `gorm:"not null;default:false" json:"frequency_penalty_enabled"`

	PresencePenalty        float64 `gorm:"not null;default:0" json:"presence_penalty"`
	PresencePenaltyEnabled bool    `gorm:"not null;default:false" json:"presence_penalty_enabled"`

	MaxTokens        int  `gorm:"not null;default:256" json:"max_tokens"`
	MaxTokensEnabled bool `gorm:"not null;default:false" json:"max_tokens_enabled"`

	Seed        int  `gorm:"not null;default:-1" json:"seed"`
	SeedEnabled bool `gorm:"not null;default:false" json:"seed_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SamplingConfig) TableName() string { return "sampling_configs" }

type ContextConfig struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"index;not null" json:"-"`
	Name   string `gorm:"type:varchar(128);not null" json:"name"`

	TokenLimit int `gorm:"not null;default:4096" json:"token_limit"`
	// fraction of the token limit the compiled prompt may occupy
	ThresholdPercent float64 `gorm:"not null;default:0.85" json:"threshold_percent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ContextConfig) TableName() string { return "context_configs" }

type PromptConfig struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"index;not null" json:"-"`
	Name   string `gorm:"type:varchar(128);not null" json:"name"`

	SystemPrompt string `gorm:"type:text" json:"system_prompt"`
	// raw-mode template; supports {{system}}, {{history}}, {{char}}, {{user}}
	Template string `gorm:"type:text" json:"template"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PromptConfig) TableName() string { return "prompt_configs" }

type Chat struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"chat_id"`
	UserID uint64 `gorm:"index;not null" json:"-"`

	Name          string        `gorm:"type:varchar(128)" json:"name"`
	Type          ChatType      `gorm:"type:varchar(16);not null;default:roleplay" json:"type"`
	IsGroup       bool          `gorm:"not null;default:false" json:"is_group"`
	ReplyStrategy ReplyStrategy `gorm:"type:varchar(16);not null;default:natural" json:"reply_strategy"`

	Metadata datatypes.JSON `json:"metadata"`

	Characters []ChatCharacter `gorm:"foreignKey:ChatID;references:ChatID" json:"characters,omitempty"`
	Personas   []ChatPersona   `gorm:"foreignKey:ChatID;references:ChatID" json:"personas,omitempty"`
	Lorebooks  []ChatLorebook  `gorm:"foreignKey:ChatID;references:ChatID" json:"lorebooks,omitempty"`
	Messages   []ChatMessage   `gorm:"foreignKey:ChatID;references:ChatID" json:"messages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type ChatCharacter struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID      string     `gorm:"type:varchar(26);index:idx_chat_char,unique,priority:1;not null" json:"chat_id"`
	CharacterID uint64     `gorm:"index:idx_chat_char,unique,priority:2;not null" json:"character_id"`
	Position    int        `gorm:"not null;default:0" json:"position"`
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
	Visibility  Visibility `gorm:"type:varchar(16);not null;default:all" json:"visibility"`

	Character *Character `gorm:"foreignKey:CharacterID" json:"character,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ChatCharacter) TableName() string { return "chat_characters" }

type ChatPersona struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID    string `gorm:"type:varchar(26);index:idx_chat_persona,unique,priority:1;not null" json:"chat_id"`
	PersonaID uint64 `gorm:"index:idx_chat_persona,unique,priority:2;not null" json:"persona_id"`
	Position  int    `gorm:"not null;default:0" json:"position"`

	Persona *Persona `gorm:"foreignKey:PersonaID" json:"persona,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ChatPersona) TableName() string { return "chat_personas" }

type ChatLorebook struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID     string `gorm:"type:varchar(26);index:idx_chat_lore,unique,priority:1;not null" json:"chat_id"`
	LorebookID uint64 `gorm:"index:idx_chat_lore,unique,priority:2;not null" json:"lorebook_id"`

	Lorebook *Lorebook `gorm:"foreignKey:LorebookID" json:"lorebook,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ChatLorebook) TableName() string { return "chat_lorebooks" }

type ChatMessage struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID string `gorm:"type:varchar(26);index;not null" json:"chat_id"`
	Role   Role   `gorm:"type:varchar(16);index;not null" json:"role"`

	// author is a character (assistant turns) or a persona (user turns)
	AuthorCharacterID *uint64 `gorm:"index" json:"author_character_id"`
	AuthorPersonaID   *uint64 `gorm:"index" json:"author_persona_id"`

	Content      string `gorm:"type:text;not null" json:"content"`
	IsGenerating bool   `gorm:"not null;default:false" json:"is_generating"`
	IsHidden     bool   `gorm:"not null;default:false" json:"is_hidden"`

	// links an in-flight message to the live adapter that can abort it
	AdapterID *string `gorm:"type:varchar(36);index" json:"adapter_id,omitempty"`

	Metadata datatypes.JSON `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// DraftJob is an async assistant-drafting request consumed by the worker.
type DraftJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID uint64 `gorm:"index;not null"`
	ChatID string `gorm:"size:26;index;not null"`

	// the user's free-text request the draft fields are generated from
	Request string `gorm:"type:text;not null"`

	// optional fields explicitly asked for, JSON string array
	RequestedFields datatypes.JSON

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DraftJob) TableName() string { return "draft_jobs" }
