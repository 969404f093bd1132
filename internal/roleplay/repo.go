package roleplay

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) CreateChat(ctx context.Context, chat *Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

// GetChatByChatID loads a chat with every relation the prompt builder needs:
// join rows with their characters/personas, bound lorebooks with entries, and
// the full message history oldest-first.
func (r *Repo) GetChatByChatID(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	err := r.db.WithContext(ctx).
		Preload("Characters", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Characters.Character").
		Preload("Personas", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Personas.Persona").
		Preload("Lorebooks").
		Preload("Lorebooks.Lorebook").
		Preload("Lorebooks.Lorebook.Entries", func(db *gorm.DB) *gorm.DB {
			return db.Where("enabled = ?", true).Order("position ASC")
		}).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("chat_id = ?", chatID).
		First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *Repo) ListChats(ctx context.Context, userID uint64) ([]Chat, error) {
	var chats []Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&chats).Error
	return chats, err
}

func (r *Repo) DeleteChat(ctx context.Context, userID uint64, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		for _, m := range []any{&ChatCharacter{}, &ChatPersona{}, &ChatLorebook{}, &ChatMessage{}} {
			if err := tx.Where("chat_id = ?", chatID).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repo) UpdateChatMetadata(ctx context.Context, chatID string, md datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("chat_id = ?", chatID).
		Update("metadata", md).Error
}

// AddCharacter attaches a character and keeps the isGroup flag consistent with
// the attachment count.
func (r *Repo) AddCharacter(ctx context.Context, cc *ChatCharacter) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cc).Error; err != nil {
			return err
		}
		return r.syncGroupFlag(tx, cc.ChatID)
	})
}

func (r *Repo) RemoveCharacter(ctx context.Context, chatID string, characterID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("chat_id = ? AND character_id = ?", chatID, characterID).
			Delete(&ChatCharacter{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return r.syncGroupFlag(tx, chatID)
	})
}

func (r *Repo) syncGroupFlag(tx *gorm.DB, chatID string) error {
	var cnt int64
	if err := tx.Model(&ChatCharacter{}).Where("chat_id = ?", chatID).Count(&cnt).Error; err != nil {
		return err
	}
	return tx.Model(&Chat{}).Where("chat_id = ?", chatID).
		Update("is_group", cnt > 1).Error
}

func (r *Repo) UpdateChatCharacter(ctx context.Context, chatID string, characterID uint64, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&ChatCharacter{}).
		Where("chat_id = ? AND character_id = ?", chatID, characterID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) AddPersona(ctx context.Context, cp *ChatPersona) error {
	return r.db.WithContext(ctx).Create(cp).Error
}

func (r *Repo) RemovePersona(ctx context.Context, chatID string, personaID uint64) error {
	res := r.db.WithContext(ctx).
		Where("chat_id = ? AND persona_id = ?", chatID, personaID).
		Delete(&ChatPersona{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) BindLorebook(ctx context.Context, cl *ChatLorebook) error {
	return r.db.WithContext(ctx).Create(cl).Error
}

func (r *Repo) UnbindLorebook(ctx context.Context, chatID string, lorebookID uint64) error {
	res := r.db.WithContext(ctx).
		Where("chat_id = ? AND lorebook_id = ?", chatID, lorebookID).
		Delete(&ChatLorebook{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ActiveCharacters returns the chat's active character links position-sorted,
// with character rows preloaded.
func (r *Repo) ActiveCharacters(ctx context.Context, chatID string) ([]ChatCharacter, error) {
	var out []ChatCharacter
	err := r.db.WithContext(ctx).
		Preload("Character").
		Where("chat_id = ? AND is_active = ?", chatID, true).
		Order("position ASC").
		Find(&out).Error
	return out, err
}

func (r *Repo) ActivePersonas(ctx context.Context, chatID string) ([]ChatPersona, error) {
	var out []ChatPersona
	err := r.db.WithContext(ctx).
		Preload("Persona").
		Where("chat_id = ?", chatID).
		Order("position ASC").
		Find(&out).Error
	return out, err
}

func (r *Repo) InsertMessage(ctx context.Context, m *ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessageByID(ctx context.Context, id uint64) (*ChatMessage, error) {
	var m ChatMessage
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) UpdateMessage(ctx context.Context, id uint64, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *Repo) DeleteMessage(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Delete(&ChatMessage{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, chatID string, limit int, beforeID uint64) ([]ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []ChatMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// HasGeneratingMessage reports whether any message in the chat is still marked
// in-flight. The orchestrator's concurrency guard.
func (r *Repo) HasGeneratingMessage(ctx context.Context, chatID string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("chat_id = ? AND is_generating = ?", chatID, true).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *Repo) ValidateChatOwner(ctx context.Context, userID uint64, chatID string) (*Chat, error) {
	var chat Chat
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&chat).Error; err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return &chat, nil
}

// GenerationSettings bundles the requesting user's active configuration rows.
type GenerationSettings struct {
	Connection *Connection
	Sampling   *SamplingConfig
	Context    *ContextConfig
	Prompt     *PromptConfig
}

var ErrNoActiveConnection = errors.New("no active connection configured")

// ActiveGenerationSettings resolves the user's active connection and configs.
// A missing connection is fatal to generation; missing configs fall back to
// zero-value defaults so a fresh account can still generate.
func (r *Repo) ActiveGenerationSettings(ctx context.Context, userID uint64) (*GenerationSettings, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}
	if user.ActiveConnectionID == nil {
		return nil, ErrNoActiveConnection
	}

	gs := &GenerationSettings{}

	var conn Connection
	if err := r.db.WithContext(ctx).First(&conn, *user.ActiveConnectionID).Error; err != nil {
		return nil, fmt.Errorf("load active connection: %w", err)
	}
	gs.Connection = &conn

	gs.Sampling = &SamplingConfig{}
	if user.ActiveSamplingID != nil {
		var sc SamplingConfig
		if err := r.db.WithContext(ctx).First(&sc, *user.ActiveSamplingID).Error; err != nil {
			return nil, fmt.Errorf("load sampling config: %w", err)
		}
		gs.Sampling = &sc
	}

	gs.Context = &ContextConfig{TokenLimit: 4096, ThresholdPercent: 0.85}
	if user.ActiveContextID != nil {
		var cc ContextConfig
		if err := r.db.WithContext(ctx).First(&cc, *user.ActiveContextID).Error; err != nil {
			return nil, fmt.Errorf("load context config: %w", err)
		}
		gs.Context = &cc
	}

	gs.Prompt = &PromptConfig{}
	if user.ActivePromptID != nil {
		var pc PromptConfig
		if err := r.db.WithContext(ctx).First(&pc, *user.ActivePromptID).Error; err != nil {
			return nil, fmt.Errorf("load prompt config: %w", err)
		}
		gs.Prompt = &pc
	}

	return gs, nil
}

// Draft job CRUD

func (r *Repo) CreateDraftJob(ctx context.Context, job *DraftJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetDraftJobByID(ctx context.Context, id string) (*DraftJob, error) {
	var j DraftJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkDraftJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&DraftJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkDraftJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&DraftJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkDraftJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&DraftJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
