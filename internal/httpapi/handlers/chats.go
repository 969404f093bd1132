package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/prompt"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

type createChatReq struct {
	Name          string                 `json:"name"`
	Type          roleplay.ChatType      `json:"type"`
	ReplyStrategy roleplay.ReplyStrategy `json:"reply_strategy"`

	CharacterIDs []uint64 `json:"character_ids"`
	PersonaIDs   []uint64 `json:"persona_ids"`
}

// CreateChat creates a chat and seeds it with the first character's greeting,
// interpolated against the character and persona names.
func (h *Handler) CreateChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	chatType := req.Type
	if chatType == "" {
		chatType = roleplay.ChatTypeRoleplay
	}
	if chatType != roleplay.ChatTypeRoleplay && chatType != roleplay.ChatTypeAssistant {
		common.Fail(c, http.StatusBadRequest, 10008, "unknown chat type")
		return
	}
	strategy := req.ReplyStrategy
	if strategy == "" {
		strategy = roleplay.ReplyNatural
	}

	chatID, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20007, "failed to allocate chat id")
		return
	}

	chat := &roleplay.Chat{
		ChatID:        chatID,
		UserID:        uid,
		Name:          req.Name,
		Type:          chatType,
		ReplyStrategy: strategy,
	}
	if err := h.Repo.CreateChat(c.Request.Context(), chat); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	for i, charID := range req.CharacterIDs {
		var cnt int64
		if err := h.DB.Model(&roleplay.Character{}).Where("id = ? AND user_id = ?", charID, uid).Count(&cnt).Error; err != nil || cnt == 0 {
			common.Fail(c, http.StatusNotFound, 40401, "character not found")
			return
		}
		cc := &roleplay.ChatCharacter{ChatID: chatID, CharacterID: charID, Position: i}
		if err := h.Repo.AddCharacter(c.Request.Context(), cc); err != nil {
			common.Fail(c, http.StatusInternalServerError, 20001, "db error")
			return
		}
	}
	for i, pid := range req.PersonaIDs {
		var cnt int64
		if err := h.DB.Model(&roleplay.Persona{}).Where("id = ? AND user_id = ?", pid, uid).Count(&cnt).Error; err != nil || cnt == 0 {
			common.Fail(c, http.StatusNotFound, 40402, "persona not found")
			return
		}
		cp := &roleplay.ChatPersona{ChatID: chatID, PersonaID: pid, Position: i}
		if err := h.Repo.AddPersona(c.Request.Context(), cp); err != nil {
			common.Fail(c, http.StatusInternalServerError, 20001, "db error")
			return
		}
	}

	// greeting from the first character, if any
	if chatType == roleplay.ChatTypeRoleplay && len(req.CharacterIDs) > 0 {
		var first roleplay.Character
		if err := h.DB.First(&first, req.CharacterIDs[0]).Error; err == nil && first.FirstMessage != "" {
			vars := map[string]string{"char": first.DisplayName()}
			if len(req.PersonaIDs) > 0 {
				var p roleplay.Persona
				if err := h.DB.First(&p, req.PersonaIDs[0]).Error; err == nil {
					vars["user"] = p.DisplayName()
				}
			}
			greeting := prompt.InterpolateString(first.FirstMessage, prompt.CreateContext(vars))
			charID := req.CharacterIDs[0]
			msg := &roleplay.ChatMessage{
				ChatID:            chatID,
				Role:              roleplay.RoleAssistant,
				AuthorCharacterID: &charID,
				Content:           greeting,
			}
			if err := h.Repo.InsertMessage(c.Request.Context(), msg); err != nil {
				h.Log.Warn("seed greeting failed", "chat_id", chatID, "err", err)
			}
		}
	}

	full, err := h.Repo.GetChatByChatID(c.Request.Context(), chatID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, full)
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chats, err := h.Repo.ListChats(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

// ownChat resolves the chat and enforces ownership, failing the request on
// any error.
func (h *Handler) ownChat(c *gin.Context, uid uint64) (*roleplay.Chat, bool) {
	chatID := c.Param("chat_id")
	chat, err := h.Repo.ValidateChatOwner(c.Request.Context(), uid, chatID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40409, "chat not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	return chat, true
}

func (h *Handler) GetChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	full, err := h.Repo.GetChatByChatID(c.Request.Context(), chat.ChatID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, full)
}

type updateChatReq struct {
	Name          *string                 `json:"name"`
	ReplyStrategy *roleplay.ReplyStrategy `json:"reply_strategy"`
}

func (h *Handler) UpdateChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	var req updateChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	fields := map[string]any{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.ReplyStrategy != nil {
		switch *req.ReplyStrategy {
		case roleplay.ReplyManual, roleplay.ReplyOrdered, roleplay.ReplyNatural:
		default:
			common.Fail(c, http.StatusBadRequest, 10009, "unknown reply strategy")
			return
		}
		fields["reply_strategy"] = *req.ReplyStrategy
	}
	if len(fields) == 0 {
		common.OK(c, gin.H{"updated": false})
		return
	}
	if err := h.DB.Model(&roleplay.Chat{}).Where("chat_id = ?", chat.ChatID).Updates(fields).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID := c.Param("chat_id")
	if err := h.Repo.DeleteChat(c.Request.Context(), uid, chatID); err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40409, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

type addCharacterReq struct {
	CharacterID uint64              `json:"character_id" binding:"required"`
	Position    int                 `json:"position"`
	Visibility  roleplay.Visibility `json:"visibility"`
}

func (h *Handler) AddChatCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	var req addCharacterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	var cnt int64
	if err := h.DB.Model(&roleplay.Character{}).Where("id = ? AND user_id = ?", req.CharacterID, uid).Count(&cnt).Error; err != nil || cnt == 0 {
		common.Fail(c, http.StatusNotFound, 40401, "character not found")
		return
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = roleplay.VisibilityAll
	}

	cc := &roleplay.ChatCharacter{
		ChatID:      chat.ChatID,
		CharacterID: req.CharacterID,
		Position:    req.Position,
		IsActive:    true,
		Visibility:  visibility,
	}
	if err := h.Repo.AddCharacter(c.Request.Context(), cc); err != nil {
		common.Fail(c, http.StatusBadRequest, 10010, "character already in chat")
		return
	}
	common.OK(c, cc)
}

func (h *Handler) RemoveChatCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	charID, okk := pathID(c, "character_id")
	if !okk {
		return
	}
	if err := h.Repo.RemoveCharacter(c.Request.Context(), chat.ChatID, charID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"removed": true})
}

type updateChatCharacterReq struct {
	Position   *int                 `json:"position"`
	IsActive   *bool                `json:"is_active"`
	Visibility *roleplay.Visibility `json:"visibility"`
}

func (h *Handler) UpdateChatCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	charID, okk := pathID(c, "character_id")
	if !okk {
		return
	}
	var req updateChatCharacterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	fields := map[string]any{}
	if req.Position != nil {
		fields["position"] = *req.Position
	}
	if req.IsActive != nil {
		fields["is_active"] = *req.IsActive
	}
	if req.Visibility != nil {
		if *req.Visibility != roleplay.VisibilityAll && *req.Visibility != roleplay.VisibilitySelf {
			common.Fail(c, http.StatusBadRequest, 10011, "unknown visibility")
			return
		}
		fields["visibility"] = *req.Visibility
	}
	if len(fields) == 0 {
		common.OK(c, gin.H{"updated": false})
		return
	}
	if err := h.Repo.UpdateChatCharacter(c.Request.Context(), chat.ChatID, charID, fields); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

type addPersonaReq struct {
	PersonaID uint64 `json:"persona_id" binding:"required"`
	Position  int    `json:"position"`
}

func (h *Handler) AddChatPersona(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	var req addPersonaReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	var cnt int64
	if err := h.DB.Model(&roleplay.Persona{}).Where("id = ? AND user_id = ?", req.PersonaID, uid).Count(&cnt).Error; err != nil || cnt == 0 {
		common.Fail(c, http.StatusNotFound, 40402, "persona not found")
		return
	}

	cp := &roleplay.ChatPersona{ChatID: chat.ChatID, PersonaID: req.PersonaID, Position: req.Position}
	if err := h.Repo.AddPersona(c.Request.Context(), cp); err != nil {
		common.Fail(c, http.StatusBadRequest, 10012, "persona already in chat")
		return
	}
	common.OK(c, cp)
}

func (h *Handler) RemoveChatPersona(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	personaID, okk := pathID(c, "persona_id")
	if !okk {
		return
	}
	if err := h.Repo.RemovePersona(c.Request.Context(), chat.ChatID, personaID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"removed": true})
}

type bindLorebookReq struct {
	LorebookID uint64 `json:"lorebook_id" binding:"required"`
}

func (h *Handler) BindChatLorebook(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	var req bindLorebookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !h.ownLorebook(c, uid, req.LorebookID) {
		return
	}

	cl := &roleplay.ChatLorebook{ChatID: chat.ChatID, LorebookID: req.LorebookID}
	if err := h.Repo.BindLorebook(c.Request.Context(), cl); err != nil {
		common.Fail(c, http.StatusBadRequest, 10013, "lorebook already bound")
		return
	}
	common.OK(c, cl)
}

func (h *Handler) UnbindChatLorebook(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	lorebookID, okk := pathID(c, "lorebook_id")
	if !okk {
		return
	}
	if err := h.Repo.UnbindLorebook(c.Request.Context(), chat.ChatID, lorebookID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"removed": true})
}
