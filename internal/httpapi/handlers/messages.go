package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

type sendMessageReq struct {
	Content   string  `json:"content" binding:"required"`
	PersonaID *uint64 `json:"persona_id"`
}

// SendMessage appends a user turn. Generation is a separate request so the
// client can open the event stream first.
func (h *Handler) SendMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.PersonaID != nil {
		var cnt int64
		if err := h.DB.Model(&roleplay.ChatPersona{}).
			Where("chat_id = ? AND persona_id = ?", chat.ChatID, *req.PersonaID).
			Count(&cnt).Error; err != nil || cnt == 0 {
			common.Fail(c, http.StatusNotFound, 40402, "persona not in chat")
			return
		}
	}

	msg := &roleplay.ChatMessage{
		ChatID:          chat.ChatID,
		Role:            roleplay.RoleUser,
		AuthorPersonaID: req.PersonaID,
		Content:         req.Content,
	}
	if err := h.Repo.InsertMessage(c.Request.Context(), msg); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, msg)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Repo.ListMessages(c.Request.Context(), chat.ChatID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

// ownMessage resolves a message and checks it belongs to one of the caller's
// chats.
func (h *Handler) ownMessage(c *gin.Context, uid uint64) (*roleplay.ChatMessage, bool) {
	msgID, okk := pathID(c, "message_id")
	if !okk {
		return nil, false
	}
	msg, err := h.Repo.GetMessageByID(c.Request.Context(), msgID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40410, "message not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	if _, err := h.Repo.ValidateChatOwner(c.Request.Context(), uid, msg.ChatID); err != nil {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40410, "message not found")
		return nil, false
	}
	return msg, true
}

type editMessageReq struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) EditMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	msg, okk := h.ownMessage(c, uid)
	if !okk {
		return
	}
	if msg.IsGenerating {
		common.Fail(c, http.StatusConflict, 40901, "message is generating")
		return
	}
	var req editMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Repo.UpdateMessage(c.Request.Context(), msg.ID, map[string]any{"content": req.Content}); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

type hideMessageReq struct {
	Hidden bool `json:"hidden"`
}

func (h *Handler) HideMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	msg, okk := h.ownMessage(c, uid)
	if !okk {
		return
	}
	var req hideMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Repo.UpdateMessage(c.Request.Context(), msg.ID, map[string]any{"is_hidden": req.Hidden}); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"hidden": req.Hidden})
}

// DeleteMessage aborts any in-flight generation attached to the message
// before removing the row.
func (h *Handler) DeleteMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	msg, okk := h.ownMessage(c, uid)
	if !okk {
		return
	}
	if msg.AdapterID != nil {
		h.Registry.Abort(*msg.AdapterID)
	}
	if err := h.Repo.DeleteMessage(c.Request.Context(), msg.ID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

type swipeReq struct {
	Direction string `json:"direction" binding:"required"` // "left" or "right"
}

// SwipeMessage navigates a message's swipe history. Swiping right past the
// newest alternative regenerates the message as a new swipe.
func (h *Handler) SwipeMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	msg, okk := h.ownMessage(c, uid)
	if !okk {
		return
	}
	if msg.Role != roleplay.RoleAssistant {
		common.Fail(c, http.StatusBadRequest, 10014, "only assistant messages have swipes")
		return
	}
	if msg.IsGenerating {
		common.Fail(c, http.StatusConflict, 40901, "message is generating")
		return
	}
	var req swipeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	md, err := roleplay.DecodeMessageMetadata(msg.Metadata)
	if err != nil {
		h.Log.Warn("malformed message metadata", "message_id", msg.ID, "err", err)
		md = roleplay.MessageMetadata{}
	}
	if md.Swipes == nil {
		md.Swipes = &roleplay.SwipeHistory{CurrentIdx: 0, History: []string{msg.Content}}
	}

	switch req.Direction {
	case "left":
		if md.Swipes.CurrentIdx == 0 {
			common.Fail(c, http.StatusBadRequest, 10015, "already at first swipe")
			return
		}
		md.Swipes.CurrentIdx--

	case "right":
		if md.Swipes.CurrentIdx+1 >= len(md.Swipes.History) {
			// past the end: generate a new alternative
			go func(messageID uint64) {
				if err := h.Gen.Regenerate(context.Background(), uid, messageID); err != nil {
					h.Log.Error("swipe regenerate failed", "message_id", messageID, "err", err)
				}
			}(msg.ID)
			common.OK(c, gin.H{"generating": true})
			return
		}
		md.Swipes.CurrentIdx++

	default:
		common.Fail(c, http.StatusBadRequest, 10016, "direction must be left or right")
		return
	}

	raw, err := roleplay.EncodeMessageMetadata(md)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20008, "failed to encode metadata")
		return
	}
	if err := h.Repo.UpdateMessage(c.Request.Context(), msg.ID, map[string]any{
		"content":  md.Swipes.History[md.Swipes.CurrentIdx],
		"metadata": raw,
	}); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{
		"content":     md.Swipes.History[md.Swipes.CurrentIdx],
		"current_idx": md.Swipes.CurrentIdx,
		"total":       len(md.Swipes.History),
	})
}
