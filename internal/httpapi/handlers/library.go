package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// Library handlers: characters, personas, lorebooks and lore entries. All
// rows are scoped to the authenticated owner.

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid id")
		return 0, false
	}
	return id, true
}

// characters

type characterReq struct {
	Name         string `json:"name"`
	Nickname     string `json:"nickname"`
	Description  string `json:"description"`
	Personality  string `json:"personality"`
	Scenario     string `json:"scenario"`
	FirstMessage string `json:"first_message"`

	AlternateGreetings datatypes.JSON `json:"alternate_greetings"`
	ExampleDialogues   datatypes.JSON `json:"example_dialogues"`
}

func (h *Handler) CreateCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req characterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name required")
		return
	}

	ch := roleplay.Character{
		UserID:             uid,
		Name:               req.Name,
		Nickname:           req.Nickname,
		Description:        req.Description,
		Personality:        req.Personality,
		Scenario:           req.Scenario,
		FirstMessage:       req.FirstMessage,
		AlternateGreetings: req.AlternateGreetings,
		ExampleDialogues:   req.ExampleDialogues,
	}
	if err := h.DB.Create(&ch).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, ch)
}

func (h *Handler) ListCharacters(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var out []roleplay.Character
	if err := h.DB.Where("user_id = ?", uid).Order("id ASC").Find(&out).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"characters": out})
}

func (h *Handler) GetCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	var ch roleplay.Character
	if err := h.DB.Where("id = ? AND user_id = ?", id, uid).First(&ch).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40401, "character not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, ch)
}

func (h *Handler) UpdateCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	var req characterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res := h.DB.Model(&roleplay.Character{}).
		Where("id = ? AND user_id = ?", id, uid).
		Updates(map[string]any{
			"name":                req.Name,
			"nickname":            req.Nickname,
			"description":         req.Description,
			"personality":         req.Personality,
			"scenario":            req.Scenario,
			"first_message":       req.FirstMessage,
			"alternate_greetings": req.AlternateGreetings,
			"example_dialogues":   req.ExampleDialogues,
		})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40401, "character not found")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

func (h *Handler) DeleteCharacter(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	res := h.DB.Where("id = ? AND user_id = ?", id, uid).Delete(&roleplay.Character{})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40401, "character not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

// personas

type personaReq struct {
	Name        string `json:"name"`
	Nickname    string `json:"nickname"`
	Description string `json:"description"`
}

func (h *Handler) CreatePersona(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req personaReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name required")
		return
	}
	p := roleplay.Persona{UserID: uid, Name: req.Name, Nickname: req.Nickname, Description: req.Description}
	if err := h.DB.Create(&p).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, p)
}

func (h *Handler) ListPersonas(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var out []roleplay.Persona
	if err := h.DB.Where("user_id = ?", uid).Order("id ASC").Find(&out).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"personas": out})
}

func (h *Handler) UpdatePersona(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	var req personaReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	res := h.DB.Model(&roleplay.Persona{}).
		Where("id = ? AND user_id = ?", id, uid).
		Updates(map[string]any{
			"name":        req.Name,
			"nickname":    req.Nickname,
			"description": req.Description,
		})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40402, "persona not found")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

func (h *Handler) DeletePersona(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	res := h.DB.Where("id = ? AND user_id = ?", id, uid).Delete(&roleplay.Persona{})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40402, "persona not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

// lorebooks

type lorebookReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) CreateLorebook(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req lorebookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name required")
		return
	}
	lb := roleplay.Lorebook{UserID: uid, Name: req.Name, Description: req.Description}
	if err := h.DB.Create(&lb).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, lb)
}

func (h *Handler) ListLorebooks(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var out []roleplay.Lorebook
	if err := h.DB.Where("user_id = ?", uid).Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Order("id ASC").Find(&out).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"lorebooks": out})
}

func (h *Handler) DeleteLorebook(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, uid).Delete(&roleplay.Lorebook{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("lorebook_id = ?", id).Delete(&roleplay.LoreEntry{}).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40403, "lorebook not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

// ownLorebook verifies the lorebook belongs to the caller.
func (h *Handler) ownLorebook(c *gin.Context, uid, lorebookID uint64) bool {
	var cnt int64
	if err := h.DB.Model(&roleplay.Lorebook{}).
		Where("id = ? AND user_id = ?", lorebookID, uid).
		Count(&cnt).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return false
	}
	if cnt == 0 {
		common.Fail(c, http.StatusNotFound, 40403, "lorebook not found")
		return false
	}
	return true
}

type loreEntryReq struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Position int    `json:"position"`
	Enabled  *bool  `json:"enabled"`
}

func (h *Handler) CreateLoreEntry(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	lbID, okk := pathID(c, "id")
	if !okk {
		return
	}
	if !h.ownLorebook(c, uid, lbID) {
		return
	}

	var req loreEntryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Content == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "content required")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	entry := roleplay.LoreEntry{
		LorebookID: lbID,
		Title:      req.Title,
		Content:    req.Content,
		Position:   req.Position,
		Enabled:    enabled,
	}
	if err := h.DB.Create(&entry).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, entry)
}

func (h *Handler) UpdateLoreEntry(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	lbID, okk := pathID(c, "id")
	if !okk {
		return
	}
	entryID, okk := pathID(c, "entry_id")
	if !okk {
		return
	}
	if !h.ownLorebook(c, uid, lbID) {
		return
	}

	var req loreEntryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	fields := map[string]any{
		"title":    req.Title,
		"content":  req.Content,
		"position": req.Position,
	}
	if req.Enabled != nil {
		fields["enabled"] = *req.Enabled
	}
	res := h.DB.Model(&roleplay.LoreEntry{}).
		Where("id = ? AND lorebook_id = ?", entryID, lbID).
		Updates(fields)
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40404, "lore entry not found")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

func (h *Handler) DeleteLoreEntry(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	lbID, okk := pathID(c, "id")
	if !okk {
		return
	}
	entryID, okk := pathID(c, "entry_id")
	if !okk {
		return
	}
	if !h.ownLorebook(c, uid, lbID) {
		return
	}

	res := h.DB.Where("id = ? AND lorebook_id = ?", entryID, lbID).Delete(&roleplay.LoreEntry{})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40404, "lore entry not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
