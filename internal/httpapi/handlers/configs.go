package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/backend"
	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// Generation configuration handlers: connections plus the sampling, context
// and prompt config rows that ActiveGenerationSettings assembles.

type connectionReq struct {
	Name    string               `json:"name"`
	Type    roleplay.BackendType `json:"type"`
	BaseURL string               `json:"base_url"`
	Model   string               `json:"model"`
	APIKey  string               `json:"api_key"`

	Extras datatypes.JSON `json:"extras"`

	PromptFormat string `json:"prompt_format"`
	TokenCounter string `json:"token_counter"`
}

func validBackendType(t roleplay.BackendType) bool {
	switch t {
	case roleplay.BackendOpenAI, roleplay.BackendOllama, roleplay.BackendKoboldCpp,
		roleplay.BackendLMStudio, roleplay.BackendLlamaCpp:
		return true
	}
	return false
}

func (h *Handler) CreateConnection(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req connectionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name and base_url required")
		return
	}
	if !validBackendType(req.Type) {
		common.Fail(c, http.StatusBadRequest, 10006, "unknown backend type")
		return
	}

	conn := roleplay.Connection{
		UserID:       uid,
		Name:         req.Name,
		Type:         req.Type,
		BaseURL:      req.BaseURL,
		Model:        req.Model,
		APIKey:       req.APIKey,
		Extras:       req.Extras,
		PromptFormat: req.PromptFormat,
		TokenCounter: req.TokenCounter,
	}
	if err := h.DB.Create(&conn).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, conn)
}

func (h *Handler) ListConnections(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var out []roleplay.Connection
	if err := h.DB.Where("user_id = ?", uid).Order("id ASC").Find(&out).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"connections": out})
}

func (h *Handler) UpdateConnection(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	var req connectionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !validBackendType(req.Type) {
		common.Fail(c, http.StatusBadRequest, 10006, "unknown backend type")
		return
	}

	fields := map[string]any{
		"name":          req.Name,
		"type":          req.Type,
		"base_url":      req.BaseURL,
		"model":         req.Model,
		"extras":        req.Extras,
		"prompt_format": req.PromptFormat,
		"token_counter": req.TokenCounter,
	}
	// an empty api_key keeps the stored secret
	if req.APIKey != "" {
		fields["api_key"] = req.APIKey
	}
	res := h.DB.Model(&roleplay.Connection{}).
		Where("id = ? AND user_id = ?", id, uid).
		Updates(fields)
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40405, "connection not found")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

func (h *Handler) DeleteConnection(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	res := h.DB.Where("id = ? AND user_id = ?", id, uid).Delete(&roleplay.Connection{})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40405, "connection not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

func (h *Handler) loadConnection(c *gin.Context) (*roleplay.Connection, bool) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	id, okk := pathID(c, "id")
	if !okk {
		return nil, false
	}
	var conn roleplay.Connection
	if err := h.DB.Where("id = ? AND user_id = ?", id, uid).First(&conn).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40405, "connection not found")
			return nil, false
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return nil, false
	}
	return &conn, true
}

// TestConnection probes the backend with a short timeout and reports
// reachability without failing the request on probe errors.
func (h *Handler) TestConnection(c *gin.Context) {
	conn, okk := h.loadConnection(c)
	if !okk {
		return
	}
	probe := backend.TestConnection(c.Request.Context(), conn)
	common.OK(c, probe)
}

func (h *Handler) ListConnectionModels(c *gin.Context) {
	conn, okk := h.loadConnection(c)
	if !okk {
		return
	}
	models := backend.ListModels(c.Request.Context(), conn)
	common.OK(c, models)
}

// sampling configs

func (h *Handler) CreateSamplingConfig(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var sc roleplay.SamplingConfig
	if err := c.ShouldBindJSON(&sc); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if sc.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name required")
		return
	}
	sc.ID = 0
	sc.UserID = uid
	if err := h.DB.Create(&sc).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, sc)
}

func (h *Handler) ListSamplingConfigs(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var out []roleplay.SamplingConfig
	if err := h.DB.Where("user_id = ?", uid).Order("id ASC").Find(&out).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"sampling_configs": out})
}

func (h *Handler) UpdateSamplingConfig(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	var sc roleplay.SamplingConfig
	if err := c.ShouldBindJSON(&sc); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sc.ID = id
	sc.UserID = uid
	res := h.DB.Model(&roleplay.SamplingConfig{}).
		Where("id = ? AND user_id = ?", id, uid).
		Select("*").Omit("id", "user_id", "created_at").
		Updates(&sc)
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40406, "sampling config not found")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

func (h *Handler) DeleteSamplingConfig(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	res := h.DB.Where("id = ? AND user_id = ?", id, uid).Delete(&roleplay.SamplingConfig{})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40406, "sampling config not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

// context configs

func (h *Handler) CreateContextConfig(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var cc roleplay.ContextConfig
	if err := c.ShouldBindJSON(&cc); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if cc.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name required")
		return
	}
	if cc.TokenLimit <= 0 || cc.ThresholdPercent <= 0 || cc.ThresholdPercent > 1 {
		common.Fail(c, http.StatusBadRequest, 10007, "invalid token limit or threshold")
		return
	}
	cc.ID = 0
	cc.UserID = uid
	if err := h.DB.Create(&cc).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, cc)
}

func (h *Handler) ListContextConfigs(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var out []roleplay.ContextConfig
	if err := h.DB.Where("user_id = ?", uid).Order("id ASC").Find(&out).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"context_configs": out})
}

func (h *Handler) DeleteContextConfig(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	res := h.DB.Where("id = ? AND user_id = ?", id, uid).Delete(&roleplay.ContextConfig{})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40407, "context config not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

// prompt configs

func (h *Handler) CreatePromptConfig(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var pc roleplay.PromptConfig
	if err := c.ShouldBindJSON(&pc); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if pc.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "name required")
		return
	}
	pc.ID = 0
	pc.UserID = uid
	if err := h.DB.Create(&pc).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, pc)
}

func (h *Handler) ListPromptConfigs(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var out []roleplay.PromptConfig
	if err := h.DB.Where("user_id = ?", uid).Order("id ASC").Find(&out).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"prompt_configs": out})
}

func (h *Handler) DeletePromptConfig(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, okk := pathID(c, "id")
	if !okk {
		return
	}
	res := h.DB.Where("id = ? AND user_id = ?", id, uid).Delete(&roleplay.PromptConfig{})
	if res.Error != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if res.RowsAffected == 0 {
		common.Fail(c, http.StatusNotFound, 40408, "prompt config not found")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}
