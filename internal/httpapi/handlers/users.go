package handlers

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/auth"
	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

type createUserReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// generate an 11 digit random username
func randomUsername11() (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, 11)
	for i := 0; i < 11; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		out[i] = letters[n.Int64()]
	}
	return string(out), nil
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	username := req.Username
	if username == "" {
		// generate one to avoid conflict on the unique index
		for i := 0; i < 5; i++ {
			u, err := randomUsername11()
			if err != nil {
				common.Fail(c, http.StatusInternalServerError, 20004, "failed to generate username")
				return
			}
			var cnt int64
			if err := h.DB.Model(&roleplay.User{}).Where("username = ?", u).Count(&cnt).Error; err != nil {
				common.Fail(c, http.StatusInternalServerError, 20005, "failed to check username")
				return
			}
			if cnt == 0 {
				username = u
				break
			}
		}
		if username == "" {
			common.Fail(c, http.StatusInternalServerError, 20006, "failed to allocate username")
			return
		}
	}

	user := roleplay.User{
		Email:        req.Email,
		Username:     username,
		PasswordHash: hash,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create user (maybe email already exists)")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
		"token":    token,
	})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var user roleplay.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token, "id": user.ID})
}

func (h *Handler) Me(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var user roleplay.User
	if err := h.DB.First(&user, uid).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, user)
}

type updateSettingsReq struct {
	ActiveConnectionID *uint64 `json:"active_connection_id"`
	ActiveSamplingID   *uint64 `json:"active_sampling_id"`
	ActiveContextID    *uint64 `json:"active_context_id"`
	ActivePromptID     *uint64 `json:"active_prompt_id"`
}

// UpdateSettings sets the caller's active generation configuration. Each id
// must reference a row the caller owns; a zero id clears the slot.
func (h *Handler) UpdateSettings(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req updateSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	fields := map[string]any{}
	set := func(column string, id *uint64, model any) bool {
		if id == nil {
			return true
		}
		if *id == 0 {
			fields[column] = nil
			return true
		}
		var cnt int64
		if err := h.DB.Model(model).Where("id = ? AND user_id = ?", *id, uid).Count(&cnt).Error; err != nil || cnt == 0 {
			return false
		}
		fields[column] = *id
		return true
	}

	if !set("active_connection_id", req.ActiveConnectionID, &roleplay.Connection{}) ||
		!set("active_sampling_id", req.ActiveSamplingID, &roleplay.SamplingConfig{}) ||
		!set("active_context_id", req.ActiveContextID, &roleplay.ContextConfig{}) ||
		!set("active_prompt_id", req.ActivePromptID, &roleplay.PromptConfig{}) {
		common.Fail(c, http.StatusBadRequest, 10005, "referenced config not found")
		return
	}

	if len(fields) == 0 {
		common.OK(c, gin.H{"updated": false})
		return
	}
	if err := h.DB.Model(&roleplay.User{}).Where("id = ?", uid).Updates(fields).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"updated": true})
}
