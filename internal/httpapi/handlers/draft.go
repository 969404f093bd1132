package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

type createDraftJobReq struct {
	Request         string   `json:"request" binding:"required"`
	RequestedFields []string `json:"requested_fields"`
}

// CreateDraftJob queues an async character-draft run against an assistant
// chat and hands the job to the worker.
func (h *Handler) CreateDraftJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}
	if chat.Type != roleplay.ChatTypeAssistant {
		common.Fail(c, http.StatusBadRequest, 10017, "drafts run on assistant chats")
		return
	}
	var req createDraftJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20007, "failed to allocate job id")
		return
	}

	var requested datatypes.JSON
	if len(req.RequestedFields) > 0 {
		b, err := json.Marshal(req.RequestedFields)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid requested fields")
			return
		}
		requested = datatypes.JSON(b)
	}

	job := &roleplay.DraftJob{
		ID:              jobID,
		UserID:          uid,
		ChatID:          chat.ChatID,
		Request:         req.Request,
		RequestedFields: requested,
		Status:          roleplay.JobQueued,
	}
	if err := h.Repo.CreateDraftJob(c.Request.Context(), job); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	if err := h.Rabbit.PublishJob(c.Request.Context(), job.ID); err != nil {
		h.Log.Error("publish draft job failed", "job_id", job.ID, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}
	common.OK(c, gin.H{"job_id": job.ID})
}

func (h *Handler) GetDraftJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Repo.GetDraftJobByID(c.Request.Context(), jobID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40411, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40411, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":         j.ID,
			"chat_id":    j.ChatID,
			"status":     j.Status,
			"error":      j.Error,
			"created_at": j.CreatedAt,
			"updated_at": j.UpdatedAt,
		},
	})
}
