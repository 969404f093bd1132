package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/generate"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

type generateReq struct {
	CharacterID uint64 `json:"character_id"`
	Triggered   bool   `json:"triggered"`
}

// Generate streams one generation run over SSE: subscribe to the chat's
// event channel first, kick the orchestrator off, then pump events until the
// run completes or the client goes away.
func (h *Handler) Generate(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}

	var req generateReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, okf := c.Writer.(http.Flusher)
	if !okf {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	evs, cancel := h.Hub.Subscribe("chat:" + chat.ChatID)
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- h.Gen.Trigger(context.Background(), uid, chat.ChatID, generate.TriggerOptions{
			CharacterID: req.CharacterID,
			Triggered:   req.Triggered,
		})
	}()

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	var runFinished bool
	for {
		select {
		case ev := <-evs:
			writeJSON(ev.Type, ev)
			// the run may finish before the final hub events drain
			if runFinished && (ev.Type == events.TypeMessageDone || ev.Type == events.TypeGenerateError) {
				return
			}

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case err := <-runDone:
			runFinished = true
			if err != nil {
				msg := "generation failed"
				switch err {
				case generate.ErrGenerationInFlight:
					msg = err.Error()
				case roleplay.ErrNoActiveConnection:
					msg = err.Error()
				}
				writeJSON("error", gin.H{"type": "error", "message": msg})
				return
			}
			// drain remaining events briefly, then close
			drain := time.After(200 * time.Millisecond)
			for {
				select {
				case ev := <-evs:
					writeJSON(ev.Type, ev)
				case <-drain:
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// Regenerate replaces an assistant message with a fresh swipe.
func (h *Handler) Regenerate(c *gin.Context) {
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
		common.Fail(c, http.StatusBadRequest, 10014, "only assistant messages can be regenerated")
		return
	}

	go func(messageID uint64) {
		if err := h.Gen.Regenerate(context.Background(), uid, messageID); err != nil {
			h.Log.Error("regenerate failed", "message_id", messageID, "err", err)
		}
	}(msg.ID)
	common.OK(c, gin.H{"generating": true, "message_id": msg.ID})
}

// AbortGeneration stops a chat's in-flight generation. Aborting a chat with
// nothing running is a no-op success.
func (h *Handler) AbortGeneration(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}

	var msgs []roleplay.ChatMessage
	if err := h.DB.Where("chat_id = ? AND is_generating = ?", chat.ChatID, true).Find(&msgs).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	aborted := 0
	for _, m := range msgs {
		if m.AdapterID != nil {
			h.Registry.Abort(*m.AdapterID)
			aborted++
		}
	}
	common.OK(c, gin.H{"aborted": aborted})
}

// ChatEvents is a long-lived SSE feed of everything happening in a chat,
// generation chunks and draft progress alike.
func (h *Handler) ChatEvents(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chat, okk := h.ownChat(c, uid)
	if !okk {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, okf := c.Writer.(http.Flusher)
	if !okf {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	evs, cancel := h.Hub.Subscribe("chat:" + chat.ChatID)
	defer cancel()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ev := <-evs:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, string(b))
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {\"ts\":%d}\n\n", time.Now().Unix())
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}
