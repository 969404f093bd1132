package events

import (
	"context"
	"sync"

	"github.com/halcyonwood/inkwell/internal/logger"
)

// Event is one progress notification pushed by the orchestrators. Channel
// scopes delivery, e.g. "chat:<chat_id>".
type Event struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
}

// Event types emitted by the generation and draft pipelines.
const (
	TypeChunk         = "chunk"
	TypeMessageStart  = "message_start"
	TypeMessageDone   = "message_done"
	TypeGenerateError = "generate_error"
	TypeDraftProgress = "draft_progress"
)

// Sink is where orchestrators push status updates. Orchestrators tolerate a
// nil sink and degrade silently.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Hub is an in-process sink fanning events out to channel subscribers.
type Hub struct {
	mu   sync.RWMutex
	log  *logger.Logger
	subs map[string]map[chan Event]bool
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		log:  log.With("component", "event_hub"),
		subs: make(map[string]map[chan Event]bool),
	}
}

// Subscribe returns a buffered event channel for one delivery channel and a
// cancel func that must be called when the consumer goes away.
func (h *Hub) Subscribe(channel string) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	h.mu.Lock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[chan Event]bool)
		h.subs[channel] = set
	}
	set[ch] = true
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[channel]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, channel)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Emit(ctx context.Context, ev Event) {
	_ = ctx
	if ev.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.Channel] {
		select {
		case ch <- ev:
		default:
			h.log.Warn("dropping event; subscriber buffer full", "channel", ev.Channel, "type", ev.Type)
		}
	}
}
