// Package generate drives assistant turns end-to-end: turn resolution,
// prompt compilation, backend invocation, streaming persistence and the
// group-chat auto-response loop.
package generate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/halcyonwood/inkwell/internal/backend"
	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/logger"
	"github.com/halcyonwood/inkwell/internal/roleplay"
	"github.com/halcyonwood/inkwell/internal/turns"
)

// ErrGenerationInFlight is returned when a chat already has a generating
// message. At most one generation runs per chat at a time.
var ErrGenerationInFlight = errors.New("a generation is already in flight for this chat")

type Orchestrator struct {
	repo     *roleplay.Repo
	registry *backend.Registry
	sink     events.Sink
	log      *logger.Logger

	// bounds the group auto-response loop at factor × active characters
	autoTurnFactor int

	// per-chat locks serializing the generating-message guard with the
	// claim that follows it; gin handles requests on concurrent goroutines
	// and the two repo calls alone leave a window between them
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(repo *roleplay.Repo, registry *backend.Registry, sink events.Sink, log *logger.Logger, autoTurnFactor int) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if autoTurnFactor <= 0 {
		autoTurnFactor = 2
	}
	return &Orchestrator{
		repo:           repo,
		registry:       registry,
		sink:           sink,
		log:            log.With("component", "generate"),
		autoTurnFactor: autoTurnFactor,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) chatLock(chatID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lk, ok := o.locks[chatID]
	if !ok {
		lk = &sync.Mutex{}
		o.locks[chatID] = lk
	}
	return lk
}

// TriggerOptions shape one generation request.
type TriggerOptions struct {
	// CharacterID forces this character to speak regardless of natural turn
	// order. Zero lets the resolver decide.
	CharacterID uint64
	// Triggered forces a turn even without a fresh user message.
	Triggered bool
}

func (o *Orchestrator) emit(ctx context.Context, ev events.Event) {
	if o.sink != nil {
		o.sink.Emit(ctx, ev)
	}
}

func chatChannel(chatID string) string { return "chat:" + chatID }

// Trigger runs assistant turns for a chat until no character should speak.
// Single-character chats run one turn; auto-responding group chats keep
// re-resolving turn order after each completed message, bounded so a
// misconfigured rotation cannot loop forever.
func (o *Orchestrator) Trigger(ctx context.Context, userID uint64, chatID string, opts TriggerOptions) error {
	settings, err := o.repo.ActiveGenerationSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("generation settings: %w", err)
	}

	// fast path only; claimTurn re-checks under the chat lock
	generating, err := o.repo.HasGeneratingMessage(ctx, chatID)
	if err != nil {
		return err
	}
	if generating {
		return ErrGenerationInFlight
	}

	triggered := opts.Triggered || opts.CharacterID != 0

	maxTurns := 1
	for turn := 0; turn < maxTurns; turn++ {
		// always re-fetch: the previous turn changed the message list
		chat, err := o.repo.GetChatByChatID(ctx, chatID)
		if err != nil {
			return err
		}
		activeChars := activeCharacters(chat)
		if turn == 0 {
			maxTurns = o.autoTurnFactor * len(activeChars)
			if maxTurns < 1 {
				maxTurns = 1
			}
		}

		var nextID uint64
		if turn == 0 && opts.CharacterID != 0 {
			nextID = opts.CharacterID
			if findLink(activeChars, nextID) == nil {
				return fmt.Errorf("character %d is not active in chat %s", nextID, chatID)
			}
		} else {
			nextID = turns.NextCharacterTurn(chat.Messages, activeChars, chat.Personas, triggered)
		}
		triggered = false
		if nextID == 0 {
			return nil
		}

		aborted, err := o.runTurn(ctx, chat, settings, nextID)
		if err != nil {
			return err
		}
		if aborted {
			// abort halts the loop, it does not skip to the next speaker
			return nil
		}
		if !chat.IsGroup || chat.ReplyStrategy == roleplay.ReplyManual {
			return nil
		}
	}
	return nil
}

// Regenerate produces a new swipe for an existing assistant message slot.
// The fresh text is appended to the slot's swipe history and becomes
// current.
func (o *Orchestrator) Regenerate(ctx context.Context, userID uint64, messageID uint64) error {
	settings, err := o.repo.ActiveGenerationSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("generation settings: %w", err)
	}

	msg, err := o.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Role != roleplay.RoleAssistant || msg.AuthorCharacterID == nil {
		return errors.New("only assistant messages can be regenerated")
	}

	chat, err := o.repo.GetChatByChatID(ctx, msg.ChatID)
	if err != nil {
		return err
	}

	// hide this slot and everything after it from the compiled prompt
	trimmed := *chat
	trimmed.Messages = nil
	for _, m := range chat.Messages {
		if m.ID >= msg.ID {
			break
		}
		trimmed.Messages = append(trimmed.Messages, m)
	}

	if err := o.claimMessage(ctx, msg); err != nil {
		return err
	}

	_, err = o.generateInto(ctx, &trimmed, settings, *msg.AuthorCharacterID, msg, true)
	return err
}

// claimMessage marks an existing slot as generating under the same chat lock
// the turn claim uses, so a regenerate cannot race a trigger past the guard.
func (o *Orchestrator) claimMessage(ctx context.Context, msg *roleplay.ChatMessage) error {
	lk := o.chatLock(msg.ChatID)
	lk.Lock()
	defer lk.Unlock()

	generating, err := o.repo.HasGeneratingMessage(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if generating {
		return ErrGenerationInFlight
	}
	return o.repo.UpdateMessage(ctx, msg.ID, map[string]any{"is_generating": true})
}

func (o *Orchestrator) runTurn(ctx context.Context, chat *roleplay.Chat, settings *roleplay.GenerationSettings, characterID uint64) (bool, error) {
	placeholder, err := o.claimTurn(ctx, chat.ChatID, characterID)
	if err != nil {
		return false, err
	}
	return o.generateInto(ctx, chat, settings, characterID, placeholder, false)
}

// claimTurn inserts the generating placeholder if and only if the chat has no
// generating message. Guard and insert hold the chat lock together; at most
// one generation runs per chat at a time.
func (o *Orchestrator) claimTurn(ctx context.Context, chatID string, characterID uint64) (*roleplay.ChatMessage, error) {
	lk := o.chatLock(chatID)
	lk.Lock()
	defer lk.Unlock()

	generating, err := o.repo.HasGeneratingMessage(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if generating {
		return nil, ErrGenerationInFlight
	}

	placeholder := &roleplay.ChatMessage{
		ChatID:            chatID,
		Role:              roleplay.RoleAssistant,
		AuthorCharacterID: &characterID,
		Content:           "",
		IsGenerating:      true,
	}
	if err := o.repo.InsertMessage(ctx, placeholder); err != nil {
		return nil, err
	}
	return placeholder, nil
}

// generateInto runs one backend call and persists its output into msg,
// reporting whether the run was aborted. asSwipe appends to the slot's
// swipe history instead of starting one.
func (o *Orchestrator) generateInto(ctx context.Context, chat *roleplay.Chat, settings *roleplay.GenerationSettings, characterID uint64, msg *roleplay.ChatMessage, asSwipe bool) (bool, error) {
	ad, err := backend.New(backend.Params{
		Connection:         settings.Connection,
		Sampling:           settings.Sampling,
		ContextCfg:         settings.Context,
		PromptCfg:          settings.Prompt,
		Chat:               chat,
		CurrentCharacterID: characterID,
	})
	if err != nil {
		o.failMessage(ctx, msg, err)
		return false, err
	}

	adapterID := ad.ID()
	o.registry.Insert(ad)
	defer o.registry.Remove(adapterID)

	if err := o.repo.UpdateMessage(ctx, msg.ID, map[string]any{
		"is_generating": true,
		"adapter_id":    adapterID,
	}); err != nil {
		return false, err
	}
	o.emit(ctx, events.Event{
		Channel: chatChannel(chat.ChatID),
		Type:    events.TypeMessageStart,
		Data: map[string]any{
			"message_id":   msg.ID,
			"character_id": characterID,
		},
	})

	result, err := ad.Generate(ctx)
	if err != nil {
		o.failMessage(ctx, msg, err)
		o.emit(ctx, events.Event{
			Channel: chatChannel(chat.ChatID),
			Type:    events.TypeGenerateError,
			Data:    map[string]any{"message_id": msg.ID, "error": err.Error()},
		})
		return false, nil
	}

	o.log.Debug("prompt compiled",
		"chat_id", chat.ChatID,
		"included", len(result.CompiledPrompt.IncludedIDs),
		"excluded", len(result.CompiledPrompt.ExcludedIDs),
		"tokens", result.CompiledPrompt.TokenCount,
		"budget", result.CompiledPrompt.TokenBudget,
	)

	text := result.Text
	aborted := result.Aborted

	if result.Chunks != nil {
		var streamErr error
		for chunk := range result.Chunks {
			text += chunk
			if err := o.repo.UpdateMessage(ctx, msg.ID, map[string]any{"content": text}); err != nil {
				o.log.Warn("persist chunk", "err", err)
			}
			o.emit(ctx, events.Event{
				Channel: chatChannel(chat.ChatID),
				Type:    events.TypeChunk,
				Data:    map[string]any{"message_id": msg.ID, "delta": chunk},
			})
		}
		if result.Errs != nil {
			select {
			case e, ok := <-result.Errs:
				if ok && e != nil {
					streamErr = e
				}
			default:
			}
		}
		aborted = ad.Aborted()
		if streamErr != nil && !aborted {
			o.failMessage(ctx, msg, streamErr)
			o.emit(ctx, events.Event{
				Channel: chatChannel(chat.ChatID),
				Type:    events.TypeGenerateError,
				Data:    map[string]any{"message_id": msg.ID, "error": streamErr.Error()},
			})
			return false, nil
		}
	}

	if err := o.finalizeMessage(ctx, msg, text, asSwipe); err != nil {
		return aborted, err
	}
	o.emit(ctx, events.Event{
		Channel: chatChannel(chat.ChatID),
		Type:    events.TypeMessageDone,
		Data: map[string]any{
			"message_id": msg.ID,
			"aborted":    aborted,
		},
	})
	return aborted, nil
}

// failMessage leaves an error indicator in the slot, never a message stuck
// in the generating state.
func (o *Orchestrator) failMessage(ctx context.Context, msg *roleplay.ChatMessage, cause error) {
	content := backend.FailurePrefix + cause.Error()
	if err := o.repo.UpdateMessage(ctx, msg.ID, map[string]any{
		"content":       content,
		"is_generating": false,
		"adapter_id":    nil,
	}); err != nil {
		o.log.Error("finalize failed message", "message_id", msg.ID, "err", err)
	}
}

func (o *Orchestrator) finalizeMessage(ctx context.Context, msg *roleplay.ChatMessage, text string, asSwipe bool) error {
	md, decErr := roleplay.DecodeMessageMetadata(msg.Metadata)
	if decErr != nil {
		o.log.Warn("malformed message metadata, resetting", "message_id", msg.ID, "err", decErr)
		md = roleplay.MessageMetadata{}
	}
	if md.Swipes == nil {
		md.Swipes = &roleplay.SwipeHistory{}
	}
	if asSwipe && len(md.Swipes.History) == 0 {
		// preserve the original text as the first swipe
		md.Swipes.History = append(md.Swipes.History, msg.Content)
	}
	md.Swipes.History = append(md.Swipes.History, text)
	md.Swipes.CurrentIdx = len(md.Swipes.History) - 1

	raw, err := roleplay.EncodeMessageMetadata(md)
	if err != nil {
		return err
	}
	return o.repo.UpdateMessage(ctx, msg.ID, map[string]any{
		"content":       text,
		"is_generating": false,
		"adapter_id":    nil,
		"metadata":      raw,
	})
}

func activeCharacters(chat *roleplay.Chat) []roleplay.ChatCharacter {
	out := make([]roleplay.ChatCharacter, 0, len(chat.Characters))
	for _, cc := range chat.Characters {
		if cc.IsActive {
			out = append(out, cc)
		}
	}
	return out
}

func findLink(links []roleplay.ChatCharacter, characterID uint64) *roleplay.ChatCharacter {
	for i := range links {
		if links[i].CharacterID == characterID {
			return &links[i]
		}
	}
	return nil
}
