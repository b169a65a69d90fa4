package controllers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/duetchat/duet/pkg/backend"
	"github.com/duetchat/duet/pkg/chat"
	"github.com/duetchat/duet/pkg/logger"
	"github.com/duetchat/duet/pkg/sse"
	"github.com/duetchat/duet/pkg/stream"
	"github.com/google/uuid"
)

// Backend is the slice of the backend client the controller needs.
type Backend interface {
	backend.Streamer
	CreateSession(ctx context.Context, accessToken string) (backend.SessionDTO, error)
	FetchMessages(ctx context.Context, sessionID uuid.UUID, accessToken string, currentUserID uuid.UUID) ([]chat.Message, error)
}

// ChatController composes the transport, stream lifecycle, assembler and
// session cache into the send/cancel/reload surface the UI layer consumes.
type ChatController struct {
	client  Backend
	tokens  backend.TokenProvider
	cache   *chat.SessionCache
	manager *stream.Manager
	userID  uuid.UUID

	mu             sync.Mutex
	currentSession *uuid.UUID
	currentHandle  stream.Handle
	responseIDs    map[uuid.UUID]string
	placeholders   map[uuid.UUID]uuid.UUID
}

// NewChatController creates a controller for the given user.
func NewChatController(client Backend, tokens backend.TokenProvider, cache *chat.SessionCache, manager *stream.Manager, userID uuid.UUID) *ChatController {
	return &ChatController{
		client:       client,
		tokens:       tokens,
		cache:        cache,
		manager:      manager,
		userID:       userID,
		responseIDs:  make(map[uuid.UUID]string),
		placeholders: make(map[uuid.UUID]uuid.UUID),
	}
}

// Cache exposes the session cache for UI-layer subscription.
func (cc *ChatController) Cache() *chat.SessionCache {
	return cc.cache
}

// SendMessage sends a user message and starts streaming the assistant reply
// into the owning session's cache entry, whether or not that session is the
// one currently presented. It returns the handle for the in-flight stream.
func (cc *ChatController) SendMessage(ctx context.Context, text string, sessionID *uuid.UUID) (stream.Handle, error) {
	return cc.SendMessageObserved(ctx, text, sessionID, nil, nil)
}

// SendMessageObserved is SendMessage with optional taps: observe sees every
// stream event after the controller has applied it to the cache, and
// onFinish runs once the stream is released. Either may be nil.
func (cc *ChatController) SendMessageObserved(ctx context.Context, text string, sessionID *uuid.UUID, observe func(sse.Event), onFinish func()) (stream.Handle, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return uuid.Nil, fmt.Errorf("message content cannot be empty")
	}

	accessToken, err := cc.tokens.AccessToken(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if accessToken == "" {
		return uuid.Nil, fmt.Errorf("not authenticated")
	}

	// Pre-create the session so the stream has a session id up front. If the
	// create fails the server can still resolve one mid-stream via the
	// session event.
	sid := sessionID
	if sid == nil {
		if dto, err := cc.client.CreateSession(ctx, accessToken); err == nil {
			sid = &dto.ID
			logger.Debug("controller: pre-created session %s", dto.ID)
		} else {
			logger.Warn("controller: failed to pre-create session: %v", err)
		}
	}

	// Prior turns, as plain text runs, sent back for model context.
	var history []backend.HistoryMessage
	if sid != nil {
		for _, msg := range cc.cache.Messages(*sid) {
			role := chat.RoleAssistant
			if msg.IsUser() {
				role = chat.RoleUser
			}
			history = append(history, backend.HistoryMessage{Role: role, Content: msg.PlainText()})
		}
	}

	userMessage := chat.NewUserMessage(trimmed)
	placeholder := chat.NewAssistantMessage("")

	// Messages staged before a session id exists; flushed into the cache
	// once the server resolves one.
	var staged []chat.Message
	if sid != nil {
		cc.mu.Lock()
		cc.placeholders[*sid] = placeholder.ID
		cc.mu.Unlock()
		cc.cache.Update(*sid, func(messages []chat.Message) []chat.Message {
			return append(messages, userMessage, placeholder)
		})
	} else {
		staged = []chat.Message{userMessage, placeholder}
	}

	var prevID string
	cc.mu.Lock()
	if sid != nil {
		prevID = cc.responseIDs[*sid]
	}
	cc.mu.Unlock()

	req := backend.ChatStreamRequest{
		Message:            trimmed,
		SessionID:          sid,
		ChatHistory:        history,
		PreviousResponseID: prevID,
	}

	// Per-stream state: the assembler continues into the placeholder, and
	// every cache write is keyed by the most recently resolved session id.
	// All of it is touched only from the manager's delivery goroutine.
	asm := chat.NewAssemblerFor(placeholder)
	streamSession := sid
	terminated := false

	handle := cc.manager.Start(
		func(ctx context.Context) <-chan sse.Event {
			return cc.client.StreamChatMessage(ctx, req, accessToken)
		},
		func(event sse.Event) {
			switch event.Kind {
			case sse.KindSession:
				resolved := event.SessionID
				streamSession = &resolved
				cc.mu.Lock()
				cc.placeholders[resolved] = placeholder.ID
				if cc.currentSession == nil {
					cc.currentSession = &resolved
				}
				cc.mu.Unlock()
				if staged != nil {
					pending := staged
					staged = nil
					cc.cache.Update(resolved, func(messages []chat.Message) []chat.Message {
						return append(messages, pending...)
					})
				}

			case sse.KindResponseID:
				if streamSession != nil {
					cc.mu.Lock()
					cc.responseIDs[*streamSession] = event.RespID
					cc.mu.Unlock()
				}

			case sse.KindDone:
				terminated = true
				if msg, ok := asm.Finalize(); ok && streamSession != nil {
					cc.upsert(*streamSession, msg)
				}
				cc.finishStream(streamSession)

			case sse.KindError:
				terminated = true
				logger.Warn("controller: stream error: %s", event.Text)
				if streamSession != nil {
					notice := chat.NewAssistantMessage("Error: " + event.Text)
					notice.ID = placeholder.ID
					cc.upsert(*streamSession, notice)
				}
				cc.finishStream(streamSession)

			default:
				msg, changed := asm.Apply(event)
				if changed && streamSession != nil {
					cc.upsert(*streamSession, msg)
				}
			}
			if observe != nil {
				observe(event)
			}
		},
		func() {
			// Runs after done, error and cancellation alike. A cancelled
			// stream must not leave a permanently loading bubble in the
			// cached copy of the message.
			if !terminated {
				if msg, ok := asm.Finalize(); ok && streamSession != nil {
					cc.upsert(*streamSession, msg)
				}
				cc.finishStream(streamSession)
			}
			if onFinish != nil {
				onFinish()
			}
		},
	)

	cc.mu.Lock()
	cc.currentHandle = handle
	cc.mu.Unlock()
	return handle, nil
}

// Cancel aborts the stream for the given handle.
func (cc *ChatController) Cancel(handle stream.Handle) {
	cc.manager.Cancel(handle)
}

// CancelCurrent aborts the most recently started stream, if still running.
func (cc *ChatController) CancelCurrent() {
	cc.mu.Lock()
	handle := cc.currentHandle
	cc.mu.Unlock()
	if handle != uuid.Nil {
		cc.manager.Cancel(handle)
	}
}

// PresentSession switches the controller to a session, serving the cached
// transcript immediately and reloading in place only when stale.
func (cc *ChatController) PresentSession(ctx context.Context, sessionID uuid.UUID) ([]chat.Message, error) {
	cc.mu.Lock()
	sid := sessionID
	cc.currentSession = &sid
	cc.mu.Unlock()

	if cc.cache.IsFresh(sessionID) {
		return cc.cache.Messages(sessionID), nil
	}
	return cc.LoadHistory(ctx, sessionID, true)
}

// LoadHistory fetches the persisted transcript, reconciling it with any
// unconfirmed optimistic partner message, and refreshes the cache entry.
// Without force a fresh entry is served as-is.
func (cc *ChatController) LoadHistory(ctx context.Context, sessionID uuid.UUID, force bool) ([]chat.Message, error) {
	if !force && cc.cache.IsFresh(sessionID) {
		return cc.cache.Messages(sessionID), nil
	}

	accessToken, err := cc.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if accessToken == "" {
		return cc.cache.Messages(sessionID), nil
	}

	fetched, err := cc.client.FetchMessages(ctx, sessionID, accessToken, cc.userID)
	if err != nil {
		logger.Error("controller: failed to load history for %s: %v", sessionID, err)
		return cc.cache.Messages(sessionID), err
	}

	return cc.cache.Reconcile(sessionID, fetched), nil
}

// AcceptPartnerMessage inserts a just-delivered partner message ahead of the
// next authoritative fetch so it shows instantly without a reload flicker.
func (cc *ChatController) AcceptPartnerMessage(sessionID uuid.UUID, text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	cc.cache.AppendOptimistic(sessionID, chat.NewPartnerReceivedMessage(trimmed))
}

// SendToPartner forwards a message to the linked partner over the partner
// stream, draining it to its terminal event in the background.
func (cc *ChatController) SendToPartner(ctx context.Context, sessionID uuid.UUID, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("message content cannot be empty")
	}

	accessToken, err := cc.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}
	if accessToken == "" {
		return fmt.Errorf("not authenticated")
	}

	req := backend.PartnerStreamRequest{Message: trimmed, SessionID: sessionID}
	cc.manager.Start(
		func(ctx context.Context) <-chan sse.Event {
			return cc.client.StreamPartnerRequest(ctx, req, accessToken)
		},
		func(event sse.Event) {
			if event.Kind == sse.KindError {
				logger.Warn("controller: partner stream error: %s", event.Text)
			}
		},
		nil,
	)
	return nil
}

// Logout clears every cached transcript and all per-session bookkeeping.
func (cc *ChatController) Logout() {
	cc.cache.ClearAll()
	cc.mu.Lock()
	cc.responseIDs = make(map[uuid.UUID]string)
	cc.placeholders = make(map[uuid.UUID]uuid.UUID)
	cc.currentSession = nil
	cc.mu.Unlock()
}

// upsert replaces the message with a matching id in the session's cache
// entry, appending when absent.
func (cc *ChatController) upsert(sessionID uuid.UUID, msg chat.Message) {
	cc.cache.Update(sessionID, func(messages []chat.Message) []chat.Message {
		for i := range messages {
			if messages[i].ID == msg.ID {
				messages[i] = msg
				return messages
			}
		}
		return append(messages, msg)
	})
}

// finishStream releases per-stream bookkeeping. Safe to call more than once
// for the same stream.
func (cc *ChatController) finishStream(sessionID *uuid.UUID) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if sessionID != nil {
		delete(cc.placeholders, *sessionID)
	}
}
