package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jxucoder/threadline/internal/orchestrator"
)

// Converser runs one chat turn against the assistant.
type Converser interface {
	Converse(ctx context.Context, input, sessionID string) (orchestrator.Result, error)
}

// Store used by Relay.
type relayStore interface {
	Sessions
	Forget(key string) error
}

// Relay runs chat turns on behalf of a channel (a CLI conversation, a Slack
// thread, a Telegram chat), remembering the remote session id per key and
// recording the transcript.
type Relay struct {
	store  relayStore
	conv   Converser
	logger *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(store *Store, conv Converser, logger *slog.Logger) *Relay {
	return newRelay(store, conv, logger)
}

func newRelay(store relayStore, conv Converser, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, conv: conv, logger: logger}
}

// Send runs input as the next turn of the conversation identified by key.
// The session id is stored even when the turn fails, so a retry continues the
// same conversation.
func (r *Relay) Send(ctx context.Context, key, input string) (orchestrator.Result, error) {
	sid, err := r.store.SessionID(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return orchestrator.Result{}, err
	}

	r.record(&Turn{ConversationKey: key, SessionID: sid, Role: RoleUser, Content: input})

	res, convErr := r.conv.Converse(ctx, input, sid)
	if res.SessionID == "" {
		var runErr *orchestrator.RunError
		if errors.As(convErr, &runErr) {
			res.SessionID = runErr.SessionID
		}
	}
	if res.SessionID != "" && res.SessionID != sid {
		if err := r.store.SetSessionID(key, res.SessionID); err != nil {
			r.logger.Warn("storing session id", "conversation", key, "error", err)
		}
	}

	if convErr != nil {
		r.record(&Turn{ConversationKey: key, SessionID: res.SessionID, Role: RoleError, Content: convErr.Error()})
		return res, convErr
	}
	r.record(&Turn{ConversationKey: key, SessionID: res.SessionID, Role: RoleAssistant, Content: res.Reply})
	return res, nil
}

// Reset makes the next turn of key start a new remote session.
func (r *Relay) Reset(key string) error {
	return r.store.Forget(key)
}

func (r *Relay) record(t *Turn) {
	if err := r.store.AddTurn(t); err != nil {
		r.logger.Warn("recording transcript", "conversation", t.ConversationKey, "error", err)
	}
}

// UserMessage is the text shown to a chat user when a turn failed.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrTimeout):
		return "The assistant took too long to respond. Please try again."
	case errors.Is(err, orchestrator.ErrNotConfigured):
		return "The assistant is not configured yet."
	case errors.Is(err, orchestrator.ErrEmptyInput):
		return "Please send a question."
	default:
		return "Something went wrong while talking to the assistant. Please try again."
	}
}
