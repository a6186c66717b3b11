package chatrelay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/hexid"
)

// ErrNoPlaceholder is returned by Answer when the message has no open reply
// slot.
var ErrNoPlaceholder = errors.New("no open placeholder for message")

// Chat is the chat UI role: the only writer of chat/<agent> documents.
type Chat struct {
	store docstore.Store
	now   func() time.Time
}

func NewChat(store docstore.Store) *Chat {
	return &Chat{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func chatKey(agentID string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", fmt.Errorf("agent id is required")
	}
	key := ChatPrefix + agentID
	if err := docstore.ValidateKey(key); err != nil {
		return "", err
	}
	if strings.Contains(agentID, "/") {
		return "", fmt.Errorf("invalid agent id %q", agentID)
	}
	return key, nil
}

// History returns the agent's conversation in order. A corrupt document
// reads as empty.
func (c *Chat) History(ctx context.Context, agentID string) ([]ChatMessage, error) {
	key, err := chatKey(agentID)
	if err != nil {
		return nil, err
	}
	var msgs []ChatMessage
	if _, err := docstore.Load(ctx, c.store, key, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Post appends a user message followed by its pending agent placeholder and
// returns the new message id.
func (c *Chat) Post(ctx context.Context, agentID, sessionKey, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("message text is required")
	}
	return c.update(ctx, agentID, func(msgs []ChatMessage) ([]ChatMessage, string, error) {
		id := hexid.Prefixed("m")
		now := c.now()
		body := text
		msgs = append(msgs,
			ChatMessage{Sender: SenderUser, MessageID: id, Message: &body, SessionKey: sessionKey, Timestamp: now},
			ChatMessage{Sender: SenderAgent, MessageID: id, Status: ChatPending, SessionKey: sessionKey, Timestamp: now},
		)
		return msgs, id, nil
	})
}

// Answer fills the open placeholder for messageID with reply.
func (c *Chat) Answer(ctx context.Context, agentID, messageID, reply string) error {
	_, err := c.update(ctx, agentID, func(msgs []ChatMessage) ([]ChatMessage, string, error) {
		for i := range msgs {
			m := &msgs[i]
			if m.Sender != SenderAgent || m.MessageID != messageID || m.Message != nil {
				continue
			}
			body := reply
			m.Message = &body
			m.Status = ChatAnswered
			m.Timestamp = c.now()
			return msgs, messageID, nil
		}
		return nil, "", fmt.Errorf("%s/%s: %w", agentID, messageID, ErrNoPlaceholder)
	})
	return err
}

func (c *Chat) update(ctx context.Context, agentID string, fn func([]ChatMessage) ([]ChatMessage, string, error)) (string, error) {
	key, err := chatKey(agentID)
	if err != nil {
		return "", err
	}
	mu := docstore.DocLock(c.store, key)
	mu.Lock()
	defer mu.Unlock()

	var msgs []ChatMessage
	var corrupt []byte
	doc, err := c.store.Read(ctx, key)
	switch {
	case err == nil:
		if derr := docstore.Decode(doc, &msgs); derr != nil {
			corrupt = doc.Data
			msgs = nil
		}
	case errors.Is(err, docstore.ErrNotFound):
	default:
		return "", err
	}

	msgs, id, err := fn(msgs)
	if err != nil {
		return "", err
	}
	if corrupt != nil {
		if _, err := docstore.Quarantine(ctx, c.store, key, corrupt); err != nil {
			return "", err
		}
	}
	if err := docstore.Save(ctx, c.store, key, msgs); err != nil {
		return "", err
	}
	return id, nil
}
