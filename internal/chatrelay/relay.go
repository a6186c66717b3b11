package chatrelay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agusx1211/switchyard/internal/agentmeta"
	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/dedup"
	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/metrics"
	"github.com/agusx1211/switchyard/internal/queue"
)

// Relay scans chat documents and enqueues one forward trigger per unanswered
// user message. It is safe to run in several processes: each process
// forwards a message at most once while it is up, and the idempotent enqueue
// collapses duplicates for as long as the forward document survives.
type Relay struct {
	chats      docstore.Reader
	forward    *queue.Queue[ForwardTrigger]
	guard      *dedup.Guard
	identities *agentmeta.Registry
	metrics    *metrics.Metrics
}

// PollResult summarizes one pass over every chat document.
type PollResult struct {
	Agents     int
	Enqueued   int
	Duplicates int // already on the forward queue, enqueued by another process
	Skipped    int // malformed pairs, retried next poll
	Errors     int // agents whose document could not be read
}

func NewRelay(chats docstore.Reader, forward *queue.Queue[ForwardTrigger], guard *dedup.Guard, identities *agentmeta.Registry, m *metrics.Metrics) *Relay {
	if identities == nil {
		identities = agentmeta.NewRegistry(nil)
	}
	return &Relay{
		chats:      chats,
		forward:    forward,
		guard:      guard,
		identities: identities,
		metrics:    m,
	}
}

// Poll runs one relay pass. Per-agent failures are logged and counted; the
// returned error is non-nil only when the chat documents cannot be listed.
func (r *Relay) Poll(ctx context.Context) (PollResult, error) {
	var res PollResult
	keys, err := r.chats.List(ctx, ChatPrefix)
	if err != nil {
		return res, fmt.Errorf("listing chat documents: %w", err)
	}
	for _, key := range keys {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if docstore.IsQuarantineKey(key) {
			continue
		}
		agentID := agentFromKey(key)
		if agentID == "" || strings.Contains(agentID, "/") {
			continue
		}
		res.Agents++

		msgs, err := r.readChat(ctx, key)
		if err != nil {
			res.Errors++
			if docstore.IsCorrupt(err) {
				r.metrics.CorruptDocument("relay")
			}
			debug.Warn("relay", "skipping chat document", "agent", agentID, "error", err)
			continue
		}
		r.relayAgent(ctx, agentID, msgs, &res)
	}
	if res.Enqueued > 0 {
		debug.LogKV("relay", "poll complete", "agents", res.Agents, "enqueued", res.Enqueued, "skipped", res.Skipped)
	}
	return res, nil
}

// readChat returns the agent's messages. Unlike docstore.Load it reports
// corruption so Poll can count it; a missing document is an empty chat.
func (r *Relay) readChat(ctx context.Context, key string) ([]ChatMessage, error) {
	doc, err := r.chats.Read(ctx, key)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []ChatMessage
	if err := docstore.Decode(doc, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Relay) relayAgent(ctx context.Context, agentID string, msgs []ChatMessage, res *PollResult) {
	for i, m := range msgs {
		if m.Sender != SenderUser {
			continue
		}
		if i+1 >= len(msgs) || !isOpenPlaceholder(m, msgs[i+1]) {
			// An answered pair is normal; only count placeholders that
			// look like they should be open but are not well formed.
			if i+1 >= len(msgs) || msgs[i+1].Sender != SenderAgent || msgs[i+1].MessageID != m.MessageID {
				res.Skipped++
			}
			continue
		}
		if m.MessageID == "" || !r.guard.TryMark(m.MessageID) {
			continue
		}

		trigger := r.trigger(agentID, m, msgs[i+1])
		added, err := r.forward.Enqueue(ctx, m.MessageID, StatusNeedsForward, trigger)
		if err != nil {
			r.guard.Forget(m.MessageID)
			res.Errors++
			debug.Warn("relay", "enqueue failed", "agent", agentID, "message_id", m.MessageID, "error", err)
			continue
		}
		if !added {
			res.Duplicates++
			debug.LogKV("relay", "trigger already queued", "agent", agentID, "message_id", m.MessageID)
			continue
		}
		res.Enqueued++
		r.metrics.TriggerEnqueued(agentID)
		debug.LogKV("relay", "trigger enqueued", "agent", agentID, "message_id", m.MessageID)
	}
}

func (r *Relay) trigger(agentID string, user, placeholder ChatMessage) ForwardTrigger {
	ident := r.identities.Resolve(agentID)
	sessionKey := placeholder.SessionKey
	if sessionKey == "" {
		sessionKey = user.SessionKey
	}
	return ForwardTrigger{
		AgentID:        agentID,
		AgentName:      ident.Name,
		AgentEmoji:     ident.Emoji,
		SessionKey:     sessionKey,
		MessageID:      user.MessageID,
		Text:           user.Text(),
		DisplayMessage: ComposeDisplay(ident, user.Text()),
	}
}

// isOpenPlaceholder reports whether next is the unanswered agent slot paired
// with user.
func isOpenPlaceholder(user, next ChatMessage) bool {
	if next.Sender != SenderAgent || next.MessageID != user.MessageID {
		return false
	}
	if next.Message != nil {
		return false
	}
	return next.Status == ChatPending || next.Status == ChatForwarding
}

// ComposeDisplay renders the text shown to the receiving session:
//
//	[🔭 Scout] message from user:
//	hi
func ComposeDisplay(ident agentmeta.Identity, text string) string {
	return fmt.Sprintf("[%s] message from user:\n%s", ident.Label(), strings.TrimSpace(text))
}
