// Package chatrelay turns unanswered user chat messages into forward
// triggers and delivers those triggers to agent sessions.
//
// Three roles touch the documents of this package:
//
//   - the chat UI owns chat/<agent> (Post, Answer);
//   - the Relay reads chat documents and owns enqueueing on queues/forward;
//   - the Dispatcher (or an external sender using Ack) owns the status of
//     items already on queues/forward.
//
// The relay never writes a chat document.
package chatrelay

import (
	"strings"
	"time"

	"github.com/agusx1211/switchyard/internal/queue"
)

const (
	// ChatPrefix is the key prefix of per-agent chat documents.
	ChatPrefix = "chat/"
	// ForwardQueueKey is the document holding forward triggers.
	ForwardQueueKey = "queues/forward"
	// OutboxPrefix is the key prefix of OutboxSender logs.
	OutboxPrefix = "outbox/"
)

// Chat message senders.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// Agent placeholder statuses.
const (
	ChatPending    = "pending"
	ChatForwarding = "forwarding"
	ChatAnswered   = "answered"
)

// ChatMessage is one entry of an agent's chat document. A nil Message on an
// agent entry means the reply has not been produced yet.
type ChatMessage struct {
	Sender     string    `json:"sender"`
	MessageID  string    `json:"messageId"`
	Message    *string   `json:"message"`
	Status     string    `json:"status,omitempty"`
	SessionKey string    `json:"sessionKey,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// Text returns the message body, or "" for a placeholder.
func (m ChatMessage) Text() string {
	if m.Message == nil {
		return ""
	}
	return *m.Message
}

// Forward queue statuses. needs_forward items come from the relay;
// needs_send items are enqueued directly by other producers. Both move
// through an in-flight status while a dispatcher owns them.
const (
	StatusNeedsForward queue.Status = "needs_forward"
	StatusDispatching  queue.Status = "dispatching"
	StatusForwarded    queue.Status = "forwarded"
	StatusNeedsSend    queue.Status = "needs_send"
	StatusSending      queue.Status = "sending"
	StatusSent         queue.Status = "sent"
	StatusFailed       queue.Status = "failed"
)

// lane describes one pending -> in-flight -> terminal route.
type lane struct {
	pending, inFlight, done queue.Status
}

var lanes = []lane{
	{pending: StatusNeedsForward, inFlight: StatusDispatching, done: StatusForwarded},
	{pending: StatusNeedsSend, inFlight: StatusSending, done: StatusSent},
}

func laneFor(status queue.Status) (lane, bool) {
	for _, l := range lanes {
		if status == l.pending || status == l.inFlight || status == l.done {
			return l, true
		}
	}
	return lane{}, false
}

// IsTerminal reports whether a forward item needs no further work.
func IsTerminal(status queue.Status) bool {
	switch status {
	case StatusForwarded, StatusSent, StatusFailed:
		return true
	}
	return false
}

// ForwardTrigger is the payload of a forward queue item.
type ForwardTrigger struct {
	AgentID        string `json:"agentId"`
	AgentName      string `json:"agentName"`
	AgentEmoji     string `json:"agentEmoji,omitempty"`
	SessionKey     string `json:"sessionKey,omitempty"`
	MessageID      string `json:"messageId"`
	Text           string `json:"text"`
	DisplayMessage string `json:"displayMessage"`
}

// ForwardItem is a forward queue entry.
type ForwardItem = queue.Item[ForwardTrigger]

// agentFromKey extracts the agent id from a chat document key.
func agentFromKey(key string) string {
	return strings.TrimPrefix(key, ChatPrefix)
}
