// Package spawn tracks spawn requests from submission to a registered
// agent session.
//
// Requests live on the spawn/requests queue and only move forward:
//
//	pending -> processing -> completed
//	pending -> processing -> error
//	pending -> error
//
// A request reaches completed exactly once, through RegisterSession, which
// guards the move with the queue's status precondition. The session it
// creates is appended to spawn/sessions afterwards; Repair rebuilds entries
// whose append was lost.
package spawn

import (
	"errors"
	"strings"
	"time"

	"github.com/agusx1211/switchyard/internal/queue"
)

const (
	// RequestsKey is the spawn request queue document.
	RequestsKey = "spawn/requests"
	// SessionsKey is the session registry document.
	SessionsKey = "spawn/sessions"

	// DefaultTTL is how long a registered session stays active.
	DefaultTTL = time.Hour
)

const (
	StatusPending    queue.Status = "pending"
	StatusProcessing queue.Status = "processing"
	StatusCompleted  queue.Status = "completed"
	StatusError      queue.Status = "error"
)

// IsTerminal reports whether a request status can no longer change.
func IsTerminal(status queue.Status) bool {
	switch queue.Status(strings.ToLower(strings.TrimSpace(string(status)))) {
	case StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = queue.ErrNotFound
	// ErrAlreadyCompleted is returned when a terminal request is asked to
	// register a session or fail again.
	ErrAlreadyCompleted = errors.New("spawn request already completed")
	// ErrSessionNotFound is returned by LookupSession.
	ErrSessionNotFound = errors.New("session not found")
)

// Request is the payload of a spawn queue item. The session fields are set
// when the request completes.
type Request struct {
	AgentID      string    `json:"agentId"`
	Task         string    `json:"task"`
	SessionKey   string    `json:"sessionKey,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	RegisteredAt time.Time `json:"registeredAt,omitzero"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	Error        string    `json:"error,omitempty"`
}

// RequestItem is a spawn queue entry.
type RequestItem = queue.Item[Request]

// Session is a registered agent session. It is never modified after
// creation; expiry is a timestamp comparison made by whoever reads it.
type Session struct {
	UUID         string    `json:"uuid"`
	RequestID    string    `json:"requestId"`
	AgentID      string    `json:"agentId"`
	Task         string    `json:"task"`
	SessionKey   string    `json:"sessionKey"`
	RegisteredAt time.Time `json:"registeredAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the session's TTL has elapsed at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type registry struct {
	SchemaVersion int       `json:"schema_version"`
	Sessions      []Session `json:"sessions"`
}
