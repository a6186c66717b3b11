package spawn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/hexid"
	"github.com/agusx1211/switchyard/internal/metrics"
	"github.com/agusx1211/switchyard/internal/queue"
)

// Options configures a Manager.
type Options struct {
	TTL     time.Duration
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Manager owns the spawn request queue and the session registry.
type Manager struct {
	store    docstore.Store
	requests *queue.Queue[Request]
	ttl      time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	regMu    *sync.Mutex
}

func NewManager(store docstore.Store, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:    store,
		requests: queue.New[Request](store, RequestsKey, queue.WithClock(opts.Now)),
		ttl:      opts.TTL,
		now:      opts.Now,
		metrics:  opts.Metrics,
		regMu:    docstore.DocLock(store, SessionsKey),
	}
}

// TTL returns the session lifetime applied at registration.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Submit enqueues a pending request and returns its id.
func (m *Manager) Submit(ctx context.Context, agentID, task string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("task is required")
	}
	id := hexid.Prefixed("r")
	if _, err := m.requests.Enqueue(ctx, id, StatusPending, Request{AgentID: agentID, Task: task}); err != nil {
		return "", err
	}
	m.metrics.SpawnTransition(string(StatusPending))
	debug.LogKV("spawn", "request submitted", "id", id, "agent", agentID)
	return id, nil
}

// Get returns one request.
func (m *Manager) Get(ctx context.Context, id string) (*RequestItem, error) {
	return m.requests.Get(ctx, id)
}

// List returns every request in submission order.
func (m *Manager) List(ctx context.Context) ([]RequestItem, error) {
	return m.requests.List(ctx)
}

// ListPending returns requests waiting for an orchestrator.
func (m *Manager) ListPending(ctx context.Context) ([]RequestItem, error) {
	return m.requests.ListByStatus(ctx, StatusPending)
}

// Counts returns the number of requests per status.
func (m *Manager) Counts(ctx context.Context) (map[queue.Status]int, error) {
	return m.requests.Counts(ctx)
}

// Claim moves a pending request to processing. A ConflictError means some
// other orchestrator claimed it first.
func (m *Manager) Claim(ctx context.Context, id string) (*RequestItem, error) {
	it, err := m.requests.Transition(ctx, id, StatusPending, StatusProcessing, nil)
	if err != nil {
		m.noteConflict(err)
		return nil, err
	}
	m.metrics.SpawnTransition(string(StatusProcessing))
	debug.LogKV("spawn", "request claimed", "id", id, "agent", it.Payload.AgentID)
	return it, nil
}

// RegisterSession completes a pending or processing request with
// sessionKey and records a new Session for it.
//
// The request transition is the exactly-once gate: of two concurrent calls
// for the same request only one passes it, the other gets
// ErrAlreadyCompleted or a ConflictError. When the registry write fails
// after the transition succeeded, the completed request and the session are
// still returned together with the error; Repair restores the entry.
func (m *Manager) RegisterSession(ctx context.Context, requestID, sessionKey string) (*Session, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, fmt.Errorf("request %s: session key is required", requestID)
	}
	it, err := m.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(it.Status) {
		return nil, fmt.Errorf("request %s is %s: %w", requestID, it.Status, ErrAlreadyCompleted)
	}

	now := m.now()
	sess := Session{
		UUID:         uuid.NewString(),
		RequestID:    requestID,
		AgentID:      it.Payload.AgentID,
		Task:         it.Payload.Task,
		SessionKey:   sessionKey,
		RegisteredAt: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	_, err = m.requests.Transition(ctx, requestID, it.Status, StatusCompleted, func(item *RequestItem) error {
		item.Payload.SessionKey = sess.SessionKey
		item.Payload.SessionID = sess.UUID
		item.Payload.RegisteredAt = sess.RegisteredAt
		item.Payload.ExpiresAt = sess.ExpiresAt
		item.Payload.Error = ""
		return nil
	})
	if err != nil {
		m.noteConflict(err)
		var ce *queue.ConflictError
		if errors.As(err, &ce) && IsTerminal(ce.Actual) {
			return nil, fmt.Errorf("request %s: %w: %w", requestID, ErrAlreadyCompleted, err)
		}
		return nil, err
	}
	m.metrics.SpawnTransition(string(StatusCompleted))
	debug.LogKV("spawn", "session registered", "id", requestID, "agent", sess.AgentID, "session", sessionKey, "uuid", sess.UUID)

	if _, err := m.addSession(ctx, sess); err != nil {
		debug.Warn("spawn", "session registry write failed; run repair", "id", requestID, "error", err)
		return &sess, fmt.Errorf("recording session for %s: %w", requestID, err)
	}
	return &sess, nil
}

// Fail moves a pending or processing request to error with reason.
func (m *Manager) Fail(ctx context.Context, id, reason string) (*RequestItem, error) {
	it, err := m.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(it.Status) {
		return nil, fmt.Errorf("request %s is %s: %w", id, it.Status, ErrAlreadyCompleted)
	}
	out, err := m.requests.Transition(ctx, id, it.Status, StatusError, func(item *RequestItem) error {
		item.Payload.Error = reason
		item.LastError = reason
		return nil
	})
	if err != nil {
		m.noteConflict(err)
		return nil, err
	}
	m.metrics.SpawnTransition(string(StatusError))
	debug.LogKV("spawn", "request failed", "id", id, "reason", reason)
	return out, nil
}

// Sessions returns every registered session, oldest first.
func (m *Manager) Sessions(ctx context.Context) ([]Session, error) {
	reg, _, err := m.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Sessions, nil
}

// ActiveSessions returns the sessions not yet expired at now. Nothing is
// deleted; expired sessions simply stop being returned.
func (m *Manager) ActiveSessions(ctx context.Context, now time.Time) ([]Session, error) {
	all, err := m.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, s := range all {
		if !s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// LookupSession returns the most recently registered session with
// sessionKey.
func (m *Manager) LookupSession(ctx context.Context, sessionKey string) (*Session, error) {
	all, err := m.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].SessionKey == sessionKey {
			s := all[i]
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", sessionKey, ErrSessionNotFound)
}

// Repair appends registry entries for completed requests whose session
// append never happened. It returns the number of sessions restored.
func (m *Manager) Repair(ctx context.Context) (int, error) {
	completed, err := m.requests.ListByStatus(ctx, StatusCompleted)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, it := range completed {
		p := it.Payload
		if p.SessionID == "" || p.SessionKey == "" {
			debug.Warn("spawn", "completed request carries no session", "id", it.ID)
			continue
		}
		registeredAt := p.RegisteredAt
		if registeredAt.IsZero() {
			registeredAt = p.ExpiresAt.Add(-m.ttl)
		}
		added, err := m.addSession(ctx, Session{
			UUID:         p.SessionID,
			RequestID:    it.ID,
			AgentID:      p.AgentID,
			Task:         p.Task,
			SessionKey:   p.SessionKey,
			RegisteredAt: registeredAt,
			ExpiresAt:    p.ExpiresAt,
		})
		if err != nil {
			return restored, err
		}
		if added {
			restored++
			debug.LogKV("spawn", "session restored", "id", it.ID, "uuid", p.SessionID)
		}
	}
	return restored, nil
}

// addSession appends sess unless its request already has an entry.
func (m *Manager) addSession(ctx context.Context, sess Session) (bool, error) {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	reg, corrupt, err := m.loadRegistry(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range reg.Sessions {
		if s.RequestID == sess.RequestID {
			return false, nil
		}
	}
	reg.Sessions = append(reg.Sessions, sess)
	sort.SliceStable(reg.Sessions, func(i, j int) bool {
		return reg.Sessions[i].RegisteredAt.Before(reg.Sessions[j].RegisteredAt)
	})
	if corrupt != nil {
		if _, err := docstore.Quarantine(ctx, m.store, SessionsKey, corrupt); err != nil {
			return false, err
		}
	}
	if err := docstore.Save(ctx, m.store, SessionsKey, reg); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) loadRegistry(ctx context.Context) (*registry, []byte, error) {
	reg := &registry{SchemaVersion: 1}
	doc, err := m.store.Read(ctx, SessionsKey)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return reg, nil, nil
		}
		return nil, nil, err
	}
	if err := docstore.Decode(doc, reg); err != nil {
		m.metrics.CorruptDocument("spawn")
		debug.Warn("spawn", "session registry unreadable, treating as empty", "error", err)
		return &registry{SchemaVersion: 1}, doc.Data, nil
	}
	return reg, nil, nil
}

func (m *Manager) noteConflict(err error) {
	if errors.Is(err, queue.ErrConflict) {
		m.metrics.Conflict(RequestsKey)
	}
}
