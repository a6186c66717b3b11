package spawn

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/queue"
)

var t0 = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, ttl time.Duration) (*Manager, *clock, docstore.Store) {
	t.Helper()
	s, err := docstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := &clock{now: t0}
	return NewManager(s, Options{TTL: ttl, Now: c.Now}), c, s
}

// seed writes a request with a known id, the way an external submitter would.
func seed(t *testing.T, s docstore.Store, id, agent, task string) {
	t.Helper()
	q := queue.New[Request](s, RequestsKey)
	if _, err := q.Enqueue(context.Background(), id, StatusPending, Request{AgentID: agent, Task: task}); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterSessionScenario(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t, 30*time.Minute)
	seed(t, s, "r1", "scout", "find X")

	sess, err := m.RegisterSession(ctx, "r1", "sess-42")
	if err != nil {
		t.Fatalf("RegisterSession: %v", err)
	}
	if sess.AgentID != "scout" || sess.SessionKey != "sess-42" || sess.Task != "find X" || sess.RequestID != "r1" {
		t.Fatalf("session = %+v", sess)
	}
	if _, err := uuid.Parse(sess.UUID); err != nil {
		t.Fatalf("uuid %q: %v", sess.UUID, err)
	}
	if !sess.RegisteredAt.Equal(t0) || !sess.ExpiresAt.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("times = %v / %v", sess.RegisteredAt, sess.ExpiresAt)
	}

	req, err := m.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != StatusCompleted || req.Payload.SessionKey != "sess-42" || req.Payload.SessionID != sess.UUID {
		t.Fatalf("request = %+v", req)
	}

	all, _ := m.Sessions(ctx)
	if len(all) != 1 || all[0].UUID != sess.UUID {
		t.Fatalf("registry = %+v", all)
	}
}

func TestRegisterSessionGuards(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		setup   func(t *testing.T, m *Manager, s docstore.Store)
		id      string
		key     string
		wantErr error
	}{
		{
			name:    "missing request",
			setup:   func(*testing.T, *Manager, docstore.Store) {},
			id:      "nope",
			key:     "sess-1",
			wantErr: ErrNotFound,
		},
		{
			name: "already completed",
			setup: func(t *testing.T, m *Manager, s docstore.Store) {
				seed(t, s, "r1", "scout", "x")
				if _, err := m.RegisterSession(ctx, "r1", "sess-1"); err != nil {
					t.Fatal(err)
				}
			},
			id:      "r1",
			key:     "sess-2",
			wantErr: ErrAlreadyCompleted,
		},
		{
			name: "errored",
			setup: func(t *testing.T, m *Manager, s docstore.Store) {
				seed(t, s, "r1", "scout", "x")
				if _, err := m.Fail(ctx, "r1", "boom"); err != nil {
					t.Fatal(err)
				}
			},
			id:      "r1",
			key:     "sess-2",
			wantErr: ErrAlreadyCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, s := newManager(t, 0)
			tt.setup(t, m, s)
			if _, err := m.RegisterSession(ctx, tt.id, tt.key); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterSessionTwiceKeepsFirstKey(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t, 0)
	seed(t, s, "r1", "scout", "x")
	first, err := m.RegisterSession(ctx, "r1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.RegisterSession(ctx, "r1", "sess-2"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v", err)
	}
	req, _ := m.Get(ctx, "r1")
	if req.Payload.SessionKey != "sess-1" || req.Payload.SessionID != first.UUID {
		t.Fatalf("request overwritten: %+v", req.Payload)
	}
	all, _ := m.Sessions(ctx)
	if len(all) != 1 {
		t.Fatalf("sessions = %d", len(all))
	}
}

func TestRegisterSessionRejectsEmptyKey(t *testing.T) {
	m, _, s := newManager(t, 0)
	seed(t, s, "r1", "scout", "x")
	if _, err := m.RegisterSession(context.Background(), "r1", "  "); err == nil {
		t.Fatal("expected error")
	}
	req, _ := m.Get(context.Background(), "r1")
	if req.Status != StatusPending {
		t.Fatalf("status = %s", req.Status)
	}
}

func TestConcurrentRegisterSessionCompletesOnce(t *testing.T) {
	ctx := context.Background()
	s, err := docstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	seed(t, s, "r1", "scout", "x")
	// Separate managers over one store stand in for separate processes.
	a := NewManager(s, Options{})
	b := NewManager(s, Options{})

	if _, err := a.Claim(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Claim(ctx, "r1"); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("second claim err = %v", err)
	}
	if _, err := a.RegisterSession(ctx, "r1", "sess-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.RegisterSession(ctx, "r1", "sess-b"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("b err = %v", err)
	}
	all, _ := a.Sessions(ctx)
	if len(all) != 1 || all[0].SessionKey != "sess-a" {
		t.Fatalf("sessions = %+v", all)
	}
}

func TestManagersOnOneStoreKeepEverySession(t *testing.T) {
	ctx := context.Background()
	s, err := docstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	const perManager = 25
	for g := 0; g < 2; g++ {
		for i := 0; i < perManager; i++ {
			seed(t, s, fmt.Sprintf("r%d-%d", g, i), "scout", "x")
		}
	}

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		m := NewManager(s, Options{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perManager; i++ {
				id := fmt.Sprintf("r%d-%d", g, i)
				if _, err := m.RegisterSession(ctx, id, "sess-"+id); err != nil {
					t.Errorf("RegisterSession(%s): %v", id, err)
				}
			}
		}()
	}
	wg.Wait()

	all, err := NewManager(s, Options{}).Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2*perManager {
		t.Fatalf("sessions = %d, want %d", len(all), 2*perManager)
	}
}

func TestSubmitClaimFail(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, 0)

	id, err := m.Submit(ctx, "builder", "compile")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "r-") {
		t.Fatalf("id = %q", id)
	}
	pending, _ := m.ListPending(ctx)
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %+v", pending)
	}

	if _, err := m.Claim(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Claim(ctx, id); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("reclaim err = %v", err)
	}
	it, err := m.Fail(ctx, id, "launcher crashed")
	if err != nil {
		t.Fatal(err)
	}
	if it.Status != StatusError || it.Payload.Error != "launcher crashed" {
		t.Fatalf("item = %+v", it)
	}
	if _, err := m.Fail(ctx, id, "again"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second fail err = %v", err)
	}

	if _, err := m.Submit(ctx, "", "x"); err == nil {
		t.Fatal("expected error for empty agent")
	}
	if _, err := m.Submit(ctx, "scout", ""); err == nil {
		t.Fatal("expected error for empty task")
	}
}

func TestActiveSessionsExpireLazily(t *testing.T) {
	ctx := context.Background()
	m, c, s := newManager(t, time.Hour)
	seed(t, s, "r1", "scout", "a")
	seed(t, s, "r2", "builder", "b")

	if _, err := m.RegisterSession(ctx, "r1", "sess-1"); err != nil {
		t.Fatal(err)
	}
	c.Advance(30 * time.Minute)
	if _, err := m.RegisterSession(ctx, "r2", "sess-2"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		at   time.Time
		want int
	}{
		{at: t0, want: 2},
		{at: t0.Add(59 * time.Minute), want: 2},
		{at: t0.Add(time.Hour), want: 1},
		{at: t0.Add(90 * time.Minute), want: 0},
	}
	for _, tt := range tests {
		active, err := m.ActiveSessions(ctx, tt.at)
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != tt.want {
			t.Fatalf("ActiveSessions(%v) = %d, want %d", tt.at, len(active), tt.want)
		}
	}

	all, _ := m.Sessions(ctx)
	if len(all) != 2 {
		t.Fatalf("expired sessions were removed: %d", len(all))
	}
}

func TestLookupSession(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t, 0)
	seed(t, s, "r1", "scout", "a")
	if _, err := m.RegisterSession(ctx, "r1", "sess-1"); err != nil {
		t.Fatal(err)
	}
	got, err := m.LookupSession(ctx, "sess-1")
	if err != nil || got.RequestID != "r1" {
		t.Fatalf("LookupSession = %+v, %v", got, err)
	}
	if _, err := m.LookupSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRepairRestoresLostRegistryEntries(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t, time.Hour)
	seed(t, s, "r1", "scout", "a")
	seed(t, s, "r2", "builder", "b")
	s1, _ := m.RegisterSession(ctx, "r1", "sess-1")
	s2, _ := m.RegisterSession(ctx, "r2", "sess-2")

	// Lose the registry, as if the append after the transition never landed.
	if err := s.Write(ctx, SessionsKey, []byte(`{"schema_version":1,"sessions":[]}`)); err != nil {
		t.Fatal(err)
	}
	n, err := m.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("restored = %d, want 2", n)
	}
	all, _ := m.Sessions(ctx)
	if len(all) != 2 || all[0].UUID != s1.UUID || all[1].UUID != s2.UUID {
		t.Fatalf("sessions = %+v", all)
	}
	if !all[0].ExpiresAt.Equal(s1.ExpiresAt) {
		t.Fatalf("expiresAt = %v, want %v", all[0].ExpiresAt, s1.ExpiresAt)
	}

	n, _ = m.Repair(ctx)
	if n != 0 {
		t.Fatalf("second repair restored %d", n)
	}
}

func TestCorruptRegistryIsQuarantined(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t, 0)
	if err := s.Write(ctx, SessionsKey, []byte(`{"sessions": [`)); err != nil {
		t.Fatal(err)
	}
	all, err := m.Sessions(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("Sessions = %v, %v", all, err)
	}
	seed(t, s, "r1", "scout", "a")
	if _, err := m.RegisterSession(ctx, "r1", "sess-1"); err != nil {
		t.Fatal(err)
	}
	keys, _ := s.List(ctx, "spawn/")
	var quarantined int
	for _, k := range keys {
		if docstore.IsQuarantineKey(k) {
			quarantined++
		}
	}
	if quarantined != 1 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestSessionExpired(t *testing.T) {
	s := Session{ExpiresAt: t0}
	if s.Expired(t0.Add(-time.Nanosecond)) {
		t.Fatal("expired before expiresAt")
	}
	if !s.Expired(t0) {
		t.Fatal("not expired at expiresAt")
	}
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	m, _, s := newManager(t, 0)
	seed(t, s, "r1", "scout", "good")
	seed(t, s, "r2", "builder", "bad")

	launcher := LauncherFunc(func(_ context.Context, id string, req Request) (string, error) {
		if req.Task == "bad" {
			return "", errors.New("no capacity")
		}
		return "sess-" + id, nil
	})
	res, err := NewProcessor(m, launcher).Poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Registered != 1 || res.Failed != 1 {
		t.Fatalf("res = %+v", res)
	}

	r1, _ := m.Get(ctx, "r1")
	if r1.Status != StatusCompleted || r1.Payload.SessionKey != "sess-r1" {
		t.Fatalf("r1 = %+v", r1)
	}
	r2, _ := m.Get(ctx, "r2")
	if r2.Status != StatusError || r2.Payload.Error != "no capacity" {
		t.Fatalf("r2 = %+v", r2)
	}

	res, _ = NewProcessor(m, launcher).Poll(ctx)
	if res != (ProcessResult{}) {
		t.Fatalf("second pass = %+v", res)
	}
}

func TestExecLauncherReadsSessionKey(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	l := &ExecLauncher{
		Command: []string{sh, "-c", `echo; echo "sess-$1-$2"`, "sh", "{id}", "{agent}"},
		Timeout: 5 * time.Second,
	}
	key, err := l.Launch(context.Background(), "r1", Request{AgentID: "scout"})
	if err != nil {
		t.Fatal(err)
	}
	if key != "sess-r1-scout" {
		t.Fatalf("key = %q", key)
	}

	empty := &ExecLauncher{Command: []string{sh, "-c", "true"}}
	if _, err := empty.Launch(context.Background(), "r1", Request{}); err == nil {
		t.Fatal("expected error for empty stdout")
	}
}
