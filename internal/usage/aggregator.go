package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/metrics"
)

// Aggregator records sessions into the baseline.
type Aggregator struct {
	store   docstore.Store
	costs   CostTable
	now     func() time.Time
	metrics *metrics.Metrics
	mu      *sync.Mutex
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithMetrics attaches counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func NewAggregator(store docstore.Store, costs CostTable, opts ...Option) *Aggregator {
	if costs.Tools == nil {
		costs = DefaultCostTable()
	}
	a := &Aggregator{
		store: store,
		costs: costs,
		now:   func() time.Time { return time.Now().UTC() },
		mu:    docstore.DocLock(store, BaselineKey),
	}
	for _, fn := range opts {
		fn(a)
	}
	return a
}

// Costs returns the cost table in use.
func (a *Aggregator) Costs() CostTable { return a.costs }

// LogKey returns the daily log key for day.
func LogKey(day time.Time) string {
	return LogPrefix + day.UTC().Format(dayLayout)
}

// RecordSession appends the session to its daily log and folds it into the
// baseline. Recording the same session twice counts it twice; callers that
// may retry go through the Collector.
func (a *Aggregator) RecordSession(ctx context.Context, sessionID, agentID string, stats SessionStats) (*SessionRecord, error) {
	return a.record(ctx, sessionID, agentID, stats, false)
}

// recordReport is RecordSession for a report that may be retried after a
// failed baseline write: the daily log keeps a single record per session.
func (a *Aggregator) recordReport(ctx context.Context, sessionID, agentID string, stats SessionStats) (*SessionRecord, error) {
	return a.record(ctx, sessionID, agentID, stats, true)
}

func (a *Aggregator) record(ctx context.Context, sessionID, agentID string, stats SessionStats, onceInLog bool) (*SessionRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	agentID = strings.TrimSpace(agentID)
	if sessionID == "" || agentID == "" {
		return nil, fmt.Errorf("session id and agent id are required")
	}
	if stats.InputTokens < 0 || stats.OutputTokens < 0 {
		return nil, fmt.Errorf("session %s: negative token counts", sessionID)
	}

	now := a.now()
	endedAt := stats.EndedAt
	if endedAt.IsZero() {
		endedAt = now
	}
	rec := SessionRecord{
		SessionID:    sessionID,
		AgentID:      agentID,
		InputTokens:  stats.InputTokens,
		OutputTokens: stats.OutputTokens,
		TotalTokens:  stats.InputTokens + stats.OutputTokens,
		ToolCalls:    stats.ToolCalls,
		ToolTokens:   a.costs.ToolTokens(stats.ToolCalls),
		RecordedAt:   now,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	logged := false
	if onceInLog {
		prior, err := a.DailyLog(ctx, endedAt)
		if err != nil {
			return nil, fmt.Errorf("reading usage log: %w", err)
		}
		for _, p := range prior {
			if p.SessionID == sessionID {
				logged = true
				break
			}
		}
	}
	if !logged {
		if err := docstore.Append(ctx, a.store, LogKey(endedAt), rec); err != nil {
			return nil, fmt.Errorf("appending usage log: %w", err)
		}
	}

	b, corrupt, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	b.apply(rec, endedAt, a.costs)
	b.UpdatedAt = now
	if corrupt != nil {
		if _, err := docstore.Quarantine(ctx, a.store, BaselineKey, corrupt); err != nil {
			return nil, err
		}
	}
	if err := docstore.Save(ctx, a.store, BaselineKey, b); err != nil {
		return nil, err
	}
	a.metrics.SessionRecorded(agentID)
	debug.LogKV("usage", "session recorded", "session", sessionID, "agent", agentID,
		"total_tokens", rec.TotalTokens, "tool_tokens", rec.ToolTokens)
	return &rec, nil
}

// Baseline returns the current baseline; a missing or corrupt document is
// an empty baseline.
func (a *Aggregator) Baseline(ctx context.Context) (*Baseline, error) {
	b, _, err := a.load(ctx)
	return b, err
}

// GetBudgetStatus classifies agentID's cumulative total_tokens against
// dailyLimit. It is unknown when the agent has no baseline entry.
func (a *Aggregator) GetBudgetStatus(ctx context.Context, agentID string, dailyLimit int64) (BudgetStatus, error) {
	b, err := a.Baseline(ctx)
	if err != nil {
		return BudgetUnknown, err
	}
	return BudgetFor(b, agentID, dailyLimit), nil
}

// BudgetFor is GetBudgetStatus over an already loaded baseline.
func BudgetFor(b *Baseline, agentID string, dailyLimit int64) BudgetStatus {
	if b == nil {
		return BudgetUnknown
	}
	ag, ok := b.Agents[agentID]
	if !ok || ag == nil {
		return BudgetUnknown
	}
	return Level(ag.TotalTokens, dailyLimit)
}

// DailyLog returns the records logged for day. Undecodable lines are
// skipped.
func (a *Aggregator) DailyLog(ctx context.Context, day time.Time) ([]SessionRecord, error) {
	raw, err := docstore.ReadRecords(ctx, a.store, LogKey(day))
	if err != nil {
		return nil, err
	}
	out := make([]SessionRecord, 0, len(raw))
	for _, r := range raw {
		var rec SessionRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			debug.LogKV("usage", "skipping undecodable log record", "day", day.Format(dayLayout), "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Aggregator) load(ctx context.Context) (*Baseline, []byte, error) {
	doc, err := a.store.Read(ctx, BaselineKey)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return NewBaseline(), nil, nil
		}
		return nil, nil, err
	}
	b := NewBaseline()
	if err := docstore.Decode(doc, b); err != nil {
		a.metrics.CorruptDocument("usage")
		debug.Warn("usage", "baseline unreadable, starting from empty", "key", BaselineKey, "error", err)
		return NewBaseline(), doc.Data, nil
	}
	b.normalize()
	return b, nil, nil
}
