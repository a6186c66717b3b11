// Package usage aggregates per-agent and per-tool token counters from
// completed sessions into a running baseline and evaluates budgets.
//
// The Aggregator is the only writer of the baseline document. Every derived
// value (averages, the summary roll-up) is recomputed from the counters on
// each write, so replaying sessions in any order converges on the same
// summary.
package usage

import (
	"fmt"
	"strings"
	"time"
)

const (
	// BaselineKey is the cumulative usage document.
	BaselineKey = "usage/baseline"
	// LogPrefix prefixes the append-only per-day session logs.
	LogPrefix = "usage/log/"
	// InboxKey is the queue of completion reports awaiting recording.
	InboxKey = "usage/inbox"

	dayLayout = "2006-01-02"
)

// BudgetStatus classifies token consumption against a limit.
type BudgetStatus int

const (
	BudgetOK BudgetStatus = iota
	BudgetWarning
	BudgetCritical
	BudgetExceeded
	BudgetUnknown
)

// Thresholds are percentages of the limit, inclusive.
const (
	WarningPct  = 50
	CriticalPct = 80
	ExceededPct = 100
)

func (s BudgetStatus) String() string {
	switch s {
	case BudgetOK:
		return "ok"
	case BudgetWarning:
		return "warning"
	case BudgetCritical:
		return "critical"
	case BudgetExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

func (s BudgetStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BudgetStatus) UnmarshalText(text []byte) error {
	v, err := ParseBudgetStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseBudgetStatus is the inverse of String.
func ParseBudgetStatus(v string) (BudgetStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "ok":
		return BudgetOK, nil
	case "warning":
		return BudgetWarning, nil
	case "critical":
		return BudgetCritical, nil
	case "exceeded":
		return BudgetExceeded, nil
	case "unknown":
		return BudgetUnknown, nil
	}
	return BudgetUnknown, fmt.Errorf("unknown budget status %q", v)
}

// Level classifies used against limit with integer arithmetic, so exactly
// 50% is warning while 49.9% stays ok. A non-positive limit is unknown.
func Level(used, limit int64) BudgetStatus {
	if limit <= 0 {
		return BudgetUnknown
	}
	switch pct := used * 100; {
	case pct >= limit*ExceededPct:
		return BudgetExceeded
	case pct >= limit*CriticalPct:
		return BudgetCritical
	case pct >= limit*WarningPct:
		return BudgetWarning
	default:
		return BudgetOK
	}
}

// SessionStats is what a finished session reports.
type SessionStats struct {
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	ToolCalls    map[string]int64 `json:"tool_calls,omitempty"`
	EndedAt      time.Time        `json:"ended_at,omitzero"`
}

// SessionRecord is the immutable log entry written for each recorded
// session.
type SessionRecord struct {
	SessionID    string           `json:"session_id"`
	AgentID      string           `json:"agent_id"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	TotalTokens  int64            `json:"total_tokens"`
	ToolCalls    map[string]int64 `json:"tool_calls,omitempty"`
	ToolTokens   int64            `json:"tool_tokens"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

// AgentUsage holds one agent's cumulative counters.
type AgentUsage struct {
	TotalSessions  int64     `json:"total_sessions"`
	TotalTokens    int64     `json:"total_tokens"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	ToolCalls      int64     `json:"tool_calls"`
	ToolTokens     int64     `json:"tool_tokens"`
	AvgSessionCost float64   `json:"avg_session_cost"`
	LastActive     time.Time `json:"last_active"`
}

// ToolUsage holds one tool's cumulative counters.
type ToolUsage struct {
	Invocations int64            `json:"invocations"`
	TotalTokens int64            `json:"total_tokens"`
	ByAgent     map[string]int64 `json:"by_agent"`
}

// Summary is the fleet-wide roll-up, always derived from Agents.
type Summary struct {
	TotalSessions       int64   `json:"total_sessions"`
	TotalTokens         int64   `json:"total_tokens"`
	TotalToolCalls      int64   `json:"total_tool_calls"`
	AvgTokensPerSession float64 `json:"avg_tokens_per_session"`
}

// Baseline is the cumulative usage document.
type Baseline struct {
	SchemaVersion int                    `json:"schema_version"`
	Agents        map[string]*AgentUsage `json:"agents"`
	Tools         map[string]*ToolUsage  `json:"tools"`
	Summary       Summary                `json:"summary"`
	UpdatedAt     time.Time              `json:"updated_at,omitzero"`
}

// NewBaseline returns an empty baseline.
func NewBaseline() *Baseline {
	return &Baseline{
		SchemaVersion: 1,
		Agents:        make(map[string]*AgentUsage),
		Tools:         make(map[string]*ToolUsage),
	}
}

func (b *Baseline) normalize() {
	if b.SchemaVersion == 0 {
		b.SchemaVersion = 1
	}
	if b.Agents == nil {
		b.Agents = make(map[string]*AgentUsage)
	}
	if b.Tools == nil {
		b.Tools = make(map[string]*ToolUsage)
	}
	for id, a := range b.Agents {
		if a == nil {
			delete(b.Agents, id)
		}
	}
	for name, t := range b.Tools {
		if t == nil {
			delete(b.Tools, name)
			continue
		}
		if t.ByAgent == nil {
			t.ByAgent = make(map[string]int64)
		}
	}
}

// apply folds one session record into the counters and recomputes every
// derived value.
func (b *Baseline) apply(rec SessionRecord, endedAt time.Time, costs CostTable) {
	b.normalize()
	a := b.Agents[rec.AgentID]
	if a == nil {
		a = &AgentUsage{}
		b.Agents[rec.AgentID] = a
	}
	a.TotalSessions++
	a.InputTokens += rec.InputTokens
	a.OutputTokens += rec.OutputTokens
	a.TotalTokens += rec.TotalTokens
	a.ToolTokens += rec.ToolTokens
	if endedAt.After(a.LastActive) {
		a.LastActive = endedAt
	}

	for tool, n := range rec.ToolCalls {
		if n <= 0 {
			continue
		}
		tool = normalizeTool(tool)
		t := b.Tools[tool]
		if t == nil {
			t = &ToolUsage{ByAgent: make(map[string]int64)}
			b.Tools[tool] = t
		}
		t.Invocations += n
		t.TotalTokens += n * costs.Cost(tool)
		a.ToolCalls += n
		t.ByAgent[rec.AgentID] += n
	}
	b.recompute()
}

// recompute derives the averages and the summary from the raw counters.
func (b *Baseline) recompute() {
	var s Summary
	for _, a := range b.Agents {
		a.AvgSessionCost = 0
		if a.TotalSessions > 0 {
			a.AvgSessionCost = float64(a.TotalTokens+a.ToolTokens) / float64(a.TotalSessions)
		}
		s.TotalSessions += a.TotalSessions
		s.TotalTokens += a.TotalTokens
		s.TotalToolCalls += a.ToolCalls
	}
	if s.TotalSessions > 0 {
		s.AvgTokensPerSession = float64(s.TotalTokens) / float64(s.TotalSessions)
	}
	b.Summary = s
}
