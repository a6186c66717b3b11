package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/docstore"
	"github.com/agusx1211/switchyard/internal/metrics"
	"github.com/agusx1211/switchyard/internal/queue"
)

// Inbox statuses.
const (
	InboxPending   queue.Status = "pending"
	InboxRecording queue.Status = "recording"
	InboxRecorded  queue.Status = "recorded"
)

// CompletionReport is what a finished session submits for recording.
type CompletionReport struct {
	SessionID string       `json:"sessionId"`
	AgentID   string       `json:"agentId"`
	Stats     SessionStats `json:"stats"`
}

// NewInbox returns the completion report queue over store.
func NewInbox(store docstore.Store) *queue.Queue[CompletionReport] {
	return queue.New[CompletionReport](store, InboxKey)
}

// Submit enqueues a completion report keyed by its session id. Submitting
// the same session again is a no-op and returns added=false.
func Submit(ctx context.Context, inbox *queue.Queue[CompletionReport], report CompletionReport) (bool, error) {
	report.SessionID = strings.TrimSpace(report.SessionID)
	report.AgentID = strings.TrimSpace(report.AgentID)
	if report.SessionID == "" || report.AgentID == "" {
		return false, fmt.Errorf("session id and agent id are required")
	}
	if report.Stats.InputTokens < 0 || report.Stats.OutputTokens < 0 {
		return false, fmt.Errorf("session %s: negative token counts", report.SessionID)
	}
	return inbox.Enqueue(ctx, report.SessionID, InboxPending, report)
}

// Collector drains the inbox into an Aggregator. A report is claimed with
// the status precondition before it is recorded, so two collectors never
// record the same report. A collector that dies between recording and
// marking leaves the report in recording; it is not recorded again.
type Collector struct {
	inbox   *queue.Queue[CompletionReport]
	agg     *Aggregator
	metrics *metrics.Metrics
}

// CollectResult summarizes one collector pass.
type CollectResult struct {
	Recorded  int
	Failed    int
	Conflicts int
}

func NewCollector(inbox *queue.Queue[CompletionReport], agg *Aggregator, m *metrics.Metrics) *Collector {
	return &Collector{inbox: inbox, agg: agg, metrics: m}
}

func (c *Collector) Poll(ctx context.Context) (CollectResult, error) {
	var res CollectResult
	pending, err := c.inbox.ListByStatus(ctx, InboxPending)
	if err != nil {
		return res, fmt.Errorf("reading usage inbox: %w", err)
	}
	for _, it := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		c.collect(ctx, it.ID, &res)
	}
	return res, nil
}

func (c *Collector) collect(ctx context.Context, id string, res *CollectResult) {
	claimed, err := c.inbox.Transition(ctx, id, InboxPending, InboxRecording, nil)
	if err != nil {
		if errors.Is(err, queue.ErrConflict) {
			res.Conflicts++
			c.metrics.Conflict(InboxKey)
			return
		}
		debug.Warn("usage", "claim failed", "id", id, "error", err)
		return
	}

	r := claimed.Payload
	if _, recErr := c.agg.recordReport(ctx, r.SessionID, r.AgentID, r.Stats); recErr != nil {
		res.Failed++
		_, err := c.inbox.Transition(ctx, id, InboxRecording, InboxPending, func(it *queue.Item[CompletionReport]) error {
			it.Attempts++
			it.LastError = recErr.Error()
			return nil
		})
		if err != nil {
			debug.Warn("usage", "releasing report after failure", "id", id, "error", err)
		}
		debug.Warn("usage", "recording session failed", "id", id, "error", recErr)
		return
	}
	if _, err := c.inbox.Transition(ctx, id, InboxRecording, InboxRecorded, nil); err != nil {
		debug.Warn("usage", "session recorded but report not marked", "id", id, "error", err)
		return
	}
	res.Recorded++
}
