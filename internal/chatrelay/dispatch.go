package chatrelay

import (
	"context"
	"errors"
	"fmt"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/metrics"
	"github.com/agusx1211/switchyard/internal/queue"
)

// DefaultMaxAttempts bounds delivery retries when the dispatcher is built
// with a non-positive limit.
const DefaultMaxAttempts = 3

// Sender performs the actual delivery of a trigger to an agent session.
type Sender interface {
	Send(ctx context.Context, t ForwardTrigger) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, t ForwardTrigger) error

func (f SenderFunc) Send(ctx context.Context, t ForwardTrigger) error { return f(ctx, t) }

// Dispatcher consumes the forward queue: it claims pending items with the
// status precondition, delivers them and records the outcome.
type Dispatcher struct {
	forward     *queue.Queue[ForwardTrigger]
	sender      Sender
	maxAttempts int
	metrics     *metrics.Metrics
}

// DispatchResult summarizes one dispatcher pass.
type DispatchResult struct {
	Delivered int
	Retried   int
	Failed    int
	Conflicts int
}

func NewDispatcher(forward *queue.Queue[ForwardTrigger], sender Sender, maxAttempts int, m *metrics.Metrics) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{forward: forward, sender: sender, maxAttempts: maxAttempts, metrics: m}
}

// Poll delivers every item currently pending on either lane. Failures are
// scoped to one item.
func (d *Dispatcher) Poll(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	items, err := d.forward.List(ctx)
	if err != nil {
		return res, fmt.Errorf("reading forward queue: %w", err)
	}
	for _, it := range items {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		l, ok := laneFor(it.Status)
		if !ok || it.Status != l.pending {
			continue
		}
		d.dispatch(ctx, it, l, &res)
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, it ForwardItem, l lane, res *DispatchResult) {
	claimed, err := d.forward.Transition(ctx, it.ID, l.pending, l.inFlight, nil)
	if err != nil {
		if errors.Is(err, queue.ErrConflict) {
			res.Conflicts++
			d.metrics.Conflict(d.forward.Key())
			debug.LogKV("dispatch", "claim lost", "id", it.ID, "error", err)
			return
		}
		debug.Warn("dispatch", "claim failed", "id", it.ID, "error", err)
		return
	}

	sendErr := d.sender.Send(ctx, claimed.Payload)
	if sendErr == nil {
		if _, err := d.forward.Transition(ctx, it.ID, l.inFlight, l.done, nil); err != nil {
			// Delivered but not recorded; an operator can Ack it. Leaving it
			// in flight keeps other dispatchers from sending it again.
			debug.Warn("dispatch", "delivered but completion not recorded", "id", it.ID, "error", err)
			return
		}
		res.Delivered++
		d.metrics.Delivery("delivered")
		debug.LogKV("dispatch", "delivered", "id", it.ID, "agent", claimed.Payload.AgentID, "status", l.done)
		return
	}

	next := l.pending
	if claimed.Attempts+1 >= d.maxAttempts {
		next = StatusFailed
	}
	_, err = d.forward.Transition(ctx, it.ID, l.inFlight, next, func(item *ForwardItem) error {
		item.Attempts++
		item.LastError = sendErr.Error()
		return nil
	})
	if err != nil {
		debug.Warn("dispatch", "recording send failure", "id", it.ID, "error", err)
		return
	}
	if next == StatusFailed {
		res.Failed++
		d.metrics.Delivery("failed")
		debug.Warn("dispatch", "giving up on trigger", "id", it.ID, "attempts", claimed.Attempts+1, "error", sendErr)
		return
	}
	res.Retried++
	d.metrics.Delivery("retry")
	debug.LogKV("dispatch", "send failed, will retry", "id", it.ID, "attempt", claimed.Attempts+1, "error", sendErr)
}

// Ack marks an item delivered on behalf of an external sender. It accepts
// items that are pending or in flight and fails with a ConflictError when
// the item is already terminal or changes underneath the call.
func Ack(ctx context.Context, forward *queue.Queue[ForwardTrigger], id string) (*ForwardItem, error) {
	it, err := forward.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l, ok := laneFor(it.Status)
	if !ok || IsTerminal(it.Status) {
		return nil, &queue.ConflictError{Queue: forward.Key(), ID: id, Expected: l.pending, Actual: it.Status}
	}
	return forward.Transition(ctx, id, it.Status, l.done, nil)
}

// Requeue returns a failed item to the pending status of its lane and
// clears its attempt count.
func Requeue(ctx context.Context, forward *queue.Queue[ForwardTrigger], id string, lanePending queue.Status) (*ForwardItem, error) {
	if l, ok := laneFor(lanePending); !ok || l.pending != lanePending {
		return nil, fmt.Errorf("%q is not a pending forward status", lanePending)
	}
	return forward.Transition(ctx, id, StatusFailed, lanePending, func(it *ForwardItem) error {
		it.Attempts = 0
		it.LastError = ""
		return nil
	})
}
