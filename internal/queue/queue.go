// Package queue layers append/claim/complete semantics over a single
// document of the docstore.
//
// Items are never removed; they only change status. Every mutation re-reads
// the whole document, edits it and writes it back. Within one process the
// read-modify-write is serialized by a mutex shared by every Queue value
// opened on the same store and key. Across processes the only
// protection is the status precondition of Transition: a writer whose view
// of an item's status is stale gets a ConflictError instead of silently
// overwriting the newer state. Fields not guarded by that precondition (for
// example the payload of a different item written concurrently) can still
// be lost when two processes write the same document at the same time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/docstore"
)

// SchemaVersion is written into every queue document.
const SchemaVersion = 1

// Status is an item's lifecycle state. Each queue defines its own values.
type Status string

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("queue item not found")
	// ErrConflict matches every ConflictError.
	ErrConflict = errors.New("queue item status conflict")
)

// ConflictError reports a failed status precondition. The document was not
// written; the caller must re-read before deciding to retry.
type ConflictError struct {
	Queue    string
	ID       string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("queue %s: item %s is %q, expected %q", e.Queue, e.ID, e.Actual, e.Expected)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Item is the envelope shared by every queue.
type Item[T any] struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	Attempts  int       `json:"attempts,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Payload   T         `json:"payload"`
}

type document[T any] struct {
	SchemaVersion int       `json:"schema_version"`
	Items         []Item[T] `json:"items"`
}

// Queue is a named queue of items with payload type T.
type Queue[T any] struct {
	store docstore.Store
	key   string
	now   func() time.Time
	mu    *sync.Mutex
}

// Option customizes a Queue.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[T any](store docstore.Store, key string, opts ...Option) *Queue[T] {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, fn := range opts {
		fn(&o)
	}
	return &Queue[T]{store: store, key: key, now: o.now, mu: docstore.DocLock(store, key)}
}

// Key returns the document key backing the queue.
func (q *Queue[T]) Key() string {
	return q.key
}

// load reads the queue document. A corrupt document is reported as empty
// and its raw bytes are returned so a subsequent write can quarantine them.
func (q *Queue[T]) load(ctx context.Context) (*document[T], []byte, error) {
	doc, err := q.store.Read(ctx, q.key)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return &document[T]{SchemaVersion: SchemaVersion}, nil, nil
		}
		return nil, nil, err
	}
	var d document[T]
	if err := docstore.Decode(doc, &d); err != nil {
		debug.LogKV("queue", "corrupt queue document treated as empty", "queue", q.key, "error", err)
		return &document[T]{SchemaVersion: SchemaVersion}, doc.Data, nil
	}
	if d.SchemaVersion == 0 {
		d.SchemaVersion = SchemaVersion
	}
	return &d, nil, nil
}

func (q *Queue[T]) save(ctx context.Context, d *document[T], corrupt []byte) error {
	if corrupt != nil {
		if _, err := docstore.Quarantine(ctx, q.store, q.key, corrupt); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue %s: %w", q.key, err)
	}
	return q.store.Write(ctx, q.key, data)
}

// Enqueue appends an item unless one with the same id already exists, in
// which case it does nothing and reports added=false.
func (q *Queue[T]) Enqueue(ctx context.Context, id string, status Status, payload T) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("queue %s: empty item id", q.key)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	d, corrupt, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	for _, it := range d.Items {
		if it.ID == id {
			return false, nil
		}
	}
	now := q.now()
	d.Items = append(d.Items, Item[T]{
		ID:        id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		Payload:   payload,
	})
	if err := q.save(ctx, d, corrupt); err != nil {
		return false, err
	}
	debug.LogKV("queue", "enqueued", "queue", q.key, "id", id, "status", status)
	return true, nil
}

// List returns every item in document order.
func (q *Queue[T]) List(ctx context.Context) ([]Item[T], error) {
	d, _, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	return d.Items, nil
}

// ListByStatus returns the items currently in status, in document order.
func (q *Queue[T]) ListByStatus(ctx context.Context, status Status) ([]Item[T], error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Item[T]
	for _, it := range items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out, nil
}

// Get returns one item by id.
func (q *Queue[T]) Get(ctx context.Context, id string) (*Item[T], error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("queue %s: %s: %w", q.key, id, ErrNotFound)
}

// Counts returns the number of items per status.
func (q *Queue[T]) Counts(ctx context.Context) (map[Status]int, error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int)
	for _, it := range items {
		counts[it.Status]++
	}
	return counts, nil
}

// Mutation is applied to an item during Transition. It may edit the
// payload and the envelope's Attempts/LastError; status and id are owned by
// Transition.
type Mutation[T any] func(it *Item[T]) error

// Transition moves item id from status from to status to, applying patch
// (which may be nil) in between. When the item's current status differs
// from from it returns a ConflictError and writes nothing. A patch error
// also aborts without writing.
func (q *Queue[T]) Transition(ctx context.Context, id string, from, to Status, patch Mutation[T]) (*Item[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, corrupt, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range d.Items {
		if d.Items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("queue %s: %s: %w", q.key, id, ErrNotFound)
	}
	it := d.Items[idx]
	if it.Status != from {
		debug.LogKV("queue", "transition conflict", "queue", q.key, "id", id, "expected", from, "actual", it.Status)
		return nil, &ConflictError{Queue: q.key, ID: id, Expected: from, Actual: it.Status}
	}
	if patch != nil {
		if err := patch(&it); err != nil {
			return nil, err
		}
	}
	it.ID = id
	it.Status = to
	it.UpdatedAt = q.now()
	d.Items[idx] = it

	if err := q.save(ctx, d, corrupt); err != nil {
		return nil, err
	}
	debug.LogKV("queue", "transition", "queue", q.key, "id", id, "from", from, "to", to)
	return &it, nil
}
