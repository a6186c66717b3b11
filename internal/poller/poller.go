// Package poller runs the pipelines as named, periodically scheduled
// tasks.
//
// Each task runs in singleton mode: a run that is due while the previous
// one is still in progress is skipped, never overlapped. Shutdown stops
// scheduling and waits for in-flight runs. Nudges (from file watchers or
// callers) trigger an immediate run; polling stays the source of truth, so
// a lost nudge only delays work until the next interval.
package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/metrics"
)

// DefaultStopTimeout bounds how long Shutdown waits for in-flight runs.
const DefaultStopTimeout = 30 * time.Second

// Task is one polling pipeline.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Poller schedules tasks.
type Poller struct {
	sched   gocron.Scheduler
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]gocron.Job
	nudges  map[string]chan struct{}
	started bool
	stopped bool
	wg      sync.WaitGroup
	watcher *watcher
}

func New(m *metrics.Metrics, stopTimeout time.Duration) (*Poller, error) {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithStopTimeout(stopTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		sched:   sched,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]gocron.Job),
		nudges:  make(map[string]chan struct{}),
	}, nil
}

// Add registers a task before Start. It runs once as soon as the poller
// starts and then every Interval.
func (p *Poller) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("poller: task needs a name and a run function")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("poller: task %s: interval must be positive", t.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return fmt.Errorf("poller: cannot add %s after start", t.Name)
	}
	if _, dup := p.jobs[t.Name]; dup {
		return fmt.Errorf("poller: duplicate task %s", t.Name)
	}

	job, err := p.sched.NewJob(
		gocron.DurationJob(t.Interval),
		gocron.NewTask(func() { p.runOnce(t) }),
		gocron.WithName(t.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("poller: scheduling %s: %w", t.Name, err)
	}
	p.jobs[t.Name] = job
	p.nudges[t.Name] = make(chan struct{}, 1)
	debug.LogKV("poller", "task added", "task", t.Name, "interval", t.Interval)
	return nil
}

// Tasks returns the registered task names, sorted.
func (p *Poller) Tasks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.jobs))
	for name := range p.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Poller) runOnce(t Task) {
	if p.ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := t.Run(p.ctx)
	p.metrics.ObservePoll(t.Name, time.Since(start).Seconds(), err)
	if err != nil && p.ctx.Err() == nil {
		debug.Warn("poller", "task failed", "task", t.Name, "error", err)
	}
}

// Start begins scheduling and the nudge loops.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for name, ch := range p.nudges {
		job := p.jobs[name]
		p.wg.Add(1)
		go p.nudgeLoop(name, job, ch)
	}
	p.sched.Start()
	debug.LogKV("poller", "started", "tasks", len(p.jobs))
}

func (p *Poller) nudgeLoop(name string, job gocron.Job, ch <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ch:
			if err := job.RunNow(); err != nil {
				debug.LogKV("poller", "nudge dropped", "task", name, "error", err)
			}
		}
	}
}

// Nudge asks task name to run now. Nudges that arrive while one is already
// pending are coalesced; it reports whether a new nudge was queued.
func (p *Poller) Nudge(name string) bool {
	p.mu.Lock()
	ch, ok := p.nudges[name]
	stopped := p.stopped
	p.mu.Unlock()
	if !ok || stopped {
		return false
	}
	return offer(p.ctx, ch, struct{}{})
}

// Shutdown stops scheduling new runs and waits for in-flight runs to
// finish, up to the stop timeout. Runs still going after that see their
// context canceled.
func (p *Poller) Shutdown() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()

	if w != nil {
		w.close()
	}
	err := p.sched.Shutdown()
	p.cancel()
	p.wg.Wait()
	debug.LogKV("poller", "stopped", "error", err)
	return err
}

// offer performs a non-blocking send. It returns false when ctx is done or
// the channel is full.
func offer[T any](ctx context.Context, ch chan<- T, value T) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}
