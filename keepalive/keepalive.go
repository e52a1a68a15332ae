// CLAUDE:SUMMARY Cancellable fixed-interval probe loop that clicks the first present connect target through an injected Locator.
// Package keepalive provides the idle-prevention loop: on a fixed interval it
// looks up an ordered list of UI targets and performs a synthetic activation
// on the first one present, so that an idle-detection mechanism on the other
// side of the page sees activity.
//
// The loop is best-effort. A missing target is not an error, a failed lookup
// counts as missing, and nothing stops the loop except Cancel or the
// cancellation of the context passed to Start.
//
// Typical usage:
//
//	l := keepalive.New(locator, keepalive.Options{Recorder: sinks})
//	h, _ := l.Start(ctx, keepalive.DefaultInterval)
//	defer l.Cancel(h)
package keepalive

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the firing period used when none is configured.
const DefaultInterval = 60 * time.Second

// DefaultTargets are the connect affordances of the hosted notebook frontend,
// in priority order. " >>> " descends into an open shadow root.
var DefaultTargets = []string{
	"colab-connect-button >>> #connect",
	"#connect",
}

// ErrInvalidInterval is returned by Start for a non-positive interval.
var ErrInvalidInterval = errors.New("keepalive: interval must be positive")

// Element is a located UI element.
type Element interface {
	// Activate triggers the element's action handler without user input.
	Activate(ctx context.Context) error
}

// Locator finds UI elements. Find returns (nil, nil) when nothing matches
// selector; it must not wait for the element to appear.
type Locator interface {
	Find(ctx context.Context, selector string) (Element, error)
}

// Recorder receives the outcome of every firing. sink.Router satisfies it.
type Recorder interface {
	SendFiring(ctx context.Context, f Firing) error
}

// Handle identifies a started task. The zero value never names a task.
type Handle string

// Firing is the outcome of one probe.
type Firing struct {
	Task      Handle    `json:"task,omitempty"`
	Seq       int64     `json:"seq"`
	At        time.Time `json:"at"`
	Target    int       `json:"target"` // index into the target list, -1 when none was found
	Selector  string    `json:"selector,omitempty"`
	Activated bool      `json:"activated"`
}

// Found reports whether a target was present during the firing.
func (f Firing) Found() bool { return f.Target >= 0 }

// Options tunes the loop.
type Options struct {
	// Targets are the selectors probed in priority order. Default: DefaultTargets.
	Targets []string
	// Recorder receives every firing. Optional.
	Recorder Recorder
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Now overrides the clock used to stamp firings.
	Now func() time.Time
	// FlushTimeout bounds how long Close waits for queued firings to reach
	// the Recorder. Default: 2s.
	FlushTimeout time.Duration
}

func (o *Options) defaults() {
	if len(o.Targets) == 0 {
		o.Targets = DefaultTargets
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 2 * time.Second
	}
}

// recordBuffer is the number of task firings queued for the Recorder.
// Firings beyond it are dropped with a warning.
const recordBuffer = 64

// Stats are point-in-time counters for one task.
type Stats struct {
	Firings      int64     `json:"firings"`
	Activations  int64     `json:"activations"`
	Misses       int64     `json:"misses"`
	LastFiring   time.Time `json:"last_firing,omitzero"`
	LastSelector string    `json:"last_selector,omitempty"`
}

// TaskInfo describes a running task.
type TaskInfo struct {
	Handle    Handle        `json:"handle"`
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at"`
	Stats     Stats         `json:"stats"`
}

// Loop owns the locator and every task started on it. It is safe for
// concurrent use.
type Loop struct {
	loc     Locator
	opts    Options
	targets atomic.Pointer[[]string]

	mu     sync.Mutex
	tasks  map[Handle]*task
	closed bool
	wg     sync.WaitGroup

	// Task firings reach the Recorder through records, drained by a single
	// goroutine, so a slow sink never delays the next firing.
	records   chan Firing
	stop      chan struct{}
	recDone   chan struct{}
	recCtx    context.Context
	recCancel context.CancelFunc
	closeOnce sync.Once
}

// New creates a Loop. No task runs until Start is called.
func New(loc Locator, opts Options) *Loop {
	opts.defaults()
	l := &Loop{loc: loc, opts: opts, tasks: make(map[Handle]*task)}
	l.SetTargets(opts.Targets)
	if opts.Recorder != nil {
		l.records = make(chan Firing, recordBuffer)
		l.stop = make(chan struct{})
		l.recDone = make(chan struct{})
		l.recCtx, l.recCancel = context.WithCancel(context.Background())
		go l.recordLoop()
	}
	return l
}

// SetTargets replaces the probed selectors. Running tasks pick the new list
// up on their next firing. An empty list is ignored.
func (l *Loop) SetTargets(targets []string) {
	if len(targets) == 0 {
		return
	}
	t := slices.Clone(targets)
	l.targets.Store(&t)
}

// Targets returns the selectors currently probed, in priority order.
func (l *Loop) Targets() []string {
	return slices.Clone(*l.targets.Load())
}

// Start begins firing every interval until Cancel is called with the
// returned handle or ctx is cancelled. The first firing happens one interval
// after Start. Starting twice creates two independent tasks.
func (l *Loop) Start(ctx context.Context, interval time.Duration) (Handle, error) {
	if interval <= 0 {
		return "", ErrInvalidInterval
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", errors.New("keepalive: loop is closed")
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &task{
		handle:    Handle("ka_" + uuid.Must(uuid.NewV7()).String()),
		interval:  interval,
		startedAt: l.opts.Now(),
		cancel:    cancel,
	}
	l.tasks[t.handle] = t

	l.wg.Add(1)
	go l.run(tctx, t)

	l.opts.Logger.Info("keepalive: started", "task", t.handle, "interval", interval, "targets", l.Targets())
	return t.handle, nil
}

// Cancel stops all further firings of h. Cancelling an unknown or already
// cancelled handle does nothing.
func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	t, ok := l.tasks[h]
	if ok {
		delete(l.tasks, h)
	}
	l.mu.Unlock()

	if !ok {
		return
	}
	t.cancel()
	l.opts.Logger.Info("keepalive: cancelled", "task", h, "firings", t.firings.Load())
}

// Close cancels every task and waits for their goroutines to return, then
// flushes queued firings to the Recorder for at most Options.FlushTimeout.
// Start fails after Close. Calling Close again does nothing.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	tasks := l.tasks
	l.tasks = make(map[Handle]*task)
	l.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	l.wg.Wait()

	if l.records == nil {
		return
	}
	l.closeOnce.Do(func() {
		close(l.stop)
		timer := time.NewTimer(l.opts.FlushTimeout)
		defer timer.Stop()
		select {
		case <-l.recDone:
		case <-timer.C:
			l.opts.Logger.Warn("keepalive: flush timed out, dropping queued firings")
		}
		l.recCancel()
		<-l.recDone
	})
}

// Tasks lists the running tasks, oldest first.
func (l *Loop) Tasks() []TaskInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TaskInfo, 0, len(l.tasks))
	for _, t := range l.tasks {
		out = append(out, t.info())
	}
	slices.SortFunc(out, func(a, b TaskInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Task returns the description of a running task.
func (l *Loop) Task(h Handle) (TaskInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tasks[h]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// Probe performs a single firing outside any task. The returned Firing has
// an empty Task handle. Unlike task firings, it is handed to the Recorder
// before Probe returns.
func (l *Loop) Probe(ctx context.Context) Firing {
	return l.fire(ctx, nil)
}

func (l *Loop) forget(t *task) {
	l.mu.Lock()
	if cur, ok := l.tasks[t.handle]; ok && cur == t {
		delete(l.tasks, t.handle)
	}
	l.mu.Unlock()
}
