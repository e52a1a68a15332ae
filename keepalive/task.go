package keepalive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// task is one started instance of the loop.
type task struct {
	handle    Handle
	interval  time.Duration
	startedAt time.Time
	cancel    context.CancelFunc

	firings     atomic.Int64
	activations atomic.Int64
	misses      atomic.Int64

	lastMu       sync.Mutex
	lastFiring   time.Time
	lastSelector string
}

func (t *task) info() TaskInfo {
	t.lastMu.Lock()
	last, sel := t.lastFiring, t.lastSelector
	t.lastMu.Unlock()

	return TaskInfo{
		Handle:    t.handle,
		Interval:  t.interval,
		StartedAt: t.startedAt,
		Stats: Stats{
			Firings:      t.firings.Load(),
			Activations:  t.activations.Load(),
			Misses:       t.misses.Load(),
			LastFiring:   last,
			LastSelector: sel,
		},
	}
}

// run fires on every tick until ctx is done. A tick that arrives while a
// firing is still running is dropped by the ticker, so firings never overlap.
func (l *Loop) run(ctx context.Context, t *task) {
	defer l.wg.Done()
	defer l.forget(t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.opts.Logger.Debug("keepalive: task stopped", "task", t.handle, "reason", context.Cause(ctx))
			return
		case <-ticker.C:
			// Both channels may be ready; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			l.fire(ctx, t)
		}
	}
}

// fire probes the targets in priority order and activates the first one
// present. Lookup and activation failures are logged and otherwise ignored.
func (l *Loop) fire(ctx context.Context, t *task) Firing {
	log := l.opts.Logger
	f := Firing{At: l.opts.Now(), Target: -1}
	if t != nil {
		f.Task = t.handle
		f.Seq = t.firings.Add(1)
	}

	log.Debug("keepalive: checking connection", "task", f.Task, "seq", f.Seq)

	for i, sel := range l.Targets() {
		el, err := l.loc.Find(ctx, sel)
		if err != nil {
			log.Debug("keepalive: lookup failed", "selector", sel, "error", err)
			continue
		}
		if el == nil {
			continue
		}

		f.Target, f.Selector = i, sel
		if err := el.Activate(ctx); err != nil {
			log.Debug("keepalive: activation failed", "selector", sel, "error", err)
		} else {
			f.Activated = true
			log.Info("keepalive: clicked connect target", "task", f.Task, "selector", sel, "at", f.At)
		}
		// Lower-priority targets are only consulted when this one is absent.
		break
	}

	if t != nil {
		if f.Activated {
			t.activations.Add(1)
		} else if !f.Found() {
			t.misses.Add(1)
		}
		t.lastMu.Lock()
		t.lastFiring, t.lastSelector = f.At, f.Selector
		t.lastMu.Unlock()
	}

	if l.opts.Recorder != nil {
		if t == nil {
			l.send(ctx, f)
		} else {
			l.enqueue(f)
		}
	}
	return f
}

func (l *Loop) enqueue(f Firing) {
	select {
	case l.records <- f:
	default:
		l.opts.Logger.Warn("keepalive: recorder backlog full, firing dropped", "task", f.Task, "seq", f.Seq)
	}
}

func (l *Loop) send(ctx context.Context, f Firing) {
	if err := l.opts.Recorder.SendFiring(ctx, f); err != nil {
		l.opts.Logger.Warn("keepalive: record firing failed", "task", f.Task, "seq", f.Seq, "error", err)
	}
}

// recordLoop delivers queued task firings in order. After stop is closed it
// drains what is left and returns; recCancel aborts a delivery in progress.
func (l *Loop) recordLoop() {
	defer close(l.recDone)
	for {
		select {
		case f := <-l.records:
			l.send(l.recCtx, f)
		case <-l.stop:
			for {
				select {
				case f := <-l.records:
					if l.recCtx.Err() != nil {
						return
					}
					l.send(l.recCtx, f)
				default:
					return
				}
			}
		case <-l.recCtx.Done():
			return
		}
	}
}
