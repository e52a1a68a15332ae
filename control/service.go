// CLAUDE:SUMMARY Control surface over the keep-alive loop, the persistence initializer and the ledger (HTTP + MCP).
// Package control exposes the keep-alive loop and the persistence
// initializer to operators: a chi HTTP API and a set of MCP tools, both
// thin layers over Service.
package control

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/ledger"
	"github.com/hazyhaar/sentinel/persist"
)

// ErrNoLedger is returned by history queries when no ledger is configured.
var ErrNoLedger = errors.New("control: ledger disabled")

// ErrUnknownTask is returned when a handle names no running task.
var ErrUnknownTask = errors.New("control: unknown task")

// Service bundles what the control surfaces operate on.
type Service struct {
	base   context.Context
	loop   *keepalive.Loop
	init   *persist.Initializer
	ledger *ledger.Ledger
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLedger enables history queries.
func WithLedger(l *ledger.Ledger) Option { return func(s *Service) { s.ledger = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates a Service. Tasks started through it live until cancelled or
// until base is done, independent of the request that started them.
func New(base context.Context, loop *keepalive.Loop, init *persist.Initializer, opts ...Option) *Service {
	s := &Service{base: base, loop: loop, init: init, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TaskView is the wire form of a running task.
type TaskView struct {
	Handle     keepalive.Handle `json:"handle"`
	IntervalMS int64            `json:"interval_ms"`
	StartedAt  time.Time        `json:"started_at"`
	Stats      keepalive.Stats  `json:"stats"`
	History    *ledger.Summary  `json:"history,omitempty"`
}

func viewOf(ti keepalive.TaskInfo) TaskView {
	return TaskView{
		Handle:     ti.Handle,
		IntervalMS: ti.Interval.Milliseconds(),
		StartedAt:  ti.StartedAt,
		Stats:      ti.Stats,
	}
}

// StartTask starts a task firing every interval. Zero means the default.
func (s *Service) StartTask(interval time.Duration) (TaskView, error) {
	if interval == 0 {
		interval = keepalive.DefaultInterval
	}
	h, err := s.loop.Start(s.base, interval)
	if err != nil {
		return TaskView{}, err
	}
	ti, ok := s.loop.Task(h)
	if !ok {
		// Only possible if base was already cancelled.
		return TaskView{}, context.Cause(s.base)
	}
	return viewOf(ti), nil
}

// CancelTask stops a task. Unknown handles are ignored.
func (s *Service) CancelTask(h keepalive.Handle) {
	s.loop.Cancel(h)
}

// Tasks lists running tasks.
func (s *Service) Tasks() []TaskView {
	tasks := s.loop.Tasks()
	out := make([]TaskView, len(tasks))
	for i, t := range tasks {
		out[i] = viewOf(t)
	}
	return out
}

// Task describes one running task, with its ledger summary when available.
func (s *Service) Task(ctx context.Context, h keepalive.Handle) (TaskView, error) {
	ti, ok := s.loop.Task(h)
	if !ok {
		return TaskView{}, ErrUnknownTask
	}
	v := viewOf(ti)
	if s.ledger != nil {
		sum, err := s.ledger.Summarize(ctx, h)
		if err != nil {
			s.logger.Warn("control: summarize failed", "task", h, "error", err)
		} else {
			v.History = &sum
		}
	}
	return v, nil
}

// Targets returns the probed selectors.
func (s *Service) Targets() []string { return s.loop.Targets() }

// SetTargets replaces the probed selectors.
func (s *Service) SetTargets(targets []string) error {
	if len(targets) == 0 {
		return errors.New("control: at least one target is required")
	}
	s.loop.SetTargets(targets)
	s.logger.Info("control: targets replaced", "targets", targets)
	return nil
}

// Probe performs one firing immediately, outside any task.
func (s *Service) Probe(ctx context.Context) keepalive.Firing {
	return s.loop.Probe(ctx)
}

// SetupPersistence prepares the checkpoint layout of project.
func (s *Service) SetupPersistence(ctx context.Context, project string) (persist.Layout, error) {
	return s.init.Prepare(ctx, project)
}

// Firings returns recent firings from the ledger.
func (s *Service) Firings(ctx context.Context, task keepalive.Handle, limit int) ([]keepalive.Firing, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return s.ledger.Firings(ctx, task, limit)
}
