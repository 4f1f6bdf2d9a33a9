// Package schedule runs named periodic tasks. Each task has its own ticker
// and run-lock: a tick that arrives while the same task is still running is
// skipped, and different tasks never wait on each other.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

// ErrBusy is returned by Trigger when the task is already running.
var ErrBusy = errors.New("task already running")

// Task is a unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once when the scheduler starts.
	Immediate bool
	Run       func(ctx context.Context) error
}

type entry struct {
	Task
	running sync.Mutex
}

// Scheduler owns a set of tasks.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	order   []string
	metrics *obs.Metrics
}

func New(m *obs.Metrics) *Scheduler {
	if m == nil {
		m = obs.NewMetrics(nil)
	}
	return &Scheduler{tasks: make(map[string]*entry), metrics: m}
}

// Add registers t. Names must be unique and intervals positive.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return apperr.Validation("task needs a name and a run function")
	}
	if t.Interval <= 0 {
		return apperr.Validation("task %s: interval must be positive", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[t.Name]; dup {
		return apperr.Validation("task %s already registered", t.Name)
	}
	s.tasks[t.Name] = &entry{Task: t}
	s.order = append(s.order, t.Name)
	return nil
}

// Run starts every task and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.tasks[name])
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			s.loop(gctx, e)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	obs.Logger.Info("task_started", "task", e.Name, "interval_ms", e.Interval.Milliseconds())
	if e.Immediate {
		s.runOnce(ctx, e)
	}
	t := time.NewTicker(e.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			obs.Logger.Info("task_stopped", "task", e.Name)
			return
		case <-t.C:
			s.runOnce(ctx, e)
		}
	}
}

// runOnce runs e unless it is already running. It reports whether it ran
// and the task's error.
func (s *Scheduler) runOnce(ctx context.Context, e *entry) (bool, error) {
	if !e.running.TryLock() {
		s.metrics.TaskRunsTotal.WithLabelValues(e.Name, "skipped").Inc()
		obs.Logger.Debug("task_skipped", "task", e.Name)
		return false, nil
	}
	defer e.running.Unlock()
	start := time.Now()
	err := e.Run(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		obs.Logger.Error("task_failed", "task", e.Name, "error", err, "duration_ms", time.Since(start).Milliseconds())
	}
	s.metrics.TaskRunsTotal.WithLabelValues(e.Name, status).Inc()
	return true, err
}

// Trigger runs the named task now under its run-lock. It returns ErrBusy if
// a run is in progress.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("task", name)
	}
	ran, err := s.runOnce(ctx, e)
	if !ran {
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	return err
}

// Names returns the registered task names in registration order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
