// Package supervisor runs the bot's long-lived loops (HTTP server, config
// watcher, audit recorder, watchdog) under one context and keeps a per-task
// record that the status endpoint reports.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "castbot/pkg/logx"
)

type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateFailed  State = "failed"
)

// TaskStatus describes one supervised loop.
type TaskStatus struct {
	Name      string     `json:"name"`
	State     State      `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels every task when any task fails. The app uses it
// so that a dead HTTP listener or watcher brings the process down.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.fatal = enabled }
}

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger
	fatal  bool
	now    func() time.Time

	wg sync.WaitGroup

	mu    sync.Mutex
	tasks []*TaskStatus // launch order
	err   error
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "supervisor"))
	return s
}

// Context is cancelled by Cancel, by the parent, or by the first failure
// when cancel-on-error is set.
func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first task failure, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Go starts fn as a named task. A context.Canceled return counts as a clean
// exit; any other error or a panic marks the task failed.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	st := &TaskStatus{Name: name, State: StateRunning, StartedAt: s.now().UTC()}
	s.mu.Lock()
	s.tasks = append(s.tasks, st)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(name, fn)
		s.finish(st, err)
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	s.log.Debug("task started", logx.String("task", name))
	err = fn(s.ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (s *Supervisor) finish(st *TaskStatus, err error) {
	exited := s.now().UTC()
	s.mu.Lock()
	st.ExitedAt = &exited
	if err == nil {
		st.State = StateExited
		s.mu.Unlock()
		s.log.Debug("task exited", logx.String("task", st.Name))
		return
	}
	st.State = StateFailed
	st.Error = err.Error()
	first := s.err == nil
	if first {
		s.err = fmt.Errorf("%s: %w", st.Name, err)
	}
	s.mu.Unlock()

	s.log.Error("task failed", logx.String("task", st.Name), logx.Err(err))
	if s.fatal {
		s.cancel()
	}
}

// Tasks returns a copy of every task record in launch order.
func (s *Supervisor) Tasks() []TaskStatus {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = *t
		if t.ExitedAt != nil {
			at := *t.ExitedAt
			out[i].ExitedAt = &at
		}
	}
	return out
}

// Wait blocks until every task has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
