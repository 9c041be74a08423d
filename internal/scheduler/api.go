package scheduler

import (
	"context"
	"fmt"
	"strings"

	"castbot/internal/broadcast"
	logx "castbot/pkg/logx"
)

// ScheduleCustomMessage registers (or replaces) a job named name that
// broadcasts message on every occurrence of cronExpr. Invalid input is
// rejected without touching the registry.
//
// Supported expressions:
//   - Cron: "0 9 * * *", "*/30 * * * * *" (leading seconds), "@hourly", "@every 2h"
//   - Daily shorthand HH:MM: "09:30"
func (s *Service) ScheduleCustomMessage(name, cronExpr, message string, opt JobOptions) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: job name required", ErrScheduling)
	}
	if name == DailyJobName {
		return fmt.Errorf("%w: %q is reserved for the daily summary", ErrScheduling, name)
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message must not be empty", broadcast.ErrValidation)
	}
	spec, err := normalizeSpec(cronExpr)
	if err != nil {
		return err
	}
	tz := strings.TrimSpace(opt.Timezone)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return fmt.Errorf("%w: scheduling is disabled", ErrScheduling)
	}
	effTZ := tz
	if effTZ == "" {
		effTZ = s.cfg.Timezone
	}
	sched, err := s.parseSpec(spec, effTZ)
	if err != nil {
		return err
	}

	bc := s.bc
	msg := message
	j := &job{
		name:     name,
		kind:     KindCustom,
		spec:     spec,
		tz:       tz,
		message:  msg,
		schedule: sched,
		created:  s.now(),
		body: func(ctx context.Context) (broadcast.Result, error) {
			if bc == nil {
				return broadcast.Result{}, fmt.Errorf("%w: no broadcaster", broadcast.ErrConfiguration)
			}
			return bc.BroadcastUpdate(ctx, msg)
		},
	}
	s.replaceLocked(j)
	if s.c == nil {
		s.log.Debug("job registered, armed on start", logx.String("job", name), logx.String("cron", spec))
	}
	return nil
}

// StopJob disarms and removes the named job. It reports whether a job was removed.
// A body that is already running is not interrupted.
func (s *Service) StopJob(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		s.disarmLocked(j)
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if ok {
		s.log.Info("job stopped", logx.String("job", name))
	}
	return ok
}

// Trigger runs the named job body once, now, on the caller's goroutine.
// The job's schedule is unaffected; the body's error is returned.
func (s *Service) Trigger(ctx context.Context, name string) (broadcast.Result, error) {
	s.mu.Lock()
	j, ok := s.jobs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return broadcast.Result{}, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	s.log.Info("job triggered manually", logx.String("job", j.name))
	return s.run(ctx, j)
}

// Has reports whether a job with the given name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}
