package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/internal/broadcast"
	"castbot/internal/eventbus"
	"castbot/internal/observability"
	logx "castbot/pkg/logx"
)

func New(cfg Config, bc Broadcaster, log logx.Logger, bus eventbus.Bus, m *observability.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		metrics: m,
		bc:      bc,
		parser:  newParser(),
		jobs:    map[string]*job{},
		now:     time.Now,
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start arms the built-in daily job and every job registered so far.
// An invalid daily expression or timezone aborts startup.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	cur := s.cfg
	if !cur.Enabled {
		s.log.Info("scheduling disabled")
		return nil
	}
	loc, err := loadLocation(cur.Timezone)
	if err != nil {
		return fmt.Errorf("%w: %w", broadcast.ErrConfiguration, err)
	}

	var daily *job
	if cur.DailyEnabled {
		daily, err = s.newDailyJobLocked(cur.DailyCron)
		if err != nil {
			return fmt.Errorf("%w: daily job: %w", broadcast.ErrConfiguration, err)
		}
	}

	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	// Jobs outlive the caller's ctx; Stop cancels them.
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	if daily != nil {
		s.replaceLocked(daily)
	}
	for _, j := range s.jobs {
		if j.entryID == 0 {
			s.armLocked(j)
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

// Stop disarms and removes every job. In-flight job bodies get until ctx is
// done to finish, then their context is cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	n := len(s.jobs)
	for name, j := range s.jobs {
		if c != nil && j.entryID != 0 {
			c.Remove(j.entryID)
		}
		delete(s.jobs, name)
	}
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("stop timed out waiting for running jobs")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Int("jobs_removed", n), logx.Duration("took", time.Since(start)))
}

// Apply re-applies config at runtime. Timezone changes re-arm jobs that follow
// the default; daily cron or enablement changes replace the daily job.
func (s *Service) Apply(cfg Config) error {
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	if cfg.DailyEnabled {
		if _, err := normalizeAndParse(s, cfg.DailyCron, cfg.Timezone); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	// Enabling or disabling the scheduler takes effect on restart.
	cfg.Enabled = old.Enabled
	s.cfg = cfg
	if s.c == nil {
		return nil
	}

	if old.Timezone != cfg.Timezone {
		for _, j := range s.jobs {
			if j.tz != "" {
				continue
			}
			sched, err := s.parseSpec(j.spec, cfg.Timezone)
			if err != nil {
				s.log.Error("rearm after timezone change failed", logx.String("job", j.name), logx.Err(err))
				continue
			}
			s.disarmLocked(j)
			j.schedule = sched
			s.armLocked(j)
		}
		s.log.Info("scheduler timezone changed", logx.String("from", old.Timezone), logx.String("to", cfg.Timezone))
	}

	switch {
	case !cfg.DailyEnabled:
		if j, ok := s.jobs[DailyJobName]; ok {
			s.disarmLocked(j)
			delete(s.jobs, DailyJobName)
			s.log.Info("daily job disabled")
		}
	case !old.DailyEnabled || old.DailyCron != cfg.DailyCron || s.jobs[DailyJobName] == nil:
		daily, err := s.newDailyJobLocked(cfg.DailyCron)
		if err != nil {
			return err
		}
		s.replaceLocked(daily)
	}
	return nil
}

func normalizeAndParse(s *Service, raw, tz string) (cron.Schedule, error) {
	spec, err := normalizeSpec(raw)
	if err != nil {
		return nil, err
	}
	return s.parseSpec(spec, tz)
}

func (s *Service) newDailyJobLocked(raw string) (*job, error) {
	spec, err := normalizeSpec(raw)
	if err != nil {
		return nil, err
	}
	sched, err := s.parseSpec(spec, s.cfg.Timezone)
	if err != nil {
		return nil, err
	}
	bc := s.bc
	return &job{
		name:     DailyJobName,
		kind:     KindDaily,
		spec:     spec,
		schedule: sched,
		created:  s.now(),
		body: func(ctx context.Context) (broadcast.Result, error) {
			if bc == nil {
				return broadcast.Result{}, fmt.Errorf("%w: no broadcaster", broadcast.ErrConfiguration)
			}
			return bc.SendDailyMarketSummary(ctx)
		},
	}, nil
}

// replaceLocked installs j under its name, disarming any previous job first.
// Lookup and replace happen under one lock hold.
func (s *Service) replaceLocked(j *job) {
	if prev, ok := s.jobs[j.name]; ok {
		s.disarmLocked(prev)
		s.log.Debug("job replaced", logx.String("job", j.name), logx.String("prev_cron", prev.spec))
	}
	s.jobs[j.name] = j
	if s.c != nil {
		s.armLocked(j)
	}
}

func (s *Service) armLocked(j *job) {
	jj := j
	j.entryID = s.c.Schedule(j.schedule, cron.FuncJob(func() { s.fire(jj) }))
	fields := []logx.Field{logx.String("job", j.name), logx.String("cron", j.spec), logx.String("tz", s.jobTZLocked(j))}
	if s.log.Enabled(logx.LevelDebug) {
		fields = append(fields, logx.String("next", previewNext(j.schedule, s.now(), 3)))
	}
	s.log.Info("job armed", fields...)
}

func (s *Service) disarmLocked(j *job) {
	if s.c != nil && j.entryID != 0 {
		s.c.Remove(j.entryID)
	}
	j.entryID = 0
}

func (s *Service) jobTZLocked(j *job) string {
	if j.tz != "" {
		return j.tz
	}
	if s.cfg.Timezone != "" {
		return s.cfg.Timezone
	}
	return time.Local.String()
}

// fire runs one job body. Errors are logged and recorded, never returned to
// cron, so the job stays armed for its next occurrence.
func (s *Service) fire(j *job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_, _ = s.run(ctx, j)
}

func (s *Service) run(ctx context.Context, j *job) (broadcast.Result, error) {
	start := s.now()
	ctx = broadcast.WithSource(ctx, "schedule:"+j.name)
	res, err := j.body(ctx)
	took := s.now().Sub(start)

	s.mu.Lock()
	j.lastRun = start
	j.runs++
	if err != nil {
		j.failures++
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	s.mu.Unlock()

	s.metrics.ObserveScheduleRun(j.name, err)
	ev := JobRun{Job: j.name, Kind: j.kind, MessageID: res.MessageID, Took: took, At: start}
	if err != nil {
		ev.Error = err.Error()
		s.log.Error("scheduled job failed", logx.String("job", j.name), logx.Duration("took", took), logx.Err(err))
		eventbus.Publish(s.bus, EventFailed, ev)
		return res, err
	}
	s.log.Info("scheduled job fired", logx.String("job", j.name), logx.Int("message_id", res.MessageID), logx.Duration("took", took))
	eventbus.Publish(s.bus, EventFired, ev)
	return res, nil
}
