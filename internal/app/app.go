package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/content"
	"castbot/internal/eventbus"
	"castbot/internal/httpapi"
	"castbot/internal/market"
	"castbot/internal/observability"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/scheduler"
	"castbot/internal/storage"
	telegram "castbot/internal/transport/telegram/adapter"
	"castbot/internal/upload"
	logx "castbot/pkg/logx"
	"castbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	adapter  *telegram.Adapter
	engine   *broadcast.Engine
	sched    *scheduler.Service
	uploads  *upload.Store
	store    storage.Store
	recorder *storage.Recorder
	server   *httpapi.Server
}

// NewApp loads the config and builds every component. Nothing talks to the
// network until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(cfg.AdapterSettings(), bootLog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", broadcast.ErrConfiguration, err)
	}

	logSvc, log := logx.New(cfg.LogSettings(), ad)
	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	gen, err := content.NewGenerator()
	if err != nil {
		return nil, err
	}
	engine := broadcast.New(cfg.BroadcastSettings(), broadcast.Deps{
		Client:   ad,
		Market:   market.NewFetcher(cfg.MarketSettings(), log, metrics),
		Composer: gen,
		Bus:      bus,
		Metrics:  metrics,
		Logger:   log,
	})
	sched := scheduler.New(cfg.SchedulerSettings(), engine, log, bus, metrics)

	a := &App{
		cfgm:    cfgm,
		root:    log,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		reg:     reg,
		adapter: ad,
		engine:  engine,
		sched:   sched,
	}

	deps := httpapi.Deps{
		Engine:    engine,
		Scheduler: sched,
		Runtime:   a,
		Metrics:   metrics,
		Gatherer:  reg,
		Logger:    log,
	}
	if cfg.Features.Uploads {
		st, err := upload.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
		if err != nil {
			return nil, err
		}
		a.uploads = st
		deps.Uploads = st
	}
	store, err := storage.Open(cfg.StorageSettings(), log)
	if err != nil {
		return nil, err
	}
	if store != nil {
		a.store = store
		a.recorder = storage.NewRecorder(store, bus, log)
		deps.Audit = store
		a.log.Info("audit trail enabled", logx.String("driver", cfg.Storage.Driver))
	}

	a.server = httpapi.New(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		APIKey:         cfg.HTTP.APIKey,
		ReadTimeout:    cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout:   cfg.HTTP.WriteTimeout.Duration,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
		Pprof:          cfg.HTTP.Pprof,
	}, deps)
	return a, nil
}

// Handler exposes the control API router.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Tasks reports the supervised background loops; empty before Start.
func (a *App) Tasks() []supervisor.TaskStatus { return a.sup.Tasks() }

// Start verifies the bot, arms the schedules and starts the background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.root), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))

	if err := a.engine.Initialize(ctx); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("http", a.server.Run)
	if a.recorder != nil {
		a.sup.Go("audit", a.recorder.Run)
	}
	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error { a.reloadLoop(c, sub); return nil })
	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started", logx.Int("schedules", a.sched.Snapshot().Count))
	return nil
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies published configs. Logging, retry policy and the
// schedule settings change live; everything else waits for a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(next.LogSettings())
	a.engine.Apply(next.RetryPolicy())
	if err := a.sched.Apply(next.SchedulerSettings()); err != nil {
		a.log.Warn("scheduler config rejected; keeping previous", logx.Err(err))
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(ch.Restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts the components down in dependency order. Each step is bounded
// so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "supervisor", 6*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
