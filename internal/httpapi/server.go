// Package httpapi is the operator-facing control surface: broadcast on
// demand, manage schedules, and read status.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"castbot/internal/broadcast"
	"castbot/internal/observability"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/scheduler"
	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

type Config struct {
	Addr         string
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxUploadBytes bounds multipart bodies; 0 means 10 MiB.
	MaxUploadBytes int64
	Pprof          bool
}

type Engine interface {
	BroadcastUpdate(ctx context.Context, msg string) (broadcast.Result, error)
	BroadcastPhoto(ctx context.Context, path, caption string) (broadcast.Result, error)
	SendDailyMarketSummary(ctx context.Context) (broadcast.Result, error)
	Snapshot() broadcast.Status
}

type Scheduler interface {
	ScheduleCustomMessage(name, cronExpr, message string, opt scheduler.JobOptions) error
	StopJob(name string) bool
	Trigger(ctx context.Context, name string) (broadcast.Result, error)
	Snapshot() scheduler.Snapshot
}

type Uploads interface {
	Save(originalName string, r io.Reader) (string, error)
	Remove(path string) error
}

// Runtime reports the process's background tasks.
type Runtime interface {
	Tasks() []supervisor.TaskStatus
}

type Audit interface {
	RecentBroadcasts(ctx context.Context, limit int) ([]storage.Record, error)
}

// Deps are the collaborators behind the routes. Uploads and Audit may be nil
// when their feature is off; Runtime may be nil in tests.
type Deps struct {
	Engine    Engine
	Scheduler Scheduler
	Uploads   Uploads
	Audit     Audit
	Runtime   Runtime
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Logger    logx.Logger
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router *mux.Router
}

func New(cfg Config, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "http")), router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(requestID, s.logging, s.metrics, s.auth)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/broadcast", s.handleBroadcast).Methods(http.MethodPost)
	r.HandleFunc("/daily-summary", s.handleDailySummary).Methods(http.MethodPost)
	r.HandleFunc("/schedules", s.handleListSchedules).Methods(http.MethodGet)
	r.HandleFunc("/schedules", s.handleCreateSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{name}", s.handleDeleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/schedules/{name}/run", s.handleRunSchedule).Methods(http.MethodPost)
	r.HandleFunc("/broadcasts", s.handleBroadcasts).Methods(http.MethodGet)
	if s.cfg.Pprof {
		mountPprof(r)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       90 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()), logx.Bool("auth", s.cfg.APIKey != ""))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
