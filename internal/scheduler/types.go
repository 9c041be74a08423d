package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/internal/broadcast"
	"castbot/internal/eventbus"
	"castbot/internal/observability"
	logx "castbot/pkg/logx"
)

// ErrScheduling marks invalid schedule registrations.
var ErrScheduling = errors.New("scheduling error")

// ErrJobNotFound is returned by Trigger for unknown job names.
var ErrJobNotFound = errors.New("job not found")

// DailyJobName is the built-in market summary job.
const DailyJobName = "dailyUpdate"

const (
	KindDaily  = "daily"
	KindCustom = "custom"
)

// Event types published on the bus.
const (
	EventFired  = "schedule.fired"
	EventFailed = "schedule.failed"
)

// Config controls the scheduler.
type Config struct {
	Enabled      bool
	DailyEnabled bool
	DailyCron    string
	Timezone     string // IANA TZ, e.g. "Asia/Jakarta"
}

// Broadcaster is the part of the broadcast engine jobs call into.
type Broadcaster interface {
	BroadcastUpdate(ctx context.Context, msg string) (broadcast.Result, error)
	SendDailyMarketSummary(ctx context.Context) (broadcast.Result, error)
}

// JobOptions tunes a custom job. An empty Timezone uses the scheduler default.
type JobOptions struct {
	Timezone string
}

// JobRun is the payload of schedule events.
type JobRun struct {
	Job       string        `json:"job"`
	Kind      string        `json:"kind"`
	MessageID int           `json:"message_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Took      time.Duration `json:"took_ns"`
	At        time.Time     `json:"at"`
}

type job struct {
	name     string
	kind     string
	spec     string // as registered, without timezone prefix
	tz       string // per-job override; "" follows the scheduler default
	message  string
	body     func(ctx context.Context) (broadcast.Result, error)
	schedule cron.Schedule
	entryID  cron.EntryID
	created  time.Time

	lastRun  time.Time
	lastErr  string
	runs     uint64
	failures uint64
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	metrics *observability.Metrics
	bc      Broadcaster

	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*job
	now    func() time.Time

	runCtx    context.Context
	runCancel context.CancelFunc
}

type JobInfo struct {
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	Cron      string     `json:"cron"`
	Timezone  string     `json:"timezone"`
	Message   string     `json:"message,omitempty"`
	Armed     bool       `json:"armed"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	Next      *time.Time `json:"next,omitempty"`
	Runs      uint64     `json:"runs"`
	Failures  uint64     `json:"failures"`
	LastError string     `json:"last_error,omitempty"`
}

type Snapshot struct {
	Enabled  bool      `json:"enabled"`
	Running  bool      `json:"running"`
	Timezone string    `json:"timezone"`
	Count    int       `json:"count"`
	Jobs     []JobInfo `json:"jobs"`
}
