package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/eventbus"
	logx "castbot/pkg/logx"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	fail     error
	messages []string
	daily    int
}

func (f *fakeBroadcaster) BroadcastUpdate(ctx context.Context, msg string) (broadcast.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if f.fail != nil {
		return broadcast.Result{}, f.fail
	}
	return broadcast.Result{MessageID: len(f.messages)}, nil
}

func (f *fakeBroadcaster) SendDailyMarketSummary(ctx context.Context) (broadcast.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daily++
	if f.fail != nil {
		return broadcast.Result{}, f.fail
	}
	return broadcast.Result{MessageID: 100 + f.daily}, nil
}

func (f *fakeBroadcaster) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func newTestService(t *testing.T, cfg Config, bc Broadcaster) *Service {
	t.Helper()
	s := New(cfg, bc, logx.Nop(), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func startedService(t *testing.T, bc Broadcaster) *Service {
	t.Helper()
	s := newTestService(t, Config{Enabled: true, Timezone: "UTC"}, bc)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func findJob(snap Snapshot, name string) (JobInfo, bool) {
	for _, j := range snap.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobInfo{}, false
}

func TestStartRegistersDailyJob(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, DailyEnabled: true, DailyCron: "0 9 * * *", Timezone: "UTC"}, &fakeBroadcaster{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := s.Snapshot()
	if snap.Count != 1 || snap.Timezone != "UTC" || !snap.Running {
		t.Fatalf("snapshot = %+v", snap)
	}
	j, ok := findJob(snap, DailyJobName)
	if !ok || !j.Armed || j.Timezone != "UTC" || j.Cron != "0 9 * * *" {
		t.Fatalf("daily job = %+v (found %v)", j, ok)
	}
	if j.Next == nil || j.Next.UTC().Hour() != 9 || j.Next.Minute() != 0 {
		t.Fatalf("next = %v", j.Next)
	}
}

func TestStartRejectsInvalidDailyCron(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, DailyEnabled: true, DailyCron: "every morning", Timezone: "UTC"}, &fakeBroadcaster{})
	err := s.Start(context.Background())
	if !errors.Is(err, broadcast.ErrConfiguration) || !errors.Is(err, ErrScheduling) {
		t.Fatalf("err = %v", err)
	}
	if s.Snapshot().Running {
		t.Fatal("scheduler must not run after a failed start")
	}
}

func TestStartRejectsInvalidTimezone(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, Timezone: "Mars/Olympus"}, &fakeBroadcaster{})
	if err := s.Start(context.Background()); !errors.Is(err, broadcast.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopJobIsIdempotent(t *testing.T) {
	t.Parallel()
	s := startedService(t, &fakeBroadcaster{})
	if s.StopJob("nonexistent") {
		t.Fatal("StopJob on unknown name should return false")
	}
	if err := s.ScheduleCustomMessage("promo", "0 12 * * *", "hi", JobOptions{}); err != nil {
		t.Fatal(err)
	}
	if !s.StopJob("promo") {
		t.Fatal("StopJob on existing job should return true")
	}
	if s.StopJob("promo") {
		t.Fatal("second StopJob should return false")
	}
	if s.Snapshot().Count != 0 {
		t.Fatal("registry should be empty")
	}
}

func TestScheduleReplacesByName(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcaster{}
	s := startedService(t, bc)
	if err := s.ScheduleCustomMessage("x", "0 8 * * *", "first", JobOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleCustomMessage("x", "30 18 * * 1-5", "second", JobOptions{Timezone: "Asia/Jakarta"}); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("count = %d, want 1", snap.Count)
	}
	j, _ := findJob(snap, "x")
	if j.Cron != "30 18 * * 1-5" || j.Message != "second" || j.Timezone != "Asia/Jakarta" || !j.Armed {
		t.Fatalf("job = %+v", j)
	}
	if _, err := s.Trigger(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if got := bc.sent(); len(got) != 1 || got[0] != "second" {
		t.Fatalf("sent = %q, want [second]", got)
	}
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	t.Parallel()
	s := startedService(t, &fakeBroadcaster{})
	if err := s.ScheduleCustomMessage("keep", "0 9 * * *", "msg", JobOptions{}); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot().Count

	for _, expr := range []string{"not-a-cron", "61 * * * *", "* * *", ""} {
		err := s.ScheduleCustomMessage("x", expr, "msg", JobOptions{})
		if !errors.Is(err, ErrScheduling) {
			t.Fatalf("ScheduleCustomMessage(%q) err = %v", expr, err)
		}
	}
	if err := s.ScheduleCustomMessage("x", "0 9 * * *", "msg", JobOptions{Timezone: "Nowhere/Land"}); !errors.Is(err, ErrScheduling) {
		t.Fatalf("bad timezone err = %v", err)
	}
	if after := s.Snapshot().Count; after != before {
		t.Fatalf("count changed %d -> %d", before, after)
	}
	if s.Has("x") {
		t.Fatal("invalid registration left a job behind")
	}
}

func TestReplaceWithInvalidCronKeepsOldJob(t *testing.T) {
	t.Parallel()
	s := startedService(t, &fakeBroadcaster{})
	if err := s.ScheduleCustomMessage("x", "0 9 * * *", "old", JobOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleCustomMessage("x", "bogus", "new", JobOptions{}); err == nil {
		t.Fatal("expected error")
	}
	j, ok := findJob(s.Snapshot(), "x")
	if !ok || j.Message != "old" || !j.Armed {
		t.Fatalf("job = %+v", j)
	}
}

func TestJobFailureKeepsJobArmed(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcaster{fail: errors.New("provider down")}
	s := startedService(t, bc)
	if err := s.ScheduleCustomMessage("flaky", "0 9 * * *", "hi", JobOptions{}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		s.mu.Lock()
		j := s.jobs["flaky"]
		s.mu.Unlock()
		s.fire(j)
	}

	j, ok := findJob(s.Snapshot(), "flaky")
	if !ok || !j.Armed {
		t.Fatalf("job should stay armed after failures: %+v", j)
	}
	if j.Runs != 2 || j.Failures != 2 || j.LastError == "" || j.LastRun == nil {
		t.Fatalf("job stats = %+v", j)
	}
	if len(bc.sent()) != 2 {
		t.Fatalf("sends = %d, want 2", len(bc.sent()))
	}
}

func TestCronFiresJobRepeatedly(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcaster{fail: errors.New("provider down")}
	s := startedService(t, bc)
	if err := s.ScheduleCustomMessage("tick", "* * * * * *", "tick", JobOptions{}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(bc.sent()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("job fired %d times, want >= 2", len(bc.sent()))
		}
		time.Sleep(50 * time.Millisecond)
	}
	if j, ok := findJob(s.Snapshot(), "tick"); !ok || !j.Armed {
		t.Fatalf("job = %+v", j)
	}
}

func TestStopRemovesAllJobs(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, DailyEnabled: true, DailyCron: "@daily", Timezone: "UTC"}, &fakeBroadcaster{}, logx.Nop(), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"a", "b", "c"} {
		if err := s.ScheduleCustomMessage(n, "@hourly", n, JobOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	snap := s.Snapshot()
	if snap.Count != 0 || snap.Running {
		t.Fatalf("snapshot after stop = %+v", snap)
	}
}

func TestRegisterBeforeStartArmsOnStart(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, Timezone: "UTC"}, &fakeBroadcaster{})
	if err := s.ScheduleCustomMessage("early", "09:30", "hi", JobOptions{}); err != nil {
		t.Fatal(err)
	}
	if j, _ := findJob(s.Snapshot(), "early"); j.Armed || j.Cron != "30 9 * * *" {
		t.Fatalf("before start = %+v", j)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if j, _ := findJob(s.Snapshot(), "early"); !j.Armed {
		t.Fatalf("after start = %+v", j)
	}
}

func TestScheduleRejectsWhenDisabledOrReserved(t *testing.T) {
	t.Parallel()
	off := newTestService(t, Config{Enabled: false}, &fakeBroadcaster{})
	if err := off.ScheduleCustomMessage("x", "@hourly", "hi", JobOptions{}); !errors.Is(err, ErrScheduling) {
		t.Fatalf("disabled err = %v", err)
	}

	s := startedService(t, &fakeBroadcaster{})
	if err := s.ScheduleCustomMessage(DailyJobName, "@hourly", "hi", JobOptions{}); !errors.Is(err, ErrScheduling) {
		t.Fatalf("reserved name err = %v", err)
	}
	if err := s.ScheduleCustomMessage("x", "@hourly", "  ", JobOptions{}); !errors.Is(err, broadcast.ErrValidation) {
		t.Fatalf("empty message err = %v", err)
	}
}

func TestTrigger(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	bc := &fakeBroadcaster{}
	s := New(Config{Enabled: true, DailyEnabled: true, DailyCron: "0 9 * * *", Timezone: "UTC"}, bc, logx.Nop(), bus, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	res, err := s.Trigger(context.Background(), DailyJobName)
	if err != nil || res.MessageID != 101 {
		t.Fatalf("Trigger = %+v, %v", res, err)
	}
	ev := <-ch
	if ev.Type != EventFired || ev.Data.(JobRun).Job != DailyJobName {
		t.Fatalf("event = %+v", ev)
	}
	if _, err := s.Trigger(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestApplyChangesDailyAndTimezone(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, DailyEnabled: true, DailyCron: "0 9 * * *", Timezone: "UTC"}, &fakeBroadcaster{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleCustomMessage("pinned", "@hourly", "hi", JobOptions{Timezone: "UTC"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Apply(Config{Enabled: true, DailyEnabled: true, DailyCron: "15 7 * * *", Timezone: "Asia/Jakarta"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	snap := s.Snapshot()
	d, _ := findJob(snap, DailyJobName)
	if d.Cron != "15 7 * * *" || d.Timezone != "Asia/Jakarta" || !d.Armed {
		t.Fatalf("daily after apply = %+v", d)
	}
	if p, _ := findJob(snap, "pinned"); p.Timezone != "UTC" {
		t.Fatalf("pinned job should keep its override: %+v", p)
	}

	if err := s.Apply(Config{Enabled: true, DailyCron: "bad", Timezone: "UTC"}); err != nil {
		t.Fatalf("disabling daily should not validate its cron: %v", err)
	}
	if s.Has(DailyJobName) {
		t.Fatal("daily job should be removed when disabled")
	}
	if err := s.Apply(Config{Enabled: true, DailyEnabled: true, DailyCron: "bad", Timezone: "UTC"}); !errors.Is(err, ErrScheduling) {
		t.Fatalf("invalid apply err = %v", err)
	}
}

func TestNormalizeSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "  0   9 * * * ", want: "0 9 * * *"},
		{in: "07:05", want: "5 7 * * *"},
		{in: "@daily", want: "@daily"},
		{in: "25:00", wantErr: true},
		{in: "CRON_TZ=UTC 0 9 * * *", wantErr: true},
		{in: " ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := normalizeSpec(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("normalizeSpec(%q) err = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("normalizeSpec(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRecordsCarryComponentOnce(t *testing.T) {
	t.Parallel()
	out := &lockedBuffer{}
	s := New(Config{Enabled: true, Timezone: "UTC"}, &fakeBroadcaster{}, logx.NewWriter(out, "info"), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected start and stop records, got %q", out.String())
	}
	for _, line := range lines {
		if n := strings.Count(line, `"comp":"scheduler"`); n != 1 {
			t.Fatalf("comp appears %d times in %s", n, line)
		}
	}
}
