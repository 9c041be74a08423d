package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "castbot/internal/transport"
)

const (
	telegramQueue   = 256
	telegramTimeout = 10 * time.Second
	maxFieldRunes   = 600
)

// telegramSink is a zerolog.LevelWriter that forwards records to a chat
// through a single worker. Writes never block: records are dropped when the
// limiter refuses or the queue is full.
type telegramSink struct {
	sender Sender
	queue  chan string

	mu      sync.Mutex
	enabled bool
	to      kit.ChatTarget
	min     zerolog.Level
	limiter *rate.Limiter

	dropped atomic.Uint64
	stop    context.CancelFunc
	done    chan struct{}
}

func newTelegramSink(sender Sender) *telegramSink {
	ctx, cancel := context.WithCancel(context.Background())
	t := &telegramSink{
		sender: sender,
		queue:  make(chan string, telegramQueue),
		min:    zerolog.WarnLevel,
		stop:   cancel,
		done:   make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = cfg.Enabled && !cfg.Chat.IsZero()
	t.to = cfg.Chat
	t.min = levelOr(cfg.MinLevel, zerolog.WarnLevel)
	if t.limiter == nil || int(t.limiter.Limit()) != rps {
		t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ok := t.enabled && level >= t.min && level != zerolog.NoLevel && t.limiter.Allow()
	t.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	select {
	case t.queue <- renderRecord(p):
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			t.mu.Lock()
			to := t.to
			t.mu.Unlock()
			sendCtx, cancel := context.WithTimeout(ctx, telegramTimeout)
			// Errors are not logged: that would feed back into this sink.
			_, _ = t.sender.SendText(sendCtx, to, text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.stop()
	<-t.done
}

// renderRecord turns a JSON log line into a short plain-text message:
// "[LEVEL] message" followed by one "- key=value" line per field.
func renderRecord(p []byte) string {
	line := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return clip(line, kit.MaxTextRunes)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), maxFieldRunes))
	}
	return clip(b.String(), kit.MaxTextRunes)
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
