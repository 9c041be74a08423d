package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"castbot/internal/broadcast"
	logx "castbot/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAMLWithEnvOverlay(t *testing.T) {
	path := writeFile(t, "castbot.yaml", `
telegram:
  channel_id: https://t.me/market_news
broadcast:
  retry_attempts: 2
  retry_delay: 1500
scheduler:
  daily_cron: "30 8 * * *"
`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("BROADCAST_RETRY_ATTEMPTS", "5")
	t.Setenv("SCHEDULER_TIMEZONE", "Asia/Jakarta")

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken != "123:abc" || cfg.Telegram.ChannelID != "@market_news" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Broadcast.RetryAttempts != 5 {
		t.Fatalf("env should win over file: attempts = %d", cfg.Broadcast.RetryAttempts)
	}
	if cfg.Broadcast.RetryDelay.Duration != 1500*time.Millisecond {
		t.Fatalf("retry delay = %v", cfg.Broadcast.RetryDelay)
	}
	if cfg.Scheduler.DailyCron != "30 8 * * *" || cfg.Scheduler.Timezone != "Asia/Jakarta" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.HTTP.Addr != ":8080" || !cfg.Features.DailySummary {
		t.Fatalf("defaults lost: http=%+v features=%+v", cfg.HTTP, cfg.Features)
	}
}

func TestParseEnvOnly(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHANNEL_ID", "-100123")
	t.Setenv("BROADCAST_RETRY_DELAY", "3s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_TELEGRAM_MIN_LEVEL", "error")

	m := NewManager("")
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit")
	}
	if cfg.Telegram.ChannelID != "-100123" || cfg.Broadcast.RetryDelay.Duration != 3*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Telegram.MinLevel != "error" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown.json":  `{"telegram":{"bot_token":"x"},"nope":1}`,
		"trailing.json": `{"telegram":{}} {"telegram":{}}`,
		"duration.json": `{"broadcast":{"retry_delay":"soon"}}`,
		"broken.yaml":   "telegram: [\n",
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewManager(writeFile(t, name, body)).Parse(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"2000", 2 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{" 250ms ", 250 * time.Millisecond, false},
		{"-1", 0, true},
		{"-2s", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, %v", tt.in, got, err)
		}
	}

	var d Duration
	if err := d.UnmarshalJSON([]byte(`1500`)); err != nil || d.Duration != 1500*time.Millisecond {
		t.Fatalf("UnmarshalJSON(1500) = %v, %v", d, err)
	}
	b, _ := d.MarshalJSON()
	if string(b) != `"1.5s"` {
		t.Fatalf("MarshalJSON = %s", b)
	}
}

func TestNormalizeChannel(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"@news":                   "@news",
		" https://t.me/news_feed": "@news_feed",
		"t.me/news_feed/":         "@news_feed",
		"http://telegram.me/abcd": "@abcd",
		"news_feed":               "@news_feed",
		"-1001234567890":          "-1001234567890",
		"":                        "",
	}
	for in, want := range tests {
		if got := NormalizeChannel(in); got != want {
			t.Errorf("NormalizeChannel(%q) = %q, want %q", in, got, want)
		}
	}
}

func validConfig() *Config {
	c := Default()
	c.Telegram.BotToken = "123:abc"
	c.Telegram.ChannelID = "@news_feed"
	return c
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.BotToken = "" }, "TELEGRAM_BOT_TOKEN"},
		{"missing channel", func(c *Config) { c.Telegram.ChannelID = "" }, "TELEGRAM_CHANNEL_ID"},
		{"bad channel", func(c *Config) { c.Telegram.ChannelID = "news feed" }, "channel_id"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad cron", func(c *Config) { c.Scheduler.DailyCron = "61 * * * *" }, "cron"},
		{"attempts", func(c *Config) { c.Broadcast.RetryAttempts = 0 }, "retry_attempts"},
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log chat", func(c *Config) { c.Logging.Telegram.Enabled = true; c.Telegram.LogChat = "ops logs" }, "log_chat"},
		{"missing log chat", func(c *Config) { c.Logging.Telegram.Enabled = true }, "log_chat"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(c)
			err := Validate(c)
			if !errors.Is(err, broadcast.ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateAcceptsEngineDestinations(t *testing.T) {
	t.Parallel()
	for _, ch := range []string{"@abc", "@a", "-1001234567890", "https://t.me/news_feed"} {
		c := validConfig()
		c.Telegram.ChannelID = ch
		c.Logging.Telegram.Enabled = true
		c.Telegram.LogChat = ch
		Normalize(c)
		if err := Validate(c); err != nil {
			t.Errorf("channel %q rejected: %v", ch, err)
		}
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()
	err := Validate(Default())
	if err == nil {
		t.Fatal("defaults lack credentials")
	}
	for _, want := range []string{"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHANNEL_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("%v does not mention %s", err, want)
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()
	if ch := SummarizeChange(oldCfg, newCfg); !ch.Empty() {
		t.Fatalf("identical configs: %+v", ch.Sections)
	}

	newCfg.Logging.Level = "debug"
	newCfg.Broadcast.RetryAttempts = 4
	newCfg.HTTP.APIKey = "s3cret-key"
	newCfg.Telegram.BotToken = "999:new-token"
	ch := SummarizeChange(oldCfg, newCfg)

	if got := strings.Join(ch.Sections, ","); got != "broadcast,http,logging,telegram" {
		t.Fatalf("sections = %s", got)
	}
	if got := strings.Join(ch.Restart, ","); got != "http,telegram" {
		t.Fatalf("restart = %s", got)
	}

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", ch.Fields...)
	out := buf.String()
	if strings.Contains(out, "s3cret-key") || strings.Contains(out, "new-token") {
		t.Fatalf("secrets logged: %s", out)
	}
	if !strings.Contains(out, `"http.api_key_set":true`) || !strings.Contains(out, `"broadcast.retry_attempts":4`) {
		t.Fatalf("summary fields missing: %s", out)
	}
}

func TestWriteEnvUsage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteEnvUsage(&buf); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHANNEL_ID", "SCHEDULER_DAILY_CRON", "BROADCAST_RETRY_DELAY", "HTTP_API_KEY", "LOG_TELEGRAM_MIN_LEVEL"} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("usage lacks %s:\n%s", key, buf.String())
		}
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	body := `{"telegram":{"bot_token":"1:a","channel_id":"@news_feed"},"broadcast":{"retry_attempts":%d}}`
	path := writeFile(t, "castbot.json", strings.Replace(body, "%d", "2", 1))
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	next := []byte(strings.Replace(body, "%d", "7", 1))
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case cfg := <-sub:
			if cfg.Broadcast.RetryAttempts != 7 {
				t.Fatalf("published attempts = %d", cfg.Broadcast.RetryAttempts)
			}
			break loop
		case <-tick.C:
			// the watcher may not be armed yet
			_ = os.WriteFile(path, next, 0o600)
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
	if m.Get().Broadcast.RetryAttempts != 7 {
		t.Fatal("reload not committed")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "castbot.json", `{"telegram":{"bot_token":"1:a","channel_id":"@news_feed"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(path, []byte(`{"telegram":{"bot_token":"","channel_id":"@news_feed"}}`), 0o600)
	m.reload(context.Background())
	if m.Get().Telegram.BotToken != "1:a" {
		t.Fatal("invalid reload replaced the live config")
	}
}

func TestWatchWithoutFileWaits(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := NewManager("").Watch(ctx); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() == nil {
		t.Fatal("Watch returned before ctx was done")
	}
}

func TestLogSettingsTargetsLogChat(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Telegram.LogChat = "https://t.me/ops_logs"
	c.Logging.Telegram.Enabled = true
	c.Logging.Telegram.ThreadID = 12
	Normalize(c)

	got := c.LogSettings().Telegram
	if !got.Enabled || got.Chat.Username != "@ops_logs" || got.Chat.ThreadID != 12 {
		t.Fatalf("telegram log settings = %+v", got)
	}
}
