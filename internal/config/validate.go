package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"castbot/internal/broadcast"
	"castbot/internal/scheduler"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// reBare matches a channel name typed without "@". Destinations themselves
// are checked by transport.ParseChatTarget, the same grammar the engine uses.
var reBare = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,}$`)

// NormalizeChannel rewrites t.me links and bare names to "@name". Numeric ids
// and anything unrecognised are returned trimmed.
func NormalizeChannel(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, p)
	}
	for _, p := range []string{"www.t.me/", "t.me/", "telegram.me/"} {
		if strings.HasPrefix(strings.ToLower(s), p) {
			s = s[len(p):]
			s = strings.TrimSuffix(s, "/")
			if !strings.HasPrefix(s, "@") {
				s = "@" + s
			}
			return s
		}
	}
	if reBare.MatchString(s) {
		return "@" + s
	}
	return s
}

// Normalize trims strings and rewrites values into their canonical form.
func Normalize(c *Config) {
	if c == nil {
		return
	}
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	c.Telegram.ChannelID = NormalizeChannel(c.Telegram.ChannelID)
	c.Telegram.BaseURL = strings.TrimRight(strings.TrimSpace(c.Telegram.BaseURL), "/")
	c.Telegram.LogChat = NormalizeChannel(c.Telegram.LogChat)
	c.Scheduler.DailyCron = strings.Join(strings.Fields(c.Scheduler.DailyCron), " ")
	c.Scheduler.Timezone = strings.TrimSpace(c.Scheduler.Timezone)
	c.HTTP.Addr = strings.TrimSpace(c.HTTP.Addr)
	c.HTTP.APIKey = strings.TrimSpace(c.HTTP.APIKey)
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Telegram.MinLevel = strings.ToLower(strings.TrimSpace(c.Logging.Telegram.MinLevel))
	c.Market.Coin = strings.ToLower(strings.TrimSpace(c.Market.Coin))
}

// Validate checks c and returns every problem found, joined and wrapped in
// broadcast.ErrConfiguration.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", broadcast.ErrConfiguration)
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Telegram.BotToken == "" {
		add("telegram.bot_token is required (TELEGRAM_BOT_TOKEN)")
	}
	switch {
	case c.Telegram.ChannelID == "":
		add("telegram.channel_id is required (TELEGRAM_CHANNEL_ID)")
	default:
		if _, err := kit.ParseChatTarget(c.Telegram.ChannelID); err != nil {
			add("telegram.channel_id %q: want @channel, a numeric id or a t.me link", c.Telegram.ChannelID)
		}
	}
	if c.Broadcast.RetryAttempts < 1 {
		add("broadcast.retry_attempts must be >= 1")
	}
	if err := scheduler.ValidateSpec(c.Scheduler.DailyCron, c.Scheduler.Timezone); err != nil {
		add("scheduler: %v", err)
	}
	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}
	if c.Uploads.MaxBytes <= 0 {
		add("uploads.max_bytes must be > 0")
	}
	switch c.Storage.Driver {
	case "", "none", "file", "sqlite":
	default:
		add("storage.driver %q: want file, sqlite or none", c.Storage.Driver)
	}
	if c.Storage.Driver == "file" || c.Storage.Driver == "sqlite" {
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path is required for driver %s", c.Storage.Driver)
		}
	}
	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level %q is not a level", c.Logging.Level)
	}
	if c.Logging.Telegram.Enabled {
		if _, err := kit.ParseChatTarget(c.Telegram.LogChat); err != nil {
			add("telegram.log_chat %q: want @chat or a numeric id when logging.telegram is enabled", c.Telegram.LogChat)
		}
		if !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
			add("logging.telegram.min_level %q is not a level", c.Logging.Telegram.MinLevel)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", broadcast.ErrConfiguration, errors.Join(errs...))
}
