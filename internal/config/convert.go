package config

import (
	"castbot/internal/broadcast"
	"castbot/internal/market"
	"castbot/internal/scheduler"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	"castbot/internal/transport/telegram/adapter"
	logx "castbot/pkg/logx"
)

// The helpers below project sections onto the config types of the packages
// that consume them.

func (c *Config) AdapterSettings() adapter.Config {
	return adapter.Config{
		Token:          c.Telegram.BotToken,
		APIURL:         c.Telegram.BaseURL,
		RequestTimeout: c.Telegram.RequestTimeout.Duration,
	}
}

func (c *Config) BroadcastSettings() broadcast.Config {
	return broadcast.Config{
		ChannelID:      c.Telegram.ChannelID,
		Retry:          c.RetryPolicy(),
		DisablePreview: c.Broadcast.DisablePreview,
	}
}

func (c *Config) RetryPolicy() broadcast.RetryPolicy {
	return broadcast.RetryPolicy{Attempts: c.Broadcast.RetryAttempts, Delay: c.Broadcast.RetryDelay.Duration}
}

func (c *Config) SchedulerSettings() scheduler.Config {
	return scheduler.Config{
		Enabled:      c.Features.Scheduling,
		DailyEnabled: c.Features.DailySummary,
		DailyCron:    c.Scheduler.DailyCron,
		Timezone:     c.Scheduler.Timezone,
	}
}

func (c *Config) MarketSettings() market.Config {
	return market.Config{URL: c.Market.URL, Coin: c.Market.Coin, Timeout: c.Market.Timeout.Duration}
}

// StorageSettings returns a disabled config when the audit feature is off.
func (c *Config) StorageSettings() storage.Config {
	if !c.Features.Audit {
		return storage.Config{Driver: "none"}
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: c.Storage.BusyTimeout.Duration,
		Retain:      c.Storage.Retain,
	}
}

func (c *Config) LogSettings() logx.Config {
	// log_chat is checked by Validate; an unusable value leaves the sink off.
	chat, _ := kit.ParseChatTarget(c.Telegram.LogChat)
	chat.ThreadID = c.Logging.Telegram.ThreadID
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			Chat:       chat,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}
