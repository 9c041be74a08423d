package config

import (
	"reflect"
	"sort"

	logx "castbot/pkg/logx"
)

// Change describes a config reload.
type Change struct {
	// Sections lists every top-level section that differs.
	Sections []string
	// Restart lists the changed sections that only take effect after a restart.
	Restart []string
	// Fields are safe to log; secrets are reduced to a "_set" flag.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// hot sections are applied to the running bot on reload.
var hot = map[string]bool{"logging": true, "broadcast": true, "scheduler": true}

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if !hot[section] {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		mark("telegram",
			logx.Bool("telegram.bot_token_changed", ot.BotToken != nt.BotToken),
			logx.String("telegram.channel_id", nt.ChannelID),
			logx.Bool("telegram.base_url_set", nt.BaseURL != ""),
			logx.Bool("telegram.log_chat_set", nt.LogChat != ""),
		)
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		mark("broadcast",
			logx.Int("broadcast.retry_attempts", newCfg.Broadcast.RetryAttempts),
			logx.Duration("broadcast.retry_delay", newCfg.Broadcast.RetryDelay.Duration),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.String("scheduler.daily_cron", newCfg.Scheduler.DailyCron),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if oldCfg.Market != newCfg.Market {
		mark("market", logx.String("market.coin", newCfg.Market.Coin))
	}
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		mark("http",
			logx.String("http.addr", nh.Addr),
			logx.Bool("http.api_key_set", nh.APIKey != ""),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}
	if oldCfg.Uploads != newCfg.Uploads {
		mark("uploads", logx.String("uploads.dir", newCfg.Uploads.Dir))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", newCfg.Storage.Path != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if of, nf := oldCfg.Features, newCfg.Features; of != nf {
		// daily_summary is re-applied through the scheduler; the others need a restart
		ch.Sections = append(ch.Sections, "features")
		if of.Scheduling != nf.Scheduling || of.Uploads != nf.Uploads || of.Audit != nf.Audit {
			ch.Restart = append(ch.Restart, "features")
		}
		ch.Fields = append(ch.Fields,
			logx.Bool("features.daily_summary", nf.DailySummary),
			logx.Bool("features.scheduling", nf.Scheduling),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}
