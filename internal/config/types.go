package config

import "time"

// Config is the whole bot configuration. It is loaded from an optional JSON or
// YAML file and then overlaid with environment variables; the envconfig tags
// on sections give the variable prefix and leaf names are split on word
// boundaries, so Telegram.BotToken reads TELEGRAM_BOT_TOKEN.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram" envconfig:"TELEGRAM"`
	Broadcast BroadcastConfig `json:"broadcast" envconfig:"BROADCAST"`
	Scheduler SchedulerConfig `json:"scheduler" envconfig:"SCHEDULER"`
	Market    MarketConfig    `json:"market" envconfig:"MARKET"`
	HTTP      HTTPConfig      `json:"http" envconfig:"HTTP"`
	Uploads   UploadsConfig   `json:"uploads" envconfig:"UPLOADS"`
	Storage   StorageConfig   `json:"storage" envconfig:"STORAGE"`
	Logging   LoggingConfig   `json:"logging" envconfig:"LOG"`
	Features  FeaturesConfig  `json:"features" envconfig:"FEATURES"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token" split_words:"true"`
	// ChannelID is "@handle", a numeric id, or a https://t.me/<name> link
	// (rewritten to "@name" during normalization).
	ChannelID      string   `json:"channel_id" split_words:"true"`
	BaseURL        string   `json:"base_url,omitempty" split_words:"true"`
	RequestTimeout Duration `json:"request_timeout,omitempty" split_words:"true"`
	// LogChat receives mirrored WARN+ log records when logging.telegram is enabled.
	LogChat string `json:"log_chat,omitempty" split_words:"true"`
}

type BroadcastConfig struct {
	RetryAttempts  int      `json:"retry_attempts" split_words:"true"`
	RetryDelay     Duration `json:"retry_delay" split_words:"true"`
	DisablePreview bool     `json:"disable_preview" split_words:"true"`
}

type SchedulerConfig struct {
	DailyCron string `json:"daily_cron" split_words:"true"`
	Timezone  string `json:"timezone" split_words:"true"` // IANA TZ, e.g. "Asia/Jakarta"
}

type MarketConfig struct {
	URL     string   `json:"url,omitempty" split_words:"true"`
	Coin    string   `json:"coin,omitempty" split_words:"true"`
	Timeout Duration `json:"timeout,omitempty" split_words:"true"`
}

type HTTPConfig struct {
	Addr         string   `json:"addr" split_words:"true"`
	APIKey       string   `json:"api_key,omitempty" split_words:"true"`
	ReadTimeout  Duration `json:"read_timeout,omitempty" split_words:"true"`
	WriteTimeout Duration `json:"write_timeout,omitempty" split_words:"true"`
	// Pprof mounts net/http/pprof under /debug/pprof/ (behind the API key).
	Pprof bool `json:"pprof,omitempty" split_words:"true"`
}

type UploadsConfig struct {
	Dir      string `json:"dir" split_words:"true"`
	MaxBytes int64  `json:"max_bytes" split_words:"true"`
}

// StorageConfig controls the optional broadcast audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/castbot.db" }
type StorageConfig struct {
	Driver      string   `json:"driver" split_words:"true"`
	Path        string   `json:"path" split_words:"true"`
	BusyTimeout Duration `json:"busy_timeout,omitempty" split_words:"true"`
	Retain      int      `json:"retain,omitempty" split_words:"true"`
}

type LoggingConfig struct {
	Level    string          `json:"level" split_words:"true"`
	Console  bool            `json:"console" split_words:"true"`
	File     LoggingFile     `json:"file" envconfig:"FILE"`
	Telegram LoggingTelegram `json:"telegram" envconfig:"TELEGRAM"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" split_words:"true"`
	Path    string `json:"path" split_words:"true"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled" split_words:"true"`
	ThreadID   int    `json:"thread_id" split_words:"true"`
	MinLevel   string `json:"min_level" split_words:"true"`
	RatePerSec int    `json:"rate_per_sec" split_words:"true"`
}

type FeaturesConfig struct {
	DailySummary bool `json:"daily_summary" split_words:"true"`
	Scheduling   bool `json:"scheduling" split_words:"true"`
	Uploads      bool `json:"uploads" split_words:"true"`
	Audit        bool `json:"audit" split_words:"true"`
}

// Default returns the configuration used for every key the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{RequestTimeout: Duration{15 * time.Second}},
		Broadcast: BroadcastConfig{
			RetryAttempts:  3,
			RetryDelay:     Duration{2 * time.Second},
			DisablePreview: true,
		},
		Scheduler: SchedulerConfig{DailyCron: "0 9 * * *", Timezone: "UTC"},
		Market:    MarketConfig{Timeout: Duration{8 * time.Second}},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{60 * time.Second},
		},
		Uploads: UploadsConfig{Dir: "./uploads", MaxBytes: 10 << 20},
		Storage: StorageConfig{Path: "./data/castbot.db", Retain: 1000},
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			File:     LoggingFile{Path: "./logs/castbot.log"},
			Telegram: LoggingTelegram{MinLevel: "warn", RatePerSec: 1},
		},
		Features: FeaturesConfig{DailySummary: true, Scheduling: true, Uploads: true, Audit: true},
	}
}
