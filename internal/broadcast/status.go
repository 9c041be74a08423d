package broadcast

import (
	"context"
	"time"
)

// Status is a read-only view of the engine, safe to take before Initialize.
type Status struct {
	Initialized   bool          `json:"initialized"`
	ChannelID     string        `json:"channel_id"`
	ChannelTitle  string        `json:"channel_title,omitempty"`
	BotUsername   string        `json:"bot_username,omitempty"`
	VerifyError   string        `json:"verify_error,omitempty"`
	VerifiedAt    *time.Time    `json:"verified_at,omitempty"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay_ns"`
	Sent          uint64        `json:"sent"`
	Failed        uint64        `json:"failed"`
	LastSentAt    *time.Time    `json:"last_sent_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

func (e *Engine) Snapshot() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Initialized:   e.initialized,
		ChannelID:     e.cfg.ChannelID,
		ChannelTitle:  e.channelName,
		BotUsername:   e.bot.Username,
		VerifyError:   e.verifyErr,
		RetryAttempts: e.cfg.Retry.Attempts,
		RetryDelay:    e.cfg.Retry.Delay,
		Sent:          e.sent,
		Failed:        e.failed,
		LastError:     e.lastError,
	}
	if !e.verifiedAt.IsZero() {
		t := e.verifiedAt
		st.VerifiedAt = &t
	}
	if !e.lastSentAt.IsZero() {
		t := e.lastSentAt
		st.LastSentAt = &t
	}
	return st
}

type sourceKey struct{}

// WithSource tags ctx with who asked for the broadcast ("api", "schedule:<job>", ...).
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source set by WithSource, or "direct".
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "direct"
}
