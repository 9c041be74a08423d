// Package broadcast sends messages to the configured channel.
//
// The Engine gates every send on a successful Initialize, validates input
// before touching the network, retries provider failures on a fixed budget,
// and classifies the final failure by provider status code.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"castbot/internal/eventbus"
	"castbot/internal/market"
	"castbot/internal/observability"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const (
	KindText  = "text"
	KindPhoto = "photo"
	KindDaily = "daily"

	maxTextRunes    = kit.MaxTextRunes
	maxCaptionRunes = kit.MaxCaptionRunes
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Event types published on the bus.
const (
	EventSent   = "broadcast.sent"
	EventFailed = "broadcast.failed"
)

type Config struct {
	ChannelID      string
	Retry          RetryPolicy
	ParseMode      string
	DisablePreview bool
}

// MarketSource supplies the daily summary's data. Implementations substitute
// fallback data on provider failure; an error here is treated the same way.
type MarketSource interface {
	Fetch(ctx context.Context) (market.Data, error)
}

// Composer turns market data into the summary text.
type Composer interface {
	Compose(d market.Data, at time.Time) (string, error)
}

type Deps struct {
	Client   kit.Client
	Market   MarketSource
	Composer Composer
	Bus      eventbus.Bus
	Metrics  *observability.Metrics
	Logger   logx.Logger
}

// Result is returned for every successful send.
type Result struct {
	MessageID int    `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

// Outcome is the payload of broadcast events.
type Outcome struct {
	Kind           string    `json:"kind"`
	Source         string    `json:"source"`
	MessageID      int       `json:"message_id,omitempty"`
	Length         int       `json:"length"`
	Attempts       int       `json:"attempts"`
	Classification string    `json:"classification,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

type Engine struct {
	client   kit.Client
	market   MarketSource
	composer Composer
	bus      eventbus.Bus
	metrics  *observability.Metrics
	log      logx.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu          sync.RWMutex
	cfg         Config
	target      kit.ChatTarget
	initialized bool
	bot         kit.BotInfo
	channelName string
	verifyErr   string
	verifiedAt  time.Time
	sent        uint64
	failed      uint64
	lastSentAt  time.Time
	lastError   string
}

func New(cfg Config, deps Deps) *Engine {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "HTML"
	}
	cfg.Retry = cfg.Retry.normalize()
	return &Engine{
		client:   deps.Client,
		market:   deps.Market,
		composer: deps.Composer,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		log:      log.With(logx.String("comp", "broadcast")),
		sleep:    sleepCtx,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Initialize runs the self-identity check and a best-effort channel check.
// Only configuration or self-check failures are returned.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	if e.client == nil {
		return fmt.Errorf("%w: no provider client", ErrConfiguration)
	}
	target, err := kit.ParseChatTarget(cfg.ChannelID)
	if err != nil {
		return fmt.Errorf("%w: channel: %v", ErrConfiguration, err)
	}

	e.log.Info("initializing broadcast engine", logx.String("channel", target.String()))
	me, err := e.client.Me(ctx)
	if err != nil {
		var apiErr *kit.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusNotFound) {
			return fmt.Errorf("%w: invalid bot token: %v", ErrConfiguration, err)
		}
		return fmt.Errorf("broadcast: provider self check: %w", err)
	}

	e.mu.Lock()
	e.target = target
	e.bot = me
	e.mu.Unlock()
	e.log.Info("bot identity confirmed", logx.Int64("bot_id", me.ID), logx.String("bot", me.Username))

	if name, err := e.VerifyChannelAccess(ctx); err != nil {
		e.log.Warn("channel access not verified, continuing", logx.String("channel", target.String()), logx.Err(err))
	} else {
		e.log.Info("channel access verified", logx.String("channel", target.String()), logx.String("title", name))
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	e.log.Info("broadcast engine initialized")
	return nil
}

// VerifyChannelAccess describes the configured channel and returns its display name.
func (e *Engine) VerifyChannelAccess(ctx context.Context) (string, error) {
	e.mu.RLock()
	target, channelID := e.target, e.cfg.ChannelID
	e.mu.RUnlock()
	if target.IsZero() {
		t, err := kit.ParseChatTarget(channelID)
		if err != nil {
			return "", fmt.Errorf("%w: channel: %v", ErrConfiguration, err)
		}
		target = t
	}

	chat, err := e.client.GetChat(ctx, target)
	now := e.now()
	if err != nil {
		ve := verificationError(err)
		e.mu.Lock()
		e.verifyErr = ve.Error()
		e.verifiedAt = now
		e.mu.Unlock()
		return "", ve
	}
	name := chat.DisplayName()
	e.mu.Lock()
	e.channelName = name
	e.verifyErr = ""
	e.verifiedAt = now
	e.mu.Unlock()
	return name, nil
}

// BroadcastUpdate sends msg as rich text with link previews suppressed.
func (e *Engine) BroadcastUpdate(ctx context.Context, msg string) (Result, error) {
	return e.broadcastText(ctx, KindText, msg)
}

func (e *Engine) broadcastText(ctx context.Context, kind, msg string) (Result, error) {
	target, cfg, err := e.ready()
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(msg) == "" {
		return Result{}, fmt.Errorf("%w: message must not be empty", ErrValidation)
	}
	// One invocation is one channel message, so text is never split.
	n := utf8.RuneCountInString(msg)
	if n > maxTextRunes {
		return Result{}, fmt.Errorf("%w: message is %d characters, limit is %d", ErrValidation, n, maxTextRunes)
	}
	opt := &kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: cfg.DisablePreview}
	return e.deliver(ctx, kind, n, func(ctx context.Context) (kit.MessageRef, error) {
		return e.client.SendText(ctx, target, msg, opt)
	})
}

// BroadcastPhoto sends the image at path with an optional caption.
func (e *Engine) BroadcastPhoto(ctx context.Context, path, caption string) (Result, error) {
	target, cfg, err := e.ready()
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(path) == "" {
		return Result{}, fmt.Errorf("%w: image path must not be empty", ErrValidation)
	}
	n := utf8.RuneCountInString(caption)
	if n > maxCaptionRunes {
		return Result{}, fmt.Errorf("%w: caption is %d characters, limit is %d", ErrValidation, n, maxCaptionRunes)
	}
	opt := &kit.SendOptions{ParseMode: cfg.ParseMode}
	return e.deliver(ctx, KindPhoto, n, func(ctx context.Context) (kit.MessageRef, error) {
		return e.client.SendPhoto(ctx, target, path, caption, opt)
	})
}

// SendDailyMarketSummary fetches market data, composes the summary and broadcasts it.
// Market failures fall back to synthesized data; broadcast failures propagate.
func (e *Engine) SendDailyMarketSummary(ctx context.Context) (Result, error) {
	if _, _, err := e.ready(); err != nil {
		return Result{}, err
	}
	if e.composer == nil {
		return Result{}, fmt.Errorf("%w: no message composer", ErrConfiguration)
	}

	now := e.now()
	var data market.Data
	if e.market != nil {
		d, err := e.market.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			e.log.Warn("market fetch failed, using fallback data", logx.Err(err))
			d = market.Fallback(market.DefaultCoin, now)
		}
		data = d
	} else {
		data = market.Fallback(market.DefaultCoin, now)
	}

	msg, err := e.composer.Compose(data, now)
	if err != nil {
		return Result{}, fmt.Errorf("broadcast: compose daily summary: %w", err)
	}
	e.log.Debug("daily summary composed", logx.Bool("fallback", data.Fallback), logx.Int("len", len(msg)))
	return e.broadcastText(ctx, KindDaily, msg)
}

// Apply swaps config that is safe to change at runtime. The channel is fixed after Initialize.
func (e *Engine) Apply(retry RetryPolicy) {
	e.mu.Lock()
	e.cfg.Retry = retry.normalize()
	e.mu.Unlock()
}

func (e *Engine) retryPolicy() RetryPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Retry
}

// ready enforces the initialization gate.
func (e *Engine) ready() (kit.ChatTarget, Config, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return kit.ChatTarget{}, Config{}, fmt.Errorf("%w: broadcast engine is not initialized", ErrConfiguration)
	}
	return e.target, e.cfg, nil
}

func (e *Engine) deliver(ctx context.Context, kind string, length int, send sendFunc) (Result, error) {
	start := e.now()
	source := SourceFrom(ctx)
	ref, attempts, err := e.sendWithRetry(ctx, kind, send)
	out := Outcome{Kind: kind, Source: source, Length: length, Attempts: attempts, At: e.now()}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			err = fmt.Errorf("broadcast: %w", err)
		} else {
			err = classify(err, attempts)
		}
		out.Classification = Classification(err)
		out.Error = err.Error()

		e.mu.Lock()
		e.failed++
		e.lastError = out.Error
		e.mu.Unlock()

		e.metrics.ObserveBroadcast(kind, out.Classification, e.now().Sub(start), err)
		e.log.Error("broadcast failed",
			logx.String("kind", kind),
			logx.String("source", source),
			logx.Int("attempts", attempts),
			logx.String("classification", out.Classification),
			logx.Err(err),
		)
		eventbus.Publish(e.bus, EventFailed, out)

		if out.Classification == ClassForbidden {
			e.reverify(ctx)
		}
		return Result{}, err
	}

	now := e.now()
	res := Result{MessageID: ref.MessageID, Timestamp: now.UTC().Format(timestampLayout)}
	out.MessageID = ref.MessageID

	e.mu.Lock()
	e.sent++
	e.lastSentAt = now
	e.mu.Unlock()

	e.metrics.ObserveBroadcast(kind, "", now.Sub(start), nil)
	e.log.Info("broadcast sent",
		logx.String("kind", kind),
		logx.String("source", source),
		logx.Int("message_id", ref.MessageID),
		logx.Int("attempts", attempts),
	)
	eventbus.Publish(e.bus, EventSent, out)
	return res, nil
}

// reverify re-checks channel access after a permission failure so the log
// carries the provider's specific reason.
func (e *Engine) reverify(ctx context.Context) {
	if _, err := e.VerifyChannelAccess(ctx); err != nil {
		e.log.Warn("channel re-verification after forbidden send failed", logx.Err(err))
		return
	}
	e.log.Warn("channel is reachable but the send was forbidden; check the bot's posting rights")
}
