package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

type Config struct {
	Token string
	// APIURL overrides the Bot API base URL (tests, local bot-api servers).
	APIURL string
	// RequestTimeout bounds each Bot API HTTP call. Default 30s.
	RequestTimeout time.Duration
}

// Adapter binds the Bot API operations a broadcaster needs: getMe, getChat,
// sendMessage and sendPhoto. It never polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var _ kit.Client = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline: the self check happens explicitly in Me() so that a bad token
	// surfaces as a classified startup error instead of a constructor failure.
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Me(ctx context.Context) (kit.BotInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.BotInfo{}, err
	}
	data, err := a.bot.Raw("getMe", nil)
	if err != nil {
		return kit.BotInfo{}, translateError(err)
	}
	var resp struct {
		Result tele.User `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return kit.BotInfo{}, err
	}
	a.bot.Me = &resp.Result
	return kit.BotInfo{ID: resp.Result.ID, Username: resp.Result.Username, FirstName: resp.Result.FirstName}, nil
}

func (a *Adapter) GetChat(ctx context.Context, to kit.ChatTarget) (kit.ChatInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.ChatInfo{}, err
	}
	var (
		chat *tele.Chat
		err  error
	)
	if to.Username != "" {
		chat, err = a.bot.ChatByUsername(to.Username)
	} else {
		chat, err = a.bot.ChatByID(to.ChatID)
	}
	if err != nil {
		return kit.ChatInfo{}, translateError(err)
	}
	return kit.ChatInfo{ID: chat.ID, Type: string(chat.Type), Title: chat.Title, Username: chat.Username}, nil
}

// SendText issues exactly one sendMessage call. Callers enforce the length limit.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(recipientOf(to), text, sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, translateError(err)
	}
	return refOf(to, msg), nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: caption}
	msg, err := a.bot.Send(recipientOf(to), photo, sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, translateError(err)
	}
	return refOf(to, msg), nil
}

// usernameRecipient addresses public channels by "@handle".
type usernameRecipient string

func (u usernameRecipient) Recipient() string { return string(u) }

func recipientOf(to kit.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return usernameRecipient(to.Username)
	}
	return &tele.Chat{ID: to.ChatID}
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
}

func refOf(to kit.ChatTarget, msg *tele.Message) kit.MessageRef {
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if msg != nil {
		ref.MessageID = msg.ID
		if msg.Chat != nil {
			ref.ChatID = msg.Chat.ID
		}
	}
	return ref
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
