package transport

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ChatTarget addresses a chat either by public @username or numeric id.
// Username takes precedence when both are set.
type ChatTarget struct {
	ChatID   int64
	Username string // "@handle"
	ThreadID int    // telegram forum topic thread id (0 if none)
}

var (
	reHandle = regexp.MustCompile(`^@[A-Za-z0-9_]+$`)
	reChatID = regexp.MustCompile(`^-?\d+$`)
)

// ParseChatTarget accepts "@handle" or a signed numeric chat id.
func ParseChatTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	switch {
	case reHandle.MatchString(s):
		return ChatTarget{Username: s}, nil
	case reChatID.MatchString(s):
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ChatTarget{}, fmt.Errorf("invalid chat id %q: %w", s, err)
		}
		return ChatTarget{ChatID: id}, nil
	default:
		return ChatTarget{}, fmt.Errorf("invalid chat target %q (want @handle or numeric id)", s)
	}
}

func (t ChatTarget) IsZero() bool { return t.Username == "" && t.ChatID == 0 }

func (t ChatTarget) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// Bot API limits, counted in characters.
const (
	MaxTextRunes    = 4096
	MaxCaptionRunes = 1024
)

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// BotInfo is the identity returned by the provider's self check.
type BotInfo struct {
	ID        int64
	Username  string
	FirstName string
}

// ChatInfo is the provider's description of a chat.
type ChatInfo struct {
	ID       int64
	Type     string
	Title    string
	Username string
}

// DisplayName returns the best human-readable name for the chat.
func (c ChatInfo) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	if c.Username != "" {
		return "@" + strings.TrimPrefix(c.Username, "@")
	}
	return strconv.FormatInt(c.ID, 10)
}

// APIError is a structured provider failure (Bot API error_code + description).
type APIError struct {
	Code        int
	Description string
	RetryAfter  int // seconds, only set for 429
	Err         error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s (%d)", e.Description, e.Code)
}

func (e *APIError) Unwrap() error { return e.Err }

// Client is the minimal provider surface needed to broadcast into a channel.
type Client interface {
	Me(ctx context.Context) (BotInfo, error)
	GetChat(ctx context.Context, to ChatTarget) (ChatInfo, error)
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, path, caption string, opt *SendOptions) (MessageRef, error)
}
