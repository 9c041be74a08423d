package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // max records kept; 0 means DefaultRetain
}

const DefaultRetain = 1000

// Record is one broadcast outcome.
// Keep it compact and schema-stable.
type Record struct {
	ID             int64     `json:"id,omitempty"`
	At             time.Time `json:"at"`
	Kind           string    `json:"kind"`
	Source         string    `json:"source"`
	MessageID      int       `json:"message_id,omitempty"`
	Length         int       `json:"length"`
	Attempts       int       `json:"attempts"`
	Classification string    `json:"classification,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// OK reports whether the broadcast succeeded.
func (r Record) OK() bool { return r.Error == "" }

// Store is the persistence API used by the recorder and the control API.
type Store interface {
	AppendBroadcast(ctx context.Context, r Record) error
	// RecentBroadcasts returns up to limit records, newest first.
	RecentBroadcasts(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
