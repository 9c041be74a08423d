package storage

import (
	"context"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/eventbus"
	logx "castbot/pkg/logx"
)

// Recorder appends one Record per broadcast event.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(st Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: st, bus: bus, log: log.With(logx.String("comp", "audit"))}
}

// Run consumes events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	if r.store == nil || r.bus == nil {
		return nil
	}
	ch, unsub := r.bus.Subscribe(64, broadcast.EventSent, broadcast.EventFailed)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			rec, ok := recordOf(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.store.AppendBroadcast(wctx, rec); err != nil {
				r.log.Warn("audit append failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func recordOf(ev eventbus.Event) (Record, bool) {
	if ev.Type != broadcast.EventSent && ev.Type != broadcast.EventFailed {
		return Record{}, false
	}
	out, ok := ev.Data.(broadcast.Outcome)
	if !ok {
		return Record{}, false
	}
	at := out.At
	if at.IsZero() {
		at = ev.Time
	}
	return Record{
		At:             at,
		Kind:           out.Kind,
		Source:         out.Source,
		MessageID:      out.MessageID,
		Length:         out.Length,
		Attempts:       out.Attempts,
		Classification: out.Classification,
		Error:          out.Error,
	}, true
}
