package storage

import (
	"context"
	"time"

	"cptbot/internal/announce"
	"cptbot/internal/bridge"
	"cptbot/internal/eventbus"
	logx "cptbot/pkg/logx"
)

// Recorder subscribes to notification events on the bus and appends them to
// the history store. It is the only writer of history, keeping both the
// engine and the bridge free of any storage knowledge.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	unsub func()
	done  chan struct{}
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Start begins consuming bus events. No-op when history is disabled.
func (r *Recorder) Start(ctx context.Context) {
	if r.store == nil || r.bus == nil {
		return
	}
	ch, unsub := r.bus.Subscribe(64)
	r.unsub = unsub
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Stop unsubscribes and waits for the consumer goroutine to drain.
func (r *Recorder) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	if r.done != nil {
		<-r.done
	}
}

func (r *Recorder) handle(e eventbus.Event) {
	var rec SendRecord
	switch e.Type {
	case eventbus.TypeNotifySent, eventbus.TypeNotifyFailed:
		sent, ok := e.Data.(announce.SentEvent)
		if !ok {
			return
		}
		rec = SendRecord{
			At:        e.Time,
			Source:    "cycle",
			EventID:   sent.EventID,
			Position:  sent.Position,
			Stage:     string(sent.Stage),
			Title:     sent.Title,
			EventDate: sent.Date,
			OK:        e.Type == eventbus.TypeNotifySent,
			Error:     sent.Error,
		}
	case eventbus.TypeBridgeNotify:
		notify, ok := e.Data.(bridge.NotifyEvent)
		if !ok {
			return
		}
		rec = SendRecord{
			At:     e.Time,
			Source: "bridge",
			Title:  "bridge notification to " + notify.ChannelID,
			OK:     notify.OK,
			Error:  notify.Error,
		}
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.AppendSend(ctx, rec); err != nil {
		r.log.Warn("failed to append send history", logx.Err(err))
	}
}
