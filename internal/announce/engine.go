package announce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cptbot/internal/eventbus"
	"cptbot/internal/metrics"
	"cptbot/internal/training"
	logx "cptbot/pkg/logx"
)

// Sink delivers one rendered CPT notification. Implemented by Notifier;
// swapped for a fake in tests.
type Sink interface {
	SendCPT(ctx context.Context, ev training.Event, title string) error
}

// Stats summarizes one processing pass.
type Stats struct {
	Total     int // events received from the API
	Filtered  int // dropped by the region prefix filter
	Processed int // passed the region filter
	Notified  int // notifications actually delivered
}

// SentEvent is published on the bus for every delivery attempt.
type SentEvent struct {
	EventID  string
	Position string
	Stage    Stage
	Title    string
	Date     string
	Error    string // empty on success
}

// Engine decides which CPTs deserve a notification right now.
//
// Two windows are evaluated per event, in order:
//   - "today": strictly more than 0 and at most 12 wall-clock hours away
//   - "3day":  2 to 4 calendar days ahead (UTC date components only)
//
// The hour window is checked first; once it fires, the day window is not
// considered for that event in the same pass.
type Engine struct {
	log  logx.Logger
	sink Sink
	bus  eventbus.Bus

	mu       sync.RWMutex
	prefixes []string
}

func NewEngine(prefixes []string, sink Sink, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{log: log, sink: sink, bus: bus}
	e.SetPrefixes(prefixes)
	return e
}

// SetPrefixes swaps the allowed position prefixes (config hot-reload).
func (e *Engine) SetPrefixes(prefixes []string) {
	clean := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p != "" {
			clean = append(clean, p)
		}
	}
	e.mu.Lock()
	e.prefixes = clean
	e.mu.Unlock()
}

func (e *Engine) Prefixes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.prefixes...)
}

// InRegion reports whether a position passes the prefix filter.
// Matching is case-sensitive, exact prefix, no wildcards.
func (e *Engine) InRegion(position string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, prefix := range e.prefixes {
		if strings.HasPrefix(position, prefix) {
			return true
		}
	}
	return false
}

// Process walks one batch of events and sends whatever is due, recording
// successful sends in rec. Calling it twice with the same batch and the same
// now sends nothing the second time. The caller owns rec and its persistence.
func (e *Engine) Process(ctx context.Context, events []training.Event, now time.Time, rec Record) Stats {
	st := Stats{Total: len(events)}
	e.log.Info("processing cpts", logx.Int("count", len(events)), logx.Time("now", now))

	for _, ev := range events {
		if !e.InRegion(ev.Position) {
			st.Filtered++
			e.log.Debug("cpt outside region, skipping",
				logx.String("id", ev.ID.String()), logx.String("position", ev.Position))
			continue
		}
		st.Processed++

		if strings.TrimSpace(ev.Date) == "" {
			e.log.Warn("cpt has no date, skipping", logx.String("id", ev.ID.String()))
			continue
		}
		eventTime, err := parseEventTime(ev.Date)
		if err != nil {
			e.log.Error("cpt has invalid date format, skipping",
				logx.String("id", ev.ID.String()), logx.String("date", ev.Date))
			continue
		}

		stage, title, ok := classify(eventTime, now)
		if !ok {
			e.log.Debug("no notification needed",
				logx.String("id", ev.ID.String()),
				logx.Float64("hours_left", eventTime.Sub(now).Hours()))
			continue
		}

		key := Key(ev.ID.String(), stage)
		if _, announced := rec[key]; announced {
			e.log.Debug("cpt already announced, skipping",
				logx.String("key", key))
			continue
		}

		e.log.Info("sending cpt notification",
			logx.String("key", key), logx.String("title", title))
		sent := SentEvent{
			EventID:  ev.ID.String(),
			Position: ev.Position,
			Stage:    stage,
			Title:    title,
			Date:     ev.Date,
		}
		if err := e.sink.SendCPT(ctx, ev, title); err != nil {
			// Not recorded: the next cycle retries.
			e.log.Error("failed to send cpt notification",
				logx.String("key", key), logx.Err(err))
			sent.Error = err.Error()
			metrics.NotificationsFailed.Inc()
			e.publish(eventbus.TypeNotifyFailed, sent)
			continue
		}
		dateStr := ev.Date
		rec[key] = &dateStr
		st.Notified++
		metrics.NotificationsSent.WithLabelValues(string(stage)).Inc()
		e.publish(eventbus.TypeNotifySent, sent)
	}

	e.log.Info("processed cpts",
		logx.Int("processed", st.Processed),
		logx.Int("filtered", st.Filtered),
		logx.Int("notified", st.Notified))
	return st
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// classify decides the stage and title for an event at the given time, or
// reports false when no notification is due.
func classify(eventTime, now time.Time) (Stage, string, bool) {
	hoursLeft := eventTime.Sub(now).Hours()
	daysDiff := calendarDayDiff(eventTime, now)

	switch {
	case hoursLeft > 0 && hoursLeft <= 12:
		return StageToday, "CPT Heute!", true
	case daysDiff >= 2 && daysDiff <= 4:
		// The "Morgen" fallback cannot trigger while the window starts at 2
		// days; it is left over from the earlier hour-based window and kept
		// so the title logic matches the historical behavior exactly.
		if daysDiff == 1 {
			return Stage3Day, "CPT Morgen!", true
		}
		return Stage3Day, fmt.Sprintf("CPT in %d Tagen!", daysDiff), true
	default:
		return "", "", false
	}
}

// calendarDayDiff counts whole calendar days between the two instants' UTC
// date components, ignoring time-of-day. An event at 19:00 three calendar
// days out therefore qualifies all day on its qualifying day, even with less
// than 72 actual hours remaining.
func calendarDayDiff(eventTime, now time.Time) int {
	ey, em, ed := eventTime.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	a := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}
