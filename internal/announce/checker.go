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

// Source lists upcoming CPTs. Implemented by training.Client.
type Source interface {
	Fetch(ctx context.Context) ([]training.Event, error)
}

// CycleResult is published on the bus after every completed check cycle.
type CycleResult struct {
	Stats
	Removed int // entries pruned by cleanup
	Took    time.Duration
}

// Checker owns the announcement record and runs the periodic check cycle:
// cleanup -> fetch -> process -> save.
//
// The record is a single-writer resource: the scheduled cycle and the manual
// trigger both serialize on mu, so a manual check can never interleave with a
// running cycle.
type Checker struct {
	log    logx.Logger
	source Source
	engine *Engine
	store  *Store
	bus    eventbus.Bus

	mu  sync.Mutex
	rec Record
}

func NewChecker(source Source, engine *Engine, store *Store, bus eventbus.Bus, log logx.Logger) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{
		log:    log,
		source: source,
		engine: engine,
		store:  store,
		bus:    bus,
		rec:    Record{},
	}
}

// Prime loads the persisted record into memory. Call once at startup, after
// the chat adapter is ready and before the first cycle.
func (c *Checker) Prime() {
	c.mu.Lock()
	c.rec = c.store.Load()
	c.mu.Unlock()
}

// AnnouncedCount returns the number of tracked dedup keys.
func (c *Checker) AnnouncedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rec)
}

// RunCycle executes one scheduled check. All failures are contained: a dead
// API or broken state file produces an empty cycle, never an error upward.
func (c *Checker) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	c.log.Info("starting scheduled cpt check")
	metrics.CheckCycles.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	removed := c.store.Cleanup(c.rec, now)

	events, err := c.source.Fetch(ctx)
	if err != nil {
		c.log.Error("cpt fetch failed, treating as empty", logx.Err(err))
		metrics.FetchErrors.Inc()
		events = nil
	}

	stats := c.engine.Process(ctx, events, now, c.rec)
	c.store.Save(c.rec)

	res := CycleResult{Stats: stats, Removed: removed, Took: time.Since(start)}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleDone, Data: res})
	}
	c.log.Info("cpt check complete",
		logx.Int("notified", stats.Notified),
		logx.Int("removed", removed),
		logx.Duration("took", res.Took))
	return res
}

// ManualCheck runs fetch -> filter -> process -> save on demand and returns a
// human-readable summary for the operator (counts plus a sample of matched
// events). The summary strings are user-facing and stay in German.
func (c *Checker) ManualCheck(ctx context.Context) string {
	c.log.Info("manual cpt check triggered")
	metrics.CheckCycles.Inc()

	events, err := c.source.Fetch(ctx)
	if err != nil {
		c.log.Error("manual cpt fetch failed", logx.Err(err))
		metrics.FetchErrors.Inc()
	}
	if len(events) == 0 {
		return "Keine CPTs vom API erhalten. Prüfe die Logs für Details."
	}

	var inRegion []training.Event
	for _, ev := range events {
		if c.engine.InRegion(ev.Position) {
			inRegion = append(inRegion, ev)
		}
	}
	c.log.Info("manual check region filter",
		logx.Int("in_region", len(inRegion)), logx.Int("total", len(events)))

	var sample []string
	for i, ev := range inRegion {
		if i == 5 {
			break
		}
		sample = append(sample, fmt.Sprintf("- %s am %s: %s", ev.Position, ev.Date, ev.TraineeName))
	}

	c.mu.Lock()
	countBefore := len(c.rec)
	now := time.Now().UTC()
	c.engine.Process(ctx, events, now, c.rec)
	countAfter := len(c.rec)
	if countAfter > countBefore {
		c.store.Save(c.rec)
	}
	c.mu.Unlock()

	var b strings.Builder
	if countAfter > countBefore {
		fmt.Fprintf(&b, "Fertig. %d neue Benachrichtigungen gesendet.\n", countAfter-countBefore)
		fmt.Fprintf(&b, "CPTs in FIR gefunden: %d/%d", len(inRegion), len(events))
		if len(sample) > 0 {
			b.WriteString("\n\nBeispiel CPTs:\n")
			b.WriteString(strings.Join(sample, "\n"))
		}
	} else {
		b.WriteString("Fertig. Keine neuen CPTs gefunden.\n")
		fmt.Fprintf(&b, "CPTs in FIR: %d/%d", len(inRegion), len(events))
		if len(sample) > 0 {
			b.WriteString("\n\nBeispiel CPTs:\n")
			b.WriteString(strings.Join(sample, "\n"))
		} else {
			fmt.Fprintf(&b, "\nKeine CPTs in der FIR (%s) gefunden.", strings.Join(c.engine.Prefixes(), ", "))
		}
	}

	msg := b.String()
	c.log.Info("manual cpt check complete", logx.Int("new", countAfter-countBefore))
	return msg
}
