package announce

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cptbot/internal/metrics"
	"cptbot/internal/training"
)

type fakeSource struct {
	mu     sync.Mutex
	events []training.Event
	err    error
	calls  int
}

func (f *fakeSource) Fetch(context.Context) ([]training.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events, f.err
}

func newTestChecker(t *testing.T, source Source, sink Sink) *Checker {
	t.Helper()
	eng := NewEngine([]string{"EDMM"}, sink, nil, testLogger())
	store := NewStore(filepath.Join(t.TempDir(), "cpts.json"), testLogger())
	return NewChecker(source, eng, store, nil, testLogger())
}

func TestRunCycleNotifiesAndPersists(t *testing.T) {
	t.Parallel()
	eventDate := time.Now().UTC().Add(6 * time.Hour).Format(time.RFC3339)
	src := &fakeSource{events: []training.Event{
		{ID: "42", Position: "EDMM_APP", Date: eventDate},
	}}
	sink := &fakeSink{}
	c := newTestChecker(t, src, sink)
	c.Prime()

	res := c.RunCycle(context.Background())
	if res.Notified != 1 {
		t.Fatalf("notified = %d, want 1", res.Notified)
	}
	if c.AnnouncedCount() != 1 {
		t.Fatalf("announced count = %d, want 1", c.AnnouncedCount())
	}

	// The record survives a restart: a fresh checker over the same store
	// file announces nothing for the same batch.
	c2 := NewChecker(src, NewEngine([]string{"EDMM"}, sink, nil, testLogger()), c.store, nil, testLogger())
	c2.Prime()
	res2 := c2.RunCycle(context.Background())
	if res2.Notified != 0 {
		t.Fatalf("notified after restart = %d, want 0", res2.Notified)
	}
}

func TestRunCycleFetchErrorIsContained(t *testing.T) {
	t.Parallel()
	src := &fakeSource{err: errors.New("api down")}
	c := newTestChecker(t, src, &fakeSink{})
	c.Prime()

	res := c.RunCycle(context.Background())
	if res.Total != 0 || res.Notified != 0 {
		t.Fatalf("cycle on fetch error = %+v, want empty", res)
	}
}

func TestManualCheckNoEvents(t *testing.T) {
	t.Parallel()
	c := newTestChecker(t, &fakeSource{}, &fakeSink{})
	got := c.ManualCheck(context.Background())
	want := "Keine CPTs vom API erhalten. Prüfe die Logs für Details."
	if got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}

func TestManualCheckWithNewNotifications(t *testing.T) {
	t.Parallel()
	eventDate := time.Now().UTC().Add(6 * time.Hour).Format(time.RFC3339)
	src := &fakeSource{events: []training.Event{
		{ID: "42", Position: "EDMM_APP", Date: eventDate, TraineeName: "Max Mustermann"},
		{ID: "43", Position: "EDGG_CTR", Date: eventDate, TraineeName: "Erika"},
	}}
	c := newTestChecker(t, src, &fakeSink{})
	c.Prime()

	got := c.ManualCheck(context.Background())
	if !strings.HasPrefix(got, "Fertig. 1 neue Benachrichtigungen gesendet.\n") {
		t.Fatalf("summary = %q, want sent prefix", got)
	}
	if !strings.Contains(got, "CPTs in FIR gefunden: 1/2") {
		t.Fatalf("summary = %q, want region ratio 1/2", got)
	}
	if !strings.Contains(got, "Beispiel CPTs:\n- EDMM_APP am "+eventDate+": Max Mustermann") {
		t.Fatalf("summary = %q, want sample line", got)
	}
}

func TestManualCheckNothingNew(t *testing.T) {
	t.Parallel()
	// Event is a week out, so no window matches and nothing is sent.
	eventDate := time.Now().UTC().Add(7 * 24 * time.Hour).Format(time.RFC3339)
	src := &fakeSource{events: []training.Event{
		{ID: "42", Position: "EDMM_APP", Date: eventDate, TraineeName: "Max"},
	}}
	c := newTestChecker(t, src, &fakeSink{})
	c.Prime()

	got := c.ManualCheck(context.Background())
	if !strings.HasPrefix(got, "Fertig. Keine neuen CPTs gefunden.\n") {
		t.Fatalf("summary = %q, want no-new prefix", got)
	}
	if !strings.Contains(got, "CPTs in FIR: 1/1") {
		t.Fatalf("summary = %q, want region ratio 1/1", got)
	}
}

func TestManualCheckNoneInRegion(t *testing.T) {
	t.Parallel()
	eventDate := time.Now().UTC().Add(6 * time.Hour).Format(time.RFC3339)
	src := &fakeSource{events: []training.Event{
		{ID: "9", Position: "LOWW_TWR", Date: eventDate},
	}}
	c := newTestChecker(t, src, &fakeSink{})
	c.Prime()

	got := c.ManualCheck(context.Background())
	if !strings.Contains(got, "Keine CPTs in der FIR (EDMM) gefunden.") {
		t.Fatalf("summary = %q, want empty-region hint", got)
	}
}

// Not parallel: it reads the process-wide cycle counter.
func TestManualCheckCountsAsCycle(t *testing.T) {
	c := newTestChecker(t, &fakeSource{}, &fakeSink{})
	before := testutil.ToFloat64(metrics.CheckCycles)
	c.ManualCheck(context.Background())
	if got := testutil.ToFloat64(metrics.CheckCycles) - before; got != 1 {
		t.Fatalf("cycle counter delta = %v, want 1", got)
	}
}

func TestCycleAndManualCheckSerialize(t *testing.T) {
	t.Parallel()
	eventDate := time.Now().UTC().Add(6 * time.Hour).Format(time.RFC3339)
	src := &fakeSource{events: []training.Event{
		{ID: "42", Position: "EDMM_APP", Date: eventDate},
	}}
	sink := &fakeSink{}
	c := newTestChecker(t, src, sink)
	c.Prime()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(manual bool) {
			defer wg.Done()
			if manual {
				c.ManualCheck(context.Background())
			} else {
				c.RunCycle(context.Background())
			}
		}(i%2 == 0)
	}
	wg.Wait()

	// However the runs interleave, the dedup key holds: one send total.
	if len(sink.sent) != 1 {
		t.Fatalf("sink called %d times across concurrent runs, want 1", len(sink.sent))
	}
}
