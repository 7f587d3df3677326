package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "cptbot/pkg/logx"
)

func openTestFileStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "sends.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "NONE"} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if s != nil {
			t.Fatalf("driver %q: got store, want nil", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreAppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 7, 19, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := SendRecord{
			At:      base.Add(time.Duration(i) * time.Minute),
			Source:  "cycle",
			EventID: fmt.Sprintf("%d", i),
			Stage:   "today",
			OK:      true,
		}
		if err := s.AppendSend(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := s.RecentSends(ctx, 3)
	if err != nil {
		t.Fatalf("RecentSends: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Newest first.
	if got[0].EventID != "4" || got[2].EventID != "2" {
		t.Fatalf("order = %s..%s, want 4..2", got[0].EventID, got[2].EventID)
	}
}

func TestFileStoreSkipsTornLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sends.jsonl")
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.AppendSend(ctx, SendRecord{Source: "bridge", OK: true}); err != nil {
		t.Fatal(err)
	}
	// Simulate a torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"at":"2026-02-0`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := s.RecentSends(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSends: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1 (torn line skipped)", len(got))
	}
}

func TestFileStoreAppendAfterClose(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendSend(context.Background(), SendRecord{Source: "cycle"}); err == nil {
		t.Fatal("append after close: expected error")
	}
}
