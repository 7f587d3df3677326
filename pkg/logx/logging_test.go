package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"TRACE", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate long = %q (len %d)", got, len(got))
	}
	if got := truncate(long, 5); got != "xxxxx" {
		t.Fatalf("truncate tiny = %q", got)
	}
}

func TestFormatDiscordJSON(t *testing.T) {
	line := `{"level":"error","time":"2026-02-07T19:00:00Z","message":"cpt fetch failed","status":502}`
	got := formatDiscordJSON([]byte(line))
	if !strings.HasPrefix(got, "**[ERROR]** cpt fetch failed") {
		t.Fatalf("formatted = %q, want level prefix and message", got)
	}
	if !strings.Contains(got, "status=502") {
		t.Fatalf("formatted = %q, want status field", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("formatted = %q, time must be stripped", got)
	}
}

func TestFormatDiscordJSONNonJSON(t *testing.T) {
	got := formatDiscordJSON([]byte("plain panic text\n"))
	if got != "plain panic text" {
		t.Fatalf("formatted = %q, want passthrough", got)
	}
}

func TestFormatDiscordJSONCapsLength(t *testing.T) {
	line := `{"level":"info","message":"` + strings.Repeat("a", 4000) + `"}`
	got := formatDiscordJSON([]byte(line))
	if len(got) > 1900 {
		t.Fatalf("formatted length = %d, must stay under the platform cap", len(got))
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger must report IsZero")
	}
	l := Nop()
	l.Info("ignored", String("k", "v"), Err(nil))
	l.With(Int("n", 1)).Error("also ignored")
}
