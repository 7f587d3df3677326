package announce

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	logx "cptbot/pkg/logx"
)

// Keep announced entries around for a day past the event before pruning,
// so a quick restart right after an event doesn't re-announce it.
const cleanupGrace = 24 * time.Hour

// Store persists the announcement record as a JSON object file.
//
// Two on-disk shapes are accepted on load:
//   - current: {"<id>_<stage>": "<iso8601>" | null, ...}
//   - legacy:  ["<id>_<stage>", ...] (no timestamps; upgraded to null values)
//
// Every failure inside the store degrades to a safe default and is logged;
// storage corruption must never take the poll loop down.
type Store struct {
	path string
	log  logx.Logger
}

func NewStore(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

// Load reads the persisted record. Missing file, unreadable file, and
// unrecognized content all yield an empty record.
func (s *Store) Load() Record {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Info("no announcement file found, starting fresh", logx.String("path", s.path))
		} else {
			s.log.Error("failed to read announcement file", logx.String("path", s.path), logx.Err(err))
		}
		return Record{}
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err == nil {
		if rec == nil {
			rec = Record{}
		}
		s.log.Info("loaded announced cpts", logx.Int("count", len(rec)))
		return rec
	}

	// Legacy format: a flat list of keys with no timestamps.
	var keys []string
	if err := json.Unmarshal(b, &keys); err == nil {
		rec = make(Record, len(keys))
		for _, k := range keys {
			rec[k] = nil
		}
		s.log.Info("migrated announcement file from list to map format", logx.Int("count", len(rec)))
		return rec
	}

	s.log.Warn("announcement file format unrecognized, starting with empty record", logx.String("path", s.path))
	return Record{}
}

// Save serializes the record to disk, creating the directory as needed.
// The write goes through a temp file and rename so a crash mid-write leaves
// either the old or the new file, never a torn one.
func (s *Store) Save(rec Record) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Error("failed to create state directory", logx.String("dir", dir), logx.Err(err))
		return
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.log.Error("failed to encode announcement record", logx.Err(err))
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		s.log.Error("failed to write announcement file", logx.String("path", tmp), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error("failed to replace announcement file", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.log.Debug("saved announced cpts", logx.Int("count", len(rec)))
}

// Cleanup removes entries whose event lies more than a day in the past, or
// whose timestamp no longer parses. Entries with a nil timestamp (legacy
// migration) are always kept. The file is rewritten only when something was
// actually removed. Returns the number of removed entries.
func (s *Store) Cleanup(rec Record, now time.Time) int {
	var remove []string
	for key, dateStr := range rec {
		if dateStr == nil {
			s.log.Debug("keeping legacy entry without date", logx.String("key", key))
			continue
		}
		eventDate, err := parseEventTime(*dateStr)
		if err != nil {
			s.log.Warn("invalid date in announcement record, removing",
				logx.String("key", key), logx.String("date", *dateStr))
			remove = append(remove, key)
			continue
		}
		if eventDate.Add(cleanupGrace).Before(now) {
			remove = append(remove, key)
		}
	}

	if len(remove) == 0 {
		s.log.Debug("no old cpt entries to clean up")
		return 0
	}

	for _, k := range remove {
		delete(rec, k)
	}
	s.log.Info("cleaned up old cpt entries", logx.Int("removed", len(remove)))
	s.Save(rec)
	return len(remove)
}
