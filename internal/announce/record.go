package announce

import (
	"strings"
	"time"
)

// Stage is the notification category for an event at a given lead time.
type Stage string

const (
	StageToday Stage = "today"
	Stage3Day  Stage = "3day"
)

// Key builds the dedup key for one (event, stage) pair, e.g. "139_3day".
// Once a key is recorded, that stage is never announced again for the event.
func Key(eventID string, stage Stage) string {
	return eventID + "_" + string(stage)
}

// Record maps dedup keys to the announced event's timestamp string.
//
// A nil value marks a legacy entry migrated from the old list-only file
// format; its original timestamp is unrecoverable, so cleanup never touches it.
type Record map[string]*string

// Clone returns a shallow copy. Values are shared, which is fine because
// entries are only ever replaced, not mutated in place.
func (r Record) Clone() Record {
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// parseEventTime parses the ISO-8601 timestamps the training API emits.
// The API has sent several shapes over time (offset, Z suffix, naive);
// naive timestamps are taken as UTC.
func parseEventTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	layouts := []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
