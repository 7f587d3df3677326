package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the send-history store.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SendRecord is one delivered (or failed) notification.
// Keep it compact and schema-stable.
type SendRecord struct {
	At        time.Time `json:"at"`
	Source    string    `json:"source"` // "cycle" or "bridge"
	EventID   string    `json:"event_id,omitempty"`
	Position  string    `json:"position,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Title     string    `json:"title,omitempty"`
	EventDate string    `json:"event_date,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}
