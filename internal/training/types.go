package training

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an opaque event identifier. The training API has sent both JSON
// numbers and JSON strings for it over time, so accept either.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Event is one upcoming CPT as delivered by the training API.
//
// Date stays a raw string here; parsing (and skipping events with a bad date)
// is the eligibility engine's job. Display fields pass through untouched.
type Event struct {
	ID              ID     `json:"id"`
	Position        string `json:"position"`
	Date            string `json:"date"`
	TraineeName     string `json:"trainee_name"`
	TraineeVatsimID ID     `json:"trainee_vatsim_id"`
	CourseName      string `json:"course_name"`
	LocalName       string `json:"local_name"`
}
