package dto

import (
	"encoding/json"
	"time"
)

// LogEntry is one line of the page log panel.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	IsError bool      `json:"is_error"`
	Raw     string    `json:"raw,omitempty"`
}

// Color is the panel color for the entry.
func (e LogEntry) Color() string {
	if e.IsError {
		return "red"
	}
	return "blue"
}

// MarshalJSON adds the panel color so pages do not repeat the rule.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	type entry LogEntry
	return json.Marshal(struct {
		entry
		Color string `json:"color"`
	}{entry(e), e.Color()})
}
