package handler

import (
	"catwatch/internal/dto"
	"catwatch/internal/visibility"
)

// Session is the view of the running detector the HTTP surface needs.
type Session interface {
	Status() dto.StatusResponse
	Frame() (dto.Frame, bool)
	LogEntries() []dto.LogEntry
	UpdateVisibility(viewerID string, state visibility.State)
	ForgetViewer(viewerID string)
	// Greeting returns the messages sent to a viewer right after it connects.
	Greeting() []dto.Message
}
