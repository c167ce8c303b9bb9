package dto

// Message types exchanged with viewer pages over the websocket.
const (
	MessageStatus     = "status"
	MessageLog        = "log"
	MessageCycle      = "cycle"
	MessageVisibility = "visibility"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	// State is set by clients on visibility messages ("hidden" or "visible").
	State string `json:"state,omitempty"`
}

// CycleState is a snapshot of the detection duty cycle.
type CycleState struct {
	Active       bool   `json:"active"`
	Generation   uint64 `json:"generation"`
	InnerRunning bool   `json:"inner_running"`
	InFlight     bool   `json:"in_flight"`
	Toggles      uint64 `json:"toggles"`
}
