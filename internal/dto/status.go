package dto

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status       string     `json:"status"`
	Cycle        CycleState `json:"cycle"`
	CameraActive bool       `json:"camera_active"`
	ReadyState   string     `json:"ready_state"`
	Visible      bool       `json:"visible"`
	Viewers      int        `json:"viewers"`
}

// VisibilityRequest is the body of POST /api/visibility.
type VisibilityRequest struct {
	Viewer string `json:"viewer"`
	State  string `json:"state"`
}
