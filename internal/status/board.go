package status

import "sync"

// Human readable status texts shown on the page.
const (
	Loading          = "Loading detection model..."
	ModelLoaded      = "Model loaded. Starting camera..."
	RequestingCamera = "Requesting access to the camera..."
	CameraStarted    = "Camera started successfully!"
	CameraError      = "Error accessing the camera. Please allow access."
	NoCamera         = "Could not access any camera."
	Unsupported      = "Camera capture is not supported on this host."
	Starting         = "🔍 Starting detection..."
	TargetFound      = "😺 Cat detected!"
	TargetMissing    = "🔍 No cat detected."
	Paused           = "⏸️ Detection paused"
)

// Board holds the single status text and notifies listeners on change.
type Board struct {
	mu        sync.RWMutex
	text      string
	listeners []func(string)
}

func NewBoard() *Board {
	return &Board{}
}

// Set replaces the status text. Listeners run synchronously and must not block.
func (b *Board) Set(text string) {
	b.mu.Lock()
	b.text = text
	listeners := append([]func(string){}, b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(text)
	}
}

// Text returns the current status text.
func (b *Board) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

// OnChange registers fn for every future Set.
func (b *Board) OnChange(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}
