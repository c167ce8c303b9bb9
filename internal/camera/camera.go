package camera

import (
	"errors"

	"catwatch/internal/dto"
)

// Facing modes understood by openers.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

var (
	// ErrUnsupported means the host has no usable capture backend.
	ErrUnsupported = errors.New("camera capture not supported")
	// ErrNotFound means no device satisfies the constraints.
	ErrNotFound = errors.New("camera not found")
	// ErrNotAllowed means the device exists but access was denied.
	ErrNotAllowed = errors.New("camera access not allowed")
	// ErrStreamEnded is returned by a stream that stopped producing frames.
	ErrStreamEnded = errors.New("camera stream ended")
	// ErrEmptyFrame is a transient read without image data.
	ErrEmptyFrame = errors.New("empty camera frame")
)

// Constraints describe the requested stream. Zero Width/Height leave the
// resolution to the device; non-zero values are ideals, not requirements.
type Constraints struct {
	FacingMode string
	Width      int
	Height     int
}

// FallbackConstraints is the relaxed request used after a not-found or not-allowed failure.
var FallbackConstraints = Constraints{FacingMode: FacingUser}

// Stream is an open camera stream.
type Stream interface {
	// ReadFrame blocks until the next frame is available.
	ReadFrame() (dto.Frame, error)
	// Close stops the stream and frees the device.
	Close() error
}

// Opener opens camera streams.
type Opener interface {
	Open(c Constraints) (Stream, error)
}
