package detector

import (
	"context"
	"errors"

	"catwatch/internal/dto"
)

const (
	// DefaultTarget is the class whose presence is reported on the status board.
	DefaultTarget = "cat"
	// DefaultThreshold is the score a target prediction must exceed.
	DefaultThreshold = 0.6
)

// ErrNotReady is returned by Detect before Load completed.
var ErrNotReady = errors.New("detection model not loaded")

// Engine wraps a pretrained object detector.
type Engine interface {
	// Load prepares the inference backend and reads the model. It must succeed before Detect.
	Load(ctx context.Context) error
	Ready() bool
	// Detect returns the predictions for one frame, highest score first.
	Detect(ctx context.Context, frame dto.Frame) ([]dto.Prediction, error)
	Close() error
}

// TargetDetected reports whether any prediction is of class label with a
// score strictly above threshold.
func TargetDetected(predictions []dto.Prediction, label string, threshold float64) bool {
	for _, p := range predictions {
		if p.Class == label && p.Score > threshold {
			return true
		}
	}
	return false
}
