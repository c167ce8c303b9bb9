package dnn

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"catwatch/internal/detector"
	"catwatch/internal/dto"
	"catwatch/internal/logger"

	"gocv.io/x/gocv"
)

// ssdInputSize is the square input of SSD MobileNet v1.
const ssdInputSize = 300

// Options selects the model files, the inference backend and the output filter.
type Options struct {
	ModelPath     string
	ConfigPath    string
	Backend       string // "opencv", "cuda", "openvino", "vulkan", ...; anything else is the default backend
	Target        string // "cpu", "fp32" (OpenCL), "fp16", "cuda", ...
	MinScore      float64
	MaxDetections int
}

// Engine runs an SSD MobileNet COCO graph through the OpenCV DNN module.
type Engine struct {
	opts   Options
	logger *logger.Logger

	mu    sync.Mutex // gocv.Net is not safe for concurrent use
	net   gocv.Net
	ready atomic.Bool
}

var _ detector.Engine = (*Engine)(nil)

func New(opts Options, logger *logger.Logger) *Engine {
	return &Engine{opts: opts, logger: logger}
}

// Load selects the backend/target and reads the network.
func (e *Engine) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(e.opts.ModelPath); err != nil {
		return fmt.Errorf("model file not found: %s: %w", e.opts.ModelPath, err)
	}
	if _, err := os.Stat(e.opts.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s: %w", e.opts.ConfigPath, err)
	}

	net := gocv.ReadNet(e.opts.ModelPath, e.opts.ConfigPath)
	if net.Empty() {
		net.Close()
		return fmt.Errorf("failed to load network from %s", e.opts.ModelPath)
	}

	backend := gocv.ParseNetBackend(e.opts.Backend)
	target := gocv.ParseNetTarget(e.opts.Target)
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return fmt.Errorf("failed to set backend %q: %w", e.opts.Backend, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return fmt.Errorf("failed to set target %q: %w", e.opts.Target, err)
	}
	e.logger.Info("DNN backend %q, target %q selected", e.opts.Backend, e.opts.Target)

	e.mu.Lock()
	if e.ready.Load() {
		e.net.Close()
	}
	e.net = net
	e.mu.Unlock()
	e.ready.Store(true)

	e.logger.Info("Detection network initialized from %s", e.opts.ModelPath)
	return nil
}

func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Detect runs the network on a JPEG frame.
func (e *Engine) Detect(ctx context.Context, frame dto.Frame) ([]dto.Prediction, error) {
	if !e.ready.Load() {
		return nil, detector.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame %d is empty", frame.Seq)
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(ssdInputSize, ssdInputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	e.mu.Lock()
	if !e.ready.Load() {
		e.mu.Unlock()
		return nil, detector.ErrNotReady
	}
	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	e.mu.Unlock()
	defer output.Close()

	// Rows are [batch_id, class_id, confidence, x1, y1, x2, y2] with normalized corners.
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	return parseDetections(rows, float32(mat.Cols()), float32(mat.Rows()), e.opts), nil
}

// parseDetections turns SSD output rows into predictions in pixel space:
// rows under MinScore are dropped, corners are clamped to the frame, the
// result is sorted by descending score and capped at MaxDetections.
func parseDetections(rows gocv.Mat, width, height float32, opts Options) []dto.Prediction {
	predictions := make([]dto.Prediction, 0, rows.Rows())
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if float64(confidence) < opts.MinScore {
			continue
		}
		x1 := clamp(rows.GetFloatAt(i, 3)) * width
		y1 := clamp(rows.GetFloatAt(i, 4)) * height
		x2 := clamp(rows.GetFloatAt(i, 5)) * width
		y2 := clamp(rows.GetFloatAt(i, 6)) * height

		predictions = append(predictions, dto.Prediction{
			Class: detector.ClassLabel(int(rows.GetFloatAt(i, 1))),
			Score: float64(confidence),
			Box: dto.Box{
				X:      int(x1),
				Y:      int(y1),
				Width:  int(x2 - x1),
				Height: int(y2 - y1),
			},
		})
	}

	sort.SliceStable(predictions, func(a, b int) bool {
		return predictions[a].Score > predictions[b].Score
	})
	if opts.MaxDetections > 0 && len(predictions) > opts.MaxDetections {
		predictions = predictions[:opts.MaxDetections]
	}
	return predictions
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready.Swap(false) {
		return nil
	}
	return e.net.Close()
}

func clamp(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
