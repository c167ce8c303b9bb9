package dnn

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"catwatch/internal/detector"
	"catwatch/internal/dto"
	"catwatch/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	var buf bytes.Buffer
	return New(opts, logger.NewWriterLogger(&buf))
}

func TestLoad_MissingModel(t *testing.T) {
	dir := t.TempDir()
	e := testEngine(t, Options{
		ModelPath:  filepath.Join(dir, "missing.pb"),
		ConfigPath: filepath.Join(dir, "missing.pbtxt"),
	})

	err := e.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
	assert.False(t, e.Ready())
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := testEngine(t, Options{})
	assert.ErrorIs(t, e.Load(ctx), context.Canceled)
}

func TestDetect_BeforeLoad(t *testing.T) {
	e := testEngine(t, Options{})

	_, err := e.Detect(context.Background(), dto.Frame{Data: []byte{0xFF, 0xD8}, Width: 1, Height: 1})
	assert.ErrorIs(t, err, detector.ErrNotReady)
	assert.NoError(t, e.Close())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, float32(0), clamp(-0.2))
	assert.Equal(t, float32(0.5), clamp(0.5))
	assert.Equal(t, float32(1), clamp(1.7))
}

// ssdRows builds an SSD output matrix: [batch, class, score, x1, y1, x2, y2] per row.
func ssdRows(t *testing.T, rows [][7]float32) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(len(rows), 7, gocv.MatTypeCV32F)
	t.Cleanup(func() { m.Close() })
	for i, row := range rows {
		for j, v := range row {
			m.SetFloatAt(i, j, v)
		}
	}
	return m
}

func TestParseDetections(t *testing.T) {
	rows := ssdRows(t, [][7]float32{
		{0, 18, 0.55, 0.1, 0.1, 0.2, 0.2},  // dog
		{0, 17, 0.92, 0.25, 0.5, 0.75, 1},  // cat
		{0, 1, 0.3, 0, 0, 1, 1},            // person under the floor
		{0, 62, 0.7, -0.5, -0.1, 1.4, 0.5}, // chair spilling out of the frame
	})

	got := parseDetections(rows, 640, 480, Options{MinScore: 0.5, MaxDetections: 20})

	require.Len(t, got, 3)
	assert.Equal(t, dto.Prediction{Class: "cat", Score: float64(float32(0.92)), Box: dto.Box{X: 160, Y: 240, Width: 320, Height: 240}}, got[0])
	assert.Equal(t, "chair", got[1].Class)
	assert.Equal(t, dto.Box{X: 0, Y: 0, Width: 640, Height: 240}, got[1].Box)
	assert.Equal(t, "dog", got[2].Class)
	assert.Equal(t, dto.Box{X: 64, Y: 48, Width: 64, Height: 48}, got[2].Box)
}

func TestParseDetections_FloorIsInclusive(t *testing.T) {
	rows := ssdRows(t, [][7]float32{{0, 17, 0.5, 0, 0, 1, 1}})

	got := parseDetections(rows, 100, 100, Options{MinScore: 0.5})
	require.Len(t, got, 1)
	assert.Equal(t, "cat", got[0].Class)
}

func TestParseDetections_CapsAtMaxDetections(t *testing.T) {
	rows := ssdRows(t, [][7]float32{
		{0, 17, 0.6, 0, 0, 1, 1},
		{0, 18, 0.9, 0, 0, 1, 1},
		{0, 1, 0.8, 0, 0, 1, 1},
		{0, 3, 0.7, 0, 0, 1, 1},
	})

	got := parseDetections(rows, 100, 100, Options{MinScore: 0.5, MaxDetections: 2})

	require.Len(t, got, 2)
	assert.Equal(t, "dog", got[0].Class)
	assert.Equal(t, "person", got[1].Class)
}
