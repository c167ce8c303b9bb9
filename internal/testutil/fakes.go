// Package testutil holds fakes for the camera and detector contracts.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"catwatch/internal/camera"
	"catwatch/internal/detector"
	"catwatch/internal/dto"
)

// SampleFrame returns a tiny frame that passes readiness checks.
func SampleFrame() dto.Frame {
	return dto.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 640, Height: 480}
}

// FakeStream produces SampleFrame every Delay until closed.
type FakeStream struct {
	Delay     time.Duration
	NoFrames  bool // only ever returns camera.ErrEmptyFrame
	Blank     bool // returns zero frames without an error
	FailAfter int  // ends the stream after this many frames; 0 never ends

	reads  atomic.Int64
	closed atomic.Bool
}

func (s *FakeStream) ReadFrame() (dto.Frame, error) {
	delay := s.Delay
	if delay == 0 {
		delay = time.Millisecond
	}
	time.Sleep(delay)

	if s.closed.Load() {
		return dto.Frame{}, camera.ErrStreamEnded
	}
	if s.NoFrames {
		return dto.Frame{}, camera.ErrEmptyFrame
	}
	if s.Blank {
		return dto.Frame{}, nil
	}
	n := s.reads.Add(1)
	if s.FailAfter > 0 && n > int64(s.FailAfter) {
		return dto.Frame{}, camera.ErrStreamEnded
	}
	return SampleFrame(), nil
}

func (s *FakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *FakeStream) Closed() bool {
	return s.closed.Load()
}

// FakeOpener records every Open call. Errors[i] is returned by the i-th call
// when set; otherwise a new FakeStream built by NewStream (or a default one) is returned.
type FakeOpener struct {
	Errors    []error
	NewStream func() *FakeStream

	mu      sync.Mutex
	calls   []camera.Constraints
	streams []*FakeStream
}

func (o *FakeOpener) Open(c camera.Constraints) (camera.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	idx := len(o.calls)
	o.calls = append(o.calls, c)
	if idx < len(o.Errors) && o.Errors[idx] != nil {
		return nil, o.Errors[idx]
	}

	s := &FakeStream{}
	if o.NewStream != nil {
		s = o.NewStream()
	}
	o.streams = append(o.streams, s)
	return s, nil
}

// Calls returns the constraints of every Open call in order.
func (o *FakeOpener) Calls() []camera.Constraints {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]camera.Constraints(nil), o.calls...)
}

// Streams returns every stream handed out.
func (o *FakeOpener) Streams() []*FakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*FakeStream(nil), o.streams...)
}

// OpenStreams counts streams that were not closed yet.
func (o *FakeOpener) OpenStreams() int {
	n := 0
	for _, s := range o.Streams() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// FakeEngine is a scripted detector.Engine. Results are returned in order,
// the last one repeating. When Gate is set every Detect waits for a value on it.
type FakeEngine struct {
	LoadErr error
	Results [][]dto.Prediction
	Err     error
	Gate    chan struct{}

	mu          sync.Mutex
	ready       bool
	calls       int
	inFlight    int
	maxInFlight int
}

var _ detector.Engine = (*FakeEngine)(nil)

func (e *FakeEngine) Load(ctx context.Context) error {
	if e.LoadErr != nil {
		return e.LoadErr
	}
	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	return nil
}

func (e *FakeEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *FakeEngine) Detect(ctx context.Context, frame dto.Frame) ([]dto.Prediction, error) {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return nil, detector.ErrNotReady
	}
	idx := e.calls
	e.calls++
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	var result []dto.Prediction
	if n := len(e.Results); n > 0 {
		if idx >= n {
			idx = n - 1
		}
		result = e.Results[idx]
	}
	err := e.Err
	gate := e.Gate
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	return nil
}

// Calls returns how many times Detect was entered.
func (e *FakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// MaxInFlight returns the highest number of concurrent Detect calls seen.
func (e *FakeEngine) MaxInFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxInFlight
}
