package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"catwatch/internal/dto"
)

// ReadyState mirrors how much of a bound stream is available.
type ReadyState int

const (
	// HaveNothing: no stream bound, or the bound stream failed.
	HaveNothing ReadyState = iota
	// HaveMetadata: a stream is bound but no frame arrived yet.
	HaveMetadata
	// HaveEnoughData: a current frame can be sampled.
	HaveEnoughData
)

func (r ReadyState) String() string {
	switch r {
	case HaveMetadata:
		return "metadata"
	case HaveEnoughData:
		return "enough_data"
	default:
		return "nothing"
	}
}

// Surface is what a stream is bound to: it pumps frames from the stream in
// the background and keeps the latest one.
type Surface struct {
	mu     sync.RWMutex
	state  ReadyState
	latest dto.Frame
	seq    uint64
	err    error

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

func NewSurface() *Surface {
	return &Surface{now: time.Now}
}

// Bind detaches any previous stream and starts pumping frames from stream.
// loaded is closed on the first frame; done is closed when the pump exits.
func (s *Surface) Bind(stream Stream) (loaded, done <-chan struct{}) {
	s.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	loadedCh := make(chan struct{})
	doneCh := make(chan struct{})

	s.mu.Lock()
	s.state = HaveMetadata
	s.err = nil
	s.cancel = cancel
	s.done = doneCh
	s.mu.Unlock()

	go s.pump(ctx, stream, loadedCh, doneCh)
	return loadedCh, doneCh
}

// Detach stops the pump and waits for it to exit. The stream itself is left open.
func (s *Surface) Detach() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	s.state = HaveNothing
	s.latest = dto.Frame{}
	s.mu.Unlock()
}

func (s *Surface) pump(ctx context.Context, stream Stream, loaded, done chan struct{}) {
	defer close(done)
	first := true

	for ctx.Err() == nil {
		frame, err := stream.ReadFrame()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrEmptyFrame) {
			continue
		}
		if err != nil {
			s.mu.Lock()
			s.state = HaveNothing
			s.latest = dto.Frame{}
			s.err = err
			s.mu.Unlock()
			return
		}
		if frame.Empty() {
			continue
		}

		s.mu.Lock()
		s.seq++
		frame.Seq = s.seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = s.now()
		}
		s.latest = frame
		s.state = HaveEnoughData
		s.mu.Unlock()

		if first {
			close(loaded)
			first = false
		}
	}
}

// ReadyState reports the current readiness.
func (s *Surface) ReadyState() ReadyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Frame returns the latest frame when a full frame is ready.
func (s *Surface) Frame() (dto.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != HaveEnoughData {
		return dto.Frame{}, false
	}
	return s.latest, true
}

// Err returns the error that stopped the last pump, if any.
func (s *Surface) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
