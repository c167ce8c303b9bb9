package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"catwatch/internal/logger"
	"catwatch/internal/metrics"
	"catwatch/internal/status"
)

// Manager owns the single camera stream of a session and binds it to a Surface.
type Manager struct {
	opener       Opener
	surface      *Surface
	status       *status.Board
	journal      *logger.Journal
	metrics      *metrics.Metrics
	startTimeout time.Duration

	// mu serializes Acquire and Release, including the first frame wait
	mu     sync.Mutex
	stream Stream
	held   atomic.Bool
}

// NewManager creates a Manager. A nil opener makes every Acquire fail with ErrUnsupported.
// startTimeout bounds the wait for the first frame; zero waits on the context only.
func NewManager(opener Opener, surface *Surface, board *status.Board, journal *logger.Journal, m *metrics.Metrics, startTimeout time.Duration) *Manager {
	return &Manager{
		opener:       opener,
		surface:      surface,
		status:       board,
		journal:      journal,
		metrics:      m,
		startTimeout: startTimeout,
	}
}

// Acquire releases any held stream, opens a new one with c and returns once
// the first frame is on the surface. A not-found or not-allowed failure is
// retried once with FallbackConstraints.
func (m *Manager) Acquire(ctx context.Context, c Constraints) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.releaseLocked(); err != nil {
		m.journal.Error(fmt.Sprintf("Error stopping previous camera stream: %v", err))
	}

	m.journal.Info("Checking camera support...")
	if m.opener == nil {
		m.status.Set(status.Unsupported)
		m.metrics.CameraAcquisitions.WithLabelValues(metrics.AcquireFailed).Inc()
		return ErrUnsupported
	}

	m.status.Set(status.RequestingCamera)
	m.journal.Info(fmt.Sprintf("Trying to access the camera (%s, %dx%d)...", c.FacingMode, c.Width, c.Height))

	result := metrics.AcquirePrimary
	stream, err := m.opener.Open(c)
	if err != nil {
		m.journal.Error(fmt.Sprintf("Camera error: %v", err))
		if errors.Is(err, ErrUnsupported) {
			m.status.Set(status.Unsupported)
			m.metrics.CameraAcquisitions.WithLabelValues(metrics.AcquireFailed).Inc()
			return err
		}
		m.status.Set(status.CameraError)
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrNotAllowed) {
			m.metrics.CameraAcquisitions.WithLabelValues(metrics.AcquireFailed).Inc()
			return err
		}

		m.journal.Info("Retrying with the front camera")
		stream, err = m.opener.Open(FallbackConstraints)
		if err != nil {
			m.journal.Error(fmt.Sprintf("Error accessing front camera: %v", err))
			m.status.Set(status.NoCamera)
			m.metrics.CameraAcquisitions.WithLabelValues(metrics.AcquireFailed).Inc()
			return fmt.Errorf("fallback camera: %w", err)
		}
		result = metrics.AcquireFallback
	}

	m.journal.Info("Camera configured successfully")
	if err := m.bindLocked(ctx, stream); err != nil {
		m.journal.Error(fmt.Sprintf("Camera error: %v", err))
		m.status.Set(status.CameraError)
		m.metrics.CameraAcquisitions.WithLabelValues(metrics.AcquireFailed).Inc()
		return err
	}

	m.status.Set(status.CameraStarted)
	m.metrics.CameraAcquisitions.WithLabelValues(result).Inc()
	return nil
}

func (m *Manager) bindLocked(ctx context.Context, stream Stream) error {
	loaded, done := m.surface.Bind(stream)
	m.stream = stream
	m.held.Store(true)
	m.metrics.StreamOpen.Set(1)

	waitCtx := ctx
	if m.startTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.startTimeout)
		defer cancel()
	}

	select {
	case <-loaded:
		m.journal.Info("Video metadata loaded")
		return nil
	case <-done:
		cause := m.surface.Err()
		if cause == nil {
			cause = ErrStreamEnded
		}
		m.releaseLocked()
		return fmt.Errorf("camera stream ended before the first frame: %w", cause)
	case <-waitCtx.Done():
		m.releaseLocked()
		return fmt.Errorf("waiting for the first frame: %w", waitCtx.Err())
	}
}

// Release stops the held stream and detaches it from the surface.
// It is a no-op when nothing is held.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked()
}

func (m *Manager) releaseLocked() error {
	if m.stream == nil {
		return nil
	}
	m.surface.Detach()
	err := m.stream.Close()
	m.stream = nil
	m.held.Store(false)
	m.metrics.StreamOpen.Set(0)
	m.metrics.CameraReleases.Inc()
	m.journal.Info("Camera stopped")
	return err
}

// Active reports whether a stream is held.
// It never waits for an acquisition in progress.
func (m *Manager) Active() bool {
	return m.held.Load()
}

// Surface returns the surface streams are bound to.
func (m *Manager) Surface() *Surface {
	return m.surface
}
