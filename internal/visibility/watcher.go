package visibility

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"catwatch/internal/camera"
	"catwatch/internal/logger"
)

// State is a page visibility state.
type State string

const (
	Hidden  State = "hidden"
	Visible State = "visible"
)

// ParseState accepts the values of document.visibilityState.
func ParseState(s string) (State, error) {
	switch State(s) {
	case Hidden, Visible:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown visibility state %q", s)
}

// Camera is what the watcher starts and stops.
type Camera interface {
	Acquire(ctx context.Context, c camera.Constraints) error
	Release() error
}

// Watcher aggregates the visibility of every viewer page. The camera is held
// while no viewer is tracked or at least one is visible, and released once
// every tracked viewer is hidden. Detection timers are not touched.
type Watcher struct {
	ctx         context.Context
	camera      Camera
	constraints camera.Constraints
	journal     *logger.Journal

	mu      sync.Mutex
	viewers map[string]State
	visible bool
	closed  bool // no camera actions are started once set

	// actions run one at a time; an action superseded by a newer epoch is skipped
	actionMu sync.Mutex
	epoch    atomic.Uint64
	wg       sync.WaitGroup
}

// NewWatcher creates a Watcher whose background acquisitions run under ctx.
func NewWatcher(ctx context.Context, cam Camera, constraints camera.Constraints, journal *logger.Journal) *Watcher {
	return &Watcher{
		ctx:         ctx,
		camera:      cam,
		constraints: constraints,
		journal:     journal,
		viewers:     make(map[string]State),
		visible:     true,
	}
}

// Update records the state reported by one viewer.
func (w *Watcher) Update(viewerID string, state State) {
	w.mu.Lock()
	w.viewers[viewerID] = state
	w.reconcileLocked()
	w.mu.Unlock()
}

// Forget drops a viewer, typically on disconnect.
func (w *Watcher) Forget(viewerID string) {
	w.mu.Lock()
	if _, ok := w.viewers[viewerID]; ok {
		delete(w.viewers, viewerID)
		w.reconcileLocked()
	}
	w.mu.Unlock()
}

// Visible reports the aggregate state.
func (w *Watcher) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// Wait blocks until pending camera actions finished.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Close stops the watcher from starting camera actions and waits for the
// pending ones. Viewer reports are still recorded afterwards.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
}

// Ensure acquires the camera if the aggregate state is visible. It shares the
// action lock with visibility changes, so a hide reported meanwhile releases
// the camera afterwards. It reports whether an acquisition was attempted.
func (w *Watcher) Ensure(ctx context.Context) (bool, error) {
	w.actionMu.Lock()
	defer w.actionMu.Unlock()

	w.mu.Lock()
	visible, closed := w.visible, w.closed
	w.mu.Unlock()
	if closed || !visible {
		return false, nil
	}
	return true, w.camera.Acquire(ctx, w.constraints)
}

func (w *Watcher) reconcileLocked() {
	visible := len(w.viewers) == 0
	for _, s := range w.viewers {
		if s == Visible {
			visible = true
			break
		}
	}
	if visible == w.visible {
		return
	}
	w.visible = visible
	if w.closed {
		return
	}

	if visible {
		w.journal.Info("Page visible, restarting camera")
	} else {
		w.journal.Info("Page hidden, stopping camera")
	}

	epoch := w.epoch.Add(1)
	w.wg.Add(1)
	go w.apply(epoch, visible)
}

func (w *Watcher) apply(epoch uint64, visible bool) {
	defer w.wg.Done()
	w.actionMu.Lock()
	defer w.actionMu.Unlock()

	if w.epoch.Load() != epoch {
		return
	}
	if !visible {
		if err := w.camera.Release(); err != nil {
			w.journal.Error(fmt.Sprintf("Error stopping camera: %v", err))
		}
		return
	}
	if err := w.camera.Acquire(w.ctx, w.constraints); err != nil {
		w.journal.Error(fmt.Sprintf("Camera restart failed: %v", err))
	}
}
