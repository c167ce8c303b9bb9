package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"catwatch/internal/detector"
	"catwatch/internal/dto"
	"catwatch/internal/logger"
	"catwatch/internal/metrics"
	"catwatch/internal/status"

	"github.com/benbjohnson/clock"
)

const (
	DefaultDetectionInterval = 500 * time.Millisecond
	DefaultCycleInterval     = 60 * time.Second
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("detection cycle already started")

// Detector is the part of detector.Engine the cycle needs.
type Detector interface {
	Ready() bool
	Detect(ctx context.Context, frame dto.Frame) ([]dto.Prediction, error)
}

// FrameSource yields the current frame when one is ready.
type FrameSource interface {
	Frame() (dto.Frame, bool)
}

// Config holds the cadence and the target decision.
type Config struct {
	DetectionInterval time.Duration
	CycleInterval     time.Duration
	TargetLabel       string
	Threshold         float64
}

type result struct {
	generation  uint64
	predictions []dto.Prediction
	err         error
	took        time.Duration
}

// Controller alternates between detecting every DetectionInterval and idling,
// flipping every CycleInterval. All state changes happen on its loop goroutine.
type Controller struct {
	cfg      Config
	clock    clock.Clock
	detector Detector
	frames   FrameSource
	status   *status.Board
	journal  *logger.Journal
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	state    dto.CycleState
	started  bool
	inner    *clock.Ticker
	onChange func(dto.CycleState)

	results chan result
	done    chan struct{}
}

func New(cfg Config, clk clock.Clock, det Detector, frames FrameSource, board *status.Board, journal *logger.Journal, m *metrics.Metrics) *Controller {
	if cfg.DetectionInterval <= 0 {
		cfg.DetectionInterval = DefaultDetectionInterval
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultCycleInterval
	}
	if cfg.TargetLabel == "" {
		cfg.TargetLabel = detector.DefaultTarget
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{
		cfg:      cfg,
		clock:    clk,
		detector: det,
		frames:   frames,
		status:   board,
		journal:  journal,
		metrics:  m,
		results:  make(chan result, 1),
		done:     make(chan struct{}),
	}
}

// OnChange registers fn to receive the state after every toggle. Call before Start.
func (c *Controller) OnChange(fn func(dto.CycleState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Start flips the cycle to active immediately and keeps flipping it every
// CycleInterval until ctx ends.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.toggle()
	outer := c.clock.Ticker(c.cfg.CycleInterval)
	go c.loop(ctx, outer)
	return nil
}

// Done is closed once the loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State returns a snapshot of the cycle.
func (c *Controller) State() dto.CycleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) loop(ctx context.Context, outer *clock.Ticker) {
	defer close(c.done)
	defer outer.Stop()

	for {
		var innerC <-chan time.Time
		c.mu.RLock()
		if c.inner != nil {
			innerC = c.inner.C
		}
		c.mu.RUnlock()

		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.inner != nil {
				c.inner.Stop()
				c.inner = nil
			}
			c.state.InnerRunning = false
			c.mu.Unlock()
			return
		case <-outer.C:
			c.toggle()
		case <-innerC:
			c.tick(ctx)
		case r := <-c.results:
			c.apply(r)
		}
	}
}

// toggle flips active, bumping the generation so results of the previous
// period are discarded.
func (c *Controller) toggle() {
	c.mu.Lock()
	c.state.Active = !c.state.Active
	c.state.Generation++
	c.state.Toggles++
	active := c.state.Active
	if active {
		c.inner = c.clock.Ticker(c.cfg.DetectionInterval)
	} else if c.inner != nil {
		c.inner.Stop()
		c.inner = nil
	}
	c.state.InnerRunning = c.inner != nil
	snapshot := c.state
	onChange := c.onChange
	c.mu.Unlock()

	c.metrics.CycleToggles.Inc()
	if active {
		c.metrics.CycleActive.Set(1)
		c.journal.Info("Starting detection cycle")
		c.status.Set(status.Starting)
	} else {
		c.metrics.CycleActive.Set(0)
		c.journal.Info("Pausing detection cycle")
		c.status.Set(status.Paused)
	}
	if onChange != nil {
		onChange(snapshot)
	}
}

func (c *Controller) tick(ctx context.Context) {
	if !c.detector.Ready() {
		c.metrics.SkippedTicks.WithLabelValues(metrics.SkipNotLoaded).Inc()
		return
	}
	frame, ok := c.frames.Frame()
	if !ok {
		c.metrics.SkippedTicks.WithLabelValues(metrics.SkipNotReady).Inc()
		return
	}

	c.mu.Lock()
	if c.state.InFlight {
		c.mu.Unlock()
		c.metrics.SkippedTicks.WithLabelValues(metrics.SkipBusy).Inc()
		return
	}
	c.state.InFlight = true
	generation := c.state.Generation
	c.mu.Unlock()

	go func() {
		started := c.clock.Now()
		predictions, err := c.detector.Detect(ctx, frame)
		r := result{
			generation:  generation,
			predictions: predictions,
			err:         err,
			took:        c.clock.Since(started),
		}
		select {
		case c.results <- r:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) apply(r result) {
	c.mu.Lock()
	c.state.InFlight = false
	current := c.state.Generation
	c.mu.Unlock()

	c.metrics.InferenceTime.Observe(r.took.Seconds())
	if r.err != nil {
		c.metrics.DetectionErrors.Inc()
		c.journal.Error(fmt.Sprintf("Detection failed: %v", r.err))
		return
	}
	if r.generation != current {
		c.metrics.StaleResults.Inc()
		c.journal.Info(fmt.Sprintf("Discarding result of cycle %d (now %d)", r.generation, current))
		return
	}

	c.metrics.Detections.Inc()
	predictions := r.predictions
	if predictions == nil {
		predictions = []dto.Prediction{}
	}
	raw, _ := json.Marshal(predictions)
	c.journal.Log("Predictions:", false, string(raw))

	found := detector.TargetDetected(r.predictions, c.cfg.TargetLabel, c.cfg.Threshold)
	c.journal.Log(fmt.Sprintf("Found %s: %t", c.cfg.TargetLabel, found), false, "")
	if found {
		c.metrics.TargetDetected.Inc()
		c.status.Set(status.TargetFound)
	} else {
		c.status.Set(status.TargetMissing)
	}
}
