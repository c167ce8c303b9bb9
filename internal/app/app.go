package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"catwatch/internal/camera"
	"catwatch/internal/camera/webcam"
	"catwatch/internal/config"
	"catwatch/internal/cycle"
	"catwatch/internal/detector"
	"catwatch/internal/detector/dnn"
	"catwatch/internal/dto"
	"catwatch/internal/handler"
	"catwatch/internal/logger"
	"catwatch/internal/metrics"
	"catwatch/internal/routes"
	"catwatch/internal/services/websocket"
	"catwatch/internal/status"
	"catwatch/internal/visibility"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// App is one detector session: the camera, the model, the duty cycle and the
// page surfaces that show them.
type App struct {
	config  *config.Config
	logger  *logger.Logger
	journal *logger.Journal
	status  *status.Board
	metrics *metrics.Metrics
	hub     *websocket.HubService
	engine  detector.Engine
	camera  *camera.Manager
	cycle   *cycle.Controller
	watcher *visibility.Watcher

	// lifetime of background camera actions
	ctx    context.Context
	cancel context.CancelFunc
}

var _ handler.Session = (*App)(nil)

// Components are the parts of an App that touch hardware or wall time.
type Components struct {
	Opener camera.Opener // nil when no capture device is available
	Engine detector.Engine
	Clock  clock.Clock
}

// NewApp builds an App from the environment with the OpenCV camera and model.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewLogger(cfg.LogDirectory)
	if err != nil {
		return nil, err
	}

	engine := dnn.New(dnn.Options{
		ModelPath:     cfg.ModelPath,
		ConfigPath:    cfg.ConfigPath,
		Backend:       cfg.DNNBackend,
		Target:        cfg.DNNTarget,
		MinScore:      cfg.MinScore,
		MaxDetections: cfg.MaxDetections,
	}, l)

	return New(cfg, l, Components{Opener: openerFor(cfg, l), Engine: engine, Clock: clock.New()}), nil
}

// openerFor returns nil when every capture device is disabled, so the camera
// reports missing capture support.
func openerFor(cfg *config.Config, l *logger.Logger) camera.Opener {
	if !cfg.CaptureEnabled() {
		return nil
	}
	return webcam.New(webcam.Options{FrontDevice: cfg.FrontCamera, BackDevice: cfg.BackCamera}, l)
}

// New wires an App from explicit components.
func New(cfg *config.Config, l *logger.Logger, c Components) *App {
	journal := logger.NewJournal(l)
	board := status.NewBoard()
	m := metrics.New()
	surface := camera.NewSurface()
	cam := camera.NewManager(c.Opener, surface, board, journal, m, cfg.CameraStartTimeout)
	ctrl := cycle.New(cycle.Config{
		DetectionInterval: cfg.DetectionInterval,
		CycleInterval:     cfg.CycleInterval,
		TargetLabel:       cfg.TargetLabel,
		Threshold:         cfg.TargetThreshold,
	}, c.Clock, c.Engine, surface, board, journal, m)

	ctx, cancel := context.WithCancel(context.Background())
	constraints := camera.Constraints{
		FacingMode: cfg.FacingMode,
		Width:      cfg.FrameWidth,
		Height:     cfg.FrameHeight,
	}

	a := &App{
		config:  cfg,
		logger:  l,
		journal: journal,
		status:  board,
		metrics: m,
		hub:     websocket.NewHubService(l, m),
		engine:  c.Engine,
		camera:  cam,
		cycle:   ctrl,
		watcher: visibility.NewWatcher(ctx, cam, constraints, journal),
		ctx:     ctx,
		cancel:  cancel,
	}

	journal.Subscribe(func(e dto.LogEntry) {
		a.hub.BroadcastMessage(dto.Message{Type: dto.MessageLog, Payload: e})
	})
	board.OnChange(func(text string) {
		a.hub.BroadcastMessage(dto.Message{Type: dto.MessageStatus, Payload: text})
	})
	ctrl.OnChange(func(s dto.CycleState) {
		a.hub.BroadcastMessage(dto.Message{Type: dto.MessageCycle, Payload: s})
	})
	return a
}

// Bootstrap loads the model, starts the camera and then the detection cycle.
// The first failure stops the sequence.
func (a *App) Bootstrap(ctx context.Context) error {
	a.journal.Info("Starting application")
	a.status.Set(status.Loading)

	if err := a.engine.Load(ctx); err != nil {
		return a.fail("Error loading model", err)
	}
	a.journal.Info("Model loaded successfully")
	a.status.Set(status.ModelLoaded)

	attempted, err := a.watcher.Ensure(ctx)
	if err != nil {
		return a.fail("Error starting camera", err)
	}
	if !attempted {
		a.journal.Info("Page hidden, camera start deferred")
	}

	if err := a.cycle.Start(ctx); err != nil {
		return a.fail("Error starting detection cycle", err)
	}
	return nil
}

func (a *App) fail(msg string, err error) error {
	a.logger.Error("%s: %v", msg, err)
	a.journal.Error(fmt.Sprintf("%s: %v", msg, err))
	return fmt.Errorf("%s: %w", msg, err)
}

// Run serves the page and bootstraps the session until ctx ends. A bootstrap
// failure leaves the page up showing it and is returned after shutdown.
func (a *App) Run(ctx context.Context) error {
	router := routes.SetupRoutes(a, a.hub, a.config, a.logger, a.metrics)

	g, ctx := errgroup.WithContext(ctx)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	a.logger.Info("🐈 Cat detector")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("🤖 AI Model: %s", a.config.ModelPath)
	a.logger.Info("⏱️  Detection every %s, cycle flips every %s", a.config.DetectionInterval, a.config.CycleInterval)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	var bootErr error
	g.Go(func() error {
		bootErr = a.Bootstrap(ctx)
		return nil
	})

	err := g.Wait()
	a.Close()
	if err != nil {
		return err
	}
	if errors.Is(bootErr, context.Canceled) {
		return nil
	}
	return bootErr
}

// Close stops pending camera actions, releases the camera and unloads the model.
func (a *App) Close() error {
	a.cancel()
	a.watcher.Close()
	camErr := a.camera.Release()
	engineErr := a.engine.Close()
	return errors.Join(camErr, engineErr)
}

func (a *App) Status() dto.StatusResponse {
	return dto.StatusResponse{
		Status:       a.status.Text(),
		Cycle:        a.cycle.State(),
		CameraActive: a.camera.Active(),
		ReadyState:   a.camera.Surface().ReadyState().String(),
		Visible:      a.watcher.Visible(),
		Viewers:      a.hub.GetClientCount(),
	}
}

func (a *App) Frame() (dto.Frame, bool) {
	return a.camera.Surface().Frame()
}

func (a *App) LogEntries() []dto.LogEntry {
	return a.journal.Entries()
}

func (a *App) UpdateVisibility(viewerID string, state visibility.State) {
	a.watcher.Update(viewerID, state)
}

func (a *App) ForgetViewer(viewerID string) {
	a.watcher.Forget(viewerID)
}

func (a *App) Greeting() []dto.Message {
	return []dto.Message{
		{Type: dto.MessageStatus, Payload: a.status.Text()},
		{Type: dto.MessageCycle, Payload: a.cycle.State()},
	}
}

// Journal exposes the page log, mainly for tests and tools.
func (a *App) Journal() *logger.Journal {
	return a.journal
}

// Metrics exposes the session registry.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}
