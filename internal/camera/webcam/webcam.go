package webcam

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"catwatch/internal/camera"
	"catwatch/internal/dto"
	"catwatch/internal/logger"

	"gocv.io/x/gocv"
)

// Options maps facing modes to capture devices. A device is a V4L index
// ("0"), a video file or a stream URL.
type Options struct {
	FrontDevice string
	BackDevice  string
}

// Opener opens OpenCV video captures.
type Opener struct {
	opts   Options
	logger *logger.Logger
}

var _ camera.Opener = (*Opener)(nil)

func New(opts Options, logger *logger.Logger) *Opener {
	return &Opener{opts: opts, logger: logger}
}

// Open opens the device for c.FacingMode and requests the ideal resolution.
func (o *Opener) Open(c camera.Constraints) (camera.Stream, error) {
	device := o.deviceFor(c.FacingMode)
	if device == "" {
		return nil, fmt.Errorf("no device configured for facing mode %q: %w", c.FacingMode, camera.ErrNotFound)
	}
	if err := checkDevice(device); err != nil {
		return nil, err
	}

	capture, err := openCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open %s (%v): %w", device, err, camera.ErrNotFound)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open %s: %w", device, camera.ErrNotFound)
	}

	capture.Set(gocv.VideoCaptureBufferSize, 1)
	if c.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}

	o.logger.Info("📷 Opened %s (%s): %.0fx%.0f @ %.0f fps", device, c.FacingMode,
		capture.Get(gocv.VideoCaptureFrameWidth),
		capture.Get(gocv.VideoCaptureFrameHeight),
		capture.Get(gocv.VideoCaptureFPS))

	return &stream{capture: capture, mat: gocv.NewMat()}, nil
}

func (o *Opener) deviceFor(facingMode string) string {
	if facingMode == camera.FacingEnvironment {
		return o.opts.BackDevice
	}
	return o.opts.FrontDevice
}

func openCapture(device string) (*gocv.VideoCapture, error) {
	if idx, err := strconv.Atoi(device); err == nil {
		return gocv.OpenVideoCapture(idx)
	}
	return gocv.OpenVideoCapture(device)
}

// checkDevice classifies missing and forbidden V4L devices before OpenCV hides the reason.
func checkDevice(device string) error {
	idx, err := strconv.Atoi(device)
	if err != nil || runtime.GOOS != "linux" {
		return nil
	}
	path := fmt.Sprintf("/dev/video%d", idx)
	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%s: %w", path, camera.ErrNotFound)
	case os.IsPermission(err):
		return fmt.Errorf("%s: %w", path, camera.ErrNotAllowed)
	case err != nil:
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

type stream struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

func (s *stream) ReadFrame() (dto.Frame, error) {
	if ok := s.capture.Read(&s.mat); !ok {
		return dto.Frame{}, camera.ErrStreamEnded
	}
	if s.mat.Empty() {
		return dto.Frame{}, camera.ErrEmptyFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.mat)
	if err != nil {
		return dto.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return dto.Frame{
		Data:       data,
		Width:      s.mat.Cols(),
		Height:     s.mat.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

func (s *stream) Close() error {
	s.mat.Close()
	return s.capture.Close()
}
