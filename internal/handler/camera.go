package handler

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"catwatch/internal/dto"
	"catwatch/internal/logger"
	"catwatch/internal/metrics"
	"catwatch/internal/visibility"
)

// httpViewer is the viewer id used when a visibility report names none.
const httpViewer = "http"

// FrameHandler serves the current camera frame as a JPEG snapshot.
func FrameHandler(session Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame, ok := session.Frame()
		if !ok {
			http.Error(w, "Camera not ready", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
		w.Write(frame.Data)
	}
}

// StreamHandler serves the camera as MJPEG, one part every interval. A color
// bar frame is sent while the camera is not ready.
func StreamHandler(session Session, interval time.Duration, m *metrics.Metrics, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		blank, err := blankJPEG()
		if err != nil {
			http.Error(w, "Failed to render frame", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache")

		m.MJPEGClients.Inc()
		defer m.MJPEGClients.Dec()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			jpegData := blank
			if frame, ok := session.Frame(); ok {
				jpegData = frame.Data
			}

			if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
				logger.Info("MJPEG client disconnected: %v", err)
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				logger.Info("MJPEG client disconnected: %v", err)
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				logger.Info("MJPEG client disconnected: %v", err)
				return
			}
			flusher.Flush()

			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}

// VisibilityHandler accepts a visibility report from a page that has no websocket.
func VisibilityHandler(session Session, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req dto.VisibilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		state, err := visibility.ParseState(req.State)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Viewer == "" {
			req.Viewer = httpViewer
		}

		logger.Info("Viewer %s reported %s", req.Viewer, state)
		session.UpdateVisibility(req.Viewer, state)
		w.WriteHeader(http.StatusNoContent)
	}
}

// StatusHandler returns the status text, cycle state and camera state.
func StatusHandler(session Session, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(session.Status()); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

func blankJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))

	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := 640 / len(colors)
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, colors[x/barWidth])
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
