package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"catwatch/internal/config"
	"catwatch/internal/handler"
	"catwatch/internal/logger"
	"catwatch/internal/metrics"
	"catwatch/internal/middleware"
	wshub "catwatch/internal/services/websocket"
)

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(session handler.Session, hub *wshub.HubService, cfg *config.Config, logger *logger.Logger, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDirectory))))

	// API endpoints
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(session, hub, logger))
	mux.HandleFunc("/api/status", handler.StatusHandler(session, logger))
	mux.HandleFunc("/api/logs", handler.JournalHandler(session, logger))
	mux.HandleFunc("/api/frame", handler.FrameHandler(session))
	mux.HandleFunc("/api/stream", handler.StreamHandler(session, cfg.StreamInterval, m, logger))
	mux.HandleFunc("/api/visibility", handler.VisibilityHandler(session, logger))

	// Log endpoints
	for _, level := range []string{"info", "warning", "error"} {
		file := level + ".log"
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(logger, file))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, file))
	}

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	mux.Handle("/metrics", m.Handler())

	// Automatic HTML handler mapping for example: /login -> /static/login.html
	mux.HandleFunc("/", dynamicHTMLHandler(cfg.StaticDirectory))

	return middleware.AuthMiddleware(cfg.Password)(mux)
}
