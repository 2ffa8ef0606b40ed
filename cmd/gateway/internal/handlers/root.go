package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// IndexPath is where GET / sends browsers.
const IndexPath = "/static/index.html"

// RootHandler serves the service root and the front page.
type RootHandler struct {
	staticDir string
	logger    *zap.Logger
}

// NewRootHandler creates a root handler serving index.html from staticDir.
func NewRootHandler(staticDir string, logger *zap.Logger) *RootHandler {
	return &RootHandler{
		staticDir: staticDir,
		logger:    logger,
	}
}

// Redirect handles GET / with a temporary redirect to the static front page
func (h *RootHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, IndexPath, http.StatusTemporaryRedirect)
}

// Index handles GET /static/index.html. http.FileServer and http.ServeFile
// both redirect ".../index.html" to the directory, so the file is served
// with ServeContent instead.
func (h *RootHandler) Index(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(filepath.Join(h.staticDir, "index.html"))
	if err != nil {
		h.logger.Warn("Front page unavailable", zap.String("static_dir", h.staticDir), zap.Error(err))
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}
