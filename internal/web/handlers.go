package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/SnapGo/internal/app"
	"github.com/cjeanneret/SnapGo/internal/debug"
)

// TakePhotoFunc requests one capture. It returns an error when the camera
// screen can no longer accept requests.
type TakePhotoFunc func() error

// InfoFunc describes the running camera screen.
type InfoFunc func() app.Info

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Preview     *PreviewSurface
	TakePhoto   TakePhotoFunc
	Info        InfoFunc
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If takePhoto is nil, POST /capture will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, preview *PreviewSurface, takePhoto TakePhotoFunc, info InfoFunc, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Preview:     preview,
		TakePhoto:   takePhoto,
		Info:        info,
		staticFS:    staticFS,
	}
}

// HandleConfig returns the session description as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	var info app.Info
	if h.Info != nil {
		info = h.Info()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCapture handles POST /capture. Requests are fire-and-forget: the
// outcome arrives later on the status stream.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.TakePhoto == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.TakePhoto(); err != nil {
		debug.Verbose("Web: capture refused: %v", err)
		http.Error(w, "camera unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "requested"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	debug.Verbose("Status stream: client connected (%d subscribers)", h.Broadcaster.Subscribers())

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
