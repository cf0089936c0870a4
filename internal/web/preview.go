package web

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

const previewWriteWait = 2 * time.Second

// PreviewSurface renders preview frames to browsers over websocket.
// Every connected client gets each frame as one binary JPEG message; a
// client that is still sending the previous frame skips the new one.
type PreviewSurface struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	latest  []byte
	frames  uint64
}

func NewPreviewSurface() *PreviewSurface {
	return &PreviewSurface{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[chan []byte]struct{}),
	}
}

// RenderFrame publishes frame to every client.
func (p *PreviewSurface) RenderFrame(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = frame
	p.frames++
	for ch := range p.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Latest returns the last rendered frame, nil before the first one.
func (p *PreviewSurface) Latest() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Frames returns how many frames were rendered.
func (p *PreviewSurface) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Clients returns the number of connected viewers.
func (p *PreviewSurface) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *PreviewSurface) subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 1)
	p.mu.Lock()
	p.clients[ch] = struct{}{}
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.clients, ch)
		p.mu.Unlock()
	}
}

// ServeWS handles GET /preview/ws.
func (p *PreviewSurface) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("Preview: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	frames, unsub := p.subscribe()
	defer unsub()
	debug.Verbose("Preview: viewer connected from %s (%d viewers)", r.RemoteAddr, p.Clients())

	// The browser never sends anything; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					debug.Verbose("Preview: viewer closed unexpectedly: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case frame := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				debug.Verbose("Preview: write to viewer failed: %v", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// ServeFrame handles GET /preview.jpg with the latest frame.
func (p *PreviewSurface) ServeFrame(w http.ResponseWriter, r *http.Request) {
	frame := p.Latest()
	if frame == nil {
		http.Error(w, "no preview frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Count", strconv.FormatUint(p.Frames(), 10))
	w.Write(frame)
}
