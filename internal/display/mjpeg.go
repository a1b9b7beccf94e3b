package display

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/andresmejia3/vigil/internal/input"
	"github.com/andresmejia3/vigil/internal/scheduler"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MJPEG serves the session over HTTP:
//
//	GET  /stream    multipart/x-mixed-replace MJPEG
//	GET  /snapshot  latest frame as JPEG
//	GET  /events    analysis events as server-sent events
//	POST /analyze   request an analysis of the next frame
//	POST /quit      end the session
//	GET  /healthz
type MJPEG struct {
	Addr    string
	Quality int

	logger *zap.Logger
	events chan input.Event

	mu     sync.Mutex
	latest []byte
	frames map[chan []byte]struct{}
	sse    map[chan []byte]struct{}
	srv    *http.Server
	closed bool
}

func NewMJPEG(addr string, logger *zap.Logger) *MJPEG {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MJPEG{
		Addr:    addr,
		Quality: 80,
		logger:  logger.Named("mjpeg"),
		events:  make(chan input.Event, 16),
		frames:  make(map[chan []byte]struct{}),
		sse:     make(map[chan []byte]struct{}),
	}
}

// Start listens on Addr and serves in the background.
func (m *MJPEG) Start() error {
	ln, err := net.Listen("tcp", m.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", m.Addr)
	}
	m.mu.Lock()
	m.srv = &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	srv := m.srv
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	m.logger.Info("serving stream", zap.String("url", fmt.Sprintf("http://%s/stream", ln.Addr())))
	return nil
}

func (m *MJPEG) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", m.handleStream)
	mux.HandleFunc("/snapshot", m.handleSnapshot)
	mux.HandleFunc("/events", m.handleEvents)
	mux.HandleFunc("/analyze", m.command(input.Analyze))
	mux.HandleFunc("/quit", m.command(input.Quit))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Events carries the commands posted by HTTP clients.
func (m *MJPEG) Events() <-chan input.Event { return m.events }

// Show encodes the frame once and hands it to every connected client. Slow
// clients miss frames instead of stalling the session.
func (m *MJPEG) Show(frame image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: m.Quality}); err != nil {
		return errors.Wrap(err, "encoding stream frame")
	}
	data := buf.Bytes()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.latest = data
	for ch := range m.frames {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

type wireEvent struct {
	Kind      string                 `json:"kind"`
	Frame     int                    `json:"frame"`
	At        time.Time              `json:"at"`
	Manual    bool                   `json:"manual"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Count     int                    `json:"count,omitempty"`
	Result    *types.DetectionResult `json:"result,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Emit publishes an analysis event to /events subscribers.
func (m *MJPEG) Emit(e scheduler.Event) {
	we := wireEvent{Frame: e.FrameIndex, At: e.At, Manual: e.Manual, LatencyMs: e.Latency.Milliseconds()}
	if e.Kind == scheduler.EventFailure {
		we.Kind, we.Stage = "failure", e.Stage
		if e.Err != nil {
			we.Error = e.Err.Error()
		}
	} else {
		we.Kind, we.Count = "analysis", e.Count
		res := e.Result
		we.Result = &res
	}
	data, err := json.Marshal(we)
	if err != nil {
		m.logger.Warn("encoding event", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.sse {
		select {
		case ch <- data:
		default:
		}
	}
}

func (m *MJPEG) subscribe(set map[chan []byte]struct{}) (chan []byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}
	ch := make(chan []byte, 2)
	set[ch] = struct{}{}
	return ch, true
}

func (m *MJPEG) unsubscribe(set map[chan []byte]struct{}, ch chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := set[ch]; ok {
		delete(set, ch)
		close(ch)
	}
}

func (m *MJPEG) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, ok := m.subscribe(m.frames)
	if !ok {
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	defer m.unsubscribe(m.frames, ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
				m.logger.Debug("client disconnected", zap.Error(err))
				return
			}
			if _, err := w.Write(data); err != nil {
				m.logger.Debug("client disconnected", zap.Error(err))
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (m *MJPEG) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	data := m.latest
	m.mu.Unlock()
	if data == nil {
		http.Error(w, "No frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func (m *MJPEG) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, ok := m.subscribe(m.sse)
	if !ok {
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	defer m.unsubscribe(m.sse, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-time.After(30 * time.Second):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (m *MJPEG) command(e input.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !input.Send(m.events, e) {
			http.Error(w, "Busy", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// Close disconnects clients and stops the server.
func (m *MJPEG) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for ch := range m.frames {
		delete(m.frames, ch)
		close(ch)
	}
	for ch := range m.sse {
		delete(m.sse, ch)
		close(ch)
	}
	srv := m.srv
	m.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
