package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/link"
	"groundlink/internal/router"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Publisher is the part of the router the HTTP handlers need. Handlers only
// publish requests; they never touch the link directly.
type Publisher interface {
	Publish(category router.Category, payload any)
}

type StatusLogClearer interface {
	Clear()
}

// Server holds handler dependencies. Status, Bus and Hub are required.
type Server struct {
	Status    *Status
	Bus       Publisher
	Hub       *Hub
	Logs      *LogBuffer
	Ports     func() ([]link.Candidate, error)
	StatusLog StatusLogClearer
	Log       *zap.Logger
}

func (s *Server) Handler() http.Handler {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, s.Status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/ports", s.listPorts)
	mux.HandleFunc("/api/events", s.eventStream)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/arm-takeoff", s.armTakeoff)
	mux.HandleFunc("/api/status-log/clear", s.clearStatusLog)

	if s.Logs != nil {
		mux.Handle("/api/logs", s.Logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := s.Status.Snapshot(time.Now().UTC())
		state, msg := "UNKNOWN", ""
		if snap.Link != nil {
			state, msg = snap.Link.State.String(), snap.Link.Message
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>groundlink</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>groundlink</h1>")
		_, _ = fmt.Fprintf(w, "<p>Link: <b>%s</b> %s</p>", html.EscapeString(state), html.EscapeString(msg))
		_, _ = fmt.Fprintf(w, "<p>API: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/logs?format=text\">/api/logs</a>, websocket /api/events</p>")
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return withLogging(s.Log, s.Status, mux)
}

func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	list := s.Ports
	if list == nil {
		list = func() ([]link.Candidate, error) { return link.Candidates(nil) }
	}
	cands, err := list()
	resp := struct {
		Candidates []link.Candidate `json:"candidates"`
		Error      string           `json:"error,omitempty"`
	}{Candidates: cands}
	if err != nil {
		// The network defaults are still usable.
		s.Log.Warn("web: serial enumeration failed", zap.Error(err))
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req events.ConnectRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Baud < 0 {
		http.Error(w, "baud must be >= 0", http.StatusBadRequest)
		return
	}
	if _, err := link.ParseDescriptor(link.Descriptor{Locator: req.Locator, Baud: req.Baud}, link.DefaultBaud); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Bus.Publish(events.ConnectionRequested, req)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.Bus.Publish(events.DisconnectRequested, events.DisconnectRequest{})
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) armTakeoff(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req events.ArmTakeoffRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// The gate decides; its verdict arrives as a command_response event.
	s.Bus.Publish(events.ArmTakeoffRequested, req)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) clearStatusLog(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.StatusLog == nil {
		http.Error(w, "status log unavailable", http.StatusNotFound)
		return
	}
	s.StatusLog.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("web: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := s.Hub.Subscribe(64)
	defer unsub()

	// Drain client frames so close and pong control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.Log.Debug("web: ws write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, listenAddr string, handler http.Handler, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("web: listening", zap.String("addr", listenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func queryInt(r *http.Request, key string, def, min, max int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be an integer in [%d,%d]", key, min, max)
	}
	return n, nil
}

func withLogging(log *zap.Logger, status *Status, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		status.countRequest()
		log.Debug("web",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack not supported")
	}
	rw.code = http.StatusSwitchingProtocols
	return h.Hijack()
}
