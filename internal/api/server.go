package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/probe"
	"github.com/baptistax/ice-probe/internal/transport"
)

const (
	DefaultAddress   = "127.0.0.1:8787"
	DefaultRetention = 10 * time.Minute
	MaxTimeout       = 2 * time.Minute
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration

	// ProbeTimeout is the gathering deadline when a request does not set one.
	ProbeTimeout time.Duration
	// Retention is how long a terminated probe stays queryable.
	Retention time.Duration
	Logger    *slog.Logger

	// Sinks are attached to every probe's event log.
	Sinks []func(sessionID string) eventlog.Sink
	// OnSummary is called once per probe when it terminates.
	OnSummary func(sessionID string, sum probe.Summary)
}

// Server exposes probes over HTTP. Each POST gets its own controller, so
// concurrent probes never share a transport or a timer.
type Server struct {
	http   *http.Server
	addr   string
	dialer transport.Dialer
	logger *slog.Logger
	opts   ServerOptions

	probes cmap.ConcurrentMap[string, *entry]
}

type entry struct {
	ctrl    *probe.Controller
	session *probe.Session
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func NewServer(dialer transport.Dialer, opts ServerOptions) *Server {
	if dialer == nil {
		panic("api.NewServer: dialer is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = probe.DefaultTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		dialer: dialer,
		logger: opts.Logger,
		opts:   opts,
		probes: cmap.New[*entry](),
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(opts.Logger.Handler(), slog.LevelError),
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/probe", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/probe/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/probe/{id}/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/probe/{id}/summary", s.handleSummary).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "")
	})
	r.Use(s.logRequests)
	return r
}

// Start binds the listen address, then serves HTTP and sweeps expired probes
// in the background. A bind failure is returned; use Stop for graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("api: listening", "addr", s.addr)

	go func() {
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api: Serve", "err", err)
		}
	}()
	go s.sweepLoop(ctx)
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string { return s.addr }

// Stop shuts the server down and resets every probe still running.
func (s *Server) Stop(ctx context.Context) error {
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
	}
	err := s.http.Shutdown(ctx)
	for _, id := range s.probes.Keys() {
		if e, ok := s.probes.Pop(id); ok {
			e.ctrl.Reset()
		}
	}
	return err
}

func (s *Server) sweepLoop(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(TimeNow())
		}
	}
}

// sweep drops probes that terminated more than Retention before now.
func (s *Server) sweep(now time.Time) int {
	n := 0
	for id, e := range s.probes.Items() {
		snap := e.session.Snapshot()
		if !snap.State.Terminal() || now.Sub(snap.EndedAt) < s.opts.Retention {
			continue
		}
		if s.probes.RemoveCb(id, func(_ string, v *entry, exists bool) bool { return exists && v == e }) {
			e.ctrl.Reset()
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("api: swept expired probes", "count", n)
	}
	return n
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"probes":    s.probes.Count(),
		"timestamp": TimeNow().UTC().Format(time.RFC3339),
	})
}

// handleCreate starts a probe and returns its id without waiting for it.
// Errors:
//   - 400 for invalid JSON or a ConfigError (no probe is created)
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "")
		return
	}
	if req.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, "timeoutMs must be >= 0", "timeoutMs")
		return
	}

	timeout := s.opts.ProbeTimeout
	if req.TimeoutMS > 0 {
		timeout = min(time.Duration(req.TimeoutMS)*time.Millisecond, MaxTimeout)
	}

	ctrl := probe.NewController(s.dialer, probe.Options{
		Timeout: timeout,
		Logger:  s.logger,
		Sinks:   s.opts.Sinks,
	})
	sess, err := ctrl.Start(req.ServerConfig())
	if err != nil {
		var ce *probe.ConfigError
		if errors.As(err, &ce) {
			writeError(w, http.StatusBadRequest, ce.Error(), ce.Field)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	s.probes.Set(sess.ID(), &entry{ctrl: ctrl, session: sess})
	if s.opts.OnSummary != nil {
		go func() {
			<-sess.Done()
			if sum, err := probe.BuildSummary(sess.Snapshot()); err == nil {
				s.opts.OnSummary(sess.ID(), sum)
			}
		}()
	}

	writeJSON(w, http.StatusCreated, ProbeCreated{ID: sess.ID(), State: sess.State()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*entry, bool) {
	id := mux.Vars(r)["id"]
	e, ok := s.probes.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown probe "+id, "")
		return nil, false
	}
	return e, true
}

// handleSummary returns 200 with the summary once terminal and 202 while gathering.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := e.session.Snapshot()
	sum, err := probe.BuildSummary(snap)
	if errors.Is(err, probe.ErrNotTerminal) {
		writeJSON(w, http.StatusAccepted, Pending{Status: "pending", State: snap.State})
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		ID:         snap.ID,
		Summary:    sum,
		Candidates: candidateRows(snap),
	})
}

// handleEvents polls entries after ?since=N, or streams them over a
// WebSocket until the probe is terminal.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer", "since")
			return
		}
		since = n
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.streamEvents(w, r, e, since)
		return
	}

	// Read state first: a terminal state guarantees the entries include the final one.
	state := e.session.State()
	entries := e.session.Log().Since(since)
	next := since
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{
		ID:      e.session.ID(),
		State:   state,
		Entries: entries,
		Next:    next,
	})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, e *entry, since int) {
	w.Header().Del("Content-Type")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("api: websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Drain client frames so close messages are noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	log := e.session.Log()
	seq := since
	for {
		terminal := e.session.State().Terminal()
		for _, ent := range log.Since(seq) {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ent); err != nil {
				return
			}
			seq = ent.Seq
		}
		if terminal {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(e.session.State())),
				time.Now().Add(time.Second))
			return
		}

		wctx, wcancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-e.session.Done():
				wcancel()
			case <-wctx.Done():
			}
		}()
		_, err := log.Wait(wctx, seq)
		wcancel()
		if err != nil && ctx.Err() != nil {
			return
		}
	}
}

// handleDelete resets the probe and forgets it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, ok := s.probes.Pop(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown probe "+id, "")
		return
	}
	e.ctrl.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := TimeNow()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
		s.logger.Debug("api: request", "method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, APIError{
		Error:     msg,
		Field:     field,
		Timestamp: TimeNow().UTC().Format(time.RFC3339),
	})
}
