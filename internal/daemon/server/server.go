// Package server provides the HTTP API of the multiworld daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/internal/daemon/engine"
	"github.com/grovetools/multiworld/internal/daemon/store"
	"github.com/grovetools/multiworld/internal/session"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/state"
	"github.com/grovetools/multiworld/version"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger        *logrus.Entry
	server        *http.Server
	engine        *engine.Engine
	manager       *session.Manager
	whitelist     *state.Whitelist
	access        config.AccessConfig
	maxUpload     int64
	runningConfig *models.RunningConfig
	onChange      func()
	startedAt     time.Time
	upgrader      websocket.Upgrader

	mu         sync.Mutex
	shutdown   bool
	baseCancel context.CancelFunc
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		logger:    logger,
		startedAt: time.Now(),
		maxUpload: 1 << 20,
		upgrader: websocket.Upgrader{
			// The socket is only reachable by the local user.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetEngine sets the collector engine for the server.
func (s *Server) SetEngine(eng *engine.Engine) {
	s.engine = eng
}

// SetManager sets the session manager the API drives.
func (s *Server) SetManager(m *session.Manager) {
	s.manager = m
}

// SetAccess sets the whitelist and the owners allowed to manage it.
func (s *Server) SetAccess(wl *state.Whitelist, access config.AccessConfig) {
	s.whitelist = wl
	s.access = access
}

// SetMaxUpload bounds the size of an uploaded settings file.
func (s *Server) SetMaxUpload(n int64) {
	if n > 0 {
		s.maxUpload = n
	}
}

// SetRunningConfig sets the running configuration for the server.
func (s *Server) SetRunningConfig(cfg *models.RunningConfig) {
	s.runningConfig = cfg
}

// OnChange registers a callback run after every successful mutation.
func (s *Server) OnChange(fn func()) {
	s.onChange = fn
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)

	// Session lifecycle
	mux.HandleFunc("GET /api/session", s.handleGetSession)
	mux.HandleFunc("POST /api/session", s.handleCreateSession)
	mux.HandleFunc("POST /api/session/participants", s.handleAddParticipant)
	mux.HandleFunc("POST /api/session/uploads", s.handleUpload)
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/cancel", s.handleCancel)

	mux.HandleFunc("GET /api/patches", s.handleListPatches)
	mux.HandleFunc("GET /api/patches/{name}", s.handleDownloadPatch)

	// Event streams
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/whitelist", s.handleWhitelist)

	return h2c.NewHandler(mux, &http2.Server{})
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	// Request contexts derive from baseCtx so Shutdown can end open streams.
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		cancel()
		return listener.Close()
	}
	s.server = srv
	s.baseCancel = cancel
	s.mu.Unlock()

	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and ends open event streams. A
// ListenAndServe that has not bound yet returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.mu.Lock()
	s.shutdown = true
	srv, cancel := s.server, s.baseCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// actor reads the caller's identity from the request headers.
func actor(r *http.Request) (session.Actor, error) {
	id := r.Header.Get(models.HeaderUserID)
	if id == "" {
		return session.Actor{}, errors.InvalidInput(fmt.Sprintf("Missing %s header.", models.HeaderUserID))
	}
	name := r.Header.Get(models.HeaderUserName)
	if name == "" {
		name = id
	}
	return session.Actor{ID: id, Name: name}, nil
}

// statusFor maps an error code to an HTTP status.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeUnknownSlot:
		return http.StatusBadRequest
	case errors.ErrCodePermissionDenied, errors.ErrCodeNotHost:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeSessionActive, errors.ErrCodeWrongState, errors.ErrCodeNotReady,
		errors.ErrCodeSlotTaken, errors.ErrCodeProcessBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	status := statusFor(code)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "code": code})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	s.writeJSON(w, status, models.ErrorResponse{Code: string(code), Message: errors.UserMessage(err)})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) bool {
	if s.manager == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
			Code:    string(errors.ErrCodeInternal),
			Message: "The session engine is not initialized.",
		})
		return false
	}
	return true
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.InvalidInput("The request body is not valid JSON.")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:  "ok",
		Version: version.GetInfo().Version,
		PID:     os.Getpid(),
		Uptime:  time.Since(s.startedAt),
		State:   models.StateInactive,
	}
	if s.manager != nil {
		resp.State = s.manager.Snapshot().State
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetConfig returns the running configuration as JSON.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.runningConfig == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.runningConfig)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.manager.Snapshot())
}

func (s *Server) canCreate(id string) bool {
	if s.access.IsOwner(id) {
		return true
	}
	return s.whitelist != nil && s.whitelist.Contains(id)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.canCreate(a.ID) {
		s.writeError(w, r, errors.PermissionDenied())
		return
	}

	snap, err := s.manager.Create(r.Context(), a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req models.AddParticipantRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID == "" || req.DisplayName == "" {
		s.writeError(w, r, errors.InvalidInput("A participant needs a user ID and a display name."))
		return
	}

	snap, err := s.manager.AddParticipant(r.Context(), a, session.Actor{ID: req.UserID, Name: req.DisplayName}, req.Slot)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(64<<10))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, r, errors.InvalidInput("The upload could not be read."))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errors.InvalidInput("Attach your YAML file in the `file` field."))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		s.writeError(w, r, errors.InvalidInput("The upload could not be read."))
		return
	}

	resp, err := s.manager.AcceptUpload(r.Context(), a, header.Filename, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var opts models.StartOptions
	if err := decodeBody(r, &opts); err != nil {
		s.writeError(w, r, err)
		return
	}

	results, err := s.manager.Start(r.Context(), a, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed()

	go func() {
		res := <-results
		entry := s.logger.WithField("state", res.State)
		if res.Err != nil {
			entry.WithError(res.Err).Warn("Session start finished with an error")
		} else {
			entry.Info("Session start finished")
		}
		s.changed()
	}()

	s.writeJSON(w, http.StatusAccepted, models.MessageResponse{Message: "Generating the game. Watch the event stream for the result."})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.manager.Cancel(r.Context(), a); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusOK, models.MessageResponse{Message: "The session has been cancelled."})
}

func (s *Server) handleListPatches(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	patches, err := s.manager.Patches()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, patches)
}

func (s *Server) handleDownloadPatch(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w, r) {
		return
	}
	path, err := s.manager.PatchPath(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, r, errors.NotFound("patch", r.PathValue("name")))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.access.IsOwner(a.ID) || s.whitelist == nil {
		s.writeError(w, r, errors.PermissionDenied())
		return
	}
	var req models.WhitelistRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		s.writeError(w, r, errors.InvalidInput("A user ID is required."))
		return
	}

	added, err := s.whitelist.Add(req.UserID, a.ID)
	if err != nil {
		s.writeError(w, r, errors.Wrap(err, errors.ErrCodeInternal, "The whitelist could not be saved."))
		return
	}
	msg := fmt.Sprintf("User %s is already whitelisted.", req.UserID)
	if added {
		msg = fmt.Sprintf("User %s has been whitelisted.", req.UserID)
		if s.engine != nil {
			s.engine.Store().ApplyUpdate(store.Update{Type: store.UpdateWhitelist, Source: "api", Payload: len(s.whitelist.Entries())})
		}
	}
	s.writeJSON(w, http.StatusOK, models.MessageResponse{Message: msg})
}

// since parses the optional ?since= replay cursor.
func since(r *http.Request) uint64 {
	n, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	return n
}

// backlog returns the messages a new subscriber receives before live updates:
// the current session and the retained events after the cursor.
func (s *Server) backlog(cursor uint64) []models.StreamUpdate {
	st := s.engine.Store()
	sess := st.Session()
	if s.manager != nil {
		sess = s.manager.Snapshot()
	}
	out := []models.StreamUpdate{{UpdateType: "initial", Session: &sess}}
	for _, ev := range st.EventsSince(cursor) {
		out = append(out, models.StreamUpdate{UpdateType: "event", Source: string(ev.Kind), Event: &ev})
	}
	return out
}

// handleStream provides Server-Sent Events (SSE) for real-time updates.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	// Ensure the connection supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before reading the backlog so nothing falls in between.
	ch := s.engine.Store().Subscribe()
	defer s.engine.Store().Unsubscribe(ch)

	// Send initial ping to confirm connection
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE client connected")

	send := func(u models.StreamUpdate) {
		data, err := json.Marshal(u)
		if err != nil {
			s.logger.WithError(err).Error("Failed to marshal update")
			return
		}
		// SSE format: "data: {json}\n\n"
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	cursor := since(r)
	for _, u := range s.backlog(cursor) {
		if u.Event != nil {
			cursor = u.Event.Seq
		}
		send(u)
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case update, ok := <-ch:
			if !ok {
				return
			}
			apiUpdate := convertToAPIUpdate(update)
			if apiUpdate == nil || (apiUpdate.Event != nil && apiUpdate.Event.Seq <= cursor) {
				continue
			}
			send(*apiUpdate)
		}
	}
}

// handleWebSocket streams the same updates as handleStream over a websocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.engine.Store().Subscribe()
	defer s.engine.Store().Unsubscribe(ch)

	// Drain client frames so close and pong control messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	cursor := since(r)
	for _, u := range s.backlog(cursor) {
		if u.Event != nil {
			cursor = u.Event.Seq
		}
		if err := write(u); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			s.logger.Debug("WebSocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case update, ok := <-ch:
			if !ok {
				return
			}
			apiUpdate := convertToAPIUpdate(update)
			if apiUpdate == nil || (apiUpdate.Event != nil && apiUpdate.Event.Seq <= cursor) {
				continue
			}
			if err := write(apiUpdate); err != nil {
				return
			}
		}
	}
}

// convertToAPIUpdate converts internal store.Update to the public API format.
func convertToAPIUpdate(u store.Update) *models.StreamUpdate {
	switch u.Type {
	case store.UpdateSession:
		if sess, ok := u.Payload.(models.Session); ok {
			return &models.StreamUpdate{UpdateType: "session", Source: u.Source, Session: &sess}
		}
	case store.UpdateEvent:
		if ev, ok := u.Payload.(models.Event); ok {
			return &models.StreamUpdate{UpdateType: "event", Source: u.Source, Event: &ev}
		}
	case store.UpdateWhitelist:
		if n, ok := u.Payload.(int); ok {
			return &models.StreamUpdate{UpdateType: "whitelist", Source: u.Source, Whitelist: n}
		}
	}
	return nil
}
