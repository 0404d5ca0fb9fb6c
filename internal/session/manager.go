// Package session implements the session lifecycle: roster preparation,
// generation, hosting and teardown.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/multiworld/command"
	"github.com/grovetools/multiworld/config"
	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/internal/bridge"
	"github.com/grovetools/multiworld/internal/extract"
	"github.com/grovetools/multiworld/internal/orchestrator"
	"github.com/grovetools/multiworld/internal/upload"
	"github.com/grovetools/multiworld/pkg/models"
	"github.com/grovetools/multiworld/pkg/process"
	"github.com/sirupsen/logrus"
)

// Actor identifies the user behind a request.
type Actor struct {
	ID   string
	Name string
}

// Runner is the part of the orchestrator the manager drives.
type Runner interface {
	Generate(ctx context.Context, uploadDir, outputDir string) (string, error)
	ValidateHostParams(p orchestrator.HostParams) error
	Host(ctx context.Context, bundle string, p orchestrator.HostParams) (*process.Process, error)
	Terminate(timeout time.Duration) error
}

// StartResult is the outcome of the background start task.
type StartResult struct {
	State   models.SessionState
	Message string
	Err     error
}

// Options configures a Manager.
type Options struct {
	Config *config.Config
	Runner Runner
	// Sink receives status announcements and server output events.
	Sink   bridge.Sink
	Logger *logrus.Entry
}

type participant struct {
	models.Participant
}

type session struct {
	id           string
	state        models.SessionState
	host         Actor
	participants []*participant
	bySlot       map[string]*participant
	opts         models.StartOptions
	createdAt    time.Time
	startedAt    time.Time
	address      string
	patches      []string
}

// Manager owns the single session of an engine instance. All methods are safe
// for concurrent use.
type Manager struct {
	cfg     *config.Config
	runner  Runner
	sink    bridge.Sink
	logger  *logrus.Entry
	uploads *upload.Validator
	builder *command.SafeBuilder

	mu        sync.Mutex
	sess      *session
	lastError string

	closing bool
	closed  chan struct{}

	bgCancel context.CancelFunc
	bgDone   chan struct{}
	proc     *process.Process
	bridge   *bridge.Bridge
}

// NewManager returns a Manager with no session.
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("session: config is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("session: runner is required")
	}
	validator, err := upload.NewValidator(opts.Config.Uploads.Patterns, opts.Config.Uploads.MaxSize)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateTransferPattern(opts.Config.Bridge.TransferPattern); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	sink := opts.Sink
	if sink == nil {
		sink = bridge.SinkFunc(func(models.Event) {})
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Manager{
		cfg:     opts.Config,
		runner:  opts.Runner,
		sink:    sink,
		logger:  logger,
		uploads: validator,
		builder: command.NewSafeBuilder(),
	}, nil
}

// current reports whether id is the live, not-closing session. Callers hold mu.
func (m *Manager) current(id string) bool {
	return m.sess != nil && m.sess.id == id && !m.closing
}

func (m *Manager) stateLocked() models.SessionState {
	if m.sess == nil {
		return models.StateInactive
	}
	return m.sess.state
}

// Create starts preparing a new session hosted by host, whose display name
// becomes the first slot.
func (m *Manager) Create(ctx context.Context, host Actor) (models.Session, error) {
	if err := m.builder.Validate("slotName", host.Name); err != nil {
		return models.Session{}, errors.InvalidInput(fmt.Sprintf("%q cannot be used as a slot name.", host.Name))
	}

	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return models.Session{}, errors.SessionActive()
	}

	if err := m.purge(); err != nil {
		m.mu.Unlock()
		return models.Session{}, errors.Wrap(err, errors.ErrCodeInternal, "Could not prepare the working directories.")
	}

	now := time.Now()
	s := &session{
		id:        uuid.New().String(),
		state:     models.StatePreparing,
		host:      host,
		bySlot:    make(map[string]*participant),
		createdAt: now,
	}
	s.add(host, host.Name)
	m.sess = s
	m.lastError = ""
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{"session_id": s.id, "host": host.ID}).Info("Session created")
	m.emit(s.id, fmt.Sprintf("%s created a new session. Upload your YAML files to join.", host.Name))
	return snap, nil
}

func (s *session) add(a Actor, slot string) {
	p := &participant{models.Participant{ID: a.ID, DisplayName: a.Name, Slot: slot}}
	s.participants = append(s.participants, p)
	s.bySlot[slot] = p
}

// AddParticipant adds p under slot (defaulting to p's display name).
func (m *Manager) AddParticipant(ctx context.Context, actor, p Actor, slot string) (models.Session, error) {
	if slot == "" {
		slot = p.Name
	}
	if err := m.builder.Validate("slotName", slot); err != nil {
		return models.Session{}, errors.InvalidInput(fmt.Sprintf("%q cannot be used as a slot name.", slot))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.closing || m.sess.state != models.StatePreparing {
		return models.Session{}, errors.WrongState("add", string(m.stateLocked()))
	}
	if actor.ID != m.sess.host.ID {
		return models.Session{}, errors.NotHost("add players to")
	}
	if _, taken := m.sess.bySlot[slot]; taken {
		return models.Session{}, errors.SlotTaken(slot)
	}

	m.sess.add(p, slot)
	m.logger.WithFields(logrus.Fields{"session_id": m.sess.id, "slot": slot}).Info("Participant added")
	return m.snapshotLocked(), nil
}

// AcceptUpload validates a settings file, stores it as <uploads>/<slot>.yaml
// and marks that slot ready.
func (m *Manager) AcceptUpload(ctx context.Context, uploader Actor, filename string, data []byte) (models.UploadResponse, error) {
	m.mu.Lock()
	if m.sess == nil || m.closing || m.sess.state != models.StatePreparing {
		state := m.stateLocked()
		m.mu.Unlock()
		return models.UploadResponse{}, errors.WrongState("upload", string(state))
	}
	m.mu.Unlock()

	slot, err := m.uploads.Parse(filename, data)
	if err != nil {
		return models.UploadResponse{}, err
	}

	m.mu.Lock()
	// The session may have changed while the file was parsed.
	if m.sess == nil || m.closing || m.sess.state != models.StatePreparing {
		state := m.stateLocked()
		m.mu.Unlock()
		return models.UploadResponse{}, errors.WrongState("upload", string(state))
	}
	p, ok := m.sess.bySlot[slot]
	if !ok {
		m.mu.Unlock()
		return models.UploadResponse{}, errors.UnknownSlot(slot)
	}

	path := filepath.Join(m.cfg.Paths.Uploads, slot+".yaml")
	if err := writeFileAtomic(path, data); err != nil {
		m.mu.Unlock()
		return models.UploadResponse{}, errors.Wrap(err, errors.ErrCodeInternal, "Could not save your YAML file.")
	}

	now := time.Now()
	p.Ready = true
	p.UploadPath = path
	p.UploadedAt = &now

	id := m.sess.id
	resp := models.UploadResponse{
		Slot:     slot,
		AllReady: m.snapshotLocked().AllReady(),
		Message:  fmt.Sprintf("Received YAML for %s.", slot),
	}
	m.mu.Unlock()

	if resp.AllReady {
		resp.Message += " All players ready! The host can now start the session."
	}
	m.logger.WithFields(logrus.Fields{"session_id": id, "slot": slot, "uploader": uploader.ID}).Info("Upload accepted")
	m.emit(id, resp.Message)
	return resp, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Start validates the start request, moves the session to generating and
// launches the generation and hosting sequence in the background. The
// returned channel receives exactly one result.
func (m *Manager) Start(ctx context.Context, actor Actor, opts models.StartOptions) (<-chan StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.closing || m.sess.state != models.StatePreparing {
		return nil, errors.WrongState("start", string(m.stateLocked()))
	}
	if actor.ID != m.sess.host.ID {
		return nil, errors.NotHost("start")
	}
	if missing := m.snapshotLocked().Missing(); len(missing) > 0 {
		return nil, errors.NotReady(missing)
	}

	params := m.hostParams(opts)
	if err := m.runner.ValidateHostParams(params); err != nil {
		return nil, err
	}

	s := m.sess
	s.state = models.StateGenerating
	s.opts = opts

	bgCtx, cancel := context.WithCancel(context.Background())
	m.bgCancel = cancel
	m.bgDone = make(chan struct{})

	result := make(chan StartResult, 1)
	go m.runStart(bgCtx, s.id, params, m.bgDone, result)

	m.logger.WithField("session_id", s.id).Info("Session start requested")
	return result, nil
}

func (m *Manager) hostParams(opts models.StartOptions) orchestrator.HostParams {
	return orchestrator.HostParams{
		Host:          m.cfg.Server.Host,
		Port:          m.cfg.Server.Port,
		Password:      opts.Password,
		ReleaseMode:   opts.ReleaseMode,
		CollectMode:   opts.CollectMode,
		RemainingMode: opts.RemainingMode,
	}
}

func (m *Manager) runStart(ctx context.Context, id string, params orchestrator.HostParams, done chan struct{}, result chan<- StartResult) {
	defer close(done)
	log := m.logger.WithField("session_id", id)

	interrupted := func() {
		result <- StartResult{
			State:   models.StateInactive,
			Message: "The session was stopped before it finished starting.",
			Err:     errors.New(errors.ErrCodeWrongState, "The session was stopped before it finished starting."),
		}
	}
	fail := func(err error) {
		msg := errors.UserMessage(err)
		log.WithError(err).Error("Session start failed")
		if !m.teardown(id, msg, err, false) {
			interrupted()
			return
		}
		result <- StartResult{State: models.StateInactive, Message: msg, Err: err}
	}

	m.emit(id, "Generating the game…")

	bundle, err := m.runner.Generate(ctx, m.cfg.Paths.Uploads, m.cfg.Paths.Games)
	if ctx.Err() != nil {
		interrupted()
		return
	}
	if err != nil {
		fail(err)
		return
	}

	var patches []string
	res, err := extract.Extract(bundle, m.cfg.Paths.Patches, m.cfg.Extract.Marker)
	if err != nil {
		log.WithError(err).Warn("Patch extraction failed, continuing without patch files")
	}
	seen := make(map[string]bool)
	for _, f := range res.Files {
		name := filepath.Base(f)
		if !seen[name] {
			seen[name] = true
			patches = append(patches, name)
		}
	}

	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		interrupted()
		return
	}
	m.sess.patches = patches
	m.mu.Unlock()

	proc, err := m.runner.Host(ctx, bundle, params)
	if err != nil {
		fail(err)
		return
	}

	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		m.stopOrphan(proc)
		interrupted()
		return
	}
	m.proc = proc
	m.mu.Unlock()

	grace := time.NewTimer(m.cfg.Server.StartupGrace.Std())
	select {
	case <-grace.C:
	case <-proc.Done():
		grace.Stop()
	case <-ctx.Done():
		grace.Stop()
		interrupted()
		return
	}

	if !proc.Alive() {
		fail(errors.ServerExited(proc.ExitCode()))
		return
	}

	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		interrupted()
		return
	}
	s := m.sess
	s.state = models.StateRunning
	s.startedAt = time.Now()
	s.address = m.publicAddress()

	classifier, err := bridge.NewPatternClassifier(
		m.cfg.Bridge.TransferPattern,
		m.cfg.Bridge.Passthrough,
		m.cfg.Bridge.ChatMarker,
		bridge.NewRosterResolver(m.snapshotLocked().Participants),
	)
	if err != nil {
		m.mu.Unlock()
		fail(errors.Wrap(err, errors.ErrCodeConfigInvalid, "The log bridge could not be configured."))
		return
	}
	br := bridge.New(id, classifier, m.sink, m.logger.WithField("component", "bridge"))
	m.bridge = br
	br.Start(context.Background(), proc.Stdout(), proc.Stderr())
	announcement, public := m.announcementLocked(true), m.announcementLocked(false)
	m.mu.Unlock()

	go m.monitor(id, proc)

	log.WithField("pid", proc.Pid()).Info("Session running")
	m.emit(id, public)
	result <- StartResult{State: models.StateRunning, Message: announcement}
}

// stopOrphan terminates a server launched for a session that was torn down
// while it was starting.
func (m *Manager) stopOrphan(proc *process.Process) {
	timeout := m.cfg.Server.ShutdownTimeout.Std()
	if err := m.runner.Terminate(timeout); err != nil {
		m.logger.WithError(err).Warn("Failed to terminate orphaned server")
	}
	if err := proc.Terminate(timeout); err != nil {
		m.logger.WithError(err).Warn("Failed to terminate orphaned server")
	}
	proc.Close()
}

func (m *Manager) publicAddress() string {
	host := m.cfg.Server.PublicAddress
	if host == "" {
		host = m.cfg.Server.Host
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, m.cfg.Server.Port)
}

// announcementLocked describes the running server. Sinks persist events, so
// the password is only spelled out when reveal is set.
func (m *Manager) announcementLocked(reveal bool) string {
	s := m.sess
	var b strings.Builder
	fmt.Fprintf(&b, "The game is running! Connect to `%s`.", s.address)
	switch {
	case s.opts.Password == "":
	case reveal:
		fmt.Fprintf(&b, "\nPassword: `%s`", s.opts.Password)
	default:
		b.WriteString("\nPassword required; the host has it.")
	}
	if len(s.patches) > 0 {
		fmt.Fprintf(&b, "\nPatch files: %s", strings.Join(s.patches, ", "))
	}
	return b.String()
}

// monitor tears the session down when its server exits on its own.
func (m *Manager) monitor(id string, proc *process.Process) {
	<-proc.Done()

	m.mu.Lock()
	owned := m.current(id) && m.proc == proc
	m.mu.Unlock()
	if !owned {
		return
	}

	m.logger.WithFields(logrus.Fields{"session_id": id, "exit_code": proc.ExitCode()}).Warn("Server process exited")
	m.teardown(id, "The server process exited. The session has ended.", errors.ServerExited(proc.ExitCode()), true)
}

// Cancel ends a preparing or running session on behalf of its host.
func (m *Manager) Cancel(ctx context.Context, actor Actor) error {
	m.mu.Lock()
	if m.sess == nil || m.closing {
		m.mu.Unlock()
		return errors.WrongState("cancel", string(models.StateInactive))
	}
	s := m.sess
	if s.state != models.StatePreparing && s.state != models.StateRunning {
		m.mu.Unlock()
		return errors.WrongState("cancel", string(s.state))
	}
	if actor.ID != s.host.ID {
		m.mu.Unlock()
		return errors.NotHost("cancel")
	}
	m.mu.Unlock()

	m.logger.WithField("session_id", s.id).Info("Session cancelled by host")
	if !m.teardown(s.id, "The session has been cancelled.", nil, true) {
		return errors.WrongState("cancel", string(models.StateInactive))
	}
	return nil
}

// Stop ends the current session in any state. It is used at shutdown.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	closing := m.closing
	closed := m.closed
	m.mu.Unlock()

	if closing {
		m.waitClosed(closed)
		return nil
	}
	if s == nil {
		return nil
	}
	m.teardown(s.id, "The session has been stopped.", nil, true)
	return nil
}

// Reset stops any session and purges the working directories. It is safe to
// call when no session exists.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		// A new session was created in the meantime; its directories are live.
		return nil
	}
	return m.purge()
}

func (m *Manager) waitClosed(closed chan struct{}) {
	if closed == nil {
		return
	}
	timer := time.NewTimer(4 * m.cfg.Server.ShutdownTimeout.Std())
	defer timer.Stop()
	select {
	case <-closed:
	case <-timer.C:
	}
}

// teardown terminates the server, stops the bridge, waits for both and purges
// the working directories, in that order. When the server has already exited
// the bridge drains to EOF before it is stopped. It reports false when id is
// not the live session or is already being torn down.
func (m *Manager) teardown(id, reason string, failure error, waitBackground bool) bool {
	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		return false
	}
	m.closing = true
	m.closed = make(chan struct{})
	cancel, bgDone := m.bgCancel, m.bgDone
	br, proc := m.bridge, m.proc
	m.bridge, m.proc = nil, nil
	m.mu.Unlock()

	log := m.logger.WithField("session_id", id)
	timeout := m.cfg.Server.ShutdownTimeout.Std()
	// A server that exited on its own has closed its write ends, so the
	// readers reach EOF and forward everything it printed last.
	exited := proc != nil && !proc.Alive()

	if cancel != nil {
		cancel()
	}
	if waitBackground && bgDone != nil {
		select {
		case <-bgDone:
		case <-time.After(timeout):
			log.Warn("Start task did not stop in time")
		}
	}

	if err := m.runner.Terminate(timeout); err != nil {
		log.WithError(err).Warn("Server termination incomplete")
	}
	if br != nil {
		if exited && !br.Wait(timeout) {
			log.Warn("Log bridge did not drain in time")
		}
		br.Stop()
		if !br.Wait(timeout) {
			log.Warn("Log bridge did not stop in time")
		}
	}
	if proc != nil {
		proc.Close()
	}

	m.mu.Lock()
	if err := m.purge(); err != nil {
		log.WithError(err).Warn("Failed to purge working directories")
	}
	m.sess = nil
	m.closing = false
	m.bgCancel, m.bgDone = nil, nil
	if failure != nil {
		m.lastError = errors.UserMessage(failure)
	}
	close(m.closed)
	m.closed = nil
	m.mu.Unlock()

	log.WithField("reason", reason).Info("Session torn down")
	m.emit(id, reason)
	return true
}

// purge empties the three working roots, creating them when missing.
// Callers hold mu.
func (m *Manager) purge() error {
	var errs []error
	for _, dir := range []string{m.cfg.Paths.Uploads, m.cfg.Paths.Games, m.cfg.Paths.Patches} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (m *Manager) emit(id, message string) {
	m.sink.Deliver(models.StatusEvent(id, message))
}

// Snapshot returns a copy of the session for presentation.
func (m *Manager) Snapshot() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() models.Session {
	if m.sess == nil {
		return models.Session{State: models.StateInactive, Participants: []models.Participant{}, LastError: m.lastError}
	}
	s := m.sess
	snap := models.Session{
		ID:            s.id,
		State:         s.state,
		HostID:        s.host.ID,
		HostName:      s.host.Name,
		Participants:  make([]models.Participant, 0, len(s.participants)),
		HasPassword:   s.opts.Password != "",
		ReleaseMode:   s.opts.ReleaseMode,
		CollectMode:   s.opts.CollectMode,
		RemainingMode: s.opts.RemainingMode,
		ServerAddress: s.address,
		LastError:     m.lastError,
	}
	for _, p := range s.participants {
		cp := p.Participant
		if p.UploadedAt != nil {
			t := *p.UploadedAt
			cp.UploadedAt = &t
		}
		snap.Participants = append(snap.Participants, cp)
	}
	created := s.createdAt
	snap.CreatedAt = &created
	if !s.startedAt.IsZero() {
		started := s.startedAt
		snap.StartedAt = &started
	}
	if m.proc != nil {
		snap.ServerPID = m.proc.Pid()
	}
	for _, name := range s.patches {
		snap.Patches = append(snap.Patches, models.PatchFile{Name: name})
	}
	return snap
}

// IsHost reports whether id hosts the current session.
func (m *Manager) IsHost(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.host.ID == id
}

// Patches lists the extracted patch files of the running session.
func (m *Manager) Patches() ([]models.PatchFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.closing {
		return nil, errors.WrongState("patches", string(models.StateInactive))
	}
	files := make([]models.PatchFile, 0, len(m.sess.patches))
	for _, name := range m.sess.patches {
		info, err := os.Stat(filepath.Join(m.cfg.Paths.Patches, name))
		if err != nil {
			continue
		}
		files = append(files, models.PatchFile{Name: name, Size: info.Size()})
	}
	return files, nil
}

// PatchPath resolves name to a file inside the patches root. Names that are
// not plain file names are rejected.
func (m *Manager) PatchPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", errors.NotFound("patch", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.closing {
		return "", errors.NotFound("patch", name)
	}

	path := filepath.Join(m.cfg.Paths.Patches, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", errors.NotFound("patch", name)
	}
	return path, nil
}
