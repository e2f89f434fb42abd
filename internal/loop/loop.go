// Package loop drives the game: it refreshes state from the emulator, asks
// the model for a button press, and presses it, on independent timers.
package loop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tatianab/ai-game-assistant/internal/backend"
	"github.com/tatianab/ai-game-assistant/internal/engine"
	"github.com/tatianab/ai-game-assistant/internal/models"
)

const (
	DefaultSessionName = "ai-game-assistant-save-v1"
	// DefaultGoal is sent to the model when the user's goal is blank.
	DefaultGoal             = "Explore the world."
	defaultActionIntervalMS = 4000
)

var (
	ErrNoROM          = errors.New("no ROM loaded")
	ErrNoGoal         = errors.New("a goal is required to start the AI")
	ErrEmptyObjective = errors.New("objective text is empty")
	ErrNoScreen       = errors.New("could not retrieve game screen")
	ErrAlreadyRunning = errors.New("AI is already running")
)

// Backend is the emulator server.
type Backend interface {
	Screen(ctx context.Context) (models.Screen, error)
	SendAction(ctx context.Context, action models.GameAction)
	Party(ctx context.Context) []models.PartyMember
	GameState(ctx context.Context) (models.GameState, bool)
	LoadROM(ctx context.Context, filename string, rom io.Reader) error
	SaveState(ctx context.Context) error
	LoadState(ctx context.Context) error
}

// BackendFactory connects to the backend at baseURL.
type BackendFactory func(baseURL string) Backend

// DefaultBackend is the BackendFactory for the HTTP emulator server.
func DefaultBackend(baseURL string) Backend {
	return backend.NewClient(baseURL)
}

// Inference is the model gateway. Decide and Chat must not fail: they always
// return a usable value. ListModels reports a failed listing so the user can
// be told; the list is empty, never nil, in that case.
type Inference interface {
	Decide(ctx context.Context, settings models.AppSettings, req engine.DecisionRequest) engine.Decision
	Chat(ctx context.Context, settings models.AppSettings, prompt string) string
	ListModels(ctx context.Context, settings models.AppSettings) ([]models.AIModel, error)
}

// Handle is a presentation-side resource built from a screen capture.
type Handle interface {
	Release()
}

// Renderer builds a Handle for every new screen capture.
type Renderer interface {
	Render(screen models.Screen) (Handle, error)
}

// Timing holds the fixed cadences. Only tests change them.
type Timing struct {
	Stream      time.Duration
	IdleRefresh time.Duration
	Autosave    time.Duration
	Highlight   time.Duration
	SaveStatus  time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Stream:      250 * time.Millisecond,
		IdleRefresh: 2 * time.Second,
		Autosave:    15 * time.Second,
		Highlight:   2 * time.Second,
		SaveStatus:  2 * time.Second,
	}
}

type Options struct {
	Settings    models.AppSettings
	Backend     BackendFactory
	Inference   Inference
	Store       models.SessionStore
	SessionName string
	Renderer    Renderer
	Timing      *Timing
	Logger      *slog.Logger
}

// Loop owns the session and the AI state machine. All exported methods are
// safe for concurrent use.
type Loop struct {
	mu sync.Mutex

	newBackend  BackendFactory
	backend     Backend
	backendURL  string
	inference   Inference
	store       models.SessionStore
	sessionName string
	renderer    Renderer
	timing      Timing
	logger      *slog.Logger

	session   *models.Session
	state     models.AIState
	romLoaded bool
	// epoch changes on every start and stop so that a tick that outlives its
	// run does not write into the next one.
	epoch     int
	reasoning string
	dialogue  string

	screen models.Screen
	view   Handle

	justCompleted   map[int]int
	highlightSeq    int
	nextObjectiveID int
	nextMessageID   int

	chatting        bool
	saveStatus      string
	saveSeq         int
	availableModels []models.AIModel
	modelsLoading   bool
	lastConnErr     string

	runCtx       context.Context
	actionPoller *poller
	streamPoller *poller
	idlePoller   *poller

	subscribers map[chan struct{}]struct{}
}

func New(opts Options) *Loop {
	if opts.Backend == nil {
		opts.Backend = DefaultBackend
	}
	if opts.Inference == nil {
		opts.Inference = engine.NewEngine()
	}
	if opts.SessionName == "" {
		opts.SessionName = DefaultSessionName
	}
	timing := DefaultTiming()
	if opts.Timing != nil {
		timing = *opts.Timing
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Settings == (models.AppSettings{}) {
		opts.Settings = models.DefaultSettings()
	}

	session := models.NewSession(opts.Settings)
	l := &Loop{
		newBackend:    opts.Backend,
		inference:     opts.Inference,
		store:         opts.Store,
		sessionName:   opts.SessionName,
		renderer:      opts.Renderer,
		timing:        timing,
		logger:        opts.Logger.With("component", "loop"),
		session:       session,
		state:         models.AIStateIdle,
		reasoning:     "Please load a ROM to begin.",
		justCompleted: map[int]int{},
		subscribers:   map[chan struct{}]struct{}{},
	}
	l.nextObjectiveID = models.NextObjectiveID(session.Objectives)
	l.connectBackend()
	return l
}

// connectBackend rebuilds the backend client when the URL changed. Callers
// hold l.mu (or own l exclusively).
func (l *Loop) connectBackend() {
	url := l.session.Settings.BackendURL
	if l.backend != nil && url == l.backendURL {
		return
	}
	l.backend = l.newBackend(url)
	l.backendURL = url
}

// Restore merges the persisted session, if any, into the defaults.
func (l *Loop) Restore() {
	if l.store == nil {
		return
	}
	saved, err := l.store.Load(l.sessionName)
	l.mu.Lock()
	defer l.mu.Unlock()

	if errors.Is(err, models.ErrSessionNotFound) {
		return
	}
	if err != nil {
		l.logger.Error("failed to restore session", "error", err)
		l.addMessage(models.SenderSystem, "Could not restore previous session.")
		return
	}

	l.session.Merge(saved)
	if l.session.Settings.AIActionInterval <= 0 {
		l.session.Settings.AIActionInterval = defaultActionIntervalMS
	}
	l.nextObjectiveID = models.NextObjectiveID(l.session.Objectives)
	for _, m := range l.session.ChatHistory {
		if m.ID >= l.nextMessageID {
			l.nextMessageID = m.ID + 1
		}
	}
	l.connectBackend()
	l.addMessage(models.SenderSystem, "Session restored from previous state.")
}

// Save writes the session to the store.
func (l *Loop) Save() error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	snapshot := l.session.Clone()
	l.saveSeq++
	seq := l.saveSeq
	l.saveStatus = "saving"
	l.notify()
	l.mu.Unlock()

	err := l.store.Save(l.sessionName, snapshot)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.logger.Error("failed to save session", "error", err)
		l.saveStatus = ""
		l.notify()
		return err
	}
	l.saveStatus = "saved"
	l.notify()
	time.AfterFunc(l.timing.SaveStatus, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.saveSeq == seq {
			l.saveStatus = ""
			l.notify()
		}
	})
	return nil
}

// Run starts the pollers and the autosave timer and blocks until ctx is
// done. The session is saved once more on the way out.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.runCtx = ctx
	l.reschedule()
	l.mu.Unlock()

	go l.RefreshModels(ctx)

	autosave := time.NewTicker(l.timing.Autosave)
	defer autosave.Stop()
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopPollers()
			l.runCtx = nil
			l.mu.Unlock()
			return l.Save()
		case <-autosave.C:
			l.Save()
		}
	}
}

// setState changes the AI state and re-evaluates the pollers. Callers hold l.mu.
func (l *Loop) setState(s models.AIState) {
	if l.state == s {
		return
	}
	l.logger.Debug("state change", "from", l.state, "to", s)
	l.state = s
	l.reschedule()
	l.notify()
}

// addMessage appends to the chat transcript. Callers hold l.mu.
func (l *Loop) addMessage(sender models.Sender, text string) {
	l.session.ChatHistory = append(l.session.ChatHistory, models.ChatMessage{
		ID:     l.nextMessageID,
		Sender: sender,
		Text:   text,
	})
	l.nextMessageID++
	if sender == models.SenderSystem {
		l.logger.Info(text)
	}
	l.notify()
}

// Start moves the AI from IDLE to RUNNING.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.romLoaded {
		return ErrNoROM
	}
	if strings.TrimSpace(l.session.Goal) == "" {
		return ErrNoGoal
	}
	if l.state != models.AIStateIdle {
		return ErrAlreadyRunning
	}

	l.epoch++
	l.lastConnErr = ""
	l.session.ActionHistory = []models.GameAction{}
	l.reasoning = "AI is starting..."
	l.addMessage(models.SenderSystem, "AI starting...")
	l.setState(models.AIStateRunning)
	return nil
}

// Stop returns the AI to IDLE from any other state.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state == models.AIStateIdle {
		l.mu.Unlock()
		return
	}
	l.epoch++
	l.addMessage(models.SenderSystem, "AI stopped by user.")
	l.reasoning = "AI stopped by user."
	l.setState(models.AIStateIdle)
	l.mu.Unlock()

	l.Save()
}

// Tick runs one decision cycle. It does nothing unless the AI is RUNNING
// with a ROM loaded.
func (l *Loop) Tick(ctx context.Context) {
	l.mu.Lock()
	if l.state != models.AIStateRunning || !l.romLoaded {
		l.mu.Unlock()
		return
	}
	l.setState(models.AIStateThinking)
	epoch := l.epoch
	l.mu.Unlock()

	if err := l.refreshFull(ctx); err != nil {
		return
	}

	l.mu.Lock()
	if l.epoch != epoch || l.state != models.AIStateThinking {
		l.mu.Unlock()
		return
	}
	if l.screen.Empty() {
		l.logger.Error("tick aborted", "error", ErrNoScreen)
		l.addMessage(models.SenderSystem, "Could not retrieve game screen.")
		l.setState(models.AIStateRunning)
		l.mu.Unlock()
		return
	}

	settings := l.session.Settings
	goal := strings.TrimSpace(l.session.Goal)
	if goal == "" {
		goal = DefaultGoal
	}
	history := l.session.ActionHistory
	if len(history) > engine.RecentActionCount {
		history = history[len(history)-engine.RecentActionCount:]
	}
	req := engine.DecisionRequest{
		Screen:        l.screen,
		Goal:          goal,
		Objectives:    append([]models.Objective(nil), l.session.Objectives...),
		RecentActions: append([]models.GameAction(nil), history...),
		Map:           l.session.Map,
		Dialogue:      l.dialogue,
	}
	l.mu.Unlock()

	decision := l.inference.Decide(ctx, settings, req)

	l.mu.Lock()
	if l.epoch != epoch || l.state != models.AIStateThinking {
		l.mu.Unlock()
		return
	}
	l.reasoning = decision.Reasoning
	l.session.ActionHistory = append(l.session.ActionHistory, decision.Action)
	b := l.backend
	l.notify()
	l.mu.Unlock()

	b.SendAction(ctx, decision.Action)

	l.mu.Lock()
	if l.epoch == epoch && l.state == models.AIStateThinking {
		l.setState(models.AIStateRunning)
	}
	l.mu.Unlock()
}

// refreshFull fetches the screen and the full game state together. A screen
// failure means the backend is gone: the run that was current when the
// refresh began returns to IDLE and the user is told why.
func (l *Loop) refreshFull(ctx context.Context) error {
	l.mu.Lock()
	if !l.romLoaded {
		l.mu.Unlock()
		return nil
	}
	b := l.backend
	epoch := l.epoch
	l.mu.Unlock()

	var (
		screen  models.Screen
		state   models.GameState
		stateOK bool
		g       errgroup.Group
	)
	g.Go(func() error {
		var err error
		screen, err = b.Screen(ctx)
		return err
	})
	g.Go(func() error {
		state, stateOK = b.GameState(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		l.connectionFailed(err, epoch)
		return err
	}
	if !stateOK {
		// The full snapshot is authoritative; the party endpoint only fills
		// in when the snapshot is unavailable.
		state.Party = b.Party(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastConnErr = ""
	l.setScreen(screen)
	l.session.Party = state.Party
	l.session.Achievements = state.Achievements
	l.session.Inventory = state.Inventory
	l.session.Map = state.Map
	l.session.Stats = state.Stats
	l.dialogue = state.Dialogue
	l.notify()
	return nil
}

// connectionFailed reports a failed refresh. A refresh that started before
// the current run began leaves that run alone.
func (l *Loop) connectionFailed(err error, epoch int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Error("refresh failed", "error", err)
	if l.state != models.AIStateIdle && l.epoch == epoch {
		l.epoch++
		l.setState(models.AIStateIdle)
	}
	// The idle refresher keeps failing the same way while the server is
	// down; say it once.
	if msg := err.Error(); msg != l.lastConnErr {
		l.lastConnErr = msg
		l.addMessage(models.SenderSystem, "Connection Error: "+msg)
	}
}

// refreshScreen only updates the picture. Failed frames are dropped quietly.
func (l *Loop) refreshScreen(ctx context.Context) {
	l.mu.Lock()
	if !l.romLoaded {
		l.mu.Unlock()
		return
	}
	b := l.backend
	l.mu.Unlock()

	screen, err := b.Screen(ctx)
	if err != nil {
		l.logger.Debug("screen stream dropped a frame", "error", err)
		return
	}

	l.mu.Lock()
	l.setScreen(screen)
	l.notify()
	l.mu.Unlock()
}

// setScreen releases the previous handle before building the next one.
// Callers hold l.mu.
func (l *Loop) setScreen(screen models.Screen) {
	if l.view != nil {
		l.view.Release()
		l.view = nil
	}
	l.screen = screen
	if l.renderer == nil || screen.Empty() {
		return
	}
	h, err := l.renderer.Render(screen)
	if err != nil {
		l.logger.Warn("failed to render screen", "error", err)
		return
	}
	l.view = h
}

// Screen returns the latest raw capture.
func (l *Loop) Screen() models.Screen {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.screen
}

// View returns the handle for the latest capture, or nil.
func (l *Loop) View() Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view
}

// Subscribe returns a channel that receives a value whenever visible state
// changes. Bursts are coalesced. Call the returned func to unsubscribe.
func (l *Loop) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		delete(l.subscribers, ch)
		l.mu.Unlock()
	}
}

// notify wakes subscribers. Callers hold l.mu.
func (l *Loop) notify() {
	for ch := range l.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
