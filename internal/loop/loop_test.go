package loop

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/ai-game-assistant/internal/backend"
	"github.com/tatianab/ai-game-assistant/internal/engine"
	"github.com/tatianab/ai-game-assistant/internal/models"
)

type fakeBackend struct {
	mu        sync.Mutex
	screenErr error
	romErr    error
	state     models.GameState
	stateOK   bool
	party     []models.PartyMember
	actions   []models.GameAction
	screens   int
	partyHits int
	saves     int
	loads     int
	// screenHook runs once, outside the lock, before the next Screen returns.
	screenHook func()
}

func newFakeBackend() *fakeBackend {
	s := models.DefaultGameState()
	s.Map = models.MapData{Name: "Pallet Town", Coords: models.Coords{3, 4}}
	s.Party = []models.PartyMember{{Name: "Charmander", Level: 5}}
	s.Dialogue = "Welcome!"
	return &fakeBackend{state: s, stateOK: true}
}

func (f *fakeBackend) Screen(ctx context.Context) (models.Screen, error) {
	f.mu.Lock()
	hook := f.screenHook
	f.screenHook = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.screens++
	if f.screenErr != nil {
		return models.Screen{}, f.screenErr
	}
	return models.Screen{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}, nil
}

func (f *fakeBackend) SendAction(ctx context.Context, a models.GameAction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
}

func (f *fakeBackend) Party(ctx context.Context) []models.PartyMember {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partyHits++
	return f.party
}

func (f *fakeBackend) GameState(ctx context.Context) (models.GameState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stateOK {
		return models.DefaultGameState(), false
	}
	return f.state, true
}

func (f *fakeBackend) LoadROM(ctx context.Context, filename string, rom io.Reader) error {
	io.Copy(io.Discard, rom)
	return f.romErr
}

func (f *fakeBackend) SaveState(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeBackend) LoadState(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return &backend.APIError{Op: "load state", Status: 404, Message: "No save state found"}
}

func (f *fakeBackend) sent() []models.GameAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.GameAction(nil), f.actions...)
}

func (f *fakeBackend) setScreenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenErr = err
}

type fakeInference struct {
	mu       sync.Mutex
	decision engine.Decision
	lastReq  engine.DecisionRequest
	decides  int
	list     []models.AIModel
	listErr  error
	listed   int
}

func (f *fakeInference) Decide(ctx context.Context, s models.AppSettings, req engine.DecisionRequest) engine.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decides++
	f.lastReq = req
	return f.decision
}

func (f *fakeInference) Chat(ctx context.Context, s models.AppSettings, prompt string) string {
	return "echo: " + prompt
}

func (f *fakeInference) ListModels(ctx context.Context, s models.AppSettings) ([]models.AIModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	if f.listErr != nil {
		return []models.AIModel{}, f.listErr
	}
	return f.list, nil
}

// failingProvider makes the real engine facade take its fallback path.
type failingProvider struct{}

func (failingProvider) Decide(context.Context, engine.DecisionRequest) (engine.Decision, error) {
	return engine.Decision{}, errors.New("503 overloaded")
}
func (failingProvider) Chat(context.Context, string, string) (string, error) { return "", nil }
func (failingProvider) ListModels(context.Context) ([]models.AIModel, error) {
	return nil, nil
}
func (failingProvider) Close() error { return nil }

type fakeHandle struct {
	released *atomic.Int32
}

func (h fakeHandle) Release() { h.released.Add(1) }

type fakeRenderer struct {
	rendered atomic.Int32
	released atomic.Int32
}

func (r *fakeRenderer) Render(models.Screen) (Handle, error) {
	r.rendered.Add(1)
	return fakeHandle{released: &r.released}, nil
}

func fastTiming() *Timing {
	return &Timing{
		Stream:      10 * time.Millisecond,
		IdleRefresh: 20 * time.Millisecond,
		Autosave:    time.Hour,
		Highlight:   30 * time.Millisecond,
		SaveStatus:  50 * time.Millisecond,
	}
}

func newTestLoop(t *testing.T, b *fakeBackend, inf Inference) *Loop {
	t.Helper()
	s := models.DefaultSettings()
	s.GoogleAPIKey = "key"
	s.SelectedModel = "models/gemini-2.5-flash"
	return New(Options{
		Settings:  s,
		Backend:   func(string) Backend { return b },
		Inference: inf,
		Timing:    fastTiming(),
	})
}

func loadROM(t *testing.T, l *Loop) {
	t.Helper()
	require.NoError(t, l.LoadROM(context.Background(), "red.gb", strings.NewReader("rom")))
}

func TestStartPreconditions(t *testing.T) {
	l := newTestLoop(t, newFakeBackend(), &fakeInference{})

	assert.ErrorIs(t, l.Start(), ErrNoROM)
	assert.Equal(t, models.AIStateIdle, l.State())

	loadROM(t, l)
	l.SetGoal("   ")
	assert.ErrorIs(t, l.Start(), ErrNoGoal)
	assert.Equal(t, models.AIStateIdle, l.State())

	l.SetGoal("Beat Brock")
	require.NoError(t, l.Start())
	assert.Equal(t, models.AIStateRunning, l.State())
	assert.Equal(t, "AI is starting...", l.Snapshot().Reasoning)
	assert.ErrorIs(t, l.Start(), ErrAlreadyRunning)

	l.Stop()
	assert.Equal(t, models.AIStateIdle, l.State())
	snap := l.Snapshot()
	assert.Equal(t, "AI stopped by user.", snap.Reasoning)
	assert.Equal(t, "AI stopped by user.", snap.ChatHistory[len(snap.ChatHistory)-1].Text)

	// Stop is idempotent.
	l.Stop()
	assert.Equal(t, models.AIStateIdle, l.State())
}

func TestStartClearsActionHistory(t *testing.T) {
	b := newFakeBackend()
	l := newTestLoop(t, b, &fakeInference{decision: engine.Decision{Reasoning: "go", Action: models.ActionB}})
	loadROM(t, l)

	require.NoError(t, l.Start())
	l.Tick(context.Background())
	require.Len(t, l.Snapshot().ActionHistory, 1)
	l.Stop()

	require.NoError(t, l.Start())
	assert.Empty(t, l.Snapshot().ActionHistory)
}

func TestTickNoopUnlessRunning(t *testing.T) {
	b := newFakeBackend()
	inf := &fakeInference{decision: engine.Decision{Action: models.ActionA}}
	l := newTestLoop(t, b, inf)
	loadROM(t, l)

	before := l.Snapshot()
	l.Tick(context.Background())
	after := l.Snapshot()

	assert.Equal(t, models.AIStateIdle, after.State)
	assert.Equal(t, before.ActionHistory, after.ActionHistory)
	assert.Zero(t, inf.decides)
	assert.Empty(t, b.sent())
}

func TestTickDecidesAndDispatches(t *testing.T) {
	b := newFakeBackend()
	inf := &fakeInference{decision: engine.Decision{Reasoning: "talk to mom", Action: models.ActionA}}
	l := newTestLoop(t, b, inf)
	loadROM(t, l)
	l.SetGoal("Get a starter")
	require.NoError(t, l.Start())

	l.Tick(context.Background())

	snap := l.Snapshot()
	assert.Equal(t, []models.GameAction{models.ActionA}, snap.ActionHistory)
	assert.Equal(t, "talk to mom", snap.Reasoning)
	assert.Equal(t, models.AIStateRunning, snap.State)
	assert.Equal(t, []models.GameAction{models.ActionA}, b.sent())

	assert.Equal(t, "Get a starter", inf.lastReq.Goal)
	assert.Equal(t, "Pallet Town", inf.lastReq.Map.Name)
	assert.Equal(t, "Welcome!", inf.lastReq.Dialogue)
	assert.False(t, inf.lastReq.Screen.Empty())
	assert.Len(t, inf.lastReq.Objectives, 3)
	assert.Equal(t, "Pallet Town", snap.Map.Name)
	assert.Equal(t, []models.PartyMember{{Name: "Charmander", Level: 5}}, snap.Party)
}

func TestTickSendsLastFiveActions(t *testing.T) {
	b := newFakeBackend()
	inf := &fakeInference{decision: engine.Decision{Action: models.ActionUp}}
	l := newTestLoop(t, b, inf)
	loadROM(t, l)
	require.NoError(t, l.Start())

	for range 7 {
		l.Tick(context.Background())
	}
	assert.Len(t, l.Snapshot().ActionHistory, 7)
	assert.Len(t, inf.lastReq.RecentActions, 5)
}

func TestTickBlankGoalFallsBack(t *testing.T) {
	inf := &fakeInference{decision: engine.Decision{Action: models.ActionUp}}
	l := newTestLoop(t, newFakeBackend(), inf)
	loadROM(t, l)
	require.NoError(t, l.Start())
	l.SetGoal("")

	l.Tick(context.Background())
	assert.Equal(t, DefaultGoal, inf.lastReq.Goal)
}

func TestTickInferenceFailureStillActs(t *testing.T) {
	b := newFakeBackend()
	eng := engine.NewEngineWithFactory(func(context.Context, models.AppSettings) (engine.Provider, error) {
		return failingProvider{}, nil
	})
	l := newTestLoop(t, b, eng)
	loadROM(t, l)
	require.NoError(t, l.Start())

	l.Tick(context.Background())

	snap := l.Snapshot()
	assert.Equal(t, []models.GameAction{models.ActionSelect}, snap.ActionHistory)
	assert.Equal(t, models.AIStateRunning, snap.State)
	assert.Contains(t, snap.Reasoning, "503 overloaded")
	assert.Equal(t, []models.GameAction{models.ActionSelect}, b.sent())
}

func TestTickBackendFailureGoesIdle(t *testing.T) {
	b := newFakeBackend()
	inf := &fakeInference{decision: engine.Decision{Action: models.ActionA}}
	l := newTestLoop(t, b, inf)
	loadROM(t, l)
	require.NoError(t, l.Start())

	b.setScreenErr(&backend.ConnectionError{Op: "fetch screen", Err: errors.New("connection refused")})
	l.Tick(context.Background())

	snap := l.Snapshot()
	assert.Equal(t, models.AIStateIdle, snap.State)
	assert.Empty(t, snap.ActionHistory)
	assert.Empty(t, b.sent())
	assert.Zero(t, inf.decides)
	last := snap.ChatHistory[len(snap.ChatHistory)-1]
	assert.Equal(t, models.SenderSystem, last.Sender)
	assert.True(t, strings.HasPrefix(last.Text, "Connection Error: "))
	assert.Contains(t, last.Text, "Is the server running?")
}

func TestRepeatedConnectionErrorsAreReportedOnce(t *testing.T) {
	b := newFakeBackend()
	l := newTestLoop(t, b, &fakeInference{})
	loadROM(t, l)
	b.setScreenErr(&backend.ConnectionError{Op: "fetch screen", Err: errors.New("refused")})

	n := len(l.Snapshot().ChatHistory)
	for range 3 {
		l.refreshFull(context.Background())
	}
	assert.Len(t, l.Snapshot().ChatHistory, n+1)
}

func TestRefreshFailureFromBeforeStartKeepsNewRun(t *testing.T) {
	b := newFakeBackend()
	l := newTestLoop(t, b, &fakeInference{})
	loadROM(t, l)

	entered := make(chan struct{})
	release := make(chan struct{})
	b.mu.Lock()
	b.screenErr = &backend.ConnectionError{Op: "fetch screen", Err: errors.New("refused")}
	b.screenHook = func() {
		close(entered)
		<-release
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.refreshFull(context.Background())
		close(done)
	}()
	<-entered
	require.NoError(t, l.Start())
	close(release)
	<-done

	assert.Equal(t, models.AIStateRunning, l.State())
	assert.True(t, strings.HasPrefix(lastMessage(l), "Connection Error: "))

	// A failure that starts inside the run still stops it.
	l.refreshFull(context.Background())
	assert.Equal(t, models.AIStateIdle, l.State())
}

func TestTickWithoutScreenReturnsToRunning(t *testing.T) {
	inf := &fakeInference{}
	// An empty frame is not a connection failure.
	b := emptyScreenBackend{newFakeBackend()}
	l := New(Options{
		Backend:   func(string) Backend { return b },
		Inference: inf,
		Timing:    fastTiming(),
	})
	loadROM(t, l)
	require.NoError(t, l.Start())

	l.Tick(context.Background())

	snap := l.Snapshot()
	assert.Equal(t, models.AIStateRunning, snap.State)
	assert.Zero(t, inf.decides)
	assert.Empty(t, b.sent())
	assert.Equal(t, "Could not retrieve game screen.", lastMessage(l))
}

type emptyScreenBackend struct{ *fakeBackend }

func (emptyScreenBackend) Screen(context.Context) (models.Screen, error) {
	return models.Screen{}, nil
}

func TestStopDuringDecisionDiscardsResult(t *testing.T) {
	b := newFakeBackend()
	release := make(chan struct{})
	inf := &blockingInference{release: release, entered: make(chan struct{})}
	l := newTestLoop(t, b, inf)
	loadROM(t, l)
	require.NoError(t, l.Start())

	done := make(chan struct{})
	go func() {
		l.Tick(context.Background())
		close(done)
	}()
	<-inf.entered
	assert.Equal(t, models.AIStateThinking, l.State())
	l.Stop()
	close(release)
	<-done

	assert.Equal(t, models.AIStateIdle, l.State())
	assert.Empty(t, l.Snapshot().ActionHistory)
	assert.Empty(t, b.sent())
}

type blockingInference struct {
	fakeInference
	entered chan struct{}
	release chan struct{}
}

func (f *blockingInference) Decide(ctx context.Context, s models.AppSettings, req engine.DecisionRequest) engine.Decision {
	close(f.entered)
	<-f.release
	return engine.Decision{Reasoning: "late", Action: models.ActionA}
}

func TestPartyFallsBackWhenStateUnavailable(t *testing.T) {
	b := newFakeBackend()
	b.stateOK = false
	b.party = []models.PartyMember{{Name: "Pidgey", Level: 3}}
	l := newTestLoop(t, b, &fakeInference{})
	loadROM(t, l)

	snap := l.Snapshot()
	assert.Equal(t, b.party, snap.Party)
	assert.Equal(t, "Unknown Area", snap.Map.Name)

	b.stateOK = true
	l.refreshFull(context.Background())
	assert.Equal(t, 1, b.partyHits)
	assert.Equal(t, "Charmander", l.Snapshot().Party[0].Name)
}

func TestScreenHandleReleasedBeforeReplacement(t *testing.T) {
	b := newFakeBackend()
	r := &fakeRenderer{}
	l := New(Options{
		Backend:   func(string) Backend { return b },
		Inference: &fakeInference{},
		Renderer:  r,
		Timing:    fastTiming(),
	})
	loadROM(t, l)
	for range 10 {
		l.refreshScreen(context.Background())
	}

	assert.EqualValues(t, 11, r.rendered.Load())
	assert.EqualValues(t, 10, r.released.Load())
	assert.NotNil(t, l.View())
}

func TestToggleObjectiveHighlightExpires(t *testing.T) {
	l := newTestLoop(t, newFakeBackend(), &fakeInference{})
	n := len(l.Snapshot().ChatHistory)

	require.NoError(t, l.ToggleObjective(2))
	snap := l.Snapshot()
	require.Len(t, snap.ChatHistory, n+1)
	assert.Equal(t, "Objective complete: 'Visit the capital city'", snap.ChatHistory[n].Text)
	assert.True(t, l.JustCompleted(2))
	assert.Equal(t, []int{2}, snap.JustCompleted)

	assert.Eventually(t, func() bool { return !l.JustCompleted(2) }, time.Second, 5*time.Millisecond)

	// Un-completing logs nothing.
	require.NoError(t, l.ToggleObjective(2))
	assert.Len(t, l.Snapshot().ChatHistory, n+1)
	assert.False(t, l.Snapshot().Objectives[1].Completed)

	assert.ErrorIs(t, l.ToggleObjective(99), models.ErrObjectiveNotFound)
}

func TestObjectiveEditing(t *testing.T) {
	l := newTestLoop(t, newFakeBackend(), &fakeInference{})

	_, err := l.AddObjective("  ")
	assert.ErrorIs(t, err, ErrEmptyObjective)

	o, err := l.AddObjective("Buy potions")
	require.NoError(t, err)
	assert.Equal(t, 4, o.ID)

	require.NoError(t, l.MoveObjective(3, 1))
	ids := func() []int {
		var out []int
		for _, o := range l.Snapshot().Objectives {
			out = append(out, o.ID)
		}
		return out
	}
	assert.Equal(t, []int{3, 1, 2, 4}, ids())

	require.NoError(t, l.DeleteObjective(1))
	assert.Equal(t, []int{3, 2, 4}, ids())

	o, err = l.AddObjective("Catch a Pikachu")
	require.NoError(t, err)
	assert.Equal(t, 5, o.ID)

	require.NoError(t, l.ReorderObjectives([]int{5, 4, 3, 2}))
	assert.Equal(t, []int{5, 4, 3, 2}, ids())
	assert.ErrorIs(t, l.ReorderObjectives([]int{5, 4}), models.ErrInvalidOrder)
	assert.ErrorIs(t, l.DeleteObjective(1), models.ErrObjectiveNotFound)
}

func TestSaveSettingsClearsModelOnProviderSwitch(t *testing.T) {
	inf := &fakeInference{}
	l := newTestLoop(t, newFakeBackend(), inf)

	s := l.Settings()
	s.SelectedModel = "models/gemini-2.5-flash"
	l.SaveSettings(context.Background(), s)
	assert.Equal(t, "models/gemini-2.5-flash", l.Settings().SelectedModel)

	s = l.Settings()
	s.AIProvider = models.ProviderOpenRouter
	s.OpenRouterAPIKey = "or-key"
	s.SelectedModel = "models/gemini-2.5-flash"
	l.SaveSettings(context.Background(), s)
	assert.Empty(t, l.Settings().SelectedModel)

	snap := l.Snapshot()
	assert.Equal(t, "Settings updated. AI Provider: openrouter.", snap.ChatHistory[len(snap.ChatHistory)-1].Text)
}

func TestRefreshModelsSelectsFirst(t *testing.T) {
	inf := &fakeInference{list: []models.AIModel{{ID: "m1", Name: "One"}, {ID: "m2", Name: "Two"}}}
	l := newTestLoop(t, newFakeBackend(), inf)

	list := l.RefreshModels(context.Background())
	assert.Len(t, list, 2)
	assert.Equal(t, "m1", l.Settings().SelectedModel)

	s := l.Settings()
	s.SelectedModel = "m2"
	l.SaveSettings(context.Background(), s)
	assert.Equal(t, "m2", l.Settings().SelectedModel)
}

func TestRefreshModelsWithoutKeySkipsProvider(t *testing.T) {
	inf := &fakeInference{list: []models.AIModel{{ID: "m1"}}}
	l := New(Options{
		Settings:  models.AppSettings{AIProvider: models.ProviderGoogle, GoogleAPIKey: "", BackendURL: "http://localhost:5000"},
		Backend:   func(string) Backend { return newFakeBackend() },
		Inference: inf,
		Timing:    fastTiming(),
	})

	list := l.RefreshModels(context.Background())
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.Zero(t, inf.listed)
}

func TestSendChat(t *testing.T) {
	l := newTestLoop(t, newFakeBackend(), &fakeInference{})
	_, ok := l.SendChat(context.Background(), "  ")
	assert.False(t, ok)
	reply, ok := l.SendChat(context.Background(), "where is the gym?")
	require.True(t, ok)

	h := l.Snapshot().ChatHistory
	require.GreaterOrEqual(t, len(h), 2)
	assert.Equal(t, models.ChatMessage{ID: h[len(h)-2].ID, Sender: models.SenderUser, Text: "where is the gym?"}, h[len(h)-2])
	assert.Equal(t, h[len(h)-1], reply)
	assert.Equal(t, models.SenderAI, reply.Sender)
	assert.Equal(t, "echo: where is the gym?", reply.Text)
	assert.Greater(t, reply.ID, h[len(h)-2].ID)
}

type slowChatInference struct {
	fakeInference
	entered chan struct{}
	release chan struct{}
}

func (f *slowChatInference) Chat(ctx context.Context, s models.AppSettings, prompt string) string {
	close(f.entered)
	<-f.release
	return "slow: " + prompt
}

func TestSendChatReturnsReplyNotLatestMessage(t *testing.T) {
	inf := &slowChatInference{entered: make(chan struct{}), release: make(chan struct{})}
	l := newTestLoop(t, newFakeBackend(), inf)

	done := make(chan models.ChatMessage, 1)
	go func() {
		reply, _ := l.SendChat(context.Background(), "hi")
		done <- reply
	}()
	<-inf.entered
	_, ok := l.SendChat(context.Background(), "again")
	assert.False(t, ok, "a second chat while one is pending is dropped")
	close(inf.release)
	reply := <-done

	// A system line posted after the reply must not be mistaken for it.
	require.NoError(t, l.ToggleObjective(1))
	assert.Equal(t, models.SenderAI, reply.Sender)
	assert.Equal(t, "slow: hi", reply.Text)
	assert.NotEqual(t, reply.Text, lastMessage(l))
}

func TestRefreshModelsFailureIsReported(t *testing.T) {
	inf := &fakeInference{listErr: errors.New("401 unauthorized")}
	l := newTestLoop(t, newFakeBackend(), inf)

	list := l.RefreshModels(context.Background())
	assert.NotNil(t, list)
	assert.Empty(t, list)
	snap := l.Snapshot()
	assert.False(t, snap.ModelsLoading)
	assert.Empty(t, snap.AvailableModels)
	assert.Equal(t, "models/gemini-2.5-flash", snap.Settings.SelectedModel)
	assert.Equal(t, "Failed to load models for google.", lastMessage(l))
}

func TestLoadROMFailure(t *testing.T) {
	b := newFakeBackend()
	b.romErr = &backend.APIError{Op: "load rom", Status: 400, Message: "Invalid ROM"}
	l := newTestLoop(t, b, &fakeInference{})

	err := l.LoadROM(context.Background(), "bad.gb", strings.NewReader("x"))
	require.Error(t, err)
	snap := l.Snapshot()
	assert.False(t, snap.ROMLoaded)
	assert.Equal(t, "Failed to load ROM: Invalid ROM", snap.ChatHistory[len(snap.ChatHistory)-1].Text)
	assert.ErrorIs(t, l.Start(), ErrNoROM)
}

func TestLoadROMRefreshesImmediately(t *testing.T) {
	b := newFakeBackend()
	l := newTestLoop(t, b, &fakeInference{})
	loadROM(t, l)

	snap := l.Snapshot()
	assert.True(t, snap.ROMLoaded)
	assert.True(t, snap.HasScreen)
	assert.Equal(t, "Successfully loaded ROM. Ready for instructions.", snap.Reasoning)
	assert.Equal(t, "Successfully loaded red.gb.", snap.ChatHistory[len(snap.ChatHistory)-1].Text)
}

func TestGameStateIntents(t *testing.T) {
	b := newFakeBackend()
	l := newTestLoop(t, b, &fakeInference{})
	assert.ErrorIs(t, l.SaveGameState(context.Background()), ErrNoROM)

	loadROM(t, l)
	require.NoError(t, l.SaveGameState(context.Background()))
	assert.Equal(t, "Game state saved.", lastMessage(l))

	require.Error(t, l.LoadGameState(context.Background()))
	assert.Equal(t, "Failed to load state: No save state found", lastMessage(l))
	assert.Equal(t, 1, b.saves)
	assert.Equal(t, 1, b.loads)
}

func lastMessage(l *Loop) string {
	h := l.Snapshot().ChatHistory
	return h[len(h)-1].Text
}

func TestRunDrivesPollers(t *testing.T) {
	b := newFakeBackend()
	inf := &fakeInference{decision: engine.Decision{Reasoning: "walk", Action: models.ActionRight}}
	s := models.DefaultSettings()
	s.AIActionInterval = 15
	l := New(Options{
		Settings:  s,
		Backend:   func(string) Backend { return b },
		Inference: inf,
		Timing:    fastTiming(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	loadROM(t, l)
	require.NoError(t, l.Start())

	assert.Eventually(t, func() bool { return len(b.sent()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	l.Stop()

	n := len(b.sent())
	time.Sleep(60 * time.Millisecond)
	// At most one tick that had already dispatched may land after Stop.
	assert.LessOrEqual(t, len(b.sent()), n+1)

	b.mu.Lock()
	screens := b.screens
	b.mu.Unlock()
	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.screens > screens
	}, time.Second, 5*time.Millisecond, "idle refresher and stream keep polling")

	cancel()
	require.NoError(t, <-done)
}

func TestSaveAndRestore(t *testing.T) {
	store := &models.FileStore{Dir: t.TempDir()}
	opts := Options{
		Backend:   func(string) Backend { return newFakeBackend() },
		Inference: &fakeInference{},
		Store:     store,
		Timing:    fastTiming(),
	}

	l := New(opts)
	l.SetGoal("Become champion")
	_, err := l.AddObjective("Get 8 badges")
	require.NoError(t, err)
	require.NoError(t, l.Save())
	assert.Equal(t, "saved", l.Snapshot().SaveStatus)
	assert.Eventually(t, func() bool { return l.Snapshot().SaveStatus == "" }, time.Second, 5*time.Millisecond)

	restored := New(opts)
	restored.Restore()
	snap := restored.Snapshot()
	assert.Equal(t, "Become champion", snap.Goal)
	assert.Len(t, snap.Objectives, 4)
	assert.Equal(t, "Session restored from previous state.", lastMessage(restored))

	o, err := restored.AddObjective("Beat the Elite Four")
	require.NoError(t, err)
	assert.Equal(t, 5, o.ID)
}

func TestSessions(t *testing.T) {
	l := newTestLoop(t, newFakeBackend(), &fakeInference{})
	names, err := l.Sessions()
	require.NoError(t, err)
	assert.Empty(t, names)

	store := &models.FileStore{Dir: t.TempDir()}
	require.NoError(t, store.Save("older-run", models.NewSession(models.DefaultSettings())))
	l = New(Options{
		Backend:     func(string) Backend { return newFakeBackend() },
		Inference:   &fakeInference{},
		Store:       store,
		SessionName: "red-run",
		Timing:      fastTiming(),
	})
	require.NoError(t, l.Save())

	names, err = l.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"older-run", "red-run"}, names)
	assert.Equal(t, "red-run", l.SessionName())
}
