package loop

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

// Snapshot is a copy of everything the presentation layer shows.
type Snapshot struct {
	State           models.AIState       `json:"aiState"`
	ROMLoaded       bool                 `json:"romLoaded"`
	Reasoning       string               `json:"reasoning"`
	Dialogue        string               `json:"dialogue"`
	Goal            string               `json:"aiGoal"`
	Objectives      []models.Objective   `json:"objectives"`
	JustCompleted   []int                `json:"justCompleted"`
	ChatHistory     []models.ChatMessage `json:"chatHistory"`
	ActionHistory   []models.GameAction  `json:"actionHistory"`
	Achievements    []models.Achievement `json:"achievements"`
	Party           []models.PartyMember `json:"party"`
	Inventory       []models.Item        `json:"inventory"`
	Map             models.MapData       `json:"mapInfo"`
	Stats           models.PlayerStats   `json:"playerStats"`
	Settings        models.AppSettings   `json:"appSettings"`
	AvailableModels []models.AIModel     `json:"availableModels"`
	ModelsLoading   bool                 `json:"modelsLoading"`
	Chatting        bool                 `json:"chatting"`
	SaveStatus      string               `json:"saveStatus"`
	HasScreen       bool                 `json:"hasScreen"`
}

// LastAction returns the most recent action, or "".
func (s Snapshot) LastAction() models.GameAction {
	if len(s.ActionHistory) == 0 {
		return ""
	}
	return s.ActionHistory[len(s.ActionHistory)-1]
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.session.Clone()
	just := make([]int, 0, len(l.justCompleted))
	for id := range l.justCompleted {
		just = append(just, id)
	}
	slices.Sort(just)
	return Snapshot{
		State:           l.state,
		ROMLoaded:       l.romLoaded,
		Reasoning:       l.reasoning,
		Dialogue:        l.dialogue,
		Goal:            c.Goal,
		Objectives:      c.Objectives,
		JustCompleted:   just,
		ChatHistory:     c.ChatHistory,
		ActionHistory:   c.ActionHistory,
		Achievements:    c.Achievements,
		Party:           c.Party,
		Inventory:       c.Inventory,
		Map:             c.Map,
		Stats:           c.Stats,
		Settings:        c.Settings,
		AvailableModels: append([]models.AIModel{}, l.availableModels...),
		ModelsLoading:   l.modelsLoading,
		Chatting:        l.chatting,
		SaveStatus:      l.saveStatus,
		HasScreen:       !l.screen.Empty(),
	}
}

func (l *Loop) State() models.AIState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetGoal replaces the high-level goal. A blank goal is stored as is; Start
// refuses it.
func (l *Loop) SetGoal(goal string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.Goal = goal
	l.notify()
}

// AddObjective appends a new objective and returns it.
func (l *Loop) AddObjective(text string) (models.Objective, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Objective{}, ErrEmptyObjective
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	o := models.Objective{ID: l.nextObjectiveID, Text: text}
	l.nextObjectiveID++
	l.session.Objectives = append(l.session.Objectives, o)
	l.notify()
	return o, nil
}

// ToggleObjective flips the completed flag. Completing an objective logs it
// and highlights it for a short while.
func (l *Loop) ToggleObjective(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := slices.IndexFunc(l.session.Objectives, func(o models.Objective) bool { return o.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %d", models.ErrObjectiveNotFound, id)
	}
	o := &l.session.Objectives[i]
	o.Completed = !o.Completed
	if o.Completed {
		l.addMessage(models.SenderSystem, fmt.Sprintf("Objective complete: '%s'", o.Text))
		l.highlight(id)
	} else {
		delete(l.justCompleted, id)
	}
	l.notify()
	return nil
}

// highlight marks id as just completed until the highlight expires. A newer
// highlight of the same id outlives older timers. Callers hold l.mu.
func (l *Loop) highlight(id int) {
	l.highlightSeq++
	seq := l.highlightSeq
	l.justCompleted[id] = seq
	time.AfterFunc(l.timing.Highlight, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.justCompleted[id] == seq {
			delete(l.justCompleted, id)
			l.notify()
		}
	})
}

// JustCompleted reports whether id is currently highlighted.
func (l *Loop) JustCompleted(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.justCompleted[id]
	return ok
}

func (l *Loop) DeleteObjective(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := slices.IndexFunc(l.session.Objectives, func(o models.Objective) bool { return o.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %d", models.ErrObjectiveNotFound, id)
	}
	l.session.Objectives = slices.Delete(slices.Clone(l.session.Objectives), i, i+1)
	delete(l.justCompleted, id)
	l.notify()
	return nil
}

// MoveObjective places id directly before beforeID, or last when beforeID is 0.
func (l *Loop) MoveObjective(id, beforeID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	objs, err := models.MoveObjective(l.session.Objectives, id, beforeID)
	if err != nil {
		return err
	}
	l.session.Objectives = objs
	l.notify()
	return nil
}

// ReorderObjectives sets the priority order. ids must name every objective
// exactly once.
func (l *Loop) ReorderObjectives(ids []int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	objs, err := models.ReorderObjectives(l.session.Objectives, ids)
	if err != nil {
		return err
	}
	l.session.Objectives = objs
	l.notify()
	return nil
}

// SendChat posts text to the transcript and appends the model's reply, which
// it returns. Blank input and input sent while a reply is pending are dropped.
func (l *Loop) SendChat(ctx context.Context, text string) (models.ChatMessage, bool) {
	l.mu.Lock()
	if strings.TrimSpace(text) == "" || l.chatting {
		l.mu.Unlock()
		return models.ChatMessage{}, false
	}
	l.chatting = true
	l.addMessage(models.SenderUser, text)
	settings := l.session.Settings
	l.mu.Unlock()

	reply := l.inference.Chat(ctx, settings, text)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.addMessage(models.SenderAI, reply)
	msg := l.session.ChatHistory[len(l.session.ChatHistory)-1]
	l.chatting = false
	l.notify()
	return msg, true
}

func (l *Loop) Settings() models.AppSettings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Settings
}

// SaveSettings replaces the settings. Changing the provider always clears the
// selected model; model ids do not carry across providers.
func (l *Loop) SaveSettings(ctx context.Context, s models.AppSettings) {
	l.mu.Lock()
	if s.AIProvider != l.session.Settings.AIProvider {
		s.SelectedModel = ""
		l.availableModels = nil
	}
	if s.AIActionInterval <= 0 {
		s.AIActionInterval = defaultActionIntervalMS
	}
	l.session.Settings = s
	l.connectBackend()
	l.reschedule()
	l.addMessage(models.SenderSystem, fmt.Sprintf("Settings updated. AI Provider: %s.", s.AIProvider))
	l.mu.Unlock()

	l.Save()
	l.RefreshModels(ctx)
}

// RefreshModels reloads the model list for the current provider. When the
// selected model is not offered, the first listed model is selected.
func (l *Loop) RefreshModels(ctx context.Context) []models.AIModel {
	l.mu.Lock()
	settings := l.session.Settings
	if !settings.HasCredentials() {
		l.availableModels = []models.AIModel{}
		l.notify()
		l.mu.Unlock()
		return []models.AIModel{}
	}
	l.modelsLoading = true
	l.notify()
	l.mu.Unlock()

	list, err := l.inference.ListModels(ctx, settings)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.modelsLoading = false
	if l.session.Settings.AIProvider != settings.AIProvider {
		// The provider changed while listing; this list is for the old one.
		l.notify()
		return list
	}
	if err != nil {
		l.logger.Error("failed to load models", "provider", settings.AIProvider, "error", err)
		l.availableModels = []models.AIModel{}
		l.addMessage(models.SenderSystem, fmt.Sprintf("Failed to load models for %s.", settings.AIProvider))
		return []models.AIModel{}
	}
	l.availableModels = list
	if len(list) > 0 && !slices.ContainsFunc(list, func(m models.AIModel) bool { return m.ID == l.session.Settings.SelectedModel }) {
		l.session.Settings.SelectedModel = list[0].ID
	}
	l.notify()
	return list
}

// Sessions lists the names of the sessions in the store, the current one
// included once it has been saved.
func (l *Loop) Sessions() ([]string, error) {
	if l.store == nil {
		return []string{}, nil
	}
	return l.store.ListSessions()
}

// SessionName is the name the current session is saved under.
func (l *Loop) SessionName() string {
	return l.sessionName
}

// LoadROM uploads a ROM to the backend. The ROM counts as loaded only if the
// upload succeeds.
func (l *Loop) LoadROM(ctx context.Context, filename string, rom io.Reader) error {
	l.mu.Lock()
	b := l.backend
	l.mu.Unlock()

	if err := b.LoadROM(ctx, filename, rom); err != nil {
		l.mu.Lock()
		l.romLoaded = false
		l.setScreen(models.Screen{})
		l.addMessage(models.SenderSystem, "Failed to load ROM: "+err.Error())
		l.reschedule()
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.romLoaded = true
	l.lastConnErr = ""
	l.reasoning = "Successfully loaded ROM. Ready for instructions."
	l.addMessage(models.SenderSystem, fmt.Sprintf("Successfully loaded %s.", filename))
	l.reschedule()
	l.mu.Unlock()

	l.refreshFull(ctx)
	return nil
}

// SaveGameState asks the emulator to write a save state.
func (l *Loop) SaveGameState(ctx context.Context) error {
	l.mu.Lock()
	if !l.romLoaded {
		l.mu.Unlock()
		return ErrNoROM
	}
	b := l.backend
	l.mu.Unlock()

	err := b.SaveState(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.addMessage(models.SenderSystem, "Failed to save state: "+err.Error())
		return err
	}
	l.addMessage(models.SenderSystem, "Game state saved.")
	return nil
}

// LoadGameState restores the emulator's save state and refreshes everything.
func (l *Loop) LoadGameState(ctx context.Context) error {
	l.mu.Lock()
	if !l.romLoaded {
		l.mu.Unlock()
		return ErrNoROM
	}
	b := l.backend
	l.mu.Unlock()

	if err := b.LoadState(ctx); err != nil {
		l.mu.Lock()
		l.addMessage(models.SenderSystem, "Failed to load state: "+err.Error())
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.addMessage(models.SenderSystem, "Game state loaded.")
	l.mu.Unlock()

	l.refreshFull(ctx)
	return nil
}
