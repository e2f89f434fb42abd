package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/ai-game-assistant/internal/loop"
	"github.com/tatianab/ai-game-assistant/internal/models"
)

// ScreenWidth is the width of the game screen panel in cells.
const ScreenWidth = 40

type model struct {
	ctx         context.Context
	loop        *loop.Loop
	changes     <-chan struct{}
	unsubscribe func()
	snap        loop.Snapshot
	textInput   textinput.Model
	viewport    viewport.Model
	status      string
	statusErr   bool
	width       int
	height      int
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	aiStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	helpStyle = systemStyle

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)

	justDoneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5FFF87")).
			Bold(true)

	stateColors = map[models.AIState]lipgloss.Color{
		models.AIStateIdle:      lipgloss.Color("#888888"),
		models.AIStateRunning:   lipgloss.Color("#5FFF87"),
		models.AIStateThinking:  lipgloss.Color("#FFD75F"),
		models.AIStateCompleted: lipgloss.Color("#5FAFFF"),
	}
)

func NewModel(ctx context.Context, l *loop.Loop) model {
	ti := textinput.New()
	ti.Placeholder = "Chat with the AI, or /start, /goal, /obj add ..."
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 60

	changes, unsubscribe := l.Subscribe()
	return model{
		ctx:         ctx,
		loop:        l,
		changes:     changes,
		unsubscribe: unsubscribe,
		snap:        l.Snapshot(),
		textInput:   ti,
		viewport:    viewport.New(60, 10),
	}
}

type changedMsg struct{}

type resultMsg struct {
	text string
	err  error
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

func (m model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changes:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			line := m.textInput.Value()
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			m.textInput.Reset()
			c, err := parseCommand(line)
			if err != nil {
				m.status, m.statusErr = err.Error(), true
				return m, nil
			}
			if c.kind == cmdQuit {
				return m, tea.Quit
			}
			return m, m.execute(c)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = m.middleWidth()
		m.viewport.Height = max(msg.Height-20, 5)
		m.refreshChat()

	case changedMsg:
		m.snap = m.loop.Snapshot()
		m.refreshChat()
		return m, m.waitForChange()

	case resultMsg:
		m.status, m.statusErr = msg.text, msg.err != nil
		if msg.err != nil {
			m.status = msg.err.Error()
		}
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *model) refreshChat() {
	m.viewport.SetContent(renderChat(m.snap.ChatHistory, m.viewport.Width))
	m.viewport.GotoBottom()
}

// execute runs c off the update loop; gateway calls can take seconds.
func (m model) execute(c command) tea.Cmd {
	ctx, l := m.ctx, m.loop
	return func() tea.Msg {
		text, err := runCommand(ctx, l, c)
		return resultMsg{text: text, err: err}
	}
}

func runCommand(ctx context.Context, l *loop.Loop, c command) (string, error) {
	switch c.kind {
	case cmdChat:
		if _, ok := l.SendChat(ctx, c.text); !ok {
			return "", errors.New("still waiting for the last reply")
		}
		return "", nil
	case cmdSessions:
		names, err := l.Sessions()
		if err != nil {
			return "", err
		}
		return formatSessions(names, l.SessionName()), nil
	case cmdStart:
		return "AI started.", l.Start()
	case cmdStop:
		l.Stop()
		return "AI stopped.", nil
	case cmdGoal:
		l.SetGoal(c.text)
		return "Goal updated.", nil
	case cmdObjAdd:
		o, err := l.AddObjective(c.text)
		return fmt.Sprintf("Added objective %d.", o.ID), err
	case cmdObjDone:
		return "", l.ToggleObjective(c.id)
	case cmdObjRemove:
		return fmt.Sprintf("Removed objective %d.", c.id), l.DeleteObjective(c.id)
	case cmdObjMove:
		return "", l.MoveObjective(c.id, c.before)
	case cmdROM:
		f, err := os.Open(c.text)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return "", l.LoadROM(ctx, filepath.Base(c.text), f)
	case cmdSave:
		return "", l.SaveGameState(ctx)
	case cmdLoad:
		return "", l.LoadGameState(ctx)
	case cmdProvider, cmdModel, cmdInterval, cmdBackend:
		s := l.Settings()
		switch c.kind {
		case cmdProvider:
			s.AIProvider = models.AIProvider(c.text)
		case cmdModel:
			s.SelectedModel = c.text
		case cmdInterval:
			s.AIActionInterval = c.id
		case cmdBackend:
			s.BackendURL = c.text
		}
		l.SaveSettings(ctx, s)
		return "", nil
	}
	return "", fmt.Errorf("unhandled command %d", c.kind)
}

// formatSessions lists saved session names, marking the current one.
func formatSessions(names []string, current string) string {
	if len(names) == 0 {
		return "No saved sessions."
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n
		if n == current {
			out[i] += " (current)"
		}
	}
	return "Sessions: " + strings.Join(out, ", ")
}

func (m model) leftWidth() int {
	return ScreenWidth + 2
}

func (m model) rightWidth() int {
	return max(int(float64(m.width)*0.25), 28)
}

func (m model) middleWidth() int {
	return max(m.width-m.leftWidth()-m.rightWidth()-6, 30)
}

func (m model) View() string {
	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderGamePanel(),
		panelStyle.Width(m.middleWidth()).Render(m.renderAIPanel()),
		panelStyle.Width(m.rightWidth()).Render(m.renderStatePanel()),
	)

	status := helpStyle.Render("Commands: " + usage)
	if m.status != "" {
		if m.statusErr {
			status = errorStyle.Render(m.status)
		} else {
			status = aiStyle.Render(m.status)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		panels,
		"\n"+m.textInput.View(),
		"\n"+status,
	)
}

func (m model) renderGamePanel() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("GAME") + "\n")

	art := ""
	if s, ok := m.loop.View().(fmt.Stringer); ok {
		art = s.String()
	}
	switch {
	case art != "":
		b.WriteString(art + "\n")
	case m.snap.ROMLoaded:
		b.WriteString("(waiting for screen)\n")
	default:
		b.WriteString("(no ROM loaded, use /rom <path>)\n")
	}

	if last := m.snap.LastAction(); last != "" {
		b.WriteString(fmt.Sprintf("\nLast action: %s\n", last))
	}

	b.WriteString("\n" + titleStyle.Render("PARTY") + "\n")
	if len(m.snap.Party) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, p := range m.snap.Party {
		b.WriteString(fmt.Sprintf("%-12s Lv%-3d HP %d/%d %s\n",
			p.Name, p.Level, p.HP.Current, p.HP.Max, strings.Join(p.Types, "/")))
	}
	return lipgloss.NewStyle().Width(m.leftWidth()).Render(b.String())
}

func (m model) renderAIPanel() string {
	var b strings.Builder

	state := lipgloss.NewStyle().Foreground(stateColors[m.snap.State]).Bold(true).
		Render(strings.ToUpper(string(m.snap.State)))
	b.WriteString(titleStyle.Render("AI") + " " + state)
	if m.snap.SaveStatus != "" {
		b.WriteString(systemStyle.Render("  " + m.snap.SaveStatus))
	}
	b.WriteString("\n")

	provider := string(m.snap.Settings.AIProvider)
	if m.snap.Settings.SelectedModel != "" {
		provider += " / " + m.snap.Settings.SelectedModel
	}
	if m.snap.ModelsLoading {
		provider += " (loading models)"
	}
	b.WriteString(systemStyle.Render(provider) + "\n\n")

	b.WriteString("Goal: " + m.snap.Goal + "\n\n")
	b.WriteString(aiStyle.Width(m.middleWidth()).Render(m.snap.Reasoning) + "\n\n")

	b.WriteString("Recent: " + recentActions(m.snap.ActionHistory, 10) + "\n\n")

	b.WriteString(titleStyle.Render("CHAT"))
	if m.snap.Chatting {
		b.WriteString(systemStyle.Render(" thinking..."))
	}
	b.WriteString("\n" + m.viewport.View())
	return b.String()
}

func (m model) renderStatePanel() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("OBJECTIVES") + "\n")
	b.WriteString(renderObjectives(m.snap.Objectives, m.snap.JustCompleted))

	mp := m.snap.Map
	b.WriteString("\n" + titleStyle.Render("MAP") + "\n")
	b.WriteString(fmt.Sprintf("%s [%d, %d]\n", mp.Name, mp.Coords[0], mp.Coords[1]))
	for _, poi := range mp.PointsOfInterest {
		b.WriteString(fmt.Sprintf("- %s (%s) [%d, %d]\n", poi.Name, poi.Type, poi.Coords[0], poi.Coords[1]))
	}

	b.WriteString("\n" + titleStyle.Render("INVENTORY") + "\n")
	if len(m.snap.Inventory) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, it := range m.snap.Inventory {
		b.WriteString(fmt.Sprintf("- %s x%d\n", it.Name, it.Quantity))
	}

	st := m.snap.Stats
	b.WriteString("\n" + titleStyle.Render("STATS") + "\n")
	b.WriteString(fmt.Sprintf("Time: %s\nSteps: %d\nMoney: %d\nBadges: %d\n",
		st.Runtime, st.Steps, st.Money, len(m.snap.Achievements)))
	return b.String()
}

func renderObjectives(objs []models.Objective, justCompleted []int) string {
	if len(objs) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, o := range objs {
		box := "[ ]"
		if o.Completed {
			box = "[X]"
		}
		line := fmt.Sprintf("%s %d. %s", box, o.ID, o.Text)
		for _, id := range justCompleted {
			if id == o.ID {
				line = justDoneStyle.Render(line)
				break
			}
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func renderChat(history []models.ChatMessage, width int) string {
	var b strings.Builder
	for _, msg := range history {
		switch msg.Sender {
		case models.SenderUser:
			b.WriteString(userStyle.Width(width).Render("> "+msg.Text) + "\n")
		case models.SenderAI:
			b.WriteString(aiStyle.Width(width).Render(msg.Text) + "\n")
		default:
			b.WriteString(systemStyle.Width(width).Render(msg.Text) + "\n")
		}
	}
	return b.String()
}

func recentActions(history []models.GameAction, n int) string {
	if len(history) == 0 {
		return "None"
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	names := make([]string, len(history))
	for i, a := range history {
		names[i] = string(a)
	}
	return strings.Join(names, " ")
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, l *loop.Loop) error {
	m := NewModel(ctx, l)
	defer m.unsubscribe()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
