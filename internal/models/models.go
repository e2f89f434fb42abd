package models

import "strings"

// AIState is the state of the orchestration loop.
type AIState string

const (
	AIStateIdle      AIState = "idle"
	AIStateRunning   AIState = "running"
	AIStateThinking  AIState = "thinking"
	AIStateCompleted AIState = "completed" // reserved, never produced by the loop itself
)

// GameAction is a single button press on the emulated console.
type GameAction string

const (
	ActionUp     GameAction = "UP"
	ActionDown   GameAction = "DOWN"
	ActionLeft   GameAction = "LEFT"
	ActionRight  GameAction = "RIGHT"
	ActionA      GameAction = "A"
	ActionB      GameAction = "B"
	ActionStart  GameAction = "START"
	ActionSelect GameAction = "SELECT"
)

// ValidActions lists every action the backend accepts, in prompt order.
var ValidActions = []GameAction{
	ActionUp, ActionDown, ActionLeft, ActionRight,
	ActionA, ActionB, ActionStart, ActionSelect,
}

// ParseGameAction reports whether s is exactly one of ValidActions.
// Matching is case sensitive: "a" or " A" are not actions.
func ParseGameAction(s string) (GameAction, bool) {
	for _, a := range ValidActions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// ActionNames returns ValidActions as plain strings.
func ActionNames() []string {
	names := make([]string, len(ValidActions))
	for i, a := range ValidActions {
		names[i] = string(a)
	}
	return names
}

// AIProvider selects the inference backend.
type AIProvider string

const (
	ProviderGoogle     AIProvider = "google"
	ProviderOpenRouter AIProvider = "openrouter"
	ProviderLMStudio   AIProvider = "lmstudio"
)

// AIModel is one entry of a provider's model list.
type AIModel struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// AppSettings holds user-editable settings.
type AppSettings struct {
	AIActionInterval int        `json:"aiActionInterval" yaml:"ai_action_interval"` // milliseconds
	BackendURL       string     `json:"backendUrl" yaml:"backend_url"`
	AIProvider       AIProvider `json:"aiProvider" yaml:"ai_provider"`
	GoogleAPIKey     string     `json:"googleApiKey" yaml:"google_api_key"`
	OpenRouterAPIKey string     `json:"openrouterApiKey" yaml:"openrouter_api_key"`
	LMStudioURL      string     `json:"lmStudioUrl" yaml:"lmstudio_url"`
	SelectedModel    string     `json:"selectedModel" yaml:"selected_model"`
}

// DefaultSettings returns the settings used before anything is configured.
func DefaultSettings() AppSettings {
	return AppSettings{
		AIActionInterval: 4000,
		BackendURL:       "http://localhost:5000",
		AIProvider:       ProviderGoogle,
		LMStudioURL:      "http://localhost:1234",
	}
}

// HasCredentials reports whether the selected provider has what it needs to
// be contacted at all (a key or a server URL). The selected model is not
// considered.
func (s AppSettings) HasCredentials() bool {
	switch s.AIProvider {
	case ProviderGoogle:
		return s.GoogleAPIKey != ""
	case ProviderOpenRouter:
		return s.OpenRouterAPIKey != ""
	case ProviderLMStudio:
		return s.LMStudioURL != ""
	}
	return false
}

// Achievement is a badge earned in game.
type Achievement struct {
	Name    string `json:"name" yaml:"name"`
	IconURL string `json:"iconUrl" yaml:"icon_url"`
	Time    string `json:"time" yaml:"time"`
}

// HP is a current/max hit point pair.
type HP struct {
	Current int `json:"current" yaml:"current"`
	Max     int `json:"max" yaml:"max"`
}

// PartyMember is one creature in the player's party.
type PartyMember struct {
	Name      string   `json:"name" yaml:"name"`
	SpriteURL string   `json:"spriteUrl" yaml:"sprite_url"`
	Level     int      `json:"level" yaml:"level"`
	HP        HP       `json:"hp" yaml:"hp"`
	Types     []string `json:"types" yaml:"types"`
}

// Item is an inventory entry.
type Item struct {
	Name     string `json:"name" yaml:"name"`
	Quantity int    `json:"quantity" yaml:"quantity"`
	Icon     string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Coords is an [x, y] map position.
type Coords [2]int

// PointOfInterest is a named location on the current map.
type PointOfInterest struct {
	Name   string `json:"name" yaml:"name"`
	Coords Coords `json:"coords" yaml:"coords"`
	Type   string `json:"type" yaml:"type"` // quest_location, heal_location, shop, objective
}

// MapData describes the area the player is in.
type MapData struct {
	Name             string            `json:"name" yaml:"name"`
	Coords           Coords            `json:"coords" yaml:"coords"`
	PointsOfInterest []PointOfInterest `json:"pointsOfInterest" yaml:"points_of_interest"`
	ExplorationGrid  [][]int           `json:"explorationGrid,omitempty" yaml:"exploration_grid,omitempty"` // 1 = visited
}

// PlayerStats are the counters shown in the header.
type PlayerStats struct {
	Runtime string `json:"runtime" yaml:"runtime"`
	Steps   int    `json:"steps" yaml:"steps"`
	Money   int    `json:"money" yaml:"money"`
}

// GameState is a full snapshot read from the backend.
type GameState struct {
	Achievements []Achievement `json:"achievements" yaml:"achievements"`
	Inventory    []Item        `json:"inventory" yaml:"inventory"`
	Map          MapData       `json:"map" yaml:"map"`
	Party        []PartyMember `json:"party" yaml:"party"`
	Stats        PlayerStats   `json:"stats" yaml:"stats"`
	Dialogue     string        `json:"dialogue,omitempty" yaml:"dialogue,omitempty"`
}

// DefaultGameState is the snapshot used when the backend cannot provide one.
func DefaultGameState() GameState {
	return GameState{
		Achievements: []Achievement{},
		Inventory:    []Item{},
		Map: MapData{
			Name:             "Unknown Area",
			PointsOfInterest: []PointOfInterest{},
			ExplorationGrid:  [][]int{},
		},
		Party: []PartyMember{},
		Stats: PlayerStats{Runtime: "00:00:00"},
	}
}

// Objective is a user-authored task. List order is priority order.
type Objective struct {
	ID        int    `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// Sender identifies who wrote a chat line.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// ChatMessage is one line of the chat transcript.
type ChatMessage struct {
	ID     int    `json:"id" yaml:"id"`
	Sender Sender `json:"sender" yaml:"sender"`
	Text   string `json:"text" yaml:"text"`
}

// Screen is a raw screen capture as returned by the backend.
type Screen struct {
	Data     []byte
	MIMEType string
}

// Empty reports whether the capture holds no image.
func (s Screen) Empty() bool {
	return len(s.Data) == 0
}

// Format returns the image subtype ("png" for "image/png").
func (s Screen) Format() string {
	mt := s.MIMEType
	if mt == "" {
		return "png"
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimPrefix(strings.TrimSpace(mt), "image/")
}

// ContentType returns the MIME type, defaulting to image/png.
func (s Screen) ContentType() string {
	return "image/" + s.Format()
}
