package models

import (
	"errors"
	"fmt"
)

var (
	ErrObjectiveNotFound = errors.New("objective not found")
	ErrInvalidOrder      = errors.New("order must list every objective exactly once")
)

// Session is everything that survives a restart of the dashboard.
type Session struct {
	Settings      AppSettings   `json:"appSettings" yaml:"settings"`
	Goal          string        `json:"aiGoal" yaml:"goal"`
	Objectives    []Objective   `json:"objectives" yaml:"objectives"`
	ChatHistory   []ChatMessage `json:"chatHistory" yaml:"chat_history"`
	ActionHistory []GameAction  `json:"actionHistory" yaml:"action_history"`
	Achievements  []Achievement `json:"achievements" yaml:"achievements"`
	Party         []PartyMember `json:"party" yaml:"party"`
	Inventory     []Item        `json:"inventory" yaml:"inventory"`
	Map           MapData       `json:"mapInfo" yaml:"map"`
	Stats         PlayerStats   `json:"playerStats" yaml:"stats"`
}

// NewSession returns the session a fresh install starts with.
func NewSession(settings AppSettings) *Session {
	return &Session{
		Settings: settings,
		Goal:     "Defeat the final boss and save the world.",
		Objectives: []Objective{
			{ID: 1, Text: "Complete the tutorial quest"},
			{ID: 2, Text: "Visit the capital city"},
			{ID: 3, Text: "Find the hidden ancient ruins"},
		},
		ChatHistory:   []ChatMessage{},
		ActionHistory: []GameAction{},
		Achievements:  []Achievement{},
		Party:         []PartyMember{},
		Inventory:     []Item{},
		Map:           MapData{Name: "Loading...", PointsOfInterest: []PointOfInterest{}},
		Stats:         PlayerStats{Runtime: "00:00:00"},
	}
}

// Merge overwrites s with every field that is set in saved. Unset fields in
// saved keep the value already in s.
func (s *Session) Merge(saved *Session) {
	if saved == nil {
		return
	}
	if saved.Settings != (AppSettings{}) {
		s.Settings = saved.Settings
	}
	if saved.Goal != "" {
		s.Goal = saved.Goal
	}
	if saved.Objectives != nil {
		s.Objectives = saved.Objectives
	}
	if saved.ChatHistory != nil {
		s.ChatHistory = saved.ChatHistory
	}
	if saved.ActionHistory != nil {
		s.ActionHistory = saved.ActionHistory
	}
	if saved.Achievements != nil {
		s.Achievements = saved.Achievements
	}
	if saved.Party != nil {
		s.Party = saved.Party
	}
	if saved.Inventory != nil {
		s.Inventory = saved.Inventory
	}
	if saved.Map.Name != "" {
		s.Map = saved.Map
	}
	if saved.Stats != (PlayerStats{}) {
		s.Stats = saved.Stats
	}
}

// Clone returns a deep copy of the session for persistence.
func (s *Session) Clone() *Session {
	c := *s
	c.Objectives = append([]Objective(nil), s.Objectives...)
	c.ChatHistory = append([]ChatMessage(nil), s.ChatHistory...)
	c.ActionHistory = append([]GameAction(nil), s.ActionHistory...)
	c.Achievements = append([]Achievement(nil), s.Achievements...)
	c.Party = append([]PartyMember(nil), s.Party...)
	c.Inventory = append([]Item(nil), s.Inventory...)
	c.Map.PointsOfInterest = append([]PointOfInterest(nil), s.Map.PointsOfInterest...)
	return &c
}

// NextObjectiveID returns one past the highest id in objs, or 1.
func NextObjectiveID(objs []Objective) int {
	next := 1
	for _, o := range objs {
		if o.ID >= next {
			next = o.ID + 1
		}
	}
	return next
}

func indexOfObjective(objs []Objective, id int) int {
	for i, o := range objs {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// MoveObjective returns a copy of objs with id placed directly before
// beforeID. A beforeID of 0 moves the objective to the end.
func MoveObjective(objs []Objective, id, beforeID int) ([]Objective, error) {
	from := indexOfObjective(objs, id)
	if from < 0 {
		return nil, fmt.Errorf("%w: %d", ErrObjectiveNotFound, id)
	}
	if beforeID != 0 && indexOfObjective(objs, beforeID) < 0 {
		return nil, fmt.Errorf("%w: %d", ErrObjectiveNotFound, beforeID)
	}
	if beforeID == id {
		return append([]Objective(nil), objs...), nil
	}

	moved := objs[from]
	out := make([]Objective, 0, len(objs))
	for _, o := range objs {
		if o.ID == id {
			continue
		}
		if o.ID == beforeID {
			out = append(out, moved)
		}
		out = append(out, o)
	}
	if beforeID == 0 {
		out = append(out, moved)
	}
	return out, nil
}

// ReorderObjectives returns objs arranged in the order given by ids.
func ReorderObjectives(objs []Objective, ids []int) ([]Objective, error) {
	if len(ids) != len(objs) {
		return nil, ErrInvalidOrder
	}
	seen := make(map[int]bool, len(ids))
	out := make([]Objective, 0, len(objs))
	for _, id := range ids {
		i := indexOfObjective(objs, id)
		if i < 0 || seen[id] {
			return nil, ErrInvalidOrder
		}
		seen[id] = true
		out = append(out, objs[i])
	}
	return out, nil
}
