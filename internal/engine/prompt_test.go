package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

func TestBuildDecisionPrompt(t *testing.T) {
	prompt, err := buildDecisionPrompt(DecisionRequest{
		Goal: "Become champion",
		Objectives: []models.Objective{
			{ID: 4, Text: "Get the parcel", Completed: true},
			{ID: 2, Text: "Deliver the parcel"},
		},
		RecentActions: []models.GameAction{"UP", "UP", "LEFT", "A", "B", "DOWN", "START"},
		Map: models.MapData{
			Name:   "Route 1",
			Coords: models.Coords{12, 30},
			PointsOfInterest: []models.PointOfInterest{
				{Name: "Pokemon Center", Coords: models.Coords{4, 5}, Type: "heal_location"},
			},
		},
		Dialogue: "Hello there!",
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, `**High-Level Objective**: "Become champion".`)
	assert.Contains(t, prompt, "You are in Route 1 at coordinates [12, 30].")
	assert.Contains(t, prompt, "Pokemon Center (heal_location) at [4, 5]")
	assert.Contains(t, prompt, "1. [X] Get the parcel\n2. [ ] Deliver the parcel")
	assert.Contains(t, prompt, `The text says: "Hello there!"`)
	assert.Contains(t, prompt, "were: LEFT, A, B, DOWN, START.")
}

func TestBuildDecisionPromptEmpty(t *testing.T) {
	prompt, err := buildDecisionPrompt(DecisionRequest{Goal: "Explore the world."})
	require.NoError(t, err)
	assert.Contains(t, prompt, "There are no specific tasks right now.")
	assert.Contains(t, prompt, "There are no known points of interest nearby.")
	assert.Contains(t, prompt, "No dialogue box or menu text is detected on screen.")
	assert.Contains(t, prompt, "were: None.")
}
