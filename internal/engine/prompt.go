package engine

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

//go:embed prompts/decide.txt
var decidePrompt string

//go:embed prompts/chat.txt
var chatSystemPrompt string

// RecentActionCount is how much of the action history goes into a prompt.
const RecentActionCount = 5

var decideTemplate = template.Must(template.New("decide").Parse(decidePrompt))

func buildDecisionPrompt(req DecisionRequest) (string, error) {
	objectives := "There are no specific tasks right now. Focus on the main objective."
	if len(req.Objectives) > 0 {
		lines := []string{"Here is your prioritized list of tasks. Focus on the first uncompleted task."}
		for i, o := range req.Objectives {
			mark := " "
			if o.Completed {
				mark = "X"
			}
			lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, mark, o.Text))
		}
		objectives = strings.Join(lines, "\n")
	}

	pois := "There are no known points of interest nearby."
	if len(req.Map.PointsOfInterest) > 0 {
		parts := make([]string, len(req.Map.PointsOfInterest))
		for i, p := range req.Map.PointsOfInterest {
			parts[i] = fmt.Sprintf("%s (%s) at [%d, %d]", p.Name, p.Type, p.Coords[0], p.Coords[1])
		}
		pois = "Nearby points of interest: " + strings.Join(parts, "; ") + "."
	}

	onScreen := "**On-Screen Text**: No dialogue box or menu text is detected on screen."
	if req.Dialogue != "" {
		onScreen = fmt.Sprintf("**On-Screen Text**: A dialogue box or menu is open. The text says: %q. Use this text to understand conversations, make choices, and navigate menus.", req.Dialogue)
	}

	recent := lastActions(req.RecentActions, RecentActionCount)
	recentText := "None"
	if len(recent) > 0 {
		names := make([]string, len(recent))
		for i, a := range recent {
			names[i] = string(a)
		}
		recentText = strings.Join(names, ", ")
	}

	data := struct {
		Goal             string
		MapName          string
		Coords           string
		PointsOfInterest string
		OnScreenText     string
		Objectives       string
		RecentCount      int
		RecentActions    string
	}{
		Goal:             req.Goal,
		MapName:          req.Map.Name,
		Coords:           fmt.Sprintf("%d, %d", req.Map.Coords[0], req.Map.Coords[1]),
		PointsOfInterest: pois,
		OnScreenText:     onScreen,
		Objectives:       objectives,
		RecentCount:      RecentActionCount,
		RecentActions:    recentText,
	}

	var buf bytes.Buffer
	if err := decideTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// jsonInstruction is appended for providers without schema support.
func jsonInstruction() string {
	return fmt.Sprintf("\nYour response MUST be a valid JSON object with two keys: \"reasoning\" (a string) and \"action\" (one of %s).",
		strings.Join(models.ActionNames(), ", "))
}

func lastActions(history []models.GameAction, n int) []models.GameAction {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
