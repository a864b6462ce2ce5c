package agent

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/tools"
)

const systemPrompt = `You are the decision core of 'waypoint', an autonomous browser agent working toward a goal given by a human.
Each turn you receive the current page observation, a short history of your recent actions, the tools you may call and statistics about your memory.
Pick exactly one next action or declare the goal achieved.

Rules:
- Coordinates are percentages of the viewport (0 to 100). Prefer the coordinates of a detected element; otherwise describe the element.
- If a previous action failed, read its error and change approach instead of repeating it.
- Use answer_question for form questions about the person you act for. Never invent personal data.
- If the page shows a captcha or bot check, call wait_for_challenge.
- Set goalAchieved only when the observation proves the goal is done.
- confidence is your probability (0 to 1) that the chosen action moves toward the goal. Be honest; low values are shown to the human.

Respond with a single JSON object:
{"situationAnalysis": string, "reasoning": string, "nextAction": {"tool": string, "params": object, "reasoning": string} | null, "goalAchieved": bool, "confidence": number}`

// reasoningContext is the user prompt payload.
type reasoningContext struct {
	Goal          string              `json:"goal"`
	Iteration     int                 `json:"iteration"`
	MaxIterations int                 `json:"maxIterations"`
	Observation   schemas.Observation `json:"observation"`
	RecentHistory []string            `json:"recentHistory"`
	Tools         []tools.Spec        `json:"availableTools"`
	Memory        schemas.MemoryStats `json:"memory"`
}

func buildUserPrompt(rc reasoningContext) (string, error) {
	payload, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal reasoning context: %w", err)
	}
	return fmt.Sprintf("Current state:\n%s\n\nDecide the next step. Respond with the JSON object only.", payload), nil
}

func historySummaries(entries []schemas.MemoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Summary())
	}
	return out
}

// describeAction renders an action for the operator.
func describeAction(a schemas.NextAction) string {
	var b strings.Builder
	b.WriteString(a.Tool)
	if len(a.Params) > 0 {
		b.WriteString(" ")
		b.Write(a.Params)
	}
	if a.Reasoning != "" {
		fmt.Fprintf(&b, "\n  because: %s", a.Reasoning)
	}
	return b.String()
}
