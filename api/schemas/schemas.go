package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ElementKind classifies an interactive region detected on screen.
type ElementKind string

const (
	ElementButton   ElementKind = "button"
	ElementInput    ElementKind = "input"
	ElementLink     ElementKind = "link"
	ElementText     ElementKind = "text"
	ElementDropdown ElementKind = "dropdown"
	ElementCheckbox ElementKind = "checkbox"
)

// Valid reports whether k is one of the known element kinds.
func (k ElementKind) Valid() bool {
	switch k {
	case ElementButton, ElementInput, ElementLink, ElementText, ElementDropdown, ElementCheckbox:
		return true
	}
	return false
}

// UIState is the coarse classification of what the page is currently showing.
type UIState string

const (
	UIStateLoaded    UIState = "loaded"
	UIStateLoading   UIState = "loading"
	UIStateForm      UIState = "form"
	UIStateLogin     UIState = "login"
	UIStateModal     UIState = "modal"
	UIStateChallenge UIState = "challenge"
	UIStateError     UIState = "error"
	UIStateUnknown   UIState = "unknown"
)

// DetectedElement is a single element located by the cognition service.
// Coordinates are percentages of the viewport in [0,100].
type DetectedElement struct {
	Description string      `json:"description"`
	Kind        ElementKind `json:"kind"`
	X           *float64    `json:"x,omitempty"`
	Y           *float64    `json:"y,omitempty"`
	Text        string      `json:"text,omitempty"`
}

// HasCoordinates reports whether both percentage coordinates are present and in range.
func (e DetectedElement) HasCoordinates() bool {
	if e.X == nil || e.Y == nil {
		return false
	}
	return *e.X >= 0 && *e.X <= 100 && *e.Y >= 0 && *e.Y <= 100
}

// ScreenAnalysis is the structured payload the cognition service returns for a
// screen capture.
type ScreenAnalysis struct {
	Description string            `json:"description"`
	UIState     UIState           `json:"ui_state"`
	Elements    []DetectedElement `json:"elements"`
}

// Observation is the immutable snapshot produced once per loop iteration.
type Observation struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	UIState     UIState           `json:"ui_state"`
	Timestamp   time.Time         `json:"timestamp"`
	Elements    []DetectedElement `json:"elements"`
}

// NextAction names a registered tool and carries its raw parameters. Params are
// decoded into the tool's typed parameter struct at the dispatch boundary.
type NextAction struct {
	Tool      string          `json:"tool"`
	Params    json.RawMessage `json:"params,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// NewAction builds a NextAction from a typed parameter value.
func NewAction(tool string, params any, reasoning string) (NextAction, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return NextAction{}, fmt.Errorf("failed to marshal params for tool %s: %w", tool, err)
	}
	return NextAction{Tool: tool, Params: raw, Reasoning: reasoning}, nil
}

// Thought is the decision the cognition service produced for one iteration.
type Thought struct {
	SituationAnalysis string      `json:"situationAnalysis"`
	Reasoning         string      `json:"reasoning"`
	NextAction        *NextAction `json:"nextAction"`
	GoalAchieved      bool        `json:"goalAchieved"`
	Confidence        float64     `json:"confidence"`
}

// ToolResult is the outcome of a single dispatched action.
type ToolResult struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// MemoryEntry wraps everything that happened during one iteration.
type MemoryEntry struct {
	Observation Observation `json:"observation"`
	Thought     Thought     `json:"thought"`
	Action      *NextAction `json:"action,omitempty"`
	Result      *ToolResult `json:"result,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Summary renders a one-line description used as history in reasoning prompts.
func (e MemoryEntry) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] on %q", e.Timestamp.Format(time.TimeOnly), e.Observation.Title)
	if e.Action == nil {
		b.WriteString(": no action")
		return b.String()
	}
	fmt.Fprintf(&b, ": %s %s", e.Action.Tool, string(e.Action.Params))
	switch {
	case e.Result == nil:
		b.WriteString(" -> skipped")
	case e.Result.Success:
		b.WriteString(" -> ok")
	default:
		fmt.Fprintf(&b, " -> failed: %s", e.Result.Error)
	}
	return b.String()
}
