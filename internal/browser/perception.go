// internal/browser/perception.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/llmutil"
)

// ErrElementNotFound is returned by Locate when the described element is not
// visible in the current capture.
var ErrElementNotFound = errors.New("element not found")

const observeSystemPrompt = `You are the eyes of a browser automation agent.
You receive a screenshot of the current viewport together with the page URL and title.
Describe what the page shows and list the interactive elements you can see.

Respond with a single JSON object:
{
  "description": "one or two sentences about the page",
  "ui_state": "loaded | loading | form | login | modal | challenge | error | unknown",
  "elements": [
    {"description": "short unique description", "kind": "button | input | link | text | dropdown | checkbox", "x": 0-100, "y": 0-100, "text": "visible label"}
  ]
}
Coordinates are the element centre as a percentage of viewport width (x) and height (y).
Use "challenge" when the page shows a CAPTCHA, a bot check or an access-denied interstitial.`

const locateSystemPrompt = `You locate a single element on a screenshot of a browser viewport.
Respond with a single JSON object: {"found": true|false, "x": 0-100, "y": 0-100}
Coordinates are the element centre as a percentage of viewport width (x) and height (y).
If the element is not visible, respond {"found": false}.`

type locateResponse struct {
	Found bool     `json:"found"`
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
}

// Perceiver turns screen captures into structured observations through the
// cognition service.
type Perceiver struct {
	actuator Actuator
	llm      schemas.LLMClient
	logger   *zap.Logger
	now      func() time.Time
}

// NewPerceiver creates a Perceiver reading from actuator.
func NewPerceiver(actuator Actuator, llm schemas.LLMClient, logger *zap.Logger) *Perceiver {
	return &Perceiver{
		actuator: actuator,
		llm:      llm,
		logger:   logger.Named("perception"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Observe captures the viewport and asks cognition to describe it.
func (p *Perceiver) Observe(ctx context.Context) (schemas.Observation, error) {
	shot, err := p.actuator.Screenshot(ctx)
	if err != nil {
		return schemas.Observation{}, err
	}
	// URL and title are best effort; a page mid-navigation may not answer.
	url, err := p.actuator.CurrentURL(ctx)
	if err != nil {
		p.logger.Debug("Could not read URL", zap.Error(err))
	}
	title, err := p.actuator.Title(ctx)
	if err != nil {
		p.logger.Debug("Could not read title", zap.Error(err))
	}

	resp, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: observeSystemPrompt,
		UserPrompt:   fmt.Sprintf("URL: %s\nTitle: %s\nDescribe the attached screenshot.", url, title),
		Images:       []schemas.ImagePart{{MIMEType: "image/png", Data: shot}},
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.1},
	})
	if err != nil {
		return schemas.Observation{}, fmt.Errorf("screen analysis failed: %w", err)
	}
	analysis, err := llmutil.ParseJSONResponse[schemas.ScreenAnalysis](resp)
	if err != nil {
		return schemas.Observation{}, fmt.Errorf("screen analysis failed: %w", err)
	}

	obs := schemas.Observation{
		URL:         url,
		Title:       title,
		Description: analysis.Description,
		UIState:     normalizeUIState(analysis.UIState),
		Timestamp:   p.now(),
		Elements:    sanitizeElements(analysis.Elements),
	}
	p.logger.Debug("Observed page",
		zap.String("url", obs.URL),
		zap.String("ui_state", string(obs.UIState)),
		zap.Int("elements", len(obs.Elements)))
	return obs, nil
}

// Locate asks cognition for the centre of the element matching description.
func (p *Perceiver) Locate(ctx context.Context, description string) (schemas.Locator, error) {
	shot, err := p.actuator.Screenshot(ctx)
	if err != nil {
		return schemas.Locator{}, err
	}
	resp, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: locateSystemPrompt,
		UserPrompt:   fmt.Sprintf("Find: %s", description),
		Images:       []schemas.ImagePart{{MIMEType: "image/png", Data: shot}},
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0},
	})
	if err != nil {
		return schemas.Locator{}, fmt.Errorf("locating %q failed: %w", description, err)
	}
	located, err := llmutil.ParseJSONResponse[locateResponse](resp)
	if err != nil {
		return schemas.Locator{}, fmt.Errorf("locating %q failed: %w", description, err)
	}

	el := schemas.DetectedElement{X: located.X, Y: located.Y}
	if !located.Found || !el.HasCoordinates() {
		return schemas.Locator{}, fmt.Errorf("%w: %q", ErrElementNotFound, description)
	}
	return schemas.Locator{X: *located.X, Y: *located.Y}, nil
}

func normalizeUIState(s schemas.UIState) schemas.UIState {
	switch st := schemas.UIState(strings.ToLower(strings.TrimSpace(string(s)))); st {
	case schemas.UIStateLoaded, schemas.UIStateLoading, schemas.UIStateForm, schemas.UIStateLogin,
		schemas.UIStateModal, schemas.UIStateChallenge, schemas.UIStateError:
		return st
	default:
		return schemas.UIStateUnknown
	}
}

// sanitizeElements drops coordinates outside the viewport and coerces
// unknown kinds to text.
func sanitizeElements(in []schemas.DetectedElement) []schemas.DetectedElement {
	out := make([]schemas.DetectedElement, 0, len(in))
	for _, el := range in {
		if strings.TrimSpace(el.Description) == "" {
			continue
		}
		if !el.Kind.Valid() {
			el.Kind = schemas.ElementText
		}
		if !el.HasCoordinates() {
			el.X, el.Y = nil, nil
		}
		out = append(out, el)
	}
	return out
}
