package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/browser"
	"github.com/xkilldash9x/waypoint/internal/humanio"
	"github.com/xkilldash9x/waypoint/internal/profile"
)

// Tool names. The agent synthesizes ask_human actions itself.
const (
	ToolNavigate         = "navigate"
	ToolClick            = "click"
	ToolType             = "type"
	ToolScroll           = "scroll"
	ToolPressKey         = "press_key"
	ToolWait             = "wait"
	ToolAskHuman         = "ask_human"
	ToolAnswerQuestion   = "answer_question"
	ToolLookupProfile    = "lookup_profile"
	ToolWaitForChallenge = "wait_for_challenge"
)

const maxWait = 60 * time.Second

// Locator resolves a natural-language element description to coordinates.
type Locator interface {
	Locate(ctx context.Context, description string) (schemas.Locator, error)
}

// SelectorCache is the reliability cache fed by click outcomes.
type SelectorCache interface {
	LookupSelector(description string) (schemas.CachedSelector, bool)
	RecordSuccess(description string, locator schemas.Locator) error
	RecordFailure(description string) error
}

// AnswerResolver answers form questions.
type AnswerResolver interface {
	Resolve(ctx context.Context, q schemas.Question) (schemas.AnswerResult, error)
}

// ProfileSource loads the structured profile.
type ProfileSource interface {
	Load() (*profile.Profile, error)
}

// ChallengeWaiter blocks until an anti-bot challenge clears or times out.
type ChallengeWaiter interface {
	WaitForClearance(ctx context.Context) (bool, error)
}

// Deps are the collaborators the builtin tools need. A tool whose collaborator
// is nil is not registered.
type Deps struct {
	Actuator  browser.Actuator
	Locator   Locator
	Selectors SelectorCache
	Human     humanio.Channel
	Answers   AnswerResolver
	Profiles  ProfileSource
	Challenge ChallengeWaiter
	Logger    *zap.Logger
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RegisterBuiltins registers every tool whose dependencies are present.
func RegisterBuiltins(r *Registry, d Deps) error {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Sleep == nil {
		d.Sleep = sleepContext
	}
	b := &builtins{Deps: d, logger: d.Logger.Named("builtin_tools")}

	var list []Tool
	if d.Actuator != nil {
		list = append(list,
			Define(ToolNavigate, "Open a URL in the current tab.", `{"url": string}`, b.navigate),
			Define(ToolClick, "Click an element by viewport percentage coordinates or by a short visual description.",
				`{"x": number 0-100, "y": number 0-100} or {"description": string}`, b.click),
			Define(ToolType, "Type text, optionally clicking a target field first.",
				`{"text": string, "description"?: string, "x"?: number, "y"?: number, "submit"?: bool}`, b.typeText),
			Define(ToolScroll, "Scroll the page.", `{"direction": "up"|"down", "amount"?: int 1-50}`, b.scroll),
			Define(ToolPressKey, "Press a named key such as Enter, Tab or Escape.", `{"key": string}`, b.pressKey),
		)
	}
	list = append(list, Define(ToolWait, "Pause for a few seconds to let the page settle.", `{"seconds": number 0-60}`, b.wait))
	if d.Human != nil {
		list = append(list, Define(ToolAskHuman, "Ask the human operator a clarifying question.", `{"question": string}`, b.askHuman))
	}
	if d.Answers != nil {
		list = append(list, Define(ToolAnswerQuestion,
			"Answer a form question from saved answers, the profile, generation or the operator. Optionally types the answer.",
			`{"question": string, "kind"?: "text"|"choice"|"checkbox", "options"?: [string], "type_answer"?: bool}`, b.answerQuestion))
	}
	if d.Profiles != nil {
		list = append(list, Define(ToolLookupProfile, "Read a profile field by dotted path or by matching a question.",
			`{"path": string} or {"question": string}`, b.lookupProfile))
	}
	if d.Challenge != nil {
		list = append(list, Define(ToolWaitForChallenge, "Wait for an anti-bot challenge to clear.", `{}`, b.waitForChallenge))
	}
	return r.Register(list...)
}

type builtins struct {
	Deps
	logger *zap.Logger
}

// -- navigate --

type NavigateParams struct {
	URL string `json:"url"`
}

func (p NavigateParams) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("url is malformed: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "about", "file":
		return nil
	default:
		return fmt.Errorf("url scheme %q is not supported", u.Scheme)
	}
}

func (b *builtins) navigate(ctx context.Context, p NavigateParams) (any, error) {
	if err := b.Actuator.Navigate(ctx, p.URL); err != nil {
		return nil, err
	}
	return map[string]any{"url": p.URL}, nil
}

// -- click --

// Target is either a coordinate pair or a description.
type Target struct {
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (t Target) hasCoordinates() bool { return t.X != nil && t.Y != nil }

func (t Target) empty() bool { return t.X == nil && t.Y == nil && strings.TrimSpace(t.Description) == "" }

func (t Target) validate() error {
	if (t.X == nil) != (t.Y == nil) {
		return errors.New("x and y must be given together")
	}
	if t.hasCoordinates() {
		if *t.X < 0 || *t.X > 100 || *t.Y < 0 || *t.Y > 100 {
			return errors.New("x and y must be percentages between 0 and 100")
		}
	}
	return nil
}

type ClickParams struct {
	Target
}

func (p ClickParams) Validate() error {
	if p.empty() {
		return errors.New("either x and y or a description is required")
	}
	return p.validate()
}

func (b *builtins) click(ctx context.Context, p ClickParams) (any, error) {
	return b.clickTarget(ctx, p.Target)
}

// resolveTarget turns a target into coordinates: explicit coordinates first,
// then a reliable cached selector, then cognition-based location.
func (b *builtins) resolveTarget(ctx context.Context, t Target) (schemas.Locator, string, error) {
	if t.hasCoordinates() {
		return schemas.Locator{X: *t.X, Y: *t.Y}, "coordinates", nil
	}
	if b.Selectors != nil {
		if cached, ok := b.Selectors.LookupSelector(t.Description); ok {
			return cached.Locator, "cache", nil
		}
	}
	if b.Locator == nil {
		return schemas.Locator{}, "", fmt.Errorf("could not find element %q: no locator configured", t.Description)
	}
	loc, err := b.Locator.Locate(ctx, t.Description)
	if err != nil {
		return schemas.Locator{}, "", err
	}
	return loc, "located", nil
}

func (b *builtins) clickTarget(ctx context.Context, t Target) (any, error) {
	loc, source, err := b.resolveTarget(ctx, t)
	if err != nil {
		b.recordOutcome(t.Description, schemas.Locator{}, false)
		return nil, err
	}
	if err := b.Actuator.Click(ctx, loc.X, loc.Y); err != nil {
		b.recordOutcome(t.Description, loc, false)
		return nil, err
	}
	b.recordOutcome(t.Description, loc, true)
	return map[string]any{"x": loc.X, "y": loc.Y, "source": source}, nil
}

func (b *builtins) recordOutcome(description string, loc schemas.Locator, ok bool) {
	if b.Selectors == nil || strings.TrimSpace(description) == "" {
		return
	}
	var err error
	if ok {
		err = b.Selectors.RecordSuccess(description, loc)
	} else {
		err = b.Selectors.RecordFailure(description)
	}
	if err != nil {
		b.logger.Warn("Failed to update selector cache", zap.String("description", description), zap.Error(err))
	}
}

// -- type --

type TypeParams struct {
	Text string `json:"text"`
	Target
	Submit bool `json:"submit,omitempty"`
}

func (p TypeParams) Validate() error {
	if p.Text == "" {
		return errors.New("text is required")
	}
	return p.validate()
}

func (b *builtins) typeText(ctx context.Context, p TypeParams) (any, error) {
	if !p.empty() {
		if _, err := b.clickTarget(ctx, p.Target); err != nil {
			return nil, fmt.Errorf("failed to focus field: %w", err)
		}
	}
	if err := b.Actuator.Type(ctx, p.Text); err != nil {
		return nil, err
	}
	if p.Submit {
		if err := b.Actuator.PressKey(ctx, "Enter"); err != nil {
			return nil, err
		}
	}
	return map[string]any{"typed": len([]rune(p.Text))}, nil
}

// -- scroll --

type ScrollParams struct {
	Direction browser.Direction `json:"direction"`
	Amount    int               `json:"amount,omitempty"`
}

func (p ScrollParams) Validate() error {
	if !p.Direction.Valid() {
		return fmt.Errorf("direction must be %q or %q", browser.DirectionUp, browser.DirectionDown)
	}
	if p.Amount < 0 || p.Amount > 50 {
		return errors.New("amount must be between 1 and 50")
	}
	return nil
}

func (b *builtins) scroll(ctx context.Context, p ScrollParams) (any, error) {
	amount := p.Amount
	if amount == 0 {
		amount = 3
	}
	return nil, b.Actuator.Scroll(ctx, p.Direction, amount)
}

// -- press_key --

type PressKeyParams struct {
	Key string `json:"key"`
}

func (p PressKeyParams) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return errors.New("key is required")
	}
	return nil
}

func (b *builtins) pressKey(ctx context.Context, p PressKeyParams) (any, error) {
	return nil, b.Actuator.PressKey(ctx, p.Key)
}

// -- wait --

type WaitParams struct {
	Seconds float64 `json:"seconds"`
}

func (p WaitParams) Validate() error {
	if p.Seconds <= 0 || time.Duration(p.Seconds*float64(time.Second)) > maxWait {
		return fmt.Errorf("seconds must be greater than 0 and at most %.0f", maxWait.Seconds())
	}
	return nil
}

func (b *builtins) wait(ctx context.Context, p WaitParams) (any, error) {
	return nil, b.Sleep(ctx, time.Duration(p.Seconds*float64(time.Second)))
}

// -- ask_human --

type AskHumanParams struct {
	Question string `json:"question"`
}

func (p AskHumanParams) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return errors.New("question is required")
	}
	return nil
}

func (b *builtins) askHuman(ctx context.Context, p AskHumanParams) (any, error) {
	answer, err := b.Human.Ask(ctx, p.Question)
	if err != nil {
		return nil, err
	}
	return map[string]any{"answer": answer}, nil
}

// -- answer_question --

type AnswerQuestionParams struct {
	Question   string               `json:"question"`
	Kind       schemas.QuestionKind `json:"kind,omitempty"`
	Options    []string             `json:"options,omitempty"`
	TypeAnswer bool                 `json:"type_answer,omitempty"`
}

func (p AnswerQuestionParams) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return errors.New("question is required")
	}
	switch p.Kind {
	case "", schemas.QuestionText, schemas.QuestionCheckbox:
	case schemas.QuestionChoice:
		if len(p.Options) == 0 {
			return errors.New("choice questions require options")
		}
	default:
		return fmt.Errorf("unknown question kind %q", p.Kind)
	}
	return nil
}

func (b *builtins) answerQuestion(ctx context.Context, p AnswerQuestionParams) (any, error) {
	res, err := b.Answers.Resolve(ctx, schemas.Question{Text: p.Question, Kind: p.Kind, Options: p.Options})
	if err != nil {
		return nil, err
	}
	if p.TypeAnswer {
		if b.Actuator == nil {
			return res, errors.New("cannot type answer: no actuator configured")
		}
		if err := b.Actuator.Type(ctx, res.Answer); err != nil {
			return res, err
		}
	}
	return res, nil
}

// -- lookup_profile --

type LookupProfileParams struct {
	Path     string `json:"path,omitempty"`
	Question string `json:"question,omitempty"`
}

func (p LookupProfileParams) Validate() error {
	if (p.Path == "") == (p.Question == "") {
		return errors.New("exactly one of path or question is required")
	}
	return nil
}

func (b *builtins) lookupProfile(_ context.Context, p LookupProfileParams) (any, error) {
	prof, err := b.Profiles.Load()
	if err != nil {
		return nil, err
	}
	if p.Path != "" {
		value, err := prof.Get(p.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": p.Path, "value": value}, nil
	}
	path, value, ok := prof.Lookup(p.Question)
	if !ok {
		return nil, fmt.Errorf("no profile field matches %q", p.Question)
	}
	return map[string]any{"path": path, "value": value}, nil
}

// -- wait_for_challenge --

type WaitForChallengeParams struct{}

func (WaitForChallengeParams) Validate() error { return nil }

func (b *builtins) waitForChallenge(ctx context.Context, _ WaitForChallengeParams) (any, error) {
	cleared, err := b.Challenge.WaitForClearance(ctx)
	if err != nil {
		return nil, err
	}
	if !cleared {
		return map[string]any{"cleared": false}, errors.New("challenge did not clear before the timeout")
	}
	return map[string]any{"cleared": true}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
