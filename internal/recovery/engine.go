package recovery

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/browser"
	"github.com/xkilldash9x/waypoint/internal/config"
)

// Perception is what the engine needs from the cognition-backed perceiver.
type Perception interface {
	Observer
	Locate(ctx context.Context, description string) (schemas.Locator, error)
}

// Failure describes an action that did not succeed.
type Failure struct {
	Message string
	Tool    string
	// Description is the natural-language target of the action, if any.
	Description string
	// URL is the navigation target for navigate actions, otherwise the page URL.
	URL string
	// Text is what a failed type action was entering, and Submit whether it
	// pressed Enter afterwards. Relocation re-enters it in the found field.
	Text   string
	Submit bool
	// Retry re-executes the failed action. Nil when the action cannot be repeated.
	Retry func(ctx context.Context) error

	// Relocated is set by relocation strategies when they find the target again.
	Relocated *schemas.Locator
}

// Strategy is a candidate recovery with a static prior.
type Strategy struct {
	Name        string
	Description string
	Likelihood  float64
	Probe       func(ctx context.Context, f *Failure) (bool, error)
}

// Outcome reports what recovery did.
type Outcome struct {
	Recovered bool
	Class     Class
	Strategy  string
	Attempts  int
	// Locator is the target position found by a relocation strategy.
	Locator *schemas.Locator
}

// Engine classifies failures and runs the candidate strategies for the class.
type Engine struct {
	actuator   browser.Actuator
	perception Perception
	challenge  *ChallengeDetector
	cfg        config.RecoveryConfig
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithSleep replaces the wait used between probes.
func WithSleep(sleep func(context.Context, time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine wires the engine to its collaborators.
func NewEngine(actuator browser.Actuator, perception Perception, challenge *ChallengeDetector, cfg config.RecoveryConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		actuator:   actuator,
		perception: perception,
		challenge:  challenge,
		cfg:        cfg,
		logger:     logger.Named("recovery"),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StrategiesFor returns the candidates for class ordered by descending
// likelihood. Equal priors keep their declaration order.
func (e *Engine) StrategiesFor(class Class) []Strategy {
	var candidates []Strategy
	switch class {
	case ClassTimeout:
		candidates = []Strategy{
			{"wait_for_settle", "Wait for the page to finish loading", 0.6, e.waitForSettle},
			{"reload_page", "Reload the current page", 0.5, e.reloadPage},
			{"retry_action", "Repeat the failed action", 0.4, e.retryAction},
		}
	case ClassElementNotFound:
		candidates = []Strategy{
			{"relocate", "Locate the element again on a fresh capture", 0.5, e.relocate},
			{"scroll_and_relocate", "Scroll down and locate the element again", 0.6, e.scrollAndRelocate},
			{"dismiss_overlay", "Dismiss a covering overlay and retry", 0.3, e.dismissOverlay},
		}
	case ClassNavigationFailure:
		candidates = []Strategy{
			{"retry_navigation", "Navigate to the target again", 0.6, e.retryNavigation},
			{"navigate_origin", "Navigate to the site root", 0.3, e.navigateOrigin},
		}
	case ClassAntiBotChallenge:
		candidates = []Strategy{
			{"wait_for_clearance", "Wait for the challenge to clear", 0.7, e.waitForClearance},
			{"reload_page", "Reload and check the challenge again", 0.3, e.reloadAndCheck},
		}
	case ClassNetworkError:
		candidates = []Strategy{
			{"wait_and_reload", "Wait and reload the page", 0.5, e.waitAndReload},
			{"retry_action", "Repeat the failed action", 0.4, e.retryAction},
		}
	default:
		candidates = []Strategy{
			{"observe_again", "Observe the page again", 0.3, e.observeAgain},
			{"press_escape", "Press Escape and retry", 0.2, e.pressEscape},
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Likelihood > candidates[j].Likelihood
	})
	return candidates
}

// Recover classifies f and runs the strategies for its class in order until
// one succeeds.
func (e *Engine) Recover(ctx context.Context, f Failure) Outcome {
	class := Classify(f.Message)
	out := Outcome{Class: class}
	log := e.logger.With(zap.String("class", string(class)), zap.String("tool", f.Tool))

	for _, s := range e.StrategiesFor(class) {
		if ctx.Err() != nil {
			break
		}
		out.Attempts++
		ok, err := e.runProbe(ctx, s, &f)
		if err != nil {
			log.Debug("Recovery strategy failed", zap.String("strategy", s.Name), zap.Error(err))
		}
		if ok {
			out.Recovered = true
			out.Strategy = s.Name
			out.Locator = f.Relocated
			log.Info("Recovered from failure", zap.String("strategy", s.Name), zap.Int("attempts", out.Attempts))
			return out
		}
	}
	log.Warn("Recovery exhausted", zap.Int("attempts", out.Attempts), zap.String("error", f.Message))
	return out
}

// runProbe executes one strategy. A panic counts as an unsuccessful attempt.
func (e *Engine) runProbe(ctx context.Context, s Strategy, f *Failure) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("strategy %s panicked: %v", s.Name, r)
		}
	}()
	return s.Probe(ctx, f)
}

// -- Strategies --

func (e *Engine) waitForSettle(ctx context.Context, _ *Failure) (bool, error) {
	if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
		return false, err
	}
	obs, err := e.perception.Observe(ctx)
	if err != nil {
		return false, err
	}
	return obs.UIState != schemas.UIStateLoading && obs.UIState != schemas.UIStateError, nil
}

func (e *Engine) reloadPage(ctx context.Context, _ *Failure) (bool, error) {
	current, err := e.actuator.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	if current == "" || current == "about:blank" {
		return false, nil
	}
	if err := e.actuator.Navigate(ctx, current); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) retryAction(ctx context.Context, f *Failure) (bool, error) {
	if f.Retry == nil {
		return false, nil
	}
	if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
		return false, err
	}
	if err := f.Retry(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) relocate(ctx context.Context, f *Failure) (bool, error) {
	if f.Description == "" {
		return false, nil
	}
	loc, err := e.perception.Locate(ctx, f.Description)
	if err != nil {
		return false, err
	}
	if err := e.actuator.Click(ctx, loc.X, loc.Y); err != nil {
		return false, err
	}
	if f.Text != "" {
		if err := e.actuator.Type(ctx, f.Text); err != nil {
			return false, err
		}
		if f.Submit {
			if err := e.actuator.PressKey(ctx, "Enter"); err != nil {
				return false, err
			}
		}
	}
	f.Relocated = &loc
	return true, nil
}

func (e *Engine) scrollAndRelocate(ctx context.Context, f *Failure) (bool, error) {
	if f.Description == "" {
		return false, nil
	}
	if err := e.actuator.Scroll(ctx, browser.DirectionDown, 3); err != nil {
		return false, err
	}
	return e.relocate(ctx, f)
}

func (e *Engine) dismissOverlay(ctx context.Context, f *Failure) (bool, error) {
	if err := e.actuator.PressKey(ctx, "Escape"); err != nil {
		return false, err
	}
	if f.Retry != nil {
		if err := f.Retry(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	obs, err := e.perception.Observe(ctx)
	if err != nil {
		return false, err
	}
	return obs.UIState != schemas.UIStateModal, nil
}

func (e *Engine) retryNavigation(ctx context.Context, f *Failure) (bool, error) {
	if f.URL == "" {
		return false, nil
	}
	if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
		return false, err
	}
	if err := e.actuator.Navigate(ctx, f.URL); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) navigateOrigin(ctx context.Context, f *Failure) (bool, error) {
	u, err := url.Parse(f.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false, err
	}
	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
	if origin == f.URL {
		return false, nil
	}
	if err := e.actuator.Navigate(ctx, origin); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) waitForClearance(ctx context.Context, _ *Failure) (bool, error) {
	if e.challenge == nil {
		return false, nil
	}
	return e.challenge.WaitForClearance(ctx)
}

func (e *Engine) reloadAndCheck(ctx context.Context, f *Failure) (bool, error) {
	if ok, err := e.reloadPage(ctx, f); !ok {
		return false, err
	}
	obs, err := e.perception.Observe(ctx)
	if err != nil {
		return false, err
	}
	return !IsChallenge(obs), nil
}

func (e *Engine) waitAndReload(ctx context.Context, f *Failure) (bool, error) {
	if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
		return false, err
	}
	return e.reloadPage(ctx, f)
}

func (e *Engine) observeAgain(ctx context.Context, _ *Failure) (bool, error) {
	obs, err := e.perception.Observe(ctx)
	if err != nil {
		return false, err
	}
	return obs.UIState != schemas.UIStateError && !IsChallenge(obs), nil
}

func (e *Engine) pressEscape(ctx context.Context, f *Failure) (bool, error) {
	if err := e.actuator.PressKey(ctx, "Escape"); err != nil {
		return false, err
	}
	if f.Retry == nil {
		return true, nil
	}
	if err := f.Retry(ctx); err != nil {
		return false, err
	}
	return true, nil
}
