// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/config"
	"github.com/xkilldash9x/waypoint/internal/humanio"
	"github.com/xkilldash9x/waypoint/internal/llmutil"
	"github.com/xkilldash9x/waypoint/internal/recovery"
	"github.com/xkilldash9x/waypoint/internal/tools"
)

// Failure reasons recorded on unsuccessful results.
const (
	ReasonMaxIterations    = "maximum iterations reached"
	ReasonOperatorDeclined = "operator declined"
)

// Perception produces one observation per iteration.
type Perception interface {
	Observe(ctx context.Context) (schemas.Observation, error)
}

// Dispatcher executes named tools.
type Dispatcher interface {
	Dispatch(ctx context.Context, action schemas.NextAction) schemas.ToolResult
	Catalogue() []tools.Spec
}

// Recoverer attempts to recover from a failed action.
type Recoverer interface {
	Recover(ctx context.Context, f recovery.Failure) recovery.Outcome
}

// Memory is the subset of the memory manager the loop uses.
type Memory interface {
	Remember(entry schemas.MemoryEntry)
	Recent(n int) []schemas.MemoryEntry
	ResetShortTerm()
	Stats() schemas.MemoryStats
	AppendEpisode(ep schemas.Episode) error
	RecordSuccess(description string, locator schemas.Locator) error
}

// ChallengeDetector checks for and waits out anti-bot challenges.
type ChallengeDetector interface {
	Detect(ctx context.Context) (bool, schemas.Observation, error)
	WaitForClearance(ctx context.Context) (bool, error)
}

// Deps are the collaborators of the loop. Challenge is optional.
type Deps struct {
	LLM        schemas.LLMClient
	Perception Perception
	Tools      Dispatcher
	Recovery   Recoverer
	Memory     Memory
	Human      humanio.Channel
	Challenge  ChallengeDetector
}

// Result is the outcome of one run.
type Result struct {
	Success    bool
	Reason     string
	Iterations int
	Duration   time.Duration
	FinalState State
}

// Agent drives the observe, think, act, reflect loop toward a goal.
type Agent struct {
	Deps
	cfg    config.AgentConfig
	logger *zap.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// Option customizes an Agent.
type Option func(*Agent)

// WithSleep replaces the settle delay wait.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(a *Agent) { a.sleep = sleep }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New validates the dependencies and builds an Agent.
func New(deps Deps, cfg config.AgentConfig, logger *zap.Logger, opts ...Option) (*Agent, error) {
	switch {
	case deps.LLM == nil:
		return nil, errors.New("agent requires an LLM client")
	case deps.Perception == nil:
		return nil, errors.New("agent requires a perception source")
	case deps.Tools == nil:
		return nil, errors.New("agent requires a tool dispatcher")
	case deps.Recovery == nil:
		return nil, errors.New("agent requires a recovery engine")
	case deps.Memory == nil:
		return nil, errors.New("agent requires a memory manager")
	case deps.Human == nil:
		return nil, errors.New("agent requires a human channel")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	a := &Agent{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.Named("agent"),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// run holds the per-goal state of one Run call.
type run struct {
	*Agent
	goal     string
	started  time.Time
	sm       *stateMachine
	log      *zap.Logger
	approach []string
}

// errOperatorStop signals that the human declined or is unavailable.
var errOperatorStop = errors.New("operator stopped the run")

// Run pursues goal until it is achieved, the iteration ceiling is reached or
// the operator declines. A cognition protocol failure is returned as an error.
func (a *Agent) Run(ctx context.Context, goal string) (Result, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Result{}, errors.New("goal must not be empty")
	}
	r := &run{
		Agent:   a,
		goal:    goal,
		started: a.now(),
		log:     a.logger.With(zap.String("goal", goal)),
	}
	r.sm = newStateMachine(r.log)
	a.Memory.ResetShortTerm()
	r.log.Info("Starting run", zap.Int("max_iterations", a.cfg.MaxIterations))

	if a.cfg.ProactiveChallengeCheck && a.Challenge != nil {
		r.checkChallenge(ctx)
	}

	for i := 1; i <= a.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return r.result(false, err.Error(), i-1), err
		}
		done, res, err := r.iterate(ctx, i)
		if err != nil {
			if errors.Is(err, errOperatorStop) {
				return r.finish(false, ReasonOperatorDeclined, i), nil
			}
			r.sm.transition(StateFailed)
			r.recordEpisode(false, err.Error(), i)
			return r.result(false, err.Error(), i), err
		}
		if done {
			return res, nil
		}
	}
	return r.finish(false, ReasonMaxIterations, a.cfg.MaxIterations), nil
}

// iterate performs one cycle. done is true when the goal was achieved.
func (r *run) iterate(ctx context.Context, i int) (bool, Result, error) {
	log := r.log.With(zap.Int("iteration", i))

	r.sm.transition(StateObserving)
	obs, err := r.Perception.Observe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, Result{}, ctx.Err()
		}
		log.Warn("Observation failed", zap.Error(err))
		r.recoverFrom(ctx, recovery.Failure{Message: err.Error(), Tool: "observe"})
		return false, Result{}, nil
	}

	r.sm.transition(StateReasoning)
	thought, err := r.think(ctx, obs, i)
	if err != nil {
		return false, Result{}, fmt.Errorf("iteration %d: %w", i, err)
	}
	entry := schemas.MemoryEntry{Observation: obs, Thought: *thought, Timestamp: r.now()}

	if thought.GoalAchieved {
		r.Memory.Remember(entry)
		log.Info("Goal achieved", zap.String("reasoning", thought.Reasoning))
		return true, r.finish(true, thought.Reasoning, i), nil
	}

	var action schemas.NextAction
	switch {
	case thought.NextAction == nil:
		r.sm.transition(StateEscalatingNoAction)
		guidance, err := r.askGuidance(ctx, thought)
		if err != nil {
			return false, Result{}, err
		}
		synth, _ := schemas.NewAction(tools.ToolAskHuman, tools.AskHumanParams{Question: guidance}, "no next action was proposed")
		entry.Action = &synth
		entry.Result = &schemas.ToolResult{Success: true, Data: map[string]string{"guidance": guidance}}
		r.Memory.Remember(entry)
		r.approach = append(r.approach, "asked operator: "+guidance)
		return false, Result{}, nil

	case thought.Confidence < r.cfg.ConfidenceGate:
		r.sm.transition(StateEscalatingLowConfidence)
		approved, err := r.reviewAction(ctx, *thought.NextAction, thought.Confidence)
		if err != nil {
			return false, Result{}, err
		}
		if approved == nil {
			log.Info("Operator skipped the iteration")
			entry.Action = thought.NextAction
			r.Memory.Remember(entry)
			return false, Result{}, nil
		}
		action = *approved

	default:
		action = *thought.NextAction
	}

	r.sm.transition(StateActing)
	result := r.Tools.Dispatch(ctx, action)
	if result.ErrorCode == string(tools.ErrCodeOperatorDeclined) {
		return false, Result{}, errOperatorStop
	}
	entry.Action = &action
	entry.Result = &result
	r.Memory.Remember(entry)
	r.approach = append(r.approach, action.Tool)
	log.Debug("Action dispatched", zap.String("tool", action.Tool), zap.Bool("success", result.Success), zap.String("error", result.Error))

	r.sm.transition(StateReflecting)
	if err := r.sleep(ctx, r.cfg.SettleDelay); err != nil {
		return false, Result{}, err
	}
	if !result.Success {
		r.recoverFrom(ctx, r.failureFor(action, result, obs))
	}
	return false, Result{}, nil
}

// think asks cognition for the next decision.
func (r *run) think(ctx context.Context, obs schemas.Observation, i int) (*schemas.Thought, error) {
	prompt, err := buildUserPrompt(reasoningContext{
		Goal:          r.goal,
		Iteration:     i,
		MaxIterations: r.cfg.MaxIterations,
		Observation:   obs,
		RecentHistory: historySummaries(r.Memory.Recent(r.cfg.HistoryWindow)),
		Tools:         r.Tools.Catalogue(),
		Memory:        r.Memory.Stats(),
	})
	if err != nil {
		return nil, err
	}
	raw, err := r.LLM.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
	})
	if err != nil {
		return nil, fmt.Errorf("cognition call failed: %w", err)
	}
	thought, err := llmutil.ParseJSONResponse[schemas.Thought](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse thought: %w", err)
	}
	if thought.NextAction != nil && strings.TrimSpace(thought.NextAction.Tool) == "" {
		thought.NextAction = nil
	}
	thought.Confidence = min(max(thought.Confidence, 0), 1)
	return thought, nil
}

// askGuidance escalates a missing next action to the operator.
func (r *run) askGuidance(ctx context.Context, thought *schemas.Thought) (string, error) {
	q := fmt.Sprintf("Working on: %s\nSituation: %s\nI have no next action. What should I do? (\"quit\" to stop)",
		r.goal, thought.SituationAnalysis)
	guidance, err := r.Human.Ask(ctx, q)
	return guidance, operatorErr(err)
}

// reviewAction shows a low-confidence action to the operator. It returns the
// action to run, or nil to skip the iteration.
func (r *run) reviewAction(ctx context.Context, proposed schemas.NextAction, confidence float64) (*schemas.NextAction, error) {
	ok, err := r.Human.Confirm(ctx, fmt.Sprintf("Low confidence (%.2f) for next action:\n  %s\nProceed?", confidence, describeAction(proposed)), false)
	if err != nil {
		return nil, operatorErr(err)
	}
	if ok {
		return &proposed, nil
	}

	choice, err := r.Human.Choose(ctx, "What instead?", []string{"skip", "alternative"})
	if err != nil {
		return nil, operatorErr(err)
	}
	if choice == "skip" {
		return nil, nil
	}

	name, err := r.Human.Ask(ctx, "Tool name:")
	if err != nil {
		return nil, operatorErr(err)
	}
	params, err := r.Human.Ask(ctx, `Parameters as a JSON object (e.g. {"url": "https://example.com"}):`)
	if err != nil {
		return nil, operatorErr(err)
	}
	if !json.Valid([]byte(params)) {
		r.Human.Notify("Parameters are not valid JSON; skipping this iteration.")
		return nil, nil
	}
	return &schemas.NextAction{Tool: strings.TrimSpace(name), Params: []byte(params), Reasoning: "supplied by operator"}, nil
}

// failureFor builds the recovery context for a failed action.
func (r *run) failureFor(action schemas.NextAction, result schemas.ToolResult, obs schemas.Observation) recovery.Failure {
	f := recovery.Failure{
		Message:     result.Error,
		Tool:        action.Tool,
		Description: json.Get(action.Params, "description").ToString(),
		URL:         obs.URL,
	}
	switch action.Tool {
	case tools.ToolNavigate:
		f.URL = json.Get(action.Params, "url").ToString()
	case tools.ToolType:
		f.Text = json.Get(action.Params, "text").ToString()
		f.Submit = json.Get(action.Params, "submit").ToBool()
	}
	if result.ErrorCode != string(tools.ErrCodeInvalidParameters) && result.ErrorCode != string(tools.ErrCodeUnknownTool) {
		f.Retry = func(ctx context.Context) error {
			res := r.Tools.Dispatch(ctx, action)
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		}
	}
	return f
}

// recoverFrom runs the recovery engine. A relocated target is fed back to the
// selector cache.
func (r *run) recoverFrom(ctx context.Context, f recovery.Failure) {
	outcome := r.Recovery.Recover(ctx, f)
	if !outcome.Recovered {
		r.log.Info("Failure not recovered; continuing", zap.String("class", string(outcome.Class)), zap.Int("attempts", outcome.Attempts))
		return
	}
	r.approach = append(r.approach, "recovered via "+outcome.Strategy)
	if outcome.Locator != nil && f.Description != "" {
		if err := r.Memory.RecordSuccess(f.Description, *outcome.Locator); err != nil {
			r.log.Warn("Failed to record relocated selector", zap.Error(err))
		}
	}
}

// checkChallenge looks for an anti-bot challenge before the first iteration.
func (r *run) checkChallenge(ctx context.Context) {
	detected, _, err := r.Challenge.Detect(ctx)
	if err != nil {
		r.log.Warn("Challenge check failed", zap.Error(err))
		return
	}
	if !detected {
		return
	}
	r.Human.Notify("An anti-bot challenge is showing. Waiting for it to clear; solve it in the browser if needed.")
	cleared, err := r.Challenge.WaitForClearance(ctx)
	if err != nil || !cleared {
		r.log.Warn("Challenge did not clear before the run started", zap.Error(err))
	}
}

func (r *run) result(success bool, reason string, iterations int) Result {
	return Result{
		Success:    success,
		Reason:     reason,
		Iterations: iterations,
		Duration:   r.now().Sub(r.started),
		FinalState: r.sm.state(),
	}
}

// finish moves to a terminal state and records the episode.
func (r *run) finish(success bool, reason string, iterations int) Result {
	if success {
		r.sm.transition(StateGoalAchieved)
	} else {
		r.sm.transition(StateFailed)
	}
	r.recordEpisode(success, reason, iterations)
	res := r.result(success, reason, iterations)
	r.log.Info("Run finished", zap.Bool("success", success), zap.String("reason", reason), zap.Int("iterations", iterations))
	return res
}

func (r *run) recordEpisode(success bool, reason string, iterations int) {
	learnings := []string{fmt.Sprintf("iterations: %d", iterations)}
	if reason != "" {
		learnings = append(learnings, reason)
	}
	ep := schemas.Episode{
		Task:      r.goal,
		Success:   success,
		Approach:  strings.Join(r.approach, " -> "),
		Duration:  r.now().Sub(r.started),
		Learnings: learnings,
	}
	if err := r.Memory.AppendEpisode(ep); err != nil {
		r.log.Warn("Failed to record episode", zap.Error(err))
	}
}

// operatorErr maps "quit", missing input and exhausted retries to errOperatorStop.
func operatorErr(err error) error {
	if errors.Is(err, humanio.ErrDeclined) || errors.Is(err, humanio.ErrNoInput) || errors.Is(err, humanio.ErrNoValidAnswer) {
		return fmt.Errorf("%w: %v", errOperatorStop, err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
