// File: internal/orchestrator/orchestrator.go
// Description: Splits a goal into subtasks through cognition and runs the
// control loop once per subtask, deciding after each failure whether to go on.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/agent"
	"github.com/xkilldash9x/waypoint/internal/llmutil"
)

const fewShotLimit = 3

// Runner runs the control loop for one goal.
type Runner interface {
	Run(ctx context.Context, goal string) (agent.Result, error)
}

// EpisodeStore provides recall for few-shot examples and records the summary.
type EpisodeStore interface {
	SimilarEpisodes(task string, limit int) []schemas.Episode
	AppendEpisode(ep schemas.Episode) error
}

// Orchestrator manages the lifecycle of a multi-step goal.
type Orchestrator struct {
	runner Runner
	llm    schemas.LLMClient
	memory EpisodeStore
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Orchestrator. All dependencies are required.
func New(runner Runner, llm schemas.LLMClient, memory EpisodeStore, logger *zap.Logger) (*Orchestrator, error) {
	if runner == nil || llm == nil || memory == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		runner: runner,
		llm:    llm,
		memory: memory,
		logger: logger.Named("orchestrator"),
		now:    time.Now,
	}, nil
}

// SubtaskResult is the outcome of one subtask.
type SubtaskResult struct {
	Subtask schemas.Subtask
	Result  agent.Result
	Err     error
}

// Report summarizes an orchestrated goal.
type Report struct {
	Goal       string
	Subtasks   []SubtaskResult
	Completed  int
	Total      int
	Stopped    bool
	StopReason string
	FellBack   bool
	Duration   time.Duration
}

// Success reports whether every subtask completed.
func (r Report) Success() bool {
	return r.Total > 0 && r.Completed == r.Total
}

const decomposeSystemPrompt = `You plan work for an autonomous browser agent.
Split the goal into a short ordered list of subtasks, each achievable on its own in a browser session.
Each subtask needs a concrete, verifiable goal. Prefer 2 to 6 subtasks.
Respond with a single JSON object:
{"subtasks": [{"id": string, "description": string, "goal": string, "depends_on": [string], "complexity": "low"|"medium"|"high"}]}`

type decomposition struct {
	Subtasks []schemas.Subtask `json:"subtasks"`
}

type fewShot struct {
	Task     string `json:"task"`
	Approach string `json:"approach"`
}

// Decompose asks cognition to split goal into subtasks. Successful similar
// episodes are included as examples.
func (o *Orchestrator) Decompose(ctx context.Context, goal string) ([]schemas.Subtask, error) {
	var examples []fewShot
	for _, ep := range o.memory.SimilarEpisodes(goal, 0) {
		if !ep.Success || ep.Approach == "" {
			continue
		}
		examples = append(examples, fewShot{Task: ep.Task, Approach: ep.Approach})
		if len(examples) == fewShotLimit {
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	if len(examples) > 0 {
		payload, err := json.MarshalIndent(examples, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal examples: %w", err)
		}
		fmt.Fprintf(&b, "\nSimilar goals completed before and how:\n%s\n", payload)
	}

	raw, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: decomposeSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition call failed: %w", err)
	}
	d, err := llmutil.ParseJSONResponse[decomposition](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse decomposition: %w", err)
	}
	return normalizeSubtasks(d.Subtasks), nil
}

// normalizeSubtasks drops empty entries and fills in IDs, goals and complexity.
func normalizeSubtasks(in []schemas.Subtask) []schemas.Subtask {
	out := make([]schemas.Subtask, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, st := range in {
		st.Description = strings.TrimSpace(st.Description)
		st.Goal = strings.TrimSpace(st.Goal)
		if st.Goal == "" {
			st.Goal = st.Description
		}
		if st.Goal == "" {
			continue
		}
		if st.Description == "" {
			st.Description = st.Goal
		}
		if st.ID == "" || seen[st.ID] {
			st.ID = uuid.NewString()
		}
		seen[st.ID] = true
		switch st.Complexity {
		case schemas.ComplexityLow, schemas.ComplexityMedium, schemas.ComplexityHigh:
		default:
			st.Complexity = schemas.ComplexityMedium
		}
		out = append(out, st)
	}
	return out
}

// Execute decomposes goal and runs each subtask in order. DependsOn is recorded
// but not scheduled on.
func (o *Orchestrator) Execute(ctx context.Context, goal string) (Report, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Report{}, errors.New("goal must not be empty")
	}
	started := o.now()
	log := o.logger.With(zap.String("goal", goal))
	report := Report{Goal: goal}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	subtasks, err := o.Decompose(ctx, goal)
	if err != nil || len(subtasks) == 0 {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		log.Warn("Decomposition unavailable, running the goal as a single subtask", zap.Error(err))
		subtasks = []schemas.Subtask{{ID: uuid.NewString(), Description: goal, Goal: goal, Complexity: schemas.ComplexityMedium}}
		report.FellBack = true
	}
	report.Total = len(subtasks)
	log.Info("Executing subtasks", zap.Int("count", report.Total))

	var failures []string
	for i, st := range subtasks {
		if err := ctx.Err(); err != nil {
			report.Duration = o.now().Sub(started)
			return report, err
		}
		stLog := log.With(zap.String("subtask_id", st.ID), zap.Int("index", i+1))
		stLog.Info("Starting subtask", zap.String("subtask_goal", st.Goal))

		res, runErr := o.runner.Run(ctx, st.Goal)
		report.Subtasks = append(report.Subtasks, SubtaskResult{Subtask: st, Result: res, Err: runErr})
		if runErr == nil && res.Success {
			report.Completed++
			continue
		}
		if runErr != nil && ctx.Err() != nil {
			report.Duration = o.now().Sub(started)
			return report, runErr
		}

		reason := res.Reason
		if runErr != nil {
			reason = runErr.Error()
		}
		failures = append(failures, fmt.Sprintf("%s: %s", st.Description, reason))
		stLog.Warn("Subtask failed", zap.String("reason", reason))

		if res.Reason == agent.ReasonOperatorDeclined {
			report.Stopped = true
			report.StopReason = agent.ReasonOperatorDeclined
			stLog.Info("Operator declined, not running remaining subtasks")
			break
		}
		if i == len(subtasks)-1 {
			break
		}
		decision := o.shouldContinue(ctx, goal, st, reason, report.Completed, i+1, report.Total)
		if !decision.Continue {
			report.Stopped = true
			report.StopReason = decision.Reason
			stLog.Info("Stopping after failed subtask", zap.String("reason", decision.Reason))
			break
		}
	}

	report.Duration = o.now().Sub(started)
	o.recordSummary(report, failures, log)
	return report, nil
}

const continueSystemPrompt = `You supervise an autonomous browser agent working through subtasks of a goal.
A subtask just failed. Decide whether the remaining subtasks can still make progress without it.
Respond with a single JSON object: {"continue": bool, "reason": string}.`

// shouldContinue asks cognition whether to proceed after a failure. Any call
// or parse failure means stop.
func (o *Orchestrator) shouldContinue(ctx context.Context, goal string, failed schemas.Subtask, reason string, completed, attempted, total int) schemas.ContinueDecision {
	prompt := fmt.Sprintf("Goal: %s\nFailed subtask: %s\nFailure: %s\nProgress: %d completed, %d attempted, %d total.",
		goal, failed.Description, reason, completed, attempted, total)
	raw, err := o.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: continueSystemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0, ForceJSONFormat: true},
	})
	if err != nil {
		return schemas.ContinueDecision{Reason: fmt.Sprintf("continue decision unavailable: %v", err)}
	}
	d, err := llmutil.ParseJSONResponse[schemas.ContinueDecision](raw)
	if err != nil {
		return schemas.ContinueDecision{Reason: fmt.Sprintf("continue decision unreadable: %v", err)}
	}
	return *d
}

func (o *Orchestrator) recordSummary(report Report, failures []string, log *zap.Logger) {
	learnings := append([]string{fmt.Sprintf("completed %d/%d subtasks", report.Completed, report.Total)}, failures...)
	if report.Stopped && report.StopReason != "" {
		learnings = append(learnings, "stopped: "+report.StopReason)
	}
	steps := make([]string, 0, len(report.Subtasks))
	for _, s := range report.Subtasks {
		steps = append(steps, s.Subtask.Description)
	}
	ep := schemas.Episode{
		Task:      report.Goal,
		Success:   report.Success(),
		Approach:  strings.Join(steps, " -> "),
		Duration:  report.Duration,
		Learnings: learnings,
	}
	if err := o.memory.AppendEpisode(ep); err != nil {
		log.Warn("Failed to record summary episode", zap.Error(err))
	}
}
