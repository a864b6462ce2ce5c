// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/internal/agent"
	"github.com/xkilldash9x/waypoint/internal/observability"
	"github.com/xkilldash9x/waypoint/internal/orchestrator"
)

// ErrGoalNotAchieved is returned when a run ends without reaching its goal.
var ErrGoalNotAchieved = errors.New("goal not achieved")

func newRunCmd() *cobra.Command {
	var orchestrate bool

	runCmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Drive the browser toward a goal",
		Long: `Runs the observe, think, act, reflect loop until the goal is reached, the
operator stops it, or the iteration ceiling is hit. With --orchestrate the goal
is first split into subtasks that run one after another.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			goal := strings.TrimSpace(strings.Join(args, " "))

			sess := newSession(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
			defer sess.Close()

			ag, err := sess.Agent(ctx)
			if err != nil {
				return err
			}
			if cfg.Browser.StartURL != "" {
				if err := sess.actuator.Navigate(ctx, cfg.Browser.StartURL); err != nil {
					return fmt.Errorf("failed to open start URL: %w", err)
				}
			}

			logger.Info("Starting run", zap.String("goal", goal), zap.Bool("orchestrate", orchestrate),
				zap.Int("max_iterations", cfg.Agent.MaxIterations))

			if orchestrate {
				orch, err := orchestrator.New(ag, sess.llm, sess.memory, logger)
				if err != nil {
					return err
				}
				report, err := orch.Execute(ctx, goal)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				if !report.Success() {
					return fmt.Errorf("%w: %d/%d subtasks completed", ErrGoalNotAchieved, report.Completed, report.Total)
				}
				return nil
			}

			res, err := ag.Run(ctx, goal)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted", zap.String("goal", goal))
				}
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return fmt.Errorf("%w: %s", ErrGoalNotAchieved, res.Reason)
			}
			return nil
		},
	}

	runCmd.Flags().BoolVar(&orchestrate, "orchestrate", false, "Split the goal into subtasks before running")
	runCmd.Flags().String("start-url", "", "Page to open before the first observation")
	runCmd.Flags().Int("max-iterations", 0, "Iteration ceiling for each run (overrides agent.max_iterations)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window (overrides browser.headless)")
	return runCmd
}

func printResult(w io.Writer, res agent.Result) {
	status := "achieved"
	if !res.Success {
		status = "not achieved: " + res.Reason
	}
	fmt.Fprintf(w, "\nGoal %s\n", status)
	fmt.Fprintf(w, "Iterations: %d  Duration: %s  Final state: %s\n", res.Iterations, res.Duration.Round(time.Millisecond), res.FinalState)
}

func printReport(w io.Writer, report orchestrator.Report) {
	fmt.Fprintf(w, "\nGoal: %s\n", report.Goal)
	if report.FellBack {
		fmt.Fprintln(w, "Decomposition unavailable, ran the goal as one subtask.")
	}
	for i, st := range report.Subtasks {
		mark := "ok"
		switch {
		case st.Err != nil:
			mark = "error: " + st.Err.Error()
		case !st.Result.Success:
			mark = "failed: " + st.Result.Reason
		}
		fmt.Fprintf(w, "  %d. %s [%s]\n", i+1, st.Subtask.Description, mark)
	}
	fmt.Fprintf(w, "Completed %d/%d subtasks in %s\n", report.Completed, report.Total, report.Duration.Round(time.Millisecond))
	if report.Stopped {
		fmt.Fprintf(w, "Stopped: %s\n", report.StopReason)
	}
}
