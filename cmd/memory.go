// File: cmd/memory.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/observability"
)

func newMemoryCmd() *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the agent's persisted memory",
	}
	memoryCmd.AddCommand(newMemoryStatsCmd(), newMemoryEpisodesCmd())
	return memoryCmd
}

func newMemoryStatsCmd() *cobra.Command {
	var asJSON bool
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the selector cache and the episode log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			sess := newSession(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
			defer sess.Close()

			mem, err := sess.Memory()
			if err != nil {
				return err
			}
			stats := mem.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, stats)
			}
			fmt.Fprintf(out, "Selectors: %d (mean success rate %.0f%%)\n", stats.SelectorCount, stats.MeanSelectorSuccessRate*100)
			fmt.Fprintf(out, "Episodes:  %d (success rate %.0f%%)\n", stats.EpisodeCount, stats.EpisodeSuccessRate*100)
			fmt.Fprintf(out, "Location:  %s\n", cfg.Memory.Dir)
			return nil
		},
	}
	statsCmd.Flags().BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	return statsCmd
}

func newMemoryEpisodesCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	episodesCmd := &cobra.Command{
		Use:   "episodes",
		Short: "List recorded episodes, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			sess := newSession(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
			defer sess.Close()

			mem, err := sess.Memory()
			if err != nil {
				return err
			}
			episodes := mem.Episodes()
			recent := make([]schemas.Episode, 0, len(episodes))
			for i := len(episodes) - 1; i >= 0; i-- {
				if limit > 0 && len(recent) == limit {
					break
				}
				recent = append(recent, episodes[i])
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, recent)
			}
			if len(recent) == 0 {
				fmt.Fprintln(out, "No episodes recorded.")
				return nil
			}
			for _, ep := range recent {
				printEpisode(out, ep)
			}
			return nil
		},
	}
	episodesCmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of episodes to show (0 for all)")
	episodesCmd.Flags().BoolVar(&asJSON, "json", false, "Print the episodes as JSON")
	return episodesCmd
}

func printEpisode(w io.Writer, ep schemas.Episode) {
	status := "FAIL"
	if ep.Success {
		status = "OK"
	}
	fmt.Fprintf(w, "[%s] %s %s (%s)\n", status, ep.Timestamp.Local().Format(time.DateTime), ep.Task, ep.Duration.Round(time.Second))
	if ep.Approach != "" {
		fmt.Fprintf(w, "    approach: %s\n", ep.Approach)
	}
	if len(ep.Learnings) > 0 {
		fmt.Fprintf(w, "    learnings: %s\n", strings.Join(ep.Learnings, "; "))
	}
}

func writeJSON(w io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}
