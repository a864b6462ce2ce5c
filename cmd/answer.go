// File: cmd/answer.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/observability"
)

func newAnswerCmd() *cobra.Command {
	var (
		options []string
		kind    string
	)

	answerCmd := &cobra.Command{
		Use:   "answer <question>",
		Short: "Resolve a form question through the reuse store, the profile, cognition and you",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			q := schemas.Question{
				Text:    strings.TrimSpace(strings.Join(args, " ")),
				Kind:    schemas.QuestionKind(strings.ToLower(kind)),
				Options: options,
			}
			if q.Kind == "" {
				q.Kind = schemas.QuestionText
				if len(q.Options) > 0 {
					q.Kind = schemas.QuestionChoice
				}
			}
			switch q.Kind {
			case schemas.QuestionText, schemas.QuestionCheckbox:
			case schemas.QuestionChoice:
				if len(q.Options) == 0 {
					return fmt.Errorf("--kind choice requires --options")
				}
			default:
				return fmt.Errorf("unsupported --kind %q (text, choice or checkbox)", kind)
			}

			sess := newSession(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
			defer sess.Close()

			resolver, err := sess.Resolver(ctx)
			if err != nil {
				return err
			}
			res, err := resolver.Resolve(ctx, q)
			if err != nil {
				return err
			}
			logger.Debug("Question resolved", zap.String("provenance", string(res.Provenance)),
				zap.Float64("confidence", res.Confidence), zap.Bool("persisted", res.Persisted))

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n(source: %s, confidence %.2f)\n", res.Answer, res.Provenance, res.Confidence)
			return nil
		},
	}

	answerCmd.Flags().StringSliceVar(&options, "options", nil, "Allowed answers, comma separated")
	answerCmd.Flags().StringVar(&kind, "kind", "", "Question kind: text, choice or checkbox (default text, or choice when --options is set)")
	return answerCmd
}
