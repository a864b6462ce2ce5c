// File: cmd/profile.go
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/waypoint/internal/observability"
	"github.com/xkilldash9x/waypoint/internal/profile"
)

func newProfileCmd() *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the profile document used to answer form questions",
	}
	profileCmd.AddCommand(newProfileInitCmd(), newProfileGetCmd(), newProfilePathsCmd())
	return profileCmd
}

func newProfileInitCmd() *cobra.Command {
	var interactive bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the profile document if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			sess := newSession(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
			defer sess.Close()
			out := cmd.OutOrStdout()

			_, statErr := os.Stat(cfg.Profile.Path)
			existed := statErr == nil
			if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
				return fmt.Errorf("failed to inspect profile: %w", statErr)
			}

			store := sess.Profiles()
			p, err := store.Load()
			if err != nil {
				return err
			}

			if interactive {
				answers, err := sess.Human().AskBatch(ctx, []string{
					"First name", "Last name", "Email", "Phone", "City", "Country",
				})
				if err != nil {
					return err
				}
				p.Personal.FirstName, p.Personal.LastName = answers[0], answers[1]
				p.Personal.Email, p.Personal.Phone = answers[2], answers[3]
				p.Personal.City, p.Personal.Country = answers[4], answers[5]
				if err := store.Save(p); err != nil {
					return err
				}
				fmt.Fprintf(out, "Profile saved to %s\n", store.Path())
				return nil
			}

			if existed {
				fmt.Fprintf(out, "Profile already exists at %s\n", store.Path())
			} else {
				fmt.Fprintf(out, "Created profile template at %s\n", store.Path())
			}
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt for the personal details and save them")
	return initCmd
}

func newProfileGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print one profile field, for example personal.email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			sess := newSession(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
			defer sess.Close()

			p, err := sess.Profiles().Load()
			if err != nil {
				return err
			}
			value, err := p.Get(args[0])
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("%s is not set", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newProfilePathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List every field path of the profile document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range profile.Paths() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
