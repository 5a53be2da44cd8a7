package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/code-runner/internal/auth"
)

func newLanguagesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "languages",
		Aliases: []string{"langs"},
		Short:   "List the languages the runner accepts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			langs := opts.client().Languages(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDISPLAY\tEXT\tTIMEOUT")
			for _, l := range langs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Name, l.DisplayName, l.Extension,
					time.Duration(l.Timeout)*time.Millisecond)
			}
			return w.Flush()
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the runner's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("runner unreachable: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) at %s\n", h.Status, h.Service, h.Timestamp)
			if h.Status != "healthy" {
				return exitError{code: 2}
			}
			return nil
		},
	}
}

func newTokenCmd(opts *options) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a service token for manual calls",
		Long: `Token prints a bearer token signed with --secret, for use with curl:

  curl -H "Authorization: Bearer $(runnerctl token)" ...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return fmt.Errorf("--secret or $CODERUNNER_AUTH_SECRET is required")
			}
			tokens, err := auth.NewTokenService(opts.secret)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateWithDuration(opts.service, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "Token lifetime")
	return cmd
}
