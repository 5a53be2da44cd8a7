// Command runnerctl talks to a running code runner from the terminal.
//
//	runnerctl languages
//	runnerctl health
//	runnerctl run hello.py --input "42"
//	runnerctl token --service lms-backend --ttl 1h
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/code-runner/client"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	url     string
	secret  string
	service string
	timeout time.Duration
}

func (o *options) client() *client.Client {
	opts := []client.Option{client.WithTimeout(o.timeout)}
	if o.secret != "" {
		opts = append(opts, client.WithServiceToken(o.secret, o.service))
	}
	return client.New(o.url, opts...)
}

// exitError carries a non-zero exit status without printing anything more.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "runnerctl",
		Short: "runnerctl - command-line client for the code runner",
		Long: `runnerctl sends programs to a code runner instance and inspects it.

The runner address and service-token secret default to $CODERUNNER_URL and
$CODERUNNER_AUTH_SECRET.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", envOr("CODERUNNER_URL", "http://localhost:3001"), "Runner base URL")
	root.PersistentFlags().StringVar(&opts.secret, "secret", os.Getenv("CODERUNNER_AUTH_SECRET"), "Shared secret for service tokens")
	root.PersistentFlags().StringVar(&opts.service, "service", "runnerctl", "Service name placed in tokens")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "HTTP timeout")

	root.AddCommand(
		newRunCmd(opts),
		newLanguagesCmd(opts),
		newHealthCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
