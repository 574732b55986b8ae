// Package cli implements storybookctl, a small client for the storybook API.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/storybook-back/internal/apiclient"
)

type options struct {
	server  string
	token   string
	timeout time.Duration
}

func (o *options) client() *apiclient.Client {
	return apiclient.New(apiclient.Config{BaseURL: o.server, Token: o.token})
}

func (o *options) context(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}

// NewRootCommand builds the storybookctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "storybookctl",
		Short:         "Submit photos and collect personalized storybooks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("STORYBOOK_SERVER", "http://localhost:8080"), "Storybook API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("API_AUTH_TOKEN"), "Bearer token for /v1 routes")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Minute, "Overall command timeout (0 disables)")

	rootCmd.AddCommand(
		newSubmitCommand(opts),
		newStatusCommand(opts),
		newFetchCommand(opts),
		newListCommand(opts),
	)
	return rootCmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
