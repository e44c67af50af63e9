// Package cli implements the backoffice command tree.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-bi/backoffice/jobs"
)

// Env supplies the runtime pieces commands need. Factories are called lazily so
// `--help` works without a database.
type Env struct {
	Serve     func(ctx context.Context) error
	Recounter func(ctx context.Context) (jobs.Recounter, func(), error)
	Jobs      func() (*JobsCLI, error)
}

// NewRootCommand builds the backoffice command. Running it without a subcommand serves HTTP.
func NewRootCommand(env Env, stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "backoffice",
		Short: "Multi-tenant back office server and maintenance tools",
		Long: `backoffice serves the authorization, CRUD and audit endpoints.

Maintenance subcommands repair denormalised counters and manage background jobs.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.Serve(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.AddCommand(newRecountCommand(env), newJobsCommand(env))
	return root
}
