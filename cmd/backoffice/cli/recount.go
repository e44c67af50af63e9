package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-bi/backoffice/internal/softdelete"
	"github.com/odyssey-bi/backoffice/jobs"
)

// RecountSummary is the JSON output of the recount command.
type RecountSummary struct {
	Counters []string                   `json:"counters"`
	Repaired []softdelete.RecountResult `json:"repaired"`
}

func newRecountCommand(env Env) *cobra.Command {
	var (
		counter   string
		companyID int64
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "recount",
		Short: "Reset company counters to the number of kept children",
		Long: `Recount projects_count and users_count on companies.

Examples:
  backoffice recount
  backoffice recount --counter companies.projects_count --company 12 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if companyID < 0 {
				return fmt.Errorf("recount: --company must be positive")
			}
			payload := jobs.CountersReconcilePayload{Counter: counter, CompanyID: companyID}
			counters, err := payload.Counters()
			if err != nil {
				return err
			}
			recounter, closeFn, err := env.Recounter(cmd.Context())
			if err != nil {
				return fmt.Errorf("recount: %w", err)
			}
			defer closeFn()

			job := jobs.NewCountersReconcileJob(recounter, nil, nil)
			repaired, err := job.Run(cmd.Context(), companyID, counters)
			if err != nil {
				return err
			}
			summary := RecountSummary{Counters: make([]string, len(counters)), Repaired: repaired}
			for i, c := range counters {
				summary.Counters[i] = c.Name
			}
			if summary.Repaired == nil {
				summary.Repaired = []softdelete.RecountResult{}
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
			}
			renderRecount(cmd, summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&counter, "counter", "", "counter to repair (default: all)")
	cmd.Flags().Int64Var(&companyID, "company", 0, "restrict to one company id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON summary")
	return cmd
}

func renderRecount(cmd *cobra.Command, summary RecountSummary) {
	out := cmd.OutOrStdout()
	if len(summary.Repaired) == 0 {
		_, _ = fmt.Fprintln(out, "All counters match.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d counter(s) repaired:\n", len(summary.Repaired))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNTER\tCOMPANY\tSTORED\tACTUAL")
	for _, r := range summary.Repaired {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Counter, r.ParentID, r.Stored, r.Actual)
	}
	_ = w.Flush()
}
