// Command metrics prints ledger-derived counts: submits, jobs by outcome,
// artifacts and releases. A supplemented feature with no original_source
// analogue beyond the general "give operators visibility into the store"
// intent of original_source/src/commands/release.rs's reporting.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/primeos-work/butido/internal/app"
)

func init() {
	db := &dbFlags{}

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print ledger counts (submits, jobs, artifacts, releases)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(cmd, db)
		},
	}
	db.register(cmd)

	RootCmd.AddCommand(cmd)
}

func runMetrics(cmd *cobra.Command, db *dbFlags) error {
	a, cleanup, err := buildApp(cmd.Context(), db, nil, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := a.Ledger.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("submits:       %d\n", stats.Submits)
	fmt.Printf("jobs succeeded: %d\n", stats.JobsSucceeded)
	fmt.Printf("jobs failed:    %d\n", stats.JobsFailed)
	fmt.Printf("artifacts:      %d\n", stats.Artifacts)
	fmt.Printf("releases:       %d\n", stats.Releases)
	return nil
}
