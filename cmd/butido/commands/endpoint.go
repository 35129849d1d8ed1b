// Command endpoint pings every configured container host, grounded on
// original_source/src/commands/endpoint.rs's "ping all configured
// endpoints" diagnostic.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/primeos-work/butido/internal/app"
)

func init() {
	db := &dbFlags{}

	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Ping every configured Docker endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEndpoint(cmd, db)
		},
	}
	db.register(cmd)

	RootCmd.AddCommand(cmd)
}

func runEndpoint(cmd *cobra.Command, db *dbFlags) error {
	a, cleanup, err := buildApp(cmd.Context(), db, nil, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	failed := false
	for _, ep := range a.Endpoints {
		if err := ep.Ping(cmd.Context()); err != nil {
			fmt.Printf("%s: unreachable: %v\n", ep.Name(), err)
			failed = true
			continue
		}
		load, err := ep.Load(cmd.Context())
		if err != nil {
			fmt.Printf("%s: reachable, load unknown: %v\n", ep.Name(), err)
			failed = true
			continue
		}
		fmt.Printf("%s: reachable, load %d\n", ep.Name(), load)
	}
	if failed {
		return fmt.Errorf("one or more endpoints are unreachable")
	}
	return nil
}
