// Command butido builds packages from a Job Graph of Docker-sandboxed
// build jobs, reusing artifacts already recorded in its ledger where
// possible. Grounded on bb/cmd/bb/main.go's pattern of handing off to a
// package-level RootCmd whose subcommands self-register via init().
package main

import "github.com/primeos-work/butido/cmd/butido/commands"

func main() {
	commands.Execute()
}
