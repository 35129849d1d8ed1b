// Package commands is the cobra command tree, grounded on
// bb/cmd/bb/commands/root.go: a package-level RootCmd, global persistent
// flags, and subcommands registered from their own files via init().
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/primeos-work/butido/internal/config"
	"github.com/primeos-work/butido/internal/logger"
)

// Global carries the persistent flags every subcommand reads.
type GlobalConfig struct {
	ConfigFilePath string
	Debug          bool
	Headless       bool
}

var Global = &GlobalConfig{}

func init() {
	RootCmd.PersistentFlags().StringVarP(&Global.ConfigFilePath, "config", "c", "", "Path to the butido config file")
	RootCmd.PersistentFlags().BoolVarP(&Global.Debug, "debug", "d", false, "Enable verbose debug logging")
	RootCmd.PersistentFlags().BoolVar(&Global.Headless, "headless", false, "Disable the spinner progress UI and log to stdout instead")
}

var RootCmd = &cobra.Command{
	Use:   "butido",
	Short: "butido builds packages from a dependency graph of build jobs",
}

// Execute runs the command tree, exiting non-zero on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// LoadConfig reads and validates the configuration named by the global
// --config flag.
func LoadConfig() (*config.Config, error) {
	notValidated, err := config.Load(Global.ConfigFilePath)
	if err != nil {
		return nil, err
	}
	return notValidated.Validate()
}

// LogFactory builds a logger.LogFactory honoring --debug, the way
// bb/cmd/bb/commands/root.go picks its formatter from Global.Debug.
func LogFactory(cfg *config.Config) (logger.LogFactory, error) {
	levels := logger.LogLevelConfig("")
	if cfg != nil {
		levels = logger.LogLevelConfig(cfg.LogLevels)
	}
	if Global.Debug {
		levels = "Scheduler=debug,Orchestrator=debug,Docker=debug"
	}
	registry, err := logger.NewLogRegistry(levels)
	if err != nil {
		return nil, err
	}
	return logger.MakeLogrusLogFactoryStdOut(registry), nil
}
