package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/forgecache/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string
	Offline    bool
	Verbose    bool
	Format     string // "json" | "text"

	// AppOptions are passed to app.New (for testing).
	AppOptions []app.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the forgecache CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forgecache",
		Short: "forgecache - offline-first forge cache",
		Long: `An offline-first cache of forge repositories, pull requests, issues,
branches and CI checks, persisted in SQLite and refreshed from the forge.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: search forgecache.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides database.path)")
	cmd.PersistentFlags().BoolVar(&opts.Offline, "offline", false, "serve cached data without contacting the forge")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewReposCommand(opts))
	cmd.AddCommand(NewPRsCommand(opts))
	cmd.AddCommand(NewIssuesCommand(opts))
	cmd.AddCommand(NewBranchesCommand(opts))
	cmd.AddCommand(NewChecksCommand(opts))
	cmd.AddCommand(NewPRCommand(opts))
	cmd.AddCommand(NewIssueCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
