package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/forgecache/internal/orchestrator"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	IfStale bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the repository list and every repository's pull requests",
		Long: `Refresh the repository list and then each repository's pull requests.

A repository that fails does not stop the run; the summary lists every
failure and the command exits with status 1.

Example:
  forgecache sync
  forgecache sync --if-stale --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.IfStale, "if-stale", false, "only sync when the last sync is older than sync.auto_sync_after")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	if opts.Offline {
		return newFormatter(cmd, opts.RootOptions).FailWith(CodeUsage, ExitCommandError, "sync needs the forge; drop --offline", nil)
	}
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	orch := s.app.Orchestrator
	if opts.IfStale && !orch.ShouldAutoSync() {
		v := newSyncView(orch.Status())
		v.Skipped = true
		return s.out.Success(v)
	}

	unsubscribe := orch.Subscribe(func(st orchestrator.Status) {
		if st.State == orchestrator.StateRunning {
			s.out.VerboseLog("sync %s: %d%%", st.RunID, st.Progress)
		}
	})
	defer unsubscribe()

	st := orch.Run(cmd.Context())
	if err := s.out.Success(newSyncView(st)); err != nil {
		return err
	}
	if st.State == orchestrator.StatePartialFailure {
		return &ExitError{Code: ExitFailure, Message: st.Message, Reported: true}
	}
	return nil
}
