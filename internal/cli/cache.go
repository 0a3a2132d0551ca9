package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CacheOptions holds flags for the cache commands.
type CacheOptions struct {
	*RootOptions
	Purge bool
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local cache",
	}
	cmd.AddCommand(newCacheClearCommand(rootOpts))
	return cmd
}

func newCacheClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached data and stop background refresh",
		Long: `Drop every cached repository, pull request, issue, branch and check status
and stop the background check refresh.

Without --purge only memory is cleared and the database keeps its rows, so
the next command warms up from them again. With --purge the rows are
deleted too, along with the last sync time.

Example:
  forgecache cache clear --purge`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if !opts.Purge {
				s.app.ClearCache()
				return s.out.Success(cacheClearView{})
			}
			rows, err := s.app.PurgeStore(s.ctx)
			if err != nil {
				return s.out.FailWith(CodeStore, ExitCommandError, "failed to purge the database", err)
			}
			return s.out.Success(cacheClearView{Purged: true, Rows: rows})
		},
	}
	cmd.Flags().BoolVar(&opts.Purge, "purge", false, "also delete every row from the database")
	return cmd
}

type cacheClearView struct {
	Purged bool  `json:"purged"`
	Rows   int64 `json:"rows_deleted"`
}

func (v cacheClearView) Text() string {
	if !v.Purged {
		return "Cache cleared; the database was kept.\n"
	}
	if v.Rows == 1 {
		return "Cache cleared; deleted 1 database row.\n"
	}
	return fmt.Sprintf("Cache cleared; deleted %d database rows.\n", v.Rows)
}
