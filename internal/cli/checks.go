package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/domain"
)

// ChecksOptions holds flags for the checks command.
type ChecksOptions struct {
	*RootOptions
	Refresh bool
	Watch   bool
	For     time.Duration
}

// NewChecksCommand creates the checks command.
func NewChecksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChecksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checks <owner/name>",
		Short: "Show CI check status per branch",
		Long: `Show the CI check status of every branch of a repository.

With --watch the checks are refreshed every refresh.check_interval and
printed again whenever they change, until interrupted or --for elapses.

Example:
  forgecache checks acme/widgets
  forgecache checks acme/widgets --watch --for 10m`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChecks(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore the cache TTL")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep refreshing until interrupted")
	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop watching after this long (0 = until interrupted)")

	return cmd
}

func runChecks(opts *ChecksOptions, arg string, cmd *cobra.Command) error {
	if opts.Watch && opts.Offline {
		return newFormatter(cmd, opts.RootOptions).FailWith(CodeUsage, ExitCommandError, "--watch needs the forge; drop --offline", nil)
	}
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	repo, err := s.repo(arg)
	if err != nil {
		return err
	}
	if err := s.refreshBranches(repo, opts.Refresh); err != nil {
		return s.out.Fail(err)
	}

	checks := s.app.Checks
	err = s.refresh("checks",
		func() bool { return len(checks.List(repo)) > 0 },
		func() error {
			_, err := checks.Fetch(cmd.Context(), repo, s.app.Branches.Known(repo), opts.Refresh)
			return err
		},
	)
	if err != nil {
		return s.out.Fail(err)
	}

	view := func() checksView {
		return checksView{
			Repo:      repo,
			Checks:    checks.List(repo),
			Freshness: freshnessOf(checks.Meta(repo), checks.IsStale(repo)),
		}
	}
	if err := s.out.Success(view()); err != nil {
		return err
	}
	if !opts.Watch {
		return nil
	}
	return watchChecks(s, repo, opts.For, view)
}

// watchChecks runs the scheduler for repo and prints the view whenever the
// check cache settles on a new state.
func watchChecks(s *session, repo domain.RepoRef, limit time.Duration, view func() checksView) error {
	ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	changed := make(chan struct{}, 1)
	unsubscribe := s.app.Checks.Subscribe(func(ev cache.Event) {
		if ev.Scope != domain.RepoScope(repo) {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	s.app.Scheduler.Start(ctx, repo)
	defer s.app.Scheduler.Stop(repo)

	last := checksDigest(view().Checks)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if s.app.Checks.Meta(repo).Loading {
				continue
			}
			v := view()
			h := checksDigest(v.Checks)
			if h != "" && h == last {
				continue
			}
			last = h
			if err := s.out.Success(v); err != nil {
				return err
			}
		}
	}
}

// checksDigest hashes the statuses without their fetch times, so a refresh
// that changed nothing is not printed again.
func checksDigest(statuses []domain.CheckStatus) string {
	stripped := make([]domain.CheckStatus, len(statuses))
	for i, cs := range statuses {
		cs.UpdatedAt = time.Time{}
		stripped[i] = cs
	}
	h, err := domain.ContentHash(stripped)
	if err != nil {
		return ""
	}
	return h
}
