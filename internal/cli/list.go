package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/forgecache/internal/domain"
)

// ListOptions holds flags shared by the listing commands.
type ListOptions struct {
	*RootOptions
	Refresh bool
	Grouped bool
}

// NewReposCommand creates the repos command.
func NewReposCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "repos",
		Short:         "List repositories",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			repos := s.app.Repositories
			err = s.refresh("repositories",
				func() bool { return len(repos.List()) > 0 },
				func() error { _, err := repos.Fetch(cmd.Context(), opts.Refresh); return err },
			)
			if err != nil {
				return s.out.Fail(err)
			}
			return s.out.Success(reposView{
				Repositories: repos.List(),
				Freshness:    freshnessOf(repos.Meta(), repos.IsStale()),
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore the cache TTL")
	return cmd
}

// NewPRsCommand creates the prs command.
func NewPRsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prs <owner/name>",
		Short: "List a repository's pull requests",
		Long: `List a repository's pull requests, newest first.

With --grouped, pull requests are grouped by the prefix of their title or
head branch (feat, fix, claude, ...), ungrouped last.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			repo, err := s.repo(args[0])
			if err != nil {
				return err
			}
			prs := s.app.PullRequests
			err = s.refresh("pull requests",
				func() bool { return len(prs.List(repo)) > 0 },
				func() error { _, err := prs.Fetch(cmd.Context(), repo, opts.Refresh); return err },
			)
			if err != nil {
				return s.out.Fail(err)
			}

			v := prsView{Repo: repo, Freshness: freshnessOf(prs.Meta(repo), prs.IsStale(repo))}
			if opts.Grouped {
				v.Groups = []prGroupView{}
				for _, g := range prs.Groups(repo) {
					v.Groups = append(v.Groups, prGroupView{Prefix: g.Prefix, PullRequests: g.PullRequests})
				}
			} else {
				v.PullRequests = prs.List(repo)
			}
			return s.out.Success(v)
		},
	}
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore the cache TTL")
	cmd.Flags().BoolVar(&opts.Grouped, "grouped", false, "group by title or branch prefix")
	return cmd
}

// NewIssuesCommand creates the issues command.
func NewIssuesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "issues <owner/name>",
		Short:         "List a repository's issues",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			repo, err := s.repo(args[0])
			if err != nil {
				return err
			}
			issues := s.app.Issues
			err = s.refresh("issues",
				func() bool { return len(issues.List(repo)) > 0 },
				func() error { _, err := issues.Fetch(cmd.Context(), repo, opts.Refresh); return err },
			)
			if err != nil {
				return s.out.Fail(err)
			}
			return s.out.Success(issuesView{
				Repo:      repo,
				Issues:    issues.List(repo),
				Freshness: freshnessOf(issues.Meta(repo), issues.IsStale(repo)),
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore the cache TTL")
	return cmd
}

// NewBranchesCommand creates the branches command.
func NewBranchesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "branches <owner/name>",
		Short:         "List a repository's branches",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			repo, err := s.repo(args[0])
			if err != nil {
				return err
			}
			if err := s.refreshBranches(repo, opts.Refresh); err != nil {
				return s.out.Fail(err)
			}
			branches := s.app.Branches
			return s.out.Success(branchesView{
				Repo:      repo,
				Branches:  branches.List(repo),
				Freshness: freshnessOf(branches.Meta(repo), branches.IsStale(repo)),
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore the cache TTL")
	return cmd
}

// refreshBranches refreshes the repository list first when the default
// branch is unknown, so the current branch can be marked.
func (s *session) refreshBranches(repo domain.RepoRef, force bool) error {
	ctx := s.ctx
	a := s.app
	if a.Repositories.DefaultBranch(repo) == "" {
		err := s.refresh("repositories",
			func() bool { return false },
			func() error { _, err := a.Repositories.Fetch(ctx, false); return err },
		)
		if err != nil {
			// Branches still list; none is marked current.
			s.logger.Debug("default branch lookup failed", "repo", repo, "error", err)
		}
	}
	return s.refresh("branches",
		func() bool { return len(a.Branches.List(repo)) > 0 },
		func() error { _, err := a.Branches.Fetch(ctx, repo, force); return err },
	)
}
