package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/forgecache/internal/domain"
)

// NewIssueCommand creates the issue command group.
func NewIssueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Act on issues",
		Long: `Act on issues. Close and reopen take several numbers and are applied as
one batch: if the forge rejects any of them, all are rolled back.`,
	}
	cmd.AddCommand(newIssueStateCommand(rootOpts, true))
	cmd.AddCommand(newIssueStateCommand(rootOpts, false))
	cmd.AddCommand(newLabelCommand(rootOpts, "issue", issueLabels))
	return cmd
}

// issueAction loads the repository's issues, runs act and prints the result.
func issueAction(opts *MutateOptions, cmd *cobra.Command, repoArgument string, verb string,
	act func(s *session, repo domain.RepoRef) ([]domain.Issue, error),
) error {
	if opts.Offline {
		return newFormatter(cmd, opts.RootOptions).FailWith(CodeUsage, ExitCommandError, "changes need the forge; drop --offline", nil)
	}
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	repo, err := s.repo(repoArgument)
	if err != nil {
		return err
	}
	if !s.app.Issues.Meta(repo).Fetched() {
		if _, err := s.app.Issues.Fetch(s.ctx, repo, false); err != nil && len(s.app.Issues.List(repo)) == 0 {
			return s.out.Fail(err)
		}
	}
	issues, err := act(s, repo)
	if err != nil {
		return s.out.Fail(err)
	}
	return s.out.Success(issueResultView{Issues: issues, Action: verb})
}

func newIssueStateCommand(rootOpts *RootOptions, closing bool) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}
	use, short, verb := "reopen", "Reopen issues", "Reopened"
	if closing {
		use, short, verb = "close", "Close issues", "Closed"
	}
	return &cobra.Command{
		Use:           use + " <owner/name> <number>...",
		Short:         short,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts.RootOptions)
			numbers := make([]int, 0, len(args)-1)
			for _, a := range args[1:] {
				n, err := parseNumber(out, a)
				if err != nil {
					return err
				}
				numbers = append(numbers, n)
			}
			return issueAction(opts, cmd, args[0], verb, func(s *session, repo domain.RepoRef) ([]domain.Issue, error) {
				if closing {
					return s.app.Issues.Close(s.ctx, repo, numbers...)
				}
				return s.app.Issues.Reopen(s.ctx, repo, numbers...)
			})
		},
	}
}

func issueLabels(opts *MutateOptions, cmd *cobra.Command, args []string, add bool) error {
	verb := "Removed labels from"
	if add {
		verb = "Labelled"
	}
	number, err := parseNumber(newFormatter(cmd, opts.RootOptions), args[1])
	if err != nil {
		return err
	}
	names := args[2:]
	return issueAction(opts, cmd, args[0], verb, func(s *session, repo domain.RepoRef) ([]domain.Issue, error) {
		var (
			issue domain.Issue
			err   error
		)
		if add {
			issue, err = s.app.Issues.AddLabels(s.ctx, repo, number, names...)
		} else {
			issue, err = s.app.Issues.RemoveLabels(s.ctx, repo, number, names...)
		}
		if err != nil {
			return nil, err
		}
		return []domain.Issue{issue}, nil
	})
}
