package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
)

// MutateOptions holds flags shared by the pr and issue mutation commands.
type MutateOptions struct {
	*RootOptions
	Body   string
	Method string
}

// NewPRCommand creates the pr command group.
func NewPRCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pr",
		Short: "Act on a pull request",
		Long: `Act on a pull request. Changes are applied to the cache at once and
rolled back if the forge rejects them.`,
	}
	cmd.AddCommand(newPRApproveCommand(rootOpts))
	cmd.AddCommand(newPRRequestChangesCommand(rootOpts))
	cmd.AddCommand(newPRMergeCommand(rootOpts))
	cmd.AddCommand(newPRDraftCommand(rootOpts))
	cmd.AddCommand(newLabelCommand(rootOpts, "pull request", prLabels))
	return cmd
}

// prAction loads the pull request, runs act and prints the result.
func prAction(opts *MutateOptions, cmd *cobra.Command, args []string, verb string,
	act func(s *session, repo domain.RepoRef, number int) (domain.PullRequest, error),
) error {
	if opts.Offline {
		return newFormatter(cmd, opts.RootOptions).FailWith(CodeUsage, ExitCommandError, "changes need the forge; drop --offline", nil)
	}
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	repo, err := s.repo(args[0])
	if err != nil {
		return err
	}
	number, err := parseNumber(s.out, args[1])
	if err != nil {
		return err
	}
	if err := s.ensurePullRequest(repo, number); err != nil {
		return s.out.Fail(err)
	}
	pr, err := act(s, repo, number)
	if err != nil {
		return s.out.Fail(err)
	}
	return s.out.Success(prView{PullRequest: pr, Action: verb})
}

// ensurePullRequest fetches the repository's pull requests when number is
// not cached yet.
func (s *session) ensurePullRequest(repo domain.RepoRef, number int) error {
	if _, ok := s.app.PullRequests.Get(repo, number); ok {
		return nil
	}
	_, err := s.app.PullRequests.Fetch(s.ctx, repo, false)
	return err
}

func parseNumber(out *OutputFormatter, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		msg := fmt.Sprintf("invalid number %q", s)
		return 0, out.FailWith(CodeUsage, ExitCommandError, msg, err)
	}
	return n, nil
}

func newPRApproveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}
	return &cobra.Command{
		Use:           "approve <owner/name> <number>",
		Short:         "Approve a pull request",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prAction(opts, cmd, args, "Approved", func(s *session, repo domain.RepoRef, n int) (domain.PullRequest, error) {
				return s.app.PullRequests.Approve(s.ctx, repo, n)
			})
		},
	}
}

func newPRRequestChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "request-changes <owner/name> <number>",
		Short:         "Request changes on a pull request",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prAction(opts, cmd, args, "Requested changes on", func(s *session, repo domain.RepoRef, n int) (domain.PullRequest, error) {
				return s.app.PullRequests.RequestChanges(s.ctx, repo, n, opts.Body)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Body, "body", "b", "", "review comment")
	return cmd
}

func newPRMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "merge <owner/name> <number>",
		Short:         "Merge a pull request",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			method := remote.MergeMethod(opts.Method)
			switch method {
			case remote.MergeCommit, remote.MergeSquash, remote.MergeRebase:
			default:
				msg := fmt.Sprintf("invalid merge method %q: want merge, squash or rebase", opts.Method)
				return newFormatter(cmd, opts.RootOptions).FailWith(CodeUsage, ExitCommandError, msg, nil)
			}
			return prAction(opts, cmd, args, "Merged", func(s *session, repo domain.RepoRef, n int) (domain.PullRequest, error) {
				return s.app.PullRequests.Merge(s.ctx, repo, n, method)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Method, "method", string(remote.MergeCommit), "merge method (merge|squash|rebase)")
	return cmd
}

func newPRDraftCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}
	return &cobra.Command{
		Use:           "draft <owner/name> <number>",
		Short:         "Toggle a pull request between draft and ready for review",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prAction(opts, cmd, args, "Toggled draft on", func(s *session, repo domain.RepoRef, n int) (domain.PullRequest, error) {
				return s.app.PullRequests.ToggleDraft(s.ctx, repo, n)
			})
		},
	}
}

// labeler adds or removes labels on one entity and prints the result.
type labeler func(opts *MutateOptions, cmd *cobra.Command, args []string, add bool) error

func prLabels(opts *MutateOptions, cmd *cobra.Command, args []string, add bool) error {
	verb := "Removed labels from"
	if add {
		verb = "Labelled"
	}
	names := args[2:]
	return prAction(opts, cmd, args[:2], verb, func(s *session, repo domain.RepoRef, n int) (domain.PullRequest, error) {
		if add {
			return s.app.PullRequests.AddLabels(s.ctx, repo, n, names...)
		}
		return s.app.PullRequests.RemoveLabels(s.ctx, repo, n, names...)
	})
}

func newLabelCommand(rootOpts *RootOptions, noun string, apply labeler) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Add or remove labels on a " + noun,
	}
	for _, add := range []bool{true, false} {
		use, short := "remove", "Remove labels from a "+noun
		if add {
			use, short = "add", "Add labels to a "+noun
		}
		cmd.AddCommand(&cobra.Command{
			Use:           use + " <owner/name> <number> <label>...",
			Short:         short,
			Args:          cobra.MinimumNArgs(3),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return apply(opts, cmd, args, add)
			},
		})
	}
	return cmd
}
