package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/forgecache/internal/app"
	"github.com/roach88/forgecache/internal/config"
	"github.com/roach88/forgecache/internal/domain"
)

// session is one command's view of the wired services.
type session struct {
	ctx    context.Context
	opts   *RootOptions
	app    *app.App
	out    *OutputFormatter
	logger *slog.Logger
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openSession configures logging, loads the config, builds the app and warms
// every cache from the database. Errors are already reported through the
// formatter when returned.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	out := newFormatter(cmd, opts)

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.FailWith(CodeConfig, ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	appOpts := append([]app.Option{app.WithLogger(logger)}, opts.AppOptions...)
	a, err := app.New(cmd.Context(), cfg, appOpts...)
	if err != nil {
		return nil, out.FailWith(CodeConfig, ExitCommandError, "failed to start", err)
	}
	if err := a.Hydrate(cmd.Context()); err != nil {
		logger.Warn("warm start incomplete", "error", err)
	}
	logger.Debug("session opened", "database", cfg.Database.Path, "offline", opts.Offline)

	return &session{ctx: cmd.Context(), opts: opts, app: a, out: out, logger: logger}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.app.Close(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("shutdown incomplete", "error", err)
	}
}

// refresh runs fetch unless the session is offline. A failed fetch is not
// fatal while the cache still has something to show: the stale data is
// served and the failure logged.
func (s *session) refresh(what string, hasData func() bool, fetch func() error) error {
	if s.opts.Offline {
		return nil
	}
	err := fetch()
	if err == nil {
		return nil
	}
	if hasData() {
		s.logger.Warn("refresh failed; showing cached data", "what", what, "error", err)
		return nil
	}
	return err
}

// repoArg parses an owner/name argument.
func repoArg(out *OutputFormatter, s string) (domain.RepoRef, error) {
	ref, err := domain.ParseRepoRef(s)
	if err != nil {
		return domain.RepoRef{}, out.FailWith(CodeUsage, ExitCommandError, err.Error(), err)
	}
	return ref, nil
}

// repo parses an owner/name argument and warms that repository's caches,
// which the startup hydration skips when the repository list was never
// fetched.
func (s *session) repo(arg string) (domain.RepoRef, error) {
	ref, err := repoArg(s.out, arg)
	if err != nil {
		return domain.RepoRef{}, err
	}
	if err := s.app.HydrateRepo(s.ctx, ref); err != nil {
		s.logger.Warn("warm start incomplete", "repo", ref, "error", err)
	}
	return ref, nil
}
