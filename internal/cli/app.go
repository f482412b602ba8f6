package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/marketadmin/internal/apiclient"
	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/manager"
	"github.com/roach88/marketadmin/internal/store"
)

// app is the per-invocation environment: the validated config, a logger,
// the local store and, for backend commands, the API client and manager.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *store.Store
	client *apiclient.Client
	mgr    *manager.Manager
}

// loadConfig resolves and validates the effective config.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// newLogger builds the CLI logger. --verbose forces debug level.
func newLogger(cfg *config.Config, opts *RootOptions, w io.Writer) (*logger.Logger, error) {
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Mode: cfg.Log.Mode, Level: level, Output: w})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	return log, nil
}

// openLocal opens config, logger and store without touching the backend.
func openLocal(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg, opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	log.Debug("opening store", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return &app{cfg: cfg, log: log, store: st}, nil
}

// openApp opens the local environment and wires the API client and manager.
// The manager's clock resumes after the highest seq the store has seen, so
// versions and journal seqs keep increasing across invocations.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app, error) {
	a, err := openLocal(opts, cmd)
	if err != nil {
		return nil, err
	}

	a.client, err = apiclient.New(apiclient.Options{
		BaseURL:   a.cfg.API.BaseURL,
		LoginPath: a.cfg.API.LoginPath,
		Timeout:   a.cfg.Timeout(),
		Session:   a.store,
		Logger:    a.log,
	})
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build api client", err)
	}

	seq, err := a.store.ResumeSeq(ctx)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read store", err)
	}

	a.mgr, err = manager.New(manager.Options{
		Config:  a.cfg,
		API:     a.client,
		Cache:   a.store,
		Journal: a.store,
		Clock:   manager.NewClockAt(seq),
		Now:     time.Now,
		Logger:  a.log,
	})
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build manager", err)
	}
	return a, nil
}

// Close flushes the logger and closes the store.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close store", "error", err)
		}
	}
	a.log.Sync()
}

type appFunc func(ctx context.Context, a *app, f *OutputFormatter) error

// withApp runs fn with a fully wired app and reports its error through the
// formatter.
func withApp(opts *RootOptions, cmd *cobra.Command, fn appFunc) error {
	return runWith(opts, cmd, openApp, fn)
}

// withLocal is withApp without the backend wiring.
func withLocal(opts *RootOptions, cmd *cobra.Command, fn appFunc) error {
	open := func(_ context.Context, opts *RootOptions, cmd *cobra.Command) (*app, error) {
		return openLocal(opts, cmd)
	}
	return runWith(opts, cmd, open, fn)
}

func runWith(
	opts *RootOptions,
	cmd *cobra.Command,
	open func(context.Context, *RootOptions, *cobra.Command) (*app, error),
	fn appFunc,
) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	a, err := open(ctx, opts, cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if err := fn(ctx, a, f); err != nil {
		if IsReported(err) {
			return err
		}
		return f.Fail(err)
	}
	return nil
}
