package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/ordering"
	"github.com/roach88/marketadmin/internal/sandbox"
)

// SandboxOptions holds flags for the sandbox command.
type SandboxOptions struct {
	*RootOptions
	Listen   string
	Database string
	Seed     string
	Email    string
	Password string
	Envelope bool

	// ready, when set, receives the bound address once the server listens.
	ready func(addr string)
}

// SeedMember is one entry of a sandbox seed file.
type SeedMember struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Order  int    `yaml:"order"`
	Active *bool  `yaml:"active"`
}

// NewSandboxCommand creates the sandbox command.
func NewSandboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SandboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run the sandbox backend",
		Long: `Serve the admin REST contract for every configured scope from a local
SQLite database, for rehearsing changes without a real backend.

A seed file maps scope names to members:

  categories:
    - { id: c1, name: Apparel, order: 0 }
  banners:
    - { id: b1, name: Spring sale, order: 0, active: true }

Examples:
  marketadmin sandbox --listen 127.0.0.1:8080 --seed seed.yaml
  marketadmin sandbox --db ./sandbox.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandbox(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "127.0.0.1:8080", "address to listen on")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default in-memory)")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML seed file replacing the seeded scopes at startup")
	cmd.Flags().StringVar(&opts.Email, "email", sandbox.DefaultEmail, "login email accepted by the sandbox")
	cmd.Flags().StringVar(&opts.Password, "password", sandbox.DefaultPassword, "login password accepted by the sandbox")
	cmd.Flags().BoolVar(&opts.Envelope, "envelope", false, `wrap responses in {"data":...}`)

	return cmd
}

func runSandbox(opts *SandboxOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	log, err := newLogger(cfg, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer log.Sync()

	srv, err := sandbox.New(sandbox.Options{
		DSN:       opts.Database,
		Scopes:    sandbox.ScopesFromConfig(cfg),
		LoginPath: cfg.API.LoginPath,
		Email:     opts.Email,
		Password:  opts.Password,
		Envelope:  opts.Envelope,
		Logger:    log,
	})
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to start sandbox", err))
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Seed != "" {
		if err := seedSandbox(ctx, srv, opts.Seed, log); err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "failed to seed sandbox", err))
		}
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to listen", err))
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	addr := ln.Addr().String()
	log.Info("sandbox listening", "addr", addr, "scopes", cfg.ScopeNames())
	f.VerboseLog("sandbox listening on http://%s", addr)
	if opts.ready != nil {
		opts.ready(addr)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return f.Fail(WrapExitError(ExitCommandError, "sandbox server failed", err))
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("sandbox shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "sandbox shutdown failed", err))
	}
	return nil
}

// LoadSeed reads a sandbox seed file.
func LoadSeed(path string) (map[string][]SeedMember, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed map[string][]SeedMember
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return seed, nil
}

func seedSandbox(ctx context.Context, srv *sandbox.Server, path string, log *logger.Logger) error {
	seed, err := LoadSeed(path)
	if err != nil {
		return err
	}
	scopes := make([]string, 0, len(seed))
	for scope := range seed {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		members := make([]ordering.Entity, 0, len(seed[scope]))
		for _, m := range seed[scope] {
			members = append(members, ordering.Entity{ID: m.ID, Name: m.Name, Order: m.Order, IsActive: m.Active})
		}
		if err := srv.Seed(ctx, scope, members); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}
		log.Info("seeded scope", "scope", scope, "members", len(members))
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
