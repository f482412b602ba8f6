package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/store"
)

// EnvPassword supplies the login password when --password is not given.
const EnvPassword = "MARKETADMIN_PASSWORD"

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Email    string
	Password string
}

// SessionView is the stored session as printed by the CLI. The token itself
// is never printed.
type SessionView struct {
	LoggedIn  bool       `json:"logged_in"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired,omitempty"`
}

func newSessionView(s store.Session, now time.Time) SessionView {
	v := SessionView{LoggedIn: true, Subject: s.Subject, Expired: s.Expired(now)}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

func (v SessionView) String() string {
	if !v.LoggedIn {
		return "not logged in"
	}
	subject := v.Subject
	if subject == "" {
		subject = "(unknown subject)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "logged in as %s", subject)
	if v.ExpiresAt != nil {
		fmt.Fprintf(&b, ", expires %s", v.ExpiresAt.Format(time.RFC3339))
	}
	if v.Expired {
		b.WriteString(" (expired)")
	}
	return b.String()
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the session",
		Long: `Authenticate against the admin API and store the bearer token locally.

The password is read from --password or $MARKETADMIN_PASSWORD.

Example:
  marketadmin login --email admin@example.com --password admin`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				return runLogin(ctx, opts, a, f)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password (default $MARKETADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runLogin(ctx context.Context, opts *LoginOptions, a *app, f *OutputFormatter) error {
	password := opts.Password
	if password == "" {
		password = os.Getenv(EnvPassword)
	}

	token, err := a.client.Login(ctx, opts.Email, password)
	if err != nil {
		return err
	}
	now := time.Now()
	sess, err := a.store.SaveSession(ctx, token, now)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to store session", err)
	}
	a.log.Info("logged in", "subject", sess.Subject)
	return f.Success(newSessionView(sess, now))
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Clear the stored session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				if err := a.store.ClearSession(ctx); err != nil {
					return WrapExitError(ExitCommandError, "failed to clear session", err)
				}
				return f.Success(SessionView{})
			})
		},
	}
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "whoami",
		Short:         "Show the stored session's subject and expiry",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				sess, err := a.store.Session(ctx)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return apperr.Unauthorized(apperr.CodeNotLoggedIn, "not logged in")
					}
					return WrapExitError(ExitCommandError, "failed to read session", err)
				}
				return f.Success(newSessionView(sess, time.Now()))
			})
		},
	}
}
