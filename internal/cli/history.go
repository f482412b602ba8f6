package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/marketadmin/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Scope string
	Limit int
}

// ActionRecord is one journal row as printed by the CLI.
type ActionRecord struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Scope     string    `json:"scope"`
	Kind      string    `json:"kind"`
	EntityID  string    `json:"entity_id,omitempty"`
	State     string    `json:"state"`
	Outcome   string    `json:"outcome,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// History is printed as a table in text mode.
type History []ActionRecord

func (h History) String() string {
	if len(h) == 0 {
		return "no actions recorded"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tWHEN\tSCOPE\tKIND\tID\tSTATE\tOUTCOME\tERROR")
	for _, a := range h {
		entity := a.EntityID
		if entity == "" {
			entity = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Seq, a.CreatedAt.Format(time.RFC3339), a.Scope, a.Kind, entity, a.State, a.Outcome, a.Error)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the action journal",
		Long: `Show journalled actions in seq order, with their final state and outcome.

Examples:
  marketadmin history
  marketadmin history --scope banners --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Limit < 0 {
				return opts.formatter(cmd).Fail(NewExitError(ExitCommandError, "--limit must be non-negative"))
			}
			return withLocal(opts.RootOptions, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				actions, err := a.store.ListActions(ctx, store.ActionFilter{Scope: opts.Scope, Limit: opts.Limit})
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read journal", err)
				}
				out := make(History, 0, len(actions))
				for _, act := range actions {
					out = append(out, ActionRecord{
						ID:        act.ID,
						Seq:       act.Seq,
						Scope:     act.Scope,
						Kind:      act.Kind,
						EntityID:  act.EntityID,
						State:     act.State,
						Outcome:   act.Outcome,
						Digest:    act.Digest,
						Error:     act.Error,
						CreatedAt: act.CreatedAt,
						UpdatedAt: act.UpdatedAt,
					})
				}
				return f.Success(out)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "", "only show actions on this scope")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of actions (0 = all)")

	return cmd
}

// configView prints the effective config as YAML in text mode.
type configView struct {
	Config any
}

func (v configView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Config)
}

func (v configView) String() string {
	out, err := yaml.Marshal(v.Config)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return strings.TrimRight(string(out), "\n")
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective validated config",
		Long: `Show the configuration after defaults, the config file and environment
overrides have been merged and validated.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return f.Fail(err)
			}
			return f.Success(configView{Config: cfg})
		},
	}
}
