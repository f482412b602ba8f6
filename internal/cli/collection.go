package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/ordering"
	"github.com/roach88/marketadmin/internal/store"
)

// ScopeView describes one configured collection.
type ScopeView struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Sort      string `json:"sort"`
	ActiveCap int    `json:"active_cap"`
	Base      int    `json:"base"`
	Reorder   string `json:"reorder"`
}

// ScopeList is printed as a table in text mode.
type ScopeList []ScopeView

func (l ScopeList) String() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tPATH\tSORT\tCAP\tBASE\tREORDER")
	for _, s := range l {
		limit := "-"
		if s.ActiveCap > 0 {
			limit = strconv.Itoa(s.ActiveCap)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", s.Name, s.Path, s.Sort, limit, s.Base, s.Reorder)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewScopesCommand creates the scopes command.
func NewScopesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "scopes",
		Short:         "List the configured collections",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return f.Fail(err)
			}
			list := make(ScopeList, 0, len(cfg.Scopes))
			for _, name := range cfg.ScopeNames() {
				sc, _ := cfg.Scope(name)
				list = append(list, ScopeView{
					Name:      sc.Name,
					Path:      sc.Path,
					Sort:      string(sc.Sort),
					ActiveCap: sc.ActiveCap,
					Base:      sc.Base,
					Reorder:   fmt.Sprintf("%s %s (%s)", sc.Reorder.Method, sc.Reorder.Path, sc.Reorder.Format),
				})
			}
			return f.Success(list)
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Cached bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <scope>",
		Short: "Show a collection",
		Long: `Fetch a collection from the backend and show it in display order.

With --cached the last stored snapshot is shown without any request.

Examples:
  marketadmin list categories
  marketadmin list banners --cached --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Cached {
				return withLocal(opts.RootOptions, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
					return listCached(ctx, a, f, args[0])
				})
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				snap, err := a.mgr.Load(ctx, args[0])
				if err != nil {
					return err
				}
				return f.Success(newCollectionView(snap))
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Cached, "cached", false, "show the stored snapshot without fetching")

	return cmd
}

func listCached(ctx context.Context, a *app, f *OutputFormatter, scope string) error {
	if _, ok := a.cfg.Scope(scope); !ok {
		return apperr.Validation(apperr.CodeUnknownScope,
			"unknown scope %q (known: %s)", scope, strings.Join(a.cfg.ScopeNames(), ", "))
	}
	snap, err := a.store.Snapshot(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitFailure, fmt.Sprintf("no cached snapshot for %s; run list without --cached", scope))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	view := newCollectionView(snap)
	view.Cached = true
	return f.Success(view)
}

// NewMoveCommand creates the move command.
func NewMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <scope> <id> <up|down>",
		Short: "Swap a member with its neighbour",
		Long: `Swap a member with the neighbour above or below it and submit the whole
re-indexed collection in one batch request.

Moving the first member up or the last member down changes nothing.

Example:
  marketadmin move categories 3f2a up`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				dir, err := ordering.ParseDirection(args[2])
				if err != nil {
					return err
				}
				move := a.mgr.MoveUp
				if dir == ordering.Down {
					move = a.mgr.MoveDown
				}
				res, err := move(ctx, args[0], args[1])
				return reportAction(f, "move "+string(dir), res, err)
			})
		},
	}
}

// NewPlaceCommand creates the place command.
func NewPlaceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "place <scope> <id> <index>",
		Short: "Move a member to a position",
		Long: `Move a member to a zero-based position in display order, shifting the
members in between, and submit the re-indexed collection.

Example:
  marketadmin place featured p-42 0`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				index, err := strconv.Atoi(args[2])
				if err != nil {
					return apperr.Validation(apperr.CodeInvalidIndex, "index %q is not a number", args[2])
				}
				res, err := a.mgr.MoveTo(ctx, args[0], args[1], index)
				return reportAction(f, "place", res, err)
			})
		},
	}
}

// NewReorderCommand creates the reorder command.
func NewReorderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <scope> <id>...",
		Short: "Submit an explicit full sequence",
		Long: `Submit a complete new sequence for a collection. Every member id must be
listed exactly once.

Example:
  marketadmin reorder banners b3 b1 b2 b4`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.mgr.Reorder(ctx, args[0], args[1:])
				return reportAction(f, "reorder", res, err)
			})
		},
	}
}

// NewResequenceCommand creates the resequence command.
func NewResequenceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "resequence <scope>",
		Short:         "Close gaps and duplicates in the order values",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.mgr.Resequence(ctx, args[0])
				return reportAction(f, "resequence", res, err)
			})
		},
	}
}
