package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/marketadmin/internal/manager"
)

// NewActivateCommand creates the activate command.
func NewActivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <scope> <id>",
		Short: "Mark a member active",
		Long: `Mark a member active. In a capped scope such as banners the activation
is refused locally, without any request, once the cap is reached.

Example:
  marketadmin activate banners b5`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.mgr.Activate(ctx, args[0], args[1])
				return reportAction(f, "activate", res, err)
			})
		},
	}
}

// NewDeactivateCommand creates the deactivate command.
func NewDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "deactivate <scope> <id>",
		Short:         "Mark a member inactive",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.mgr.Deactivate(ctx, args[0], args[1])
				return reportAction(f, "deactivate", res, err)
			})
		},
	}
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Name   string
	Active bool
	Order  int
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <scope>",
		Short: "Create a member",
		Long: `Create a member. Without --order it is appended after the current last
member.

Examples:
  marketadmin create categories --name "Garden"
  marketadmin create banners --name "Spring sale" --active`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := manager.CreateInput{Name: opts.Name}
			if cmd.Flags().Changed("active") {
				active := opts.Active
				in.Active = &active
			}
			if cmd.Flags().Changed("order") {
				order := opts.Order
				in.Order = &order
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.mgr.Create(ctx, args[0], in)
				return reportAction(f, "create", res, err)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (required)")
	cmd.Flags().BoolVar(&opts.Active, "active", false, "create the member active")
	cmd.Flags().IntVar(&opts.Order, "order", 0, "explicit order value (default: append)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Name   string
	Active bool
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <scope> <id>",
		Short: "Edit a member's name or active flag",
		Long: `Edit a member. Only the flags given are sent.

Examples:
  marketadmin edit categories c1 --name "Home & Garden"
  marketadmin edit banners b2 --active=false`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in manager.UpdateInput
			if cmd.Flags().Changed("name") {
				name := opts.Name
				in.Name = &name
			}
			if cmd.Flags().Changed("active") {
				active := opts.Active
				in.Active = &active
			}
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.mgr.Update(ctx, args[0], args[1], in)
				return reportAction(f, "edit", res, err)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "new display name")
	cmd.Flags().BoolVar(&opts.Active, "active", false, "new active flag")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <scope> <id>",
		Short:         "Delete a member",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.mgr.Delete(ctx, args[0], args[1])
				return reportAction(f, "delete", res, err)
			})
		},
	}
}
