// Package dapps inspects and repairs rows of the dapp table.
package dapps

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/cmdutil"
	dappsrepo "github.com/zenGate-Global/dappbot-ops/domains/dapps/be/repo"
	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/service"
	"github.com/zenGate-Global/dappbot-ops/platform/go/persistence"
	"github.com/zenGate-Global/dappbot-ops/platform/go/setups"
)

// Command groups dapp table helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dapps",
		Short: "Inspect the dapp table and lapsed-user ledger",
	}
	cmd.AddCommand(listCommand(), getCommand(), setStateCommand(), lapsedCommand())
	return cmd
}

func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	rt, err := cmdutil.Load(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()
	ctx := rt.Context(cmd.Context())

	pool, err := setups.OpenPool(ctx, rt.Config)
	if err != nil {
		return err
	}
	defer persistence.ClosePool(pool)

	dapps, err := persistence.NewDappStore(pool, rt.Config.DappTable)
	if err != nil {
		return err
	}
	lapsed, err := persistence.NewLapsedUserStore(pool, rt.Config.LapsedUsersTable)
	if err != nil {
		return err
	}
	svc := service.New(dappsrepo.NewPostgresRepository(dapps, lapsed), rt.Executor(), rt.Config.GracePeriod(), rt.Logger)
	return fn(ctx, svc)
}

func listCommand() *cobra.Command {
	var owner string
	c := &cobra.Command{
		Use:   "list",
		Short: "List an owner's dapps with their last update times",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				times, err := svc.DappUpdateTimesByOwner(ctx, owner)
				if err != nil {
					return err
				}
				return cmdutil.PrintJSON(cmd.OutOrStdout(), times)
			})
		},
	}
	c.Flags().StringVar(&owner, "owner", "", "Owner email")
	_ = c.MarkFlagRequired("owner")
	return c
}

func getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <dapp-name>",
		Short: "Show one dapp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				d, err := svc.GetDapp(ctx, args[0])
				if err != nil {
					return err
				}
				return cmdutil.PrintJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}

func setStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <dapp-name> <AVAILABLE|FAILED>",
		Short: "Force a dapp's state after a manual repair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				switch args[1] {
				case string(service.StateAvailable):
					return svc.SetDappAvailable(ctx, args[0])
				case string(service.StateFailed):
					return svc.SetDappFailed(ctx, args[0])
				default:
					return fmt.Errorf("unsupported state %q", args[1])
				}
			})
		},
	}
}

func lapsedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lapsed",
		Short: "List the lapsed-user ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				users, err := svc.ScanLapsedUsers(ctx)
				if err != nil {
					return err
				}
				return cmdutil.PrintJSON(cmd.OutOrStdout(), users)
			})
		},
	}
}
