// Package bucket groups the site-bucket maintenance commands.
package bucket

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/cmdutil"
	"github.com/zenGate-Global/dappbot-ops/platform/go/setups"
	"github.com/zenGate-Global/dappbot-ops/platform/go/storage"
)

// Command groups bucket helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Maintain dapp site buckets",
	}
	cmd.AddCommand(
		emptyCommand(),
		deleteCommand(),
		websiteCommand(),
		corsCommand(),
		publicCommand(),
		tagCommand(),
		noCacheCommand(),
	)
	return cmd
}

func withStorage(cmd *cobra.Command, fn func(ctx context.Context, svc *storage.Service) error) error {
	rt, err := cmdutil.Load(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Logger.Sync() }()

	ctx := rt.Context(cmd.Context())
	svc, closeFn, err := setups.NewStorage(ctx, rt.Config, rt.Executor(), rt.Logger)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func emptyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "empty <bucket>",
		Short: "Delete every object in a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, svc *storage.Service) error {
				n, err := svc.EmptyBucket(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d objects from %s\n", n, args[0])
				return err
			})
		},
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bucket>",
		Short: "Empty and delete a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, svc *storage.Service) error {
				return svc.DeleteBucket(ctx, args[0])
			})
		},
	}
}

func websiteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "website <bucket>",
		Short: "Serve index.html as the bucket's main and error page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, svc *storage.Service) error {
				return svc.ConfigureWebsite(ctx, args[0])
			})
		},
	}
}

func corsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cors <bucket> <dns-name>",
		Short: "Allow browser reads from the dapp's domain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, svc *storage.Service) error {
				return svc.EnableCORS(ctx, args[0], args[1])
			})
		},
	}
}

func publicCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "public <bucket>",
		Short: "Grant anonymous read access to a bucket's objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, svc *storage.Service) error {
				return svc.SetPublicRead(ctx, args[0])
			})
		},
	}
}

func tagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <bucket> key=value...",
		Short: "Set labels on a bucket",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseTags(args[1:])
			if err != nil {
				return err
			}
			return withStorage(cmd, func(ctx context.Context, svc *storage.Service) error {
				return svc.TagBucket(ctx, args[0], tags)
			})
		},
	}
}

func noCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "no-cache <bucket> <key>",
		Short: "Mark one object as never cacheable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, svc *storage.Service) error {
				return svc.MakeObjectNoCache(ctx, args[0], args[1])
			})
		},
	}
}

func parseTags(pairs []string) (map[string]string, error) {
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid tag %q (want key=value)", pair)
		}
		tags[strings.TrimSpace(key)] = value
	}
	return tags, nil
}
