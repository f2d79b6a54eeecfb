package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

func newMbCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "mb <container>",
		Short:   "Create a container if it does not exist",
		Example: "  cloudblob mb photos",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]
			handle, err := retryValue(ctx, a, func(ctx context.Context) (storage.ContainerHandle, error) {
				return a.store.EnsureContainer(ctx, name)
			})
			a.record(ctx, "mb", name, "", 0, err)
			if err != nil {
				return err
			}
			if handle.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created container %s\n", handle.Name)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Container %s already exists\n", handle.Name)
			}
			return nil
		},
	}
}

func newAccessCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "access <container> <private|blob|container>",
		Short: "Set anonymous read access on a container",
		Long: `Replaces the container's anonymous access level.

  private    no anonymous access
  blob       anyone can read blobs by name
  container  anyone can read and list blobs

Anyone on the Internet can read blobs in a public container. Changing or deleting them
still needs the account credentials.`,
		Example: "  cloudblob access photos blob",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]
			level, err := storage.ParseAccessLevel(args[1])
			if err != nil {
				return err
			}
			err = a.retry(ctx, func(ctx context.Context) error {
				return a.store.SetAccessLevel(ctx, name, level)
			})
			a.record(ctx, "access", name, "", 0, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s access to %s\n", name, level)
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <container> <blob>",
		Short:   "Delete a blob",
		Example: "  cloudblob rm photos docs/a.md",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, name := args[0], args[1]
			err := a.retry(ctx, func(ctx context.Context) error {
				return a.store.DeleteBlob(ctx, container, name)
			})
			a.record(ctx, "rm", container, name, 0, err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", container, name)
			return nil
		},
	}
}
