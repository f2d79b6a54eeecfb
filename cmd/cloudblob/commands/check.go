package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/cloudblob/pkg/logging"
	"github.com/DrSkyle/cloudblob/pkg/storage"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify credentials and connectivity",
		Long: `Confirms the configured credentials where the backend supports it, then reads one
listing page from the configured container and the log container.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Connection: %s\n", logging.RedactConnectionString(a.cfg.ConnectionString))
			if v, ok := a.store.Backend().(storage.IdentityVerifier); ok {
				id, err := v.VerifyIdentity(ctx)
				if err != nil {
					return fmt.Errorf("credential check failed: %w", err)
				}
				fmt.Fprintf(out, "Identity: %s\n", id)
			}

			for _, name := range []string{a.cfg.Container, a.cfg.LogContainer} {
				seg, err := a.store.ListPage(ctx, name, storage.SegmentRequest{MaxResults: 1})
				switch {
				case errors.Is(err, storage.ErrNotFound):
					fmt.Fprintf(out, "Container %s: not created yet\n", name)
				case err != nil:
					return err
				case len(seg.Entries) == 0:
					fmt.Fprintf(out, "Container %s: reachable, empty\n", name)
				default:
					fmt.Fprintf(out, "Container %s: reachable\n", name)
				}
			}
			return nil
		},
	}
}
