package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

const greeting = "Hello World!"

func newTutorialCmd(a *app) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "tutorial",
		Short: "Walk through every storage operation",
		Long: `Runs the classic blob storage walkthrough against the configured container:
create it, make blobs publicly readable, upload a block blob (UploadPath, or a greeting),
list flat and by directory, download to memory and to DownloadPath, read back the journal
and delete the uploaded blobs again.`,
		Example: "  cloudblob tutorial --connection-string memory://",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTutorial(cmd.Context(), cmd.OutOrStdout(), keep)
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the uploaded blobs")
	return cmd
}

func (a *app) runTutorial(ctx context.Context, out io.Writer, keep bool) error {
	cfg := a.cfg
	container := cfg.Container

	handle, err := retryValue(ctx, a, func(ctx context.Context) (storage.ContainerHandle, error) {
		return a.store.EnsureContainer(ctx, container)
	})
	a.record(ctx, "mb", container, "", 0, err)
	if err != nil {
		return err
	}
	if handle.Created {
		fmt.Fprintf(out, "Container %s created\n", container)
	} else {
		fmt.Fprintf(out, "Container %s already exists\n", container)
	}

	err = a.retry(ctx, func(ctx context.Context) error {
		return a.store.SetAccessLevel(ctx, container, cfg.AccessLevel)
	})
	a.record(ctx, "access", container, "", 0, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Access level set to %s\n", cfg.AccessLevel)

	names := []string{cfg.BlockBlobName, "samples/" + cfg.BlockBlobName}
	for _, name := range names {
		md, err := retryValue(ctx, a, func(ctx context.Context) (storage.BlobMetadata, error) {
			if cfg.UploadPath != "" {
				return a.store.UploadFile(ctx, container, name, cfg.UploadPath)
			}
			return a.store.UploadBlock(ctx, container, name, strings.NewReader(greeting))
		})
		a.record(ctx, "put", container, name, md.Size, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Uploaded %s (%s)\n", name, humanize.IBytes(md.Size))
	}

	for _, hierarchical := range []bool{false, true} {
		if hierarchical {
			fmt.Fprintln(out, "\nHierarchical listing:")
		} else {
			fmt.Fprintln(out, "\nFlat listing:")
		}
		for md, err := range a.store.ListBlobs(ctx, container, "", hierarchical) {
			if err != nil {
				return err
			}
			switch md.Kind {
			case storage.KindDirectory:
				fmt.Fprintf(out, "  Directory: %s\n", md.Name)
			case storage.KindAppend:
				fmt.Fprintf(out, "  Append blob of length %d: %s\n", md.Size, md.Name)
			default:
				fmt.Fprintf(out, "  Block blob of length %d: %s\n", md.Size, md.Name)
			}
		}
	}

	var buf bytes.Buffer
	if err := a.retry(ctx, func(ctx context.Context) error {
		_, err := a.store.DownloadBlob(ctx, container, cfg.BlockBlobName, storage.NewBufferSink(&buf))
		return err
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nDownloaded %s to memory: %q\n", cfg.BlockBlobName, buf.String())

	if cfg.DownloadPath != "" {
		md, err := retryValue(ctx, a, func(ctx context.Context) (storage.BlobMetadata, error) {
			return a.store.DownloadFile(ctx, container, cfg.BlockBlobName, cfg.DownloadPath)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Downloaded %s to %s (%s)\n", cfg.BlockBlobName, cfg.DownloadPath, humanize.IBytes(md.Size))
	}

	if !a.noJournal {
		events, err := a.journal.Tail(ctx, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nJournal %s/%s:\n", a.store.LogContainer(), a.journal.Blob())
		for _, e := range events {
			target := e.Container
			if e.Blob != "" {
				target += "/" + e.Blob
			}
			fmt.Fprintf(out, "  %s %s\n", e.Op, target)
		}
	}

	if keep {
		return nil
	}
	fmt.Fprintln(out)
	for _, name := range names {
		err := a.retry(ctx, func(ctx context.Context) error {
			return a.store.DeleteBlob(ctx, container, name)
		})
		a.record(ctx, "rm", container, name, 0, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %s\n", name)
	}
	return nil
}
