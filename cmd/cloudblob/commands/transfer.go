package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

func newPutCmd(a *app) *cobra.Command {
	var (
		name     string
		prefix   string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "put <container> <file>...",
		Short: "Upload files as block blobs",
		Long: `Uploads each file as a block blob named after the file, replacing any existing blob.
A file of "-" reads standard input and needs --name.`,
		Example: `  cloudblob put photos a.png b.png --prefix 2024/
  echo hello | cloudblob put photos - --name greeting.txt`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, files := args[0], args[1:]
			if name != "" && len(files) > 1 {
				return errors.New("--name needs exactly one file")
			}
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
			}
			if name == "" && slices.Contains(files, "-") {
				return errors.New("reading standard input needs --name")
			}

			results := make([]storage.BlobMetadata, len(files))
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(parallel)
			for i, file := range files {
				blobName := name
				if blobName == "" {
					blobName = prefix + filepath.Base(file)
				}
				g.Go(func() error {
					var (
						md  storage.BlobMetadata
						err error
					)
					if file == "-" {
						md, err = a.store.UploadBlock(ctx, container, blobName, cmd.InOrStdin())
					} else {
						md, err = retryValue(ctx, a, func(ctx context.Context) (storage.BlobMetadata, error) {
							return a.store.UploadFile(ctx, container, blobName, file)
						})
					}
					a.record(ctx, "put", container, blobName, md.Size, err)
					if err != nil {
						return err
					}
					results[i] = md
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for _, md := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s/%s (%s)\n", container, md.Name, humanize.IBytes(md.Size))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Blob name for a single file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix prepended to every blob name")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "Concurrent uploads")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <container> <blob>",
		Short: "Download a blob to a file or standard output",
		Long: `Downloads a blob. With --output the file is replaced atomically, so a failed download
never leaves partial content behind.`,
		Example: "  cloudblob get photos docs/a.md -o a.md",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, name := args[0], args[1]

			if output != "" {
				md, err := retryValue(ctx, a, func(ctx context.Context) (storage.BlobMetadata, error) {
					return a.store.DownloadFile(ctx, container, name, output)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s/%s to %s (%s, modified %s)\n",
					container, name, output, humanize.IBytes(md.Size), ago(md.LastModified))
				return nil
			}

			var buf bytes.Buffer
			err := a.retry(ctx, func(ctx context.Context) error {
				_, err := a.store.DownloadBlob(ctx, container, name, storage.NewBufferSink(&buf))
				return err
			})
			if err != nil {
				return err
			}
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of standard output")
	return cmd
}

func newAppendCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "append <blob> [text]...",
		Short: "Append one entry to an append blob",
		Long: `Appends the text as a single entry, followed by a newline, to an append blob in the log
container. The blob is created on first use. Without text the entry is read from standard input.`,
		Example: `  cloudblob append app.log "service started"
  date | cloudblob append app.log`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			var entry []byte
			if len(args) > 1 {
				entry = []byte(strings.Join(args[1:], " ") + "\n")
			} else {
				var buf bytes.Buffer
				if _, err := buf.ReadFrom(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read entry: %w", err)
				}
				entry = buf.Bytes()
			}

			if target == "" {
				target = a.store.LogContainer()
			}
			// Appends are never retried.
			md, err := a.store.AppendEntryTo(ctx, target, name, entry)
			if errors.Is(err, storage.ErrNotFound) && target == a.store.LogContainer() {
				if _, err = a.store.EnsureContainer(ctx, target); err == nil {
					md, err = a.store.AppendEntryTo(ctx, target, name, entry)
				}
			}
			a.record(ctx, "append", target, name, uint64(len(entry)), err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Appended %d bytes to %s/%s\n", len(entry), target, md.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "Container of the append blob (default: log container)")
	return cmd
}
