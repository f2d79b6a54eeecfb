package commands

import (
	"github.com/spf13/cobra"

	"github.com/DrSkyle/cloudblob/pkg/filter"
	"github.com/DrSkyle/cloudblob/pkg/storage"
)

func newLsCmd(a *app) *cobra.Command {
	var (
		recursive bool
		prefix    string
		expr      string
		format    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "ls <container>",
		Short: "List blobs",
		Long: `Lists one level of the container, showing virtual directories as entries ending in "/".
--recursive lists every blob instead. --filter takes a CEL expression over
name, size, kind, last_modified and is_dir.`,
		Example: `  cloudblob ls photos
  cloudblob ls photos --prefix docs/
  cloudblob ls photos --recursive --filter 'size > 1024 && name.endsWith(".png")' -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			f, err := filter.Compile(expr)
			if err != nil {
				return err
			}

			var entries []storage.BlobMetadata
			for md, err := range a.store.ListBlobs(cmd.Context(), args[0], prefix, !recursive) {
				if err != nil {
					return err
				}
				ok, err := f.Match(md)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				entries = append(entries, md)
				if limit > 0 && len(entries) == limit {
					break
				}
			}
			return renderBlobs(cmd.OutOrStdout(), format, entries)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List every blob instead of one level")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list names starting with this prefix")
	cmd.Flags().StringVar(&expr, "filter", "", "CEL expression entries must satisfy")
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "Output format: table, json or yaml")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many entries")
	return cmd
}
