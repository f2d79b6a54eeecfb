package commands

import (
	"github.com/spf13/cobra"
)

func newJournalCmd(a *app) *cobra.Command {
	var (
		n      int
		format string
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent operations",
		Long: `Every command that changes storage records an event in the journal, an append blob in
the log container. journal prints the most recent events, oldest first.`,
		Example: "  cloudblob journal -n 50 -o yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			events, err := a.journal.Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			return renderEvents(cmd.OutOrStdout(), format, events)
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "Number of events to show, 0 for all")
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}
