package commands

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/cloudblob/pkg/tui"
)

func newBrowseCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "browse [container]",
		Short: "Explore a container interactively",
		Long: `Opens a terminal browser over one container. Directories open with enter and
close with backspace; enter on a blob shows its metadata.`,
		Example: "  cloudblob browse photos --prefix docs/",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := a.cfg.Container
			if len(args) == 1 {
				container = args[0]
			}
			m := tui.NewModel(cmd.Context(), a.store, container, prefix)
			p := tea.NewProgram(m,
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
				tea.WithAltScreen(),
			)
			final, err := p.Run()
			if err != nil {
				return err
			}
			if fm, ok := final.(tui.Model); ok {
				return fm.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Directory to start in")
	return cmd
}
