package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(titleStyle.Render("cloudblob") + " " + pathStyle.Render(m.container+"/"+m.prefix) + "\n\n")

	switch {
	case m.err != nil:
		s.WriteString(danger.Render("Error: "+m.err.Error()) + "\n")
	case m.loading:
		s.WriteString(fmt.Sprintf("   %s Listing...\n", m.spinner.View()))
	case len(m.entries) == 0:
		s.WriteString(dimStyle.Render("   (empty)") + "\n")
	default:
		s.WriteString(m.viewList())
	}

	if m.showDetails {
		if md, ok := m.Selected(); ok {
			s.WriteString("\n" + m.viewDetails(md) + "\n")
		}
	}

	s.WriteString("\n" + dimStyle.Render("↑/↓ move • enter open • ← back • r reload • q quit"))
	return s.String()
}

func (m Model) viewList() string {
	s := strings.Builder{}
	s.WriteString(dimStyle.Render(fmt.Sprintf("  %-9s %10s  %s", "KIND", "SIZE", "NAME")) + "\n")

	start, end := m.calculateWindow(len(m.entries))
	for i := start; i < end; i++ {
		md := m.entries[i]
		name := strings.TrimPrefix(md.Name, m.prefix)

		size := "-"
		if !md.IsDirectory() {
			size = humanize.IBytes(md.Size)
		}
		line := fmt.Sprintf("%-9s %10s  %s", md.Kind, size, name)
		if md.IsDirectory() {
			line = dirStyle.Render(line)
		}

		if i == m.cursor {
			s.WriteString(listSelectedStyle.Render("> "+line) + "\n")
		} else {
			s.WriteString(listNormalStyle.Render("  "+line) + "\n")
		}
	}
	if end < len(m.entries) {
		s.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more", len(m.entries)-end)) + "\n")
	}
	return s.String()
}

func (m Model) viewDetails(md storage.BlobMetadata) string {
	modified := "unknown"
	if !md.LastModified.IsZero() {
		modified = fmt.Sprintf("%s (%s)", md.LastModified.Format("2006-01-02 15:04:05"), humanize.Time(md.LastModified))
	}
	return detailsBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(md.Name),
		fmt.Sprintf("Kind:     %s", md.Kind),
		fmt.Sprintf("Size:     %s (%d bytes)", humanize.IBytes(md.Size), md.Size),
		fmt.Sprintf("Modified: %s", modified),
	))
}

// calculateWindow keeps the cursor roughly centred in the visible rows.
func (m Model) calculateWindow(total int) (int, int) {
	windowSize := m.height - 8 // header + footer
	if windowSize < 5 {
		windowSize = 5
	}

	start := max(m.cursor-windowSize/2, 0)
	end := start + windowSize
	if end > total {
		end = total
		start = max(end-windowSize, 0)
	}
	return start, end
}
