// Package tui implements the interactive container browser behind "cloudblob browse".
package tui

import (
	"context"
	"iter"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

// Lister is the part of *storage.Store the browser reads from.
type Lister interface {
	ListBlobs(ctx context.Context, container, prefix string, hierarchical bool) iter.Seq2[storage.BlobMetadata, error]
}

// Model walks one container level by level using hierarchical listings.
type Model struct {
	spinner spinner.Model

	ctx       context.Context
	lister    Lister
	container string
	root      string

	// state
	prefix      string
	entries     []storage.BlobMetadata
	loading     bool
	err         error
	quitting    bool
	showDetails bool
	width       int
	height      int

	// navigation
	cursor  int
	history []int // cursor of each parent level
	restore int
}

// listedMsg carries the result of listing one prefix.
type listedMsg struct {
	prefix  string
	entries []storage.BlobMetadata
	err     error
}

// NewModel starts a browser on container at prefix.
func NewModel(ctx context.Context, lister Lister, container, prefix string) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = special

	return Model{
		spinner:   s,
		ctx:       ctx,
		lister:    lister,
		container: container,
		root:      prefix,
		prefix:    prefix,
		loading:   true,
	}
}

// Err returns the error of the most recent listing, if it failed.
func (m Model) Err() error { return m.err }

// Prefix returns the level currently shown.
func (m Model) Prefix() string { return m.prefix }

// Selected returns the entry under the cursor.
func (m Model) Selected() (storage.BlobMetadata, bool) {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return storage.BlobMetadata{}, false
	}
	return m.entries[m.cursor], true
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load())
}

// load lists the current prefix in the background. The listing is drained
// fully so the view never shows a half-listed level.
func (m Model) load() tea.Cmd {
	ctx, lister, container, prefix := m.ctx, m.lister, m.container, m.prefix
	return func() tea.Msg {
		var entries []storage.BlobMetadata
		for md, err := range lister.ListBlobs(ctx, container, prefix, true) {
			if err != nil {
				return listedMsg{prefix: prefix, err: err}
			}
			entries = append(entries, md)
		}
		return listedMsg{prefix: prefix, entries: entries}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case listedMsg:
		// Stale result from a level we already left.
		if msg.prefix != m.prefix {
			return m, nil
		}
		m.loading = false
		m.entries, m.err = msg.entries, msg.err
		m.cursor = min(m.restore, max(len(m.entries)-1, 0))
		m.restore = 0
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(len(m.entries)-1, 0)
	case "esc":
		m.showDetails = false
	case "r":
		return m.open(m.prefix, m.cursor)
	case "enter", "right", "l":
		md, ok := m.Selected()
		if !ok || m.loading {
			return m, nil
		}
		if md.IsDirectory() {
			m.history = append(m.history, m.cursor)
			m.showDetails = false
			return m.open(md.Name, 0)
		}
		m.showDetails = !m.showDetails
	case "backspace", "left", "h":
		if m.showDetails {
			m.showDetails = false
			return m, nil
		}
		if m.prefix == m.root || m.loading {
			return m, nil
		}
		restore := 0
		if n := len(m.history); n > 0 {
			restore = m.history[n-1]
			m.history = m.history[:n-1]
		}
		return m.open(m.parent(), restore)
	}
	return m, nil
}

// open switches to prefix and starts listing it.
func (m Model) open(prefix string, restore int) (tea.Model, tea.Cmd) {
	m.prefix = prefix
	m.entries = nil
	m.err = nil
	m.cursor = 0
	m.restore = restore
	m.loading = true
	return m, tea.Batch(m.spinner.Tick, m.load())
}

func (m Model) parent() string {
	trimmed := strings.TrimSuffix(m.prefix, storage.Delimiter)
	parent := trimmed[:strings.LastIndex(trimmed, storage.Delimiter)+1]
	if len(parent) < len(m.root) {
		return m.root
	}
	return parent
}
