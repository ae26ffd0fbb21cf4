package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/supachat/internal/chat"
	"github.com/saravenpi/supachat/internal/models"
)

// searchTickMsg fires SearchDebounce after a keystroke. Only the tick
// carrying the latest sequence number queries.
type searchTickMsg struct {
	seq int
}

type searchResultsMsg struct {
	seq      int
	profiles []models.Profile
	err      error
}

type threadReadyMsg struct {
	peer     models.Profile
	threadID int64
	err      error
}

// NewChatModel searches people by name and opens a thread with
// the chosen one.
type NewChatModel struct {
	deps         *Deps
	user         *models.User
	finder       *chat.Finder
	searchInput  textinput.Model
	spinner      spinner.Model
	seq          int
	searching    bool
	opening      bool
	searched     bool
	results      []models.Profile
	cursor       int
	err          error
	windowWidth  int
	windowHeight int
}

func NewNewChatModel(deps *Deps, user *models.User) NewChatModel {
	searchInput := textinput.New()
	searchInput.Placeholder = "Search by name (at least 3 characters)"
	searchInput.Focus()
	searchInput.CharLimit = 100
	searchInput.Width = 60

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	return NewChatModel{
		deps:        deps,
		user:        user,
		finder:      chat.NewFinder(deps.Store, deps.logger()),
		searchInput: searchInput,
		spinner:     s,
	}
}

func (m NewChatModel) Init() tea.Cmd {
	return textinput.Blink
}

func debounce(seq int) tea.Cmd {
	return tea.Tick(chat.SearchDebounce, func(time.Time) tea.Msg {
		return searchTickMsg{seq: seq}
	})
}

func (m NewChatModel) searchCmd(seq int, term string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		profiles, err := m.finder.Search(ctx, m.user.ID, term)
		return searchResultsMsg{seq: seq, profiles: profiles, err: err}
	}
}

func (m NewChatModel) openCmd(peer models.Profile) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		id, err := m.finder.FindOrCreate(ctx, m.user.ID, peer.ID)
		return threadReadyMsg{peer: peer, threadID: id, err: err}
	}
}

func (m NewChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.searchInput.Width = msg.Width - 20
		return m, nil

	case searchTickMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		term, ok := chat.SearchTerm(m.searchInput.Value())
		if !ok {
			m.results = nil
			m.searched = false
			return m, nil
		}
		m.searching = true
		return m, tea.Batch(m.spinner.Tick, m.searchCmd(msg.seq, term))

	case searchResultsMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.searching = false
		m.searched = true
		m.err = msg.err
		m.results = msg.profiles
		m.cursor = 0
		return m, nil

	case threadReadyMsg:
		m.opening = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		item := chat.ThreadItem{
			ID:        msg.threadID,
			PeerID:    msg.peer.ID,
			Name:      msg.peer.FullName,
			AvatarURL: msg.peer.AvatarURL,
		}
		convModel := NewConversationModel(m.deps, m.user, item)
		return convModel, convModel.Init()

	case spinner.TickMsg:
		if m.searching || m.opening {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "esc":
			convModel := NewConversationsModel(m.deps, m.user)
			return convModel, convModel.Init()

		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "ctrl+n":
			if m.cursor < len(m.results)-1 {
				m.cursor++
			}
			return m, nil

		case "enter":
			if len(m.results) == 0 || m.opening {
				return m, nil
			}
			m.opening = true
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, m.openCmd(m.results[m.cursor]))
		}
	}

	before := m.searchInput.Value()
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	if m.searchInput.Value() == before {
		return m, cmd
	}
	m.seq++
	return m, tea.Batch(cmd, debounce(m.seq))
}

func (m NewChatModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("New Chat") + "\n\n")
	b.WriteString(boxStyle.Render(focusedStyle.Render("Name:") + "\n" + m.searchInput.View()))
	b.WriteString("\n\n")

	switch {
	case m.opening:
		b.WriteString(fmt.Sprintf("  %s Opening conversation...\n", m.spinner.View()))
	case m.searching:
		b.WriteString(fmt.Sprintf("  %s Searching...\n", m.spinner.View()))
	case m.searched && len(m.results) == 0 && m.err == nil:
		b.WriteString(normalStyle.Render("  No one matches that name.") + "\n")
	}

	for i, p := range m.results {
		name := p.FullName
		if name == "" {
			name = "Unknown user"
		}
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> "+name) + "\n")
		} else {
			b.WriteString(normalStyle.Render("  "+name) + "\n")
		}
	}

	if m.err != nil {
		msg := m.err.Error()
		if errors.Is(m.err, chat.ErrSelfConversation) {
			msg = "You can't start a conversation with yourself."
		}
		b.WriteString("\n" + errorStyle.Render("Error: "+msg) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("type to search • ↑↓: choose • enter: open • esc: back"))

	return b.String()
}
