package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/truncate"
	"github.com/saravenpi/supachat/internal/chat"
	"github.com/saravenpi/supachat/internal/models"
)

const previewWidth = 50

type threadItem struct {
	item chat.ThreadItem
}

type threadsFetchedMsg struct {
	items []chat.ThreadItem
	err   error
}

func (i threadItem) Title() string {
	return i.item.Name
}

func (i threadItem) Description() string {
	preview := truncate.StringWithTail(i.item.Preview, previewWidth, "...")
	if i.item.TimeLabel == "" {
		return preview
	}
	return fmt.Sprintf("%s • %s", i.item.TimeLabel, preview)
}

func (i threadItem) FilterValue() string {
	return i.item.Name
}

type ConversationsModel struct {
	deps         *Deps
	user         *models.User
	threads      *chat.ThreadList
	items        []chat.ThreadItem
	list         list.Model
	loading      bool
	err          error
	spinner      spinner.Model
	windowWidth  int
	windowHeight int
}

func NewConversationsModel(deps *Deps, user *models.User) ConversationsModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	l := list.New([]list.Item{}, newDelegate(), 80, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return ConversationsModel{
		deps:         deps,
		user:         user,
		threads:      chat.NewThreadList(deps.Store, deps.clock(), deps.logger()),
		list:         l,
		loading:      true,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m ConversationsModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchThreadsCmd())
}

func (m ConversationsModel) fetchThreadsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		items, err := m.threads.List(ctx)
		return threadsFetchedMsg{items: items, err: err}
	}
}

func (m ConversationsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case threadsFetchedMsg:
		m.loading = false
		if msg.err != nil {
			// Keep the stale list; r retries.
			m.err = msg.err
			return m, nil
		}
		m.err = nil

		m.items = msg.items
		items := make([]list.Item, len(m.items))
		for i, item := range m.items {
			items[i] = threadItem{item: item}
		}
		m.list.SetItems(items)
		m.list.Title = fmt.Sprintf("Conversations - %d threads", len(m.items))
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "esc":
			menuModel := NewMenuModel(m.deps, m.user)
			return menuModel, menuModel.Init()

		case "n":
			newModel := NewNewChatModel(m.deps, m.user)
			return newModel, newModel.Init()

		case "r":
			if !m.loading {
				m.loading = true
				return m, tea.Batch(m.spinner.Tick, m.fetchThreadsCmd())
			}
			return m, nil

		case "enter":
			if len(m.items) > 0 && !m.loading {
				if item, ok := m.list.SelectedItem().(threadItem); ok {
					convModel := NewConversationModel(m.deps, m.user, item.item)
					return convModel, convModel.Init()
				}
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m ConversationsModel) View() string {
	if m.loading && len(m.items) == 0 {
		return fmt.Sprintf("\n  %s Loading conversations...\n", m.spinner.View())
	}

	if len(m.items) == 0 {
		s := titleStyle.Render("Conversations") + "\n\n"
		if m.err != nil {
			s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n"
		} else {
			s += normalStyle.Render("  No conversations yet. Press n to start one.") + "\n"
		}
		s += "\n" + helpStyle.Render("n: new chat • r: refresh • esc: back • q: quit")
		return s
	}

	s := m.list.View() + "\n"
	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}
	s += helpStyle.Render("↑↓/jk: navigate • enter: open • /: search • n: new chat • r: refresh • esc: back • q: quit")

	return s
}
