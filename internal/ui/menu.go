package ui

import (
	"errors"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/saravenpi/supachat/internal/models"
	"github.com/saravenpi/supachat/internal/session"
)

const (
	menuConversations = "💬 Conversations"
	menuNewChat       = "✏️  New Chat"
	menuSignOut       = "🚪 Sign Out"
)

type menuItem struct {
	title string
	desc  string
}

func (i menuItem) FilterValue() string { return i.title }
func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }

type signedOutMsg struct {
	err error
}

type MenuModel struct {
	deps         *Deps
	user         *models.User
	list         list.Model
	notice       string
	err          error
	windowWidth  int
	windowHeight int
}

func NewMenuModel(deps *Deps, user *models.User) MenuModel {
	items := []list.Item{
		menuItem{title: menuConversations, desc: "Your threads, most recent first"},
		menuItem{title: menuNewChat, desc: "Find someone by name"},
		menuItem{title: menuSignOut, desc: "Sign out of " + user.Email},
	}

	l := list.New(items, newDelegate(), 80, 14)
	l.Title = "supachat"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return MenuModel{
		deps:         deps,
		user:         user,
		list:         l,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func newDelegate() list.DefaultDelegate {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))
	return delegate
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) signOutCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		return signedOutMsg{err: m.deps.Session.Logout(ctx)}
	}
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 4)
		return m, nil

	case authDoneMsg:
		// A registration whose profile insert failed still signs in.
		var profileErr *session.ProfileError
		if errors.As(msg.err, &profileErr) {
			m.notice = "Account created, but your profile could not be saved. Others may not find you by name."
		}
		return m, nil

	case signedOutMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

		if msg.String() == "enter" {
			selectedItem, ok := m.list.SelectedItem().(menuItem)
			if !ok {
				return m, nil
			}

			switch selectedItem.title {
			case menuConversations:
				conversationsModel := NewConversationsModel(m.deps, m.user)
				return conversationsModel, conversationsModel.Init()
			case menuNewChat:
				newModel := NewNewChatModel(m.deps, m.user)
				return newModel, newModel.Init()
			case menuSignOut:
				return m, m.signOutCmd()
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m MenuModel) View() string {
	s := m.list.View() + "\n"
	if m.notice != "" {
		s += noticeStyle.Render(m.notice) + "\n"
	}
	if m.err != nil {
		s += errorStyle.Render("Error: "+m.err.Error()) + "\n"
	}
	s += helpStyle.Render("↑↓/jk: navigate • enter: select • q: quit")
	return s
}
