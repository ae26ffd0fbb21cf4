package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/saravenpi/supachat/internal/chat"
	"github.com/saravenpi/supachat/internal/models"
)

type conversationOpenedMsg struct {
	conv *chat.Conversation
	err  error
}

type conversationUpdatedMsg struct {
	conv   *chat.Conversation
	closed bool
}

type messageSentMsg struct {
	err error
}

// waitForUpdate blocks on the conversation's update channel. Each delivered
// message re-arms it until the channel closes.
func waitForUpdate(conv *chat.Conversation) tea.Cmd {
	updates := conv.Updates()
	return func() tea.Msg {
		_, ok := <-updates
		return conversationUpdatedMsg{conv: conv, closed: !ok}
	}
}

// ConversationModel shows one thread with live updates and a composer.
type ConversationModel struct {
	deps         *Deps
	user         *models.User
	thread       chat.ThreadItem
	conv         *chat.Conversation
	composer     *chat.Composer
	snapshot     chat.Snapshot
	viewport     viewport.Model
	textarea     textarea.Model
	loading      bool
	sending      bool
	composing    bool
	err          error
	spinner      spinner.Model
	windowWidth  int
	windowHeight int
}

func NewConversationModel(deps *Deps, user *models.User, thread chat.ThreadItem) ConversationModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	vp := viewport.New(80, 20)

	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.CharLimit = 1000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	conv := chat.NewConversation(chat.ConversationConfig{
		Store:      deps.Store,
		Realtime:   deps.Realtime,
		Self:       user.ID,
		TypingHint: deps.TypingHint,
		Clock:      deps.clock(),
		Logger:     deps.logger(),
	})

	return ConversationModel{
		deps:         deps,
		user:         user,
		thread:       thread,
		conv:         conv,
		composer:     chat.NewComposer(conv, deps.Storage, deps.clock(), deps.logger()),
		viewport:     vp,
		textarea:     ta,
		loading:      true,
		spinner:      s,
		windowWidth:  80,
		windowHeight: 30,
	}
}

func (m ConversationModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.openCmd())
}

func (m ConversationModel) openCmd() tea.Cmd {
	conv, threadID := m.conv, m.thread.ID
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		return conversationOpenedMsg{conv: conv, err: conv.Open(ctx, threadID)}
	}
}

func (m ConversationModel) sendMessageCmd(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		_, err := m.composer.Send(ctx, text)
		return messageSentMsg{err: err}
	}
}

// Close leaves the thread and releases its live feed.
func (m ConversationModel) Close() {
	m.conv.Close()
}

func (m *ConversationModel) layout() {
	headerHeight := 4
	helpHeight := 2
	available := m.windowHeight - headerHeight - helpHeight
	if m.composing {
		available -= m.textarea.Height() + 2
	}
	if available < 3 {
		available = 3
	}
	m.viewport.Width = m.windowWidth - 4
	m.viewport.Height = available
	m.textarea.SetWidth(m.windowWidth - 4)
}

func (m ConversationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.layout()
		m.updateViewportContent()
		return m, nil

	case conversationOpenedMsg:
		if msg.conv != m.conv {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			if errors.Is(msg.err, chat.ErrSuperseded) {
				return m, nil
			}
			m.err = msg.err
			m.refresh()
			return m, nil
		}
		m.err = nil
		m.refresh()
		m.viewport.GotoBottom()
		return m, waitForUpdate(m.conv)

	case conversationUpdatedMsg:
		if msg.conv != m.conv {
			return m, nil
		}
		atBottom := m.viewport.AtBottom()
		m.refresh()
		if atBottom {
			m.viewport.GotoBottom()
		}
		if msg.closed {
			return m, nil
		}
		return m, waitForUpdate(m.conv)

	case messageSentMsg:
		m.sending = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.textarea.Reset()
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case spinner.TickMsg:
		if m.loading || m.sending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "esc" {
			if m.composing {
				m.composing = false
				m.textarea.Blur()
				m.err = nil
				m.layout()
				return m, nil
			}
			m.Close()
			convModel := NewConversationsModel(m.deps, m.user)
			return convModel, convModel.Init()
		}

		if m.composing {
			switch msg.String() {
			case "ctrl+s", "enter":
				text := m.textarea.Value()
				if strings.TrimSpace(text) == "" || m.sending {
					return m, nil
				}
				m.sending = true
				return m, tea.Batch(m.spinner.Tick, m.sendMessageCmd(text))
			case "alt+enter":
				m.textarea.InsertString("\n")
				return m, nil
			default:
				var cmd tea.Cmd
				m.textarea, cmd = m.textarea.Update(msg)
				return m, cmd
			}
		}

		if m.loading {
			return m, nil
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit

		case "n", "c", "i":
			m.composing = true
			m.layout()
			m.textarea.Focus()
			return m, textarea.Blink

		case "a":
			if m.snapshot.State != chat.Live {
				return m, nil
			}
			form := NewAttachmentFormModel(m)
			return form, form.Init()

		case "r":
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.openCmd())

		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *ConversationModel) refresh() {
	m.snapshot = m.conv.Snapshot()
	if m.snapshot.Err != nil && m.err == nil {
		m.err = m.snapshot.Err
	}
	m.updateViewportContent()
}

func (m *ConversationModel) updateViewportContent() {
	wrapWidth := m.viewport.Width
	if wrapWidth <= 0 {
		wrapWidth = 80
	}
	m.viewport.SetContent(renderMessages(m.snapshot.Messages, m.user.ID, m.thread.Name, wrapWidth))
}

func renderMessages(messages []models.Message, self, peerName string, width int) string {
	if len(messages) == 0 {
		return normalStyle.Render("  No messages yet. Say hi!")
	}

	textWidth := width - 10
	if textWidth < 10 {
		textWidth = 10
	}
	right := lipgloss.NewStyle().Align(lipgloss.Right).Width(width)

	var content strings.Builder
	for i, message := range messages {
		if i > 0 {
			content.WriteString("\n")
		}

		timestamp := chat.FormatTime(message.CreatedAt.Local())
		body := message.Content
		bodyStyle := messageFromOtherStyle
		if url, ok := message.ImageURL(); ok {
			body = "📎 " + url
			bodyStyle = attachmentStyle
		}
		wrapped := bodyStyle.Render(wordwrap.String(body, textWidth))

		if message.SenderID == self {
			header := messageHeaderStyle.Render(fmt.Sprintf("You • %s", timestamp))
			content.WriteString(right.Render(header) + "\n")
			if _, ok := message.ImageURL(); !ok {
				wrapped = messageFromMeStyle.Render(wordwrap.String(body, textWidth))
			}
			content.WriteString(right.Render(wrapped) + "\n")
			continue
		}

		header := messageHeaderStyle.Render(fmt.Sprintf("%s • %s", peerName, timestamp))
		content.WriteString(header + "\n")
		content.WriteString(wrapped + "\n")
	}
	return content.String()
}

func (m ConversationModel) header() string {
	s := titleStyle.Render(fmt.Sprintf("💬 %s", m.thread.Name)) + "  "
	if m.snapshot.PeerTyping {
		s += typingStyle.Render("typing...")
	} else {
		s += onlineStyle.Render("● Online")
	}
	return s
}

func (m ConversationModel) View() string {
	if m.loading && len(m.snapshot.Messages) == 0 {
		return fmt.Sprintf("\n  %s Loading messages...\n", m.spinner.View())
	}

	s := m.header() + "\n"

	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}

	s += m.viewport.View() + "\n"

	if m.composing {
		s += "\n" + inputStyle.Render("Message:") + "\n"
		s += m.textarea.View() + "\n"
		if m.sending {
			s += fmt.Sprintf("%s Sending...", m.spinner.View())
		} else {
			s += helpStyle.Render("enter/ctrl+s: send • alt+enter: newline • esc: stop typing")
		}
		return s
	}

	scrollPercent := int(m.viewport.ScrollPercent() * 100)
	s += "\n" + helpStyle.Render(fmt.Sprintf("↑↓/jk: scroll • n: write • a: attach image • r: reload • esc: back • q: quit • %d%%", scrollPercent))
	return s
}
