package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/supachat/internal/chat"
)

type attachmentSentMsg struct {
	err error
}

// AttachmentFormModel asks for a local image path and sends it into the
// conversation it was opened from. The conversation keeps receiving live
// updates while the form is shown.
type AttachmentFormModel struct {
	back      ConversationModel
	pathInput textinput.Model
	sending   bool
	err       error
}

func NewAttachmentFormModel(back ConversationModel) AttachmentFormModel {
	pathInput := textinput.New()
	pathInput.Placeholder = "~/Pictures/photo.png"
	pathInput.Focus()
	pathInput.CharLimit = 512
	pathInput.Width = 60

	return AttachmentFormModel{
		back:      back,
		pathInput: pathInput,
	}
}

func (m AttachmentFormModel) Init() tea.Cmd {
	return textinput.Blink
}

// Close releases the underlying conversation.
func (m AttachmentFormModel) Close() {
	m.back.Close()
}

func (m AttachmentFormModel) sendCmd(path string) tea.Cmd {
	composer := m.back.composer
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		_, err := composer.SendFile(ctx, path)
		return attachmentSentMsg{err: err}
	}
}

func (m AttachmentFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.pathInput.Width = msg.Width - 20
		back, cmd := m.back.Update(msg)
		m.back = back.(ConversationModel)
		return m, cmd

	case conversationUpdatedMsg, conversationOpenedMsg, spinner.TickMsg:
		back, cmd := m.back.Update(msg)
		if conv, ok := back.(ConversationModel); ok {
			m.back = conv
		}
		return m, cmd

	case attachmentSentMsg:
		m.sending = false
		if msg.err != nil {
			// The path stays in the input for a retry.
			m.err = msg.err
			return m, nil
		}
		m.back.err = nil
		m.back.refresh()
		m.back.viewport.GotoBottom()
		return m.back, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "esc":
			return m.back, nil

		case "enter":
			path := strings.TrimSpace(m.pathInput.Value())
			if path == "" || m.sending {
				return m, nil
			}
			m.sending = true
			m.err = nil
			return m, m.sendCmd(path)
		}
	}

	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m AttachmentFormModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Send an image to %s", m.back.thread.Name)) + "\n\n")
	b.WriteString(focusedStyle.Render("File:") + "\n")
	b.WriteString(m.pathInput.View() + "\n\n")

	if m.sending {
		b.WriteString(statusStyle.Render("Uploading...") + "\n\n")
	}

	if m.err != nil {
		var upErr *chat.UploadError
		if errors.As(m.err, &upErr) {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Upload failed: %v", upErr.Err)) + "\n\n")
		} else {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n")
		}
	}

	b.WriteString(helpStyle.Render("enter: send • esc: cancel"))

	return b.String()
}
