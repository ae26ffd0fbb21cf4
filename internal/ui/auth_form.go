package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/models"
	"github.com/saravenpi/supachat/internal/session"
)

type authDoneMsg struct {
	user *models.User
	err  error
}

const (
	fieldName = iota
	fieldEmail
	fieldPassword
)

// AuthFormModel signs in or registers. Registering adds a name field.
type AuthFormModel struct {
	deps         *Deps
	registerMode bool
	inputs       []textinput.Model
	focusIndex   int
	submitting   bool
	notice       string
	err          error
}

func NewAuthFormModel(deps *Deps) AuthFormModel {
	inputs := make([]textinput.Model, 3)

	inputs[fieldName] = textinput.New()
	inputs[fieldName].Placeholder = "Full name"
	inputs[fieldName].CharLimit = 100
	inputs[fieldName].Width = 50

	inputs[fieldEmail] = textinput.New()
	inputs[fieldEmail].Placeholder = "you@example.com"
	inputs[fieldEmail].CharLimit = 254
	inputs[fieldEmail].Width = 50

	inputs[fieldPassword] = textinput.New()
	inputs[fieldPassword].Placeholder = "Password"
	inputs[fieldPassword].CharLimit = 128
	inputs[fieldPassword].Width = 50
	inputs[fieldPassword].EchoMode = textinput.EchoPassword
	inputs[fieldPassword].EchoCharacter = '•'

	m := AuthFormModel{
		deps:       deps,
		inputs:     inputs,
		focusIndex: fieldEmail,
	}
	m.updateFocus()
	return m
}

func (m AuthFormModel) Init() tea.Cmd {
	return textinput.Blink
}

// visibleFields lists the inputs shown in the current mode, in tab order.
func (m AuthFormModel) visibleFields() []int {
	if m.registerMode {
		return []int{fieldName, fieldEmail, fieldPassword}
	}
	return []int{fieldEmail, fieldPassword}
}

func (m AuthFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		for i := range m.inputs {
			m.inputs[i].Width = min(50, msg.Width-10)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "ctrl+t":
			m.registerMode = !m.registerMode
			m.err = nil
			m.notice = ""
			m.focusIndex = m.visibleFields()[0]
			m.updateFocus()
			return m, nil

		case "tab", "shift+tab", "down", "up":
			fields := m.visibleFields()
			pos := 0
			for i, f := range fields {
				if f == m.focusIndex {
					pos = i
				}
			}
			if msg.String() == "up" || msg.String() == "shift+tab" {
				pos = (pos - 1 + len(fields)) % len(fields)
			} else {
				pos = (pos + 1) % len(fields)
			}
			m.focusIndex = fields[pos]
			m.updateFocus()
			return m, nil

		case "enter", "ctrl+s":
			if m.submitting {
				return m, nil
			}
			fields := m.visibleFields()
			if msg.String() == "enter" && m.focusIndex != fields[len(fields)-1] {
				m.focusIndex = fields[len(fields)-1]
				m.updateFocus()
				return m, nil
			}
			m.submitting = true
			m.err = nil
			m.notice = ""
			return m, m.submit()
		}

	case authDoneMsg:
		m.submitting = false
		switch {
		case msg.err == nil:
			menuModel := NewMenuModel(m.deps, msg.user)
			return menuModel, menuModel.Init()
		case errors.Is(msg.err, session.ErrConfirmationPending):
			m.notice = "Check your inbox to confirm your email, then sign in."
			m.registerMode = false
			m.focusIndex = fieldPassword
			m.updateFocus()
		case msg.user != nil && isProfileError(msg.err) && m.deps.Session.User() != nil:
			menuModel := NewMenuModel(m.deps, msg.user)
			updated, cmd := menuModel.Update(msg)
			return updated, tea.Batch(menuModel.Init(), cmd)
		default:
			m.err = msg.err
		}
		return m, nil
	}

	cmd := m.updateInputs(msg)
	return m, cmd
}

func isProfileError(err error) bool {
	var profileErr *session.ProfileError
	return errors.As(err, &profileErr)
}

func (m *AuthFormModel) updateFocus() {
	for i := range m.inputs {
		if i == m.focusIndex {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m *AuthFormModel) updateInputs(msg tea.Msg) tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(m.inputs))
	for i := range m.inputs {
		var cmd tea.Cmd
		m.inputs[i], cmd = m.inputs[i].Update(msg)
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (m AuthFormModel) submit() tea.Cmd {
	name := strings.TrimSpace(m.inputs[fieldName].Value())
	email := strings.TrimSpace(m.inputs[fieldEmail].Value())
	password := m.inputs[fieldPassword].Value()
	register := m.registerMode
	provider := m.deps.Session

	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		if register {
			user, err := provider.Register(ctx, name, email, password)
			return authDoneMsg{user: user, err: err}
		}
		user, err := provider.Login(ctx, email, password)
		return authDoneMsg{user: user, err: err}
	}
}

// friendlyAuthError turns platform auth failures into a sentence.
func friendlyAuthError(err error) string {
	switch {
	case backend.IsAPIError(err, backend.CodeInvalidCredentials):
		return "Invalid email or password."
	case backend.IsAPIError(err, backend.CodeUserExists):
		return "An account with this email already exists."
	case backend.IsAPIError(err, backend.CodeWeakPassword):
		return "Password is too weak. Use at least 6 characters."
	case backend.IsAPIError(err, backend.CodeValidation):
		return "Please enter a valid email address."
	case errors.Is(err, session.ErrNameRequired):
		return "Please enter your full name."
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func (m AuthFormModel) View() string {
	var b strings.Builder

	title := "Sign In"
	if m.registerMode {
		title = "Create Account"
	}
	b.WriteString(titleStyle.Render("supachat • "+title) + "\n\n")

	labels := map[int]string{
		fieldName:     "Full name:",
		fieldEmail:    "Email:",
		fieldPassword: "Password:",
	}
	var form strings.Builder
	for _, f := range m.visibleFields() {
		style := blurredStyle
		if f == m.focusIndex {
			style = focusedStyle
		}
		form.WriteString(style.Render(labels[f]) + "\n")
		form.WriteString(m.inputs[f].View() + "\n\n")
	}
	b.WriteString(boxStyle.Render(strings.TrimRight(form.String(), "\n")) + "\n\n")

	if m.submitting {
		b.WriteString(statusStyle.Render("Please wait...") + "\n\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %s", friendlyAuthError(m.err))) + "\n\n")
	}

	toggle := "ctrl+t: create an account"
	if m.registerMode {
		toggle = "ctrl+t: sign in instead"
	}
	b.WriteString(helpStyle.Render("tab/↑↓: navigate • enter: submit • " + toggle + " • esc: quit"))

	return b.String()
}
