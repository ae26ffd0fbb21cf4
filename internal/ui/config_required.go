package ui

import (
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/supachat/internal/config"
)

// ConfigRequiredModel is shown instead of the app when the configuration
// is incomplete. It makes no platform calls.
type ConfigRequiredModel struct {
	err   error
	width int
}

func NewConfigRequiredModel(err error) ConfigRequiredModel {
	return ConfigRequiredModel{err: err}
}

func (m ConfigRequiredModel) Init() tea.Cmd {
	return nil
}

func (m ConfigRequiredModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c", "enter":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m ConfigRequiredModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("⚙️  Configuration Required") + "\n\n")
	b.WriteString(normalStyle.Render("Your Supabase credentials are missing. supachat needs a project URL and anon key to connect.") + "\n\n")

	var cfgErr *config.Error
	if errors.As(m.err, &cfgErr) {
		for _, key := range cfgErr.Missing {
			b.WriteString(errorStyle.Render("  missing: "+key) + "\n")
		}
		for _, problem := range cfgErr.Invalid {
			b.WriteString(errorStyle.Render("  invalid: "+problem) + "\n")
		}
		b.WriteString("\n")
	} else if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n\n")
	}

	var steps strings.Builder
	steps.WriteString("Set them in a .env.local file in this directory:\n\n")
	steps.WriteString("  SUPABASE_URL=https://your-project.supabase.co\n")
	steps.WriteString("  SUPABASE_ANON_KEY=your-anon-key\n\n")
	steps.WriteString("or in the config file")
	if cfgErr != nil && cfgErr.Path != "" {
		steps.WriteString(" " + cfgErr.Path)
	}
	steps.WriteString(":\n\n")
	steps.WriteString("  supabase_url: https://your-project.supabase.co\n")
	steps.WriteString("  supabase_anon_key: your-anon-key\n\n")
	steps.WriteString("To run without a hosted project, set backend: local and local.jwt_secret.")
	b.WriteString(boxStyle.Render(steps.String()) + "\n\n")

	b.WriteString(helpStyle.Render("Restart supachat after updating the configuration • q: quit"))

	return b.String()
}
