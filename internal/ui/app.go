package ui

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/chat"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
	"github.com/saravenpi/supachat/internal/session"
)

// requestTimeout bounds every platform call made from a screen.
const requestTimeout = 15 * time.Second

// Deps are the collaborators shared by every screen.
type Deps struct {
	Session    *session.Provider
	Store      backend.Store
	Realtime   backend.Realtime
	Storage    backend.Storage
	TypingHint chat.TypingHint
	Clock      clock.Clock
	Logger     *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) clock() clock.Clock {
	if d.Clock == nil {
		return clock.Real()
	}
	return d.Clock
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

type sessionChangedMsg struct {
	user *models.User
	ok   bool
}

func waitForSession(ch <-chan *models.User) tea.Cmd {
	return func() tea.Msg {
		user, ok := <-ch
		return sessionChangedMsg{user: user, ok: ok}
	}
}

// closer is implemented by screens holding a live resource.
type closer interface {
	Close()
}

// AppModel hosts the current screen and swaps it when the signed-in user
// changes.
type AppModel struct {
	deps      *Deps
	screen    tea.Model
	user      *models.User
	sessions  <-chan *models.User
	stopWatch func()
	width     int
	height    int
}

func NewApp(deps *Deps) AppModel {
	sessions, stop := deps.Session.Watch()
	user := deps.Session.User()

	var screen tea.Model
	if user == nil {
		screen = NewAuthFormModel(deps)
	} else {
		screen = NewMenuModel(deps, user)
	}
	return AppModel{
		deps:      deps,
		screen:    screen,
		user:      user,
		sessions:  sessions,
		stopWatch: stop,
	}
}

func (a AppModel) Init() tea.Cmd {
	return tea.Batch(waitForSession(a.sessions), a.screen.Init())
}

func (a AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case sessionChangedMsg:
		if !msg.ok {
			return a, nil
		}
		cmd := a.sessionChanged(msg.user)
		return a, tea.Batch(cmd, waitForSession(a.sessions))
	}

	prev := a.screen
	next, cmd := a.screen.Update(msg)
	a.screen = next
	resize := a.resizeIfSwapped(prev)
	return a, tea.Batch(cmd, resize)
}

func (a *AppModel) sessionChanged(user *models.User) tea.Cmd {
	signedIn := user != nil
	wasSignedIn := a.user != nil
	a.user = user

	switch {
	case signedIn && !wasSignedIn:
		if _, onMenu := a.screen.(MenuModel); onMenu {
			return nil
		}
		a.deps.logger().Info("signed in", "user_id", user.ID)
		return a.swap(NewMenuModel(a.deps, user))
	case !signedIn && wasSignedIn:
		a.deps.logger().Info("signed out")
		return a.swap(NewAuthFormModel(a.deps))
	}
	return nil
}

func (a *AppModel) swap(next tea.Model) tea.Cmd {
	if c, ok := a.screen.(closer); ok {
		c.Close()
	}
	prev := a.screen
	a.screen = next
	return tea.Batch(next.Init(), a.resizeIfSwapped(prev))
}

// resizeIfSwapped hands the window size to a screen that just replaced prev.
func (a *AppModel) resizeIfSwapped(prev tea.Model) tea.Cmd {
	if a.width == 0 || reflect.TypeOf(prev) == reflect.TypeOf(a.screen) {
		return nil
	}
	next, cmd := a.screen.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
	a.screen = next
	return cmd
}

func (a AppModel) View() string {
	return a.screen.View()
}

// Close stops watching the session and closes any open conversation.
func (a AppModel) Close() {
	if c, ok := a.screen.(closer); ok {
		c.Close()
	}
	if a.stopWatch != nil {
		a.stopWatch()
	}
}
