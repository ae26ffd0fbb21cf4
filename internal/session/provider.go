// Package session tracks who is signed in and tells interested screens
// when that changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/models"
)

// AvatarURLPrefix is joined with the user id to form the default avatar.
const AvatarURLPrefix = "https://i.pravatar.cc/150?u="

var (
	ErrNameRequired = errors.New("full name is required")
	// ErrConfirmationPending means the account exists but the platform
	// wants the email confirmed before it issues a session.
	ErrConfirmationPending = errors.New("check your email to confirm the account")
)

// ProfileError reports that sign-up succeeded but the profile row could
// not be created. The account is not rolled back.
type ProfileError struct {
	UserID string
	Err    error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("account %s created but profile failed: %v", e.UserID, e.Err)
}

func (e *ProfileError) Unwrap() error { return e.Err }

// Provider owns the current identity. It is safe for concurrent use.
type Provider struct {
	auth   backend.Auth
	store  backend.Store
	logger *slog.Logger

	mu          sync.Mutex
	user        *models.User
	watchers    map[int]chan *models.User
	nextID      int
	unsubscribe func()
}

func NewProvider(auth backend.Auth, store backend.Store, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		auth:     auth,
		store:    store,
		logger:   logger.With("component", "session"),
		watchers: make(map[int]chan *models.User),
	}
}

// Start restores the platform's current session and follows auth changes
// until Stop.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.unsubscribe == nil {
		p.unsubscribe = p.auth.OnAuthStateChange(p.handleAuthEvent)
	}
	p.mu.Unlock()

	session, err := p.auth.CurrentSession(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrNoSession) {
			p.set(nil)
			return nil
		}
		return fmt.Errorf("failed to restore session: %w", err)
	}
	p.set(&session.User)
	p.logger.Info("session restored", "user_id", session.User.ID)
	return nil
}

// Stop releases the auth subscription and closes every watcher.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	for id, ch := range p.watchers {
		close(ch)
		delete(p.watchers, id)
	}
}

func (p *Provider) handleAuthEvent(event backend.AuthEvent) {
	switch event.Type {
	case backend.EventSignedOut:
		p.set(nil)
	case backend.EventSignedIn, backend.EventTokenRefreshed:
		if event.Session != nil && event.Session.AccessToken != "" {
			p.set(&event.Session.User)
		}
	}
}

// Register creates the account and its profile row.
func (p *Provider) Register(ctx context.Context, fullName, email, password string) (*models.User, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, ErrNameRequired
	}

	session, err := p.auth.SignUp(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	user := session.User
	if user.ID == "" {
		return nil, errors.New("sign up returned no user")
	}

	profile := models.Profile{
		ID:        user.ID,
		FullName:  fullName,
		AvatarURL: AvatarURLPrefix + user.ID,
	}
	var profileErr error
	if err := p.store.InsertProfile(ctx, profile); err != nil {
		p.logger.Error("profile creation failed after sign up", "user_id", user.ID, "error", err)
		profileErr = &ProfileError{UserID: user.ID, Err: err}
	}

	// Without an access token the account waits for email confirmation
	// and nobody is signed in.
	if session.AccessToken == "" {
		if profileErr != nil {
			return &user, errors.Join(ErrConfirmationPending, profileErr)
		}
		return &user, ErrConfirmationPending
	}
	p.set(&user)
	p.logger.Info("registered", "user_id", user.ID)
	if profileErr != nil {
		return &user, profileErr
	}
	return &user, nil
}

func (p *Provider) Login(ctx context.Context, email, password string) (*models.User, error) {
	session, err := p.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	p.set(&session.User)
	p.logger.Info("signed in", "user_id", session.User.ID)
	return &session.User, nil
}

func (p *Provider) Logout(ctx context.Context) error {
	if err := p.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	p.set(nil)
	p.logger.Info("signed out")
	return nil
}

// User returns the signed-in identity, or nil.
func (p *Provider) User() *models.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	copied := *p.user
	return &copied
}

// Watch returns a channel that holds the latest identity (nil when signed
// out), starting with the current one. Older undelivered values are
// replaced. cancel closes the channel.
func (p *Provider) Watch() (<-chan *models.User, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *models.User, 1)
	ch <- copyUser(p.user)
	id := p.nextID
	p.nextID++
	p.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if _, ok := p.watchers[id]; ok {
				close(ch)
				delete(p.watchers, id)
			}
		})
	}
	return ch, cancel
}

func (p *Provider) set(user *models.User) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sameUser(p.user, user) {
		return
	}
	p.user = copyUser(user)

	for _, ch := range p.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- copyUser(user):
		default:
		}
	}
}

func sameUser(a, b *models.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	copied := *u
	return &copied
}
