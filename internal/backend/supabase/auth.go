package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/models"
)

// refreshLeeway is how close to expiry an access token gets refreshed.
const refreshLeeway = 60 * time.Second

// Auth talks to GoTrue under /auth/v1.
type Auth struct{ c *Client }

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse covers both the session payload and the bare user GoTrue
// returns from signup when email confirmation is pending.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *Auth) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	var resp tokenResponse
	err := a.c.do(ctx, http.MethodPost, "/auth/v1/signup", requestOptions{
		body: credentials{Email: email, Password: password},
		anon: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	session := a.c.sessionFrom(resp)
	if session.AccessToken == "" {
		a.c.logger.Info("signup pending email confirmation", "user_id", session.User.ID)
		return session, nil
	}
	if err := a.c.setSession(session, backend.EventSignedIn); err != nil {
		return nil, err
	}
	return session, nil
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	var resp tokenResponse
	err := a.c.do(ctx, http.MethodPost, "/auth/v1/token", requestOptions{
		query: url.Values{"grant_type": {"password"}},
		body:  credentials{Email: email, Password: password},
		anon:  true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	session := a.c.sessionFrom(resp)
	if err := a.c.setSession(session, backend.EventSignedIn); err != nil {
		return nil, err
	}
	return session, nil
}

// SignOut revokes the session server side when possible and always
// forgets it locally.
func (a *Auth) SignOut(ctx context.Context) error {
	a.c.mu.Lock()
	session := a.c.session
	a.c.mu.Unlock()

	if session != nil {
		err := a.c.do(ctx, http.MethodPost, "/auth/v1/logout", requestOptions{}, nil)
		if err != nil && !errors.Is(err, backend.ErrNoSession) && !errors.Is(err, backend.ErrNotFound) {
			a.c.logger.Warn("server side sign out failed", "error", err)
		}
	}
	return a.c.setSession(nil, backend.EventSignedOut)
}

func (a *Auth) CurrentSession(ctx context.Context) (*models.Session, error) {
	if _, err := a.c.accessToken(ctx); err != nil {
		return nil, err
	}
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	if a.c.session == nil {
		return nil, backend.ErrNoSession
	}
	copied := *a.c.session
	return &copied, nil
}

func (a *Auth) OnAuthStateChange(fn func(backend.AuthEvent)) func() {
	return a.c.listeners.OnAuthStateChange(fn)
}

// accessToken returns the bearer for user requests: the session's access
// token, refreshed when close to expiry, or the anon key when signed out.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.loadSession()

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return c.anonKey, nil
	}
	if !session.Expired(c.clock.Now(), refreshLeeway) {
		return session.AccessToken, nil
	}

	c.refreshing.Lock()
	defer c.refreshing.Unlock()

	// Another caller may have refreshed while we waited.
	c.mu.Lock()
	session = c.session
	c.mu.Unlock()
	if session == nil {
		return "", backend.ErrNoSession
	}
	if !session.Expired(c.clock.Now(), refreshLeeway) {
		return session.AccessToken, nil
	}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", requestOptions{
		query: url.Values{"grant_type": {"refresh_token"}},
		body:  map[string]string{"refresh_token": session.RefreshToken},
		anon:  true,
	}, &resp)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			c.logger.Info("session refresh rejected", "status", apiErr.StatusCode, "code", apiErr.Code)
			_ = c.setSession(nil, backend.EventSignedOut)
			return "", backend.ErrNoSession
		}
		return "", fmt.Errorf("failed to refresh session: %w", err)
	}

	refreshed := c.sessionFrom(resp)
	if err := c.setSession(refreshed, backend.EventTokenRefreshed); err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// loadSession restores the persisted session once.
func (c *Client) loadSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return
	}
	c.loaded = true

	session, err := c.sessions.Load()
	if err != nil {
		if !errors.Is(err, backend.ErrNoSession) {
			c.logger.Warn("failed to restore session", "error", err)
		}
		return
	}
	c.session = session
}

func (c *Client) setSession(session *models.Session, event backend.AuthEventType) error {
	c.mu.Lock()
	c.session = session
	c.loaded = true
	c.mu.Unlock()

	var err error
	if session == nil {
		err = c.sessions.Clear()
	} else {
		err = c.sessions.Save(session)
	}
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	var published *models.Session
	if session != nil {
		copied := *session
		published = &copied
	}
	c.listeners.Emit(backend.AuthEvent{Type: event, Session: published})
	return nil
}

func (c *Client) sessionFrom(resp tokenResponse) *models.Session {
	session := &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         models.User{ID: resp.ID, Email: resp.Email},
	}
	if resp.User != nil {
		session.User = models.User{ID: resp.User.ID, Email: resp.User.Email}
	}
	session.ExpiresAt = c.tokenExpiry(resp)
	return session
}

// tokenExpiry prefers the exp claim, then expires_at, then expires_in.
func (c *Client) tokenExpiry(resp tokenResponse) time.Time {
	if resp.AccessToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				return exp.Time
			}
		}
	}
	if resp.ExpiresAt > 0 {
		return time.Unix(resp.ExpiresAt, 0)
	}
	if resp.ExpiresIn > 0 {
		return c.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return time.Time{}
}
