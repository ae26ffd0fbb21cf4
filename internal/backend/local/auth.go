package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/backend/sqlstore"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

// MinPasswordLength matches the hosted platform's default policy.
const MinPasswordLength = 6

// Auth keeps accounts in the local database and sessions in a
// backend.SessionStore.
type Auth struct {
	backend.AuthListeners

	db       *sql.DB
	tokens   *tokenIssuer
	sessions backend.SessionStore
	clock    clock.Clock
	logger   *slog.Logger
}

func newAuth(db *sql.DB, secret string, sessions backend.SessionStore, c clock.Clock, logger *slog.Logger) *Auth {
	return &Auth{
		db:       db,
		tokens:   &tokenIssuer{secretKey: []byte(secret), clock: c},
		sessions: sessions,
		clock:    c,
		logger:   logger,
	}
}

func (a *Auth) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &backend.APIError{StatusCode: http.StatusBadRequest, Code: backend.CodeValidation, Message: "invalid email address"}
	}
	if len(password) < MinPasswordLength {
		return nil, &backend.APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Code:       backend.CodeWeakPassword,
			Message:    fmt.Sprintf("password should be at least %d characters", MinPasswordLength),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{ID: uuid.NewString(), Email: email}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, string(hash), a.clock.Now().UTC())
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return nil, &backend.APIError{StatusCode: http.StatusUnprocessableEntity, Code: backend.CodeUserExists, Message: "user already registered"}
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	a.logger.Info("account created", "user_id", user.ID)
	return a.startSession(user)
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	var hash string
	err := a.db.QueryRowContext(ctx, `SELECT id, email, password_hash FROM accounts WHERE email = $1`, email).
		Scan(&user.ID, &user.Email, &hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, &backend.APIError{StatusCode: http.StatusBadRequest, Code: backend.CodeInvalidCredentials, Message: "invalid login credentials"}
	}

	return a.startSession(user)
}

func (a *Auth) SignOut(ctx context.Context) error {
	if err := a.sessions.Clear(); err != nil {
		return err
	}
	a.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return nil
}

// CurrentSession restores the stored session, reissuing the access token
// from the refresh token once it has expired.
func (a *Auth) CurrentSession(ctx context.Context) (*models.Session, error) {
	session, err := a.sessions.Load()
	if err != nil {
		return nil, err
	}

	if _, err := a.tokens.validate(session.AccessToken, kindAccess); err == nil {
		return session, nil
	} else if !errors.Is(err, ErrExpiredToken) {
		a.logger.Warn("discarding invalid stored session", "error", err)
		_ = a.sessions.Clear()
		return nil, backend.ErrNoSession
	}

	claims, err := a.tokens.validate(session.RefreshToken, kindRefresh)
	if err != nil {
		a.logger.Info("stored session expired", "error", err)
		_ = a.sessions.Clear()
		return nil, backend.ErrNoSession
	}

	refreshed, err := a.newSession(models.User{ID: claims.Subject, Email: claims.Email})
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Save(refreshed); err != nil {
		return nil, err
	}
	a.Emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// CurrentUserID is the sqlstore.CurrentUserFunc for this platform.
func (a *Auth) CurrentUserID(ctx context.Context) (string, error) {
	session, err := a.CurrentSession(ctx)
	if err != nil {
		return "", err
	}
	return session.User.ID, nil
}

func (a *Auth) startSession(user models.User) (*models.Session, error) {
	session, err := a.newSession(user)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Save(session); err != nil {
		return nil, err
	}
	a.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: session})
	return session, nil
}

func (a *Auth) newSession(user models.User) (*models.Session, error) {
	access, expires, err := a.tokens.issue(user.ID, user.Email, kindAccess, accessValidity)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, _, err := a.tokens.issue(user.ID, user.Email, kindRefresh, refreshValidity)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expires,
		User:         user,
	}, nil
}
