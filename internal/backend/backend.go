// Package backend defines the contract between the chat client and the
// platform that owns authentication, rows, realtime inserts and files.
//
// Two implementations live in subpackages: supabase talks to a hosted
// project over HTTPS and websockets, local runs the same contract against
// SQLite or PostgreSQL on this machine.
package backend

import (
	"context"
	"encoding/json"
	"io"

	"github.com/saravenpi/supachat/internal/models"
)

// Relations the client reads and writes.
const (
	RelationProfiles = "profiles"
	RelationThreads  = "threads"
	RelationMessages = "messages"
)

type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is delivered to OnAuthStateChange listeners. Session is nil
// for EventSignedOut.
type AuthEvent struct {
	Type    AuthEventType
	Session *models.Session
}

type Auth interface {
	// SignUp creates an account. The returned session may have an empty
	// access token when the platform requires email confirmation first.
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
	// CurrentSession returns the restored session, or ErrNoSession.
	CurrentSession(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
}

type NewMessage struct {
	ThreadID int64  `json:"thread_id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

type Store interface {
	// ListThreads returns every thread the signed-in user participates in,
	// with the other participant and the latest message denormalised.
	ListThreads(ctx context.Context) ([]models.Thread, error)
	// Messages returns a thread's history ordered by created_at ascending.
	Messages(ctx context.Context, threadID int64) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg NewMessage) (*models.Message, error)
	// SearchProfiles matches full_name case-insensitively as a substring,
	// excluding excludeID.
	SearchProfiles(ctx context.Context, term, excludeID string, limit int) ([]models.Profile, error)
	Profile(ctx context.Context, id string) (*models.Profile, error)
	InsertProfile(ctx context.Context, profile models.Profile) error
	// FindThread looks the pair up in either order. ErrNotFound if absent.
	FindThread(ctx context.Context, userA, userB string) (int64, error)
	// CreateThread inserts (user1, user2). ErrConflict if the unordered
	// pair already has a thread.
	CreateThread(ctx context.Context, user1, user2 string) (int64, error)
}

type Storage interface {
	Upload(ctx context.Context, path, contentType string, body io.Reader) error
	PublicURL(path string) string
}

type EventKind string

const (
	EventInsert EventKind = "INSERT"
)

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  string
}

// String renders the filter in the platform's "column=eq.value" form.
func (f Filter) String() string {
	return f.Column + "=eq." + f.Value
}

type SubscribeRequest struct {
	Relation string
	Event    EventKind
	Filter   Filter
}

type ChangeEvent struct {
	Relation string
	Type     EventKind
	Record   json.RawMessage
}

// Subscription is a live feed of change events. Events is closed once the
// subscription ends, whether by Close or by a transport failure; Err then
// reports why.
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

type Realtime interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error)
}

// Platform bundles the four collaborator surfaces.
type Platform struct {
	Auth     Auth
	Store    Store
	Storage  Storage
	Realtime Realtime

	closer io.Closer
}

func NewPlatform(auth Auth, store Store, storage Storage, realtime Realtime, closer io.Closer) *Platform {
	return &Platform{Auth: auth, Store: store, Storage: storage, Realtime: realtime, closer: closer}
}

func (p *Platform) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
