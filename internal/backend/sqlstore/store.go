// Package sqlstore implements backend.Store over database/sql for the
// local platform, on either SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

// CurrentUserFunc returns the id of the signed-in user.
type CurrentUserFunc func(ctx context.Context) (string, error)

type Store struct {
	db          *sql.DB
	dialect     Dialect
	clock       clock.Clock
	currentUser CurrentUserFunc
	onInsert    func(models.Message)
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created_at values.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithInsertHook registers fn to run after every committed message insert.
func WithInsertHook(fn func(models.Message)) Option {
	return func(s *Store) { s.onInsert = fn }
}

func New(db *sql.DB, dialect Dialect, currentUser CurrentUserFunc, opts ...Option) *Store {
	s := &Store{
		db:          db,
		dialect:     dialect,
		clock:       clock.Real(),
		currentUser: currentUser,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ListThreads(ctx context.Context) ([]models.Thread, error) {
	uid, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT
			t.id,
			CASE WHEN t.user1 = $1 THEN t.user2 ELSE t.user1 END,
			COALESCE(p.full_name, ''),
			COALESCE(p.avatar_url, ''),
			m.id,
			m.sender_id,
			m.content,
			m.created_at
		FROM threads t
		LEFT JOIN profiles p ON p.id = CASE WHEN t.user1 = $1 THEN t.user2 ELSE t.user1 END
		LEFT JOIN messages m ON m.id = (
			SELECT lm.id FROM messages lm
			WHERE lm.thread_id = t.id
			ORDER BY lm.created_at DESC, lm.id DESC
			LIMIT 1
		)
		WHERE t.user1 = $1 OR t.user2 = $1
		ORDER BY COALESCE(m.created_at, t.created_at) DESC, t.id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		var (
			thread    models.Thread
			msgID     sql.NullInt64
			senderID  sql.NullString
			content   sql.NullString
			createdAt sql.NullTime
		)
		err := rows.Scan(&thread.ID, &thread.OtherUser.ID, &thread.OtherUser.FullName, &thread.OtherUser.AvatarURL,
			&msgID, &senderID, &content, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}

		if msgID.Valid {
			thread.LastMessage = &models.Message{
				ID:        msgID.Int64,
				ThreadID:  thread.ID,
				SenderID:  senderID.String,
				Content:   content.String,
				CreatedAt: createdAt.Time,
			}
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read threads: %w", err)
	}

	return threads, nil
}

func (s *Store) Messages(ctx context.Context, threadID int64) ([]models.Message, error) {
	query := `
		SELECT id, thread_id, sender_id, content, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return messages, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg backend.NewMessage) (*models.Message, error) {
	uid, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != uid {
		return nil, &backend.APIError{StatusCode: http.StatusForbidden, Message: "sender does not match the signed-in user"}
	}

	created := &models.Message{
		ThreadID:  msg.ThreadID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: s.clock.Now().UTC(),
	}

	query := `
		INSERT INTO messages (thread_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query, created.ThreadID, created.SenderID, created.Content, created.CreatedAt).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if s.onInsert != nil {
		s.onInsert(*created)
	}
	return created, nil
}

func (s *Store) SearchProfiles(ctx context.Context, term, excludeID string, limit int) ([]models.Profile, error) {
	query := `
		SELECT id, full_name, avatar_url
		FROM profiles
		WHERE full_name ` + s.dialect.LikeOp + ` $1 ESCAPE '\'
			AND id <> $2
		ORDER BY full_name
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, "%"+escapeLike(term)+"%", excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.FullName, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	return profiles, nil
}

func (s *Store) Profile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx, `SELECT id, full_name, avatar_url FROM profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.FullName, &p.AvatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &p, nil
}

func (s *Store) InsertProfile(ctx context.Context, profile models.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, full_name, avatar_url) VALUES ($1, $2, $3)`,
		profile.ID, profile.FullName, profile.AvatarURL)
	if err != nil {
		if IsUniqueViolation(err) {
			return backend.ErrConflict
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func (s *Store) FindThread(ctx context.Context, userA, userB string) (int64, error) {
	query := `
		SELECT id FROM threads
		WHERE (user1 = $1 AND user2 = $2) OR (user1 = $2 AND user2 = $1)
		LIMIT 1
	`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, userA, userB).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, backend.ErrNotFound
		}
		return 0, fmt.Errorf("failed to find thread: %w", err)
	}
	return id, nil
}

// CreateThread relies on threads_pair_idx: a second insert for the same
// unordered pair does nothing and reports ErrConflict.
func (s *Store) CreateThread(ctx context.Context, user1, user2 string) (int64, error) {
	query := `
		INSERT INTO threads (user1, user2, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query, user1, user2, s.clock.Now().UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || IsUniqueViolation(err) {
			return 0, backend.ErrConflict
		}
		return 0, fmt.Errorf("failed to create thread: %w", err)
	}
	return id, nil
}
