package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/models"
)

const (
	// MinSearchLength is the shortest trimmed term that queries.
	MinSearchLength = 3
	SearchLimit     = 10
	// SearchDebounce is how long typing must pause before a search runs.
	SearchDebounce = 300 * time.Millisecond
)

// Finder looks people up by name and opens a thread with them.
type Finder struct {
	store  backend.Store
	logger *slog.Logger
}

func NewFinder(store backend.Store, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{store: store, logger: logger.With("component", "finder")}
}

// SearchTerm returns the trimmed term and whether it is long enough to query.
func SearchTerm(raw string) (string, bool) {
	term := strings.TrimSpace(raw)
	return term, utf8.RuneCountInString(term) >= MinSearchLength
}

// Search matches full names containing term, case-insensitively,
// excluding self. Short terms return nothing without querying.
func (f *Finder) Search(ctx context.Context, self, term string) ([]models.Profile, error) {
	term, ok := SearchTerm(term)
	if !ok {
		return nil, nil
	}
	profiles, err := f.store.SearchProfiles(ctx, term, self, SearchLimit)
	if err != nil {
		f.logger.Error("profile search failed", "error", err)
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return profiles, nil
}

// FindOrCreate returns the thread between self and peer, creating it if
// needed. Concurrent callers converge on the same thread: a lost insert
// race surfaces as ErrConflict and the winner's row is read back.
func (f *Finder) FindOrCreate(ctx context.Context, self, peer string) (int64, error) {
	if self == peer {
		return 0, ErrSelfConversation
	}

	id, err := f.store.FindThread(ctx, self, peer)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up thread: %w", err)
	}

	id, err = f.store.CreateThread(ctx, self, peer)
	if err == nil {
		f.logger.Info("thread created", "thread_id", id, "peer", peer)
		return id, nil
	}
	if !errors.Is(err, backend.ErrConflict) {
		return 0, fmt.Errorf("failed to create thread: %w", err)
	}

	id, err = f.store.FindThread(ctx, self, peer)
	if err != nil {
		return 0, fmt.Errorf("failed to read back thread: %w", err)
	}
	return id, nil
}
