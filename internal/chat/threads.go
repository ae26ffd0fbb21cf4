package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

const (
	PreviewEmpty = "No messages yet."
	PreviewImage = "📎 Image"
	unknownName  = "Unknown user"
)

// ThreadItem is one row of the thread list.
type ThreadItem struct {
	ID        int64
	PeerID    string
	Name      string
	AvatarURL string
	Preview   string
	TimeLabel string
}

type ThreadList struct {
	store  backend.Store
	clock  clock.Clock
	logger *slog.Logger
}

func NewThreadList(store backend.Store, c clock.Clock, logger *slog.Logger) *ThreadList {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadList{store: store, clock: c, logger: logger.With("component", "threads")}
}

// List fetches every thread of the signed-in user in one query.
func (l *ThreadList) List(ctx context.Context) ([]ThreadItem, error) {
	threads, err := l.store.ListThreads(ctx)
	if err != nil {
		l.logger.Error("failed to load threads", "error", err)
		return nil, fmt.Errorf("failed to load threads: %w", err)
	}

	now := l.clock.Now()
	items := make([]ThreadItem, 0, len(threads))
	for _, t := range threads {
		items = append(items, ToItem(t, now))
	}
	return items, nil
}

func ToItem(t models.Thread, now time.Time) ThreadItem {
	item := ThreadItem{
		ID:        t.ID,
		PeerID:    t.OtherUser.ID,
		Name:      t.OtherUser.FullName,
		AvatarURL: t.OtherUser.AvatarURL,
		Preview:   Preview(t.LastMessage),
	}
	if item.Name == "" {
		item.Name = unknownName
	}
	if t.LastMessage != nil && !t.LastMessage.CreatedAt.IsZero() {
		item.TimeLabel = TimeLabel(t.LastMessage.CreatedAt, now)
	}
	return item
}

// Preview is the one-line summary of a thread's last message.
func Preview(m *models.Message) string {
	if m == nil {
		return PreviewEmpty
	}
	if _, ok := m.ImageURL(); ok {
		return PreviewImage
	}
	return m.Content
}

// TimeLabel renders t as a clock time today, "Yesterday", or a date.
func TimeLabel(t, now time.Time) string {
	t = t.In(now.Location())
	if sameDay(t, now) {
		return FormatTime(t)
	}
	if sameDay(t, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return t.Format("1/2/2006")
}

// FormatTime renders the hour and minute, e.g. "3:04 PM".
func FormatTime(t time.Time) string {
	return t.Format("3:04 PM")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
