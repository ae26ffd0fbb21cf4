package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/models"
)

// memStore is an in-memory backend.Store.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	threads  map[int64][2]string
	messages map[int64][]models.Message
	profiles []models.Profile

	messagesErr error
	// beforeMessages runs inside Messages before history is returned.
	beforeMessages func(threadID int64)
	searches       int
	inserts        int
	// raceCreate simulates another client creating the pair first.
	raceCreate bool
}

func newMemStore() *memStore {
	return &memStore{
		nextID:   100,
		threads:  make(map[int64][2]string),
		messages: make(map[int64][]models.Message),
	}
}

func (s *memStore) addHistory(threadID int64, msgs ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[threadID] = append(s.messages[threadID], msgs...)
}

func (s *memStore) ListThreads(ctx context.Context) ([]models.Thread, error) {
	return nil, errors.New("not used")
}

func (s *memStore) Messages(ctx context.Context, threadID int64) ([]models.Message, error) {
	if s.beforeMessages != nil {
		s.beforeMessages(threadID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messagesErr != nil {
		return nil, s.messagesErr
	}
	out := make([]models.Message, len(s.messages[threadID]))
	copy(out, s.messages[threadID])
	return out, nil
}

func (s *memStore) InsertMessage(ctx context.Context, msg backend.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.nextID++
	m := models.Message{
		ID:        s.nextID,
		ThreadID:  msg.ThreadID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], m)
	return &m, nil
}

func (s *memStore) SearchProfiles(ctx context.Context, term, excludeID string, limit int) ([]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	var out []models.Profile
	for _, p := range s.profiles {
		if p.ID != excludeID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) Profile(ctx context.Context, id string) (*models.Profile, error) {
	return nil, backend.ErrNotFound
}

func (s *memStore) InsertProfile(ctx context.Context, profile models.Profile) error {
	return nil
}

func (s *memStore) FindThread(ctx context.Context, a, b string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pair := range s.threads {
		if (pair[0] == a && pair[1] == b) || (pair[0] == b && pair[1] == a) {
			return id, nil
		}
	}
	return 0, backend.ErrNotFound
}

func (s *memStore) CreateThread(ctx context.Context, user1, user2 string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raceCreate {
		s.raceCreate = false
		s.nextID++
		s.threads[s.nextID] = [2]string{user2, user1}
		return 0, backend.ErrConflict
	}
	for _, pair := range s.threads {
		if (pair[0] == user1 && pair[1] == user2) || (pair[0] == user2 && pair[1] == user1) {
			return 0, backend.ErrConflict
		}
	}
	s.nextID++
	s.threads[s.nextID] = [2]string{user1, user2}
	return s.nextID, nil
}

// fakeRealtime hands out subscriptions the test can push records into.
type fakeRealtime struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

type fakeSub struct {
	req    backend.SubscribeRequest
	events chan backend.ChangeEvent
	mu     sync.Mutex
	closed bool
	err    error
}

func (r *fakeRealtime) Subscribe(ctx context.Context, req backend.SubscribeRequest) (backend.Subscription, error) {
	if r.err != nil {
		return nil, r.err
	}
	sub := &fakeSub{req: req, events: make(chan backend.ChangeEvent, 32)}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return sub, nil
}

func (r *fakeRealtime) last() *fakeSub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) == 0 {
		return nil
	}
	return r.subs[len(r.subs)-1]
}

func (s *fakeSub) Events() <-chan backend.ChangeEvent { return s.events }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// push delivers msg as an insert event. It reports false if the
// subscription is already closed.
func (s *fakeSub) push(t *testing.T, msg models.Message) bool {
	t.Helper()
	record, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to encode record: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- backend.ChangeEvent{Relation: backend.RelationMessages, Type: backend.EventInsert, Record: record}
	return true
}

// fail ends the subscription with err, as a dropped connection would.
func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = err
		s.closed = true
		close(s.events)
	}
}

type memStorage struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string]string), types: make(map[string]string)}
}

func (s *memStorage) Upload(ctx context.Context, path, contentType string, body io.Reader) error {
	if s.err != nil {
		return s.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[path] = string(data)
	s.types[path] = contentType
	return nil
}

func (s *memStorage) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}

// waitFor blocks until cond holds for the conversation snapshot.
func waitFor(t *testing.T, c *Conversation, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		snap := c.Snapshot()
		if cond(snap) {
			return snap
		}
		select {
		case <-deadline:
			t.Fatalf("condition not met; snapshot = %+v", snap)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func msg(id, thread int64, sender, content string) models.Message {
	return models.Message{
		ID:        id,
		ThreadID:  thread,
		SenderID:  sender,
		Content:   content,
		CreatedAt: time.Date(2025, 5, 1, 9, 0, 0, int(id), time.UTC),
	}
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
