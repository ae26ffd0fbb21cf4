package local

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

func openTestPlatform(t *testing.T, c clock.Clock) (*backend.Platform, *backend.MemorySessionStore) {
	t.Helper()
	dir := t.TempDir()
	sessions := &backend.MemorySessionStore{}
	platform, err := Open(context.Background(), Config{
		Database:   filepath.Join(dir, "chat.db"),
		StorageDir: filepath.Join(dir, "objects"),
		PublicURL:  "http://localhost:8080/objects",
		JWTSecret:  "test-secret",
		Sessions:   sessions,
		Clock:      c,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { platform.Close() })
	return platform, sessions
}

func signUp(t *testing.T, p *backend.Platform, email, name string) models.User {
	t.Helper()
	ctx := context.Background()
	session, err := p.Auth.SignUp(ctx, email, "hunter22")
	if err != nil {
		t.Fatalf("SignUp(%s) error = %v", email, err)
	}
	if err := p.Store.InsertProfile(ctx, models.Profile{ID: session.User.ID, FullName: name}); err != nil {
		t.Fatalf("InsertProfile(%s) error = %v", name, err)
	}
	return session.User
}

func TestAuthFlow(t *testing.T) {
	p, sessions := openTestPlatform(t, nil)
	ctx := context.Background()

	var events []backend.AuthEventType
	unsubscribe := p.Auth.OnAuthStateChange(func(e backend.AuthEvent) { events = append(events, e.Type) })
	defer unsubscribe()

	user := signUp(t, p, "Ada@Example.com", "Ada Lovelace")
	if user.Email != "ada@example.com" {
		t.Errorf("email not normalised: %q", user.Email)
	}

	if _, err := p.Auth.SignUp(ctx, "ada@example.com", "another1"); !backend.IsAPIError(err, backend.CodeUserExists) {
		t.Errorf("duplicate SignUp error = %v", err)
	}
	if _, err := p.Auth.SignUp(ctx, "bob@example.com", "123"); !backend.IsAPIError(err, backend.CodeWeakPassword) {
		t.Errorf("weak password error = %v", err)
	}

	if err := p.Auth.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := p.Auth.CurrentSession(ctx); !errors.Is(err, backend.ErrNoSession) {
		t.Errorf("CurrentSession() after sign out = %v", err)
	}

	if _, err := p.Auth.SignIn(ctx, "ada@example.com", "wrong-password"); !backend.IsAPIError(err, backend.CodeInvalidCredentials) {
		t.Errorf("wrong password error = %v", err)
	}
	if _, err := p.Auth.SignIn(ctx, "nobody@example.com", "hunter22"); !backend.IsAPIError(err, backend.CodeInvalidCredentials) {
		t.Errorf("unknown account error = %v", err)
	}

	session, err := p.Auth.SignIn(ctx, "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if session.User.ID != user.ID {
		t.Errorf("SignIn() user = %+v, want %s", session.User, user.ID)
	}
	if stored, _ := sessions.Load(); stored == nil || stored.AccessToken != session.AccessToken {
		t.Error("session was not persisted")
	}

	want := []backend.AuthEventType{backend.EventSignedIn, backend.EventSignedOut, backend.EventSignedIn}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestCurrentSessionRefreshesExpiredToken(t *testing.T) {
	fake := clock.NewFake(time.Now())
	p, _ := openTestPlatform(t, fake)
	ctx := context.Background()

	first, err := p.Auth.SignUp(ctx, "grace@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	fake.Advance(2 * time.Hour)
	refreshed, err := p.Auth.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession() error = %v", err)
	}
	if refreshed.AccessToken == first.AccessToken || !refreshed.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("session was not refreshed: %+v", refreshed)
	}

	fake.Advance(31 * 24 * time.Hour)
	if _, err := p.Auth.CurrentSession(ctx); !errors.Is(err, backend.ErrNoSession) {
		t.Errorf("CurrentSession() after refresh expiry = %v", err)
	}
}

func TestThreadsAndMessages(t *testing.T) {
	p, _ := openTestPlatform(t, nil)
	ctx := context.Background()

	grace := signUp(t, p, "grace@example.com", "Grace Hopper")
	alan := signUp(t, p, "alan@example.com", "Alan Turing")
	ada := signUp(t, p, "ada@example.com", "Ada Lovelace")

	profiles, err := p.Store.SearchProfiles(ctx, "GRA", ada.ID, 10)
	if err != nil {
		t.Fatalf("SearchProfiles() error = %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != grace.ID {
		t.Errorf("SearchProfiles() = %+v", profiles)
	}
	profiles, _ = p.Store.SearchProfiles(ctx, "lovelace", ada.ID, 10)
	if len(profiles) != 0 {
		t.Errorf("search should exclude the caller, got %+v", profiles)
	}

	id, err := p.Store.CreateThread(ctx, ada.ID, grace.ID)
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if _, err := p.Store.CreateThread(ctx, grace.ID, ada.ID); !errors.Is(err, backend.ErrConflict) {
		t.Errorf("reversed CreateThread() error = %v, want ErrConflict", err)
	}
	found, err := p.Store.FindThread(ctx, grace.ID, ada.ID)
	if err != nil || found != id {
		t.Errorf("FindThread() = %d, %v; want %d", found, err, id)
	}
	if _, err := p.Store.FindThread(ctx, ada.ID, alan.ID); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("FindThread() for unknown pair = %v", err)
	}
	if _, err := p.Store.CreateThread(ctx, ada.ID, alan.ID); err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}

	for _, content := range []string{"first", "second"} {
		if _, err := p.Store.InsertMessage(ctx, backend.NewMessage{ThreadID: id, SenderID: ada.ID, Content: content}); err != nil {
			t.Fatalf("InsertMessage() error = %v", err)
		}
	}
	if _, err := p.Store.InsertMessage(ctx, backend.NewMessage{ThreadID: id, SenderID: grace.ID, Content: "spoofed"}); err == nil {
		t.Error("InsertMessage() as another user should fail")
	}

	history, err := p.Store.Messages(ctx, id)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(history) != 2 || history[0].Content != "first" || history[1].Content != "second" {
		t.Errorf("Messages() = %+v", history)
	}

	threads, err := p.Store.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("ListThreads() returned %d threads", len(threads))
	}
	byOther := map[string]models.Thread{}
	for _, th := range threads {
		byOther[th.OtherUser.ID] = th
	}
	if th := byOther[grace.ID]; th.LastMessage == nil || th.LastMessage.Content != "second" || th.OtherUser.FullName != "Grace Hopper" {
		t.Errorf("thread with Grace = %+v", th)
	}
	if th := byOther[alan.ID]; th.LastMessage != nil {
		t.Errorf("thread with Alan should have no messages, got %+v", th.LastMessage)
	}
}

func TestRealtimeDeliversInserts(t *testing.T) {
	p, _ := openTestPlatform(t, nil)
	ctx := context.Background()

	grace := signUp(t, p, "grace@example.com", "Grace Hopper")
	ada := signUp(t, p, "ada@example.com", "Ada Lovelace")
	id, err := p.Store.CreateThread(ctx, ada.ID, grace.ID)
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}

	sub, err := p.Realtime.Subscribe(ctx, backend.SubscribeRequest{
		Relation: backend.RelationMessages,
		Event:    backend.EventInsert,
		Filter:   backend.Filter{Column: "thread_id", Value: "999"},
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	other := sub
	sub, err = p.Realtime.Subscribe(ctx, backend.SubscribeRequest{
		Relation: backend.RelationMessages,
		Event:    backend.EventInsert,
		Filter:   backend.Filter{Column: "thread_id", Value: strconv.FormatInt(id, 10)},
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	sent, err := p.Store.InsertMessage(ctx, backend.NewMessage{ThreadID: id, SenderID: ada.ID, Content: "ping"})
	if err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}

	select {
	case ev := <-sub.Events():
		var msg models.Message
		if err := json.Unmarshal(ev.Record, &msg); err != nil {
			t.Fatalf("failed to decode record: %v", err)
		}
		if msg.ID != sent.ID || msg.Content != "ping" {
			t.Errorf("event record = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no realtime event received")
	}

	select {
	case ev := <-other.Events():
		t.Errorf("subscription on another thread received %+v", ev)
	default:
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("Events() should be closed after Close")
	}
	if sub.Err() != nil {
		t.Errorf("Err() after Close = %v", sub.Err())
	}
}

func TestDirStorage(t *testing.T) {
	dir := t.TempDir()
	s := NewDirStorage(dir, "")
	ctx := context.Background()

	if err := s.Upload(ctx, "u1/123-cat.png", "image/png", strings.NewReader("png")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "u1", "123-cat.png"))
	if err != nil || string(data) != "png" {
		t.Errorf("stored object = %q, %v", data, err)
	}
	if err := s.Upload(ctx, "u1/123-cat.png", "image/png", strings.NewReader("again")); !errors.Is(err, backend.ErrConflict) {
		t.Errorf("duplicate Upload() error = %v", err)
	}
	if err := s.Upload(ctx, "../escape.png", "image/png", strings.NewReader("x")); err == nil {
		t.Error("Upload() outside the root should fail")
	}
	if got := s.PublicURL("u1/123-cat.png"); !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, "/u1/123-cat.png") {
		t.Errorf("PublicURL() = %q", got)
	}

	served := NewDirStorage(dir, "https://files.example.com/chat/")
	if got := served.PublicURL("u1/123-cat.png"); got != "https://files.example.com/chat/u1/123-cat.png" {
		t.Errorf("PublicURL() = %q", got)
	}
}
