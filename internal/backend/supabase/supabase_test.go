package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

const anonKey = "anon-key"

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": exp.Unix()})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestClient(t *testing.T, handler http.Handler, c clock.Clock) (*Client, *backend.Platform) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{URL: srv.URL, AnonKey: anonKey, Clock: c})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, backend.NewPlatform(&Auth{client}, &Rest{client}, &Storage{client}, &Realtime{client}, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
	}{
		{"missing url", ClientConfig{AnonKey: "k"}},
		{"missing key", ClientConfig{URL: "https://x.supabase.co"}},
		{"bad scheme", ClientConfig{URL: "ftp://x", AnonKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantIs     error
	}{
		{"gotrue", 400, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, 400, backend.CodeInvalidCredentials, nil},
		{"gotrue legacy", 400, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, 400, backend.CodeInvalidCredentials, nil},
		{"postgrest unique", 409, `{"code":"23505","message":"duplicate key value"}`, 409, "23505", backend.ErrConflict},
		{"storage duplicate", 400, `{"statusCode":"409","error":"Duplicate","message":"The resource already exists"}`, 409, "Duplicate", backend.ErrConflict},
		{"jwt expired", 401, `{"code":"PGRST301","message":"JWT expired"}`, 401, "PGRST301", backend.ErrNoSession},
		{"plain text", 502, `bad gateway`, 502, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseError(tt.status, []byte(tt.body))
			if err.StatusCode != tt.wantStatus || err.Code != tt.wantCode {
				t.Errorf("parseError() = %+v", err)
			}
			if err.Message == "" {
				t.Error("message should not be empty")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(%v) = false", tt.wantIs)
			}
		})
	}
}

func TestSignInAndAuthorizedRequests(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := signedToken(t, "u1", exp)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("grant_type = %q", r.URL.Query().Get("grant_type"))
		}
		if r.Header.Get("apikey") != anonKey {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		var creds credentials
		json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "hunter22" {
			writeJSON(w, 400, map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"})
			return
		}
		writeJSON(w, 200, map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"user":          map[string]string{"id": "u1", "email": creds.Email},
		})
	})
	mux.HandleFunc("/rest/v1/rpc/get_threads_for_user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+access {
			writeJSON(w, 401, map[string]string{"code": "PGRST301", "message": "JWT missing"})
			return
		}
		w.Write([]byte(`[{"id":3,"other_user":{"id":"u2","full_name":"Grace Hopper","avatar_url":"https://a/2"},
			"last_message":{"id":9,"thread_id":3,"sender_id":"u2","content":"hey","created_at":"2025-05-01T10:00:00.123456+00:00"}},
			{"id":4,"other_user":{"id":"u3","full_name":"Alan Turing","avatar_url":""},"last_message":null}]`))
	})

	_, p := newTestClient(t, mux, nil)
	ctx := context.Background()

	var events []backend.AuthEventType
	p.Auth.OnAuthStateChange(func(e backend.AuthEvent) { events = append(events, e.Type) })

	if _, err := p.Auth.SignIn(ctx, "ada@example.com", "nope"); !backend.IsAPIError(err, backend.CodeInvalidCredentials) {
		t.Fatalf("SignIn() with bad password error = %v", err)
	}
	if _, err := p.Store.ListThreads(ctx); !errors.Is(err, backend.ErrNoSession) {
		t.Fatalf("ListThreads() signed out error = %v", err)
	}

	session, err := p.Auth.SignIn(ctx, "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if session.User.ID != "u1" || !session.ExpiresAt.Equal(exp) {
		t.Errorf("SignIn() session = %+v", session)
	}

	threads, err := p.Store.ListThreads(ctx)
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 2 || threads[0].LastMessage == nil || threads[0].LastMessage.Content != "hey" {
		t.Fatalf("ListThreads() = %+v", threads)
	}
	if threads[0].LastMessage.CreatedAt.IsZero() || threads[1].LastMessage != nil {
		t.Errorf("ListThreads() last messages = %+v / %+v", threads[0].LastMessage, threads[1].LastMessage)
	}

	if len(events) != 1 || events[0] != backend.EventSignedIn {
		t.Errorf("events = %v", events)
	}
}

func TestAccessTokenRefresh(t *testing.T) {
	fake := clock.NewFake(time.Now())
	first := signedToken(t, "u1", fake.Now().Add(time.Hour))
	second := signedToken(t, "u1", fake.Now().Add(3*time.Hour))
	var refreshes atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Query().Get("grant_type") {
		case "password":
			writeJSON(w, 200, map[string]any{"access_token": first, "refresh_token": "r1", "user": map[string]string{"id": "u1"}})
		case "refresh_token":
			refreshes.Add(1)
			if body["refresh_token"] != "r1" {
				writeJSON(w, 400, map[string]any{"error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
				return
			}
			writeJSON(w, 200, map[string]any{"access_token": second, "refresh_token": "r2", "user": map[string]string{"id": "u1"}})
		}
	})
	mux.HandleFunc("/rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+second {
			writeJSON(w, 401, map[string]string{"code": "PGRST301", "message": "JWT expired"})
			return
		}
		w.Write([]byte(`[{"id":"u1","full_name":"Ada","avatar_url":""}]`))
	})

	client, p := newTestClient(t, mux, fake)
	ctx := context.Background()
	if _, err := p.Auth.SignIn(ctx, "ada@example.com", "pw"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	// Within the refresh leeway of expiry.
	fake.Advance(time.Hour - 30*time.Second)
	if _, err := p.Store.Profile(ctx, "u1"); err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if n := refreshes.Load(); n != 1 {
		t.Errorf("refreshes = %d, want 1", n)
	}

	// The stored refresh token is now r2, which the server rejects.
	fake.Advance(3 * time.Hour)
	if _, err := p.Auth.CurrentSession(ctx); !errors.Is(err, backend.ErrNoSession) {
		t.Errorf("CurrentSession() after rejected refresh = %v", err)
	}
	if _, err := client.sessions.Load(); !errors.Is(err, backend.ErrNoSession) {
		t.Error("rejected refresh should clear the stored session")
	}
}

func TestRestQueries(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Method+" messages"] = r.URL.RawQuery
		mu.Unlock()
		if r.Method == http.MethodPost {
			if r.Header.Get("Prefer") != "return=representation" {
				t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
			}
			var rows []backend.NewMessage
			json.NewDecoder(r.Body).Decode(&rows)
			writeJSON(w, 201, []map[string]any{{
				"id": 10, "thread_id": rows[0].ThreadID, "sender_id": rows[0].SenderID,
				"content": rows[0].Content, "created_at": "2025-05-01T10:00:00Z",
			}})
			return
		}
		w.Write([]byte(`[{"id":1,"thread_id":7,"sender_id":"u1","content":"a","created_at":"2025-05-01T09:00:00Z"}]`))
	})
	mux.HandleFunc("/rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Method+" profiles"] = r.URL.RawQuery
		mu.Unlock()
		if r.Method == http.MethodPost {
			writeJSON(w, 409, map[string]string{"code": "23505", "message": "duplicate key"})
			return
		}
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/rest/v1/threads", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Method+" threads"] = r.URL.Query().Get("or")
		mu.Unlock()
		if r.Method == http.MethodPost {
			writeJSON(w, 409, map[string]string{"code": "23505", "message": "duplicate key"})
			return
		}
		w.Write([]byte(`[]`))
	})

	_, p := newTestClient(t, mux, nil)
	ctx := context.Background()
	query := func(key string) string {
		mu.Lock()
		defer mu.Unlock()
		return seen[key]
	}

	messages, err := p.Store.Messages(ctx, 7)
	if err != nil || len(messages) != 1 {
		t.Fatalf("Messages() = %+v, %v", messages, err)
	}
	if q := query("GET messages"); !strings.Contains(q, "thread_id=eq.7") || !strings.Contains(q, "order=created_at.asc") {
		t.Errorf("messages query = %q", q)
	}

	msg, err := p.Store.InsertMessage(ctx, backend.NewMessage{ThreadID: 7, SenderID: "u1", Content: "hi"})
	if err != nil || msg.ID != 10 || msg.Content != "hi" {
		t.Fatalf("InsertMessage() = %+v, %v", msg, err)
	}

	if _, err := p.Store.SearchProfiles(ctx, "gra", "u1", 10); err != nil {
		t.Fatalf("SearchProfiles() error = %v", err)
	}
	q := query("GET profiles")
	for _, want := range []string{"full_name=ilike.%2Agra%2A", "id=neq.u1", "limit=10"} {
		if !strings.Contains(q, want) {
			t.Errorf("profiles query %q missing %q", q, want)
		}
	}

	if _, err := p.Store.Profile(ctx, "ghost"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Profile() error = %v, want ErrNotFound", err)
	}
	if err := p.Store.InsertProfile(ctx, models.Profile{ID: "u1", FullName: "Ada"}); !errors.Is(err, backend.ErrConflict) {
		t.Errorf("InsertProfile() error = %v, want ErrConflict", err)
	}

	if _, err := p.Store.FindThread(ctx, "u1", "u2"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("FindThread() error = %v, want ErrNotFound", err)
	}
	if got, want := query("GET threads"), "(and(user1.eq.u1,user2.eq.u2),and(user1.eq.u2,user2.eq.u1))"; got != want {
		t.Errorf("threads or filter = %q, want %q", got, want)
	}
	if _, err := p.Store.CreateThread(ctx, "u1", "u2"); !errors.Is(err, backend.ErrConflict) {
		t.Errorf("CreateThread() error = %v, want ErrConflict", err)
	}
}

func TestStorage(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotType, gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/storage/v1/object/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		writeJSON(w, 200, map[string]string{"Key": "supachat+/u1/1-cat.png"})
	})

	client, p := newTestClient(t, mux, nil)
	if err := p.Storage.Upload(context.Background(), "u1/1-cat.png", "image/png", strings.NewReader("png-bytes")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/storage/v1/object/supachat+/u1/1-cat.png" || gotType != "image/png" || gotBody != "png-bytes" {
		t.Errorf("upload request = %q %q %q", gotPath, gotType, gotBody)
	}

	want := client.baseURL.String() + "/storage/v1/object/public/supachat+/u1/1-cat.png"
	if got := p.Storage.PublicURL("u1/1-cat.png"); got != want {
		t.Errorf("PublicURL() = %q, want %q", got, want)
	}
}

// phoenixServer accepts one join per socket and pushes the configured
// records once joined.
type phoenixServer struct {
	records  []string
	joined   chan joinPayload
	left     chan string
	tokens   chan string
	rejected bool
}

func (s *phoenixServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("apikey") != anonKey || r.URL.Query().Get("vsn") != "1.0.0" {
		http.Error(w, "bad query", http.StatusBadRequest)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case phxJoin:
			var join joinPayload
			json.Unmarshal(msg.Payload, &join)
			status := "ok"
			if s.rejected {
				status = "error"
			}
			reply, _ := json.Marshal(map[string]any{"status": status, "response": map[string]any{}})
			conn.WriteJSON(phxMessage{Topic: msg.Topic, Event: phxReply, Payload: reply, Ref: msg.Ref})
			s.joined <- join
			for _, record := range s.records {
				payload := `{"data":{"type":"INSERT","table":"messages","schema":"public","record":` + record + `}}`
				conn.WriteJSON(phxMessage{Topic: msg.Topic, Event: eventChanges, Payload: json.RawMessage(payload)})
			}
		case phxLeave:
			s.left <- msg.Topic
		case phxAccessTok:
			var body map[string]string
			json.Unmarshal(msg.Payload, &body)
			if s.tokens != nil {
				s.tokens <- body["access_token"]
			}
		}
	}
}

func TestRealtimeSubscribe(t *testing.T) {
	server := &phoenixServer{
		records: []string{`{"id":5,"thread_id":7,"sender_id":"u2","content":"live","created_at":"2025-05-01T10:00:00.5+00:00"}`},
		joined:  make(chan joinPayload, 1),
		left:    make(chan string, 1),
	}
	mux := http.NewServeMux()
	mux.Handle("/realtime/v1/websocket", server)
	_, p := newTestClient(t, mux, nil)

	sub, err := p.Realtime.Subscribe(context.Background(), backend.SubscribeRequest{
		Relation: backend.RelationMessages,
		Event:    backend.EventInsert,
		Filter:   backend.Filter{Column: "thread_id", Value: "7"},
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	join := <-server.joined
	if len(join.Config.PostgresChanges) != 1 {
		t.Fatalf("join config = %+v", join.Config)
	}
	if got := join.Config.PostgresChanges[0]; got.Table != "messages" || got.Event != "INSERT" || got.Filter != "thread_id=eq.7" {
		t.Errorf("join filter = %+v", got)
	}

	select {
	case ev := <-sub.Events():
		var msg models.Message
		if err := json.Unmarshal(ev.Record, &msg); err != nil {
			t.Fatalf("failed to decode record: %v", err)
		}
		if ev.Type != backend.EventInsert || msg.ID != 5 || msg.Content != "live" {
			t.Errorf("event = %+v, record = %+v", ev, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case topic := <-server.left:
		if topic != "realtime:thread-7" {
			t.Errorf("left topic = %q", topic)
		}
	case <-time.After(2 * time.Second):
		t.Error("server never saw phx_leave")
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("Events() should be closed after Close")
	}
	if sub.Err() != nil {
		t.Errorf("Err() after Close = %v", sub.Err())
	}
}

func TestRealtimeJoinRejected(t *testing.T) {
	server := &phoenixServer{joined: make(chan joinPayload, 1), left: make(chan string, 1), rejected: true}
	mux := http.NewServeMux()
	mux.Handle("/realtime/v1/websocket", server)
	_, p := newTestClient(t, mux, nil)

	_, err := p.Realtime.Subscribe(context.Background(), backend.SubscribeRequest{
		Relation: backend.RelationMessages,
		Event:    backend.EventInsert,
		Filter:   backend.Filter{Column: "thread_id", Value: "7"},
	})
	if !backend.IsAPIError(err, "join_error") {
		t.Errorf("Subscribe() error = %v", err)
	}
}

func TestRealtimeForwardsRefreshedToken(t *testing.T) {
	fake := clock.NewFake(time.Now())
	first := signedToken(t, "u1", fake.Now().Add(time.Hour))
	second := signedToken(t, "u1", fake.Now().Add(2*time.Hour))

	server := &phoenixServer{
		joined: make(chan joinPayload, 1),
		left:   make(chan string, 1),
		tokens: make(chan string, 1),
	}
	mux := http.NewServeMux()
	mux.Handle("/realtime/v1/websocket", server)
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("grant_type") {
		case "password":
			writeJSON(w, 200, map[string]any{"access_token": first, "refresh_token": "r1", "user": map[string]string{"id": "u1"}})
		case "refresh_token":
			writeJSON(w, 200, map[string]any{"access_token": second, "refresh_token": "r2", "user": map[string]string{"id": "u1"}})
		}
	})
	_, p := newTestClient(t, mux, fake)

	ctx := context.Background()
	if _, err := p.Auth.SignIn(ctx, "ada@example.com", "pw"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	sub, err := p.Realtime.Subscribe(ctx, backend.SubscribeRequest{
		Relation: backend.RelationMessages,
		Event:    backend.EventInsert,
		Filter:   backend.Filter{Column: "thread_id", Value: "7"},
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if join := <-server.joined; join.AccessToken != first {
		t.Errorf("join access token = %q, want the signed-in token", join.AccessToken)
	}

	fake.Advance(time.Hour - 30*time.Second)
	if _, err := p.Auth.CurrentSession(ctx); err != nil {
		t.Fatalf("CurrentSession() error = %v", err)
	}

	select {
	case token := <-server.tokens:
		if token != second {
			t.Errorf("access token sent = %q, want the refreshed token", token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refreshed token never reached the channel")
	}
}
