package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saravenpi/supachat/internal/backend"
)

const (
	writeWait         = 10 * time.Second
	joinTimeout       = 10 * time.Second
	heartbeatInterval = 25 * time.Second
	eventBuffer       = 64

	phxJoin      = "phx_join"
	phxLeave     = "phx_leave"
	phxReply     = "phx_reply"
	phxError     = "phx_error"
	phxClose     = "phx_close"
	phxHeartbeat = "heartbeat"
	phxAccessTok = "access_token"
	eventChanges = "postgres_changes"
)

var errChannelClosed = errors.New("realtime channel closed by server")

// Realtime opens one Phoenix socket per subscription under /realtime/v1.
type Realtime struct{ c *Client }

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Type   string          `json:"type"`
		Table  string          `json:"table"`
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

func (r *Realtime) Subscribe(ctx context.Context, req backend.SubscribeRequest) (backend.Subscription, error) {
	token, err := r.c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	conn, _, err := r.c.dialer.DialContext(ctx, r.socketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime: %w", err)
	}

	ch := &channel{
		topic:  "realtime:" + channelName(req),
		conn:   conn,
		events: make(chan backend.ChangeEvent, eventBuffer),
		done:   make(chan struct{}),
		tokens: make(chan string, 1),
		logger: r.c.logger,
	}

	join := joinPayload{AccessToken: token}
	join.Config.PostgresChanges = []changeFilter{{
		Event:  string(req.Event),
		Schema: "public",
		Table:  req.Relation,
	}}
	if req.Filter.Column != "" {
		join.Config.PostgresChanges[0].Filter = req.Filter.String()
	}

	if err := ch.join(ctx, join); err != nil {
		conn.Close()
		return nil, err
	}

	ch.unsubscribe = r.c.listeners.OnAuthStateChange(ch.onAuthEvent)
	ch.wg.Add(2)
	go ch.writeLoop()
	go ch.readLoop()
	r.c.logger.Debug("realtime channel joined", "topic", ch.topic)
	return ch, nil
}

func (r *Realtime) socketURL() string {
	u := *r.c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {r.c.anonKey}, "vsn": {"1.0.0"}}.Encode()
	return u.String()
}

// channelName follows the "thread-<id>" naming for thread filters.
func channelName(req backend.SubscribeRequest) string {
	if req.Filter.Column == "thread_id" {
		return "thread-" + req.Filter.Value
	}
	return req.Relation
}

// channel is a joined Phoenix topic on its own socket. After join the write
// loop owns data writes and the read loop owns the events channel.
type channel struct {
	topic  string
	conn   *websocket.Conn
	events chan backend.ChangeEvent
	done   chan struct{}
	tokens chan string
	ref    atomic.Int64
	logger *slog.Logger

	unsubscribe func()

	closeOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	err       error
}

func (ch *channel) Events() <-chan backend.ChangeEvent { return ch.events }

func (ch *channel) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.err
}

// Close leaves the topic, closes the socket and waits for both loops.
func (ch *channel) Close() error {
	ch.closeOnce.Do(func() { close(ch.done) })
	ch.wg.Wait()
	return nil
}

// onAuthEvent queues a refreshed access token for the server, replacing
// one not yet sent.
func (ch *channel) onAuthEvent(event backend.AuthEvent) {
	if event.Session == nil || event.Session.AccessToken == "" {
		return
	}
	if event.Type != backend.EventTokenRefreshed && event.Type != backend.EventSignedIn {
		return
	}
	select {
	case <-ch.tokens:
	default:
	}
	select {
	case ch.tokens <- event.Session.AccessToken:
	default:
	}
}

func (ch *channel) nextRef() string {
	return strconv.FormatInt(ch.ref.Add(1), 10)
}

func (ch *channel) encode(topic, event string, payload any) ([]byte, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	ref := ch.nextRef()
	data, err := json.Marshal(phxMessage{Topic: topic, Event: event, Payload: body, Ref: ref})
	return data, ref, err
}

// join sends phx_join and waits for the matching reply.
func (ch *channel) join(ctx context.Context, payload joinPayload) error {
	data, ref, err := ch.encode(ch.topic, phxJoin, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ch.conn.SetWriteDeadline(deadline)
	if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to join %s: %w", ch.topic, err)
	}

	_ = ch.conn.SetReadDeadline(deadline)
	defer ch.conn.SetReadDeadline(time.Time{})
	for {
		var msg phxMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to join %s: %w", ch.topic, err)
		}
		if msg.Event != phxReply || msg.Ref != ref {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("failed to decode join reply: %w", err)
		}
		if reply.Status != "ok" {
			return &backend.APIError{StatusCode: 400, Code: "join_" + reply.Status, Message: string(reply.Response)}
		}
		return nil
	}
}

func (ch *channel) writeLoop() {
	defer ch.wg.Done()
	defer ch.conn.Close()
	if ch.unsubscribe != nil {
		defer ch.unsubscribe()
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			if data, _, err := ch.encode(ch.topic, phxLeave, struct{}{}); err == nil {
				_ = ch.write(data)
			}
			_ = ch.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case token := <-ch.tokens:
			data, _, err := ch.encode(ch.topic, phxAccessTok, map[string]string{"access_token": token})
			if err != nil {
				continue
			}
			if err := ch.write(data); err != nil {
				ch.fail(err)
				return
			}
			ch.logger.Debug("realtime access token updated", "topic", ch.topic)
		case <-ticker.C:
			data, _, err := ch.encode("phoenix", phxHeartbeat, struct{}{})
			if err != nil {
				continue
			}
			if err := ch.write(data); err != nil {
				ch.fail(err)
				return
			}
		}
	}
}

func (ch *channel) write(data []byte) error {
	if err := ch.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

func (ch *channel) readLoop() {
	defer ch.wg.Done()
	defer close(ch.events)

	for {
		var msg phxMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			select {
			case <-ch.done:
			default:
				ch.fail(fmt.Errorf("realtime connection lost: %w", err))
			}
			return
		}
		if msg.Topic != ch.topic {
			continue
		}

		switch msg.Event {
		case eventChanges:
			var payload changesPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				ch.logger.Warn("dropping malformed change event", "topic", ch.topic, "error", err)
				continue
			}
			event := backend.ChangeEvent{
				Relation: payload.Data.Table,
				Type:     backend.EventKind(payload.Data.Type),
				Record:   payload.Data.Record,
			}
			select {
			case ch.events <- event:
			case <-ch.done:
				return
			}
		case phxError, phxClose:
			ch.fail(errChannelClosed)
			return
		}
	}
}

// fail records the first transport error and stops the loops.
func (ch *channel) fail(err error) {
	ch.mu.Lock()
	if ch.err == nil {
		ch.err = err
	}
	ch.mu.Unlock()
	ch.closeOnce.Do(func() { close(ch.done) })
	ch.conn.Close()
}
