// Package chat holds the client-side chat state: the open conversation,
// the thread list, finding people and composing messages.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

type State int

const (
	Idle State = iota
	Loading
	Live
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Live:
		return "live"
	}
	return "unknown"
}

// TypingHint selects when the peer-typing indicator turns on.
type TypingHint int

const (
	// TypingHintAfterSend shows the peer as typing for TypingTimeout after
	// each message we send.
	TypingHintAfterSend TypingHint = iota
	TypingHintOff
)

// TypingTimeout is how long the typing indicator stays on.
const TypingTimeout = 3 * time.Second

func ParseTypingHint(s string) (TypingHint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "after_send":
		return TypingHintAfterSend, nil
	case "off":
		return TypingHintOff, nil
	}
	return TypingHintAfterSend, fmt.Errorf("unknown typing hint %q", s)
}

type ConversationConfig struct {
	Store    backend.Store
	Realtime backend.Realtime
	// Self is the signed-in user's id.
	Self       string
	TypingHint TypingHint
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Snapshot is a copy of the conversation state for rendering.
type Snapshot struct {
	State      State
	ThreadID   int64
	Messages   []models.Message
	PeerTyping bool
	Err        error
}

// Conversation is the view model of one open thread: its history plus
// live inserts. At most one thread is open at a time. It is safe for
// concurrent use; the subscription pump and typing timer run on their own
// goroutines.
type Conversation struct {
	store    backend.Store
	realtime backend.Realtime
	self     string
	hint     TypingHint
	clock    clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	gen       uint64
	state     State
	threadID  int64
	messages  []models.Message
	seen      map[int64]struct{}
	watermark int64
	// pending holds live inserts that arrive while history is loading.
	pending     []models.Message
	typing      bool
	typingSeq   uint64
	typingTimer clock.Timer
	sub         backend.Subscription
	updates     chan struct{}
	err         error
}

func NewConversation(cfg ConversationConfig) *Conversation {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Conversation{
		store:    cfg.Store,
		realtime: cfg.Realtime,
		self:     cfg.Self,
		hint:     cfg.TypingHint,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "conversation"),
	}
}

// Open switches to threadID: the previous subscription is torn down, the
// live feed is joined, then history is fetched. Inserts that arrive while
// loading are applied after the history. Returns ErrSuperseded when
// another Open or Close happened meanwhile and *LoadError on failure.
func (c *Conversation) Open(ctx context.Context, threadID int64) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.reset()
	c.state = Loading
	c.threadID = threadID
	c.updates = make(chan struct{}, 1)
	c.notify()
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	sub, err := c.realtime.Subscribe(ctx, backend.SubscribeRequest{
		Relation: backend.RelationMessages,
		Event:    backend.EventInsert,
		Filter:   backend.Filter{Column: "thread_id", Value: strconv.FormatInt(threadID, 10)},
	})
	if err != nil {
		return c.failLoad(gen, threadID, fmt.Errorf("subscribe: %w", err))
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		sub.Close()
		return ErrSuperseded
	}
	c.sub = sub
	c.mu.Unlock()
	go c.pump(gen, sub)

	history, err := c.store.Messages(ctx, threadID)
	if err != nil {
		return c.failLoad(gen, threadID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return ErrSuperseded
	}

	c.messages = make([]models.Message, 0, len(history)+len(c.pending))
	for _, msg := range history {
		c.messages = append(c.messages, msg)
		c.seen[msg.ID] = struct{}{}
		if msg.ID > c.watermark {
			c.watermark = msg.ID
		}
	}
	for _, msg := range c.pending {
		c.apply(msg)
	}
	c.pending = nil
	c.state = Live
	c.notify()

	c.logger.Debug("conversation open", "thread_id", threadID, "history", len(history))
	return nil
}

func (c *Conversation) failLoad(gen uint64, threadID int64, cause error) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	sub := c.reset()
	loadErr := &LoadError{ThreadID: threadID, Err: cause}
	c.err = loadErr
	c.notify()
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	c.logger.Error("failed to open conversation", "thread_id", threadID, "error", cause)
	return loadErr
}

// Close leaves the open thread. No update is delivered afterwards.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.gen++
	sub := c.reset()
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// reset drops per-thread state and returns the subscription for the
// caller to close outside the lock. c.mu must be held.
func (c *Conversation) reset() backend.Subscription {
	sub := c.sub
	c.sub = nil
	c.stopTyping()
	if c.updates != nil {
		close(c.updates)
		c.updates = nil
	}
	c.state = Idle
	c.threadID = 0
	c.messages = nil
	c.pending = nil
	c.seen = make(map[int64]struct{})
	c.watermark = 0
	c.err = nil
	return sub
}

// pump forwards subscription events until the subscription ends.
func (c *Conversation) pump(gen uint64, sub backend.Subscription) {
	for ev := range sub.Events() {
		if ev.Type != backend.EventInsert {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(ev.Record, &msg); err != nil {
			c.logger.Warn("dropping undecodable message event", "error", err)
			continue
		}
		c.receive(gen, msg)
	}

	if err := sub.Err(); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.err = err
			c.notify()
		}
		c.mu.Unlock()
		c.logger.Warn("live feed ended", "error", err)
	}
}

func (c *Conversation) receive(gen uint64, msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || msg.ThreadID != c.threadID {
		return
	}
	switch c.state {
	case Loading:
		c.pending = append(c.pending, msg)
	case Live:
		if c.apply(msg) {
			c.notify()
		}
	}
}

// apply appends msg unless it is covered by the history watermark or was
// already applied. A message from the peer clears the typing indicator.
// c.mu must be held.
func (c *Conversation) apply(msg models.Message) bool {
	if msg.ID <= c.watermark {
		return false
	}
	if _, dup := c.seen[msg.ID]; dup {
		return false
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)

	if msg.SenderID != c.self {
		c.stopTyping()
	}
	return true
}

// Send inserts text into the open thread and applies the stored row
// without waiting for its live echo.
func (c *Conversation) Send(ctx context.Context, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != Live {
		c.mu.Unlock()
		return nil, ErrNotOpen
	}
	gen, threadID := c.gen, c.threadID
	c.mu.Unlock()

	inserted, err := c.store.InsertMessage(ctx, backend.NewMessage{
		ThreadID: threadID,
		SenderID: c.self,
		Content:  text,
	})
	if err != nil {
		c.logger.Error("failed to send message", "thread_id", threadID, "error", err)
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return inserted, nil
	}
	changed := c.apply(*inserted)
	if c.hint == TypingHintAfterSend {
		c.startTyping(gen)
		changed = true
	}
	if changed {
		c.notify()
	}
	return inserted, nil
}

// startTyping turns the indicator on and (re)arms its timer. c.mu must be held.
func (c *Conversation) startTyping(gen uint64) {
	c.stopTyping()
	c.typing = true
	c.typingSeq++
	seq := c.typingSeq
	c.typingTimer = c.clock.AfterFunc(TypingTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || seq != c.typingSeq || !c.typing {
			return
		}
		c.typing = false
		c.typingTimer = nil
		c.notify()
	})
}

// stopTyping clears the indicator and its timer. c.mu must be held.
func (c *Conversation) stopTyping() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingSeq++
	c.typing = false
}

// notify signals Updates without blocking. c.mu must be held.
func (c *Conversation) notify() {
	if c.updates == nil {
		return
	}
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Updates returns a channel that receives a value whenever the snapshot
// may have changed. It is closed when the thread is closed or replaced;
// call Updates again after Open.
func (c *Conversation) Updates() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updates == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.updates
}

func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]models.Message, len(c.messages))
	copy(messages, c.messages)
	return Snapshot{
		State:      c.state,
		ThreadID:   c.threadID,
		Messages:   messages,
		PeerTyping: c.typing,
		Err:        c.err,
	}
}

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ThreadID returns the open thread, or 0.
func (c *Conversation) ThreadID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// Self returns the signed-in user's id.
func (c *Conversation) Self() string { return c.self }
