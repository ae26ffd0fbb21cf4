package local

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/models"
)

const subscriptionBuffer = 64

var (
	errBrokerClosed = errors.New("realtime broker closed")
	errSlowReader   = errors.New("subscription buffer exceeded")
)

// Broker fans inserted messages out to subscriptions, grouped in rooms
// keyed by the subscription filter ("thread_id=eq.7").
type Broker struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*subscription
	closed bool
}

func NewBroker() *Broker {
	return &Broker{rooms: make(map[string]map[string]*subscription)}
}

func (b *Broker) Subscribe(ctx context.Context, req backend.SubscribeRequest) (backend.Subscription, error) {
	if req.Relation != backend.RelationMessages || req.Event != backend.EventInsert {
		return nil, &backend.APIError{StatusCode: 400, Message: "only message inserts can be subscribed to"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscription{
		id:     uuid.NewString(),
		room:   req.Filter.String(),
		broker: b,
		events: make(chan backend.ChangeEvent, subscriptionBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBrokerClosed
	}
	room := b.rooms[sub.room]
	if room == nil {
		room = make(map[string]*subscription)
		b.rooms[sub.room] = room
	}
	room[sub.id] = sub
	return sub, nil
}

// Publish delivers msg to every subscription filtered on its thread.
func (b *Broker) Publish(msg models.Message) {
	record, err := json.Marshal(msg)
	if err != nil {
		return
	}
	event := backend.ChangeEvent{
		Relation: backend.RelationMessages,
		Type:     backend.EventInsert,
		Record:   record,
	}
	key := backend.Filter{Column: "thread_id", Value: strconv.FormatInt(msg.ThreadID, 10)}.String()

	b.mu.RLock()
	var slow []*subscription
	for _, sub := range b.rooms[key] {
		select {
		case sub.events <- event:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		sub.end(errSlowReader)
	}
}

// Close ends every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	var subs []*subscription
	for _, room := range b.rooms {
		for _, sub := range room {
			subs = append(subs, sub)
		}
	}
	b.rooms = make(map[string]map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.end(errBrokerClosed)
	}
	return nil
}

func (b *Broker) leave(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.rooms[sub.room]
	if room == nil {
		return
	}
	delete(room, sub.id)
	if len(room) == 0 {
		delete(b.rooms, sub.room)
	}
}

type subscription struct {
	id     string
	room   string
	broker *Broker
	events chan backend.ChangeEvent

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) Events() <-chan backend.ChangeEvent { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.end(nil)
	return nil
}

// end removes the subscription from its room before closing the channel
// so Publish never sends on a closed channel.
func (s *subscription) end(err error) {
	s.once.Do(func() {
		s.broker.leave(s)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}
