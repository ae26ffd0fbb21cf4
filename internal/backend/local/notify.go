package local

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/saravenpi/supachat/internal/backend/sqlstore"
	"github.com/saravenpi/supachat/internal/models"
)

// notifyRelay forwards PostgreSQL NOTIFY payloads from the messages
// trigger into the broker, so inserts from any client reach subscribers.
type notifyRelay struct {
	listener *pq.Listener
	broker   *Broker
	logger   *slog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
}

func startNotifyRelay(dsn string, broker *Broker, logger *slog.Logger) (*notifyRelay, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("notify listener event", "event", ev, "error", err)
		}
	}

	listener := pq.NewListener(dsn, time.Second, time.Minute, report)
	if err := listener.Listen(sqlstore.NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", sqlstore.NotifyChannel, err)
	}

	r := &notifyRelay{
		listener: listener,
		broker:   broker,
		logger:   logger,
		done:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r, nil
}

func (r *notifyRelay) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case n, ok := <-r.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect; anything sent meanwhile is lost.
			if n == nil {
				r.logger.Info("notify listener reconnected")
				continue
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(n.Extra), &msg); err != nil {
				r.logger.Warn("dropping malformed notification", "error", err)
				continue
			}
			r.broker.Publish(msg)
		case <-time.After(90 * time.Second):
			go r.listener.Ping()
		}
	}
}

func (r *notifyRelay) Close() error {
	close(r.done)
	err := r.listener.Close()
	r.wg.Wait()
	return err
}
