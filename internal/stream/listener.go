// Package stream - listener.go relays Postgres NOTIFY events into the
// broadcast feed so runs persisted by other processes reach the same
// observers.
package stream

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"
)

// notify channels other processes publish on.
var listenChannels = []string{
	"backtest_run_completed",
	"backtest_trade_closed",
}

// EventListener listens for PostgreSQL notifications and rebroadcasts them.
type EventListener struct {
	dbURL       string
	logger      *log.Logger
	broadcaster *Broadcaster
	shutdown    chan struct{}
}

// NewEventListener creates a listener. A nil logger uses the default.
func NewEventListener(dbURL string, broadcaster *Broadcaster, logger *log.Logger) *EventListener {
	if logger == nil {
		logger = log.New(log.Writer(), "[stream] ", log.LstdFlags)
	}
	return &EventListener{
		dbURL:       dbURL,
		logger:      logger,
		broadcaster: broadcaster,
		shutdown:    make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (el *EventListener) Start(ctx context.Context) {
	go el.listenLoop(ctx)
}

// Stop terminates the listen loop.
func (el *EventListener) Stop() { close(el.shutdown) }

func (el *EventListener) listenLoop(ctx context.Context) {
	defer el.logger.Println("event listener: shutting down")

	minRetryDelay := 100 * time.Millisecond
	maxRetryDelay := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
		}

		listener := pq.NewListener(el.dbURL, minRetryDelay, maxRetryDelay, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				el.logger.Printf("event listener: %v", err)
			}
		})

		if err := el.subscribe(listener); err != nil {
			el.logger.Printf("event listener: subscribe failed: %v", err)
			listener.Close()
			time.Sleep(maxRetryDelay)
			continue
		}

		if err := el.handleNotifications(ctx, listener); err != nil && err != context.Canceled {
			el.logger.Printf("event listener: %v", err)
		}
		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
			time.Sleep(minRetryDelay)
		}
	}
}

func (el *EventListener) subscribe(listener *pq.Listener) error {
	for _, channel := range listenChannels {
		if err := listener.Listen(channel); err != nil {
			return err
		}
		el.logger.Printf("event listener: listening on channel %q", channel)
	}
	return nil
}

func (el *EventListener) handleNotifications(ctx context.Context, listener *pq.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-el.shutdown:
			return nil
		case notification := <-listener.Notify:
			if notification == nil {
				// Connection reset; the outer loop reconnects.
				return nil
			}
			el.broadcaster.Broadcast(Message{
				Type:      notification.Channel,
				Data:      notification.Extra,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}
