package stream

import (
	"testing"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/backtest"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	go b.Run()
	defer b.Shutdown()

	client := &Client{ID: "test", Send: make(chan Message, 8)}
	b.Register(client)

	// Registration is asynchronous; wait for it to land.
	deadline := time.After(time.Second)
	for b.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	b.Emit(backtest.Event{
		Type:      backtest.EventRunStarted,
		RunID:     "run-1",
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Payload:   "BTCUSDT",
	})

	select {
	case msg := <-client.Send:
		if msg.Type != string(backtest.EventRunStarted) {
			t.Errorf("type = %v, want run_started", msg.Type)
		}
		if msg.RunID != "run-1" {
			t.Errorf("run id = %v, want run-1", msg.RunID)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestBroadcaster_SlowClientSkipped(t *testing.T) {
	b := NewBroadcaster(nil)
	go b.Run()
	defer b.Shutdown()

	// Unbuffered channel with no reader: every send would block.
	slow := &Client{ID: "slow", Send: make(chan Message)}
	b.Register(slow)

	deadline := time.After(time.Second)
	for b.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Must return promptly even though the client cannot receive.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Broadcast(Message{Type: "equity_sample"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestBroadcaster_ShutdownIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)
	go b.Run()

	b.Shutdown()
	b.Shutdown() // second call must not panic

	// Post-shutdown operations are safe no-ops.
	b.Broadcast(Message{Type: "warning"})
	b.Register(&Client{ID: "late", Send: make(chan Message, 1)})
}
