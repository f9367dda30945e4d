package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	evt := ExchangeEvent{
		RequestID:   "req-1",
		ClientOrg:   "GOV-001",
		ProviderOrg: "HEALTH-002",
		ServiceCode: "get-patient",
		Status:      "success",
		StatusCode:  200,
		Timestamp:   time.Now().UTC(),
	}
	s.Publish(evt)

	for _, ch := range []<-chan ExchangeEvent{a, b} {
		select {
		case got := <-ch:
			if got.RequestID != "req-1" {
				t.Fatalf("RequestID = %q, want req-1", got.RequestID)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestSubscribeClosesOnContextDone(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got an event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after context cancel")
	}

	// Publish after unsubscribe must not panic.
	s.Publish(ExchangeEvent{RequestID: "req-2"})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(ExchangeEvent{RequestID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
