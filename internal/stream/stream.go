package stream

import (
	"context"
	"sync"
	"time"
)

// ExchangeEvent describes one completed gateway exchange for live dashboards.
type ExchangeEvent struct {
	RequestID      string    `json:"request_id"`
	ClientOrg      string    `json:"client_org"`
	ClientSub      string    `json:"client_subsystem,omitempty"`
	ProviderOrg    string    `json:"provider_org"`
	ProviderSub    string    `json:"provider_subsystem,omitempty"`
	ServiceCode    string    `json:"service_code"`
	ServiceVersion string    `json:"service_version,omitempty"`
	Status         string    `json:"status"`
	StatusCode     int       `json:"status_code"`
	DurationMs     int64     `json:"duration_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stream fan-outs exchange events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ExchangeEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ExchangeEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ExchangeEvent {
	ch := make(chan ExchangeEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt ExchangeEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
