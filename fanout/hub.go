// Package fanout broadcasts price updates and alert events to live
// subscribers. Delivery is best effort: every subscriber owns a bounded
// queue, and when a consumer stalls its oldest pending events are
// dropped so the rest of the system never blocks on it.
package fanout

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhaase/strompreis-go/calc"
	"github.com/mhaase/strompreis-go/types"
)

type EventType string

const (
	EventPrice EventType = "price"
	EventAlert EventType = "alert"
)

// Event is one fan-out message. Seq increases monotonically across all
// event types, so a consumer can detect that events were dropped by
// watching for holes in the sequence.
type Event struct {
	Seq   uint64             `json:"seq"`
	Type  EventType          `json:"type"`
	Time  time.Time          `json:"time"`
	Price *PriceUpdate       `json:"price,omitempty"`
	Alert *types.AlertEvent  `json:"alert,omitempty"`
}

// PriceUpdate carries the freshly ingested point together with its
// change relative to the preceding interval.
type PriceUpdate struct {
	Point types.PricePoint `json:"point"`
	Delta calc.Delta       `json:"delta"`
}

// Subscriber is one consumer's view of the hub. Read from Events until
// it closes.
type Subscriber struct {
	name    string
	ch      chan Event
	dropped atomic.Uint64
}

func (s *Subscriber) Name() string          { return s.name }
func (s *Subscriber) Events() <-chan Event  { return s.ch }
func (s *Subscriber) Dropped() uint64       { return s.dropped.Load() }

type Hub struct {
	logger *slog.Logger
	seq    atomic.Uint64

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("module", "fanout"),
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a consumer with the given queue capacity. The
// name only shows up in logs.
func (h *Hub) Subscribe(name string, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscriber{name: name, ch: make(chan Event, buffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("subscriber added", slog.String("name", name), slog.Int("buffer", buffer))
	return s
}

// Unsubscribe removes the consumer and closes its event channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()

	if ok {
		close(s.ch)
		h.logger.Debug("subscriber removed", slog.String("name", s.name))
	}
}

func (h *Hub) PublishPrice(point types.PricePoint, delta calc.Delta) {
	h.publish(Event{
		Type:  EventPrice,
		Time:  time.Now().UTC(),
		Price: &PriceUpdate{Point: point, Delta: delta},
	})
}

func (h *Hub) PublishAlert(event types.AlertEvent) {
	h.publish(Event{
		Type:  EventAlert,
		Time:  time.Now().UTC(),
		Alert: &event,
	})
}

func (h *Hub) publish(ev Event) {
	ev.Seq = h.seq.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}

		// Queue full. Make room by dropping the oldest pending event,
		// then try again without ever blocking the publisher.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}
