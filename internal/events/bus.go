package events

import (
	"sync"
	"time"

	"github.com/raysh454/webaudit/internal/logging"
)

const defaultBuffer = 64

// Bus is an in-process fan-out of events. Emit never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger logging.Logger
	now    func() time.Time
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	id    uint64
	ch    chan Event
	kinds map[Kind]struct{}
	bus   *Bus
	once  sync.Once
}

var _ Emitter = (*Bus)(nil)

func NewBus(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger.With(logging.Field{Key: "component", Value: "event_bus"}),
		now:    time.Now,
	}
}

// Subscribe registers a subscriber. buffer <= 0 uses a default size. With
// no kinds every event is delivered.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Emit stamps ev and hands it to every matching subscriber.
func (b *Bus) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.kinds != nil {
			if _, ok := sub.kinds[ev.Kind]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				logging.Field{Key: "event", Value: ev.Name},
				logging.Field{Key: "subscriber", Value: sub.id})
		}
	}
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s.id]; ok {
			delete(b.subs, s.id)
			close(s.ch)
		}
	})
}

// Close closes every subscription. Later emits are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
