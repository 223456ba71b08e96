// Package bus is the process-wide broadcast channel that carries every
// outbound protocol message to every connected client.
//
// Subscribers own a bounded queue. Publishing never blocks: when a
// subscriber's queue is full the message is dropped for that subscriber
// only.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/tourlab/termbroker/internal/protocol"
)

// DefaultCapacity is the per-subscriber queue length.
const DefaultCapacity = 100

// Subscription is one subscriber's view of the bus. Frames are encoded
// protocol messages, ready to be written to the socket.
type Subscription struct {
	id      string
	ch      chan []byte
	once    sync.Once
	dropped atomic.Int64
}

// ID returns the subscriber id the subscription was created with.
func (s *Subscription) ID() string { return s.id }

// C returns the queue. It is closed when the subscription is removed.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Dropped reports how many frames were discarded because the queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus fans messages out to all subscribers.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	capacity int
}

// New returns an empty bus whose subscribers buffer up to capacity frames.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[string]*Subscription),
		capacity: capacity,
	}
}

// Subscribe registers id. Subscribing an id twice replaces the old
// subscription, whose queue is closed.
func (b *Bus) Subscribe(id string) *Subscription {
	sub := &Subscription{id: id, ch: make(chan []byte, b.capacity)}
	b.mu.Lock()
	old, ok := b.subs[id]
	b.subs[id] = sub
	b.mu.Unlock()
	if ok {
		old.close()
	}
	return sub
}

// Unsubscribe removes id and closes its queue. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish encodes m once and offers it to every subscriber. It returns the
// number of subscribers that accepted the frame.
func (b *Bus) Publish(m protocol.Message) int {
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("type", m.Type).Msg("Dropping unencodable message")
		return 0
	}
	return b.PublishFrame(frame)
}

// PublishFrame offers an already-encoded frame to every subscriber.
func (b *Bus) PublishFrame(frame []byte) int {
	// The read lock is held while sending so Unsubscribe cannot close a
	// queue mid-send. Sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		if offer(sub, frame) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers m to a single subscriber. It reports false when the
// subscriber is unknown or its queue is full.
func (b *Bus) SendTo(id string, m protocol.Message) bool {
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("type", m.Type).Msg("Dropping unencodable message")
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	return offer(sub, frame)
}

func offer(sub *Subscription, frame []byte) bool {
	select {
	case sub.ch <- frame:
		return true
	default:
		if n := sub.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warn().Str("connection_id", sub.id).Int64("dropped", n).Msg("Subscriber queue full, dropping message")
		}
		return false
	}
}

// Close removes every subscriber and closes their queues. Frames already
// queued can still be drained.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
