package events

import (
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// Sink persists published events. Errors are logged and never block publishing.
type Sink interface {
	AppendEvent(e Event) error
}

// Options configure a Bus.
type Options struct {
	// HistorySize is the number of events kept for replay.
	HistorySize int
	// SubscriberBuffer is the live buffer of each subscription.
	SubscriberBuffer int
	// Sink, if set, receives every published event.
	Sink Sink
	// StartSeq is the last sequence already used, for resuming a persisted stream.
	StartSeq uint64
}

// Bus sequences events, keeps a bounded history and fans out to subscribers.
// Publish is expected to be called from a single writer; the bus still locks
// so subscriptions can come and go from other goroutines.
type Bus struct {
	mu      sync.Mutex
	project string
	seq     uint64
	// history is a ring buffer of the most recent events.
	history []Event
	head    int
	size    int
	// snapshots holds the latest event of each snapshot kind.
	snapshots map[Kind]Event
	subs      map[*Subscription]struct{}
	bufSize   int
	sink      Sink
	closed    bool
	now       func() time.Time
}

// NewBus creates a bus for one project.
func NewBus(project string, opts Options) *Bus {
	if opts.HistorySize < 1 {
		opts.HistorySize = 1024
	}
	if opts.SubscriberBuffer < 1 {
		opts.SubscriberBuffer = 256
	}
	return &Bus{
		project:   project,
		seq:       opts.StartSeq,
		history:   make([]Event, opts.HistorySize),
		snapshots: make(map[Kind]Event),
		subs:      make(map[*Subscription]struct{}),
		bufSize:   opts.SubscriberBuffer,
		sink:      opts.Sink,
		now:       time.Now,
	}
}

// Publish sequences a payload and delivers it. It returns the published event.
func (b *Bus) Publish(p Payload) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e := Event{Seq: b.seq, Kind: p.Kind(), Project: b.project, Time: b.now(), Payload: p}

	b.history[(b.head+b.size)%len(b.history)] = e
	if b.size < len(b.history) {
		b.size++
	} else {
		b.head = (b.head + 1) % len(b.history)
	}
	if e.Kind.IsSnapshot() {
		b.snapshots[e.Kind] = e
	}

	if b.sink != nil {
		if err := b.sink.AppendEvent(e); err != nil {
			log.Printf("[events] persist seq=%d kind=%s: %v", e.Seq, e.Kind, err)
		}
	}

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			// Cut the subscriber off rather than drop events silently.
			sub.lagged.Store(true)
			b.dropLocked(sub)
			log.Printf("[events] subscriber lagged at seq=%d, disconnected", e.Seq)
		}
	}
	return e
}

// Seq returns the last published sequence number.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Latest returns the most recent snapshot event of a kind.
func (b *Bus) Latest(kind Kind) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.snapshots[kind]
	return e, ok
}

// History returns buffered events with Seq > since.
func (b *Bus) History(since uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.historyLocked(since)
}

func (b *Bus) historyLocked(since uint64) []Event {
	var out []Event
	for i := 0; i < b.size; i++ {
		e := b.history[(b.head+i)%len(b.history)]
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

// oldestLocked returns the sequence of the oldest buffered event, or seq+1 if empty.
func (b *Bus) oldestLocked() uint64 {
	if b.size == 0 {
		return b.seq + 1
	}
	return b.history[b.head].Seq
}

// Subscribe replays events after since and then tails live events.
//
// If events after since were already evicted, the latest snapshot of each kind
// older than the buffered history is replayed first and the subscription is
// marked Truncated. Replay stays in sequence order.
func (b *Bus) Subscribe(since uint64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	var replay []Event
	truncated := false
	if oldest := b.oldestLocked(); since+1 < oldest && since < b.seq {
		truncated = true
		for _, e := range b.snapshots {
			if e.Seq > since && e.Seq < oldest {
				replay = append(replay, e)
			}
		}
		sort.Slice(replay, func(i, j int) bool { return replay[i].Seq < replay[j].Seq })
	}
	replay = append(replay, b.historyLocked(since)...)

	sub := &Subscription{
		bus:       b,
		ch:        make(chan Event, len(replay)+b.bufSize),
		truncated: truncated,
	}
	for _, e := range replay {
		sub.ch <- e
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are still sequenced and persisted.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		b.dropLocked(sub)
	}
}

func (b *Bus) dropLocked(sub *Subscription) {
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Subscription is a live view of the stream.
type Subscription struct {
	bus       *Bus
	ch        chan Event
	truncated bool
	lagged    atomic.Bool
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Truncated reports whether history was lost between the requested sequence and the replay.
func (s *Subscription) Truncated() bool {
	return s.truncated
}

// Lagged reports whether the subscription was cut off for falling behind.
// The consumer should resubscribe from its last seen sequence.
func (s *Subscription) Lagged() bool {
	return s.lagged.Load()
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.dropLocked(s)
}
