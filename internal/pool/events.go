// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/metrics"
	"github.com/ManuGH/tempus/internal/timeline"
)

// EventKind identifies a pool state transition.
type EventKind int

const (
	EventChildAdded EventKind = iota + 1
	EventChildRemoved
	EventDeviceTypeChanged
	EventTimeWindowChanged
	EventTimeChanged
	EventSettingsChanged
	EventStreamingChanged
)

func (k EventKind) String() string {
	switch k {
	case EventChildAdded:
		return "child_added"
	case EventChildRemoved:
		return "child_removed"
	case EventDeviceTypeChanged:
		return "device_type_changed"
	case EventTimeWindowChanged:
		return "time_window_changed"
	case EventTimeChanged:
		return "time_changed"
	case EventSettingsChanged:
		return "settings_changed"
	case EventStreamingChanged:
		return "streaming_changed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event describes one transition. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	Handle     Handle
	Name       string
	DeviceType device.Type
	Window     timeline.RangeList
	Time       timeline.Time
	Settings   Settings
	Streaming  bool
}

// SubscriptionBuffer is the per-subscriber event backlog.
const SubscriptionBuffer = 64

const dropLogEvery = 100

var dropCount atomic.Uint64

// Broker fans events out to subscribers. Publish never blocks: a full
// subscriber loses the event.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBroker returns a broker without subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Publish delivers e to every subscriber with room for it.
func (b *Broker) Publish(e Event) {
	metrics.IncEventPublished(e.Kind.String())

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			metrics.IncEventDropReason(e.Kind.String(), "full")
			count := dropCount.Add(1)
			if count%dropLogEvery == 1 {
				logger := log.WithComponent("pool")
				logger.Warn().
					Str(log.FieldEvent, "pool.event_dropped").
					Str("kind", e.Kind.String()).
					Uint64("dropped", count).
					Msg("subscriber backlog full, dropping pool event")
			}
		}
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscription {
	s := &Subscription{b: b, ch: make(chan Event, SubscriptionBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscription receives pool events until closed.
type Subscription struct {
	b    *Broker
	ch   chan Event
	once sync.Once
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		close(s.ch)
		s.b.mu.Unlock()
	})
}
