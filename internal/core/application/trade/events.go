package trade

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

const listenerQueueSize = 1024

// Listener is notified of every trade event, asynchronously and in order.
// The trade is a copy taken when the event was published.
type Listener func(trade *domain.Trade, event protocol.TradeEvent)

type queuedEvent struct {
	trade *domain.Trade
	event protocol.TradeEvent
}

// EventBus dispatches the events of the trades to one-shot waiters and to
// long-lived listeners.
type EventBus struct {
	lock      sync.Mutex
	nextId    uint64
	waiters   map[string]map[uint64]*waiter
	listeners []Listener

	queue  chan queuedEvent
	closed bool
	done   chan struct{}
}

type waiter struct {
	match func(protocol.TradeEvent) bool
	ch    chan protocol.TradeEvent
	done  chan struct{}
}

func NewEventBus(listeners ...Listener) *EventBus {
	b := &EventBus{
		waiters:   make(map[string]map[uint64]*waiter),
		listeners: listeners,
		queue:     make(chan queuedEvent, listenerQueueSize),
		done:      make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// AddListener must be called before any event is published.
func (b *EventBus) AddListener(l Listener) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.listeners = append(b.listeners, l)
}

// WaitFor returns a channel that receives the first event of the trade
// satisfying match, and is then closed. The channel is closed without
// receiving anything if ctx is done first.
func (b *EventBus) WaitFor(
	ctx context.Context, tradeId string, match func(protocol.TradeEvent) bool,
) <-chan protocol.TradeEvent {
	w := &waiter{
		match: match,
		ch:    make(chan protocol.TradeEvent, 1),
		done:  make(chan struct{}),
	}

	b.lock.Lock()
	id := b.nextId
	b.nextId++
	if _, ok := b.waiters[tradeId]; !ok {
		b.waiters[tradeId] = make(map[uint64]*waiter)
	}
	b.waiters[tradeId][id] = w
	b.lock.Unlock()

	go func() {
		select {
		case <-w.done:
		case <-ctx.Done():
			b.lock.Lock()
			defer b.lock.Unlock()
			if _, ok := b.waiters[tradeId][id]; ok {
				b.removeWaiter(tradeId, id)
				close(w.ch)
			}
		}
	}()
	return w.ch
}

// Publish notifies the waiters of the trade whose predicate is satisfied by
// the event, and enqueues the event for the listeners.
func (b *EventBus) Publish(trade *domain.Trade, event protocol.TradeEvent) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for id, w := range b.waiters[trade.Id] {
		if !w.match(event) {
			continue
		}
		b.removeWaiter(trade.Id, id)
		w.ch <- event
		close(w.ch)
		close(w.done)
	}

	if b.closed || len(b.listeners) <= 0 {
		return
	}
	select {
	case b.queue <- queuedEvent{trade.Clone(), event}:
	default:
		log.Warnf("event queue is full, dropping event of trade %s", trade.ShortId())
	}
}

// Close stops the dispatching of events to listeners. Queued events are
// delivered before returning.
func (b *EventBus) Close() {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.lock.Unlock()

	<-b.done
}

func (b *EventBus) dispatch() {
	defer close(b.done)
	for ev := range b.queue {
		b.lock.Lock()
		listeners := b.listeners
		b.lock.Unlock()

		for _, l := range listeners {
			l(ev.trade, ev.event)
		}
	}
}

func (b *EventBus) removeWaiter(tradeId string, id uint64) {
	delete(b.waiters[tradeId], id)
	if len(b.waiters[tradeId]) <= 0 {
		delete(b.waiters, tradeId)
	}
}

// tradeStore persists the trades updated by the protocol pipelines and
// publishes their events on the bus.
type tradeStore struct {
	repo domain.TradeRepository
	bus  *EventBus
}

func NewTradeStore(repo domain.TradeRepository, bus *EventBus) protocol.TradeStore {
	return &tradeStore{repo, bus}
}

func (s *tradeStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	return s.repo.SaveTrade(ctx, trade)
}

func (s *tradeStore) PublishEvent(trade *domain.Trade, event protocol.TradeEvent) {
	s.bus.Publish(trade, event)
}
