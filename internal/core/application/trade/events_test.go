package trade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

func TestEventBus(t *testing.T) {
	t.Parallel()

	stateIs := func(state domain.State) func(protocol.TradeEvent) bool {
		return func(ev protocol.TradeEvent) bool {
			return ev.Type == protocol.EventStateChanged && ev.State >= state
		}
	}
	newEvent := func(trade *domain.Trade) protocol.TradeEvent {
		return protocol.TradeEvent{
			Type:    protocol.EventStateChanged,
			TradeId: trade.Id,
			State:   trade.State,
		}
	}

	t.Run("waiter is notified once with the first matching event", func(t *testing.T) {
		t.Parallel()

		bus := NewEventBus()
		defer bus.Close()
		trade := &domain.Trade{Id: "trade"}

		ch := bus.WaitFor(context.Background(), trade.Id, stateIs(domain.StateContractSigned))

		trade.State = domain.StateMultisigCompleted
		bus.Publish(trade, newEvent(trade))
		select {
		case <-ch:
			t.Fatal("waiter notified by a non matching event")
		default:
		}

		trade.State = domain.StateContractSigned
		bus.Publish(trade, newEvent(trade))
		trade.State = domain.StateDepositTxsSeenInNetwork
		bus.Publish(trade, newEvent(trade))

		ev, ok := <-ch
		require.True(t, ok)
		require.Equal(t, domain.StateContractSigned, ev.State)
		_, ok = <-ch
		require.False(t, ok)
	})

	t.Run("waiters of other trades are not notified", func(t *testing.T) {
		t.Parallel()

		bus := NewEventBus()
		defer bus.Close()
		other := &domain.Trade{Id: "other", State: domain.StateTradeCompleted}

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		ch := bus.WaitFor(ctx, "trade", stateIs(domain.StatePreparation))
		bus.Publish(other, newEvent(other))

		_, ok := <-ch
		require.False(t, ok)
	})

	t.Run("waiter channel is closed when the context is done", func(t *testing.T) {
		t.Parallel()

		bus := NewEventBus()
		defer bus.Close()

		ctx, cancel := context.WithCancel(context.Background())
		ch := bus.WaitFor(ctx, "trade", stateIs(domain.StateTradeCompleted))
		cancel()

		_, ok := <-ch
		require.False(t, ok)

		// The canceled waiter is forgotten.
		require.Eventually(t, func() bool {
			bus.lock.Lock()
			defer bus.lock.Unlock()
			return len(bus.waiters) == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("listeners receive copies of the trades in order", func(t *testing.T) {
		t.Parallel()

		var (
			lock   sync.Mutex
			states []domain.State
			copies []*domain.Trade
		)
		bus := NewEventBus(func(trade *domain.Trade, ev protocol.TradeEvent) {
			lock.Lock()
			defer lock.Unlock()
			states = append(states, ev.State)
			copies = append(copies, trade)
		})

		trade := &domain.Trade{Id: "trade"}
		expected := []domain.State{
			domain.StateMultisigCompleted,
			domain.StateContractSigned,
			domain.StateArbitratorPublishedDepositTxs,
		}
		for _, state := range expected {
			trade.State = state
			bus.Publish(trade, newEvent(trade))
		}
		bus.Close()

		lock.Lock()
		defer lock.Unlock()
		require.Equal(t, expected, states)
		for i, c := range copies {
			require.NotSame(t, trade, c)
			require.Equal(t, expected[i], c.State)
		}
	})

	t.Run("publish after close is ignored by listeners", func(t *testing.T) {
		t.Parallel()

		var count int
		bus := NewEventBus(func(*domain.Trade, protocol.TradeEvent) { count++ })
		bus.Close()
		bus.Close()

		trade := &domain.Trade{Id: "trade"}
		require.NotPanics(t, func() { bus.Publish(trade, newEvent(trade)) })
		require.Zero(t, count)
	})
}
