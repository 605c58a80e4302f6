package pubsub_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/application/pubsub"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

func TestPublishTradeEvent(t *testing.T) {
	t.Parallel()

	trade := newTestTrade(t)
	tests := []struct {
		name          string
		event         protocol.TradeEvent
		expectedTopic string
		expectedKey   string
		expectedValue string
	}{
		{
			name:          "state",
			event:         protocol.TradeEvent{Type: protocol.EventStateChanged, State: domain.StateDepositTxsSeenInNetwork},
			expectedTopic: pubsub.TopicTradeStateChanged,
			expectedKey:   "state",
			expectedValue: domain.StateDepositTxsSeenInNetwork.String(),
		},
		{
			name:          "payout",
			event:         protocol.TradeEvent{Type: protocol.EventPayoutStateChanged, PayoutState: domain.PayoutStatePublished},
			expectedTopic: pubsub.TopicPayoutStateChanged,
			expectedKey:   "payout_state",
			expectedValue: domain.PayoutStatePublished.String(),
		},
		{
			name:          "dispute",
			event:         protocol.TradeEvent{Type: protocol.EventDisputeStateChanged, DisputeState: domain.DisputeStateOpened},
			expectedTopic: pubsub.TopicDisputeStateChanged,
			expectedKey:   "dispute_state",
			expectedValue: domain.DisputeStateOpened.String(),
		},
		{
			name:          "failed_step",
			event:         protocol.TradeEvent{Type: protocol.EventStepFailed, Task: "verify payout tx", Err: errors.New("boom")},
			expectedTopic: pubsub.TopicTradeFailedStep,
			expectedKey:   "error",
			expectedValue: "boom",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ps := &mockSecurePubSub{}
			ps.On("Publish", tt.expectedTopic, mock.Anything).Return(nil).Once()

			svc := pubsub.NewService(ps)
			svc.PublishTradeEvent(trade, tt.event)

			ps.AssertExpectations(t)
			message := ps.Calls[0].Arguments.String(1)
			payload := map[string]interface{}{}
			require.NoError(t, json.Unmarshal([]byte(message), &payload))
			require.Equal(t, tt.expectedTopic, payload["event"])
			require.Equal(t, trade.Id, payload["trade_id"])
			require.Equal(t, tt.expectedValue, payload[tt.expectedKey])
		})
	}

	t.Run("publish_failure_is_not_fatal", func(t *testing.T) {
		t.Parallel()

		ps := &mockSecurePubSub{}
		ps.On("Publish", mock.Anything, mock.Anything).Return(errors.New("unreachable"))

		svc := pubsub.NewService(ps)
		require.NotPanics(t, func() {
			svc.PublishTradeEvent(trade, protocol.TradeEvent{Type: protocol.EventStateChanged})
		})
	})
}

func TestWebhooks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ps := &mockSecurePubSub{}
	ps.On("Subscribe", pubsub.TopicTradeStateChanged, "http://localhost/hook", "secret").
		Return("hook_id", nil)
	ps.On("Unsubscribe", ports.UnspecifiedTopic, "hook_id").Return(nil)
	ps.On("ListSubscriptionsForTopic", ports.UnspecifiedTopic).
		Return([]ports.Subscription{&mockSubscription{}})

	svc := pubsub.NewService(ps)

	_, err := svc.AddWebhook(ctx, pubsub.Webhook{Topic: "UNKNOWN", Endpoint: "http://localhost/hook"})
	require.Error(t, err)

	id, err := svc.AddWebhook(ctx, pubsub.Webhook{
		Topic: pubsub.TopicTradeStateChanged, Endpoint: "http://localhost/hook", Secret: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "hook_id", id)

	hooks, err := svc.ListWebhooks(ctx, ports.UnspecifiedTopic)
	require.NoError(t, err)
	require.Equal(t, []pubsub.Webhook{{
		Id:        "hook_id",
		Topic:     pubsub.TopicTradeStateChanged,
		Endpoint:  "http://localhost/hook",
		IsSecured: true,
	}}, hooks)

	_, err = svc.ListWebhooks(ctx, "UNKNOWN")
	require.Error(t, err)

	require.NoError(t, svc.RemoveWebhook(ctx, id))
	ps.AssertExpectations(t)
}

func newTestTrade(t *testing.T) *domain.Trade {
	offer := domain.Offer{
		Id:                    "3d1b6a0e-5b43-4b39-a8f6-0b8c3e6f7a21",
		Direction:             domain.DirectionSell,
		Amount:                10000,
		MinAmount:             1000,
		Price:                 decimal.NewFromInt(150),
		CounterCurrency:       "EUR",
		BuyerSecurityDeposit:  1000,
		SellerSecurityDeposit: 2000,
		MakerFee:              100,
		PaymentMethodId:       "SEPA",
		MakerNodeAddress:      "maker.onion:9999",
		MakerPubKeyRing:       domain.PubKeyRing{SignaturePubKey: []byte{1}, EncryptionPubKey: []byte{2}},
		ArbitratorNodeAddress: "arbitrator.onion:9999",
	}
	trade, err := domain.NewTrade(offer, domain.RoleTaker, 10000, 100, "taker.onion:9999")
	require.NoError(t, err)
	return trade
}

type mockSecurePubSub struct {
	mock.Mock
}

func (m *mockSecurePubSub) Store() ports.PubSubStore {
	args := m.Called()
	return args.Get(0).(ports.PubSubStore)
}

func (m *mockSecurePubSub) Subscribe(topic, endpoint, secret string) (string, error) {
	args := m.Called(topic, endpoint, secret)
	return args.String(0), args.Error(1)
}

func (m *mockSecurePubSub) Unsubscribe(topic, id string) error {
	args := m.Called(topic, id)
	return args.Error(0)
}

func (m *mockSecurePubSub) ListSubscriptionsForTopic(topic string) []ports.Subscription {
	args := m.Called(topic)
	return args.Get(0).([]ports.Subscription)
}

func (m *mockSecurePubSub) Publish(topic string, message string) error {
	args := m.Called(topic, message)
	return args.Error(0)
}

type mockSubscription struct{}

func (mockSubscription) Topic() string    { return pubsub.TopicTradeStateChanged }
func (mockSubscription) Id() string       { return "hook_id" }
func (mockSubscription) IsSecured() bool  { return true }
func (mockSubscription) NotifyAt() string { return "http://localhost/hook" }
