package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

const (
	TopicTradeStateChanged   = "TRADE_STATE_CHANGED"
	TopicPayoutStateChanged  = "PAYOUT_STATE_CHANGED"
	TopicDisputeStateChanged = "DISPUTE_STATE_CHANGED"
	TopicTradeFailedStep     = "TRADE_FAILED_STEP"
)

var topics = map[string]struct{}{
	TopicTradeStateChanged:   {},
	TopicPayoutStateChanged:  {},
	TopicDisputeStateChanged: {},
	TopicTradeFailedStep:     {},
	ports.AnyTopic:           {},
}

// Webhook is the subscription of an endpoint to a topic.
type Webhook struct {
	Id        string `json:"id,omitempty"`
	Topic     string `json:"topic"`
	Endpoint  string `json:"endpoint"`
	Secret    string `json:"secret,omitempty"`
	IsSecured bool   `json:"isSecured"`
}

type Service struct {
	pubsub ports.SecurePubSub
}

func NewService(pubsub ports.SecurePubSub) *Service {
	return &Service{pubsub}
}

func (s *Service) AddWebhook(_ context.Context, hook Webhook) (string, error) {
	if _, ok := topics[hook.Topic]; !ok {
		return "", fmt.Errorf("invalid webhook topic %q", hook.Topic)
	}
	return s.pubsub.Subscribe(hook.Topic, hook.Endpoint, hook.Secret)
}

func (s *Service) RemoveWebhook(_ context.Context, id string) error {
	return s.pubsub.Unsubscribe(ports.UnspecifiedTopic, id)
}

// ListWebhooks returns the webhooks for the given topic, or all of them if
// the topic is unspecified.
func (s *Service) ListWebhooks(_ context.Context, topic string) ([]Webhook, error) {
	if _, ok := topics[topic]; !ok && topic != ports.UnspecifiedTopic {
		return nil, fmt.Errorf("invalid webhook topic %q", topic)
	}
	subs := s.pubsub.ListSubscriptionsForTopic(topic)
	hooks := make([]Webhook, 0, len(subs))
	for _, sub := range subs {
		hooks = append(hooks, Webhook{
			Id:        sub.Id(),
			Topic:     sub.Topic(),
			Endpoint:  sub.NotifyAt(),
			IsSecured: sub.IsSecured(),
		})
	}
	return hooks, nil
}

// PublishTradeEvent notifies the subscribers of the topic matching the
// event. Delivery is best effort, failures are only logged.
func (s *Service) PublishTradeEvent(trade *domain.Trade, event protocol.TradeEvent) {
	topic, payload := tradeEventPayload(trade, event)
	message, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Warn("failed to serialize trade event")
		return
	}
	if err := s.pubsub.Publish(topic, string(message)); err != nil {
		log.WithError(err).Warnf(
			"an error occured while publishing message for topic %s", topic,
		)
	}
}

func (s *Service) Close() {
	//nolint
	s.pubsub.Store().Close()
}

func tradeEventPayload(
	trade *domain.Trade, event protocol.TradeEvent,
) (string, map[string]interface{}) {
	payload := map[string]interface{}{
		"trade_id":  trade.Id,
		"offer_id":  trade.Offer.Id,
		"role":      trade.Role.String(),
		"timestamp": time.Now().Unix(),
	}

	var topic string
	switch event.Type {
	case protocol.EventStateChanged:
		topic = TopicTradeStateChanged
		payload["state"] = event.State.String()
		payload["phase"] = event.State.Phase().String()
	case protocol.EventPayoutStateChanged:
		topic = TopicPayoutStateChanged
		payload["payout_state"] = event.PayoutState.String()
		if len(trade.PayoutTxHash) > 0 {
			payload["payout_txid"] = trade.PayoutTxHash
		}
	case protocol.EventDisputeStateChanged:
		topic = TopicDisputeStateChanged
		payload["dispute_state"] = event.DisputeState.String()
	default:
		topic = TopicTradeFailedStep
		payload["state"] = trade.State.String()
		payload["task"] = event.Task
		if event.Err != nil {
			payload["error"] = event.Err.Error()
		}
	}
	payload["event"] = topic
	return topic, payload
}
