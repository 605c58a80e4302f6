package application

import (
	"context"

	"github.com/tdex-network/escrowd/internal/core/application/pubsub"
)

type PubSubService interface {
	AddWebhook(ctx context.Context, hook pubsub.Webhook) (string, error)
	RemoveWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context, topic string) ([]pubsub.Webhook, error)
	Close()
}
