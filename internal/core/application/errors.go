package application

import "errors"

var (
	// ErrUnsupportedDBType is returned if the configured db type is unknown.
	ErrUnsupportedDBType = errors.New("unsupported db type")
	// ErrWebhookManagerNotInitialized is returned when attempting to manage
	// webhooks without a pubsub service.
	ErrWebhookManagerNotInitialized = errors.New("webhook manager is not initialized")
)
