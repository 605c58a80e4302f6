package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MailboxMessage is an encoded protocol message waiting to be delivered to a
// peer that was offline when the message was sent.
type MailboxMessage struct {
	Id                  string
	TradeId             string
	Type                MessageType
	RecipientAddress    string
	RecipientPubKeyRing PubKeyRing
	Payload             []byte
	Attempts            int
	CreatedAt           int64
	LastAttemptAt       int64
}

func NewMailboxMessage(
	recipient string, ring PubKeyRing, msg TradeMessage, payload []byte,
) *MailboxMessage {
	return &MailboxMessage{
		Id:                  uuid.New().String(),
		TradeId:             msg.Header().TradeId,
		Type:                msg.Type(),
		RecipientAddress:    recipient,
		RecipientPubKeyRing: ring,
		Payload:             payload,
		CreatedAt:           time.Now().Unix(),
	}
}

// MailboxRepository persists the outgoing mailbox messages.
type MailboxRepository interface {
	AddMessage(ctx context.Context, msg *MailboxMessage) error
	GetMessagesForRecipient(ctx context.Context, address string) ([]*MailboxMessage, error)
	GetAllMessages(ctx context.Context) ([]*MailboxMessage, error)
	UpdateMessage(
		ctx context.Context,
		id string,
		updateFn func(m *MailboxMessage) (*MailboxMessage, error),
	) error
	DeleteMessage(ctx context.Context, id string) error
}
