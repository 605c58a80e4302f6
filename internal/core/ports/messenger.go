package ports

import (
	"context"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

// InboundMessage is a protocol message received from a peer. FromMailbox is
// true for messages that were stored while the local node was offline.
type InboundMessage struct {
	SenderAddress string
	Message       domain.TradeMessage
	FromMailbox   bool
}

// Messenger is the p2p transport among trade participants. Messages are
// authenticated and encrypted end-to-end with the recipient's key ring.
type Messenger interface {
	NodeAddress() string
	// SendDirectMessage blocks until the recipient's transport acknowledges
	// the message or the context is done.
	SendDirectMessage(
		ctx context.Context, address string, ring domain.PubKeyRing,
		msg domain.TradeMessage,
	) error
	// SendMailboxMessage tries a direct send and, if the recipient is
	// unreachable, stores the message for later delivery. It returns whether
	// the message was stored rather than delivered.
	SendMailboxMessage(
		ctx context.Context, address string, ring domain.PubKeyRing,
		msg domain.TradeMessage,
	) (bool, error)
	// Inbox delivers the received messages in batches: direct messages come
	// alone, stored mailbox messages are delivered all together.
	Inbox() <-chan []InboundMessage
	Start(ctx context.Context) error
	Stop()
}

// KeyRing holds the node's signing and encryption keys.
type KeyRing interface {
	PubKeyRing() domain.PubKeyRing
	Sign(data []byte) ([]byte, error)
	Verify(pubkey, data, sig []byte) bool
	Seal(peerEncryptionPubKey, plaintext []byte) ([]byte, error)
	Open(peerEncryptionPubKey, ciphertext []byte) ([]byte, error)
}
