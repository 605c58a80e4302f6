// Package p2p contains what is shared by the p2p transports: the sealed
// envelope wrapping every protocol message on the wire.
package p2p

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

var (
	ErrPeerOffline      = errors.New("peer is offline")
	ErrNotMailboxType   = errors.New("message type can't be stored in mailbox")
	ErrSenderMismatch   = errors.New("envelope sender does not match message header")
	ErrMissingRecipient = errors.New("missing recipient encryption pubkey")
)

// Envelope is a protocol message encrypted for its recipient. The sender's
// encryption pubkey travels in clear so that the recipient can open it.
type Envelope struct {
	SenderAddress   string `json:"senderAddress"`
	SenderEncPubKey []byte `json:"senderEncPubKey"`
	Ciphertext      []byte `json:"ciphertext"`
}

// Seal encodes and encrypts msg for the owner of the given key ring.
func Seal(
	keyring ports.KeyRing, senderAddress string, recipient domain.PubKeyRing,
	msg domain.TradeMessage,
) (*Envelope, error) {
	if len(recipient.EncryptionPubKey) <= 0 {
		return nil, ErrMissingRecipient
	}
	buf, err := domain.EncodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}
	ciphertext, err := keyring.Seal(recipient.EncryptionPubKey, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to seal %s: %w", msg.Type(), err)
	}
	return &Envelope{
		SenderAddress:   senderAddress,
		SenderEncPubKey: keyring.PubKeyRing().EncryptionPubKey,
		Ciphertext:      ciphertext,
	}, nil
}

// Open decrypts and decodes the envelope. The message header must match the
// sender's address and encryption key.
func Open(keyring ports.KeyRing, env *Envelope) (*ports.InboundMessage, error) {
	buf, err := keyring.Open(env.SenderEncPubKey, env.Ciphertext)
	if err != nil {
		return nil, err
	}
	msg, err := domain.DecodeMessage(buf)
	if err != nil {
		return nil, err
	}
	header := msg.Header()
	if header.SenderNodeAddress != env.SenderAddress ||
		!bytes.Equal(header.SenderPubKeyRing.EncryptionPubKey, env.SenderEncPubKey) {
		return nil, ErrSenderMismatch
	}
	return &ports.InboundMessage{
		SenderAddress: env.SenderAddress,
		Message:       msg,
	}, nil
}
