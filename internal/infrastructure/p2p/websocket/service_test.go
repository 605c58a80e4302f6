package wstransport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p"
	wstransport "github.com/tdex-network/escrowd/internal/infrastructure/p2p/websocket"
	"github.com/tdex-network/escrowd/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/escrowd/pkg/keyring"
)

var ctx = context.Background()

type node struct {
	ports.Messenger
	keyring *keyring.KeyRing
	outbox  domain.MailboxRepository
}

func newNode(t *testing.T, address string) *node {
	kr, err := keyring.New()
	require.NoError(t, err)
	outbox := inmemory.NewMailboxRepositoryImpl()
	svc, err := wstransport.NewService(wstransport.Config{
		ListenAddress:  address,
		PublicAddress:  address,
		KeyRing:        kr,
		Outbox:         outbox,
		AckTimeout:     2 * time.Second,
		ResendInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return &node{svc, kr, outbox}
}

func TestDirectMessage(t *testing.T) {
	t.Parallel()

	alice := newNode(t, freeAddress(t))
	bob := newNode(t, freeAddress(t))
	require.NoError(t, alice.Start(ctx))

	msg := &domain.PaymentAccountKeyRequest{
		MessageHeader: domain.NewMessageHeader(
			"trade", alice.NodeAddress(), alice.keyring.PubKeyRing(),
		),
	}

	err := alice.SendDirectMessage(ctx, bob.NodeAddress(), bob.keyring.PubKeyRing(), msg)
	require.ErrorIs(t, err, p2p.ErrPeerOffline)

	require.NoError(t, bob.Start(ctx))
	err = alice.SendDirectMessage(ctx, bob.NodeAddress(), bob.keyring.PubKeyRing(), msg)
	require.NoError(t, err)

	batch := receive(t, bob)
	require.Len(t, batch, 1)
	require.False(t, batch[0].FromMailbox)
	require.Equal(t, msg.Uid, batch[0].Message.Header().Uid)

	// A message sealed for someone else is rejected.
	other, err := keyring.New()
	require.NoError(t, err)
	err = alice.SendDirectMessage(ctx, bob.NodeAddress(), other.PubKeyRing(), msg)
	require.Error(t, err)
}

func TestOutboxResend(t *testing.T) {
	t.Parallel()

	alice := newNode(t, freeAddress(t))
	bob := newNode(t, freeAddress(t))
	require.NoError(t, alice.Start(ctx))

	header := domain.NewMessageHeader("trade", alice.NodeAddress(), alice.keyring.PubKeyRing())
	msgs := []domain.TradeMessage{
		&domain.PaymentSentMessage{MessageHeader: header},
		&domain.PayoutTxPublishedMessage{MessageHeader: header},
	}
	for _, msg := range msgs {
		stored, err := alice.SendMailboxMessage(
			ctx, bob.NodeAddress(), bob.keyring.PubKeyRing(), msg,
		)
		require.NoError(t, err)
		require.True(t, stored)
	}

	pending, err := alice.outbox.GetAllMessages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, bob.Start(ctx))
	batch := receive(t, bob)
	require.Len(t, batch, 2)
	for _, m := range batch {
		require.True(t, m.FromMailbox)
	}

	require.Eventually(t, func() bool {
		pending, err := alice.outbox.GetAllMessages(ctx)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func freeAddress(t *testing.T) string {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().String()
}

func receive(t *testing.T, n *node) []ports.InboundMessage {
	select {
	case batch := <-n.Inbox():
		return batch
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}
