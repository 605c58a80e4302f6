package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p/inmemory"
	"github.com/tdex-network/escrowd/pkg/keyring"
)

var ctx = context.Background()

func TestDirectMessage(t *testing.T) {
	t.Parallel()

	network := inmemory.NewNetwork()
	alice, aliceKr := newNode(t, network, "alice.onion:9999")
	bob, bobKr := newNode(t, network, "bob.onion:9999")
	require.NoError(t, alice.Start(ctx))

	msg := &domain.PaymentAccountKeyRequest{
		MessageHeader: domain.NewMessageHeader("trade", alice.NodeAddress(), aliceKr.PubKeyRing()),
	}

	// Bob is offline.
	err := alice.SendDirectMessage(ctx, bob.NodeAddress(), bobKr.PubKeyRing(), msg)
	require.ErrorIs(t, err, p2p.ErrPeerOffline)

	require.NoError(t, bob.Start(ctx))
	err = alice.SendDirectMessage(ctx, bob.NodeAddress(), bobKr.PubKeyRing(), msg)
	require.NoError(t, err)

	batch := receive(t, bob)
	require.Len(t, batch, 1)
	require.False(t, batch[0].FromMailbox)
	require.Equal(t, alice.NodeAddress(), batch[0].SenderAddress)
	require.Equal(t, msg.Uid, batch[0].Message.Header().Uid)
	require.Equal(t, domain.MsgPaymentAccountKeyRequest, batch[0].Message.Type())
}

func TestSenderMismatch(t *testing.T) {
	t.Parallel()

	network := inmemory.NewNetwork()
	alice, aliceKr := newNode(t, network, "alice.onion:9999")
	bob, bobKr := newNode(t, network, "bob.onion:9999")
	require.NoError(t, alice.Start(ctx))
	require.NoError(t, bob.Start(ctx))

	msg := &domain.PaymentAccountKeyRequest{
		MessageHeader: domain.NewMessageHeader("trade", "mallory.onion:9999", aliceKr.PubKeyRing()),
	}
	err := alice.SendDirectMessage(ctx, bob.NodeAddress(), bobKr.PubKeyRing(), msg)
	require.ErrorIs(t, err, p2p.ErrSenderMismatch)
}

func TestMailboxMessages(t *testing.T) {
	t.Parallel()

	network := inmemory.NewNetwork()
	alice, aliceKr := newNode(t, network, "alice.onion:9999")
	bob, bobKr := newNode(t, network, "bob.onion:9999")
	require.NoError(t, alice.Start(ctx))

	header := func() domain.MessageHeader {
		return domain.NewMessageHeader("trade", alice.NodeAddress(), aliceKr.PubKeyRing())
	}

	_, err := alice.SendMailboxMessage(
		ctx, bob.NodeAddress(), bobKr.PubKeyRing(),
		&domain.PaymentAccountKeyRequest{MessageHeader: header()},
	)
	require.ErrorIs(t, err, p2p.ErrNotMailboxType)

	msgs := []domain.TradeMessage{
		&domain.PaymentReceivedMessage{MessageHeader: header()},
		&domain.PaymentSentMessage{MessageHeader: header()},
	}
	for _, msg := range msgs {
		stored, err := alice.SendMailboxMessage(ctx, bob.NodeAddress(), bobKr.PubKeyRing(), msg)
		require.NoError(t, err)
		require.True(t, stored)
	}
	require.Equal(t, 2, network.MailboxSize(bob.NodeAddress()))

	require.NoError(t, bob.Start(ctx))
	batch := receive(t, bob)
	require.Len(t, batch, 2)
	for i, m := range batch {
		require.True(t, m.FromMailbox)
		require.Equal(t, msgs[i].Header().Uid, m.Message.Header().Uid)
	}
	require.Zero(t, network.MailboxSize(bob.NodeAddress()))

	stored, err := alice.SendMailboxMessage(
		ctx, bob.NodeAddress(), bobKr.PubKeyRing(),
		&domain.PaymentSentMessage{MessageHeader: header()},
	)
	require.NoError(t, err)
	require.False(t, stored)
	require.Len(t, receive(t, bob), 1)
}

func newNode(
	t *testing.T, network *inmemory.Network, address string,
) (*inmemory.Node, *keyring.KeyRing) {
	kr, err := keyring.New()
	require.NoError(t, err)
	node := network.NewNode(address, kr)
	return node, kr
}

func receive(t *testing.T, node *inmemory.Node) []ports.InboundMessage {
	select {
	case batch := <-node.Inbox():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}
