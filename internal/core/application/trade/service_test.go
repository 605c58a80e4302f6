package trade

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/application/dispute"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p/inmemory"
	dbinmemory "github.com/tdex-network/escrowd/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/escrowd/internal/infrastructure/wallet/simulated"
	"github.com/tdex-network/escrowd/pkg/keyring"
	"golang.org/x/time/rate"
)

const (
	xmr            = uint64(domain.AtomicUnitsPerXmr)
	walletPassword = "password"
	waitTimeout    = 15 * time.Second
	waitTick       = 20 * time.Millisecond
)

func TestSortByPriority(t *testing.T) {
	t.Parallel()

	newInbound := func(msg domain.TradeMessage) ports.InboundMessage {
		return ports.InboundMessage{Message: msg, FromMailbox: true}
	}
	ack := func(uid string) ports.InboundMessage {
		return newInbound(&domain.AckMessage{MessageHeader: domain.MessageHeader{Uid: uid}})
	}
	depositsConfirmed := func(uid string) ports.InboundMessage {
		return newInbound(&domain.DepositsConfirmedMessage{MessageHeader: domain.MessageHeader{Uid: uid}})
	}
	paymentSent := func(uid string) ports.InboundMessage {
		return newInbound(&domain.PaymentSentMessage{MessageHeader: domain.MessageHeader{Uid: uid}})
	}
	paymentReceived := func(uid string) ports.InboundMessage {
		return newInbound(&domain.PaymentReceivedMessage{MessageHeader: domain.MessageHeader{Uid: uid}})
	}
	disputeOpened := func(uid string) ports.InboundMessage {
		return newInbound(&domain.DisputeOpenedMessage{MessageHeader: domain.MessageHeader{Uid: uid}})
	}
	disputeClosed := func(uid string) ports.InboundMessage {
		return newInbound(&domain.DisputeClosedMessage{MessageHeader: domain.MessageHeader{Uid: uid}})
	}
	payoutPublished := func(uid string) ports.InboundMessage {
		return newInbound(&domain.PayoutTxPublishedMessage{MessageHeader: domain.MessageHeader{Uid: uid}})
	}

	tests := []struct {
		name     string
		batch    []ports.InboundMessage
		expected []string
	}{
		{
			name:     "empty batch",
			batch:    []ports.InboundMessage{},
			expected: []string{},
		},
		{
			name: "causal order",
			batch: []ports.InboundMessage{
				disputeClosed("6"),
				paymentReceived("4"),
				disputeOpened("5"),
				paymentSent("3"),
				depositsConfirmed("2"),
				ack("1"),
			},
			expected: []string{"1", "2", "3", "4", "5", "6"},
		},
		{
			name: "same priority keeps arrival order",
			batch: []ports.InboundMessage{
				paymentSent("c"),
				depositsConfirmed("a"),
				paymentSent("d"),
				depositsConfirmed("b"),
			},
			expected: []string{"a", "b", "c", "d"},
		},
		{
			name: "other messages go last",
			batch: []ports.InboundMessage{
				payoutPublished("z"),
				paymentReceived("y"),
				ack("x"),
			},
			expected: []string{"x", "y", "z"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			original := append([]ports.InboundMessage{}, tt.batch...)
			sorted := sortByPriority(tt.batch)

			uids := make([]string, 0, len(sorted))
			for _, in := range sorted {
				uids = append(uids, in.Message.Header().Uid)
			}
			require.Equal(t, tt.expected, uids)
			// The batch itself is left untouched.
			require.Equal(t, original, tt.batch)
		})
	}
}

func TestServiceGuards(t *testing.T) {
	t.Parallel()

	ledger := simulated.NewLedger(0)
	network := inmemory.NewNetwork()
	feeAddress := newFeeAddress(t, ledger)
	node := newTestNode(t, network, ledger, "alice.onion:9999", feeAddress)
	ctx := context.Background()

	t.Run("unknown trade", func(t *testing.T) {
		t.Parallel()

		_, err := node.svc.GetTrade(ctx, "unknown")
		require.ErrorIs(t, err, domain.ErrTradeNotFound)

		err = node.svc.ConfirmPaymentSent(ctx, "unknown", "tx")
		require.ErrorIs(t, err, domain.ErrTradeNotFound)
	})

	t.Run("trade not open", func(t *testing.T) {
		t.Parallel()

		trade := newFailedTrade(t, node)
		err := node.svc.ConfirmPaymentReceived(ctx, trade.Id)
		require.ErrorIs(t, err, ErrTradeNotOpen)

		err = node.svc.OpenDispute(ctx, trade.Id, "no reason")
		require.ErrorIs(t, err, ErrTradeNotOpen)

		got, err := node.svc.GetTrade(ctx, trade.Id)
		require.NoError(t, err)
		require.Equal(t, domain.BucketFailed, got.Bucket)
	})

	t.Run("offer without funds", func(t *testing.T) {
		t.Parallel()

		offer := newOffer(node)
		_, err := node.svc.PlaceOffer(ctx, offer, newAccount("alice"))
		require.Error(t, err)

		offers, err := node.svc.ListOpenOffers(ctx)
		require.NoError(t, err)
		for _, o := range offers {
			require.NotEqual(t, offer.Id, o.Offer.Id)
		}
	})
}

func TestServiceStop(t *testing.T) {
	t.Parallel()

	ledger := simulated.NewLedger(0)
	network := inmemory.NewNetwork()
	node := newTestNode(t, network, ledger, "bob.onion:9999", newFeeAddress(t, ledger))
	node.fund(t, ledger, 20*xmr)
	ctx := context.Background()

	node.svc.Stop(ctx)
	node.svc.Stop(ctx)
	require.True(t, node.protocol.IsShuttingDown())

	_, err := node.svc.PlaceOffer(ctx, newOffer(node), newAccount("bob"))
	require.ErrorIs(t, err, ErrShuttingDown)

	err = node.svc.CancelOffer(ctx, "offer")
	require.ErrorIs(t, err, ErrShuttingDown)
}

// TestTradeLifecycle runs a trade among maker, taker and arbitrator on a
// simulated chain, from the offer to the unlocked payout.
func TestTradeLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := simulated.NewLedger(0)
	network := inmemory.NewNetwork()
	feeAddress := newFeeAddress(t, ledger)

	arbitrator := newTestNode(t, network, ledger, "arbitrator.onion:9999", feeAddress)
	maker := newTestNode(t, network, ledger, "maker.onion:9999", feeAddress)
	taker := newTestNode(t, network, ledger, "taker.onion:9999", feeAddress)
	maker.fund(t, ledger, 20*xmr)
	taker.fund(t, ledger, 20*xmr)
	ledger.MineBlocks(simulated.UnlockConfirmations)

	// The maker sells 10 XMR, the taker is the buyer.
	offer := newOffer(arbitrator)
	openOffer, err := maker.svc.PlaceOffer(ctx, offer, newAccount("maker"))
	require.NoError(t, err)
	require.Equal(t, maker.address, openOffer.Offer.MakerNodeAddress)

	trade, err := taker.svc.TakeOffer(ctx, openOffer.Offer, 10*xmr, newAccount("taker"))
	require.NoError(t, err)
	require.Equal(t, domain.RoleTaker, trade.Role)
	require.True(t, trade.IsBuyer())
	tradeId := trade.Id

	all := []*testNode{maker, taker, arbitrator}
	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.IsDepositsPublished()
		})
	}

	// The offer can't be taken twice.
	openOffers, err := maker.svc.ListOpenOffers(ctx)
	require.NoError(t, err)
	require.Len(t, openOffers, 1)
	require.True(t, openOffers[0].Closed)

	ledger.MineBlocks(1)
	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.IsDepositsConfirmed() && tr.ProcessModel.DepositsConfirmedMsgSent
		})
	}
	ledger.MineBlocks(simulated.UnlockConfirmations - 1)
	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.IsDepositsUnlocked()
		})
	}

	// The seller is notified through a one-shot waiter.
	received := maker.svc.WaitFor(ctx, tradeId, func(ev protocol.TradeEvent) bool {
		return ev.Type == protocol.EventStateChanged &&
			ev.State >= domain.StateSellerReceivedPaymentSentMsg
	})
	require.Eventually(t, func() bool {
		return taker.svc.ConfirmPaymentSent(ctx, tradeId, "sepa-transfer-id") == nil
	}, waitTimeout, waitTick)

	select {
	case ev, ok := <-received:
		require.True(t, ok)
		require.Equal(t, tradeId, ev.TradeId)
	case <-time.After(waitTimeout):
		t.Fatal("seller didn't receive the payment sent message")
	}

	// Only the seller can confirm the receipt of the payment.
	err = taker.svc.ConfirmPaymentReceived(ctx, tradeId)
	require.ErrorIs(t, err, protocol.ErrInvalidTradeState)
	require.NoError(t, maker.svc.ConfirmPaymentReceived(ctx, tradeId))

	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.IsPayoutPublished()
		})
	}
	ledger.MineBlocks(simulated.UnlockConfirmations)
	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.Bucket == domain.BucketClosed
		})
		closed, err := n.svc.ListTrades(ctx, domain.BucketClosed)
		require.NoError(t, err)
		require.Len(t, closed, 1)
		open, err := n.svc.ListTrades(ctx, domain.BucketOpen)
		require.NoError(t, err)
		require.Empty(t, open)
	}

	// The buyer got the traded amount back with its deposit, the seller
	// only its deposit. Both paid trade and miner fees.
	buyerBalance, err := taker.wallets.MainWallet().Balance(ctx)
	require.NoError(t, err)
	require.Greater(t, buyerBalance.Total, 29*xmr)
	require.Less(t, buyerBalance.Total, 30*xmr)

	sellerBalance, err := maker.wallets.MainWallet().Balance(ctx)
	require.NoError(t, err)
	require.Greater(t, sellerBalance.Total, 9*xmr)
	require.Less(t, sellerBalance.Total, 10*xmr)
}

// TestDisputeLifecycle runs a trade whose buyer opens a dispute once the
// deposits unlock. The arbitrator awards the escrow to the buyer and the
// traders co-sign the payout.
func TestDisputeLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := simulated.NewLedger(0)
	network := inmemory.NewNetwork()
	feeAddress := newFeeAddress(t, ledger)

	arbitrator := newTestNode(t, network, ledger, "arbitrator.onion:9999", feeAddress)
	maker := newTestNode(t, network, ledger, "maker.onion:9999", feeAddress)
	taker := newTestNode(t, network, ledger, "taker.onion:9999", feeAddress)
	maker.fund(t, ledger, 20*xmr)
	taker.fund(t, ledger, 20*xmr)
	ledger.MineBlocks(simulated.UnlockConfirmations)

	openOffer, err := maker.svc.PlaceOffer(ctx, newOffer(arbitrator), newAccount("maker"))
	require.NoError(t, err)
	trade, err := taker.svc.TakeOffer(ctx, openOffer.Offer, 10*xmr, newAccount("taker"))
	require.NoError(t, err)
	require.True(t, trade.IsBuyer())
	tradeId := trade.Id

	all := []*testNode{maker, taker, arbitrator}
	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.IsDepositsPublished()
		})
	}
	ledger.MineBlocks(simulated.UnlockConfirmations)
	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.IsDepositsUnlocked()
		})
	}

	// Only traders open disputes.
	err = arbitrator.svc.OpenDispute(ctx, tradeId, "payment not sent")
	require.ErrorIs(t, err, dispute.ErrNotTrader)
	require.NoError(t, taker.svc.OpenDispute(ctx, tradeId, "payment not confirmed"))
	arbitrator.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
		return tr.DisputeState == domain.DisputeStateOpened
	})

	// The buyer deposited 1.5 XMR, the seller 11.5 XMR.
	result := domain.DisputeResult{
		TradeId:            tradeId,
		Winner:             domain.WinnerBuyer,
		Reason:             "seller unresponsive",
		BuyerPayoutAmount:  11*xmr + xmr/2,
		SellerPayoutAmount: xmr + xmr/2,
	}
	unbalanced := result
	unbalanced.BuyerPayoutAmount += xmr
	err = arbitrator.svc.CloseDispute(ctx, tradeId, unbalanced)
	require.ErrorIs(t, err, domain.ErrDisputeInvalidPayout)

	err = maker.svc.CloseDispute(ctx, tradeId, result)
	require.ErrorIs(t, err, dispute.ErrNotArbitrator)
	require.NoError(t, arbitrator.svc.CloseDispute(ctx, tradeId, result))

	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.IsPayoutPublished() && len(tr.PayoutTxHash) > 0
		})
	}
	ledger.MineBlocks(simulated.UnlockConfirmations)
	for _, n := range all {
		n.waitForTrade(t, tradeId, func(tr *domain.Trade) bool {
			return tr.Bucket == domain.BucketClosed &&
				tr.DisputeState == domain.DisputeStateClosed
		})
		d, err := n.svc.GetDispute(ctx, tradeId)
		require.NoError(t, err)
		require.True(t, d.IsClosed())
		require.Equal(t, domain.WinnerBuyer, d.Result.Winner)
	}

	// All the participants agree on the payout.
	payouts := make(map[string]struct{})
	for _, n := range all {
		tr, err := n.svc.GetTrade(ctx, tradeId)
		require.NoError(t, err)
		payouts[tr.PayoutTxHash] = struct{}{}
	}
	require.Len(t, payouts, 1)

	// The awarded amounts match the cooperative payout: the buyer gets the
	// traded amount with its deposit back, the seller only its deposit.
	buyerBalance, err := taker.wallets.MainWallet().Balance(ctx)
	require.NoError(t, err)
	require.Greater(t, buyerBalance.Total, 29*xmr)
	require.Less(t, buyerBalance.Total, 30*xmr)

	sellerBalance, err := maker.wallets.MainWallet().Balance(ctx)
	require.NoError(t, err)
	require.Greater(t, sellerBalance.Total, 9*xmr)
	require.Less(t, sellerBalance.Total, 10*xmr)
}

type testNode struct {
	address  string
	keyring  *keyring.KeyRing
	wallets  *simulated.Service
	repo     ports.RepoManager
	protocol *protocol.Protocol
	svc      *Service
}

func newTestNode(
	t *testing.T, network *inmemory.Network, ledger *simulated.Ledger,
	address, feeAddress string,
) *testNode {
	kr, err := keyring.New()
	require.NoError(t, err)

	messenger := network.NewNode(address, kr)
	wallets := simulated.NewService(ledger, walletPassword)
	repo := dbinmemory.NewRepoManager()
	locks := protocol.NewLockRegistry()
	bus := NewEventBus()

	p, err := protocol.NewProtocol(protocol.Config{
		Wallets:         wallets,
		Daemon:          ledger,
		Messenger:       messenger,
		KeyRing:         kr,
		Repo:            repo,
		Store:           NewTradeStore(repo.TradeRepository(), bus),
		Locks:           locks,
		TradeFeeAddress: feeAddress,
		WalletPassword:  walletPassword,
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)

	svc, err := NewService(Config{
		Protocol:            p,
		Disputes:            dispute.NewService(p, repo.DisputeRepository()),
		Repo:                repo,
		Messenger:           messenger,
		Bus:                 bus,
		Locks:               locks,
		NumWorkers:          4,
		PollIntervalActive:  waitTick,
		PollIntervalIdle:    2 * waitTick,
		PollRateLimit:       rate.Limit(200),
		ShutdownGracePeriod: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop(context.Background()) })

	return &testNode{
		address:  address,
		keyring:  kr,
		wallets:  wallets,
		repo:     repo,
		protocol: p,
		svc:      svc,
	}
}

func (n *testNode) fund(t *testing.T, ledger *simulated.Ledger, amount uint64) {
	addr, err := n.wallets.MainWallet().PrimaryAddress(context.Background())
	require.NoError(t, err)
	ledger.Fund(addr, amount)
}

func (n *testNode) waitForTrade(
	t *testing.T, tradeId string, cond func(*domain.Trade) bool,
) {
	t.Helper()
	require.Eventually(t, func() bool {
		trade, err := n.svc.GetTrade(context.Background(), tradeId)
		return err == nil && cond(trade)
	}, waitTimeout, waitTick, "%s: trade %s didn't reach the expected state", n.address, tradeId)
}

func newFeeAddress(t *testing.T, ledger *simulated.Ledger) string {
	addr, err := simulated.NewWallet(ledger, "fees", walletPassword).
		PrimaryAddress(context.Background())
	require.NoError(t, err)
	return addr
}

// newOffer returns a SELL offer of 10 XMR whose arbitrator is the given
// node. Maker address and key ring are set when the offer is placed.
func newOffer(arbitrator *testNode) domain.Offer {
	return domain.Offer{
		Id:                    uuid.New().String(),
		Direction:             domain.DirectionSell,
		Amount:                10 * xmr,
		MinAmount:             xmr,
		Price:                 decimal.NewFromInt(150),
		CounterCurrency:       "EUR",
		BuyerSecurityDeposit:  xmr + xmr/2,
		SellerSecurityDeposit: xmr + xmr/2,
		MakerFee:              xmr / 10,
		PaymentMethodId:       "SEPA",
		ArbitratorNodeAddress: arbitrator.address,
		ArbitratorPubKeyRing:  arbitrator.keyring.PubKeyRing(),
		CreatedAt:             time.Now().Unix(),
	}
}

func newAccount(owner string) domain.PaymentAccount {
	return domain.PaymentAccount{
		Id:              owner + "-sepa",
		PaymentMethodId: "SEPA",
		Payload: map[string]string{
			"holder": owner,
			"iban":   "DE89370400440532013000",
		},
	}
}

// newFailedTrade stores a failed trade in the repo of the given node, as
// left by a taker whose request couldn't reach the maker.
func newFailedTrade(t *testing.T, n *testNode) *domain.Trade {
	offer := newOffer(n)
	offer.MakerNodeAddress = "maker.onion:9999"
	offer.MakerPubKeyRing = domain.PubKeyRing{
		SignaturePubKey: []byte{1}, EncryptionPubKey: []byte{2},
	}
	trade, err := n.protocol.NewTakerTrade(offer, 10*xmr, newAccount("alice"))
	require.NoError(t, err)
	trade.Fail("maker is offline")
	require.NoError(t, n.repo.TradeRepository().AddTrade(context.Background(), trade))
	return trade
}
