package protocol

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

// ConfirmPaymentSent is the buyer's operator action to notify that the
// counter value of the trade has been sent to the seller. The buyer creates
// the payout tx and sends it to seller and arbitrator along with the key of
// its payment account.
func (p *Protocol) ConfirmPaymentSent(
	ctx context.Context, trade *domain.Trade, counterCurrencyTxId string,
) error {
	if !trade.IsBuyer() {
		return fmt.Errorf("%w: only the buyer can confirm payment sent", ErrInvalidTradeState)
	}
	if !trade.IsOpen() || !trade.IsDepositsUnlocked() ||
		trade.State >= domain.StateBuyerSawArrivedPaymentSentMsg {
		return fmt.Errorf("%w: %s", ErrInvalidTradeState, trade.State)
	}
	if trade.DisputeState.IsOpen() {
		return fmt.Errorf("%w: trade is in dispute", ErrInvalidTradeState)
	}

	tc := p.NewTradeContext(trade, nil, "")
	return p.Run(ctx, "buyer confirm payment sent", tc,
		Task{"create payout tx", p.createPayoutTx},
		Task{"export multisig hex", p.ExportMultisigHex},
		Task{"send payment sent message", func(ctx context.Context, tc *TradeContext) error {
			return p.sendPaymentSent(ctx, tc, counterCurrencyTxId)
		}},
	)
}

func (p *Protocol) createPayoutTx(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	self := trade.Self()
	trade.AdvanceState(domain.StateBuyerConfirmedPaymentSent)
	if len(self.PayoutTxHex) > 0 {
		return nil
	}

	if err := p.loadDepositAmounts(ctx, tc); err != nil {
		return err
	}
	if err := p.ImportMultisigHexes(ctx, tc); err != nil {
		return err
	}
	expected, err := CooperativePayout(trade)
	if err != nil {
		return err
	}
	tx, err := tc.wallet.CreateTx(ctx, ports.TxConfig{
		Destinations:    expected,
		SubtractFeeFrom: feePayers(expected),
	})
	if err != nil {
		return fmt.Errorf("failed to create payout tx: %w", err)
	}
	if err := VerifyPayoutTx(tx, trade.ProcessModel.MultisigAddress, expected); err != nil {
		return err
	}
	self.PayoutTxHex = tx.Hex
	self.PayoutTxFee = tx.Fee
	return nil
}

func (p *Protocol) sendPaymentSent(
	ctx context.Context, tc *TradeContext, counterCurrencyTxId string,
) error {
	trade := tc.trade
	self := trade.Self()
	msg := &domain.PaymentSentMessage{
		MessageHeader:       p.Header(trade),
		CounterCurrencyTxId: counterCurrencyTxId,
		PayoutTxHex:         self.PayoutTxHex,
		UpdatedMultisigHex:  self.UpdatedMultisigHex,
		PaymentAccountKey:   self.PaymentAccountKey,
	}
	sig, err := p.Sign(msg)
	if err != nil {
		return err
	}
	msg.BuyerSignature = sig

	results, err := p.SendMailboxToAll(
		ctx, []*domain.TradePeer{trade.Seller(), trade.Arbitrator()},
		func(*domain.TradePeer) (domain.TradeMessage, error) { return msg, nil },
	)
	if err != nil {
		return err
	}
	trade.ProcessModel.PaymentSentMsgSent = true
	return applyMailboxOutcome(
		trade, results[0],
		domain.StateBuyerSentPaymentSentMsg,
		domain.StateBuyerStoredInMailboxPaymentSentMsg,
		domain.StateBuyerSendFailedPaymentSentMsg,
	)
}

// applyMailboxOutcome moves the trade to the state matching the outcome of
// a mailbox send to the counterparty.
func applyMailboxOutcome(
	trade *domain.Trade, res MailboxResult, sent, stored, failed domain.State,
) error {
	// Never go back from an already acknowledged message.
	if trade.State > failed && trade.State > stored {
		return res.Err
	}
	switch {
	case res.Err != nil:
		trade.SetState(failed)
		return res.Err
	case res.Stored:
		trade.SetState(stored)
	default:
		trade.SetState(sent)
	}
	return nil
}

func (p *Protocol) handlePaymentSent(
	ctx context.Context, tc *TradeContext, msg *domain.PaymentSentMessage,
) error {
	if tc.trade.IsBuyer() {
		return violation("%w: %s", ErrUnexpectedMessage, msg.Type())
	}
	return p.Run(ctx, "process payment sent message", tc,
		Task{"process payment sent message", p.processPaymentSent},
		When(func(tc *TradeContext) bool { return tc.trade.IsSeller() },
			Task{"verify payout tx", p.verifyBuyerPayoutTx},
		),
		When(func(tc *TradeContext) bool { return tc.trade.IsArbitrator() },
			Task{"update state", func(_ context.Context, tc *TradeContext) error {
				tc.trade.AdvanceState(domain.StateBuyerSentPaymentSentMsg)
				return nil
			}},
		),
	)
}

func (p *Protocol) processPaymentSent(_ context.Context, tc *TradeContext) error {
	msg := tc.msg.(*domain.PaymentSentMessage)
	trade := tc.trade
	peer, err := p.BindSender(tc, domain.RoleMaker, domain.RoleTaker)
	if err != nil {
		return err
	}
	if peer != trade.Buyer() {
		return violation("payment sent message from seller")
	}
	if err := p.VerifySignature(msg, peer.PubKeyRing.SignaturePubKey); err != nil {
		return err
	}
	if len(msg.PayoutTxHex) <= 0 {
		return violation("missing payout tx")
	}
	if len(msg.UpdatedMultisigHex) > 0 {
		peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
	}
	peer.PayoutTxHex = msg.PayoutTxHex
	if len(msg.PaymentAccountKey) > 0 && len(peer.PaymentAccountKey) <= 0 {
		peer.PaymentAccountKey = msg.PaymentAccountKey
	}
	if trade.IsSeller() {
		return decryptPaymentAccount(peer)
	}
	return nil
}

func (p *Protocol) verifyBuyerPayoutTx(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	if err := p.loadDepositAmounts(ctx, tc); err != nil {
		return err
	}
	if err := p.ImportMultisigHexes(ctx, tc); err != nil {
		return err
	}
	tx, err := tc.wallet.DescribeTxSet(ctx, trade.Buyer().PayoutTxHex)
	if err != nil {
		return violation("failed to describe payout tx: %s", err)
	}
	expected, err := CooperativePayout(trade)
	if err != nil {
		return err
	}
	if err := VerifyPayoutTx(tx, trade.ProcessModel.MultisigAddress, expected); err != nil {
		return err
	}
	trade.AdvanceState(domain.StateSellerReceivedPaymentSentMsg)
	return nil
}

// ConfirmPaymentReceived is the seller's operator action to confirm that
// the counter value has been received. The seller signs and publishes the
// payout tx created by the buyer.
func (p *Protocol) ConfirmPaymentReceived(
	ctx context.Context, trade *domain.Trade,
) error {
	if !trade.IsSeller() {
		return fmt.Errorf("%w: only the seller can confirm payment received", ErrInvalidTradeState)
	}
	if !trade.IsOpen() || trade.State < domain.StateSellerReceivedPaymentSentMsg ||
		trade.State >= domain.StateSellerSawArrivedPaymentReceivedMsg {
		return fmt.Errorf("%w: %s", ErrInvalidTradeState, trade.State)
	}

	tc := p.NewTradeContext(trade, nil, "")
	return p.Run(ctx, "seller confirm payment received", tc,
		Task{"sign and publish payout tx", func(ctx context.Context, tc *TradeContext) error {
			tc.trade.AdvanceState(domain.StateSellerConfirmedPaymentReceipt)
			if tc.trade.IsPayoutPublished() {
				return nil
			}
			expected, err := CooperativePayout(tc.trade)
			if err != nil {
				return err
			}
			return p.SignAndPublishPayoutTx(ctx, tc, tc.trade.Buyer().PayoutTxHex, expected, true)
		}},
		Task{"export multisig hex", p.ExportMultisigHex},
		Task{"send payment received message", p.sendPaymentReceived},
		Task{"send payout tx published message", p.SendPayoutTxPublished},
	)
}

func (p *Protocol) sendPaymentReceived(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	msg := &domain.PaymentReceivedMessage{
		MessageHeader:       p.Header(trade),
		UnsignedPayoutTxHex: trade.Buyer().PayoutTxHex,
		SignedPayoutTxHex:   trade.PayoutTxHex,
		PayoutTxHash:        trade.PayoutTxHash,
		UpdatedMultisigHex:  trade.Self().UpdatedMultisigHex,
	}
	sig, err := p.Sign(msg)
	if err != nil {
		return err
	}
	msg.SellerSignature = sig

	results, err := p.SendMailboxToAll(
		ctx, []*domain.TradePeer{trade.Buyer(), trade.Arbitrator()},
		func(*domain.TradePeer) (domain.TradeMessage, error) { return msg, nil },
	)
	if err != nil {
		return err
	}
	trade.ProcessModel.PaymentReceivedMsgSent = true
	return applyMailboxOutcome(
		trade, results[0],
		domain.StateSellerSentPaymentReceivedMsg,
		domain.StateSellerStoredInMailboxPaymentReceivedMsg,
		domain.StateSellerSendFailedPaymentReceivedMsg,
	)
}

func (p *Protocol) handlePaymentReceived(
	ctx context.Context, tc *TradeContext, msg *domain.PaymentReceivedMessage,
) error {
	if tc.trade.IsSeller() {
		return violation("%w: %s", ErrUnexpectedMessage, msg.Type())
	}
	return p.Run(ctx, "process payment received message", tc,
		Task{"process payment received message", func(_ context.Context, tc *TradeContext) error {
			peer, err := p.BindSender(tc, domain.RoleMaker, domain.RoleTaker)
			if err != nil {
				return err
			}
			if peer != tc.trade.Seller() {
				return violation("payment received message from buyer")
			}
			if err := p.VerifySignature(msg, peer.PubKeyRing.SignaturePubKey); err != nil {
				return err
			}
			if len(msg.SignedPayoutTxHex) <= 0 {
				return violation("missing signed payout tx")
			}
			if len(msg.UpdatedMultisigHex) > 0 {
				peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
			}
			return nil
		}},
		Task{"publish payout tx", func(ctx context.Context, tc *TradeContext) error {
			if err := p.loadDepositAmounts(ctx, tc); err != nil {
				return err
			}
			expected, err := CooperativePayout(tc.trade)
			if err != nil {
				return err
			}
			if err := p.PublishPayoutTx(
				ctx, tc, msg.SignedPayoutTxHex, msg.PayoutTxHash, expected,
			); err != nil {
				return err
			}
			tc.trade.AdvanceState(domain.StateSellerSentPaymentReceivedMsg)
			return nil
		}},
	)
}

// handlePayoutTxPublished records the payout tx published by another
// participant.
func (p *Protocol) handlePayoutTxPublished(
	ctx context.Context, tc *TradeContext, msg *domain.PayoutTxPublishedMessage,
) error {
	return p.Run(ctx, "process payout tx published message", tc,
		Task{"process payout tx", func(ctx context.Context, tc *TradeContext) error {
			if _, err := p.BindSender(tc); err != nil {
				return err
			}
			trade := tc.trade
			if trade.IsPayoutPublished() {
				return nil
			}
			if err := p.loadDepositAmounts(ctx, tc); err != nil {
				return err
			}
			expected, err := p.expectedPayout(ctx, trade)
			if err != nil {
				return err
			}
			return p.PublishPayoutTx(
				ctx, tc, msg.SignedPayoutTxHex, msg.PayoutTxHash, expected,
			)
		}},
	)
}

// expectedPayout returns the dispute payout if the trade's dispute is
// closed, the cooperative one otherwise.
func (p *Protocol) expectedPayout(
	ctx context.Context, trade *domain.Trade,
) ([]ports.Destination, error) {
	dispute, err := p.repo.DisputeRepository().GetDispute(ctx, trade.Id)
	if err == nil && dispute.IsClosed() {
		return DisputePayout(trade, *dispute.Result)
	}
	return CooperativePayout(trade)
}

// SignAndPublishPayoutTx verifies, co-signs and submits the given payout tx,
// unless the daemon already knows it. If checkFee is true, the tx fee must
// be within tolerance with respect to the one of an equivalent tx.
func (p *Protocol) SignAndPublishPayoutTx(
	ctx context.Context, tc *TradeContext, txSetHex string,
	expected []ports.Destination, checkFee bool,
) error {
	trade := tc.trade
	if err := p.ImportMultisigHexes(ctx, tc); err != nil {
		return err
	}
	wallet := tc.wallet

	tx, err := wallet.DescribeTxSet(ctx, txSetHex)
	if err != nil {
		return violation("failed to describe payout tx: %s", err)
	}
	if err := VerifyPayoutTx(tx, trade.ProcessModel.MultisigAddress, expected); err != nil {
		return err
	}

	if checkFee {
		estimate, err := wallet.CreateTx(ctx, ports.TxConfig{
			Destinations:    expected,
			SubtractFeeFrom: feePayers(expected),
		})
		if err != nil {
			return fmt.Errorf("failed to estimate payout tx fee: %w", err)
		}
		if err := checkFeeTolerance(tx.Fee, estimate.Fee, p.maxFeeTolerance); err != nil {
			return err
		}
	}

	signed, err := wallet.SignMultisigTxHex(ctx, txSetHex)
	if err != nil {
		return fmt.Errorf("failed to sign payout tx: %w", err)
	}
	// The hash is known once the tx is fully signed.
	hash := tx.Hash
	if len(signed.TxHashes) == 1 {
		hash = signed.TxHashes[0]
	}
	published, err := p.isPublished(ctx, hash)
	if err != nil {
		return err
	}
	if published {
		p.recordPayout(trade, hash, signed.Hex, tx.Fee)
		return nil
	}

	hashes, err := wallet.SubmitMultisigTxHex(ctx, signed.Hex)
	if err != nil {
		return transportFault(fmt.Errorf("failed to submit payout tx: %w", err))
	}
	if len(hashes) != 1 {
		return fmt.Errorf("expected 1 payout tx, got %d", len(hashes))
	}
	tc.submittedPayout = true
	p.recordPayout(trade, hashes[0], signed.Hex, tx.Fee)
	log.Infof("published payout tx %s of trade %s", hashes[0], trade.ShortId())
	return nil
}

// PublishPayoutTx verifies the given fully signed payout tx and submits it,
// unless the daemon already knows it by the given hash.
func (p *Protocol) PublishPayoutTx(
	ctx context.Context, tc *TradeContext, signedTxSetHex, hash string,
	expected []ports.Destination,
) error {
	trade := tc.trade
	if err := p.ImportMultisigHexes(ctx, tc); err != nil {
		return err
	}
	wallet := tc.wallet

	tx, err := wallet.DescribeTxSet(ctx, signedTxSetHex)
	if err != nil {
		return violation("failed to describe payout tx: %s", err)
	}
	if err := VerifyPayoutTx(tx, trade.ProcessModel.MultisigAddress, expected); err != nil {
		return err
	}
	if len(hash) <= 0 {
		hash = tx.Hash
	}
	published, err := p.isPublished(ctx, hash)
	if err != nil {
		return err
	}
	if !published {
		hashes, err := wallet.SubmitMultisigTxHex(ctx, signedTxSetHex)
		if err != nil {
			return transportFault(fmt.Errorf("failed to submit payout tx: %w", err))
		}
		if len(hashes) != 1 {
			return fmt.Errorf("expected 1 payout tx, got %d", len(hashes))
		}
		hash = hashes[0]
		tc.submittedPayout = true
		log.Infof("published payout tx %s of trade %s", hash, trade.ShortId())
	}
	p.recordPayout(trade, hash, signedTxSetHex, tx.Fee)
	return nil
}

// SendPayoutTxPublished notifies the other participants of the payout tx
// relayed by the pipeline, if any. Delivery failures are only logged.
func (p *Protocol) SendPayoutTxPublished(ctx context.Context, tc *TradeContext) error {
	if !tc.submittedPayout {
		return nil
	}
	trade := tc.trade
	results, err := p.SendMailboxToAll(
		ctx, p.otherPeers(trade),
		func(*domain.TradePeer) (domain.TradeMessage, error) {
			return &domain.PayoutTxPublishedMessage{
				MessageHeader:     p.Header(trade),
				SignedPayoutTxHex: trade.PayoutTxHex,
				PayoutTxHash:      trade.PayoutTxHash,
			}, nil
		},
	)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			log.WithError(res.Err).Warnf(
				"failed to notify payout tx of trade %s to %s", trade.ShortId(),
				res.Peer.NodeAddress,
			)
		}
	}
	return nil
}

// isPublished tells whether the daemon knows the given tx. An empty hash is
// never published.
func (p *Protocol) isPublished(ctx context.Context, hash string) (bool, error) {
	if len(hash) <= 0 {
		return false, nil
	}
	txs, err := p.daemon.GetTxs(ctx, []string{hash})
	if err != nil {
		return false, transportFault(fmt.Errorf("failed to get payout tx: %w", err))
	}
	return len(txs) > 0, nil
}

func (p *Protocol) recordPayout(trade *domain.Trade, hash, hex string, fee uint64) {
	trade.PayoutTxHash = hash
	trade.PayoutTxHex = hex
	trade.PayoutTxFee = fee
	trade.AdvancePayoutState(domain.PayoutStatePublished)
}

func (p *Protocol) handleAck(
	ctx context.Context, tc *TradeContext, msg *domain.AckMessage,
) error {
	return p.Run(ctx, "process ack", tc,
		Task{"process ack", func(_ context.Context, tc *TradeContext) error {
			peer, err := p.BindSender(tc)
			if err != nil {
				return err
			}
			trade := tc.trade
			if !msg.Success {
				log.Warnf(
					"%s of trade %s failed on %s: %s", msg.SourceType, trade.ShortId(),
					peer.NodeAddress, msg.ErrorMessage,
				)
				return nil
			}

			switch msg.SourceType {
			case domain.MsgPaymentSent:
				if trade.IsBuyer() && peer == trade.Seller() {
					trade.AdvanceState(domain.StateBuyerSawArrivedPaymentSentMsg)
				}
			case domain.MsgPaymentReceived:
				if trade.IsSeller() && peer == trade.Buyer() {
					trade.AdvanceState(domain.StateSellerSawArrivedPaymentReceivedMsg)
				}
			case domain.MsgDisputeClosed:
				if trade.IsArbitrator() {
					trade.AdvanceDisputeState(domain.DisputeStateArbitratorSawArrivedDisputeClosedMsg)
				}
			}
			return nil
		}},
	)
}

// feePayers returns the indexes of all the given destinations, that share
// the miner fee of the payout tx.
func feePayers(destinations []ports.Destination) []int {
	indexes := make([]int, 0, len(destinations))
	for i := range destinations {
		indexes = append(indexes, i)
	}
	return indexes
}
