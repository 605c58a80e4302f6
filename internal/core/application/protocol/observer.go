package protocol

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

// ObserveTrade checks the status of the deposit and payout txs of the trade
// on chain and moves the trade forward accordingly. Once the payout is
// unlocked, the escrow wallet is deleted and the trade is closed.
func (p *Protocol) ObserveTrade(ctx context.Context, trade *domain.Trade) error {
	tc := p.NewTradeContext(trade, nil, "")
	return p.Run(ctx, "observe trade", tc,
		When(isObservingDeposits,
			Task{"check deposit txs", p.checkDepositTxs},
		),
		When(isDepositsConfirmedMsgToSend,
			Task{"export multisig hex", p.ExportMultisigHex},
			Task{"send deposits confirmed message", p.sendDepositsConfirmed},
		),
		When(isPaymentAccountKeyMissing,
			Task{"request payment account key", p.requestPaymentAccountKey},
		),
		When(isObservingPayout,
			Task{"check payout tx", p.checkPayoutTx},
		),
		When(isReadyToClose,
			Task{"delete escrow wallet", func(ctx context.Context, tc *TradeContext) error {
				return p.escrow.delete(ctx, tc.trade)
			}},
			Task{"close trade", func(_ context.Context, tc *TradeContext) error {
				if _, err := tc.trade.Close(); err != nil {
					return err
				}
				log.Infof("trade %s completed", tc.trade.ShortId())
				return nil
			}},
		),
	)
}

func isObservingDeposits(tc *TradeContext) bool {
	trade := tc.trade
	return trade.IsOpen() && trade.IsDepositsPublished() && !trade.IsDepositsUnlocked()
}

func isDepositsConfirmedMsgToSend(tc *TradeContext) bool {
	trade := tc.trade
	return trade.IsOpen() && trade.IsDepositsConfirmed() &&
		!trade.ProcessModel.DepositsConfirmedMsgSent
}

// isPaymentAccountKeyMissing is true until the buyer gets the seller's key.
// An unanswered request is repeated after paymentAccountKeyRetryInterval.
func isPaymentAccountKeyMissing(tc *TradeContext) bool {
	trade := tc.trade
	if !trade.IsOpen() || !trade.IsBuyer() || !trade.IsDepositsUnlocked() ||
		len(trade.Seller().PaymentAccountKey) > 0 {
		return false
	}
	requestedAt := trade.ProcessModel.PaymentAccountKeyRequestedAt
	return requestedAt <= 0 ||
		time.Since(time.Unix(requestedAt, 0)) >= paymentAccountKeyRetryInterval
}

func isObservingPayout(tc *TradeContext) bool {
	trade := tc.trade
	if trade.IsPayoutUnlocked() {
		return false
	}
	return len(trade.PayoutTxHash) > 0 || isPayoutExpected(trade)
}

// isPayoutExpected is true once a payout tx exists that any participant
// might publish: the buyer's one or the arbitrator's after a dispute.
func isPayoutExpected(trade *domain.Trade) bool {
	return trade.IsOpen() && trade.IsDepositsUnlocked() &&
		(len(trade.Buyer().PayoutTxHex) > 0 ||
			trade.DisputeState >= domain.DisputeStateArbitratorSentDisputeClosedMsg)
}

func isReadyToClose(tc *TradeContext) bool {
	trade := tc.trade
	return trade.IsOpen() && trade.IsPayoutUnlocked()
}

func (p *Protocol) checkDepositTxs(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	hashes := []string{trade.Maker().DepositTxHash, trade.Taker().DepositTxHash}
	txs, err := p.daemon.GetTxs(ctx, hashes)
	if err != nil {
		return transportFault(fmt.Errorf("failed to get deposit txs: %w", err))
	}
	if len(txs) != len(hashes) {
		return nil
	}

	confirmations := minConfirmations(txs)
	for _, tx := range txs {
		if tx.IsFailed || tx.IsDoubleSpend {
			trade.Fail(fmt.Sprintf("deposit tx %s is invalid", tx.Hash))
			return nil
		}
	}

	trade.AdvanceState(domain.StateDepositTxsSeenInNetwork)
	if confirmations <= 0 {
		return nil
	}
	if err := p.loadDepositAmounts(ctx, tc); err != nil {
		return err
	}
	if trade.AdvanceState(domain.StateDepositTxsConfirmedInBlockchain) {
		trade.DepositsConfirmedAt = time.Now().Unix()
	}
	if confirmations >= UnlockConfirmations {
		trade.AdvanceState(domain.StateDepositTxsUnlockedInBlockchain)
	}
	return nil
}

// LoadDepositAmounts fills in the amounts received by the escrow from each
// deposit tx, if not known yet.
func (p *Protocol) LoadDepositAmounts(ctx context.Context, tc *TradeContext) error {
	return p.loadDepositAmounts(ctx, tc)
}

// loadDepositAmounts fills in the amounts received by the escrow from each
// deposit tx, as seen by the multisig wallet.
func (p *Protocol) loadDepositAmounts(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	var wallet ports.Wallet
	for _, peer := range []*domain.TradePeer{trade.Maker(), trade.Taker()} {
		if peer.DepositAmount > 0 {
			continue
		}
		if wallet == nil {
			w, err := p.escrowWallet(ctx, tc)
			if err != nil {
				return err
			}
			wallet = w
		}
		tx, err := wallet.GetTx(ctx, peer.DepositTxHash)
		if err != nil {
			return transportFault(fmt.Errorf("failed to get deposit tx: %w", err))
		}
		peer.DepositAmount = tx.IncomingAmount
	}
	return nil
}

func (p *Protocol) sendDepositsConfirmed(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	self := trade.Self()
	results, err := p.SendMailboxToAll(
		ctx, p.otherPeers(trade),
		func(peer *domain.TradePeer) (domain.TradeMessage, error) {
			msg := &domain.DepositsConfirmedMessage{
				MessageHeader:      p.Header(trade),
				UpdatedMultisigHex: self.UpdatedMultisigHex,
			}
			// Seller and arbitrator disclose the seller's payment account
			// key to the buyer.
			if peer == trade.Buyer() && (trade.IsSeller() || trade.IsArbitrator()) {
				msg.SellerPaymentAccountKey = trade.Seller().PaymentAccountKey
			}
			return msg, nil
		},
	)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	trade.ProcessModel.DepositsConfirmedMsgSent = true
	return nil
}

func (p *Protocol) handleDepositsConfirmed(
	ctx context.Context, tc *TradeContext, msg *domain.DepositsConfirmedMessage,
) error {
	return p.Run(ctx, "process deposits confirmed message", tc,
		Task{"process deposits confirmed message", func(_ context.Context, tc *TradeContext) error {
			peer, err := p.BindSender(tc)
			if err != nil {
				return err
			}
			trade := tc.trade
			if len(msg.UpdatedMultisigHex) > 0 {
				peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
			}
			if trade.IsBuyer() && len(msg.SellerPaymentAccountKey) > 0 &&
				peer != trade.Buyer() {
				seller := trade.Seller()
				if len(seller.PaymentAccountKey) <= 0 {
					seller.PaymentAccountKey = msg.SellerPaymentAccountKey
				}
				return decryptPaymentAccount(seller)
			}
			return nil
		}},
	)
}

func (p *Protocol) requestPaymentAccountKey(ctx context.Context, tc *TradeContext) error {
	if err := p.sendDirect(ctx, tc.trade.Arbitrator(), &domain.PaymentAccountKeyRequest{
		MessageHeader: p.Header(tc.trade),
	}); err != nil {
		return err
	}
	tc.trade.ProcessModel.PaymentAccountKeyRequestedAt = time.Now().Unix()
	return nil
}

func (p *Protocol) handlePaymentAccountKeyRequest(
	ctx context.Context, tc *TradeContext, msg *domain.PaymentAccountKeyRequest,
) error {
	if !tc.trade.IsArbitrator() {
		return violation("%w: %s", ErrUnexpectedMessage, msg.Type())
	}
	return p.Run(ctx, "arbitrator process payment account key request", tc,
		Task{"send payment account key", func(ctx context.Context, tc *TradeContext) error {
			peer, err := p.BindSender(tc, domain.RoleMaker, domain.RoleTaker)
			if err != nil {
				return err
			}
			trade := tc.trade
			if peer != trade.Buyer() {
				return violation("payment account key requested by seller")
			}
			// The buyer may see the deposits before the arbitrator's own
			// observer does.
			if !trade.IsDepositsConfirmed() {
				if err := p.checkDepositTxs(ctx, tc); err != nil {
					return err
				}
			}
			if !trade.IsDepositsConfirmed() {
				return fmt.Errorf("%w: deposits not confirmed", ErrInvalidTradeState)
			}
			key := trade.Seller().PaymentAccountKey
			if len(key) <= 0 {
				return fmt.Errorf("seller payment account key is unknown")
			}
			return p.sendDirect(ctx, peer, &domain.PaymentAccountKeyResponse{
				MessageHeader:      p.Header(trade),
				PaymentAccountKey:  key,
				UpdatedMultisigHex: trade.Self().UpdatedMultisigHex,
			})
		}},
	)
}

func (p *Protocol) handlePaymentAccountKeyResponse(
	ctx context.Context, tc *TradeContext, msg *domain.PaymentAccountKeyResponse,
) error {
	return p.Run(ctx, "process payment account key response", tc,
		Task{"decrypt payment account", func(_ context.Context, tc *TradeContext) error {
			peer, err := p.BindSender(tc, domain.RoleArbitrator)
			if err != nil {
				return err
			}
			trade := tc.trade
			if !trade.IsBuyer() {
				return violation("%w: %s", ErrUnexpectedMessage, msg.Type())
			}
			if len(msg.UpdatedMultisigHex) > 0 {
				peer.UpdatedMultisigHex = msg.UpdatedMultisigHex
			}
			seller := trade.Seller()
			if len(seller.PaymentAccountKey) <= 0 {
				seller.PaymentAccountKey = msg.PaymentAccountKey
			}
			return decryptPaymentAccount(seller)
		}},
	)
}

func (p *Protocol) checkPayoutTx(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	if len(trade.PayoutTxHash) <= 0 {
		found, err := p.findPayoutTx(ctx, tc)
		if err != nil || !found {
			return err
		}
	}
	txs, err := p.daemon.GetTxs(ctx, []string{trade.PayoutTxHash})
	if err != nil {
		return transportFault(fmt.Errorf("failed to get payout tx: %w", err))
	}
	if len(txs) != 1 {
		return nil
	}
	tx := txs[0]
	if tx.IsFailed || tx.IsDoubleSpend {
		trade.AddError(fmt.Sprintf("payout tx %s is invalid", tx.Hash))
		return nil
	}
	trade.AdvancePayoutState(domain.PayoutStatePublished)
	if trade.DisputeState >= domain.DisputeStateArbitratorSentDisputeClosedMsg {
		trade.AdvanceDisputeState(domain.DisputeStateClosed)
	}
	if tx.Confirmations > 0 {
		trade.AdvancePayoutState(domain.PayoutStateConfirmed)
	}
	if tx.Confirmations >= UnlockConfirmations {
		trade.AdvancePayoutState(domain.PayoutStateUnlocked)
	}
	return nil
}

// findPayoutTx looks for the payout tx among the ones spending the escrow,
// for when another participant published it without telling.
func (p *Protocol) findPayoutTx(ctx context.Context, tc *TradeContext) (bool, error) {
	trade := tc.trade
	wallet, err := p.escrowWallet(ctx, tc)
	if err != nil {
		return false, err
	}
	txs, err := wallet.GetOutgoingTxs(ctx)
	if err != nil {
		return false, transportFault(fmt.Errorf("failed to get escrow txs: %w", err))
	}
	for _, tx := range txs {
		if tx.IsFailed || tx.IsDoubleSpend {
			continue
		}
		trade.PayoutTxHash = tx.Hash
		if trade.PayoutTxFee == 0 {
			trade.PayoutTxFee = tx.Fee
		}
		log.Infof("found payout tx %s of trade %s on chain", tx.Hash, trade.ShortId())
		return true, nil
	}
	return false, nil
}

func minConfirmations(txs []*ports.Tx) uint64 {
	if len(txs) <= 0 {
		return 0
	}
	min := txs[0].Confirmations
	for _, tx := range txs[1:] {
		if tx.Confirmations < min {
			min = tx.Confirmations
		}
	}
	return min
}
