package protocol

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

// sendDepositRequest asks the arbitrator to publish the deposit txs once the
// contract is signed by all the parties.
func (p *Protocol) sendDepositRequest(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	self := trade.Self()
	pm := trade.ProcessModel
	trade.AdvanceState(domain.StateContractSigned)

	err := p.sendDirect(ctx, trade.Arbitrator(), &domain.DepositRequest{
		MessageHeader:     p.Header(trade),
		ContractSignature: self.ContractSignature,
		DepositTxHash:     pm.DepositTxHash,
		DepositTxHex:      pm.DepositTxHex,
		DepositTxKey:      pm.DepositTxKey,
		PaymentAccountKey: self.PaymentAccountKey,
	})
	if err != nil {
		trade.SetState(domain.StateSendFailedPublishDepositTxRequest)
		return err
	}
	trade.SetState(domain.StateSentPublishDepositTxRequest)
	return nil
}

func (p *Protocol) handleDepositRequest(
	ctx context.Context, tc *TradeContext, msg *domain.DepositRequest,
) error {
	if !tc.trade.IsArbitrator() {
		return violation("%w: %s", ErrUnexpectedMessage, msg.Type())
	}
	err := p.Run(ctx, "arbitrator process deposit request", tc,
		Task{"verify deposit request", p.verifyDepositRequest},
		Task{"relay deposit txs", p.relayDepositTxs},
	)
	if err == nil || tc.peer == nil || IsTransportFault(err) {
		return err
	}

	// The request is invalid, the trade can't go on.
	reason := err.Error()
	//nolint
	p.Run(ctx, "arbitrator reject deposit request", tc,
		Task{"send deposit response", func(ctx context.Context, tc *TradeContext) error {
			return p.sendDirect(ctx, tc.peer, &domain.DepositResponse{
				MessageHeader: p.Header(tc.trade),
				Success:       false,
				ErrorMessage:  reason,
			})
		}},
		Task{"fail trade", func(_ context.Context, tc *TradeContext) error {
			tc.trade.Fail(reason)
			return nil
		}},
	)
	return err
}

func (p *Protocol) verifyDepositRequest(ctx context.Context, tc *TradeContext) error {
	msg := tc.msg.(*domain.DepositRequest)
	trade := tc.trade
	peer, err := p.BindSender(tc, domain.RoleMaker, domain.RoleTaker)
	if err != nil {
		return err
	}
	if trade.Contract == nil {
		return violation("%w", ErrMissingContract)
	}
	if !p.keyring.Verify(
		peer.PubKeyRing.SignaturePubKey, trade.ContractJSON, msg.ContractSignature,
	) {
		return violation("%w for contract", ErrInvalidSignature)
	}
	if _, err := peer.SetContractSignature(msg.ContractSignature); err != nil {
		return violation("%w", err)
	}
	if msg.DepositTxHash != peer.DepositTxHash {
		return violation("%w", domain.ErrDepositTxMismatch)
	}

	res, err := VerifyTradeTx(ctx, p.wallets.MainWallet(), p.daemon, TxVerification{
		TxHash:           msg.DepositTxHash,
		TxHex:            msg.DepositTxHex,
		TxKey:            msg.DepositTxKey,
		Recipient:        trade.ProcessModel.MultisigAddress,
		Amount:           trade.ExpectedDepositAmount(peer),
		FeeAddress:       trade.ProcessModel.TradeFeeAddress,
		Fee:              trade.ExpectedTradeFee(peer),
		AllowedKeyImages: peer.ReserveTxKeyImages,
	})
	if err != nil {
		return err
	}
	if err := peer.SetDepositTx(msg.DepositTxHash, msg.DepositTxHex, msg.DepositTxKey); err != nil {
		return violation("%w", err)
	}
	peer.DepositAmount = res.ReceivedAmount
	if len(msg.PaymentAccountKey) > 0 {
		peer.PaymentAccountKey = msg.PaymentAccountKey
	}
	trade.AdvanceState(domain.StateSawArrivedPublishDepositTxRequest)
	return nil
}

// relayDepositTxs relays both deposit txs once both have been verified, and
// notifies maker and taker. The txs are relayed at most once.
func (p *Protocol) relayDepositTxs(ctx context.Context, tc *TradeContext) error {
	trade := tc.trade
	maker, taker := trade.Maker(), trade.Taker()

	tc.locks.depositRelayMtx.Lock()
	defer tc.locks.depositRelayMtx.Unlock()

	if !maker.HasDepositTx() || !taker.HasDepositTx() {
		return nil
	}
	if trade.State >= domain.StateArbitratorPublishedDepositTxs {
		return nil
	}

	if err := p.daemon.RelayTxsByHash(
		ctx, []string{maker.DepositTxHash, taker.DepositTxHash},
	); err != nil {
		return transportFault(fmt.Errorf("failed to relay deposit txs: %w", err))
	}
	trade.AdvanceState(domain.StateArbitratorPublishedDepositTxs)
	log.Infof("published deposit txs of trade %s", trade.ShortId())

	// Deposits are already published, a trader that misses the response
	// learns it from the network.
	if err := p.sendToAll(
		ctx, []*domain.TradePeer{maker, taker},
		func(*domain.TradePeer) (domain.TradeMessage, error) {
			return &domain.DepositResponse{
				MessageHeader: p.Header(trade),
				Success:       true,
			}, nil
		},
	); err != nil {
		log.WithError(err).Warnf(
			"failed to send deposit response for trade %s", trade.ShortId(),
		)
	}
	return nil
}

func (p *Protocol) handleDepositResponse(
	ctx context.Context, tc *TradeContext, msg *domain.DepositResponse,
) error {
	return p.Run(ctx, "process deposit response", tc,
		Task{"process deposit response", func(ctx context.Context, tc *TradeContext) error {
			if _, err := p.BindSender(tc, domain.RoleArbitrator); err != nil {
				return err
			}
			trade := tc.trade
			if msg.Success {
				trade.AdvanceState(domain.StateArbitratorPublishedDepositTxs)
				return nil
			}

			trade.SetState(domain.StatePublishDepositTxRequestFailed)
			trade.Fail(fmt.Sprintf("arbitrator rejected deposit: %s", msg.ErrorMessage))
			if err := p.wallets.MainWallet().ThawKeyImages(
				ctx, trade.Self().ReserveTxKeyImages,
			); err != nil {
				log.WithError(err).Warnf(
					"failed to release reserved funds of trade %s", trade.ShortId(),
				)
			}
			return nil
		}},
	)
}
