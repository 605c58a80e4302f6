package protocol

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

// NewTradeFromRequest returns the trade initiated by the given request. The
// local node must be either the maker of the offer, in which case the
// request comes from the taker and must refer to one of the node's open
// offers, or the arbitrator, in which case the request comes from the maker.
// The trade must be started with HandleMessage.
func (p *Protocol) NewTradeFromRequest(
	ctx context.Context, msg *domain.InitTradeRequest,
) (*domain.Trade, error) {
	if p.IsShuttingDown() {
		return nil, ErrShuttingDown
	}
	if msg.ProtocolVersion != domain.ProtocolVersion {
		return nil, violation("unsupported protocol version %d", msg.ProtocolVersion)
	}
	if msg.Offer.Id != msg.TradeId {
		return nil, violation("trade id %s does not match offer", msg.TradeId)
	}
	self := p.NodeAddress()

	var role domain.Role
	switch self {
	case msg.Offer.MakerNodeAddress:
		role = domain.RoleMaker
		if msg.SenderNodeAddress != msg.TakerNodeAddress {
			return nil, violation("%w: %s", ErrUnknownSender, msg.SenderNodeAddress)
		}
		openOffer, err := p.repo.OpenOfferRepository().GetOpenOffer(ctx, msg.Offer.Id)
		if err != nil {
			return nil, err
		}
		if openOffer.Closed {
			return nil, ErrOpenOfferClosed
		}
		if !bytes.Equal(openOffer.Offer.Hash(), msg.Offer.Hash()) {
			return nil, violation("%w", ErrOfferMismatch)
		}
	case msg.Offer.ArbitratorNodeAddress:
		role = domain.RoleArbitrator
		if msg.SenderNodeAddress != msg.Offer.MakerNodeAddress {
			return nil, violation("%w: %s", ErrUnknownSender, msg.SenderNodeAddress)
		}
		if !msg.Offer.ArbitratorPubKeyRing.Equal(p.PubKeyRing()) {
			return nil, violation("offer %s is bound to another arbitrator key", msg.Offer.Id)
		}
	default:
		return nil, violation("node is neither maker nor arbitrator of offer %s", msg.Offer.Id)
	}

	if msg.TakerFee < msg.Offer.TakerFeeFor(msg.TradeAmount) {
		return nil, violation("taker fee %d is too low", msg.TakerFee)
	}
	trade, err := domain.NewTrade(
		msg.Offer, role, msg.TradeAmount, msg.TakerFee, msg.TakerNodeAddress,
	)
	if err != nil {
		return nil, violation("%w", err)
	}
	trade.ProcessModel.TradeFeeAddress = p.tradeFeeAddress
	if role == domain.RoleArbitrator {
		trade.Arbitrator().PubKeyRing = p.PubKeyRing()
	}
	return trade, nil
}

func (p *Protocol) handleInitTradeRequest(
	ctx context.Context, tc *TradeContext, msg *domain.InitTradeRequest,
) error {
	// A trade is initiated only once, any further request is a redelivery.
	if tc.trade.State != domain.StatePreparation ||
		len(tc.trade.Self().PreparedMultisigHex) > 0 {
		return nil
	}

	switch tc.trade.Role {
	case domain.RoleMaker:
		return p.Run(ctx, "maker process init trade request", tc,
			Task{"process init trade request", p.makerProcessInitTradeRequest},
			Task{"create escrow wallet", p.createEscrowWallet},
			Task{"prepare multisig", p.prepareMultisig},
			Task{"send init trade request to arbitrator", p.sendInitTradeRequestToArbitrator},
		)
	case domain.RoleArbitrator:
		return p.Run(ctx, "arbitrator process init trade request", tc,
			Task{"process init trade request", p.arbitratorProcessInitTradeRequest},
			Task{"create escrow wallet", p.createEscrowWallet},
			Task{"prepare multisig", p.prepareMultisig},
			Task{"send multisig hexes", p.maybeSendMultisigHexes},
		)
	default:
		return violation("%w: %s", ErrUnexpectedMessage, msg.Type())
	}
}

func (p *Protocol) makerProcessInitTradeRequest(
	ctx context.Context, tc *TradeContext,
) error {
	msg := tc.msg.(*domain.InitTradeRequest)
	trade := tc.trade
	taker, err := p.BindSender(tc, domain.RoleTaker)
	if err != nil {
		return err
	}
	if !msg.TakerPubKeyRing.Equal(msg.SenderPubKeyRing) {
		return violation("taker key ring does not match sender")
	}
	if !domain.IsPaymentMethodCompatible(trade.Offer.PaymentMethodId, msg.TakerPaymentMethodId) {
		return violation("%w", domain.ErrPaymentMethodMismatch)
	}
	taker.AccountId = msg.TakerAccountId
	taker.PaymentMethodId = msg.TakerPaymentMethodId
	if err := p.verifyReserveTx(ctx, trade, taker, msg.TakerReserveTx); err != nil {
		return err
	}

	openOffer, err := p.repo.OpenOfferRepository().GetOpenOffer(ctx, trade.Id)
	if err != nil {
		return err
	}
	maker := trade.Maker()
	maker.PubKeyRing = p.PubKeyRing()
	maker.AccountId = openOffer.PaymentAccount.Id
	maker.PaymentMethodId = openOffer.PaymentAccount.PaymentMethodId
	maker.PaymentAccountPayloadHash = openOffer.PaymentAccount.Hash()
	maker.ReserveTxHash = openOffer.ReserveTxHash
	maker.ReserveTxHex = openOffer.ReserveTxHex
	maker.ReserveTxKey = openOffer.ReserveTxKey
	maker.ReserveTxKeyImages = openOffer.ReserveTxKeyImages
	account := openOffer.PaymentAccount
	trade.ProcessModel.PaymentAccount = &account
	trade.ProcessModel.ReturnAddress = openOffer.ReturnAddress

	return p.repo.OpenOfferRepository().UpdateOpenOffer(
		ctx, trade.Id, func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			if !o.Close() {
				return nil, ErrOpenOfferClosed
			}
			return o, nil
		},
	)
}

func (p *Protocol) sendInitTradeRequestToArbitrator(
	ctx context.Context, tc *TradeContext,
) error {
	trade := tc.trade
	maker, taker := trade.Maker(), trade.Taker()
	reserveTxOf := func(peer *domain.TradePeer, returnAddress string) *domain.ReserveTx {
		return &domain.ReserveTx{
			Hash:          peer.ReserveTxHash,
			Hex:           peer.ReserveTxHex,
			Key:           peer.ReserveTxKey,
			KeyImages:     peer.ReserveTxKeyImages,
			ReturnAddress: returnAddress,
		}
	}
	takerRequest := tc.msg.(*domain.InitTradeRequest)

	msg := &domain.InitTradeRequest{
		MessageHeader:         p.Header(trade),
		Offer:                 trade.Offer,
		TradeAmount:           trade.Amount,
		TradePrice:            trade.Price,
		TakerFee:              trade.TakerFee,
		MakerNodeAddress:      maker.NodeAddress,
		TakerNodeAddress:      taker.NodeAddress,
		ArbitratorNodeAddress: trade.Arbitrator().NodeAddress,
		TakerPubKeyRing:       taker.PubKeyRing,
		MakerAccountId:        maker.AccountId,
		TakerAccountId:        taker.AccountId,
		MakerPaymentMethodId:  maker.PaymentMethodId,
		TakerPaymentMethodId:  taker.PaymentMethodId,
		MakerReserveTx:        reserveTxOf(maker, trade.ProcessModel.ReturnAddress),
		TakerReserveTx:        reserveTxOf(taker, takerRequest.TakerReserveTx.ReturnAddress),
	}
	sig, err := p.Sign(msg)
	if err != nil {
		return err
	}
	msg.MakerSignature = sig
	return p.sendDirect(ctx, trade.Arbitrator(), msg)
}

func (p *Protocol) arbitratorProcessInitTradeRequest(
	ctx context.Context, tc *TradeContext,
) error {
	msg := tc.msg.(*domain.InitTradeRequest)
	trade := tc.trade
	maker, err := p.BindSender(tc, domain.RoleMaker)
	if err != nil {
		return err
	}
	if err := p.VerifySignature(msg, trade.Offer.MakerPubKeyRing.SignaturePubKey); err != nil {
		return err
	}
	if !domain.IsPaymentMethodCompatible(msg.MakerPaymentMethodId, msg.TakerPaymentMethodId) {
		return violation("%w", domain.ErrPaymentMethodMismatch)
	}

	taker := trade.Taker()
	if err := taker.SetPubKeyRing(msg.TakerPubKeyRing); err != nil {
		return violation("taker: %w", err)
	}
	maker.AccountId = msg.MakerAccountId
	maker.PaymentMethodId = msg.MakerPaymentMethodId
	taker.AccountId = msg.TakerAccountId
	taker.PaymentMethodId = msg.TakerPaymentMethodId

	if err := p.verifyReserveTx(ctx, trade, maker, msg.MakerReserveTx); err != nil {
		return fmt.Errorf("maker reserve tx: %w", err)
	}
	if err := p.verifyReserveTx(ctx, trade, taker, msg.TakerReserveTx); err != nil {
		return fmt.Errorf("taker reserve tx: %w", err)
	}
	return nil
}
