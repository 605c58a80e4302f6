package protocol

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

// PlaceOffer makes the local node the maker of the given offer. The funds
// required to deposit the maximum amount of the offer are reserved with a
// reserve tx that is never relayed, and whose inputs are frozen.
func (p *Protocol) PlaceOffer(
	ctx context.Context, offer domain.Offer, account domain.PaymentAccount,
) (*domain.OpenOffer, error) {
	if p.IsShuttingDown() {
		return nil, ErrShuttingDown
	}
	if offer.ArbitratorPubKeyRing.IsEmpty() {
		return nil, domain.ErrOfferMissingArbitrator
	}
	offer.MakerNodeAddress = p.NodeAddress()
	offer.MakerPubKeyRing = p.PubKeyRing()

	openOffer, err := domain.NewOpenOffer(offer, account)
	if err != nil {
		return nil, err
	}

	side := domain.SideOf(domain.RoleMaker, offer.Direction)
	reserveTx, err := p.reserveFunds(
		ctx, offer.DepositFor(side, offer.Amount), offer.MakerFee,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve funds for offer: %w", err)
	}
	openOffer.ReserveTxHash = reserveTx.Hash
	openOffer.ReserveTxHex = reserveTx.Hex
	openOffer.ReserveTxKey = reserveTx.Key
	openOffer.ReserveTxKeyImages = reserveTx.KeyImages
	openOffer.ReturnAddress = reserveTx.ReturnAddress

	if err := p.repo.OpenOfferRepository().AddOpenOffer(ctx, openOffer); err != nil {
		//nolint
		p.wallets.MainWallet().ThawKeyImages(ctx, reserveTx.KeyImages)
		return nil, err
	}
	log.Infof("placed offer %s", offer.Id)
	return openOffer, nil
}

// CancelOffer removes an open offer not taken yet and releases its reserved
// funds.
func (p *Protocol) CancelOffer(ctx context.Context, offerId string) error {
	repo := p.repo.OpenOfferRepository()
	openOffer, err := repo.GetOpenOffer(ctx, offerId)
	if err != nil {
		return err
	}
	if openOffer.Closed {
		return ErrOpenOfferClosed
	}
	if err := p.wallets.MainWallet().ThawKeyImages(
		ctx, openOffer.ReserveTxKeyImages,
	); err != nil {
		return err
	}
	return repo.DeleteOpenOffer(ctx, offerId)
}

// NewTakerTrade returns the trade for taking the given offer. The trade
// must be started with TakeOffer.
func (p *Protocol) NewTakerTrade(
	offer domain.Offer, amount uint64, account domain.PaymentAccount,
) (*domain.Trade, error) {
	if offer.MakerNodeAddress == p.NodeAddress() {
		return nil, fmt.Errorf("can't take own offer")
	}
	if offer.ArbitratorPubKeyRing.IsEmpty() {
		return nil, domain.ErrOfferMissingArbitrator
	}
	if !domain.IsPaymentMethodCompatible(offer.PaymentMethodId, account.PaymentMethodId) {
		return nil, domain.ErrPaymentMethodMismatch
	}

	trade, err := domain.NewTrade(
		offer, domain.RoleTaker, amount, offer.TakerFeeFor(amount), p.NodeAddress(),
	)
	if err != nil {
		return nil, err
	}
	taker := trade.Taker()
	taker.PubKeyRing = p.PubKeyRing()
	taker.AccountId = account.Id
	taker.PaymentMethodId = account.PaymentMethodId
	taker.PaymentAccountPayloadHash = account.Hash()
	trade.ProcessModel.PaymentAccount = &account
	trade.ProcessModel.TradeFeeAddress = p.tradeFeeAddress
	return trade, nil
}

// TakeOffer reserves the taker's funds and sends the trade request to the
// maker of the offer.
func (p *Protocol) TakeOffer(ctx context.Context, trade *domain.Trade) error {
	tc := p.NewTradeContext(trade, nil, "")
	return p.Run(ctx, "take offer", tc,
		Task{"reserve taker funds", p.reserveTakerFunds},
		Task{"send init trade request to maker", p.sendInitTradeRequestToMaker},
	)
}

func (p *Protocol) reserveTakerFunds(ctx context.Context, tc *TradeContext) error {
	taker := tc.trade.Taker()
	if len(taker.ReserveTxHash) > 0 {
		return nil
	}
	amount := tc.trade.ExpectedDepositAmount(taker)
	reserveTx, err := p.reserveFunds(ctx, amount, tc.trade.TakerFee)
	if err != nil {
		return err
	}
	taker.ReserveTxHash = reserveTx.Hash
	taker.ReserveTxHex = reserveTx.Hex
	taker.ReserveTxKey = reserveTx.Key
	taker.ReserveTxKeyImages = reserveTx.KeyImages
	tc.trade.ProcessModel.ReturnAddress = reserveTx.ReturnAddress
	return nil
}

func (p *Protocol) sendInitTradeRequestToMaker(
	ctx context.Context, tc *TradeContext,
) error {
	trade := tc.trade
	taker := trade.Taker()
	msg := &domain.InitTradeRequest{
		MessageHeader:         p.Header(trade),
		Offer:                 trade.Offer,
		TradeAmount:           trade.Amount,
		TradePrice:            trade.Price,
		TakerFee:              trade.TakerFee,
		MakerNodeAddress:      trade.Maker().NodeAddress,
		TakerNodeAddress:      taker.NodeAddress,
		ArbitratorNodeAddress: trade.Arbitrator().NodeAddress,
		TakerPubKeyRing:       taker.PubKeyRing,
		TakerAccountId:        taker.AccountId,
		TakerPaymentMethodId:  taker.PaymentMethodId,
		TakerReserveTx: &domain.ReserveTx{
			Hash:          taker.ReserveTxHash,
			Hex:           taker.ReserveTxHex,
			Key:           taker.ReserveTxKey,
			KeyImages:     taker.ReserveTxKeyImages,
			ReturnAddress: trade.ProcessModel.ReturnAddress,
		},
	}
	return p.sendDirect(ctx, trade.Maker(), msg)
}

// reserveFunds creates, without relaying, a tx paying the trade fee to the
// fee address and the given amount back to a new address of the main
// wallet. The inputs of the tx are frozen so that they can't be spent by
// anything other than the deposit tx.
func (p *Protocol) reserveFunds(
	ctx context.Context, amount, tradeFee uint64,
) (*domain.ReserveTx, error) {
	wallet := p.wallets.MainWallet()
	returnAddress, err := wallet.NewSubaddress(ctx, "reserve")
	if err != nil {
		return nil, err
	}

	destinations := make([]ports.Destination, 0, 2)
	if tradeFee > 0 {
		destinations = append(destinations, ports.Destination{
			Address: p.tradeFeeAddress, Amount: tradeFee,
		})
	}
	destinations = append(destinations, ports.Destination{
		Address: returnAddress, Amount: amount,
	})
	tx, err := wallet.CreateTx(ctx, ports.TxConfig{Destinations: destinations})
	if err != nil {
		return nil, err
	}
	if err := wallet.FreezeKeyImages(ctx, tx.KeyImages); err != nil {
		return nil, err
	}
	return &domain.ReserveTx{
		Hash:          tx.Hash,
		Hex:           tx.Hex,
		Key:           tx.Key,
		KeyImages:     tx.KeyImages,
		ReturnAddress: returnAddress,
	}, nil
}

// verifyReserveTx checks that the reserve tx of the given peer locks the
// expected deposit amount and pays the expected trade fee.
func (p *Protocol) verifyReserveTx(
	ctx context.Context, trade *domain.Trade, peer *domain.TradePeer,
	reserveTx *domain.ReserveTx,
) error {
	if reserveTx == nil {
		return violation("missing reserve tx")
	}
	res, err := VerifyTradeTx(ctx, p.wallets.MainWallet(), p.daemon, TxVerification{
		TxHash:     reserveTx.Hash,
		TxHex:      reserveTx.Hex,
		TxKey:      reserveTx.Key,
		Recipient:  reserveTx.ReturnAddress,
		Amount:     trade.ExpectedDepositAmount(peer),
		FeeAddress: trade.ProcessModel.TradeFeeAddress,
		Fee:        trade.ExpectedTradeFee(peer),
	})
	if err != nil {
		return err
	}
	peer.ReserveTxHash = reserveTx.Hash
	peer.ReserveTxHex = reserveTx.Hex
	peer.ReserveTxKey = reserveTx.Key
	peer.ReserveTxKeyImages = res.KeyImages
	return nil
}
