package application

import (
	"context"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

// TradeService is the operator facing API of the trade manager.
type TradeService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)

	PlaceOffer(
		ctx context.Context, offer domain.Offer, account domain.PaymentAccount,
	) (*domain.OpenOffer, error)
	CancelOffer(ctx context.Context, offerId string) error
	ListOpenOffers(ctx context.Context) ([]*domain.OpenOffer, error)
	TakeOffer(
		ctx context.Context, offer domain.Offer, amount uint64,
		account domain.PaymentAccount,
	) (*domain.Trade, error)

	ConfirmPaymentSent(ctx context.Context, tradeId, counterCurrencyTxId string) error
	ConfirmPaymentReceived(ctx context.Context, tradeId string) error

	OpenDispute(ctx context.Context, tradeId, reason string) error
	CloseDispute(
		ctx context.Context, tradeId string, result domain.DisputeResult,
	) error
	GetDispute(ctx context.Context, tradeId string) (*domain.Dispute, error)
	ListDisputes(ctx context.Context) ([]*domain.Dispute, error)

	GetTrade(ctx context.Context, tradeId string) (*domain.Trade, error)
	ListTrades(ctx context.Context, bucket domain.Bucket) ([]*domain.Trade, error)
}
