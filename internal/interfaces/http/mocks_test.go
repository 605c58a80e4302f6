package httpinterface

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tdex-network/escrowd/internal/core/application/pubsub"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

type mockNode struct{}

func (mockNode) NodeAddress() string { return "localhost:9945" }

func (mockNode) PubKeyRing() domain.PubKeyRing {
	return domain.PubKeyRing{
		SignaturePubKey:  []byte{0x01, 0x02},
		EncryptionPubKey: []byte{0x03, 0x04},
	}
}

/*
 * TradeService
 */
type mockTradeService struct {
	mock.Mock
}

func (m *mockTradeService) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTradeService) Stop(ctx context.Context) {
	m.Called(ctx)
}

func (m *mockTradeService) PlaceOffer(
	ctx context.Context, offer domain.Offer, account domain.PaymentAccount,
) (*domain.OpenOffer, error) {
	args := m.Called(ctx, offer, account)
	var res *domain.OpenOffer
	if a := args.Get(0); a != nil {
		res = a.(*domain.OpenOffer)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) CancelOffer(ctx context.Context, offerId string) error {
	return m.Called(ctx, offerId).Error(0)
}

func (m *mockTradeService) ListOpenOffers(ctx context.Context) ([]*domain.OpenOffer, error) {
	args := m.Called(ctx)
	var res []*domain.OpenOffer
	if a := args.Get(0); a != nil {
		res = a.([]*domain.OpenOffer)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) TakeOffer(
	ctx context.Context, offer domain.Offer, amount uint64,
	account domain.PaymentAccount,
) (*domain.Trade, error) {
	args := m.Called(ctx, offer, amount, account)
	var res *domain.Trade
	if a := args.Get(0); a != nil {
		res = a.(*domain.Trade)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) ConfirmPaymentSent(
	ctx context.Context, tradeId, counterCurrencyTxId string,
) error {
	return m.Called(ctx, tradeId, counterCurrencyTxId).Error(0)
}

func (m *mockTradeService) ConfirmPaymentReceived(ctx context.Context, tradeId string) error {
	return m.Called(ctx, tradeId).Error(0)
}

func (m *mockTradeService) OpenDispute(ctx context.Context, tradeId, reason string) error {
	return m.Called(ctx, tradeId, reason).Error(0)
}

func (m *mockTradeService) CloseDispute(
	ctx context.Context, tradeId string, result domain.DisputeResult,
) error {
	return m.Called(ctx, tradeId, result).Error(0)
}

func (m *mockTradeService) GetDispute(
	ctx context.Context, tradeId string,
) (*domain.Dispute, error) {
	args := m.Called(ctx, tradeId)
	var res *domain.Dispute
	if a := args.Get(0); a != nil {
		res = a.(*domain.Dispute)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) ListDisputes(ctx context.Context) ([]*domain.Dispute, error) {
	args := m.Called(ctx)
	var res []*domain.Dispute
	if a := args.Get(0); a != nil {
		res = a.([]*domain.Dispute)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) GetTrade(ctx context.Context, tradeId string) (*domain.Trade, error) {
	args := m.Called(ctx, tradeId)
	var res *domain.Trade
	if a := args.Get(0); a != nil {
		res = a.(*domain.Trade)
	}
	return res, args.Error(1)
}

func (m *mockTradeService) ListTrades(
	ctx context.Context, bucket domain.Bucket,
) ([]*domain.Trade, error) {
	args := m.Called(ctx, bucket)
	var res []*domain.Trade
	if a := args.Get(0); a != nil {
		res = a.([]*domain.Trade)
	}
	return res, args.Error(1)
}

/*
 * PubSubService
 */
type mockPubSubService struct {
	mock.Mock
}

func (m *mockPubSubService) AddWebhook(ctx context.Context, hook pubsub.Webhook) (string, error) {
	args := m.Called(ctx, hook)
	return args.String(0), args.Error(1)
}

func (m *mockPubSubService) RemoveWebhook(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPubSubService) ListWebhooks(
	ctx context.Context, topic string,
) ([]pubsub.Webhook, error) {
	args := m.Called(ctx, topic)
	var res []pubsub.Webhook
	if a := args.Get(0); a != nil {
		res = a.([]pubsub.Webhook)
	}
	return res, args.Error(1)
}

func (m *mockPubSubService) Close() {
	m.Called()
}
