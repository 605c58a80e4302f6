package dispute

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/infrastructure/storage/db/inmemory"
)

func TestOpenDisputeGuards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		role        domain.Role
		setup       func(trade *domain.Trade)
		expectedErr error
	}{
		{
			name:        "arbitrator",
			role:        domain.RoleArbitrator,
			expectedErr: ErrNotTrader,
		},
		{
			name:        "deposits_not_published",
			role:        domain.RoleMaker,
			expectedErr: protocol.ErrInvalidTradeState,
		},
		{
			name: "already_open",
			role: domain.RoleTaker,
			setup: func(trade *domain.Trade) {
				trade.SetState(domain.StateDepositTxsSeenInNetwork)
				trade.AdvanceDisputeState(domain.DisputeStateOpened)
			},
			expectedErr: ErrDisputeAlreadyOpen,
		},
		{
			name: "failed_trade",
			role: domain.RoleTaker,
			setup: func(trade *domain.Trade) {
				trade.SetState(domain.StateDepositTxsSeenInNetwork)
				trade.Fail("test")
			},
			expectedErr: protocol.ErrInvalidTradeState,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trade := newTestTrade(t, tt.role)
			if tt.setup != nil {
				tt.setup(trade)
			}
			svc := NewService(nil, inmemory.NewDisputeRepositoryImpl())
			err := svc.OpenDispute(context.Background(), trade, "no payment")
			require.ErrorIs(t, err, tt.expectedErr)
			require.NotEqual(t, domain.DisputeStateRequested, trade.DisputeState)
		})
	}
}

func TestCloseDisputeGuards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	result := domain.DisputeResult{
		Winner:             domain.WinnerBuyer,
		BuyerPayoutAmount:  11000,
		SellerPayoutAmount: 2000,
	}

	t.Run("not_arbitrator", func(t *testing.T) {
		t.Parallel()

		svc := NewService(nil, inmemory.NewDisputeRepositoryImpl())
		err := svc.CloseDispute(ctx, newTestTrade(t, domain.RoleMaker), result)
		require.ErrorIs(t, err, ErrNotArbitrator)
	})

	t.Run("wrong_trade", func(t *testing.T) {
		t.Parallel()

		svc := NewService(nil, inmemory.NewDisputeRepositoryImpl())
		res := result
		res.TradeId = "another trade"
		err := svc.CloseDispute(ctx, newTestTrade(t, domain.RoleArbitrator), res)
		require.ErrorIs(t, err, ErrResultTradeId)
	})

	t.Run("unknown_dispute", func(t *testing.T) {
		t.Parallel()

		svc := NewService(nil, inmemory.NewDisputeRepositoryImpl())
		err := svc.CloseDispute(ctx, newTestTrade(t, domain.RoleArbitrator), result)
		require.ErrorIs(t, err, domain.ErrDisputeNotFound)
	})

	t.Run("not_open", func(t *testing.T) {
		t.Parallel()

		trade := newTestTrade(t, domain.RoleArbitrator)
		repo := inmemory.NewDisputeRepositoryImpl()
		err := repo.AddDispute(ctx, domain.NewDispute(trade.Id, "taker.onion:9999", true, "test"))
		require.NoError(t, err)

		svc := NewService(nil, repo)
		err = svc.CloseDispute(ctx, trade, result)
		require.ErrorIs(t, err, ErrDisputeNotOpen)
	})

	t.Run("already_closed", func(t *testing.T) {
		t.Parallel()

		trade := newTestTrade(t, domain.RoleArbitrator)
		trade.AdvanceDisputeState(domain.DisputeStateArbitratorSentDisputeClosedMsg)
		repo := inmemory.NewDisputeRepositoryImpl()
		dispute := domain.NewDispute(trade.Id, "taker.onion:9999", true, "test")
		_, err := dispute.Close(result)
		require.NoError(t, err)
		require.NoError(t, repo.AddDispute(ctx, dispute))

		svc := NewService(nil, repo)
		err = svc.CloseDispute(ctx, trade, result)
		require.ErrorIs(t, err, domain.ErrDisputeAlreadyClosed)
	})
}

func TestListDisputes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := inmemory.NewDisputeRepositoryImpl()
	svc := NewService(nil, repo)

	disputes, err := svc.ListDisputes(ctx)
	require.NoError(t, err)
	require.Empty(t, disputes)

	require.NoError(t, repo.AddDispute(ctx, domain.NewDispute("trade", "peer", false, "test")))
	dispute, err := svc.GetDispute(ctx, "trade")
	require.NoError(t, err)
	require.False(t, dispute.IsClosed())
	require.Equal(t, "peer", dispute.OpenerAddress)

	disputes, err = svc.ListDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, disputes, 1)
}

func newTestTrade(t *testing.T, role domain.Role) *domain.Trade {
	offer := domain.Offer{
		Id:                    "3d1b6a0e-5b43-4b39-a8f6-0b8c3e6f7a21",
		Direction:             domain.DirectionSell,
		Amount:                10000,
		MinAmount:             1000,
		Price:                 decimal.NewFromInt(150),
		CounterCurrency:       "EUR",
		BuyerSecurityDeposit:  1000,
		SellerSecurityDeposit: 2000,
		MakerFee:              100,
		PaymentMethodId:       "SEPA",
		MakerNodeAddress:      "maker.onion:9999",
		MakerPubKeyRing:       domain.PubKeyRing{SignaturePubKey: []byte{1}, EncryptionPubKey: []byte{2}},
		ArbitratorNodeAddress: "arbitrator.onion:9999",
	}
	trade, err := domain.NewTrade(offer, role, 10000, 100, "taker.onion:9999")
	require.NoError(t, err)
	return trade
}
