package domain_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

func TestNewContract(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		trade := newTradeReadyForContract(t)
		contract, err := domain.NewContract(trade)
		require.NoError(t, err)
		require.Equal(t, "taker:9999", contract.BuyerNodeAddress)
		require.Equal(t, "maker:9999", contract.SellerNodeAddress)
		require.Equal(t, "taker-payout", contract.BuyerPayoutAddress())
		require.Equal(t, "maker-payout", contract.SellerPayoutAddress())
		require.True(t, contract.BuyerPubKeyRing().Equal(trade.Taker().PubKeyRing))
		require.True(t, contract.SellerPubKeyRing().Equal(trade.Maker().PubKeyRing))

		first, err := contract.JSON()
		require.NoError(t, err)
		parsed, err := domain.ParseContract(first)
		require.NoError(t, err)
		second, err := parsed.JSON()
		require.NoError(t, err)
		require.True(t, bytes.Equal(first, second))
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name          string
			mutate        func(trade *domain.Trade)
			expectedError error
		}{
			{
				name: "missing_maker_deposit",
				mutate: func(trade *domain.Trade) {
					trade.Maker().DepositTxHash = ""
				},
				expectedError: domain.ErrContractMissingDepositTx,
			},
			{
				name: "missing_taker_payout_address",
				mutate: func(trade *domain.Trade) {
					trade.Taker().PayoutAddress = ""
				},
				expectedError: domain.ErrContractMissingPayoutAddress,
			},
			{
				name: "payment_method_mismatch",
				mutate: func(trade *domain.Trade) {
					trade.Taker().PaymentMethodId = "ZELLE"
				},
				expectedError: domain.ErrPaymentMethodMismatch,
			},
		}
		for i := range tests {
			tt := tests[i]
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				trade := newTradeReadyForContract(t)
				tt.mutate(trade)
				contract, err := domain.NewContract(trade)
				require.ErrorIs(t, err, tt.expectedError)
				require.Nil(t, contract)
			})
		}
	})
}

func TestTradeSetContract(t *testing.T) {
	t.Parallel()

	trade := newTradeReadyForContract(t)
	contract, err := domain.NewContract(trade)
	require.NoError(t, err)

	done, err := trade.SetContract(contract)
	require.NoError(t, err)
	require.True(t, done)
	require.NotEmpty(t, trade.ContractJSON)
	require.Len(t, trade.ContractHash, 32)

	done, err = trade.SetContract(contract)
	require.NoError(t, err)
	require.False(t, done)

	other := *contract
	other.TradeAmount++
	done, err = trade.SetContract(&other)
	require.ErrorIs(t, err, domain.ErrContractMismatch)
	require.False(t, done)

	require.False(t, trade.IsContractSigned())
	trade.Maker().ContractSignature = []byte{1}
	trade.Taker().ContractSignature = []byte{2}
	require.False(t, trade.IsContractSigned())
	trade.Arbitrator().ContractSignature = []byte{3}
	require.True(t, trade.IsContractSigned())
}

func TestIsPaymentMethodCompatible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b     string
		expected bool
	}{
		{"SEPA", "SEPA", true},
		{"SEPA", "ZELLE", false},
		{domain.PaymentMethodBlockChains, domain.PaymentMethodBlockChainsInstant, true},
		{domain.PaymentMethodBlockChainsInstant, domain.PaymentMethodBlockChains, true},
		{domain.PaymentMethodBlockChains, "SEPA", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, domain.IsPaymentMethodCompatible(tt.a, tt.b), "%s/%s", tt.a, tt.b)
	}
}

func newTradeReadyForContract(t *testing.T) *domain.Trade {
	trade := newTestTrade(t, domain.DirectionSell, domain.RoleArbitrator)
	trade.Taker().PubKeyRing = domain.PubKeyRing{
		SignaturePubKey:  []byte{0x02, 0x02},
		EncryptionPubKey: []byte{0x03, 0x02},
	}
	trade.Taker().PaymentMethodId = "SEPA"
	trade.Maker().AccountId = "maker-account"
	trade.Taker().AccountId = "taker-account"
	trade.Maker().DepositTxHash = "maker-deposit"
	trade.Taker().DepositTxHash = "taker-deposit"
	trade.Maker().PayoutAddress = "maker-payout"
	trade.Taker().PayoutAddress = "taker-payout"
	return trade
}
