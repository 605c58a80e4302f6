package domain_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

const xmr = domain.AtomicUnitsPerXmr

func TestNewTrade(t *testing.T) {
	t.Parallel()

	offer := newTestOffer(domain.DirectionSell)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name         string
			role         domain.Role
			expectedSide domain.Side
		}{
			{"maker_of_sell_offer", domain.RoleMaker, domain.SideSeller},
			{"taker_of_sell_offer", domain.RoleTaker, domain.SideBuyer},
			{"arbitrator", domain.RoleArbitrator, domain.SideNone},
		}
		for i := range tests {
			tt := tests[i]
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				trade, err := domain.NewTrade(offer, tt.role, 10*xmr, 1000, "taker:9999")
				require.NoError(t, err)
				require.NotNil(t, trade)
				require.Equal(t, offer.Id, trade.Id)
				require.NotEmpty(t, trade.Uid)
				require.Equal(t, tt.expectedSide, trade.Side())
				require.Equal(t, domain.StatePreparation, trade.State)
				require.Equal(t, domain.PhaseInit, trade.Phase())
				require.Equal(t, domain.PayoutStateUnpublished, trade.PayoutState)
				require.Equal(t, domain.DisputeStateNoDispute, trade.DisputeState)
				require.Equal(t, domain.BucketOpen, trade.Bucket)
				require.Equal(t, "maker:9999", trade.Maker().NodeAddress)
				require.Equal(t, "taker:9999", trade.Taker().NodeAddress)
				require.Equal(t, "arbitrator:9999", trade.Arbitrator().NodeAddress)
				require.True(t, trade.Maker().PubKeyRing.Equal(offer.MakerPubKeyRing))
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name          string
			offer         domain.Offer
			role          domain.Role
			amount        uint64
			expectedError error
		}{
			{
				name:          "zero_amount",
				offer:         offer,
				role:          domain.RoleTaker,
				amount:        0,
				expectedError: domain.ErrTradeInvalidAmount,
			},
			{
				name:          "amount_above_offer",
				offer:         offer,
				role:          domain.RoleTaker,
				amount:        offer.Amount + 1,
				expectedError: domain.ErrTradeInvalidAmount,
			},
			{
				name:          "invalid_role",
				offer:         offer,
				role:          domain.Role(7),
				amount:        offer.Amount,
				expectedError: domain.ErrTradeInvalidRole,
			},
			{
				name: "invalid_offer",
				offer: func() domain.Offer {
					o := offer
					o.Price = decimal.Zero
					return o
				}(),
				role:          domain.RoleMaker,
				amount:        offer.Amount,
				expectedError: domain.ErrOfferInvalidPrice,
			},
		}
		for i := range tests {
			tt := tests[i]
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				trade, err := domain.NewTrade(tt.offer, tt.role, tt.amount, 0, "taker:9999")
				require.ErrorIs(t, err, tt.expectedError)
				require.Nil(t, trade)
			})
		}
	})
}

func TestTradeRoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		direction        domain.Direction
		role             domain.Role
		expectedBuyer    string
		expectedSeller   string
		expectedSelf     string
		expectedMultisig [2]string
	}{
		{
			name:             "maker_buyer",
			direction:        domain.DirectionBuy,
			role:             domain.RoleMaker,
			expectedBuyer:    "maker:9999",
			expectedSeller:   "taker:9999",
			expectedSelf:     "maker:9999",
			expectedMultisig: [2]string{"taker:9999", "arbitrator:9999"},
		},
		{
			name:             "taker_buyer",
			direction:        domain.DirectionSell,
			role:             domain.RoleTaker,
			expectedBuyer:    "taker:9999",
			expectedSeller:   "maker:9999",
			expectedSelf:     "taker:9999",
			expectedMultisig: [2]string{"arbitrator:9999", "maker:9999"},
		},
		{
			name:             "arbitrator",
			direction:        domain.DirectionSell,
			role:             domain.RoleArbitrator,
			expectedBuyer:    "taker:9999",
			expectedSeller:   "maker:9999",
			expectedSelf:     "arbitrator:9999",
			expectedMultisig: [2]string{"maker:9999", "taker:9999"},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trade := newTestTrade(t, tt.direction, tt.role)
			require.Equal(t, tt.expectedBuyer, trade.Buyer().NodeAddress)
			require.Equal(t, tt.expectedSeller, trade.Seller().NodeAddress)
			require.Equal(t, tt.expectedSelf, trade.Self().NodeAddress)

			peers := trade.MultisigPeers()
			require.Equal(t, tt.expectedMultisig[0], peers[0].NodeAddress)
			require.Equal(t, tt.expectedMultisig[1], peers[1].NodeAddress)
			require.NotEqual(t, trade.Self(), peers[0])
			require.NotEqual(t, trade.Self(), peers[1])

			if trade.IsArbitrator() {
				require.Nil(t, trade.TradingPeer())
			} else {
				require.NotNil(t, trade.TradingPeer())
				require.NotEqual(t, trade.Self(), trade.TradingPeer())
			}
		})
	}
}

func TestTradeSetState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		current         domain.State
		next            domain.State
		expectedChanged bool
		expectedState   domain.State
	}{
		{
			name:            "forward_phase",
			current:         domain.StateContractSigned,
			next:            domain.StateArbitratorPublishedDepositTxs,
			expectedChanged: true,
			expectedState:   domain.StateArbitratorPublishedDepositTxs,
		},
		{
			name:            "same_phase_forward",
			current:         domain.StateMultisigPrepared,
			next:            domain.StateMultisigMade,
			expectedChanged: true,
			expectedState:   domain.StateMultisigMade,
		},
		{
			name:            "same_phase_lateral_back",
			current:         domain.StateBuyerSendFailedPaymentSentMsg,
			next:            domain.StateBuyerConfirmedPaymentSent,
			expectedChanged: true,
			expectedState:   domain.StateBuyerConfirmedPaymentSent,
		},
		{
			name:            "previous_phase_dropped",
			current:         domain.StateDepositTxsConfirmedInBlockchain,
			next:            domain.StateContractSigned,
			expectedChanged: false,
			expectedState:   domain.StateDepositTxsConfirmedInBlockchain,
		},
		{
			name:            "same_state",
			current:         domain.StateContractSigned,
			next:            domain.StateContractSigned,
			expectedChanged: false,
			expectedState:   domain.StateContractSigned,
		},
		{
			name:            "unknown_state",
			current:         domain.StateContractSigned,
			next:            domain.State(1000),
			expectedChanged: false,
			expectedState:   domain.StateContractSigned,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trade := newTestTrade(t, domain.DirectionSell, domain.RoleMaker)
			trade.State = tt.current

			changed := trade.SetStateIfValidTransitionTo(tt.next)
			require.Equal(t, tt.expectedChanged, changed)
			require.Equal(t, tt.expectedState, trade.State)
		})
	}
}

func TestTradeAdvanceState(t *testing.T) {
	t.Parallel()

	trade := newTestTrade(t, domain.DirectionSell, domain.RoleMaker)
	trade.State = domain.StateBuyerSawArrivedPaymentSentMsg

	require.False(t, trade.AdvanceState(domain.StateBuyerSentPaymentSentMsg))
	require.Equal(t, domain.StateBuyerSawArrivedPaymentSentMsg, trade.State)

	require.True(t, trade.AdvanceState(domain.StateSellerReceivedPaymentSentMsg))
	require.Equal(t, domain.StateSellerReceivedPaymentSentMsg, trade.State)
}

func TestTradePhaseIsMonotonic(t *testing.T) {
	t.Parallel()

	allStates := make([]domain.State, 0)
	for s := domain.StatePreparation; s <= domain.StateTradeCompleted; s++ {
		allStates = append(allStates, s)
	}

	rnd := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		trade := newTestTrade(t, domain.DirectionBuy, domain.RoleTaker)
		maxPhase := trade.Phase()
		for i := 0; i < 200; i++ {
			next := allStates[rnd.Intn(len(allStates))]
			switch rnd.Intn(3) {
			case 0:
				trade.SetState(next)
			case 1:
				trade.AdvanceState(next)
			default:
				trade.SetStateIfValidTransitionTo(next)
			}
			require.GreaterOrEqual(t, int(trade.Phase()), int(maxPhase))
			maxPhase = trade.Phase()
		}
	}
}

func TestTradePayoutAndDisputeStates(t *testing.T) {
	t.Parallel()

	t.Run("payout_state_strictly_forward", func(t *testing.T) {
		t.Parallel()

		trade := newTestTrade(t, domain.DirectionSell, domain.RoleTaker)
		require.True(t, trade.SetPayoutState(domain.PayoutStatePublished))
		require.False(t, trade.SetPayoutState(domain.PayoutStatePublished))
		require.True(t, trade.AdvancePayoutState(domain.PayoutStateUnlocked))
		require.False(t, trade.SetPayoutStateIfValidTransitionTo(domain.PayoutStateConfirmed))
		require.Equal(t, domain.PayoutStateUnlocked, trade.PayoutState)
	})

	t.Run("dispute_state_strictly_forward", func(t *testing.T) {
		t.Parallel()

		trade := newTestTrade(t, domain.DirectionSell, domain.RoleTaker)
		require.True(t, trade.SetDisputeState(domain.DisputeStateOpened))
		require.False(t, trade.SetDisputeState(domain.DisputeStateRequested))
		require.True(t, trade.DisputeState.IsOpen())
		require.True(t, trade.AdvanceDisputeState(domain.DisputeStateClosed))
		require.True(t, trade.DisputeState.IsClosed())
		require.False(t, trade.SetDisputeState(domain.DisputeState(99)))
	})
}

func TestTradeErrors(t *testing.T) {
	t.Parallel()

	trade := newTestTrade(t, domain.DirectionSell, domain.RoleTaker)
	trade.AddError("first")
	trade.AddError("  ")
	trade.AddError("second")

	require.Equal(t, "second\nfirst", trade.ErrorMessage)
	require.Equal(t, []string{"second", "first"}, trade.Errors())

	require.True(t, trade.Fail("third"))
	require.False(t, trade.Fail("fourth"))
	require.True(t, trade.IsFailed())
	require.Equal(t, []string{"third", "second", "first"}, trade.Errors())
}

func TestTradeClose(t *testing.T) {
	t.Parallel()

	trade := newTestTrade(t, domain.DirectionSell, domain.RoleTaker)
	done, err := trade.Close()
	require.ErrorIs(t, err, domain.ErrTradePayoutNotUnlocked)
	require.False(t, done)

	trade.State = domain.StateSellerSawArrivedPaymentReceivedMsg
	trade.SetPayoutState(domain.PayoutStateUnlocked)
	done, err = trade.Close()
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, domain.BucketClosed, trade.Bucket)
	require.Equal(t, domain.StateTradeCompleted, trade.State)
	require.NotZero(t, trade.CompletedAt)
}

func TestTradeAmounts(t *testing.T) {
	t.Parallel()

	trade := newTestTrade(t, domain.DirectionSell, domain.RoleArbitrator)

	require.Equal(t, trade.Offer.BuyerSecurityDeposit, trade.ExpectedDepositAmount(trade.Buyer()))
	require.Equal(
		t, trade.Amount+trade.Offer.SellerSecurityDeposit,
		trade.ExpectedDepositAmount(trade.Seller()),
	)
	require.Zero(t, trade.ExpectedDepositAmount(trade.Arbitrator()))
	require.Equal(t, trade.Offer.MakerFee, trade.ExpectedTradeFee(trade.Maker()))
	require.Equal(t, trade.TakerFee, trade.ExpectedTradeFee(trade.Taker()))

	buyer, seller, err := trade.CooperativePayouts(11*xmr, 23*xmr/2)
	require.NoError(t, err)
	require.Equal(t, uint64(21*xmr), buyer)
	require.Equal(t, uint64(3*xmr/2), seller)

	_, _, err = trade.CooperativePayouts(11*xmr, 9*xmr)
	require.ErrorIs(t, err, domain.ErrInsufficientDeposit)
}

func newTestOffer(direction domain.Direction) domain.Offer {
	return domain.Offer{
		Id:                    "5d8b2f4e-offer",
		Direction:             direction,
		Amount:                10 * xmr,
		MinAmount:             1 * xmr,
		Price:                 decimal.NewFromInt(150),
		CounterCurrency:       "EUR",
		BuyerSecurityDeposit:  1 * xmr,
		SellerSecurityDeposit: 3 * xmr / 2,
		MakerFee:              2000000000,
		PaymentMethodId:       "SEPA",
		MakerNodeAddress:      "maker:9999",
		MakerPubKeyRing: domain.PubKeyRing{
			SignaturePubKey:  []byte{0x02, 0x01},
			EncryptionPubKey: []byte{0x03, 0x01},
		},
		ArbitratorNodeAddress: "arbitrator:9999",
	}
}

func newTestTrade(
	t *testing.T, direction domain.Direction, role domain.Role,
) *domain.Trade {
	trade, err := domain.NewTrade(
		newTestOffer(direction), role, 10*xmr, 3000000000, "taker:9999",
	)
	require.NoError(t, err)
	return trade
}

func TestTradeClone(t *testing.T) {
	t.Parallel()

	trade := newTestTrade(t, domain.DirectionSell, domain.RoleMaker)
	trade.Maker().ReserveTxKeyImages = []string{"ki1", "ki2"}
	trade.Maker().ContractSignature = []byte{0x01, 0x02}
	trade.Taker().PaymentAccountKey = []byte{0x0a}
	trade.ProcessModel.PaymentAccount = &domain.PaymentAccount{
		Id:      "account",
		Payload: map[string]string{"iban": "IT00"},
	}
	trade.ContractJSON = []byte(`{}`)
	trade.Contract = &domain.Contract{
		Offer:                          trade.Offer,
		MakerPaymentAccountPayloadHash: []byte{0x0b},
	}

	clone := trade.Clone()
	require.Equal(t, trade, clone)

	clone.Maker().ReserveTxKeyImages[0] = "changed"
	clone.Maker().ContractSignature[0] = 0xff
	clone.Taker().PaymentAccountKey[0] = 0xff
	clone.ProcessModel.PaymentAccount.Payload["iban"] = "changed"
	clone.ContractJSON[0] = '['
	clone.Contract.MakerPaymentAccountPayloadHash[0] = 0xff
	clone.Offer.MakerPubKeyRing.SignaturePubKey[0] = 0xff
	clone.Contract.Offer.MakerPubKeyRing.EncryptionPubKey[0] = 0xff

	require.Equal(t, []string{"ki1", "ki2"}, trade.Maker().ReserveTxKeyImages)
	require.Equal(t, []byte{0x01, 0x02}, trade.Maker().ContractSignature)
	require.Equal(t, []byte{0x0a}, trade.Taker().PaymentAccountKey)
	require.Equal(t, "IT00", trade.ProcessModel.PaymentAccount.Payload["iban"])
	require.Equal(t, []byte(`{}`), trade.ContractJSON)
	require.Equal(t, []byte{0x0b}, trade.Contract.MakerPaymentAccountPayloadHash)
	require.Equal(t, byte(0x02), trade.Offer.MakerPubKeyRing.SignaturePubKey[0])
	require.Equal(t, byte(0x03), trade.Contract.Offer.MakerPubKeyRing.EncryptionPubKey[0])
}
