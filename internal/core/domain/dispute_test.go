package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

func TestDisputeResultValidate(t *testing.T) {
	t.Parallel()

	const escrowed = 13 * xmr

	tests := []struct {
		name   string
		result domain.DisputeResult
		valid  bool
	}{
		{
			name: "split",
			result: domain.DisputeResult{
				Winner: domain.WinnerBuyer, BuyerPayoutAmount: 23 * xmr / 2,
				SellerPayoutAmount: 3 * xmr / 2,
			},
			valid: true,
		},
		{
			name: "all_to_seller",
			result: domain.DisputeResult{
				Winner: domain.WinnerSeller, SellerPayoutAmount: escrowed,
			},
			valid: true,
		},
		{
			name: "invalid_winner",
			result: domain.DisputeResult{
				Winner: "ARBITRATOR", SellerPayoutAmount: escrowed,
			},
		},
		{
			name: "pays_more_than_escrowed",
			result: domain.DisputeResult{
				Winner: domain.WinnerBuyer, BuyerPayoutAmount: escrowed,
				SellerPayoutAmount: 1,
			},
		},
		{
			name: "pays_less_than_escrowed",
			result: domain.DisputeResult{
				Winner: domain.WinnerBuyer, BuyerPayoutAmount: escrowed - 1,
			},
		},
		{
			name: "overflow",
			result: domain.DisputeResult{
				Winner: domain.WinnerBuyer, BuyerPayoutAmount: math.MaxUint64,
				SellerPayoutAmount: escrowed + 1,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.result.Validate(escrowed)
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrDisputeInvalidPayout)
		})
	}
}
