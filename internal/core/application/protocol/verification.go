package protocol

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

// TxVerification holds what a reserve or deposit tx of a trader must do.
// The tx must pay at least Amount to Recipient and at least Fee to
// FeeAddress. If AllowedKeyImages is not empty, the tx must not spend any
// other output.
type TxVerification struct {
	TxHash           string
	TxHex            string
	TxKey            string
	Recipient        string
	Amount           uint64
	FeeAddress       string
	Fee              uint64
	AllowedKeyImages []string
}

func (v TxVerification) validate() error {
	if len(v.TxHash) <= 0 || len(v.TxHex) <= 0 || len(v.TxKey) <= 0 {
		return violation("tx hash, hex and key must not be empty")
	}
	if len(v.Recipient) <= 0 {
		return violation("missing tx recipient")
	}
	if v.Fee > 0 && len(v.FeeAddress) <= 0 {
		return violation("missing trade fee address")
	}
	return nil
}

// TxVerificationResult is the outcome of a successful VerifyTradeTx.
type TxVerificationResult struct {
	// KeyImages are the ones spent by the tx according to the daemon.
	KeyImages      []string
	ReceivedAmount uint64
	ReceivedFee    uint64
}

// VerifyTradeTx makes sure that the given tx is valid and moves the funds as
// expected, without relaying it:
//  1. the daemon accepts the tx and it's not a double spend
//  2. the tx spends only allowed outputs
//  3. the recipient receives the expected amount
//  4. the fee address receives the expected trade fee
func VerifyTradeTx(
	ctx context.Context, wallet ports.Wallet, daemon ports.Daemon,
	v TxVerification,
) (*TxVerificationResult, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}

	res, err := daemon.SubmitTxHex(ctx, v.TxHex, true)
	if err != nil {
		return nil, transportFault(fmt.Errorf("failed to submit tx %s: %w", v.TxHash, err))
	}
	if res.DoubleSpend {
		return nil, fundsViolation("%w: %s", ErrTxDoubleSpend, v.TxHash)
	}
	if !res.Accepted {
		return nil, fundsViolation("%w: %s %s", ErrTxNotAccepted, v.TxHash, res.Reason)
	}

	txs, err := daemon.GetTxs(ctx, []string{v.TxHash})
	if err != nil {
		return nil, transportFault(fmt.Errorf("failed to get tx %s: %w", v.TxHash, err))
	}
	if len(txs) != 1 || txs[0] == nil {
		return nil, fundsViolation("tx %s not found in daemon pool", v.TxHash)
	}
	tx := txs[0]
	if len(tx.KeyImages) <= 0 {
		return nil, fundsViolation("tx %s does not spend any output", v.TxHash)
	}
	if len(v.AllowedKeyImages) > 0 {
		allowed := make(map[string]struct{}, len(v.AllowedKeyImages))
		for _, ki := range v.AllowedKeyImages {
			allowed[ki] = struct{}{}
		}
		for _, ki := range tx.KeyImages {
			if _, ok := allowed[ki]; !ok {
				return nil, fundsViolation(
					"tx %s spends key image %s not reserved for the trade", v.TxHash, ki,
				)
			}
		}
	}

	check, err := wallet.CheckTxKey(ctx, v.TxHash, v.TxKey, v.Recipient)
	if err != nil {
		return nil, fundsViolation("failed to check tx %s key: %s", v.TxHash, err)
	}
	if check.ReceivedAmount < v.Amount {
		return nil, fundsViolation(
			"tx %s pays %d to recipient, expected %d", v.TxHash,
			check.ReceivedAmount, v.Amount,
		)
	}

	result := &TxVerificationResult{
		KeyImages:      tx.KeyImages,
		ReceivedAmount: check.ReceivedAmount,
	}
	if v.Fee <= 0 {
		return result, nil
	}

	feeCheck, err := wallet.CheckTxKey(ctx, v.TxHash, v.TxKey, v.FeeAddress)
	if err != nil {
		return nil, fundsViolation("failed to check tx %s key: %s", v.TxHash, err)
	}
	if feeCheck.ReceivedAmount < v.Fee {
		return nil, fundsViolation(
			"tx %s pays trade fee %d, expected %d", v.TxHash,
			feeCheck.ReceivedAmount, v.Fee,
		)
	}
	result.ReceivedFee = feeCheck.ReceivedAmount
	return result, nil
}

// CooperativePayout returns the gross amounts the payout tx must send to
// buyer and seller when the trade completes without dispute.
func CooperativePayout(trade *domain.Trade) ([]ports.Destination, error) {
	if trade.Contract == nil {
		return nil, ErrMissingContract
	}
	buyerAmount, sellerAmount, err := trade.CooperativePayouts(
		trade.Buyer().DepositAmount, trade.Seller().DepositAmount,
	)
	if err != nil {
		return nil, fundsViolation("%w", err)
	}
	return []ports.Destination{
		{Address: trade.Contract.BuyerPayoutAddress(), Amount: buyerAmount},
		{Address: trade.Contract.SellerPayoutAddress(), Amount: sellerAmount},
	}, nil
}

// DisputePayout returns the gross amounts the payout tx must send according
// to the result of a dispute. Parties awarded nothing are omitted, since
// wallets refuse zero-amount outputs, and so pay no share of the fee.
func DisputePayout(
	trade *domain.Trade, result domain.DisputeResult,
) ([]ports.Destination, error) {
	if trade.Contract == nil {
		return nil, ErrMissingContract
	}
	escrowed := trade.Buyer().DepositAmount + trade.Seller().DepositAmount
	if err := result.Validate(escrowed); err != nil {
		return nil, fundsViolation("%w", err)
	}
	destinations := make([]ports.Destination, 0, 2)
	if result.BuyerPayoutAmount > 0 {
		destinations = append(destinations, ports.Destination{
			Address: trade.Contract.BuyerPayoutAddress(),
			Amount:  result.BuyerPayoutAmount,
		})
	}
	if result.SellerPayoutAmount > 0 {
		destinations = append(destinations, ports.Destination{
			Address: trade.Contract.SellerPayoutAddress(),
			Amount:  result.SellerPayoutAmount,
		})
	}
	if len(destinations) <= 0 {
		return nil, fundsViolation("%w", domain.ErrDisputeInvalidPayout)
	}
	return destinations, nil
}

// VerifyPayoutTx checks the payout tx described by tx against the expected
// gross destinations. The miner fee and any change are split in equal parts
// among the destinations, and the change can only go back to the multisig
// wallet.
func VerifyPayoutTx(
	tx *ports.Tx, multisigAddress string, expected []ports.Destination,
) error {
	if tx == nil {
		return fundsViolation("missing payout tx")
	}
	if len(expected) <= 0 {
		return fundsViolation("no expected payout destinations")
	}
	if len(tx.Destinations) != len(expected) {
		return fundsViolation(
			"payout tx has %d destinations, expected %d",
			len(tx.Destinations), len(expected),
		)
	}
	if tx.ChangeAmount > 0 && tx.ChangeAddress != multisigAddress {
		return fundsViolation("payout tx change goes to %s", tx.ChangeAddress)
	}

	var sum uint64
	for _, d := range tx.Destinations {
		sum += d.Amount
	}
	if tx.OutputSum != sum+tx.ChangeAmount {
		return fundsViolation(
			"payout tx output sum %d does not match destinations %d and change %d",
			tx.OutputSum, sum, tx.ChangeAmount,
		)
	}

	n := uint64(len(expected))
	share, rem := (tx.Fee+tx.ChangeAmount)/n, (tx.Fee+tx.ChangeAmount)%n
	var extras uint64
	for i, want := range expected {
		got := tx.Destinations[i]
		if got.Address != want.Address {
			return fundsViolation(
				"payout tx destination %d is %s, expected %s", i, got.Address, want.Address,
			)
		}
		if got.Amount > want.Amount {
			return fundsViolation(
				"payout tx pays %d to %s, more than %d", got.Amount, got.Address, want.Amount,
			)
		}
		// The remainder of the split costs one more atomic unit to as many
		// parties.
		deducted := want.Amount - got.Amount
		if deducted == share+1 {
			extras++
		}
		if deducted != share && deducted != share+1 {
			return fundsViolation(
				"payout tx pays %d to %s, expected %d", got.Amount, got.Address,
				want.Amount-share,
			)
		}
	}
	if extras != rem {
		return fundsViolation(
			"payout tx deducts %d extra units from destinations, expected %d",
			extras, rem,
		)
	}
	return nil
}

// checkFeeTolerance makes sure the fee of a payout tx doesn't differ from
// the estimated one more than the given relative tolerance.
func checkFeeTolerance(fee, estimate uint64, tolerance decimal.Decimal) error {
	if estimate == 0 {
		if fee == 0 {
			return nil
		}
		return fundsViolation("%w: fee %d, estimate 0", ErrFeeOutOfTolerance, fee)
	}
	f := decimal.NewFromInt(int64(fee))
	e := decimal.NewFromInt(int64(estimate))
	diff := f.Sub(e).Abs().Div(e)
	if diff.GreaterThan(tolerance) {
		return fundsViolation(
			"%w: fee %d, estimate %d, diff %s", ErrFeeOutOfTolerance, fee, estimate,
			diff.StringFixed(4),
		)
	}
	return nil
}
