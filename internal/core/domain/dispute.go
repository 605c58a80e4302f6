package domain

import (
	"encoding/json"
	"time"
)

// Winner is the party a dispute is resolved in favour of.
type Winner string

const (
	WinnerBuyer  Winner = "BUYER"
	WinnerSeller Winner = "SELLER"
)

// DisputeResult is the arbitrator's resolution of a dispute. The payout
// amounts replace the cooperative split of the escrowed funds.
type DisputeResult struct {
	TradeId             string `json:"tradeId"`
	Winner              Winner `json:"winner"`
	Reason              string `json:"reason"`
	Summary             string `json:"summary"`
	BuyerPayoutAmount   uint64 `json:"buyerPayoutAmount"`
	SellerPayoutAmount  uint64 `json:"sellerPayoutAmount"`
	CloseDate           int64  `json:"closeDate"`
	ArbitratorSignature []byte `json:"arbitratorSignature,omitempty"`
}

// UnsignedBytes returns the serialization of the result without the
// arbitrator signature, that is the message the arbitrator signs.
func (r DisputeResult) UnsignedBytes() ([]byte, error) {
	r.ArbitratorSignature = nil
	return json.Marshal(r)
}

func (r DisputeResult) Signature() []byte {
	return r.ArbitratorSignature
}

// Validate checks that the result pays out exactly what's locked in the
// escrow, before the miner fee.
func (r DisputeResult) Validate(escrowed uint64) error {
	if r.Winner != WinnerBuyer && r.Winner != WinnerSeller {
		return ErrDisputeInvalidPayout
	}
	sum := r.BuyerPayoutAmount + r.SellerPayoutAmount
	if sum < r.BuyerPayoutAmount {
		return ErrDisputeInvalidPayout
	}
	if sum != escrowed {
		return ErrDisputeInvalidPayout
	}
	return nil
}

// Dispute is the record of a dispute opened by one of the traders. Every
// participant keeps its own copy.
type Dispute struct {
	TradeId       string
	OpenerIsBuyer bool
	OpenerAddress string
	Reason        string
	Result        *DisputeResult
	PayoutTxHex   string
	OpenedAt      int64
	ClosedAt      int64
}

func NewDispute(tradeId, openerAddress string, openerIsBuyer bool, reason string) *Dispute {
	return &Dispute{
		TradeId:       tradeId,
		OpenerIsBuyer: openerIsBuyer,
		OpenerAddress: openerAddress,
		Reason:        reason,
		OpenedAt:      time.Now().Unix(),
	}
}

func (d *Dispute) IsClosed() bool {
	return d.Result != nil
}

// Close binds the dispute to its result.
func (d *Dispute) Close(result DisputeResult) (bool, error) {
	if d.IsClosed() {
		return false, ErrDisputeAlreadyClosed
	}
	d.Result = &result
	d.ClosedAt = time.Now().Unix()
	return true, nil
}
