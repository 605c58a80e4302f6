package httpinterface

import (
	"encoding/hex"

	"github.com/shopspring/decimal"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

type infoResponse struct {
	NodeAddress      string `json:"nodeAddress"`
	SignaturePubKey  string `json:"signaturePubKey"`
	EncryptionPubKey string `json:"encryptionPubKey"`
	IsArbitrator     bool   `json:"isArbitrator"`
}

type placeOfferRequest struct {
	Offer          domain.Offer          `json:"offer"`
	PaymentAccount domain.PaymentAccount `json:"paymentAccount"`
}

type takeOfferRequest struct {
	Offer          domain.Offer          `json:"offer"`
	Amount         uint64                `json:"amount"`
	PaymentAccount domain.PaymentAccount `json:"paymentAccount"`
}

type paymentSentRequest struct {
	CounterCurrencyTxId string `json:"counterCurrencyTxId"`
}

type openDisputeRequest struct {
	Reason string `json:"reason"`
}

type addWebhookRequest struct {
	Topic    string `json:"topic"`
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret"`
}

type addWebhookResponse struct {
	Id string `json:"id"`
}

type openOfferInfo struct {
	Offer         domain.Offer `json:"offer"`
	AccountId     string       `json:"accountId"`
	ReserveTxHash string       `json:"reserveTxHash"`
	Closed        bool         `json:"closed"`
	CreatedAt     int64        `json:"createdAt"`
}

func newOpenOfferInfo(o *domain.OpenOffer) openOfferInfo {
	return openOfferInfo{
		Offer:         o.Offer,
		AccountId:     o.PaymentAccount.Id,
		ReserveTxHash: o.ReserveTxHash,
		Closed:        o.Closed,
		CreatedAt:     o.CreatedAt,
	}
}

type peerInfo struct {
	NodeAddress   string            `json:"nodeAddress"`
	DepositTxHash string            `json:"depositTxHash,omitempty"`
	PayoutAddress string            `json:"payoutAddress,omitempty"`
	PayoutAmount  uint64            `json:"payoutAmount,omitempty"`
	Account       map[string]string `json:"account,omitempty"`
}

// tradeInfo is the operator view of a trade. Multisig hexes and keys are
// never exposed.
type tradeInfo struct {
	Id                  string          `json:"id"`
	OfferId             string          `json:"offerId"`
	Role                string          `json:"role"`
	Side                string          `json:"side"`
	Phase               string          `json:"phase"`
	State               string          `json:"state"`
	PayoutState         string          `json:"payoutState"`
	DisputeState        string          `json:"disputeState"`
	Bucket              domain.Bucket   `json:"bucket"`
	Amount              uint64          `json:"amount"`
	Price               decimal.Decimal `json:"price"`
	TakerFee            uint64          `json:"takerFee"`
	CounterCurrency     string          `json:"counterCurrency"`
	ContractHash        string          `json:"contractHash,omitempty"`
	PayoutTxHash        string          `json:"payoutTxHash,omitempty"`
	Maker               peerInfo        `json:"maker"`
	Taker               peerInfo        `json:"taker"`
	Arbitrator          peerInfo        `json:"arbitrator"`
	Errors              []string        `json:"errors,omitempty"`
	StartTime           int64           `json:"startTime"`
	DepositsConfirmedAt int64           `json:"depositsConfirmedAt,omitempty"`
	CompletedAt         int64           `json:"completedAt,omitempty"`
}

func newTradeInfo(t *domain.Trade) tradeInfo {
	return tradeInfo{
		Id:                  t.Id,
		OfferId:             t.Offer.Id,
		Role:                t.Role.String(),
		Side:                t.Side().String(),
		Phase:               t.Phase().String(),
		State:               t.State.String(),
		PayoutState:         t.PayoutState.String(),
		DisputeState:        t.DisputeState.String(),
		Bucket:              t.Bucket,
		Amount:              t.Amount,
		Price:               t.Price,
		TakerFee:            t.TakerFee,
		CounterCurrency:     t.Offer.CounterCurrency,
		ContractHash:        hex.EncodeToString(t.ContractHash),
		PayoutTxHash:        t.PayoutTxHash,
		Maker:               newPeerInfo(t.Maker()),
		Taker:               newPeerInfo(t.Taker()),
		Arbitrator:          newPeerInfo(t.Arbitrator()),
		Errors:              t.Errors(),
		StartTime:           t.StartTime,
		DepositsConfirmedAt: t.DepositsConfirmedAt,
		CompletedAt:         t.CompletedAt,
	}
}

func newPeerInfo(p *domain.TradePeer) peerInfo {
	if p == nil {
		return peerInfo{}
	}
	info := peerInfo{
		NodeAddress:   p.NodeAddress,
		DepositTxHash: p.DepositTxHash,
		PayoutAddress: p.PayoutAddress,
		PayoutAmount:  p.PayoutAmount,
	}
	if p.PaymentAccountPayload != nil {
		info.Account = p.PaymentAccountPayload.Payload
	}
	return info
}

type disputeInfo struct {
	TradeId       string                `json:"tradeId"`
	OpenerIsBuyer bool                  `json:"openerIsBuyer"`
	OpenerAddress string                `json:"openerAddress"`
	Reason        string                `json:"reason"`
	IsClosed      bool                  `json:"isClosed"`
	Result        *domain.DisputeResult `json:"result,omitempty"`
	OpenedAt      int64                 `json:"openedAt"`
	ClosedAt      int64                 `json:"closedAt,omitempty"`
}

func newDisputeInfo(d *domain.Dispute) disputeInfo {
	return disputeInfo{
		TradeId:       d.TradeId,
		OpenerIsBuyer: d.OpenerIsBuyer,
		OpenerAddress: d.OpenerAddress,
		Reason:        d.Reason,
		IsClosed:      d.IsClosed(),
		Result:        d.Result,
		OpenedAt:      d.OpenedAt,
		ClosedAt:      d.ClosedAt,
	}
}
