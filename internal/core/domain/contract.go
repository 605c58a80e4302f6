package domain

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Contract is the immutable agreement between maker and taker that every
// party signs once both deposit transactions are known. The byte sequence
// returned by JSON is exactly what gets signed and verified, therefore the
// field order of this struct must never change.
type Contract struct {
	Offer                          Offer           `json:"offer"`
	TradeAmount                    uint64          `json:"tradeAmount"`
	TradePrice                     decimal.Decimal `json:"tradePrice"`
	TakerFee                       uint64          `json:"takerFee"`
	BuyerNodeAddress               string          `json:"buyerNodeAddress"`
	SellerNodeAddress              string          `json:"sellerNodeAddress"`
	ArbitratorNodeAddress          string          `json:"arbitratorNodeAddress"`
	IsBuyerMakerAndSellerTaker     bool            `json:"isBuyerMakerAndSellerTaker"`
	MakerAccountId                 string          `json:"makerAccountId"`
	TakerAccountId                 string          `json:"takerAccountId"`
	MakerPaymentMethodId           string          `json:"makerPaymentMethodId"`
	TakerPaymentMethodId           string          `json:"takerPaymentMethodId"`
	MakerPaymentAccountPayloadHash []byte          `json:"makerPaymentAccountPayloadHash"`
	TakerPaymentAccountPayloadHash []byte          `json:"takerPaymentAccountPayloadHash"`
	MakerPubKeyRing                PubKeyRing      `json:"makerPubKeyRing"`
	TakerPubKeyRing                PubKeyRing      `json:"takerPubKeyRing"`
	MakerPayoutAddress             string          `json:"makerPayoutAddress"`
	TakerPayoutAddress             string          `json:"takerPayoutAddress"`
	MakerDepositTxHash             string          `json:"makerDepositTxHash"`
	TakerDepositTxHash             string          `json:"takerDepositTxHash"`
}

// NewContract builds the contract of the given trade. Both maker and taker
// must have already disclosed their deposit tx hash and payout address.
func NewContract(t *Trade) (*Contract, error) {
	maker, taker := t.Maker(), t.Taker()
	if len(maker.DepositTxHash) <= 0 || len(taker.DepositTxHash) <= 0 {
		return nil, ErrContractMissingDepositTx
	}
	if len(maker.PayoutAddress) <= 0 || len(taker.PayoutAddress) <= 0 {
		return nil, ErrContractMissingPayoutAddress
	}
	if !IsPaymentMethodCompatible(maker.PaymentMethodId, taker.PaymentMethodId) {
		return nil, ErrPaymentMethodMismatch
	}

	buyer, seller := t.Buyer(), t.Seller()
	return &Contract{
		Offer:                          t.Offer,
		TradeAmount:                    t.Amount,
		TradePrice:                     t.Price,
		TakerFee:                       t.TakerFee,
		BuyerNodeAddress:               buyer.NodeAddress,
		SellerNodeAddress:              seller.NodeAddress,
		ArbitratorNodeAddress:          t.Arbitrator().NodeAddress,
		IsBuyerMakerAndSellerTaker:     t.Offer.IsBuyOffer(),
		MakerAccountId:                 maker.AccountId,
		TakerAccountId:                 taker.AccountId,
		MakerPaymentMethodId:           maker.PaymentMethodId,
		TakerPaymentMethodId:           taker.PaymentMethodId,
		MakerPaymentAccountPayloadHash: maker.PaymentAccountPayloadHash,
		TakerPaymentAccountPayloadHash: taker.PaymentAccountPayloadHash,
		MakerPubKeyRing:                maker.PubKeyRing,
		TakerPubKeyRing:                taker.PubKeyRing,
		MakerPayoutAddress:             maker.PayoutAddress,
		TakerPayoutAddress:             taker.PayoutAddress,
		MakerDepositTxHash:             maker.DepositTxHash,
		TakerDepositTxHash:             taker.DepositTxHash,
	}, nil
}

// ParseContract deserializes a contract from its JSON form.
func ParseContract(buf []byte) (*Contract, error) {
	c := &Contract{}
	if err := json.Unmarshal(buf, c); err != nil {
		return nil, err
	}
	return c, nil
}

// JSON returns the canonical serialization of the contract.
func (c Contract) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// Hash returns the sha256 digest of the canonical serialization.
func (c Contract) Hash() ([]byte, error) {
	buf, err := c.JSON()
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(buf)
	return h[:], nil
}

func (c Contract) BuyerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerPayoutAddress
	}
	return c.TakerPayoutAddress
}

func (c Contract) SellerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerPayoutAddress
	}
	return c.MakerPayoutAddress
}

func (c Contract) BuyerPubKeyRing() PubKeyRing {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerPubKeyRing
	}
	return c.TakerPubKeyRing
}

func (c Contract) SellerPubKeyRing() PubKeyRing {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerPubKeyRing
	}
	return c.MakerPubKeyRing
}
