package domain

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// AtomicUnitsPerXmr is the number of piconero in one XMR.
	AtomicUnitsPerXmr = 1000000000000

	PaymentMethodBlockChains        = "BLOCK_CHAINS"
	PaymentMethodBlockChainsInstant = "BLOCK_CHAINS_INSTANT"
)

// Direction is the side of an offer from the perspective of its maker.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

func (d Direction) IsValid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Offer is the immutable payload of an offer as published by its maker. All
// amounts are expressed in atomic units.
type Offer struct {
	Id                    string          `json:"id"`
	Direction             Direction       `json:"direction"`
	Amount                uint64          `json:"amount"`
	MinAmount             uint64          `json:"minAmount"`
	Price                 decimal.Decimal `json:"price"`
	CounterCurrency       string          `json:"counterCurrency"`
	BuyerSecurityDeposit  uint64          `json:"buyerSecurityDeposit"`
	SellerSecurityDeposit uint64          `json:"sellerSecurityDeposit"`
	MakerFee              uint64          `json:"makerFee"`
	PaymentMethodId       string          `json:"paymentMethodId"`
	MakerNodeAddress      string          `json:"makerNodeAddress"`
	MakerPubKeyRing       PubKeyRing      `json:"makerPubKeyRing"`
	ArbitratorNodeAddress string          `json:"arbitratorNodeAddress"`
	ArbitratorPubKeyRing  PubKeyRing      `json:"arbitratorPubKeyRing"`
	CreatedAt             int64           `json:"createdAt"`
}

func (o Offer) clone() Offer {
	o.MakerPubKeyRing = o.MakerPubKeyRing.clone()
	o.ArbitratorPubKeyRing = o.ArbitratorPubKeyRing.clone()
	return o
}

func (o Offer) Validate() error {
	if len(o.Id) <= 0 {
		return ErrOfferMissingId
	}
	if !o.Direction.IsValid() {
		return ErrOfferInvalidDirection
	}
	if o.Amount == 0 || o.MinAmount > o.Amount {
		return ErrOfferInvalidAmount
	}
	if !o.Price.IsPositive() {
		return ErrOfferInvalidPrice
	}
	if len(o.MakerNodeAddress) <= 0 || o.MakerPubKeyRing.IsEmpty() {
		return ErrOfferMissingMaker
	}
	if len(o.ArbitratorNodeAddress) <= 0 {
		return ErrOfferMissingArbitrator
	}
	if len(o.PaymentMethodId) <= 0 {
		return ErrOfferMissingPaymentMethod
	}
	return nil
}

// IsBuyOffer returns whether the maker of the offer is the buyer of XMR.
func (o Offer) IsBuyOffer() bool {
	return o.Direction == DirectionBuy
}

// IsValidTradeAmount returns whether the given amount can be traded against
// the offer.
func (o Offer) IsValidTradeAmount(amount uint64) bool {
	if amount == 0 || amount > o.Amount {
		return false
	}
	return amount >= o.MinAmount
}

// TakerFeeFor returns the trade fee owed by the taker for the given amount:
// the maker fee of the offer, in proportion to the traded amount.
func (o Offer) TakerFeeFor(amount uint64) uint64 {
	if o.Amount == 0 {
		return 0
	}
	fee := decimal.NewFromInt(int64(o.MakerFee)).
		Mul(decimal.NewFromInt(int64(amount))).
		Div(decimal.NewFromInt(int64(o.Amount)))
	return uint64(fee.IntPart())
}

// DepositFor returns the amount the given side locks into the escrow for
// the given trade amount.
func (o Offer) DepositFor(side Side, amount uint64) uint64 {
	if side == SideBuyer {
		return o.BuyerSecurityDeposit
	}
	return amount + o.SellerSecurityDeposit
}

// Hash returns the sha256 digest of the serialized offer.
func (o Offer) Hash() []byte {
	buf, _ := json.Marshal(o)
	h := sha256.Sum256(buf)
	return h[:]
}

// PaymentAccount is the fiat or crypto account that a trader uses to send or
// receive the counter value of a trade. Its payload is disclosed to the
// counterparty only once the deposits of the trade are confirmed.
type PaymentAccount struct {
	Id              string            `json:"id"`
	PaymentMethodId string            `json:"paymentMethodId"`
	Payload         map[string]string `json:"payload"`
}

func (a *PaymentAccount) clone() *PaymentAccount {
	if a == nil {
		return nil
	}
	c := *a
	if a.Payload != nil {
		c.Payload = make(map[string]string, len(a.Payload))
		for k, v := range a.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// Hash returns the sha256 digest of the serialized payment account, that is
// the commitment embedded in the contract.
func (a PaymentAccount) Hash() []byte {
	// json.Marshal sorts map keys, thus the serialization is deterministic.
	buf, _ := json.Marshal(a)
	h := sha256.Sum256(buf)
	return h[:]
}

// OpenOffer is the maker-side record of one of its own offers waiting to be
// taken, along with the reserve transaction that proves the maker's ability to
// fund the deposit.
type OpenOffer struct {
	Offer              Offer
	PaymentAccount     PaymentAccount
	ReserveTxHash      string
	ReserveTxHex       string
	ReserveTxKey       string
	ReserveTxKeyImages []string
	ReturnAddress      string
	Closed             bool
	CreatedAt          int64
}

func NewOpenOffer(offer Offer, account PaymentAccount) (*OpenOffer, error) {
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	if !IsPaymentMethodCompatible(offer.PaymentMethodId, account.PaymentMethodId) {
		return nil, ErrPaymentMethodMismatch
	}
	return &OpenOffer{
		Offer:          offer,
		PaymentAccount: account,
		CreatedAt:      time.Now().Unix(),
	}, nil
}

// Close marks the open offer as taken so that it can't be reused for another
// trade.
func (o *OpenOffer) Close() bool {
	if o.Closed {
		return false
	}
	o.Closed = true
	return true
}

// IsPaymentMethodCompatible returns whether two payment methods can be used
// for the two sides of the same trade. They must match, with the only allowed
// variant pairing being blockchain transfers with and without instant
// settlement.
func IsPaymentMethodCompatible(a, b string) bool {
	if a == b {
		return true
	}
	isBlockChains := func(m string) bool {
		return m == PaymentMethodBlockChains || m == PaymentMethodBlockChainsInstant
	}
	return isBlockChains(a) && isBlockChains(b)
}
