package domain

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const escrowWalletPrefix = "xmr_multisig_trade_"

// Trade is the aggregate root of the settlement protocol: one trade exists for
// every executed offer, on each of the three participating nodes. The same
// type serves every role; role-specific behavior is selected by looking at
// Role and Side.
type Trade struct {
	Id           string
	Uid          string
	Offer        Offer
	Role         Role
	Amount       uint64
	Price        decimal.Decimal
	TakerFee     uint64
	State        State
	PayoutState  PayoutState
	DisputeState DisputeState
	Bucket       Bucket

	Contract     *Contract
	ContractJSON []byte
	ContractHash []byte

	ProcessModel ProcessModel

	PayoutTxHash string
	PayoutTxHex  string
	PayoutTxFee  uint64

	ErrorMessage        string
	StartTime           int64
	DepositsConfirmedAt int64
	CompletedAt         int64
	UpdatedAt           int64
}

// NewTrade returns a trade for the given offer in PREPARATION state. The
// taker address is the one of the node that took the offer.
func NewTrade(
	offer Offer, role Role, amount, takerFee uint64, takerAddress string,
) (*Trade, error) {
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, ErrTradeInvalidRole
	}
	if !offer.IsValidTradeAmount(amount) {
		return nil, ErrTradeInvalidAmount
	}

	pm := newProcessModel(
		offer.MakerNodeAddress, takerAddress, offer.ArbitratorNodeAddress,
	)
	pm.Maker.PubKeyRing = offer.MakerPubKeyRing
	pm.Arbitrator.PubKeyRing = offer.ArbitratorPubKeyRing
	pm.Maker.PaymentMethodId = offer.PaymentMethodId
	pm.Maker.SecurityDeposit = securityDepositOf(offer, SideOf(RoleMaker, offer.Direction))
	pm.Taker.SecurityDeposit = securityDepositOf(offer, SideOf(RoleTaker, offer.Direction))

	now := time.Now().Unix()
	return &Trade{
		Id:           offer.Id,
		Uid:          uuid.New().String(),
		Offer:        offer,
		Role:         role,
		Amount:       amount,
		Price:        offer.Price,
		TakerFee:     takerFee,
		State:        StatePreparation,
		PayoutState:  PayoutStateUnpublished,
		DisputeState: DisputeStateNoDispute,
		Bucket:       BucketOpen,
		ProcessModel: pm,
		StartTime:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy of the trade that can be read while the
// original keeps changing.
func (t *Trade) Clone() *Trade {
	c := *t
	c.Offer = t.Offer.clone()
	c.ContractJSON = cloneBytes(t.ContractJSON)
	c.ContractHash = cloneBytes(t.ContractHash)
	pm := &c.ProcessModel
	pm.Maker = pm.Maker.clone()
	pm.Taker = pm.Taker.clone()
	pm.Arbitrator = pm.Arbitrator.clone()
	pm.PaymentAccount = pm.PaymentAccount.clone()
	if t.Contract != nil {
		contract := *t.Contract
		contract.Offer = t.Contract.Offer.clone()
		contract.MakerPaymentAccountPayloadHash = cloneBytes(contract.MakerPaymentAccountPayloadHash)
		contract.TakerPaymentAccountPayloadHash = cloneBytes(contract.TakerPaymentAccountPayloadHash)
		contract.MakerPubKeyRing = contract.MakerPubKeyRing.clone()
		contract.TakerPubKeyRing = contract.TakerPubKeyRing.clone()
		c.Contract = &contract
	}
	return &c
}

func (t *Trade) Side() Side {
	return SideOf(t.Role, t.Offer.Direction)
}

func (t *Trade) Phase() Phase {
	return t.State.Phase()
}

func (t *Trade) IsMaker() bool {
	return t.Role == RoleMaker
}

func (t *Trade) IsTaker() bool {
	return t.Role == RoleTaker
}

func (t *Trade) IsArbitrator() bool {
	return t.Role == RoleArbitrator
}

func (t *Trade) IsBuyer() bool {
	return t.Side() == SideBuyer
}

func (t *Trade) IsSeller() bool {
	return t.Side() == SideSeller
}

func (t *Trade) Maker() *TradePeer {
	return t.ProcessModel.Maker
}

func (t *Trade) Taker() *TradePeer {
	return t.ProcessModel.Taker
}

func (t *Trade) Arbitrator() *TradePeer {
	return t.ProcessModel.Arbitrator
}

func (t *Trade) Buyer() *TradePeer {
	if t.Offer.IsBuyOffer() {
		return t.Maker()
	}
	return t.Taker()
}

func (t *Trade) Seller() *TradePeer {
	if t.Offer.IsBuyOffer() {
		return t.Taker()
	}
	return t.Maker()
}

// Self returns the peer record of the local node.
func (t *Trade) Self() *TradePeer {
	switch t.Role {
	case RoleMaker:
		return t.Maker()
	case RoleTaker:
		return t.Taker()
	default:
		return t.Arbitrator()
	}
}

// TradingPeer returns the counterparty of maker or taker, nil for the
// arbitrator.
func (t *Trade) TradingPeer() *TradePeer {
	switch t.Role {
	case RoleMaker:
		return t.Taker()
	case RoleTaker:
		return t.Maker()
	default:
		return nil
	}
}

// MultisigPeers returns the two counterparts of the local node in the
// multisig wallet bootstrap, in a role-specific order.
func (t *Trade) MultisigPeers() [2]*TradePeer {
	switch t.Role {
	case RoleArbitrator:
		return [2]*TradePeer{t.Maker(), t.Taker()}
	case RoleMaker:
		return [2]*TradePeer{t.Taker(), t.Arbitrator()}
	default:
		return [2]*TradePeer{t.Arbitrator(), t.Maker()}
	}
}

// PeerByAddress returns the peer with the given node address, if any.
func (t *Trade) PeerByAddress(address string) *TradePeer {
	for _, p := range t.peers() {
		if p.NodeAddress == address {
			return p
		}
	}
	return nil
}

// PeerByPubKeyRing returns the peer bound to the given key ring, if any.
func (t *Trade) PeerByPubKeyRing(ring PubKeyRing) *TradePeer {
	if ring.IsEmpty() {
		return nil
	}
	for _, p := range t.peers() {
		if p.PubKeyRing.Equal(ring) {
			return p
		}
	}
	return nil
}

// RoleOf returns the role of the given peer in the trade.
func (t *Trade) RoleOf(p *TradePeer) (Role, bool) {
	switch p {
	case t.Maker():
		return RoleMaker, true
	case t.Taker():
		return RoleTaker, true
	case t.Arbitrator():
		return RoleArbitrator, true
	default:
		return 0, false
	}
}

func (t *Trade) EscrowWalletName() string {
	return escrowWalletPrefix + t.Id
}

// SetState moves the trade to the given state as long as the transition is
// valid. It returns whether the state changed.
func (t *Trade) SetState(s State) bool {
	return t.SetStateIfValidTransitionTo(s)
}

// SetStateIfValidTransitionTo applies the transition only if it doesn't bring
// the trade back to a previous phase. Invalid transitions are dropped, letting
// the caller proceed as if nothing happened.
func (t *Trade) SetStateIfValidTransitionTo(s State) bool {
	if !t.State.CanTransitionTo(s) {
		return false
	}
	if t.State == s {
		return false
	}
	t.State = s
	t.touch()
	return true
}

// AdvanceState is like SetState but ignores any state that isn't strictly
// further in the protocol.
func (t *Trade) AdvanceState(s State) bool {
	if s <= t.State {
		return false
	}
	return t.SetStateIfValidTransitionTo(s)
}

func (t *Trade) SetPayoutState(s PayoutState) bool {
	return t.SetPayoutStateIfValidTransitionTo(s)
}

// SetPayoutStateIfValidTransitionTo applies strictly forward transitions only.
func (t *Trade) SetPayoutStateIfValidTransitionTo(s PayoutState) bool {
	if _, ok := payoutStateNames[s]; !ok || s <= t.PayoutState {
		return false
	}
	t.PayoutState = s
	t.touch()
	return true
}

func (t *Trade) AdvancePayoutState(s PayoutState) bool {
	return t.SetPayoutStateIfValidTransitionTo(s)
}

func (t *Trade) SetDisputeState(s DisputeState) bool {
	return t.SetDisputeStateIfValidTransitionTo(s)
}

// SetDisputeStateIfValidTransitionTo applies strictly forward transitions
// only.
func (t *Trade) SetDisputeStateIfValidTransitionTo(s DisputeState) bool {
	if _, ok := disputeStateNames[s]; !ok || s <= t.DisputeState {
		return false
	}
	t.DisputeState = s
	t.touch()
	return true
}

func (t *Trade) AdvanceDisputeState(s DisputeState) bool {
	return t.SetDisputeStateIfValidTransitionTo(s)
}

// AddError prepends the given message to the error log of the trade so that
// the newest error comes first and older ones are preserved.
func (t *Trade) AddError(msg string) {
	msg = strings.TrimSpace(msg)
	if len(msg) <= 0 {
		return
	}
	if len(t.ErrorMessage) <= 0 {
		t.ErrorMessage = msg
	} else {
		t.ErrorMessage = msg + "\n" + t.ErrorMessage
	}
	t.touch()
}

func (t *Trade) Errors() []string {
	if len(t.ErrorMessage) <= 0 {
		return nil
	}
	return strings.Split(t.ErrorMessage, "\n")
}

// SetContract binds the trade to its contract. The contract is immutable once
// set, therefore a different one is rejected.
func (t *Trade) SetContract(c *Contract) (bool, error) {
	buf, err := c.JSON()
	if err != nil {
		return false, err
	}
	if len(t.ContractJSON) > 0 {
		if !bytes.Equal(t.ContractJSON, buf) {
			return false, ErrContractMismatch
		}
		return false, nil
	}
	hash, _ := c.Hash()
	t.Contract = c
	t.ContractJSON = buf
	t.ContractHash = hash
	t.touch()
	return true, nil
}

// IsContractSigned returns whether arbitrator, maker and taker signatures of
// the contract are all known.
func (t *Trade) IsContractSigned() bool {
	if t.Contract == nil {
		return false
	}
	for _, p := range t.peers() {
		if len(p.ContractSignature) <= 0 {
			return false
		}
	}
	return true
}

// ExpectedDepositAmount returns the amount the given peer must lock into the
// escrow: the buyer locks its security deposit, the seller the trade amount
// plus its security deposit.
func (t *Trade) ExpectedDepositAmount(p *TradePeer) uint64 {
	switch p {
	case t.Buyer():
		return t.Offer.BuyerSecurityDeposit
	case t.Seller():
		return t.Amount + t.Offer.SellerSecurityDeposit
	default:
		return 0
	}
}

// ExpectedTradeFee returns the trade fee the given peer must pay: the maker
// fee of the offer for the maker, the taker fee of the trade for the taker.
func (t *Trade) ExpectedTradeFee(p *TradePeer) uint64 {
	switch p {
	case t.Maker():
		return t.Offer.MakerFee
	case t.Taker():
		return t.TakerFee
	default:
		return 0
	}
}

// CooperativePayouts returns buyer and seller payout amounts, before miner
// fees, for the given amounts received by the escrow from each of them.
func (t *Trade) CooperativePayouts(
	buyerDeposit, sellerDeposit uint64,
) (uint64, uint64, error) {
	if sellerDeposit < t.Amount {
		return 0, 0, ErrInsufficientDeposit
	}
	return buyerDeposit + t.Amount, sellerDeposit - t.Amount, nil
}

func (t *Trade) IsDepositsPublished() bool {
	return t.Phase() >= PhaseDepositsPublished
}

func (t *Trade) IsDepositsConfirmed() bool {
	return t.Phase() >= PhaseDepositsConfirmed
}

func (t *Trade) IsDepositsUnlocked() bool {
	return t.Phase() >= PhaseDepositsUnlocked
}

func (t *Trade) IsPaymentSent() bool {
	return t.Phase() >= PhasePaymentSent
}

func (t *Trade) IsPaymentReceived() bool {
	return t.Phase() >= PhasePaymentReceived
}

func (t *Trade) IsCompleted() bool {
	return t.Phase() >= PhaseCompleted
}

func (t *Trade) IsPayoutPublished() bool {
	return t.PayoutState >= PayoutStatePublished
}

func (t *Trade) IsPayoutUnlocked() bool {
	return t.PayoutState >= PayoutStateUnlocked
}

func (t *Trade) IsOpen() bool {
	return t.Bucket == BucketOpen
}

func (t *Trade) IsFailed() bool {
	return t.Bucket == BucketFailed
}

// Close moves the trade to the closed bucket. Only trades whose payout is
// unlocked can be closed.
func (t *Trade) Close() (bool, error) {
	if t.Bucket == BucketClosed {
		return true, nil
	}
	if !t.IsPayoutUnlocked() {
		return false, ErrTradePayoutNotUnlocked
	}
	t.Bucket = BucketClosed
	t.CompletedAt = time.Now().Unix()
	t.SetState(StateTradeCompleted)
	t.touch()
	return true, nil
}

// Fail moves the trade to the failed bucket for manual intervention.
func (t *Trade) Fail(reason string) bool {
	if t.Bucket == BucketFailed {
		return false
	}
	t.AddError(reason)
	t.Bucket = BucketFailed
	t.touch()
	return true
}

func (t *Trade) ShortId() string {
	if len(t.Id) <= 8 {
		return t.Id
	}
	return t.Id[:8]
}

func (t *Trade) String() string {
	return fmt.Sprintf(
		"trade %s (%s/%s) state=%s phase=%s payout=%s dispute=%s",
		t.ShortId(), t.Role, t.Side(), t.State, t.Phase(), t.PayoutState,
		t.DisputeState,
	)
}

func (t *Trade) peers() []*TradePeer {
	return []*TradePeer{t.Maker(), t.Taker(), t.Arbitrator()}
}

func (t *Trade) touch() {
	t.UpdatedAt = time.Now().Unix()
}

func securityDepositOf(offer Offer, side Side) uint64 {
	if side == SideBuyer {
		return offer.BuyerSecurityDeposit
	}
	return offer.SellerSecurityDeposit
}
