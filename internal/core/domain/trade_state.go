package domain

// Phase is the coarse-grained milestone of a trade. Phases are ordered and a
// trade can only move forward through them.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDepositRequested
	PhaseDepositsPublished
	PhaseDepositsConfirmed
	PhaseDepositsUnlocked
	PhasePaymentSent
	PhasePaymentReceived
	PhaseCompleted
)

var phaseNames = map[Phase]string{
	PhaseInit:              "INIT",
	PhaseDepositRequested:  "DEPOSIT_REQUESTED",
	PhaseDepositsPublished: "DEPOSITS_PUBLISHED",
	PhaseDepositsConfirmed: "DEPOSITS_CONFIRMED",
	PhaseDepositsUnlocked:  "DEPOSITS_UNLOCKED",
	PhasePaymentSent:       "PAYMENT_SENT",
	PhasePaymentReceived:   "PAYMENT_RECEIVED",
	PhaseCompleted:         "COMPLETED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

// State is the fine-grained step of a trade. Every state belongs to exactly
// one phase, and states are declared in protocol order.
type State int

const (
	StatePreparation State = iota
	StateMultisigPrepared
	StateMultisigMade
	StateMultisigExchanged
	StateMultisigCompleted
	StateContractSignatureRequested
	StateContractSigned

	StateSentPublishDepositTxRequest
	StateSendFailedPublishDepositTxRequest
	StateSawArrivedPublishDepositTxRequest
	StatePublishDepositTxRequestFailed

	StateArbitratorPublishedDepositTxs
	StateDepositTxsSeenInNetwork

	StateDepositTxsConfirmedInBlockchain

	StateDepositTxsUnlockedInBlockchain

	StateBuyerConfirmedPaymentSent
	StateBuyerSentPaymentSentMsg
	StateBuyerSendFailedPaymentSentMsg
	StateBuyerStoredInMailboxPaymentSentMsg
	StateBuyerSawArrivedPaymentSentMsg
	StateSellerReceivedPaymentSentMsg

	StateSellerConfirmedPaymentReceipt
	StateSellerSentPaymentReceivedMsg
	StateSellerSendFailedPaymentReceivedMsg
	StateSellerStoredInMailboxPaymentReceivedMsg
	StateSellerSawArrivedPaymentReceivedMsg

	StateTradeCompleted
)

type stateInfo struct {
	name  string
	phase Phase
}

var states = map[State]stateInfo{
	StatePreparation:                {"PREPARATION", PhaseInit},
	StateMultisigPrepared:           {"MULTISIG_PREPARED", PhaseInit},
	StateMultisigMade:               {"MULTISIG_MADE", PhaseInit},
	StateMultisigExchanged:          {"MULTISIG_EXCHANGED", PhaseInit},
	StateMultisigCompleted:          {"MULTISIG_COMPLETED", PhaseInit},
	StateContractSignatureRequested: {"CONTRACT_SIGNATURE_REQUESTED", PhaseInit},
	StateContractSigned:             {"CONTRACT_SIGNED", PhaseInit},

	StateSentPublishDepositTxRequest:       {"SENT_PUBLISH_DEPOSIT_TX_REQUEST", PhaseDepositRequested},
	StateSendFailedPublishDepositTxRequest: {"SEND_FAILED_PUBLISH_DEPOSIT_TX_REQUEST", PhaseDepositRequested},
	StateSawArrivedPublishDepositTxRequest: {"SAW_ARRIVED_PUBLISH_DEPOSIT_TX_REQUEST", PhaseDepositRequested},
	StatePublishDepositTxRequestFailed:     {"PUBLISH_DEPOSIT_TX_REQUEST_FAILED", PhaseDepositRequested},

	StateArbitratorPublishedDepositTxs: {"ARBITRATOR_PUBLISHED_DEPOSIT_TXS", PhaseDepositsPublished},
	StateDepositTxsSeenInNetwork:       {"DEPOSIT_TXS_SEEN_IN_NETWORK", PhaseDepositsPublished},

	StateDepositTxsConfirmedInBlockchain: {"DEPOSIT_TXS_CONFIRMED_IN_BLOCKCHAIN", PhaseDepositsConfirmed},

	StateDepositTxsUnlockedInBlockchain: {"DEPOSIT_TXS_UNLOCKED_IN_BLOCKCHAIN", PhaseDepositsUnlocked},

	StateBuyerConfirmedPaymentSent:          {"BUYER_CONFIRMED_PAYMENT_SENT", PhasePaymentSent},
	StateBuyerSentPaymentSentMsg:            {"BUYER_SENT_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateBuyerSendFailedPaymentSentMsg:      {"BUYER_SEND_FAILED_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateBuyerStoredInMailboxPaymentSentMsg: {"BUYER_STORED_IN_MAILBOX_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateBuyerSawArrivedPaymentSentMsg:      {"BUYER_SAW_ARRIVED_PAYMENT_SENT_MSG", PhasePaymentSent},
	StateSellerReceivedPaymentSentMsg:       {"SELLER_RECEIVED_PAYMENT_SENT_MSG", PhasePaymentSent},

	StateSellerConfirmedPaymentReceipt:           {"SELLER_CONFIRMED_PAYMENT_RECEIPT", PhasePaymentReceived},
	StateSellerSentPaymentReceivedMsg:            {"SELLER_SENT_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateSellerSendFailedPaymentReceivedMsg:      {"SELLER_SEND_FAILED_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateSellerStoredInMailboxPaymentReceivedMsg: {"SELLER_STORED_IN_MAILBOX_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},
	StateSellerSawArrivedPaymentReceivedMsg:      {"SELLER_SAW_ARRIVED_PAYMENT_RECEIVED_MSG", PhasePaymentReceived},

	StateTradeCompleted: {"TRADE_COMPLETED", PhaseCompleted},
}

func (s State) String() string {
	if info, ok := states[s]; ok {
		return info.name
	}
	return "UNKNOWN"
}

func (s State) Phase() Phase {
	return states[s].phase
}

func (s State) IsValid() bool {
	_, ok := states[s]
	return ok
}

// CanTransitionTo returns whether a trade in state s can move to the next one.
// The move is allowed only if it doesn't bring the trade to a previous phase,
// while moves between states of the same phase are allowed in both directions
// to let a failed step be retried.
func (s State) CanTransitionTo(next State) bool {
	if !next.IsValid() {
		return false
	}
	return next.Phase() >= s.Phase()
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, bool) {
	for s, info := range states {
		if info.name == name {
			return s, true
		}
	}
	return 0, false
}

// PayoutState tracks the lifecycle of the payout transaction independently of
// the trade state, since a dispute can bring the payout on chain without
// following the ordinary trade steps.
type PayoutState int

const (
	PayoutStateUnpublished PayoutState = iota
	PayoutStatePublished
	PayoutStateConfirmed
	PayoutStateUnlocked
)

var payoutStateNames = map[PayoutState]string{
	PayoutStateUnpublished: "PAYOUT_UNPUBLISHED",
	PayoutStatePublished:   "PAYOUT_PUBLISHED",
	PayoutStateConfirmed:   "PAYOUT_CONFIRMED",
	PayoutStateUnlocked:    "PAYOUT_UNLOCKED",
}

func (s PayoutState) String() string {
	if name, ok := payoutStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// DisputeState tracks the dispute of a trade, if any.
type DisputeState int

const (
	DisputeStateNoDispute DisputeState = iota
	DisputeStateRequested
	DisputeStateOpened
	DisputeStateArbitratorSentDisputeClosedMsg
	DisputeStateArbitratorSendFailedDisputeClosedMsg
	DisputeStateArbitratorStoredInMailboxDisputeClosedMsg
	DisputeStateArbitratorSawArrivedDisputeClosedMsg
	DisputeStateClosed
	DisputeStateMediationRequested
	DisputeStateMediationStartedByPeer
	DisputeStateMediationClosed
	DisputeStateRefundRequested
	DisputeStateRefundRequestStartedByPeer
	DisputeStateRefundRequestClosed
)

var disputeStateNames = map[DisputeState]string{
	DisputeStateNoDispute:                                 "NO_DISPUTE",
	DisputeStateRequested:                                 "DISPUTE_REQUESTED",
	DisputeStateOpened:                                    "DISPUTE_OPENED",
	DisputeStateArbitratorSentDisputeClosedMsg:            "ARBITRATOR_SENT_DISPUTE_CLOSED_MSG",
	DisputeStateArbitratorSendFailedDisputeClosedMsg:      "ARBITRATOR_SEND_FAILED_DISPUTE_CLOSED_MSG",
	DisputeStateArbitratorStoredInMailboxDisputeClosedMsg: "ARBITRATOR_STORED_IN_MAILBOX_DISPUTE_CLOSED_MSG",
	DisputeStateArbitratorSawArrivedDisputeClosedMsg:      "ARBITRATOR_SAW_ARRIVED_DISPUTE_CLOSED_MSG",
	DisputeStateClosed:                                    "DISPUTE_CLOSED",
	DisputeStateMediationRequested:                        "MEDIATION_REQUESTED",
	DisputeStateMediationStartedByPeer:                    "MEDIATION_STARTED_BY_PEER",
	DisputeStateMediationClosed:                           "MEDIATION_CLOSED",
	DisputeStateRefundRequested:                           "REFUND_REQUESTED",
	DisputeStateRefundRequestStartedByPeer:                "REFUND_REQUEST_STARTED_BY_PEER",
	DisputeStateRefundRequestClosed:                       "REFUND_REQUEST_CLOSED",
}

func (s DisputeState) String() string {
	if name, ok := disputeStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s DisputeState) IsOpen() bool {
	return s >= DisputeStateRequested && s < DisputeStateClosed
}

func (s DisputeState) IsClosed() bool {
	return s == DisputeStateClosed
}

// Role is the part the local node plays in a trade.
type Role int

const (
	RoleMaker Role = iota
	RoleTaker
	RoleArbitrator
)

func (r Role) String() string {
	switch r {
	case RoleMaker:
		return "MAKER"
	case RoleTaker:
		return "TAKER"
	case RoleArbitrator:
		return "ARBITRATOR"
	default:
		return "UNKNOWN"
	}
}

func (r Role) IsValid() bool {
	return r >= RoleMaker && r <= RoleArbitrator
}

// Side is whether the local node buys or sells XMR in a trade. The arbitrator
// has no side.
type Side int

const (
	SideNone Side = iota
	SideBuyer
	SideSeller
)

func (s Side) String() string {
	switch s {
	case SideBuyer:
		return "BUYER"
	case SideSeller:
		return "SELLER"
	default:
		return "NONE"
	}
}

// SideOf derives the side of a role from the direction of the offer.
func SideOf(role Role, direction Direction) Side {
	switch role {
	case RoleMaker:
		if direction == DirectionBuy {
			return SideBuyer
		}
		return SideSeller
	case RoleTaker:
		if direction == DirectionBuy {
			return SideSeller
		}
		return SideBuyer
	default:
		return SideNone
	}
}

// Bucket is the partition of the trade book a trade belongs to.
type Bucket string

const (
	BucketOpen   Bucket = "open"
	BucketClosed Bucket = "closed"
	BucketFailed Bucket = "failed"
)
